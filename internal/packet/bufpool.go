package packet

import "sync"

// bufPool recycles MTU-sized scratch buffers for BuildSegment. Pooling
// *[]byte avoids the slice header itself escaping to the heap on every
// Get/Put.
var bufPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, MTU)
		return &buf
	},
}

func getBuffer(n int) []byte {
	bp := bufPool.Get().(*[]byte)
	if cap(*bp) < n {
		*bp = make([]byte, n)
	}
	return (*bp)[:n]
}

// ReleaseSegment returns a buffer produced by BuildSegment to the pool.
// Callers must not retain or read wire after calling this — the virtual
// interface write is synchronous, so it is safe to call immediately after
// the write returns.
func ReleaseSegment(wire []byte) {
	buf := wire[:cap(wire)]
	bufPool.Put(&buf)
}
