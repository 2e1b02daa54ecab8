package packet

import "sync/atomic"

// idCounter is the process-wide IPv4 identification counter. It is shared
// across flows and monotonic rather than per-flow, which is benign for a
// synthesized peer that never fragments.
var idCounter atomic.Uint32

// nextIPID returns the next IPv4 identification value, masked to 16 bits.
func nextIPID() uint16 {
	return uint16(idCounter.Add(1))
}
