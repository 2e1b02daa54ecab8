package relaymanager

import (
	"time"

	"github.com/robin/relaytun/internal/frame"
)

// batcher implements the Relay Host's inbound batching discipline: queue
// socket reads, flush immediately once the queue reaches flushThreshold
// bytes, otherwise flush on a flushInterval timer. One batcher belongs to
// exactly one connRecord's run() goroutine — no locking.
type batcher struct {
	id   string
	send Sender

	queue [][]byte
	size  int
	timer *time.Timer
}

func newBatcher(id string, send Sender) *batcher {
	return &batcher{id: id, send: send}
}

// add appends a chunk read from the socket, flushing immediately if the
// queue has reached flushThreshold bytes and arming the flush timer
// otherwise.
func (b *batcher) add(chunk []byte) {
	b.queue = append(b.queue, chunk)
	b.size += len(chunk)

	if b.size >= flushThreshold {
		b.flush()
		return
	}
	if b.timer == nil {
		b.timer = time.NewTimer(flushInterval)
	}
}

// flush concatenates the queued chunks into a single Data response and
// cancels any pending timer. A no-op when the queue is empty (e.g. the
// timer firing after an intervening threshold flush already drained it).
func (b *batcher) flush() {
	b.stopTimer()
	if b.size == 0 {
		return
	}

	payload := make([]byte, 0, b.size)
	for _, chunk := range b.queue {
		payload = append(payload, chunk...)
	}
	b.queue = nil
	b.size = 0

	b.send(&frame.Response{Type: frame.RespData, ID: b.id, Payload: payload})
}

// stop cancels any pending flush timer without flushing queued bytes, used
// when the connection is torn down.
func (b *batcher) stop() {
	b.stopTimer()
}

func (b *batcher) stopTimer() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}
