package relaymanager

import (
	"bytes"
	"testing"
	"time"

	"github.com/robin/relaytun/internal/frame"
)

func TestBatcherFlushesImmediatelyAtThreshold(t *testing.T) {
	responses := make(chan *frame.Response, 4)
	b := newBatcher("flow-1", func(r *frame.Response) { responses <- r })
	defer b.stop()

	b.add(bytes.Repeat([]byte{0xAA}, flushThreshold))

	select {
	case resp := <-responses:
		if resp.Type != frame.RespData || len(resp.Payload) != flushThreshold {
			t.Fatalf("got Type=%d len=%d, want RespData len=%d", resp.Type, len(resp.Payload), flushThreshold)
		}
	case <-time.After(time.Second):
		t.Fatalf("threshold flush did not fire immediately")
	}
	if b.timer != nil {
		t.Fatalf("timer should be nil after a threshold flush")
	}
}

func TestBatcherCoalescesSmallChunksOnTimer(t *testing.T) {
	responses := make(chan *frame.Response, 4)
	b := newBatcher("flow-1", func(r *frame.Response) { responses <- r })
	defer b.stop()

	b.add([]byte("hello, "))
	b.add([]byte("world"))

	select {
	case resp := <-responses:
		t.Fatalf("unexpected early flush: %q", resp.Payload)
	case <-time.After(flushInterval / 2):
	}

	// The batcher only arms the timer; its owning run() loop flushes when
	// the timer fires, which this test does by hand.
	if b.timer == nil {
		t.Fatalf("expected a pending flush timer after sub-threshold chunks")
	}
	select {
	case <-b.timer.C:
		b.flush()
	case <-time.After(2 * flushInterval):
		t.Fatalf("flush timer did not fire")
	}

	select {
	case resp := <-responses:
		if string(resp.Payload) != "hello, world" {
			t.Fatalf("got Payload=%q, want %q", resp.Payload, "hello, world")
		}
	default:
		t.Fatalf("timer flush did not coalesce the two chunks")
	}
}

func TestBatcherFlushOnEmptyQueueIsNoop(t *testing.T) {
	var called bool
	b := newBatcher("flow-1", func(*frame.Response) { called = true })
	b.flush()
	if called {
		t.Fatalf("flush on an empty batcher must not call send")
	}
}
