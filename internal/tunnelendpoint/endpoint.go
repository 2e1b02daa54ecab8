// Package tunnelendpoint implements the Tunnel Endpoint loop: a dedicated
// reader over the virtual interface, dispatch into the synthesizer, and a
// lifecycle (Start/Stop) that mutually excludes outbound writes
// against the interface. A single write mutex is shared by the reader's
// own replies and the relay-response handler's replies, so the two never
// interleave a write to the device.
package tunnelendpoint

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/robin/relaytun/internal/frame"
	"github.com/robin/relaytun/internal/iface"
	"github.com/robin/relaytun/internal/packet"
	"github.com/robin/relaytun/internal/relayclient"
	"github.com/robin/relaytun/internal/synth"
	"github.com/robin/relaytun/internal/util"
)

// StateChangeFunc is invoked whenever the endpoint's aggregate state
// changes.
type StateChangeFunc func(State)

// Endpoint is the Tunnel Endpoint: virtual interface + relay channel +
// synthesizer, wired together into the read/dispatch/write loop.
type Endpoint struct {
	dev   iface.Interface
	relay *relayclient.Client
	synth *synth.Synthesizer

	writeMu sync.Mutex

	state      atomic.Uint32
	onStateFn  StateChangeFunc

	stopped chan struct{}
	stopOnce sync.Once
}

var _ synth.Writer = (*Endpoint)(nil)

// New creates an Endpoint. dev must already be open; onStateChange may be
// nil.
func New(dev iface.Interface, onStateChange StateChangeFunc) *Endpoint {
	e := &Endpoint{
		dev:       dev,
		onStateFn: onStateChange,
		stopped:   make(chan struct{}),
	}
	e.setState(StateDisconnected)
	return e
}

// Start opens the relay channel, builds the synthesizer, and begins the
// reader loop.
func (e *Endpoint) Start(ctx context.Context, relayURL string) error {
	e.setState(StateConnecting)

	relay, err := relayclient.Dial(ctx, relayURL, e.handleResponse)
	if err != nil {
		e.setState(StateError)
		return fmt.Errorf("tunnelendpoint: start: %w", err)
	}
	e.relay = relay
	e.synth = synth.New(relay, e)

	e.setState(StateConnected)
	go e.readLoop()

	return nil
}

// Stop publishes Disconnected, closes the virtual interface first
// (unblocking the reader's blocking read), interrupts the reader, closes
// the relay channel, and clears the flow table.
func (e *Endpoint) Stop() {
	e.stopOnce.Do(func() {
		e.setState(StateDisconnected)
		_ = e.dev.Close()
		close(e.stopped)
		if e.relay != nil {
			_ = e.relay.Close()
		}
		if e.synth != nil {
			e.synth.Shutdown()
		}
	})
}

// WriteSegment implements synth.Writer: one outbound write at a time,
// shared by the reader's own SYN-ACK/ACK replies and the relay-response
// handler's PSH-ACK replies.
func (e *Endpoint) WriteSegment(wire []byte) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	_, err := e.dev.Write(wire)
	return err
}

func (e *Endpoint) readLoop() {
	buf := make([]byte, iface.MaxDatagramSize)
	for {
		select {
		case <-e.stopped:
			return
		default:
		}

		n, err := e.dev.Read(buf)
		if err != nil {
			select {
			case <-e.stopped:
				// Expected: Stop() closed the interface to unblock us.
			default:
				if err != io.EOF {
					util.LogWarn("tunnelendpoint: interface read error: %v", err)
				}
				e.setState(StateError)
			}
			return
		}

		seg, ok := packet.ParseSegment(buf[:n])
		if !ok {
			// Not a well-formed IPv4/TCP datagram: silently dropped.
			continue
		}
		e.synth.HandleInbound(seg)
	}
}

func (e *Endpoint) handleResponse(resp *frame.Response) {
	e.synth.HandleResponse(resp)
}

func (e *Endpoint) setState(s State) {
	e.state.Store(uint32(s))
	if e.onStateFn != nil {
		e.onStateFn(s)
	}
}

// State returns the endpoint's current aggregate state.
func (e *Endpoint) State() State {
	return State(e.state.Load())
}
