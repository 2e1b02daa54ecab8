package tunnelendpoint

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/robin/relaytun/internal/frame"
	"github.com/robin/relaytun/internal/packet"
)

// fakeDevice is an in-memory iface.Interface that preserves datagram
// boundaries: each Write enqueues one "outbound" datagram, and Read
// delivers one queued "inbound" datagram at a time, blocking until one is
// injected or the device is closed.
type fakeDevice struct {
	inbound  chan []byte
	mu       sync.Mutex
	outbound [][]byte
	closed   chan struct{}
	closeOnce sync.Once
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (d *fakeDevice) Read(buf []byte) (int, error) {
	select {
	case datagram := <-d.inbound:
		return copy(buf, datagram), nil
	case <-d.closed:
		return 0, errors.New("fakeDevice: closed")
	}
}

func (d *fakeDevice) Write(datagram []byte) (int, error) {
	d.mu.Lock()
	d.outbound = append(d.outbound, append([]byte(nil), datagram...))
	d.mu.Unlock()
	return len(datagram), nil
}

func (d *fakeDevice) Close() error {
	d.closeOnce.Do(func() { close(d.closed) })
	return nil
}

func (d *fakeDevice) inject(datagram []byte) {
	d.inbound <- datagram
}

func (d *fakeDevice) written() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.outbound...)
}

func newRelayTestServer(t *testing.T) (wsURL string, serverConns chan *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	serverConns = make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverConns <- conn
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/", serverConns
}

func mustIPv4(s string) net.IP { return net.ParseIP(s).To4() }

func buildInboundSYN(t *testing.T) []byte {
	t.Helper()
	return packet.BuildSegment(packet.BuildParams{
		SrcIP:   mustIPv4("10.0.0.2"),
		DstIP:   mustIPv4("93.184.216.34"),
		SrcPort: 54321,
		DstPort: 443,
		Seq:     1000,
		Ack:     0,
		Flags:   packet.FlagSYN,
	})
}

func TestEndpointSynHandshakeEndToEnd(t *testing.T) {
	url, serverConns := newRelayTestServer(t)
	dev := newFakeDevice()

	var states []State
	var statesMu sync.Mutex
	ep := New(dev, func(s State) {
		statesMu.Lock()
		states = append(states, s)
		statesMu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ep.Start(ctx, url); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ep.Stop()

	serverConn := <-serverConns
	go func() {
		for {
			_, data, err := serverConn.ReadMessage()
			if err != nil {
				return
			}
			req, err := frame.DecodeRequest(data)
			if err != nil || req.Type != frame.ReqConnect {
				continue
			}
			resp := frame.EncodeResponse(&frame.Response{Type: frame.RespConnected, ID: req.ID})
			serverConn.WriteMessage(websocket.BinaryMessage, resp)
		}
	}()

	dev.inject(buildInboundSYN(t))

	deadline := time.After(2 * time.Second)
	for {
		if len(dev.written()) >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for SYN-ACK to be written to the interface")
		case <-time.After(10 * time.Millisecond):
		}
	}

	written := dev.written()
	wire := written[0]
	tcp := wire[packet.IPv4HeaderLen:]
	if tcp[13] != packet.FlagSYN|packet.FlagACK {
		t.Fatalf("flags = %#x, want SYN|ACK", tcp[13])
	}
	if ack := binary.BigEndian.Uint32(tcp[8:12]); ack != 1001 {
		t.Fatalf("ack = %d, want 1001", ack)
	}

	if ep.State() != StateConnected {
		t.Fatalf("endpoint state = %v, want Connected", ep.State())
	}
}

func TestEndpointStopPublishesDisconnected(t *testing.T) {
	url, _ := newRelayTestServer(t)
	dev := newFakeDevice()
	ep := New(dev, nil)

	if err := ep.Start(context.Background(), url); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ep.Stop()

	if ep.State() != StateDisconnected {
		t.Fatalf("state after Stop = %v, want Disconnected", ep.State())
	}
}
