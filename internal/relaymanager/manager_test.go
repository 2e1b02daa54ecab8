package relaymanager

import (
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/robin/relaytun/internal/frame"
)

// newEchoListener starts a TCP listener that echoes every byte it reads
// back to the same connection, standing in for a real destination server.
func newEchoListener(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				buf := make([]byte, 4096)
				for {
					n, err := conn.Read(buf)
					if n > 0 {
						conn.Write(buf[:n])
					}
					if err != nil {
						return
					}
				}
			}()
		}
	}()
	return ln
}

func splitHostPort(t *testing.T, addr string) (string, uint16) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi: %v", err)
	}
	return host, uint16(port)
}

func awaitResponse(t *testing.T, ch <-chan *frame.Response, want uint8) *frame.Response {
	t.Helper()
	for {
		select {
		case resp := <-ch:
			if resp.Type == want {
				return resp
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for response type %d", want)
		}
	}
}

func TestManagerConnectAndEcho(t *testing.T) {
	ln := newEchoListener(t)
	host, port := splitHostPort(t, ln.Addr().String())

	responses := make(chan *frame.Response, 16)
	m := New(func(r *frame.Response) { responses <- r })
	defer m.Shutdown()

	m.Handle(&frame.Request{Type: frame.ReqConnect, ID: "flow-1", DestIP: host, DestPort: port})
	awaitResponse(t, responses, frame.RespConnected)

	m.Handle(&frame.Request{Type: frame.ReqData, ID: "flow-1", Payload: []byte("ping")})
	resp := awaitResponse(t, responses, frame.RespData)
	if string(resp.Payload) != "ping" {
		t.Fatalf("got Payload=%q, want %q", resp.Payload, "ping")
	}
}

func TestManagerConnectFailureEmitsError(t *testing.T) {
	responses := make(chan *frame.Response, 4)
	m := New(func(r *frame.Response) { responses <- r })
	defer m.Shutdown()

	// Port 1 on loopback with nothing listening should fail fast.
	m.Handle(&frame.Request{Type: frame.ReqConnect, ID: "flow-bad", DestIP: "127.0.0.1", DestPort: 1})
	resp := awaitResponse(t, responses, frame.RespError)
	if resp.ID != "flow-bad" {
		t.Fatalf("got ID=%q, want flow-bad", resp.ID)
	}
}

func TestManagerDataOnUnknownConnectionEmitsError(t *testing.T) {
	responses := make(chan *frame.Response, 4)
	m := New(func(r *frame.Response) { responses <- r })
	defer m.Shutdown()

	m.Handle(&frame.Request{Type: frame.ReqData, ID: "ghost", Payload: []byte("x")})
	resp := awaitResponse(t, responses, frame.RespError)
	if !strings.Contains(resp.Message, "unknown connection") {
		t.Fatalf("got Message=%q, want it to mention unknown connection", resp.Message)
	}
}

func TestManagerDisconnectIsIdempotentAndSilent(t *testing.T) {
	ln := newEchoListener(t)
	host, port := splitHostPort(t, ln.Addr().String())

	responses := make(chan *frame.Response, 16)
	m := New(func(r *frame.Response) { responses <- r })
	defer m.Shutdown()

	m.Handle(&frame.Request{Type: frame.ReqConnect, ID: "flow-2", DestIP: host, DestPort: port})
	awaitResponse(t, responses, frame.RespConnected)

	m.Handle(&frame.Request{Type: frame.ReqDisconnect, ID: "flow-2"})
	m.Handle(&frame.Request{Type: frame.ReqDisconnect, ID: "flow-2"})

	select {
	case resp := <-responses:
		t.Fatalf("Disconnect must not emit a response, got %+v", resp)
	case <-time.After(100 * time.Millisecond):
	}
}
