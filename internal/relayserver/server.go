// Package relayserver implements the Relay Host's channel acceptor: it
// accepts incoming WebSocket relay channel connections, hands each one its
// own relaymanager.Manager, and serves a health check alongside it on a
// shared mux.
package relayserver

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/robin/relaytun/internal/frame"
	"github.com/robin/relaytun/internal/relaymanager"
	"github.com/robin/relaytun/internal/util"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// Server accepts relay channel connections on a single listener and fans
// them out to independent relaymanager.Managers.
type Server struct {
	listener net.Listener

	mu      sync.Mutex
	managed int
}

// New creates a Server; call Start to begin listening.
func New() *Server {
	return &Server{}
}

// Start listens on addr (e.g. ":3000") and begins serving /relay and
// /health.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("relayserver: listen: %w", err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/relay", s.handleRelay)
	mux.HandleFunc("/health", handleHealth)

	go func() {
		if err := http.Serve(ln, mux); err != nil {
			util.LogDebug("relayserver: serve exited: %v", err)
		}
	}()

	util.LogInfo("relayserver: listening on %s", ln.Addr())
	return nil
}

// Addr returns the listener's bound address, useful when Start was called
// with a ":0" port.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting new relay channels. Channels already accepted keep
// running until their own socket closes.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleRelay upgrades one HTTP connection to a WebSocket relay channel
// and runs it until the socket closes.
func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.LogWarn("relayserver: upgrade failed: %v", err)
		return
	}

	s.mu.Lock()
	s.managed++
	util.LogInfo("relayserver: channel accepted (active=%d)", s.managed)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.managed--
		s.mu.Unlock()
		_ = conn.Close()
	}()

	runChannel(conn)
}

// runChannel owns one relay channel end-to-end: a dedicated manager, a
// serialized writer, and a read loop that decodes Request frames and
// drops malformed ones without closing the channel.
func runChannel(conn *websocket.Conn) {
	var writeMu sync.Mutex
	send := func(resp *frame.Response) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteMessage(websocket.BinaryMessage, frame.EncodeResponse(resp)); err != nil {
			util.LogDebug("relayserver: write failed: %v", err)
		}
	}

	mgr := relaymanager.New(send)
	defer mgr.Shutdown()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		req, err := frame.DecodeRequest(data)
		if err != nil {
			util.LogWarn("relayserver: malformed frame dropped: %v", err)
			continue
		}
		mgr.Handle(req)
	}
}
