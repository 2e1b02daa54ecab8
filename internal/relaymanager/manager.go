// Package relaymanager implements the Relay Host's per-connection TCP
// manager: it owns the real outbound TCP sockets, handles
// Connect/Data/Disconnect/ShutdownWrite requests, and batches inbound
// response bytes under the 4096-byte / 10ms discipline. Each connection
// runs its own single-goroutine event loop over its own socket.
package relaymanager

import (
	"fmt"
	"sync"
	"time"

	"github.com/robin/relaytun/internal/frame"
	"github.com/robin/relaytun/internal/util"
)

// ConnectTimeout is the Relay Host's budget for opening the real outbound
// TCP socket.
const ConnectTimeout = 20 * time.Second

// Batching constants.
const (
	flushThreshold = 4096
	flushInterval  = 10 * time.Millisecond
)

// Sender delivers one encoded Response frame to the tunnel over the relay
// channel. Implementations must serialize concurrent calls.
type Sender func(*frame.Response)

// Manager owns one channel's worth of live outbound sockets. One Manager
// instance is created per accepted relay channel connection.
type Manager struct {
	send Sender

	mu    sync.Mutex
	conns map[string]*connRecord
}

// New creates a Manager that emits responses through send.
func New(send Sender) *Manager {
	return &Manager{send: send, conns: make(map[string]*connRecord)}
}

// Handle dispatches one decoded Request to the matching connection record,
// creating a new one on Connect.
func (m *Manager) Handle(req *frame.Request) {
	switch req.Type {
	case frame.ReqConnect:
		m.handleConnect(req)
	case frame.ReqData:
		m.withConn(req.ID, func(c *connRecord) { c.submit(req) },
			func() { m.send(&frame.Response{Type: frame.RespError, ID: req.ID, Message: "unknown connection"}) })
	case frame.ReqDisconnect, frame.ReqShutdownWrite:
		m.withConn(req.ID, func(c *connRecord) { c.submit(req) }, func() {})
	}
}

func (m *Manager) withConn(id string, found func(*connRecord), notFound func()) {
	m.mu.Lock()
	c, ok := m.conns[id]
	m.mu.Unlock()
	if ok {
		found(c)
	} else {
		notFound()
	}
}

func (m *Manager) handleConnect(req *frame.Request) {
	m.mu.Lock()
	if _, exists := m.conns[req.ID]; exists {
		m.mu.Unlock()
		return
	}
	c := newConnRecord(req.ID, m)
	m.conns[req.ID] = c
	m.mu.Unlock()

	go c.dialAndRun(req.DestIP, req.DestPort)
}

// remove deletes the record for id; always called exactly once per
// connection id, from the owning connRecord's own goroutine, after the
// socket has already been closed, so deleting the record always means the
// socket is gone.
func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.conns, id)
	m.mu.Unlock()
}

// Shutdown cancels all pending flush timers, destroys all sockets, and
// clears all records.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	conns := make([]*connRecord, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.conns = make(map[string]*connRecord)
	m.mu.Unlock()

	for _, c := range conns {
		c.forceClose()
	}
}

func dialAddr(ip string, port uint16) string {
	return fmt.Sprintf("%s:%d", ip, port)
}

func logf(format string, args ...interface{}) { util.LogDebug(format, args...) }
