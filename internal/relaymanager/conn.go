package relaymanager

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/robin/relaytun/internal/frame"
)

// connRecord is the per-connection-id record: the live outbound socket
// plus its inbound batching state. It is goroutine-local — only its own
// run() goroutine touches the socket and batching queue.
type connRecord struct {
	id string
	m  *Manager

	inbox chan *frame.Request
	quit  chan struct{}

	conn      net.Conn
	closeOnce sync.Once
}

func newConnRecord(id string, m *Manager) *connRecord {
	return &connRecord{
		id:    id,
		m:     m,
		inbox: make(chan *frame.Request, 256),
		quit:  make(chan struct{}),
	}
}

// submit enqueues a request for the connection's event loop. While the
// inbox is full it blocks until the loop drains it or the record quits;
// once the record has quit it never blocks.
func (c *connRecord) submit(req *frame.Request) {
	select {
	case c.inbox <- req:
	case <-c.quit:
	}
}

// dialAndRun opens the real outbound socket with a 20s connect timeout,
// emits Connected/Error, and on success runs the event loop.
func (c *connRecord) dialAndRun(destIP string, destPort uint16) {
	dialer := net.Dialer{Timeout: ConnectTimeout}
	conn, err := dialer.Dial("tcp", dialAddr(destIP, destPort))
	if err != nil {
		c.m.remove(c.id)
		c.m.send(&frame.Response{Type: frame.RespError, ID: c.id, Message: err.Error()})
		return
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}
	c.conn = conn

	c.m.send(&frame.Response{Type: frame.RespConnected, ID: c.id})

	fromSocket := make(chan []byte, 64)
	socketErr := make(chan error, 1)
	go c.pumpSocketReads(fromSocket, socketErr)

	c.run(fromSocket, socketErr)
}

// run is the connection's event loop: it reacts to host-side requests,
// inbound socket chunks, and the batching flush timer.
func (c *connRecord) run(fromSocket <-chan []byte, socketErr <-chan error) {
	batch := newBatcher(c.id, c.m.send)
	defer batch.stop()

	for {
		var flushC <-chan time.Time
		if batch.timer != nil {
			flushC = batch.timer.C
		}

		select {
		case req := <-c.inbox:
			switch req.Type {
			case frame.ReqData:
				if _, err := c.conn.Write(req.Payload); err != nil {
					batch.flush()
					c.teardown(frame.RespDisconnected, "")
					return
				}
			case frame.ReqDisconnect:
				c.close()
				return
			case frame.ReqShutdownWrite:
				if tcpConn, ok := c.conn.(*net.TCPConn); ok {
					_ = tcpConn.CloseWrite()
				}
			}

		case chunk := <-fromSocket:
			batch.add(chunk)

		case <-flushC:
			batch.flush()

		case err := <-socketErr:
			batch.flush()
			if err == io.EOF {
				c.teardown(frame.RespDisconnected, "")
			} else {
				c.teardown(frame.RespError, err.Error())
			}
			return

		case <-c.quit:
			return
		}
	}
}

// pumpSocketReads reads from the real socket and forwards chunks to run's
// event loop, then signals the terminal error (io.EOF on a clean close).
func (c *connRecord) pumpSocketReads(out chan<- []byte, errc chan<- error) {
	buf := make([]byte, 32*1024)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case out <- chunk:
			case <-c.quit:
				return
			}
		}
		if err != nil {
			select {
			case errc <- err:
			case <-c.quit:
			}
			return
		}
	}
}

// teardown destroys the socket and emits a single terminal response, for
// the socket-initiated close/error paths. Safe to call only once per
// connRecord.
func (c *connRecord) teardown(respType uint8, message string) {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		close(c.quit)
		c.m.remove(c.id)
		c.m.send(&frame.Response{Type: respType, ID: c.id, Message: message})
	})
}

// close destroys the socket without emitting a response, for the
// host-initiated Disconnect path — no response is sent back for a
// host-initiated close. Sharing closeOnce with teardown makes a
// Disconnect raced against a socket close/error idempotent.
func (c *connRecord) close() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		close(c.quit)
		c.m.remove(c.id)
	})
}

// forceClose is used by Manager.Shutdown to tear every connection down
// without emitting a response (the channel itself is going away).
func (c *connRecord) forceClose() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		close(c.quit)
	})
}
