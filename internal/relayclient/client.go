// Package relayclient implements the Tunnel Endpoint's side of the relay
// channel: a single persistent duplex WebSocket connection to one Relay
// Host, request serialization, and matching of Connected/Error replies to
// pending connect waiters.
package relayclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/robin/relaytun/internal/frame"
	"github.com/robin/relaytun/internal/util"
)

// ConnectTimeout is the hard timeout on ConnectFlow.
const ConnectTimeout = 10 * time.Second

// keepalivePeriod is the idle WebSocket ping interval.
const keepalivePeriod = 30 * time.Second

// ErrChannelClosed is returned by every operation once the underlying
// channel has dropped.
var ErrChannelClosed = errors.New("relayclient: channel closed")

// ErrTimeout is the Error() message on a ConnectFlow timeout.
const ErrTimeout = "timeout"

// Handler is invoked for every Response frame not consumed by a pending
// ConnectFlow waiter: Data and Disconnected responses always go here, as
// does a stray Connected/Error that arrives with no matching waiter.
// Handlers are invoked on the channel's reader goroutine; they must not
// block.
type Handler func(*frame.Response)

// Client is the tunnel side's relay channel connection. One Client serves
// exactly one channel.
type Client struct {
	conn *websocket.Conn

	writeMu sync.Mutex // serializes writes to conn, mirrors the channel's own send queue

	waitersMu sync.Mutex
	waiters   map[string]chan *frame.Response

	handler Handler

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial opens a WebSocket connection to url and starts the background reader.
// handler is invoked for every frame not consumed by a ConnectFlow waiter.
func Dial(ctx context.Context, url string, handler Handler) (*Client, error) {
	netDialer := &net.Dialer{}
	MarkNonTunneled(netDialer)

	dialer := &websocket.Dialer{
		HandshakeTimeout: ConnectTimeout,
		NetDialContext:   netDialer.DialContext,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("relayclient: dial %s: %w", url, err)
	}

	c := &Client{
		conn:    conn,
		waiters: make(map[string]chan *frame.Response),
		handler: handler,
		closed:  make(chan struct{}),
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(keepalivePeriod * 2))
	})

	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

// ConnectFlow sends a Connect request and blocks the caller until the
// matching Connected or Error response arrives, or until ConnectTimeout
// elapses. It is synchronous from the caller's perspective.
func (c *Client) ConnectFlow(id, destIP string, destPort uint16) (*frame.Response, error) {
	waiter := make(chan *frame.Response, 1)

	c.waitersMu.Lock()
	c.waiters[id] = waiter
	c.waitersMu.Unlock()

	cleanup := func() {
		c.waitersMu.Lock()
		delete(c.waiters, id)
		c.waitersMu.Unlock()
	}

	if err := c.write(frame.EncodeRequest(&frame.Request{
		Type:     frame.ReqConnect,
		ID:       id,
		DestIP:   destIP,
		DestPort: destPort,
	})); err != nil {
		cleanup()
		return nil, ErrChannelClosed
	}

	select {
	case resp, ok := <-waiter:
		if !ok {
			return nil, ErrChannelClosed
		}
		return resp, nil
	case <-time.After(ConnectTimeout):
		cleanup()
		return &frame.Response{Type: frame.RespError, ID: id, Message: ErrTimeout}, nil
	case <-c.closed:
		cleanup()
		return nil, ErrChannelClosed
	}
}

// SendData enqueues a Data request. Fire-and-forget.
func (c *Client) SendData(id string, payload []byte) {
	c.sendFireAndForget(&frame.Request{Type: frame.ReqData, ID: id, Payload: payload})
}

// SendDisconnect enqueues a Disconnect request. Fire-and-forget.
func (c *Client) SendDisconnect(id string) {
	c.sendFireAndForget(&frame.Request{Type: frame.ReqDisconnect, ID: id})
}

// SendShutdownWrite enqueues a ShutdownWrite request. Fire-and-forget.
func (c *Client) SendShutdownWrite(id string) {
	c.sendFireAndForget(&frame.Request{Type: frame.ReqShutdownWrite, ID: id})
}

func (c *Client) sendFireAndForget(req *frame.Request) {
	if err := c.write(frame.EncodeRequest(req)); err != nil {
		util.LogDebug("relayclient: dropping %s for %s: channel closed", reqName(req.Type), req.ID)
	}
}

// write serializes one binary WebSocket message. The channel's own writer
// is the single point of mutual exclusion.
func (c *Client) write(data []byte) error {
	select {
	case <-c.closed:
		return ErrChannelClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Close shuts the channel down cleanly (close code 1000) and fails every
// pending waiter with ErrChannelClosed.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
		close(c.closed)
		c.failAllWaiters()
	})
	return err
}

// Done returns a channel closed once the client has stopped (channel drop
// or explicit Close).
func (c *Client) Done() <-chan struct{} { return c.closed }

func (c *Client) failAllWaiters() {
	c.waitersMu.Lock()
	defer c.waitersMu.Unlock()
	for id, w := range c.waiters {
		close(w)
		delete(c.waiters, id)
	}
}

func reqName(t uint8) string {
	switch t {
	case frame.ReqConnect:
		return "Connect"
	case frame.ReqData:
		return "Data"
	case frame.ReqDisconnect:
		return "Disconnect"
	case frame.ReqShutdownWrite:
		return "ShutdownWrite"
	default:
		return "unknown"
	}
}
