package relayclient

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/robin/relaytun/internal/frame"
	"github.com/robin/relaytun/internal/util"
)

// readLoop continuously reads incoming frames. Connected/Error frames are
// routed to a pending ConnectFlow waiter if one exists for their id;
// otherwise, like Data and Disconnected, they are forwarded to the handler.
// On any read error the channel is considered dropped.
func (c *Client) readLoop() {
	defer c.onDisconnect()

	_ = c.conn.SetReadDeadline(time.Now().Add(keepalivePeriod * 2))
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if !isCleanClose(err) {
				util.LogWarn("relayclient: read error: %v", err)
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		resp, err := frame.DecodeResponse(data)
		if err != nil {
			util.LogWarn("relayclient: malformed frame, dropping: %v", err)
			continue
		}

		c.dispatch(resp)
	}
}

func (c *Client) dispatch(resp *frame.Response) {
	if resp.Type == frame.RespConnected || resp.Type == frame.RespError {
		c.waitersMu.Lock()
		waiter, ok := c.waiters[resp.ID]
		if ok {
			delete(c.waiters, resp.ID)
		}
		c.waitersMu.Unlock()

		if ok {
			waiter <- resp
			return
		}
	}

	if c.handler != nil {
		c.handler(resp)
	}
}

// pingLoop issues the 30s idle keepalive ping.
func (c *Client) pingLoop() {
	ticker := time.NewTicker(keepalivePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *Client) onDisconnect() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
		close(c.closed)
		c.failAllWaiters()
	})
}

func isCleanClose(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code == websocket.CloseNormalClosure
	}
	return false
}
