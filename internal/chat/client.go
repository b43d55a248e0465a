package chat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 5120
	sendBuffer     = 256
)

// Client is one live websocket bound to a (user, channel) pair. The read
// pump routes inbound frames through the gateway; the write pump owns the
// socket's write side including keepalive pings.
type Client struct {
	id        string
	userID    int64
	channelID int64
	conn      *websocket.Conn
	gw        *Gateway

	send    chan Event
	done    chan struct{}
	drained chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	reason    string
}

func (c *Client) ID() string       { return c.id }
func (c *Client) UserID() int64    { return c.userID }
func (c *Client) ChannelID() int64 { return c.channelID }

// Drained is closed when the write pump has exited, meaning no further
// frames will reach the peer.
func (c *Client) Drained() <-chan struct{} { return c.drained }

// Enqueue hands ev to the write pump, waiting at most timeout for buffer
// space. A closed or saturated connection yields TransientDeliveryFailure.
func (c *Client) Enqueue(ev Event, timeout time.Duration) error {
	select {
	case <-c.done:
		return NewError(CodeTransientDelivery, "connection closed")
	case c.send <- ev:
		return nil
	default:
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-c.done:
		return NewError(CodeTransientDelivery, "connection closed")
	case c.send <- ev:
		return nil
	case <-t.C:
		return NewError(CodeTransientDelivery, "outbound buffer full")
	}
}

// Close tears the connection down once; queued events are flushed by the
// write pump before the close frame goes out.
func (c *Client) Close(reason string) {
	c.closeOnce.Do(func() {
		c.reason = reason
		c.cancel()
		close(c.done)
	})
}

func (c *Client) readPump() {
	defer func() {
		c.gw.disconnect(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			_ = c.Enqueue(errorEvent(NewError(CodeValidation, "malformed frame")), c.gw.sendTimeout)
			continue
		}
		c.gw.route(c, frame)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.drained)
	}()
	for {
		select {
		case ev := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.flush()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, c.reason)
			_ = c.conn.WriteMessage(websocket.CloseMessage, msg)
			return
		}
	}
}

// flush drains whatever was queued before Close so the peer still receives
// in-flight broadcasts (including the replaced notice) ahead of the close
// frame.
func (c *Client) flush() {
	for {
		select {
		case ev := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		default:
			return
		}
	}
}
