package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"beacon-server/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16384
	sendBuffer     = 32
)

// Client is one live socket, the connection handle the registry manages.
type Client struct {
	conn   *websocket.Conn
	userID string
	send   chan interface{}

	mu        sync.RWMutex
	connected bool
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, userID string) *Client {
	return &Client{
		conn:      conn,
		userID:    userID,
		send:      make(chan interface{}, sendBuffer),
		connected: true,
	}
}

func (c *Client) UserID() string {
	return c.userID
}

// Open reports whether the socket is still writable. Closing sockets are never
// written to.
func (c *Client) Open() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Send queues one outbound frame. A full queue drops the frame rather than
// blocking a broadcast on a slow reader. The read lock is held across the
// channel send so Close cannot close the queue between the open check and the
// send; the buffered select never blocks, so holding it is safe.
func (c *Client) Send(v interface{}) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.connected {
		return nil
	}

	select {
	case c.send <- v:
		return nil
	default:
		return errors.New("send queue full")
	}
}

// Close forcefully tears the socket down. Safe to call from any goroutine and
// more than once. The write lock covers both the connected flag and the
// channel close, so no Send can slip between them.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.connected = false
		close(c.send)
		c.mu.Unlock()

		c.conn.Close()
	})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case v, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(v)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
			metrics.AddSocketFrame(int64(len(data)))

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !c.Open() {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
