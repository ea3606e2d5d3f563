package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/beatwave/playsync/src/types"
)

// Client wraps one WebSocket connection and manages message flow. Identity is
// set at handshake and immutable afterwards.
type Client struct {
	ID     string
	UserID string
	Plan   string

	conn        types.Conn
	Send        chan any
	connectedAt time.Time
	mu          sync.Mutex
	done        chan struct{}
	closed      bool
}

// NewClient creates a client wrapper for an authenticated connection.
func NewClient(id string, claims types.Claims, conn types.Conn) *Client {
	return &Client{
		ID:          id,
		UserID:      claims.UserID,
		Plan:        claims.Plan,
		conn:        conn,
		Send:        make(chan any, 64),
		connectedAt: time.Now(),
		done:        make(chan struct{}),
	}
}

// ConnectedAt returns the connection creation time.
func (c *Client) ConnectedAt() time.Time { return c.connectedAt }

// TrySend queues an outbound message without blocking. A full buffer means
// the transport is stalled or closing; the message is dropped and the caller
// may log it, never fail the surrounding broadcast.
func (c *Client) TrySend(v any) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- v:
		return true
	default:
		return false
	}
}

// ReadPump reads raw messages from the WebSocket and hands them to handle.
// It returns when the transport closes. A frame that is valid JSON but not a
// recognized event is the handler's problem; a broken transport is ours.
func (c *Client) ReadPump(handle func(c *Client, raw json.RawMessage)) {
	defer c.Close()
	for {
		var raw json.RawMessage
		if err := c.conn.ReadJSON(&raw); err != nil {
			return
		}
		handle(c, raw)
	}
}

// WritePump writes queued messages to the WebSocket. Call in a goroutine.
func (c *Client) WritePump() {
	defer c.conn.Close()

	for {
		select {
		case msg, ok := <-c.Send:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close signals the pumps to stop. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}
