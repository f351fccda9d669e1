package ws

import (
	crand "crypto/rand"
	"encoding/hex"
	"sync/atomic"

	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
)

// Client is one websocket connection and the session it carries.
type Client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	limiter *rate.Limiter
	pinging atomic.Bool // a ping is waiting for its pong
}

func newClient(conn *websocket.Conn, limit rate.Limit, burst int) *Client {
	return &Client{
		id:      randID(),
		conn:    conn,
		send:    make(chan []byte, 64),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(limit, burst),
	}
}

// ID is the session id.
func (c *Client) ID() string { return c.id }

// Deliver queues a frame for the writer without blocking. A full buffer or a
// closed connection drops the frame.
func (c *Client) Deliver(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func randID() string {
	var b [8]byte
	_, _ = crand.Read(b[:])
	return hex.EncodeToString(b[:])
}
