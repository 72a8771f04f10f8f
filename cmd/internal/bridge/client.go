package bridge

import (
	"sync"

	v1 "github.com/tarnapit/LASSMUO-FN-sub002/shared/contracts/bridge/v1"
)

// Client is one connected UI host.
//
// Send is never closed by the agent so concurrent broadcasters cannot panic;
// done signals the connection goroutines to stop.
type Client struct {
	SessionID string
	Send      chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient builds a Client with a bounded send queue.
func NewClient(sessionID string, queue int) *Client {
	if queue <= 0 {
		queue = defaultSendQueueSize
	}
	return &Client{
		SessionID: sessionID,
		Send:      make(chan v1.Envelope, queue),
		done:      make(chan struct{}),
	}
}

// Done is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close signals shutdown. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// offer queues env without blocking. It reports false when the client is gone
// or its queue is full.
func (c *Client) offer(env v1.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- env:
		return true
	default:
		return false
	}
}
