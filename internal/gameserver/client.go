package gameserver

import (
	"fmt"
	"sync"
)

// defaultSendBuffer is used when NewClient is given a non-positive size.
const defaultSendBuffer = 64

// Client is the outbound side of one connection: a bounded queue of encoded
// frames drained by the transport's write loop.
type Client struct {
	id     string
	events chan []byte
	mu     sync.Mutex
	closed bool
}

// NewClient creates a Client for the given connection id.
//
// Precondition: id must be non-empty.
// Postcondition: Returns a Client with an open events channel.
func NewClient(id string, bufferSize int) *Client {
	if bufferSize <= 0 {
		bufferSize = defaultSendBuffer
	}
	return &Client{
		id:     id,
		events: make(chan []byte, bufferSize),
	}
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

// Push enqueues a frame without blocking.
//
// Postcondition: The frame is queued, or an error is returned if the client
// is closed or its queue is full.
func (c *Client) Push(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("client %s is closed", c.id)
	}
	select {
	case c.events <- frame:
		return nil
	default:
		return fmt.Errorf("client %s send buffer full", c.id)
	}
}

// Events returns the read-only frame channel. It is closed by Close.
func (c *Client) Events() <-chan []byte {
	return c.events
}

// Close closes the events channel. Safe to call more than once.
//
// Postcondition: Further Push calls return an error.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.events)
	}
}

// IsClosed reports whether the client has been closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
