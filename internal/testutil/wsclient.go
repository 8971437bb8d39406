// Package testutil holds helpers shared by end-to-end tests.
package testutil

import (
	"encoding/json"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
)

// Frame is a decoded server frame.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// WSClient is a WebSocket client for driving the game server in tests.
type WSClient struct {
	conn *gws.Conn
	t    *testing.T
}

// NewWSClient dials url and registers cleanup with t.
//
// Precondition: url must be a ws:// URL of a running acceptor.
// Postcondition: Returns a connected client, or fails the test.
func NewWSClient(t *testing.T, url string) *WSClient {
	t.Helper()

	start := time.Now()
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", url, err)
	}
	t.Cleanup(func() {
		conn.Close()
	})

	t.Logf("websocket client connected to %s [%s]", url, time.Since(start))
	return &WSClient{conn: conn, t: t}
}

// Send writes one {"event","data"} frame.
//
// Postcondition: The frame is written, or the test fails.
func (c *WSClient) Send(event string, data any) {
	c.t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		c.t.Fatalf("encoding %s: %v", event, err)
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteJSON(Frame{Event: event, Data: raw}); err != nil {
		c.t.Fatalf("sending %s: %v", event, err)
	}
}

// Read returns the next frame.
//
// Postcondition: Returns a frame received within timeout, or fails the test.
func (c *WSClient) Read(timeout time.Duration) Frame {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("reading frame: %v", err)
	}
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		c.t.Fatalf("decoding frame %q: %v", msg, err)
	}
	return f
}

// ReadUntil reads frames until one named event arrives, returning it.
// Frames for other events are skipped.
//
// Precondition: event must be non-empty.
// Postcondition: Returns the matching frame, or fails on timeout.
func (c *WSClient) ReadUntil(event string, timeout time.Duration) Frame {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	var seen []string
	for {
		_ = c.conn.SetReadDeadline(deadline)
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.t.Fatalf("reading until %q: saw %v, error: %v", event, seen, err)
		}
		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil {
			c.t.Fatalf("decoding frame %q: %v", msg, err)
		}
		if f.Event == event {
			return f
		}
		seen = append(seen, f.Event)
	}
}

// Conn exposes the underlying connection.
func (c *WSClient) Conn() *gws.Conn {
	return c.conn
}

// Close closes the underlying connection.
func (c *WSClient) Close() {
	c.conn.Close()
}
