// Package conntest provides an in-memory conn.Channel for tests.
package conntest

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/relayhub/internal/conn"
)

var seq atomic.Uint64

// Channel records every frame sent to it.
type Channel struct {
	id   string
	addr string

	mu      sync.Mutex
	frames  [][]byte
	pings   int
	closed  bool
	sendErr error
	pingErr error
}

// New returns an open channel with a unique ID.
func New() *Channel {
	n := seq.Add(1)
	return &Channel{
		id:   fmt.Sprintf("test-%d", n),
		addr: fmt.Sprintf("192.0.2.1:%d", 40000+n),
	}
}

// ID implements conn.Channel.
func (c *Channel) ID() string { return c.id }

// RemoteAddr implements conn.Channel.
func (c *Channel) RemoteAddr() string { return c.addr }

// Send implements conn.Channel.
func (c *Channel) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return conn.ErrChannelClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	c.frames = append(c.frames, frame)
	return nil
}

// Ping implements conn.Channel.
func (c *Channel) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return conn.ErrChannelClosed
	}
	if c.pingErr != nil {
		return c.pingErr
	}
	c.pings++
	return nil
}

// IsOpen implements conn.Channel.
func (c *Channel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Close implements conn.Channel.
func (c *Channel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// FailSends makes every later Send return err while the channel stays open.
func (c *Channel) FailSends(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

// FailPings makes every later Ping return err.
func (c *Channel) FailPings(err error) {
	c.mu.Lock()
	c.pingErr = err
	c.mu.Unlock()
}

// Frames returns a copy of every frame sent so far.
func (c *Channel) Frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([][]byte, len(c.frames))
	copy(out, c.frames)
	return out
}

// Last decodes the most recent frame into v. It reports false if nothing
// has been sent.
func (c *Channel) Last(v any) bool {
	frames := c.Frames()
	if len(frames) == 0 {
		return false
	}
	return json.Unmarshal(frames[len(frames)-1], v) == nil
}

// Pings returns the number of successful probes.
func (c *Channel) Pings() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}
