// Package coretest provides an in-memory core.SignalConnection for tests.
package coretest

import (
	"encoding/json"
	"sync"

	"github.com/dkeye/Pulse/internal/core"
)

// Conn records every frame it is handed. With a positive capacity it keeps
// only the newest frames and reports core.ErrBackpressure on overflow.
type Conn struct {
	mu       sync.Mutex
	frames   []core.Frame
	capacity int
	closed   bool
	dropped  int
}

func NewConn() *Conn { return &Conn{} }

func NewBoundedConn(capacity int) *Conn { return &Conn{capacity: capacity} }

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrClosed
	}
	c.frames = append(c.frames, f)
	if c.capacity > 0 && len(c.frames) > c.capacity {
		c.frames = c.frames[1:]
		c.dropped++
		return core.ErrBackpressure
	}
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Frames returns the frames received so far.
func (c *Conn) Frames() []core.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.Frame(nil), c.frames...)
}

// Events decodes the received frames into generic maps.
func (c *Conn) Events() []map[string]any {
	frames := c.Frames()
	out := make([]map[string]any, 0, len(frames))
	for _, f := range frames {
		var m map[string]any
		if err := json.Unmarshal(f, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// OfType returns the decoded events whose "type" equals typ.
func (c *Conn) OfType(typ string) []map[string]any {
	var out []map[string]any
	for _, e := range c.Events() {
		if e["type"] == typ {
			out = append(out, e)
		}
	}
	return out
}

// Types lists the event types in arrival order.
func (c *Conn) Types() []string {
	var out []string
	for _, e := range c.Events() {
		if t, ok := e["type"].(string); ok {
			out = append(out, t)
		}
	}
	return out
}

func (c *Conn) Reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}
