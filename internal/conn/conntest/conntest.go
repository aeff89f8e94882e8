// Package conntest provides an in-memory conn.Conn that records what it is sent.
package conntest

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/pigeon/internal/protocol"
)

// Conn is a recording connection for tests.
type Conn struct {
	id       string
	userID   string
	username string

	mu     sync.Mutex
	events []protocol.Event
	closed bool
	notify chan struct{}
}

// New creates a connection for the given user with a fresh id.
func New(userID, username string) *Conn {
	return &Conn{
		id:       uuid.NewString(),
		userID:   userID,
		username: username,
		notify:   make(chan struct{}, 1),
	}
}

func (c *Conn) ID() string       { return c.id }
func (c *Conn) UserID() string   { return c.userID }
func (c *Conn) Username() string { return c.username }

// Send records evt. Returns false after Close.
func (c *Conn) Send(evt protocol.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.events = append(c.events, evt)
	select {
	case c.notify <- struct{}{}:
	default:
	}
	return true
}

// Close marks the connection closed.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Events returns a copy of everything sent so far.
func (c *Conn) Events() []protocol.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Event(nil), c.events...)
}

// Named returns the recorded events with the given name.
func (c *Conn) Named(name string) []protocol.Event {
	var out []protocol.Event
	for _, e := range c.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Names returns the names of the recorded events, in order.
func (c *Conn) Names() []string {
	var out []string
	for _, e := range c.Events() {
		out = append(out, e.Name)
	}
	return out
}

// Reset forgets recorded events.
func (c *Conn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

// WaitFor blocks until an event named name has been recorded or timeout elapses.
func (c *Conn) WaitFor(name string, timeout time.Duration) (protocol.Event, bool) {
	deadline := time.After(timeout)
	for {
		if evs := c.Named(name); len(evs) > 0 {
			return evs[0], true
		}
		select {
		case <-c.notify:
		case <-deadline:
			return protocol.Event{}, false
		}
	}
}
