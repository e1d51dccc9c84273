package realtime

import (
	"sync"
	"time"
)

// Conn is one live stream bound to a listener. The transport drains Events
// until the channel is closed and calls Close when the client goes away.
type Conn struct {
	hub      *Hub
	channel  *Channel
	listener Listener

	events chan Event

	mu     sync.Mutex
	closed bool
	timer  *time.Timer

	connectedAt time.Time
}

func newConn(h *Hub, ch *Channel, l Listener, buffer int) *Conn {
	if buffer < 1 {
		buffer = 1
	}
	return &Conn{
		hub:         h,
		channel:     ch,
		listener:    l,
		events:      make(chan Event, buffer),
		connectedAt: time.Now().UTC(),
	}
}

// Events returns the outbound queue; it is closed when the connection ends
func (c *Conn) Events() <-chan Event {
	return c.events
}

// Listener returns the registration this connection is bound to
func (c *Conn) Listener() Listener {
	return c.listener
}

// ConnectedAt returns when the connection was bound
func (c *Conn) ConnectedAt() time.Time {
	return c.connectedAt
}

// Closed reports whether the connection has ended
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close ends the stream. If the connection is still the listener's current
// binding the listener is deregistered, as with Hub.Disconnect; a connection
// already replaced by a newer one only closes itself.
func (c *Conn) Close() {
	c.hub.release(c)
}

// send enqueues without blocking. A full or closed queue is a failed
// delivery.
func (c *Conn) send(ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.events <- ev:
		return true
	default:
		return false
	}
}

func (c *Conn) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
	}
	close(c.events)
}

func (c *Conn) setTimer(t *time.Timer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		t.Stop()
		return
	}
	c.timer = t
}
