package realtime

import (
	"sort"
	"sync"
	"time"
)

type registration struct {
	listener Listener
	conn     *Conn
}

// Channel is a named topic with its listener registry
type Channel struct {
	path      string
	createdAt time.Time

	// publishMu serializes deliveries so every connection observes
	// publish order. Acquired before mu.
	publishMu sync.Mutex

	mu        sync.RWMutex
	listeners map[string]*registration
}

func newChannel(path string) *Channel {
	return &Channel{
		path:      path,
		createdAt: time.Now().UTC(),
		listeners: make(map[string]*registration),
	}
}

// Path returns the channel name
func (c *Channel) Path() string {
	return c.path
}

// CreatedAt returns when the channel was registered
func (c *Channel) CreatedAt() time.Time {
	return c.createdAt
}

// Listeners returns the registered listeners sorted by creation time
func (c *Channel) Listeners() []Listener {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Listener, 0, len(c.listeners))
	for _, r := range c.listeners {
		out = append(out, r.listener)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Connected returns the number of listeners with a bound connection
func (c *Channel) Connected() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, r := range c.listeners {
		if r.conn != nil {
			n++
		}
	}
	return n
}

// targets returns the bound connections whose interests satisfy match
func (c *Channel) targets(match Interests) []*Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*Conn
	for _, r := range c.listeners {
		if r.conn == nil {
			continue
		}
		if r.listener.Interests.Satisfies(match) {
			out = append(out, r.conn)
		}
	}
	return out
}

// detach removes the listener and returns its connection, if any
func (c *Channel) detach(listenerID string) (*Conn, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.listeners[listenerID]
	if !ok {
		return nil, false
	}
	delete(c.listeners, listenerID)
	return r.conn, true
}

// detachAll empties the registry and returns every bound connection
func (c *Channel) detachAll() []*Conn {
	c.mu.Lock()
	defer c.mu.Unlock()

	var conns []*Conn
	for id, r := range c.listeners {
		if r.conn != nil {
			conns = append(conns, r.conn)
		}
		delete(c.listeners, id)
	}
	return conns
}
