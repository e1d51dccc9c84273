package realtime

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Hub is the process-wide registry of channels. Construct one at startup
// and pass it to the transport and to publishers.
type Hub struct {
	logger     zerolog.Logger
	config     HubConfig
	reconciler Reconciler

	// base context for reconciliation; cancelled by Close
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	channels map[string]*Channel
	closed   bool
}

// NewHub creates a hub with optional configuration
func NewHub(opts ...HubOption) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		logger:   defaultLogger(),
		config:   DefaultHubConfig,
		ctx:      ctx,
		cancel:   cancel,
		channels: make(map[string]*Channel),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// CreateChannel registers a channel. Registering an existing path is a
// no-op that returns the existing channel and keeps its listeners.
func (h *Hub) CreateChannel(path string) *Channel {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.channels[path]; ok {
		return ch
	}

	ch := newChannel(path)
	h.channels[path] = ch

	h.logger.Debug().Str("path", path).Msg("Channel created")
	return ch
}

// Channel looks up a registered channel
func (h *Hub) Channel(path string) (*Channel, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ch, ok := h.channels[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, path)
	}
	return ch, nil
}

// Channels returns the registered paths, sorted
func (h *Hub) Channels() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	paths := make([]string, 0, len(h.channels))
	for p := range h.channels {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// CreateListener registers a listener on path. The listener receives
// nothing until a connection is bound with Connect.
func (h *Hub) CreateListener(path string, interests Interests) (*Listener, error) {
	ch, err := h.Channel(path)
	if err != nil {
		return nil, err
	}

	l := Listener{
		ID:        uuid.New().String(),
		Path:      path,
		Interests: copyInterests(interests),
		CreatedAt: time.Now().UTC(),
	}

	ch.mu.Lock()
	ch.listeners[l.ID] = &registration{listener: l}
	ch.mu.Unlock()

	h.logger.Debug().
		Str("path", path).
		Str("listener_id", l.ID).
		Interface("interests", l.Interests).
		Msg("Listener registered")

	return &l, nil
}

// RevokeListener deregisters a listener and closes its connection
func (h *Hub) RevokeListener(path, listenerID string) error {
	ch, err := h.Channel(path)
	if err != nil {
		return err
	}

	conn, ok := ch.detach(listenerID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrListenerNotFound, listenerID)
	}
	if conn != nil {
		conn.shutdown()
	}

	h.logger.Info().Str("path", path).Str("listener_id", listenerID).Msg("Listener revoked")
	return nil
}

// Connect binds a new connection to a registered listener, replacing any
// previous connection. The first event on the connection is always
// "connected". With a Reconciler configured, its events follow after the
// reconcile delay.
func (h *Hub) Connect(ctx context.Context, path, listenerID string) (*Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		return nil, ErrHubClosed
	}

	ch, err := h.Channel(path)
	if err != nil {
		return nil, err
	}

	// Bind and greet under the publish lock so no concurrent publish can
	// reach the connection ahead of the connected event
	ch.publishMu.Lock()
	ch.mu.Lock()
	r, ok := ch.listeners[listenerID]
	if !ok {
		ch.mu.Unlock()
		ch.publishMu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrListenerNotFound, listenerID)
	}
	previous := r.conn
	conn := newConn(h, ch, r.listener, h.config.BufferSize)
	r.conn = conn
	ch.mu.Unlock()

	if previous != nil {
		previous.shutdown()
	}
	conn.send(NewEvent(EventConnected, map[string]any{
		"listenerId": listenerID,
		"path":       path,
	}))
	ch.publishMu.Unlock()

	h.logger.Info().
		Str("path", path).
		Str("listener_id", listenerID).
		Bool("replaced", previous != nil).
		Msg("Listener connected")

	if h.reconciler != nil {
		h.scheduleReconcile(conn)
	}

	return conn, nil
}

// Disconnect deregisters a listener and closes its connection. Unknown
// listeners are ignored so transports may call it more than once.
func (h *Hub) Disconnect(path, listenerID string) error {
	ch, err := h.Channel(path)
	if err != nil {
		return err
	}

	conn, ok := ch.detach(listenerID)
	if !ok {
		return nil
	}
	if conn != nil {
		conn.shutdown()
	}

	h.logger.Info().Str("path", path).Str("listener_id", listenerID).Msg("Listener disconnected")
	return nil
}

// release handles Conn.Close: only the current binding deregisters
func (h *Hub) release(c *Conn) {
	ch := c.channel

	ch.mu.Lock()
	r, ok := ch.listeners[c.listener.ID]
	current := ok && r.conn == c
	if current {
		delete(ch.listeners, c.listener.ID)
	}
	ch.mu.Unlock()

	c.shutdown()

	if current {
		h.logger.Info().
			Str("path", ch.path).
			Str("listener_id", c.listener.ID).
			Msg("Listener disconnected")
	}
}

// Publish delivers event to every connected listener on path whose
// interests satisfy match (nil matches all). It returns the number of
// connections reached. Connections that could not take the event are
// logged as a partial failure and are not counted.
func (h *Hub) Publish(ctx context.Context, path string, event Event, match Interests) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	ch, err := h.Channel(path)
	if err != nil {
		return 0, err
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	ch.publishMu.Lock()
	defer ch.publishMu.Unlock()

	targets := ch.targets(match)
	reached, failed := 0, 0
	for _, conn := range targets {
		if conn.send(event) {
			reached++
		} else {
			failed++
		}
	}

	if failed > 0 {
		h.logger.Warn().
			Err(ErrDeliveryPartialFailure).
			Str("path", path).
			Str("event_type", event.Type).
			Int("reached", reached).
			Int("failed", failed).
			Msg("Event not delivered to every listener")
	}

	h.logger.Debug().
		Str("path", path).
		Str("event_type", event.Type).
		Int("reached", reached).
		Msg("Event published")

	return reached, nil
}

// Close shuts the hub down and closes every connection
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	channels := make([]*Channel, 0, len(h.channels))
	for _, ch := range h.channels {
		channels = append(channels, ch)
	}
	h.mu.Unlock()

	h.cancel()

	closed := 0
	for _, ch := range channels {
		for _, conn := range ch.detachAll() {
			conn.shutdown()
			closed++
		}
	}

	h.logger.Info().Int("connections", closed).Msg("Hub closed")
}

func (h *Hub) scheduleReconcile(conn *Conn) {
	timer := time.AfterFunc(h.config.ReconcileDelay, func() {
		if conn.Closed() {
			return
		}

		ctx, cancel := context.WithTimeout(h.ctx, h.config.ReconcileTimeout)
		defer cancel()

		// Snapshot and deliver under the publish lock: a publish racing the
		// snapshot lands after it, never before
		ch := conn.channel
		ch.publishMu.Lock()
		defer ch.publishMu.Unlock()

		listener := conn.Listener()
		events, err := h.reconciler.Reconcile(ctx, listener)
		if err != nil {
			h.logger.Warn().
				Err(err).
				Str("path", listener.Path).
				Str("listener_id", listener.ID).
				Msg("Reconciliation failed")
			return
		}

		sent := 0
		for _, ev := range events {
			if ev.Timestamp.IsZero() {
				ev.Timestamp = time.Now().UTC()
			}
			if conn.send(ev) {
				sent++
			}
		}

		h.logger.Debug().
			Str("listener_id", listener.ID).
			Int("events", sent).
			Msg("Listener reconciled")
	})
	conn.setTimer(timer)
}

func copyInterests(in Interests) Interests {
	if in == nil {
		return Interests{}
	}
	out := make(Interests, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
