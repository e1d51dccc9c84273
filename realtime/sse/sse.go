// Package sse exposes a realtime channel over Server-Sent Events using
// fiber. Clients POST their interests to /connect, receive a listener id,
// then GET /:listenerID to open the stream.
package sse

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
	"github.com/sicko7947/waitflow/realtime"
)

// Config holds transport configuration
type Config struct {
	// Comment frames are written this often to keep proxies from idling the
	// stream out. Zero disables heartbeats.
	HeartbeatInterval time.Duration
}

// DefaultConfig provides sensible defaults
var DefaultConfig = Config{
	HeartbeatInterval: 15 * time.Second,
}

// Handler serves one hub channel
type Handler struct {
	hub    *realtime.Hub
	path   string
	config Config
	logger zerolog.Logger
}

// Option configures the handler
type Option func(*Handler)

// WithLogger sets a custom logger
func WithLogger(logger zerolog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithHeartbeat sets the heartbeat interval
func WithHeartbeat(d time.Duration) Option {
	return func(h *Handler) {
		h.config.HeartbeatInterval = d
	}
}

// New creates a handler streaming the channel at path. The channel is
// created if it does not exist yet.
func New(hub *realtime.Hub, path string, opts ...Option) *Handler {
	h := &Handler{
		hub:    hub,
		path:   path,
		config: DefaultConfig,
		logger: zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Str("component", "sse").
			Logger().
			Level(zerolog.InfoLevel),
	}

	for _, opt := range opts {
		opt(h)
	}

	hub.CreateChannel(path)
	return h
}

// ConnectResponse is returned by the connect route
type ConnectResponse struct {
	ListenerID string `json:"listenerID"`
}

// Register mounts POST /connect and GET /:listenerID on router
func (h *Handler) Register(router fiber.Router) {
	router.Post("/connect", h.Connect)
	router.Get("/:listenerID", h.Stream)
}

// Connect registers a listener with the JSON body as its interests
func (h *Handler) Connect(c fiber.Ctx) error {
	interests := realtime.Interests{}
	if body := c.Body(); len(body) > 0 {
		if err := json.Unmarshal(body, &interests); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "interests must be a JSON object",
			})
		}
	}

	listener, err := h.hub.CreateListener(h.path, interests)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(ConnectResponse{ListenerID: listener.ID})
}

// Stream binds the request to its listener and streams events until the
// client goes away or the listener is revoked
func (h *Handler) Stream(c fiber.Ctx) error {
	listenerID := c.Params("listenerID")

	conn, err := h.hub.Connect(c.Context(), h.path, listenerID)
	if err != nil {
		return h.fail(c, err)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	return c.SendStreamWriter(func(w *bufio.Writer) {
		h.pump(w, conn)
	})
}

// pump copies events to w until the connection ends or a write fails.
// The connection is always closed on return.
func (h *Handler) pump(w *bufio.Writer, conn *realtime.Conn) {
	defer conn.Close()

	listenerID := conn.Listener().ID
	ended := func(err error, msg string) {
		h.logger.Debug().
			Err(err).
			Str("listener_id", listenerID).
			Dur("connected_for", time.Since(conn.ConnectedAt())).
			Msg(msg)
	}

	var heartbeat <-chan time.Time
	if h.config.HeartbeatInterval > 0 {
		ticker := time.NewTicker(h.config.HeartbeatInterval)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	for {
		select {
		case ev, ok := <-conn.Events():
			if !ok {
				ended(nil, "Stream ended by hub")
				return
			}
			if err := WriteEvent(w, ev); err != nil {
				ended(err, "Client went away")
				return
			}

		case <-heartbeat:
			if err := WriteComment(w, "heartbeat"); err != nil {
				ended(err, "Client went away")
				return
			}
		}
	}
}

func (h *Handler) fail(c fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, realtime.ErrChannelNotFound), errors.Is(err, realtime.ErrListenerNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, realtime.ErrHubClosed):
		status = fiber.StatusServiceUnavailable
	}

	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// WriteEvent writes ev as a single data frame and flushes it
func WriteEvent(w *bufio.Writer, ev realtime.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", ev.Type, err)
	}

	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	return w.Flush()
}

// WriteComment writes a comment frame, ignored by EventSource clients
func WriteComment(w *bufio.Writer, text string) error {
	if _, err := io.WriteString(w, ": "+text+"\n\n"); err != nil {
		return err
	}
	return w.Flush()
}
