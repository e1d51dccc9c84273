package realtime

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// HubConfig holds hub tuning
type HubConfig struct {
	// Outbound events buffered per connection before deliveries fail
	BufferSize int

	// Delay between connect and the reconciliation push
	ReconcileDelay time.Duration

	// Upper bound on a single Reconciler call
	ReconcileTimeout time.Duration
}

// DefaultHubConfig provides sensible defaults
var DefaultHubConfig = HubConfig{
	BufferSize:       64,
	ReconcileDelay:   500 * time.Millisecond,
	ReconcileTimeout: 10 * time.Second,
}

// HubOption configures the hub
type HubOption func(*Hub)

// WithLogger sets a custom logger for the hub
func WithLogger(logger zerolog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = logger
	}
}

// WithConfig replaces the hub configuration
func WithConfig(config HubConfig) HubOption {
	return func(h *Hub) {
		h.config = config
	}
}

// WithBufferSize sets the per-connection outbound buffer
func WithBufferSize(n int) HubOption {
	return func(h *Hub) {
		h.config.BufferSize = n
	}
}

// WithReconciler enables the reconnect reconciliation push
func WithReconciler(r Reconciler) HubOption {
	return func(h *Hub) {
		h.reconciler = r
	}
}

// WithReconcileDelay sets how long after connect the reconciler runs
func WithReconcileDelay(d time.Duration) HubOption {
	return func(h *Hub) {
		h.config.ReconcileDelay = d
	}
}

func defaultLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Str("component", "realtime").
		Logger().
		Level(zerolog.InfoLevel)
}
