// Package realtime fans events out to long-lived listener connections.
//
// A Hub owns named channels. Listeners register against a channel with an
// interest document, and a transport later binds a connection to the
// listener id. Publish delivers to every connected listener whose interests
// satisfy the match criteria. Nothing is queued for listeners that are not
// connected; reconnecting clients are brought up to date by a Reconciler.
package realtime

import (
	"context"
	"fmt"
	"time"
)

// Synthetic event types produced by the hub
const (
	EventConnected = "connected"
	EventStateSync = "state_sync"
)

// Event is one message pushed to listeners
type Event struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewEvent creates an event stamped with the current time
func NewEvent(eventType string, data map[string]any) Event {
	return Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// Interests is a listener's matcher document, e.g. {"instanceId": "..."}
type Interests map[string]any

// Satisfies reports whether every key of match is present in the interests
// with an equal value. Values are compared by their fmt.Sprint form so a
// number decoded from JSON matches the same number set in Go. An empty match
// is satisfied by everyone.
func (i Interests) Satisfies(match Interests) bool {
	for k, want := range match {
		got, ok := i[k]
		if !ok {
			return false
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

// String returns the value for key when it is a non-empty string
func (i Interests) String(key string) (string, bool) {
	v, ok := i[key].(string)
	return v, ok && v != ""
}

// Listener is a registered subscriber on a channel. Registrations live in
// memory only.
type Listener struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Interests Interests `json:"interests,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Reconciler produces the catch-up events sent to a listener shortly after
// it connects, closing the gap between fetching state and streaming
type Reconciler interface {
	Reconcile(ctx context.Context, listener Listener) ([]Event, error)
}

// ReconcilerFunc adapts a function to the Reconciler interface
type ReconcilerFunc func(ctx context.Context, listener Listener) ([]Event, error)

// Reconcile calls f
func (f ReconcilerFunc) Reconcile(ctx context.Context, listener Listener) ([]Event, error) {
	return f(ctx, listener)
}
