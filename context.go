package waitflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// State is the open-ended document threaded between steps
type State map[string]any

// Clone returns a deep copy of the state
func (s State) Clone() State {
	if s == nil {
		return State{}
	}
	return State(cloneMap(s))
}

// Merge returns a copy of the state with the given keys overwritten
func (s State) Merge(patch map[string]any) State {
	merged := s.Clone()
	for k, v := range patch {
		merged[k] = cloneValue(v)
	}
	return merged
}

// String returns the value for key when it is a non-empty string
func (s State) String(key string) (string, bool) {
	v, ok := s[key].(string)
	return v, ok && v != ""
}

// GetTyped decodes a state value into T (round-trips through JSON so values
// loaded from a store decode the same as values set in-process)
func GetTyped[T any](s State, key string) (T, error) {
	var result T
	raw, ok := s[key]
	if !ok {
		return result, fmt.Errorf("state key %s not found", key)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return result, fmt.Errorf("failed to marshal state value for key %s: %w", key, err)
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, fmt.Errorf("failed to unmarshal state for key %s: %w", key, err)
	}
	return result, nil
}

// EventPublisher pushes realtime events scoped to a single instance
type EventPublisher interface {
	PublishInstanceEvent(ctx context.Context, instanceID, eventType string, data map[string]any) (int, error)
}

// StepContext provides rich context to step functions
type StepContext struct {
	context.Context

	// Execution metadata
	InstanceID     string
	DefinitionName string
	Step           string
	Attempt        int

	// Logger (enriched with step context)
	Logger zerolog.Logger

	publisher EventPublisher
}

// NewStepContext builds a step context; publisher may be nil
func NewStepContext(ctx context.Context, inst *Instance, step string, attempt int, logger zerolog.Logger, publisher EventPublisher) *StepContext {
	return &StepContext{
		Context:        ctx,
		InstanceID:     inst.ID,
		DefinitionName: inst.DefinitionName,
		Step:           step,
		Attempt:        attempt,
		Logger:         logger,
		publisher:      publisher,
	}
}

// Publish sends a realtime event to listeners interested in this instance.
// It returns the number of listeners reached; with no publisher configured
// the event is dropped and 0 is returned.
func (c *StepContext) Publish(eventType string, data map[string]any) int {
	if c.publisher == nil {
		return 0
	}
	n, err := c.publisher.PublishInstanceEvent(c.Context, c.InstanceID, eventType, data)
	if err != nil {
		c.Logger.Warn().Err(err).Str("event_type", eventType).Msg("Failed to publish event")
		return 0
	}
	return n
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = cloneValue(v)
	}
	return c
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case State:
		return State(cloneMap(t))
	case []any:
		c := make([]any, len(t))
		for i, e := range t {
			c[i] = cloneValue(e)
		}
		return c
	default:
		return v
	}
}
