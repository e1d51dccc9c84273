package engine

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/sicko7947/waitflow"
	"github.com/sicko7947/waitflow/realtime"
)

// InterestInstanceID is the interest key that scopes a listener to one
// instance
const InterestInstanceID = "instanceId"

// lifecycleEvents maps the statuses a caller can observe at rest to the
// lifecycle event announcing them
var lifecycleEvents = map[waitflow.Status]string{
	waitflow.StatusWaiting:   waitflow.HistoryInstanceWaiting,
	waitflow.StatusCompleted: waitflow.HistoryInstanceCompleted,
	waitflow.StatusFailed:    waitflow.HistoryInstanceFailed,
}

// InstanceReconciler brings a freshly connected listener up to date with the
// instance it is interested in. It sends a state_sync event with the
// authoritative snapshot and, once the instance has progressed past
// creation and is at rest (waiting or terminal), re-sends the lifecycle
// event that announced its current status, marked reconnected.
type InstanceReconciler struct {
	store  waitflow.InstanceStore
	logger zerolog.Logger
}

var _ realtime.Reconciler = (*InstanceReconciler)(nil)

// NewInstanceReconciler creates a reconciler reading from store
func NewInstanceReconciler(store waitflow.InstanceStore, logger zerolog.Logger) *InstanceReconciler {
	return &InstanceReconciler{store: store, logger: logger}
}

// Reconcile implements realtime.Reconciler
func (r *InstanceReconciler) Reconcile(ctx context.Context, listener realtime.Listener) ([]realtime.Event, error) {
	id, ok := listener.Interests.String(InterestInstanceID)
	if !ok {
		return nil, nil
	}

	inst, err := r.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, waitflow.ErrInstanceNotFound) {
			r.logger.Debug().Str("instance_id", id).Msg("Nothing to reconcile")
			return nil, nil
		}
		return nil, err
	}

	events := []realtime.Event{
		realtime.NewEvent(realtime.EventStateSync, map[string]any{
			"instanceId":     inst.ID,
			"definitionName": inst.DefinitionName,
			"status":         inst.Status.String(),
			"currentStep":    inst.CurrentStep,
			"state":          inst.State.Clone(),
			"version":        inst.Version,
			"updatedAt":      inst.UpdatedAt,
		}),
	}

	if eventType, ok := lifecycleEvents[inst.Status]; ok {
		if _, recorded := inst.LastHistory(eventType); recorded {
			data := LifecycleEventData(inst)
			data["reconnected"] = true
			events = append(events, realtime.NewEvent(eventType, data))
		}
	}

	r.logger.Debug().
		Str("instance_id", inst.ID).
		Str("listener_id", listener.ID).
		Int("events", len(events)).
		Msg("Reconciling listener")

	return events, nil
}
