package engine

import (
	"context"

	"github.com/sicko7947/waitflow"
	"github.com/sicko7947/waitflow/realtime"
)

// ChannelPublisher is the part of realtime.Hub the engine publishes through
type ChannelPublisher interface {
	Publish(ctx context.Context, path string, event realtime.Event, match realtime.Interests) (int, error)
}

var _ ChannelPublisher = (*realtime.Hub)(nil)

// channelPublisher scopes instance events to listeners interested in the
// instance
type channelPublisher struct {
	hub  ChannelPublisher
	path string
}

// NewChannelPublisher adapts a channel publisher to waitflow.EventPublisher.
// Events go to path with match criteria {instanceId: id}.
func NewChannelPublisher(hub ChannelPublisher, path string) waitflow.EventPublisher {
	return &channelPublisher{hub: hub, path: path}
}

func (p *channelPublisher) PublishInstanceEvent(ctx context.Context, instanceID, eventType string, data map[string]any) (int, error) {
	payload := make(map[string]any, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	payload["instanceId"] = instanceID

	return p.hub.Publish(ctx, p.path, realtime.NewEvent(eventType, payload), realtime.Interests{"instanceId": instanceID})
}

// LifecycleEventData is the payload of engine lifecycle events, shared by
// live publishes and reconnect replays
func LifecycleEventData(inst *waitflow.Instance) map[string]any {
	data := map[string]any{
		"instanceId":     inst.ID,
		"definitionName": inst.DefinitionName,
		"status":         inst.Status.String(),
		"currentStep":    inst.CurrentStep,
	}

	switch inst.Status {
	case waitflow.StatusWaiting:
		data["waitInfo"] = inst.WaitInfo
	case waitflow.StatusCompleted:
		data["state"] = inst.State.Clone()
	case waitflow.StatusFailed:
		if inst.Error != nil {
			data["error"] = map[string]any{
				"code":    inst.Error.Code,
				"message": inst.Error.Message,
				"step":    inst.Error.Step,
			}
		}
	}

	return data
}
