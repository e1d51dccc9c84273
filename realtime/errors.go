package realtime

import "errors"

var (
	// ErrChannelNotFound is returned for operations on an unregistered path
	ErrChannelNotFound = errors.New("channel not found")

	// ErrListenerNotFound is returned when a listener id is not registered
	// on the channel
	ErrListenerNotFound = errors.New("listener not found")

	// ErrDeliveryPartialFailure is logged when a publish could not reach
	// every matching connection. It is never returned to the publisher.
	ErrDeliveryPartialFailure = errors.New("event delivery partially failed")

	// ErrHubClosed is returned after Close
	ErrHubClosed = errors.New("hub closed")
)
