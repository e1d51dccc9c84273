package waitflow

import (
	"time"

	"github.com/rs/zerolog"
)

// Log event names
const (
	// Instance-level events
	EventInstanceStarted   = "instance_started"
	EventInstanceWaiting   = "instance_waiting"
	EventInstanceContinued = "instance_continued"
	EventInstanceCompleted = "instance_completed"
	EventInstanceFailed    = "instance_failed"
	EventInstanceRecovered = "instance_recovered"

	// Step-level events
	EventStepStarted   = "step_started"
	EventStepRetrying  = "step_retrying"
	EventStepCompleted = "step_completed"
	EventStepFailed    = "step_failed"

	// Persistence events
	EventPersistenceError = "persistence_error"
)

// LogInstanceStarted logs when an instance starts execution
func LogInstanceStarted(logger zerolog.Logger, instanceID, definition, entryStep string) {
	logger.Info().
		Str("event", EventInstanceStarted).
		Str("instance_id", instanceID).
		Str("definition", definition).
		Str("entry_step", entryStep).
		Msg("Instance started")
}

// LogInstanceWaiting logs when an instance suspends
func LogInstanceWaiting(logger zerolog.Logger, instanceID, step string) {
	logger.Info().
		Str("event", EventInstanceWaiting).
		Str("instance_id", instanceID).
		Str("step", step).
		Msg("Instance waiting for input")
}

// LogInstanceContinued logs when a waiting instance is resumed
func LogInstanceContinued(logger zerolog.Logger, instanceID, step string) {
	logger.Info().
		Str("event", EventInstanceContinued).
		Str("instance_id", instanceID).
		Str("step", step).
		Msg("Instance continued")
}

// LogInstanceCompleted logs successful instance completion
func LogInstanceCompleted(logger zerolog.Logger, instanceID string, duration time.Duration) {
	logger.Info().
		Str("event", EventInstanceCompleted).
		Str("instance_id", instanceID).
		Dur("duration", duration).
		Msg("Instance completed")
}

// LogInstanceFailed logs instance failure
func LogInstanceFailed(logger zerolog.Logger, instanceID string, err error) {
	logger.Error().
		Str("event", EventInstanceFailed).
		Str("instance_id", instanceID).
		Err(err).
		Msg("Instance failed")
}

// LogInstanceRecovered logs a stale running instance being taken over
func LogInstanceRecovered(logger zerolog.Logger, instanceID, step string) {
	logger.Warn().
		Str("event", EventInstanceRecovered).
		Str("instance_id", instanceID).
		Str("step", step).
		Msg("Stale instance recovered")
}

// LogStepStarted logs when a step starts execution
func LogStepStarted(logger zerolog.Logger, instanceID, step string, attempt int) {
	logger.Debug().
		Str("event", EventStepStarted).
		Str("instance_id", instanceID).
		Str("step", step).
		Int("attempt", attempt).
		Msg("Step started")
}

// LogStepRetrying logs when a step is being retried
func LogStepRetrying(logger zerolog.Logger, instanceID, step string, attempt int, delay time.Duration) {
	logger.Warn().
		Str("event", EventStepRetrying).
		Str("instance_id", instanceID).
		Str("step", step).
		Int("attempt", attempt).
		Dur("delay", delay).
		Msg("Step retrying")
}

// LogStepCompleted logs a step returning an outcome
func LogStepCompleted(logger zerolog.Logger, instanceID, step string, outcome ResultKind, durationMs int64) {
	logger.Info().
		Str("event", EventStepCompleted).
		Str("instance_id", instanceID).
		Str("step", step).
		Str("outcome", outcome.String()).
		Int64("duration_ms", durationMs).
		Msg("Step completed")
}

// LogStepFailed logs a failed step attempt
func LogStepFailed(logger zerolog.Logger, instanceID, step string, err error, attempt int) {
	logger.Error().
		Str("event", EventStepFailed).
		Str("instance_id", instanceID).
		Str("step", step).
		Err(err).
		Int("attempt", attempt).
		Msg("Step failed")
}

// LogPersistenceError logs errors during persistence operations
func LogPersistenceError(logger zerolog.Logger, instanceID, operation string, err error) {
	logger.Error().
		Str("event", EventPersistenceError).
		Str("instance_id", instanceID).
		Str("operation", operation).
		Err(err).
		Msg("Persistence error")
}

// InstanceLogger creates a logger enriched with instance context
func InstanceLogger(baseLogger zerolog.Logger, instanceID, definition string) zerolog.Logger {
	return baseLogger.With().
		Str("instance_id", instanceID).
		Str("definition", definition).
		Logger()
}

// StepLogger creates a logger enriched with step context
func StepLogger(instanceLogger zerolog.Logger, step string, attempt int) zerolog.Logger {
	return instanceLogger.With().
		Str("step", step).
		Int("attempt", attempt).
		Logger()
}
