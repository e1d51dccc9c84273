// Package sweep drives timed-out instances forward. The engine schedules
// nothing itself; a Job is run by whatever trigger the host uses (a cron
// entry, a ticker, a serverless schedule).
package sweep

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/sicko7947/waitflow"
)

// Engine is the part of engine.Engine the sweep uses
type Engine interface {
	FindTimedOutSteps(ctx context.Context) ([]waitflow.InstanceRef, error)
	ContinueTimedOut(ctx context.Context, refs []waitflow.InstanceRef) int
}

// Result summarizes one sweep
type Result struct {
	Found    int
	Resumed  int
	Duration time.Duration
}

// Job finds timed-out instances and resumes them
type Job struct {
	engine Engine
	logger zerolog.Logger
}

// Option configures the job
type Option func(*Job)

// WithLogger sets a custom logger
func WithLogger(logger zerolog.Logger) Option {
	return func(j *Job) {
		j.logger = logger
	}
}

// NewJob creates a sweep job over eng
func NewJob(eng Engine, opts ...Option) *Job {
	j := &Job{
		engine: eng,
		logger: zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Str("component", "sweep").
			Logger().
			Level(zerolog.InfoLevel),
	}

	for _, opt := range opts {
		opt(j)
	}

	return j
}

// Run performs one sweep. Only a failed scan is an error; instances that
// cannot be resumed are logged by the engine and retried next sweep.
func (j *Job) Run(ctx context.Context) error {
	_, err := j.Sweep(ctx)
	return err
}

// Sweep is Run returning the counts
func (j *Job) Sweep(ctx context.Context) (Result, error) {
	started := time.Now()

	refs, err := j.engine.FindTimedOutSteps(ctx)
	if err != nil {
		j.logger.Error().Err(err).Msg("Timeout scan failed")
		return Result{}, fmt.Errorf("timeout scan failed: %w", err)
	}

	result := Result{Found: len(refs)}
	if len(refs) == 0 {
		result.Duration = time.Since(started)
		j.logger.Debug().Msg("No timed out instances")
		return result, nil
	}

	result.Resumed = j.engine.ContinueTimedOut(ctx, refs)
	result.Duration = time.Since(started)

	event := j.logger.Info()
	if result.Resumed < result.Found {
		event = j.logger.Warn()
	}
	event.
		Int("found", result.Found).
		Int("resumed", result.Resumed).
		Dur("duration", result.Duration).
		Msg("Timeout sweep finished")

	return result, nil
}
