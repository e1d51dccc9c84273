package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sicko7947/waitflow"
)

// attemptResult holds the outcome of one step attempt
type attemptResult struct {
	result waitflow.StepResult
	err    error
}

// run drives a running instance until a step suspends or the instance
// terminates. The caller holds the instance lock and inst is persisted.
// Errors other than step failures (persistence, cancellation) leave the
// instance running for the timeout sweep to recover.
func (e *Engine) run(ctx context.Context, def *waitflow.Definition, inst *waitflow.Instance) (*waitflow.Instance, error) {
	logger := waitflow.InstanceLogger(e.logger, inst.ID, def.Name())
	traverser := NewStepTraverser(def)

	for {
		if err := ctx.Err(); err != nil {
			logger.Warn().Err(err).Str("step", inst.CurrentStep).Msg("Execution interrupted")
			return inst, err
		}

		step := inst.CurrentStep
		fn, err := def.Step(step)
		if err != nil {
			return e.failInstance(ctx, logger, inst, contractError(step, err.Error()))
		}

		cond := waitflow.ExpectCurrent(inst)
		inst.Append(waitflow.HistoryStepStarted, step, 0, nil)
		if err := e.save(ctx, inst, cond); err != nil {
			return inst, err
		}

		started := time.Now()
		result, err := e.executeStep(ctx, logger, def, inst, step, fn)
		if err != nil {
			var wfErr *waitflow.WorkflowError
			if errors.As(err, &wfErr) && (errors.Is(err, waitflow.ErrStepExecution) || errors.Is(err, waitflow.ErrContractViolation)) {
				return e.failInstance(ctx, logger, inst, wfErr)
			}
			return inst, err
		}

		if err := traverser.Check(step, result); err != nil {
			return e.failInstance(ctx, logger, inst, err)
		}

		waitflow.LogStepCompleted(logger, inst.ID, step, result.Kind, time.Since(started).Milliseconds())

		switch result.Kind {
		case waitflow.ResultSuspend:
			return e.suspend(ctx, logger, inst, step, result)

		case waitflow.ResultAdvance:
			cond := waitflow.ExpectCurrent(inst)
			if result.State != nil {
				inst.State = result.State.Clone()
			}

			if result.IsTerminal() {
				return e.complete(ctx, logger, inst, step, cond)
			}

			inst.CurrentStep = result.Next
			inst.Append(waitflow.HistoryStepCompleted, step, 0, map[string]any{"next": result.Next})
			if err := e.save(ctx, inst, cond); err != nil {
				return inst, err
			}
		}
	}
}

// executeStep runs a single step with retry/timeout logic. It returns the
// first non-failing result, or a coded error: ErrStepExecution once all
// attempts failed, ErrContractViolation for a step that chose no outcome.
func (e *Engine) executeStep(
	ctx context.Context,
	logger zerolog.Logger,
	def *waitflow.Definition,
	inst *waitflow.Instance,
	step string,
	fn waitflow.StepFunc,
) (waitflow.StepResult, error) {
	config := def.Config()
	attempts := config.Attempts()

	var lastErr error

	// Retry loop
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := calculateBackoff(config.RetryDelayMs, attempt-1, config.RetryBackoff)
			waitflow.LogStepRetrying(logger, inst.ID, step, attempt, delay)
			if err := sleepContext(ctx, delay); err != nil {
				return waitflow.StepResult{}, err
			}
		}

		waitflow.LogStepStarted(logger, inst.ID, step, attempt)

		result, err := e.runAttempt(ctx, logger, inst, step, fn, attempt, config.StepTimeout())
		if ctxErr := ctx.Err(); ctxErr != nil {
			return waitflow.StepResult{}, ctxErr
		}

		if err == nil {
			switch {
			case result.IsZero():
				return waitflow.StepResult{}, contractError(step, "step returned no outcome")
			case result.Kind == waitflow.ResultFail:
				err = result.Err
			default:
				return result, nil
			}
		}

		lastErr = err
		stepErr := waitflow.ToStepError(err, attempt)
		waitflow.LogStepFailed(logger, inst.ID, step, err, attempt)

		cond := waitflow.ExpectCurrent(inst)
		inst.Append(waitflow.HistoryStepAttemptFailed, step, attempt, map[string]any{
			"code":  stepErr.Code,
			"error": stepErr.Message,
		})
		if err := e.save(ctx, inst, cond); err != nil {
			return waitflow.StepResult{}, err
		}
	}

	return waitflow.StepResult{}, waitflow.NewWorkflowError(waitflow.ErrCodeExecutionFailed,
		fmt.Sprintf("step %s failed after %d attempts: %v", step, attempts, lastErr)).
		WithStep(step).
		WithCause(lastErr).
		WithDetails(map[string]any{"attempts": attempts})
}

// runAttempt executes fn once under the step timeout. The step runs on its
// own goroutine so a step that ignores cancellation cannot hold the
// instance past the timeout.
func (e *Engine) runAttempt(
	ctx context.Context,
	logger zerolog.Logger,
	inst *waitflow.Instance,
	step string,
	fn waitflow.StepFunc,
	attempt int,
	timeout time.Duration,
) (waitflow.StepResult, error) {
	attemptCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	stepLogger := waitflow.StepLogger(logger, step, attempt)
	stepCtx := waitflow.NewStepContext(attemptCtx, inst, step, attempt, stepLogger, e.publisher)
	state := inst.State.Clone()

	done := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				stepLogger.Error().Interface("panic", r).Msg("Step panicked")
				done <- attemptResult{err: waitflow.NewStepError(waitflow.ErrCodePanic, fmt.Sprintf("step panicked: %v", r), attempt)}
			}
		}()
		done <- attemptResult{result: fn(stepCtx, state)}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return waitflow.StepResult{}, ctx.Err()
		}
		stepLogger.Error().Dur("timeout", timeout).Msg("Step execution timed out")
		return waitflow.StepResult{}, waitflow.TimeoutError(step, timeout)
	}
}

func (e *Engine) suspend(ctx context.Context, logger zerolog.Logger, inst *waitflow.Instance, step string, result waitflow.StepResult) (*waitflow.Instance, error) {
	cond := waitflow.ExpectCurrent(inst)
	inst.Status = waitflow.StatusWaiting
	inst.WaitInfo = result.WaitInfo
	inst.Append(waitflow.HistoryInstanceWaiting, step, 0, map[string]any{"waitInfo": result.WaitInfo})
	if err := e.save(ctx, inst, cond); err != nil {
		return inst, err
	}

	waitflow.LogInstanceWaiting(logger, inst.ID, step)
	e.publish(ctx, inst, waitflow.HistoryInstanceWaiting)

	return inst, nil
}

func (e *Engine) complete(ctx context.Context, logger zerolog.Logger, inst *waitflow.Instance, step string, cond waitflow.UpdateCondition) (*waitflow.Instance, error) {
	inst.Status = waitflow.StatusCompleted
	inst.CurrentStep = ""
	inst.WaitInfo = nil
	inst.Append(waitflow.HistoryStepCompleted, step, 0, nil)
	inst.Append(waitflow.HistoryInstanceCompleted, "", 0, nil)
	if err := e.save(ctx, inst, cond); err != nil {
		return inst, err
	}

	waitflow.LogInstanceCompleted(logger, inst.ID, inst.UpdatedAt.Sub(inst.CreatedAt))
	e.publish(ctx, inst, waitflow.HistoryInstanceCompleted)

	return inst, nil
}

// failInstance marks the instance failed, records the cause and returns it
// to the caller with instance diagnostics attached
func (e *Engine) failInstance(ctx context.Context, logger zerolog.Logger, inst *waitflow.Instance, cause *waitflow.WorkflowError) (*waitflow.Instance, error) {
	step := inst.CurrentStep

	cond := waitflow.ExpectCurrent(inst)
	inst.Status = waitflow.StatusFailed
	inst.CurrentStep = ""
	inst.WaitInfo = nil

	cause.InstanceID = inst.ID
	cause.Status = waitflow.StatusFailed
	cause.Step = step
	inst.Error = cause

	inst.Append(waitflow.HistoryInstanceFailed, step, 0, map[string]any{
		"code":  cause.Code,
		"error": cause.Message,
	})
	if err := e.save(ctx, inst, cond); err != nil {
		return inst, err
	}

	waitflow.LogInstanceFailed(logger, inst.ID, cause)
	e.publish(ctx, inst, waitflow.HistoryInstanceFailed)

	return inst, cause
}

func contractError(step, reason string) *waitflow.WorkflowError {
	return waitflow.NewWorkflowError(waitflow.ErrCodeContract, reason).WithStep(step)
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
