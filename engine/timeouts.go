package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sicko7947/waitflow"
	"golang.org/x/sync/errgroup"
)

var staleStatuses = []waitflow.Status{waitflow.StatusCreated, waitflow.StatusWaiting, waitflow.StatusRunning}

// errOwnedLocally marks a stale-looking instance that this process is still
// executing
var errOwnedLocally = errors.New("instance is executing in this process")

// FindTimedOutSteps returns created, waiting and running instances of every
// registered definition whose last update is older than the definition's
// step timeout
func (e *Engine) FindTimedOutSteps(ctx context.Context) ([]waitflow.InstanceRef, error) {
	now := time.Now().UTC()

	var refs []waitflow.InstanceRef
	for _, def := range e.Definitions() {
		timeout := def.Config().StepTimeout()
		if timeout <= 0 {
			continue
		}

		insts, err := e.store.Query(ctx, waitflow.InstanceFilter{
			DefinitionName: def.Name(),
			Statuses:       staleStatuses,
			UpdatedBefore:  now.Add(-timeout),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s for timed out instances: %w", def.Name(), err)
		}

		for _, inst := range insts {
			refs = append(refs, inst.Ref())
		}
	}

	return refs, nil
}

// ContinueAllTimedOut resumes every timed-out instance: waiting ones are
// continued with an empty merge so their step re-checks its condition,
// stale created and running ones not executing in this process are taken
// over. It
// returns how many instances were driven forward; per-instance failures are
// logged, not returned.
func (e *Engine) ContinueAllTimedOut(ctx context.Context) (int, error) {
	refs, err := e.FindTimedOutSteps(ctx)
	if err != nil {
		return 0, err
	}

	return e.ContinueTimedOut(ctx, refs), nil
}

// ContinueTimedOut resumes the given refs with bounded parallelism
func (e *Engine) ContinueTimedOut(ctx context.Context, refs []waitflow.InstanceRef) int {
	var resumed atomic.Int64

	var g errgroup.Group
	if e.config.SweepConcurrency > 0 {
		g.SetLimit(e.config.SweepConcurrency)
	}

	for _, ref := range refs {
		g.Go(func() error {
			if err := e.resumeTimedOut(ctx, ref); err != nil {
				e.logTimedOutError(ref, err)
				return nil
			}
			resumed.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	return int(resumed.Load())
}

func (e *Engine) resumeTimedOut(ctx context.Context, ref waitflow.InstanceRef) error {
	var err error
	switch ref.Status {
	case waitflow.StatusWaiting:
		_, err = e.Continue(ctx, ref.ID, nil)
	case waitflow.StatusCreated, waitflow.StatusRunning:
		_, err = e.takeOver(ctx, ref)
	default:
		return fmt.Errorf("instance %s is %s", ref.ID, ref.Status)
	}

	// A step that fails by policy still counts: the instance was driven to
	// a durable outcome
	if errors.Is(err, waitflow.ErrStepExecution) || errors.Is(err, waitflow.ErrContractViolation) {
		return nil
	}
	return err
}

// takeOver resumes a running instance whose executor went away, or starts
// a created one that was never started. The conditional write on (status,
// version) lets only one process win.
func (e *Engine) takeOver(ctx context.Context, ref waitflow.InstanceRef) (*waitflow.Instance, error) {
	unlock, ok := e.instances.TryLock(ref.ID)
	if !ok {
		return nil, errOwnedLocally
	}
	defer unlock()

	inst, err := e.store.GetByID(ctx, ref.ID)
	if err != nil {
		return nil, err
	}
	if inst.Status != ref.Status {
		return nil, waitflow.InvalidStateError(inst, ref.Status)
	}

	def, err := e.Definition(inst.DefinitionName)
	if err != nil {
		return nil, err
	}

	staleFor := time.Since(inst.UpdatedAt)
	if staleFor < def.Config().StepTimeout() {
		return nil, waitflow.NewWorkflowError(waitflow.ErrCodeInvalidState, "instance is no longer stale").WithInstance(inst)
	}

	inst.Append(waitflow.HistoryInstanceRecovered, inst.CurrentStep, 0, map[string]any{
		"staleForMs": staleFor.Milliseconds(),
	})

	if inst.Status == waitflow.StatusCreated {
		waitflow.LogInstanceRecovered(e.logger, inst.ID, inst.CurrentStep)
		return e.startCreated(ctx, def, inst)
	}

	cond := waitflow.ExpectCurrent(inst)
	if err := e.save(ctx, inst, cond); err != nil {
		return nil, err
	}

	waitflow.LogInstanceRecovered(e.logger, inst.ID, inst.CurrentStep)

	return e.run(ctx, def, inst)
}

func (e *Engine) logTimedOutError(ref waitflow.InstanceRef, err error) {
	event := e.logger.Warn()
	if errors.Is(err, waitflow.ErrInvalidState) || errors.Is(err, errOwnedLocally) {
		// someone else already moved it on
		event = e.logger.Debug()
	}
	event.
		Err(err).
		Str("instance_id", ref.ID).
		Str("status", ref.Status.String()).
		Str("step", ref.CurrentStep).
		Msg("Timed out instance not resumed")
}
