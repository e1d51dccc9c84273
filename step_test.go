package waitflow

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStepResultConstructors(t *testing.T) {
	state := State{"k": "v"}

	t.Run("goto", func(t *testing.T) {
		r := Goto("next", state)
		assert.Equal(t, ResultAdvance, r.Kind)
		assert.Equal(t, "next", r.Next)
		assert.Equal(t, state, r.State)
		assert.False(t, r.IsTerminal())
		assert.False(t, r.IsZero())
	})

	t.Run("finish", func(t *testing.T) {
		r := Finish(state)
		assert.Equal(t, ResultAdvance, r.Kind)
		assert.Empty(t, r.Next)
		assert.True(t, r.IsTerminal())
	})

	t.Run("wait", func(t *testing.T) {
		r := Wait(map[string]any{"reason": "approval"})
		assert.Equal(t, ResultSuspend, r.Kind)
		assert.Equal(t, "approval", r.WaitInfo["reason"])
		assert.False(t, r.IsTerminal())
	})

	t.Run("fail", func(t *testing.T) {
		cause := errors.New("boom")
		r := Fail(cause)
		assert.Equal(t, ResultFail, r.Kind)
		assert.Same(t, cause, r.Err)

		assert.Error(t, Fail(nil).Err, "nil errors still fail")
		assert.EqualError(t, Failf("code %d", 7).Err, "code 7")
	})

	t.Run("zero value", func(t *testing.T) {
		var r StepResult
		assert.True(t, r.IsZero())
		assert.False(t, r.IsTerminal())
		assert.Equal(t, "none", r.Kind.String())
	})
}

func TestResultKind_String(t *testing.T) {
	assert.Equal(t, "advance", ResultAdvance.String())
	assert.Equal(t, "suspend", ResultSuspend.String())
	assert.Equal(t, "fail", ResultFail.String())
}

func TestWorkflowError(t *testing.T) {
	inst := &Instance{ID: "inst-1", Status: StatusWaiting, CurrentStep: "review"}
	err := InvalidStateError(inst, StatusRunning)

	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.False(t, errors.Is(err, ErrInstanceNotFound))
	assert.Equal(t, "inst-1", err.InstanceID)
	assert.Equal(t, StatusWaiting, err.Status)
	assert.Equal(t, "review", err.Step)
	assert.Contains(t, err.Error(), "instance is waiting, expected running")
	assert.Contains(t, err.Error(), "step: review")
}

func TestWorkflowError_Wrapping(t *testing.T) {
	cause := errors.New("disk full")
	err := NewWorkflowError(ErrCodeExecutionFailed, "step failed").
		WithStep("store").
		WithCause(cause).
		WithDetails(map[string]any{"attempts": 3})

	assert.True(t, errors.Is(err, ErrStepExecution))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, 3, err.Details["attempts"])
	assert.Equal(t, "[STEP_EXECUTION_FAILED] step failed (step: store)", err.Error())

	wrapped := errors.Join(errors.New("outer"), err)
	var wfErr *WorkflowError
	assert.True(t, errors.As(wrapped, &wfErr))
	assert.Equal(t, "store", wfErr.Step)
}

func TestNotFoundError(t *testing.T) {
	err := NotFoundError("missing")
	assert.True(t, errors.Is(err, ErrInstanceNotFound))
	assert.Equal(t, "missing", err.InstanceID)
}

func TestToStepError(t *testing.T) {
	assert.Nil(t, ToStepError(nil, 1))

	se := ToStepError(errors.New("plain"), 2)
	assert.Equal(t, ErrCodeExecutionFailed, se.Code)
	assert.Equal(t, 2, se.Attempt)

	timeout := ToStepError(TimeoutError("slow", 0), 1)
	assert.Equal(t, ErrCodeTimeout, timeout.Code)
	assert.True(t, IsTimeoutError(timeout))
	assert.True(t, IsTimeoutError(TimeoutError("slow", 0)))

	original := NewStepError(ErrCodePanic, "panicked", 3)
	assert.Same(t, original, ToStepError(original, 9))
	assert.Equal(t, "[PANIC] panicked (attempt: 3)", original.Error())
}

func TestIsConcurrencyError(t *testing.T) {
	err := NewWorkflowError(ErrCodeConcurrency, "too many")
	assert.True(t, IsConcurrencyError(err))
	assert.False(t, IsConcurrencyError(errors.New("other")))
}

func TestExistsError(t *testing.T) {
	err := ExistsError("order-1")
	assert.True(t, errors.Is(err, ErrInstanceExists))
	assert.False(t, errors.Is(err, ErrInstanceNotFound))
	assert.Equal(t, "order-1", err.InstanceID)
	assert.Equal(t, "[INSTANCE_EXISTS] instance order-1 already exists (instance: order-1)", err.Error())

	wrapped := fmt.Errorf("failed to create instance: %w", err)
	assert.True(t, errors.Is(wrapped, ErrInstanceExists))
}
