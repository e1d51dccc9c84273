package waitflow

import (
	"errors"
	"fmt"
	"time"
)

// Error codes
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeNotFound           = "INSTANCE_NOT_FOUND"
	ErrCodeInstanceExists     = "INSTANCE_EXISTS"
	ErrCodeDefinitionNotFound = "DEFINITION_NOT_FOUND"
	ErrCodeInvalidState       = "INVALID_STATE"
	ErrCodeConcurrency        = "CONCURRENCY_LIMIT"
	ErrCodeExecutionFailed    = "STEP_EXECUTION_FAILED"
	ErrCodeTimeout            = "TIMEOUT"
	ErrCodePanic              = "PANIC"
	ErrCodeContract           = "STEP_CONTRACT_VIOLATION"
	ErrCodeConditionFailed    = "CONDITION_FAILED"
	ErrCodeInternalError      = "INTERNAL_ERROR"
)

// Sentinels for errors.Is; WorkflowError matches them by code
var (
	ErrInstanceNotFound         = &WorkflowError{Code: ErrCodeNotFound, Message: "instance not found"}
	ErrInstanceExists           = &WorkflowError{Code: ErrCodeInstanceExists, Message: "instance already exists"}
	ErrDefinitionNotFound       = &WorkflowError{Code: ErrCodeDefinitionNotFound, Message: "definition not found"}
	ErrInvalidState             = &WorkflowError{Code: ErrCodeInvalidState, Message: "instance is not in the expected state"}
	ErrConcurrencyLimitExceeded = &WorkflowError{Code: ErrCodeConcurrency, Message: "concurrency limit exceeded"}
	ErrStepExecution            = &WorkflowError{Code: ErrCodeExecutionFailed, Message: "step execution failed"}
	ErrContractViolation        = &WorkflowError{Code: ErrCodeContract, Message: "step contract violation"}
	ErrConditionFailed          = &WorkflowError{Code: ErrCodeConditionFailed, Message: "conditional update failed"}
)

// WorkflowError is the structured error returned by engine operations
type WorkflowError struct {
	Message    string         `json:"message" dynamodbav:"message"`
	Code       string         `json:"code" dynamodbav:"code"`
	InstanceID string         `json:"instanceId,omitempty" dynamodbav:"instance_id,omitempty"`
	Status     Status         `json:"status,omitempty" dynamodbav:"status,omitempty"`
	Step       string         `json:"step,omitempty" dynamodbav:"step,omitempty"`
	Timestamp  time.Time      `json:"timestamp" dynamodbav:"timestamp"`
	Details    map[string]any `json:"details,omitempty" dynamodbav:"details,omitempty"`

	cause error
}

// Error implements the error interface
func (e *WorkflowError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.InstanceID != "" {
		msg += fmt.Sprintf(" (instance: %s", e.InstanceID)
		if e.Status != "" {
			msg += fmt.Sprintf(", status: %s", e.Status)
		}
		if e.Step != "" {
			msg += fmt.Sprintf(", step: %s", e.Step)
		}
		msg += ")"
	} else if e.Step != "" {
		msg += fmt.Sprintf(" (step: %s)", e.Step)
	}
	return msg
}

// Is matches any WorkflowError with the same code
func (e *WorkflowError) Is(target error) bool {
	var t *WorkflowError
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// Unwrap returns the underlying cause
func (e *WorkflowError) Unwrap() error {
	return e.cause
}

// NewWorkflowError creates a new workflow error
func NewWorkflowError(code, message string) *WorkflowError {
	return &WorkflowError{
		Message:   message,
		Code:      code,
		Timestamp: time.Now().UTC(),
	}
}

// WithInstance attaches instance diagnostics
func (e *WorkflowError) WithInstance(inst *Instance) *WorkflowError {
	if inst != nil {
		e.InstanceID = inst.ID
		e.Status = inst.Status
		e.Step = inst.CurrentStep
	}
	return e
}

// WithStep sets the step the error occurred in
func (e *WorkflowError) WithStep(step string) *WorkflowError {
	e.Step = step
	return e
}

// WithCause sets the wrapped error
func (e *WorkflowError) WithCause(err error) *WorkflowError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *WorkflowError) WithDetails(details map[string]any) *WorkflowError {
	e.Details = details
	return e
}

// NotFoundError builds an InstanceNotFound error for id
func NotFoundError(id string) *WorkflowError {
	e := NewWorkflowError(ErrCodeNotFound, "instance not found")
	e.InstanceID = id
	return e
}

// ExistsError builds an InstanceExists error for id
func ExistsError(id string) *WorkflowError {
	e := NewWorkflowError(ErrCodeInstanceExists, fmt.Sprintf("instance %s already exists", id))
	e.InstanceID = id
	return e
}

// InvalidStateError builds an InvalidState error from the instance snapshot
func InvalidStateError(inst *Instance, expected Status) *WorkflowError {
	return NewWorkflowError(ErrCodeInvalidState,
		fmt.Sprintf("instance is %s, expected %s", inst.Status, expected)).
		WithInstance(inst)
}

// StepError captures a single failed step attempt
type StepError struct {
	Message   string    `json:"message" dynamodbav:"message"`
	Code      string    `json:"code" dynamodbav:"code"`
	Timestamp time.Time `json:"timestamp" dynamodbav:"timestamp"`
	Attempt   int       `json:"attempt" dynamodbav:"attempt"`
}

// Error implements the error interface
func (e *StepError) Error() string {
	return fmt.Sprintf("[%s] %s (attempt: %d)", e.Code, e.Message, e.Attempt)
}

// NewStepError creates a new step error
func NewStepError(code, message string, attempt int) *StepError {
	return &StepError{
		Message:   message,
		Code:      code,
		Timestamp: time.Now().UTC(),
		Attempt:   attempt,
	}
}

// ToStepError converts a Go error into a StepError
func ToStepError(err error, attempt int) *StepError {
	if err == nil {
		return nil
	}

	var se *StepError
	if errors.As(err, &se) {
		return se
	}

	if errors.Is(err, errStepTimeout) {
		return NewStepError(ErrCodeTimeout, err.Error(), attempt)
	}

	return NewStepError(ErrCodeExecutionFailed, err.Error(), attempt)
}

var errStepTimeout = errors.New("step timed out")

// TimeoutError builds the error recorded for an attempt that exceeded its timeout
func TimeoutError(step string, timeout time.Duration) error {
	return fmt.Errorf("%w: %s exceeded %s", errStepTimeout, step, timeout)
}

// IsConcurrencyError checks if an error is a concurrency limit error
func IsConcurrencyError(err error) bool {
	return errors.Is(err, ErrConcurrencyLimitExceeded)
}

// IsTimeoutError checks if an error is a step timeout
func IsTimeoutError(err error) bool {
	if errors.Is(err, errStepTimeout) {
		return true
	}
	var se *StepError
	if errors.As(err, &se) {
		return se.Code == ErrCodeTimeout
	}
	return false
}
