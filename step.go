package waitflow

import "fmt"

// StepFunc is the user-defined function signature for step logic. It must
// be re-entrant: a suspended step is re-run from scratch on continue with the
// merged state and re-evaluates its suspend condition.
type StepFunc func(ctx *StepContext, state State) StepResult

// ResultKind tags what a step asked the engine to do next
type ResultKind int

const (
	resultNone ResultKind = iota
	ResultAdvance
	ResultSuspend
	ResultFail
)

// String returns the string representation
func (k ResultKind) String() string {
	switch k {
	case ResultAdvance:
		return "advance"
	case ResultSuspend:
		return "suspend"
	case ResultFail:
		return "fail"
	default:
		return "none"
	}
}

// StepResult is the value a step returns to the engine's execution loop.
// The zero value is a contract violation.
type StepResult struct {
	Kind     ResultKind
	Next     string
	State    State
	WaitInfo map[string]any
	Err      error
}

// Goto transitions to next and replaces the working state. An empty next
// finishes the instance.
func Goto(next string, newState State) StepResult {
	return StepResult{Kind: ResultAdvance, Next: next, State: newState}
}

// Finish completes the instance with the given state
func Finish(newState State) StepResult {
	return Goto("", newState)
}

// Wait suspends the instance at the current step until it is continued
func Wait(info map[string]any) StepResult {
	return StepResult{Kind: ResultSuspend, WaitInfo: info}
}

// Fail reports a retryable step failure
func Fail(err error) StepResult {
	if err == nil {
		err = fmt.Errorf("step failed")
	}
	return StepResult{Kind: ResultFail, Err: err}
}

// Failf is Fail with a formatted error
func Failf(format string, args ...any) StepResult {
	return Fail(fmt.Errorf(format, args...))
}

// IsZero reports whether the step returned without choosing an outcome
func (r StepResult) IsZero() bool {
	return r.Kind == resultNone
}

// IsTerminal reports whether the result ends the instance successfully
func (r StepResult) IsTerminal() bool {
	return r.Kind == ResultAdvance && r.Next == ""
}
