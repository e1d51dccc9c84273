package engine

import (
	"fmt"

	"github.com/sicko7947/waitflow"
)

// StepTraverser validates the transitions a step result asks for against
// the definition's step graph
type StepTraverser struct {
	def *waitflow.Definition
}

// NewStepTraverser creates a traverser for def
func NewStepTraverser(def *waitflow.Definition) *StepTraverser {
	return &StepTraverser{def: def}
}

// Check returns a contract violation when result leaves from for a step the
// definition does not have, or one its declared transitions exclude
func (t *StepTraverser) Check(from string, result waitflow.StepResult) *waitflow.WorkflowError {
	if result.Kind != waitflow.ResultAdvance || result.Next == "" {
		return nil
	}

	if !t.def.HasStep(result.Next) {
		return contractError(from, fmt.Sprintf("goto unknown step %s", result.Next))
	}

	if !t.def.CanTransition(from, result.Next) {
		return contractError(from, fmt.Sprintf("transition %s -> %s is not declared", from, result.Next))
	}

	return nil
}
