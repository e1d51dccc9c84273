package builder

import (
	"fmt"
	"strings"

	"github.com/sicko7947/waitflow"
)

// ValidateDefinition performs comprehensive validation on a definition
func ValidateDefinition(d *waitflow.Definition) error {
	if d.Name() == "" {
		return fmt.Errorf("workflow has no name")
	}

	if len(d.Steps()) == 0 {
		return fmt.Errorf("workflow %s has no steps", d.Name())
	}

	if err := ValidateGraph(d.Graph()); err != nil {
		return fmt.Errorf("invalid workflow graph: %w", err)
	}

	if err := ValidateStepReferences(d); err != nil {
		return err
	}

	if err := ValidateReachability(d.Graph()); err != nil {
		return err
	}

	return ValidateConfig(d.Config())
}

// ValidateGraph validates the step graph structure
func ValidateGraph(graph *waitflow.StepGraph) error {
	return graph.Validate()
}

// ValidateReachability ensures every step can be reached from the entry
// point. Steps without declared transitions may goto anything, so their
// presence on a path makes every step reachable.
func ValidateReachability(graph *waitflow.StepGraph) error {
	if graph.EntryPoint == "" {
		return fmt.Errorf("no entry point set")
	}

	if unreachable := graph.Unreachable(); len(unreachable) > 0 {
		return fmt.Errorf("steps not reachable from %s: %s", graph.EntryPoint, strings.Join(unreachable, ", "))
	}

	return nil
}

// ValidateStepReferences ensures every graph node has a step function
func ValidateStepReferences(d *waitflow.Definition) error {
	for step := range d.Graph().Nodes {
		if !d.HasStep(step) {
			return fmt.Errorf("step %s referenced in graph but not registered", step)
		}
	}
	return nil
}

// ValidateConfig rejects configs the engine cannot run with
func ValidateConfig(c waitflow.Config) error {
	if c.RetryDelayMs < 0 {
		return fmt.Errorf("retry delay must not be negative")
	}
	if c.StepTimeoutMs < 0 {
		return fmt.Errorf("step timeout must not be negative")
	}
	if c.MaxConcurrentInstances < 0 {
		return fmt.Errorf("max concurrent instances must not be negative")
	}

	switch c.RetryBackoff {
	case waitflow.BackoffLinear, waitflow.BackoffExponential, waitflow.BackoffNone:
	default:
		return fmt.Errorf("unknown backoff strategy %q", c.RetryBackoff)
	}

	return nil
}
