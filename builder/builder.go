package builder

import (
	"errors"
	"fmt"

	"github.com/sicko7947/waitflow"
)

// WorkflowBuilder provides a fluent API for building definitions
type WorkflowBuilder struct {
	definition  *waitflow.Definition
	lastStepIDs []string
	errs        []error
}

// NewWorkflow creates a new definition builder
func NewWorkflow(name string) *WorkflowBuilder {
	return &WorkflowBuilder{
		definition:  waitflow.NewDefinition(name),
		lastStepIDs: []string{},
	}
}

// WithDescription sets the definition description
func (b *WorkflowBuilder) WithDescription(description string) *WorkflowBuilder {
	b.record(b.definition.SetDescription(description))
	return b
}

// WithVersion sets the definition version
func (b *WorkflowBuilder) WithVersion(version string) *WorkflowBuilder {
	b.record(b.definition.SetVersion(version))
	return b
}

// WithConfig replaces the execution config
func (b *WorkflowBuilder) WithConfig(config waitflow.Config) *WorkflowBuilder {
	b.record(b.definition.SetConfig(config))
	return b
}

// WithOptions adjusts the current execution config
func (b *WorkflowBuilder) WithOptions(opts ...waitflow.Option) *WorkflowBuilder {
	config := b.definition.Config()
	for _, opt := range opts {
		opt(&config)
	}
	b.record(b.definition.SetConfig(config))
	return b
}

// WithTags sets definition tags
func (b *WorkflowBuilder) WithTags(tags map[string]string) *WorkflowBuilder {
	b.record(b.definition.SetTags(tags))
	return b
}

// Step registers a step without declaring transitions; it may goto any
// step of the definition. The first step registered is the entry point.
func (b *WorkflowBuilder) Step(name string, fn waitflow.StepFunc) *WorkflowBuilder {
	if name == "" {
		b.errs = append(b.errs, fmt.Errorf("step name is empty"))
		return b
	}
	if fn == nil {
		b.errs = append(b.errs, fmt.Errorf("step %s has no function", name))
		return b
	}
	if b.definition.HasStep(name) {
		b.errs = append(b.errs, fmt.Errorf("step %s registered twice", name))
		return b
	}

	if err := b.definition.AddStep(name, fn); err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	b.lastStepIDs = []string{name}
	return b
}

// ThenStep registers a step and declares a transition to it from the last
// added step(s)
func (b *WorkflowBuilder) ThenStep(name string, fn waitflow.StepFunc) *WorkflowBuilder {
	previous := b.lastStepIDs
	b.Step(name, fn)
	if !b.definition.HasStep(name) {
		return b
	}

	for _, lastID := range previous {
		if lastID == name {
			continue
		}
		b.Transition(lastID, name)
	}
	return b
}

// Sequence chains steps in registration order
func (b *WorkflowBuilder) Sequence(steps ...NamedStep) *WorkflowBuilder {
	for _, s := range steps {
		b.ThenStep(s.Name, s.Fn)
	}
	return b
}

// Transition declares that from may goto each of to. Once a step declares
// a transition, gotos to undeclared steps are contract violations.
func (b *WorkflowBuilder) Transition(from string, to ...string) *WorkflowBuilder {
	for _, target := range to {
		if err := b.definition.AddTransition(from, target); err != nil {
			b.errs = append(b.errs, fmt.Errorf("failed to add transition: %w", err))
		}
	}
	return b
}

// SetEntryPoint sets the entry step explicitly
func (b *WorkflowBuilder) SetEntryPoint(name string) *WorkflowBuilder {
	if err := b.definition.SetEntryStep(name); err != nil {
		b.errs = append(b.errs, fmt.Errorf("failed to set entry point: %w", err))
	}
	return b
}

func (b *WorkflowBuilder) record(err error) {
	if err != nil {
		b.errs = append(b.errs, err)
	}
}

// Build validates and seals the definition. The builder must not be used
// afterwards.
func (b *WorkflowBuilder) Build() (*waitflow.Definition, error) {
	if len(b.errs) > 0 {
		return nil, fmt.Errorf("invalid workflow %s: %w", b.definition.Name(), errors.Join(b.errs...))
	}

	if err := ValidateDefinition(b.definition); err != nil {
		return nil, err
	}

	b.definition.Seal()
	return b.definition, nil
}

// MustBuild finalizes and validates the definition, panics on error
func (b *WorkflowBuilder) MustBuild() *waitflow.Definition {
	def, err := b.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build workflow: %v", err))
	}
	return def
}

// NamedStep pairs a step function with its name for Sequence
type NamedStep struct {
	Name string
	Fn   waitflow.StepFunc
}

// S is shorthand for a NamedStep
func S(name string, fn waitflow.StepFunc) NamedStep {
	return NamedStep{Name: name, Fn: fn}
}
