package waitflow

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ErrDefinitionSealed is returned when a sealed definition is modified
var ErrDefinitionSealed = errors.New("definition is sealed")

// Definition is the blueprint of a workflow: a dispatch table from step name
// to StepFunc plus execution config. Build one with the builder package.
// Building or registering seals it; a sealed definition is read-only and
// shared by every instance.
type Definition struct {
	name        string
	description string
	version     string

	// Steps registered by name, in registration order
	steps map[string]StepFunc
	order []string

	graph *StepGraph

	config Config

	tags      map[string]string
	createdAt time.Time

	sealed atomic.Bool
}

// NewDefinition creates an empty definition
func NewDefinition(name string) *Definition {
	return &Definition{
		name:      name,
		version:   "1.0",
		steps:     make(map[string]StepFunc),
		graph:     NewStepGraph(),
		config:    DefaultConfig,
		tags:      make(map[string]string),
		createdAt: time.Now(),
	}
}

// Name returns the definition name
func (d *Definition) Name() string {
	return d.name
}

// Description returns the definition description
func (d *Definition) Description() string {
	return d.description
}

// Version returns the definition version
func (d *Definition) Version() string {
	return d.version
}

// Graph returns a copy of the step graph
func (d *Definition) Graph() *StepGraph {
	return d.graph.Clone()
}

// CanTransition reports whether from may goto to
func (d *Definition) CanTransition(from, to string) bool {
	return d.graph.CanTransition(from, to)
}

// EntryStep returns the step new instances start at
func (d *Definition) EntryStep() string {
	return d.graph.EntryPoint
}

// Step resolves a step by name
func (d *Definition) Step(name string) (StepFunc, error) {
	step, exists := d.steps[name]
	if !exists {
		return nil, fmt.Errorf("step %s not found in definition %s", name, d.name)
	}
	return step, nil
}

// HasStep reports whether the step is defined
func (d *Definition) HasStep(name string) bool {
	_, ok := d.steps[name]
	return ok
}

// Steps returns the step names in registration order
func (d *Definition) Steps() []string {
	return append([]string{}, d.order...)
}

// Config returns the execution config
func (d *Definition) Config() Config {
	return d.config
}

// Tags returns a copy of the definition tags
func (d *Definition) Tags() map[string]string {
	out := make(map[string]string, len(d.tags))
	for k, v := range d.tags {
		out[k] = v
	}
	return out
}

// Seal makes the definition read-only. Sealing twice is a no-op.
func (d *Definition) Seal() {
	d.sealed.Store(true)
}

// Sealed reports whether the definition is read-only
func (d *Definition) Sealed() bool {
	return d.sealed.Load()
}

func (d *Definition) checkMutable() error {
	if d.sealed.Load() {
		return fmt.Errorf("%w: %s", ErrDefinitionSealed, d.name)
	}
	return nil
}

// SetDescription sets the definition description
func (d *Definition) SetDescription(description string) error {
	if err := d.checkMutable(); err != nil {
		return err
	}
	d.description = description
	return nil
}

// SetVersion sets the definition version
func (d *Definition) SetVersion(version string) error {
	if err := d.checkMutable(); err != nil {
		return err
	}
	d.version = version
	return nil
}

// SetConfig sets the execution config
func (d *Definition) SetConfig(config Config) error {
	if err := d.checkMutable(); err != nil {
		return err
	}
	d.config = config
	return nil
}

// SetTags sets the definition tags
func (d *Definition) SetTags(tags map[string]string) error {
	if err := d.checkMutable(); err != nil {
		return err
	}
	d.tags = make(map[string]string, len(tags))
	for k, v := range tags {
		d.tags[k] = v
	}
	return nil
}

// AddStep registers a step; registering the same name twice replaces the
// function but keeps the original position
func (d *Definition) AddStep(name string, fn StepFunc) error {
	if err := d.checkMutable(); err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("step name is empty")
	}
	if fn == nil {
		return fmt.Errorf("step %s has no function", name)
	}

	if _, exists := d.steps[name]; !exists {
		d.order = append(d.order, name)
	}
	d.steps[name] = fn
	d.graph.AddNode(name)
	return nil
}

// AddTransition declares that from may goto to. Once a step declares a
// transition, gotos to undeclared steps are contract violations.
func (d *Definition) AddTransition(from, to string) error {
	if err := d.checkMutable(); err != nil {
		return err
	}
	return d.graph.AddEdge(from, to)
}

// SetEntryStep sets the step new instances start at
func (d *Definition) SetEntryStep(step string) error {
	if err := d.checkMutable(); err != nil {
		return err
	}
	return d.graph.SetEntryPoint(step)
}
