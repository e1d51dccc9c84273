package approval

import (
	"fmt"
	"time"

	"github.com/sicko7947/waitflow"
	"github.com/sicko7947/waitflow/builder"
)

// Options configures the approval workflow
type Options struct {
	Decider      Decider
	InitialDelay Delay
	FinalDelay   Delay
	Config       waitflow.Config
}

// Option mutates Options
type Option func(*Options)

// WithDecider replaces the random approval decisions
func WithDecider(d Decider) Option {
	return func(o *Options) {
		o.Decider = d
	}
}

// WithDelays sets the simulated review times
func WithDelays(initial, final Delay) Option {
	return func(o *Options) {
		o.InitialDelay = initial
		o.FinalDelay = final
	}
}

// WithConfig overrides the execution config
func WithConfig(cfg waitflow.Config) Option {
	return func(o *Options) {
		o.Config = cfg
	}
}

// DefaultOptions mirrors a human review pace
func DefaultOptions() Options {
	return Options{
		Decider:      RandomDecider{},
		InitialDelay: Delay{Min: 3 * time.Second, Max: 5 * time.Second},
		FinalDelay:   Delay{Min: 2 * time.Second, Max: 4 * time.Second},
		Config: waitflow.Config{
			MaxRetries:             3,
			RetryDelayMs:           5000,
			RetryBackoff:           waitflow.BackoffLinear,
			StepTimeoutMs:          300000,
			MaxConcurrentInstances: 10,
		},
	}
}

// NewApprovalWorkflow builds the two-stage equipment approval:
//
//	initialApproval -> waitForUserChoice -> finalApproval -> end
//	initialApproval -> end (denied)
func NewApprovalWorkflow(opts ...Option) (*waitflow.Definition, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.Decider == nil {
		o.Decider = RandomDecider{}
	}

	r := &reviewer{
		decider:      o.Decider,
		initialDelay: o.InitialDelay,
		finalDelay:   o.FinalDelay,
	}

	def, err := builder.NewWorkflow(DefinitionName).
		WithDescription("Two-stage equipment approval with a user choice in between").
		WithVersion("1.0").
		WithConfig(o.Config).
		WithTags(map[string]string{"type": "approval"}).
		Step(StepInitialApproval, r.initialApproval).
		Step(StepWaitForUserChoice, r.waitForUserChoice).
		Step(StepFinalApproval, r.finalApproval).
		Step(StepEnd, r.end).
		Transition(StepInitialApproval, StepWaitForUserChoice, StepEnd).
		Transition(StepWaitForUserChoice, StepFinalApproval).
		Transition(StepFinalApproval, StepEnd).
		SetEntryPoint(StepInitialApproval).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build approval workflow: %w", err)
	}

	return def, nil
}
