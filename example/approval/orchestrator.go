package approval

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sicko7947/waitflow"
	"github.com/sicko7947/waitflow/engine"
)

// ErrInvalidChoice is returned for a configuration that is not offered
var ErrInvalidChoice = errors.New("invalid configuration choice")

// Orchestrator drives approval instances on an engine
type Orchestrator struct {
	definition *waitflow.Definition
	engine     *engine.Engine
	logger     zerolog.Logger
}

// NewOrchestrator builds the approval workflow and registers it with eng
func NewOrchestrator(eng *engine.Engine, logger zerolog.Logger, opts ...Option) (*Orchestrator, error) {
	def, err := NewApprovalWorkflow(opts...)
	if err != nil {
		return nil, err
	}

	if err := eng.Register(def); err != nil {
		return nil, fmt.Errorf("failed to register approval workflow: %w", err)
	}

	return &Orchestrator{
		definition: def,
		engine:     eng,
		logger:     logger.With().Str("workflow", DefinitionName).Logger(),
	}, nil
}

// Definition returns the registered approval definition
func (o *Orchestrator) Definition() *waitflow.Definition {
	return o.definition
}

// Submit starts an approval and runs it until it waits for the user's
// choice or ends with a denial
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*waitflow.Instance, error) {
	inst, err := o.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	return o.Run(ctx, inst.ID)
}

// Create validates the application and admits an approval instance without
// running it. Concurrency limits and taken workflow ids are reported here.
func (o *Orchestrator) Create(ctx context.Context, req SubmitRequest) (*waitflow.Instance, error) {
	if err := req.Validate(); err != nil {
		return nil, waitflow.NewWorkflowError(waitflow.ErrCodeValidation, err.Error())
	}

	app := req.Application()
	state := waitflow.State{
		KeyUserID:   req.UserID,
		KeyUserName: req.UserName,
		KeyApplication: map[string]any{
			"item":           app.Item,
			"justification":  app.Justification,
			"specifications": app.Specifications,
		},
		KeyApprovalChance:  DefaultApprovalChance,
		KeyApprovalHistory: []any{},
	}

	startOpts := []waitflow.StartOption{
		waitflow.WithTags(map[string]string{
			"type":   "approval",
			"userId": req.UserID,
		}),
	}
	if req.WorkflowID != "" {
		startOpts = append(startOpts, waitflow.WithInstanceID(req.WorkflowID))
	}

	o.logger.Info().
		Str("user_id", req.UserID).
		Str("item", app.Item).
		Msg("Submitting application")

	inst, err := o.engine.Create(ctx, o.definition, state, startOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create approval: %w", err)
	}

	return inst, nil
}

// Run processes a created approval until it waits for the user's choice or
// ends with a denial
func (o *Orchestrator) Run(ctx context.Context, instanceID string) (*waitflow.Instance, error) {
	inst, err := o.engine.Run(ctx, instanceID)
	if err != nil {
		return inst, fmt.Errorf("failed to start approval: %w", err)
	}

	o.logger.Info().
		Str("instance_id", inst.ID).
		Str("status", string(inst.Status)).
		Msg("Application processed")

	return inst, nil
}

// Choose records the user's configuration and resumes the instance
func (o *Orchestrator) Choose(ctx context.Context, instanceID, choice string) (*waitflow.Instance, error) {
	if !ValidChoice(choice) {
		return nil, waitflow.NewWorkflowError(waitflow.ErrCodeValidation,
			fmt.Sprintf("%s: %q", ErrInvalidChoice, choice)).WithCause(ErrInvalidChoice)
	}

	o.logger.Info().
		Str("instance_id", instanceID).
		Str("choice", choice).
		Msg("Configuration chosen")

	inst, err := o.engine.UpdateState(ctx, instanceID, map[string]any{
		KeyUserChoice:     choice,
		KeyApprovalChance: choiceChances[choice],
	}, true)
	if err != nil {
		return inst, fmt.Errorf("failed to apply choice: %w", err)
	}

	return inst, nil
}

// GetState returns the current snapshot of an approval
func (o *Orchestrator) GetState(ctx context.Context, instanceID string) (*waitflow.Instance, error) {
	return o.engine.GetInstance(ctx, instanceID)
}

// List returns the most recent approvals, newest first
func (o *Orchestrator) List(ctx context.Context, limit int) ([]*waitflow.Instance, error) {
	return o.engine.ListInstances(ctx, waitflow.InstanceFilter{
		DefinitionName: DefinitionName,
		Limit:          limit,
	})
}

// Result decodes the final result of an ended approval
func Result(inst *waitflow.Instance) (FinalResult, bool) {
	res, err := waitflow.GetTyped[FinalResult](inst.State, KeyFinalResult)
	if err != nil {
		return FinalResult{}, false
	}
	return res, true
}

// History decodes the domain events recorded in an approval's state
func History(inst *waitflow.Instance) []HistoryEvent {
	events, err := waitflow.GetTyped[[]HistoryEvent](inst.State, KeyApprovalHistory)
	if err != nil {
		return nil
	}
	return events
}
