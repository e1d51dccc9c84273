package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sicko7947/waitflow"
)

// Engine drives workflow instances through their steps
type Engine struct {
	store     waitflow.InstanceStore
	logger    zerolog.Logger
	config    EngineConfig
	publisher waitflow.EventPublisher

	mu          sync.RWMutex
	definitions map[string]*waitflow.Definition

	// instances serializes same-instance calls; admission serializes Start
	// per definition so the concurrency cap cannot be overshot in-process
	instances *keyedMutex
	admission *keyedMutex
}

// EngineConfig holds engine configuration
type EngineConfig struct {
	// Instances resumed in parallel by ContinueAllTimedOut
	SweepConcurrency int
}

// DefaultEngineConfig provides sensible defaults
var DefaultEngineConfig = EngineConfig{
	SweepConcurrency: 4,
}

// EngineOption configures the workflow engine
type EngineOption func(*Engine)

// WithLogger sets a custom logger for the engine
func WithLogger(logger zerolog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithConfig sets a custom configuration for the engine
func WithConfig(config EngineConfig) EngineOption {
	return func(e *Engine) {
		e.config = config
	}
}

// WithPublisher sends lifecycle events, and events published by steps, to
// path on the given channel publisher, scoped to {instanceId: id}
func WithPublisher(pub ChannelPublisher, path string) EngineOption {
	return func(e *Engine) {
		e.publisher = NewChannelPublisher(pub, path)
	}
}

// WithEventPublisher installs a custom instance event publisher
func WithEventPublisher(pub waitflow.EventPublisher) EngineOption {
	return func(e *Engine) {
		e.publisher = pub
	}
}

// NewEngine creates a new workflow engine with optional configuration.
// If no logger is provided, a default stdout logger with Info level is used.
// If no config is provided, DefaultEngineConfig is used.
func NewEngine(store waitflow.InstanceStore, opts ...EngineOption) *Engine {
	// Default logger: pretty console output, Info level
	defaultLogger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger().
		Level(zerolog.InfoLevel)

	eng := &Engine{
		store:       store,
		logger:      defaultLogger,
		config:      DefaultEngineConfig,
		definitions: make(map[string]*waitflow.Definition),
		instances:   newKeyedMutex(),
		admission:   newKeyedMutex(),
	}

	// Apply options
	for _, opt := range opts {
		opt(eng)
	}

	return eng
}

// Register adds a definition to the dispatch table and seals it. Names are
// unique.
func (e *Engine) Register(def *waitflow.Definition) error {
	if def == nil {
		return waitflow.NewWorkflowError(waitflow.ErrCodeValidation, "definition is nil")
	}
	if def.Name() == "" {
		return waitflow.NewWorkflowError(waitflow.ErrCodeValidation, "definition has no name")
	}
	if !def.HasStep(def.EntryStep()) {
		return waitflow.NewWorkflowError(waitflow.ErrCodeValidation,
			fmt.Sprintf("definition %s has no entry step", def.Name()))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.definitions[def.Name()]; ok && existing != def {
		return waitflow.NewWorkflowError(waitflow.ErrCodeValidation,
			fmt.Sprintf("definition %s already registered", def.Name()))
	}
	def.Seal()
	e.definitions[def.Name()] = def

	e.logger.Debug().
		Str("definition", def.Name()).
		Strs("steps", def.Steps()).
		Msg("Definition registered")

	return nil
}

// Definition looks up a registered definition
func (e *Engine) Definition(name string) (*waitflow.Definition, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	def, ok := e.definitions[name]
	if !ok {
		err := waitflow.NewWorkflowError(waitflow.ErrCodeDefinitionNotFound,
			fmt.Sprintf("definition %s not registered", name))
		return nil, err
	}
	return def, nil
}

// Definitions returns the registered definitions sorted by name
func (e *Engine) Definitions() []*waitflow.Definition {
	e.mu.RLock()
	defer e.mu.RUnlock()

	defs := make([]*waitflow.Definition, 0, len(e.definitions))
	for _, def := range e.definitions {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name() < defs[j].Name() })
	return defs
}

// Start creates an instance of def and runs it until the first suspension
// or terminal state. The returned snapshot may be waiting. Starting is
// rejected with ErrConcurrencyLimitExceeded while the definition has
// MaxConcurrentInstances created, running or waiting instances.
func (e *Engine) Start(
	ctx context.Context,
	def *waitflow.Definition,
	initialState waitflow.State,
	opts ...waitflow.StartOption,
) (*waitflow.Instance, error) {
	inst, err := e.Create(ctx, def, initialState, opts...)
	if err != nil {
		return nil, err
	}

	unlock := e.instances.Lock(inst.ID)
	defer unlock()

	return e.startCreated(ctx, def, inst)
}

// Create admits an instance of def and persists it as created without
// running it. Admission errors are the same as Start's; a taken instance id
// is rejected with ErrInstanceExists. Hand the id to Run to execute it.
func (e *Engine) Create(
	ctx context.Context,
	def *waitflow.Definition,
	initialState waitflow.State,
	opts ...waitflow.StartOption,
) (*waitflow.Instance, error) {
	if err := e.Register(def); err != nil {
		return nil, err
	}

	// Apply options
	options := &waitflow.StartOptions{}
	for _, opt := range opts {
		opt(options)
	}

	return e.admit(ctx, def, initialState, options)
}

// Run executes a created instance until the first suspension or terminal
// state. Instances past created are rejected with ErrInvalidState.
func (e *Engine) Run(ctx context.Context, instanceID string) (*waitflow.Instance, error) {
	unlock := e.instances.Lock(instanceID)
	defer unlock()

	inst, err := e.store.GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.Status != waitflow.StatusCreated {
		return nil, waitflow.InvalidStateError(inst, waitflow.StatusCreated)
	}

	def, err := e.Definition(inst.DefinitionName)
	if err != nil {
		return nil, err
	}

	return e.startCreated(ctx, def, inst)
}

// startCreated moves a created instance to running and runs it. The caller
// holds the instance lock.
func (e *Engine) startCreated(ctx context.Context, def *waitflow.Definition, inst *waitflow.Instance) (*waitflow.Instance, error) {
	cond := waitflow.ExpectCurrent(inst)
	inst.Status = waitflow.StatusRunning
	inst.Append(waitflow.HistoryInstanceStarted, inst.CurrentStep, 0, nil)
	if err := e.save(ctx, inst, cond); err != nil {
		return nil, err
	}

	waitflow.LogInstanceStarted(e.logger, inst.ID, def.Name(), inst.CurrentStep)

	return e.run(ctx, def, inst)
}

// admit checks the concurrency cap and inserts the created instance
func (e *Engine) admit(
	ctx context.Context,
	def *waitflow.Definition,
	initialState waitflow.State,
	options *waitflow.StartOptions,
) (*waitflow.Instance, error) {
	unlock := e.admission.Lock(def.Name())
	defer unlock()

	limit := def.Config().MaxConcurrentInstances
	if limit > 0 {
		active, err := e.store.Count(ctx, def.Name(), waitflow.ActiveStatuses...)
		if err != nil {
			return nil, fmt.Errorf("failed to count active instances: %w", err)
		}
		if active >= limit {
			e.logger.Warn().
				Str("definition", def.Name()).
				Int("active", active).
				Int("limit", limit).
				Msg("Concurrency limit reached")
			return nil, waitflow.NewWorkflowError(waitflow.ErrCodeConcurrency,
				fmt.Sprintf("definition %s has %d active instances (limit %d)", def.Name(), active, limit)).
				WithDetails(map[string]any{"active": active, "limit": limit})
		}
	}

	id := options.InstanceID
	if id == "" {
		id = uuid.New().String()
	}

	now := time.Now().UTC()
	inst := &waitflow.Instance{
		ID:             id,
		DefinitionName: def.Name(),
		CurrentStep:    def.EntryStep(),
		Status:         waitflow.StatusCreated,
		State:          initialState.Clone(),
		Tags:           options.Tags,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	inst.Append(waitflow.HistoryInstanceCreated, "", 0, nil)

	if err := e.store.Insert(ctx, inst); err != nil {
		waitflow.LogPersistenceError(e.logger, inst.ID, "insert", err)
		return nil, fmt.Errorf("failed to create instance: %w", err)
	}

	return inst, nil
}

// Continue merges stateMerge into a waiting instance and re-runs its
// current step. Instances that are not waiting are rejected with
// ErrInvalidState and left untouched.
func (e *Engine) Continue(ctx context.Context, instanceID string, stateMerge map[string]any) (*waitflow.Instance, error) {
	unlock := e.instances.Lock(instanceID)
	defer unlock()

	inst, def, err := e.loadWaiting(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	return e.resume(ctx, def, inst, stateMerge)
}

// UpdateState merges stateMerge into a waiting instance. With
// continueAfter the instance is resumed as by Continue; otherwise it stays
// waiting and the change is recorded as state_updated.
func (e *Engine) UpdateState(ctx context.Context, instanceID string, stateMerge map[string]any, continueAfter bool) (*waitflow.Instance, error) {
	unlock := e.instances.Lock(instanceID)
	defer unlock()

	inst, def, err := e.loadWaiting(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	if continueAfter {
		return e.resume(ctx, def, inst, stateMerge)
	}

	cond := waitflow.ExpectCurrent(inst)
	inst.State = inst.State.Merge(stateMerge)
	inst.Append(waitflow.HistoryStateUpdated, inst.CurrentStep, 0, map[string]any{"keys": mergedKeys(stateMerge)})
	if err := e.save(ctx, inst, cond); err != nil {
		return nil, err
	}

	return inst, nil
}

func (e *Engine) loadWaiting(ctx context.Context, instanceID string) (*waitflow.Instance, *waitflow.Definition, error) {
	inst, err := e.store.GetByID(ctx, instanceID)
	if err != nil {
		return nil, nil, err
	}

	if inst.Status != waitflow.StatusWaiting {
		return nil, nil, waitflow.InvalidStateError(inst, waitflow.StatusWaiting)
	}

	def, err := e.Definition(inst.DefinitionName)
	if err != nil {
		return nil, nil, err
	}

	return inst, def, nil
}

// resume transitions a loaded waiting instance to running and runs it.
// The caller holds the instance lock.
func (e *Engine) resume(ctx context.Context, def *waitflow.Definition, inst *waitflow.Instance, stateMerge map[string]any) (*waitflow.Instance, error) {
	cond := waitflow.ExpectCurrent(inst)
	inst.State = inst.State.Merge(stateMerge)
	inst.Status = waitflow.StatusRunning
	inst.WaitInfo = nil
	inst.Append(waitflow.HistoryInstanceContinued, inst.CurrentStep, 0, map[string]any{"keys": mergedKeys(stateMerge)})
	if err := e.save(ctx, inst, cond); err != nil {
		return nil, err
	}

	waitflow.LogInstanceContinued(e.logger, inst.ID, inst.CurrentStep)

	return e.run(ctx, def, inst)
}

// GetInstance loads an instance snapshot
func (e *Engine) GetInstance(ctx context.Context, instanceID string) (*waitflow.Instance, error) {
	return e.store.GetByID(ctx, instanceID)
}

// ListInstances lists instances with filtering
func (e *Engine) ListInstances(ctx context.Context, filter waitflow.InstanceFilter) ([]*waitflow.Instance, error) {
	return e.store.Query(ctx, filter)
}

// save persists inst if the stored record still matches cond. A lost race
// surfaces as ErrInvalidState.
func (e *Engine) save(ctx context.Context, inst *waitflow.Instance, cond waitflow.UpdateCondition) error {
	inst.UpdatedAt = time.Now().UTC()

	err := e.store.Update(ctx, inst, cond)
	if err == nil {
		return nil
	}

	if errors.Is(err, waitflow.ErrConditionFailed) {
		e.logger.Warn().
			Str("instance_id", inst.ID).
			Str("expected_status", cond.Status.String()).
			Int64("expected_version", cond.Version).
			Msg("Instance changed concurrently")
		return waitflow.NewWorkflowError(waitflow.ErrCodeInvalidState,
			fmt.Sprintf("instance changed concurrently, expected %s", cond.Status)).
			WithInstance(inst).
			WithCause(err)
	}

	waitflow.LogPersistenceError(e.logger, inst.ID, "update", err)
	return fmt.Errorf("failed to persist instance %s: %w", inst.ID, err)
}

// publish sends an instance-scoped lifecycle event, if a publisher is set
func (e *Engine) publish(ctx context.Context, inst *waitflow.Instance, eventType string) {
	if e.publisher == nil {
		return
	}
	if _, err := e.publisher.PublishInstanceEvent(ctx, inst.ID, eventType, LifecycleEventData(inst)); err != nil {
		e.logger.Warn().
			Err(err).
			Str("instance_id", inst.ID).
			Str("event_type", eventType).
			Msg("Failed to publish lifecycle event")
	}
}

func mergedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
