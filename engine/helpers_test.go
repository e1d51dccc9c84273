package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/sicko7947/waitflow"
	"github.com/sicko7947/waitflow/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, opts ...EngineOption) (*Engine, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	eng := NewEngine(st, append([]EngineOption{WithLogger(zerolog.Nop())}, opts...)...)
	return eng, st
}

func testConfig() waitflow.Config {
	return waitflow.Config{
		MaxRetries:             3,
		RetryDelayMs:           1,
		RetryBackoff:           waitflow.BackoffNone,
		StepTimeoutMs:          1000,
		MaxConcurrentInstances: 10,
	}
}

// choiceDefinition suspends in waitForUserChoice until userChoice is set,
// then finishes with finalResult
func choiceDefinition(name string) *waitflow.Definition {
	def := waitflow.NewDefinition(name)
	def.SetConfig(testConfig())
	def.AddStep("waitForUserChoice", func(ctx *waitflow.StepContext, state waitflow.State) waitflow.StepResult {
		choice, ok := state.String("userChoice")
		if !ok {
			return waitflow.Wait(map[string]any{"reason": "awaiting choice"})
		}
		return waitflow.Goto("finalize", state.Merge(map[string]any{"choice": choice}))
	})
	def.AddStep("finalize", func(ctx *waitflow.StepContext, state waitflow.State) waitflow.StepResult {
		choice, _ := state.String("choice")
		return waitflow.Finish(state.Merge(map[string]any{"finalResult": "ordered " + choice}))
	})
	return def
}

// singleStep builds a one-step definition around fn
func singleStep(name string, cfg waitflow.Config, fn waitflow.StepFunc) *waitflow.Definition {
	def := waitflow.NewDefinition(name)
	def.SetConfig(cfg)
	def.AddStep("only", fn)
	return def
}

// assertInvariants checks the current step and history invariants
func assertInvariants(t *testing.T, def *waitflow.Definition, inst *waitflow.Instance) {
	t.Helper()
	if inst.Status.IsTerminal() {
		assert.Empty(t, inst.CurrentStep, "terminal instance must have no current step")
	} else {
		assert.True(t, def.HasStep(inst.CurrentStep), "current step %q not defined", inst.CurrentStep)
	}

	status, step := waitflow.ReplayHistory(inst.History)
	assert.Equal(t, inst.Status, status, "replayed status")
	assert.Equal(t, inst.CurrentStep, step, "replayed current step")
}

func countHistory(inst *waitflow.Instance, entryType string) int {
	n := 0
	for _, h := range inst.History {
		if h.Type == entryType {
			n++
		}
	}
	return n
}

func mustGet(t *testing.T, st waitflow.InstanceStore, id string) *waitflow.Instance {
	t.Helper()
	inst, err := st.GetByID(context.Background(), id)
	require.NoError(t, err)
	return inst
}

type publishedEvent struct {
	instanceID string
	eventType  string
	data       map[string]any
}

// recordingPublisher captures instance events
type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) PublishInstanceEvent(ctx context.Context, instanceID, eventType string, data map[string]any) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{instanceID: instanceID, eventType: eventType, data: data})
	return 1, nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.eventType
	}
	return out
}
