package builder

import (
	"testing"
	"time"

	"github.com/sicko7947/waitflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test handler
func testHandler(ctx *waitflow.StepContext, state waitflow.State) waitflow.StepResult {
	return waitflow.Finish(state)
}

func TestNewWorkflow(t *testing.T) {
	builder := NewWorkflow("test-workflow")
	assert.NotNil(t, builder)

	def, err := builder.Build()
	require.Error(t, err) // no steps
	assert.Nil(t, def)
	assert.Contains(t, err.Error(), "no steps")
}

func TestWorkflowBuilder_Metadata(t *testing.T) {
	def, err := NewWorkflow("test-workflow").
		WithDescription("A test workflow").
		WithVersion("1.0.0").
		WithTags(map[string]string{"team": "it"}).
		Step("step1", testHandler).
		Build()

	require.NoError(t, err)
	assert.Equal(t, "test-workflow", def.Name())
	assert.Equal(t, "A test workflow", def.Description())
	assert.Equal(t, "1.0.0", def.Version())
	assert.Equal(t, "it", def.Tags()["team"])
}

func TestWorkflowBuilder_WithConfig(t *testing.T) {
	config := waitflow.Config{
		MaxRetries:    5,
		StepTimeoutMs: 60000,
		RetryBackoff:  waitflow.BackoffExponential,
	}

	def, err := NewWorkflow("test-workflow").
		WithConfig(config).
		Step("step1", testHandler).
		Build()

	require.NoError(t, err)
	assert.Equal(t, config, def.Config())
}

func TestWorkflowBuilder_WithOptions(t *testing.T) {
	def, err := NewWorkflow("test-workflow").
		WithOptions(
			waitflow.WithRetries(2),
			waitflow.WithStepTimeout(5*time.Second),
			waitflow.WithMaxConcurrentInstances(1),
		).
		Step("step1", testHandler).
		Build()

	require.NoError(t, err)
	assert.Equal(t, 2, def.Config().MaxRetries)
	assert.Equal(t, 5000, def.Config().StepTimeoutMs)
	assert.Equal(t, 1, def.Config().MaxConcurrentInstances)
	assert.Equal(t, waitflow.DefaultConfig.RetryBackoff, def.Config().RetryBackoff, "unset options keep defaults")
}

func TestWorkflowBuilder_ThenStep(t *testing.T) {
	def, err := NewWorkflow("test-workflow").
		ThenStep("step1", testHandler).
		ThenStep("step2", testHandler).
		Build()

	require.NoError(t, err)
	assert.Equal(t, "step1", def.EntryStep(), "entry point defaults to the first step")
	assert.Equal(t, []string{"step2"}, def.Graph().Nodes["step1"].Next)
	assert.Empty(t, def.Graph().Nodes["step2"].Next)
	assert.True(t, def.Graph().CanTransition("step1", "step2"))
	assert.False(t, def.Graph().CanTransition("step1", "step1"))
}

func TestWorkflowBuilder_Sequence(t *testing.T) {
	def, err := NewWorkflow("test-workflow").
		Sequence(S("a", testHandler), S("b", testHandler), S("c", testHandler)).
		Build()

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, def.Steps())
	assert.Equal(t, []string{"b"}, def.Graph().Nodes["a"].Next)
	assert.Equal(t, []string{"c"}, def.Graph().Nodes["b"].Next)
}

func TestWorkflowBuilder_TransitionsAllowLoops(t *testing.T) {
	def, err := NewWorkflow("review").
		Step("review", testHandler).
		Step("approve", testHandler).
		Step("reject", testHandler).
		Transition("review", "review", "approve", "reject").
		Transition("reject", "review").
		Build()

	require.NoError(t, err)
	assert.True(t, def.Graph().CanTransition("review", "review"))
	assert.True(t, def.Graph().CanTransition("reject", "review"))
	assert.False(t, def.Graph().CanTransition("reject", "approve"))
}

func TestWorkflowBuilder_SetEntryPoint(t *testing.T) {
	def, err := NewWorkflow("test-workflow").
		ThenStep("step2", testHandler).
		ThenStep("step1", testHandler).
		SetEntryPoint("step2").
		Build()

	require.NoError(t, err)
	assert.Equal(t, "step2", def.EntryStep())
}

func TestWorkflowBuilder_BuildErrors(t *testing.T) {
	tests := []struct {
		name    string
		builder *WorkflowBuilder
		errText string
	}{
		{
			name:    "unknown entry point",
			builder: NewWorkflow("wf").Step("a", testHandler).SetEntryPoint("ghost"),
			errText: "failed to set entry point",
		},
		{
			name:    "transition to unknown step",
			builder: NewWorkflow("wf").Step("a", testHandler).Transition("a", "ghost"),
			errText: "ghost not found",
		},
		{
			name:    "duplicate step",
			builder: NewWorkflow("wf").Step("a", testHandler).Step("a", testHandler),
			errText: "registered twice",
		},
		{
			name:    "nil step function",
			builder: NewWorkflow("wf").Step("a", nil),
			errText: "has no function",
		},
		{
			name:    "empty name",
			builder: NewWorkflow("").Step("a", testHandler),
			errText: "no name",
		},
		{
			name: "unreachable step",
			builder: NewWorkflow("wf").
				Step("a", testHandler).
				Step("b", testHandler).
				Step("orphan", testHandler).
				Transition("a", "b").
				Transition("b", "a"),
			errText: "not reachable from a: orphan",
		},
		{
			name:    "bad backoff",
			builder: NewWorkflow("wf").WithOptions(waitflow.WithBackoff("RANDOM")).Step("a", testHandler),
			errText: "unknown backoff",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, err := tt.builder.Build()
			require.Error(t, err)
			assert.Nil(t, def)
			assert.Contains(t, err.Error(), tt.errText)
		})
	}
}

func TestWorkflowBuilder_MustBuild(t *testing.T) {
	assert.NotPanics(t, func() {
		NewWorkflow("wf").Step("a", testHandler).MustBuild()
	})
	assert.Panics(t, func() {
		NewWorkflow("wf").MustBuild()
	})
}

func TestWorkflowBuilder_BuildSealsDefinition(t *testing.T) {
	def, err := NewWorkflow("wf").
		Step("a", testHandler).
		Step("b", testHandler).
		Transition("a", "b").
		Build()
	require.NoError(t, err)
	assert.True(t, def.Sealed())

	assert.ErrorIs(t, def.AddStep("c", testHandler), waitflow.ErrDefinitionSealed)
	assert.ErrorIs(t, def.AddTransition("b", "a"), waitflow.ErrDefinitionSealed)
	assert.ErrorIs(t, def.SetConfig(waitflow.Config{}), waitflow.ErrDefinitionSealed)
	assert.Equal(t, []string{"a", "b"}, def.Steps())
	assert.Empty(t, def.Graph().Nodes["b"].Next)
}

func TestWorkflowBuilder_NilStepFunc(t *testing.T) {
	_, err := NewWorkflow("wf").
		Step("a", nil).
		Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no function")
}
