package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWorkflowState(t *testing.T) {
	state := NewWorkflowState("session-1", WorkflowDevice, "check the status of device 7", map[string]any{"user": "u1"}, 10)

	assert.Equal(t, "session-1", state.SessionID)
	assert.Equal(t, WorkflowDevice, state.WorkflowType)
	assert.Equal(t, "check the status of device 7", state.OriginalRequest)
	assert.Equal(t, 10, state.MaxIterations)
	assert.Equal(t, 0, state.CurrentIteration)
	assert.Equal(t, 0, state.ErrorCount)
	assert.False(t, state.FinalResponseSet)
	assert.False(t, state.CreatedAt.IsZero())

	// History starts with the user's request.
	require.Len(t, state.Messages, 1)
	assert.Equal(t, RoleUser, state.Messages[0].Role)
	assert.Equal(t, "check the status of device 7", state.Messages[0].Content)
}

func TestWorkflowState_SetStageResult_FirstWriteWins(t *testing.T) {
	state := NewWorkflowState("s", WorkflowChat, "hi", nil, 10)

	assert.True(t, state.SetStageResult("chat_context", "first"))
	assert.False(t, state.SetStageResult("chat_context", "second"))

	result, ok := state.StageResult("chat_context")
	require.True(t, ok)
	assert.Equal(t, "first", result)
}

func TestWorkflowState_SetFinalResponse_Immutable(t *testing.T) {
	state := NewWorkflowState("s", WorkflowChat, "hi", nil, 10)

	assert.True(t, state.SetFinalResponse("answer"))
	assert.False(t, state.SetFinalResponse("other"))
	assert.Equal(t, "answer", state.FinalResponse)
	assert.True(t, state.FinalResponseSet)
}

func TestWorkflowState_IterationBudget(t *testing.T) {
	state := NewWorkflowState("s", WorkflowChat, "hi", nil, 3)

	for i := 0; i < 3; i++ {
		assert.False(t, state.IterationBudgetExhausted())
		state.AdvanceIteration()
	}
	assert.True(t, state.IterationBudgetExhausted())
}

func TestWorkflowState_ContextMutability(t *testing.T) {
	state := NewWorkflowState("s", WorkflowChat, "hi", map[string]any{"fixed": 1}, 10)
	state.MutableContextKeys = []string{"scratch"}

	assert.False(t, state.SetContextValue("fixed", 2))
	assert.Equal(t, 1, state.Context["fixed"])

	assert.True(t, state.SetContextValue("scratch", "v"))
	assert.Equal(t, "v", state.Context["scratch"])
}

func TestWorkflowState_Clone_Independent(t *testing.T) {
	state := NewWorkflowState("s", WorkflowAnalytics, "report", map[string]any{"k": "v"}, 10)
	state.SetStageResult("analytics_query", "rows")
	state.MutableContextKeys = []string{"scratch"}

	clone := state.Clone()

	state.SetStageResult("analytics_summary", "sum")
	state.AppendMessage(NewStageMessage("analytics_summary", "sum"))
	state.Context["k"] = "changed"
	state.AdvanceIteration()

	assert.NotContains(t, clone.StageResults, "analytics_summary")
	assert.Len(t, clone.Messages, 1)
	assert.Equal(t, "v", clone.Context["k"])
	assert.Equal(t, 0, clone.CurrentIteration)
}
