package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnforge/agentpipe/internal/pipeline/state"
)

func newTaskRegistry(t *testing.T) (*Registry, *state.StrategyState) {
	t.Helper()
	reg := NewRegistry()
	strategy := state.NewStrategyState()
	RegisterTaskTools(reg, NewTaskStore(), strategy)
	return reg, strategy
}

func visibleNames(t *testing.T, reg *Registry, role AgentRole) map[string]bool {
	t.Helper()
	out := make(map[string]bool)
	for _, d := range reg.VisibleTo(ToolContext{Context: t.Context(), Session: Session{Role: role}}) {
		out[d.Name] = true
	}
	return out
}

func TestTaskTools_WizardAlwaysSeesWriteTools(t *testing.T) {
	reg, strategy := newTaskRegistry(t)
	strategy.Set(state.ActiveStrategy{ID: state.HotfixSwarm})

	names := visibleNames(t, reg, RoleWizard)
	assert.True(t, names["tasks_create"])
	assert.True(t, names["task_groups_create"])
}

func TestTaskTools_OrchestratorSeesWriteToolsOnlyWhilePlanning(t *testing.T) {
	reg, strategy := newTaskRegistry(t)

	names := visibleNames(t, reg, RoleOrchestrator)
	assert.True(t, names["tasks_create"], "orchestrator should see task writes while Planning")
	assert.True(t, names["task_groups_create"])

	strategy.Set(state.ActiveStrategy{ID: state.Aggressive})
	names = visibleNames(t, reg, RoleOrchestrator)
	assert.False(t, names["tasks_create"], "orchestrator should lose task writes outside Planning")
	assert.False(t, names["task_groups_create"])

	// Read-only tools remain visible regardless of strategy.
	assert.True(t, names["tasks_list"])
	assert.True(t, names["task_groups_list"])
}

func TestTaskTools_QANeverSeesTaskWritesButAlwaysSeesGroupWrites(t *testing.T) {
	reg, strategy := newTaskRegistry(t)

	for _, s := range []state.Strategy{state.Planning, state.Aggressive, state.Economical} {
		strategy.Set(state.ActiveStrategy{ID: s})
		names := visibleNames(t, reg, RoleQA)
		assert.False(t, names["tasks_create"], "QA must never see task-level writes (strategy=%v)", s)
		assert.True(t, names["task_groups_create"], "QA always sees group-level writes (strategy=%v)", s)
	}
}

func TestTaskTools_WorkerNeverSeesAnyWriteTools(t *testing.T) {
	reg, strategy := newTaskRegistry(t)
	strategy.Set(state.ActiveStrategy{ID: state.Planning})

	names := visibleNames(t, reg, RoleWorker)
	assert.False(t, names["tasks_create"])
	assert.False(t, names["task_groups_create"])
	assert.True(t, names["tasks_list"])
}

func TestTaskTools_CreateListSetStatusRoundTrip(t *testing.T) {
	reg, _ := newTaskRegistry(t)
	ctx := context.Background()
	wizard := Session{Role: RoleWizard}

	createResult, err := reg.Call(ctx, wizard, "tasks_create", []byte(`{"title":"ship it"}`))
	require.NoError(t, err)
	require.False(t, createResult.IsError)

	listResult, err := reg.Call(ctx, wizard, "tasks_list", nil)
	require.NoError(t, err)
	require.False(t, listResult.IsError)

	statusResult, err := reg.Call(ctx, wizard, "tasks_set_status", []byte(`{"id":1,"status":"completed"}`))
	require.NoError(t, err)
	require.False(t, statusResult.IsError)
}

func TestTaskTools_CallRejectsNotPermittedRole(t *testing.T) {
	reg, _ := newTaskRegistry(t)
	_, err := reg.Call(context.Background(), Session{Role: RoleWorker}, "tasks_create", []byte(`{"title":"x"}`))
	assert.ErrorIs(t, err, ErrToolNotPermitted)
}

func TestTaskTools_DeleteUnknownTaskReturnsToolError(t *testing.T) {
	reg, _ := newTaskRegistry(t)
	result, err := reg.Call(context.Background(), Session{Role: RoleWizard}, "tasks_delete", []byte(`{"id":999}`))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
