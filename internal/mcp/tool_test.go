package mcp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoTool struct {
	name  string
	roles []AgentRole
}

func (t *echoTool) Name() string        { return t.name }
func (t *echoTool) Description() string { return "echoes its arguments back" }
func (t *echoTool) InputSchema() *InputSchema {
	return &InputSchema{Type: "object", Properties: map[string]*PropertySchema{
		"text": {Type: "string"},
	}}
}
func (t *echoTool) AllowedRoles() []AgentRole { return t.roles }
func (t *echoTool) Call(ctx ToolContext, args json.RawMessage) (*ToolCallResult, error) {
	var p struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, err
	}
	return SuccessResult(p.Text), nil
}

func TestRegistry_VisibleToFiltersByRole(t *testing.T) {
	r := NewRegistry()
	r.Register(&echoTool{name: "orchestrator_only", roles: []AgentRole{RoleOrchestrator}})
	r.Register(&echoTool{name: "everyone", roles: AllRoles})

	worker := r.VisibleTo(ToolContext{Context: t.Context(), Session: Session{Role: RoleWorker}})
	require.Len(t, worker, 1)
	assert.Equal(t, "everyone", worker[0].Name)

	orch := r.VisibleTo(ToolContext{Context: t.Context(), Session: Session{Role: RoleOrchestrator}})
	require.Len(t, orch, 2)
	assert.Equal(t, "everyone", orch[0].Name)
	assert.Equal(t, "orchestrator_only", orch[1].Name)
}

func TestRegistry_CallUnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Call(t.Context(), Session{Role: RoleWorker}, "nope", nil)
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestRegistry_CallNotPermittedForRole(t *testing.T) {
	r := NewRegistry()
	r.Register(&echoTool{name: "qa_only", roles: []AgentRole{RoleQA}})
	_, err := r.Call(t.Context(), Session{Role: RoleWorker}, "qa_only", nil)
	assert.ErrorIs(t, err, ErrToolNotPermitted)
}

func TestRegistry_CallInvokesTool(t *testing.T) {
	r := NewRegistry()
	r.Register(&echoTool{name: "echo", roles: AllRoles})
	result, err := r.Call(t.Context(), Session{Role: RoleWizard}, "echo", json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "hi", result.Content[0].Text)
}
