package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveAgentRole_FixedRoles(t *testing.T) {
	for _, tc := range []struct {
		label string
		want  AgentRole
	}{
		{"orchestrator", RoleOrchestrator},
		{"worker", RoleWorker},
		{"qa", RoleQA},
		{"wizard", RoleWizard},
	} {
		role, ok := ResolveAgentRole(tc.label)
		assert.True(t, ok)
		assert.Equal(t, tc.want, role)
	}
}

func TestResolveAgentRole_Workstream(t *testing.T) {
	role, ok := ResolveAgentRole("ws3")
	assert.True(t, ok)
	assert.Equal(t, RoleWorker, role)
}

func TestResolveAgentRole_Unknown(t *testing.T) {
	_, ok := ResolveAgentRole("administrator")
	assert.False(t, ok)
}

func TestRoleSet_Has(t *testing.T) {
	s := newRoleSet(RoleOrchestrator, RoleQA)
	assert.True(t, s.has(RoleOrchestrator))
	assert.True(t, s.has(RoleQA))
	assert.False(t, s.has(RoleWorker))
}
