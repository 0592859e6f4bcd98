package mcp

import (
	"regexp"
)

// AgentRole identifies which participant is calling the MCP server. Tool
// visibility is gated on this, grounded on original_source's
// AgentRole/allowed_roles() pattern (server/src/mcp/project_command_run.rs).
type AgentRole string

const (
	RoleOrchestrator AgentRole = "orchestrator"
	RoleWorker       AgentRole = "worker"
	RoleQA           AgentRole = "qa"
	RoleWizard       AgentRole = "wizard"
)

// workstreamPattern matches the workstream worker label "ws<N>" (an
// additional worker identity beyond the fixed roles above).
var workstreamPattern = regexp.MustCompile(`^ws\d+$`)

// ResolveAgentRole maps a free-form agent label to its AgentRole. Labels
// matching "ws<N>" resolve to RoleWorker: workstream workers share the
// worker role's tool visibility.
func ResolveAgentRole(label string) (AgentRole, bool) {
	switch AgentRole(label) {
	case RoleOrchestrator, RoleWorker, RoleQA, RoleWizard:
		return AgentRole(label), true
	}
	if workstreamPattern.MatchString(label) {
		return RoleWorker, true
	}
	return "", false
}

// roleSet is a small set helper for AllowedRoles checks.
type roleSet map[AgentRole]struct{}

func newRoleSet(roles ...AgentRole) roleSet {
	s := make(roleSet, len(roles))
	for _, r := range roles {
		s[r] = struct{}{}
	}
	return s
}

func (s roleSet) has(r AgentRole) bool {
	_, ok := s[r]
	return ok
}

// AllRoles is a convenience set a tool can use when every role may call it.
var AllRoles = []AgentRole{RoleOrchestrator, RoleWorker, RoleQA, RoleWizard}
