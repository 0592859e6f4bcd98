package mcp

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// ToolContext carries per-call state into a Tool's Call method: the
// session that authorized the call plus a cancellable context for anything
// the tool launches (e.g. a child process via the pipeline's intent
// vocabulary).
type ToolContext struct {
	context.Context
	Session Session
}

// Tool is a single MCP tool: its descriptor, the roles permitted to call
// it, and its implementation. Grounded on original_source's McpTool trait
// (name/title/description/input_schema/allowed_roles/call).
type Tool interface {
	Name() string
	Description() string
	InputSchema() *InputSchema
	AllowedRoles() []AgentRole
	Call(ctx ToolContext, args json.RawMessage) (*ToolCallResult, error)
}

// ContextGate is implemented by tools whose visibility depends on more than
// the caller's role — e.g. the task-mutation tools, which the orchestrator
// may only see while the active strategy is Planning. A tool that does not
// implement ContextGate is visible whenever its role matches.
type ContextGate interface {
	Visible(ctx ToolContext) bool
}

// Registry holds every tool the server knows about and answers role-gated
// visibility and invocation queries.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any previous tool of the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// VisibleTo returns the descriptors of every tool whose AllowedRoles
// includes ctx.Session.Role and, for tools implementing ContextGate, whose
// Visible predicate accepts ctx. Sorted by name for a stable tools/list
// response.
func (r *Registry) VisibleTo(ctx ToolContext) []ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []ToolDescriptor
	for _, t := range r.tools {
		if !r.visible(t, ctx) {
			continue
		}
		out = append(out, ToolDescriptor{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) visible(t Tool, ctx ToolContext) bool {
	if !newRoleSet(t.AllowedRoles()...).has(ctx.Session.Role) {
		return false
	}
	if gate, ok := t.(ContextGate); ok {
		return gate.Visible(ctx)
	}
	return true
}

// lookup is split from Call so the server can distinguish "tool does not
// exist" (ErrUnknownTool, answered with ErrCodeMethodNotFound) from "tool
// exists but this session's role may not call it" (ErrToolNotPermitted,
// answered with ErrCodeUnauthorized).
func (r *Registry) lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Call invokes the named tool on behalf of sess, enforcing role- and
// context-based visibility first. Returns (nil, ErrUnknownTool) if no such
// tool is registered, (nil, ErrToolNotPermitted) if the session may not see
// it, and otherwise the tool's own result/error.
func (r *Registry) Call(ctx context.Context, sess Session, name string, args json.RawMessage) (*ToolCallResult, error) {
	t, ok := r.lookup(name)
	if !ok {
		return nil, ErrUnknownTool
	}
	tc := ToolContext{Context: ctx, Session: sess}
	if !r.visible(t, tc) {
		return nil, ErrToolNotPermitted
	}
	return t.Call(tc, args)
}
