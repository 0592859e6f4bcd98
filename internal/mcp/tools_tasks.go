package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/kilnforge/agentpipe/internal/pipeline/state"
)

// taskWriteGate implements the task-mutation visibility policy: visible to
// the orchestrator only while the active strategy is Planning, visible to
// the wizard unconditionally, never visible to QA (QA gets group-level
// writes only, via groupWriteGate).
type taskWriteGate struct {
	strategy *state.StrategyState
}

func (g taskWriteGate) Visible(ctx ToolContext) bool {
	switch ctx.Session.Role {
	case RoleWizard:
		return true
	case RoleOrchestrator:
		return g.strategy.Snapshot().ID == state.Planning
	default:
		return false
	}
}

// groupWriteGate is the same policy but additionally admits QA, since
// group-level mutation is the one write surface QA may use.
type groupWriteGate struct {
	strategy *state.StrategyState
}

func (g groupWriteGate) Visible(ctx ToolContext) bool {
	switch ctx.Session.Role {
	case RoleWizard, RoleQA:
		return true
	case RoleOrchestrator:
		return g.strategy.Snapshot().ID == state.Planning
	default:
		return false
	}
}

func jsonResult(v any) (*ToolCallResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return StructuredResult(string(data), v), nil
}

// --- tasks_list ---

type tasksListTool struct{ store *TaskStore }

func (t *tasksListTool) Name() string        { return "tasks_list" }
func (t *tasksListTool) Description() string { return "List tasks, optionally filtered by group." }
func (t *tasksListTool) InputSchema() *InputSchema {
	return &InputSchema{Type: "object", Properties: map[string]*PropertySchema{
		"group_id": {Type: "integer", Description: "restrict to this group; 0 or omitted lists all"},
	}}
}
func (t *tasksListTool) AllowedRoles() []AgentRole { return AllRoles }
func (t *tasksListTool) Call(ctx ToolContext, args json.RawMessage) (*ToolCallResult, error) {
	var p struct {
		GroupID int64 `json:"group_id"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &p); err != nil {
			return ErrorResult(err.Error()), nil
		}
	}
	return jsonResult(t.store.ListTasks(p.GroupID))
}

// --- tasks_get ---

type tasksGetTool struct{ store *TaskStore }

func (t *tasksGetTool) Name() string        { return "tasks_get" }
func (t *tasksGetTool) Description() string { return "Fetch a single task by id." }
func (t *tasksGetTool) InputSchema() *InputSchema {
	return &InputSchema{Type: "object", Required: []string{"id"}, Properties: map[string]*PropertySchema{
		"id": {Type: "integer"},
	}}
}
func (t *tasksGetTool) AllowedRoles() []AgentRole { return AllRoles }
func (t *tasksGetTool) Call(ctx ToolContext, args json.RawMessage) (*ToolCallResult, error) {
	var p struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return ErrorResult(err.Error()), nil
	}
	task, err := t.store.GetTask(p.ID)
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	return jsonResult(task)
}

// --- tasks_create ---

type tasksCreateTool struct {
	store *TaskStore
	taskWriteGate
}

func (t *tasksCreateTool) Name() string        { return "tasks_create" }
func (t *tasksCreateTool) Description() string { return "Create a task in a group." }
func (t *tasksCreateTool) InputSchema() *InputSchema {
	return &InputSchema{Type: "object", Required: []string{"title"}, Properties: map[string]*PropertySchema{
		"title":    {Type: "string"},
		"group_id": {Type: "integer"},
	}}
}
func (t *tasksCreateTool) AllowedRoles() []AgentRole { return []AgentRole{RoleOrchestrator, RoleWizard} }
func (t *tasksCreateTool) Call(ctx ToolContext, args json.RawMessage) (*ToolCallResult, error) {
	var p struct {
		Title   string `json:"title"`
		GroupID int64  `json:"group_id"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return ErrorResult(err.Error()), nil
	}
	return jsonResult(t.store.CreateTask(p.GroupID, p.Title))
}

// --- tasks_update ---

type tasksUpdateTool struct {
	store *TaskStore
	taskWriteGate
}

func (t *tasksUpdateTool) Name() string        { return "tasks_update" }
func (t *tasksUpdateTool) Description() string { return "Rename a task." }
func (t *tasksUpdateTool) InputSchema() *InputSchema {
	return &InputSchema{Type: "object", Required: []string{"id", "title"}, Properties: map[string]*PropertySchema{
		"id":    {Type: "integer"},
		"title": {Type: "string"},
	}}
}
func (t *tasksUpdateTool) AllowedRoles() []AgentRole { return []AgentRole{RoleOrchestrator, RoleWizard} }
func (t *tasksUpdateTool) Call(ctx ToolContext, args json.RawMessage) (*ToolCallResult, error) {
	var p struct {
		ID    int64  `json:"id"`
		Title string `json:"title"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return ErrorResult(err.Error()), nil
	}
	task, err := t.store.UpdateTask(p.ID, p.Title)
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	return jsonResult(task)
}

// --- tasks_delete ---

type tasksDeleteTool struct {
	store *TaskStore
	taskWriteGate
}

func (t *tasksDeleteTool) Name() string        { return "tasks_delete" }
func (t *tasksDeleteTool) Description() string { return "Delete a task." }
func (t *tasksDeleteTool) InputSchema() *InputSchema {
	return &InputSchema{Type: "object", Required: []string{"id"}, Properties: map[string]*PropertySchema{
		"id": {Type: "integer"},
	}}
}
func (t *tasksDeleteTool) AllowedRoles() []AgentRole { return []AgentRole{RoleOrchestrator, RoleWizard} }
func (t *tasksDeleteTool) Call(ctx ToolContext, args json.RawMessage) (*ToolCallResult, error) {
	var p struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return ErrorResult(err.Error()), nil
	}
	if err := t.store.DeleteTask(p.ID); err != nil {
		return ErrorResult(err.Error()), nil
	}
	return SuccessResult(fmt.Sprintf("deleted task %d", p.ID)), nil
}

// --- tasks_set_status ---

type tasksSetStatusTool struct {
	store *TaskStore
	taskWriteGate
}

func (t *tasksSetStatusTool) Name() string        { return "tasks_set_status" }
func (t *tasksSetStatusTool) Description() string { return "Set a task's lifecycle status." }
func (t *tasksSetStatusTool) InputSchema() *InputSchema {
	return &InputSchema{Type: "object", Required: []string{"id", "status"}, Properties: map[string]*PropertySchema{
		"id":     {Type: "integer"},
		"status": {Type: "string", Description: "pending|in_progress|completed|blocked"},
	}}
}
func (t *tasksSetStatusTool) AllowedRoles() []AgentRole {
	return []AgentRole{RoleOrchestrator, RoleWizard}
}
func (t *tasksSetStatusTool) Call(ctx ToolContext, args json.RawMessage) (*ToolCallResult, error) {
	var p struct {
		ID     int64      `json:"id"`
		Status TaskStatus `json:"status"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return ErrorResult(err.Error()), nil
	}
	task, err := t.store.SetStatus(p.ID, p.Status)
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	return jsonResult(task)
}

// --- tasks_dependencies_get / tasks_dependencies_set ---

type tasksDependenciesGetTool struct{ store *TaskStore }

func (t *tasksDependenciesGetTool) Name() string        { return "tasks_dependencies_get" }
func (t *tasksDependenciesGetTool) Description() string { return "List a task's dependencies." }
func (t *tasksDependenciesGetTool) InputSchema() *InputSchema {
	return &InputSchema{Type: "object", Required: []string{"id"}, Properties: map[string]*PropertySchema{
		"id": {Type: "integer"},
	}}
}
func (t *tasksDependenciesGetTool) AllowedRoles() []AgentRole { return AllRoles }
func (t *tasksDependenciesGetTool) Call(ctx ToolContext, args json.RawMessage) (*ToolCallResult, error) {
	var p struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return ErrorResult(err.Error()), nil
	}
	deps, err := t.store.GetDependencies(p.ID)
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	return jsonResult(deps)
}

type tasksDependenciesSetTool struct {
	store *TaskStore
	taskWriteGate
}

func (t *tasksDependenciesSetTool) Name() string { return "tasks_dependencies_set" }
func (t *tasksDependenciesSetTool) Description() string {
	return "Replace a task's dependency list."
}
func (t *tasksDependenciesSetTool) InputSchema() *InputSchema {
	return &InputSchema{Type: "object", Required: []string{"id", "dependencies"}, Properties: map[string]*PropertySchema{
		"id":           {Type: "integer"},
		"dependencies": {Type: "array", Items: &PropertySchema{Type: "integer"}},
	}}
}
func (t *tasksDependenciesSetTool) AllowedRoles() []AgentRole {
	return []AgentRole{RoleOrchestrator, RoleWizard}
}
func (t *tasksDependenciesSetTool) Call(ctx ToolContext, args json.RawMessage) (*ToolCallResult, error) {
	var p struct {
		ID           int64   `json:"id"`
		Dependencies []int64 `json:"dependencies"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return ErrorResult(err.Error()), nil
	}
	task, err := t.store.SetDependencies(p.ID, p.Dependencies)
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	return jsonResult(task)
}

// --- task_groups_{list,get,create,update,delete} ---

type taskGroupsListTool struct{ store *TaskStore }

func (t *taskGroupsListTool) Name() string                 { return "task_groups_list" }
func (t *taskGroupsListTool) Description() string           { return "List task groups." }
func (t *taskGroupsListTool) InputSchema() *InputSchema     { return &InputSchema{Type: "object"} }
func (t *taskGroupsListTool) AllowedRoles() []AgentRole     { return AllRoles }
func (t *taskGroupsListTool) Call(ctx ToolContext, args json.RawMessage) (*ToolCallResult, error) {
	return jsonResult(t.store.ListGroups())
}

type taskGroupsGetTool struct{ store *TaskStore }

func (t *taskGroupsGetTool) Name() string        { return "task_groups_get" }
func (t *taskGroupsGetTool) Description() string { return "Fetch a task group by id." }
func (t *taskGroupsGetTool) InputSchema() *InputSchema {
	return &InputSchema{Type: "object", Required: []string{"id"}, Properties: map[string]*PropertySchema{
		"id": {Type: "integer"},
	}}
}
func (t *taskGroupsGetTool) AllowedRoles() []AgentRole { return AllRoles }
func (t *taskGroupsGetTool) Call(ctx ToolContext, args json.RawMessage) (*ToolCallResult, error) {
	var p struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return ErrorResult(err.Error()), nil
	}
	g, err := t.store.GetGroup(p.ID)
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	return jsonResult(g)
}

type taskGroupsCreateTool struct {
	store *TaskStore
	groupWriteGate
}

func (t *taskGroupsCreateTool) Name() string        { return "task_groups_create" }
func (t *taskGroupsCreateTool) Description() string { return "Create a task group." }
func (t *taskGroupsCreateTool) InputSchema() *InputSchema {
	return &InputSchema{Type: "object", Required: []string{"name"}, Properties: map[string]*PropertySchema{
		"name": {Type: "string"},
	}}
}
func (t *taskGroupsCreateTool) AllowedRoles() []AgentRole {
	return []AgentRole{RoleOrchestrator, RoleWizard, RoleQA}
}
func (t *taskGroupsCreateTool) Call(ctx ToolContext, args json.RawMessage) (*ToolCallResult, error) {
	var p struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return ErrorResult(err.Error()), nil
	}
	return jsonResult(t.store.CreateGroup(p.Name))
}

type taskGroupsUpdateTool struct {
	store *TaskStore
	groupWriteGate
}

func (t *taskGroupsUpdateTool) Name() string        { return "task_groups_update" }
func (t *taskGroupsUpdateTool) Description() string { return "Rename a task group." }
func (t *taskGroupsUpdateTool) InputSchema() *InputSchema {
	return &InputSchema{Type: "object", Required: []string{"id", "name"}, Properties: map[string]*PropertySchema{
		"id":   {Type: "integer"},
		"name": {Type: "string"},
	}}
}
func (t *taskGroupsUpdateTool) AllowedRoles() []AgentRole {
	return []AgentRole{RoleOrchestrator, RoleWizard, RoleQA}
}
func (t *taskGroupsUpdateTool) Call(ctx ToolContext, args json.RawMessage) (*ToolCallResult, error) {
	var p struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return ErrorResult(err.Error()), nil
	}
	g, err := t.store.UpdateGroup(p.ID, p.Name)
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	return jsonResult(g)
}

type taskGroupsDeleteTool struct {
	store *TaskStore
	groupWriteGate
}

func (t *taskGroupsDeleteTool) Name() string        { return "task_groups_delete" }
func (t *taskGroupsDeleteTool) Description() string { return "Delete a task group." }
func (t *taskGroupsDeleteTool) InputSchema() *InputSchema {
	return &InputSchema{Type: "object", Required: []string{"id"}, Properties: map[string]*PropertySchema{
		"id": {Type: "integer"},
	}}
}
func (t *taskGroupsDeleteTool) AllowedRoles() []AgentRole {
	return []AgentRole{RoleOrchestrator, RoleWizard, RoleQA}
}
func (t *taskGroupsDeleteTool) Call(ctx ToolContext, args json.RawMessage) (*ToolCallResult, error) {
	var p struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return ErrorResult(err.Error()), nil
	}
	if err := t.store.DeleteGroup(p.ID); err != nil {
		return ErrorResult(err.Error()), nil
	}
	return SuccessResult(fmt.Sprintf("deleted group %d", p.ID)), nil
}

// RegisterTaskTools registers every tasks_*/task_groups_* tool against reg,
// backed by store and gated by strategy per the task-mutation policy.
func RegisterTaskTools(reg *Registry, store *TaskStore, strategy *state.StrategyState) {
	twg := taskWriteGate{strategy: strategy}
	gwg := groupWriteGate{strategy: strategy}

	reg.Register(&tasksListTool{store: store})
	reg.Register(&tasksGetTool{store: store})
	reg.Register(&tasksCreateTool{store: store, taskWriteGate: twg})
	reg.Register(&tasksUpdateTool{store: store, taskWriteGate: twg})
	reg.Register(&tasksDeleteTool{store: store, taskWriteGate: twg})
	reg.Register(&tasksSetStatusTool{store: store, taskWriteGate: twg})
	reg.Register(&tasksDependenciesGetTool{store: store})
	reg.Register(&tasksDependenciesSetTool{store: store, taskWriteGate: twg})
	reg.Register(&taskGroupsListTool{store: store})
	reg.Register(&taskGroupsGetTool{store: store})
	reg.Register(&taskGroupsCreateTool{store: store, groupWriteGate: gwg})
	reg.Register(&taskGroupsUpdateTool{store: store, groupWriteGate: gwg})
	reg.Register(&taskGroupsDeleteTool{store: store, groupWriteGate: gwg})
}
