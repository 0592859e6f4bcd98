package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/kilnforge/agentpipe/internal/projectcmd"
)

// projectCommandListTool returns the declarative command set, grounded on
// original_source's ProjectCommandListTool.
type projectCommandListTool struct {
	registry *projectcmd.Registry
}

func (t *projectCommandListTool) Name() string { return "project_command_list" }
func (t *projectCommandListTool) Description() string {
	return "Return the declarative project command definitions."
}
func (t *projectCommandListTool) InputSchema() *InputSchema { return &InputSchema{Type: "object"} }
func (t *projectCommandListTool) AllowedRoles() []AgentRole  { return AllRoles }
func (t *projectCommandListTool) Call(ctx ToolContext, args json.RawMessage) (*ToolCallResult, error) {
	return jsonResult(struct {
		Commands []projectcmd.Command `json:"commands"`
	}{Commands: t.registry.List()})
}

// projectCommandRunTool executes a declared command with timeout
// enforcement, grounded on original_source's ProjectCommandRunTool
// (run_command): spawn, bound by a timeout, report {id, command, cwd,
// exit_code, stdout, stderr} as structured content.
type projectCommandRunTool struct {
	registry      *projectcmd.Registry
	workspaceRoot string
}

func (t *projectCommandRunTool) Name() string { return "project_command_run" }
func (t *projectCommandRunTool) Description() string {
	return "Execute a declared project command (with timeout enforcement)."
}
func (t *projectCommandRunTool) InputSchema() *InputSchema {
	return &InputSchema{Type: "object", Required: []string{"command_id"}, Properties: map[string]*PropertySchema{
		"command_id": {Type: "string"},
	}}
}
func (t *projectCommandRunTool) AllowedRoles() []AgentRole { return AllRoles }

type projectCommandResult struct {
	ID       string `json:"id"`
	Command  []string `json:"command"`
	Cwd      string   `json:"cwd"`
	ExitCode int      `json:"exit_code"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

func (t *projectCommandRunTool) Call(ctx ToolContext, args json.RawMessage) (*ToolCallResult, error) {
	var p struct {
		CommandID string `json:"command_id"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return ErrorResult(err.Error()), nil
	}

	cmdDef, ok := t.registry.Get(p.CommandID)
	if !ok {
		return ErrorResult(fmt.Sprintf("command %s not found", p.CommandID)), nil
	}
	if len(cmdDef.Exec) == 0 {
		return ErrorResult(fmt.Sprintf("command %s has no exec definition", cmdDef.ID)), nil
	}

	cwd := t.workspaceRoot
	if cmdDef.Cwd != "" {
		cwd = filepath.Join(t.workspaceRoot, cmdDef.Cwd)
	}

	timeout := time.Duration(cmdDef.TimeoutSeconds) * time.Second
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, cmdDef.Exec[0], cmdDef.Exec[1:]...)
	cmd.Dir = cwd

	stdout, stderr, err := runCaptured(cmd)
	if runCtx.Err() == context.DeadlineExceeded {
		return ErrorResult(fmt.Sprintf("command %s timed out after %d seconds", cmdDef.ID, cmdDef.TimeoutSeconds)), nil
	}

	exitCode := 0
	isError := false
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
		isError = true
	} else if err != nil {
		return nil, fmt.Errorf("failed to run %s: %w", cmdDef.ID, err)
	}

	payload := projectCommandResult{
		ID:       cmdDef.ID,
		Command:  cmdDef.Exec,
		Cwd:      cwd,
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	result := StructuredResult(string(data), payload)
	result.IsError = isError
	return result, nil
}

func runCaptured(cmd *exec.Cmd) (stdout, stderr string, err error) {
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err = cmd.Run()
	return outBuf.String(), errBuf.String(), err
}

// RegisterProjectCommandTools registers project_command_list and
// project_command_run against reg.
func RegisterProjectCommandTools(reg *Registry, registry *projectcmd.Registry, workspaceRoot string) {
	reg.Register(&projectCommandListTool{registry: registry})
	reg.Register(&projectCommandRunTool{registry: registry, workspaceRoot: workspaceRoot})
}
