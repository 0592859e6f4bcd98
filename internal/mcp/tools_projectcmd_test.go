package mcp

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kilnforge/agentpipe/internal/projectcmd"
)

func loadTestRegistry(t *testing.T, contents string) *projectcmd.Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "commands.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	reg, err := projectcmd.Load(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func TestProjectCommandListTool_ReturnsDeclaredCommands(t *testing.T) {
	registry := loadTestRegistry(t, `
commands:
  - id: echo-test
    exec: ["echo", "hi"]
`)
	tool := &projectCommandListTool{registry: registry}

	result, err := tool.Call(ToolContext{Context: context.Background(), Session: Session{Role: RoleWorker}}, nil)
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.Contains(t, result.Content[0].Text, "echo-test")
}

func TestProjectCommandRunTool_SucceedsAndCapturesStdout(t *testing.T) {
	registry := loadTestRegistry(t, `
commands:
  - id: greet
    exec: ["echo", "hello"]
`)
	tool := &projectCommandRunTool{registry: registry, workspaceRoot: t.TempDir()}

	result, err := tool.Call(
		ToolContext{Context: context.Background(), Session: Session{Role: RoleWorker}},
		[]byte(`{"command_id":"greet"}`),
	)
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.Contains(t, result.Content[0].Text, "hello")
}

func TestProjectCommandRunTool_NonZeroExitIsReportedAsToolError(t *testing.T) {
	registry := loadTestRegistry(t, `
commands:
  - id: fail
    exec: ["sh", "-c", "exit 3"]
`)
	tool := &projectCommandRunTool{registry: registry, workspaceRoot: t.TempDir()}

	result, err := tool.Call(
		ToolContext{Context: context.Background(), Session: Session{Role: RoleWorker}},
		[]byte(`{"command_id":"fail"}`),
	)
	require.NoError(t, err)
	require.True(t, result.IsError)
	require.Contains(t, result.Content[0].Text, `"exit_code":3`)
}

func TestProjectCommandRunTool_TimesOut(t *testing.T) {
	registry := loadTestRegistry(t, `
commands:
  - id: slow
    exec: ["sleep", "5"]
    timeout_seconds: 1
`)
	tool := &projectCommandRunTool{registry: registry, workspaceRoot: t.TempDir()}

	result, err := tool.Call(
		ToolContext{Context: context.Background(), Session: Session{Role: RoleWorker}},
		[]byte(`{"command_id":"slow"}`),
	)
	require.NoError(t, err)
	require.True(t, result.IsError)
	require.Contains(t, result.Content[0].Text, "timed out")
}

func TestProjectCommandRunTool_UnknownCommandIsToolError(t *testing.T) {
	registry := loadTestRegistry(t, `commands: []`)
	tool := &projectCommandRunTool{registry: registry, workspaceRoot: t.TempDir()}

	result, err := tool.Call(
		ToolContext{Context: context.Background(), Session: Session{Role: RoleWorker}},
		[]byte(`{"command_id":"missing"}`),
	)
	require.NoError(t, err)
	require.True(t, result.IsError)
}
