package mcp

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func initGitRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %v: %s", args, out)
	}
	run("init", "-q")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.txt"), []byte("one\n"), 0644))
	run("add", "file.txt")
	run("commit", "-q", "-m", "initial")
	return dir
}

func TestGitStatusTool_CleanWorkingTree(t *testing.T) {
	dir := initGitRepo(t)
	tool := &gitStatusTool{workspaceRoot: dir}

	result, err := tool.Call(ToolContext{Context: context.Background(), Session: Session{Role: RoleWorker}}, nil)
	require.NoError(t, err)
	require.False(t, result.IsError)
}

func TestGitStatusTool_ReportsUntrackedFile(t *testing.T) {
	dir := initGitRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("new\n"), 0644))

	tool := &gitStatusTool{workspaceRoot: dir}
	result, err := tool.Call(ToolContext{Context: context.Background(), Session: Session{Role: RoleWorker}}, nil)
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.Contains(t, result.Content[0].Text, "new.txt")
}

func TestGitDiffTool_RendersTextRevisionsWithoutGit(t *testing.T) {
	tool := &gitDiffTool{workspaceRoot: t.TempDir()}
	result, err := tool.Call(
		ToolContext{Context: context.Background(), Session: Session{Role: RoleWorker}},
		[]byte(`{"before":"hello world\n","after":"hello there\n"}`),
	)
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.NotEmpty(t, result.Content[0].Text)
}

func TestGitDiffTool_DiffsPathAgainstWorkingTree(t *testing.T) {
	dir := initGitRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.txt"), []byte("one\ntwo\n"), 0644))

	tool := &gitDiffTool{workspaceRoot: dir}
	result, err := tool.Call(
		ToolContext{Context: context.Background(), Session: Session{Role: RoleWorker}},
		[]byte(`{"path":"file.txt"}`),
	)
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.Contains(t, result.Content[0].Text, "two")
}

func TestRegisterGitTools_RegistersBothTools(t *testing.T) {
	reg := NewRegistry()
	RegisterGitTools(reg, t.TempDir())

	names := visibleNames(t, reg, RoleWorker)
	require.True(t, names["git_status"])
	require.True(t, names["git_diff"])
}
