package mcp

import (
	"bytes"
	"encoding/json"
	"os/exec"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// gitStatusTool shells out to `git status --porcelain` in the workspace
// root the tool was registered with. Read-only, visible to every role.
type gitStatusTool struct {
	workspaceRoot string
}

func (t *gitStatusTool) Name() string        { return "git_status" }
func (t *gitStatusTool) Description() string { return "Show working-tree status (git status --porcelain)." }
func (t *gitStatusTool) InputSchema() *InputSchema {
	return &InputSchema{Type: "object"}
}
func (t *gitStatusTool) AllowedRoles() []AgentRole { return AllRoles }
func (t *gitStatusTool) Call(ctx ToolContext, args json.RawMessage) (*ToolCallResult, error) {
	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
	cmd.Dir = t.workspaceRoot
	out, err := cmd.CombinedOutput()
	if err != nil {
		return ErrorResult("git status failed: " + strings.TrimSpace(string(out))), nil
	}
	return SuccessResult(string(out)), nil
}

// gitDiffTool shells out to `git diff` for a path; when no path is given it
// renders the two supplied text revisions with sergi/go-diff instead, which
// needs no git checkout. A failing `git diff` is reported as an error
// result, not retried through the text renderer.
type gitDiffTool struct {
	workspaceRoot string
}

func (t *gitDiffTool) Name() string        { return "git_diff" }
func (t *gitDiffTool) Description() string { return "Show the diff for a path, or render two text revisions directly." }
func (t *gitDiffTool) InputSchema() *InputSchema {
	return &InputSchema{Type: "object", Properties: map[string]*PropertySchema{
		"path":     {Type: "string", Description: "path to diff via git diff; omit to use before/after"},
		"before":   {Type: "string", Description: "left-hand text revision, used when path is omitted"},
		"after":    {Type: "string", Description: "right-hand text revision, used when path is omitted"},
	}}
}
func (t *gitDiffTool) AllowedRoles() []AgentRole { return AllRoles }
func (t *gitDiffTool) Call(ctx ToolContext, args json.RawMessage) (*ToolCallResult, error) {
	var p struct {
		Path   string `json:"path"`
		Before string `json:"before"`
		After  string `json:"after"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &p); err != nil {
			return ErrorResult(err.Error()), nil
		}
	}

	if p.Path != "" {
		cmd := exec.CommandContext(ctx, "git", "diff", "--", p.Path)
		cmd.Dir = t.workspaceRoot
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out
		if err := cmd.Run(); err != nil {
			return ErrorResult("git diff failed: " + strings.TrimSpace(out.String())), nil
		}
		return SuccessResult(out.String()), nil
	}

	return SuccessResult(renderTextDiff(p.Before, p.After)), nil
}

// renderTextDiff renders the character-level diff of two in-memory strings
// via sergi/go-diff's DiffPrettyText (insertions and deletions marked with
// ANSI colours), used when the caller omits path.
func renderTextDiff(before, after string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)
	return dmp.DiffPrettyText(diffs)
}

// RegisterGitTools registers git_status and git_diff against reg, rooted
// at workspaceRoot.
func RegisterGitTools(reg *Registry, workspaceRoot string) {
	reg.Register(&gitStatusTool{workspaceRoot: workspaceRoot})
	reg.Register(&gitDiffTool{workspaceRoot: workspaceRoot})
}
