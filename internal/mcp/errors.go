package mcp

import "errors"

// ErrUnknownTool is returned by Registry.Call when no tool of that name is
// registered.
var ErrUnknownTool = errors.New("mcp: unknown tool")

// ErrToolNotPermitted is returned by Registry.Call when the calling
// session's role is not in the tool's AllowedRoles.
var ErrToolNotPermitted = errors.New("mcp: tool not permitted for role")
