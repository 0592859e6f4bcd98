// Package projectcmd is the collaborator behind the project_command_list
// and project_command_run MCP tools: a declarative YAML file of named
// shell commands, watched for changes so project_command_list and
// project_command_run see edits without a restart. Grounded on original_source's ProjectCommandRegistry
// (server/src/mcp/project_commands.rs) and config-file loading
// (routes/config.rs), translated from a JSON config.json into the
// project's existing YAML idiom.
package projectcmd

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/kilnforge/agentpipe/internal/orchlog"
)

// Command is one declarative project command.
type Command struct {
	ID             string   `yaml:"id"`
	Description    string   `yaml:"description,omitempty"`
	Exec           []string `yaml:"exec"`
	Cwd            string   `yaml:"cwd,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
}

// defaultTimeoutSeconds mirrors original_source's run_command fallback
// (.unwrap_or(900)).
const defaultTimeoutSeconds = 900

// file is the on-disk shape: a flat list under "commands".
type file struct {
	Commands []Command `yaml:"commands"`
}

// Registry holds the current set of declared commands, reloaded whenever
// the backing file changes.
type Registry struct {
	path string

	mu       sync.RWMutex
	byID     map[string]Command
	ordered  []Command

	watcher *fsnotify.Watcher
}

// Load reads path once and starts watching it for further edits. The
// returned Registry's Close stops the watcher.
func Load(path string) (*Registry, error) {
	r := &Registry{path: path, byID: make(map[string]Command)}
	if err := r.reload(); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("projectcmd: creating watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("projectcmd: watching %s: %w", path, err)
	}
	r.watcher = w

	orchlog.SafeGo("projectcmd.watch", r.watch)
	return r, nil
}

func (r *Registry) watch() {
	for {
		select {
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := r.reload(); err != nil {
				orchlog.ErrorErr(orchlog.CatMCP, "failed to reload project commands", err, "path", r.path)
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			orchlog.ErrorErr(orchlog.CatMCP, "project command watcher error", err)
		}
	}
}

func (r *Registry) reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("projectcmd: reading %s: %w", r.path, err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("projectcmd: parsing %s: %w", r.path, err)
	}

	byID := make(map[string]Command, len(f.Commands))
	for i, c := range f.Commands {
		if c.TimeoutSeconds <= 0 {
			c.TimeoutSeconds = defaultTimeoutSeconds
		}
		f.Commands[i] = c
		byID[c.ID] = c
	}

	r.mu.Lock()
	r.byID = byID
	r.ordered = f.Commands
	r.mu.Unlock()
	return nil
}

// List returns every declared command, in file order.
func (r *Registry) List() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Get returns the command with the given id.
func (r *Registry) Get(id string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	return c, ok
}

// Close stops the file watcher.
func (r *Registry) Close() error {
	if r.watcher == nil {
		return nil
	}
	return r.watcher.Close()
}
