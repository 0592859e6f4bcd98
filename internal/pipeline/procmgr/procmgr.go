// Package procmgr implements the Process Manager: the pipeline stage that
// executes Launch/Kill/UpdatePriority directives against real OS
// processes. Each Launch gets its own supervisor goroutine (spawn, stream
// output, race completion against a kill request); PID-to-RunId bookkeeping
// lives here so Kill directives can be applied without the Middleware
// knowing anything about OS process identity.
package procmgr

import (
	"context"
	"sync"
	"time"

	"github.com/kilnforge/agentpipe/internal/orchlog"
	"github.com/kilnforge/agentpipe/internal/pipeline/directive"
	"github.com/kilnforge/agentpipe/internal/pipeline/intent"
	"github.com/kilnforge/agentpipe/internal/pipeline/procevent"
)

// LifecycleReporter is the subset of *middleware.Middleware the Process
// Manager depends on, kept narrow so tests can stub it.
type LifecycleReporter interface {
	ReportLifecycle(procevent.ProcessLifecycleEvent)
}

// ActiveRun is a snapshot of one in-flight run, returned by ActiveRuns.
type ActiveRun struct {
	RunID     intent.RunId
	Priority  intent.RunPriority
	StartedAt time.Time
}

// ProcessManager consumes directives and drives OS processes. Not safe to
// call Run more than once.
type ProcessManager struct {
	directives <-chan directive.ProcessDirective
	reporter   LifecycleReporter

	mu     sync.RWMutex
	active map[intent.RunId]*runSupervisor

	startOnce sync.Once
	readyCh   chan struct{}
}

// New constructs a ProcessManager reading directives from mw and reporting
// lifecycle transitions back to it.
func New(mw interface {
	Directives() <-chan directive.ProcessDirective
	LifecycleReporter
}) *ProcessManager {
	return &ProcessManager{
		directives: mw.Directives(),
		reporter:   mw,
		active:     make(map[intent.RunId]*runSupervisor),
		readyCh:    make(chan struct{}),
	}
}

// WaitForReady blocks until Run has started consuming directives.
func (pm *ProcessManager) WaitForReady(ctx context.Context) error {
	select {
	case <-pm.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveRuns returns a snapshot of every run the Process Manager currently
// considers active.
func (pm *ProcessManager) ActiveRuns() []ActiveRun {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	runs := make([]ActiveRun, 0, len(pm.active))
	for id, sup := range pm.active {
		runs = append(runs, ActiveRun{RunID: id, Priority: sup.Priority(), StartedAt: sup.startedAt})
	}
	return runs
}

// Run consumes directives until ctx is cancelled or the directive channel
// closes (the Middleware has shut down). Each directive is handled without
// blocking Run itself: Launch spawns a goroutine per run, Kill and
// UpdatePriority are applied to already-running supervisors directly.
func (pm *ProcessManager) Run(ctx context.Context) {
	pm.startOnce.Do(func() { close(pm.readyCh) })

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-pm.directives:
			if !ok {
				return
			}
			pm.handle(ctx, d)
		}
	}
}

func (pm *ProcessManager) handle(ctx context.Context, d directive.ProcessDirective) {
	switch v := d.(type) {
	case directive.Launch:
		pm.handleLaunch(ctx, v)
	case directive.Kill:
		pm.handleKill(v)
	case directive.UpdatePriority:
		pm.handleUpdatePriority(v)
	}
}

// handleLaunch starts a new supervisor and delivers a ProcessHandle to the
// caller via the Launch directive's HandleSink before the child necessarily
// finishes running — the caller only needs to know how to observe and kill
// it, per SPEC_FULL.md §4.3 step 1.
func (pm *ProcessManager) handleLaunch(ctx context.Context, l directive.Launch) {
	sup := newRunSupervisor(l.Run, l.Request.Metadata.Priority)

	pm.mu.Lock()
	pm.active[l.Run] = sup
	pm.mu.Unlock()

	if l.HandleSink != nil {
		l.HandleSink.Send(procevent.ProcessHandle{
			RunID:  l.Run,
			Events: sup.Events(),
			Kill:   sup,
		})
	}

	if !sup.spawn(ctx, l.Request) {
		pm.removeActive(l.Run)
		pm.reporter.ReportLifecycle(procevent.ProcessLifecycleEvent{Run: l.Run, Kind: procevent.Failed})
		return
	}

	pm.reporter.ReportLifecycle(procevent.ProcessLifecycleEvent{Run: l.Run, Kind: procevent.Starting})

	orchlog.SafeGo("procmgr.supervise."+string(l.Run), func() {
		kind := sup.run()
		pm.removeActive(l.Run)
		pm.reporter.ReportLifecycle(procevent.ProcessLifecycleEvent{Run: l.Run, Kind: kind})
	})
}

func (pm *ProcessManager) handleKill(k directive.Kill) {
	pm.mu.RLock()
	sup, ok := pm.active[k.Run]
	pm.mu.RUnlock()
	if !ok {
		// Per SPEC_FULL.md §9 resolution of the Kill-before-Spawn open
		// question: a Kill naming a run not yet active is a no-op, not an
		// error surfaced to the caller.
		orchlog.Debug(orchlog.CatProcess, "kill directive for inactive run, ignoring", "run_id", k.Run)
		return
	}
	sup.Kill(k.Reason)
}

func (pm *ProcessManager) handleUpdatePriority(u directive.UpdatePriority) {
	pm.mu.RLock()
	sup, ok := pm.active[u.Run]
	pm.mu.RUnlock()
	if !ok {
		orchlog.Debug(orchlog.CatProcess, "priority update for inactive run, ignoring", "run_id", u.Run)
		return
	}
	sup.setPriority(u.NewPriority)
	orchlog.Info(orchlog.CatProcess, "advisory priority updated", "run_id", u.Run, "priority", u.NewPriority.String())
}

func (pm *ProcessManager) removeActive(id intent.RunId) {
	pm.mu.Lock()
	delete(pm.active, id)
	pm.mu.Unlock()
}
