package procmgr

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnforge/agentpipe/internal/pipeline/directive"
	"github.com/kilnforge/agentpipe/internal/pipeline/intent"
	"github.com/kilnforge/agentpipe/internal/pipeline/procevent"
)

// fakeMiddleware stands in for *middleware.Middleware: a directive source
// plus a lifecycle sink, recording every reported transition.
type fakeMiddleware struct {
	directives chan directive.ProcessDirective

	mu        sync.Mutex
	lifecycle []procevent.ProcessLifecycleEvent
}

func newFakeMiddleware() *fakeMiddleware {
	return &fakeMiddleware{directives: make(chan directive.ProcessDirective, 16)}
}

func (f *fakeMiddleware) Directives() <-chan directive.ProcessDirective { return f.directives }

func (f *fakeMiddleware) ReportLifecycle(e procevent.ProcessLifecycleEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lifecycle = append(f.lifecycle, e)
}

func (f *fakeMiddleware) kinds() []procevent.LifecycleKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]procevent.LifecycleKind, len(f.lifecycle))
	for i, e := range f.lifecycle {
		out[i] = e.Kind
	}
	return out
}

type capturingSink struct {
	mu      sync.Mutex
	handles []procevent.ProcessHandle
}

func (c *capturingSink) Send(h procevent.ProcessHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handles = append(c.handles, h)
}

func (c *capturingSink) last() (procevent.ProcessHandle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.handles) == 0 {
		return procevent.ProcessHandle{}, false
	}
	return c.handles[len(c.handles)-1], true
}

func setupPM(t *testing.T) (*ProcessManager, *fakeMiddleware, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	fm := newFakeMiddleware()
	pm := New(fm)
	go pm.Run(ctx)
	require.NoError(t, pm.WaitForReady(ctx))
	t.Cleanup(cancel)
	return pm, fm, cancel
}

func launch(program string, args ...string) (directive.Launch, *capturingSink) {
	sink := &capturingSink{}
	run := intent.NewRunId()
	return directive.Launch{
		Run: run,
		Request: intent.ProcessSpawnIntent{
			Metadata:     intent.RunMetadata{RunID: run, Priority: intent.Normal},
			Program:      program,
			Args:         args,
			StreamStdout: true,
			StreamStderr: true,
		},
		HandleSink: procevent.HandleSink(sink.Send),
	}, sink
}

func TestProcessManager_LaunchSuccessfulExit(t *testing.T) {
	pm, fm, _ := setupPM(t)
	l, sink := launch("/bin/echo", "hello")

	fm.directives <- l

	var handle procevent.ProcessHandle
	require.Eventually(t, func() bool {
		h, ok := sink.last()
		if ok {
			handle = h
		}
		return ok
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, l.Run, handle.RunID)

	var exit procevent.Exit
	found := false
	for e := range handle.Events {
		if ex, ok := e.(procevent.Exit); ok {
			exit = ex
			found = true
		}
	}
	require.True(t, found, "expected an Exit event")
	assert.True(t, exit.Success)
	assert.Equal(t, 0, exit.ExitCode)

	require.Eventually(t, func() bool {
		return len(pm.ActiveRuns()) == 0
	}, time.Second, 5*time.Millisecond)

	kinds := fm.kinds()
	require.Len(t, kinds, 2)
	assert.Equal(t, procevent.Starting, kinds[0])
	assert.Equal(t, procevent.Finished, kinds[1])
}

func TestProcessManager_SpawnFailureReportsFailed(t *testing.T) {
	pm, fm, _ := setupPM(t)
	l, sink := launch("/no/such/binary-xyz")

	fm.directives <- l

	require.Eventually(t, func() bool {
		_, ok := sink.last()
		return ok
	}, time.Second, 5*time.Millisecond)

	handle, _ := sink.last()
	var failed procevent.SpawnFailed
	found := false
	for e := range handle.Events {
		if sf, ok := e.(procevent.SpawnFailed); ok {
			failed = sf
			found = true
		}
	}
	require.True(t, found)
	assert.NotEmpty(t, failed.Message)

	require.Eventually(t, func() bool {
		kinds := fm.kinds()
		return len(kinds) == 1 && kinds[0] == procevent.Failed
	}, time.Second, 5*time.Millisecond)
}

func TestProcessManager_KillTerminatesRunningChild(t *testing.T) {
	pm, fm, _ := setupPM(t)
	l, sink := launch("/bin/sleep", "30")

	fm.directives <- l
	require.Eventually(t, func() bool {
		_, ok := sink.last()
		return ok
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool { return len(pm.ActiveRuns()) == 1 }, time.Second, 5*time.Millisecond)

	fm.directives <- directive.Kill{Run: l.Run, Reason: intent.KillUserRequested()}

	handle, _ := sink.last()
	var killed procevent.Killed
	found := false
	for e := range handle.Events {
		if k, ok := e.(procevent.Killed); ok {
			killed = k
			found = true
		}
	}
	require.True(t, found)
	assert.True(t, killed.Reason.IsUserRequested())

	require.Eventually(t, func() bool {
		kinds := fm.kinds()
		return len(kinds) == 2 && kinds[1] == procevent.LifecycleKilled
	}, time.Second, 5*time.Millisecond)
}

func TestProcessManager_KillOfInactiveRunIsNoOp(t *testing.T) {
	pm, fm, _ := setupPM(t)

	fm.directives <- directive.Kill{Run: intent.NewRunId(), Reason: intent.KillUserRequested()}

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, fm.kinds())
	assert.Empty(t, pm.ActiveRuns())
}

func TestProcessManager_UpdatePriorityIsAdvisoryOnly(t *testing.T) {
	pm, fm, _ := setupPM(t)
	l, sink := launch("/bin/sleep", "30")

	fm.directives <- l
	require.Eventually(t, func() bool {
		_, ok := sink.last()
		return ok
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(pm.ActiveRuns()) == 1 }, time.Second, 5*time.Millisecond)

	fm.directives <- directive.UpdatePriority{Run: l.Run, NewPriority: intent.Critical}

	require.Eventually(t, func() bool {
		runs := pm.ActiveRuns()
		return len(runs) == 1 && runs[0].Priority == intent.Critical
	}, time.Second, 5*time.Millisecond)

	// cleanup: the OS process is never signaled by a priority update, so it
	// must still be killed explicitly.
	fm.directives <- directive.Kill{Run: l.Run, Reason: intent.KillShutdown()}
	require.Eventually(t, func() bool { return len(pm.ActiveRuns()) == 0 }, time.Second, 5*time.Millisecond)
}
