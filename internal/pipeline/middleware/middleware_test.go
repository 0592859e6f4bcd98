package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnforge/agentpipe/internal/pipeline/directive"
	"github.com/kilnforge/agentpipe/internal/pipeline/intent"
	"github.com/kilnforge/agentpipe/internal/pipeline/procevent"
)

type fakeHandleSink struct{}

func (fakeHandleSink) Send(any) {}

func newSpawn(priority intent.RunPriority) intent.Spawn {
	return intent.Spawn{
		Request: intent.ProcessSpawnIntent{
			Metadata: intent.RunMetadata{RunID: intent.NewRunId(), Priority: priority},
			Program:  "true",
		},
		HandleSink: fakeHandleSink{},
		At:         time.Unix(0, 0),
	}
}

func setupMiddleware(t *testing.T, opts ...Option) (*Middleware, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	m := New(opts...)
	go m.Run(ctx)
	require.NoError(t, m.WaitForReady(ctx))
	t.Cleanup(cancel)
	return m, cancel
}

func TestMiddleware_BatchesSpawnsWithinWindowIntoOneLaunchSet(t *testing.T) {
	m, _ := setupMiddleware(t, WithBatchWindow(50*time.Millisecond), WithMaxBatch(8))

	ids := make(map[intent.RunId]bool)
	for i := 0; i < 3; i++ {
		s := newSpawn(intent.Normal)
		ids[s.Request.Metadata.RunID] = true
		require.True(t, m.Ingest(s))
	}

	directives := m.Directives()
	seen := make(map[intent.RunId]bool)
	for len(seen) < 3 {
		select {
		case d := <-directives:
			launch, ok := d.(directive.Launch)
			require.True(t, ok, "expected a Launch directive, got %T", d)
			seen[launch.Run] = true
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for launches, got %d/3", len(seen))
		}
	}
	assert.Equal(t, ids, seen)
}

func TestMiddleware_PriorityIntentPreemptsBatchAccumulation(t *testing.T) {
	m, _ := setupMiddleware(t, WithBatchWindow(time.Hour), WithMaxBatch(64))

	spawn := newSpawn(intent.Normal)
	require.True(t, m.Ingest(spawn))
	time.Sleep(20 * time.Millisecond) // let the spawn start accumulating

	killID := intent.NewRunId()
	require.True(t, m.Ingest(intent.Kill{RunID: killID, Reason: intent.KillUserRequested(), At: time.Unix(0, 0)}))

	// The kill cuts the hour-long window short: the accumulating batch is
	// flushed first, then the kill follows as its own singleton batch.
	var got []directive.ProcessDirective
	for len(got) < 2 {
		select {
		case d := <-m.Directives():
			got = append(got, d)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for the flushed batch and preempting kill directive")
		}
	}
	launch, ok := got[0].(directive.Launch)
	require.True(t, ok, "expected the flushed Launch directive first, got %T", got[0])
	assert.Equal(t, spawn.Request.Metadata.RunID, launch.Run)
	k, ok := got[1].(directive.Kill)
	require.True(t, ok, "expected Kill directive after the flushed batch, got %T", got[1])
	assert.Equal(t, killID, k.Run)
}

func TestMiddleware_SpawnsOrderedByPriorityWithinABatch(t *testing.T) {
	m, _ := setupMiddleware(t, WithBatchWindow(50*time.Millisecond), WithMaxBatch(8))

	low := newSpawn(intent.Low)
	critical := newSpawn(intent.Critical)
	require.True(t, m.Ingest(low))
	require.True(t, m.Ingest(critical))

	var order []intent.RunId
	for i := 0; i < 2; i++ {
		select {
		case d := <-m.Directives():
			launch := d.(directive.Launch)
			order = append(order, launch.Run)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for launches")
		}
	}
	require.Equal(t, []intent.RunId{critical.Request.Metadata.RunID, low.Request.Metadata.RunID}, order)
}

func TestMiddleware_TerminalLifecycleEventClearsInFlightTracking(t *testing.T) {
	m, _ := setupMiddleware(t, WithBatchWindow(20*time.Millisecond))

	s := newSpawn(intent.Normal)
	require.True(t, m.Ingest(s))

	select {
	case <-m.Directives():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for launch")
	}
	require.Eventually(t, func() bool { return m.InFlightCount() == 1 }, time.Second, 5*time.Millisecond)

	m.ReportLifecycle(procevent.ProcessLifecycleEvent{Run: s.Request.Metadata.RunID, Kind: procevent.Finished})
	assert.Eventually(t, func() bool { return m.InFlightCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestMiddleware_IngestReturnsFalseWhenChannelFull(t *testing.T) {
	m, _ := setupMiddleware(t, WithIntentCapacity(1), WithBatchWindow(time.Hour))

	// First Ingest is consumed by collectBatch almost immediately, so fill
	// the channel directly instead of racing the consumer loop.
	for i := 0; i < 1000; i++ {
		if !m.Ingest(newSpawn(intent.Normal)) {
			return
		}
	}
	t.Fatal("expected Ingest to eventually report back-pressure")
}
