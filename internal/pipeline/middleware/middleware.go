// Package middleware implements the batching-and-reduction stage of the
// process-execution pipeline: it accumulates intents within a sliding time
// window, collapses them against in-flight run state, and emits ordered,
// prioritized directives for the Process Manager.
//
// Like the Queue Manager and Process Manager, Middleware is a single
// long-lived consumer loop — the same per-stage-reducer shape the teacher
// repository uses for its v2 command processor (internal/orchestration/v2/processor),
// generalized here from "one FIFO command queue" to "two input channels
// (intents, lifecycle) reduced into one output channel (directives)".
package middleware

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kilnforge/agentpipe/internal/orchlog"
	"github.com/kilnforge/agentpipe/internal/pipeline/directive"
	"github.com/kilnforge/agentpipe/internal/pipeline/intent"
	"github.com/kilnforge/agentpipe/internal/pipeline/procevent"
)

// Default channel capacities and batching parameters, per SPEC_FULL.md §5.
const (
	DefaultIntentCapacity    = 256
	DefaultLifecycleCapacity = 256
	DefaultDirectiveCapacity = 256
	DefaultBatchWindow       = 500 * time.Millisecond
	DefaultMaxBatch          = 64
)

// runState is the in-flight bookkeeping the Middleware keeps per run id.
type runState struct {
	metadata        intent.RunMetadata
	desiredPriority intent.RunPriority
	cancelRequested bool
}

// Option configures a Middleware before Run is called.
type Option func(*Middleware)

// WithBatchWindow overrides the accumulation window (default 500ms).
func WithBatchWindow(d time.Duration) Option {
	return func(m *Middleware) { m.batchWindow = d }
}

// WithMaxBatch overrides the maximum intents per batch (default 64).
func WithMaxBatch(n int) Option {
	return func(m *Middleware) { m.maxBatch = n }
}

// WithIntentCapacity overrides the intent channel buffer size.
func WithIntentCapacity(n int) Option {
	return func(m *Middleware) { m.intentCapacity = n }
}

// WithLifecycleCapacity overrides the lifecycle channel buffer size.
func WithLifecycleCapacity(n int) Option {
	return func(m *Middleware) { m.lifecycleCapacity = n }
}

// WithDirectiveCapacity overrides the directive channel buffer size.
func WithDirectiveCapacity(n int) Option {
	return func(m *Middleware) { m.directiveCapacity = n }
}

// Middleware batches intents and reduces them into directives. It is not
// safe to call Run more than once.
type Middleware struct {
	batchWindow       time.Duration
	maxBatch          int
	intentCapacity    int
	lifecycleCapacity int
	directiveCapacity int

	intentCh    chan intent.ProcessIntent
	lifecycleCh chan procevent.ProcessLifecycleEvent
	directiveCh chan directive.ProcessDirective

	mu       sync.RWMutex
	inFlight map[intent.RunId]*runState

	startOnce sync.Once
	readyCh   chan struct{}
}

// New constructs a Middleware. Call Run to start its consumer loop.
func New(opts ...Option) *Middleware {
	m := &Middleware{
		batchWindow:       DefaultBatchWindow,
		maxBatch:          DefaultMaxBatch,
		intentCapacity:    DefaultIntentCapacity,
		lifecycleCapacity: DefaultLifecycleCapacity,
		directiveCapacity: DefaultDirectiveCapacity,
		inFlight:          make(map[intent.RunId]*runState),
		readyCh:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Directives returns the channel the Process Manager reads from.
func (m *Middleware) Directives() <-chan directive.ProcessDirective {
	return m.directiveCh
}

// Ingest submits an intent for batching. Returns false if the Middleware's
// intent channel is full or not yet running (back-pressure, not an error —
// callers decide how to react).
func (m *Middleware) Ingest(i intent.ProcessIntent) bool {
	select {
	case m.intentCh <- i:
		return true
	default:
		return false
	}
}

// ReportLifecycle submits a PM→MW lifecycle notification. Non-blocking: if
// the lifecycle channel is full the event is dropped and logged, matching
// the "lifecycle events are eventually consistent" guarantee in SPEC_FULL.md §5.
func (m *Middleware) ReportLifecycle(e procevent.ProcessLifecycleEvent) {
	select {
	case m.lifecycleCh <- e:
	default:
		orchlog.Warn(orchlog.CatMiddleware, "lifecycle channel full, dropping event", "run_id", e.Run, "kind", e.Kind.String())
	}
}

// InFlightCount returns the number of runs the Middleware currently
// considers in-flight. Intended for tests and diagnostics.
func (m *Middleware) InFlightCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.inFlight)
}

// Run starts the Middleware's single-consumer loop. It blocks until ctx is
// cancelled or the intent channel closes. On cancellation the batch being
// collected is still reduced, but each directive send gives up once ctx is
// done, so directives of that batch may be dropped; intents still queued in
// the intent channel are not processed before Run returns.
func (m *Middleware) Run(ctx context.Context) {
	m.startOnce.Do(func() {
		m.intentCh = make(chan intent.ProcessIntent, m.intentCapacity)
		m.lifecycleCh = make(chan procevent.ProcessLifecycleEvent, m.lifecycleCapacity)
		m.directiveCh = make(chan directive.ProcessDirective, m.directiveCapacity)
		close(m.readyCh)
	})

	defer close(m.directiveCh)

	for {
		batch, ok := m.collectBatch(ctx)
		if len(batch) > 0 {
			m.reduceAndEmit(ctx, batch)
		}
		if !ok {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// WaitForReady blocks until Run has initialized its channels.
func (m *Middleware) WaitForReady(ctx context.Context) error {
	select {
	case <-m.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// collectBatch implements the batching policy of SPEC_FULL.md §4.2: wait for
// one intent, then accumulate up to batch_window/max_batch, with priority
// intents preempting accumulation into their own singleton batch. The bool
// return is false when the intent channel has closed (caller should stop
// after draining the returned batch).
func (m *Middleware) collectBatch(ctx context.Context) ([]intent.ProcessIntent, bool) {
	m.drainLifecycle()

	var first intent.ProcessIntent
	select {
	case i, ok := <-m.intentCh:
		if !ok {
			return nil, false
		}
		first = i
	case ev := <-m.lifecycleCh:
		m.applyLifecycle(ev)
		return nil, true
	case <-ctx.Done():
		return nil, false
	}

	if intent.IsPriority(first) {
		return []intent.ProcessIntent{first}, true
	}

	batch := []intent.ProcessIntent{first}
	timer := time.NewTimer(m.batchWindow)
	defer timer.Stop()

	for len(batch) < m.maxBatch {
		select {
		case i, ok := <-m.intentCh:
			if !ok {
				return batch, false
			}
			if intent.IsPriority(i) {
				// Flush the accumulating batch now; the priority intent
				// dispatches as its own singleton batch immediately after.
				m.reduceAndEmit(ctx, batch)
				return []intent.ProcessIntent{i}, true
			}
			batch = append(batch, i)
		case ev := <-m.lifecycleCh:
			m.applyLifecycle(ev)
		case <-timer.C:
			return batch, true
		case <-ctx.Done():
			return batch, false
		}
	}
	return batch, true
}

// drainLifecycle opportunistically applies any lifecycle events already
// queued, without blocking.
func (m *Middleware) drainLifecycle() {
	for {
		select {
		case ev := <-m.lifecycleCh:
			m.applyLifecycle(ev)
		default:
			return
		}
	}
}

func (m *Middleware) applyLifecycle(ev procevent.ProcessLifecycleEvent) {
	if !ev.Kind.IsTerminal() {
		return
	}
	m.mu.Lock()
	delete(m.inFlight, ev.Run)
	m.mu.Unlock()
}

// reduceAndEmit implements SPEC_FULL.md §4.2 step 1-3: update tracking,
// partition, and emit kills before spawns (priority-sorted) before priority
// updates. Directive sends are blocking (respecting channel backpressure
// and overall batch ordering); a context cancellation mid-send aborts the
// remainder of the batch, matching "MW logs a warning and drops the
// remainder of the batch" when the downstream is gone.
func (m *Middleware) reduceAndEmit(ctx context.Context, batch []intent.ProcessIntent) {
	var kills []intent.Kill
	var spawns []intent.Spawn
	var adjustments []intent.AdjustPriority

	m.mu.Lock()
	for _, i := range batch {
		switch v := i.(type) {
		case intent.Spawn:
			m.inFlight[v.Request.Metadata.RunID] = &runState{
				metadata:        v.Request.Metadata,
				desiredPriority: v.Request.Metadata.Priority,
			}
			spawns = append(spawns, v)
		case intent.Kill:
			if st, ok := m.inFlight[v.RunID]; ok {
				st.cancelRequested = true
			}
			kills = append(kills, v)
		case intent.AdjustPriority:
			if st, ok := m.inFlight[v.RunID]; ok {
				st.desiredPriority = v.NewPriority
			}
			adjustments = append(adjustments, v)
		}
	}
	m.mu.Unlock()

	sort.SliceStable(spawns, func(a, b int) bool {
		return spawns[a].Request.Metadata.Priority < spawns[b].Request.Metadata.Priority
	})

	for _, k := range kills {
		if !m.send(ctx, directive.Kill{Run: k.RunID, Reason: k.Reason}) {
			return
		}
	}
	for _, s := range spawns {
		d := directive.Launch{Run: s.Request.Metadata.RunID, Request: s.Request, HandleSink: s.HandleSink}
		if !m.send(ctx, d) {
			return
		}
	}
	for _, a := range adjustments {
		if !m.send(ctx, directive.UpdatePriority{Run: a.RunID, NewPriority: a.NewPriority}) {
			return
		}
	}
}

func (m *Middleware) send(ctx context.Context, d directive.ProcessDirective) bool {
	select {
	case m.directiveCh <- d:
		return true
	case <-ctx.Done():
		orchlog.Warn(orchlog.CatMiddleware, "directive send aborted, dropping remainder of batch", "run_id", d.RunID())
		return false
	}
}
