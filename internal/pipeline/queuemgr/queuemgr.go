// Package queuemgr implements the Queue Manager: the single-threaded
// FIFO front door of the pipeline. It accepts ProcessIntents, buffers
// them while paused, forwards them to the Middleware once resumed, and
// owns the message mailbox (list/delete/reorder) that callers use to
// inspect and curate pending work. After every command, once its result
// has been handed back, the loop drains the shared system-event log into
// persistence, per SPEC_FULL.md §4.1. The FIFO command-mailbox shape is grounded on the teacher's
// v2/processor.CommandProcessor.
package queuemgr

import (
	"context"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/kilnforge/agentpipe/internal/orchlog"
	"github.com/kilnforge/agentpipe/internal/pipeline/intent"
	"github.com/kilnforge/agentpipe/internal/pipeline/middleware"
	"github.com/kilnforge/agentpipe/internal/pipeline/state"
	"github.com/kilnforge/agentpipe/internal/telemetry"
)

// DefaultCommandCapacity is the default buffer size of the command mailbox.
const DefaultCommandCapacity = 64

// Message is a unit of mailbox content: a note routed to (or from) a
// participant, independent of any in-flight process run.
type Message struct {
	ID        string
	Sender    string
	Recipient string
	Body      string
	Position  int64 // monotonically increasing; defines FIFO/display order
}

// MessageFilter narrows ListMessages. Zero-value fields match anything.
type MessageFilter struct {
	Recipient string
	Sender    string
}

func (f MessageFilter) matches(m Message) bool {
	if f.Recipient != "" && m.Recipient != f.Recipient {
		return false
	}
	if f.Sender != "" && m.Sender != f.Sender {
		return false
	}
	return true
}

// InsertAnchor describes where InsertMessageRelative places a new message
// relative to an existing one.
type InsertAnchor struct {
	AnchorID string
	Before   bool // true: insert immediately before AnchorID; false: after
}

// MessageRepository is the delegation target for mailbox commands. A
// persistence-backed implementation lives outside this package
// (internal/persistence/sqlite); SPEC_FULL.md §6 treats message storage as
// opaque to the core, so queuemgr only depends on this interface.
type MessageRepository interface {
	ListMessages(filter MessageFilter) ([]Message, error)
	DeleteAllMessages() error
	DeleteMessageById(id string) error
	DeleteMessagesForRecipient(recipient string) error
	InsertMessageRelative(msg Message, anchor InsertAnchor) error
}

// EventSink persists the system-event log the QueueCoordinator accumulates.
// Implementations outside this package may write to sqlite, a file feed, or
// nothing at all (NopEventSink).
type EventSink interface {
	Persist(events []state.SystemEvent) error
}

// NopEventSink discards events. Useful for tests and for callers that do
// not want persistence wired in.
type NopEventSink struct{}

// Persist implements EventSink by discarding events.
func (NopEventSink) Persist([]state.SystemEvent) error { return nil }

type opKind int

const (
	opEnqueueIntent opKind = iota
	opPause
	opResume
	opListMessages
	opDeleteAllMessages
	opDeleteMessageByID
	opDeleteMessagesForRecipient
	opInsertMessageRelative
)

var opKindNames = [...]string{
	"enqueue_intent", "pause", "resume", "list_messages",
	"delete_all_messages", "delete_message_by_id", "delete_messages_for_recipient",
	"insert_message_relative",
}

func (k opKind) String() string {
	if int(k) < 0 || int(k) >= len(opKindNames) {
		return "unknown"
	}
	return opKindNames[k]
}

type request struct {
	op        opKind
	intent    intent.ProcessIntent
	filter    MessageFilter
	messageID string
	recipient string
	message   Message
	anchor    InsertAnchor
	resultCh  chan response
}

type response struct {
	messages []Message
	err      error
}

// Option configures a QueueManager.
type Option func(*QueueManager)

// WithCommandCapacity sets the command mailbox buffer size.
func WithCommandCapacity(capacity int) Option {
	return func(qm *QueueManager) { qm.cmdCapacity = capacity }
}

// WithEventSink sets the destination for drained system events.
func WithEventSink(sink EventSink) Option {
	return func(qm *QueueManager) { qm.sink = sink }
}

// WithTracer sets the tracer used to span each processed command. Defaults
// to a no-op tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(qm *QueueManager) { qm.tracer = tracer }
}

// QueueManager is the pipeline's single-threaded front door.
type QueueManager struct {
	cmdCapacity int
	mw          *middleware.Middleware
	repo        MessageRepository
	coordinator *state.QueueCoordinator
	sink        EventSink
	tracer      trace.Tracer

	cmdCh chan request

	mu             sync.Mutex
	paused         bool
	pendingIntents []intent.ProcessIntent

	startOnce sync.Once
	readyCh   chan struct{}
}

// New constructs a QueueManager. It starts paused, per SPEC_FULL.md §9:
// intents submitted before the first Resume are buffered in FIFO order
// and replayed once Resume is processed.
func New(mw *middleware.Middleware, repo MessageRepository, coordinator *state.QueueCoordinator, opts ...Option) *QueueManager {
	qm := &QueueManager{
		cmdCapacity: DefaultCommandCapacity,
		mw:          mw,
		repo:        repo,
		coordinator: coordinator,
		sink:        NopEventSink{},
		tracer:      noop.NewTracerProvider().Tracer("noop"),
		paused:      true,
		readyCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(qm)
	}
	return qm
}

// Run starts the command loop. Blocks until ctx is cancelled.
func (qm *QueueManager) Run(ctx context.Context) {
	qm.cmdCh = make(chan request, qm.cmdCapacity)
	qm.startOnce.Do(func() { close(qm.readyCh) })

	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-qm.cmdCh:
			if !ok {
				return
			}
			qm.process(ctx, req)
			qm.drainEvents()
		}
	}
}

// WaitForReady blocks until Run has initialized the command mailbox.
func (qm *QueueManager) WaitForReady(ctx context.Context) error {
	select {
	case <-qm.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (qm *QueueManager) submit(ctx context.Context, req request) response {
	select {
	case qm.cmdCh <- req:
	case <-ctx.Done():
		return response{err: ctx.Err()}
	}
	select {
	case resp := <-req.resultCh:
		return resp
	case <-ctx.Done():
		return response{err: ctx.Err()}
	}
}

// EnqueueProcessIntent submits an intent. While paused it is buffered; once
// resumed it is forwarded to the Middleware immediately, in FIFO order
// relative to other buffered intents.
func (qm *QueueManager) EnqueueProcessIntent(ctx context.Context, i intent.ProcessIntent) error {
	resp := qm.submit(ctx, request{op: opEnqueueIntent, intent: i, resultCh: make(chan response, 1)})
	return resp.err
}

// Pause stops forwarding intents to the Middleware; subsequent
// EnqueueProcessIntent calls buffer until Resume.
func (qm *QueueManager) Pause(ctx context.Context) error {
	resp := qm.submit(ctx, request{op: opPause, resultCh: make(chan response, 1)})
	return resp.err
}

// Resume forwards any buffered intents to the Middleware in FIFO order,
// then resumes immediate forwarding.
func (qm *QueueManager) Resume(ctx context.Context) error {
	resp := qm.submit(ctx, request{op: opResume, resultCh: make(chan response, 1)})
	return resp.err
}

// ListMessages returns mailbox entries matching filter.
func (qm *QueueManager) ListMessages(ctx context.Context, filter MessageFilter) ([]Message, error) {
	resp := qm.submit(ctx, request{op: opListMessages, filter: filter, resultCh: make(chan response, 1)})
	return resp.messages, resp.err
}

// DeleteAllMessages clears the mailbox.
func (qm *QueueManager) DeleteAllMessages(ctx context.Context) error {
	resp := qm.submit(ctx, request{op: opDeleteAllMessages, resultCh: make(chan response, 1)})
	return resp.err
}

// DeleteMessageById removes a single message. Returns ErrMessageNotFound if
// absent.
func (qm *QueueManager) DeleteMessageById(ctx context.Context, id string) error {
	resp := qm.submit(ctx, request{op: opDeleteMessageByID, messageID: id, resultCh: make(chan response, 1)})
	return resp.err
}

// DeleteMessagesForRecipient removes every message addressed to recipient.
func (qm *QueueManager) DeleteMessagesForRecipient(ctx context.Context, recipient string) error {
	resp := qm.submit(ctx, request{op: opDeleteMessagesForRecipient, recipient: recipient, resultCh: make(chan response, 1)})
	return resp.err
}

// InsertMessageRelative inserts msg immediately before or after an existing
// message.
func (qm *QueueManager) InsertMessageRelative(ctx context.Context, msg Message, anchor InsertAnchor) error {
	resp := qm.submit(ctx, request{op: opInsertMessageRelative, message: msg, anchor: anchor, resultCh: make(chan response, 1)})
	return resp.err
}

func (qm *QueueManager) process(ctx context.Context, req request) {
	ctx, span := qm.tracer.Start(ctx, telemetry.SpanPrefixQueue+req.op.String(),
		trace.WithAttributes(attribute.String(telemetry.AttrDirectiveKind, req.op.String())))
	defer span.End()

	var resp response
	switch req.op {
	case opEnqueueIntent:
		resp.err = qm.handleEnqueue(ctx, req.intent)
	case opPause:
		qm.mu.Lock()
		qm.paused = true
		qm.mu.Unlock()
	case opResume:
		resp.err = qm.handleResume(ctx)
	case opListMessages:
		if qm.repo == nil {
			resp.err = ErrNotRunning
			break
		}
		msgs, err := qm.repo.ListMessages(req.filter)
		if err != nil {
			resp.err = &DatabaseError{Op: "ListMessages", Err: err}
			break
		}
		sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Position < msgs[j].Position })
		resp.messages = msgs
	case opDeleteAllMessages:
		if qm.repo == nil {
			resp.err = ErrNotRunning
			break
		}
		if err := qm.repo.DeleteAllMessages(); err != nil {
			resp.err = &DatabaseError{Op: "DeleteAllMessages", Err: err}
		}
	case opDeleteMessageByID:
		if qm.repo == nil {
			resp.err = ErrNotRunning
			break
		}
		if err := qm.repo.DeleteMessageById(req.messageID); err != nil {
			resp.err = &DatabaseError{Op: "DeleteMessageById", Err: err}
		}
	case opDeleteMessagesForRecipient:
		if qm.repo == nil {
			resp.err = ErrNotRunning
			break
		}
		if err := qm.repo.DeleteMessagesForRecipient(req.recipient); err != nil {
			resp.err = &DatabaseError{Op: "DeleteMessagesForRecipient", Err: err}
		}
	case opInsertMessageRelative:
		if qm.repo == nil {
			resp.err = ErrNotRunning
			break
		}
		if err := qm.repo.InsertMessageRelative(req.message, req.anchor); err != nil {
			resp.err = &DatabaseError{Op: "InsertMessageRelative", Err: err}
		}
	}
	if req.resultCh != nil {
		req.resultCh <- resp
		close(req.resultCh)
	}
}

func (qm *QueueManager) handleEnqueue(ctx context.Context, i intent.ProcessIntent) error {
	qm.mu.Lock()
	paused := qm.paused
	if paused {
		qm.pendingIntents = append(qm.pendingIntents, i)
		qm.mu.Unlock()
		return nil
	}
	qm.mu.Unlock()
	return qm.forward(ctx, i)
}

func (qm *QueueManager) handleResume(ctx context.Context) error {
	qm.mu.Lock()
	buffered := qm.pendingIntents
	qm.pendingIntents = nil
	qm.paused = false
	qm.mu.Unlock()

	for idx, i := range buffered {
		if err := qm.forward(ctx, i); err != nil {
			// Re-pause and restore the intent that failed plus everything
			// after it — everything before it already reached the
			// Middleware and must not be forwarded again on a retry.
			qm.mu.Lock()
			qm.paused = true
			qm.pendingIntents = append([]intent.ProcessIntent{}, buffered[idx:]...)
			qm.mu.Unlock()
			return err
		}
	}
	return nil
}

func (qm *QueueManager) forward(ctx context.Context, i intent.ProcessIntent) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if !qm.mw.Ingest(i) {
		orchlog.Warn(orchlog.CatQueue, "middleware rejected intent", "run_id", runIDOf(i))
		return ErrMiddlewareSend
	}
	return nil
}

func runIDOf(i intent.ProcessIntent) string {
	switch v := i.(type) {
	case intent.Spawn:
		return v.Request.Metadata.RunID.String()
	case intent.Kill:
		return v.RunID.String()
	case intent.AdjustPriority:
		return v.RunID.String()
	default:
		return ""
	}
}

func (qm *QueueManager) drainEvents() {
	if qm.coordinator == nil {
		return
	}
	events := qm.coordinator.DrainEvents()
	if len(events) == 0 {
		return
	}
	if err := qm.sink.Persist(events); err != nil {
		orchlog.ErrorErr(orchlog.CatQueue, "failed to persist drained system events", err)
	}
}
