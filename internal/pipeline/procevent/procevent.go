// Package procevent defines the events and handles the Process Manager
// hands back to callers and to the Middleware: the ProcessEvent stream per
// run, the ProcessHandle that owns it, and the ProcessLifecycleEvent
// notifications that flow from the Process Manager back to the Middleware.
package procevent

import (
	"time"

	"github.com/kilnforge/agentpipe/internal/pipeline/intent"
)

// ProcessEvent is the sealed sum type streamed on a run's events channel.
// Exactly one of Exit, SpawnFailed, or Killed terminates a given stream.
type ProcessEvent interface {
	isProcessEvent()
	RunID() intent.RunId
}

// OutputStream identifies which child stream a chunk of output came from.
type OutputStream int

const (
	Stdout OutputStream = iota
	Stderr
)

func (s OutputStream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Output carries a chunk of raw bytes read from the child. Sequence is
// monotonic per (RunID, Stream) starting at 0; chunk boundaries carry no
// semantic meaning.
type Output struct {
	Run      intent.RunId
	Stream   OutputStream
	Chunk    []byte
	Sequence uint64
}

func (Output) isProcessEvent()       {}
func (o Output) RunID() intent.RunId { return o.Run }

// OutputError reports a read failure on one stream; it does not terminate
// the run, only that stream's reader.
type OutputError struct {
	Run    intent.RunId
	Stream OutputStream
	Err    error
}

func (OutputError) isProcessEvent()       {}
func (o OutputError) RunID() intent.RunId { return o.Run }

// Exit is a terminal event: the child exited on its own (killed or not).
type Exit struct {
	Run        intent.RunId
	Success    bool
	ExitCode   int
	FinishedAt time.Time
}

func (Exit) isProcessEvent()       {}
func (e Exit) RunID() intent.RunId { return e.Run }

// SpawnFailed is a terminal event: the child could never be launched, or
// waiting on it failed at the OS level.
type SpawnFailed struct {
	Run     intent.RunId
	Message string
}

func (SpawnFailed) isProcessEvent()       {}
func (s SpawnFailed) RunID() intent.RunId { return s.Run }

// Killed is a terminal event: the run was terminated in response to a Kill
// directive before or as it exited.
type Killed struct {
	Run        intent.RunId
	Reason     intent.KillReason
	FinishedAt time.Time
}

func (Killed) isProcessEvent()       {}
func (k Killed) RunID() intent.RunId { return k.Run }

// IsTerminal reports whether e ends the event stream for its run.
func IsTerminal(e ProcessEvent) bool {
	switch e.(type) {
	case Exit, SpawnFailed, Killed:
		return true
	default:
		return false
	}
}

// LifecycleKind identifies the kind of ProcessLifecycleEvent.
type LifecycleKind int

const (
	Starting LifecycleKind = iota
	Finished
	Failed
	LifecycleKilled
)

func (k LifecycleKind) String() string {
	switch k {
	case Starting:
		return "starting"
	case Finished:
		return "finished"
	case Failed:
		return "failed"
	case LifecycleKilled:
		return "killed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether this lifecycle kind removes the run from the
// Middleware's in-flight set.
func (k LifecycleKind) IsTerminal() bool {
	return k == Finished || k == Failed || k == LifecycleKilled
}

// ProcessLifecycleEvent is the PM→MW notification of a run's coarse state
// transition, independent of the detailed ProcessEvent stream.
type ProcessLifecycleEvent struct {
	Run  intent.RunId
	Kind LifecycleKind
}

// KillHandle lets the owner of a ProcessHandle request termination. Calling
// Kill more than once is idempotent from the caller's perspective — only
// the first signal is honored by the Process Manager.
type KillHandle interface {
	Kill(reason intent.KillReason)
}

// EventSubscriber yields the ProcessEvent stream for a run.
type EventSubscriber interface {
	Events() <-chan ProcessEvent
}

// ProcessHandle is owned by the originator of a Spawn intent: one per
// launch, carrying the run id, a lazy stream of events, and a kill handle.
type ProcessHandle struct {
	RunID  intent.RunId
	Events <-chan ProcessEvent
	Kill   KillHandle
}

// HandleSink is the concrete callback a Spawn intent's intent.HandleSink
// resolves to once the Process Manager has constructed a ProcessHandle.
// Implementations must not block if the receiver has gone away — the
// process still launches either way (SPEC_FULL.md §4.3 step 1).
type HandleSink func(ProcessHandle)

// Send adapts a HandleSink to the generic intent.HandleSink interface used
// by the Spawn intent so intent need not import procevent.
func (s HandleSink) Send(handle any) {
	if s == nil {
		return
	}
	ph, ok := handle.(ProcessHandle)
	if !ok {
		return
	}
	s(ph)
}

var _ intent.HandleSink = HandleSink(nil)
