// Package intent defines the client-facing vocabulary that enters the
// process-execution pipeline: run identifiers, run metadata, and the
// sum type of operations a caller can request (spawn, kill, re-prioritize).
package intent

import (
	"time"

	"github.com/google/uuid"
)

// RunId globally identifies a single child-process invocation. Immutable
// once generated.
type RunId string

// NewRunId generates a fresh, globally unique RunId.
func NewRunId() RunId {
	return RunId(uuid.NewString())
}

func (r RunId) String() string { return string(r) }

// RunPriority orders runs for dispatch. Lower value sorts first (more urgent).
type RunPriority int

const (
	Critical RunPriority = iota
	High
	Normal
	Low
)

func (p RunPriority) String() string {
	switch p {
	case Critical:
		return "critical"
	case High:
		return "high"
	case Normal:
		return "normal"
	case Low:
		return "low"
	default:
		return "unknown"
	}
}

// RunMetadata travels unchanged through the pipeline from intent issuance
// through to lifecycle reporting.
type RunMetadata struct {
	RunID         RunId
	Persona       string
	WorkspaceRoot string
	Tags          []string
	Priority      RunPriority
	IssuedAt      time.Time
}

// ProcessSpawnIntent fully describes a child process launch. The Process
// Manager consults no external state beyond this struct to launch it.
type ProcessSpawnIntent struct {
	Metadata     RunMetadata
	Program      string
	Args         []string
	Env          map[string]string
	WorkingDir   string
	StreamStdout bool
	StreamStderr bool
	Stdin        []byte // nil means no stdin payload
}

// KillReason explains why a run was terminated.
type KillReason struct {
	kind            killReasonKind
	timeout         time.Duration
	replacedBy      RunId
	dependencyFailed RunId
}

type killReasonKind int

const (
	killUserRequested killReasonKind = iota
	killTimeout
	killReplacedBy
	killDependencyFailed
	killShutdown
)

func KillUserRequested() KillReason { return KillReason{kind: killUserRequested} }
func KillTimeout(d time.Duration) KillReason {
	return KillReason{kind: killTimeout, timeout: d}
}
func KillReplacedBy(id RunId) KillReason {
	return KillReason{kind: killReplacedBy, replacedBy: id}
}
func KillDependencyFailed(id RunId) KillReason {
	return KillReason{kind: killDependencyFailed, dependencyFailed: id}
}
func KillShutdown() KillReason { return KillReason{kind: killShutdown} }

func (k KillReason) String() string {
	switch k.kind {
	case killUserRequested:
		return "user_requested"
	case killTimeout:
		return "timeout:" + k.timeout.String()
	case killReplacedBy:
		return "replaced_by:" + string(k.replacedBy)
	case killDependencyFailed:
		return "dependency_failed:" + string(k.dependencyFailed)
	case killShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// IsUserRequested reports whether this is a user-initiated kill.
func (k KillReason) IsUserRequested() bool { return k.kind == killUserRequested }

// IsShutdown reports whether this kill originates from process shutdown.
func (k KillReason) IsShutdown() bool { return k.kind == killShutdown }

// ProcessIntent is the sealed sum type of operations a client can submit to
// the Queue Manager. Implementations are Spawn, Kill, AdjustPriority.
type ProcessIntent interface {
	isProcessIntent()
	// IssuedAt returns when the caller created the intent.
	IssuedAt() time.Time
}

// HandleSink receives the ProcessHandle once the Process Manager has
// launched (or failed to launch) the child described by a Spawn intent.
// It is a one-shot channel-like sink; implementations must not block the
// Process Manager if the receiver has gone away.
type HandleSink interface {
	// Send delivers the handle. Send is called at most once.
	Send(handle any)
}

// Spawn requests a new run. handle_sink in the distilled specification is
// realized here as a HandleSink the Process Manager calls back on exactly
// once, mirroring the one-shot-sink contract of ProcessHandle delivery.
type Spawn struct {
	Request    ProcessSpawnIntent
	HandleSink HandleSink
	At         time.Time
}

func (Spawn) isProcessIntent()        {}
func (s Spawn) IssuedAt() time.Time    { return s.At }

// Kill requests termination of a run, by reason.
type Kill struct {
	RunID    RunId
	Reason   KillReason
	At       time.Time
}

func (Kill) isProcessIntent()      {}
func (k Kill) IssuedAt() time.Time  { return k.At }

// AdjustPriority requests the in-flight priority of a run be updated.
// The Process Manager treats this advisory, per design note in SPEC_FULL.md §9.
type AdjustPriority struct {
	RunID       RunId
	NewPriority RunPriority
	At          time.Time
}

func (AdjustPriority) isProcessIntent()     {}
func (a AdjustPriority) IssuedAt() time.Time { return a.At }

// IsPriority reports whether an intent is a Kill or AdjustPriority — the two
// variants that preempt an accumulating Middleware batch (SPEC_FULL.md §4.2).
func IsPriority(i ProcessIntent) bool {
	switch i.(type) {
	case Kill, AdjustPriority:
		return true
	default:
		return false
	}
}
