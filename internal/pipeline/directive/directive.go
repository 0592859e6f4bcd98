// Package directive defines ProcessDirective, the reduced and ordered
// instruction the Middleware emits for the Process Manager to execute.
package directive

import (
	"github.com/kilnforge/agentpipe/internal/pipeline/intent"
)

// ProcessDirective is the sealed sum type the Middleware emits and the
// Process Manager consumes: Launch, Kill, UpdatePriority. Payloads mirror
// the intents they were reduced from.
type ProcessDirective interface {
	isProcessDirective()
	RunID() intent.RunId
}

// Launch instructs the Process Manager to start a child process.
type Launch struct {
	Run        intent.RunId
	Request    intent.ProcessSpawnIntent
	HandleSink intent.HandleSink
}

func (Launch) isProcessDirective()      {}
func (l Launch) RunID() intent.RunId     { return l.Run }

// Kill instructs the Process Manager to terminate a run.
type Kill struct {
	Run    intent.RunId
	Reason intent.KillReason
}

func (Kill) isProcessDirective()     {}
func (k Kill) RunID() intent.RunId    { return k.Run }

// UpdatePriority instructs the Process Manager to record a new advisory
// priority for a run (SPEC_FULL.md §9: advisory only, no SIGSTOP/renice).
type UpdatePriority struct {
	Run         intent.RunId
	NewPriority intent.RunPriority
}

func (UpdatePriority) isProcessDirective()    {}
func (u UpdatePriority) RunID() intent.RunId   { return u.Run }

// Kind identifies a directive's variant for ordering decisions
// (SPEC_FULL.md §4.2 reduction: kills, then spawns, then priority updates).
type Kind int

const (
	KindLaunch Kind = iota
	KindKill
	KindUpdatePriority
)

// KindOf returns the Kind of a directive.
func KindOf(d ProcessDirective) Kind {
	switch d.(type) {
	case Launch:
		return KindLaunch
	case Kill:
		return KindKill
	case UpdatePriority:
		return KindUpdatePriority
	default:
		panic("directive: unreachable directive variant")
	}
}
