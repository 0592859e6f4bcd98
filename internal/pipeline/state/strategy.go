// Package state holds the pipeline's shared, process-global singletons:
// StrategyState, QueueCoordinator, FeatureToggles, and the system-event
// log the Queue Manager drains after every command. SPEC_FULL.md §9
// permits exactly these as global mutable state, each guarded by a
// sync.RWMutex and requiring explicit init-before-use. The lock does not
// prefer readers: once a writer is waiting, new readers block behind it.
package state

import "sync"

// Strategy selects how the orchestrator is hinted about idle workers.
type Strategy string

const (
	Planning    Strategy = "planning"
	Aggressive  Strategy = "aggressive"
	HotfixSwarm Strategy = "hotfix_swarm"
	BugSmash    Strategy = "bug_smash"
	Moderate    Strategy = "moderate"
	Economical  Strategy = "economical"
	WindDown    Strategy = "wind_down"
)

// IdleAction is the hint QueueCoordinator.OrchestratorHints emits for a
// given strategy, per the strategy-hint table in SPEC_FULL.md §9.
type IdleAction int

const (
	ActionAssignTask IdleAction = iota
	ActionSendSupport
)

// idleActionFor implements the strategy-hint table.
func idleActionFor(s Strategy) IdleAction {
	switch s {
	case Planning, WindDown:
		return ActionSendSupport
	default:
		return ActionAssignTask
	}
}

// ActiveStrategy is a cheap-to-clone snapshot of the current strategy.
type ActiveStrategy struct {
	ID    Strategy
	Focus []int64
}

// StrategyState is the singleton holding the active strategy. Initial id
// is Planning, per SPEC_FULL.md §4.5.
type StrategyState struct {
	mu     sync.RWMutex
	active ActiveStrategy
}

// NewStrategyState constructs a StrategyState defaulted to Planning.
func NewStrategyState() *StrategyState {
	return &StrategyState{active: ActiveStrategy{ID: Planning}}
}

// Snapshot returns a cheap copy of the active strategy.
func (s *StrategyState) Snapshot() ActiveStrategy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	focus := make([]int64, len(s.active.Focus))
	copy(focus, s.active.Focus)
	return ActiveStrategy{ID: s.active.ID, Focus: focus}
}

// Set replaces the active strategy.
func (s *StrategyState) Set(strategy ActiveStrategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = strategy
}
