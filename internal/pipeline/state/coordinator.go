package state

import (
	"errors"
	"sync"
)

// ErrWorkerAlreadyAssigned is returned by AssignTask when the worker
// already has a task assignment.
var ErrWorkerAlreadyAssigned = errors.New("state: worker already assigned")

// Assignment maps a worker to its current task, per SPEC_FULL.md §3.
type Assignment struct {
	TaskID string
	Slug   string // optional
}

// SystemEvent is a feed entry recorded by any pipeline component into the
// system-event log the Queue Manager drains after every command
// (SPEC_FULL.md §4.1, §6 "Persisted state (opaque to core)").
type SystemEvent struct {
	Source   string
	Target   string
	Level    string
	Text     string
	Raw      []byte
	Category string
}

// Hint is one idle-worker action recommendation from OrchestratorHints.
type Hint struct {
	WorkerID  string
	Action    IdleAction
	FromGroups []int64
}

// QueueCoordinator is the singleton tracking worker assignments, known
// workers, and a drainable event log, per SPEC_FULL.md §4.5.
type QueueCoordinator struct {
	mu           sync.RWMutex
	assignments  map[string]Assignment
	knownWorkers map[string]struct{}
	events       []SystemEvent
}

// NewQueueCoordinator constructs an empty QueueCoordinator.
func NewQueueCoordinator() *QueueCoordinator {
	return &QueueCoordinator{
		assignments:  make(map[string]Assignment),
		knownWorkers: make(map[string]struct{}),
	}
}

// RegisterWorker adds a worker to the known set.
func (c *QueueCoordinator) RegisterWorker(workerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.knownWorkers[workerID] = struct{}{}
}

// UnregisterWorker removes a worker from the known set and clears its
// assignment, if any.
func (c *QueueCoordinator) UnregisterWorker(workerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.knownWorkers, workerID)
	delete(c.assignments, workerID)
}

// AssignTask assigns a task to a worker. Errors if the worker already has
// an assignment.
func (c *QueueCoordinator) AssignTask(workerID string, assignment Assignment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.assignments[workerID]; ok {
		return ErrWorkerAlreadyAssigned
	}
	c.assignments[workerID] = assignment
	return nil
}

// ClearAssignment removes a worker's current assignment, if any.
func (c *QueueCoordinator) ClearAssignment(workerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.assignments, workerID)
}

// RecordEvent appends an entry to the in-memory event log, to be drained
// by the Queue Manager.
func (c *QueueCoordinator) RecordEvent(e SystemEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

// DrainEvents returns and clears all recorded events.
func (c *QueueCoordinator) DrainEvents() []SystemEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return nil
	}
	drained := c.events
	c.events = nil
	return drained
}

// OrchestratorHints computes idle-worker hints: known workers minus
// assigned workers, each mapped to an action per the active strategy.
func (c *QueueCoordinator) OrchestratorHints(strategy ActiveStrategy) []Hint {
	c.mu.RLock()
	defer c.mu.RUnlock()

	action := idleActionFor(strategy.ID)
	var hints []Hint
	for workerID := range c.knownWorkers {
		if _, assigned := c.assignments[workerID]; assigned {
			continue
		}
		hints = append(hints, Hint{WorkerID: workerID, Action: action, FromGroups: strategy.Focus})
	}
	return hints
}
