package state

import "sync"

// FeatureToggles is the read-mostly singleton of system-wide feature
// flags, per SPEC_FULL.md §4.5.
type FeatureToggles struct {
	mu                sync.RWMutex
	persistentThreads bool
	ghostCommits      bool
	driftManager      bool
}

// NewFeatureToggles constructs toggles with everything off.
func NewFeatureToggles() *FeatureToggles {
	return &FeatureToggles{}
}

func (f *FeatureToggles) PersistentThreads() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.persistentThreads
}

func (f *FeatureToggles) SetPersistentThreads(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.persistentThreads = v
}

func (f *FeatureToggles) GhostCommits() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.ghostCommits
}

func (f *FeatureToggles) SetGhostCommits(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ghostCommits = v
}

func (f *FeatureToggles) DriftManager() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.driftManager
}

func (f *FeatureToggles) SetDriftManager(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.driftManager = v
}
