package image

import "sync"

// Tracker holds the lifecycles of every image a run touches, keyed by
// the normalized reference, so that build, scan and push steps in
// different jobs act on the same state machine.
type Tracker struct {
	mu         sync.Mutex
	lifecycles map[string]*Lifecycle
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{lifecycles: make(map[string]*Lifecycle)}
}

// Get returns the lifecycle for a reference, creating it on first use.
func (t *Tracker) Get(ref string) (*Lifecycle, error) {
	// Validate outside the lock; ParseReference is pure.
	fresh, err := NewLifecycle(ref)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.lifecycles[fresh.Ref()]; ok {
		return existing, nil
	}
	t.lifecycles[fresh.Ref()] = fresh
	return fresh, nil
}
