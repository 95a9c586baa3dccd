package paneprocessor

import (
	"sync"
	"time"
)

// ViewedTracker remembers which panes a client recently fetched a screen
// for; fingerprint capture runs for those panes even when they host no
// agent.
type ViewedTracker struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewViewedTracker builds a tracker with the given TTL.
func NewViewedTracker(ttl time.Duration) *ViewedTracker {
	if ttl <= 0 {
		ttl = 20 * time.Second
	}
	return &ViewedTracker{ttl: ttl, now: time.Now, seen: map[string]time.Time{}}
}

// MarkViewed records a screen fetch for paneID.
func (v *ViewedTracker) MarkViewed(paneID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seen[paneID] = v.now()
}

// ViewedRecently reports whether paneID was fetched within the TTL.
func (v *ViewedTracker) ViewedRecently(paneID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	at, ok := v.seen[paneID]
	if !ok {
		return false
	}
	if v.now().Sub(at) > v.ttl {
		delete(v.seen, paneID)
		return false
	}
	return true
}

// Forget drops paneID from the tracker; called when a pane disappears.
func (v *ViewedTracker) Forget(paneID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.seen, paneID)
}
