// Package registry implements the Session Registry: the authoritative
// paneId -> SessionDetail mapping, with snapshot and diff-based removal.
package registry

import (
	"sync"

	"github.com/yuki-yano/vde-monitor/internal/model"
)

// Registry is safe for concurrent use; the monitor tick is its single
// writer but HTTP handlers read concurrently.
type Registry struct {
	mu      sync.RWMutex
	details map[string]model.SessionDetail
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{details: make(map[string]model.SessionDetail)}
}

// Update inserts or replaces the detail for detail.PaneID.
func (r *Registry) Update(detail model.SessionDetail) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.details[detail.PaneID] = detail
}

// GetDetail returns the detail for paneID, if present.
func (r *Registry) GetDetail(paneID string) (model.SessionDetail, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.details[paneID]
	return d, ok
}

// Values returns a snapshot slice of all details, in no particular order.
func (r *Registry) Values() []model.SessionDetail {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.SessionDetail, 0, len(r.details))
	for _, d := range r.details {
		out = append(out, d)
	}
	return out
}

// Snapshot returns a deep-enough copy of the registry contents suitable for
// atomic persistence.
func (r *Registry) Snapshot() map[string]model.SessionDetail {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]model.SessionDetail, len(r.details))
	for k, v := range r.details {
		out[k] = v
	}
	return out
}

// Restore replaces the registry contents wholesale; used on process start to
// reload the persisted snapshot.
func (r *Registry) Restore(details map[string]model.SessionDetail) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.details = make(map[string]model.SessionDetail, len(details))
	for k, v := range details {
		r.details[k] = v
	}
}

// RemoveMissing deletes any key not present in activeSet and returns the
// removed ids.
func (r *Registry) RemoveMissing(activeSet map[string]struct{}) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for id := range r.details {
		if _, ok := activeSet[id]; !ok {
			removed = append(removed, id)
			delete(r.details, id)
		}
	}
	return removed
}
