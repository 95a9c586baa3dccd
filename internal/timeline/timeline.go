// Package timeline implements the State Timeline Store: per-pane intervals
// of (state, reason) and the range-bucketed totals derived from them.
package timeline

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yuki-yano/vde-monitor/internal/model"
)

// Range is one of the fixed lookback windows the store reports totals for.
type Range struct {
	Name     string
	Duration time.Duration
}

// Ranges lists the buckets exposed by GetRepoStateTimeline/GetGlobalStateTimeline.
var Ranges = []Range{
	{"15m", 15 * time.Minute},
	{"1h", time.Hour},
	{"3h", 3 * time.Hour},
	{"6h", 6 * time.Hour},
	{"24h", 24 * time.Hour},
}

// RangeByName resolves one of the fixed window names.
func RangeByName(name string) (Range, bool) {
	for _, r := range Ranges {
		if r.Name == name {
			return r, true
		}
	}
	return Range{}, false
}

// Store holds, per pane, an append-only list of timeline items. The most
// recent item with EndedAt == nil is the pane's open interval.
type Store struct {
	mu    sync.RWMutex
	items map[string][]model.TimelineItem
}

// New builds an empty Store.
func New() *Store {
	return &Store{items: make(map[string][]model.TimelineItem)}
}

// Record closes the pane's current open interval (if any and if its
// (state, reason) differs) and appends a new open interval. Recording the
// same (state, reason) as the currently open interval is a no-op so that
// repeated polls without a change do not fragment the timeline.
func (s *Store) Record(paneID string, state model.State, reason string, at time.Time, source model.TimelineSource) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.items[paneID]
	if n := len(list); n > 0 {
		last := &list[n-1]
		if last.Open() {
			if last.State == state && last.Reason == reason {
				return
			}
			last.EndedAt = &at
		}
	}

	list = append(list, model.TimelineItem{
		ID:        uuid.NewString(),
		PaneID:    paneID,
		State:     state,
		Reason:    reason,
		StartedAt: at,
		Source:    source,
	})
	s.items[paneID] = list
}

// ClosePane terminates the pane's open interval, if any; used when a pane
// disappears from the registry.
func (s *Store) ClosePane(paneID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.items[paneID]
	if n := len(list); n > 0 && list[n-1].Open() {
		list[n-1].EndedAt = &at
	}
}

// Snapshot returns a deep copy of all recorded intervals for persistence.
func (s *Store) Snapshot() map[string][]model.TimelineItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]model.TimelineItem, len(s.items))
	for id, list := range s.items {
		cp := make([]model.TimelineItem, len(list))
		copy(cp, list)
		out[id] = cp
	}
	return out
}

// Restore replaces the store contents wholesale; used on process start.
func (s *Store) Restore(items map[string][]model.TimelineItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string][]model.TimelineItem, len(items))
	for id, list := range items {
		cp := make([]model.TimelineItem, len(list))
		copy(cp, list)
		s.items[id] = cp
	}
}

// GetTimeline returns a copy of the pane's recorded intervals, oldest first.
func (s *Store) GetTimeline(paneID string) []model.TimelineItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.items[paneID]
	out := make([]model.TimelineItem, len(src))
	copy(out, src)
	return out
}

// Totals maps a state to the number of milliseconds spent in it within a
// window.
type Totals map[model.State]int64

// Query returns the pane's items intersecting [now-rng, now] (newest-first,
// clamped to limit) together with the per-state totals over the window.
func (s *Store) Query(paneID string, rng Range, limit int, now time.Time) ([]model.TimelineItem, Totals) {
	s.mu.RLock()
	src := make([]model.TimelineItem, len(s.items[paneID]))
	copy(src, s.items[paneID])
	s.mu.RUnlock()
	return windowed(src, rng, limit, now)
}

// QueryPanes is Query rolled up across several panes (the repo scope).
func (s *Store) QueryPanes(paneIDs []string, rng Range, limit int, now time.Time) ([]model.TimelineItem, Totals) {
	s.mu.RLock()
	var src []model.TimelineItem
	for _, id := range paneIDs {
		src = append(src, s.items[id]...)
	}
	s.mu.RUnlock()
	return windowed(src, rng, limit, now)
}

func windowed(items []model.TimelineItem, rng Range, limit int, now time.Time) ([]model.TimelineItem, Totals) {
	windowStart := now.Add(-rng.Duration)
	totals := make(Totals)
	var selected []model.TimelineItem
	for _, item := range items {
		end := now
		if item.EndedAt != nil {
			end = *item.EndedAt
		}
		if end.Before(windowStart) || item.StartedAt.After(now) {
			continue
		}
		selected = append(selected, item)

		start := item.StartedAt
		if start.Before(windowStart) {
			start = windowStart
		}
		if end.After(now) {
			end = now
		}
		if end.After(start) {
			totals[item.State] += end.Sub(start).Milliseconds()
		}
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i].StartedAt.After(selected[j].StartedAt) })
	if limit > 0 && len(selected) > limit {
		selected = selected[:limit]
	}
	return selected, totals
}

// BucketResult is one named range's totals.
type BucketResult struct {
	Range  string
	Totals Totals
}

// GetRepoStateTimeline computes, for each Range, the per-state time totals
// across every pane whose id is in paneIDs (the panes belonging to one
// repo root), clamped to the window and evaluated at `now`.
func (s *Store) GetRepoStateTimeline(paneIDs []string, now time.Time) []BucketResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var merged []model.TimelineItem
	for _, id := range paneIDs {
		merged = append(merged, s.items[id]...)
	}
	return bucketize(merged, now)
}

// GetGlobalStateTimeline computes totals across every pane currently known
// to the store.
func (s *Store) GetGlobalStateTimeline(now time.Time) []BucketResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var merged []model.TimelineItem
	for _, list := range s.items {
		merged = append(merged, list...)
	}
	return bucketize(merged, now)
}

func bucketize(items []model.TimelineItem, now time.Time) []BucketResult {
	sort.Slice(items, func(i, j int) bool { return items[i].StartedAt.Before(items[j].StartedAt) })

	results := make([]BucketResult, len(Ranges))
	for i, r := range Ranges {
		windowStart := now.Add(-r.Duration)
		totals := make(Totals)
		for _, item := range items {
			end := now
			if item.EndedAt != nil {
				end = *item.EndedAt
			}
			start := item.StartedAt
			if start.Before(windowStart) {
				start = windowStart
			}
			if end.After(now) {
				end = now
			}
			if end.After(start) {
				totals[item.State] += end.Sub(start).Milliseconds()
			}
		}
		results[i] = BucketResult{Range: r.Name, Totals: totals}
	}
	return results
}
