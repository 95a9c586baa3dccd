// Package paneruntime implements the Pane Runtime State Store: the mutable,
// never-exposed per-pane observation state (hook state, output/input
// timestamps, fingerprint, external-input cursor).
package paneruntime

import (
	"sync"
	"time"

	"github.com/yuki-yano/vde-monitor/internal/model"
)

// Store is a mutex-guarded map from paneId to PaneRuntimeState, created
// lazily on first observation and removed once a pane disappears for a
// full cycle.
type Store struct {
	mu    sync.Mutex
	byPane map[string]*model.PaneRuntimeState
}

// New builds an empty Store.
func New() *Store {
	return &Store{byPane: make(map[string]*model.PaneRuntimeState)}
}

// Peek returns the runtime state for paneID without creating it.
func (s *Store) Peek(paneID string) (model.PaneRuntimeState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.byPane[paneID]
	if !ok {
		return model.PaneRuntimeState{}, false
	}
	return *st, true
}

// Evict removes the runtime state for paneID; called when a pane leaves
// the registry.
func (s *Store) Evict(paneID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byPane, paneID)
}

// Update runs fn with the pane's runtime state under the store lock,
// creating the state on first use. All mutation goes through here so hook
// handling and command recording can race the monitor tick safely.
func (s *Store) Update(paneID string, fn func(*model.PaneRuntimeState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.byPane[paneID]
	if !ok {
		st = &model.PaneRuntimeState{}
		s.byPane[paneID] = st
	}
	fn(st)
}

// SetHookState records a hook-derived (state, reason) for a pane.
func (s *Store) SetHookState(paneID string, state model.State, reason string, at time.Time) {
	s.Update(paneID, func(st *model.PaneRuntimeState) {
		st.HookState = &model.HookState{State: state, Reason: reason, At: at}
	})
}

// ClearHookState drops the hook state once output supersedes it.
func (s *Store) ClearHookState(paneID string) {
	s.Update(paneID, func(st *model.PaneRuntimeState) {
		st.HookState = nil
	})
}
