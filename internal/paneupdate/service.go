// Package paneupdate implements the fleet tick: batched concurrent pane
// observation, timeline recording, stale-entry pruning, and atomic snapshot
// persistence.
package paneupdate

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/yuki-yano/vde-monitor/internal/model"
	"github.com/yuki-yano/vde-monitor/internal/registry"
	"github.com/yuki-yano/vde-monitor/internal/timeline"
)

// PaneLister lists the multiplexer's current panes.
type PaneLister interface {
	ListPanes(ctx context.Context) ([]model.PaneMeta, error)
}

// PaneObserver is the single-pane observation step.
type PaneObserver interface {
	Process(ctx context.Context, meta model.PaneMeta) (*model.SessionDetail, error)
	Evict(paneID string)
}

// LogRotator rotates one pane's oversized log.
type LogRotator interface {
	RotateIfNeeded(ctx context.Context, paneID string) (bool, error)
	PaneLogPath(paneID string) string
}

// ActivityWatcher is the log-activity poller registration surface.
type ActivityWatcher interface {
	Register(paneID, path string)
	Unregister(paneID string)
}

// TransitionSink receives state transitions; the push dispatcher implements
// it. Invocations run on their own goroutine so a slow sink (summary wait)
// never blocks a tick.
type TransitionSink func(ev model.SessionTransitionEvent)

// Persister writes the post-tick snapshot atomically.
type Persister interface {
	Save(sessions map[string]model.SessionDetail, items map[string][]model.TimelineItem) error
}

// FailureRecord tracks repeated observation failures for one pane.
type FailureRecord struct {
	Count            int
	LastFailedAt     time.Time
	LastErrorMessage string
}

// Service drives one observation cycle over all panes.
type Service struct {
	lister      PaneLister
	observer    PaneObserver
	registry    *registry.Registry
	timeline    *timeline.Store
	rotator     LogRotator
	watcher     ActivityWatcher
	sink        TransitionSink
	persister   Persister
	concurrency int
	logger      *slog.Logger
	now         func() time.Time

	mu       sync.Mutex
	failures map[string]*FailureRecord
}

// New wires a Service; rotator, watcher, sink, and persister may be nil.
func New(lister PaneLister, observer PaneObserver, reg *registry.Registry, tl *timeline.Store, rotator LogRotator, watcher ActivityWatcher, sink TransitionSink, persister Persister, concurrency int, logger *slog.Logger) *Service {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Service{
		lister:      lister,
		observer:    observer,
		registry:    reg,
		timeline:    tl,
		rotator:     rotator,
		watcher:     watcher,
		sink:        sink,
		persister:   persister,
		concurrency: concurrency,
		logger:      logger,
		now:         time.Now,
		failures:    map[string]*FailureRecord{},
	}
}

// Failures returns a copy of the per-pane failure records.
func (s *Service) Failures() map[string]FailureRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]FailureRecord, len(s.failures))
	for id, rec := range s.failures {
		out[id] = *rec
	}
	return out
}

type observation struct {
	meta   model.PaneMeta
	detail *model.SessionDetail
	err    error
}

// Tick runs one full observation cycle.
func (s *Service) Tick(ctx context.Context) error {
	panes, err := s.lister.ListPanes(ctx)
	if err != nil {
		return err
	}

	results := s.observeAll(ctx, panes)

	active := make(map[string]struct{}, len(results))
	for _, obs := range results {
		if obs.err != nil {
			// A failing pane stays active so a transient error does not
			// evict its registry entry.
			active[obs.meta.PaneID] = struct{}{}
			s.recordFailure(obs.meta.PaneID, obs.err)
			continue
		}
		if obs.detail == nil {
			continue
		}
		s.resetFailure(obs.meta.PaneID)
		active[obs.meta.PaneID] = struct{}{}
		s.applyDetail(*obs.detail)
	}

	removed := s.registry.RemoveMissing(active)
	now := s.now()
	for _, paneID := range removed {
		s.timeline.ClosePane(paneID, now)
		if s.watcher != nil {
			s.watcher.Unregister(paneID)
		}
		s.observer.Evict(paneID)
		s.resetFailure(paneID)
	}

	if s.rotator != nil {
		for _, obs := range results {
			if obs.detail != nil && obs.detail.Agent != model.AgentUnknown {
				if _, err := s.rotator.RotateIfNeeded(ctx, obs.meta.PaneID); err != nil && s.logger != nil {
					s.logger.Warn("log rotation failed", "pane_id", obs.meta.PaneID, "error", err)
				}
			}
		}
	}

	if s.persister != nil {
		if err := s.persister.Save(s.registry.Snapshot(), s.timeline.Snapshot()); err != nil && s.logger != nil {
			s.logger.Warn("snapshot persistence failed", "error", err)
		}
	}
	return nil
}

// observeAll maps panes through the observer with bounded concurrency; a
// pane's failure never aborts its siblings.
func (s *Service) observeAll(ctx context.Context, panes []model.PaneMeta) []observation {
	results := make([]observation, len(panes))
	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup
	for i, meta := range panes {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, meta model.PaneMeta) {
			defer wg.Done()
			defer func() { <-sem }()
			detail, err := s.observer.Process(ctx, meta)
			results[i] = observation{meta: meta, detail: detail, err: err}
		}(i, meta)
	}
	wg.Wait()
	return results
}

func (s *Service) applyDetail(detail model.SessionDetail) {
	prev, had := s.registry.GetDetail(detail.PaneID)
	changed := !had || prev.StateChanged(detail)
	s.registry.Update(detail)

	if s.watcher != nil && detail.Agent != model.AgentUnknown && s.rotator != nil {
		s.watcher.Register(detail.PaneID, s.rotator.PaneLogPath(detail.PaneID))
	}
	if !changed {
		return
	}

	at := s.now()
	source := sourceForReason(detail.StateReason)
	s.timeline.Record(detail.PaneID, detail.State, detail.StateReason, at, source)

	if s.sink != nil {
		ev := model.SessionTransitionEvent{
			PaneID: detail.PaneID,
			Next:   detail,
			At:     at,
			Source: source,
		}
		if had {
			prevCopy := prev
			ev.Previous = &prevCopy
		}
		go s.sink(ev)
	}
}

func sourceForReason(reason string) model.TimelineSource {
	switch {
	case reason == "restored":
		return model.SourceRestore
	case strings.HasPrefix(reason, "hook:"):
		return model.SourceHook
	default:
		return model.SourcePoll
	}
}

func (s *Service) recordFailure(paneID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.failures[paneID]
	if rec == nil {
		rec = &FailureRecord{}
		s.failures[paneID] = rec
	}
	rec.Count++
	rec.LastFailedAt = s.now()
	rec.LastErrorMessage = err.Error()
	if s.logger != nil {
		s.logger.Warn("pane observation failed", "pane_id", paneID, "count", rec.Count, "error", err)
	}
}

func (s *Service) resetFailure(paneID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, paneID)
}
