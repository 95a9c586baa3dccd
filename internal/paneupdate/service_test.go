package paneupdate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yuki-yano/vde-monitor/internal/model"
	"github.com/yuki-yano/vde-monitor/internal/registry"
	"github.com/yuki-yano/vde-monitor/internal/timeline"
)

type fakeLister struct {
	mu    sync.Mutex
	panes []model.PaneMeta
}

func (f *fakeLister) ListPanes(context.Context) ([]model.PaneMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.PaneMeta(nil), f.panes...), nil
}

func (f *fakeLister) set(panes []model.PaneMeta) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.panes = panes
}

type fakeObserver struct {
	mu      sync.Mutex
	details map[string]*model.SessionDetail
	errs    map[string]error
	evicted []string
}

func (f *fakeObserver) Process(_ context.Context, meta model.PaneMeta) (*model.SessionDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[meta.PaneID]; err != nil {
		return nil, err
	}
	return f.details[meta.PaneID], nil
}

func (f *fakeObserver) Evict(paneID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evicted = append(f.evicted, paneID)
}

func (f *fakeObserver) setState(paneID string, state model.State, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.details == nil {
		f.details = map[string]*model.SessionDetail{}
	}
	d := &model.SessionDetail{Agent: model.AgentCodex, State: state, StateReason: reason}
	d.PaneID = paneID
	f.details[paneID] = d
}

func meta(paneID string) model.PaneMeta {
	return model.PaneMeta{PaneID: paneID, SessionName: "dev", CurrentCommand: "codex"}
}

func TestTickLifecycle(t *testing.T) {
	lister := &fakeLister{}
	observer := &fakeObserver{}
	reg := registry.New()
	tl := timeline.New()

	var sinkMu sync.Mutex
	var transitions []model.SessionTransitionEvent
	sink := func(ev model.SessionTransitionEvent) {
		sinkMu.Lock()
		transitions = append(transitions, ev)
		sinkMu.Unlock()
	}

	svc := New(lister, observer, reg, tl, nil, nil, sink, nil, 8, nil)

	// Tick 1: pane appears running.
	lister.set([]model.PaneMeta{meta("%1")})
	observer.setState("%1", model.StateRunning, "recent_output")
	if err := svc.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if d, ok := reg.GetDetail("%1"); !ok || d.State != model.StateRunning {
		t.Fatalf("expected %%1 RUNNING in registry, got %+v ok=%v", d, ok)
	}
	if items := tl.GetTimeline("%1"); len(items) != 1 || !items[0].Open() {
		t.Fatalf("expected one open timeline item, got %+v", items)
	}

	// Tick 2: unchanged state appends nothing.
	if err := svc.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if items := tl.GetTimeline("%1"); len(items) != 1 {
		t.Fatalf("expected no new timeline item, got %d", len(items))
	}

	// Tick 3: goes idle.
	observer.setState("%1", model.StateWaitingInput, "idle")
	if err := svc.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	items := tl.GetTimeline("%1")
	if len(items) != 2 {
		t.Fatalf("expected two timeline items, got %d", len(items))
	}
	if items[0].Open() || !items[1].Open() {
		t.Fatalf("expected first closed and second open, got %+v", items)
	}

	// Tick 4: pane disappears.
	lister.set(nil)
	if err := svc.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, ok := reg.GetDetail("%1"); ok {
		t.Fatal("expected %1 removed from registry")
	}
	items = tl.GetTimeline("%1")
	if items[1].Open() {
		t.Fatal("expected tail item closed on removal")
	}
	observer.mu.Lock()
	evicted := append([]string(nil), observer.evicted...)
	observer.mu.Unlock()
	if len(evicted) != 1 || evicted[0] != "%1" {
		t.Fatalf("expected runtime eviction, got %v", evicted)
	}

	// The sink saw the appearance and the idle transition.
	deadline := time.Now().Add(time.Second)
	for {
		sinkMu.Lock()
		n := len(transitions)
		sinkMu.Unlock()
		if n >= 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	sinkMu.Lock()
	defer sinkMu.Unlock()
	if len(transitions) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(transitions))
	}
}

func TestTickFailureKeepsPaneActive(t *testing.T) {
	lister := &fakeLister{}
	observer := &fakeObserver{errs: map[string]error{}}
	reg := registry.New()
	tl := timeline.New()
	svc := New(lister, observer, reg, tl, nil, nil, nil, nil, 8, nil)

	lister.set([]model.PaneMeta{meta("%1")})
	observer.setState("%1", model.StateRunning, "recent_output")
	if err := svc.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Observation starts failing: the pane must stay registered.
	observer.mu.Lock()
	observer.errs["%1"] = errors.New("ps timed out")
	observer.mu.Unlock()
	if err := svc.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, ok := reg.GetDetail("%1"); !ok {
		t.Fatal("failing pane must remain in registry")
	}
	failures := svc.Failures()
	if rec, ok := failures["%1"]; !ok || rec.Count != 1 || rec.LastErrorMessage == "" {
		t.Fatalf("expected failure recorded, got %+v", failures)
	}

	// Recovery resets the counter.
	observer.mu.Lock()
	delete(observer.errs, "%1")
	observer.mu.Unlock()
	if err := svc.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(svc.Failures()) != 0 {
		t.Fatalf("expected failures reset, got %+v", svc.Failures())
	}
}

func TestTickIgnoredPaneLeavesRegistry(t *testing.T) {
	lister := &fakeLister{}
	observer := &fakeObserver{}
	reg := registry.New()
	svc := New(lister, observer, reg, timeline.New(), nil, nil, nil, nil, 8, nil)

	lister.set([]model.PaneMeta{meta("%1")})
	observer.setState("%1", model.StateRunning, "recent_output")
	if err := svc.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}

	// The pane becomes an ignored editor pane (nil detail, no error).
	observer.mu.Lock()
	observer.details["%1"] = nil
	observer.mu.Unlock()
	if err := svc.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, ok := reg.GetDetail("%1"); ok {
		t.Fatal("ignored pane must be removed from registry")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := NewSnapshotStore(t.TempDir() + "/state/snapshot.json")

	detail := model.SessionDetail{State: model.StateRunning, StateReason: "recent_output"}
	detail.PaneID = "%1"
	now := time.Now().UTC().Truncate(time.Millisecond)
	items := map[string][]model.TimelineItem{
		"%1": {{ID: "t1", PaneID: "%1", State: model.StateRunning, Reason: "recent_output", StartedAt: now}},
	}
	if err := store.Save(map[string]model.SessionDetail{"%1": detail}, items); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Sessions["%1"].State != model.StateRunning {
		t.Fatalf("unexpected sessions: %+v", loaded.Sessions)
	}
	if len(loaded.Timeline["%1"]) != 1 || !loaded.Timeline["%1"][0].StartedAt.Equal(now) {
		t.Fatalf("unexpected timeline: %+v", loaded.Timeline)
	}
}

func TestSnapshotLoadMissingFile(t *testing.T) {
	store := NewSnapshotStore(t.TempDir() + "/none.json")
	doc, err := store.Load()
	if err != nil || len(doc.Sessions) != 0 {
		t.Fatalf("expected empty snapshot, got %+v err=%v", doc, err)
	}
}
