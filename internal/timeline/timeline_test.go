package timeline

import (
	"testing"
	"time"

	"github.com/yuki-yano/vde-monitor/internal/model"
)

func TestStore_RecordClosesPreviousInterval(t *testing.T) {
	s := New()
	t0 := time.Now()
	s.Record("%1", model.StateRunning, "", t0, model.SourcePoll)
	t1 := t0.Add(time.Minute)
	s.Record("%1", model.StateWaitingInput, "needs-input", t1, model.SourcePoll)

	items := s.GetTimeline("%1")
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Open() {
		t.Fatal("expected first item to be closed")
	}
	if !items[0].EndedAt.Equal(t1) {
		t.Fatalf("expected first item to end at t1, got %v", items[0].EndedAt)
	}
	if !items[1].Open() {
		t.Fatal("expected second item to remain open")
	}
}

func TestStore_RecordSameStateIsNoOp(t *testing.T) {
	s := New()
	t0 := time.Now()
	s.Record("%1", model.StateRunning, "", t0, model.SourcePoll)
	s.Record("%1", model.StateRunning, "", t0.Add(time.Second), model.SourcePoll)

	items := s.GetTimeline("%1")
	if len(items) != 1 {
		t.Fatalf("expected repeated identical state to not fragment the timeline, got %d items", len(items))
	}
}

func TestStore_ClosePane(t *testing.T) {
	s := New()
	t0 := time.Now()
	s.Record("%1", model.StateRunning, "", t0, model.SourcePoll)
	t1 := t0.Add(time.Minute)
	s.ClosePane("%1", t1)

	items := s.GetTimeline("%1")
	if items[0].Open() {
		t.Fatal("expected pane close to terminate the open interval")
	}
}

func TestStore_BucketizeTotals(t *testing.T) {
	s := New()
	now := time.Now()
	s.Record("%1", model.StateRunning, "", now.Add(-30*time.Minute), model.SourcePoll)
	s.Record("%1", model.StateShell, "", now.Add(-10*time.Minute), model.SourcePoll)

	buckets := s.GetRepoStateTimeline([]string{"%1"}, now)

	var b15m, b1h BucketResult
	for _, b := range buckets {
		if b.Range == "15m" {
			b15m = b
		}
		if b.Range == "1h" {
			b1h = b
		}
	}

	// 15m window: only the last 15 minutes count — StateRunning for its
	// first 5 minutes (-15m to -10m), StateShell for the remaining 10.
	if b15m.Totals[model.StateShell] == 0 {
		t.Fatal("expected some StateShell time within the 15m window")
	}
	if b15m.Totals[model.StateRunning] != 5*time.Minute.Milliseconds() {
		t.Fatalf("expected 5m of StateRunning time within 15m window, got %d", b15m.Totals[model.StateRunning])
	}

	// 1h window: both intervals should contribute.
	if b1h.Totals[model.StateRunning] == 0 || b1h.Totals[model.StateShell] == 0 {
		t.Fatalf("expected both states represented in 1h window, got %+v", b1h.Totals)
	}
}

func TestStore_QueryWindowAndTotals(t *testing.T) {
	s := New()
	now := time.Now()
	s.Record("%1", model.StateRunning, "", now.Add(-2*time.Hour), model.SourcePoll)
	s.Record("%1", model.StateWaitingInput, "idle", now.Add(-20*time.Minute), model.SourcePoll)

	rng, ok := RangeByName("15m")
	if !ok {
		t.Fatal("missing 15m range")
	}
	items, totals := s.Query("%1", rng, 100, now)
	if len(items) != 1 {
		t.Fatalf("expected only the open interval inside 15m, got %d", len(items))
	}
	// The open waiting interval is clamped to the window start.
	if got := totals[model.StateWaitingInput]; got != 15*time.Minute.Milliseconds() {
		t.Fatalf("unexpected waiting total: %d", got)
	}
	if _, ok := totals[model.StateRunning]; ok {
		t.Fatal("running interval ended before the window start")
	}
}

func TestStore_QueryClampsToLimit(t *testing.T) {
	s := New()
	now := time.Now()
	for i := 0; i < 5; i++ {
		state := model.StateRunning
		if i%2 == 1 {
			state = model.StateWaitingInput
		}
		s.Record("%1", state, "", now.Add(time.Duration(i-6)*time.Minute), model.SourcePoll)
	}
	rng, _ := RangeByName("1h")
	items, _ := s.Query("%1", rng, 2, now)
	if len(items) != 2 {
		t.Fatalf("expected limit applied, got %d", len(items))
	}
	if !items[0].StartedAt.After(items[1].StartedAt) {
		t.Fatal("expected newest-first ordering")
	}
}
