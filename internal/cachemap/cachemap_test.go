package cachemap

import "testing"

func TestMap_EvictsOldestOverLimit(t *testing.T) {
	m := New[string, int](2)
	m.SetWithLimit("a", 1)
	m.SetWithLimit("b", 2)
	m.SetWithLimit("c", 3)

	if _, ok := m.Get("a"); ok {
		t.Fatal("expected oldest entry a evicted")
	}
	if v, ok := m.Get("b"); !ok || v != 2 {
		t.Fatal("expected b to survive")
	}
	if v, ok := m.Get("c"); !ok || v != 3 {
		t.Fatal("expected c to survive")
	}
	if m.Len() != 2 {
		t.Fatalf("expected len 2, got %d", m.Len())
	}
}

func TestMap_UpdateExistingKeyMovesToBack(t *testing.T) {
	m := New[string, int](2)
	m.SetWithLimit("a", 1)
	m.SetWithLimit("b", 2)
	m.SetWithLimit("a", 10)
	m.SetWithLimit("c", 3)

	if _, ok := m.Get("b"); ok {
		t.Fatal("expected b evicted after a refreshed")
	}
	if v, ok := m.Get("a"); !ok || v != 10 {
		t.Fatal("expected a updated and retained")
	}
}

func TestMap_UnboundedWhenLimitNonPositive(t *testing.T) {
	m := New[int, int](0)
	for i := 0; i < 100; i++ {
		m.SetWithLimit(i, i)
	}
	if m.Len() != 100 {
		t.Fatalf("expected unbounded growth, got len %d", m.Len())
	}
}
