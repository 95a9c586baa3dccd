package screendelta

import (
	"reflect"
	"testing"
)

func TestBuildScreenDeltas_RoundTrip(t *testing.T) {
	cases := [][2][]string{
		{{"a", "b", "c"}, {"a", "x", "c"}},
		{{"a", "b", "c"}, {"a", "b", "c", "d"}},
		{{"a", "b", "c"}, {"b", "c"}},
		{{}, {"a"}},
		{{"a"}, {}},
		{{"one", "two", "three"}, {"one", "two", "three"}},
		{{"x", "y"}, {"p", "q"}},
	}
	for _, tc := range cases {
		prev, next := tc[0], tc[1]
		deltas := BuildScreenDeltas(prev, next)
		got := ApplyScreenDeltas(prev, deltas)
		if !reflect.DeepEqual(got, next) && !(len(got) == 0 && len(next) == 0) {
			t.Fatalf("prev=%v next=%v: applying deltas gave %v", prev, next, got)
		}
	}
}

func TestShouldSendFull_MajorityChangedThreshold(t *testing.T) {
	prev := []string{"1", "2", "3", "4"}
	// Exactly half changed: should NOT be full.
	next := []string{"1", "2", "X", "Y"}
	deltas := BuildScreenDeltas(prev, next)
	if ShouldSendFull(deltas, len(prev), len(next)) {
		t.Fatalf("expected delta (half changed), got full: %v", deltas)
	}

	// Strict majority changed: should be full.
	next2 := []string{"1", "X", "Y", "Z"}
	deltas2 := BuildScreenDeltas(prev, next2)
	if !ShouldSendFull(deltas2, len(prev), len(next2)) {
		t.Fatalf("expected full (majority changed), got delta: %v", deltas2)
	}
}

func TestShouldSendFull_EmptyIsNeverFull(t *testing.T) {
	if ShouldSendFull(nil, 0, 0) {
		t.Fatal("expected no-full for empty screens")
	}
}
