package ratelimit

import (
	"testing"
	"time"
)

func TestLimiter_AllowsUpToMaxThenBlocks(t *testing.T) {
	now := time.Unix(0, 0)
	l := New(1000, 2).WithClock(func() time.Time { return now })

	if !l.Allow("k") {
		t.Fatal("expected first call allowed")
	}
	if !l.Allow("k") {
		t.Fatal("expected second call allowed")
	}
	if l.Allow("k") {
		t.Fatal("expected third call blocked")
	}
}

func TestLimiter_WindowAdvancesLazily(t *testing.T) {
	now := time.Unix(0, 0)
	l := New(1000, 1).WithClock(func() time.Time { return now })

	if !l.Allow("k") {
		t.Fatal("expected first call allowed")
	}
	if l.Allow("k") {
		t.Fatal("expected second call within window blocked")
	}
	now = now.Add(1100 * time.Millisecond)
	if !l.Allow("k") {
		t.Fatal("expected call allowed after window advances")
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := New(1000, 1)
	if !l.Allow("a") {
		t.Fatal("expected a allowed")
	}
	if !l.Allow("b") {
		t.Fatal("expected b allowed independently of a")
	}
}
