package monitorloop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunTicksUntilCancelled(t *testing.T) {
	var ticks atomic.Int64
	loop := New(10*time.Millisecond, func(context.Context) error {
		ticks.Add(1)
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for ticks.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if ticks.Load() < 3 {
		t.Fatalf("expected at least 3 ticks, got %d", ticks.Load())
	}
}

func TestTicksDoNotOverlap(t *testing.T) {
	var inFlight atomic.Int64
	var maxSeen atomic.Int64
	loop := New(time.Millisecond, func(context.Context) error {
		cur := inFlight.Add(1)
		if cur > maxSeen.Load() {
			maxSeen.Store(cur)
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	loop.Run(ctx)

	if maxSeen.Load() != 1 {
		t.Fatalf("expected sequential ticks, saw %d in flight", maxSeen.Load())
	}
}
