// Package monitorloop schedules the observation cycle: a single loop that
// computes the next deadline and sleeps, so at most one tick is ever in
// flight.
package monitorloop

import (
	"context"
	"log/slog"
	"time"
)

// Tick runs one observation cycle.
type Tick func(ctx context.Context) error

// Loop drives Tick at a fixed interval. Because the loop is sequential, a
// tick that overruns simply delays the next one instead of overlapping it.
type Loop struct {
	interval time.Duration
	tick     Tick
	logger   *slog.Logger
}

// New builds a Loop.
func New(interval time.Duration, tick Tick, logger *slog.Logger) *Loop {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Loop{interval: interval, tick: tick, logger: logger}
}

// Run blocks until ctx is done, invoking the tick once per interval. An
// immediate first tick populates the registry before the HTTP API serves.
// A tick that overruns its interval is followed by the next one right away.
func (l *Loop) Run(ctx context.Context) {
	for {
		started := time.Now()
		l.runOnce(ctx)

		sleep := l.interval - time.Since(started)
		if sleep < 0 {
			sleep = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

func (l *Loop) runOnce(ctx context.Context) {
	if err := l.tick(ctx); err != nil && l.logger != nil {
		l.logger.Warn("monitor tick failed", "error", err)
	}
}
