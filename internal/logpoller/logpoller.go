// Package logpoller implements the Log Activity Poller: a periodic stat
// watcher over registered pane log files that reports (paneId, modifiedAt)
// whenever a log grows or its mtime advances. Pipe-written logs are appended
// in place rather than atomically replaced, so stat polling is the reliable
// signal here (a notify watcher misses mtime-only growth on some platforms).
package logpoller

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Notify receives one activity observation per changed log.
type Notify func(paneID string, modifiedAt time.Time)

type watched struct {
	path     string
	lastMod  time.Time
	lastSize int64
}

// Poller polls registered paths on a fixed interval. Register/Unregister are
// safe to call concurrently with the poll loop.
type Poller struct {
	interval time.Duration
	notify   Notify
	logger   *slog.Logger
	statFn   func(string) (os.FileInfo, error)

	mu    sync.Mutex
	paths map[string]*watched

	stopOnce sync.Once
	stopped  chan struct{}
}

// New builds a Poller that invokes notify from the poll goroutine.
func New(interval time.Duration, notify Notify, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{
		interval: interval,
		notify:   notify,
		logger:   logger,
		statFn:   os.Stat,
		paths:    make(map[string]*watched),
		stopped:  make(chan struct{}),
	}
}

// Register starts watching path for paneID, replacing any previous path.
func (p *Poller) Register(paneID, path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.paths[paneID]; ok && w.path == path {
		return
	}
	p.paths[paneID] = &watched{path: path}
}

// Unregister stops watching paneID.
func (p *Poller) Unregister(paneID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.paths, paneID)
}

// Start runs the poll loop until ctx is done or Stop is called.
func (p *Poller) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopped:
				return
			case <-ticker.C:
				p.pollOnce()
			}
		}
	}()
}

// Stop terminates the poll loop; idempotent.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopped) })
}

func (p *Poller) pollOnce() {
	p.mu.Lock()
	targets := make(map[string]*watched, len(p.paths))
	for id, w := range p.paths {
		targets[id] = w
	}
	p.mu.Unlock()

	for paneID, w := range targets {
		info, err := p.statFn(w.path)
		if err != nil {
			continue
		}
		if info.Size() <= 0 {
			continue
		}
		mod := info.ModTime()
		p.mu.Lock()
		changed := mod.After(w.lastMod) || info.Size() != w.lastSize
		if changed {
			w.lastMod = mod
			w.lastSize = info.Size()
		}
		p.mu.Unlock()
		if changed && p.notify != nil {
			p.notify(paneID, mod)
		}
	}
}
