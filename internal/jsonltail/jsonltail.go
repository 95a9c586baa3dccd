// Package jsonltail streams append-only JSON lines from a file, invoking a
// callback per valid line. Agent plugins append hook events to a shared
// JSONL file; the tailer follows it across truncation and replacement.
package jsonltail

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// LineFunc receives one valid JSON line, without the trailing newline.
// Lines are delivered sequentially in file order.
type LineFunc func(line []byte)

// Tailer follows one JSONL file from its current end.
type Tailer struct {
	path   string
	onLine LineFunc
	logger *slog.Logger

	mu      sync.Mutex
	offset  int64
	partial []byte

	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}
}

// New builds a Tailer for path. Existing content is skipped; only lines
// appended after Start are delivered.
func New(path string, onLine LineFunc, logger *slog.Logger) *Tailer {
	return &Tailer{
		path:    path,
		onLine:  onLine,
		logger:  logger,
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start begins tailing. The watcher watches the parent directory so the
// tailer survives the file being created or replaced after Start.
func (t *Tailer) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(t.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		watcher.Close()
		return err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	if info, err := os.Stat(t.path); err == nil {
		t.offset = info.Size()
	}

	go func() {
		defer close(t.done)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.stopped:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(t.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					t.drain()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if t.logger != nil {
					t.logger.Warn("jsonl tailer watch error", "path", t.path, "error", err)
				}
			}
		}
	}()
	return nil
}

// Close stops the tailer and waits for the watch goroutine to exit.
func (t *Tailer) Close() {
	t.stopOnce.Do(func() { close(t.stopped) })
	<-t.done
}

// drain reads everything appended since the last offset and delivers each
// complete, valid JSON line. A truncated or replaced file resets the cursor.
func (t *Tailer) drain() {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.Open(t.path)
	if err != nil {
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return
	}
	if info.Size() < t.offset {
		t.offset = 0
		t.partial = nil
	}
	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return
	}

	reader := bufio.NewReader(f)
	for {
		chunk, err := reader.ReadBytes('\n')
		if len(chunk) > 0 {
			t.offset += int64(len(chunk))
		}
		if err != nil {
			// Keep an incomplete tail line for the next drain.
			t.partial = append(t.partial, chunk...)
			return
		}
		line := append(t.partial, bytes.TrimRight(chunk, "\r\n")...)
		t.partial = nil
		t.deliver(line)
	}
}

func (t *Tailer) deliver(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	if !json.Valid(line) {
		if t.logger != nil {
			t.logger.Debug("skipping invalid jsonl line", "path", t.path)
		}
		return
	}
	if t.onLine != nil {
		t.onLine(line)
	}
}
