package logpoller

import (
	"os"
	"sync"
	"testing"
	"time"
)

type fakeFileInfo struct {
	size int64
	mod  time.Time
}

func (f fakeFileInfo) Name() string       { return "pane.log" }
func (f fakeFileInfo) Size() int64        { return f.size }
func (f fakeFileInfo) Mode() os.FileMode  { return 0o600 }
func (f fakeFileInfo) ModTime() time.Time { return f.mod }
func (f fakeFileInfo) IsDir() bool        { return false }
func (f fakeFileInfo) Sys() any           { return nil }

func TestPollOnceNotifiesOnGrowth(t *testing.T) {
	var mu sync.Mutex
	var seen []string

	p := New(time.Second, func(paneID string, _ time.Time) {
		mu.Lock()
		seen = append(seen, paneID)
		mu.Unlock()
	}, nil)

	now := time.Now()
	size := int64(0)
	p.statFn = func(string) (os.FileInfo, error) {
		return fakeFileInfo{size: size, mod: now}, nil
	}
	p.Register("%1", "/tmp/p1.log")

	// Empty file: no notification.
	p.pollOnce()
	// Growth: one notification.
	size = 10
	p.pollOnce()
	// No change: no repeat.
	p.pollOnce()
	// mtime advance: another notification.
	now = now.Add(time.Second)
	p.statFn = func(string) (os.FileInfo, error) {
		return fakeFileInfo{size: size, mod: now}, nil
	}
	p.pollOnce()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("expected 2 notifications, got %d (%v)", len(seen), seen)
	}
}

func TestUnregisterStopsNotifications(t *testing.T) {
	count := 0
	p := New(time.Second, func(string, time.Time) { count++ }, nil)
	p.statFn = func(string) (os.FileInfo, error) {
		return fakeFileInfo{size: 5, mod: time.Now()}, nil
	}
	p.Register("%1", "/tmp/p1.log")
	p.pollOnce()
	p.Unregister("%1")
	p.pollOnce()
	if count != 1 {
		t.Fatalf("expected 1 notification, got %d", count)
	}
}
