// Package screendelta implements the per-pane cached text snapshot ring:
// clients receive either a full screen or a line-level delta, keyed by an
// opaque server-issued cursor token.
package screendelta

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/yuki-yano/vde-monitor/internal/cachemap"
)

const defaultLimit = 10

type snapshot struct {
	lines       []string
	alternateOn bool
	truncated   bool
}

type bucketKey struct {
	paneID    string
	lineCount int
}

// Cache holds, for each (paneId, lineCount) key, an insertion-ordered map of
// snapshots bounded to limit entries; the oldest is evicted on insert.
type Cache struct {
	mu      sync.Mutex
	limit   int
	buckets map[bucketKey]*cachemap.Map[string, snapshot]
}

// New builds a Cache. limit <= 0 keeps the default of 10.
func New(limit int) *Cache {
	if limit <= 0 {
		limit = defaultLimit
	}
	return &Cache{limit: limit, buckets: make(map[bucketKey]*cachemap.Map[string, snapshot])}
}

// CaptureMeta carries capture-time flags the cache needs to decide staleness.
type CaptureMeta struct {
	AlternateOn bool
	Truncated   bool
}

// TextResponse is what buildTextResponse returns to the HTTP layer.
type TextResponse struct {
	Full   bool
	Screen string
	Deltas []Delta
	Cursor string
}

// BuildTextResponse normalizes rawScreen into lines, mints and stores a
// new snapshot, and decides whether the client can be served a delta
// against requestedCursor or needs the full screen.
func (c *Cache) BuildTextResponse(paneID string, lineCount int, rawScreen string, meta CaptureMeta, requestedCursor string) TextResponse {
	nextLines := splitScreenLines(rawScreen)

	c.mu.Lock()
	key := bucketKey{paneID: paneID, lineCount: lineCount}
	bucket, ok := c.buckets[key]
	if !ok {
		bucket = cachemap.New[string, snapshot](c.limit)
		c.buckets[key] = bucket
	}

	newCursor := uuid.NewString()
	bucket.SetWithLimit(newCursor, snapshot{lines: nextLines, alternateOn: meta.AlternateOn, truncated: meta.Truncated})

	var prev snapshot
	havePrev := false
	if requestedCursor != "" {
		if s, found := bucket.Get(requestedCursor); found {
			prev = s
			havePrev = true
		}
	}
	c.mu.Unlock()

	if !havePrev || prev.alternateOn != meta.AlternateOn || prev.truncated != meta.Truncated {
		return TextResponse{Full: true, Screen: rawScreen, Cursor: newCursor}
	}

	deltas := BuildScreenDeltas(prev.lines, nextLines)
	if ShouldSendFull(deltas, len(prev.lines), len(nextLines)) {
		return TextResponse{Full: true, Screen: rawScreen, Cursor: newCursor}
	}
	return TextResponse{Full: false, Deltas: deltas, Cursor: newCursor}
}

// splitScreenLines normalizes CRLF to LF then splits on LF.
func splitScreenLines(raw string) []string {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	return strings.Split(normalized, "\n")
}
