// Package summarybus buffers publisher-submitted summary events so the push
// dispatcher can attach a human-readable summary to an observed state
// transition within a short wait window. Events are keyed two ways — by
// eventId and by their full locator — and both mappings are enforced as a
// strict bijection so publisher retries are safe.
package summarybus

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/yuki-yano/vde-monitor/internal/model"
)

// Publish outcome codes.
const (
	CodeInvalidRequest    = "invalid_request"
	CodeMaxEventsOverflow = "max_events_overflow"
)

// Wait outcome values.
const (
	ResultHit      = "hit"
	ResultTimeout  = "timeout"
	ResultRejected = "rejected"

	ReasonWaiterOverflow = "waiter_overflow"
)

// Options bound the bus; zero values fall back to the built-in defaults.
type Options struct {
	BufferMs      int64
	MaxEvents     int
	MaxPerBinding int
	MaxWaiters    int
	SequenceSkew  int64
}

func (o Options) withDefaults() Options {
	if o.BufferMs <= 0 {
		o.BufferMs = 30_000
	}
	if o.MaxEvents <= 0 {
		o.MaxEvents = 2000
	}
	if o.MaxPerBinding <= 0 {
		o.MaxPerBinding = 200
	}
	if o.MaxWaiters <= 0 {
		o.MaxWaiters = 200
	}
	if o.SequenceSkew <= 0 {
		o.SequenceSkew = 2000
	}
	return o
}

// PublishRequest is one summary submission.
type PublishRequest struct {
	EventID       string
	Locator       model.SummaryLocator
	SourceEventAt time.Time
	Summary       map[string]any
}

// PublishResult reports the outcome of one publish.
type PublishResult struct {
	OK           bool
	EventID      string
	Deduplicated bool
	Code         string
}

// WaitResult reports the outcome of one WaitForSummary call.
type WaitResult struct {
	Result     string
	Event      *model.SummaryEvent
	WaitedMs   int64
	ReasonCode string
}

type indexedEvent struct {
	event      model.SummaryEvent
	locatorKey string
}

type waiter struct {
	seq     uint64
	binding model.SummaryLocator
	minMs   int64
	maxMs   int64
	ch      chan model.SummaryEvent
}

// Bus is safe for concurrent use.
type Bus struct {
	opts Options
	now  func() time.Time

	mu          sync.Mutex
	byBinding   map[string][]*indexedEvent
	byEventID   map[string]*indexedEvent
	byLocator   map[string]*indexedEvent
	totalEvents int

	waiters   map[string][]*waiter
	waiterN   int
	waiterSeq uint64
}

// New builds a Bus with opts (zero values take the built-in defaults).
func New(opts Options) *Bus {
	return &Bus{
		opts:      opts.withDefaults(),
		now:       time.Now,
		byBinding: make(map[string][]*indexedEvent),
		byEventID: make(map[string]*indexedEvent),
		byLocator: make(map[string]*indexedEvent),
		waiters:   make(map[string][]*waiter),
	}
}

func locatorKey(l model.SummaryLocator) string {
	return l.BindingKey() + "\x1f" + strconv.FormatInt(l.Sequence, 10)
}

// Publish inserts req into the buffer, deduplicating against retries and
// rejecting eventId/locator conflicts and cap overflows.
func (b *Bus) Publish(req PublishRequest) PublishResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.sweepLocked(now)

	lKey := locatorKey(req.Locator)
	expiresAt := now.UnixMilli() + b.opts.BufferMs

	if existing, ok := b.byEventID[req.EventID]; ok {
		if existing.locatorKey != lKey {
			return PublishResult{Code: CodeInvalidRequest}
		}
		existing.event.ExpiresAtMs = expiresAt
		return PublishResult{OK: true, EventID: req.EventID, Deduplicated: true}
	}
	if existing, ok := b.byLocator[lKey]; ok && existing.event.EventID != req.EventID {
		return PublishResult{Code: CodeInvalidRequest}
	}

	bKey := req.Locator.BindingKey()
	if b.totalEvents >= b.opts.MaxEvents || len(b.byBinding[bKey]) >= b.opts.MaxPerBinding {
		return PublishResult{Code: CodeMaxEventsOverflow}
	}

	ev := &indexedEvent{
		event: model.SummaryEvent{
			EventID:       req.EventID,
			Locator:       req.Locator,
			SourceEventAt: req.SourceEventAt,
			Summary:       req.Summary,
			ExpiresAtMs:   expiresAt,
		},
		locatorKey: lKey,
	}
	b.byEventID[req.EventID] = ev
	b.byLocator[lKey] = ev
	bucket := append(b.byBinding[bKey], ev)
	sort.SliceStable(bucket, func(i, j int) bool {
		ai, aj := bucket[i].event.SourceEventAt.UnixMilli(), bucket[j].event.SourceEventAt.UnixMilli()
		if ai != aj {
			return ai < aj
		}
		return bucket[i].event.EventID < bucket[j].event.EventID
	})
	b.byBinding[bKey] = bucket
	b.totalEvents++

	b.wakeWaitersLocked(bKey)
	return PublishResult{OK: true, EventID: req.EventID, Deduplicated: false}
}

// WaitForSummary blocks until a matching event is published, the wait
// window elapses, or ctx is done. An event matches when its source time
// falls inside [minSourceEventAt, minSourceEventAt+waitMs] and its sequence
// is within the skew tolerance of binding.Sequence.
func (b *Bus) WaitForSummary(ctx context.Context, binding model.SummaryLocator, minSourceEventAt time.Time, waitMs int64) WaitResult {
	started := b.now()
	minMs := minSourceEventAt.UnixMilli()
	maxMs := minMs + waitMs

	b.mu.Lock()
	b.sweepLocked(started)

	if b.waiterN >= b.opts.MaxWaiters {
		b.mu.Unlock()
		return WaitResult{Result: ResultRejected, ReasonCode: ReasonWaiterOverflow}
	}

	bKey := binding.BindingKey()
	if ev := b.consumeBestLocked(bKey, binding.Sequence, minMs, maxMs); ev != nil {
		b.mu.Unlock()
		return WaitResult{Result: ResultHit, Event: ev, WaitedMs: b.sinceMs(started)}
	}

	b.waiterSeq++
	w := &waiter{
		seq:     b.waiterSeq,
		binding: binding,
		minMs:   minMs,
		maxMs:   maxMs,
		ch:      make(chan model.SummaryEvent, 1),
	}
	b.waiters[bKey] = append(b.waiters[bKey], w)
	b.waiterN++
	b.mu.Unlock()

	timer := time.NewTimer(time.Duration(waitMs) * time.Millisecond)
	defer timer.Stop()

	select {
	case ev := <-w.ch:
		return WaitResult{Result: ResultHit, Event: &ev, WaitedMs: b.sinceMs(started)}
	case <-timer.C:
	case <-ctx.Done():
	}

	b.mu.Lock()
	b.removeWaiterLocked(bKey, w)
	b.mu.Unlock()

	// A wake may have raced the timer; prefer the delivered event.
	select {
	case ev := <-w.ch:
		return WaitResult{Result: ResultHit, Event: &ev, WaitedMs: b.sinceMs(started)}
	default:
	}
	return WaitResult{Result: ResultTimeout, WaitedMs: b.sinceMs(started)}
}

func (b *Bus) sinceMs(started time.Time) int64 {
	d := b.now().Sub(started).Milliseconds()
	if d < 0 {
		return 0
	}
	return d
}

// consumeBestLocked picks and removes the matching event with the smallest
// sequence delta for a single waiter, tie-breaking by the bucket order
// (earliest sourceEventAtMs, then eventId).
func (b *Bus) consumeBestLocked(bKey string, sequence, minMs, maxMs int64) *model.SummaryEvent {
	var best *indexedEvent
	var bestDelta int64
	for _, ev := range b.byBinding[bKey] {
		at := ev.event.SourceEventAt.UnixMilli()
		if at < minMs || at > maxMs {
			continue
		}
		delta := absInt64(ev.event.Locator.Sequence - sequence)
		if delta > b.opts.SequenceSkew {
			continue
		}
		if best == nil || delta < bestDelta {
			best = ev
			bestDelta = delta
		}
	}
	if best == nil {
		return nil
	}
	b.removeEventLocked(best)
	out := best.event
	return &out
}

// wakeWaitersLocked repeatedly resolves the best (waiter, event) pairing
// within one binding: smallest sequence delta first, oldest waiter on ties.
func (b *Bus) wakeWaitersLocked(bKey string) {
	for {
		waiters := b.waiters[bKey]
		if len(waiters) == 0 || len(b.byBinding[bKey]) == 0 {
			return
		}

		var bestW *waiter
		var bestE *indexedEvent
		var bestDelta int64
		for _, w := range waiters {
			for _, ev := range b.byBinding[bKey] {
				at := ev.event.SourceEventAt.UnixMilli()
				if at < w.minMs || at > w.maxMs {
					continue
				}
				delta := absInt64(ev.event.Locator.Sequence - w.binding.Sequence)
				if delta > b.opts.SequenceSkew {
					continue
				}
				if bestE == nil || delta < bestDelta || (delta == bestDelta && w.seq < bestW.seq) {
					bestW, bestE, bestDelta = w, ev, delta
				}
			}
		}
		if bestE == nil {
			return
		}

		b.removeEventLocked(bestE)
		b.removeWaiterLocked(bKey, bestW)
		bestW.ch <- bestE.event
	}
}

func (b *Bus) removeEventLocked(ev *indexedEvent) {
	bKey := ev.event.Locator.BindingKey()
	bucket := b.byBinding[bKey]
	for i, e := range bucket {
		if e == ev {
			b.byBinding[bKey] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(b.byBinding[bKey]) == 0 {
		delete(b.byBinding, bKey)
	}
	delete(b.byEventID, ev.event.EventID)
	delete(b.byLocator, ev.locatorKey)
	b.totalEvents--
}

func (b *Bus) removeWaiterLocked(bKey string, w *waiter) {
	waiters := b.waiters[bKey]
	for i, cand := range waiters {
		if cand == w {
			b.waiters[bKey] = append(waiters[:i], waiters[i+1:]...)
			b.waiterN--
			break
		}
	}
	if len(b.waiters[bKey]) == 0 {
		delete(b.waiters, bKey)
	}
}

// sweepLocked drops every event whose expiry has passed.
func (b *Bus) sweepLocked(now time.Time) {
	nowMs := now.UnixMilli()
	var expired []*indexedEvent
	for _, ev := range b.byEventID {
		if ev.event.ExpiresAtMs <= nowMs {
			expired = append(expired, ev)
		}
	}
	for _, ev := range expired {
		b.removeEventLocked(ev)
	}
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
