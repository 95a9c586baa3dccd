package push

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/yuki-yano/vde-monitor/internal/model"
	"github.com/yuki-yano/vde-monitor/internal/summarybus"
)

// Notification event types.
const (
	EventWaitingPermission = "pane.waiting_permission"
	EventTaskCompleted     = "pane.task_completed"
)

// Settings is the global notification configuration served over HTTP and
// consulted on every dispatch.
type Settings struct {
	Enabled           bool     `json:"enabled"`
	EnabledEventTypes []string `json:"enabledEventTypes"`
}

// DefaultSettings enables both event types.
func DefaultSettings() Settings {
	return Settings{Enabled: true, EnabledEventTypes: []string{EventWaitingPermission, EventTaskCompleted}}
}

// DispatcherOptions tune retry/cooldown behavior; zero values take the
// built-in defaults.
type DispatcherOptions struct {
	CooldownMs    int64
	RetryDelays   []time.Duration
	WarnThreshold int
	SummaryWaitMs int64
}

func (o DispatcherOptions) withDefaults() DispatcherOptions {
	if o.CooldownMs <= 0 {
		o.CooldownMs = 30_000
	}
	if o.RetryDelays == nil {
		o.RetryDelays = []time.Duration{500 * time.Millisecond, 1500 * time.Millisecond}
	}
	if o.WarnThreshold <= 0 {
		o.WarnThreshold = 3
	}
	if o.SummaryWaitMs <= 0 {
		o.SummaryWaitMs = 5_000
	}
	return o
}

type subCache struct {
	endpoint        string
	lastFingerprint string
	lastSentAt      map[string]time.Time // cooldown key -> last send
	failures        int
}

// Dispatcher fans out state transitions to push subscriptions.
type Dispatcher struct {
	store     *SubscriptionStore
	transport Transport
	bus       *summarybus.Bus
	opts      DispatcherOptions
	logger    *slog.Logger
	now       func() time.Time
	sleep     func(time.Duration)

	mu       sync.Mutex
	settings Settings
	caches   map[string]*subCache
}

// NewDispatcher wires a Dispatcher; bus may be nil (no summary correlation).
func NewDispatcher(store *SubscriptionStore, transport Transport, bus *summarybus.Bus, opts DispatcherOptions, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:     store,
		transport: transport,
		bus:       bus,
		opts:      opts.withDefaults(),
		logger:    logger,
		now:       time.Now,
		sleep:     time.Sleep,
		settings:  DefaultSettings(),
		caches:    map[string]*subCache{},
	}
}

// Settings returns the current global settings.
func (d *Dispatcher) Settings() Settings {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settings
}

// UpdateSettings replaces the global settings.
func (d *Dispatcher) UpdateSettings(s Settings) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.settings = s
}

// classify maps a transition to its notification event type; empty means no
// notification.
func classify(ev model.SessionTransitionEvent) string {
	if ev.Previous == nil || ev.Source == model.SourceRestore {
		return ""
	}
	if ev.Previous.State == ev.Next.State && ev.Previous.StateReason == ev.Next.StateReason {
		return ""
	}
	switch {
	case ev.Next.State == model.StateWaitingPermission:
		return EventWaitingPermission
	case ev.Next.State == model.StateWaitingInput && ev.Previous.State == model.StateRunning:
		return EventTaskCompleted
	}
	return ""
}

// HandleTransition dispatches one transition to every eligible
// subscription. Per-subscription failures never propagate.
func (d *Dispatcher) HandleTransition(ctx context.Context, ev model.SessionTransitionEvent) {
	eventType := classify(ev)
	if eventType == "" {
		return
	}

	settings := d.Settings()
	if !settings.Enabled || !slices.Contains(settings.EnabledEventTypes, eventType) {
		return
	}

	subs := d.store.List()
	d.reconcileCaches(subs)

	eligible := make([]Subscription, 0, len(subs))
	for _, sub := range subs {
		if len(sub.PaneIDs) > 0 && !slices.Contains(sub.PaneIDs, ev.PaneID) {
			continue
		}
		effective := sub.EventTypes
		if effective == nil {
			effective = settings.EnabledEventTypes
		}
		if !slices.Contains(effective, eventType) {
			continue
		}
		eligible = append(eligible, sub)
	}
	if len(eligible) == 0 {
		return
	}

	body := d.resolveBody(ctx, ev, eventType)
	payload, err := json.Marshal(map[string]any{
		"type":   eventType,
		"paneId": ev.PaneID,
		"title":  ev.Next.Title,
		"body":   body,
		"state":  ev.Next.State,
		"at":     ev.At.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}

	var sent, retried, failed, expired int
	var wg sync.WaitGroup
	var statMu sync.Mutex
	for _, sub := range eligible {
		wg.Add(1)
		go func(sub Subscription) {
			defer wg.Done()
			outcome := d.deliverOne(ctx, sub, ev, eventType, payload)
			statMu.Lock()
			switch outcome {
			case deliverSent:
				sent++
			case deliverRetriedSent:
				sent++
				retried++
			case deliverFailed:
				failed++
			case deliverExpired:
				expired++
			}
			statMu.Unlock()
		}(sub)
	}
	wg.Wait()

	if d.logger != nil {
		d.logger.Info("push transition dispatched",
			"pane_id", ev.PaneID, "event_type", eventType,
			"sent", sent, "retried", retried, "failed", failed, "expired", expired)
	}
}

// resolveBody waits briefly for a publisher summary correlated to this
// transition; without one a generic fallback body is used.
func (d *Dispatcher) resolveBody(ctx context.Context, ev model.SessionTransitionEvent, eventType string) string {
	fallback := fallbackBody(ev, eventType)
	if d.bus == nil {
		return fallback
	}
	source := string(ev.Next.Agent)
	if source != string(model.AgentCodex) && source != string(model.AgentClaude) {
		return fallback
	}
	binding := model.SummaryLocator{
		Source:    source,
		RunID:     ev.Next.AgentSessionID,
		PaneID:    ev.PaneID,
		EventType: eventType,
		Sequence:  ev.At.UnixMilli(),
	}
	res := d.bus.WaitForSummary(ctx, binding, ev.At.Add(-time.Second), d.opts.SummaryWaitMs)
	if res.Result != summarybus.ResultHit || res.Event == nil {
		return fallback
	}
	if body, ok := res.Event.Summary["notificationBody"].(string); ok && body != "" {
		return body
	}
	return fallback
}

func fallbackBody(ev model.SessionTransitionEvent, eventType string) string {
	switch eventType {
	case EventWaitingPermission:
		return "Agent is waiting for permission"
	case EventTaskCompleted:
		return "Agent finished and is waiting for input"
	}
	return string(ev.Next.State)
}

type deliverOutcome int

const (
	deliverSkipped deliverOutcome = iota
	deliverSent
	deliverRetriedSent
	deliverFailed
	deliverExpired
)

func (d *Dispatcher) deliverOne(ctx context.Context, sub Subscription, ev model.SessionTransitionEvent, eventType string, payload []byte) deliverOutcome {
	eventAt := ev.At
	if ev.Next.LastEventAt != nil {
		eventAt = *ev.Next.LastEventAt
	}
	fingerprint := ev.PaneID + ":" + string(ev.Next.State) + ":" + ev.Next.StateReason + ":" + strconv.FormatInt(eventAt.UnixMilli(), 10)
	cooldownKey := sub.ID + ":" + ev.PaneID + ":" + eventType

	d.mu.Lock()
	cache := d.caches[sub.ID]
	if cache == nil {
		cache = &subCache{endpoint: sub.Endpoint, lastSentAt: map[string]time.Time{}}
		d.caches[sub.ID] = cache
	}
	if cache.lastFingerprint == fingerprint {
		d.mu.Unlock()
		return deliverSkipped
	}
	if last, ok := cache.lastSentAt[cooldownKey]; ok && d.now().Sub(last).Milliseconds() < d.opts.CooldownMs {
		d.mu.Unlock()
		return deliverSkipped
	}
	d.mu.Unlock()

	attempts := len(d.opts.RetryDelays) + 1
	var lastStatus int
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			d.sleep(d.opts.RetryDelays[attempt-1])
		}
		status, err := d.transport.Send(ctx, sub, payload)
		lastStatus, lastErr = status, err
		if d.logger != nil {
			d.logger.Debug("push delivery attempt",
				"subscription_id", sub.ID, "attempt", attempt+1, "status", status, "error", err)
		}
		if err == nil && status >= 200 && status < 300 {
			now := d.now()
			d.store.MarkDelivered(sub.ID, now)
			d.mu.Lock()
			cache.failures = 0
			cache.lastFingerprint = fingerprint
			cache.lastSentAt[cooldownKey] = now
			d.mu.Unlock()
			if attempt > 0 {
				return deliverRetriedSent
			}
			return deliverSent
		}
		if status == 404 || status == 410 {
			_ = d.store.Remove(sub.ID)
			d.mu.Lock()
			delete(d.caches, sub.ID)
			d.mu.Unlock()
			if d.logger != nil {
				d.logger.Info("removed expired push subscription", "subscription_id", sub.ID, "status", status)
			}
			return deliverExpired
		}
		// 429, 5xx, and unclassified errors retry.
	}

	now := d.now()
	msg := "push delivery failed"
	if lastErr != nil {
		msg = lastErr.Error()
	} else if lastStatus != 0 {
		msg = "status " + strconv.Itoa(lastStatus)
	}
	d.store.MarkDeliveryError(sub.ID, now, msg)
	d.mu.Lock()
	cache.failures++
	failures := cache.failures
	d.mu.Unlock()
	if failures >= d.opts.WarnThreshold && d.logger != nil {
		d.logger.Warn("push subscription failing repeatedly",
			"subscription_id", sub.ID, "consecutive_failures", failures, "last_error", msg)
	}
	return deliverFailed
}

// reconcileCaches flushes per-subscription caches whose endpoint changed and
// drops caches for subscriptions no longer present.
func (d *Dispatcher) reconcileCaches(subs []Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	present := make(map[string]string, len(subs))
	for _, sub := range subs {
		present[sub.ID] = sub.Endpoint
	}
	for id, cache := range d.caches {
		endpoint, ok := present[id]
		if !ok {
			delete(d.caches, id)
			continue
		}
		if cache.endpoint != endpoint {
			d.caches[id] = &subCache{endpoint: endpoint, lastSentAt: map[string]time.Time{}}
		}
	}
}
