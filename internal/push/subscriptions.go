// Package push implements web-push notification delivery: the device-keyed
// subscription store, the VAPID key store, and the transition-filtered
// dispatcher with retry, cooldown, and dedup.
package push

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SubscriptionKeys are the client-provided web-push encryption keys.
type SubscriptionKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Subscription is one device's push registration plus its notification
// scope. EventTypes == nil means "inherit the global enabled set".
type Subscription struct {
	ID              string           `json:"id"`
	DeviceID        string           `json:"deviceId"`
	Endpoint        string           `json:"endpoint"`
	Keys            SubscriptionKeys `json:"keys"`
	PaneIDs         []string         `json:"paneIds,omitempty"`
	EventTypes      []string         `json:"eventTypes,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
	LastDeliveredAt *time.Time       `json:"lastDeliveredAt,omitempty"`
	LastErrorAt     *time.Time       `json:"lastErrorAt,omitempty"`
	LastError       string           `json:"lastError,omitempty"`
}

type subscriptionFile struct {
	Version       int            `json:"version"`
	SavedAt       time.Time      `json:"savedAt"`
	Subscriptions []Subscription `json:"subscriptions"`
}

// ErrNotFound is returned when no subscription matches.
var ErrNotFound = errors.New("subscription not found")

// SubscriptionStore persists subscriptions to one JSON document with an
// atomic write-temp-then-rename, 0600 file inside a 0700 directory.
type SubscriptionStore struct {
	path string
	now  func() time.Time

	mu   sync.Mutex
	subs map[string]Subscription
}

// NewSubscriptionStore loads (or initializes) the store at path.
func NewSubscriptionStore(path string) (*SubscriptionStore, error) {
	s := &SubscriptionStore{path: path, now: time.Now, subs: map[string]Subscription{}}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SubscriptionStore) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var doc subscriptionFile
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	for _, sub := range doc.Subscriptions {
		s.subs[sub.ID] = sub
	}
	return nil
}

func (s *SubscriptionStore) persistLocked() error {
	doc := subscriptionFile{Version: 1, SavedAt: s.now()}
	for _, sub := range s.subs {
		doc.Subscriptions = append(doc.Subscriptions, sub)
	}
	sort.Slice(doc.Subscriptions, func(i, j int) bool {
		return doc.Subscriptions[i].CreatedAt.Before(doc.Subscriptions[j].CreatedAt)
	})
	return writeFileAtomic(s.path, doc)
}

// writeFileAtomic marshals v and renames a 0600 temp file over path; the
// parent directory is created 0700.
func writeFileAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// UpsertResult reports what Upsert did.
type UpsertResult struct {
	SubscriptionID string
	Created        bool
	SavedAt        time.Time
}

// Upsert inserts or replaces the subscription for sub.DeviceID (falling
// back to endpoint identity when the device id is empty).
func (s *SubscriptionStore) Upsert(sub Subscription) (UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var existing *Subscription
	for id := range s.subs {
		cur := s.subs[id]
		if (sub.DeviceID != "" && cur.DeviceID == sub.DeviceID) ||
			(sub.DeviceID == "" && cur.Endpoint == sub.Endpoint) {
			existing = &cur
			break
		}
	}

	if existing != nil {
		sub.ID = existing.ID
		sub.CreatedAt = existing.CreatedAt
	} else {
		sub.ID = uuid.NewString()
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	s.subs[sub.ID] = sub

	if err := s.persistLocked(); err != nil {
		return UpsertResult{}, err
	}
	return UpsertResult{SubscriptionID: sub.ID, Created: existing == nil, SavedAt: now}, nil
}

// List returns all subscriptions, oldest first.
func (s *SubscriptionStore) List() []Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Remove deletes one subscription by id.
func (s *SubscriptionStore) Remove(subscriptionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[subscriptionID]; !ok {
		return ErrNotFound
	}
	delete(s.subs, subscriptionID)
	return s.persistLocked()
}

// RevokeQuery selects subscriptions for bulk removal; the first non-empty
// field wins.
type RevokeQuery struct {
	SubscriptionID string
	Endpoint       string
	DeviceID       string
}

// Revoke removes every matching subscription and returns the count.
func (s *SubscriptionStore) Revoke(q RevokeQuery) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int
	for id, sub := range s.subs {
		match := false
		switch {
		case q.SubscriptionID != "":
			match = id == q.SubscriptionID
		case q.Endpoint != "":
			match = sub.Endpoint == q.Endpoint
		case q.DeviceID != "":
			match = sub.DeviceID == q.DeviceID
		}
		if match {
			delete(s.subs, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.persistLocked()
}

// MarkDelivered records a successful delivery.
func (s *SubscriptionStore) MarkDelivered(subscriptionID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[subscriptionID]
	if !ok {
		return
	}
	sub.LastDeliveredAt = &at
	sub.LastError = ""
	s.subs[subscriptionID] = sub
	_ = s.persistLocked()
}

// MarkDeliveryError records a terminal delivery failure.
func (s *SubscriptionStore) MarkDeliveryError(subscriptionID string, at time.Time, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[subscriptionID]
	if !ok {
		return
	}
	sub.LastErrorAt = &at
	sub.LastError = message
	s.subs[subscriptionID] = sub
	_ = s.persistLocked()
}
