package dispatch

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/yuki-yano/vde-monitor/internal/cachemap"
)

// Outcome classifies how an idempotent execution resolved.
type Outcome int

const (
	// OutcomeExecuted means fn ran for this call.
	OutcomeExecuted Outcome = iota
	// OutcomeJoined means this call waited on an in-flight execution.
	OutcomeJoined
	// OutcomeReplayed means a cached successful result was returned.
	OutcomeReplayed
	// OutcomeMismatch means the requestId was reused with a different payload.
	OutcomeMismatch
)

// Fingerprint hashes a payload so idempotency entries can detect requestId
// reuse with a different body.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0x1f})
	}
	return hex.EncodeToString(h.Sum(nil))
}

type idemEntry[T any] struct {
	fingerprint string
	done        chan struct{}
	result      T
	ok          bool
	settled     bool
	expiresAt   time.Time
}

// idemCache is the shared request-id idempotency machinery: concurrent
// retries with the same (key, fingerprint) join the in-flight execution or
// replay the cached successful result; a different fingerprint under the
// same key is a mismatch; settled failures are dropped so a later retry
// re-executes.
type idemCache[T any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries *cachemap.Map[string, *idemEntry[T]]
	now     func() time.Time
}

func newIdemCache[T any](ttl time.Duration, maxEntries int) *idemCache[T] {
	return &idemCache[T]{
		ttl:     ttl,
		entries: cachemap.New[string, *idemEntry[T]](maxEntries),
		now:     time.Now,
	}
}

// Do executes fn under key, deduplicating by fingerprint. fn reports
// (result, success); unsuccessful results are not retained.
func (c *idemCache[T]) Do(key, fingerprint string, fn func() (T, bool)) (T, Outcome) {
	c.mu.Lock()
	if e, exists := c.entries.Get(key); exists {
		if e.settled && c.now().After(e.expiresAt) {
			c.entries.Delete(key)
		} else if e.fingerprint != fingerprint {
			c.mu.Unlock()
			var zero T
			return zero, OutcomeMismatch
		} else if !e.settled {
			c.mu.Unlock()
			<-e.done
			return e.result, OutcomeJoined
		} else if e.ok {
			result := e.result
			c.mu.Unlock()
			return result, OutcomeReplayed
		} else {
			c.entries.Delete(key)
		}
	}

	e := &idemEntry[T]{
		fingerprint: fingerprint,
		done:        make(chan struct{}),
		expiresAt:   c.now().Add(c.ttl),
	}
	c.entries.SetWithLimit(key, e)
	c.mu.Unlock()

	result, ok := fn()

	c.mu.Lock()
	e.result = result
	e.ok = ok
	e.settled = true
	close(e.done)
	if !ok {
		// Drop failures so a later call with the same requestId can retry.
		if cur, exists := c.entries.Get(key); exists && cur == e {
			c.entries.Delete(key)
		}
	}
	c.mu.Unlock()
	return result, OutcomeExecuted
}
