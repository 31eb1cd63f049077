// Package dedup implements the idempotency gate in front of the delivery
// pipeline: a process-local set of keys with per-class TTLs.
//
// MarkIfAbsent is the only mutating entry point. Presence check and insert
// happen under one lock, so two concurrent callers presenting the same key
// observe exactly one "true". Expired entries are dropped lazily on lookup
// and periodically by Run.
package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Class selects the retention window of a key.
type Class int

const (
	// Derived keys are hashes computed from event fields.
	Derived Class = iota
	// External keys are supplied by the caller (id, request_id, Idempotency-Key).
	External
)

func (c Class) String() string {
	if c == External {
		return "external"
	}
	return "derived"
}

type entry struct {
	seen  time.Time
	class Class
}

// Cache is safe for concurrent use. The zero value is not usable; call New.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry

	derivedTTL  time.Duration
	externalTTL time.Duration
	sweepEvery  time.Duration

	now func() time.Time
	log zerolog.Logger
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

// WithSweepInterval sets how often Run purges expired keys.
func WithSweepInterval(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.sweepEvery = d
		}
	}
}

// New builds a cache with the given TTLs. Non-positive TTLs fall back to
// 60s (derived) and 900s (external).
func New(derivedTTL, externalTTL time.Duration, opts ...Option) *Cache {
	if derivedTTL <= 0 {
		derivedTTL = 60 * time.Second
	}
	if externalTTL <= 0 {
		externalTTL = 900 * time.Second
	}
	c := &Cache{
		entries:     make(map[string]entry),
		derivedTTL:  derivedTTL,
		externalTTL: externalTTL,
		sweepEvery:  60 * time.Second,
		now:         time.Now,
		log:         log.With().Str("component", "dedup").Logger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Cache) ttl(class Class) time.Duration {
	if class == External {
		return c.externalTTL
	}
	return c.derivedTTL
}

// MarkIfAbsent records key and reports true when it was not already present
// within its TTL. An empty key is never deduplicated.
func (c *Cache) MarkIfAbsent(key string, class Class) bool {
	if key == "" {
		return true
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		if now.Sub(e.seen) < c.ttl(e.class) {
			return false
		}
	}
	c.entries[key] = entry{seen: now, class: class}
	return true
}

// Seen reports whether key is present and unexpired without recording it.
func (c *Cache) Seen(key string) bool {
	if key == "" {
		return false
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	if now.Sub(e.seen) >= c.ttl(e.class) {
		delete(c.entries, key)
		return false
	}
	return true
}

// Len returns the number of stored keys, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep removes expired keys and returns how many were dropped.
func (c *Cache) Sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k, e := range c.entries {
		if now.Sub(e.seen) >= c.ttl(e.class) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (c *Cache) Run(ctx context.Context) {
	t := time.NewTicker(c.sweepEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := c.Sweep(); n > 0 {
				c.log.Debug().Int("removed", n).Int("remaining", c.Len()).Msg("dedup sweep")
			}
		}
	}
}
