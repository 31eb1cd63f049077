package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/buntdb"
)

// TTLCache is a small in-memory key/value store whose entries expire on
// their own. It backs the member-count and locale lookups.
type TTLCache struct {
	db  *buntdb.DB
	ttl time.Duration
}

// NewTTLCache opens an in-memory cache. A non-positive ttl disables caching:
// Get always misses and Set is a no-op.
func NewTTLCache(ttl time.Duration) (*TTLCache, error) {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	return &TTLCache{db: db, ttl: ttl}, nil
}

// Get returns the cached value for key.
func (c *TTLCache) Get(key string) (string, bool) {
	if c == nil || c.ttl <= 0 {
		return "", false
	}
	var val string
	err := c.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(key)
		val = v
		return err
	})
	if err != nil {
		return "", false
	}
	return val, true
}

// Set stores val under key for the cache TTL.
func (c *TTLCache) Set(key, val string) {
	if c == nil || c.ttl <= 0 {
		return
	}
	_ = c.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, val, &buntdb.SetOptions{Expires: true, TTL: c.ttl})
		return err
	})
}

// Delete drops key; missing keys are ignored.
func (c *TTLCache) Delete(key string) {
	if c == nil || c.ttl <= 0 {
		return
	}
	_ = c.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(key)
		if errors.Is(err, buntdb.ErrNotFound) {
			return nil
		}
		return err
	})
}

// Close releases the store.
func (c *TTLCache) Close() error {
	if c == nil {
		return nil
	}
	return c.db.Close()
}
