// Package memory provides in-memory persistence adapters. They serve tests
// and deployments that run without Redis.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mindleap/mindleap-task-hub/internal/domain/shared"
	"github.com/mindleap/mindleap-task-hub/internal/domain/task"
)

// DefaultResultTTL matches the Redis-backed cache.
const DefaultResultTTL = 24 * time.Hour

type cacheEntry struct {
	snapshot  task.ResultSnapshot
	expiresAt time.Time
}

// ResultCache is an in-process task.ResultCache with TTL expiry. Expired
// entries are dropped lazily on lookup.
type ResultCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration

	// now is injectable for expiry tests.
	now func() time.Time
}

// NewResultCache creates a ResultCache. A non-positive ttl falls back to
// DefaultResultTTL.
func NewResultCache(ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	return &ResultCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Store caches a Completed snapshot under the logical key.
func (c *ResultCache) Store(_ context.Context, key string, snapshot task.ResultSnapshot) error {
	if key == "" {
		return shared.NewDomainError("cache", "Store", shared.ErrEmptyValue, "cache key cannot be empty")
	}
	if snapshot.Status != task.StatusCompleted {
		return shared.NewDomainError("cache", "Store", shared.ErrInvalidState,
			"only completed results are cached, got "+snapshot.Status.String())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{
		snapshot:  snapshot.Clone(),
		expiresAt: c.now().Add(c.ttl),
	}
	return nil
}

// Lookup returns the cached snapshot for the logical key, or nil on a miss
// or an expired entry.
func (c *ResultCache) Lookup(_ context.Context, key string) (*task.ResultSnapshot, error) {
	if key == "" {
		return nil, shared.NewDomainError("cache", "Lookup", shared.ErrEmptyValue, "cache key cannot be empty")
	}

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, nil
	}

	out := entry.snapshot.Clone()
	return &out, nil
}

// Invalidate drops the cached result for the logical key.
func (c *ResultCache) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// Len reports the number of live entries, expired ones included until their
// next lookup.
func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
