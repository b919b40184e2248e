package redis

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"

	"github.com/mindleap/mindleap-task-hub/internal/domain/shared"
	"github.com/mindleap/mindleap-task-hub/internal/domain/task"
)

// DefaultResultTTL is how long a completed result stays servable offline.
const DefaultResultTTL = 24 * time.Hour

// ResultCache stores completed task results in Redis under hashed logical
// keys. Only Completed snapshots are accepted; expiry is delegated to Redis
// TTLs. Implements task.ResultCache.
type ResultCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewResultCache creates a ResultCache. A non-positive ttl falls back to
// DefaultResultTTL.
func NewResultCache(client *redis.Client, ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	return &ResultCache{
		client: client,
		ttl:    ttl,
	}
}

// CacheKey hashes the caller-supplied logical key. Logical keys embed user
// request text, so they are hashed rather than stored verbatim.
func CacheKey(logical string) string {
	sum := blake2b.Sum256([]byte(logical))
	return PrefixResult + hex.EncodeToString(sum[:])
}

// Store caches a Completed snapshot under the logical key.
func (c *ResultCache) Store(ctx context.Context, key string, snapshot task.ResultSnapshot) error {
	if key == "" {
		return shared.NewDomainError("cache", "Store", shared.ErrEmptyValue, "cache key cannot be empty")
	}
	if snapshot.Status != task.StatusCompleted {
		return shared.NewDomainError("cache", "Store", shared.ErrInvalidState,
			"only completed results are cached, got "+snapshot.Status.String())
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	return c.client.Set(ctx, CacheKey(key), data, c.ttl).Err()
}

// Lookup returns the cached snapshot for the logical key, or nil on a miss.
func (c *ResultCache) Lookup(ctx context.Context, key string) (*task.ResultSnapshot, error) {
	if key == "" {
		return nil, shared.NewDomainError("cache", "Lookup", shared.ErrEmptyValue, "cache key cannot be empty")
	}

	data, err := c.client.Get(ctx, CacheKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var snapshot task.ResultSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	return &snapshot, nil
}

// Invalidate drops the cached result for the logical key.
func (c *ResultCache) Invalidate(ctx context.Context, key string) error {
	if key == "" {
		return shared.NewDomainError("cache", "Invalidate", shared.ErrEmptyValue, "cache key cannot be empty")
	}
	return c.client.Del(ctx, CacheKey(key)).Err()
}
