package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultDedupeTTL bounds how long a notification record is kept. Task
// handles are short-lived, so a day is ample.
const DefaultDedupeTTL = 24 * time.Hour

// DedupeStore persists notification dedupe records in Redis so exactly-once
// delivery holds across process restarts. Implements notification.Store.
type DedupeStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDedupeStore creates a DedupeStore. A non-positive ttl falls back to
// DefaultDedupeTTL.
func NewDedupeStore(client *redis.Client, ttl time.Duration) *DedupeStore {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	return &DedupeStore{
		client: client,
		ttl:    ttl,
	}
}

// MarkOnce atomically records the dedupe key. Returns true only for the
// first caller; every later call for the same key returns false.
func (s *DedupeStore) MarkOnce(ctx context.Context, key string) (bool, error) {
	return s.client.SetNX(ctx, PrefixNotified+key, 1, s.ttl).Result()
}
