// Package notification decides whether the consumer should be told about a
// task state transition. Polling retries the same probe many times, so
// without deduplication a "results ready" toast (or worse, a dependent fetch
// it triggers) would fire once per cycle.
package notification

import (
	"context"
	"sync"
)

// EventKind is a logical user-facing event for one task.
type EventKind string

const (
	// EventProcessingStarted - the backend picked the job up.
	EventProcessingStarted EventKind = "processing_started"

	// EventResultsPartial - something renderable exists.
	EventResultsPartial EventKind = "results_partial"

	// EventResultsReady - the full result is available.
	EventResultsReady EventKind = "results_ready"

	// EventTaskFailed - the backend reported a definitive failure.
	EventTaskFailed EventKind = "task_failed"

	// EventTaskTimedOut - polling gave up; the consumer may retry.
	EventTaskTimedOut EventKind = "task_timed_out"
)

// Record identifies one logical notification.
type Record struct {
	TaskID    string
	EventKind EventKind
	DedupeKey string
}

// DedupeKey builds the suppression key for a (taskID, eventKind) pair.
func DedupeKey(taskID string, kind EventKind) string {
	return taskID + ":" + string(kind)
}

// Store is an optional persistent backend for deduplication, shared across
// process restarts (e.g. Redis SETNX). MarkOnce returns true exactly once
// per key.
type Store interface {
	MarkOnce(ctx context.Context, key string) (bool, error)
}

// Deduplicator ensures the consumer is told about a state transition exactly
// once. Safe for concurrent use by independent pollers.
type Deduplicator struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	store Store
}

// NewDeduplicator creates an in-memory Deduplicator.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{seen: make(map[string]struct{})}
}

// NewDeduplicatorWithStore creates a Deduplicator additionally backed by a
// persistent store. The in-memory set remains authoritative when the store
// is unreachable: a duplicate toast is worse than a best-effort store miss.
func NewDeduplicatorWithStore(store Store) *Deduplicator {
	return &Deduplicator{seen: make(map[string]struct{}), store: store}
}

// ShouldNotify returns true exactly once per distinct (taskID, eventKind)
// pair and marks the pair as notified; idempotent thereafter.
func (d *Deduplicator) ShouldNotify(ctx context.Context, taskID string, kind EventKind) bool {
	key := DedupeKey(taskID, kind)

	d.mu.Lock()
	if _, ok := d.seen[key]; ok {
		d.mu.Unlock()
		return false
	}
	d.seen[key] = struct{}{}
	d.mu.Unlock()

	if d.store != nil {
		first, err := d.store.MarkOnce(ctx, key)
		if err == nil && !first {
			// Another instance already notified for this pair.
			return false
		}
	}

	return true
}

// Forget releases all records for a task. Called when a handle is discarded
// so the set does not grow unboundedly in long-lived processes.
func (d *Deduplicator) Forget(taskID string) {
	prefix := taskID + ":"

	d.mu.Lock()
	defer d.mu.Unlock()
	for key := range d.seen {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(d.seen, key)
		}
	}
}
