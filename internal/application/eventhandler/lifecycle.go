// Package eventhandler contains subscribers for task lifecycle events.
package eventhandler

import (
	"log/slog"
	"sync"

	"github.com/mindleap/mindleap-task-hub/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// LIFECYCLE HANDLER
//
// Subscribes to every task lifecycle event and keeps per-kind counters:
// how many jobs were submitted, how they ended, and how often the offline
// cache had to stand in for the backend. The counters feed operational
// logging and the stats endpoint.
// ═══════════════════════════════════════════════════════════════════════════

// KindStats aggregates outcomes for one task kind.
type KindStats struct {
	Submitted      int64   `json:"submitted"`
	Completed      int64   `json:"completed"`
	Failed         int64   `json:"failed"`
	TimedOut       int64   `json:"timed_out"`
	CacheFallbacks int64   `json:"cache_fallbacks"`
	PartialUpdates int64   `json:"partial_updates"`
	AvgScore       float64 `json:"avg_completeness_score"`

	scoreSum float64
}

// LifecycleHandler tracks task outcomes per kind.
type LifecycleHandler struct {
	mu     sync.RWMutex
	stats  map[string]*KindStats
	logger *slog.Logger
}

// NewLifecycleHandler creates a LifecycleHandler.
func NewLifecycleHandler(logger *slog.Logger) *LifecycleHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &LifecycleHandler{
		stats:  make(map[string]*KindStats),
		logger: logger.With("handler", "task_lifecycle"),
	}
}

// RegisterWith subscribes the handler to every lifecycle event type.
func (h *LifecycleHandler) RegisterWith(bus shared.EventBus) error {
	return bus.SubscribeAll(h.Handle)
}

// Handle implements shared.EventHandler.
func (h *LifecycleHandler) Handle(event shared.Event) error {
	switch e := event.(type) {
	case shared.TaskSubmittedEvent:
		h.record(e.Kind, func(s *KindStats) { s.Submitted++ })
		h.logger.Info("task submitted", "task_id", e.AggregateID(), "kind", e.Kind)

	case shared.TaskPartialEvent:
		h.record(e.Kind, func(s *KindStats) { s.PartialUpdates++ })
		h.logger.Info("task has partial results",
			"task_id", e.AggregateID(),
			"kind", e.Kind,
			"completeness_score", e.CompletenessScore,
		)

	case shared.TaskCompletedEvent:
		h.record(e.Kind, func(s *KindStats) {
			s.Completed++
			s.scoreSum += e.CompletenessScore
			s.AvgScore = s.scoreSum / float64(s.Completed)
		})
		h.logger.Info("task completed",
			"task_id", e.AggregateID(),
			"kind", e.Kind,
			"completeness_score", e.CompletenessScore,
			"from_cache", e.FromCache,
		)

	case shared.TaskFailedEvent:
		h.record(e.Kind, func(s *KindStats) { s.Failed++ })
		h.logger.Warn("task failed",
			"task_id", e.AggregateID(),
			"kind", e.Kind,
			"reason", e.Reason,
		)

	case shared.TaskTimedOutEvent:
		h.record(e.Kind, func(s *KindStats) { s.TimedOut++ })
		h.logger.Warn("task timed out",
			"task_id", e.AggregateID(),
			"kind", e.Kind,
			"attempts", e.Attempts,
		)

	case shared.TaskCacheFallbackEvent:
		h.record(e.Kind, func(s *KindStats) { s.CacheFallbacks++ })
		h.logger.Warn("served cached result, backend unreachable",
			"task_id", e.AggregateID(),
			"kind", e.Kind,
			"cache_key", e.CacheKey,
		)

	default:
		h.logger.Debug("unhandled event", "event_type", event.EventType())
	}

	return nil
}

func (h *LifecycleHandler) record(kind string, apply func(*KindStats)) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.stats[kind]
	if !ok {
		s = &KindStats{}
		h.stats[kind] = s
	}
	apply(s)
}

// Snapshot returns a copy of the per-kind counters.
func (h *LifecycleHandler) Snapshot() map[string]KindStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]KindStats, len(h.stats))
	for kind, s := range h.stats {
		out[kind] = *s
	}
	return out
}
