package jobs

import (
	"context"
	"log/slog"

	"github.com/mindleap/mindleap-task-hub/internal/application/eventhandler"
	"github.com/mindleap/mindleap-task-hub/internal/infrastructure/messaging"
)

// SnapshotMetricsJob periodically writes the runtime counters to the log:
// per-kind task outcomes from the lifecycle handler and per-event-type bus
// metrics. Cheap log-based observability for deployments without a metrics
// backend.
type SnapshotMetricsJob struct {
	lifecycle *eventhandler.LifecycleHandler
	bus       *messaging.InMemoryEventBus
	logger    *slog.Logger
}

// NewSnapshotMetricsJob creates a SnapshotMetricsJob. Both sources are
// optional; nil sources are skipped.
func NewSnapshotMetricsJob(lifecycle *eventhandler.LifecycleHandler, bus *messaging.InMemoryEventBus, logger *slog.Logger) *SnapshotMetricsJob {
	if logger == nil {
		logger = slog.Default()
	}

	return &SnapshotMetricsJob{
		lifecycle: lifecycle,
		bus:       bus,
		logger:    logger.With("job", "snapshot_metrics"),
	}
}

// Name implements scheduler.Job.
func (j *SnapshotMetricsJob) Name() string {
	return "snapshot_metrics"
}

// Run implements scheduler.Job.
func (j *SnapshotMetricsJob) Run(ctx context.Context) error {
	if j.lifecycle != nil {
		for kind, stats := range j.lifecycle.Snapshot() {
			j.logger.Info("task outcomes",
				"kind", kind,
				"submitted", stats.Submitted,
				"completed", stats.Completed,
				"failed", stats.Failed,
				"timed_out", stats.TimedOut,
				"cache_fallbacks", stats.CacheFallbacks,
				"avg_completeness_score", stats.AvgScore,
			)
		}
	}

	if j.bus != nil {
		if metrics := j.bus.Metrics(); metrics != nil {
			for eventType, stats := range metrics.Stats() {
				j.logger.Info("event bus counters",
					"event_type", string(eventType),
					"published", stats.Published,
					"handled", stats.Handled,
					"failed", stats.Failed,
				)
			}
		}
	}

	return nil
}
