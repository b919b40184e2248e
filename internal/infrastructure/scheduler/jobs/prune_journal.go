// Package jobs holds the maintenance jobs registered with the scheduler.
package jobs

import (
	"context"
	"log/slog"
	"time"
)

// JournalPruner is the subset of the poll journal the prune job needs.
type JournalPruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PruneJournalJob deletes journal rows older than the retention window.
// Poll attempts are diagnostic data; there is no reason to keep them
// past a few weeks.
type PruneJournalJob struct {
	journal   JournalPruner
	retention time.Duration
	logger    *slog.Logger
}

// NewPruneJournalJob creates a PruneJournalJob. A non-positive retention
// defaults to 30 days.
func NewPruneJournalJob(journal JournalPruner, retention time.Duration, logger *slog.Logger) *PruneJournalJob {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PruneJournalJob{
		journal:   journal,
		retention: retention,
		logger:    logger.With("job", "prune_journal"),
	}
}

// Name implements scheduler.Job.
func (j *PruneJournalJob) Name() string {
	return "prune_journal"
}

// Run implements scheduler.Job.
func (j *PruneJournalJob) Run(ctx context.Context) error {
	cutoff := time.Now().Add(-j.retention)

	removed, err := j.journal.PruneBefore(ctx, cutoff)
	if err != nil {
		return err
	}

	j.logger.Info("journal pruned",
		"cutoff", cutoff.Format(time.RFC3339),
		"rows_removed", removed,
	)

	return nil
}
