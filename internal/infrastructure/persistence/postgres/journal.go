package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mindleap/mindleap-task-hub/internal/domain/task"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCHEMA
// ══════════════════════════════════════════════════════════════════════════════

const journalSchema = `
CREATE TABLE IF NOT EXISTS task_poll_attempts (
	id             BIGSERIAL PRIMARY KEY,
	task_id        TEXT        NOT NULL,
	kind           TEXT        NOT NULL,
	attempt_number INT         NOT NULL,
	outcome        TEXT        NOT NULL,
	started_at     TIMESTAMPTZ NOT NULL,
	recorded_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_task_poll_attempts_task_id
	ON task_poll_attempts (task_id, attempt_number);

CREATE TABLE IF NOT EXISTS task_results (
	task_id            TEXT        PRIMARY KEY,
	kind               TEXT        NOT NULL,
	status             TEXT        NOT NULL,
	completeness_score DOUBLE PRECISION NOT NULL,
	payload            JSONB,
	error_message      TEXT,
	finished_at        TIMESTAMPTZ NOT NULL
);
`

// ══════════════════════════════════════════════════════════════════════════════
// JOURNAL
// ══════════════════════════════════════════════════════════════════════════════

// Journal persists poll attempts and terminal snapshots. Implements
// polling.Journal.
type Journal struct {
	pool *pgxpool.Pool
}

// NewJournal creates a Journal and bootstraps its schema.
func NewJournal(ctx context.Context, conn *Connection) (*Journal, error) {
	pool := conn.Pool()
	if _, err := pool.Exec(ctx, journalSchema); err != nil {
		return nil, fmt.Errorf("postgres: journal schema: %w", err)
	}
	return &Journal{pool: pool}, nil
}

// RecordAttempt appends one poll attempt.
func (j *Journal) RecordAttempt(ctx context.Context, handle task.Handle, attempt task.PollAttempt) error {
	_, err := j.pool.Exec(ctx, `
		INSERT INTO task_poll_attempts (task_id, kind, attempt_number, outcome, started_at)
		VALUES ($1, $2, $3, $4, $5)`,
		handle.ID,
		handle.Kind.String(),
		attempt.AttemptNumber,
		string(attempt.Outcome),
		attempt.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record attempt: %w", err)
	}
	return nil
}

// RecordTerminal upserts the terminal snapshot for a task.
func (j *Journal) RecordTerminal(ctx context.Context, handle task.Handle, snapshot task.ResultSnapshot) error {
	payload, err := json.Marshal(snapshot.Payload)
	if err != nil {
		return fmt.Errorf("postgres: marshal payload: %w", err)
	}

	_, err = j.pool.Exec(ctx, `
		INSERT INTO task_results (task_id, kind, status, completeness_score, payload, error_message, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (task_id) DO UPDATE SET
			status             = EXCLUDED.status,
			completeness_score = EXCLUDED.completeness_score,
			payload            = EXCLUDED.payload,
			error_message      = EXCLUDED.error_message,
			finished_at        = EXCLUDED.finished_at`,
		handle.ID,
		handle.Kind.String(),
		snapshot.Status.String(),
		snapshot.CompletenessScore,
		payload,
		snapshot.ErrorMessage,
		snapshot.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("postgres: record terminal: %w", err)
	}
	return nil
}

// PruneBefore deletes poll attempts and terminal results older than the
// cutoff. Returns how many rows were removed.
func (j *Journal) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	attempts, err := j.pool.Exec(ctx, `
		DELETE FROM task_poll_attempts WHERE recorded_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: prune attempts: %w", err)
	}

	results, err := j.pool.Exec(ctx, `
		DELETE FROM task_results WHERE finished_at < $1`, cutoff)
	if err != nil {
		return attempts.RowsAffected(), fmt.Errorf("postgres: prune results: %w", err)
	}

	return attempts.RowsAffected() + results.RowsAffected(), nil
}

// RecentAttempts returns the latest attempts for a task, newest first.
func (j *Journal) RecentAttempts(ctx context.Context, taskID string, limit int) ([]task.PollAttempt, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := j.pool.Query(ctx, `
		SELECT attempt_number, outcome, started_at
		FROM task_poll_attempts
		WHERE task_id = $1
		ORDER BY attempt_number DESC
		LIMIT $2`,
		taskID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent attempts: %w", err)
	}
	defer rows.Close()

	var attempts []task.PollAttempt
	for rows.Next() {
		var (
			attempt task.PollAttempt
			outcome string
			started time.Time
		)
		if err := rows.Scan(&attempt.AttemptNumber, &outcome, &started); err != nil {
			return nil, fmt.Errorf("postgres: scan attempt: %w", err)
		}
		attempt.Outcome = task.AttemptOutcome(outcome)
		attempt.StartedAt = started
		attempts = append(attempts, attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: recent attempts: %w", err)
	}

	return attempts, nil
}
