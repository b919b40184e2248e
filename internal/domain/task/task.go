// Package task contains the domain model for long-running backend jobs:
// handles, poll attempts, result snapshots, and the merge rules that keep
// snapshots monotonically improving while a job is polled.
package task

import (
	"time"

	"github.com/google/uuid"

	"github.com/mindleap/mindleap-task-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// KIND
// ══════════════════════════════════════════════════════════════════════════════

// Kind identifies which backend feature a task belongs to.
type Kind string

const (
	// KindLesson is a lesson generation job.
	KindLesson Kind = "lesson"

	// KindFinancialSimulation is a financial simulation job.
	KindFinancialSimulation Kind = "financial_simulation"

	// KindLearningQuery is a learning-query answering job.
	KindLearningQuery Kind = "learning_query"
)

// IsValid checks whether the kind is one of the known task kinds.
func (k Kind) IsValid() bool {
	switch k {
	case KindLesson, KindFinancialSimulation, KindLearningQuery:
		return true
	default:
		return false
	}
}

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// Kinds returns all known task kinds.
func Kinds() []Kind {
	return []Kind{KindLesson, KindFinancialSimulation, KindLearningQuery}
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

// Status is the lifecycle state of a task's result snapshot.
//
// Transitions: Queued → Running → {PartiallyReady ⇄ Running} → Completed |
// Failed | TimedOut. The three right-most states are terminal.
type Status string

const (
	// StatusQueued means the backend has accepted the job but not started it.
	StatusQueued Status = "queued"

	// StatusRunning means the backend is working on the job.
	StatusRunning Status = "running"

	// StatusPartiallyReady means the job is still running but something
	// renderable is already available.
	StatusPartiallyReady Status = "partially_ready"

	// StatusCompleted means the full result is available. Terminal.
	StatusCompleted Status = "completed"

	// StatusFailed means the backend reported a definitive failure. Terminal.
	StatusFailed Status = "failed"

	// StatusTimedOut means polling gave up before the backend reached a
	// terminal status. Terminal.
	StatusTimedOut Status = "timed_out"
)

// IsTerminal reports whether no further transitions can occur from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut:
		return true
	default:
		return false
	}
}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// ══════════════════════════════════════════════════════════════════════════════
// TASK HANDLE
// ══════════════════════════════════════════════════════════════════════════════

// Handle identifies one submitted job. Immutable; discarded when polling
// terminates.
type Handle struct {
	ID          string
	Kind        Kind
	SubmittedAt time.Time
}

// NewHandle creates a Handle for a backend-assigned task ID.
func NewHandle(id string, kind Kind) (Handle, error) {
	if id == "" {
		return Handle{}, shared.NewDomainError("task", "NewHandle", shared.ErrInvalidID, "task id cannot be empty")
	}
	if !kind.IsValid() {
		return Handle{}, shared.NewDomainError("task", "NewHandle", shared.ErrInvalidInput, "unknown task kind "+string(kind))
	}
	return Handle{
		ID:          id,
		Kind:        kind,
		SubmittedAt: time.Now(),
	}, nil
}

// NewLocalHandle creates a Handle with a locally generated ID. Used when the
// backend returned an immediate result and never assigned a task ID.
func NewLocalHandle(kind Kind) Handle {
	return Handle{
		ID:          uuid.NewString(),
		Kind:        kind,
		SubmittedAt: time.Now(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// POLL ATTEMPT
// ══════════════════════════════════════════════════════════════════════════════

// AttemptOutcome classifies what a single probe observed.
type AttemptOutcome string

const (
	OutcomePending        AttemptOutcome = "pending"
	OutcomePartial        AttemptOutcome = "partial"
	OutcomeCompleted      AttemptOutcome = "completed"
	OutcomeFailed         AttemptOutcome = "failed"
	OutcomeTransportError AttemptOutcome = "transport_error"
)

// PollAttempt records one probe against a running task. Never mutated after
// creation; retained only for diagnostics and backoff computation.
type PollAttempt struct {
	AttemptNumber int
	StartedAt     time.Time
	Outcome       AttemptOutcome
}

// OutcomeForStatus maps a merged snapshot status to the attempt outcome that
// produced it.
func OutcomeForStatus(s Status) AttemptOutcome {
	switch s {
	case StatusCompleted:
		return OutcomeCompleted
	case StatusFailed:
		return OutcomeFailed
	case StatusPartiallyReady:
		return OutcomePartial
	default:
		return OutcomePending
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// RESULT SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// ResultSnapshot is the current best view of a task's result. It is mutated
// only by Merge, and only in the direction of a non-decreasing
// CompletenessScore, except when the status transitions to Failed. Once the
// status is Completed the snapshot is terminal.
type ResultSnapshot struct {
	Status            Status         `json:"status"`
	Payload           map[string]any `json:"payload,omitempty"`
	CompletenessScore float64        `json:"completeness_score"`
	LastUpdated       time.Time      `json:"last_updated"`

	// ErrorMessage carries the backend's failure reason when Status is Failed.
	ErrorMessage string `json:"error_message,omitempty"`
}

// IsTerminal reports whether the snapshot is in a terminal state.
func (s ResultSnapshot) IsTerminal() bool {
	return s.Status.IsTerminal()
}

// Clone returns a deep-enough copy: the payload map is copied so callers can
// hold snapshots across merges without aliasing.
func (s ResultSnapshot) Clone() ResultSnapshot {
	out := s
	if s.Payload != nil {
		out.Payload = make(map[string]any, len(s.Payload))
		for k, v := range s.Payload {
			out.Payload[k] = v
		}
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// BACKOFF STATE
// ══════════════════════════════════════════════════════════════════════════════

// BackoffState is owned exclusively by one poller run for one Handle's
// lifetime and destroyed when polling ends.
type BackoffState struct {
	Attempt   int
	NextDelay time.Duration
	Elapsed   time.Duration
}
