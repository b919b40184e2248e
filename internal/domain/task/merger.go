package task

import (
	"time"

	"github.com/mindleap/mindleap-task-hub/internal/domain/shared"
)

// Merge combines a newly normalized poll payload with the previous snapshot
// (nil on the first call) into the next ResultSnapshot.
//
// Rules:
//   - CompletenessScore is max(previous, new) unless the new status is
//     Failed, which overrides immediately regardless of score.
//   - Payload fields are merged key-by-key: non-empty new values override,
//     empty or missing new values retain the previous value. Backends return
//     result sections independently as they become ready, so a section that
//     temporarily disappears from a response must not be erased.
//   - A Completed snapshot is terminal; merging into it is an error.
//
// Merge is a pure function: no side effects, deterministic given identical
// inputs (the caller supplies the timestamp).
func Merge(prev *ResultSnapshot, next NormalizedResult, now time.Time) (ResultSnapshot, error) {
	if prev != nil && prev.Status == StatusCompleted {
		return prev.Clone(), shared.NewDomainError("task", "Merge", shared.ErrTerminalState, "snapshot already completed")
	}

	merged := ResultSnapshot{
		Payload:     mergePayload(prev, next.Payload),
		LastUpdated: now,
	}

	prevScore := 0.0
	if prev != nil {
		prevScore = prev.CompletenessScore
	}

	if next.Status == StatusFailed {
		merged.Status = StatusFailed
		merged.CompletenessScore = clampScore(next.CompletenessScore)
		merged.ErrorMessage = next.ErrorMessage
		return merged, nil
	}

	merged.CompletenessScore = clampScore(max(prevScore, next.CompletenessScore))

	switch {
	case next.Status.IsTerminal():
		merged.Status = next.Status
	case merged.CompletenessScore > 0:
		// Something renderable exists; the max() above already prevents
		// apparent regression from a corrective server-side recompute.
		merged.Status = StatusPartiallyReady
	case next.Status == StatusQueued || next.Status == StatusRunning:
		merged.Status = next.Status
	default:
		merged.Status = StatusRunning
	}

	return merged, nil
}

// mergePayload merges key-by-key, never erasing a previously populated field
// with an empty or missing new value.
func mergePayload(prev *ResultSnapshot, next map[string]any) map[string]any {
	if prev == nil || len(prev.Payload) == 0 {
		return copyNonEmpty(next)
	}

	merged := make(map[string]any, len(prev.Payload)+len(next))
	for k, v := range prev.Payload {
		merged[k] = v
	}
	for k, v := range next {
		if !isEmptyValue(v) {
			merged[k] = v
		}
	}
	return merged
}

func copyNonEmpty(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if !isEmptyValue(v) {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// isEmptyValue reports whether a payload value carries no data. Payloads are
// JSON-like, so only the shapes encoding/json produces need handling.
func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	default:
		return false
	}
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
