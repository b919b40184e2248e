package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindleap/mindleap-task-hub/internal/domain/shared"
)

func TestNewHandle(t *testing.T) {
	h, err := NewHandle("task-123", KindLesson)
	require.NoError(t, err)
	assert.Equal(t, "task-123", h.ID)
	assert.Equal(t, KindLesson, h.Kind)
	assert.False(t, h.SubmittedAt.IsZero())

	_, err = NewHandle("", KindLesson)
	assert.ErrorIs(t, err, shared.ErrInvalidID)

	_, err = NewHandle("task-123", Kind("karaoke"))
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestNewLocalHandle(t *testing.T) {
	a := NewLocalHandle(KindLearningQuery)
	b := NewLocalHandle(KindLearningQuery)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestStatusIsTerminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusFailed, StatusTimedOut}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), s)
	}

	live := []Status{StatusQueued, StatusRunning, StatusPartiallyReady}
	for _, s := range live {
		assert.False(t, s.IsTerminal(), s)
	}
}

func TestOutcomeForStatus(t *testing.T) {
	assert.Equal(t, OutcomeCompleted, OutcomeForStatus(StatusCompleted))
	assert.Equal(t, OutcomeFailed, OutcomeForStatus(StatusFailed))
	assert.Equal(t, OutcomePartial, OutcomeForStatus(StatusPartiallyReady))
	assert.Equal(t, OutcomePending, OutcomeForStatus(StatusQueued))
	assert.Equal(t, OutcomePending, OutcomeForStatus(StatusRunning))
}

func TestResultSnapshotClone(t *testing.T) {
	snap := ResultSnapshot{
		Status:  StatusPartiallyReady,
		Payload: map[string]any{"outline": "1. Intro"},
	}

	clone := snap.Clone()
	clone.Payload["outline"] = "mutated"
	assert.Equal(t, "1. Intro", snap.Payload["outline"])
}
