package mindleap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindleap/mindleap-task-hub/internal/domain/shared"
	"github.com/mindleap/mindleap-task-hub/internal/domain/task"
)

func TestMapper_StatusVocabulary(t *testing.T) {
	mapper := NewMapper()
	normalize := mapper.NormalizerFor(task.KindLearningQuery)

	cases := []struct {
		raw  string
		want task.Status
	}{
		{"queued", task.StatusQueued},
		{"pending", task.StatusQueued},
		{"accepted", task.StatusQueued},
		{"running", task.StatusRunning},
		{"processing", task.StatusRunning},
		{"in_progress", task.StatusRunning},
		{"partial", task.StatusPartiallyReady},
		{"partially_ready", task.StatusPartiallyReady},
		{"completed", task.StatusCompleted},
		{"done", task.StatusCompleted},
		{"success", task.StatusCompleted},
		{"failed", task.StatusFailed},
		{"error", task.StatusFailed},
		{"  Running  ", task.StatusRunning},
	}

	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := normalize(task.ProbeResponse{Status: tc.raw})
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.Status)
		})
	}
}

func TestMapper_MissingStatusWithDataIsCompleted(t *testing.T) {
	mapper := NewMapper()
	normalize := mapper.NormalizerFor(task.KindLearningQuery)

	got, err := normalize(task.ProbeResponse{
		Data: map[string]any{"answer": "Photosynthesis converts light to energy."},
	})
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)
	assert.Equal(t, 1.0, got.CompletenessScore)
}

func TestMapper_MissingStatusWithoutDataIsRejected(t *testing.T) {
	mapper := NewMapper()
	normalize := mapper.NormalizerFor(task.KindLesson)

	_, err := normalize(task.ProbeResponse{})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestMapper_UnknownStatusIsRejected(t *testing.T) {
	mapper := NewMapper()
	normalize := mapper.NormalizerFor(task.KindLesson)

	_, err := normalize(task.ProbeResponse{Status: "exploded"})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestMapper_LessonCompleteness(t *testing.T) {
	mapper := NewMapper()
	normalize := mapper.NormalizerFor(task.KindLesson)

	got, err := normalize(task.ProbeResponse{
		Status: "partial",
		Data: map[string]any{
			"title":   "Fractions",
			"outline": []any{"intro", "practice"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, task.StatusPartiallyReady, got.Status)
	assert.Equal(t, 0.5, got.CompletenessScore, "2 of 4 lesson fields populated")
}

func TestMapper_EmptyFieldsDoNotCount(t *testing.T) {
	mapper := NewMapper()
	normalize := mapper.NormalizerFor(task.KindFinancialSimulation)

	got, err := normalize(task.ProbeResponse{
		Status: "partial",
		Data: map[string]any{
			"summary":         "growth",
			"projections":     []any{},
			"recommendations": "",
		},
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.0/3.0, got.CompletenessScore, 1e-9)
}

func TestMapper_CompletedAlwaysScoresOne(t *testing.T) {
	mapper := NewMapper()
	normalize := mapper.NormalizerFor(task.KindLesson)

	got, err := normalize(task.ProbeResponse{
		Status: "completed",
		Data:   map[string]any{"title": "only one field"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.CompletenessScore)
}

func TestMapper_FailureReasonIsCarried(t *testing.T) {
	mapper := NewMapper()
	normalize := mapper.NormalizerFor(task.KindLearningQuery)

	got, err := normalize(task.ProbeResponse{
		Status: "failed",
		Error:  "content policy violation",
	})
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Equal(t, "content policy violation", got.ErrorMessage)
}

func TestMapper_NormalizersCoverAllKinds(t *testing.T) {
	normalizers := NewMapper().Normalizers()
	for _, kind := range task.Kinds() {
		assert.Contains(t, normalizers, kind)
	}
}
