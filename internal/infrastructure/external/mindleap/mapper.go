package mindleap

import (
	"strings"

	"github.com/mindleap/mindleap-task-hub/internal/domain/shared"
	"github.com/mindleap/mindleap-task-hub/internal/domain/task"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAPPER - Probe responses to domain results
// ══════════════════════════════════════════════════════════════════════════════

// Mapper translates raw MindLeap status payloads into domain results. It is
// the anti-corruption layer: the rest of the system never sees the backend's
// status vocabulary or result shape.
type Mapper struct{}

// NewMapper creates a new Mapper instance.
func NewMapper() *Mapper {
	return &Mapper{}
}

// expectedFields lists the result fields each task kind produces when fully
// done. The completeness score is the fraction of them that are populated.
var expectedFields = map[task.Kind][]string{
	task.KindLesson:              {"title", "outline", "sections", "quiz"},
	task.KindFinancialSimulation: {"summary", "projections", "recommendations"},
	task.KindLearningQuery:       {"answer", "sources"},
}

// NormalizerFor returns the normalizer for the given task kind.
func (m *Mapper) NormalizerFor(kind task.Kind) task.Normalizer {
	fields := expectedFields[kind]
	return func(resp task.ProbeResponse) (task.NormalizedResult, error) {
		return m.normalize(resp, fields)
	}
}

// Normalizers returns a normalizer per known task kind.
func (m *Mapper) Normalizers() map[task.Kind]task.Normalizer {
	out := make(map[task.Kind]task.Normalizer, len(task.Kinds()))
	for _, kind := range task.Kinds() {
		out[kind] = m.NormalizerFor(kind)
	}
	return out
}

func (m *Mapper) normalize(resp task.ProbeResponse, fields []string) (task.NormalizedResult, error) {
	status, err := m.mapStatus(resp)
	if err != nil {
		return task.NormalizedResult{}, err
	}

	score := m.completeness(resp.Data, fields)
	if status == task.StatusCompleted {
		score = 1
	}

	return task.NormalizedResult{
		Status:            status,
		CompletenessScore: score,
		Payload:           resp.Data,
		ErrorMessage:      resp.Error,
	}, nil
}

// mapStatus converts the backend's status string. An absent status with
// non-empty result data is read as a completed synchronous answer; an absent
// status with no data is unintelligible.
func (m *Mapper) mapStatus(resp task.ProbeResponse) (task.Status, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Status)) {
	case "queued", "pending", "accepted":
		return task.StatusQueued, nil
	case "running", "processing", "in_progress":
		return task.StatusRunning, nil
	case "partial", "partially_ready":
		return task.StatusPartiallyReady, nil
	case "completed", "done", "success":
		return task.StatusCompleted, nil
	case "failed", "error":
		return task.StatusFailed, nil
	case "":
		if len(resp.Data) > 0 {
			return task.StatusCompleted, nil
		}
		return "", shared.NewDomainError("mindleap", "mapStatus", shared.ErrInvalidInput, "probe response has neither status nor data")
	default:
		return "", shared.NewDomainError("mindleap", "mapStatus", shared.ErrInvalidInput, "unknown task status "+resp.Status)
	}
}

// completeness scores how much of the expected result is present, in [0, 1].
func (m *Mapper) completeness(data map[string]any, fields []string) float64 {
	if len(fields) == 0 || len(data) == 0 {
		return 0
	}

	populated := 0
	for _, field := range fields {
		if isPopulated(data[field]) {
			populated++
		}
	}
	return float64(populated) / float64(len(fields))
}

func isPopulated(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}

// ProbeResponseFromDTO converts a status DTO into the transport-neutral
// probe response handed to the poller.
func (m *Mapper) ProbeResponseFromDTO(dto TaskStatusDTO) task.ProbeResponse {
	return task.ProbeResponse{
		Status: dto.Status,
		Data:   dto.Result,
		Error:  dto.Error,
	}
}
