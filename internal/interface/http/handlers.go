package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/mindleap/mindleap-task-hub/internal/application/polling"
	"github.com/mindleap/mindleap-task-hub/internal/domain/shared"
	"github.com/mindleap/mindleap-task-hub/internal/domain/task"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST / RESPONSE DTOs
// ══════════════════════════════════════════════════════════════════════════════

// SubmitTaskRequest is the body of POST /api/v1/tasks.
type SubmitTaskRequest struct {
	// Kind - task kind: "lesson", "financial_simulation" or "learning_query".
	Kind string `json:"kind"`

	// Input - kind-specific generation parameters, passed through verbatim.
	Input map[string]any `json:"input"`

	// CacheKey - logical key under which a completed result is cached and
	// served when the backend is unreachable. Empty disables caching.
	CacheKey string `json:"cache_key,omitempty"`
}

// TaskView is the representation of a tracked task.
type TaskView struct {
	TaskID            string         `json:"task_id"`
	Kind              string         `json:"kind"`
	Status            string         `json:"status"`
	Terminal          bool           `json:"terminal"`
	CompletenessScore float64        `json:"completeness_score"`
	Result            map[string]any `json:"result,omitempty"`
	ErrorMessage      string         `json:"error_message,omitempty"`
	FromCache         bool           `json:"from_cache,omitempty"`
	SubmittedAt       time.Time      `json:"submitted_at"`
	LastUpdated       time.Time      `json:"last_updated,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// TASK REGISTRY
// ══════════════════════════════════════════════════════════════════════════════

// taskEntry tracks one submission for status queries and cancellation.
// Snapshot updates arrive from the poller goroutine, reads from handlers.
type taskEntry struct {
	mu        sync.RWMutex
	handle    task.Handle
	token     *polling.CancelToken
	snapshot  task.ResultSnapshot
	terminal  bool
	fromCache bool
}

func (e *taskEntry) update(snap task.ResultSnapshot, terminal bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snapshot = snap
	if terminal {
		e.terminal = true
	}
}

func (e *taskEntry) view() TaskView {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return TaskView{
		TaskID:            e.handle.ID,
		Kind:              string(e.handle.Kind),
		Status:            e.snapshot.Status.String(),
		Terminal:          e.terminal,
		CompletenessScore: e.snapshot.CompletenessScore,
		Result:            e.snapshot.Payload,
		ErrorMessage:      e.snapshot.ErrorMessage,
		FromCache:         e.fromCache,
		SubmittedAt:       e.handle.SubmittedAt,
		LastUpdated:       e.snapshot.LastUpdated,
	}
}

type taskRegistry struct {
	mu      sync.RWMutex
	entries map[string]*taskEntry
}

func newTaskRegistry() *taskRegistry {
	return &taskRegistry{entries: make(map[string]*taskEntry)}
}

func (r *taskRegistry) put(entry *taskEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[entry.handle.ID] = entry
}

func (r *taskRegistry) get(id string) (*taskEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	return entry, ok
}

func (r *taskRegistry) views() []TaskView {
	r.mu.RLock()
	defer r.mu.RUnlock()

	views := make([]TaskView, 0, len(r.entries))
	for _, entry := range r.entries {
		views = append(views, entry.view())
	}
	return views
}

// cancelAll cancels every in-flight poll. Called on server shutdown.
func (r *taskRegistry) cancelAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, entry := range r.entries {
		if entry.token != nil {
			entry.token.Cancel()
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// TASK HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleSubmitTask submits a generation job. Responds 200 when the result is
// already terminal (synchronous backend answer or offline cache hit) and 202
// when polling started.
func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req SubmitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", "Request body must be valid JSON")
		return
	}
	if req.Kind == "" {
		writeJSONError(w, http.StatusBadRequest, "missing_kind", "Field 'kind' is required")
		return
	}

	entry := &taskEntry{snapshot: task.ResultSnapshot{Status: task.StatusQueued}}

	// The poll outlives this request; detach its lifetime from the
	// request context while keeping request-scoped values.
	pollCtx := context.WithoutCancel(r.Context())

	sub, err := s.deps.Service.Submit(pollCtx, polling.SubmitRequest{
		Kind:     task.Kind(req.Kind),
		Payload:  req.Input,
		CacheKey: req.CacheKey,
	}, polling.Callbacks{
		OnUpdate: func(snap task.ResultSnapshot) {
			entry.update(snap, false)
		},
		OnTerminal: func(snap task.ResultSnapshot) {
			entry.update(snap, true)
		},
	})
	if err != nil {
		s.writeSubmitError(w, err)
		return
	}

	entry.handle = sub.Handle
	entry.token = sub.Token
	entry.fromCache = sub.FromCache
	if sub.Snapshot != nil {
		entry.update(*sub.Snapshot, true)
	}
	s.tasks.put(entry)

	if sub.Snapshot != nil {
		writeJSON(w, http.StatusOK, entry.view())
		return
	}

	writeJSON(w, http.StatusAccepted, entry.view())
}

func (s *Server) writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrInvalidInput):
		writeJSONError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, shared.ErrRateLimited):
		writeJSONError(w, http.StatusTooManyRequests, "rate_limited", "Backend rate limit reached, retry later")
	case errors.Is(err, shared.ErrOffline), errors.Is(err, shared.ErrServiceUnavailable):
		writeJSONError(w, http.StatusBadGateway, "backend_unavailable", "Backend is unreachable and no cached result exists")
	default:
		writeJSONError(w, http.StatusBadGateway, "submit_failed", err.Error())
	}
}

// handleGetTask returns the latest known snapshot for a tracked task.
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	entry, ok := s.tasks.get(id)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "task_not_found", "No task with id "+id)
		return
	}

	writeJSON(w, http.StatusOK, entry.view())
}

// handleListTasks returns every tracked task.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tasks.views())
}

// handleCancelTask cooperatively cancels an in-flight poll.
func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	entry, ok := s.tasks.get(id)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "task_not_found", "No task with id "+id)
		return
	}

	entry.mu.RLock()
	terminal := entry.terminal
	entry.mu.RUnlock()

	if terminal || entry.token == nil {
		writeJSONError(w, http.StatusConflict, "task_terminal", "Task already reached a terminal state")
		return
	}

	entry.token.Cancel()
	writeJSON(w, http.StatusAccepted, map[string]any{"task_id": id, "cancelled": true})
}

// handleGetStats reports circuit breaker states and registry counts.
func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"uptime_seconds": int(s.Uptime().Seconds()),
	}

	var active, terminal int
	for _, v := range s.tasks.views() {
		if v.Terminal {
			terminal++
		} else {
			active++
		}
	}
	stats["tasks_active"] = active
	stats["tasks_terminal"] = terminal

	if s.deps.BreakerStates != nil {
		breakers := make(map[string]string)
		for kind, state := range s.deps.BreakerStates() {
			breakers[string(kind)] = state.String()
		}
		stats["breakers"] = breakers
	}

	writeJSON(w, http.StatusOK, stats)
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if !s.deps.Health(ctx) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded"})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.IsRunning() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"alive": true})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSONError(w, http.StatusNotFound, "not_found", "Unknown endpoint")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"service": "mindleap-task-hub",
		"version": s.deps.Version,
		"kinds":   task.Kinds(),
	})
}
