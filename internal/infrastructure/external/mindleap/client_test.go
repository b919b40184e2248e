package mindleap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindleap/mindleap-task-hub/internal/domain/shared"
	"github.com/mindleap/mindleap-task-hub/internal/domain/task"
)

func testClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	cfg := DefaultClientConfig(map[task.Kind]string{
		task.KindLesson:              server.URL,
		task.KindFinancialSimulation: server.URL,
		task.KindLearningQuery:       server.URL,
	})
	cfg.RateLimiterConfig.MinInterval = 0
	client, err := NewClient(cfg)
	require.NoError(t, err)
	return client
}

func TestClient_SubmitTaskReturnsTaskID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/tasks", r.URL.Path)

		var req TaskSubmitRequestDTO
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "lesson", req.Kind)
		assert.Equal(t, "fractions", req.Input["topic"])

		json.NewEncoder(w).Encode(TaskSubmitResponseDTO{TaskID: "task-42", Status: "queued"})
	}))
	defer server.Close()

	client := testClient(t, server)
	receipt, err := client.SubmitTask(context.Background(), task.KindLesson, map[string]any{"topic": "fractions"})
	require.NoError(t, err)
	assert.Equal(t, "task-42", receipt.TaskID)
	assert.False(t, receipt.IsImmediate())
}

func TestClient_SubmitTaskImmediateAnswer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(TaskSubmitResponseDTO{
			Status: "completed",
			Result: map[string]any{"answer": "42"},
		})
	}))
	defer server.Close()

	client := testClient(t, server)
	receipt, err := client.SubmitTask(context.Background(), task.KindLearningQuery, nil)
	require.NoError(t, err)
	require.True(t, receipt.IsImmediate())
	assert.Equal(t, "completed", receipt.Immediate.Status)
	assert.Equal(t, "42", receipt.Immediate.Data["answer"])
}

func TestClient_PollTaskStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/tasks/task-42", r.URL.Path)

		json.NewEncoder(w).Encode(TaskStatusDTO{
			TaskID: "task-42",
			Status: "partial",
			Result: map[string]any{"title": "Fractions"},
		})
	}))
	defer server.Close()

	client := testClient(t, server)
	resp, err := client.ProberFor(task.KindLesson).PollStatus(context.Background(), "task-42")
	require.NoError(t, err)
	assert.Equal(t, "partial", resp.Status)
	assert.Equal(t, "Fractions", resp.Data["title"])
}

func TestClient_ConnectionFailureIsOffline(t *testing.T) {
	// A server that is immediately closed leaves a port nothing listens on.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := testClient(t, server)
	_, err := client.SubmitTask(context.Background(), task.KindLesson, nil)
	assert.ErrorIs(t, err, shared.ErrOffline)
}

func TestClient_ServerErrorIsServiceUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := testClient(t, server)
	_, err := client.ProberFor(task.KindLearningQuery).PollStatus(context.Background(), "task-1")
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
}

func TestClient_RateLimitResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := testClient(t, server)
	_, err := client.SubmitTask(context.Background(), task.KindFinancialSimulation, nil)
	assert.ErrorIs(t, err, shared.ErrRateLimited)
}

func TestClient_APIErrorIsSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(APIErrorDTO{Code: "INVALID_TOPIC", Message: "topic is required"})
	}))
	defer server.Close()

	client := testClient(t, server)
	_, err := client.SubmitTask(context.Background(), task.KindLesson, nil)
	require.Error(t, err)

	var apiErr *APIErrorDTO
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "INVALID_TOPIC", apiErr.Code)
}

func TestClient_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := testClient(t, server)
	for i := 0; i < 6; i++ {
		_, _ = client.PollTaskStatus(context.Background(), task.KindLesson, "task-1")
	}

	states := client.BreakerStates()
	assert.Equal(t, "open", states[task.KindLesson].String())

	// Other kinds keep their own circuits.
	assert.Equal(t, "closed", states[task.KindLearningQuery].String())
}

func TestClient_APIKeyIsSent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(TaskStatusDTO{Status: "running"})
	}))
	defer server.Close()

	cfg := DefaultClientConfig(map[task.Kind]string{task.KindLesson: server.URL})
	cfg.APIKey = "secret"
	cfg.RateLimiterConfig.MinInterval = 0
	client, err := NewClient(cfg)
	require.NoError(t, err)

	_, err = client.PollTaskStatus(context.Background(), task.KindLesson, "task-1")
	require.NoError(t, err)
}

func TestClient_IsHealthy(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	client := testClient(t, healthy)
	assert.True(t, client.IsHealthy(context.Background()))
}

func TestClient_UnconfiguredKindIsRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	cfg := DefaultClientConfig(map[task.Kind]string{task.KindLesson: server.URL})
	client, err := NewClient(cfg)
	require.NoError(t, err)

	_, err = client.SubmitTask(context.Background(), task.KindLearningQuery, nil)
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestNewClient_RequiresEndpoints(t *testing.T) {
	_, err := NewClient(ClientConfig{Timeout: time.Second})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}
