package mindleap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mindleap/mindleap-task-hub/internal/domain/shared"
	"github.com/mindleap/mindleap-task-hub/internal/domain/task"
	"github.com/mindleap/mindleap-task-hub/pkg/circuitbreaker"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the MindLeap API client.
type ClientConfig struct {
	// Endpoints maps each task kind to the base URL of the backend that
	// serves it. The kinds are deployed as separate services.
	Endpoints map[task.Kind]string

	// APIKey is the bearer token sent with every request.
	APIKey string

	// Timeout is the HTTP request timeout.
	Timeout time.Duration

	// RateLimiterConfig for API rate limiting, applied per endpoint.
	RateLimiterConfig RateLimiterConfig

	// BreakerOptions configure the per-endpoint circuit breakers.
	BreakerOptions []circuitbreaker.Option

	// Logger for structured logging.
	Logger *slog.Logger

	// Debug enables request-level debug logging.
	Debug bool
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(endpoints map[task.Kind]string) ClientConfig {
	return ClientConfig{
		Endpoints:         endpoints,
		Timeout:           30 * time.Second,
		RateLimiterConfig: DefaultRateLimiterConfig(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the MindLeap task backend client. Each request is single-shot:
// the poller owns retries and their ordering, so the client never retries
// internally, it only classifies failures.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	logger     *slog.Logger
	limiters   map[task.Kind]*RateLimiter
	breakers   map[task.Kind]*circuitbreaker.CircuitBreaker
	mapper     *Mapper
}

// NewClient creates a new MindLeap API client.
func NewClient(config ClientConfig) (*Client, error) {
	if len(config.Endpoints) == 0 {
		return nil, shared.NewDomainError("mindleap", "NewClient", shared.ErrInvalidInput, "at least one endpoint is required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	limiters := make(map[task.Kind]*RateLimiter, len(config.Endpoints))
	breakers := make(map[task.Kind]*circuitbreaker.CircuitBreaker, len(config.Endpoints))
	for kind := range config.Endpoints {
		limiters[kind] = NewRateLimiter(config.RateLimiterConfig)

		opts := append([]circuitbreaker.Option{
			// Rate limiting is flow control, not backend sickness.
			circuitbreaker.WithIsFailure(func(err error) bool {
				return err != nil && !errors.Is(err, shared.ErrRateLimited)
			}),
		}, config.BreakerOptions...)
		breakers[kind] = circuitbreaker.New("mindleap-"+kind.String(), opts...)
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:   config.Logger,
		limiters: limiters,
		breakers: breakers,
		mapper:   NewMapper(),
	}, nil
}

// Mapper returns the client's DTO mapper, the source of per-kind normalizers.
func (c *Client) Mapper() *Mapper {
	return c.mapper
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBMIT AND POLL OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// SubmitTask sends a job to the backend serving the given kind. When the
// backend answers synchronously, the receipt carries the immediate response
// instead of a task ID.
func (c *Client) SubmitTask(ctx context.Context, kind task.Kind, request map[string]any) (task.SubmitReceipt, error) {
	body := TaskSubmitRequestDTO{
		Kind:  kind.String(),
		Input: request,
	}

	var dto TaskSubmitResponseDTO
	if err := c.doRequest(ctx, kind, http.MethodPost, "/api/v1/tasks", body, &dto); err != nil {
		return task.SubmitReceipt{}, fmt.Errorf("submit %s task: %w", kind, err)
	}

	if dto.TaskID == "" {
		return task.SubmitReceipt{
			Immediate: &task.ProbeResponse{
				Status: dto.Status,
				Data:   dto.Result,
				Error:  dto.Error,
			},
		}, nil
	}

	return task.SubmitReceipt{TaskID: dto.TaskID}, nil
}

// PollTaskStatus probes one task's status.
func (c *Client) PollTaskStatus(ctx context.Context, kind task.Kind, taskID string) (task.ProbeResponse, error) {
	path := "/api/v1/tasks/" + url.PathEscape(taskID)

	var dto TaskStatusDTO
	if err := c.doRequest(ctx, kind, http.MethodGet, path, nil, &dto); err != nil {
		return task.ProbeResponse{}, fmt.Errorf("poll %s task %s: %w", kind, taskID, err)
	}

	return c.mapper.ProbeResponseFromDTO(dto), nil
}

// ProberFor returns a StatusProber bound to the backend serving the kind.
func (c *Client) ProberFor(kind task.Kind) task.StatusProber {
	return task.ProberFunc(func(ctx context.Context, taskID string) (task.ProbeResponse, error) {
		return c.PollTaskStatus(ctx, kind, taskID)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// doRequest performs a rate-limited, circuit-broken request against the
// endpoint that serves the kind.
func (c *Client) doRequest(ctx context.Context, kind task.Kind, method, path string, body any, result any) error {
	baseURL, ok := c.config.Endpoints[kind]
	if !ok {
		return shared.NewDomainError("mindleap", "doRequest", shared.ErrInvalidInput, "no endpoint configured for kind "+kind.String())
	}

	limiter := c.limiters[kind]
	if err := limiter.Allow(ctx); err != nil {
		var rateErr *RateLimitError
		if errors.As(err, &rateErr) {
			return fmt.Errorf("%w: %s", shared.ErrRateLimited, rateErr.Message)
		}
		return err
	}

	return c.breakers[kind].Execute(ctx, func(ctx context.Context) error {
		err := c.doSingleRequest(ctx, baseURL, method, path, body, result)
		if errors.Is(err, shared.ErrRateLimited) {
			var rateErr *RateLimitError
			retryAfter := time.Duration(0)
			if errors.As(err, &rateErr) {
				retryAfter = rateErr.RetryAfter
			}
			limiter.RecordRateLimitHit(retryAfter)
		}
		return err
	})
}

// doSingleRequest performs a single HTTP request and classifies failures into
// the shared error taxonomy.
func (c *Client) doSingleRequest(ctx context.Context, baseURL, method, path string, body any, result any) error {
	fullURL := baseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	if c.config.Debug {
		c.logger.Debug("mindleap api request", "method", method, "url", fullURL)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Connection-level failures mean the network, not the backend.
		return fmt.Errorf("%w: %v", shared.ErrOffline, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 60 * time.Second
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return fmt.Errorf("%w: %v", shared.ErrRateLimited, &RateLimitError{
			RetryAfter: retryAfter,
			Message:    "rate limit exceeded",
		})
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", shared.ErrServiceUnavailable, resp.StatusCode)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIErrorDTO{StatusCode: resp.StatusCode}
		if jerr := json.Unmarshal(respBody, apiErr); jerr == nil && apiErr.Message != "" {
			return apiErr
		}
		return fmt.Errorf("%w: status %d", shared.ErrExternalService, resp.StatusCode)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH AND STATUS
// ══════════════════════════════════════════════════════════════════════════════

// IsHealthy reports whether every configured backend answers its health
// endpoint.
func (c *Client) IsHealthy(ctx context.Context) bool {
	for _, baseURL := range c.config.Endpoints {
		if err := c.doSingleRequest(ctx, baseURL, http.MethodGet, "/api/v1/health", nil, nil); err != nil {
			return false
		}
	}
	return true
}

// BreakerStates returns the current circuit state per task kind.
func (c *Client) BreakerStates() map[task.Kind]circuitbreaker.State {
	out := make(map[task.Kind]circuitbreaker.State, len(c.breakers))
	for kind, cb := range c.breakers {
		out[kind] = cb.State()
	}
	return out
}

// Reset restores the rate limiters and circuit breakers to their initial
// state.
func (c *Client) Reset() {
	for _, rl := range c.limiters {
		rl.Reset()
	}
	for _, cb := range c.breakers {
		cb.Reset()
	}
}
