package task

import (
	"context"
)

// ProbeResponse is the raw answer of a status endpoint, before any per-kind
// normalization. Shapes vary per backend; only the envelope is fixed here.
type ProbeResponse struct {
	// Status is the backend's raw status string. May be empty: an absent
	// status with present data is treated as an immediately-terminal
	// completed result.
	Status string

	// Data holds whatever partial or full result sections the backend has.
	Data map[string]any

	// Error carries the backend's failure message, if any.
	Error string
}

// NormalizedResult is the per-kind adapter's view of a probe payload, ready
// to be merged into a ResultSnapshot.
type NormalizedResult struct {
	Status            Status
	CompletenessScore float64
	Payload           map[string]any
	ErrorMessage      string
}

// Normalizer maps a raw probe payload to a NormalizedResult. One normalizer
// exists per task kind; the polling core is agnostic to payload shapes.
type Normalizer func(ProbeResponse) (NormalizedResult, error)

// StatusProber asks a backend "is task X done, and what does it have so far?".
// Implementations own the transport; the poller never retries inside a single
// probe and never issues probe N+1 before probe N resolved.
type StatusProber interface {
	PollStatus(ctx context.Context, taskID string) (ProbeResponse, error)
}

// ProberFunc adapts a function to the StatusProber interface.
type ProberFunc func(ctx context.Context, taskID string) (ProbeResponse, error)

// PollStatus implements StatusProber.
func (f ProberFunc) PollStatus(ctx context.Context, taskID string) (ProbeResponse, error) {
	return f(ctx, taskID)
}

// SubmitReceipt is what a submission endpoint returns: either a task ID to
// poll, or an immediate synchronous result.
type SubmitReceipt struct {
	TaskID    string
	Immediate *ProbeResponse
}

// IsImmediate reports whether the backend answered synchronously instead of
// assigning a task ID.
func (r SubmitReceipt) IsImmediate() bool {
	return r.Immediate != nil
}

// Submitter submits a job to a backend service.
type Submitter interface {
	SubmitTask(ctx context.Context, kind Kind, request map[string]any) (SubmitReceipt, error)
}

// ResultCache is the last-resort content source consulted when polling cannot
// reach the network. Store is called only for Completed snapshots; Lookup of
// a missing or expired entry returns (nil, nil).
type ResultCache interface {
	Lookup(ctx context.Context, key string) (*ResultSnapshot, error)
	Store(ctx context.Context, key string, snapshot ResultSnapshot) error
}
