// Package mindleap implements the MindLeap task backend client. It submits
// long-running generation jobs (lessons, financial simulations, learning
// queries) and probes their status until a terminal answer arrives.
package mindleap

import (
	"fmt"
)

// ══════════════════════════════════════════════════════════════════════════════
// TASK DTOs
// ══════════════════════════════════════════════════════════════════════════════

// TaskSubmitRequestDTO is the body of a job submission.
type TaskSubmitRequestDTO struct {
	// Kind identifies the generation feature the job belongs to.
	Kind string `json:"kind"`

	// Input carries the feature-specific request fields.
	Input map[string]any `json:"input,omitempty"`
}

// TaskSubmitResponseDTO is the backend's answer to a submission. Either
// TaskID is set and the job must be polled, or Result carries the full
// answer synchronously.
type TaskSubmitResponseDTO struct {
	// TaskID is the backend-assigned identifier for polling. Empty when the
	// backend answered synchronously.
	TaskID string `json:"task_id,omitempty"`

	// Status is the job status at submission time.
	Status string `json:"status,omitempty"`

	// Result carries the answer when the backend responds synchronously.
	Result map[string]any `json:"result,omitempty"`

	// Error is the backend's failure reason, if any.
	Error string `json:"error,omitempty"`
}

// TaskStatusDTO is one status probe's payload.
type TaskStatusDTO struct {
	// TaskID echoes the polled task.
	TaskID string `json:"task_id,omitempty"`

	// Status is the backend's job status string. May be absent; the mapper
	// then infers the status from the presence of result data.
	Status string `json:"status,omitempty"`

	// Result holds whatever fields the backend has produced so far. Partial
	// while the job runs, complete once it finishes.
	Result map[string]any `json:"result,omitempty"`

	// Error is the backend's failure reason when Status is failed.
	Error string `json:"error,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR DTOs
// ══════════════════════════════════════════════════════════════════════════════

// APIErrorDTO represents an error response from the MindLeap API.
type APIErrorDTO struct {
	// Code is the machine-readable error code.
	Code string `json:"code,omitempty"`

	// Message is the human-readable error description.
	Message string `json:"message"`

	// StatusCode is the HTTP status the error arrived with. Not part of the
	// wire format.
	StatusCode int `json:"-"`
}

// Error implements the error interface.
func (e *APIErrorDTO) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("mindleap api error %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("mindleap api error: %s", e.Message)
}
