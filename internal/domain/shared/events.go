package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Each event represents a task lifecycle transition that
// non-UI consumers (journals, metrics, dependent fetches) may observe.
const (
	// Task lifecycle events
	EventTaskSubmitted EventType = "task.submitted"
	EventTaskPartial   EventType = "task.partial"
	EventTaskCompleted EventType = "task.completed"
	EventTaskFailed    EventType = "task.failed"
	EventTaskTimedOut  EventType = "task.timed_out"

	// Cache events
	EventTaskCacheFallback EventType = "task.cache_fallback"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// EventHandler processes a single event.
type EventHandler func(Event) error

// EventBus publishes events and routes them to subscribed handlers.
type EventBus interface {
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
	Publish(event Event) error
	Close() error
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	AggregateId string    `json:"aggregate_id"`
	Version     int       `json:"version"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Task Events
// ═══════════════════════════════════════════════════════════════════════════

// TaskSubmittedEvent is emitted when a job has been accepted by a backend.
type TaskSubmittedEvent struct {
	BaseEvent
	Kind string `json:"kind"`
}

// Payload implements Event interface.
func (e TaskSubmittedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{"kind": e.Kind}
}

// NewTaskSubmittedEvent creates a TaskSubmittedEvent.
func NewTaskSubmittedEvent(taskID, kind string) TaskSubmittedEvent {
	return TaskSubmittedEvent{
		BaseEvent: NewBaseEvent(EventTaskSubmitted, taskID),
		Kind:      kind,
	}
}

// TaskPartialEvent is emitted the first time a task has renderable partial
// results available.
type TaskPartialEvent struct {
	BaseEvent
	Kind              string  `json:"kind"`
	CompletenessScore float64 `json:"completeness_score"`
}

// Payload implements Event interface.
func (e TaskPartialEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"kind":               e.Kind,
		"completeness_score": e.CompletenessScore,
	}
}

// NewTaskPartialEvent creates a TaskPartialEvent.
func NewTaskPartialEvent(taskID, kind string, score float64) TaskPartialEvent {
	return TaskPartialEvent{
		BaseEvent:         NewBaseEvent(EventTaskPartial, taskID),
		Kind:              kind,
		CompletenessScore: score,
	}
}

// TaskCompletedEvent is emitted when a task reaches the Completed state.
type TaskCompletedEvent struct {
	BaseEvent
	Kind              string  `json:"kind"`
	CompletenessScore float64 `json:"completeness_score"`
	FromCache         bool    `json:"from_cache"`
}

// Payload implements Event interface.
func (e TaskCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"kind":               e.Kind,
		"completeness_score": e.CompletenessScore,
		"from_cache":         e.FromCache,
	}
}

// NewTaskCompletedEvent creates a TaskCompletedEvent.
func NewTaskCompletedEvent(taskID, kind string, score float64, fromCache bool) TaskCompletedEvent {
	return TaskCompletedEvent{
		BaseEvent:         NewBaseEvent(EventTaskCompleted, taskID),
		Kind:              kind,
		CompletenessScore: score,
		FromCache:         fromCache,
	}
}

// TaskFailedEvent is emitted when the backend reports a definitive failure.
type TaskFailedEvent struct {
	BaseEvent
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// Payload implements Event interface.
func (e TaskFailedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"kind":   e.Kind,
		"reason": e.Reason,
	}
}

// NewTaskFailedEvent creates a TaskFailedEvent.
func NewTaskFailedEvent(taskID, kind, reason string) TaskFailedEvent {
	return TaskFailedEvent{
		BaseEvent: NewBaseEvent(EventTaskFailed, taskID),
		Kind:      kind,
		Reason:    reason,
	}
}

// TaskTimedOutEvent is emitted when polling gives up before a terminal
// backend status was observed.
type TaskTimedOutEvent struct {
	BaseEvent
	Kind     string `json:"kind"`
	Attempts int    `json:"attempts"`
}

// Payload implements Event interface.
func (e TaskTimedOutEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"kind":     e.Kind,
		"attempts": e.Attempts,
	}
}

// NewTaskTimedOutEvent creates a TaskTimedOutEvent.
func NewTaskTimedOutEvent(taskID, kind string, attempts int) TaskTimedOutEvent {
	return TaskTimedOutEvent{
		BaseEvent: NewBaseEvent(EventTaskTimedOut, taskID),
		Kind:      kind,
		Attempts:  attempts,
	}
}

// TaskCacheFallbackEvent is emitted when a cached completed result was served
// because the network was unreachable.
type TaskCacheFallbackEvent struct {
	BaseEvent
	Kind     string `json:"kind"`
	CacheKey string `json:"cache_key"`
}

// Payload implements Event interface.
func (e TaskCacheFallbackEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"kind":      e.Kind,
		"cache_key": e.CacheKey,
	}
}

// NewTaskCacheFallbackEvent creates a TaskCacheFallbackEvent.
func NewTaskCacheFallbackEvent(taskID, kind, cacheKey string) TaskCacheFallbackEvent {
	return TaskCacheFallbackEvent{
		BaseEvent: NewBaseEvent(EventTaskCacheFallback, taskID),
		Kind:      kind,
		CacheKey:  cacheKey,
	}
}
