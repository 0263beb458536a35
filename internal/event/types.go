// Package event defines the events published while autoref provisions
// accounts, and the bus that carries them to metrics and status observers.
package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "task.started", "code.rejected")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers.
const (
	TypeTaskStarted      = "task.started"
	TypeTaskStateChanged = "task.state_changed"
	TypeTaskCompleted    = "task.completed"
	TypeCodeReceived     = "code.received"
	TypeCodeRejected     = "code.rejected"
	TypeCodeDropped      = "code.dropped"
	TypeRetryFailed      = "retry.failed"
)

// baseEvent provides common fields for all events.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Task Lifecycle Events
// -----------------------------------------------------------------------------

// TaskStartedEvent is emitted when the pipeline begins a new task.
type TaskStartedEvent struct {
	baseEvent
	Index  int
	Seeded bool // Mailbox credentials carried over from the previous task
}

// NewTaskStartedEvent creates a TaskStartedEvent.
func NewTaskStartedEvent(index int, seeded bool) TaskStartedEvent {
	return TaskStartedEvent{
		baseEvent: newBaseEvent(TypeTaskStarted),
		Index:     index,
		Seeded:    seeded,
	}
}

// TaskStateChangedEvent is emitted on every state machine transition.
type TaskStateChangedEvent struct {
	baseEvent
	Index int
	Email string
	From  string
	To    string
}

// NewTaskStateChangedEvent creates a TaskStateChangedEvent.
func NewTaskStateChangedEvent(index int, email, from, to string) TaskStateChangedEvent {
	return TaskStateChangedEvent{
		baseEvent: newBaseEvent(TypeTaskStateChanged),
		Index:     index,
		Email:     email,
		From:      from,
		To:        to,
	}
}

// TaskCompletedEvent is emitted when a referral code is accepted.
type TaskCompletedEvent struct {
	baseEvent
	Index  int
	Email  string
	UserID string
}

// NewTaskCompletedEvent creates a TaskCompletedEvent.
func NewTaskCompletedEvent(index int, email, userID string) TaskCompletedEvent {
	return TaskCompletedEvent{
		baseEvent: newBaseEvent(TypeTaskCompleted),
		Index:     index,
		Email:     email,
		UserID:    userID,
	}
}

// -----------------------------------------------------------------------------
// Referral Code Events
// -----------------------------------------------------------------------------

// Reasons a code is dropped before reaching a waiting task.
const (
	DropNotWaiting    = "not_waiting"
	DropTokenNotReady = "token_not_ready"
	DropForeignChat   = "foreign_chat"
)

// CodeReceivedEvent is emitted when an inbound code is handed to a waiting task.
type CodeReceivedEvent struct {
	baseEvent
	Code   string
	Source string // "telegram" or "file"
}

// NewCodeReceivedEvent creates a CodeReceivedEvent.
func NewCodeReceivedEvent(code, source string) CodeReceivedEvent {
	return CodeReceivedEvent{
		baseEvent: newBaseEvent(TypeCodeReceived),
		Code:      code,
		Source:    source,
	}
}

// CodeRejectedEvent is emitted when the service refuses a referral code.
type CodeRejectedEvent struct {
	baseEvent
	Index  int
	Code   string
	Reason string
}

// NewCodeRejectedEvent creates a CodeRejectedEvent.
func NewCodeRejectedEvent(index int, code, reason string) CodeRejectedEvent {
	return CodeRejectedEvent{
		baseEvent: newBaseEvent(TypeCodeRejected),
		Index:     index,
		Code:      code,
		Reason:    reason,
	}
}

// CodeDroppedEvent is emitted when an inbound message is discarded.
type CodeDroppedEvent struct {
	baseEvent
	Text   string
	Source string
	Reason string // One of the Drop* constants
}

// NewCodeDroppedEvent creates a CodeDroppedEvent.
func NewCodeDroppedEvent(text, source, reason string) CodeDroppedEvent {
	return CodeDroppedEvent{
		baseEvent: newBaseEvent(TypeCodeDropped),
		Text:      text,
		Source:    source,
		Reason:    reason,
	}
}

// -----------------------------------------------------------------------------
// Retry Events
// -----------------------------------------------------------------------------

// RetryFailedEvent is emitted after each failed attempt of a retried call.
type RetryFailedEvent struct {
	baseEvent
	Op      string
	Attempt int
	Error   string
}

// NewRetryFailedEvent creates a RetryFailedEvent.
func NewRetryFailedEvent(op string, attempt int, err error) RetryFailedEvent {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return RetryFailedEvent{
		baseEvent: newBaseEvent(TypeRetryFailed),
		Op:        op,
		Attempt:   attempt,
		Error:     msg,
	}
}
