package models

import "time"

type MessageStatus string

const (
	MessageStatusPending    MessageStatus = "pending"
	MessageStatusInProgress MessageStatus = "in_progress"
	MessageStatusCompleted  MessageStatus = "completed"
	MessageStatusFailed     MessageStatus = "failed"
	MessageStatusCancelled  MessageStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s MessageStatus) Terminal() bool {
	return s == MessageStatusCompleted || s == MessageStatusFailed || s == MessageStatusCancelled
}

// QueueItem is one unit of outbound work: an inbound payload waiting for a
// generated reply to be delivered to its owner.
type QueueItem struct {
	ID           int64             `json:"id"`
	OwnerID      string            `json:"ownerId"`
	Payload      string            `json:"payload"`
	Reply        *string           `json:"reply,omitempty"`
	Status       MessageStatus     `json:"status"`
	RetryCount   int               `json:"retryCount"`
	NextRetryAt  time.Time         `json:"nextRetryAt"`
	ContentHash  string            `json:"contentHash"`
	ErrorMessage *string           `json:"errorMessage,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// EventKind classifies inbound event content.
type EventKind string

const (
	EventKindText        EventKind = "text"
	EventKindMedia       EventKind = "media"
	EventKindUnsupported EventKind = "unsupported"
)

// InboundEvent is a single upstream delivery: a stable event id, the sender,
// and the raw content. The same physical event may be redelivered by the
// upstream with the same id.
type InboundEvent struct {
	EventID string    `json:"eventId"`
	Sender  string    `json:"sender"`
	Kind    EventKind `json:"kind"`
	Content string    `json:"content"`
}

// IntakeOutcome is the synchronous result of handling an inbound event.
// Duplicate and denied outcomes are normal control flow, not errors.
type IntakeOutcome string

const (
	IntakeAccepted     IntakeOutcome = "accepted"
	IntakeDuplicate    IntakeOutcome = "duplicate"
	IntakeRateLimited  IntakeOutcome = "rate_limited"
	IntakeUnauthorized IntakeOutcome = "unauthorized"
	IntakeFailed       IntakeOutcome = "failed"
)

// QueueSnapshot is the read-only admin view of the delivery queue.
type QueueSnapshot struct {
	StatusCounts     map[MessageStatus]int `json:"statusCounts"`
	PendingCount     int                   `json:"pendingCount"`
	OldestPending    *time.Time            `json:"oldestPending,omitempty"`
	RecentFailures   int                   `json:"recentFailures"`
	ProcessorRunning bool                  `json:"processorRunning"`
}

// ConversationTurn is one entry of the ordered history handed to the responder.
type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponderResult is what the external reply generator returns. A non-success
// status still carries deliverable text; it is not a retry trigger.
type ResponderResult struct {
	Status string `json:"status"`
	Text   string `json:"text"`
}

// SendResult is the notifier's verdict on one delivery attempt.
type SendResult struct {
	Success              bool   `json:"success"`
	MessageID            string `json:"messageId,omitempty"`
	Error                string `json:"error,omitempty"`
	StatusCode           int    `json:"statusCode,omitempty"`
	RequiresTokenRefresh bool   `json:"requiresTokenRefresh,omitempty"`
}
