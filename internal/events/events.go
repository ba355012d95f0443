package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/assay-api/internal/domain"
)

// TokenEventType names a lifecycle transition.
type TokenEventType string

// Lifecycle event types emitted by the manager.
const (
	TokenSubmitted    TokenEventType = "token.submitted"
	TokenProcessing   TokenEventType = "token.processing"
	TokenCompleted    TokenEventType = "token.completed"
	TokenFailed       TokenEventType = "token.failed"
	TokenCancelled    TokenEventType = "token.cancelled"
	TokenRetried      TokenEventType = "token.retried"
	TokenExpiredSwept TokenEventType = "token.expired_swept"
)

// TokenEvent describes one lifecycle transition.
type TokenEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	Type TokenEventType `json:"type"`

	// Token is empty for events that are not about a single token.
	Token string `json:"token,omitempty"`

	Status     domain.TokenStatus `json:"status,omitempty"`
	RetryCount int                `json:"retry_count,omitempty"`
	ErrorCode  string             `json:"error_code,omitempty"`

	// Count carries the number of records removed by a sweep.
	Count int `json:"count,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}

// NewTokenEvent creates an event for the given record. A nil record yields
// an event with only a type and timestamp.
func NewTokenEvent(eventType TokenEventType, rec *domain.TokenRecord, now time.Time) *TokenEvent {
	ev := &TokenEvent{
		ID:         uuid.New(),
		Type:       eventType,
		OccurredAt: now,
	}
	if rec != nil {
		ev.Token = rec.Token
		ev.Status = rec.Status
		ev.RetryCount = rec.RetryCount
		if rec.Error != nil {
			ev.ErrorCode = rec.Error.Code
		}
	}
	return ev
}

// NewSweepEvent creates a token.expired_swept event for count records.
func NewSweepEvent(count int, now time.Time) *TokenEvent {
	ev := NewTokenEvent(TokenExpiredSwept, nil, now)
	ev.Count = count
	return ev
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *TokenEvent) error
}

// HandlerFunc adapts a function to the EventHandler interface.
type HandlerFunc func(ctx context.Context, event *TokenEvent) error

// HandleEvent calls f.
func (f HandlerFunc) HandleEvent(ctx context.Context, event *TokenEvent) error {
	return f(ctx, event)
}

// EventEmitter defines an interface for components that can emit events.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *TokenEvent) error
}
