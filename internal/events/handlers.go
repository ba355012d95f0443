package events

import (
	"context"
	"log/slog"
	"sync"
)

// LoggingHandler writes every event to a structured logger.
type LoggingHandler struct {
	logger *slog.Logger
}

// NewLoggingHandler creates a LoggingHandler.
func NewLoggingHandler(logger *slog.Logger) *LoggingHandler {
	return &LoggingHandler{logger: logger.With("component", "token_events")}
}

// HandleEvent implements EventHandler.
func (h *LoggingHandler) HandleEvent(ctx context.Context, event *TokenEvent) error {
	attrs := []slog.Attr{
		slog.String("event_id", event.ID.String()),
		slog.String("event_type", string(event.Type)),
	}
	if event.Token != "" {
		attrs = append(attrs,
			slog.String("token", event.Token),
			slog.String("status", string(event.Status)),
			slog.Int("retry_count", event.RetryCount))
	}
	if event.ErrorCode != "" {
		attrs = append(attrs, slog.String("error_code", event.ErrorCode))
	}
	if event.Type == TokenExpiredSwept {
		attrs = append(attrs, slog.Int("count", event.Count))
	}
	h.logger.LogAttrs(ctx, slog.LevelInfo, "token lifecycle event", attrs...)
	return nil
}

// Recorder keeps every event it receives. It is meant for tests.
type Recorder struct {
	mu     sync.Mutex
	events []TokenEvent
}

// HandleEvent implements EventHandler.
func (r *Recorder) HandleEvent(_ context.Context, event *TokenEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *event)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []TokenEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TokenEvent, len(r.events))
	copy(out, r.events)
	return out
}

// TypesFor returns the event types recorded for token, in order.
func (r *Recorder) TypesFor(token string) []TokenEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []TokenEventType
	for _, ev := range r.events {
		if ev.Token == token {
			out = append(out, ev.Type)
		}
	}
	return out
}

// Count returns how many events of type t were recorded.
func (r *Recorder) Count(t TokenEventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}
