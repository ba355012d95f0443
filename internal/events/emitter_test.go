package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInMemoryEventEmitter(t *testing.T) {
	// Create a minimal logger that discards output
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	newEvent := func() *TokenEvent { return NewTokenEvent(TokenSubmitted, nil, time.Now()) }

	t.Run("emit event with no handlers", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(logger)

		// Should not error even with no handlers
		assert.NoError(t, emitter.EmitEvent(context.Background(), newEvent()))
	})

	t.Run("emit event with successful handlers", func(t *testing.T) {
		first := &Recorder{}
		second := &Recorder{}
		emitter := NewInMemoryEventEmitter(logger, first)
		emitter.RegisterHandler(second)

		event := newEvent()
		assert.NoError(t, emitter.EmitEvent(context.Background(), event))

		// Verify both handlers received the event
		assert.Equal(t, []TokenEvent{*event}, first.Events())
		assert.Equal(t, []TokenEvent{*event}, second.Events())
	})

	t.Run("emit event with failing handler", func(t *testing.T) {
		success := &Recorder{}
		failing := HandlerFunc(func(context.Context, *TokenEvent) error {
			return errors.New("handler error")
		})
		emitter := NewInMemoryEventEmitter(logger, failing, success)

		// Should return an error from the failing handler
		err := emitter.EmitEvent(context.Background(), newEvent())
		assert.EqualError(t, err, "handler error")

		// The remaining handler should still have received the event
		assert.Len(t, success.Events(), 1)
	})
}
