package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy configures exponential backoff for backend calls.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BaseDelay is the delay before the first retry; it doubles every attempt.
	BaseDelay time.Duration
}

// DefaultRetryPolicy retries three times starting at two seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: 2 * time.Second}
}

// Delay returns the wait before retry number attempt (0-based):
// base * 2^attempt * jitter, with jitter in [0.5, 1.0).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	backoff := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	jitter := 0.5 + rand.Float64()*0.5
	return time.Duration(backoff * jitter)
}

// Retry calls fn until it succeeds, returns an error that is not
// ErrTransientFailure, exhausts the policy or ctx is done.
func Retry[T any](ctx context.Context, p RetryPolicy, log *slog.Logger, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}

	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				log.InfoContext(ctx, "backend call succeeded after retry", slog.Int("attempt", attempt+1))
			}
			return result, nil
		}

		if !errors.Is(err, ErrTransientFailure) {
			return zero, err
		}
		if attempt >= p.MaxRetries {
			log.WarnContext(ctx, "maximum retry attempts reached", slog.Int("max_retries", p.MaxRetries))
			return zero, fmt.Errorf("exceeded maximum retry attempts (%d): %w", p.MaxRetries, err)
		}

		delay := p.Delay(attempt)
		log.InfoContext(ctx, "retrying after delay",
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("%w: %w", ErrTransientFailure, ctx.Err())
		}
	}
}
