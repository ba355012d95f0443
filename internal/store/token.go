package store

import (
	"context"
	"time"

	"github.com/phrazzld/assay-api/internal/domain"
)

// TokenStore persists token records. Implementations must be safe for
// concurrent use and must enforce the token state machine on every write:
// an Update that domain.TokenUpdate.Apply rejects fails with ErrUpdateFailed
// and leaves the record untouched.
type TokenStore interface {
	// Create mints a new token and persists its initial uploaded record with
	// ExpiresAt = now + ttl.
	Create(ctx context.Context, ownerID string, input domain.Artifact, ttl time.Duration) (*domain.TokenRecord, error)

	// Get returns the record for token, including expired records that have
	// not been swept yet. Returns ErrTokenNotFound if it does not exist.
	Get(ctx context.Context, token string) (*domain.TokenRecord, error)

	// Update applies a partial update and stamps UpdatedAt.
	// Returns ErrTokenNotFound if the token does not exist.
	Update(ctx context.Context, token string, u domain.TokenUpdate) error

	// IncrementRetry atomically claims a retry: the token must be failed,
	// below maxRetries and unexpired at now. On success it returns the new
	// retry count with the record reset to processing. Returns
	// ErrRetryNotAllowed when a precondition fails and ErrTokenNotFound when
	// the token does not exist.
	IncrementRetry(ctx context.Context, token string, maxRetries int, now time.Time) (int, error)

	// DeleteExpired removes at most limit records with ExpiresAt before now
	// and returns how many were removed.
	DeleteExpired(ctx context.Context, now time.Time, limit int) (int, error)

	// Close releases resources held by the store.
	Close() error
}

// Clock returns the current time. Stores take one so tests can control expiry.
type Clock func() time.Time

// SystemClock is the default Clock.
func SystemClock() time.Time {
	return time.Now().UTC()
}
