// Package memory provides an in-process store.TokenStore used for local
// development, single-binary deployments without a database and manager
// unit tests.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/assay-api/internal/domain"
	"github.com/phrazzld/assay-api/internal/platform/logger"
	"github.com/phrazzld/assay-api/internal/store"
)

// TokenStore keeps token records in a map guarded by a mutex. Records are
// deep-copied on the way in and out so callers never share state with the
// store.
type TokenStore struct {
	mu      sync.Mutex
	records map[string]*domain.TokenRecord
	clock   store.Clock
	logger  *slog.Logger
	closed  bool
}

// Option configures a TokenStore.
type Option func(*TokenStore)

// WithClock overrides the time source.
func WithClock(c store.Clock) Option {
	return func(s *TokenStore) { s.clock = c }
}

// WithLogger sets the fallback logger used when the context carries none.
func WithLogger(l *slog.Logger) Option {
	return func(s *TokenStore) { s.logger = l }
}

// NewTokenStore returns an empty store.
func NewTokenStore(opts ...Option) *TokenStore {
	s := &TokenStore{
		records: make(map[string]*domain.TokenRecord),
		clock:   store.SystemClock,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ store.TokenStore = (*TokenStore)(nil)

// Create implements store.TokenStore.
func (s *TokenStore) Create(
	ctx context.Context,
	ownerID string,
	input domain.Artifact,
	ttl time.Duration,
) (*domain.TokenRecord, error) {
	rec, err := domain.NewTokenRecord(uuid.NewString(), ownerID, copyArtifact(input), ttl, s.clock())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, store.Unavailable("create", errClosed)
	}
	if _, exists := s.records[rec.Token]; exists {
		return nil, fmt.Errorf("%w: token %s", store.ErrDuplicate, rec.Token)
	}
	s.records[rec.Token] = rec

	logger.FromContextOrDefault(ctx, s.logger).Debug("token created",
		slog.String("token", rec.Token),
		slog.Time("expires_at", rec.ExpiresAt))

	return cloneRecord(rec), nil
}

// Get implements store.TokenStore.
func (s *TokenStore) Get(ctx context.Context, token string) (*domain.TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, store.Unavailable("get", errClosed)
	}

	rec, ok := s.records[token]
	if !ok {
		return nil, store.ErrTokenNotFound
	}
	return cloneRecord(rec), nil
}

// Update implements store.TokenStore.
func (s *TokenStore) Update(ctx context.Context, token string, u domain.TokenUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.Unavailable("update", errClosed)
	}

	rec, ok := s.records[token]
	if !ok {
		return store.ErrTokenNotFound
	}
	if err := u.Apply(rec, s.clock()); err != nil {
		return fmt.Errorf("%w: %w", store.ErrUpdateFailed, err)
	}
	return nil
}

// IncrementRetry implements store.TokenStore.
func (s *TokenStore) IncrementRetry(ctx context.Context, token string, maxRetries int, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, store.Unavailable("increment_retry", errClosed)
	}

	rec, ok := s.records[token]
	if !ok {
		return 0, store.ErrTokenNotFound
	}
	if !rec.ClaimRetry(maxRetries, now) {
		return 0, store.ErrRetryNotAllowed
	}
	return rec.RetryCount, nil
}

// DeleteExpired implements store.TokenStore. The oldest expiries go first so
// repeated bounded sweeps always make progress.
func (s *TokenStore) DeleteExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, store.Unavailable("delete_expired", errClosed)
	}

	var expired []*domain.TokenRecord
	for _, rec := range s.records {
		if rec.ExpiresAt.Before(now) {
			expired = append(expired, rec)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].ExpiresAt.Before(expired[j].ExpiresAt)
	})
	if len(expired) > limit {
		expired = expired[:limit]
	}
	for _, rec := range expired {
		delete(s.records, rec.Token)
	}
	return len(expired), nil
}

// Len returns the number of stored records, expired or not.
func (s *TokenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Close implements store.TokenStore. Subsequent calls report the store as
// unavailable.
func (s *TokenStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
