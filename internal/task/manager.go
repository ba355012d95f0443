package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"github.com/phrazzld/assay-api/internal/analysis"
	"github.com/phrazzld/assay-api/internal/domain"
	"github.com/phrazzld/assay-api/internal/events"
	"github.com/phrazzld/assay-api/internal/platform/logger"
	"github.com/phrazzld/assay-api/internal/redact"
	"github.com/phrazzld/assay-api/internal/store"
)

// ErrManagerClosed is returned by Submit and Retry after Shutdown.
var ErrManagerClosed = errors.New("token manager is shut down")

// Manager owns the token state machine, the task table and the cleanup
// schedule. Create one per process with NewManager and inject it where it is
// needed.
type Manager struct {
	store    store.TokenStore
	analyzer analysis.Analyzer
	emitter  events.EventEmitter
	logger   *slog.Logger
	clock    store.Clock
	cfg      Config

	sem      *semaphore.Weighted
	registry *registry

	// baseCtx parents every execution context; cancelled by Shutdown.
	baseCtx    context.Context
	baseCancel context.CancelFunc

	cronMu sync.Mutex
	cron   *cron.Cron
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock used for expiry decisions.
func WithClock(clock store.Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithEmitter sets the destination of lifecycle events.
func WithEmitter(emitter events.EventEmitter) Option {
	return func(m *Manager) { m.emitter = emitter }
}

// NewManager creates a Manager. Call Start to begin the cleanup schedule.
func NewManager(
	tokenStore store.TokenStore,
	analyzer analysis.Analyzer,
	cfg Config,
	log *slog.Logger,
	opts ...Option,
) (*Manager, error) {
	if tokenStore == nil {
		return nil, errors.New("token store cannot be nil")
	}
	if analyzer == nil {
		return nil, errors.New("analyzer cannot be nil")
	}
	if log == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manager configuration: %w", err)
	}

	log = log.With(slog.String("component", "token_manager"))
	baseCtx, baseCancel := context.WithCancel(logger.WithLogger(context.Background(), log))

	m := &Manager{
		store:      tokenStore,
		analyzer:   analyzer,
		logger:     log,
		clock:      store.SystemClock,
		cfg:        cfg,
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		registry:   newRegistry(),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.emitter == nil {
		m.emitter = events.NewInMemoryEventEmitter(log)
	}
	return m, nil
}

// Submit persists a new uploaded token for artifact and starts its background
// execution. It returns as soon as the record is stored.
func (m *Manager) Submit(ctx context.Context, ownerID string, artifact domain.Artifact) (*domain.TokenRecord, error) {
	if m.registry.isClosed() {
		return nil, ErrManagerClosed
	}
	if ownerID == "" {
		return nil, domain.ErrEmptyOwnerID
	}
	if err := artifact.Validate(); err != nil {
		return nil, err
	}

	rec, err := m.store.Create(ctx, ownerID, artifact, m.cfg.TTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create token: %w", err)
	}

	log := logger.FromContextOrDefault(ctx, m.logger)
	log.InfoContext(ctx, "token submitted",
		slog.String("token", rec.Token),
		slog.String("owner_id", ownerID),
		slog.Int("artifact_size", artifact.Size()))
	m.emit(ctx, events.TokenSubmitted, rec)

	if !m.spawn(rec.Token, artifact) {
		return nil, ErrManagerClosed
	}
	return rec, nil
}

// GetStatus returns the persisted record. Records past their expiry are
// reported as store.ErrTokenNotFound even before the sweep removes them.
func (m *Manager) GetStatus(ctx context.Context, token string) (*domain.TokenRecord, error) {
	rec, err := m.store.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if rec.IsExpired(m.clock()) {
		return nil, store.ErrTokenNotFound
	}
	return rec, nil
}

// Retry re-runs a failed token. It returns false without error when the token
// is missing, expired, not failed or out of retries.
func (m *Manager) Retry(ctx context.Context, token string) (bool, error) {
	if m.registry.isClosed() {
		return false, ErrManagerClosed
	}
	log := logger.FromContextOrDefault(ctx, m.logger).With(slog.String("token", token))

	count, err := m.store.IncrementRetry(ctx, token, m.cfg.MaxRetries, m.clock())
	switch {
	case errors.Is(err, store.ErrRetryNotAllowed), errors.Is(err, store.ErrNotFound):
		log.DebugContext(ctx, "retry rejected", slog.String("reason", err.Error()))
		return false, nil
	case err != nil:
		return false, fmt.Errorf("failed to claim retry: %w", err)
	}

	rec, err := m.store.Get(ctx, token)
	if err != nil {
		// The claim moved the token to processing but nothing will run it.
		m.writeFailure(ctx, token, fmt.Errorf("failed to load token for retry: %w", err))
		return false, fmt.Errorf("failed to load token for retry: %w", err)
	}

	log.InfoContext(ctx, "token retry claimed", slog.Int("retry_count", count))
	m.emit(ctx, events.TokenRetried, rec)

	if !m.spawn(token, rec.Input) {
		return false, ErrManagerClosed
	}
	return true, nil
}

// Cancel stops the execution of a non-terminal token and marks it failed with
// PROCESSING_CANCELLED. It returns false without error when the token is
// missing, expired or already terminal.
func (m *Manager) Cancel(ctx context.Context, token string) (bool, error) {
	log := logger.FromContextOrDefault(ctx, m.logger).With(slog.String("token", token))

	rec, err := m.store.Get(ctx, token)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}

	now := m.clock()
	if rec.IsExpired(now) || !domain.CanCancel(rec.Status) {
		log.DebugContext(ctx, "cancel is a no-op", slog.String("status", string(rec.Status)))
		return false, nil
	}

	if exec := m.registry.take(token); exec != nil {
		exec.cancel()
	}

	err = m.store.Update(ctx, token, domain.TokenUpdate{
		Status: domain.StatusPtr(domain.TokenStatusFailed),
		Error: &domain.ProcessingError{
			Code:    domain.ErrorCodeProcessingCancelled,
			Message: "Processing was cancelled",
			Details: map[string]any{"timestamp": now.UTC().Format(timestampLayout)},
		},
		ProcessingEndTime: domain.TimePtr(now),
	})
	switch {
	case errors.Is(err, store.ErrUpdateFailed), errors.Is(err, store.ErrNotFound):
		// The execution reached a terminal state first.
		log.DebugContext(ctx, "cancel lost the race with a terminal write", slog.String("reason", err.Error()))
		return false, nil
	case err != nil:
		return false, fmt.Errorf("failed to persist cancellation: %w", err)
	}

	log.InfoContext(ctx, "token cancelled")
	rec.Status = domain.TokenStatusFailed
	rec.Error = &domain.ProcessingError{Code: domain.ErrorCodeProcessingCancelled}
	m.emit(ctx, events.TokenCancelled, rec)
	return true, nil
}

// Active returns the number of handles in the task table.
func (m *Manager) Active() int {
	return m.registry.len()
}

func (m *Manager) emit(ctx context.Context, eventType events.TokenEventType, rec *domain.TokenRecord) {
	if err := m.emitter.EmitEvent(ctx, events.NewTokenEvent(eventType, rec, m.clock())); err != nil {
		m.logger.WarnContext(ctx, "failed to emit lifecycle event",
			slog.String("event_type", string(eventType)),
			slog.String("error", redact.Error(err)))
	}
}
