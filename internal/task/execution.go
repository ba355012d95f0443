package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/assay-api/internal/analysis"
	"github.com/phrazzld/assay-api/internal/domain"
	"github.com/phrazzld/assay-api/internal/events"
	"github.com/phrazzld/assay-api/internal/redact"
	"github.com/phrazzld/assay-api/internal/store"
)

const timestampLayout = time.RFC3339Nano

// ErrAnalyzerPanic wraps a panic recovered from an analyzer.
var ErrAnalyzerPanic = errors.New("analyzer panicked")

// spawn registers a new execution for token and starts it. It returns false
// if the Manager has been shut down.
func (m *Manager) spawn(token string, input domain.Artifact) bool {
	ctx, cancel := context.WithCancel(m.baseCtx)
	exec := newExecution(token, cancel)

	prev, ok := m.registry.add(exec)
	if !ok {
		cancel()
		m.writeFailure(context.Background(), token, ErrManagerClosed)
		return false
	}
	if prev != nil {
		// A cancelled run that has not unwound yet; it will not write again.
		prev.cancel()
	}

	go m.run(ctx, exec, input)
	return true
}

// run is the background execution of one submit or retry.
func (m *Manager) run(ctx context.Context, exec *execution, input domain.Artifact) {
	defer close(exec.done)
	defer m.registry.release(exec)
	defer exec.cancel()

	log := m.logger.With(slog.String("token", exec.token))
	tracker := newProgressTracker(m.cfg.ProgressPlan, int(m.cfg.ExpectedDuration/time.Second))

	progress, err := tracker.advance()
	if err != nil {
		log.ErrorContext(ctx, "invalid progress plan", slog.String("error", err.Error()))
		return
	}
	start := m.clock()
	err = m.store.Update(ctx, exec.token, domain.TokenUpdate{
		Status:              domain.StatusPtr(domain.TokenStatusProcessing),
		Progress:            &progress,
		ProcessingStartTime: domain.TimePtr(start),
	})
	if err != nil {
		m.logWriteError(ctx, log, "processing", err)
		return
	}
	m.emit(ctx, events.TokenProcessing, &domain.TokenRecord{Token: exec.token, Status: domain.TokenStatusProcessing})
	log.DebugContext(ctx, "execution started", slog.Int("percentage", progress.Percentage))

	if err := m.sem.Acquire(ctx, 1); err != nil {
		log.InfoContext(ctx, "execution abandoned while waiting for a slot", slog.String("reason", err.Error()))
		return
	}
	result, analyzeErr := m.analyze(ctx, input)
	m.sem.Release(1)

	// A cancelled execution never writes a terminal state: Cancel owns that
	// write, and on shutdown the record is left for expiry.
	if ctx.Err() != nil {
		log.InfoContext(ctx, "execution cancelled, discarding outcome")
		return
	}

	// Terminal writes must not be interrupted by a cancel that arrives after
	// the check above.
	writeCtx := context.WithoutCancel(ctx)
	if analyzeErr != nil {
		log.WarnContext(ctx, "analysis failed",
			slog.String("error", redact.Error(analyzeErr)),
			slog.Duration("elapsed", m.clock().Sub(start)))
		m.writeFailure(writeCtx, exec.token, analyzeErr)
		return
	}

	final, err := tracker.final()
	if err != nil {
		log.ErrorContext(ctx, "invalid progress plan", slog.String("error", err.Error()))
		m.writeFailure(writeCtx, exec.token, err)
		return
	}
	if err := m.store.Update(ctx, exec.token, domain.TokenUpdate{Progress: &final}); err != nil {
		m.logWriteError(ctx, log, "completion progress", err)
		return
	}

	if ctx.Err() != nil {
		log.InfoContext(ctx, "execution cancelled before completion, discarding result")
		return
	}
	end := m.clock()
	err = m.store.Update(writeCtx, exec.token, domain.TokenUpdate{
		Status:            domain.StatusPtr(domain.TokenStatusCompleted),
		Result:            result,
		ProcessingEndTime: domain.TimePtr(end),
	})
	if err != nil {
		m.logWriteError(ctx, log, "completed", err)
		return
	}

	log.InfoContext(ctx, "token completed",
		slog.Int("result_size", len(result)),
		slog.Duration("elapsed", end.Sub(start)))
	m.emit(ctx, events.TokenCompleted, &domain.TokenRecord{Token: exec.token, Status: domain.TokenStatusCompleted})
}

// analyze calls the analyzer, converting a panic into an error.
func (m *Manager) analyze(ctx context.Context, input domain.Artifact) (result domain.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrAnalyzerPanic, r)
		}
	}()

	if m.cfg.AnalysisTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.AnalysisTimeout)
		defer cancel()
	}

	result, err = m.analyzer.Analyze(ctx, input)
	if err != nil {
		return nil, err
	}
	switch {
	case len(result) == 0:
		return nil, fmt.Errorf("%w: empty result", analysis.ErrInvalidResponse)
	case !json.Valid(result):
		return nil, fmt.Errorf("%w: result is not JSON", analysis.ErrInvalidResponse)
	}
	return result, nil
}

// writeFailure persists a PROCESSING_FAILED outcome for token.
func (m *Manager) writeFailure(ctx context.Context, token string, cause error) {
	now := m.clock()
	perr := &domain.ProcessingError{
		Code:    domain.ErrorCodeProcessingFailed,
		Message: redact.Error(cause),
		Details: map[string]any{
			"timestamp": now.UTC().Format(timestampLayout),
			"retryable": analysis.IsRetryable(cause),
		},
	}
	err := m.store.Update(ctx, token, domain.TokenUpdate{
		Status:            domain.StatusPtr(domain.TokenStatusFailed),
		Error:             perr,
		ProcessingEndTime: domain.TimePtr(now),
	})
	log := m.logger.With(slog.String("token", token))
	if err != nil {
		m.logWriteError(ctx, log, "failed", err)
		return
	}
	m.emit(ctx, events.TokenFailed, &domain.TokenRecord{Token: token, Status: domain.TokenStatusFailed, Error: perr})
}

// logWriteError logs a store write that did not land. Missing records were
// swept after expiry and rejected writes lost to a terminal state; both are
// expected and logged at debug.
func (m *Manager) logWriteError(ctx context.Context, log *slog.Logger, stage string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		log.DebugContext(ctx, "token gone before write", slog.String("stage", stage))
	case errors.Is(err, store.ErrUpdateFailed):
		log.DebugContext(ctx, "write rejected by state machine",
			slog.String("stage", stage),
			slog.String("reason", err.Error()))
	case errors.Is(err, context.Canceled):
		log.DebugContext(ctx, "write abandoned after cancellation", slog.String("stage", stage))
	default:
		log.ErrorContext(ctx, "failed to persist token update",
			slog.String("stage", stage),
			slog.String("error", redact.Error(err)))
	}
}
