package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/phrazzld/assay-api/internal/events"
	"github.com/phrazzld/assay-api/internal/redact"
)

// Start schedules the periodic cleanup. It is an error to call it twice or
// after Shutdown.
func (m *Manager) Start() error {
	if m.registry.isClosed() {
		return ErrManagerClosed
	}

	m.cronMu.Lock()
	defer m.cronMu.Unlock()
	if m.cron != nil {
		return errors.New("token manager already started")
	}

	cronLog := cronLogger{log: m.logger.With(slog.String("subsystem", "cleanup"))}
	c := cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	c.Schedule(cron.Every(m.cfg.CleanupInterval), cron.FuncJob(func() {
		// Errors are logged inside Cleanup; the next tick tries again.
		_, _ = m.Cleanup(m.baseCtx)
	}))
	c.Start()
	m.cron = c

	m.logger.Info("token cleanup scheduled",
		slog.Duration("interval", m.cfg.CleanupInterval),
		slog.Int("batch_limit", m.cfg.CleanupBatchLimit))
	return nil
}

// Cleanup deletes expired records in bounded batches and reaps finished
// handles from the task table. It returns the number of records deleted.
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	start := time.Now()
	total := 0
	var sweepErr error

	for batch := 0; batch < m.cfg.CleanupMaxBatches; batch++ {
		n, err := m.store.DeleteExpired(ctx, m.clock(), m.cfg.CleanupBatchLimit)
		total += n
		if err != nil {
			sweepErr = fmt.Errorf("expired token sweep failed after %d records: %w", total, err)
			break
		}
		if n < m.cfg.CleanupBatchLimit {
			break
		}
	}

	reaped := m.registry.reap()

	if sweepErr != nil {
		m.logger.ErrorContext(ctx, "token cleanup failed",
			slog.String("error", redact.Error(sweepErr)),
			slog.Int("deleted", total))
	} else {
		m.logger.DebugContext(ctx, "token cleanup finished",
			slog.Int("deleted", total),
			slog.Int("reaped_handles", reaped),
			slog.Duration("duration", time.Since(start)))
	}
	if total > 0 {
		if err := m.emitter.EmitEvent(ctx, events.NewSweepEvent(total, m.clock())); err != nil {
			m.logger.WarnContext(ctx, "failed to emit sweep event", slog.String("error", redact.Error(err)))
		}
	}
	return total, sweepErr
}

// Shutdown stops the cleanup schedule, cancels every execution and waits for
// them to return, bounded by the configured shutdown timeout and ctx.
// Submit and Retry fail with ErrManagerClosed afterwards. Calling Shutdown
// again is a no-op.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.registry.isClosed() {
		return nil
	}
	execs := m.registry.close()

	m.cronMu.Lock()
	var cronDone <-chan struct{}
	if m.cron != nil {
		cronDone = m.cron.Stop().Done()
	}
	m.cronMu.Unlock()

	m.baseCancel()
	for _, exec := range execs {
		exec.cancel()
	}

	waitCtx, cancel := context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
	defer cancel()

	m.logger.InfoContext(ctx, "draining token executions", slog.Int("count", len(execs)))
	for i, exec := range execs {
		select {
		case <-exec.done:
		case <-waitCtx.Done():
			return fmt.Errorf("shutdown interrupted with %d executions still running: %w", len(execs)-i, waitCtx.Err())
		}
	}
	if cronDone != nil {
		select {
		case <-cronDone:
		case <-waitCtx.Done():
			return fmt.Errorf("shutdown interrupted waiting for cleanup: %w", waitCtx.Err())
		}
	}

	m.logger.InfoContext(ctx, "token manager stopped")
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(keysAndValues, "error", redact.Error(err))...)
}
