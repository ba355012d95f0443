package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/assay-api/internal/analysis"
	"github.com/phrazzld/assay-api/internal/api/middleware"
	"github.com/phrazzld/assay-api/internal/config"
	"github.com/phrazzld/assay-api/internal/events"
	"github.com/phrazzld/assay-api/internal/redact"
	"github.com/phrazzld/assay-api/internal/store"
	"github.com/phrazzld/assay-api/internal/task"
)

// application holds the shared dependencies so they can be shut down in
// order.
type application struct {
	config *config.Config
	logger *slog.Logger

	store    store.TokenStore
	analyzer analysis.Analyzer
	emitter  *events.InMemoryEventEmitter
	manager  *task.Manager

	// auth is nil when no JWT secret is configured.
	auth *middleware.Authenticator
}

// newApplication wires the store, analyzer, event emitter and token manager.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{config: cfg, logger: logger}

	var err error
	app.store, err = setupTokenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	app.analyzer, err = setupAnalyzer(ctx, cfg.LLM, logger)
	if err != nil {
		app.closeStore()
		return nil, err
	}

	if cfg.Auth.JWTSecret != "" {
		app.auth, err = middleware.NewAuthenticator(cfg.Auth)
		if err != nil {
			app.closeStore()
			return nil, fmt.Errorf("failed to initialize authentication: %w", err)
		}
		logger.Info("bearer authentication enabled")
	}

	app.emitter = newEventEmitter(logger)

	app.manager, err = task.NewManager(app.store, app.analyzer, taskConfig(cfg), logger,
		task.WithEmitter(app.emitter))
	if err != nil {
		app.closeStore()
		return nil, fmt.Errorf("failed to create token manager: %w", err)
	}

	logger.Info("application initialized")
	return app, nil
}

// taskConfig maps the token and LLM settings onto the manager configuration.
func taskConfig(cfg *config.Config) task.Config {
	tc := task.DefaultConfig()
	tc.MaxRetries = cfg.Token.MaxRetries
	tc.TTL = cfg.Token.TTL()
	tc.CleanupInterval = cfg.Token.CleanupInterval()
	tc.CleanupBatchLimit = cfg.Token.CleanupBatchLimit
	tc.CleanupMaxBatches = cfg.Token.CleanupMaxBatches
	tc.MaxConcurrent = cfg.Token.MaxConcurrent
	tc.ShutdownTimeout = cfg.Token.ShutdownTimeout()
	tc.ExpectedDuration = expectedAnalysisDuration(cfg.LLM)
	// LLM analyzers bound each attempt themselves; an outer bound would cut
	// their retries short.
	if cfg.LLM.Provider == config.ProviderStatic {
		tc.AnalysisTimeout = cfg.LLM.Timeout()
	}
	return tc
}

// Run starts the cleanup schedule and serves HTTP until ctx is cancelled,
// then shuts everything down.
func (app *application) Run(ctx context.Context) error {
	if err := app.manager.Start(); err != nil {
		app.cleanup(context.Background())
		return fmt.Errorf("failed to start token manager: %w", err)
	}

	serveErr := app.startHTTPServer(ctx, app.setupRouter())
	app.cleanup(context.Background())
	if serveErr != nil {
		return fmt.Errorf("server error: %w", serveErr)
	}
	return nil
}

// cleanup drains the token manager and closes the store.
func (app *application) cleanup(ctx context.Context) {
	if app.manager != nil {
		if err := app.manager.Shutdown(ctx); err != nil {
			app.logger.Error("token manager shutdown incomplete", slog.String("error", redact.Error(err)))
		}
	}
	app.closeStore()
	app.logger.Info("application shutdown completed")
}

func (app *application) closeStore() {
	if app.store == nil {
		return
	}
	if err := app.store.Close(); err != nil && !errors.Is(err, store.ErrStoreUnavailable) {
		app.logger.Error("error closing token store", slog.String("error", redact.Error(err)))
	}
}

// newEventEmitter routes token lifecycle events to the application log.
func newEventEmitter(logger *slog.Logger) *events.InMemoryEventEmitter {
	return events.NewInMemoryEventEmitter(logger, events.NewLoggingHandler(logger))
}
