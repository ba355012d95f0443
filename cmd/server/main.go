// Package main implements the entry point for the Assay API server, which
// accepts artifacts for background analysis and tracks each one with an
// opaque token until it completes, fails, is cancelled or expires.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("assay-api: %v", err)
	}
}

// run loads configuration, builds the application and serves until ctx is
// cancelled.
func run(ctx context.Context) error {
	cfg, err := loadAppConfig()
	if err != nil {
		return err
	}

	logger, err := setupAppLogger(cfg)
	if err != nil {
		return err
	}
	logAppConfig(logger, cfg)

	app, err := newApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return app.Run(ctx)
}
