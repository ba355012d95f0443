package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver

	"github.com/phrazzld/assay-api/internal/config"
	"github.com/phrazzld/assay-api/internal/platform/memory"
	"github.com/phrazzld/assay-api/internal/platform/postgres"
	"github.com/phrazzld/assay-api/internal/platform/redis"
	"github.com/phrazzld/assay-api/internal/platform/sqlite"
	"github.com/phrazzld/assay-api/internal/store"
)

// setupTokenStore opens the token store selected by database.driver and
// brings its schema up to date.
func setupTokenStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (store.TokenStore, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		db, err := setupPostgres(ctx, cfg.Database.URL, log)
		if err != nil {
			return nil, err
		}
		return postgres.NewPostgresTokenStore(db, store.SystemClock, log), nil

	case config.DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.Database.URL, log)
		if err != nil {
			return nil, err
		}
		log.Info("sqlite token store ready")
		return sqlite.NewTokenStore(db, store.SystemClock, log), nil

	case config.DriverRedis:
		client, err := redis.NewClient(ctx, redis.ClientConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		log.Info("redis token store ready", slog.String("key_prefix", cfg.Redis.KeyPrefix))
		return redis.NewTokenStore(client, cfg.Redis.KeyPrefix, store.SystemClock, log), nil

	case config.DriverMemory:
		log.Warn("using the in-memory token store; tokens do not survive a restart")
		return memory.NewTokenStore(memory.WithLogger(log)), nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}

// setupPostgres establishes a connection pool and applies migrations.
func setupPostgres(ctx context.Context, url string, log *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := postgres.Migrate(ctx, db, log); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	log.Info("database connection established")
	return db, nil
}
