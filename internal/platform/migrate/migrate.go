// Package migrate applies embedded goose migrations for the SQL token stores.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"

	"github.com/pressly/goose/v3"
)

// goose keeps its dialect, filesystem and logger in package globals.
var gooseMu sync.Mutex

// Up applies every pending migration found at the root of fsys using the
// given goose dialect ("postgres", "sqlite3").
func Up(ctx context.Context, db *sql.DB, dialect string, fsys fs.FS, log *slog.Logger) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := configure(dialect, fsys, log); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("failed to apply %s migrations: %w", dialect, err)
	}
	return nil
}

// Version returns the current schema version recorded by goose.
func Version(ctx context.Context, db *sql.DB, dialect string, fsys fs.FS, log *slog.Logger) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := configure(dialect, fsys, log); err != nil {
		return 0, err
	}
	v, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s schema version: %w", dialect, err)
	}
	return v, nil
}

func configure(dialect string, fsys fs.FS, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	goose.SetBaseFS(fsys)
	goose.SetLogger(&slogGooseLogger{log: log.With(slog.String("component", "migrations"))})
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("unsupported migration dialect %q: %w", dialect, err)
	}
	return nil
}

// slogGooseLogger adapts the goose logger interface to slog.
type slogGooseLogger struct {
	log *slog.Logger
}

// Printf implements goose.Logger.
func (l *slogGooseLogger) Printf(format string, v ...interface{}) {
	l.log.Info(fmt.Sprintf(format, v...))
}

// Fatalf implements goose.Logger. It does NOT exit; goose returns the error
// to the caller.
func (l *slogGooseLogger) Fatalf(format string, v ...interface{}) {
	l.log.Error(fmt.Sprintf(format, v...))
}
