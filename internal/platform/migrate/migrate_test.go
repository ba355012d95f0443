package migrate_test

import (
	"context"
	"database/sql"
	"testing"
	"testing/fstest"

	"github.com/phrazzld/assay-api/internal/platform/logger"
	"github.com/phrazzld/assay-api/internal/platform/migrate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func TestUp_SQLite(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	fsys := fstest.MapFS{
		"00001_widgets.sql": {Data: []byte(`-- +goose Up
CREATE TABLE widgets (id INTEGER PRIMARY KEY);

-- +goose Down
DROP TABLE widgets;
`)},
	}

	log, buf := logger.NewTestLogger()
	ctx := context.Background()

	require.NoError(t, migrate.Up(ctx, db, "sqlite3", fsys, log))
	// Applying twice is a no-op.
	require.NoError(t, migrate.Up(ctx, db, "sqlite3", fsys, log))

	v, err := migrate.Version(ctx, db, "sqlite3", fsys, log)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	_, err = db.Exec(`INSERT INTO widgets (id) VALUES (1)`)
	assert.NoError(t, err)
	assert.Contains(t, buf.String(), `"component":"migrations"`)
}

func TestUp_UnknownDialect(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	err = migrate.Up(context.Background(), db, "oracle", fstest.MapFS{}, nil)
	assert.ErrorContains(t, err, "unsupported migration dialect")
}
