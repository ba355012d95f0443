//go:build integration

package postgres_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/phrazzld/assay-api/internal/ciutil"
	"github.com/phrazzld/assay-api/internal/platform/postgres"
	"github.com/phrazzld/assay-api/internal/store"
	"github.com/phrazzld/assay-api/internal/store/storetest"
	"github.com/stretchr/testify/require"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// openTestDB connects to the configured test database, applies migrations
// and empties the tokens table.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := ciutil.TestDatabaseURL(nil)
	if dbURL == "" {
		t.Skip("Skipping integration test - " + ciutil.EnvAssayTestDBURL + " or " + ciutil.EnvDatabaseURL + " required")
	}

	db, err := sql.Open("pgx", dbURL)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, db.PingContext(ctx))
	require.NoError(t, postgres.Migrate(ctx, db, nil))
	_, err = db.ExecContext(ctx, `TRUNCATE tokens`)
	require.NoError(t, err)
	return db
}

func TestPostgresTokenStore_Integration(t *testing.T) {
	storetest.RunTokenStoreSuite(t, func(t *testing.T, clock store.Clock) store.TokenStore {
		return postgres.NewPostgresTokenStore(openTestDB(t), clock, nil)
	})
}
