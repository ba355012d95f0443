package sqlite_test

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/assay-api/internal/domain"
	"github.com/phrazzld/assay-api/internal/platform/logger"
	"github.com/phrazzld/assay-api/internal/platform/sqlite"
	"github.com/phrazzld/assay-api/internal/store"
	"github.com/phrazzld/assay-api/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, clock store.Clock) store.TokenStore {
	t.Helper()
	log, _ := logger.NewTestLogger()
	db, err := sqlite.Open(context.Background(), ":memory:", log)
	require.NoError(t, err)
	return sqlite.NewTokenStore(db, clock, log)
}

func TestTokenStore(t *testing.T) {
	storetest.RunTokenStoreSuite(t, newStore)
}

func TestTokenStore_PersistsAcrossReopen(t *testing.T) {
	dsn := "file:" + t.TempDir() + "/assay.db"
	ctx := context.Background()

	db, err := sqlite.Open(ctx, dsn, nil)
	require.NoError(t, err)
	s := sqlite.NewTokenStore(db, nil, nil)

	rec, err := s.Create(ctx, "owner-1", storetest.SampleArtifact(), time.Hour)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	db, err = sqlite.Open(ctx, dsn, nil)
	require.NoError(t, err)
	reopened := sqlite.NewTokenStore(db, nil, nil)
	t.Cleanup(func() { _ = reopened.Close() })

	got, err := reopened.Get(ctx, rec.Token)
	require.NoError(t, err)
	assert.Equal(t, storetest.SampleArtifact(), got.Input)
}

func TestTokenStore_ClosedIsUnavailable(t *testing.T) {
	s := newStore(t, nil)
	require.NoError(t, s.Close())

	ctx := context.Background()
	token := uuid.NewString()

	_, err := s.Create(ctx, "owner-1", storetest.SampleArtifact(), time.Hour)
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)

	_, err = s.Get(ctx, token)
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)

	err = s.Update(ctx, token, domain.TokenUpdate{})
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)

	_, err = s.IncrementRetry(ctx, token, 3, time.Now())
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)

	_, err = s.DeleteExpired(ctx, time.Now(), 10)
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"no rows", sql.ErrNoRows, false},
		{"conn done", fmt.Errorf("query: %w", sql.ErrConnDone), true},
		{"bad conn", driver.ErrBadConn, true},
		{"closed pool", errors.New("sql: database is closed"), true},
		{"other", errors.New("constraint failed"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sqlite.IsConnectionError(tt.err))
		})
	}
}
