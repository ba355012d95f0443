package postgres_test

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/assay-api/internal/platform/postgres"
	"github.com/phrazzld/assay-api/internal/store"
	"github.com/stretchr/testify/assert"
)

// newPgError builds a PgError with the given SQLSTATE code.
func newPgError(code string) *pgconn.PgError {
	return &pgconn.PgError{
		Code:           code,
		Message:        "error message",
		Detail:         "error details",
		SchemaName:     "public",
		TableName:      "tokens",
		ColumnName:     "owner_id",
		ConstraintName: "tokens_status_check",
	}
}

// mockResult implements sql.Result for testing
type mockResult struct {
	rowsAffected int64
	err          error
}

func (m mockResult) LastInsertId() (int64, error) { return 0, m.err }
func (m mockResult) RowsAffected() (int64, error) { return m.rowsAffected, m.err }

func TestIsUniqueViolation(t *testing.T) {
	t.Parallel()

	assert.False(t, postgres.IsUniqueViolation(nil))
	assert.False(t, postgres.IsUniqueViolation(errors.New("generic error")))
	assert.True(t, postgres.IsUniqueViolation(newPgError("23505")))
	assert.True(t, postgres.IsUniqueViolation(fmt.Errorf("insert: %w", newPgError("23505"))))
	assert.False(t, postgres.IsUniqueViolation(newPgError("23514")))
}

func TestIsCheckConstraintViolation(t *testing.T) {
	t.Parallel()

	assert.True(t, postgres.IsCheckConstraintViolation(newPgError("23514")))
	assert.False(t, postgres.IsCheckConstraintViolation(newPgError("23505")))
}

func TestIsConnectionError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"generic", errors.New("boom"), false},
		{"bad conn", driver.ErrBadConn, true},
		{"conn done", fmt.Errorf("exec: %w", sql.ErrConnDone), true},
		{"connection exception class", newPgError("08006"), true},
		{"cannot connect now", newPgError("57P03"), true},
		{"constraint violation", newPgError("23514"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, postgres.IsConnectionError(tt.err))
		})
	}
}

func TestMapError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"no rows", sql.ErrNoRows, store.ErrTokenNotFound},
		{"unique violation", newPgError("23505"), store.ErrDuplicate},
		{"check violation", newPgError("23514"), store.ErrInvalidEntity},
		{"not null violation", newPgError("23502"), store.ErrInvalidEntity},
		{"connection failure", newPgError("08001"), store.ErrStoreUnavailable},
		{"bad conn", driver.ErrBadConn, store.ErrStoreUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped := postgres.MapError("get", tt.err)
			assert.ErrorIs(t, mapped, tt.target)
		})
	}

	t.Run("nil", func(t *testing.T) {
		assert.NoError(t, postgres.MapError("get", nil))
	})

	t.Run("unmapped errors keep context", func(t *testing.T) {
		original := errors.New("syntax error")
		mapped := postgres.MapError("update", original)

		var storeErr *store.StoreError
		assert.ErrorAs(t, mapped, &storeErr)
		assert.Equal(t, "update", storeErr.Operation)
		assert.ErrorIs(t, mapped, original)
	})
}

func TestCheckRowsAffected(t *testing.T) {
	t.Parallel()

	assert.NoError(t, postgres.CheckRowsAffected(mockResult{rowsAffected: 1}))
	assert.ErrorIs(t, postgres.CheckRowsAffected(mockResult{rowsAffected: 0}), store.ErrTokenNotFound)
	assert.Error(t, postgres.CheckRowsAffected(nil))

	rowsErr := errors.New("driver does not support RowsAffected")
	assert.ErrorIs(t, postgres.CheckRowsAffected(mockResult{err: rowsErr}), rowsErr)
}
