package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNotFoundError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"generic error", errors.New("some error"), false},
		{"ErrNotFound", ErrNotFound, true},
		{"ErrTokenNotFound", ErrTokenNotFound, true},
		{"wrapped ErrTokenNotFound", fmt.Errorf("get token: %w", ErrTokenNotFound), true},
		{"ErrRetryNotAllowed", ErrRetryNotAllowed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsNotFoundError(tt.err))
		})
	}
}

func TestIsDuplicateError(t *testing.T) {
	t.Parallel()

	assert.True(t, IsDuplicateError(fmt.Errorf("insert: %w", ErrDuplicate)))
	assert.False(t, IsDuplicateError(ErrNotFound))
}

func TestUnavailable(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp 127.0.0.1:5432: connection refused")
	err := Unavailable("get", cause)

	assert.True(t, IsUnavailableError(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "get operation on token failed")

	var storeErr *StoreError
	assert.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "get", storeErr.Operation)

	assert.NoError(t, Unavailable("get", nil))
}

func TestStoreError(t *testing.T) {
	t.Parallel()

	withCause := NewStoreError("token", "update", "constraint violated", ErrUpdateFailed)
	assert.Equal(t, "update operation on token failed: constraint violated: update failed", withCause.Error())
	assert.ErrorIs(t, withCause, ErrUpdateFailed)

	bare := NewStoreError("token", "delete", "nothing to do", nil)
	assert.Equal(t, "delete operation on token failed: nothing to do", bare.Error())
	assert.Nil(t, bare.Unwrap())
}
