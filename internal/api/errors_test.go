package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"

	"github.com/phrazzld/assay-api/internal/domain"
	"github.com/phrazzld/assay-api/internal/store"
	"github.com/phrazzld/assay-api/internal/task"
)

func TestMapErrorToStatusCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"not found", store.ErrTokenNotFound, http.StatusNotFound, "Token not found"},
		{"wrapped not found", fmt.Errorf("get: %w", store.ErrTokenNotFound), http.StatusNotFound, "Token not found"},
		{"store unavailable", store.Unavailable("get", errors.New("refused")), http.StatusServiceUnavailable, "Token store unavailable"},
		{"manager closed", task.ErrManagerClosed, http.StatusServiceUnavailable, "Service is shutting down"},
		{"empty owner", domain.ErrEmptyOwnerID, http.StatusBadRequest, "owner_id is required"},
		{"empty artifact", domain.ErrEmptyArtifact, http.StatusBadRequest, "Artifact content is required"},
		{"empty token", domain.ErrEmptyToken, http.StatusBadRequest, "Token is required"},
		{"too large", ErrUploadTooLarge, http.StatusRequestEntityTooLarge, "Upload too large"},
		{"max bytes", fmt.Errorf("%w: %w", ErrInvalidRequest, &http.MaxBytesError{Limit: 10}), http.StatusRequestEntityTooLarge, "Upload too large"},
		{"bad json", fmt.Errorf("%w: unexpected EOF", ErrInvalidRequest), http.StatusBadRequest, "Invalid request format"},
		{"media type", ErrUnsupportedMediaType, http.StatusUnsupportedMediaType, "Content type must be application/json or multipart/form-data"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "An unexpected error occurred"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.status, MapErrorToStatusCode(tt.err))
			assert.Equal(t, tt.msg, GetSafeErrorMessage(tt.err))
		})
	}
}

func TestSanitizeValidationError(t *testing.T) {
	t.Parallel()

	type sample struct {
		Filename string `validate:"max=3"`
	}
	err := validator.New().Struct(sample{Filename: "too-long"})

	assert.Equal(t, http.StatusBadRequest, MapErrorToStatusCode(err))
	assert.Equal(t, "Invalid filename: too long", SanitizeValidationError(err))
	assert.Equal(t, "Validation error", SanitizeValidationError(errors.New("other")))
	assert.Equal(t, "An unexpected error occurred", GetSafeErrorMessage(nil))
}
