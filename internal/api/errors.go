package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/phrazzld/assay-api/internal/api/shared"
	"github.com/phrazzld/assay-api/internal/domain"
	"github.com/phrazzld/assay-api/internal/store"
	"github.com/phrazzld/assay-api/internal/task"
)

// Request-level errors produced by the handlers
var (
	// ErrOwnerRequired is returned when neither a bearer token nor the request
	// names the owner of a submission.
	ErrOwnerRequired = errors.New("owner_id is required")

	// ErrMissingFile is returned for a multipart submission without a file part.
	ErrMissingFile = errors.New("file is required")

	// ErrUploadTooLarge is returned when the artifact exceeds the upload limit.
	ErrUploadTooLarge = errors.New("upload exceeds the maximum size")

	// ErrInvalidRequest wraps body decoding failures.
	ErrInvalidRequest = errors.New("invalid request format")

	// ErrUnsupportedMediaType is returned for bodies that are neither JSON nor
	// multipart.
	ErrUnsupportedMediaType = errors.New("unsupported content type")
)

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// exposing the error types to clients.
func MapErrorToStatusCode(err error) int {
	var maxBytes *http.MaxBytesError
	var validationErrs validator.ValidationErrors

	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, ErrUploadTooLarge), errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge

	case errors.Is(err, ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType

	case errors.Is(err, domain.ErrEmptyOwnerID),
		errors.Is(err, domain.ErrEmptyArtifact),
		errors.Is(err, domain.ErrEmptyToken),
		errors.Is(err, ErrOwnerRequired),
		errors.Is(err, ErrMissingFile),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, shared.ErrEmptyBody),
		errors.As(err, &validationErrs):
		return http.StatusBadRequest

	case errors.Is(err, store.ErrStoreUnavailable),
		errors.Is(err, task.ErrManagerClosed):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-facing message for err.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	var maxBytes *http.MaxBytesError
	var validationErrs validator.ValidationErrors

	switch {
	case errors.Is(err, store.ErrNotFound):
		return "Token not found"
	case errors.Is(err, ErrUploadTooLarge), errors.As(err, &maxBytes):
		return "Upload too large"
	case errors.Is(err, ErrUnsupportedMediaType):
		return "Content type must be application/json or multipart/form-data"
	case errors.Is(err, domain.ErrEmptyOwnerID), errors.Is(err, ErrOwnerRequired):
		return "owner_id is required"
	case errors.Is(err, domain.ErrEmptyArtifact), errors.Is(err, ErrMissingFile):
		return "Artifact content is required"
	case errors.Is(err, domain.ErrEmptyToken):
		return "Token is required"
	case errors.Is(err, shared.ErrEmptyBody):
		return "Request body is required"
	case errors.Is(err, ErrInvalidRequest):
		return "Invalid request format"
	case errors.As(err, &validationErrs):
		return SanitizeValidationError(err)
	case errors.Is(err, store.ErrStoreUnavailable):
		return "Token store unavailable"
	case errors.Is(err, task.ErrManagerClosed):
		return "Service is shutting down"
	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError turns validator output into a short message naming
// the offending field.
func SanitizeValidationError(err error) string {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		fe := validationErrs[0]
		return fmt.Sprintf("Invalid %s: %s", strings.ToLower(fe.Field()), getValidationTagMessage(fe.Tag()))
	}
	return "Validation error"
}

func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}

// HandleAPIError writes the status and safe message for err, logging the
// redacted original. defaultMsg replaces the generic message for 5xx errors.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, defaultMsg string) {
	status := MapErrorToStatusCode(err)
	message := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError && defaultMsg != "" {
		message = defaultMsg
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err)
}
