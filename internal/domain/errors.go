package domain

import "errors"

// Validation errors for domain types
var (
	ErrEmptyToken          = errors.New("token cannot be empty")
	ErrEmptyOwnerID        = errors.New("owner ID cannot be empty")
	ErrEmptyArtifact       = errors.New("artifact cannot be empty")
	ErrInvalidStatus       = errors.New("invalid token status")
	ErrInvalidExpiry       = errors.New("expires_at must be after created_at")
	ErrNegativeRetryCount  = errors.New("retry count cannot be negative")
	ErrInvalidPercentage   = errors.New("invalid progress")
	ErrInconsistentOutcome = errors.New("inconsistent token outcome")

	// ErrInvalidTransition is returned when an update would violate the
	// token state machine.
	ErrInvalidTransition = errors.New("invalid token status transition")
)
