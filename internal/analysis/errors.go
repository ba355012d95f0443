package analysis

import (
	"context"
	"errors"
)

// Common errors returned by analyzers
var (
	// ErrAnalysisFailed is returned when analysis fails for any general reason
	ErrAnalysisFailed = errors.New("artifact analysis failed")

	// ErrInvalidResponse is returned when the backend response cannot be parsed,
	// is malformed or does not match the result schema
	ErrInvalidResponse = errors.New("invalid response from analysis backend")

	// ErrContentBlocked is returned when the backend refuses the content
	ErrContentBlocked = errors.New("content blocked by analysis backend safety filters")

	// ErrTransientFailure is returned for temporary errors that might resolve on retry
	ErrTransientFailure = errors.New("transient error during analysis")

	// ErrInvalidConfig is returned when the analyzer configuration is invalid
	ErrInvalidConfig = errors.New("invalid analyzer configuration")
)

// IsRetryable reports whether a later attempt could succeed. It feeds the
// informational "retryable" detail on failed tokens.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrContentBlocked) || errors.Is(err, ErrInvalidResponse) || errors.Is(err, ErrInvalidConfig) {
		return false
	}
	return errors.Is(err, ErrTransientFailure) || errors.Is(err, context.DeadlineExceeded)
}
