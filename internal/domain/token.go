package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// TokenStatus represents the lifecycle state of a token.
type TokenStatus string

// Possible token status values
const (
	// TokenStatusUploaded is the initial, transient state right after submission.
	TokenStatusUploaded TokenStatus = "uploaded"

	// TokenStatusProcessing means a background execution owns the token.
	TokenStatusProcessing TokenStatus = "processing"

	// TokenStatusCompleted is terminal; the record carries a result.
	TokenStatusCompleted TokenStatus = "completed"

	// TokenStatusFailed is terminal unless explicitly retried; the record carries an error.
	TokenStatusFailed TokenStatus = "failed"
)

// IsValid reports whether s is one of the known statuses.
func (s TokenStatus) IsValid() bool {
	switch s {
	case TokenStatusUploaded, TokenStatusProcessing, TokenStatusCompleted, TokenStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no automatic transition leaves s.
func (s TokenStatus) IsTerminal() bool {
	return s == TokenStatusCompleted || s == TokenStatusFailed
}

// Error codes persisted on failed tokens
const (
	// ErrorCodeProcessingFailed marks a failure returned by the analysis backend.
	ErrorCodeProcessingFailed = "PROCESSING_FAILED"

	// ErrorCodeProcessingCancelled marks an explicit cancellation by a caller.
	ErrorCodeProcessingCancelled = "PROCESSING_CANCELLED"
)

// Result is the opaque payload returned by the analysis backend. The pipeline
// never inspects it; it is stored and returned verbatim.
type Result = json.RawMessage

// ProcessingError describes why a token ended in the failed state.
type ProcessingError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface so a ProcessingError can be returned
// and wrapped like any other error.
func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsCancellation reports whether the error was produced by an explicit cancel.
func (e *ProcessingError) IsCancellation() bool {
	return e != nil && e.Code == ErrorCodeProcessingCancelled
}

// TokenRecord is the durable unit of work tracking.
type TokenRecord struct {
	Token      string           `json:"token"`
	OwnerID    string           `json:"owner_id"`
	Status     TokenStatus      `json:"status"`
	Progress   Progress         `json:"progress"`
	Result     Result           `json:"result,omitempty"`
	Error      *ProcessingError `json:"error,omitempty"`
	RetryCount int              `json:"retry_count"`

	// Input is kept so that a retry can recompute the same work. It is
	// never serialized back to API callers.
	Input Artifact `json:"-"`

	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	ExpiresAt           time.Time  `json:"expires_at"`
	ProcessingStartTime *time.Time `json:"processing_start_time,omitempty"`
	ProcessingEndTime   *time.Time `json:"processing_end_time,omitempty"`
}

// NewTokenRecord builds the initial record for a fresh submission.
// A non-positive ttl produces a record that is already expired at now: its
// one-microsecond lifetime is backdated to end a microsecond before now, so
// ExpiresAt stays strictly after CreatedAt at the precision every store
// persists.
func NewTokenRecord(token, ownerID string, input Artifact, ttl time.Duration, now time.Time) (*TokenRecord, error) {
	if token == "" {
		return nil, ErrEmptyToken
	}
	if ownerID == "" {
		return nil, ErrEmptyOwnerID
	}
	now = now.UTC()
	createdAt, expiresAt := now, now.Add(ttl)
	if ttl <= 0 {
		expiresAt = now.Add(-time.Microsecond)
		createdAt = expiresAt.Add(-time.Microsecond)
	}

	rec := &TokenRecord{
		Token:     token,
		OwnerID:   ownerID,
		Status:    TokenStatusUploaded,
		Progress:  InitialProgress(),
		Input:     input,
		CreatedAt: createdAt,
		UpdatedAt: now,
		ExpiresAt: expiresAt,
	}

	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

// IsExpired reports whether the record is past its expiry at the given time.
func (r *TokenRecord) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Validate checks the record invariants.
func (r *TokenRecord) Validate() error {
	if r.Token == "" {
		return ErrEmptyToken
	}
	if r.OwnerID == "" {
		return ErrEmptyOwnerID
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, r.Status)
	}
	if !r.ExpiresAt.After(r.CreatedAt) {
		return ErrInvalidExpiry
	}
	if r.RetryCount < 0 {
		return ErrNegativeRetryCount
	}
	if err := r.Progress.Validate(); err != nil {
		return err
	}

	switch r.Status {
	case TokenStatusCompleted:
		if len(r.Result) == 0 || r.Error != nil {
			return fmt.Errorf("%w: completed token needs a result and no error", ErrInconsistentOutcome)
		}
	case TokenStatusFailed:
		if r.Error == nil || len(r.Result) != 0 {
			return fmt.Errorf("%w: failed token needs an error and no result", ErrInconsistentOutcome)
		}
	default:
		if r.Error != nil || len(r.Result) != 0 {
			return fmt.Errorf("%w: %s token cannot carry an outcome", ErrInconsistentOutcome, r.Status)
		}
	}
	return nil
}

// TokenUpdate is a partial update applied to a persisted record. Nil fields
// are left untouched. UpdatedAt is always stamped by the store.
type TokenUpdate struct {
	Status              *TokenStatus
	Progress            *Progress
	Result              Result
	Error               *ProcessingError
	ProcessingStartTime *time.Time
	ProcessingEndTime   *time.Time
}

// IsEmpty reports whether the update carries no field changes.
func (u TokenUpdate) IsEmpty() bool {
	return u.Status == nil && u.Progress == nil && u.Result == nil && u.Error == nil &&
		u.ProcessingStartTime == nil && u.ProcessingEndTime == nil
}

// Apply merges the update into r. Terminal records reject every update:
// leaving Failed is only possible through ClaimRetry. A status change that
// CanTransition rejects, or a merge that breaks the record invariants,
// returns an error wrapping ErrInvalidTransition and leaves r unchanged.
func (u TokenUpdate) Apply(r *TokenRecord, now time.Time) error {
	if r.Status.IsTerminal() {
		return fmt.Errorf("%w: token is %s", ErrInvalidTransition, r.Status)
	}
	if u.Status != nil && !CanTransition(r.Status, *u.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, *u.Status)
	}

	next := *r
	if u.Status != nil {
		next.Status = *u.Status
	}
	if u.Progress != nil {
		next.Progress = *u.Progress
	}
	if u.Result != nil {
		next.Result = append(Result(nil), u.Result...)
	}
	if u.Error != nil {
		e := *u.Error
		next.Error = &e
	}
	if u.ProcessingStartTime != nil {
		next.ProcessingStartTime = TimePtr(*u.ProcessingStartTime)
	}
	if u.ProcessingEndTime != nil {
		next.ProcessingEndTime = TimePtr(*u.ProcessingEndTime)
	}
	next.UpdatedAt = now.UTC()

	if err := next.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	*r = next
	return nil
}

// ClaimRetry moves a failed record back to processing for another attempt.
// It returns false, leaving r untouched, when the record is not failed, has
// exhausted maxRetries or is expired.
func (r *TokenRecord) ClaimRetry(maxRetries int, now time.Time) bool {
	if !CanRetry(r.Status, r.RetryCount, maxRetries) || r.IsExpired(now) {
		return false
	}
	r.RetryCount++
	r.Status = TokenStatusProcessing
	r.Progress = RetryProgress(r.RetryCount)
	r.Error = nil
	r.Result = nil
	r.ProcessingStartTime = nil
	r.ProcessingEndTime = nil
	r.UpdatedAt = now.UTC()
	return true
}

// StatusPtr returns a pointer to s, for building TokenUpdate values.
func StatusPtr(s TokenStatus) *TokenStatus {
	return &s
}

// TimePtr returns a pointer to t in UTC.
func TimePtr(t time.Time) *time.Time {
	u := t.UTC()
	return &u
}
