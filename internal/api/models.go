package api

import (
	"encoding/json"
	"time"

	"github.com/phrazzld/assay-api/internal/domain"
)

// SubmitTokenRequest is the JSON form of a submission. Content is base64 in
// the JSON document.
type SubmitTokenRequest struct {
	OwnerID     string `json:"owner_id"     validate:"omitempty,max=256"`
	Filename    string `json:"filename"     validate:"omitempty,max=512"`
	ContentType string `json:"content_type" validate:"omitempty,max=255"`
	Content     []byte `json:"content"`
}

// SubmitTokenResponse is returned with 202 Accepted.
type SubmitTokenResponse struct {
	Token     string             `json:"token"`
	Status    domain.TokenStatus `json:"status"`
	ExpiresAt time.Time          `json:"expires_at"`
}

// TokenResponse is the externally visible token record.
type TokenResponse struct {
	Token               string                  `json:"token"`
	OwnerID             string                  `json:"owner_id"`
	Status              domain.TokenStatus      `json:"status"`
	Progress            domain.Progress         `json:"progress"`
	Result              json.RawMessage         `json:"result,omitempty"`
	Error               *domain.ProcessingError `json:"error,omitempty"`
	RetryCount          int                     `json:"retry_count"`
	CreatedAt           time.Time               `json:"created_at"`
	UpdatedAt           time.Time               `json:"updated_at"`
	ExpiresAt           time.Time               `json:"expires_at"`
	ProcessingStartTime *time.Time              `json:"processing_start_time,omitempty"`
	ProcessingEndTime   *time.Time              `json:"processing_end_time,omitempty"`
}

// RetryTokenResponse reports whether a retry was started.
type RetryTokenResponse struct {
	Token   string `json:"token"`
	Retried bool   `json:"retried"`
}

// CancelTokenResponse reports whether the token was cancelled.
type CancelTokenResponse struct {
	Token     string `json:"token"`
	Cancelled bool   `json:"cancelled"`
}

func tokenToResponse(rec *domain.TokenRecord) TokenResponse {
	return TokenResponse{
		Token:               rec.Token,
		OwnerID:             rec.OwnerID,
		Status:              rec.Status,
		Progress:            rec.Progress,
		Result:              rec.Result,
		Error:               rec.Error,
		RetryCount:          rec.RetryCount,
		CreatedAt:           rec.CreatedAt,
		UpdatedAt:           rec.UpdatedAt,
		ExpiresAt:           rec.ExpiresAt,
		ProcessingStartTime: rec.ProcessingStartTime,
		ProcessingEndTime:   rec.ProcessingEndTime,
	}
}
