package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/phrazzld/assay-api/internal/api/shared"
	"github.com/phrazzld/assay-api/internal/domain"
	"github.com/phrazzld/assay-api/internal/platform/logger"
	"github.com/phrazzld/assay-api/internal/store"
)

// DefaultMaxUploadBytes is used when the handler is built with a
// non-positive limit.
const DefaultMaxUploadBytes int64 = 10 << 20

// TokenService is the subset of the token manager the handlers use.
type TokenService interface {
	Submit(ctx context.Context, ownerID string, artifact domain.Artifact) (*domain.TokenRecord, error)
	GetStatus(ctx context.Context, token string) (*domain.TokenRecord, error)
	Retry(ctx context.Context, token string) (bool, error)
	Cancel(ctx context.Context, token string) (bool, error)
}

// TokenHandler handles the token HTTP endpoints.
type TokenHandler struct {
	tokens    TokenService
	logger    *slog.Logger
	maxUpload int64
}

// NewTokenHandler creates a TokenHandler.
func NewTokenHandler(tokens TokenService, log *slog.Logger, maxUploadBytes int64) *TokenHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &TokenHandler{
		tokens:    tokens,
		logger:    log.With(slog.String("component", "token_handler")),
		maxUpload: maxUploadBytes,
	}
}

// Submit handles POST /api/tokens.
func (h *TokenHandler) Submit(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	artifact, claimedOwner, err := readSubmission(w, r, h.maxUpload)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to read submission")
		return
	}
	ownerID, err := resolveOwner(r, claimedOwner)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	rec, err := h.tokens.Submit(r.Context(), ownerID, artifact)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to submit artifact")
		return
	}

	log.Debug("submission accepted",
		slog.String("token", rec.Token),
		slog.String("filename", artifact.Filename),
		slog.Int("size", artifact.Size()))

	// 202: the analysis runs in the background.
	shared.RespondWithJSON(w, r, http.StatusAccepted, SubmitTokenResponse{
		Token:     rec.Token,
		Status:    rec.Status,
		ExpiresAt: rec.ExpiresAt,
	})
}

// GetStatus handles GET /api/tokens/{token}.
func (h *TokenHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	token, err := getPathToken(r)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	rec, err := h.owned(r, token)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get token status")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, tokenToResponse(rec))
}

// Retry handles POST /api/tokens/{token}/retry.
func (h *TokenHandler) Retry(w http.ResponseWriter, r *http.Request) {
	token, err := getPathToken(r)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	allowed, err := h.mayModify(r, token)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to retry token")
		return
	}

	retried := false
	if allowed {
		retried, err = h.tokens.Retry(r.Context(), token)
		if err != nil {
			HandleAPIError(w, r, err, "Failed to retry token")
			return
		}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, RetryTokenResponse{Token: token, Retried: retried})
}

// Cancel handles POST /api/tokens/{token}/cancel.
func (h *TokenHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	token, err := getPathToken(r)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	allowed, err := h.mayModify(r, token)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to cancel token")
		return
	}

	cancelled := false
	if allowed {
		cancelled, err = h.tokens.Cancel(r.Context(), token)
		if err != nil {
			HandleAPIError(w, r, err, "Failed to cancel token")
			return
		}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, CancelTokenResponse{Token: token, Cancelled: cancelled})
}

// owned returns the record for token. An authenticated caller only sees its
// own tokens; anyone else's are reported as not found.
func (h *TokenHandler) owned(r *http.Request, token string) (*domain.TokenRecord, error) {
	rec, err := h.tokens.GetStatus(r.Context(), token)
	if err != nil {
		return nil, err
	}
	if owner, ok := shared.GetOwnerID(r.Context()); ok && owner != rec.OwnerID {
		return nil, store.ErrTokenNotFound
	}
	return rec, nil
}

// mayModify reports whether the caller may retry or cancel token. Without
// authentication every caller may. Missing and foreign tokens both answer
// false so that retry and cancel do not reveal which tokens exist.
func (h *TokenHandler) mayModify(r *http.Request, token string) (bool, error) {
	if _, ok := shared.GetOwnerID(r.Context()); !ok {
		return true, nil
	}
	_, err := h.owned(r, token)
	switch {
	case err == nil:
		return true, nil
	case store.IsNotFoundError(err):
		return false, nil
	default:
		return false, err
	}
}
