package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/phrazzld/assay-api/internal/api/shared"
	"github.com/phrazzld/assay-api/internal/config"
	"github.com/phrazzld/assay-api/internal/platform/logger"
	"github.com/phrazzld/assay-api/internal/redact"
)

// MinSecretLength is the shortest accepted HMAC signing secret.
const MinSecretLength = 32

// ErrMissingSubject is returned for a valid token without a subject claim.
var ErrMissingSubject = errors.New("token has no subject")

// Authenticator verifies HS256 bearer tokens and exposes the subject as the
// owner of every token the caller submits or reads.
type Authenticator struct {
	signingKey []byte
	clockSkew  time.Duration
	timeFunc   func() time.Time
}

// NewAuthenticator creates an Authenticator from the auth configuration.
func NewAuthenticator(cfg config.AuthConfig) (*Authenticator, error) {
	if len(cfg.JWTSecret) < MinSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d characters", MinSecretLength)
	}
	return &Authenticator{
		signingKey: []byte(cfg.JWTSecret),
		clockSkew:  2 * time.Minute,
		timeFunc:   time.Now,
	}, nil
}

// IssueToken signs a token for subject that expires after lifetime.
func (a *Authenticator) IssueToken(subject string, lifetime time.Duration) (string, error) {
	if subject == "" {
		return "", ErrMissingSubject
	}
	now := a.timeFunc()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses tokenString and returns its subject.
func (a *Authenticator) ValidateToken(tokenString string) (string, error) {
	now := a.timeFunc()
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(*jwt.Token) (any, error) { return a.signingKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithLeeway(a.clockSkew),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", ErrMissingSubject
	}
	return claims.Subject, nil
}

// Authenticate rejects requests without a valid bearer token and stores the
// token subject as the owner id in the request context.
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Authorization header required")
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid authorization format")
			return
		}

		subject, err := a.ValidateToken(token)
		if err != nil {
			message := "Invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				message = "Token expired"
			}
			logger.FromContextOrDefault(r.Context(), slog.Default()).Debug("bearer token rejected",
				slog.String("error", redact.Error(err)))
			shared.RespondWithError(w, r, http.StatusUnauthorized, message)
			return
		}

		next.ServeHTTP(w, r.WithContext(shared.WithOwnerID(r.Context(), subject)))
	})
}
