package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/phrazzld/shotstudio/internal/api/shared"
	"github.com/phrazzld/shotstudio/internal/auth"
	"github.com/phrazzld/shotstudio/internal/platform/logger"
)

// TokenValidator validates session tokens. *auth.SessionTokens satisfies it.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*auth.Claims, error)
}

// SessionMiddleware authenticates requests by their session token.
type SessionMiddleware struct {
	tokens TokenValidator
}

// NewSessionMiddleware creates a SessionMiddleware.
func NewSessionMiddleware(tokens TokenValidator) *SessionMiddleware {
	return &SessionMiddleware{tokens: tokens}
}

// Authenticate validates the Bearer token of the request and stores its
// session ID in the request context.
func (m *SessionMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Authorization header required")
			return
		}

		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid authorization format")
			return
		}

		claims, err := m.tokens.Validate(r.Context(), token)
		switch {
		case err == nil:
		case errors.Is(err, auth.ErrExpiredToken):
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Session expired")
			return
		case errors.Is(err, auth.ErrInvalidToken),
			errors.Is(err, auth.ErrWrongTokenType),
			errors.Is(err, auth.ErrTokenNotYetValid),
			errors.Is(err, auth.ErrMissingToken):
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid session token")
			return
		default:
			shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Authentication error", err)
			return
		}

		ctx := shared.WithSessionID(r.Context(), claims.SessionID)
		ctx = logger.WithLogger(ctx, logger.FromContext(ctx).With("session", claims.SessionID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
