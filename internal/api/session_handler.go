package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/phrazzld/shotstudio/internal/api/shared"
	"github.com/phrazzld/shotstudio/internal/auth"
	"github.com/phrazzld/shotstudio/internal/platform/logger"
)

// SessionIssuer issues and renews session tokens. *auth.SessionTokens
// satisfies it.
type SessionIssuer interface {
	Issue(ctx context.Context) (string, *auth.Claims, error)
	Renew(ctx context.Context, sessionID string) (string, *auth.Claims, error)
}

// SessionHandler handles session token requests.
type SessionHandler struct {
	tokens SessionIssuer
	logger *slog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(tokens SessionIssuer, logger *slog.Logger) *SessionHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for SessionHandler")
	}
	return &SessionHandler{
		tokens: tokens,
		logger: logger.With(slog.String("component", "session_handler")),
	}
}

// Create handles POST /sessions. It starts a new anonymous session.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	token, claims, err := h.tokens.Issue(r.Context())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to start session")
		return
	}

	log.Info("session started", slog.String("session", claims.SessionID))
	shared.RespondWithJSON(w, r, http.StatusCreated, SessionResponse{
		SessionID: claims.SessionID,
		Token:     token,
		ExpiresAt: claims.ExpiresAt,
	})
}

// Refresh handles POST /sessions/refresh. It renews the token of the
// authenticated session, keeping its ID so tasks and hints stay reachable.
func (h *SessionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	session, ok := requireSession(w, r, log)
	if !ok {
		return
	}

	token, claims, err := h.tokens.Renew(r.Context(), session)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to refresh session")
		return
	}

	log.Debug("session renewed", slog.Time("expires_at", claims.ExpiresAt))
	shared.RespondWithJSON(w, r, http.StatusOK, SessionResponse{
		SessionID: claims.SessionID,
		Token:     token,
		ExpiresAt: claims.ExpiresAt,
	})
}
