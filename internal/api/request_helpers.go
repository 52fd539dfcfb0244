package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/shotstudio/internal/api/shared"
	"github.com/phrazzld/shotstudio/internal/auth"
	"github.com/phrazzld/shotstudio/internal/orchestrator"
	"github.com/phrazzld/shotstudio/internal/platform/logger"
)

// getSessionFromContext extracts the session ID placed in the request context
// by the session middleware.
func getSessionFromContext(r *http.Request) (string, bool) {
	return shared.SessionID(r.Context())
}

// getPathID extracts a non-empty path parameter.
func getPathID(r *http.Request, paramName string) (string, error) {
	id := chi.URLParam(r, paramName)
	if id == "" {
		return "", fmt.Errorf("%w: %s is required", orchestrator.ErrInvalidRequest, paramName)
	}
	return id, nil
}

// requireSession writes a 401 and returns false when the request carries no
// authenticated session.
func requireSession(w http.ResponseWriter, r *http.Request, log *slog.Logger) (string, bool) {
	if log == nil {
		log = logger.FromContextOrDefault(r.Context(), slog.Default())
	}

	session, ok := getSessionFromContext(r)
	if !ok {
		log.Warn("session ID not found in request context")
		HandleAPIError(w, r, auth.ErrMissingToken, "")
		return "", false
	}
	return session, true
}
