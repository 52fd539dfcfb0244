package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/phrazzld/shotstudio/internal/api/shared"
	"github.com/phrazzld/shotstudio/internal/auth"
	"github.com/phrazzld/shotstudio/internal/config"
	"github.com/phrazzld/shotstudio/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// echoSession writes the session ID found in the request context.
var echoSession = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.SessionID(r.Context())
	_, _ = io.WriteString(w, id)
})

type validatorFunc func(ctx context.Context, token string) (*auth.Claims, error)

func (f validatorFunc) Validate(ctx context.Context, token string) (*auth.Claims, error) {
	return f(ctx, token)
}

func TestSessionMiddleware(t *testing.T) {
	t.Parallel()

	tokens, err := auth.NewSessionTokens(config.AuthConfig{
		JWTSecret:              "test-secret-that-is-at-least-32-characters-long",
		SessionLifetimeMinutes: 60,
	})
	require.NoError(t, err)
	valid, claims, err := tokens.Issue(context.Background())
	require.NoError(t, err)

	handler := NewSessionMiddleware(tokens).Authenticate(echoSession)

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{"valid token", "Bearer " + valid, http.StatusOK, claims.SessionID},
		{"lowercase scheme", "bearer " + valid, http.StatusOK, claims.SessionID},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, ""},
		{"no token", "Bearer ", http.StatusUnauthorized, ""},
		{"garbage token", "Bearer abc.def.ghi", http.StatusUnauthorized, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/generations", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tc.wantStatus, w.Code)
			if tc.wantStatus == http.StatusOK {
				assert.Equal(t, tc.wantBody, w.Body.String())
			}
		})
	}
}

func TestSessionMiddlewareErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{"expired", auth.ErrExpiredToken, http.StatusUnauthorized, "Session expired"},
		{"wrong type", auth.ErrWrongTokenType, http.StatusUnauthorized, "Invalid session token"},
		{"unexpected", errors.New("keystore offline"), http.StatusInternalServerError, "Authentication error"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mw := NewSessionMiddleware(validatorFunc(func(context.Context, string) (*auth.Claims, error) {
				return nil, tc.err
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer token")
			w := httptest.NewRecorder()
			mw.Authenticate(echoSession).ServeHTTP(w, req)

			assert.Equal(t, tc.wantStatus, w.Code)
			var body shared.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tc.wantMsg, body.Error)
		})
	}
}

func TestTraceMiddleware(t *testing.T) {
	t.Parallel()

	var traceID string
	var hasLogger bool
	fallback := testLogger()
	handler := NewTraceMiddleware(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = shared.GetTraceID(r.Context())
		hasLogger = logger.FromContextOrDefault(r.Context(), fallback) != fallback
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Len(t, traceID, 2*shared.TraceIDLength)
	assert.Equal(t, traceID, w.Header().Get("X-Trace-ID"))
	assert.True(t, hasLogger)
}

type stubLimiter struct {
	allowed map[string]int
	limit   int
	err     error
}

func (s *stubLimiter) Allow(_ context.Context, key string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	s.allowed[key]++
	return s.allowed[key] <= s.limit, nil
}

func (s *stubLimiter) Limit() int { return s.limit }

func TestSessionRateLimit(t *testing.T) {
	t.Parallel()

	send := func(h http.Handler, session string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/generations", nil)
		if session != "" {
			req = req.WithContext(shared.WithSessionID(req.Context(), session))
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	t.Run("limits each session separately", func(t *testing.T) {
		limited := 0
		limiter := &stubLimiter{allowed: map[string]int{}, limit: 2}
		h := SessionRateLimit(limiter, func() { limited++ })(echoSession)

		assert.Equal(t, http.StatusOK, send(h, "a"))
		assert.Equal(t, http.StatusOK, send(h, "a"))
		assert.Equal(t, http.StatusTooManyRequests, send(h, "a"))
		assert.Equal(t, http.StatusOK, send(h, "b"))
		assert.Equal(t, 1, limited)
	})

	t.Run("limiter outage lets requests through", func(t *testing.T) {
		limiter := &stubLimiter{err: errors.New("redis down"), limit: 1}
		h := SessionRateLimit(limiter, nil)(echoSession)

		assert.Equal(t, http.StatusOK, send(h, "a"))
		assert.Equal(t, http.StatusOK, send(h, "a"))
	})

	t.Run("requests without a session pass", func(t *testing.T) {
		limiter := &stubLimiter{allowed: map[string]int{}, limit: 0}
		h := SessionRateLimit(limiter, nil)(echoSession)

		assert.Equal(t, http.StatusOK, send(h, ""))
	})
}
