package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/phrazzld/shotstudio/internal/api/shared"
	"github.com/phrazzld/shotstudio/internal/platform/logger"
)

// Limiter decides whether one more event is allowed for key.
// *redis.RateLimiter satisfies it.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Limit() int
}

// SessionRateLimit rejects requests of sessions over their limit with 429.
// It must run after the session middleware. Limiter failures let the
// request through. onLimited, if set, is called for every rejection.
func SessionRateLimit(limiter Limiter, onLimited func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, ok := shared.SessionID(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			allowed, err := limiter.Allow(r.Context(), session)
			if err != nil {
				logger.FromContext(r.Context()).Warn("rate limiter unavailable, allowing request", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				if onLimited != nil {
					onLimited()
				}
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
				w.Header().Set("Retry-After", "60")
				shared.RespondWithErrorAndLog(w, r, http.StatusTooManyRequests,
					"Too many generation requests, try again later", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
