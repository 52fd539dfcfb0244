package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/shotstudio/internal/api"
	apiMiddleware "github.com/phrazzld/shotstudio/internal/api/middleware"
	"github.com/phrazzld/shotstudio/internal/api/shared"
)

const healthCheckTimeout = 2 * time.Second

// setupRouter creates and configures the application router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(app.logger))

	sessionHandler := api.NewSessionHandler(app.sessions, app.logger)
	generationHandler := api.NewGenerationHandler(app.generations, app.logger)
	sessionMiddleware := apiMiddleware.NewSessionMiddleware(app.sessions)

	r.Route("/api", func(r chi.Router) {
		// Session endpoints (public)
		r.Post("/sessions", sessionHandler.Create)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(sessionMiddleware.Authenticate)
			r.Post("/sessions/refresh", sessionHandler.Refresh)

			// Generation endpoints
			r.With(app.submitLimit()).Post("/generations", generationHandler.Create)
			r.Get("/generations", generationHandler.List)
			r.Get("/generations/{id}", generationHandler.Get)
			r.Delete("/generations", generationHandler.Reset)

			// Recovery endpoints
			r.Get("/recovery", generationHandler.Resume)
			r.Get("/recovery/poll", generationHandler.Poll)

			r.Get("/quota", generationHandler.Quota)
		})
	})

	if app.images != nil {
		r.Handle("/images/*", http.StripPrefix("/images/", app.images))
	}
	if app.metrics != nil {
		r.Handle("/metrics", app.metrics.Handler())
	}
	r.Get("/health", app.health)

	return r
}

// submitLimit rate limits generation submissions per session. Without a
// limiter it passes every request.
func (app *application) submitLimit() func(http.Handler) http.Handler {
	if app.limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	onLimited := func() {}
	if app.metrics != nil {
		onLimited = app.metrics.RateLimited.Inc
	}
	return apiMiddleware.SessionRateLimit(app.limiter, onLimited)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// health reports 503 when any backing service is unreachable.
func (app *application) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(app.checks))}
	status := http.StatusOK
	for _, c := range app.checks {
		if err := c.check(ctx); err != nil {
			app.logger.WarnContext(ctx, "health check failed", "check", c.name, "error", err)
			resp.Checks[c.name] = "unavailable"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[c.name] = "ok"
	}
	shared.RespondWithJSON(w, r, status, resp)
}
