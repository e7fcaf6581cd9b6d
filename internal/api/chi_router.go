// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/tastemesh/internal/middleware"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	Middleware     *ChiMiddlewareConfig
	RequestTimeout time.Duration
}

// NewRouter builds the HTTP handler.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	mw := NewChiMiddleware(cfg.Middleware)
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(mw.CORS())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(mw.RateLimitHealth())
		r.Use(middleware.PrometheusMetrics)
		r.Get("/", h.Health)
		r.Get("/live", h.HealthLive)
		r.Get("/ready", h.HealthReady)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.RateLimit())
		r.Use(middleware.PrometheusMetrics)
		r.Use(chimiddleware.Timeout(timeout))

		r.Post("/learn", h.Learn)
		r.Get("/recommend/{userID}", h.Recommend)
		r.Get("/predict/{userID}", h.Predict)
		r.Get("/users/{userID}/preferences", h.UserPreferences)
		r.Get("/users/{userID}/activity", h.UserActivity)
		r.Get("/mesh/status", h.MeshStatus)
		r.Get("/mesh/resolutions", h.MeshResolutions)
		r.Get("/mesh/contexts", h.SharedContexts)
		r.Post("/mesh/contexts", h.ShareContext)
		r.Get("/consensus/decisions", h.ConsensusDecisions)
	})

	r.Handle("/metrics", promhttp.Handler())
	return r
}
