// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/reportus/internal/config"
)

// NewRouter assembles the HTTP routes. Health probes and metrics are
// unauthenticated; everything under /v1 requires a tenant token.
func NewRouter(h *Handler, health *HealthHandler, tokens *TokenManager, cfg config.SecurityConfig) http.Handler {
	rw := NewResponseWriter()

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(RequestLogger)

	r.Get("/health", health.Live)
	r.Get("/health/live", health.Live)
	r.Get("/health/ready", health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(tokens.Authenticate(rw))
		r.Use(RateLimit(cfg, rw))

		r.Route("/reports", func(r chi.Router) {
			r.Post("/", h.CreateReportDefinition)
			r.Get("/", h.ListReportDefinitions)
			r.Get("/{id}", h.GetReportDefinition)
			r.Put("/{id}", h.UpdateReportDefinition)
		})

		r.Route("/schedules", func(r chi.Router) {
			r.Post("/", h.CreateSchedule)
			r.Get("/", h.ListSchedules)
			r.Post("/cron/preview", h.PreviewSchedule)
			r.Get("/{id}", h.GetSchedule)
			r.Put("/{id}", h.UpdateSchedule)
			r.Delete("/{id}", h.DeleteSchedule)
			r.Patch("/{id}/pause", h.PauseSchedule)
			r.Patch("/{id}/resume", h.ResumeSchedule)
		})

		r.Route("/runs", func(r chi.Router) {
			r.Post("/", h.RunNow)
			r.Get("/", h.ListExecutionRuns)
			r.Get("/{id}", h.GetExecutionRun)
			r.Get("/{id}/artifact", h.GetRunArtifact)
		})

		r.Route("/artifacts", func(r chi.Router) {
			r.Get("/{id}", h.GetArtifact)
			r.Post("/{id}/download", h.DownloadArtifact)
			r.Post("/{id}/share", h.ShareArtifact)
			r.Get("/{id}/deliveries", h.ListArtifactDeliveries)
			r.Get("/{id}/audit", h.ListArtifactAudit)
		})

		r.Route("/audit", func(r chi.Router) {
			r.Get("/activity", h.ListAuditEvents)
			r.Get("/compliance", h.GetComplianceReport)
		})
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		rw.NotFound(w, req, "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		rw.writeError(w, req, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed", nil)
	})

	return r
}
