// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/tomtom215/reportus/internal/config"
	"github.com/tomtom215/reportus/internal/logging"
	"github.com/tomtom215/reportus/internal/metrics"
)

// RequestID assigns each request an ID, echoes it in the X-Request-ID
// header, and threads it through the context for logging and the
// response envelope. A client-supplied ID is kept so callers can
// correlate across services.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = logging.GenerateRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := logging.ContextWithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestLogger logs one line per request and records the API request
// metric, labeled by the chi route pattern rather than the raw path so
// cardinality stays bounded.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unmatched"
		}
		duration := time.Since(start)
		metrics.RecordAPIRequest(r.Method, pattern, strconv.Itoa(ww.Status()), duration)

		event := logging.Ctx(r.Context()).Info()
		if ww.Status() >= http.StatusInternalServerError {
			event = logging.Ctx(r.Context()).Error()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", duration).
			Int("bytes", ww.BytesWritten()).
			Msg("Request handled")
	})
}

// RateLimit applies per-client request rate limiting. Authenticated
// requests are keyed by tenant so one tenant cannot starve another
// behind a shared proxy; unauthenticated requests fall back to the
// client IP.
func RateLimit(cfg config.SecurityConfig, rw *ResponseWriter) func(http.Handler) http.Handler {
	if cfg.RateLimitDisabled {
		return func(next http.Handler) http.Handler { return next }
	}

	limit := cfg.RateLimitReqs
	if limit <= 0 {
		limit = 100
	}
	window := cfg.RateLimitWindow
	if window <= 0 {
		window = time.Minute
	}

	return httprate.Limit(limit, window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if tenantID := logging.TenantIDFromContext(r.Context()); tenantID != "" {
				return tenantID, nil
			}
			return httprate.KeyByRealIP(r)
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			metrics.APIRateLimitHits.WithLabelValues(r.URL.Path).Inc()
			rw.TooManyRequests(w, r, ErrCodeRateLimited, "Rate limit exceeded, slow down")
		}),
	)
}
