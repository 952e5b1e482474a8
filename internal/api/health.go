// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

package api

import (
	"context"
	"net/http"
	"time"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to the Pinger interface.
type PingFunc func(ctx context.Context) error

// Ping calls the function.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	rw     *ResponseWriter
	checks map[string]Pinger
}

// NewHealthHandler creates a health handler over the named dependency
// checks. Readiness fails if any check fails; liveness never checks
// dependencies.
func NewHealthHandler(checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{rw: NewResponseWriter(), checks: checks}
}

// Live handles GET /health/live.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	h.rw.Success(w, r, map[string]string{"status": "ok"})
}

// Ready handles GET /health/ready. Each dependency gets a short budget
// so a wedged dependency cannot hang the probe.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := make(map[string]string, len(h.checks))
	healthy := true
	for name, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			status[name] = err.Error()
			healthy = false
		} else {
			status[name] = "ok"
		}
	}

	if !healthy {
		h.rw.writeJSON(w, r, http.StatusServiceUnavailable, APIResponse{
			Success: false,
			Data:    status,
			Error:   &APIError{Code: "NOT_READY", Message: "One or more dependencies are unavailable"},
		})
		return
	}
	h.rw.Success(w, r, status)
}
