// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/reportus/internal/audit"
	"github.com/tomtom215/reportus/internal/database"
)

// ListAuditEvents handles GET /v1/audit/activity. Query parameters
// event_type, resource_type, resource_id, user_id, since and until
// (RFC 3339) narrow the listing.
func (h *Handler) ListAuditEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := database.AuditFilter{
		EventType:    q.Get("event_type"),
		ResourceType: q.Get("resource_type"),
		ResourceID:   q.Get("resource_id"),
		UserID:       q.Get("user_id"),
	}

	var err error
	if filter.Since, err = parseTimeParam(q.Get("since")); err != nil {
		h.rw.BadRequest(w, r, "since must be an RFC 3339 timestamp")
		return
	}
	if filter.Until, err = parseTimeParam(q.Get("until")); err != nil {
		h.rw.BadRequest(w, r, "until must be an RFC 3339 timestamp")
		return
	}

	limit, cursor := pageParams(r, h.apiCfg)
	events, next, err := h.auditor.List(r.Context(), tenantID(r), filter, limit, cursor)
	if err != nil {
		h.rw.InternalError(w, r, err)
		return
	}
	h.rw.SuccessWithPagination(w, r, events, pagination(len(events), limit, next))
}

// ListArtifactAudit handles GET /v1/artifacts/{id}/audit, the audit
// trail of one artifact.
func (h *Handler) ListArtifactAudit(w http.ResponseWriter, r *http.Request) {
	filter := database.AuditFilter{
		ResourceType: audit.ResourceArtifact,
		ResourceID:   chi.URLParam(r, "id"),
	}

	limit, cursor := pageParams(r, h.apiCfg)
	events, next, err := h.auditor.List(r.Context(), tenantID(r), filter, limit, cursor)
	if err != nil {
		h.rw.InternalError(w, r, err)
		return
	}
	h.rw.SuccessWithPagination(w, r, events, pagination(len(events), limit, next))
}

// GetComplianceReport handles GET /v1/audit/compliance. It summarizes a
// tenant's audit activity over a window, defaulting to the trailing 30
// days: totals, unique users and artifacts, per-type counts, and a
// sample of the latest events.
func (h *Handler) GetComplianceReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	since, err := parseTimeParam(q.Get("since"))
	if err != nil {
		h.rw.BadRequest(w, r, "since must be an RFC 3339 timestamp")
		return
	}
	until, err := parseTimeParam(q.Get("until"))
	if err != nil {
		h.rw.BadRequest(w, r, "until must be an RFC 3339 timestamp")
		return
	}
	if until.IsZero() {
		until = h.now().UTC()
	}
	if since.IsZero() {
		since = until.AddDate(0, 0, -30)
	}
	if !since.Before(until) {
		h.rw.BadRequest(w, r, "since must be before until")
		return
	}

	summary, err := h.auditor.Compliance(r.Context(), tenantID(r), since, until)
	if err != nil {
		h.rw.InternalError(w, r, err)
		return
	}
	h.rw.Success(w, r, summary)
}

func parseTimeParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", raw, err)
	}
	return t.UTC(), nil
}
