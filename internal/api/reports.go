// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/reportus/internal/logging"
	"github.com/tomtom215/reportus/internal/models"
)

// CreateReportDefinition handles POST /v1/reports.
func (h *Handler) CreateReportDefinition(w http.ResponseWriter, r *http.Request) {
	var req CreateReportDefinitionRequest
	if !decodeJSON(h.rw, w, r, &req) {
		return
	}

	def := &models.ReportDefinition{
		TenantID:        tenantID(r),
		Name:            req.Name,
		Description:     req.Description,
		QuerySpec:       req.QuerySpec,
		TemplateRef:     req.TemplateRef,
		Format:          models.OutputFormat(req.Format),
		CacheTTLSeconds: req.CacheTTLSeconds,
		DateRangeType:   req.DateRangeType,
		CreatedBy:       userID(r),
	}
	if err := h.store.CreateReportDefinition(r.Context(), def); err != nil {
		h.rw.InternalError(w, r, err)
		return
	}
	h.rw.Created(w, r, def)
}

// GetReportDefinition handles GET /v1/reports/{id}.
func (h *Handler) GetReportDefinition(w http.ResponseWriter, r *http.Request) {
	def, err := h.store.GetReportDefinition(r.Context(), tenantID(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, r, err, "Report definition not found")
		return
	}
	h.rw.Success(w, r, def)
}

// ListReportDefinitions handles GET /v1/reports.
func (h *Handler) ListReportDefinitions(w http.ResponseWriter, r *http.Request) {
	limit, cursor := pageParams(r, h.apiCfg)
	defs, next, err := h.store.ListReportDefinitions(r.Context(), tenantID(r), limit, cursor)
	if err != nil {
		h.rw.InternalError(w, r, err)
		return
	}
	h.rw.SuccessWithPagination(w, r, defs, pagination(len(defs), limit, next))
}

// UpdateReportDefinition handles PUT /v1/reports/{id}. A successful
// update invalidates every cached result derived from the definition, so
// the next run regenerates against the new query and template.
func (h *Handler) UpdateReportDefinition(w http.ResponseWriter, r *http.Request) {
	var req UpdateReportDefinitionRequest
	if !decodeJSON(h.rw, w, r, &req) {
		return
	}

	def := &models.ReportDefinition{
		ID:              chi.URLParam(r, "id"),
		TenantID:        tenantID(r),
		Name:            req.Name,
		Description:     req.Description,
		QuerySpec:       req.QuerySpec,
		TemplateRef:     req.TemplateRef,
		Format:          models.OutputFormat(req.Format),
		CacheTTLSeconds: req.CacheTTLSeconds,
		DateRangeType:   req.DateRangeType,
	}
	if err := h.store.UpdateReportDefinition(r.Context(), def); err != nil {
		h.writeStoreError(w, r, err, "Report definition not found")
		return
	}

	if h.cache != nil {
		if n := h.cache.InvalidateAll(r.Context(), def.ID); n > 0 {
			logging.Ctx(r.Context()).Info().
				Str("definition_id", def.ID).
				Int("entries", n).
				Msg("Invalidated cached results after definition update")
		}
	}
	h.rw.Success(w, r, def)
}
