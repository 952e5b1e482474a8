// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tomtom215/reportus/internal/burst"
	"github.com/tomtom215/reportus/internal/logging"
	"github.com/tomtom215/reportus/internal/models"
)

// ListExecutionRuns handles GET /v1/runs. The optional schedule_id
// query parameter narrows the listing to one schedule's runs.
func (h *Handler) ListExecutionRuns(w http.ResponseWriter, r *http.Request) {
	limit, cursor := pageParams(r, h.apiCfg)
	scheduleID := r.URL.Query().Get("schedule_id")

	runs, next, err := h.store.ListExecutionRuns(r.Context(), tenantID(r), scheduleID, limit, cursor)
	if err != nil {
		h.rw.InternalError(w, r, err)
		return
	}
	h.rw.SuccessWithPagination(w, r, runs, pagination(len(runs), limit, next))
}

// GetExecutionRun handles GET /v1/runs/{id}.
func (h *Handler) GetExecutionRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.store.GetExecutionRun(r.Context(), tenantID(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, r, err, "Execution run not found")
		return
	}
	h.rw.Success(w, r, run)
}

// RunNow handles POST /v1/runs. It triggers an immediate manual run
// of a report definition, subject to the same burst limits as scheduled
// runs, and returns the pending run for the client to poll.
func (h *Handler) RunNow(w http.ResponseWriter, r *http.Request) {
	var req RunNowRequest
	if !decodeJSON(h.rw, w, r, &req) {
		return
	}
	tenant := tenantID(r)

	if _, err := h.store.GetReportDefinition(r.Context(), tenant, req.ReportDefinitionID); err != nil {
		h.writeStoreError(w, r, err, "Report definition not found")
		return
	}

	if scope := h.limiter.Admit(r.Context(), tenant); scope != burst.ScopeNone {
		msg := "Tenant concurrency limit reached, retry shortly"
		if scope == burst.ScopeGlobal {
			msg = "Platform is at capacity, retry shortly"
		}
		h.rw.TooManyRequests(w, r, ErrCodeBurstLimited, msg)
		return
	}

	run := &models.ExecutionRun{
		TenantID:           tenant,
		ReportDefinitionID: req.ReportDefinitionID,
		Status:             models.RunPending,
		Metadata: models.JSONMap{
			"trigger":      "manual",
			"triggered_by": userID(r),
		},
	}
	if err := h.store.CreateExecutionRun(r.Context(), run); err != nil {
		h.limiter.Release(r.Context(), tenant)
		h.rw.InternalError(w, r, err)
		return
	}

	task := models.TaskDescriptor{
		TaskID:             uuid.New().String(),
		TenantID:           tenant,
		ExecutionRunID:     run.ID,
		ReportDefinitionID: req.ReportDefinitionID,
		EmailDelivery:      req.EmailDelivery.toModel(),
		EnqueuedAt:         h.now().UTC(),
	}
	if err := h.publisher.PublishReportTask(r.Context(), task); err != nil {
		// A pending run with no task behind it would wait forever.
		if ferr := h.store.FailExecutionRun(r.Context(), tenant, run.ID, h.now().UTC(), "failed to enqueue task"); ferr != nil {
			logging.Ctx(r.Context()).Error().Err(ferr).
				Str("run_id", run.ID).
				Msg("Failed to mark unenqueued run as failed")
		}
		h.limiter.Release(r.Context(), tenant)
		h.rw.InternalError(w, r, err)
		return
	}

	h.rw.Accepted(w, r, run)
}
