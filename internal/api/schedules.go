// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/reportus/internal/models"
)

// CreateSchedule handles POST /v1/schedules.
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req CreateScheduleRequest
	if !decodeJSON(h.rw, w, r, &req) {
		return
	}

	sched := &models.Schedule{
		TenantID:           tenantID(r),
		ReportDefinitionID: req.ReportDefinitionID,
		Name:               req.Name,
		CronExpression:     req.CronExpression,
		Timezone:           req.Timezone,
		EmailDelivery:      req.EmailDelivery.toModel(),
		CreatedBy:          userID(r),
	}
	if err := h.schedules.CreateSchedule(r.Context(), sched); err != nil {
		h.writeScheduleError(w, r, err)
		return
	}
	h.rw.Created(w, r, sched)
}

// GetSchedule handles GET /v1/schedules/{id}.
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := h.schedules.GetSchedule(r.Context(), tenantID(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeScheduleError(w, r, err)
		return
	}
	h.rw.Success(w, r, sched)
}

// ListSchedules handles GET /v1/schedules. The optional is_active query
// parameter filters by activation state.
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	limit, cursor := pageParams(r, h.apiCfg)

	var isActive *bool
	switch r.URL.Query().Get("is_active") {
	case "":
	case "true":
		v := true
		isActive = &v
	case "false":
		v := false
		isActive = &v
	default:
		h.rw.BadRequest(w, r, "is_active must be true or false")
		return
	}

	scheds, next, err := h.schedules.ListSchedules(r.Context(), tenantID(r), isActive, limit, cursor)
	if err != nil {
		h.rw.InternalError(w, r, err)
		return
	}
	h.rw.SuccessWithPagination(w, r, scheds, pagination(len(scheds), limit, next))
}

// UpdateSchedule handles PUT /v1/schedules/{id}.
func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var req UpdateScheduleRequest
	if !decodeJSON(h.rw, w, r, &req) {
		return
	}

	existing, err := h.schedules.GetSchedule(r.Context(), tenantID(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeScheduleError(w, r, err)
		return
	}

	// Absent fields keep their stored values.
	sched := &models.Schedule{
		ID:                 existing.ID,
		TenantID:           existing.TenantID,
		ReportDefinitionID: existing.ReportDefinitionID,
		Name:               existing.Name,
		CronExpression:     existing.CronExpression,
		Timezone:           existing.Timezone,
		IsActive:           existing.IsActive,
		EmailDelivery:      existing.EmailDelivery,
	}
	if req.Name != nil {
		sched.Name = *req.Name
	}
	if req.CronExpression != nil {
		sched.CronExpression = *req.CronExpression
	}
	if req.Timezone != nil {
		sched.Timezone = *req.Timezone
	}
	if req.IsActive != nil {
		sched.IsActive = *req.IsActive
	}
	if req.EmailDelivery != nil {
		sched.EmailDelivery = req.EmailDelivery.toModel()
	}
	if err := h.schedules.UpdateSchedule(r.Context(), sched); err != nil {
		h.writeScheduleError(w, r, err)
		return
	}
	h.rw.Success(w, r, sched)
}

// DeleteSchedule handles DELETE /v1/schedules/{id}. Runs already in
// flight for the schedule finish normally.
func (h *Handler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := h.schedules.DeleteSchedule(r.Context(), tenantID(r), chi.URLParam(r, "id")); err != nil {
		h.writeScheduleError(w, r, err)
		return
	}
	h.rw.NoContent(w, r)
}

// PauseSchedule handles PATCH /v1/schedules/{id}/pause. The paused
// schedule keeps its stale NextRunAt; the scan loop skips inactive
// schedules.
func (h *Handler) PauseSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := h.schedules.PauseSchedule(r.Context(), tenantID(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeScheduleError(w, r, err)
		return
	}
	h.rw.Success(w, r, sched)
}

// ResumeSchedule handles PATCH /v1/schedules/{id}/resume. The next run
// is recomputed from now, so fires missed while paused are not replayed.
func (h *Handler) ResumeSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := h.schedules.ResumeSchedule(r.Context(), tenantID(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeScheduleError(w, r, err)
		return
	}
	h.rw.Success(w, r, sched)
}

// SchedulePreview is the response body of the preview endpoint.
type SchedulePreview struct {
	CronExpression string      `json:"cron_expression"`
	Timezone       string      `json:"timezone"`
	Description    string      `json:"description,omitempty"`
	NextRuns       []time.Time `json:"next_runs"`
}

// PreviewSchedule handles POST /v1/schedules/cron/preview. It validates a
// trigger and returns its upcoming fire times without persisting
// anything, so clients can show the effect of a cron expression before
// saving it.
func (h *Handler) PreviewSchedule(w http.ResponseWriter, r *http.Request) {
	var req PreviewScheduleRequest
	if !decodeJSON(h.rw, w, r, &req) {
		return
	}

	nextRuns, description, err := h.schedules.Preview(req.CronExpression, req.Timezone, req.Count)
	if err != nil {
		h.writeScheduleError(w, r, err)
		return
	}
	h.rw.Success(w, r, SchedulePreview{
		CronExpression: req.CronExpression,
		Timezone:       req.Timezone,
		Description:    description,
		NextRuns:       nextRuns,
	})
}
