// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

// Package api implements the tenant-facing HTTP API: report definition
// and schedule management, run and artifact retrieval, manual run
// triggering, and the audit log. All responses share one JSON envelope
// so clients can handle errors and pagination uniformly.
package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/reportus/internal/logging"
)

// APIResponse is the envelope for every response body.
type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
	Meta    *APIMeta  `json:"meta,omitempty"`
}

// APIError carries a machine-readable code alongside the human message.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// APIMeta carries request metadata and, for list endpoints, pagination.
type APIMeta struct {
	RequestID  string          `json:"request_id,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Pagination *PaginationMeta `json:"pagination,omitempty"`
}

// PaginationMeta describes one page of a cursor-paginated collection.
// NextCursor is opaque; clients pass it back verbatim to fetch the next
// page.
type PaginationMeta struct {
	Count      int    `json:"count"`
	Limit      int    `json:"limit"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// Error codes returned in APIError.Code.
const (
	ErrCodeBadRequest      = "BAD_REQUEST"
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeForbidden       = "FORBIDDEN"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeConflict        = "CONFLICT"
	ErrCodeInvalidCron     = "INVALID_CRON"
	ErrCodeInvalidTimezone = "INVALID_TIMEZONE"
	ErrCodeQuotaExceeded   = "QUOTA_EXCEEDED"
	ErrCodeBurstLimited    = "BURST_LIMITED"
	ErrCodeRateLimited     = "RATE_LIMITED"
	ErrCodeInternal        = "INTERNAL_SERVER_ERROR"
)

// ResponseWriter writes enveloped JSON responses.
type ResponseWriter struct{}

// NewResponseWriter creates a response writer.
func NewResponseWriter() *ResponseWriter {
	return &ResponseWriter{}
}

// Success writes a 200 response with data.
func (rw *ResponseWriter) Success(w http.ResponseWriter, r *http.Request, data any) {
	rw.writeJSON(w, r, http.StatusOK, APIResponse{Success: true, Data: data, Meta: rw.meta(r, nil)})
}

// SuccessWithPagination writes a 200 response with data and pagination
// metadata.
func (rw *ResponseWriter) SuccessWithPagination(w http.ResponseWriter, r *http.Request, data any, p *PaginationMeta) {
	rw.writeJSON(w, r, http.StatusOK, APIResponse{Success: true, Data: data, Meta: rw.meta(r, p)})
}

// Created writes a 201 response with the created resource.
func (rw *ResponseWriter) Created(w http.ResponseWriter, r *http.Request, data any) {
	rw.writeJSON(w, r, http.StatusCreated, APIResponse{Success: true, Data: data, Meta: rw.meta(r, nil)})
}

// Accepted writes a 202 response for work queued but not yet done.
func (rw *ResponseWriter) Accepted(w http.ResponseWriter, r *http.Request, data any) {
	rw.writeJSON(w, r, http.StatusAccepted, APIResponse{Success: true, Data: data, Meta: rw.meta(r, nil)})
}

// NoContent writes a 204 response.
func (rw *ResponseWriter) NoContent(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// BadRequest writes a 400 response.
func (rw *ResponseWriter) BadRequest(w http.ResponseWriter, r *http.Request, message string) {
	rw.writeError(w, r, http.StatusBadRequest, ErrCodeBadRequest, message, nil)
}

// ValidationError writes a 400 response with per-field details.
func (rw *ResponseWriter) ValidationError(w http.ResponseWriter, r *http.Request, details any) {
	rw.writeError(w, r, http.StatusBadRequest, ErrCodeValidation, "Request validation failed", details)
}

// Unauthorized writes a 401 response.
func (rw *ResponseWriter) Unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	rw.writeError(w, r, http.StatusUnauthorized, ErrCodeUnauthorized, message, nil)
}

// Forbidden writes a 403 response.
func (rw *ResponseWriter) Forbidden(w http.ResponseWriter, r *http.Request, message string) {
	rw.writeError(w, r, http.StatusForbidden, ErrCodeForbidden, message, nil)
}

// NotFound writes a 404 response.
func (rw *ResponseWriter) NotFound(w http.ResponseWriter, r *http.Request, message string) {
	rw.writeError(w, r, http.StatusNotFound, ErrCodeNotFound, message, nil)
}

// Conflict writes a 409 response.
func (rw *ResponseWriter) Conflict(w http.ResponseWriter, r *http.Request, message string) {
	rw.writeError(w, r, http.StatusConflict, ErrCodeConflict, message, nil)
}

// BadRequestCode writes a 400 response with an explicit error code, used
// for domain validation failures such as a bad cron expression.
func (rw *ResponseWriter) BadRequestCode(w http.ResponseWriter, r *http.Request, code, message string) {
	rw.writeError(w, r, http.StatusBadRequest, code, message, nil)
}

// TooManyRequests writes a 429 response with an explicit error code.
func (rw *ResponseWriter) TooManyRequests(w http.ResponseWriter, r *http.Request, code, message string) {
	rw.writeError(w, r, http.StatusTooManyRequests, code, message, nil)
}

// InternalError writes a 500 response. The underlying error is logged,
// never sent to the client.
func (rw *ResponseWriter) InternalError(w http.ResponseWriter, r *http.Request, err error) {
	logging.Ctx(r.Context()).Error().Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg("Request failed with internal error")
	rw.writeError(w, r, http.StatusInternalServerError, ErrCodeInternal, "An internal error occurred", nil)
}

func (rw *ResponseWriter) meta(r *http.Request, p *PaginationMeta) *APIMeta {
	return &APIMeta{
		RequestID:  logging.RequestIDFromContext(r.Context()),
		Timestamp:  time.Now().UTC(),
		Pagination: p,
	}
}

func (rw *ResponseWriter) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	rw.writeJSON(w, r, status, APIResponse{
		Success: false,
		Error: &APIError{
			Code:      code,
			Message:   message,
			Details:   details,
			RequestID: logging.RequestIDFromContext(r.Context()),
		},
		Meta: rw.meta(r, nil),
	})
}

func (rw *ResponseWriter) writeJSON(w http.ResponseWriter, r *http.Request, status int, body APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to encode response body")
	}
}
