// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

// Package audit records user-visible actions on report artifacts. Audit
// writes ride alongside the request that triggered them: a failed write
// is logged but never fails the request itself.
package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/reportus/internal/database"
	"github.com/tomtom215/reportus/internal/logging"
	"github.com/tomtom215/reportus/internal/models"
)

// Resource types referenced by audit events.
const (
	ResourceArtifact   = "artifact"
	ResourceRun        = "execution_run"
	ResourceSchedule   = "schedule"
	ResourceDefinition = "report_definition"
)

// EventStore is the persistence surface the recorder needs. *database.DB
// satisfies it.
type EventStore interface {
	InsertAuditEvent(ctx context.Context, e *models.AuditEvent) error
	ListAuditEvents(ctx context.Context, tenantID string, filter database.AuditFilter, limit int, cursorToken string) ([]models.AuditEvent, string, error)
	CountAuditEventsByType(ctx context.Context, tenantID string, since, until time.Time) (map[string]int64, error)
	SummarizeAuditEvents(ctx context.Context, tenantID string, since, until time.Time) (*database.AuditTotals, error)
}

// complianceSampleSize bounds the event sample in a compliance summary.
const complianceSampleSize = 100

// ComplianceSummary aggregates a tenant's audit activity over a window,
// with a bounded sample of the most recent events.
type ComplianceSummary struct {
	Since           time.Time           `json:"since"`
	Until           time.Time           `json:"until"`
	TotalEvents     int64               `json:"total_events"`
	UniqueUsers     int64               `json:"unique_users"`
	UniqueArtifacts int64               `json:"unique_artifacts"`
	ByType          map[string]int64    `json:"by_type"`
	Events          []models.AuditEvent `json:"events"`
}

// Recorder writes and reads the audit log.
type Recorder struct {
	store  EventStore
	logger zerolog.Logger
}

// NewRecorder creates an audit recorder.
func NewRecorder(store EventStore) *Recorder {
	return &Recorder{
		store:  store,
		logger: logging.WithComponent("audit"),
	}
}

// Record appends one audit event. The userID comes from the request's
// token; data carries event-specific context such as the download URL
// expiry or the share target.
func (r *Recorder) Record(ctx context.Context, tenantID, userID string, eventType models.AuditEventType, resourceType, resourceID string, data models.JSONMap) {
	event := &models.AuditEvent{
		TenantID:     tenantID,
		UserID:       userID,
		EventType:    eventType,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		EventData:    data,
	}
	if err := r.store.InsertAuditEvent(ctx, event); err != nil {
		r.logger.Error().Err(err).
			Str("tenant_id", tenantID).
			Str("event_type", string(eventType)).
			Str("resource_id", resourceID).
			Msg("Failed to record audit event")
	}
}

// List returns one page of a tenant's audit events.
func (r *Recorder) List(ctx context.Context, tenantID string, filter database.AuditFilter, limit int, cursor string) ([]models.AuditEvent, string, error) {
	return r.store.ListAuditEvents(ctx, tenantID, filter, limit, cursor)
}

// Summary returns per-event-type counts for a tenant over a window.
func (r *Recorder) Summary(ctx context.Context, tenantID string, since, until time.Time) (map[string]int64, error) {
	return r.store.CountAuditEventsByType(ctx, tenantID, since, until)
}

// Compliance builds the full compliance summary for a window: totals,
// per-type counts, and the latest events.
func (r *Recorder) Compliance(ctx context.Context, tenantID string, since, until time.Time) (*ComplianceSummary, error) {
	totals, err := r.store.SummarizeAuditEvents(ctx, tenantID, since, until)
	if err != nil {
		return nil, err
	}
	byType, err := r.store.CountAuditEventsByType(ctx, tenantID, since, until)
	if err != nil {
		return nil, err
	}
	events, _, err := r.store.ListAuditEvents(ctx, tenantID,
		database.AuditFilter{Since: since, Until: until}, complianceSampleSize, "")
	if err != nil {
		return nil, err
	}
	return &ComplianceSummary{
		Since:           since,
		Until:           until,
		TotalEvents:     totals.TotalEvents,
		UniqueUsers:     totals.UniqueUsers,
		UniqueArtifacts: totals.UniqueArtifacts,
		ByType:          byType,
		Events:          events,
	}, nil
}
