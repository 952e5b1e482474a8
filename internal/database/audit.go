// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

// audit.go - Append-only audit event repository

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/reportus/internal/models"
)

const auditEventColumns = `
	id, tenant_id, user_id, event_type, resource_type, resource_id,
	event_data, created_at`

// InsertAuditEvent appends an audit event. Events are never updated or
// deleted except by the retention sweeper.
func (db *DB) InsertAuditEvent(ctx context.Context, e *models.AuditEvent) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.CreatedAt = time.Now().UTC()

	dataJSON, err := e.EventData.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal event_data: %w", err)
	}

	query := `
		INSERT INTO audit_event (
			id, tenant_id, user_id, event_type, resource_type, resource_id,
			event_data, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = db.conn.ExecContext(ctx, query,
		e.ID,
		e.TenantID,
		e.UserID,
		string(e.EventType),
		e.ResourceType,
		e.ResourceID,
		nullableJSON(dataJSON),
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// AuditFilter narrows audit listings. Zero values mean no filtering.
type AuditFilter struct {
	EventType    string
	ResourceType string
	ResourceID   string
	UserID       string
	Since        time.Time
	Until        time.Time
}

// ListAuditEvents returns one page of a tenant's audit events ordered by
// (created_at DESC, id DESC).
func (db *DB) ListAuditEvents(ctx context.Context, tenantID string, filter AuditFilter, limit int, cursorToken string) ([]models.AuditEvent, string, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT` + auditEventColumns + ` FROM audit_event WHERE tenant_id = $1`
	args := []any{tenantID}

	addArg := func(clause string, val any) {
		args = append(args, val)
		query += fmt.Sprintf(clause, len(args))
	}

	if filter.EventType != "" {
		addArg(` AND event_type = $%d`, filter.EventType)
	}
	if filter.ResourceType != "" {
		addArg(` AND resource_type = $%d`, filter.ResourceType)
	}
	if filter.ResourceID != "" {
		addArg(` AND resource_id = $%d`, filter.ResourceID)
	}
	if filter.UserID != "" {
		addArg(` AND user_id = $%d`, filter.UserID)
	}
	if !filter.Since.IsZero() {
		addArg(` AND created_at >= $%d`, filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		addArg(` AND created_at < $%d`, filter.Until.UTC())
	}
	if c, ok := DecodeCursor(cursorToken); ok {
		args = append(args, c.CreatedAt, c.ID)
		query += fmt.Sprintf(` AND (created_at, id) < ($%d, $%d)`, len(args)-1, len(args))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT %d`, limit+1)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	events := make([]models.AuditEvent, 0, limit)
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return nil, "", err
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	next := ""
	if len(events) > limit {
		events = events[:limit]
		last := events[limit-1]
		next = Cursor{CreatedAt: last.CreatedAt, ID: last.ID}.Encode()
	}
	return events, next, nil
}

// CountAuditEventsByType returns how many audit events of each type a
// tenant accumulated in the window, for compliance reporting.
func (db *DB) CountAuditEventsByType(ctx context.Context, tenantID string, since, until time.Time) (map[string]int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT event_type, COUNT(*) FROM audit_event
		WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3
		GROUP BY event_type`, tenantID, since.UTC(), until.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to count audit events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var eventType string
		var count int64
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan audit count: %w", err)
		}
		counts[eventType] = count
	}
	return counts, rows.Err()
}

// AuditTotals aggregates a tenant's audit activity over a window.
type AuditTotals struct {
	TotalEvents     int64
	UniqueUsers     int64
	UniqueArtifacts int64
}

// SummarizeAuditEvents returns the window's event, user, and artifact
// totals in one aggregate query.
func (db *DB) SummarizeAuditEvents(ctx context.Context, tenantID string, since, until time.Time) (*AuditTotals, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var t AuditTotals
	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(DISTINCT user_id) FILTER (WHERE user_id <> ''),
		       COUNT(DISTINCT resource_id) FILTER (WHERE resource_type = 'artifact')
		FROM audit_event
		WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3`,
		tenantID, since.UTC(), until.UTC()).
		Scan(&t.TotalEvents, &t.UniqueUsers, &t.UniqueArtifacts)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize audit events: %w", err)
	}
	return &t, nil
}

// CountAuditEventsBefore returns how many audit events are older than the
// cutoff, for retention dry runs.
func (db *DB) CountAuditEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var count int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_event WHERE created_at < $1`, cutoff.UTC()).
		Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count expired audit events: %w", err)
	}
	return count, nil
}

// DeleteAuditEventsBefore removes audit events older than the cutoff,
// capped at limit rows per call so sweeps stay bounded.
func (db *DB) DeleteAuditEventsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx, `
		DELETE FROM audit_event WHERE id IN (
			SELECT id FROM audit_event WHERE created_at < $1
			ORDER BY created_at ASC LIMIT $2
		)`, cutoff.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete audit events: %w", err)
	}
	return res.RowsAffected()
}

// scanAuditEvent scans an audit event from a row scanner.
func scanAuditEvent(row rowScanner) (*models.AuditEvent, error) {
	var e models.AuditEvent
	var dataJSON []byte

	err := row.Scan(
		&e.ID,
		&e.TenantID,
		&e.UserID,
		&e.EventType,
		&e.ResourceType,
		&e.ResourceID,
		&dataJSON,
		&e.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit event: %w", err)
	}

	data, err := models.UnmarshalJSONMap(dataJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to parse event_data: %w", err)
	}
	e.EventData = data
	return &e, nil
}
