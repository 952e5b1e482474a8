// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

// schedules.go - Schedule repository
//
// Listings are cursor-paginated over (created_at DESC, id DESC); the id
// tie-break keeps the ordering total when rows share a timestamp.

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/reportus/internal/models"
)

const scheduleColumns = `
	id, tenant_id, report_definition_id, name, cron_expression, timezone,
	is_active, next_run_at, last_run_at, email_delivery_config,
	failure_reason, created_by, created_at, updated_at`

// CreateSchedule inserts a new schedule. The caller validates the cron
// expression and computes NextRunAt before this point.
func (db *DB) CreateSchedule(ctx context.Context, s *models.Schedule) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if s.ID == "" {
		s.ID = uuid.New().String()
	}

	deliveryJSON, err := marshalDelivery(s.EmailDelivery)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now

	query := `
		INSERT INTO schedule (
			id, tenant_id, report_definition_id, name, cron_expression,
			timezone, is_active, next_run_at, last_run_at,
			email_delivery_config, failure_reason, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err = db.conn.ExecContext(ctx, query,
		s.ID,
		s.TenantID,
		s.ReportDefinitionID,
		s.Name,
		s.CronExpression,
		s.Timezone,
		s.IsActive,
		nullableTime(s.NextRunAt),
		nullableTime(s.LastRunAt),
		deliveryJSON,
		nullableString(s.FailureReason),
		s.CreatedBy,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert schedule: %w", err)
	}
	return nil
}

// GetSchedule retrieves a schedule by ID within a tenant. Returns
// ErrNotFound for a missing row or a row owned by another tenant.
func (db *DB) GetSchedule(ctx context.Context, tenantID, id string) (*models.Schedule, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT` + scheduleColumns + ` FROM schedule WHERE tenant_id = $1 AND id = $2`
	row := db.conn.QueryRowContext(ctx, query, tenantID, id)

	s, err := scanSchedule(row)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// UpdateSchedule persists mutable schedule fields. NextRunAt has already
// been recomputed by the caller when cron, timezone, or active state changed.
func (db *DB) UpdateSchedule(ctx context.Context, s *models.Schedule) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	deliveryJSON, err := marshalDelivery(s.EmailDelivery)
	if err != nil {
		return err
	}

	s.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE schedule SET
			name = $1, cron_expression = $2, timezone = $3, is_active = $4,
			next_run_at = $5, last_run_at = $6, email_delivery_config = $7,
			failure_reason = $8, updated_at = $9
		WHERE tenant_id = $10 AND id = $11
	`

	res, err := db.conn.ExecContext(ctx, query,
		s.Name,
		s.CronExpression,
		s.Timezone,
		s.IsActive,
		nullableTime(s.NextRunAt),
		nullableTime(s.LastRunAt),
		deliveryJSON,
		nullableString(s.FailureReason),
		s.UpdatedAt,
		s.TenantID,
		s.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	return requireRowAffected(res)
}

// DeleteSchedule removes a schedule within a tenant.
func (db *DB) DeleteSchedule(ctx context.Context, tenantID, id string) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM schedule WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	return requireRowAffected(res)
}

// ListSchedules returns one page of a tenant's schedules ordered by
// (created_at DESC, id DESC). An invalid cursor restarts from the beginning.
// The returned cursor is empty when no further page exists. A non-nil
// isActive narrows the listing to schedules in that activation state.
func (db *DB) ListSchedules(ctx context.Context, tenantID string, isActive *bool, limit int, cursorToken string) ([]models.Schedule, string, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT` + scheduleColumns + ` FROM schedule WHERE tenant_id = $1`
	args := []any{tenantID}

	if isActive != nil {
		args = append(args, *isActive)
		query += fmt.Sprintf(` AND is_active = $%d`, len(args))
	}
	if c, ok := DecodeCursor(cursorToken); ok {
		args = append(args, c.CreatedAt, c.ID)
		query += fmt.Sprintf(` AND (created_at, id) < ($%d, $%d)`, len(args)-1, len(args))
	}

	// Over-fetch by one row to learn whether another page exists.
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT %d`, limit+1)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to query schedules: %w", err)
	}
	defer rows.Close()

	schedules := make([]models.Schedule, 0, limit)
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, "", err
		}
		schedules = append(schedules, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	next := ""
	if len(schedules) > limit {
		schedules = schedules[:limit]
		last := schedules[limit-1]
		next = Cursor{CreatedAt: last.CreatedAt, ID: last.ID}.Encode()
	}
	return schedules, next, nil
}

// CountActiveSchedules returns the number of active schedules for a tenant,
// used for quota enforcement.
func (db *DB) CountActiveSchedules(ctx context.Context, tenantID string) (int, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM schedule WHERE tenant_id = $1 AND is_active`, tenantID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active schedules: %w", err)
	}
	return count, nil
}

// ListDueSchedules returns active schedules whose next_run_at has passed,
// oldest first, capped at limit. Only the scan-lock holder calls this.
func (db *DB) ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]models.Schedule, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT` + scheduleColumns + `
		FROM schedule
		WHERE is_active AND next_run_at IS NOT NULL AND next_run_at <= $1
		ORDER BY next_run_at ASC
		LIMIT $2`

	rows, err := db.conn.QueryContext(ctx, query, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due schedules: %w", err)
	}
	defer rows.Close()

	var schedules []models.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *s)
	}
	return schedules, rows.Err()
}

// MarkScheduleEnqueued advances a schedule's bookkeeping after its task was
// published: last_run_at is the fire time just consumed, next_run_at the
// following one.
func (db *DB) MarkScheduleEnqueued(ctx context.Context, tenantID, id string, lastRunAt, nextRunAt time.Time) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx, `
		UPDATE schedule
		SET last_run_at = $1, next_run_at = $2, updated_at = $3
		WHERE tenant_id = $4 AND id = $5`,
		lastRunAt.UTC(), nextRunAt.UTC(), time.Now().UTC(), tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to mark schedule enqueued: %w", err)
	}
	return requireRowAffected(res)
}

// DeactivateSchedule turns off a schedule and records why, e.g. when its
// next fire time became uncomputable.
func (db *DB) DeactivateSchedule(ctx context.Context, tenantID, id, reason string) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx, `
		UPDATE schedule
		SET is_active = FALSE, next_run_at = NULL, failure_reason = $1, updated_at = $2
		WHERE tenant_id = $3 AND id = $4`,
		reason, time.Now().UTC(), tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate schedule: %w", err)
	}
	return requireRowAffected(res)
}

// scanSchedule scans a schedule from a row scanner.
func scanSchedule(row rowScanner) (*models.Schedule, error) {
	var s models.Schedule
	var nextRunAt, lastRunAt sql.NullTime
	var deliveryJSON, failureReason sql.NullString

	err := row.Scan(
		&s.ID,
		&s.TenantID,
		&s.ReportDefinitionID,
		&s.Name,
		&s.CronExpression,
		&s.Timezone,
		&s.IsActive,
		&nextRunAt,
		&lastRunAt,
		&deliveryJSON,
		&failureReason,
		&s.CreatedBy,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan schedule: %w", err)
	}

	s.NextRunAt = timePtr(nextRunAt)
	s.LastRunAt = timePtr(lastRunAt)
	s.FailureReason = failureReason.String

	if deliveryJSON.Valid && deliveryJSON.String != "" {
		var cfg models.EmailDeliveryConfig
		if err := json.Unmarshal([]byte(deliveryJSON.String), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse email_delivery_config: %w", err)
		}
		s.EmailDelivery = &cfg
	}

	return &s, nil
}

func marshalDelivery(cfg *models.EmailDeliveryConfig) (any, error) {
	if cfg == nil {
		return nil, nil
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal email_delivery_config: %w", err)
	}
	return string(raw), nil
}
