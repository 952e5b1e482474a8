// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

// executions.go - Execution run repository
//
// Run rows move through pending -> running -> {completed | failed}; the
// terminal transitions guard on the current status so a redelivered task
// cannot overwrite a finished run.

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

const executionRunColumns = `
	id, tenant_id, schedule_id, report_definition_id, status,
	started_at, completed_at, duration_seconds, error_message,
	execution_metadata, created_at`

// CreateExecutionRun inserts a new run in pending state.
func (db *DB) CreateExecutionRun(ctx context.Context, r *models.ExecutionRun) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = models.RunPending
	}

	metaJSON, err := r.Metadata.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal execution_metadata: %w", err)
	}

	r.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO execution_run (
			id, tenant_id, schedule_id, report_definition_id, status,
			started_at, completed_at, duration_seconds, error_message,
			execution_metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	var startedAt any
	if !r.StartedAt.IsZero() {
		startedAt = r.StartedAt.UTC()
	}

	_, err = db.conn.ExecContext(ctx, query,
		r.ID,
		r.TenantID,
		r.ScheduleID,
		r.ReportDefinitionID,
		string(r.Status),
		startedAt,
		nullableTime(r.CompletedAt),
		r.DurationSeconds,
		nullableString(r.ErrorMessage),
		nullableJSON(metaJSON),
		r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution run: %w", err)
	}
	return nil
}

// GetExecutionRun retrieves a run by ID within a tenant.
func (db *DB) GetExecutionRun(ctx context.Context, tenantID, id string) (*models.ExecutionRun, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT` + executionRunColumns + ` FROM execution_run WHERE tenant_id = $1 AND id = $2`
	return scanExecutionRun(db.conn.QueryRowContext(ctx, query, tenantID, id))
}

// StartExecutionRun transitions a pending run to running. Returns
// ErrNotFound if the run is not pending, which signals a duplicate task
// delivery that must be dropped.
func (db *DB) StartExecutionRun(ctx context.Context, tenantID, id string, startedAt time.Time) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx, `
		UPDATE execution_run
		SET status = $1, started_at = $2
		WHERE tenant_id = $3 AND id = $4 AND status = $5`,
		string(models.RunRunning), startedAt.UTC(), tenantID, id, string(models.RunPending))
	if err != nil {
		return fmt.Errorf("failed to start execution run: %w", err)
	}
	return requireRowAffected(res)
}

// ResetExecutionRun transitions a running run back to pending so a
// redelivered task can start it again after a transient failure. The
// previous error message is kept for diagnostics until the next attempt
// overwrites the outcome.
func (db *DB) ResetExecutionRun(ctx context.Context, tenantID, id, errMsg string) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx, `
		UPDATE execution_run
		SET status = $1, error_message = $2
		WHERE tenant_id = $3 AND id = $4 AND status = $5`,
		string(models.RunPending), nullableString(truncateError(errMsg)),
		tenantID, id, string(models.RunRunning))
	if err != nil {
		return fmt.Errorf("failed to reset execution run: %w", err)
	}
	return requireRowAffected(res)
}

// SetExecutionRunMetadata replaces the run's execution metadata.
func (db *DB) SetExecutionRunMetadata(ctx context.Context, tenantID, id string, meta models.JSONMap) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	metaJSON, err := meta.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal execution_metadata: %w", err)
	}

	res, err := db.conn.ExecContext(ctx, `
		UPDATE execution_run SET execution_metadata = $1
		WHERE tenant_id = $2 AND id = $3`,
		nullableJSON(metaJSON), tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to update execution_metadata: %w", err)
	}
	return requireRowAffected(res)
}

// CompleteExecutionRun transitions a running run to completed.
func (db *DB) CompleteExecutionRun(ctx context.Context, tenantID, id string, completedAt time.Time, durationSeconds int) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx, `
		UPDATE execution_run
		SET status = $1, completed_at = $2, duration_seconds = $3
		WHERE tenant_id = $4 AND id = $5 AND status = $6`,
		string(models.RunCompleted), completedAt.UTC(), durationSeconds,
		tenantID, id, string(models.RunRunning))
	if err != nil {
		return fmt.Errorf("failed to complete execution run: %w", err)
	}
	return requireRowAffected(res)
}

// FailExecutionRun transitions a non-terminal run to failed, recording a
// truncated error message.
func (db *DB) FailExecutionRun(ctx context.Context, tenantID, id string, completedAt time.Time, errMsg string) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx, `
		UPDATE execution_run
		SET status = $1, completed_at = $2, error_message = $3
		WHERE tenant_id = $4 AND id = $5 AND status IN ($6, $7)`,
		string(models.RunFailed), completedAt.UTC(), truncateError(errMsg),
		tenantID, id, string(models.RunPending), string(models.RunRunning))
	if err != nil {
		return fmt.Errorf("failed to fail execution run: %w", err)
	}
	return requireRowAffected(res)
}

// ListExecutionRuns returns one page of runs for a tenant, optionally
// filtered to one schedule, ordered by (created_at DESC, id DESC).
func (db *DB) ListExecutionRuns(ctx context.Context, tenantID, scheduleID string, limit int, cursorToken string) ([]models.ExecutionRun, string, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT` + executionRunColumns + ` FROM execution_run WHERE tenant_id = $1`
	args := []any{tenantID}

	if scheduleID != "" {
		args = append(args, scheduleID)
		query += fmt.Sprintf(` AND schedule_id = $%d`, len(args))
	}
	if c, ok := DecodeCursor(cursorToken); ok {
		args = append(args, c.CreatedAt, c.ID)
		query += fmt.Sprintf(` AND (created_at, id) < ($%d, $%d)`, len(args)-1, len(args))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT %d`, limit+1)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to query execution runs: %w", err)
	}
	defer rows.Close()

	runs := make([]models.ExecutionRun, 0, limit)
	for rows.Next() {
		r, err := scanExecutionRun(rows)
		if err != nil {
			return nil, "", err
		}
		runs = append(runs, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	next := ""
	if len(runs) > limit {
		runs = runs[:limit]
		last := runs[limit-1]
		next = Cursor{CreatedAt: last.CreatedAt, ID: last.ID}.Encode()
	}
	return runs, next, nil
}

// CountRunningByTenant returns the number of a tenant's runs currently
// holding an execution slot. Pending runs count: the slot is reserved at
// admission, before a worker picks the task up. Used to resynchronize
// the Redis execution counters.
func (db *DB) CountRunningByTenant(ctx context.Context, tenantID string) (int, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM execution_run WHERE tenant_id = $1 AND status IN ($2, $3)`,
		tenantID, string(models.RunPending), string(models.RunRunning)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count running executions: %w", err)
	}
	return count, nil
}

// CountRunningGlobal returns the number of runs holding an execution
// slot across all tenants.
func (db *DB) CountRunningGlobal(ctx context.Context) (int, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM execution_run WHERE status IN ($1, $2)`,
		string(models.RunPending), string(models.RunRunning)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count running executions: %w", err)
	}
	return count, nil
}

// CountRunningGrouped returns the slot-holding run count per tenant, for
// the periodic burst counter resync.
func (db *DB) CountRunningGrouped(ctx context.Context) (map[string]int, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT tenant_id, COUNT(*) FROM execution_run WHERE status IN ($1, $2) GROUP BY tenant_id`,
		string(models.RunPending), string(models.RunRunning))
	if err != nil {
		return nil, fmt.Errorf("failed to count running executions by tenant: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var tenantID string
		var count int
		if err := rows.Scan(&tenantID, &count); err != nil {
			return nil, fmt.Errorf("failed to scan running execution count: %w", err)
		}
		counts[tenantID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read running execution counts: %w", err)
	}
	return counts, nil
}

// LastCompletedAt returns the completion time of a schedule's most recent
// completed run, or nil if none exists. Drives incremental date ranges.
func (db *DB) LastCompletedAt(ctx context.Context, tenantID, scheduleID string) (*time.Time, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var completedAt sql.NullTime
	err := db.conn.QueryRowContext(ctx, `
		SELECT completed_at FROM execution_run
		WHERE tenant_id = $1 AND schedule_id = $2 AND status = $3
		ORDER BY completed_at DESC LIMIT 1`,
		tenantID, scheduleID, string(models.RunCompleted)).Scan(&completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last completed run: %w", err)
	}
	return timePtr(completedAt), nil
}

// scanExecutionRun scans an execution run from a row scanner.
func scanExecutionRun(row rowScanner) (*models.ExecutionRun, error) {
	var r models.ExecutionRun
	var scheduleID, errMsg sql.NullString
	var startedAt, completedAt sql.NullTime
	var duration sql.NullInt64
	var metaJSON []byte

	err := row.Scan(
		&r.ID,
		&r.TenantID,
		&scheduleID,
		&r.ReportDefinitionID,
		&r.Status,
		&startedAt,
		&completedAt,
		&duration,
		&errMsg,
		&metaJSON,
		&r.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan execution run: %w", err)
	}

	if scheduleID.Valid {
		r.ScheduleID = &scheduleID.String
	}
	if startedAt.Valid {
		r.StartedAt = startedAt.Time.UTC()
	}
	r.CompletedAt = timePtr(completedAt)
	r.DurationSeconds = int(duration.Int64)
	r.ErrorMessage = errMsg.String

	meta, err := models.UnmarshalJSONMap(metaJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to parse execution_metadata: %w", err)
	}
	r.Metadata = meta

	return &r, nil
}

// nullableJSON binds empty JSON payloads as NULL.
func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
