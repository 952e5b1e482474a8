// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

// Package scheduler manages report schedules and drives the evaluation
// loop that turns due schedules into queued execution tasks.
//
// service.go - Schedule lifecycle: validation, quota, next-run computation
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/reportus/internal/cron"
	"github.com/tomtom215/reportus/internal/database"
	"github.com/tomtom215/reportus/internal/models"
)

// PreviewLimit caps how many upcoming run times a preview returns.
const PreviewLimit = 20

// Store defines the database operations the schedule service needs.
type Store interface {
	GetTenant(ctx context.Context, id string) (*models.Tenant, error)
	GetReportDefinition(ctx context.Context, tenantID, id string) (*models.ReportDefinition, error)

	CreateSchedule(ctx context.Context, s *models.Schedule) error
	GetSchedule(ctx context.Context, tenantID, id string) (*models.Schedule, error)
	UpdateSchedule(ctx context.Context, s *models.Schedule) error
	DeleteSchedule(ctx context.Context, tenantID, id string) error
	ListSchedules(ctx context.Context, tenantID string, isActive *bool, limit int, cursor string) ([]models.Schedule, string, error)
	CountActiveSchedules(ctx context.Context, tenantID string) (int, error)
}

// Service implements schedule CRUD with cron validation, timezone
// validation, and per-tier quota enforcement.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates a schedule service.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// CreateSchedule validates and persists a new schedule. The first run time
// is computed immediately so the scan loop picks the schedule up without a
// warm-up pass.
func (s *Service) CreateSchedule(ctx context.Context, sched *models.Schedule) error {
	expr, loc, err := s.validateTrigger(sched.CronExpression, sched.Timezone)
	if err != nil {
		return err
	}

	if _, err := s.store.GetReportDefinition(ctx, sched.TenantID, sched.ReportDefinitionID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return newError(KindNotFound, "report definition not found", err)
		}
		return fmt.Errorf("failed to load report definition: %w", err)
	}

	if err := s.enforceQuota(ctx, sched.TenantID); err != nil {
		return err
	}

	now := s.now().UTC()
	next := expr.Next(now, loc)
	if next.IsZero() {
		return newError(KindInvalidCron, "expression never matches a future time", nil)
	}
	sched.IsActive = true
	sched.NextRunAt = &next
	sched.FailureReason = ""

	return s.store.CreateSchedule(ctx, sched)
}

// UpdateSchedule validates and persists changes to an existing schedule.
// Changing the trigger recomputes the next run; re-activating a schedule
// clears its failure reason.
func (s *Service) UpdateSchedule(ctx context.Context, sched *models.Schedule) error {
	existing, err := s.store.GetSchedule(ctx, sched.TenantID, sched.ID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return newError(KindNotFound, "schedule not found", err)
		}
		return err
	}

	expr, loc, err := s.validateTrigger(sched.CronExpression, sched.Timezone)
	if err != nil {
		return err
	}

	triggerChanged := sched.CronExpression != existing.CronExpression ||
		sched.Timezone != existing.Timezone
	reactivated := sched.IsActive && !existing.IsActive

	sched.LastRunAt = existing.LastRunAt
	sched.NextRunAt = existing.NextRunAt
	sched.FailureReason = existing.FailureReason
	sched.CreatedBy = existing.CreatedBy
	sched.CreatedAt = existing.CreatedAt

	if triggerChanged || reactivated || sched.NextRunAt == nil {
		next := expr.Next(s.now().UTC(), loc)
		if next.IsZero() {
			return newError(KindInvalidCron, "expression never matches a future time", nil)
		}
		sched.NextRunAt = &next
	}
	if sched.IsActive {
		sched.FailureReason = ""
	}

	return s.store.UpdateSchedule(ctx, sched)
}

// GetSchedule retrieves one schedule.
func (s *Service) GetSchedule(ctx context.Context, tenantID, id string) (*models.Schedule, error) {
	sched, err := s.store.GetSchedule(ctx, tenantID, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, newError(KindNotFound, "schedule not found", err)
	}
	return sched, err
}

// DeleteSchedule removes a schedule. In-flight runs for it are unaffected.
func (s *Service) DeleteSchedule(ctx context.Context, tenantID, id string) error {
	err := s.store.DeleteSchedule(ctx, tenantID, id)
	if errors.Is(err, database.ErrNotFound) {
		return newError(KindNotFound, "schedule not found", err)
	}
	return err
}

// ListSchedules returns one page of a tenant's schedules, optionally
// filtered by activation state.
func (s *Service) ListSchedules(ctx context.Context, tenantID string, isActive *bool, limit int, cursor string) ([]models.Schedule, string, error) {
	return s.store.ListSchedules(ctx, tenantID, isActive, limit, cursor)
}

// PauseSchedule deactivates a schedule. The stale NextRunAt is left in
// place; the scan loop ignores inactive schedules, and resuming
// recomputes it.
func (s *Service) PauseSchedule(ctx context.Context, tenantID, id string) (*models.Schedule, error) {
	sched, err := s.GetSchedule(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !sched.IsActive {
		return sched, nil
	}
	sched.IsActive = false
	if err := s.store.UpdateSchedule(ctx, sched); err != nil {
		return nil, err
	}
	return sched, nil
}

// ResumeSchedule reactivates a schedule and recomputes its next run from
// now, so fires missed while paused are not replayed.
func (s *Service) ResumeSchedule(ctx context.Context, tenantID, id string) (*models.Schedule, error) {
	sched, err := s.GetSchedule(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	expr, loc, err := s.validateTrigger(sched.CronExpression, sched.Timezone)
	if err != nil {
		return nil, err
	}
	next := expr.Next(s.now().UTC(), loc)
	if next.IsZero() {
		return nil, newError(KindInvalidCron, "expression never matches a future time", nil)
	}

	sched.IsActive = true
	sched.NextRunAt = &next
	sched.FailureReason = ""
	if err := s.store.UpdateSchedule(ctx, sched); err != nil {
		return nil, err
	}
	return sched, nil
}

// Preview returns the next run times a trigger would produce, without
// persisting anything. count is capped at PreviewLimit.
func (s *Service) Preview(cronExpression, timezone string, count int) ([]time.Time, string, error) {
	expr, loc, err := s.validateTrigger(cronExpression, timezone)
	if err != nil {
		return nil, "", err
	}
	if count <= 0 || count > PreviewLimit {
		count = PreviewLimit
	}
	description, err := cron.Describe(cronExpression)
	if err != nil {
		description = ""
	}
	return expr.NextN(s.now().UTC(), loc, count), description, nil
}

// validateTrigger parses the cron expression and resolves the timezone,
// returning classified errors for either failure.
func (s *Service) validateTrigger(cronExpression, timezone string) (*cron.Expression, *time.Location, error) {
	expr, err := cron.Parse(cronExpression)
	if err != nil {
		return nil, nil, newError(KindInvalidCron, "invalid cron expression", err)
	}
	loc, err := cron.LoadLocation(timezone)
	if err != nil {
		return nil, nil, newError(KindInvalidTimezone, "unknown timezone", err)
	}
	return expr, loc, nil
}

// enforceQuota rejects schedule creation once the tenant's tier quota of
// active schedules is reached.
func (s *Service) enforceQuota(ctx context.Context, tenantID string) error {
	tenant, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return newError(KindNotFound, "tenant not found", err)
		}
		return fmt.Errorf("failed to load tenant: %w", err)
	}

	active, err := s.store.CountActiveSchedules(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to count active schedules: %w", err)
	}

	quota := tenant.Tier.ScheduleQuota()
	if active >= quota {
		return newError(KindQuotaExceeded,
			fmt.Sprintf("tier %s allows %d active schedules", tenant.Tier, quota), nil)
	}
	return nil
}
