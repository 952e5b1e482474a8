// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

// loop.go - Schedule evaluation loop
//
// Each tick: take the distributed scan lock, load one batch of due
// schedules, and for each one that clears burst protection create a
// pending execution run, enqueue its task, and advance next_run_at.
// Schedules refused by burst protection keep their due next_run_at and
// are retried on a later tick. Schedules whose trigger can no longer
// produce a future time are deactivated with a reason.

package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/reportus/internal/burst"
	"github.com/tomtom215/reportus/internal/config"
	"github.com/tomtom215/reportus/internal/cron"
	"github.com/tomtom215/reportus/internal/logging"
	"github.com/tomtom215/reportus/internal/metrics"
	"github.com/tomtom215/reportus/internal/models"
)

// ScanStore defines the database operations the scan loop needs.
type ScanStore interface {
	ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]models.Schedule, error)
	MarkScheduleEnqueued(ctx context.Context, tenantID, id string, lastRunAt, nextRunAt time.Time) error
	DeactivateSchedule(ctx context.Context, tenantID, id, reason string) error
	GetTenant(ctx context.Context, id string) (*models.Tenant, error)
	CreateExecutionRun(ctx context.Context, r *models.ExecutionRun) error
	FailExecutionRun(ctx context.Context, tenantID, id string, completedAt time.Time, errMsg string) error
}

// TaskPublisher enqueues execution tasks for workers.
type TaskPublisher interface {
	PublishReportTask(ctx context.Context, task models.TaskDescriptor) error
}

// Scanner is the schedule evaluation loop. It runs under the supervisor
// tree; Start and Stop bracket its single goroutine.
type Scanner struct {
	store     ScanStore
	publisher TaskPublisher
	limiter   *burst.Limiter
	lock      *ScanLock
	cfg       config.SchedulerConfig
	logger    zerolog.Logger
	now       func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewScanner creates the schedule evaluation loop.
func NewScanner(store ScanStore, publisher TaskPublisher, limiter *burst.Limiter, lock *ScanLock, cfg config.SchedulerConfig) *Scanner {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Scanner{
		store:     store,
		publisher: publisher,
		limiter:   limiter,
		lock:      lock,
		cfg:       cfg,
		logger:    logging.WithComponent("scheduler"),
		now:       time.Now,
	}
}

// Start begins the scan loop.
func (s *Scanner) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scanner already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	if !s.cfg.Enabled {
		s.logger.Info().Msg("Schedule scanner disabled")
		go func() {
			defer close(s.doneCh)
			<-s.stopCh
		}()
		return nil
	}

	s.logger.Info().
		Dur("scan_interval", s.cfg.ScanInterval).
		Int("batch_size", s.cfg.BatchSize).
		Msg("Starting schedule scanner")

	go s.run(ctx)
	return nil
}

// Stop stops the scan loop and waits for the in-flight tick to finish.
func (s *Scanner) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info().Msg("Schedule scanner stopped")
	return nil
}

func (s *Scanner) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	s.scanOnce(ctx)

	for {
		select {
		case <-ticker.C:
			s.scanOnce(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// scanOnce performs one evaluation tick under the distributed lock.
func (s *Scanner) scanOnce(ctx context.Context) {
	start := s.now()
	defer func() {
		metrics.ScanDuration.Observe(time.Since(start).Seconds())
	}()

	acquired, err := s.lock.Acquire(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Scan lock unavailable, skipping tick")
		metrics.ScanLockAcquisitions.WithLabelValues("error").Inc()
		return
	}
	if !acquired {
		metrics.ScanLockAcquisitions.WithLabelValues("held").Inc()
		return
	}
	metrics.ScanLockAcquisitions.WithLabelValues("acquired").Inc()
	defer func() {
		if err := s.lock.Release(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to release scan lock")
		}
	}()

	now := s.now().UTC()
	due, err := s.store.ListDueSchedules(ctx, now, s.cfg.BatchSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list due schedules")
		return
	}
	metrics.SchedulesDue.Observe(float64(len(due)))
	if len(due) == 0 {
		return
	}

	s.logger.Info().Int("count", len(due)).Msg("Evaluating due schedules")

	tenantActive := make(map[string]bool)
	for i := range due {
		s.evaluate(ctx, &due[i], now, tenantActive)
	}
}

// evaluate handles one due schedule. tenantActive caches tenant liveness
// lookups for the duration of a tick.
func (s *Scanner) evaluate(ctx context.Context, sched *models.Schedule, now time.Time, tenantActive map[string]bool) {
	logger := s.logger.With().
		Str("schedule_id", sched.ID).
		Str("tenant_id", sched.TenantID).
		Logger()

	next, deactivateReason := s.computeNext(sched, now)
	if deactivateReason != "" {
		logger.Warn().Str("reason", deactivateReason).Msg("Deactivating schedule")
		if err := s.store.DeactivateSchedule(ctx, sched.TenantID, sched.ID, deactivateReason); err != nil {
			logger.Error().Err(err).Msg("Failed to deactivate schedule")
		}
		metrics.SchedulesDeactivated.Inc()
		return
	}

	active, ok := tenantActive[sched.TenantID]
	if !ok {
		tenant, err := s.store.GetTenant(ctx, sched.TenantID)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to load tenant, leaving schedule due")
			return
		}
		active = tenant.IsActive
		tenantActive[sched.TenantID] = active
	}
	if !active {
		logger.Warn().Msg("Deactivating schedule of inactive tenant")
		if err := s.store.DeactivateSchedule(ctx, sched.TenantID, sched.ID, "tenant deactivated"); err != nil {
			logger.Error().Err(err).Msg("Failed to deactivate schedule")
		}
		metrics.SchedulesDeactivated.Inc()
		return
	}

	if scope := s.limiter.Admit(ctx, sched.TenantID); scope != burst.ScopeNone {
		// Leave next_run_at untouched; the next tick retries.
		logger.Debug().Str("scope", string(scope)).Msg("Burst limit reached, deferring schedule")
		metrics.SchedulesDeferred.WithLabelValues(string(scope)).Inc()
		return
	}

	run := &models.ExecutionRun{
		TenantID:           sched.TenantID,
		ScheduleID:         &sched.ID,
		ReportDefinitionID: sched.ReportDefinitionID,
	}
	if err := s.store.CreateExecutionRun(ctx, run); err != nil {
		logger.Error().Err(err).Msg("Failed to create execution run, leaving schedule due")
		s.limiter.Release(ctx, sched.TenantID)
		return
	}

	task := models.TaskDescriptor{
		TaskID:             uuid.New().String(),
		TenantID:           sched.TenantID,
		ScheduleID:         &sched.ID,
		ExecutionRunID:     run.ID,
		ReportDefinitionID: sched.ReportDefinitionID,
		EmailDelivery:      sched.EmailDelivery,
		EnqueuedAt:         now,
	}
	if err := s.publisher.PublishReportTask(ctx, task); err != nil {
		logger.Error().Err(err).Msg("Failed to enqueue task, leaving schedule due")
		// A pending run with no task behind it never reaches a worker, and
		// the burst census counts pending rows. Fail it so it cannot pin a
		// slot forever.
		if ferr := s.store.FailExecutionRun(ctx, sched.TenantID, run.ID, s.now().UTC(), "failed to enqueue task"); ferr != nil {
			logger.Error().Err(ferr).Str("run_id", run.ID).Msg("Failed to mark unenqueued run as failed")
		}
		s.limiter.Release(ctx, sched.TenantID)
		return
	}

	if err := s.store.MarkScheduleEnqueued(ctx, sched.TenantID, sched.ID, now, next); err != nil {
		// The task is already published. Leaving next_run_at due would
		// enqueue a duplicate, so log loudly instead of retrying here.
		logger.Error().Err(err).Msg("Failed to advance schedule after enqueue")
		return
	}

	metrics.SchedulesEnqueued.Inc()
	logger.Info().
		Str("run_id", run.ID).
		Time("next_run_at", next).
		Msg("Schedule enqueued")
}

// computeNext resolves the schedule's following run time. A non-empty
// reason means the schedule can no longer run and must be deactivated.
func (s *Scanner) computeNext(sched *models.Schedule, now time.Time) (time.Time, string) {
	loc, err := cron.LoadLocation(sched.Timezone)
	if err != nil {
		return time.Time{}, fmt.Sprintf("timezone %q no longer resolves: %v", sched.Timezone, err)
	}
	expr, err := cron.Parse(sched.CronExpression)
	if err != nil {
		return time.Time{}, fmt.Sprintf("cron expression %q no longer parses: %v", sched.CronExpression, err)
	}
	next := expr.Next(now, loc)
	if next.IsZero() {
		return time.Time{}, fmt.Sprintf("cron expression %q never matches a future time", sched.CronExpression)
	}
	return next, ""
}
