// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

// Package retention removes expired artifacts and audit events on a
// timer. Blobs are deleted before their rows: a row without a blob is a
// dangling reference, while a blob without a row is found again on the
// next sweep.
package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/reportus/internal/blob"
	"github.com/tomtom215/reportus/internal/config"
	"github.com/tomtom215/reportus/internal/logging"
	"github.com/tomtom215/reportus/internal/metrics"
	"github.com/tomtom215/reportus/internal/models"
)

// SweepStore defines the database operations the sweeper needs.
type SweepStore interface {
	ListArtifactsBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Artifact, error)
	DeleteArtifacts(ctx context.Context, ids []string) (int64, error)
	CountArtifactsBefore(ctx context.Context, cutoff time.Time) (int64, int64, error)
	DeleteAuditEventsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
	CountAuditEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Estimate is what one sweep would remove, reported by dry runs.
type Estimate struct {
	Artifacts     int64 `json:"artifacts"`
	ArtifactBytes int64 `json:"artifact_bytes"`
	AuditEvents   int64 `json:"audit_events"`
}

// Sweeper enforces the retention windows. It runs under the supervisor
// tree; Start and Stop bracket its single goroutine.
type Sweeper struct {
	store  SweepStore
	blobs  blob.Store
	cfg    config.RetentionConfig
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSweeper creates the retention sweeper.
func NewSweeper(store SweepStore, blobs blob.Store, cfg config.RetentionConfig) *Sweeper {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 24 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &Sweeper{
		store:  store,
		blobs:  blobs,
		cfg:    cfg,
		logger: logging.WithComponent("retention"),
		now:    time.Now,
	}
}

// Start begins the sweep loop.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("sweeper already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	if !s.cfg.Enabled {
		s.logger.Info().Msg("Retention sweeper disabled")
		go func() {
			defer close(s.doneCh)
			<-s.stopCh
		}()
		return nil
	}

	s.logger.Info().
		Dur("sweep_interval", s.cfg.SweepInterval).
		Int("artifact_days", s.cfg.ArtifactDays).
		Int("audit_days", s.cfg.AuditDays).
		Msg("Starting retention sweeper")

	go s.run(ctx)
	return nil
}

// Stop stops the sweep loop and waits for the in-flight sweep to finish.
func (s *Sweeper) Stop() error {
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

	s.logger.Info().Msg("Retention sweeper stopped")
	return nil
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	s.sweepOnce(ctx)

	for {
		select {
		case <-ticker.C:
			s.sweepOnce(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Preview reports what a sweep would remove without mutating anything.
func (s *Sweeper) Preview(ctx context.Context) (*Estimate, error) {
	now := s.now().UTC()

	count, bytes, err := s.store.CountArtifactsBefore(ctx, now.AddDate(0, 0, -s.cfg.ArtifactDays))
	if err != nil {
		return nil, fmt.Errorf("count expired artifacts: %w", err)
	}
	audits, err := s.store.CountAuditEventsBefore(ctx, now.AddDate(0, 0, -s.cfg.AuditDays))
	if err != nil {
		return nil, fmt.Errorf("count expired audit events: %w", err)
	}
	return &Estimate{Artifacts: count, ArtifactBytes: bytes, AuditEvents: audits}, nil
}

// sweepOnce performs one full sweep of both retention windows.
func (s *Sweeper) sweepOnce(ctx context.Context) {
	if s.cfg.DryRun {
		est, err := s.Preview(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("Retention dry run failed")
			return
		}
		s.logger.Info().
			Int64("artifacts", est.Artifacts).
			Int64("artifact_bytes", est.ArtifactBytes).
			Int64("audit_events", est.AuditEvents).
			Msg("Retention dry run, nothing deleted")
		return
	}

	start := time.Now()
	defer func() {
		metrics.RetentionSweepDuration.Observe(time.Since(start).Seconds())
	}()

	now := s.now().UTC()
	artifacts := s.sweepArtifacts(ctx, now.AddDate(0, 0, -s.cfg.ArtifactDays))
	audits := s.sweepAuditEvents(ctx, now.AddDate(0, 0, -s.cfg.AuditDays))

	if artifacts > 0 || audits > 0 {
		s.logger.Info().
			Int64("artifacts", artifacts).
			Int64("audit_events", audits).
			Msg("Retention sweep removed expired rows")
	}
}

// sweepArtifacts deletes expired artifacts batch by batch until a batch
// comes back short. An artifact whose blob cannot be deleted keeps its
// row, so the next sweep retries it.
func (s *Sweeper) sweepArtifacts(ctx context.Context, cutoff time.Time) int64 {
	var total int64
	for {
		batch, err := s.store.ListArtifactsBefore(ctx, cutoff, s.cfg.BatchSize)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to list expired artifacts")
			return total
		}
		if len(batch) == 0 {
			return total
		}

		ids := make([]string, 0, len(batch))
		for _, a := range batch {
			if err := s.blobs.Delete(ctx, a.BlobPath); err != nil {
				s.logger.Warn().Err(err).
					Str("artifact_id", a.ID).
					Str("blob_path", a.BlobPath).
					Msg("Blob delete failed, keeping artifact row for next sweep")
				continue
			}
			ids = append(ids, a.ID)
		}

		deleted, err := s.store.DeleteArtifacts(ctx, ids)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to delete artifact rows")
			return total
		}
		total += deleted
		metrics.RetentionRowsDeleted.WithLabelValues("artifacts").Add(float64(deleted))

		// A short batch, or one held back by blob failures, ends the pass.
		if len(batch) < s.cfg.BatchSize || len(ids) < len(batch) {
			return total
		}
	}
}

// sweepAuditEvents deletes expired audit events batch by batch.
func (s *Sweeper) sweepAuditEvents(ctx context.Context, cutoff time.Time) int64 {
	var total int64
	for {
		deleted, err := s.store.DeleteAuditEventsBefore(ctx, cutoff, s.cfg.BatchSize)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to delete expired audit events")
			return total
		}
		total += deleted
		metrics.RetentionRowsDeleted.WithLabelValues("audit_events").Add(float64(deleted))
		if deleted < int64(s.cfg.BatchSize) {
			return total
		}
	}
}
