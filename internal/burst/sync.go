// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

package burst

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/reportus/internal/logging"
)

// SyncRunner resynchronizes the Redis counters from the database on a
// timer, repairing drift left by crashed workers. It runs under the
// supervisor tree; Start and Stop bracket its single goroutine.
type SyncRunner struct {
	limiter  *Limiter
	census   RunCensus
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSyncRunner creates the counter sync service.
func NewSyncRunner(limiter *Limiter, census RunCensus, interval time.Duration) *SyncRunner {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &SyncRunner{
		limiter:  limiter,
		census:   census,
		interval: interval,
		logger:   logging.WithComponent("burst"),
	}
}

// Start begins the sync loop. The first sync happens immediately so a
// restart repairs counters before the scheduler's next scan.
func (r *SyncRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("sync runner already running")
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.mu.Unlock()

	r.logger.Info().Dur("interval", r.interval).Msg("Starting burst counter sync")
	go r.run(ctx)
	return nil
}

// Stop stops the sync loop and waits for an in-flight sync to finish.
func (r *SyncRunner) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	close(r.stopCh)
	<-r.doneCh

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.logger.Info().Msg("Burst counter sync stopped")
	return nil
}

func (r *SyncRunner) run(ctx context.Context) {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.syncOnce(ctx)

	for {
		select {
		case <-ticker.C:
			r.syncOnce(ctx)
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (r *SyncRunner) syncOnce(ctx context.Context) {
	if err := r.limiter.SyncAll(ctx, r.census); err != nil {
		r.logger.Warn().Err(err).Msg("Burst counter sync failed")
	}
}
