// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

// Package burst bounds how many report executions run at once, per tenant
// and platform-wide, using Redis counters. The counters are advisory: when
// Redis is unreachable the limiter fails open and admits the execution,
// because a missed report is worse than a briefly oversubscribed worker
// pool. Counter drift after crashes is repaired by Sync, which overwrites
// the counters from the database's authoritative running-run counts.
package burst

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/reportus/internal/logging"
	"github.com/tomtom215/reportus/internal/metrics"
)

const (
	tenantKeyPrefix = "concurrent_executions:tenant:"
	globalKey       = "concurrent_executions:global"

	// Counters self-heal via TTL if a release is lost.
	counterTTL = time.Hour
)

// releaseScript decrements a counter only while it is positive, so a
// double release can never drive it negative.
var releaseScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v and tonumber(v) > 0 then
  return redis.call("DECR", KEYS[1])
end
return 0
`)

// Scope identifies which limit refused an admission.
type Scope string

const (
	ScopeNone   Scope = ""
	ScopeTenant Scope = "tenant"
	ScopeGlobal Scope = "global"
)

// RunCounter supplies authoritative running-execution counts for Sync.
type RunCounter interface {
	CountRunningByTenant(ctx context.Context, tenantID string) (int, error)
	CountRunningGlobal(ctx context.Context) (int, error)
}

// RunCensus supplies the per-tenant slot census SyncAll overwrites the
// counters from. *database.DB satisfies it.
type RunCensus interface {
	CountRunningGrouped(ctx context.Context) (map[string]int, error)
}

// Limiter admits or defers executions against per-tenant and global
// concurrency limits.
type Limiter struct {
	client      *redis.Client
	tenantLimit int
	globalLimit int
}

// New creates a limiter. A nil client disables limiting: every admission
// succeeds.
func New(client *redis.Client, tenantLimit, globalLimit int) *Limiter {
	return &Limiter{client: client, tenantLimit: tenantLimit, globalLimit: globalLimit}
}

// Admit reserves an execution slot for the tenant. It returns the refusing
// scope when a limit is hit; callers leave the schedule due and retry on
// the next scan. Redis failures admit.
func (l *Limiter) Admit(ctx context.Context, tenantID string) Scope {
	if l.client == nil {
		return ScopeNone
	}

	tenantKey := tenantKeyPrefix + tenantID

	n, err := l.incr(ctx, tenantKey)
	if err != nil {
		logging.Warn().Err(err).Str("tenant_id", tenantID).Msg("Burst counter unavailable, admitting")
		metrics.BurstAdmissions.WithLabelValues("error").Inc()
		return ScopeNone
	}
	if n > int64(l.tenantLimit) {
		l.decr(ctx, tenantKey)
		metrics.BurstAdmissions.WithLabelValues("refused_tenant").Inc()
		return ScopeTenant
	}

	g, err := l.incr(ctx, globalKey)
	if err != nil {
		// The tenant slot is already held; keep it and admit.
		logging.Warn().Err(err).Msg("Global burst counter unavailable, admitting")
		metrics.BurstAdmissions.WithLabelValues("error").Inc()
		return ScopeNone
	}
	if g > int64(l.globalLimit) {
		l.decr(ctx, globalKey)
		l.decr(ctx, tenantKey)
		metrics.BurstAdmissions.WithLabelValues("refused_global").Inc()
		return ScopeGlobal
	}

	metrics.BurstAdmissions.WithLabelValues("admitted").Inc()
	metrics.BurstActiveExecutions.Set(float64(g))
	return ScopeNone
}

// Release frees the slots held by a finished execution. Safe to call more
// than once; the conditional decrement floors counters at zero.
func (l *Limiter) Release(ctx context.Context, tenantID string) {
	if l.client == nil {
		return
	}
	l.decr(ctx, tenantKeyPrefix+tenantID)
	l.decr(ctx, globalKey)
}

// Sync overwrites the tenant's counter and the global counter from the
// database's running-run counts. Called when drift is suspected, for
// example after a worker crash left slots reserved.
func (l *Limiter) Sync(ctx context.Context, db RunCounter, tenantID string) error {
	if l.client == nil {
		return nil
	}

	tenantCount, err := db.CountRunningByTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to count tenant running executions: %w", err)
	}
	globalCount, err := db.CountRunningGlobal(ctx)
	if err != nil {
		return fmt.Errorf("failed to count global running executions: %w", err)
	}

	pipe := l.client.TxPipeline()
	pipe.Set(ctx, tenantKeyPrefix+tenantID, tenantCount, counterTTL)
	pipe.Set(ctx, globalKey, globalCount, counterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to sync burst counters: %w", err)
	}

	metrics.BurstActiveExecutions.Set(float64(globalCount))
	logging.Debug().
		Str("tenant_id", tenantID).
		Int("tenant_count", tenantCount).
		Int("global_count", globalCount).
		Msg("Burst counters synced from database")
	return nil
}

// SyncAll overwrites every tenant counter and the global counter from
// the database census. Tenants absent from the census have no
// slot-holding runs; their stale counters are deleted rather than left
// to age out on TTL.
func (l *Limiter) SyncAll(ctx context.Context, db RunCensus) error {
	if l.client == nil {
		return nil
	}

	counts, err := db.CountRunningGrouped(ctx)
	if err != nil {
		return fmt.Errorf("failed to census running executions: %w", err)
	}

	stale, err := l.client.Keys(ctx, tenantKeyPrefix+"*").Result()
	if err != nil {
		return fmt.Errorf("failed to list burst counters: %w", err)
	}

	global := 0
	pipe := l.client.TxPipeline()
	for tenantID, count := range counts {
		pipe.Set(ctx, tenantKeyPrefix+tenantID, count, counterTTL)
		global += count
	}
	for _, key := range stale {
		if _, ok := counts[key[len(tenantKeyPrefix):]]; !ok {
			pipe.Del(ctx, key)
		}
	}
	pipe.Set(ctx, globalKey, global, counterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to sync burst counters: %w", err)
	}

	metrics.BurstActiveExecutions.Set(float64(global))
	logging.Debug().
		Int("tenants", len(counts)).
		Int("global_count", global).
		Msg("Burst counters synced from database")
	return nil
}

// Active returns the current global counter value, for diagnostics.
func (l *Limiter) Active(ctx context.Context) (int64, error) {
	if l.client == nil {
		return 0, nil
	}
	n, err := l.client.Get(ctx, globalKey).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

func (l *Limiter) incr(ctx context.Context, key string) (int64, error) {
	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, counterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (l *Limiter) decr(ctx context.Context, key string) {
	if err := releaseScript.Run(ctx, l.client, []string{key}).Err(); err != nil && err != redis.Nil {
		logging.Warn().Err(err).Str("key", key).Msg("Burst counter release failed")
	}
}
