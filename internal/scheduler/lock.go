// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

// lock.go - Distributed scan lock
//
// Multiple scheduler replicas may run for availability, but only one may
// evaluate schedules per tick, or due schedules would be enqueued twice.
// The lock is a Redis SETNX with a TTL that outlives a scan; release is
// conditional on still owning the lock so a slow scan cannot free a
// successor's lock.

package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// ScanLock is a best-effort distributed mutex over one Redis key.
type ScanLock struct {
	client     *redis.Client
	key        string
	ttl        time.Duration
	instanceID string
}

// NewScanLock creates a scan lock. A nil client means single-instance
// deployment: every acquisition succeeds.
func NewScanLock(client *redis.Client, key string, ttl time.Duration) *ScanLock {
	return &ScanLock{
		client:     client,
		key:        key,
		ttl:        ttl,
		instanceID: uuid.New().String(),
	}
}

// Acquire attempts to take the lock. Acquisition fails closed: if Redis
// is unreachable the replica skips the tick rather than risk a duplicate
// scan, and a healthy replica with a reachable Redis picks it up.
func (l *ScanLock) Acquire(ctx context.Context) (bool, error) {
	if l.client == nil {
		return true, nil
	}
	return l.client.SetNX(ctx, l.key, l.instanceID, l.ttl).Result()
}

// Release frees the lock if this instance still holds it.
func (l *ScanLock) Release(ctx context.Context) error {
	if l.client == nil {
		return nil
	}
	return releaseLockScript.Run(ctx, l.client, []string{l.key}, l.instanceID).Err()
}
