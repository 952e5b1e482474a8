// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

// Package reportcache caches rendered report payloads in Redis, keyed by
// a content hash of the inputs that produced them. Two runs with the same
// definition, parameters, and date range resolve to the same key, so the
// second run reuses the first run's output instead of re-rendering.
//
// The cache is an optimization only: every operation fails open. A Redis
// outage degrades to cache misses, never to failed executions.
package reportcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/reportus/internal/daterange"
	"github.com/tomtom215/reportus/internal/logging"
	"github.com/tomtom215/reportus/internal/metrics"
	"github.com/tomtom215/reportus/internal/models"
)

const (
	keyPrefix   = "report_cache:"
	indexPrefix = "report_cache:index:"
	metaSuffix  = ":meta"
)

// Meta describes a cached payload. It is stored as a JSON companion value
// so listings and HTTP responses can describe the entry without loading
// the payload itself.
type Meta struct {
	Format       models.OutputFormat `json:"format"`
	SizeBytes    int64               `json:"size_bytes"`
	SourceRunID  string              `json:"source_run_id"`
	GeneratedAt  time.Time           `json:"generated_at"`
	ContentHash  string              `json:"content_hash"`
	DateRangeKey string              `json:"date_range_key,omitempty"`
}

// Stats describes the cache contents and its effectiveness. EntryCount
// and TotalBytes come from a namespace scan; the counters are
// process-local since start.
type Stats struct {
	EntryCount    int64 `json:"entry_count"`
	TotalBytes    int64 `json:"total_bytes"`
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Invalidations int64 `json:"invalidations"`
}

// Cache is a Redis-backed result cache. A nil client disables caching:
// every lookup misses and every store is a no-op.
type Cache struct {
	client *redis.Client

	hits          atomic.Int64
	misses        atomic.Int64
	invalidations atomic.Int64
}

// New creates a result cache over the given Redis client. client may be
// nil, which yields a disabled cache.
func New(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// keyInputs is the canonical form hashed into a cache key. Map keys are
// sorted during marshaling, so logically equal inputs always hash the
// same regardless of construction order.
type keyInputs struct {
	ReportDefinitionID string         `json:"report_definition_id"`
	QueryParameters    models.JSONMap `json:"query_parameters"`
	DateRange          string         `json:"date_range"`
}

// Key derives the cache key for one execution's inputs.
func Key(definitionID string, params models.JSONMap, dr daterange.Range) (string, error) {
	canonical, err := json.Marshal(keyInputs{
		ReportDefinitionID: definitionID,
		QueryParameters:    params,
		DateRange:          dr.String(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to build cache key: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return keyPrefix + hex.EncodeToString(sum[:]), nil
}

// Get returns the cached payload and its metadata, or ok=false on a miss.
// Redis errors are logged and reported as misses.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, *Meta, bool) {
	if c.client == nil {
		return nil, nil, false
	}

	payload, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			logging.Warn().Err(err).Str("key", key).Msg("Cache lookup failed, treating as miss")
		}
		c.misses.Add(1)
		metrics.CacheMisses.Inc()
		return nil, nil, false
	}

	var meta Meta
	metaJSON, err := c.client.Get(ctx, key+metaSuffix).Bytes()
	if err == nil {
		if err := json.Unmarshal(metaJSON, &meta); err != nil {
			logging.Warn().Err(err).Str("key", key).Msg("Cache metadata corrupt, treating as miss")
			c.misses.Add(1)
			metrics.CacheMisses.Inc()
			return nil, nil, false
		}
	}

	c.hits.Add(1)
	metrics.CacheHits.Inc()
	return payload, &meta, true
}

// Set stores a payload and its metadata under key with the given TTL, and
// registers the key in the definition's index so InvalidateAll can find
// it later. Failures are logged and swallowed.
func (c *Cache) Set(ctx context.Context, definitionID, key string, payload []byte, meta Meta, ttl time.Duration) {
	if c.client == nil || ttl <= 0 {
		return
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		logging.Warn().Err(err).Str("key", key).Msg("Failed to marshal cache metadata")
		return
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, key, payload, ttl)
	pipe.Set(ctx, key+metaSuffix, metaJSON, ttl)
	index := indexPrefix + definitionID
	pipe.SAdd(ctx, index, key)
	// The index outlives its newest entry slightly so stale members are
	// still reachable for cleanup.
	pipe.Expire(ctx, index, ttl+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		logging.Warn().Err(err).Str("key", key).Msg("Cache store failed")
	}
}

// InvalidateAll removes every cached result derived from a definition.
// Called when the definition is updated or deleted.
func (c *Cache) InvalidateAll(ctx context.Context, definitionID string) int {
	if c.client == nil {
		return 0
	}

	index := indexPrefix + definitionID
	keys, err := c.client.SMembers(ctx, index).Result()
	if err != nil {
		if err != redis.Nil {
			logging.Warn().Err(err).Str("definition_id", definitionID).Msg("Cache index lookup failed")
		}
		return 0
	}

	toDelete := make([]string, 0, len(keys)*2+1)
	for _, k := range keys {
		toDelete = append(toDelete, k, k+metaSuffix)
	}
	toDelete = append(toDelete, index)

	if err := c.client.Del(ctx, toDelete...).Err(); err != nil {
		logging.Warn().Err(err).Str("definition_id", definitionID).Msg("Cache invalidation failed")
		return 0
	}

	c.invalidations.Add(int64(len(keys)))
	metrics.CacheInvalidations.WithLabelValues("definition_changed").Add(float64(len(keys)))
	return len(keys)
}

// Invalidate removes a single cached entry.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	if c.client == nil {
		return
	}
	if err := c.client.Del(ctx, key, key+metaSuffix).Err(); err != nil {
		logging.Warn().Err(err).Str("key", key).Msg("Cache delete failed")
		return
	}
	c.invalidations.Add(1)
	metrics.CacheInvalidations.WithLabelValues("explicit").Inc()
}

// GetStats returns the live entry count and total payload bytes from a
// namespace scan, plus the process-local counters. Scan errors fail open
// to zero totals, like every other cache operation.
func (c *Cache) GetStats(ctx context.Context) Stats {
	stats := Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Invalidations: c.invalidations.Load(),
	}
	if c.client == nil {
		return stats
	}

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			logging.Warn().Err(err).Msg("Cache stats scan failed")
			break
		}
		for _, k := range keys {
			// Payload keys only: metadata and index keys would double-count.
			if strings.HasSuffix(k, metaSuffix) || strings.HasPrefix(k, indexPrefix) {
				continue
			}
			size, err := c.client.StrLen(ctx, k).Result()
			if err != nil {
				continue
			}
			stats.EntryCount++
			stats.TotalBytes += size
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return stats
}
