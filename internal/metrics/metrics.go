// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for:
// - Schedule scan loop (lock acquisition, due schedules, enqueue outcomes)
// - Execution pipeline (step durations, attempts, terminal outcomes)
// - Burst protection admissions
// - Result cache efficiency
// - API endpoint latency and throughput
// - Database query performance

var (
	// Scheduler loop metrics
	ScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scheduler_scan_duration_seconds",
			Help:    "Duration of schedule scan iterations in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ScanLockAcquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_scan_lock_acquisitions_total",
			Help: "Total number of scan lock acquisition attempts",
		},
		[]string{"result"}, // "acquired", "held_elsewhere", "error"
	)

	SchedulesDue = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scheduler_due_schedules",
			Help:    "Number of due schedules found per scan",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
		},
	)

	SchedulesEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_schedules_enqueued_total",
			Help: "Total number of schedule executions enqueued",
		},
	)

	SchedulesDeferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_schedules_deferred_total",
			Help: "Total number of due schedules deferred by burst protection",
		},
		[]string{"scope"}, // "tenant", "global"
	)

	SchedulesDeactivated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_schedules_deactivated_total",
			Help: "Total number of schedules deactivated due to uncomputable fire times",
		},
	)

	// Pipeline metrics
	PipelineExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_executions_total",
			Help: "Total number of report executions by terminal outcome",
		},
		[]string{"outcome"}, // "completed", "failed", "cached"
	)

	PipelineStepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_step_duration_seconds",
			Help:    "Duration of individual pipeline steps in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"step"}, // "fetch", "render", "pdf", "store", "deliver"
	)

	PipelineRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_retries_total",
			Help: "Total number of execution retries after transient failures",
		},
	)

	// Burst protection metrics
	BurstAdmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burst_admissions_total",
			Help: "Total number of burst protection admission decisions",
		},
		[]string{"result"}, // "admitted", "refused_tenant", "refused_global", "fail_open"
	)

	BurstActiveExecutions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "burst_active_executions",
			Help: "Current number of in-flight executions tracked globally",
		},
	)

	// Result cache metrics
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "report_cache_hits_total",
			Help: "Total number of result cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "report_cache_misses_total",
			Help: "Total number of result cache misses",
		},
	)

	CacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "report_cache_invalidations_total",
			Help: "Total number of cache entries invalidated",
		},
		[]string{"reason"}, // "definition_updated", "manual", "expired"
	)

	// Delivery metrics
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deliveries_total",
			Help: "Total number of artifact delivery attempts",
		},
		[]string{"channel", "status"}, // channel: "email"; status: "sent", "failed", "bounced"
	)

	// Queue metrics
	QueueMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_messages_published_total",
			Help: "Total number of task messages published",
		},
		[]string{"queue"}, // "reports", "notifications"
	)

	QueueMessagesConsumed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_messages_consumed_total",
			Help: "Total number of task messages consumed",
		},
	)

	QueueMessagesTerminated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_messages_terminated_total",
			Help: "Total number of task messages terminated without retry",
		},
	)

	// Retention metrics
	RetentionSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "retention_sweep_duration_seconds",
			Help:    "Duration of retention sweeps in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
	)

	RetentionRowsDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retention_rows_deleted_total",
			Help: "Total number of rows removed by the retention sweeper",
		},
		[]string{"table"}, // "artifacts", "audit_events"
	)

	// API endpoint metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"endpoint"},
	)

	// Database metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Duration of database queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_query_errors_total",
			Help: "Total number of database query errors",
		},
		[]string{"operation", "table"},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	// System metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)
)

// RecordDBQuery records a database query metric.
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordPipelineStep records one pipeline step's duration.
func RecordPipelineStep(step string, start time.Time) {
	PipelineStepDuration.WithLabelValues(step).Observe(time.Since(start).Seconds())
}
