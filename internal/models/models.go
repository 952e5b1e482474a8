// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

// Package models defines the persistent entities of the report platform.
//
// Every entity except Tenant itself is tenant-scoped: repositories filter
// all reads and writes by TenantID. Identifiers are opaque strings (UUIDs
// in practice). All timestamps are UTC instants; naive local times are
// never persisted.
package models

import (
	"time"

	"github.com/goccy/go-json"
)

// Tier is a tenant's subscription tier. It determines the schedule quota.
type Tier string

const (
	TierStandard   Tier = "standard"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// ScheduleQuota returns the maximum number of active schedules for a tier.
// Unknown tiers fall back to the standard quota.
func (t Tier) ScheduleQuota() int {
	switch t {
	case TierPremium:
		return 50
	case TierEnterprise:
		return 200
	default:
		return 10
	}
}

// Tenant is the top-level isolation boundary. Lifecycle is managed by an
// external provisioning system; this service only reads tenants.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Tier      Tier      `json:"tier"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// OutputFormat is the artifact file format of a report definition.
type OutputFormat string

const (
	FormatPDF  OutputFormat = "pdf"
	FormatCSV  OutputFormat = "csv"
	FormatXLSX OutputFormat = "xlsx"
)

// ReportDefinition describes what a report contains and how it is rendered.
// The scheduler treats it as immutable; updating a definition invalidates
// any cached artifacts derived from it.
type ReportDefinition struct {
	ID          string       `json:"id"`
	TenantID    string       `json:"tenant_id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	QuerySpec   JSONMap      `json:"query_spec"`
	TemplateRef string       `json:"template_ref"`
	Format      OutputFormat `json:"output_format"`

	// CacheTTLSeconds enables the result cache when > 0.
	CacheTTLSeconds int `json:"cache_ttl_seconds"`

	// DateRangeType selects a named range ("last_7_days", "yesterday", ...)
	// or "incremental" for since-last-run queries. Empty means the data
	// source decides.
	DateRangeType string `json:"date_range_type,omitempty"`

	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Cacheable reports whether generated artifacts may be served from cache.
func (d *ReportDefinition) Cacheable() bool {
	return d.CacheTTLSeconds > 0
}

// CacheTTL returns the cache TTL as a duration.
func (d *ReportDefinition) CacheTTL() time.Duration {
	return time.Duration(d.CacheTTLSeconds) * time.Second
}

// EmailDeliveryConfig configures email delivery for a schedule.
type EmailDeliveryConfig struct {
	Recipients []string `json:"recipients"`
	CC         []string `json:"cc,omitempty"`
	BCC        []string `json:"bcc,omitempty"`
	Subject    string   `json:"subject,omitempty"`
}

// Schedule attaches a cron expression to a report definition.
//
// Invariants:
//   - IsActive implies NextRunAt is non-nil.
//   - NextRunAt, when set, is the cron expression's next fire at or after
//     max(now, LastRunAt), computed in Timezone and stored in UTC.
//   - CronExpression is validated before any persistence.
type Schedule struct {
	ID                 string               `json:"id"`
	TenantID           string               `json:"tenant_id"`
	ReportDefinitionID string               `json:"report_definition_id"`
	Name               string               `json:"name"`
	CronExpression     string               `json:"cron_expression"`
	Timezone           string               `json:"timezone"`
	IsActive           bool                 `json:"is_active"`
	NextRunAt          *time.Time           `json:"next_run_at"`
	LastRunAt          *time.Time           `json:"last_run_at"`
	EmailDelivery      *EmailDeliveryConfig `json:"email_delivery_config,omitempty"`

	// FailureReason records why the scheduler deactivated the schedule
	// (e.g. a previously valid cron became uncomputable after a tz data
	// update). Empty for healthy schedules.
	FailureReason string `json:"failure_reason,omitempty"`

	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RunStatus is the execution run state machine:
// pending -> running -> {completed | failed}. Terminal states never change.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// ExecutionRun records one execution of a report, scheduled or manual.
// Manual runs have a nil ScheduleID.
type ExecutionRun struct {
	ID                 string     `json:"id"`
	TenantID           string     `json:"tenant_id"`
	ScheduleID         *string    `json:"schedule_id,omitempty"`
	ReportDefinitionID string     `json:"report_definition_id"`
	Status             RunStatus  `json:"status"`
	StartedAt          time.Time  `json:"started_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	DurationSeconds    int        `json:"duration_seconds"`
	ErrorMessage       string     `json:"error_message,omitempty"`
	Metadata           JSONMap    `json:"metadata,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Artifact is the stored output of a completed run. At most one artifact
// exists per execution run (unique constraint on ExecutionRunID).
type Artifact struct {
	ID                 string       `json:"id"`
	TenantID           string       `json:"tenant_id"`
	ExecutionRunID     string       `json:"execution_run_id"`
	BlobPath           string       `json:"blob_path"`
	FileSizeBytes      int64        `json:"file_size_bytes"`
	FileFormat         OutputFormat `json:"file_format"`
	SignedURL          string       `json:"signed_url,omitempty"`
	SignedURLExpiresAt *time.Time   `json:"signed_url_expires_at,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
}

// DeliveryChannel identifies how an artifact was delivered.
type DeliveryChannel string

const (
	ChannelEmail   DeliveryChannel = "email"
	ChannelWebhook DeliveryChannel = "webhook"
	ChannelSlack   DeliveryChannel = "slack"
)

// DeliveryStatus is the state of one delivery attempt.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
	DeliveryBounced DeliveryStatus = "bounced"
)

// DeliveryReceipt records one delivery attempt of an artifact to one
// recipient. One receipt per (artifact, recipient).
type DeliveryReceipt struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenant_id"`
	ArtifactID   string          `json:"artifact_id"`
	Channel      DeliveryChannel `json:"channel"`
	Recipient    string          `json:"recipient"`
	Status       DeliveryStatus  `json:"status"`
	SentAt       *time.Time      `json:"sent_at,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// AuditEventType categorizes user-visible actions on artifacts.
type AuditEventType string

const (
	AuditReportViewed     AuditEventType = "report_viewed"
	AuditReportDownloaded AuditEventType = "report_downloaded"
	AuditReportShared     AuditEventType = "report_shared"
)

// AuditEvent is an append-only record of a user-visible action.
type AuditEvent struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenant_id"`
	UserID       string         `json:"user_id"`
	EventType    AuditEventType `json:"event_type"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	EventData    JSONMap        `json:"event_data,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// TaskDescriptor is the self-contained payload enqueued for a worker:
// everything needed to execute one run. The TaskID is randomized per
// enqueue, so a re-enqueued schedule produces a distinct task.
type TaskDescriptor struct {
	TaskID             string               `json:"task_id"`
	TenantID           string               `json:"tenant_id"`
	ScheduleID         *string              `json:"schedule_id,omitempty"`
	ExecutionRunID     string               `json:"execution_run_id"`
	ReportDefinitionID string               `json:"report_definition_id"`
	EmailDelivery      *EmailDeliveryConfig `json:"email_delivery_config,omitempty"`
	Priority           int                  `json:"priority"`
	EnqueuedAt         time.Time            `json:"enqueued_at"`
}

// Notification is the payload enqueued on the notification stream when
// an artifact is shared: the worker-side notifier emails each recipient
// a link to the artifact.
type Notification struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	ArtifactID string    `json:"artifact_id"`
	SharedBy   string    `json:"shared_by"`
	Recipients []string  `json:"recipients"`
	Message    string    `json:"message,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// JSONMap is an opaque structured payload stored as a JSON column.
type JSONMap map[string]any

// Marshal serializes the map, returning nil for an empty map so that
// nullable JSON columns stay NULL.
func (m JSONMap) Marshal() ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(map[string]any(m))
}

// UnmarshalJSONMap parses a nullable JSON column into a JSONMap.
func UnmarshalJSONMap(data []byte) (JSONMap, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return JSONMap(m), nil
}
