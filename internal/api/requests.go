// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/tomtom215/reportus/internal/config"
	"github.com/tomtom215/reportus/internal/models"
)

// maxBodyBytes caps request bodies; report query specs are small JSON
// documents, not uploads.
const maxBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// CreateReportDefinitionRequest creates a report definition.
type CreateReportDefinitionRequest struct {
	Name            string         `json:"name" validate:"required,min=1,max=255"`
	Description     string         `json:"description" validate:"max=2000"`
	QuerySpec       models.JSONMap `json:"query_spec" validate:"required"`
	TemplateRef     string         `json:"template_ref" validate:"required,max=255"`
	Format          string         `json:"output_format" validate:"required,oneof=pdf csv xlsx"`
	CacheTTLSeconds int            `json:"cache_ttl_seconds" validate:"min=0,max=604800"`
	DateRangeType   string         `json:"date_range_type" validate:"omitempty,oneof=last_hour last_24_hours last_7_days last_30_days last_90_days yesterday last_week last_month month_to_date quarter_to_date year_to_date last_year incremental"`
}

// UpdateReportDefinitionRequest updates a report definition. All fields
// are required; partial updates invite accidental blanking of the query
// spec.
type UpdateReportDefinitionRequest = CreateReportDefinitionRequest

// CreateScheduleRequest creates a schedule.
type CreateScheduleRequest struct {
	ReportDefinitionID string                      `json:"report_definition_id" validate:"required,uuid4"`
	Name               string                      `json:"name" validate:"required,min=1,max=255"`
	CronExpression     string                      `json:"cron_expression" validate:"required,max=100"`
	Timezone           string                      `json:"timezone" validate:"required,max=64"`
	EmailDelivery      *EmailDeliveryConfigRequest `json:"email_delivery_config" validate:"omitempty"`
}

// UpdateScheduleRequest updates a schedule. Every field is optional:
// absent fields keep their stored values, so {"is_active": false} alone
// is a valid update. Provided fields still validate in full.
type UpdateScheduleRequest struct {
	Name           *string                     `json:"name" validate:"omitempty,min=1,max=255"`
	CronExpression *string                     `json:"cron_expression" validate:"omitempty,min=1,max=100"`
	Timezone       *string                     `json:"timezone" validate:"omitempty,min=1,max=64"`
	IsActive       *bool                       `json:"is_active"`
	EmailDelivery  *EmailDeliveryConfigRequest `json:"email_delivery_config" validate:"omitempty"`
}

// EmailDeliveryConfigRequest configures email delivery for a schedule.
type EmailDeliveryConfigRequest struct {
	Recipients []string `json:"recipients" validate:"required,min=1,max=50,dive,email"`
	CC         []string `json:"cc" validate:"max=50,dive,email"`
	BCC        []string `json:"bcc" validate:"max=50,dive,email"`
	Subject    string   `json:"subject" validate:"max=255"`
}

func (r *EmailDeliveryConfigRequest) toModel() *models.EmailDeliveryConfig {
	if r == nil {
		return nil
	}
	return &models.EmailDeliveryConfig{
		Recipients: r.Recipients,
		CC:         r.CC,
		BCC:        r.BCC,
		Subject:    r.Subject,
	}
}

// PreviewScheduleRequest asks for the upcoming fire times of a trigger
// without persisting anything.
type PreviewScheduleRequest struct {
	CronExpression string `json:"cron_expression" validate:"required,max=100"`
	Timezone       string `json:"timezone" validate:"required,max=64"`
	Count          int    `json:"count" validate:"min=0,max=20"`
}

// RunNowRequest triggers a manual run of a report definition.
type RunNowRequest struct {
	ReportDefinitionID string                      `json:"report_definition_id" validate:"required,uuid4"`
	EmailDelivery      *EmailDeliveryConfigRequest `json:"email_delivery_config" validate:"omitempty"`
}

// ShareArtifactRequest forwards an artifact to additional recipients.
type ShareArtifactRequest struct {
	Recipients []string `json:"recipients" validate:"required,min=1,max=50,dive,email"`
	Message    string   `json:"message" validate:"max=2000"`
}

// fieldError is one entry in a validation error response.
type fieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// decodeJSON parses and validates a request body into dst. It returns
// false after writing the error response itself, so handlers can bail
// with a bare return.
func decodeJSON(rw *ResponseWriter, w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		rw.BadRequest(w, r, fmt.Sprintf("Invalid request body: %v", err))
		return false
	}

	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make([]fieldError, 0, len(verrs))
			for _, fe := range verrs {
				details = append(details, fieldError{
					Field:  fe.Field(),
					Reason: fmt.Sprintf("failed %q validation", fe.Tag()),
				})
			}
			rw.ValidationError(w, r, details)
			return false
		}
		rw.BadRequest(w, r, "Request validation failed")
		return false
	}
	return true
}

// pageParams reads the limit and cursor query parameters, clamping the
// limit to the configured bounds.
func pageParams(r *http.Request, cfg config.APIConfig) (int, string) {
	limit := cfg.DefaultPageSize
	if limit <= 0 {
		limit = 20
	}
	maxLimit := cfg.MaxPageSize
	if maxLimit <= 0 {
		maxLimit = 100
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit, r.URL.Query().Get("cursor")
}
