// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

// Package render turns a report definition plus fetched data into the
// artifact payload: HTML via templates, then PDF, CSV, or XLSX.
//
// data.go - Report data sources

package render

import (
	"context"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/reportus/internal/daterange"
	"github.com/tomtom215/reportus/internal/logging"
	"github.com/tomtom215/reportus/internal/models"
)

// ReportData is the tabular payload a data source returns for rendering.
type ReportData struct {
	Title       string
	GeneratedAt time.Time
	DateRange   daterange.Range
	Columns     []string
	Rows        []map[string]any
	Totals      map[string]any
}

// DataSource fetches report data for a query spec over a date range.
type DataSource interface {
	Fetch(ctx context.Context, querySpec models.JSONMap, dr daterange.Range) (*ReportData, error)
}

// StaticDataSource returns canned sample data. It stands in until a
// warehouse connector is configured, and backs tests.
type StaticDataSource struct{}

// Fetch returns a fixed sales table.
func (StaticDataSource) Fetch(_ context.Context, _ models.JSONMap, dr daterange.Range) (*ReportData, error) {
	return &ReportData{
		Title:       "Sales Report",
		GeneratedAt: time.Now().UTC(),
		DateRange:   dr,
		Columns:     []string{"product", "quantity", "revenue"},
		Rows: []map[string]any{
			{"product": "Product A", "quantity": 100, "revenue": 10000},
			{"product": "Product B", "quantity": 50, "revenue": 5000},
			{"product": "Product C", "quantity": 75, "revenue": 7500},
		},
		Totals: map[string]any{"quantity": 225, "revenue": 22500},
	}, nil
}

// BreakerDataSource wraps a data source with a circuit breaker so a
// failing warehouse sheds load instead of queueing up timed-out fetches.
type BreakerDataSource struct {
	inner   DataSource
	breaker *gobreaker.CircuitBreaker[*ReportData]
}

// NewBreakerDataSource wraps inner with a circuit breaker. The breaker
// opens after five consecutive failures and probes again after 30s.
func NewBreakerDataSource(inner DataSource) *BreakerDataSource {
	settings := gobreaker.Settings{
		Name:    "report-data-source",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Data source circuit breaker state changed")
		},
	}
	return &BreakerDataSource{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[*ReportData](settings),
	}
}

// Fetch delegates through the circuit breaker.
func (b *BreakerDataSource) Fetch(ctx context.Context, querySpec models.JSONMap, dr daterange.Range) (*ReportData, error) {
	data, err := b.breaker.Execute(func() (*ReportData, error) {
		return b.inner.Fetch(ctx, querySpec, dr)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch report data: %w", err)
	}
	return data, nil
}
