// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

// Package daterange computes the query windows for scheduled reports:
// named calendar ranges ("last_7_days", "last_month", ...) and incremental
// since-last-run windows.
package daterange

import "time"

// Range is a half-open-ish query window. Start and End are UTC instants;
// Type echoes the requested range type.
type Range struct {
	Start time.Time `json:"start_date"`
	End   time.Time `json:"end_date"`
	Type  string    `json:"range_type"`
}

// String renders the range in a stable form suitable for hashing into
// cache keys. Second precision: sub-second differences never change the
// data a report query returns.
func (r Range) String() string {
	return r.Start.UTC().Format(time.RFC3339) + "/" + r.End.UTC().Format(time.RFC3339)
}

// Named range types.
const (
	Last7Days     = "last_7_days"
	Last30Days    = "last_30_days"
	Last90Days    = "last_90_days"
	Yesterday     = "yesterday"
	LastWeek      = "last_week"
	LastMonth     = "last_month"
	MonthToDate   = "month_to_date"
	QuarterToDate = "quarter_to_date"
	YearToDate    = "year_to_date"
	LastYear      = "last_year"
	LastHour      = "last_hour"
	Last24Hours   = "last_24_hours"
	Incremental   = "incremental"
)

// Calculate resolves a named range type against a reference instant,
// evaluating calendar boundaries in loc (nil means UTC). Unknown range
// types fall back to last_7_days; callers that need strict validation
// check Known first.
func Calculate(rangeType string, reference time.Time, loc *time.Location) Range {
	if loc == nil {
		loc = time.UTC
	}
	ref := reference.In(loc)

	var start, end time.Time
	switch rangeType {
	case Last7Days:
		start, end = ref.AddDate(0, 0, -7), ref
	case Last30Days:
		start, end = ref.AddDate(0, 0, -30), ref
	case Last90Days:
		start, end = ref.AddDate(0, 0, -90), ref
	case Yesterday:
		y := ref.AddDate(0, 0, -1)
		start = time.Date(y.Year(), y.Month(), y.Day(), 0, 0, 0, 0, loc)
		end = time.Date(y.Year(), y.Month(), y.Day(), 23, 59, 59, 0, loc)
	case LastWeek:
		// Previous Monday through Sunday.
		daysSinceMonday := (int(ref.Weekday()) + 6) % 7
		monday := ref.AddDate(0, 0, -(daysSinceMonday + 7))
		start = time.Date(monday.Year(), monday.Month(), monday.Day(), 0, 0, 0, 0, loc)
		sunday := start.AddDate(0, 0, 6)
		end = time.Date(sunday.Year(), sunday.Month(), sunday.Day(), 23, 59, 59, 0, loc)
	case LastMonth:
		firstOfThisMonth := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, loc)
		start = firstOfThisMonth.AddDate(0, -1, 0)
		end = firstOfThisMonth.Add(-time.Second)
	case MonthToDate:
		start = time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, loc)
		end = ref
	case QuarterToDate:
		quarterStart := time.Month((int(ref.Month())-1)/3*3 + 1)
		start = time.Date(ref.Year(), quarterStart, 1, 0, 0, 0, 0, loc)
		end = ref
	case YearToDate:
		start = time.Date(ref.Year(), time.January, 1, 0, 0, 0, 0, loc)
		end = ref
	case LastYear:
		start = time.Date(ref.Year()-1, time.January, 1, 0, 0, 0, 0, loc)
		end = time.Date(ref.Year()-1, time.December, 31, 23, 59, 59, 0, loc)
	case LastHour:
		start, end = ref.Add(-time.Hour), ref
	case Last24Hours:
		start, end = ref.Add(-24*time.Hour), ref
	default:
		start, end = ref.AddDate(0, 0, -7), ref
	}

	return Range{Start: start.UTC(), End: end.UTC(), Type: rangeType}
}

// Known reports whether rangeType is a recognized named range.
func Known(rangeType string) bool {
	switch rangeType {
	case Last7Days, Last30Days, Last90Days, Yesterday, LastWeek, LastMonth,
		MonthToDate, QuarterToDate, YearToDate, LastYear, LastHour,
		Last24Hours, Incremental:
		return true
	}
	return false
}

// DefaultOverlap is subtracted from the previous completion time when
// computing an incremental window, so rows landing during the previous run
// are not missed.
const DefaultOverlap = time.Minute

// IncrementalRange computes the window for an incremental report. A nil
// lastCompletedAt means this is the first run, which falls back to the last
// 7 days. Otherwise the window starts at lastCompletedAt minus overlap.
func IncrementalRange(lastCompletedAt *time.Time, now time.Time, overlap time.Duration) Range {
	if lastCompletedAt == nil {
		return Range{
			Start: now.UTC().AddDate(0, 0, -7),
			End:   now.UTC(),
			Type:  Incremental,
		}
	}
	return Range{
		Start: lastCompletedAt.UTC().Add(-overlap),
		End:   now.UTC(),
		Type:  Incremental,
	}
}
