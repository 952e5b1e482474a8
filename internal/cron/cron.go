// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

// Package cron parses standard 5-field cron expressions and computes fire
// times in arbitrary IANA timezones, including across DST transitions.
package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Expression represents a parsed cron expression.
// Standard 5-field format: minute hour day-of-month month day-of-week
type Expression struct {
	Minutes     []int // 0-59
	Hours       []int // 0-23
	DaysOfMonth []int // 1-31
	Months      []int // 1-12
	DaysOfWeek  []int // 0-6 (0 = Sunday)
}

// Parse parses a standard 5-field cron expression.
// Format: minute hour day-of-month month day-of-week
//
// Supported syntax:
//   - * (any value)
//   - n (specific value)
//   - n-m (range)
//   - n,m,o (list)
//   - */n (step from start)
//   - n-m/s (step in range)
//
// Examples:
//   - "0 9 * * *" - Daily at 9:00 AM
//   - "0 9 * * 1" - Every Monday at 9:00 AM
//   - "*/15 * * * *" - Every 15 minutes
//   - "0 0 1 * *" - First day of every month at midnight
func Parse(expr string) (*Expression, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}

	minutes, err := parseField(fields[0], 0, 59)
	if err != nil {
		return nil, fmt.Errorf("invalid minute field: %w", err)
	}

	hours, err := parseField(fields[1], 0, 23)
	if err != nil {
		return nil, fmt.Errorf("invalid hour field: %w", err)
	}

	daysOfMonth, err := parseField(fields[2], 1, 31)
	if err != nil {
		return nil, fmt.Errorf("invalid day-of-month field: %w", err)
	}

	months, err := parseField(fields[3], 1, 12)
	if err != nil {
		return nil, fmt.Errorf("invalid month field: %w", err)
	}

	daysOfWeek, err := parseField(fields[4], 0, 7)
	if err != nil {
		return nil, fmt.Errorf("invalid day-of-week field: %w", err)
	}

	// Normalize day 7 (Sunday) to day 0
	normalizedDOW := make([]int, 0, len(daysOfWeek))
	for _, d := range daysOfWeek {
		if d == 7 {
			d = 0
		}
		normalizedDOW = append(normalizedDOW, d)
	}
	daysOfWeek = uniqueInts(normalizedDOW)

	return &Expression{
		Minutes:     minutes,
		Hours:       hours,
		DaysOfMonth: daysOfMonth,
		Months:      months,
		DaysOfWeek:  daysOfWeek,
	}, nil
}

// Validate reports whether expr is a parseable cron expression.
func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

// Limit the minute-iteration search to prevent infinite loops (4 years).
const maxIterations = 365 * 24 * 60 * 4

// Next calculates the next fire time strictly after the given time,
// evaluating the expression against wall-clock time in loc. If loc is nil,
// UTC is used. The result is an absolute instant (convert with .UTC() before
// persisting).
//
// DST transitions are handled per wall-clock semantics:
//   - Spring forward: a fire time that falls inside the skipped interval
//     fires once, at the first instant after the gap.
//   - Fall back: a fire time inside the repeated interval fires once, at
//     its first occurrence.
//
// Returns the zero time if no match is found within the search horizon,
// which only happens for expressions that can never fire (e.g. Feb 30).
func (e *Expression) Next(after time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t := after.In(loc)

	// Start from the next whole minute.
	prev := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, loc)
	t = prev.Add(time.Minute)

	for i := 0; i < maxIterations; i++ {
		// A positive offset jump between consecutive absolute minutes means
		// wall-clock minutes were skipped (spring forward). If the expression
		// matched any skipped minute, fire at the first instant after the gap.
		if skipped := skippedWallMinutes(prev, t); skipped > 0 {
			if e.matchesAnySkipped(prev, skipped) {
				return t
			}
		}
		if e.matches(t) && firstOccurrence(t, loc) {
			return t
		}
		prev = t
		t = t.Add(time.Minute)
	}

	return time.Time{}
}

// NextN returns up to n successive fire times strictly after the given time.
// It returns fewer than n only if the expression stops matching within the
// search horizon.
func (e *Expression) NextN(after time.Time, loc *time.Location, n int) []time.Time {
	out := make([]time.Time, 0, n)
	t := after
	for len(out) < n {
		t = e.Next(t, loc)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out
}

// matches checks if the given time matches the cron expression.
func (e *Expression) matches(t time.Time) bool {
	return e.matchesWall(t.Minute(), t.Hour(), t.Day(), int(t.Month()), int(t.Weekday()))
}

// matchesWall evaluates the expression against raw wall-clock components.
func (e *Expression) matchesWall(minute, hour, day, month, weekday int) bool {
	if !containsInt(e.Minutes, minute) {
		return false
	}
	if !containsInt(e.Hours, hour) {
		return false
	}
	if !containsInt(e.Months, month) {
		return false
	}

	// Day-of-month and day-of-week are OR'd together (standard cron behavior)
	// If both are specified (not *), either matching is sufficient
	domMatch := containsInt(e.DaysOfMonth, day)
	dowMatch := containsInt(e.DaysOfWeek, weekday)

	domWildcard := len(e.DaysOfMonth) == 31
	dowWildcard := len(e.DaysOfWeek) == 7

	if domWildcard && dowWildcard {
		return true
	}
	if domWildcard {
		return dowMatch
	}
	if dowWildcard {
		return domMatch
	}
	return domMatch || dowMatch
}

// skippedWallMinutes returns the number of wall-clock minutes that fall
// between two consecutive absolute minutes, which is nonzero only when the
// UTC offset increased across the boundary.
func skippedWallMinutes(prev, t time.Time) int {
	_, prevOff := prev.Zone()
	_, off := t.Zone()
	if off <= prevOff {
		return 0
	}
	return (off - prevOff) / 60
}

// matchesAnySkipped reports whether the expression matches any of the wall
// minutes skipped by a spring-forward transition. The skipped minutes are
// evaluated as naive wall-clock values since they do not exist as instants.
func (e *Expression) matchesAnySkipped(prev time.Time, skipped int) bool {
	naive := time.Date(prev.Year(), prev.Month(), prev.Day(), prev.Hour(), prev.Minute(), 0, 0, time.UTC)
	for k := 1; k <= skipped; k++ {
		w := naive.Add(time.Duration(k) * time.Minute)
		if e.matchesWall(w.Minute(), w.Hour(), w.Day(), int(w.Month()), int(w.Weekday())) {
			return true
		}
	}
	return false
}

// firstOccurrence reports whether t is the first instant carrying its
// wall-clock reading. During a fall-back transition the repeated hour's
// second pass re-maps to an earlier instant and is rejected.
func firstOccurrence(t time.Time, loc *time.Location) bool {
	canonical := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, loc)
	return !canonical.Before(t)
}

// parseField parses a single cron field.
func parseField(field string, minVal, maxVal int) ([]int, error) {
	if field == "*" {
		return rangeInts(minVal, maxVal), nil
	}

	// Handle list (e.g., "1,3,5")
	if strings.Contains(field, ",") {
		var result []int
		for _, part := range strings.Split(field, ",") {
			values, err := parseFieldPart(part, minVal, maxVal)
			if err != nil {
				return nil, err
			}
			result = append(result, values...)
		}
		return uniqueInts(result), nil
	}

	return parseFieldPart(field, minVal, maxVal)
}

// parseFieldPart parses a single part of a cron field (non-list).
//
//nolint:gocyclo // Cron parsing requires handling multiple format cases
func parseFieldPart(part string, minVal, maxVal int) ([]int, error) {
	// Handle step (e.g., "*/5" or "0-30/5")
	if strings.Contains(part, "/") {
		parts := strings.SplitN(part, "/", 2)
		step, err := strconv.Atoi(parts[1])
		if err != nil || step <= 0 {
			return nil, fmt.Errorf("invalid step value: %s", parts[1])
		}

		var rangeStart, rangeEnd int
		if parts[0] == "*" {
			rangeStart = minVal
			rangeEnd = maxVal
		} else if strings.Contains(parts[0], "-") {
			rangeParts := strings.SplitN(parts[0], "-", 2)
			rangeStart, err = strconv.Atoi(rangeParts[0])
			if err != nil {
				return nil, fmt.Errorf("invalid range start: %s", rangeParts[0])
			}
			rangeEnd, err = strconv.Atoi(rangeParts[1])
			if err != nil {
				return nil, fmt.Errorf("invalid range end: %s", rangeParts[1])
			}
		} else {
			rangeStart, err = strconv.Atoi(parts[0])
			if err != nil {
				return nil, fmt.Errorf("invalid value: %s", parts[0])
			}
			rangeEnd = maxVal
		}

		var result []int
		for i := rangeStart; i <= rangeEnd; i += step {
			if i >= minVal && i <= maxVal {
				result = append(result, i)
			}
		}
		return result, nil
	}

	// Handle range (e.g., "1-5")
	if strings.Contains(part, "-") {
		rangeParts := strings.SplitN(part, "-", 2)
		start, err := strconv.Atoi(rangeParts[0])
		if err != nil {
			return nil, fmt.Errorf("invalid range start: %s", rangeParts[0])
		}
		end, err := strconv.Atoi(rangeParts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid range end: %s", rangeParts[1])
		}
		if start > end || start < minVal || end > maxVal {
			return nil, fmt.Errorf("invalid range: %d-%d (minVal=%d, maxVal=%d)", start, end, minVal, maxVal)
		}
		return rangeInts(start, end), nil
	}

	// Handle single value
	val, err := strconv.Atoi(part)
	if err != nil {
		return nil, fmt.Errorf("invalid value: %s", part)
	}
	if val < minVal || val > maxVal {
		return nil, fmt.Errorf("value out of range: %d (minVal=%d, maxVal=%d)", val, minVal, maxVal)
	}
	return []int{val}, nil
}

// rangeInts returns a slice of integers from start to end (inclusive).
func rangeInts(start, end int) []int {
	result := make([]int, end-start+1)
	for i := range result {
		result[i] = start + i
	}
	return result
}

// containsInt checks if a slice contains a value.
func containsInt(slice []int, val int) bool {
	for _, v := range slice {
		if v == val {
			return true
		}
	}
	return false
}

// uniqueInts removes duplicates and sorts the slice.
func uniqueInts(slice []int) []int {
	seen := make(map[int]bool)
	var result []int
	for _, v := range slice {
		if !seen[v] {
			seen[v] = true
			result = append(result, v)
		}
	}
	for i := 0; i < len(result)-1; i++ {
		for j := i + 1; j < len(result); j++ {
			if result[i] > result[j] {
				result[i], result[j] = result[j], result[i]
			}
		}
	}
	return result
}

// NextAfter is a convenience function to parse a cron expression and
// calculate the next fire time after the given instant in the named
// timezone. An empty timezone means UTC.
func NextAfter(cronExpr string, after time.Time, timezone string) (time.Time, error) {
	expr, err := Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}

	loc, err := LoadLocation(timezone)
	if err != nil {
		return time.Time{}, err
	}

	return expr.Next(after, loc), nil
}

// LoadLocation resolves an IANA timezone name, treating "" as UTC.
func LoadLocation(timezone string) (*time.Location, error) {
	if timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}
	return loc, nil
}
