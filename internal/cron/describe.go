// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

package cron

import (
	"fmt"
	"strings"
	"time"
)

// Describe converts a cron expression to a human-readable description for
// schedule previews, e.g. "At 09:00, only on Monday". Uncommon shapes fall
// back to a per-field rendering rather than failing.
func Describe(expr string) (string, error) {
	e, err := Parse(expr)
	if err != nil {
		return "", err
	}

	var parts []string
	parts = append(parts, describeTime(e))

	if dom := describeDaysOfMonth(e); dom != "" {
		parts = append(parts, dom)
	}
	if dow := describeDaysOfWeek(e); dow != "" {
		parts = append(parts, dow)
	}
	if mon := describeMonths(e); mon != "" {
		parts = append(parts, mon)
	}

	return strings.Join(parts, ", "), nil
}

func describeTime(e *Expression) string {
	everyMinute := len(e.Minutes) == 60
	everyHour := len(e.Hours) == 24

	switch {
	case everyMinute && everyHour:
		return "Every minute"
	case everyMinute:
		return fmt.Sprintf("Every minute, %s", hourList(e.Hours))
	case everyHour && isStep(e.Minutes, 60):
		return fmt.Sprintf("Every %d minutes", e.Minutes[1]-e.Minutes[0])
	case everyHour && len(e.Minutes) == 1:
		return fmt.Sprintf("At %d minutes past every hour", e.Minutes[0])
	case len(e.Minutes) == 1 && len(e.Hours) == 1:
		return fmt.Sprintf("At %02d:%02d", e.Hours[0], e.Minutes[0])
	case len(e.Minutes) == 1:
		return fmt.Sprintf("At minute %d, %s", e.Minutes[0], hourList(e.Hours))
	default:
		return fmt.Sprintf("At minutes %s, %s", intList(e.Minutes), hourList(e.Hours))
	}
}

func describeDaysOfMonth(e *Expression) string {
	if len(e.DaysOfMonth) == 31 {
		return ""
	}
	if len(e.DaysOfMonth) == 1 {
		return fmt.Sprintf("on day %d of the month", e.DaysOfMonth[0])
	}
	return fmt.Sprintf("on days %s of the month", intList(e.DaysOfMonth))
}

func describeDaysOfWeek(e *Expression) string {
	if len(e.DaysOfWeek) == 7 {
		return ""
	}
	names := make([]string, 0, len(e.DaysOfWeek))
	for _, d := range e.DaysOfWeek {
		names = append(names, time.Weekday(d).String())
	}
	if len(names) == 1 {
		return "only on " + names[0]
	}
	return "only on " + strings.Join(names, ", ")
}

func describeMonths(e *Expression) string {
	if len(e.Months) == 12 {
		return ""
	}
	names := make([]string, 0, len(e.Months))
	for _, m := range e.Months {
		names = append(names, time.Month(m).String())
	}
	if len(names) == 1 {
		return "only in " + names[0]
	}
	return "only in " + strings.Join(names, ", ")
}

// isStep reports whether values form an even step covering the full field
// width, e.g. 0,15,30,45 over 60.
func isStep(values []int, width int) bool {
	if len(values) < 2 || values[0] != 0 {
		return false
	}
	step := values[1] - values[0]
	if step <= 1 || width%step != 0 || len(values) != width/step {
		return false
	}
	for i := 1; i < len(values); i++ {
		if values[i]-values[i-1] != step {
			return false
		}
	}
	return true
}

func hourList(hours []int) string {
	if len(hours) == 1 {
		return fmt.Sprintf("at hour %d", hours[0])
	}
	return fmt.Sprintf("at hours %s", intList(hours))
}

func intList(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return strings.Join(parts, ", ")
}
