// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

package cron

import (
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{name: "daily at 9am", expr: "0 9 * * *"},
		{name: "every monday", expr: "0 9 * * 1"},
		{name: "every 15 minutes", expr: "*/15 * * * *"},
		{name: "first of month", expr: "0 0 1 * *"},
		{name: "range with step", expr: "0-30/10 * * * *"},
		{name: "list", expr: "0 9,17 * * 1-5"},
		{name: "sunday as 7", expr: "0 0 * * 7"},
		{name: "too few fields", expr: "0 9 * *", wantErr: true},
		{name: "too many fields", expr: "0 9 * * * *", wantErr: true},
		{name: "minute out of range", expr: "60 * * * *", wantErr: true},
		{name: "hour out of range", expr: "0 24 * * *", wantErr: true},
		{name: "day zero", expr: "0 0 0 * *", wantErr: true},
		{name: "garbage", expr: "not a cron", wantErr: true},
		{name: "invalid step", expr: "*/0 * * * *", wantErr: true},
		{name: "inverted range", expr: "30-10 * * * *", wantErr: true},
		{name: "empty", expr: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Errorf("Parse(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
		})
	}
}

func TestParseSundayNormalization(t *testing.T) {
	e, err := Parse("0 0 * * 7")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(e.DaysOfWeek) != 1 || e.DaysOfWeek[0] != 0 {
		t.Errorf("DaysOfWeek = %v, want [0]", e.DaysOfWeek)
	}

	e, err = Parse("0 0 * * 0,7")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(e.DaysOfWeek) != 1 || e.DaysOfWeek[0] != 0 {
		t.Errorf("DaysOfWeek = %v, want deduplicated [0]", e.DaysOfWeek)
	}
}

func TestNext(t *testing.T) {
	tests := []struct {
		name  string
		expr  string
		after time.Time
		want  time.Time
	}{
		{
			name:  "same day later hour",
			expr:  "0 9 * * *",
			after: time.Date(2026, 8, 24, 6, 0, 0, 0, time.UTC),
			want:  time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC),
		},
		{
			name:  "rolls to next day",
			expr:  "0 9 * * *",
			after: time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
			want:  time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC),
		},
		{
			name:  "strictly after exact match",
			expr:  "0 9 * * *",
			after: time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC),
			want:  time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC),
		},
		{
			name:  "every 15 minutes",
			expr:  "*/15 * * * *",
			after: time.Date(2026, 8, 24, 10, 7, 0, 0, time.UTC),
			want:  time.Date(2026, 8, 24, 10, 15, 0, 0, time.UTC),
		},
		{
			// 2026-08-24 is a Monday; from Wednesday the 19th the next
			// Monday fire is the 24th.
			name:  "weekly monday",
			expr:  "0 9 * * 1",
			after: time.Date(2026, 8, 19, 12, 0, 0, 0, time.UTC),
			want:  time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC),
		},
		{
			name:  "first of month",
			expr:  "0 0 1 * *",
			after: time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC),
			want:  time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			// dom 15 OR dow Monday, whichever comes first.
			name:  "dom and dow are or-ed",
			expr:  "0 0 15 * 1",
			after: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC),
			want:  time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Parse(tt.expr)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			got := e.Next(tt.after, time.UTC)
			if !got.Equal(tt.want) {
				t.Errorf("Next() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextInTimezone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	e, err := Parse("0 9 * * *")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	// 9 AM wall clock in New York during EDT is 13:00 UTC.
	after := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	got := e.Next(after, ny)
	want := time.Date(2026, 8, 24, 13, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Next() = %v, want %v", got.UTC(), want)
	}
}

func TestNextSpringForwardGap(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	// US DST begins 2026-03-08: wall clocks jump from 02:00 EST to 03:00
	// EDT. A 02:30 fire has no instant that day; it must fire exactly once,
	// at the first instant after the gap (03:00 EDT = 07:00 UTC).
	e, err := Parse("30 2 * * *")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	after := time.Date(2026, 3, 8, 0, 0, 0, 0, ny)
	got := e.Next(after, ny)
	want := time.Date(2026, 3, 8, 7, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Next() = %v, want %v (first instant after the gap)", got.UTC(), want)
	}

	// The following day fires normally at 02:30 EDT.
	got = e.Next(got, ny)
	want = time.Date(2026, 3, 9, 6, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Next() after gap fire = %v, want %v", got.UTC(), want)
	}
}

func TestNextFallBackFiresOnce(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	// US DST ends 2026-11-01: 01:30 wall clock occurs twice (EDT then EST).
	// The fire happens at the first occurrence only.
	e, err := Parse("30 1 * * *")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	after := time.Date(2026, 11, 1, 0, 0, 0, 0, ny)
	first := e.Next(after, ny)
	wantFirst := time.Date(2026, 11, 1, 5, 30, 0, 0, time.UTC) // 01:30 EDT
	if !first.Equal(wantFirst) {
		t.Fatalf("Next() = %v, want %v (first occurrence)", first.UTC(), wantFirst)
	}

	// The repeated 01:30 EST an hour later must be skipped; the next fire
	// is the following day.
	second := e.Next(first, ny)
	wantSecond := time.Date(2026, 11, 2, 6, 30, 0, 0, time.UTC) // 01:30 EST
	if !second.Equal(wantSecond) {
		t.Errorf("Next() = %v, want %v (repeated hour skipped)", second.UTC(), wantSecond)
	}
}

func TestNextNeverMatches(t *testing.T) {
	// February 30th does not exist; the search horizon must terminate.
	e, err := Parse("0 0 30 2 *")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	got := e.Next(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.UTC)
	if !got.IsZero() {
		t.Errorf("Next() = %v, want zero time", got)
	}
}

func TestNextN(t *testing.T) {
	e, err := Parse("0 9 * * *")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	after := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	runs := e.NextN(after, time.UTC, 3)
	if len(runs) != 3 {
		t.Fatalf("NextN() returned %d runs, want 3", len(runs))
	}
	for i, run := range runs {
		want := time.Date(2026, 8, 24+i, 9, 0, 0, 0, time.UTC)
		if !run.Equal(want) {
			t.Errorf("runs[%d] = %v, want %v", i, run, want)
		}
	}
}

func TestNextAfter(t *testing.T) {
	after := time.Date(2026, 8, 24, 6, 0, 0, 0, time.UTC)

	got, err := NextAfter("0 9 * * *", after, "UTC")
	if err != nil {
		t.Fatalf("NextAfter() error = %v", err)
	}
	want := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("NextAfter() = %v, want %v", got, want)
	}

	if _, err := NextAfter("bad", after, "UTC"); err == nil {
		t.Error("NextAfter() with invalid expression, want error")
	}
	if _, err := NextAfter("0 9 * * *", after, "Not/AZone"); err == nil {
		t.Error("NextAfter() with invalid timezone, want error")
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{expr: "* * * * *", want: "Every minute"},
		{expr: "*/15 * * * *", want: "Every 15 minutes"},
		{expr: "0 9 * * *", want: "At 09:00"},
		{expr: "0 9 * * 1", want: "At 09:00, only on Monday"},
		{expr: "0 0 1 * *", want: "At 00:00, on day 1 of the month"},
		{expr: "30 8 * * 1,5", want: "At 08:30, only on Monday, Friday"},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Describe(tt.expr)
			if err != nil {
				t.Fatalf("Describe() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Describe(%q) = %q, want %q", tt.expr, got, tt.want)
			}
		})
	}

	if _, err := Describe("bad expr"); err == nil {
		t.Error("Describe() with invalid expression, want error")
	}
}
