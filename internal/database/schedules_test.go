// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/tomtom215/reportus/internal/models"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return NewWithConn(conn), mock
}

func scheduleRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "tenant_id", "report_definition_id", "name", "cron_expression",
		"timezone", "is_active", "next_run_at", "last_run_at",
		"email_delivery_config", "failure_reason", "created_by", "created_at",
		"updated_at",
	})
}

func TestCreateSchedule(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("INSERT INTO schedule").
		WithArgs(
			sqlmock.AnyArg(), "tenant-1", "def-1", "Weekly sales", "0 9 * * 1",
			"America/New_York", true, sqlmock.AnyArg(), nil,
			sqlmock.AnyArg(), nil, "user-1", sqlmock.AnyArg(), sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	next := time.Date(2026, 8, 31, 13, 0, 0, 0, time.UTC)
	s := &models.Schedule{
		TenantID:           "tenant-1",
		ReportDefinitionID: "def-1",
		Name:               "Weekly sales",
		CronExpression:     "0 9 * * 1",
		Timezone:           "America/New_York",
		IsActive:           true,
		NextRunAt:          &next,
		EmailDelivery:      &models.EmailDeliveryConfig{Recipients: []string{"a@example.com"}},
		CreatedBy:          "user-1",
	}
	if err := db.CreateSchedule(context.Background(), s); err != nil {
		t.Fatalf("CreateSchedule() error = %v", err)
	}
	if s.ID == "" {
		t.Error("CreateSchedule() did not assign an ID")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetScheduleNotFound(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("SELECT(.|\n)*FROM schedule").
		WithArgs("tenant-1", "missing").
		WillReturnRows(scheduleRows())

	_, err := db.GetSchedule(context.Background(), "tenant-1", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSchedule() error = %v, want ErrNotFound", err)
	}
}

func TestGetScheduleScansDeliveryConfig(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()

	rows := scheduleRows().AddRow(
		"sched-1", "tenant-1", "def-1", "Daily", "0 9 * * *",
		"UTC", true, now.Add(time.Hour), nil,
		`{"recipients":["a@example.com","b@example.com"]}`, nil,
		"user-1", now, now,
	)
	mock.ExpectQuery("SELECT(.|\n)*FROM schedule").
		WithArgs("tenant-1", "sched-1").
		WillReturnRows(rows)

	s, err := db.GetSchedule(context.Background(), "tenant-1", "sched-1")
	if err != nil {
		t.Fatalf("GetSchedule() error = %v", err)
	}
	if s.EmailDelivery == nil || len(s.EmailDelivery.Recipients) != 2 {
		t.Errorf("EmailDelivery = %+v, want 2 recipients", s.EmailDelivery)
	}
	if s.NextRunAt == nil {
		t.Error("NextRunAt = nil, want set")
	}
}

func TestListSchedulesPagination(t *testing.T) {
	db, mock := newMockDB(t)
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	// Three rows returned for limit 2 means another page exists.
	rows := scheduleRows()
	for i, id := range []string{"s3", "s2", "s1"} {
		rows.AddRow(id, "tenant-1", "def-1", "n", "0 9 * * *", "UTC", true,
			nil, nil, nil, nil, "user-1", base.Add(-time.Duration(i)*time.Minute), base)
	}
	mock.ExpectQuery("SELECT(.|\n)*FROM schedule").
		WithArgs("tenant-1").
		WillReturnRows(rows)

	schedules, next, err := db.ListSchedules(context.Background(), "tenant-1", nil, 2, "")
	if err != nil {
		t.Fatalf("ListSchedules() error = %v", err)
	}
	if len(schedules) != 2 {
		t.Fatalf("len(schedules) = %d, want 2", len(schedules))
	}
	if next == "" {
		t.Error("next cursor empty, want token for further page")
	}

	c, ok := DecodeCursor(next)
	if !ok {
		t.Fatal("returned cursor does not decode")
	}
	if c.ID != "s2" {
		t.Errorf("cursor.ID = %q, want last returned row s2", c.ID)
	}
}

func TestListSchedulesLastPage(t *testing.T) {
	db, mock := newMockDB(t)
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	rows := scheduleRows().
		AddRow("s1", "tenant-1", "def-1", "n", "0 9 * * *", "UTC", true,
			nil, nil, nil, nil, "user-1", base, base)
	mock.ExpectQuery("SELECT(.|\n)*FROM schedule").
		WithArgs("tenant-1").
		WillReturnRows(rows)

	schedules, next, err := db.ListSchedules(context.Background(), "tenant-1", nil, 2, "")
	if err != nil {
		t.Fatalf("ListSchedules() error = %v", err)
	}
	if len(schedules) != 1 || next != "" {
		t.Errorf("got %d rows, cursor %q; want 1 row and empty cursor", len(schedules), next)
	}
}

func TestListSchedulesActiveFilter(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("SELECT(.|\n)*FROM schedule(.|\n)*is_active").
		WithArgs("tenant-1", true).
		WillReturnRows(scheduleRows())

	active := true
	_, _, err := db.ListSchedules(context.Background(), "tenant-1", &active, 10, "")
	if err != nil {
		t.Fatalf("ListSchedules() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestListSchedulesMalformedCursorStartsOver(t *testing.T) {
	db, mock := newMockDB(t)

	// Only the tenant arg: the malformed cursor must not add predicates.
	mock.ExpectQuery("SELECT(.|\n)*FROM schedule").
		WithArgs("tenant-1").
		WillReturnRows(scheduleRows())

	_, _, err := db.ListSchedules(context.Background(), "tenant-1", nil, 10, "not-a-cursor")
	if err != nil {
		t.Fatalf("ListSchedules() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestListDueSchedules(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	rows := scheduleRows().
		AddRow("s1", "tenant-1", "def-1", "n", "0 * * * *", "UTC", true,
			now.Add(-time.Minute), nil, nil, nil, "user-1", now, now)
	mock.ExpectQuery("SELECT(.|\n)*FROM schedule(.|\n)*next_run_at <=").
		WithArgs(now, 100).
		WillReturnRows(rows)

	due, err := db.ListDueSchedules(context.Background(), now, 100)
	if err != nil {
		t.Fatalf("ListDueSchedules() error = %v", err)
	}
	if len(due) != 1 || due[0].ID != "s1" {
		t.Errorf("due = %+v, want one schedule s1", due)
	}
}

func TestMarkScheduleEnqueuedNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()

	mock.ExpectExec("UPDATE schedule").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "tenant-1", "gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := db.MarkScheduleEnqueued(context.Background(), "tenant-1", "gone", now, now.Add(time.Hour))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkScheduleEnqueued() error = %v, want ErrNotFound", err)
	}
}

func TestDeactivateSchedule(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("UPDATE schedule").
		WithArgs("tz database entry removed", sqlmock.AnyArg(), "tenant-1", "s1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := db.DeactivateSchedule(context.Background(), "tenant-1", "s1", "tz database entry removed")
	if err != nil {
		t.Fatalf("DeactivateSchedule() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCountActiveSchedules(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("SELECT COUNT(.*) FROM schedule").
		WithArgs("tenant-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	count, err := db.CountActiveSchedules(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("CountActiveSchedules() error = %v", err)
	}
	if count != 7 {
		t.Errorf("count = %d, want 7", count)
	}
}
