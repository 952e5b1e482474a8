// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/reportus/internal/burst"
	"github.com/tomtom215/reportus/internal/config"
	"github.com/tomtom215/reportus/internal/models"
)

// stubScanStore implements ScanStore in memory.
type stubScanStore struct {
	mu          sync.Mutex
	due         []models.Schedule
	tenants     map[string]*models.Tenant
	runs        []*models.ExecutionRun
	enqueued    []string
	deactivated map[string]string
	failEnqueue bool
}

func newStubScanStore() *stubScanStore {
	return &stubScanStore{
		tenants: map[string]*models.Tenant{
			"tenant-1": {ID: "tenant-1", Tier: models.TierStandard, IsActive: true},
		},
		deactivated: make(map[string]string),
	}
}

func (s *stubScanStore) ListDueSchedules(context.Context, time.Time, int) ([]models.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.due, nil
}

func (s *stubScanStore) MarkScheduleEnqueued(_ context.Context, _, id string, _, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueued = append(s.enqueued, id)
	return nil
}

func (s *stubScanStore) DeactivateSchedule(_ context.Context, _, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deactivated[id] = reason
	return nil
}

func (s *stubScanStore) GetTenant(_ context.Context, id string) (*models.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, fmt.Errorf("tenant %s not found", id)
	}
	return t, nil
}

func (s *stubScanStore) CreateExecutionRun(_ context.Context, r *models.ExecutionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = fmt.Sprintf("run-%d", len(s.runs)+1)
	r.Status = models.RunPending
	s.runs = append(s.runs, r)
	return nil
}

func (s *stubScanStore) FailExecutionRun(_ context.Context, _, id string, _ time.Time, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if r.ID == id {
			r.Status = models.RunFailed
			r.ErrorMessage = errMsg
			return nil
		}
	}
	return fmt.Errorf("run %s not found", id)
}

// stubPublisher records published tasks.
type stubPublisher struct {
	mu    sync.Mutex
	tasks []models.TaskDescriptor
	fail  bool
}

func (p *stubPublisher) PublishReportTask(_ context.Context, task models.TaskDescriptor) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return fmt.Errorf("queue unavailable")
	}
	p.tasks = append(p.tasks, task)
	return nil
}

func testScannerConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		Enabled:      true,
		ScanInterval: time.Hour, // ticks are driven manually via scanOnce
		BatchSize:    100,
		LockKey:      "scheduler:scan_lock",
		LockTTL:      time.Minute,
	}
}

func dueSchedule(id string) models.Schedule {
	next := time.Date(2026, 8, 24, 11, 59, 0, 0, time.UTC)
	return models.Schedule{
		ID:                 id,
		TenantID:           "tenant-1",
		ReportDefinitionID: "def-1",
		Name:               "n",
		CronExpression:     "0 * * * *",
		Timezone:           "UTC",
		IsActive:           true,
		NextRunAt:          &next,
	}
}

func newTestScanner(store *stubScanStore, pub *stubPublisher, limiter *burst.Limiter) *Scanner {
	sc := NewScanner(store, pub, limiter, NewScanLock(nil, "scheduler:scan_lock", time.Minute), testScannerConfig())
	sc.now = func() time.Time {
		return time.Date(2026, 8, 24, 12, 0, 30, 0, time.UTC)
	}
	return sc
}

func TestScanOnceEnqueuesDueSchedule(t *testing.T) {
	store := newStubScanStore()
	store.due = []models.Schedule{dueSchedule("s1")}
	pub := &stubPublisher{}
	sc := newTestScanner(store, pub, burst.New(nil, 5, 50))

	sc.scanOnce(context.Background())

	if len(pub.tasks) != 1 {
		t.Fatalf("published %d tasks, want 1", len(pub.tasks))
	}
	task := pub.tasks[0]
	if task.ExecutionRunID != "run-1" {
		t.Errorf("ExecutionRunID = %q, want run-1", task.ExecutionRunID)
	}
	if task.ScheduleID == nil || *task.ScheduleID != "s1" {
		t.Errorf("ScheduleID = %v, want s1", task.ScheduleID)
	}
	if len(store.enqueued) != 1 || store.enqueued[0] != "s1" {
		t.Errorf("enqueued bookkeeping = %v, want [s1]", store.enqueued)
	}
	if len(store.runs) != 1 || store.runs[0].Status != models.RunPending {
		t.Errorf("runs = %+v, want one pending run", store.runs)
	}
}

func TestScanOnceDeactivatesBrokenTimezone(t *testing.T) {
	store := newStubScanStore()
	broken := dueSchedule("s1")
	broken.Timezone = "Mars/Olympus_Mons"
	store.due = []models.Schedule{broken}
	pub := &stubPublisher{}
	sc := newTestScanner(store, pub, burst.New(nil, 5, 50))

	sc.scanOnce(context.Background())

	if len(pub.tasks) != 0 {
		t.Errorf("published %d tasks for a broken schedule, want 0", len(pub.tasks))
	}
	if _, ok := store.deactivated["s1"]; !ok {
		t.Error("broken schedule was not deactivated")
	}
}

func TestScanOnceDeactivatesInactiveTenant(t *testing.T) {
	store := newStubScanStore()
	store.tenants["tenant-1"].IsActive = false
	store.due = []models.Schedule{dueSchedule("s1")}
	pub := &stubPublisher{}
	sc := newTestScanner(store, pub, burst.New(nil, 5, 50))

	sc.scanOnce(context.Background())

	if len(pub.tasks) != 0 {
		t.Errorf("published %d tasks for an inactive tenant, want 0", len(pub.tasks))
	}
	if reason := store.deactivated["s1"]; reason != "tenant deactivated" {
		t.Errorf("deactivation reason = %q", reason)
	}
}

func TestScanOnceLeavesScheduleDueWhenPublishFails(t *testing.T) {
	store := newStubScanStore()
	store.due = []models.Schedule{dueSchedule("s1")}
	pub := &stubPublisher{fail: true}
	sc := newTestScanner(store, pub, burst.New(nil, 5, 50))

	sc.scanOnce(context.Background())

	// next_run_at is not advanced, so the next tick retries.
	if len(store.enqueued) != 0 {
		t.Errorf("schedule advanced despite publish failure: %v", store.enqueued)
	}
}

func TestScanOncePublishFailureFailsOrphanRun(t *testing.T) {
	store := newStubScanStore()
	store.due = []models.Schedule{dueSchedule("s1")}
	pub := &stubPublisher{fail: true}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	limiter := burst.New(client, 1, 50)

	sc := newTestScanner(store, pub, limiter)
	sc.scanOnce(context.Background())

	// The run must not stay pending: the burst census counts pending rows,
	// so an orphan would occupy the tenant's slot on every sync.
	if len(store.runs) != 1 || store.runs[0].Status != models.RunFailed {
		t.Fatalf("runs = %+v, want one failed run", store.runs)
	}
	if store.runs[0].ErrorMessage != "failed to enqueue task" {
		t.Errorf("error message = %q", store.runs[0].ErrorMessage)
	}

	// With the run failed and the slot released, the census sync leaves the
	// tenant free and a new run is admitted.
	census := stubRunCensus{}
	if err := limiter.SyncAll(context.Background(), census); err != nil {
		t.Fatalf("SyncAll() error = %v", err)
	}
	if scope := limiter.Admit(context.Background(), "tenant-1"); scope != burst.ScopeNone {
		t.Errorf("Admit() after failed publish = %v, want admission", scope)
	}
}

// stubRunCensus feeds SyncAll the pending+running totals the database
// would report.
type stubRunCensus map[string]int

func (c stubRunCensus) CountRunningGrouped(context.Context) (map[string]int, error) {
	return c, nil
}

func TestStartStop(t *testing.T) {
	store := newStubScanStore()
	pub := &stubPublisher{}
	sc := newTestScanner(store, pub, burst.New(nil, 5, 50))

	if err := sc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := sc.Start(context.Background()); err == nil {
		t.Error("second Start() succeeded, want error")
	}
	if err := sc.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	// Stop is idempotent.
	if err := sc.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestStartDisabled(t *testing.T) {
	store := newStubScanStore()
	pub := &stubPublisher{}
	cfg := testScannerConfig()
	cfg.Enabled = false
	sc := NewScanner(store, pub, burst.New(nil, 5, 50), NewScanLock(nil, "scheduler:scan_lock", time.Minute), cfg)

	if err := sc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := sc.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if len(pub.tasks) != 0 {
		t.Errorf("disabled scanner published %d tasks", len(pub.tasks))
	}
}
