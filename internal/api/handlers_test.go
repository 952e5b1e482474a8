// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/reportus/internal/audit"
	"github.com/tomtom215/reportus/internal/blob"
	"github.com/tomtom215/reportus/internal/burst"
	"github.com/tomtom215/reportus/internal/config"
	"github.com/tomtom215/reportus/internal/database"
	"github.com/tomtom215/reportus/internal/models"
	"github.com/tomtom215/reportus/internal/scheduler"
)

const (
	testTenant     = "tenant-1"
	testDefinition = "7f6f6e1e-8f8b-4d3e-9a6e-2d1c3b4a5d6e"
)

// stubStore backs both the handlers and the schedule service in tests.
type stubStore struct {
	mu sync.Mutex

	tenants     map[string]*models.Tenant
	definitions map[string]*models.ReportDefinition
	schedules   map[string]*models.Schedule
	runs        map[string]*models.ExecutionRun
	artifacts   map[string]*models.Artifact
	receipts    map[string][]models.DeliveryReceipt

	nextID int
}

func newStubStore() *stubStore {
	return &stubStore{
		tenants: map[string]*models.Tenant{
			testTenant: {ID: testTenant, Name: "Acme", Tier: models.TierStandard, IsActive: true},
		},
		definitions: map[string]*models.ReportDefinition{},
		schedules:   map[string]*models.Schedule{},
		runs:        map[string]*models.ExecutionRun{},
		artifacts:   map[string]*models.Artifact{},
		receipts:    map[string][]models.DeliveryReceipt{},
	}
}

func (s *stubStore) id(prefix string) string {
	s.nextID++
	return fmt.Sprintf("%s-%d", prefix, s.nextID)
}

func (s *stubStore) GetTenant(_ context.Context, id string) (*models.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return t, nil
}

func (s *stubStore) CreateReportDefinition(_ context.Context, d *models.ReportDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == "" {
		d.ID = s.id("def")
	}
	d.CreatedAt = time.Now().UTC()
	s.definitions[d.ID] = d
	return nil
}

func (s *stubStore) GetReportDefinition(_ context.Context, tenantID, id string) (*models.ReportDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.definitions[id]
	if !ok || d.TenantID != tenantID {
		return nil, database.ErrNotFound
	}
	return d, nil
}

func (s *stubStore) UpdateReportDefinition(_ context.Context, d *models.ReportDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.definitions[d.ID]
	if !ok || existing.TenantID != d.TenantID {
		return database.ErrNotFound
	}
	s.definitions[d.ID] = d
	return nil
}

func (s *stubStore) ListReportDefinitions(_ context.Context, tenantID string, limit int, _ string) ([]models.ReportDefinition, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ReportDefinition
	for _, d := range s.definitions {
		if d.TenantID == tenantID && len(out) < limit {
			out = append(out, *d)
		}
	}
	return out, "", nil
}

func (s *stubStore) CreateSchedule(_ context.Context, sched *models.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sched.ID == "" {
		sched.ID = s.id("sched")
	}
	s.schedules[sched.ID] = sched
	return nil
}

func (s *stubStore) GetSchedule(_ context.Context, tenantID, id string) (*models.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok || sched.TenantID != tenantID {
		return nil, database.ErrNotFound
	}
	return sched, nil
}

func (s *stubStore) UpdateSchedule(_ context.Context, sched *models.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.schedules[sched.ID]
	if !ok || existing.TenantID != sched.TenantID {
		return database.ErrNotFound
	}
	s.schedules[sched.ID] = sched
	return nil
}

func (s *stubStore) DeleteSchedule(_ context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok || sched.TenantID != tenantID {
		return database.ErrNotFound
	}
	delete(s.schedules, id)
	return nil
}

func (s *stubStore) ListSchedules(_ context.Context, tenantID string, isActive *bool, limit int, _ string) ([]models.Schedule, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Schedule
	for _, sched := range s.schedules {
		if sched.TenantID != tenantID {
			continue
		}
		if isActive != nil && sched.IsActive != *isActive {
			continue
		}
		if len(out) < limit {
			out = append(out, *sched)
		}
	}
	return out, "", nil
}

func (s *stubStore) CountActiveSchedules(_ context.Context, tenantID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, sched := range s.schedules {
		if sched.TenantID == tenantID && sched.IsActive {
			count++
		}
	}
	return count, nil
}

func (s *stubStore) CreateExecutionRun(_ context.Context, r *models.ExecutionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = s.id("run")
	}
	if r.Status == "" {
		r.Status = models.RunPending
	}
	r.CreatedAt = time.Now().UTC()
	s.runs[r.ID] = r
	return nil
}

func (s *stubStore) GetExecutionRun(_ context.Context, tenantID, id string) (*models.ExecutionRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok || run.TenantID != tenantID {
		return nil, database.ErrNotFound
	}
	return run, nil
}

func (s *stubStore) ListExecutionRuns(_ context.Context, tenantID, scheduleID string, limit int, _ string) ([]models.ExecutionRun, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ExecutionRun
	for _, run := range s.runs {
		if run.TenantID != tenantID {
			continue
		}
		if scheduleID != "" && (run.ScheduleID == nil || *run.ScheduleID != scheduleID) {
			continue
		}
		if len(out) < limit {
			out = append(out, *run)
		}
	}
	return out, "", nil
}

func (s *stubStore) FailExecutionRun(_ context.Context, tenantID, id string, completedAt time.Time, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok || run.TenantID != tenantID {
		return database.ErrNotFound
	}
	run.Status = models.RunFailed
	run.CompletedAt = &completedAt
	run.ErrorMessage = errMsg
	return nil
}

func (s *stubStore) GetArtifact(_ context.Context, tenantID, id string) (*models.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[id]
	if !ok || a.TenantID != tenantID {
		return nil, database.ErrNotFound
	}
	return a, nil
}

func (s *stubStore) GetArtifactByRunID(_ context.Context, tenantID, runID string) (*models.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.artifacts {
		if a.TenantID == tenantID && a.ExecutionRunID == runID {
			return a, nil
		}
	}
	return nil, database.ErrNotFound
}

func (s *stubStore) UpdateArtifactSignedURL(_ context.Context, tenantID, id, signedURL string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[id]
	if !ok || a.TenantID != tenantID {
		return database.ErrNotFound
	}
	a.SignedURL = signedURL
	a.SignedURLExpiresAt = &expiresAt
	return nil
}

func (s *stubStore) ListDeliveryReceipts(_ context.Context, tenantID, artifactID string) ([]models.DeliveryReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.DeliveryReceipt
	for _, r := range s.receipts[artifactID] {
		if r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	return out, nil
}

// recordingAuditStore captures audit events for assertions.
type recordingAuditStore struct {
	mu     sync.Mutex
	events []*models.AuditEvent
}

func (s *recordingAuditStore) InsertAuditEvent(_ context.Context, e *models.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingAuditStore) ListAuditEvents(_ context.Context, tenantID string, filter database.AuditFilter, _ int, _ string) ([]models.AuditEvent, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AuditEvent
	for _, e := range s.events {
		if e.TenantID != tenantID {
			continue
		}
		if filter.ResourceID != "" && e.ResourceID != filter.ResourceID {
			continue
		}
		out = append(out, *e)
	}
	return out, "", nil
}

func (s *recordingAuditStore) CountAuditEventsByType(_ context.Context, tenantID string, _, _ time.Time) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int64)
	for _, e := range s.events {
		if e.TenantID == tenantID {
			counts[string(e.EventType)]++
		}
	}
	return counts, nil
}

func (s *recordingAuditStore) SummarizeAuditEvents(_ context.Context, tenantID string, _, _ time.Time) (*database.AuditTotals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	totals := &database.AuditTotals{}
	users := make(map[string]bool)
	artifacts := make(map[string]bool)
	for _, e := range s.events {
		if e.TenantID != tenantID {
			continue
		}
		totals.TotalEvents++
		if e.UserID != "" {
			users[e.UserID] = true
		}
		if e.ResourceType == audit.ResourceArtifact {
			artifacts[e.ResourceID] = true
		}
	}
	totals.UniqueUsers = int64(len(users))
	totals.UniqueArtifacts = int64(len(artifacts))
	return totals, nil
}

type stubPublisher struct {
	mu            sync.Mutex
	tasks         []models.TaskDescriptor
	notifications []models.Notification
	err           error
}

func (p *stubPublisher) PublishReportTask(_ context.Context, task models.TaskDescriptor) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.tasks = append(p.tasks, task)
	return nil
}

func (p *stubPublisher) PublishNotification(_ context.Context, n models.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.notifications = append(p.notifications, n)
	return nil
}

type apiFixture struct {
	store     *stubStore
	auditLog  *recordingAuditStore
	publisher *stubPublisher
	blobs     *blob.MemoryStore
	handler   *Handler
	router    http.Handler
	token     string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	store := newStubStore()
	auditLog := &recordingAuditStore{}
	publisher := &stubPublisher{}
	blobs := blob.NewMemoryStore()

	handler := NewHandler(HandlerDeps{
		Store:     store,
		Schedules: scheduler.NewService(store),
		Auditor:   audit.NewRecorder(auditLog),
		Limiter:   burst.New(nil, 5, 50),
		Publisher: publisher,
		Blobs:     blobs,
	}, config.APIConfig{DefaultPageSize: 20, MaxPageSize: 100}, 24*time.Hour)

	secCfg := config.SecurityConfig{
		JWTSecret:         "test-secret",
		RateLimitDisabled: true,
		CORSOrigins:       []string{"*"},
	}
	tokens, err := NewTokenManager(secCfg)
	if err != nil {
		t.Fatalf("NewTokenManager() error = %v", err)
	}
	token, err := tokens.Generate(testTenant, "user-1", "admin", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	health := NewHealthHandler(map[string]Pinger{
		"self": PingFunc(func(context.Context) error { return nil }),
	})

	return &apiFixture{
		store:     store,
		auditLog:  auditLog,
		publisher: publisher,
		blobs:     blobs,
		handler:   handler,
		router:    NewRouter(handler, health, tokens, secCfg),
		token:     token,
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+f.token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode envelope: %v (body %s)", err, rec.Body.String())
	}
	return resp
}

func (f *apiFixture) seedDefinition() *models.ReportDefinition {
	def := &models.ReportDefinition{
		ID:       testDefinition,
		TenantID: testTenant,
		Name:     "Weekly Sales",
		Format:   models.FormatCSV,
	}
	f.store.definitions[def.ID] = def
	return def
}

func TestCORSPreflightAllowsPatch(t *testing.T) {
	f := newAPIFixture(t)

	// Pause and resume are PATCH routes, so a browser preflight for PATCH
	// must come back allowed.
	req := httptest.NewRequest(http.MethodOptions, "/v1/schedules/sched-1/pause", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	allowed := rec.Header().Get("Access-Control-Allow-Methods")
	if !strings.Contains(allowed, http.MethodPatch) {
		t.Errorf("Access-Control-Allow-Methods = %q, want PATCH", allowed)
	}
}

func TestAuthRequired(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/reports", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	resp := decodeEnvelope(t, rec)
	if resp.Error == nil || resp.Error.Code != ErrCodeUnauthorized {
		t.Errorf("error = %+v, want %s", resp.Error, ErrCodeUnauthorized)
	}
}

func TestRejectsTokenWithWrongSecret(t *testing.T) {
	f := newAPIFixture(t)

	other, err := NewTokenManager(config.SecurityConfig{JWTSecret: "other-secret"})
	if err != nil {
		t.Fatal(err)
	}
	forged, err := other.Generate(testTenant, "user-1", "admin", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/reports", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestCreateAndGetReportDefinition(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/reports", map[string]any{
		"name":          "Weekly Sales",
		"query_spec":    map[string]any{"table": "orders"},
		"template_ref":  "templates/sales.html",
		"output_format": "pdf",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}

	resp := decodeEnvelope(t, rec)
	data, _ := resp.Data.(map[string]any)
	id, _ := data["id"].(string)
	if id == "" {
		t.Fatalf("created definition has no id: %v", resp.Data)
	}
	if data["tenant_id"] != testTenant {
		t.Errorf("tenant_id = %v, want %s", data["tenant_id"], testTenant)
	}

	rec = f.do(t, http.MethodGet, "/v1/reports/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d, want 200", rec.Code)
	}
}

func TestCreateReportDefinitionValidation(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/reports", map[string]any{
		"name":          "",
		"output_format": "docx",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	resp := decodeEnvelope(t, rec)
	if resp.Error == nil || resp.Error.Code != ErrCodeValidation {
		t.Errorf("error = %+v, want %s", resp.Error, ErrCodeValidation)
	}
}

func TestCreateScheduleInvalidCron(t *testing.T) {
	f := newAPIFixture(t)
	f.seedDefinition()

	rec := f.do(t, http.MethodPost, "/v1/schedules", map[string]any{
		"report_definition_id": testDefinition,
		"name":                 "Daily",
		"cron_expression":      "not a cron",
		"timezone":             "UTC",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
	}
	resp := decodeEnvelope(t, rec)
	if resp.Error == nil || resp.Error.Code != ErrCodeInvalidCron {
		t.Errorf("error = %+v, want %s", resp.Error, ErrCodeInvalidCron)
	}
}

func TestCreateScheduleInvalidTimezone(t *testing.T) {
	f := newAPIFixture(t)
	f.seedDefinition()

	rec := f.do(t, http.MethodPost, "/v1/schedules", map[string]any{
		"report_definition_id": testDefinition,
		"name":                 "Daily",
		"cron_expression":      "0 9 * * *",
		"timezone":             "Mars/Olympus_Mons",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	resp := decodeEnvelope(t, rec)
	if resp.Error == nil || resp.Error.Code != ErrCodeInvalidTimezone {
		t.Errorf("error = %+v, want %s", resp.Error, ErrCodeInvalidTimezone)
	}
}

func TestCreateScheduleQuotaExceeded(t *testing.T) {
	f := newAPIFixture(t)
	f.seedDefinition()

	// Standard tier allows 10 active schedules.
	for i := 0; i < 10; i++ {
		f.store.schedules[fmt.Sprintf("existing-%d", i)] = &models.Schedule{
			ID:       fmt.Sprintf("existing-%d", i),
			TenantID: testTenant,
			IsActive: true,
		}
	}

	rec := f.do(t, http.MethodPost, "/v1/schedules", map[string]any{
		"report_definition_id": testDefinition,
		"name":                 "One too many",
		"cron_expression":      "0 9 * * *",
		"timezone":             "UTC",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
	}
	resp := decodeEnvelope(t, rec)
	if resp.Error == nil || resp.Error.Code != ErrCodeQuotaExceeded {
		t.Errorf("error = %+v, want %s", resp.Error, ErrCodeQuotaExceeded)
	}
}

func TestCreateScheduleComputesNextRun(t *testing.T) {
	f := newAPIFixture(t)
	f.seedDefinition()

	rec := f.do(t, http.MethodPost, "/v1/schedules", map[string]any{
		"report_definition_id": testDefinition,
		"name":                 "Daily",
		"cron_expression":      "0 9 * * *",
		"timezone":             "America/New_York",
		"email_delivery_config": map[string]any{
			"recipients": []string{"alice@example.com"},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}
	resp := decodeEnvelope(t, rec)
	data, _ := resp.Data.(map[string]any)
	if data["next_run_at"] == nil {
		t.Error("next_run_at not set on created schedule")
	}
	if data["is_active"] != true {
		t.Error("created schedule is not active")
	}
}

func TestPreviewSchedule(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/schedules/cron/preview", map[string]any{
		"cron_expression": "0 9 * * 1",
		"timezone":        "UTC",
		"count":           5,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	resp := decodeEnvelope(t, rec)
	data, _ := resp.Data.(map[string]any)
	runs, _ := data["next_runs"].([]any)
	if len(runs) != 5 {
		t.Errorf("next_runs = %d entries, want 5", len(runs))
	}
}

func TestRunNowEnqueuesTask(t *testing.T) {
	f := newAPIFixture(t)
	f.seedDefinition()

	rec := f.do(t, http.MethodPost, "/v1/runs", map[string]any{
		"report_definition_id": testDefinition,
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body %s)", rec.Code, rec.Body.String())
	}

	resp := decodeEnvelope(t, rec)
	data, _ := resp.Data.(map[string]any)
	if data["status"] != string(models.RunPending) {
		t.Errorf("run status = %v, want pending", data["status"])
	}

	if len(f.publisher.tasks) != 1 {
		t.Fatalf("published tasks = %d, want 1", len(f.publisher.tasks))
	}
	task := f.publisher.tasks[0]
	if task.ReportDefinitionID != testDefinition || task.TenantID != testTenant {
		t.Errorf("task = %+v", task)
	}
	if task.ScheduleID != nil {
		t.Error("manual run task carries a schedule ID")
	}
}

func TestRunNowUnknownDefinition(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/runs", map[string]any{
		"report_definition_id": testDefinition,
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if len(f.publisher.tasks) != 0 {
		t.Error("task published for missing definition")
	}
}

func TestRunNowPublishFailureFailsRun(t *testing.T) {
	f := newAPIFixture(t)
	f.seedDefinition()
	f.publisher.err = fmt.Errorf("stream unavailable")

	rec := f.do(t, http.MethodPost, "/v1/runs", map[string]any{
		"report_definition_id": testDefinition,
	})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}

	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	if len(f.store.runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(f.store.runs))
	}
	for _, run := range f.store.runs {
		if run.Status != models.RunFailed {
			t.Errorf("run status = %s, want failed", run.Status)
		}
	}
}

func TestDownloadArtifactRefreshesSignedURL(t *testing.T) {
	f := newAPIFixture(t)

	stale := time.Now().UTC().Add(-time.Hour)
	f.store.artifacts["art-1"] = &models.Artifact{
		ID:                 "art-1",
		TenantID:           testTenant,
		ExecutionRunID:     "run-1",
		BlobPath:           "tenant-1/run-1/report_run-1.pdf",
		FileFormat:         models.FormatPDF,
		SignedURL:          "https://example.com/expired",
		SignedURLExpiresAt: &stale,
	}
	if err := f.blobs.Put(context.Background(), "tenant-1/run-1/report_run-1.pdf", blob.Object{Data: []byte("%PDF-")}); err != nil {
		t.Fatal(err)
	}

	rec := f.do(t, http.MethodPost, "/v1/artifacts/art-1/download", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}

	resp := decodeEnvelope(t, rec)
	data, _ := resp.Data.(map[string]any)
	url, _ := data["signed_url"].(string)
	if url == "" || url == "https://example.com/expired" {
		t.Errorf("signed_url = %q, want a refreshed URL", url)
	}

	f.auditLog.mu.Lock()
	defer f.auditLog.mu.Unlock()
	if len(f.auditLog.events) != 1 {
		t.Fatalf("audit events = %d, want 1", len(f.auditLog.events))
	}
	if f.auditLog.events[0].EventType != models.AuditReportDownloaded {
		t.Errorf("event type = %s, want %s", f.auditLog.events[0].EventType, models.AuditReportDownloaded)
	}
}

func TestGetArtifactRecordsViewedEvent(t *testing.T) {
	f := newAPIFixture(t)
	f.store.artifacts["art-1"] = &models.Artifact{
		ID:       "art-1",
		TenantID: testTenant,
	}

	rec := f.do(t, http.MethodGet, "/v1/artifacts/art-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	f.auditLog.mu.Lock()
	defer f.auditLog.mu.Unlock()
	if len(f.auditLog.events) != 1 || f.auditLog.events[0].EventType != models.AuditReportViewed {
		t.Errorf("events = %+v, want one report_viewed", f.auditLog.events)
	}
}

func TestShareArtifactEnqueuesNotification(t *testing.T) {
	f := newAPIFixture(t)
	f.store.artifacts["art-1"] = &models.Artifact{
		ID:       "art-1",
		TenantID: testTenant,
	}

	body := map[string]any{
		"recipients": []string{"alice@example.com", "bob@example.com"},
		"message":    "Q3 numbers attached",
	}
	rec := f.do(t, http.MethodPost, "/v1/artifacts/art-1/share", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body %s)", rec.Code, rec.Body.String())
	}

	f.publisher.mu.Lock()
	if len(f.publisher.notifications) != 1 {
		t.Fatalf("notifications = %d, want 1", len(f.publisher.notifications))
	}
	n := f.publisher.notifications[0]
	f.publisher.mu.Unlock()
	if n.ArtifactID != "art-1" || n.TenantID != testTenant {
		t.Errorf("notification = %+v", n)
	}
	if len(n.Recipients) != 2 || n.Message != "Q3 numbers attached" {
		t.Errorf("recipients/message = %v %q", n.Recipients, n.Message)
	}
	if n.ID == "" {
		t.Error("notification ID is empty")
	}

	f.auditLog.mu.Lock()
	defer f.auditLog.mu.Unlock()
	if len(f.auditLog.events) != 1 || f.auditLog.events[0].EventType != models.AuditReportShared {
		t.Fatalf("events = %+v, want one report_shared", f.auditLog.events)
	}
	if f.auditLog.events[0].EventData["channel"] != "email" {
		t.Errorf("event data = %+v", f.auditLog.events[0].EventData)
	}
}

func TestShareArtifactValidatesRecipients(t *testing.T) {
	f := newAPIFixture(t)
	f.store.artifacts["art-1"] = &models.Artifact{ID: "art-1", TenantID: testTenant}

	rec := f.do(t, http.MethodPost, "/v1/artifacts/art-1/share",
		map[string]any{"recipients": []string{"not-an-address"}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/v1/artifacts/art-1/share",
		map[string]any{"recipients": []string{}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for empty recipients", rec.Code)
	}

	f.publisher.mu.Lock()
	defer f.publisher.mu.Unlock()
	if len(f.publisher.notifications) != 0 {
		t.Errorf("notifications = %d, want 0", len(f.publisher.notifications))
	}
}

func TestShareArtifactUnknownArtifact(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/artifacts/missing/share",
		map[string]any{"recipients": []string{"alice@example.com"}})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestGetRunArtifact(t *testing.T) {
	f := newAPIFixture(t)
	f.store.artifacts["art-1"] = &models.Artifact{
		ID:             "art-1",
		TenantID:       testTenant,
		ExecutionRunID: "run-1",
	}

	rec := f.do(t, http.MethodGet, "/v1/runs/run-1/artifact", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/v1/runs/run-2/artifact", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for run without artifact", rec.Code)
	}
}

func TestListRunsFiltersBySchedule(t *testing.T) {
	f := newAPIFixture(t)
	schedID := "sched-1"
	f.store.runs["run-1"] = &models.ExecutionRun{ID: "run-1", TenantID: testTenant, ScheduleID: &schedID}
	f.store.runs["run-2"] = &models.ExecutionRun{ID: "run-2", TenantID: testTenant}

	rec := f.do(t, http.MethodGet, "/v1/runs?schedule_id=sched-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decodeEnvelope(t, rec)
	data, _ := resp.Data.([]any)
	if len(data) != 1 {
		t.Errorf("runs = %d, want 1", len(data))
	}
	if resp.Meta == nil || resp.Meta.Pagination == nil || resp.Meta.Pagination.Count != 1 {
		t.Errorf("pagination = %+v", resp.Meta)
	}
}

func TestUpdateSchedulePartial(t *testing.T) {
	f := newAPIFixture(t)
	next := time.Now().UTC().Add(time.Hour)
	f.store.schedules["sched-1"] = &models.Schedule{
		ID:                 "sched-1",
		TenantID:           testTenant,
		ReportDefinitionID: testDefinition,
		Name:               "Nightly",
		CronExpression:     "0 2 * * *",
		Timezone:           "UTC",
		IsActive:           true,
		NextRunAt:          &next,
	}

	// A single provided field is a valid update; everything else keeps
	// its stored value.
	rec := f.do(t, http.MethodPut, "/v1/schedules/sched-1", map[string]any{"is_active": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}

	sched := f.store.schedules["sched-1"]
	if sched.IsActive {
		t.Error("is_active not applied")
	}
	if sched.Name != "Nightly" || sched.CronExpression != "0 2 * * *" || sched.Timezone != "UTC" {
		t.Errorf("unchanged fields were clobbered: %+v", sched)
	}

	rec = f.do(t, http.MethodPut, "/v1/schedules/sched-1", map[string]any{"name": "Hourly"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	if f.store.schedules["sched-1"].Name != "Hourly" {
		t.Errorf("name = %q, want Hourly", f.store.schedules["sched-1"].Name)
	}
}

func TestUpdateScheduleRejectsEmptyProvidedField(t *testing.T) {
	f := newAPIFixture(t)
	next := time.Now().UTC().Add(time.Hour)
	f.store.schedules["sched-1"] = &models.Schedule{
		ID:                 "sched-1",
		TenantID:           testTenant,
		ReportDefinitionID: testDefinition,
		Name:               "Nightly",
		CronExpression:     "0 2 * * *",
		Timezone:           "UTC",
		IsActive:           true,
		NextRunAt:          &next,
	}

	// Absent means keep; explicitly empty is still invalid.
	rec := f.do(t, http.MethodPut, "/v1/schedules/sched-1", map[string]any{"name": ""})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for empty name", rec.Code)
	}
	if f.store.schedules["sched-1"].Name != "Nightly" {
		t.Errorf("name = %q, want unchanged", f.store.schedules["sched-1"].Name)
	}
}

func TestDeleteSchedule(t *testing.T) {
	f := newAPIFixture(t)
	f.store.schedules["sched-1"] = &models.Schedule{ID: "sched-1", TenantID: testTenant}

	rec := f.do(t, http.MethodDelete, "/v1/schedules/sched-1", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	rec = f.do(t, http.MethodDelete, "/v1/schedules/sched-1", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestTenantIsolation(t *testing.T) {
	f := newAPIFixture(t)
	f.store.artifacts["art-other"] = &models.Artifact{
		ID:       "art-other",
		TenantID: "tenant-2",
	}

	rec := f.do(t, http.MethodGet, "/v1/artifacts/art-other", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for another tenant's artifact", rec.Code)
	}
}

func TestHealthEndpointsUnauthenticated(t *testing.T) {
	f := newAPIFixture(t)

	for _, path := range []string{"/health/live", "/health/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}

func TestRequestIDEchoed(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "client-supplied-id")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "client-supplied-id" {
		t.Errorf("X-Request-ID = %q, want the client-supplied value", got)
	}
}

func TestPauseAndResumeSchedule(t *testing.T) {
	f := newAPIFixture(t)
	next := time.Now().UTC().Add(time.Hour)
	f.store.schedules["sched-1"] = &models.Schedule{
		ID:             "sched-1",
		TenantID:       testTenant,
		CronExpression: "0 9 * * *",
		Timezone:       "UTC",
		IsActive:       true,
		NextRunAt:      &next,
	}

	rec := f.do(t, http.MethodPatch, "/v1/schedules/sched-1/pause", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pause status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	resp := decodeEnvelope(t, rec)
	data, _ := resp.Data.(map[string]any)
	if data["is_active"] != false {
		t.Error("schedule still active after pause")
	}

	rec = f.do(t, http.MethodPatch, "/v1/schedules/sched-1/resume", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("resume status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	resp = decodeEnvelope(t, rec)
	data, _ = resp.Data.(map[string]any)
	if data["is_active"] != true {
		t.Error("schedule not active after resume")
	}
	if data["next_run_at"] == nil {
		t.Error("resume did not recompute next_run_at")
	}
}

func TestListSchedulesActiveFilter(t *testing.T) {
	f := newAPIFixture(t)
	f.store.schedules["s1"] = &models.Schedule{ID: "s1", TenantID: testTenant, IsActive: true}
	f.store.schedules["s2"] = &models.Schedule{ID: "s2", TenantID: testTenant, IsActive: false}

	rec := f.do(t, http.MethodGet, "/v1/schedules?is_active=true", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decodeEnvelope(t, rec)
	data, _ := resp.Data.([]any)
	if len(data) != 1 {
		t.Errorf("schedules = %d, want 1 active", len(data))
	}

	rec = f.do(t, http.MethodGet, "/v1/schedules?is_active=banana", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for bad filter", rec.Code)
	}
}

func TestListArtifactAuditTrail(t *testing.T) {
	f := newAPIFixture(t)
	f.store.artifacts["art-1"] = &models.Artifact{ID: "art-1", TenantID: testTenant}
	f.store.artifacts["art-2"] = &models.Artifact{ID: "art-2", TenantID: testTenant}

	// Viewing each artifact produces one audit event apiece.
	f.do(t, http.MethodGet, "/v1/artifacts/art-1", nil)
	f.do(t, http.MethodGet, "/v1/artifacts/art-2", nil)

	rec := f.do(t, http.MethodGet, "/v1/artifacts/art-1/audit", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decodeEnvelope(t, rec)
	data, _ := resp.Data.([]any)
	if len(data) != 1 {
		t.Errorf("audit events = %d, want 1 scoped to art-1", len(data))
	}
}

func TestComplianceReportSummarizesEvents(t *testing.T) {
	f := newAPIFixture(t)
	f.store.artifacts["art-1"] = &models.Artifact{ID: "art-1", TenantID: testTenant}

	f.do(t, http.MethodGet, "/v1/artifacts/art-1", nil)
	f.do(t, http.MethodGet, "/v1/artifacts/art-1", nil)

	rec := f.do(t, http.MethodGet, "/v1/audit/compliance", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	resp := decodeEnvelope(t, rec)
	data, _ := resp.Data.(map[string]any)
	counts, _ := data["by_type"].(map[string]any)
	if counts[string(models.AuditReportViewed)] != float64(2) {
		t.Errorf("by_type = %v, want 2 report_viewed", counts)
	}
	if data["total_events"] != float64(2) {
		t.Errorf("total_events = %v, want 2", data["total_events"])
	}
	if data["unique_users"] != float64(1) || data["unique_artifacts"] != float64(1) {
		t.Errorf("unique_users = %v, unique_artifacts = %v, want 1/1",
			data["unique_users"], data["unique_artifacts"])
	}
	events, _ := data["events"].([]any)
	if len(events) != 2 {
		t.Errorf("events sample = %d entries, want 2", len(events))
	}
}

func TestComplianceReportRejectsInvertedWindow(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet,
		"/v1/audit/compliance?since=2026-08-01T00:00:00Z&until=2026-07-01T00:00:00Z", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
