// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/reportus/internal/blob"
	"github.com/tomtom215/reportus/internal/config"
	"github.com/tomtom215/reportus/internal/models"
)

type stubSweepStore struct {
	mu sync.Mutex

	artifacts    []models.Artifact
	auditRows    int
	deletedIDs   []string
	auditBatches []int64
}

func (s *stubSweepStore) ListArtifactsBefore(_ context.Context, cutoff time.Time, limit int) ([]models.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Artifact
	for _, a := range s.artifacts {
		if a.CreatedAt.Before(cutoff) {
			out = append(out, a)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *stubSweepStore) DeleteArtifacts(_ context.Context, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	remaining := s.artifacts[:0]
	deleted := int64(0)
	for _, a := range s.artifacts {
		removed := false
		for _, id := range ids {
			if a.ID == id {
				removed = true
				break
			}
		}
		if removed {
			deleted++
			s.deletedIDs = append(s.deletedIDs, a.ID)
		} else {
			remaining = append(remaining, a)
		}
	}
	s.artifacts = remaining
	return deleted, nil
}

func (s *stubSweepStore) CountArtifactsBefore(_ context.Context, cutoff time.Time) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count, bytes int64
	for _, a := range s.artifacts {
		if a.CreatedAt.Before(cutoff) {
			count++
			bytes += a.FileSizeBytes
		}
	}
	return count, bytes, nil
}

func (s *stubSweepStore) CountAuditEventsBefore(_ context.Context, _ time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(s.auditRows), nil
}

func (s *stubSweepStore) DeleteAuditEventsBefore(_ context.Context, _ time.Time, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.auditRows
	if n > limit {
		n = limit
	}
	s.auditRows -= n
	s.auditBatches = append(s.auditBatches, int64(n))
	return int64(n), nil
}

func testRetentionConfig() config.RetentionConfig {
	return config.RetentionConfig{
		Enabled:       true,
		SweepInterval: time.Hour,
		ArtifactDays:  90,
		AuditDays:     365,
		BatchSize:     2,
	}
}

func expiredArtifact(id, path string, age time.Duration) models.Artifact {
	return models.Artifact{
		ID:        id,
		TenantID:  "tenant-1",
		BlobPath:  path,
		CreatedAt: time.Now().UTC().Add(-age),
	}
}

func TestSweepRemovesExpiredArtifactsAndBlobs(t *testing.T) {
	store := &stubSweepStore{
		artifacts: []models.Artifact{
			expiredArtifact("a1", "tenant-1/r1/report_r1.pdf", 100*24*time.Hour),
			expiredArtifact("a2", "tenant-1/r2/report_r2.csv", 95*24*time.Hour),
			expiredArtifact("a3", "tenant-1/r3/report_r3.pdf", 10*24*time.Hour),
		},
	}
	blobs := blob.NewMemoryStore()
	for _, a := range store.artifacts {
		if err := blobs.Put(context.Background(), a.BlobPath, blob.Object{Data: []byte("x")}); err != nil {
			t.Fatal(err)
		}
	}

	s := NewSweeper(store, blobs, testRetentionConfig())
	s.sweepOnce(context.Background())

	if len(store.artifacts) != 1 || store.artifacts[0].ID != "a3" {
		t.Errorf("remaining artifacts = %+v, want only the fresh one", store.artifacts)
	}
	if _, err := blobs.Get(context.Background(), "tenant-1/r1/report_r1.pdf"); !errors.Is(err, blob.ErrNotFound) {
		t.Error("expired blob r1 still stored")
	}
	if _, err := blobs.Get(context.Background(), "tenant-1/r3/report_r3.pdf"); err != nil {
		t.Error("fresh blob r3 was deleted")
	}
}

func TestSweepDrainsAuditEventsInBatches(t *testing.T) {
	store := &stubSweepStore{auditRows: 5}
	s := NewSweeper(store, blob.NewMemoryStore(), testRetentionConfig())

	s.sweepOnce(context.Background())

	if store.auditRows != 0 {
		t.Errorf("auditRows = %d, want 0 after sweep", store.auditRows)
	}
	// Batch size 2 over 5 rows: 2, 2, 1.
	want := []int64{2, 2, 1}
	if len(store.auditBatches) != len(want) {
		t.Fatalf("batches = %v, want %v", store.auditBatches, want)
	}
	for i := range want {
		if store.auditBatches[i] != want[i] {
			t.Errorf("batch %d = %d, want %d", i, store.auditBatches[i], want[i])
		}
	}
}

type failingBlobStore struct {
	blob.Store
	failPath string
}

func (f *failingBlobStore) Delete(ctx context.Context, path string) error {
	if path == f.failPath {
		return errors.New("storage unavailable")
	}
	return f.Store.Delete(ctx, path)
}

func TestSweepKeepsRowWhenBlobDeleteFails(t *testing.T) {
	store := &stubSweepStore{
		artifacts: []models.Artifact{
			expiredArtifact("a1", "tenant-1/r1/report_r1.pdf", 100*24*time.Hour),
			expiredArtifact("a2", "tenant-1/r2/report_r2.csv", 95*24*time.Hour),
		},
	}
	inner := blob.NewMemoryStore()
	for _, a := range store.artifacts {
		if err := inner.Put(context.Background(), a.BlobPath, blob.Object{Data: []byte("x")}); err != nil {
			t.Fatal(err)
		}
	}
	blobs := &failingBlobStore{Store: inner, failPath: "tenant-1/r1/report_r1.pdf"}

	s := NewSweeper(store, blobs, testRetentionConfig())
	s.sweepOnce(context.Background())

	if len(store.artifacts) != 1 || store.artifacts[0].ID != "a1" {
		t.Errorf("remaining artifacts = %+v, want the one whose blob delete failed", store.artifacts)
	}
}

func TestSweeperStartStop(t *testing.T) {
	store := &stubSweepStore{}
	s := NewSweeper(store, blob.NewMemoryStore(), testRetentionConfig())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Error("second Start() did not error")
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
}

func TestDisabledSweeperDoesNothing(t *testing.T) {
	cfg := testRetentionConfig()
	cfg.Enabled = false
	store := &stubSweepStore{auditRows: 3}

	s := NewSweeper(store, blob.NewMemoryStore(), cfg)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if store.auditRows != 3 {
		t.Errorf("auditRows = %d, disabled sweeper deleted rows", store.auditRows)
	}
}

func TestDryRunPreviewsWithoutDeleting(t *testing.T) {
	a1 := expiredArtifact("a1", "tenant-1/r1/report_r1.pdf", 100*24*time.Hour)
	a1.FileSizeBytes = 2048
	a2 := expiredArtifact("a2", "tenant-1/r2/report_r2.pdf", 10*24*time.Hour)
	a2.FileSizeBytes = 512
	store := &stubSweepStore{artifacts: []models.Artifact{a1, a2}, auditRows: 7}

	cfg := testRetentionConfig()
	cfg.DryRun = true
	s := NewSweeper(store, blob.NewMemoryStore(), cfg)

	est, err := s.Preview(context.Background())
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if est.Artifacts != 1 || est.ArtifactBytes != 2048 {
		t.Errorf("artifact estimate = %d/%d bytes, want 1/2048", est.Artifacts, est.ArtifactBytes)
	}
	if est.AuditEvents != 7 {
		t.Errorf("audit estimate = %d, want 7", est.AuditEvents)
	}

	// A dry-run sweep must not touch the store.
	s.sweepOnce(context.Background())
	if len(store.deletedIDs) != 0 || store.auditRows != 7 {
		t.Errorf("dry run deleted rows: ids=%v auditRows=%d", store.deletedIDs, store.auditRows)
	}
}
