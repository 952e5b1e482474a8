// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

package blob

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/reportus/internal/models"
)

func TestObjectPath(t *testing.T) {
	got := ObjectPath("tenant-1", "run-9", models.FormatPDF)
	want := "tenant-1/run-9/report_run-9.pdf"
	if got != want {
		t.Errorf("ObjectPath() = %q, want %q", got, want)
	}
}

func TestContentType(t *testing.T) {
	tests := []struct {
		format models.OutputFormat
		want   string
	}{
		{models.FormatPDF, "application/pdf"},
		{models.FormatCSV, "text/csv"},
		{models.FormatXLSX, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"},
		{models.OutputFormat("bin"), "application/octet-stream"},
	}
	for _, tt := range tests {
		if got := ContentType(tt.format); got != tt.want {
			t.Errorf("ContentType(%q) = %q, want %q", tt.format, got, tt.want)
		}
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	path := ObjectPath("tenant-1", "run-1", models.FormatCSV)

	err := store.Put(ctx, path, Object{
		Data:        []byte("a,b\n1,2\n"),
		ContentType: "text/csv",
		Metadata:    map[string]string{"tenant_id": "tenant-1"},
	})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	obj, err := store.Get(ctx, path)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(obj.Data) != "a,b\n1,2\n" || obj.ContentType != "text/csv" {
		t.Errorf("Get() = %+v", obj)
	}
	if obj.Metadata["tenant_id"] != "tenant-1" {
		t.Errorf("Metadata = %v", obj.Metadata)
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Get(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_ = store.Put(ctx, "p", Object{Data: []byte("x")})
	if err := store.Delete(ctx, "p"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, "p"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
	// Deleting again is fine.
	if err := store.Delete(ctx, "p"); err != nil {
		t.Errorf("second Delete() error = %v", err)
	}
}

func TestMemoryStoreSignedURL(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_ = store.Put(ctx, "tenant-1/run-1/report_run-1.pdf", Object{Data: []byte("x")})

	url, expires, err := store.SignedURL(ctx, "tenant-1/run-1/report_run-1.pdf", 24*time.Hour)
	if err != nil {
		t.Fatalf("SignedURL() error = %v", err)
	}
	if !strings.Contains(url, "tenant-1/run-1/report_run-1.pdf") {
		t.Errorf("url = %q", url)
	}
	if remaining := time.Until(expires); remaining < 23*time.Hour {
		t.Errorf("expiry too soon: %v", remaining)
	}

	if _, _, err := store.SignedURL(ctx, "missing", time.Hour); !errors.Is(err, ErrNotFound) {
		t.Errorf("SignedURL(missing) error = %v, want ErrNotFound", err)
	}
}
