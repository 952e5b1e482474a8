// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

package blob

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]Object
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]Object)}
}

// Put stores a copy of the object.
func (m *MemoryStore) Put(_ context.Context, path string, obj Object) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := Object{
		Data:        append([]byte(nil), obj.Data...),
		ContentType: obj.ContentType,
	}
	if obj.Metadata != nil {
		stored.Metadata = make(map[string]string, len(obj.Metadata))
		for k, v := range obj.Metadata {
			stored.Metadata[k] = v
		}
	}
	m.objects[path] = stored
	return nil
}

// Get returns a copy of the stored object.
func (m *MemoryStore) Get(_ context.Context, path string) (*Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[path]
	if !ok {
		return nil, ErrNotFound
	}
	out := Object{
		Data:        append([]byte(nil), obj.Data...),
		ContentType: obj.ContentType,
		Metadata:    obj.Metadata,
	}
	return &out, nil
}

// Delete removes the object. Missing objects are not an error.
func (m *MemoryStore) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, path)
	return nil
}

// SignedURL returns a synthetic URL carrying the path and expiry.
func (m *MemoryStore) SignedURL(_ context.Context, path string, ttl time.Duration) (string, time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.objects[path]; !ok {
		return "", time.Time{}, ErrNotFound
	}
	expires := time.Now().UTC().Add(ttl)
	url := fmt.Sprintf("memory://%s?expires=%d", path, expires.Unix())
	return url, expires, nil
}

// Len returns the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
