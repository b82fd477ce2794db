// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrKeyNotFound is returned by a Backend when the key does not exist.
var ErrKeyNotFound = errors.New("key not found")

// ErrClosed is returned by a Backend after Close.
var ErrClosed = errors.New("store closed")

// Backend is the raw byte-level storage beneath a Store.
//
// Implementations must be safe for concurrent use. The ttl passed to Set is a
// garbage-collection hint only; record expiry is decided by the Store.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Keys returns every key starting with prefix in ascending byte order.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// memoryItem is a single value held by MemoryBackend.
type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// MemoryBackend is a map-backed Backend for tests and ephemeral deployments.
type MemoryBackend struct {
	mu     sync.RWMutex
	items  map[string]memoryItem
	closed bool
	now    func() time.Time
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
}

// Get implements Backend.
func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	item, ok := m.items[key]
	if !ok || m.expired(item) {
		return nil, ErrKeyNotFound
	}
	out := make([]byte, len(item.value))
	copy(out, item.value)
	return out, nil
}

// Set implements Backend.
func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	item := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expiresAt = m.now().Add(ttl)
	}
	m.items[key] = item
	return nil
}

// Delete implements Backend.
func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	delete(m.items, key)
	return nil
}

// Keys implements Backend.
func (m *MemoryBackend) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	keys := make([]string, 0, len(m.items))
	for k, item := range m.items {
		if strings.HasPrefix(k, prefix) && !m.expired(item) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Len returns the number of raw keys held, across all namespaces.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

func (m *MemoryBackend) expired(item memoryItem) bool {
	return !item.expiresAt.IsZero() && !m.now().Before(item.expiresAt)
}
