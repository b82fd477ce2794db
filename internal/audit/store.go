// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tomtom215/beacon/internal/store"
)

// ErrWriteFailed is returned when an entry could not be written to the store.
var ErrWriteFailed = errors.New("audit entry write failed")

// MemorySink implements Sink in memory. Data is lost on restart.
type MemorySink struct {
	entries []Entry
	mu      sync.RWMutex
	maxLen  int
}

// NewMemorySink creates a sink that keeps at most maxLen entries, evicting the oldest.
func NewMemorySink(maxLen int) *MemorySink {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &MemorySink{
		entries: make([]Entry, 0, 64),
		maxLen:  maxLen,
	}
}

// Append implements Sink.
func (s *MemorySink) Append(_ context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, entries...)
	if over := len(s.entries) - s.maxLen; over > 0 {
		s.entries = append([]Entry(nil), s.entries[over:]...)
	}
	return nil
}

// Query implements Sink.
func (s *MemorySink) Query(_ context.Context, filter Filter) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []Entry
	skipped := 0
	for i := len(s.entries) - 1; i >= 0; i-- { // newest first
		if !filter.Matches(&s.entries[i]) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		results = append(results, s.entries[i])
		if filter.Limit > 0 && len(results) >= filter.Limit {
			break
		}
	}
	return results, nil
}

// Count implements Sink.
func (s *MemorySink) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

// Clear removes all entries (for testing).
func (s *MemorySink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = s.entries[:0]
}

// StoreSink implements Sink on the persistent store. Each entry lives under
// its own time-ordered key, so a batch appended twice overwrites itself
// instead of duplicating, and retention trims from the oldest key.
type StoreSink struct {
	store       *store.Store
	maxRetained int
}

// NewStoreSink creates a sink over s retaining at most maxRetained entries.
func NewStoreSink(s *store.Store, maxRetained int) *StoreSink {
	if maxRetained <= 0 {
		maxRetained = 10000
	}
	return &StoreSink{store: s, maxRetained: maxRetained}
}

// entryKey orders keys by timestamp, then id.
func entryKey(e *Entry) string {
	return fmt.Sprintf("%020d-%s", e.Timestamp.UnixNano(), e.ID)
}

// Append implements Sink.
func (s *StoreSink) Append(ctx context.Context, entries []Entry) error {
	for i := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !s.store.Set(ctx, entryKey(&entries[i]), entries[i], store.SetOptions{}) {
			return fmt.Errorf("%w: %s", ErrWriteFailed, entries[i].ID)
		}
	}
	s.trim(ctx)
	return nil
}

// trim evicts the oldest entries beyond maxRetained.
func (s *StoreSink) trim(ctx context.Context) {
	keys := s.store.Keys(ctx, "")
	over := len(keys) - s.maxRetained
	for i := 0; i < over; i++ {
		s.store.Remove(ctx, keys[i])
	}
}

// Query implements Sink.
func (s *StoreSink) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	keys := s.store.Keys(ctx, "")

	var results []Entry
	skipped := 0
	for i := len(keys) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		var e Entry
		if !s.store.Get(ctx, keys[i], &e) || !filter.Matches(&e) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		results = append(results, e)
		if filter.Limit > 0 && len(results) >= filter.Limit {
			break
		}
	}
	return results, nil
}

// Count implements Sink.
func (s *StoreSink) Count(ctx context.Context) (int, error) {
	return len(s.store.Keys(ctx, "")), nil
}
