// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package notification

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/beacon/internal/logging"
	"github.com/tomtom215/beacon/internal/store"
)

// errPersist is returned when a write-through to the store fails.
var errPersist = errors.New("notification store write failed")

// Repository is the authoritative in-memory index of notifications, written
// through to a store namespace. The store may be nil for ephemeral use.
type Repository struct {
	mu          sync.RWMutex
	items       map[string]*Notification
	byRecipient map[string]map[string]struct{}
	seq         uint64

	// persistMu orders store writes; persisted tracks the newest version written.
	persistMu sync.Mutex
	persisted map[string]uint64

	store  *store.Store
	logger zerolog.Logger
}

// NewRepository creates a repository writing through to s.
func NewRepository(s *store.Store) *Repository {
	return &Repository{
		items:       make(map[string]*Notification),
		byRecipient: make(map[string]map[string]struct{}),
		persisted:   make(map[string]uint64),
		store:       s,
		logger:      logging.WithComponent("notification-repository"),
	}
}

// Load rebuilds the index from the store and returns the number of
// notifications loaded.
func (r *Repository) Load(ctx context.Context) int {
	if r.store == nil {
		return 0
	}
	keys := r.store.Keys(ctx, "")

	loaded := make([]*Notification, 0, len(keys))
	for _, key := range keys {
		var n Notification
		if !r.store.Get(ctx, key, &n) || n.ID == "" {
			continue
		}
		loaded = append(loaded, &n)
	}

	r.mu.Lock()
	for _, n := range loaded {
		r.indexLocked(n)
		if n.Seq > r.seq {
			r.seq = n.Seq
		}
	}
	r.mu.Unlock()

	r.persistMu.Lock()
	for _, n := range loaded {
		r.persisted[n.ID] = n.Version
	}
	r.persistMu.Unlock()

	r.logger.Info().Int("count", len(loaded)).Msg("notifications loaded")
	return len(loaded)
}

func (r *Repository) indexLocked(n *Notification) {
	r.items[n.ID] = n
	ids, ok := r.byRecipient[n.RecipientID]
	if !ok {
		ids = make(map[string]struct{})
		r.byRecipient[n.RecipientID] = ids
	}
	ids[n.ID] = struct{}{}
}

func (r *Repository) unindexLocked(id string) {
	n, ok := r.items[id]
	if !ok {
		return
	}
	delete(r.items, id)
	if ids := r.byRecipient[n.RecipientID]; ids != nil {
		delete(ids, id)
		if len(ids) == 0 {
			delete(r.byRecipient, n.RecipientID)
		}
	}
}

// Insert assigns the next sequence number, indexes n and persists it. On a
// store failure the notification is removed again and errPersist returned.
func (r *Repository) Insert(ctx context.Context, n *Notification) (*Notification, error) {
	r.mu.Lock()
	r.seq++
	stored := n.clone()
	stored.Seq = r.seq
	stored.Version = 1
	r.indexLocked(stored)
	snapshot := stored.clone()
	r.mu.Unlock()

	if err := r.persist(ctx, snapshot); err != nil {
		r.mu.Lock()
		r.unindexLocked(snapshot.ID)
		r.mu.Unlock()
		return nil, err
	}
	return snapshot, nil
}

// Update applies fn to a copy of the notification and stores the result.
// When fn returns an error nothing changes. A store failure after the update
// is logged and left for the next write of the same notification.
func (r *Repository) Update(ctx context.Context, id string, fn func(n *Notification) error) (*Notification, error) {
	r.mu.Lock()
	current, ok := r.items[id]
	if !ok {
		r.mu.Unlock()
		return nil, ErrNotificationNotFound
	}
	next := current.clone()
	if err := fn(next); err != nil {
		r.mu.Unlock()
		return current.clone(), err
	}
	next.Version = current.Version + 1
	r.items[id] = next
	snapshot := next.clone()
	r.mu.Unlock()

	if err := r.persist(ctx, snapshot); err != nil {
		r.logger.Warn().Err(err).Str("id", id).Msg("notification update not persisted")
	}
	return snapshot, nil
}

// persist writes n unless a newer version has already been written.
func (r *Repository) persist(ctx context.Context, n *Notification) error {
	if r.store == nil {
		return nil
	}
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	if r.persisted[n.ID] >= n.Version {
		return nil
	}
	if !r.store.Set(ctx, n.ID, n, store.SetOptions{}) {
		return errPersist
	}
	r.persisted[n.ID] = n.Version
	return nil
}

// Get returns a copy of the notification with id.
func (r *Repository) Get(id string) (*Notification, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.items[id]
	if !ok {
		return nil, false
	}
	return n.clone(), true
}

// List returns a recipient's notifications matching f, newest first.
func (r *Repository) List(recipientID string, f Filter) []*Notification {
	r.mu.RLock()
	out := make([]*Notification, 0, len(r.byRecipient[recipientID]))
	for id := range r.byRecipient[recipientID] {
		n := r.items[id]
		if f.Matches(n) {
			out = append(out, n.clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Seq > out[j].Seq
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// IDs returns the ids of a recipient's notifications matching f.
func (r *Repository) IDs(recipientID string, f Filter) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0)
	for id := range r.byRecipient[recipientID] {
		if f.Matches(r.items[id]) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Count returns how many of a recipient's notifications match f.
func (r *Repository) Count(recipientID string, f Filter) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for id := range r.byRecipient[recipientID] {
		if f.Matches(r.items[id]) {
			count++
		}
	}
	return count
}

// Due returns up to limit pending notifications due at or before now,
// ordered by due time then creation sequence.
func (r *Repository) Due(now time.Time, limit int) []*Notification {
	r.mu.RLock()
	due := make([]*Notification, 0)
	for _, n := range r.items {
		if n.Status == StatusPending && !n.dueAt().After(now) {
			due = append(due, n.clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(due, func(i, j int) bool {
		di, dj := due[i].dueAt(), due[j].dueAt()
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return due[i].Seq < due[j].Seq
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due
}

// Len returns the number of indexed notifications.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
