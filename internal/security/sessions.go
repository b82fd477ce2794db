// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package security

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/beacon/internal/apperr"
	"github.com/tomtom215/beacon/internal/store"
)

// SessionConfig bounds session liveness.
type SessionConfig struct {
	IdleTimeout time.Duration `koanf:"idle_timeout"`
	MaxLifetime time.Duration `koanf:"max_lifetime"`
}

// DefaultSessionConfig returns the production defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		IdleTimeout: 30 * time.Minute,
		MaxLifetime: 12 * time.Hour,
	}
}

// Session is an authenticated actor's login.
type Session struct {
	ID         string    `json:"id"`
	ActorID    string    `json:"actorId"`
	Role       string    `json:"role"`
	CreatedAt  time.Time `json:"createdAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

func (s Session) alive(now time.Time, idle time.Duration) bool {
	return now.Before(s.ExpiresAt) && now.Sub(s.LastSeenAt) < idle
}

// Sessions keeps sessions in the store with a TTL that ends at the earlier
// of the idle deadline and the lifetime deadline.
type Sessions struct {
	cfg   SessionConfig
	store *store.Store
	now   func() time.Time
}

// NewSessions creates a session registry over st.
func NewSessions(cfg SessionConfig, st *store.Store) *Sessions {
	def := DefaultSessionConfig()
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.MaxLifetime <= 0 {
		cfg.MaxLifetime = def.MaxLifetime
	}
	return &Sessions{cfg: cfg, store: st, now: time.Now}
}

// Create starts a session for actorID.
func (s *Sessions) Create(ctx context.Context, actorID, role string) (Session, error) {
	now := s.now().UTC()
	sess := Session{
		ID:         uuid.New().String(),
		ActorID:    actorID,
		Role:       role,
		CreatedAt:  now,
		LastSeenAt: now,
		ExpiresAt:  now.Add(s.cfg.MaxLifetime),
	}
	if !s.save(ctx, sess, now) {
		return Session{}, apperr.New(apperr.KindPersistenceFailure, "security.session_create", "failed to store session")
	}
	return sess, nil
}

// Get returns a live session.
func (s *Sessions) Get(ctx context.Context, id string) (Session, bool) {
	var sess Session
	if id == "" || !s.store.Get(ctx, id, &sess) {
		return Session{}, false
	}
	if !sess.alive(s.now(), s.cfg.IdleTimeout) {
		s.store.Remove(ctx, id)
		return Session{}, false
	}
	return sess, true
}

// IsAlive reports whether the session exists and has not idled out or
// reached its maximum lifetime.
func (s *Sessions) IsAlive(ctx context.Context, id string) bool {
	_, ok := s.Get(ctx, id)
	return ok
}

// Touch records activity on a live session and extends its idle deadline.
func (s *Sessions) Touch(ctx context.Context, id string) (Session, bool) {
	sess, ok := s.Get(ctx, id)
	if !ok {
		return Session{}, false
	}
	now := s.now().UTC()
	sess.LastSeenAt = now
	// A failed refresh leaves the previous record and its deadline in place
	s.save(ctx, sess, now)
	return sess, true
}

// Revoke ends a session. It reports whether a session was removed.
func (s *Sessions) Revoke(ctx context.Context, id string) bool {
	if !s.store.Exists(ctx, id) {
		return false
	}
	return s.store.Remove(ctx, id)
}

// Count returns the number of stored sessions.
func (s *Sessions) Count(ctx context.Context) int {
	return s.store.Count(ctx)
}

func (s *Sessions) save(ctx context.Context, sess Session, now time.Time) bool {
	ttl := s.cfg.IdleTimeout
	if remaining := sess.ExpiresAt.Sub(now); remaining < ttl {
		ttl = remaining
	}
	if ttl <= 0 {
		return false
	}
	return s.store.Set(ctx, sess.ID, sess, store.SetOptions{TTL: ttl})
}
