// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package security

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/beacon/internal/apperr"
	"github.com/tomtom215/beacon/internal/audit"
	"github.com/tomtom215/beacon/internal/logging"
	"github.com/tomtom215/beacon/internal/metrics"
	"github.com/tomtom215/beacon/internal/ratelimit"
	"github.com/tomtom215/beacon/internal/store"
)

// ErrAccountLocked is wrapped by the error Check returns for a locked account.
var ErrAccountLocked = errors.New("account is temporarily locked")

// Auditor records audit entries. *audit.Logger implements it.
type Auditor interface {
	Record(ctx context.Context, actorID, action, resourceType, resourceID string, details map[string]interface{}, err error) audit.Entry
}

// LockoutConfig holds configuration for account lockout.
type LockoutConfig struct {
	// Threshold is the number of consecutive failures that locks the account.
	Threshold int `koanf:"threshold"`

	// Duration is the base lock period.
	Duration time.Duration `koanf:"duration"`

	// ExponentialBackoff doubles the lock period on each repeated lockout,
	// capped at MaxDuration.
	ExponentialBackoff bool          `koanf:"exponential_backoff"`
	MaxDuration        time.Duration `koanf:"max_duration"`

	// AttemptsPerWindow bounds login attempts per origin (0 = unlimited).
	AttemptsPerWindow int           `koanf:"attempts_per_window"`
	AttemptWindow     time.Duration `koanf:"attempt_window"`

	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// DefaultLockoutConfig returns the production defaults.
func DefaultLockoutConfig() LockoutConfig {
	return LockoutConfig{
		Threshold:          5,
		Duration:           15 * time.Minute,
		ExponentialBackoff: true,
		MaxDuration:        24 * time.Hour,
		AttemptsPerWindow:  20,
		AttemptWindow:      time.Minute,
		SweepInterval:      time.Minute,
	}
}

// LockStatus is the state of one actor and origin pair after a failure.
type LockStatus struct {
	Locked      bool      `json:"locked"`
	Failures    int       `json:"failures"`
	Remaining   int       `json:"remaining"`
	LockedUntil time.Time `json:"lockedUntil,omitempty"`
}

// lockEntry tracks failures for one actor and origin pair.
type lockEntry struct {
	ActorID      string    `json:"actorId"`
	Origin       string    `json:"origin"`
	Failures     int       `json:"failures"`
	LockoutCount int       `json:"lockoutCount"`
	LockedUntil  time.Time `json:"lockedUntil"`
	LastFailure  time.Time `json:"lastFailure"`
}

func (e *lockEntry) locked(now time.Time) bool {
	return !e.LockedUntil.IsZero() && now.Before(e.LockedUntil)
}

// Lockout tracks failed logins per actor and origin and locks accounts that
// reach the threshold. Locks expire on a timer and lazily when read.
type Lockout struct {
	cfg     LockoutConfig
	store   *store.Store
	limiter *ratelimit.Limiter
	auditor Auditor
	logger  zerolog.Logger
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*lockEntry
	timers  map[string]*time.Timer
}

// NewLockout creates a lockout tracker. st may be nil to keep state in memory
// only.
func NewLockout(cfg LockoutConfig, st *store.Store) *Lockout {
	def := DefaultLockoutConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Duration <= 0 {
		cfg.Duration = def.Duration
	}
	if cfg.MaxDuration < cfg.Duration {
		cfg.MaxDuration = cfg.Duration
	}
	if cfg.AttemptWindow <= 0 {
		cfg.AttemptWindow = def.AttemptWindow
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	return &Lockout{
		cfg:     cfg,
		store:   st,
		logger:  logging.WithComponent("lockout"),
		now:     time.Now,
		entries: make(map[string]*lockEntry),
		timers:  make(map[string]*time.Timer),
	}
}

// WithLimiter throttles attempts per origin through l.
func (l *Lockout) WithLimiter(limiter *ratelimit.Limiter) *Lockout {
	l.limiter = limiter
	return l
}

// WithAuditor records lock and unlock events.
func (l *Lockout) WithAuditor(a Auditor) *Lockout {
	l.auditor = a
	return l
}

// SweepInterval returns how often Sweep should run.
func (l *Lockout) SweepInterval() time.Duration {
	return l.cfg.SweepInterval
}

func lockKey(actorID, origin string) string {
	return strings.ToLower(actorID) + "|" + origin
}

// AllowAttempt reports whether origin may attempt another login in the
// current window.
func (l *Lockout) AllowAttempt(origin string) bool {
	if l.limiter == nil || l.cfg.AttemptsPerWindow <= 0 {
		return true
	}
	return l.limiter.IsAllowed("login:"+origin, l.cfg.AttemptsPerWindow, l.cfg.AttemptWindow)
}

// RecordFailure counts a failed login. Reaching the threshold locks the
// account and arms the unlock timer.
func (l *Lockout) RecordFailure(ctx context.Context, actorID, origin string) LockStatus {
	key := lockKey(actorID, origin)
	now := l.now()

	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &lockEntry{ActorID: actorID, Origin: origin}
		l.entries[key] = e
	}

	// A lock that lapsed without a read is cleared before counting
	expired := !e.LockedUntil.IsZero() && !e.locked(now)
	if expired {
		e.LockedUntil = time.Time{}
		e.Failures = 0
	}

	if e.locked(now) {
		status := l.statusLocked(e)
		l.mu.Unlock()
		return status
	}

	e.Failures++
	e.LastFailure = now
	justLocked := false
	if e.Failures >= l.cfg.Threshold {
		e.LockoutCount++
		e.LockedUntil = now.Add(l.lockDuration(e.LockoutCount))
		justLocked = true
		l.armTimerLocked(key, e.LockedUntil, now)
	}
	status := l.statusLocked(e)
	snapshot := *e
	l.mu.Unlock()

	l.persist(ctx, key, snapshot)
	if expired {
		l.auditUnlock(ctx, snapshot, "expired")
	}
	if justLocked {
		metrics.AccountLockouts.Inc()
		l.logger.Warn().
			Str("actor_id", actorID).
			Str("origin", origin).
			Int("lockout_count", snapshot.LockoutCount).
			Time("locked_until", snapshot.LockedUntil).
			Msg("account locked after repeated login failures")
		l.audit(ctx, snapshot, audit.ActionLockout, map[string]interface{}{
			"origin":        origin,
			"failures":      snapshot.Failures,
			"lockout_count": snapshot.LockoutCount,
			"locked_until":  snapshot.LockedUntil.Format(time.RFC3339),
		})
	}
	return status
}

func (l *Lockout) statusLocked(e *lockEntry) LockStatus {
	remaining := l.cfg.Threshold - e.Failures
	if remaining < 0 {
		remaining = 0
	}
	locked := !e.LockedUntil.IsZero()
	s := LockStatus{Locked: locked, Failures: e.Failures, Remaining: remaining}
	if locked {
		s.LockedUntil = e.LockedUntil
		s.Remaining = 0
	}
	return s
}

// lockDuration returns the lock period for the nth lockout.
func (l *Lockout) lockDuration(count int) time.Duration {
	if !l.cfg.ExponentialBackoff || count <= 1 {
		return l.cfg.Duration
	}
	shift := count - 1
	if shift > 20 {
		return l.cfg.MaxDuration
	}
	d := l.cfg.Duration * time.Duration(1<<shift)
	if d > l.cfg.MaxDuration || d <= 0 {
		return l.cfg.MaxDuration
	}
	return d
}

func (l *Lockout) armTimerLocked(key string, until, now time.Time) {
	if t, ok := l.timers[key]; ok {
		t.Stop()
	}
	l.timers[key] = time.AfterFunc(until.Sub(now), func() {
		l.expire(key, until)
	})
}

// expire is the timer callback. A lock that was renewed or cleared since
// the timer was armed is left alone.
func (l *Lockout) expire(key string, until time.Time) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok || !e.LockedUntil.Equal(until) {
		l.mu.Unlock()
		return
	}
	e.LockedUntil = time.Time{}
	e.Failures = 0
	delete(l.timers, key)
	snapshot := *e
	l.mu.Unlock()

	ctx := context.Background()
	l.persist(ctx, key, snapshot)
	l.auditUnlock(ctx, snapshot, "expired")
}

// RecordSuccess clears the failure counter and any lock.
func (l *Lockout) RecordSuccess(ctx context.Context, actorID, origin string) {
	l.clear(ctx, lockKey(actorID, origin), "success")
}

// Unlock clears a lock administratively.
func (l *Lockout) Unlock(ctx context.Context, actorID, origin string) {
	l.clear(ctx, lockKey(actorID, origin), "manual")
}

func (l *Lockout) clear(ctx context.Context, key, reason string) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		l.mu.Unlock()
		return
	}
	wasLocked := !e.LockedUntil.IsZero()
	snapshot := *e
	snapshot.LockedUntil = time.Time{}
	snapshot.Failures = 0
	delete(l.entries, key)
	if t, ok := l.timers[key]; ok {
		t.Stop()
		delete(l.timers, key)
	}
	l.mu.Unlock()

	if l.store != nil {
		l.store.Remove(ctx, key)
	}
	if wasLocked {
		l.auditUnlock(ctx, snapshot, reason)
	}
}

// IsAccountLocked reports whether the pair is locked. An elapsed lock is
// released here if its timer has not fired yet.
func (l *Lockout) IsAccountLocked(actorID, origin string) bool {
	_, locked := l.lockedUntil(context.Background(), actorID, origin)
	return locked
}

// Check returns a rate-limited error wrapping ErrAccountLocked while the
// pair is locked.
func (l *Lockout) Check(ctx context.Context, actorID, origin string) error {
	until, locked := l.lockedUntil(ctx, actorID, origin)
	if !locked {
		return nil
	}
	e := apperr.RateLimited("security.login", until, ErrAccountLocked)
	e.Message = fmt.Sprintf("account locked, retry after %s", until.UTC().Format(time.RFC3339))
	return e
}

func (l *Lockout) lockedUntil(ctx context.Context, actorID, origin string) (time.Time, bool) {
	key := lockKey(actorID, origin)
	now := l.now()

	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok || e.LockedUntil.IsZero() {
		l.mu.Unlock()
		return time.Time{}, false
	}
	if e.locked(now) {
		until := e.LockedUntil
		l.mu.Unlock()
		return until, true
	}
	e.LockedUntil = time.Time{}
	e.Failures = 0
	if t, ok := l.timers[key]; ok {
		t.Stop()
		delete(l.timers, key)
	}
	snapshot := *e
	l.mu.Unlock()

	l.persist(ctx, key, snapshot)
	l.auditUnlock(ctx, snapshot, "expired")
	return time.Time{}, false
}

// Locked returns the currently locked pairs sorted by unlock time.
func (l *Lockout) Locked() []LockStatus {
	now := l.now()
	l.mu.Lock()
	out := make([]LockStatus, 0)
	for _, e := range l.entries {
		if e.locked(now) {
			out = append(out, l.statusLocked(e))
		}
	}
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].LockedUntil.Before(out[j].LockedUntil) })
	return out
}

// Sweep releases elapsed locks and forgets idle entries whose last failure
// is older than MaxDuration. It returns the number of entries changed.
func (l *Lockout) Sweep(ctx context.Context) int {
	now := l.now()
	var unlocked []lockEntry
	var unlockedKeys, dropped []string

	l.mu.Lock()
	for key, e := range l.entries {
		if !e.LockedUntil.IsZero() && !e.locked(now) {
			e.LockedUntil = time.Time{}
			e.Failures = 0
			if t, ok := l.timers[key]; ok {
				t.Stop()
				delete(l.timers, key)
			}
			unlocked = append(unlocked, *e)
			unlockedKeys = append(unlockedKeys, key)
			continue
		}
		if e.LockedUntil.IsZero() && now.Sub(e.LastFailure) > l.cfg.MaxDuration {
			delete(l.entries, key)
			dropped = append(dropped, key)
		}
	}
	l.mu.Unlock()

	for i, e := range unlocked {
		l.persist(ctx, unlockedKeys[i], e)
		l.auditUnlock(ctx, e, "expired")
	}
	if l.store != nil {
		for _, key := range dropped {
			l.store.Remove(ctx, key)
		}
	}
	if n := len(unlocked) + len(dropped); n > 0 {
		l.logger.Debug().Int("unlocked", len(unlocked)).Int("dropped", len(dropped)).Msg("lockout sweep")
		return n
	}
	return 0
}

// Restore reloads persisted entries and re-arms timers for active locks.
func (l *Lockout) Restore(ctx context.Context) int {
	if l.store == nil {
		return 0
	}
	now := l.now()
	restored := 0
	for _, key := range l.store.Keys(ctx, "") {
		var e lockEntry
		if !l.store.Get(ctx, key, &e) {
			continue
		}
		l.mu.Lock()
		l.entries[key] = &e
		if e.locked(now) {
			l.armTimerLocked(key, e.LockedUntil, now)
		}
		l.mu.Unlock()
		restored++
	}
	if restored > 0 {
		l.logger.Info().Int("entries", restored).Msg("restored lockout state")
	}
	return restored
}

// Close stops pending unlock timers.
func (l *Lockout) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, t := range l.timers {
		t.Stop()
		delete(l.timers, key)
	}
}

func (l *Lockout) persist(ctx context.Context, key string, e lockEntry) {
	if l.store == nil {
		return
	}
	l.store.Set(ctx, key, e, store.SetOptions{TTL: l.cfg.MaxDuration + l.cfg.Duration})
}

func (l *Lockout) auditUnlock(ctx context.Context, e lockEntry, reason string) {
	l.logger.Info().Str("actor_id", e.ActorID).Str("origin", e.Origin).Str("reason", reason).Msg("account unlocked")
	l.audit(ctx, e, audit.ActionUnlock, map[string]interface{}{
		"origin": e.Origin,
		"reason": reason,
	})
}

func (l *Lockout) audit(ctx context.Context, e lockEntry, action string, details map[string]interface{}) {
	if l.auditor == nil {
		return
	}
	l.auditor.Record(ctx, e.ActorID, action, audit.ResourceAccount, e.ActorID, details, nil)
}

// AttemptsResetAt returns when origin's attempt window resets, or the zero
// time when it is not throttled.
func (l *Lockout) AttemptsResetAt(origin string) time.Time {
	if l.limiter == nil {
		return time.Time{}
	}
	t, _ := l.limiter.ResetTime("login:" + origin)
	return t
}
