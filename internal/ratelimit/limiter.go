// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/beacon/internal/logging"
	"github.com/tomtom215/beacon/internal/metrics"
	"github.com/tomtom215/beacon/internal/store"
)

// Unlimited is reported by Remaining for keys that have no window.
const Unlimited = -1

// Config holds fixed-window limiter settings.
type Config struct {
	// Name labels metrics and logs. Default: "default"
	Name string `koanf:"name"`

	// DefaultMax is the request budget used by Allow. Default: 10
	DefaultMax int `koanf:"default_max"`

	// DefaultWindow is the window length used by Allow. Default: 1 minute
	DefaultWindow time.Duration `koanf:"default_window"`

	// MaxKeys bounds the number of tracked windows. Default: 100000
	MaxKeys int `koanf:"max_keys"`

	// Persist writes window snapshots through to the store attached with
	// WithStore so limits survive a restart.
	Persist bool `koanf:"persist"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Name:          "default",
		DefaultMax:    10,
		DefaultWindow: time.Minute,
		MaxKeys:       100000,
	}
}

// Window is the state of one fixed window.
type Window struct {
	Key     string    `json:"key"`
	Count   int       `json:"count"`
	Max     int       `json:"max"`
	ResetAt time.Time `json:"resetAt"`
}

// Limiter is a fixed-window request counter keyed by arbitrary strings.
// It is safe for concurrent use; updates to one key never lose increments.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*Window
	cfg     Config
	store   *store.Store
	logger  zerolog.Logger
	now     func() time.Time
}

// NewLimiter creates a fixed-window limiter.
func NewLimiter(cfg Config) *Limiter {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.DefaultMax <= 0 {
		cfg.DefaultMax = 10
	}
	if cfg.DefaultWindow <= 0 {
		cfg.DefaultWindow = time.Minute
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = 100000
	}

	return &Limiter{
		windows: make(map[string]*Window),
		cfg:     cfg,
		logger:  logging.With().Str("component", "ratelimit").Str("limiter", cfg.Name).Logger(),
		now:     time.Now,
	}
}

// WithStore attaches a store for window snapshots. Snapshots are only
// written when Config.Persist is set.
func (l *Limiter) WithStore(s *store.Store) *Limiter {
	l.store = s
	return l
}

// Allow checks key against the default budget and window.
func (l *Limiter) Allow(key string) bool {
	return l.IsAllowed(key, l.cfg.DefaultMax, l.cfg.DefaultWindow)
}

// IsAllowed reports whether one more request for key fits in the current
// window, counting it when it does. A denied request is not counted.
// Non-positive max or window fall back to the defaults.
func (l *Limiter) IsAllowed(key string, max int, window time.Duration) bool {
	if max <= 0 {
		max = l.cfg.DefaultMax
	}
	if window <= 0 {
		window = l.cfg.DefaultWindow
	}

	now := l.now()

	l.mu.Lock()
	w, ok := l.windows[key]
	allowed := true
	switch {
	case !ok:
		if len(l.windows) >= l.cfg.MaxKeys {
			l.evictLocked(now)
		}
		w = &Window{Key: key, Count: 1, Max: max, ResetAt: now.Add(window)}
		l.windows[key] = w
	case now.After(w.ResetAt):
		w.Count = 1
		w.Max = max
		w.ResetAt = now.Add(window)
	case w.Count >= max:
		w.Max = max
		allowed = false
	default:
		w.Count++
		w.Max = max
	}
	snapshot := *w
	active := len(l.windows)
	l.mu.Unlock()

	metrics.RecordRateLimit(l.cfg.Name, allowed)
	metrics.RateLimitWindows.WithLabelValues(l.cfg.Name).Set(float64(active))

	if allowed {
		l.persist(snapshot, now)
	} else {
		l.logger.Debug().Str("key", key).Int("max", max).Time("reset_at", snapshot.ResetAt).Msg("request denied")
	}
	return allowed
}

// Remaining returns how many requests key may still make in its window.
// Keys without a window report Unlimited; an elapsed window reports its full budget.
func (l *Limiter) Remaining(key string) int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok {
		return Unlimited
	}
	if now.After(w.ResetAt) {
		return w.Max
	}
	if remaining := w.Max - w.Count; remaining > 0 {
		return remaining
	}
	return 0
}

// ResetTime returns when key's current window ends. It reports false when
// the key has no live window.
func (l *Limiter) ResetTime(key string) (time.Time, bool) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.After(w.ResetAt) {
		return time.Time{}, false
	}
	return w.ResetAt, true
}

// Reset forgets key's window.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	delete(l.windows, key)
	l.mu.Unlock()

	if l.store != nil && l.cfg.Persist {
		l.store.Remove(context.Background(), key)
	}
}

// Len returns the number of tracked windows.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Sweep removes windows whose reset time has passed and returns how many
// were removed. Intended to run periodically.
func (l *Limiter) Sweep() int {
	now := l.now()

	l.mu.Lock()
	removed := 0
	for key, w := range l.windows {
		if now.After(w.ResetAt) {
			delete(l.windows, key)
			removed++
		}
	}
	active := len(l.windows)
	l.mu.Unlock()

	metrics.RateLimitWindows.WithLabelValues(l.cfg.Name).Set(float64(active))
	if removed > 0 {
		l.logger.Debug().Int("removed", removed).Int("active", active).Msg("expired windows swept")
	}
	return removed
}

// Restore loads persisted windows that are still live. Windows already in
// memory are kept. It returns the number restored.
func (l *Limiter) Restore(ctx context.Context) int {
	if l.store == nil || !l.cfg.Persist {
		return 0
	}

	now := l.now()
	var loaded []Window
	for _, key := range l.store.Keys(ctx, "") {
		var w Window
		if l.store.Get(ctx, key, &w) && !now.After(w.ResetAt) {
			loaded = append(loaded, w)
		}
	}

	l.mu.Lock()
	restored := 0
	for i := range loaded {
		if _, exists := l.windows[loaded[i].Key]; exists || len(l.windows) >= l.cfg.MaxKeys {
			continue
		}
		w := loaded[i]
		l.windows[w.Key] = &w
		restored++
	}
	l.mu.Unlock()

	if restored > 0 {
		l.logger.Info().Int("restored", restored).Msg("rate limit windows restored")
	}
	return restored
}

// persist writes a window snapshot. Called without the lock held.
func (l *Limiter) persist(w Window, now time.Time) {
	if l.store == nil || !l.cfg.Persist {
		return
	}
	ttl := w.ResetAt.Sub(now)
	if ttl <= 0 {
		return
	}
	if !l.store.Set(context.Background(), w.Key, w, store.SetOptions{TTL: ttl}) {
		l.logger.Warn().Str("key", w.Key).Msg("failed to persist rate limit window")
	}
}

// evictLocked frees one slot, preferring expired windows over the window
// closest to reset. Must be called with l.mu held.
func (l *Limiter) evictLocked(now time.Time) {
	var oldestKey string
	var oldestReset time.Time
	for key, w := range l.windows {
		if now.After(w.ResetAt) {
			delete(l.windows, key)
			return
		}
		if oldestKey == "" || w.ResetAt.Before(oldestReset) {
			oldestKey = key
			oldestReset = w.ResetAt
		}
	}
	if oldestKey != "" {
		delete(l.windows, oldestKey)
	}
}
