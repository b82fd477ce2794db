// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/beacon/internal/store"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(clock *fakeClock) *Limiter {
	l := NewLimiter(DefaultConfig())
	l.now = clock.Now
	return l
}

func TestLimiter_FixedWindowSequence(t *testing.T) {
	l := NewLimiter(DefaultConfig())

	want := []bool{true, true, true, false}
	for i, w := range want {
		if got := l.IsAllowed("k", 3, time.Second); got != w {
			t.Errorf("call %d: IsAllowed() = %v, want %v", i+1, got, w)
		}
	}
}

func TestLimiter_WindowResetsAfterExpiry(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	for i := 0; i < 3; i++ {
		l.IsAllowed("k", 3, time.Second)
	}
	if l.IsAllowed("k", 3, time.Second) {
		t.Fatal("4th call inside window should be denied")
	}

	resetAt, ok := l.ResetTime("k")
	if !ok {
		t.Fatal("ResetTime() reported no window")
	}

	// Exactly at resetAt the window is still closed
	clock.Advance(resetAt.Sub(clock.Now()))
	if l.IsAllowed("k", 3, time.Second) {
		t.Error("call at resetAt should still be denied")
	}

	clock.Advance(time.Millisecond)
	if !l.IsAllowed("k", 3, time.Second) {
		t.Fatal("call at resetAt+1ms should be allowed")
	}
	if got := l.Remaining("k"); got != 2 {
		t.Errorf("Remaining() after reset = %d, want 2 (count reset to 1)", got)
	}
}

func TestLimiter_DeniedCallDoesNotIncrement(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	l.IsAllowed("k", 2, time.Minute)
	l.IsAllowed("k", 2, time.Minute)
	for i := 0; i < 5; i++ {
		l.IsAllowed("k", 2, time.Minute)
	}

	l.mu.Lock()
	count := l.windows["k"].Count
	l.mu.Unlock()
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestLimiter_RemainingAndResetTime(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	if got := l.Remaining("unknown"); got != Unlimited {
		t.Errorf("Remaining(unknown) = %d, want Unlimited", got)
	}
	if _, ok := l.ResetTime("unknown"); ok {
		t.Error("ResetTime(unknown) reported a window")
	}

	l.IsAllowed("k", 5, time.Minute)
	l.IsAllowed("k", 5, time.Minute)
	if got := l.Remaining("k"); got != 3 {
		t.Errorf("Remaining() = %d, want 3", got)
	}

	resetAt, ok := l.ResetTime("k")
	if !ok || !resetAt.Equal(clock.Now().Add(time.Minute)) {
		t.Errorf("ResetTime() = %v, %v", resetAt, ok)
	}

	// Reads do not consume budget
	for i := 0; i < 10; i++ {
		l.Remaining("k")
		l.ResetTime("k")
	}
	if got := l.Remaining("k"); got != 3 {
		t.Errorf("Remaining() after reads = %d, want 3", got)
	}

	clock.Advance(2 * time.Minute)
	if got := l.Remaining("k"); got != 5 {
		t.Errorf("Remaining() after window = %d, want 5", got)
	}
	if _, ok := l.ResetTime("k"); ok {
		t.Error("ResetTime() should report no live window after expiry")
	}
}

func TestLimiter_AllowUsesDefaults(t *testing.T) {
	l := NewLimiter(Config{DefaultMax: 2, DefaultWindow: time.Minute})

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("first two calls should be allowed")
	}
	if l.Allow("a") {
		t.Error("third call should be denied")
	}
	if !l.Allow("b") {
		t.Error("other keys are independent")
	}
}

func TestLimiter_ConcurrentIncrementsAreAtomic(t *testing.T) {
	l := NewLimiter(DefaultConfig())

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.IsAllowed("shared", 50, time.Minute) {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != 50 {
		t.Errorf("allowed = %d, want exactly 50", got)
	}
	if got := l.Remaining("shared"); got != 0 {
		t.Errorf("Remaining() = %d, want 0", got)
	}
}

func TestLimiter_Sweep(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	l.IsAllowed("short", 1, time.Second)
	l.IsAllowed("long", 1, time.Hour)

	clock.Advance(2 * time.Second)
	if n := l.Sweep(); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
	if l.Len() != 1 {
		t.Errorf("Len() = %d, want 1", l.Len())
	}
	if got := l.Remaining("short"); got != Unlimited {
		t.Errorf("Remaining(short) after sweep = %d, want Unlimited", got)
	}
}

func TestLimiter_MaxKeysEvicts(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter(Config{MaxKeys: 2})
	l.now = clock.Now

	l.IsAllowed("a", 1, time.Second)
	l.IsAllowed("b", 1, time.Hour)
	l.IsAllowed("c", 1, time.Hour)

	if l.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", l.Len())
	}
	if got := l.Remaining("a"); got != Unlimited {
		t.Errorf("window closest to reset should be evicted, Remaining(a) = %d", got)
	}
}

func TestLimiter_Reset(t *testing.T) {
	l := NewLimiter(DefaultConfig())
	l.IsAllowed("k", 1, time.Minute)
	if l.IsAllowed("k", 1, time.Minute) {
		t.Fatal("second call should be denied")
	}
	l.Reset("k")
	if !l.IsAllowed("k", 1, time.Minute) {
		t.Error("call after Reset should be allowed")
	}
}

func TestLimiter_PersistAndRestore(t *testing.T) {
	backend := store.NewMemoryBackend()
	s := store.New(backend, store.Config{Namespace: "ratelimit"})
	ctx := context.Background()

	cfg := DefaultConfig()
	cfg.Persist = true

	first := NewLimiter(cfg).WithStore(s)
	first.IsAllowed("login:10.0.0.1", 2, time.Minute)
	first.IsAllowed("login:10.0.0.1", 2, time.Minute)

	second := NewLimiter(cfg).WithStore(s)
	if n := second.Restore(ctx); n != 1 {
		t.Fatalf("Restore() = %d, want 1", n)
	}
	if second.IsAllowed("login:10.0.0.1", 2, time.Minute) {
		t.Error("restored window should still be exhausted")
	}
}

func TestLimiter_RestoreWithoutPersistIsNoop(t *testing.T) {
	s := store.New(store.NewMemoryBackend(), store.Config{Namespace: "ratelimit"})
	l := NewLimiter(DefaultConfig()).WithStore(s)
	l.IsAllowed("k", 1, time.Minute)

	if n := NewLimiter(DefaultConfig()).WithStore(s).Restore(context.Background()); n != 0 {
		t.Errorf("Restore() = %d, want 0", n)
	}
}
