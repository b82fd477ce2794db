// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package ratelimit

import (
	"sync"
	"time"

	"github.com/tomtom215/beacon/internal/metrics"
)

// slidingCounter approximates a rolling window with a ring of fixed buckets.
//
// Complexity:
//   - add: O(1) amortized
//   - count: O(k) where k = number of buckets
type slidingCounter struct {
	buckets    []int
	bucketSize time.Duration
	current    int
	bucketAt   time.Time // start of the current bucket
}

func newSlidingCounter(window time.Duration, numBuckets int, now time.Time) *slidingCounter {
	return &slidingCounter{
		buckets:    make([]int, numBuckets),
		bucketSize: window / time.Duration(numBuckets),
		bucketAt:   now,
	}
}

// advance rotates the ring so the current bucket covers now.
func (c *slidingCounter) advance(now time.Time) {
	elapsed := int(now.Sub(c.bucketAt) / c.bucketSize)
	if elapsed <= 0 {
		return
	}
	if elapsed >= len(c.buckets) {
		for i := range c.buckets {
			c.buckets[i] = 0
		}
		c.current = 0
	} else {
		for i := 0; i < elapsed; i++ {
			c.current = (c.current + 1) % len(c.buckets)
			c.buckets[c.current] = 0
		}
	}
	c.bucketAt = c.bucketAt.Add(time.Duration(elapsed) * c.bucketSize)
}

func (c *slidingCounter) count(now time.Time) int {
	c.advance(now)
	total := 0
	for _, n := range c.buckets {
		total += n
	}
	return total
}

// SlidingLimiter limits requests per key over a rolling window, avoiding the
// burst at fixed-window boundaries. Like Limiter, denied requests are not counted.
type SlidingLimiter struct {
	mu         sync.Mutex
	counters   map[string]*slidingCounter
	name       string
	window     time.Duration
	numBuckets int
	now        func() time.Time
}

// NewSlidingLimiter creates a limiter over window split into numBuckets buckets.
func NewSlidingLimiter(name string, window time.Duration, numBuckets int) *SlidingLimiter {
	if numBuckets <= 0 {
		numBuckets = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	if window < time.Duration(numBuckets) {
		numBuckets = 1
	}
	if name == "" {
		name = "sliding"
	}
	return &SlidingLimiter{
		counters:   make(map[string]*slidingCounter),
		name:       name,
		window:     window,
		numBuckets: numBuckets,
		now:        time.Now,
	}
}

// IsAllowed counts one request for key unless max requests already fall in the window.
func (s *SlidingLimiter) IsAllowed(key string, max int) bool {
	now := s.now()

	s.mu.Lock()
	c, ok := s.counters[key]
	if !ok {
		c = newSlidingCounter(s.window, s.numBuckets, now)
		s.counters[key] = c
	}
	allowed := c.count(now) < max
	if allowed {
		c.buckets[c.current]++
	}
	s.mu.Unlock()

	metrics.RecordRateLimit(s.name, allowed)
	return allowed
}

// Count returns the number of requests for key inside the window.
func (s *SlidingLimiter) Count(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok {
		return 0
	}
	return c.count(s.now())
}

// Remaining returns the budget left for key, or Unlimited for unknown keys.
func (s *SlidingLimiter) Remaining(key string, max int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok {
		return Unlimited
	}
	if remaining := max - c.count(s.now()); remaining > 0 {
		return remaining
	}
	return 0
}

// RetryAt returns when the next bucket opens for key, the earliest moment a
// denied caller can succeed. Unknown keys return the zero time.
func (s *SlidingLimiter) RetryAt(key string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok {
		return time.Time{}
	}
	c.advance(s.now())
	return c.bucketAt.Add(c.bucketSize)
}

// Len returns the number of tracked keys.
func (s *SlidingLimiter) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}

// Reset forgets key.
func (s *SlidingLimiter) Reset(key string) {
	s.mu.Lock()
	delete(s.counters, key)
	s.mu.Unlock()
}

// Sweep drops counters whose window no longer holds any request.
func (s *SlidingLimiter) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, c := range s.counters {
		if c.count(now) == 0 {
			delete(s.counters, key)
			removed++
		}
	}
	return removed
}
