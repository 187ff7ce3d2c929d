// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resilience

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// =============================================================================
// RateLimiter
// =============================================================================

func TestRateLimiter_RejectsLPlusOneWithinWindow(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(3, time.Minute)
	rl.now = clock.Now

	for i := 0; i < 3; i++ {
		ok, _ := rl.Allow("ollama")
		require.True(t, ok, "call %d should be admitted", i+1)
		clock.Advance(10 * time.Second)
	}

	ok, retryAfter := rl.Allow("ollama")
	assert.False(t, ok)
	assert.Equal(t, 30*time.Second, retryAfter, "oldest call ages out 60s after it was admitted")
}

func TestRateLimiter_AdmitsAfterOldestAgesOut(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(2, time.Minute)
	rl.now = clock.Now

	rl.Allow("k")
	clock.Advance(30 * time.Second)
	rl.Allow("k")

	ok, _ := rl.Allow("k")
	require.False(t, ok)

	clock.Advance(30 * time.Second)
	ok, _ = rl.Allow("k")
	assert.True(t, ok, "first timestamp is now exactly one window old")

	ok, _ = rl.Allow("k")
	assert.False(t, ok, "second and third timestamps are still inside the window")
}

func TestRateLimiter_RejectionsAreNotRecorded(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(1, time.Minute)
	rl.now = clock.Now

	rl.Allow("k")
	for i := 0; i < 5; i++ {
		rl.Allow("k")
	}
	clock.Advance(time.Minute)
	ok, _ := rl.Allow("k")
	assert.True(t, ok)
}

func TestRateLimiter_IndependentKeysAndDisabled(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	ok, _ := rl.Allow("a")
	assert.True(t, ok)
	ok, _ = rl.Allow("b")
	assert.True(t, ok)
	ok, _ = rl.Allow("a")
	assert.False(t, ok)

	off := NewRateLimiter(0, time.Minute)
	for i := 0; i < 100; i++ {
		ok, _ := off.Allow("a")
		require.True(t, ok)
	}
}

// =============================================================================
// Cache
// =============================================================================

func TestCacheKey(t *testing.T) {
	assert.Equal(t, CacheKey("p", "s", "m"), CacheKey("p", "s", "m"))
	assert.NotEqual(t, CacheKey("ab", "c", "m"), CacheKey("a", "bc", "m"))
	assert.NotEqual(t, CacheKey("p", "s", "m1"), CacheKey("p", "s", "m2"))
	assert.Len(t, CacheKey("", "", ""), 64)
}

func TestCache_TTL(t *testing.T) {
	clock := newFakeClock()
	c := NewCache(time.Minute, 0)
	c.now = clock.Now

	c.Put("k", "v")
	clock.Advance(59 * time.Second)
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", got)

	clock.Advance(time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "stale entry is evicted on lookup")
}

func TestCache_DisabledWithZeroTTL(t *testing.T) {
	c := NewCache(0, 0)
	c.Put("k", "v")
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCache_EvictsOldestWhenFull(t *testing.T) {
	clock := newFakeClock()
	c := NewCache(time.Hour, 2)
	c.now = clock.Now

	c.Put("a", "1")
	clock.Advance(time.Second)
	c.Put("b", "2")
	clock.Advance(time.Second)
	c.Put("c", "3")

	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

// =============================================================================
// Breaker
// =============================================================================

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker(3, 30*time.Second)
	b.now = clock.Now

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.Failure()
		assert.Equal(t, StateClosed, b.State())
	}
	require.NoError(t, b.Allow())
	b.Failure()
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestBreaker_HalfOpenAllowsExactlyOneTrial(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker(1, 30*time.Second)
	b.now = clock.Now

	b.Failure()
	require.Equal(t, StateOpen, b.State())

	clock.Advance(29 * time.Second)
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	clock.Advance(time.Second)
	require.NoError(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen, "second caller during the trial is rejected")

	b.Success()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker(5, 10*time.Second)
	b.now = clock.Now

	for i := 0; i < 5; i++ {
		b.Failure()
	}
	clock.Advance(10 * time.Second)
	require.NoError(t, b.Allow())

	b.Failure()
	assert.Equal(t, StateOpen, b.State(), "a single half-open failure reopens")
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen, "cool-down restarts")
}

func TestBreaker_ReleaseFreesTrial(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker(1, time.Second)
	b.now = clock.Now

	b.Failure()
	clock.Advance(time.Second)
	require.NoError(t, b.Allow())
	b.Release()
	assert.Equal(t, StateHalfOpen, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreaker_SuccessResetsCounter(t *testing.T) {
	b := NewBreaker(2, time.Minute)
	b.Failure()
	b.Success()
	b.Failure()
	assert.Equal(t, StateClosed, b.State())
}
