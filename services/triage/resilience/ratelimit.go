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
	"time"
)

// RateLimiter implements a sliding window rate limiter per key.
//
// Description:
//
//	Each key keeps the timestamps of its admitted calls. On every call the
//	timestamps older than the window are dropped from the front; when the
//	remaining count reaches the limit the call is rejected immediately with
//	the duration until the oldest timestamp ages out. There is no queueing.
//
// Thread Safety: Safe for concurrent use via sync.Mutex.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	windows map[string][]int64 // timestamps in Unix nanoseconds
	now     func() time.Time
}

// NewRateLimiter creates a rate limiter.
//
// Inputs:
//   - limit: Maximum admitted calls per window per key. Zero or negative
//     disables limiting.
//   - window: Window width. Zero or negative defaults to one minute.
//
// Outputs:
//   - *RateLimiter: Configured rate limiter.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		limit:   limit,
		window:  window,
		windows: make(map[string][]int64),
		now:     time.Now,
	}
}

// Allow checks whether a call for key is within the rate limit and records
// it when it is.
//
// Outputs:
//   - bool: True if the call is admitted.
//   - time.Duration: If rejected, how long until a slot frees up. Zero if
//     admitted.
func (r *RateLimiter) Allow(key string) (bool, time.Duration) {
	if r.limit <= 0 {
		return true, 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UnixNano()
	windowStart := now - r.window.Nanoseconds()

	timestamps := r.windows[key]
	drop := 0
	for drop < len(timestamps) && timestamps[drop] <= windowStart {
		drop++
	}
	timestamps = timestamps[drop:]

	if len(timestamps) >= r.limit {
		r.windows[key] = timestamps
		retryAfter := time.Duration(timestamps[0] + r.window.Nanoseconds() - now)
		return false, retryAfter
	}

	r.windows[key] = append(timestamps, now)
	return true, 0
}
