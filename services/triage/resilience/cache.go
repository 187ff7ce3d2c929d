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
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sync"
	"time"
)

// CacheKey derives a deterministic key from the generation inputs. Each part
// is length-prefixed so ("ab", "c") and ("a", "bc") never collide.
func CacheKey(prompt, system, model string) string {
	h := sha256.New()
	var lenBuf [8]byte
	for _, part := range []string{prompt, system, model} {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(part)))
		h.Write(lenBuf[:])
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

type cacheEntry struct {
	text     string
	storedAt time.Time
}

// Cache is an in-memory TTL cache of successful generations.
//
// Description:
//
//	Entries older than the TTL are evicted lazily when looked up. When the
//	cache is full, expired entries are swept and then the oldest entry is
//	dropped. A TTL of zero disables the cache entirely.
//
// Thread Safety: Safe for concurrent use via sync.Mutex.
type Cache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]cacheEntry
	now        func() time.Time
}

// NewCache creates a cache. maxEntries <= 0 defaults to 1024.
func NewCache(ttl time.Duration, maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &Cache{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]cacheEntry),
		now:        time.Now,
	}
}

// Enabled reports whether the cache stores anything.
func (c *Cache) Enabled() bool { return c.ttl > 0 }

// Get returns the cached text for key if it is younger than the TTL.
func (c *Cache) Get(key string) (string, bool) {
	if !c.Enabled() {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.now().Sub(e.storedAt) >= c.ttl {
		delete(c.entries, key)
		return "", false
	}
	return e.text, true
}

// Put stores text under key. No-op when the cache is disabled.
func (c *Cache) Put(key, text string) {
	if !c.Enabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLocked(now)
	}
	c.entries[key] = cacheEntry{text: text, storedAt: now}
}

// Len returns the number of stored entries, including stale ones not yet
// evicted.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) evictLocked(now time.Time) {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.entries {
		if now.Sub(e.storedAt) >= c.ttl {
			delete(c.entries, k)
			continue
		}
		if oldestKey == "" || e.storedAt.Before(oldest) {
			oldestKey, oldest = k, e.storedAt
		}
	}
	if len(c.entries) >= c.maxEntries && oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
