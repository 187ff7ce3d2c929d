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

// State is a circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker is a consecutive-failure circuit breaker.
//
// Description:
//
//	Closed: calls pass; each qualifying failure increments a counter and
//	reaching the threshold opens the circuit. Open: calls are rejected until
//	the cool-down has elapsed since opening. Half-open: exactly one trial call
//	is admitted; its success closes the circuit and its failure reopens it.
//	Any success resets the counter and closes the circuit regardless of the
//	prior state.
//
// Thread Safety: Safe for concurrent use via sync.Mutex. The lock is never
// held across the guarded call.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	coolDown  time.Duration
	now       func() time.Time

	state    State
	failures int
	openedAt time.Time
	trial    bool // half-open trial in flight

	onChange func(from, to State)
}

// NewBreaker creates a closed breaker. threshold < 1 is treated as 1.
func NewBreaker(threshold int, coolDown time.Duration) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	return &Breaker{threshold: threshold, coolDown: coolDown, now: time.Now}
}

// Allow reports whether a call may proceed. It returns ErrCircuitOpen while
// the circuit is open and cooling down, or while a half-open trial is
// already in flight. The transition from open to half-open happens here.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.coolDown {
			return ErrCircuitOpen
		}
		b.setLocked(StateHalfOpen)
		b.trial = true
		return nil
	case StateHalfOpen:
		if b.trial {
			return ErrCircuitOpen
		}
		b.trial = true
		return nil
	default:
		return nil
	}
}

// Success records a successful call.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.trial = false
	b.setLocked(StateClosed)
}

// Failure records a qualifying failure.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trial = false
	if b.state == StateHalfOpen {
		b.openLocked()
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.openLocked()
	}
}

// Release ends a call whose outcome does not count either way. In half-open
// it frees the trial slot without changing state.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trial = false
}

// State returns the current state. An open circuit whose cool-down has
// elapsed still reports open until the next Allow.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) openLocked() {
	b.openedAt = b.now()
	b.setLocked(StateOpen)
}

func (b *Breaker) setLocked(to State) {
	from := b.state
	b.state = to
	if from != to && b.onChange != nil {
		b.onChange(from, to)
	}
}
