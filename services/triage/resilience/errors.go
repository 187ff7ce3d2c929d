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
	"context"
	"errors"
	"net"

	"github.com/AleutianAI/AleutianTriage/services/llm"
)

// Sentinel errors returned by Client.Generate. Callers treat every one of
// them as a signal to fall back, never as a crash.
var (
	ErrRateLimited   = errors.New("resilience: rate limited")
	ErrCircuitOpen   = errors.New("resilience: circuit open")
	ErrUpstream      = errors.New("resilience: upstream error")
	ErrTimeout       = errors.New("resilience: timeout")
	ErrEmptyResponse = errors.New("resilience: empty response")
)

// failureKind classifies one failed attempt.
type failureKind int

const (
	kindTransport failureKind = iota
	kindTimeout
	kindRetryableStatus
	kindEmpty
	// kindFatal is a non-retryable 4xx or a policy refusal. It neither
	// retries nor touches the breaker.
	kindFatal
)

func (k failureKind) String() string {
	switch k {
	case kindTimeout:
		return "timeout"
	case kindRetryableStatus:
		return "retryable_status"
	case kindEmpty:
		return "empty"
	case kindFatal:
		return "fatal_status"
	default:
		return "transport"
	}
}

// classify maps a generator error to a failureKind.
func classify(err error) failureKind {
	var se *llm.StatusError
	if errors.As(err, &se) {
		if se.Retryable() {
			return kindRetryableStatus
		}
		return kindFatal
	}
	if errors.Is(err, llm.ErrPolicyBlocked) {
		return kindFatal
	}
	if errors.Is(err, llm.ErrEmptyResponse) {
		return kindEmpty
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return kindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return kindTimeout
	}
	return kindTransport
}

// sentinelFor returns the public sentinel for the last failure of a call.
func sentinelFor(k failureKind) error {
	switch k {
	case kindTimeout:
		return ErrTimeout
	case kindEmpty:
		return ErrEmptyResponse
	default:
		return ErrUpstream
	}
}

// ErrorClass names the sentinel err carries, for metadata and metrics.
// An egress policy refusal is reported as "policy_blocked" even though it
// is wrapped in ErrUpstream. Returns "" for nil and "unknown" for errors
// outside the contract.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrEmptyResponse):
		return "empty_response"
	case errors.Is(err, llm.ErrPolicyBlocked):
		return "policy_blocked"
	case errors.Is(err, ErrUpstream):
		return "upstream"
	default:
		return "unknown"
	}
}
