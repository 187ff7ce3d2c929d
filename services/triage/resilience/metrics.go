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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for Resilient Generation
// =============================================================================

var (
	// generateOutcomesTotal counts Generate calls by final outcome.
	// Labels: provider, outcome (success, cache_hit, rate_limited,
	// circuit_open, timeout, empty_response, upstream)
	generateOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "triage",
		Subsystem: "resilience",
		Name:      "outcomes_total",
		Help:      "Total generate calls by provider and final outcome",
	}, []string{"provider", "outcome"})

	// generateAttemptsTotal counts network attempts by result.
	// Labels: provider, result (success, timeout, transport, retryable_status,
	// empty, fatal_status)
	generateAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "triage",
		Subsystem: "resilience",
		Name:      "attempts_total",
		Help:      "Total generation attempts by provider and result",
	}, []string{"provider", "result"})

	// attemptLatencySeconds measures single-attempt latency.
	attemptLatencySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "triage",
		Subsystem: "resilience",
		Name:      "attempt_latency_seconds",
		Help:      "Latency of a single generation attempt",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"provider"})

	// cacheLookupsTotal counts cache lookups.
	// Labels: result (hit, miss)
	cacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "triage",
		Subsystem: "resilience",
		Name:      "cache_lookups_total",
		Help:      "Generation cache lookups by result",
	}, []string{"result"})

	// breakerState is 0 closed, 1 open, 2 half-open.
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "triage",
		Subsystem: "resilience",
		Name:      "breaker_state",
		Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
	}, []string{"provider"})
)

func recordOutcome(provider, outcome string) {
	generateOutcomesTotal.WithLabelValues(provider, outcome).Inc()
}

func recordAttempt(provider, result string, seconds float64) {
	generateAttemptsTotal.WithLabelValues(provider, result).Inc()
	attemptLatencySeconds.WithLabelValues(provider).Observe(seconds)
}

func recordCacheLookup(hit bool) {
	if hit {
		cacheLookupsTotal.WithLabelValues("hit").Inc()
		return
	}
	cacheLookupsTotal.WithLabelValues("miss").Inc()
}

func recordBreakerState(provider string, s State) {
	breakerState.WithLabelValues(provider).Set(float64(s))
}
