// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package egress

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// egressRequests counts guard decisions by provider and outcome
	// (allowed, or the name of the refusing check).
	egressRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "triage",
			Subsystem: "egress",
			Name:      "requests_total",
			Help:      "Generation requests seen by the egress guard, by decision",
		},
		[]string{"provider", "decision"},
	)

	// egressRedactions counts patient identifiers removed before sending.
	egressRedactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "triage",
			Subsystem: "egress",
			Name:      "redactions_total",
			Help:      "Patient identifiers redacted from outbound prompts",
		},
		[]string{"provider"},
	)
)

func recordDecision(provider, decision string) {
	egressRequests.WithLabelValues(provider, decision).Inc()
}

func recordRedactions(provider string, n int) {
	if n > 0 {
		egressRedactions.WithLabelValues(provider).Add(float64(n))
	}
}
