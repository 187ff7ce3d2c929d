// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// =============================================================================
// Pipeline Metrics
// =============================================================================

var (
	// resultsTotal counts finished triages.
	// Labels: pack_id, outcome (rule, model, repaired, fallback, error)
	resultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "triage",
		Subsystem: "pipeline",
		Name:      "results_total",
		Help:      "Total triage results by pack and outcome",
	}, []string{"pack_id", "outcome"})

	// pipelineDuration is recorded through the OTel meter provider installed
	// by the command; the global provider delegates until one is set.
	pipelineDuration, _ = otel.Meter("aleutian.triage").Float64Histogram(
		"triage.pipeline.duration",
		metric.WithDescription("End-to-end triage latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.05, 0.25, 1, 2.5, 5, 10, 30, 60, 120),
	)
)

func recordResult(packID, outcome string) {
	if packID == "" {
		packID = "unknown"
	}
	resultsTotal.WithLabelValues(packID, outcome).Inc()
}

func recordDuration(ctx context.Context, packID, outcome string, d time.Duration) {
	if pipelineDuration == nil {
		return
	}
	pipelineDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("pack_id", packID),
		attribute.String("outcome", outcome),
	))
}
