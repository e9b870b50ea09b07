// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Formworks Contributors

package perm

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for permission resolution.
var (
	// resolveDuration tracks the latency of Resolve() calls.
	resolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "perm_resolve_duration_seconds",
		Help:    "Histogram of permission resolution latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// decisionsTotal counts decisions by deciding source and verdict.
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perm_decisions_total",
		Help: "Total number of permission decisions",
	}, []string{"source", "verdict"})

	// sourceErrorsTotal counts store failures per chain link. Failures
	// degrade to deny; this counter is how operators notice them.
	sourceErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perm_source_errors_total",
		Help: "Total number of permission source store failures",
	}, []string{"source"})
)

// recordDecisionMetrics records metrics for one completed resolution.
func recordDecisionMetrics(duration time.Duration, source string, verdict Verdict) {
	resolveDuration.Observe(duration.Seconds())
	decisionsTotal.WithLabelValues(source, verdict.String()).Inc()
}
