// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for language server traffic.
var meter = otel.Meter("aleutian.codeintel.lsp")

// Metrics for request round-trips and degraded operations.
var (
	requestLatency metric.Float64Histogram
	requestTotal   metric.Int64Counter
	degradeTotal   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		requestLatency, err = meter.Float64Histogram(
			"lsp_request_duration_seconds",
			metric.WithDescription("Round-trip duration of JSON-RPC requests"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		requestTotal, err = meter.Int64Counter(
			"lsp_requests_total",
			metric.WithDescription("Total number of JSON-RPC requests sent"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		degradeTotal, err = meter.Int64Counter(
			"lsp_degraded_operations_total",
			metric.WithDescription("Operations that degraded to an empty result"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordRequest records one request round-trip.
func recordRequest(ctx context.Context, method string, duration time.Duration, success bool) {
	if err := initMetrics(); err != nil {
		return // Silently skip if metrics init failed
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.Bool("success", success),
	)
	requestLatency.Record(ctx, duration.Seconds(), attrs)
	requestTotal.Add(ctx, 1, attrs)
}

// recordDegrade records one operation that swallowed a failure.
func recordDegrade(op string) {
	if err := initMetrics(); err != nil {
		return
	}
	degradeTotal.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("operation", op)),
	)
}
