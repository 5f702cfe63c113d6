// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for editor operations.
var meter = otel.Meter("aleutian.codeintel.ast")

// Metrics for parse, replace, and fallback activity.
var (
	parseLatency  metric.Float64Histogram
	parseTotal    metric.Int64Counter
	replaceTotal  metric.Int64Counter
	fallbackTotal metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		parseLatency, err = meter.Float64Histogram(
			"ast_parse_duration_seconds",
			metric.WithDescription("Duration of tree-sitter parse operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		parseTotal, err = meter.Int64Counter(
			"ast_parse_total",
			metric.WithDescription("Total number of parse operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		replaceTotal, err = meter.Int64Counter(
			"ast_replacements_total",
			metric.WithDescription("Total number of text replacements applied"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		fallbackTotal, err = meter.Int64Counter(
			"ast_fallback_total",
			metric.WithDescription("Operations served by the regex fallback engine"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordParse records one parse operation.
func recordParse(ctx context.Context, language string, duration time.Duration, success bool) {
	if err := initMetrics(); err != nil {
		return // Silently skip if metrics init failed
	}

	attrs := metric.WithAttributes(
		attribute.String("language", language),
		attribute.Bool("success", success),
	)
	parseLatency.Record(ctx, duration.Seconds(), attrs)
	parseTotal.Add(ctx, 1, attrs)
}

// recordReplace records replacements applied in one operation.
func recordReplace(ctx context.Context, language string, count int) {
	if err := initMetrics(); err != nil {
		return
	}
	replaceTotal.Add(ctx, int64(count),
		metric.WithAttributes(attribute.String("language", language)),
	)
}

// recordFallback records one operation served without a grammar.
func recordFallback(ctx context.Context, language string) {
	if err := initMetrics(); err != nil {
		return
	}
	fallbackTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("language", language)),
	)
}
