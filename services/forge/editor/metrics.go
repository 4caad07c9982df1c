// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package editor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("aleutian.forge.editor")

var (
	editTotal          metric.Int64Counter
	editDuration       metric.Float64Histogram
	validationFailures metric.Int64Counter
	concurrentMods     metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

var metricsEnabled atomic.Bool

func init() {
	metricsEnabled.Store(true)
}

// SetMetricsEnabled toggles metric recording for this package.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		editTotal, err = meter.Int64Counter(
			"forge_edit_total",
			metric.WithDescription("Total single-file edit and rollback operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		editDuration, err = meter.Float64Histogram(
			"forge_edit_duration_seconds",
			metric.WithDescription("Duration of single-file edits in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		validationFailures, err = meter.Int64Counter(
			"forge_edit_validation_failures_total",
			metric.WithDescription("Edits rejected by a language validator"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		concurrentMods, err = meter.Int64Counter(
			"forge_edit_concurrent_modifications_total",
			metric.WithDescription("Edits refused because the file changed on disk"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordEdit(ctx context.Context, op string, err error, d time.Duration) {
	if !metricsEnabled.Load() || initMetrics() != nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("status", status),
	)
	editTotal.Add(ctx, 1, attrs)
	editDuration.Record(ctx, d.Seconds(), attrs)
}

func recordValidationFailure(ctx context.Context, language string) {
	if !metricsEnabled.Load() || initMetrics() != nil {
		return
	}
	validationFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("language", language)))
}

func recordConflict(ctx context.Context) {
	if !metricsEnabled.Load() || initMetrics() != nil {
		return
	}
	concurrentMods.Add(ctx, 1)
}
