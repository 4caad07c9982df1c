// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package undo

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("aleutian.forge.undo")

var (
	undoTotal    metric.Int64Counter
	undoDuration metric.Float64Histogram
	entriesTotal metric.Int64Counter

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

		undoTotal, err = meter.Int64Counter(
			"forge_undo_total",
			metric.WithDescription("Undo requests by status"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		undoDuration, err = meter.Float64Histogram(
			"forge_undo_duration_seconds",
			metric.WithDescription("Duration of undo in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		entriesTotal, err = meter.Int64Counter(
			"forge_undo_entries_recorded_total",
			metric.WithDescription("Undo entries appended"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

func recordUndo(ctx context.Context, err error, d time.Duration) {
	if !metricsEnabled.Load() || initMetrics() != nil {
		return
	}
	status := "success"
	switch {
	case errors.Is(err, ErrNoHistory):
		status = "empty"
	case err != nil:
		status = "error"
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	undoTotal.Add(ctx, 1, attrs)
	undoDuration.Record(ctx, d.Seconds(), attrs)
}

func recordEntry(ctx context.Context) {
	if !metricsEnabled.Load() || initMetrics() != nil {
		return
	}
	entriesTotal.Add(ctx, 1)
}
