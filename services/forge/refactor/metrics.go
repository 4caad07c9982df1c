// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package refactor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/AleutianForge/services/forge/operation"
)

var meter = otel.Meter("aleutian.forge.refactor")

var (
	refactorTotal    metric.Int64Counter
	refactorDuration metric.Float64Histogram
	callSitesTotal   metric.Int64Counter

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

		refactorTotal, err = meter.Int64Counter(
			"forge_refactor_total",
			metric.WithDescription("Total refactor requests by operation and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		refactorDuration, err = meter.Float64Histogram(
			"forge_refactor_duration_seconds",
			metric.WithDescription("Duration of refactors in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		callSitesTotal, err = meter.Int64Counter(
			"forge_refactor_call_sites_updated_total",
			metric.WithDescription("Call sites rewritten by refactors"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrTargetNotFound):
		return "not_found"
	case errors.Is(err, operation.ErrUnsupportedOperation):
		return "unsupported"
	default:
		return "error"
	}
}

func recordRefactor(ctx context.Context, kind operation.Kind, callSites int, elapsed time.Duration, err error) {
	if !metricsEnabled.Load() || initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", string(kind)),
		attribute.String("status", outcome(err)),
	)
	refactorTotal.Add(ctx, 1, attrs)
	refactorDuration.Record(ctx, elapsed.Seconds(), attrs)
	if err == nil && callSites > 0 {
		callSitesTotal.Add(ctx, int64(callSites), metric.WithAttributes(attribute.String("operation", string(kind))))
	}
}
