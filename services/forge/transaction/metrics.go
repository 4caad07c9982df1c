// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transaction

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("aleutian.forge.transaction")

var (
	commitTotal         metric.Int64Counter
	rollbackTotal       metric.Int64Counter
	transactionDuration metric.Float64Histogram
	filesEdited         metric.Int64Histogram

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

		commitTotal, err = meter.Int64Counter(
			"forge_transaction_commit_total",
			metric.WithDescription("Total transaction commits by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rollbackTotal, err = meter.Int64Counter(
			"forge_transaction_rollback_total",
			metric.WithDescription("Total rollbacks after a partial apply"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		transactionDuration, err = meter.Float64Histogram(
			"forge_transaction_duration_seconds",
			metric.WithDescription("Duration of transaction commits in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		filesEdited, err = meter.Int64Histogram(
			"forge_transaction_files_edited",
			metric.WithDescription("Files written per committed transaction"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordCommit(ctx context.Context, operation string, res *Result, err error) {
	if !metricsEnabled.Load() || initMetrics() != nil {
		return
	}

	status := "success"
	switch {
	case err == nil:
	case res != nil && res.FilesystemTouched:
		status = "rolled_back"
	default:
		status = "aborted"
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)
	commitTotal.Add(ctx, 1, attrs)
	if res != nil {
		transactionDuration.Record(ctx, res.Duration.Seconds(), attrs)
		if err == nil {
			filesEdited.Record(ctx, int64(res.FilesEdited), metric.WithAttributes(attribute.String("operation", operation)))
		}
	}
}

func recordRollback(ctx context.Context, success bool) {
	if !metricsEnabled.Load() || initMetrics() != nil {
		return
	}
	status := "success"
	if !success {
		status = "failed"
	}
	rollbackTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
