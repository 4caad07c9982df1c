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
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "aleutian.forge.transaction"

// Tracer wraps OpenTelemetry tracing for commits and rollbacks. When
// disabled it returns noop spans.
type Tracer struct {
	tracer  trace.Tracer
	logger  *slog.Logger
	enabled bool
}

// NewTracer creates a Tracer.
func NewTracer(logger *slog.Logger, enabled bool) *Tracer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracer{
		tracer:  otel.Tracer(tracerName),
		logger:  logger,
		enabled: enabled,
	}
}

// StartCommit starts a span for a commit.
func (t *Tracer) StartCommit(ctx context.Context, tx *Transaction) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}

	ctx, span := t.tracer.Start(ctx, "transaction.commit",
		trace.WithAttributes(
			attribute.String("tx.id", tx.ID),
			attribute.String("tx.operation", tx.Operation),
			attribute.Int("tx.files_count", tx.Len()),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)

	t.logger.DebugContext(ctx, "committing transaction",
		slog.String("tx_id", tx.ID),
		slog.Int("files", tx.Len()),
	)
	return ctx, span
}

// EndCommit ends a commit span.
func (t *Tracer) EndCommit(span trace.Span, res *Result, err error) {
	if span == nil {
		return
	}
	defer span.End()

	if res != nil {
		span.SetAttributes(
			attribute.Int("tx.files_edited", res.FilesEdited),
			attribute.Bool("tx.rolled_back", res.RolledBack),
			attribute.Int64("tx.duration_ms", res.Duration.Milliseconds()),
		)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// StartRollback starts a span for a rollback.
func (t *Tracer) StartRollback(ctx context.Context, txID string, files int) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, "transaction.rollback",
		trace.WithAttributes(
			attribute.String("tx.id", txID),
			attribute.Int("tx.files_to_restore", files),
		),
	)
}

// EndRollback ends a rollback span.
func (t *Tracer) EndRollback(span trace.Span, err error) {
	if span == nil {
		return
	}
	defer span.End()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
