// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package refactor executes semantic refactor operations.
//
// An operation is resolved against the knowledge graph, checked by the
// conflict detector, turned into per-file source edits by the language's
// transformer, and committed as one transaction so that either every file
// changes or none does.
package refactor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/AleutianAI/AleutianForge/services/forge/backup"
	"github.com/AleutianAI/AleutianForge/services/forge/change"
	"github.com/AleutianAI/AleutianForge/services/forge/conflict"
	"github.com/AleutianAI/AleutianForge/services/forge/editor"
	"github.com/AleutianAI/AleutianForge/services/forge/graph"
	"github.com/AleutianAI/AleutianForge/services/forge/operation"
	"github.com/AleutianAI/AleutianForge/services/forge/transaction"
)

// EngineConfig configures an Engine.
type EngineConfig struct {
	Graph       graph.KnowledgeGraph
	Coordinator *transaction.Coordinator

	// Detector defaults to one built over Graph and the coordinator's
	// editor.
	Detector *conflict.Detector

	// Defaults are the edit options of refactor transactions. The zero
	// value uses editor.DefaultOptions().
	Defaults editor.Options

	TracingEnabled bool
	Logger         *slog.Logger
}

// Engine runs refactors for one project.
//
// # Thread Safety
//
// Safe for concurrent use. Refactors touching the same files race through
// the coordinator; the loser fails with a concurrent modification error.
type Engine struct {
	graph       graph.KnowledgeGraph
	coordinator *transaction.Coordinator
	detector    *conflict.Detector
	defaults    editor.Options
	tracer      trace.Tracer
	tracing     bool
	logger      *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Graph == nil {
		return nil, errors.New("knowledge graph is required")
	}
	if cfg.Coordinator == nil {
		return nil, errors.New("transaction coordinator is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "refactor.Engine")

	det := cfg.Detector
	if det == nil {
		var err error
		det, err = conflict.NewDetector(conflict.DetectorConfig{
			Graph:  cfg.Graph,
			Files:  cfg.Coordinator.Editor(),
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
	}

	defaults := cfg.Defaults
	if defaults == (editor.Options{}) {
		defaults = editor.DefaultOptions()
	}

	return &Engine{
		graph:       cfg.Graph,
		coordinator: cfg.Coordinator,
		detector:    det,
		defaults:    defaults,
		tracer:      otel.Tracer("aleutian.forge.refactor"),
		tracing:     cfg.TracingEnabled,
		logger:      logger,
	}, nil
}

// Detector returns the engine's conflict detector.
func (e *Engine) Detector() *conflict.Detector { return e.detector }

// Options tune one refactor.
type Options struct {
	// Scope of call-site rewriting. Empty means graph.ScopeProject.
	Scope graph.Scope

	// Overrides apply on top of the engine defaults for every file.
	Overrides editor.Overrides
}

// FileEdit is the planned change of one file.
type FileEdit struct {
	Path     string          `json:"path"`
	Original []byte          `json:"-"`
	Updated  []byte          `json:"-"`
	Changes  []change.Change `json:"changes"`
}

// Plan is a computed but unwritten refactor.
type Plan struct {
	Operation        operation.Operation `json:"-"`
	Kind             operation.Kind      `json:"operation"`
	Description      string              `json:"description"`
	Scope            graph.Scope         `json:"scope"`
	Report           *conflict.Report    `json:"conflicts"`
	Files            []*FileEdit         `json:"files"`
	CallSitesUpdated int                 `json:"call_sites_updated"`
	Warnings         []string            `json:"warnings,omitempty"`
}

// Paths returns the planned files in order.
func (p *Plan) Paths() []string {
	out := make([]string, len(p.Files))
	for i, f := range p.Files {
		out[i] = f.Path
	}
	return out
}

// Result is the outcome of Refactor.
type Result struct {
	Operation        operation.Kind      `json:"operation"`
	Description      string              `json:"description"`
	Success          bool                `json:"success"`
	FilesModified    []string            `json:"files_modified"`
	CallSitesUpdated int                 `json:"call_sites_updated"`
	Warnings         []string            `json:"warnings,omitempty"`
	Conflicts        *conflict.Report    `json:"conflicts,omitempty"`
	Transaction      *transaction.Result `json:"transaction,omitempty"`
	Duration         time.Duration       `json:"duration_ns"`
}

// Plan computes the edits op would make without writing anything.
//
// # Outputs
//
//   - *Plan: The per-file changes, warnings and conflict report. On a
//     ConflictError the plan is returned too, holding only the report.
//   - error: operation.ErrInvalidOperation, ErrTargetNotFound, ErrConflict,
//     operation.ErrUnsupportedOperation, transform errors, or I/O errors.
func (e *Engine) Plan(ctx context.Context, op operation.Operation, scope graph.Scope) (plan *Plan, err error) {
	defer func() {
		if r := recover(); r != nil {
			plan, err = nil, fmt.Errorf("refactor plan panic: %v", r)
			e.logger.Error("panic while planning refactor", slog.Any("panic", r), slog.String("operation", string(op.Kind())))
		}
	}()

	if err := op.Validate(); err != nil {
		return nil, err
	}
	if scope == "" {
		scope = graph.ScopeProject
	}
	if scope != graph.ScopeModule && scope != graph.ScopeProject {
		return nil, fmt.Errorf("%w: %q", graph.ErrUnknownScope, scope)
	}
	switch op.Kind() {
	case operation.KindMoveFunction, operation.KindExtractModule:
		return nil, operation.Unsupported(op.Kind(), "", "moving code between modules is not supported")
	}

	if err := e.ensureTarget(ctx, op.Target()); err != nil {
		return nil, err
	}

	report, err := e.detector.Check(ctx, op, scope)
	if err != nil {
		return nil, err
	}
	plan = &Plan{
		Operation:   op,
		Kind:        op.Kind(),
		Description: op.Describe(),
		Scope:       scope,
		Report:      report,
	}
	if !report.CanProceed {
		return plan, &ConflictError{Report: report}
	}

	p := newPlanner(ctx, e, op, report, scope)
	if err := p.run(); err != nil {
		return nil, err
	}
	if err := p.finish(plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func (e *Engine) ensureTarget(ctx context.Context, t graph.Target) error {
	if t.IsModule() {
		files, err := e.graph.ModuleFiles(ctx, t.Module)
		if err != nil {
			return fmt.Errorf("files of %s: %w", t.Module, err)
		}
		if len(files) == 0 {
			return &TargetNotFoundError{Target: t.String()}
		}
		return nil
	}
	defs, err := e.graph.ResolveDefinition(ctx, t)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", t, err)
	}
	if len(defs) == 0 {
		return &TargetNotFoundError{Target: t.String()}
	}
	return nil
}

// Refactor plans op and commits it as one transaction.
//
// # Description
//
// Nothing is written unless every file's candidate passes validation. A
// failure while writing rolls back the files already written. Call sites
// that could not be rewritten are reported in Warnings.
//
// # Outputs
//
//   - *Result: Always non-nil. On a ConflictError it carries the report;
//     on a commit failure it carries the transaction result.
//   - error: As Plan, plus transaction errors.
func (e *Engine) Refactor(ctx context.Context, op operation.Operation, opts Options) (res *Result, err error) {
	start := time.Now()
	res = &Result{Operation: op.Kind(), Description: op.Describe()}

	ctx, span := e.startSpan(ctx, op)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("refactor panic: %v", r)
			e.logger.Error("panic during refactor", slog.Any("panic", r), slog.String("operation", string(op.Kind())))
		}
		res.Duration = time.Since(start)
		e.endSpan(span, res, err)
		recordRefactor(ctx, op.Kind(), res.CallSitesUpdated, res.Duration, err)
	}()

	plan, err := e.Plan(ctx, op, opts.Scope)
	if plan != nil {
		res.Conflicts = plan.Report
	}
	if err != nil {
		return res, err
	}
	res.Warnings = append(res.Warnings, reportWarnings(plan.Report)...)
	res.Warnings = append(res.Warnings, plan.Warnings...)

	if len(plan.Files) == 0 {
		res.Success = true
		res.Warnings = append(res.Warnings, "operation produced no changes")
		return res, nil
	}

	descriptor, err := operation.Encode(op)
	if err != nil {
		return res, err
	}
	tx := transaction.New(e.defaults.With(opts.Overrides)).
		Describe(string(op.Kind()), op.Describe(), descriptor)
	for _, f := range plan.Files {
		tx.AddExpected(f.Path, f.Changes, editor.Overrides{}, backup.Digest(f.Original))
	}

	txRes, err := e.coordinator.Commit(ctx, tx)
	res.Transaction = txRes
	if txRes != nil {
		res.Warnings = append(res.Warnings, txRes.Warnings...)
	}
	if err != nil {
		return res, err
	}

	res.Success = true
	res.FilesModified = plan.Paths()
	res.CallSitesUpdated = plan.CallSitesUpdated
	e.logger.Info("refactor committed",
		slog.String("operation", string(op.Kind())),
		slog.String("target", op.Target().String()),
		slog.Int("files", len(res.FilesModified)),
		slog.Int("call_sites", res.CallSitesUpdated),
		slog.Int("warnings", len(res.Warnings)))
	return res, nil
}

func reportWarnings(r *conflict.Report) []string {
	if r == nil {
		return nil
	}
	var out []string
	for _, c := range r.Conflicts {
		if c.Severity == conflict.SeverityWarning {
			out = append(out, c.String())
		}
	}
	return out
}

func (e *Engine) startSpan(ctx context.Context, op operation.Operation) (context.Context, trace.Span) {
	if !e.tracing {
		return ctx, noop.Span{}
	}
	return e.tracer.Start(ctx, "refactor."+string(op.Kind()),
		trace.WithAttributes(
			attribute.String("refactor.operation", string(op.Kind())),
			attribute.String("refactor.target", op.Target().String()),
		),
	)
}

func (e *Engine) endSpan(span trace.Span, res *Result, err error) {
	defer span.End()
	span.SetAttributes(
		attribute.Int("refactor.files_modified", len(res.FilesModified)),
		attribute.Int("refactor.call_sites_updated", res.CallSitesUpdated),
		attribute.Int("refactor.warnings", len(res.Warnings)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
