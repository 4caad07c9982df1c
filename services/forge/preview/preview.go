// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package preview shows what a refactor would change without writing it.
package preview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianForge/services/forge/advisor"
	"github.com/AleutianAI/AleutianForge/services/forge/conflict"
	"github.com/AleutianAI/AleutianForge/services/forge/diff"
	"github.com/AleutianAI/AleutianForge/services/forge/editor"
	"github.com/AleutianAI/AleutianForge/services/forge/graph"
	"github.com/AleutianAI/AleutianForge/services/forge/operation"
	"github.com/AleutianAI/AleutianForge/services/forge/refactor"
)

// Options tune one preview.
type Options struct {
	Scope graph.Scope

	// Format of the per-file diff. Empty means unified.
	Format diff.Format

	// Context lines around each hunk. Zero means diff.DefaultContext.
	Context int

	// Commentary asks the advisor for a summary.
	Commentary bool

	Overrides editor.Overrides
}

// File is the preview of one file.
type File struct {
	Path       string           `json:"path"`
	Diff       string           `json:"diff,omitempty"`
	Structured *diff.Structured `json:"structured,omitempty"`
	Stats      diff.Stats       `json:"stats"`
	Validation *editor.Report   `json:"validation,omitempty"`
}

// Preview is a refactor shown, not applied.
type Preview struct {
	Operation        operation.Kind   `json:"operation"`
	Description      string           `json:"description"`
	Format           diff.Format      `json:"format"`
	Files            []File           `json:"files"`
	Stats            diff.Stats       `json:"stats"`
	CallSitesUpdated int              `json:"call_sites_updated"`
	Valid            bool             `json:"valid"`
	Warnings         []string         `json:"warnings,omitempty"`
	Conflicts        *conflict.Report `json:"conflicts,omitempty"`
	Commentary       *advisor.Summary `json:"commentary,omitempty"`
	CommentaryError  string           `json:"commentary_error,omitempty"`
	Duration         time.Duration    `json:"duration_ns"`
}

// Config configures a Previewer.
type Config struct {
	Engine *refactor.Engine
	Editor *editor.Editor

	// Advisor is optional. Without one, commentary requests report a
	// commentary error.
	Advisor advisor.Provider

	// Defaults are the validation options. The zero value uses
	// editor.DefaultOptions().
	Defaults editor.Options

	Logger *slog.Logger
}

// Previewer computes previews for one project.
//
// # Thread Safety
//
// Safe for concurrent use.
type Previewer struct {
	engine   *refactor.Engine
	editor   *editor.Editor
	advisor  advisor.Provider
	defaults editor.Options
	logger   *slog.Logger
}

// New creates a Previewer.
func New(cfg Config) (*Previewer, error) {
	if cfg.Engine == nil {
		return nil, errors.New("refactor engine is required")
	}
	if cfg.Editor == nil {
		return nil, errors.New("editor is required")
	}
	if cfg.Defaults == (editor.Options{}) {
		cfg.Defaults = editor.DefaultOptions()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Previewer{
		engine:   cfg.Engine,
		editor:   cfg.Editor,
		advisor:  cfg.Advisor,
		defaults: cfg.Defaults,
		logger:   cfg.Logger.With("component", "preview.Previewer"),
	}, nil
}

// Preview plans op, validates every candidate file and renders diffs.
//
// # Description
//
// Nothing is written. Validation findings are reported per file and clear
// Valid. Advisor failures land in CommentaryError and never fail the
// preview.
//
// # Outputs
//
//   - *Preview: Non-nil whenever planning got as far as conflict
//     detection; on a refactor.ConflictError it carries the report.
//   - error: As refactor.Engine.Plan, or an unknown diff format.
func (p *Previewer) Preview(ctx context.Context, op operation.Operation, opts Options) (pv *Preview, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			pv, err = nil, fmt.Errorf("preview panic: %v", r)
			p.logger.Error("panic during preview", slog.Any("panic", r))
		}
		if pv != nil {
			pv.Duration = time.Since(start)
		}
	}()

	format, err := diff.ParseFormat(string(opts.Format))
	if err != nil {
		return nil, err
	}
	ctxLines := opts.Context
	if ctxLines <= 0 {
		ctxLines = diff.DefaultContext
	}

	pv = &Preview{Operation: op.Kind(), Description: op.Describe(), Format: format}
	plan, err := p.engine.Plan(ctx, op, opts.Scope)
	if plan != nil {
		pv.Conflicts = plan.Report
	}
	if err != nil {
		if plan != nil {
			return pv, err
		}
		return nil, err
	}
	pv.Warnings = append(pv.Warnings, plan.Warnings...)
	pv.CallSitesUpdated = plan.CallSitesUpdated
	pv.Valid = true

	vopts := p.defaults.With(opts.Overrides)
	var diffs []*diff.FileDiff
	for _, f := range plan.Files {
		fd := diff.Compute(f.Path, f.Original, f.Updated, ctxLines)
		diffs = append(diffs, fd)

		fp := File{Path: f.Path, Stats: fd.Stats}
		if format == diff.FormatStructured {
			s := fd.Structured()
			fp.Structured = &s
		} else if fp.Diff, err = fd.Render(format); err != nil {
			return nil, fmt.Errorf("render %s: %w", f.Path, err)
		}

		if vopts.Validate {
			report, err := p.editor.ValidateChanges(ctx, f.Path, f.Changes, vopts)
			if err != nil {
				return nil, fmt.Errorf("validate %s: %w", f.Path, err)
			}
			fp.Validation = report
			if !report.Valid {
				pv.Valid = false
			}
		}
		pv.Files = append(pv.Files, fp)
	}
	pv.Stats = diff.Summarize(diffs)

	if opts.Commentary {
		p.comment(ctx, pv, diffs)
	}
	return pv, nil
}

func (p *Previewer) comment(ctx context.Context, pv *Preview, diffs []*diff.FileDiff) {
	if p.advisor == nil {
		pv.CommentaryError = "advisor is not configured"
		return
	}
	d := advisor.Digest{
		Operation:   string(pv.Operation),
		Description: pv.Description,
		Warnings:    pv.Warnings,
	}
	for _, fd := range diffs {
		unified, err := fd.Unified()
		if err != nil {
			unified = ""
		}
		d.Files = append(d.Files, advisor.FileDigest{
			Path:         fd.Path,
			LinesAdded:   fd.Stats.LinesAdded,
			LinesRemoved: fd.Stats.LinesRemoved,
			Unified:      unified,
		})
	}

	s, err := p.advisor.Summarize(ctx, d)
	if err != nil {
		pv.CommentaryError = err.Error()
		p.logger.Warn("advisor commentary failed", slog.String("error", err.Error()))
		return
	}
	pv.Commentary = s
}
