// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conflict checks a refactor operation against the knowledge graph
// and the files on disk before anything is written.
//
// The detector is read-only. It reports every conflict it finds rather
// than stopping at the first, and a refactor may proceed only when no
// conflict has error severity.
package conflict

import (
	"fmt"

	"github.com/AleutianAI/AleutianForge/services/forge/graph"
	"github.com/AleutianAI/AleutianForge/services/forge/operation"
)

// Type classifies a conflict.
type Type string

const (
	// TypeNameCollision: the new name is already taken.
	TypeNameCollision Type = "name_collision"

	// TypeDependency: callers or module dependencies would break.
	TypeDependency Type = "dependency_conflict"

	// TypeScope: the change crosses a visibility or scope boundary.
	TypeScope Type = "scope_conflict"

	// TypeStaleGraph: the graph disagrees with the files on disk.
	TypeStaleGraph Type = "stale_graph"

	// TypeAmbiguousTarget: the target resolves to several definitions.
	TypeAmbiguousTarget Type = "ambiguous_target"
)

// Severity of a conflict. Only SeverityError blocks a refactor.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Conflict is one finding.
type Conflict struct {
	Type       Type     `json:"type"`
	Severity   Severity `json:"severity"`
	Message    string   `json:"message"`
	File       string   `json:"file,omitempty"`
	Line       int      `json:"line,omitempty"`
	Suggestion string   `json:"suggestion,omitempty"`
}

func (c Conflict) String() string {
	loc := ""
	if c.File != "" {
		loc = fmt.Sprintf(" (%s:%d)", c.File, c.Line)
	}
	return fmt.Sprintf("%s %s: %s%s", c.Severity, c.Type, c.Message, loc)
}

// Stats summarizes a report.
type Stats struct {
	Errors       int `json:"errors"`
	Warnings     int `json:"warnings"`
	Infos        int `json:"infos"`
	Callers      int `json:"callers"`
	FilesChecked int `json:"files_checked"`
}

// Report is the outcome of a check.
type Report struct {
	Operation  operation.Kind `json:"operation"`
	Target     string         `json:"target"`
	Scope      graph.Scope    `json:"scope"`
	Conflicts  []Conflict     `json:"conflicts"`
	Stats      Stats          `json:"stats"`
	CanProceed bool           `json:"can_proceed"`

	// Definition is the resolved target when exactly one matched.
	Definition *graph.Definition `json:"definition,omitempty"`

	// Callers are the call sites within Scope.
	Callers []graph.CallSite `json:"-"`
}

func (r *Report) add(c Conflict) {
	r.Conflicts = append(r.Conflicts, c)
}

func (r *Report) errorf(t Type, file string, line int, format string, args ...any) *Conflict {
	r.add(Conflict{Type: t, Severity: SeverityError, Message: fmt.Sprintf(format, args...), File: file, Line: line})
	return &r.Conflicts[len(r.Conflicts)-1]
}

func (r *Report) warnf(t Type, file string, line int, format string, args ...any) *Conflict {
	r.add(Conflict{Type: t, Severity: SeverityWarning, Message: fmt.Sprintf(format, args...), File: file, Line: line})
	return &r.Conflicts[len(r.Conflicts)-1]
}

// finish fills Stats and CanProceed.
func (r *Report) finish() {
	r.Stats.Errors, r.Stats.Warnings, r.Stats.Infos = 0, 0, 0
	for _, c := range r.Conflicts {
		switch c.Severity {
		case SeverityError:
			r.Stats.Errors++
		case SeverityWarning:
			r.Stats.Warnings++
		default:
			r.Stats.Infos++
		}
	}
	r.Stats.Callers = len(r.Callers)
	r.CanProceed = r.Stats.Errors == 0
}

// Errors returns the error-severity conflicts.
func (r *Report) Errors() []Conflict {
	var out []Conflict
	for _, c := range r.Conflicts {
		if c.Severity == SeverityError {
			out = append(out, c)
		}
	}
	return out
}

// Has reports whether the report holds a conflict of type t.
func (r *Report) Has(t Type) bool {
	for _, c := range r.Conflicts {
		if c.Type == t {
			return true
		}
	}
	return false
}
