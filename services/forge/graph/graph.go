// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph defines the read-only view of the code knowledge graph that
// the refactor engine and conflict detector consume.
//
// The graph is populated elsewhere. This package only describes the queries
// forge needs and ships an in-memory implementation that can be loaded from
// a JSON snapshot.
package graph

import (
	"context"
	"errors"
	"fmt"
)

// AnyArity matches definitions of every arity.
const AnyArity = -1

// ErrUnknownScope is returned for a scope other than module or project.
var ErrUnknownScope = errors.New("unknown refactor scope")

// Scope restricts which call sites a refactor touches.
type Scope string

const (
	// ScopeModule limits call sites to the definition's own file.
	ScopeModule Scope = "module"

	// ScopeProject includes every tracked file.
	ScopeProject Scope = "project"
)

// ParseScope validates s. Empty means project.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case "":
		return ScopeProject, nil
	case ScopeModule, ScopeProject:
		return Scope(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownScope, s)
	}
}

// Target names a function (Module, Function, Arity) or, with an empty
// Function, a whole module.
type Target struct {
	Module   string `json:"module"`
	Function string `json:"function,omitempty"`
	Arity    int    `json:"arity"`
}

// IsModule reports whether t names a module rather than a function.
func (t Target) IsModule() bool {
	return t.Function == ""
}

// Matches reports whether a definition satisfies t.
func (t Target) Matches(d Definition) bool {
	if d.Module != t.Module {
		return false
	}
	if t.IsModule() {
		return d.Kind == KindModule
	}
	if d.Kind != KindFunction || d.Function != t.Function {
		return false
	}
	return t.Arity == AnyArity || d.Arity == t.Arity
}

// String renders t as Module.Function/Arity.
func (t Target) String() string {
	if t.IsModule() {
		return t.Module
	}
	if t.Arity == AnyArity {
		return fmt.Sprintf("%s.%s", t.Module, t.Function)
	}
	return fmt.Sprintf("%s.%s/%d", t.Module, t.Function, t.Arity)
}

// Definition kinds.
const (
	KindFunction = "function"
	KindModule   = "module"
)

// Visibility values.
const (
	Public  = "public"
	Private = "private"
)

// Definition is where a function or module is defined.
type Definition struct {
	Kind       string   `json:"kind"`
	Module     string   `json:"module"`
	Function   string   `json:"function,omitempty"`
	Arity      int      `json:"arity"`
	File       string   `json:"file"`
	Line       int      `json:"line"`
	EndLine    int      `json:"end_line,omitempty"`
	Visibility string   `json:"visibility,omitempty"`
	Params     []string `json:"params,omitempty"`
}

// Target returns the target naming d.
func (d Definition) Target() Target {
	if d.Kind == KindModule {
		return Target{Module: d.Module}
	}
	return Target{Module: d.Module, Function: d.Function, Arity: d.Arity}
}

// CallSite is a reference to a target.
//
// Dynamic call sites (reflection, getattr, function values) are known to
// exist but cannot be rewritten mechanically. Keyword marks calls passing
// arguments by name.
type CallSite struct {
	Callee       Target `json:"callee"`
	File         string `json:"file"`
	Line         int    `json:"line"`
	Column       int    `json:"column,omitempty"`
	CallerModule string `json:"caller_module,omitempty"`
	Caller       string `json:"caller,omitempty"`
	Dynamic      bool   `json:"dynamic,omitempty"`
	Keyword      bool   `json:"keyword,omitempty"`
}

// KnowledgeGraph is the read-only query surface over indexed code.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type KnowledgeGraph interface {
	// ResolveDefinition returns every definition matching target. Zero
	// results means the target is unknown; more than one is ambiguous.
	ResolveDefinition(ctx context.Context, target Target) ([]Definition, error)

	// FindCallers returns call sites of target within scope.
	FindCallers(ctx context.Context, target Target, scope Scope) ([]CallSite, error)

	// ModuleDependencies returns the modules that module depends on.
	ModuleDependencies(ctx context.Context, module string) ([]string, error)

	// ModuleFiles returns the files that make up module.
	ModuleFiles(ctx context.Context, module string) ([]string, error)
}
