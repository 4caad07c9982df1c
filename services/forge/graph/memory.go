// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
)

// Memory is an in-memory KnowledgeGraph.
//
// # Thread Safety
//
// Safe for concurrent use.
type Memory struct {
	mu           sync.RWMutex
	definitions  []Definition
	calls        []CallSite
	dependencies map[string][]string
	files        map[string][]string
}

// NewMemory creates an empty graph.
func NewMemory() *Memory {
	return &Memory{
		dependencies: make(map[string][]string),
		files:        make(map[string][]string),
	}
}

// AddDefinition records a definition. A function definition also registers
// its file with the module.
func (m *Memory) AddDefinition(d Definition) {
	if d.Kind == "" {
		d.Kind = KindFunction
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.definitions = append(m.definitions, d)
	m.addFileLocked(d.Module, d.File)
}

// AddCall records a call site.
func (m *Memory) AddCall(c CallSite) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
}

// AddDependency records that from depends on to.
func (m *Memory) AddDependency(from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.dependencies[from] {
		if d == to {
			return
		}
	}
	m.dependencies[from] = append(m.dependencies[from], to)
}

// AddFile registers file as part of module.
func (m *Memory) AddFile(module, file string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addFileLocked(module, file)
}

func (m *Memory) addFileLocked(module, file string) {
	if file == "" {
		return
	}
	for _, f := range m.files[module] {
		if f == file {
			return
		}
	}
	m.files[module] = append(m.files[module], file)
}

// ResolveDefinition implements KnowledgeGraph.
//
// A module target with no explicit module definition resolves to a
// synthetic definition at line 1 of the module's first file.
func (m *Memory) ResolveDefinition(ctx context.Context, target Target) ([]Definition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Definition
	for _, d := range m.definitions {
		if target.Matches(d) {
			out = append(out, d)
		}
	}
	if len(out) == 0 && target.IsModule() {
		if files := m.files[target.Module]; len(files) > 0 {
			out = append(out, Definition{Kind: KindModule, Module: target.Module, File: files[0], Line: 1})
		}
	}
	return out, nil
}

// FindCallers implements KnowledgeGraph.
//
// For ScopeModule only call sites in the files defining target are
// returned.
func (m *Memory) FindCallers(ctx context.Context, target Target, scope Scope) ([]CallSite, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if scope != ScopeModule && scope != ScopeProject {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScope, scope)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	defFiles := make(map[string]bool)
	for _, d := range m.definitions {
		if target.Matches(d) {
			defFiles[d.File] = true
		}
	}

	var out []CallSite
	for _, c := range m.calls {
		if !calleeMatches(target, c.Callee) {
			continue
		}
		if scope == ScopeModule && !defFiles[c.File] {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].File != out[j].File {
			return out[i].File < out[j].File
		}
		return out[i].Line < out[j].Line
	})
	return out, nil
}

func calleeMatches(target, callee Target) bool {
	if callee.Module != target.Module {
		return false
	}
	if target.IsModule() {
		return true
	}
	if callee.Function != target.Function {
		return false
	}
	return target.Arity == AnyArity || callee.Arity == AnyArity || callee.Arity == target.Arity
}

// ModuleDependencies implements KnowledgeGraph.
func (m *Memory) ModuleDependencies(ctx context.Context, module string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.dependencies[module]...), nil
}

// ModuleFiles implements KnowledgeGraph.
func (m *Memory) ModuleFiles(ctx context.Context, module string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.files[module]...), nil
}

// =============================================================================
// Snapshots
// =============================================================================

// Snapshot is the JSON export format of a graph.
type Snapshot struct {
	Definitions  []Definition        `json:"definitions"`
	Calls        []CallSite          `json:"calls"`
	Dependencies map[string][]string `json:"dependencies,omitempty"`
	Files        map[string][]string `json:"files,omitempty"`
}

// LoadSnapshot reads a JSON snapshot file into a Memory graph.
func LoadSnapshot(path string) (*Memory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open graph snapshot: %w", err)
	}
	defer f.Close()
	return DecodeSnapshot(f)
}

// DecodeSnapshot decodes a JSON snapshot from r.
func DecodeSnapshot(r io.Reader) (*Memory, error) {
	var s Snapshot
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode graph snapshot: %w", err)
	}
	return FromSnapshot(&s), nil
}

// FromSnapshot builds a Memory graph from s.
func FromSnapshot(s *Snapshot) *Memory {
	m := NewMemory()
	for _, d := range s.Definitions {
		m.AddDefinition(d)
	}
	for _, c := range s.Calls {
		m.AddCall(c)
	}
	for from, tos := range s.Dependencies {
		for _, to := range tos {
			m.AddDependency(from, to)
		}
	}
	for mod, files := range s.Files {
		for _, f := range files {
			m.AddFile(mod, f)
		}
	}
	return m
}

// Snapshot exports the graph.
func (m *Memory) Snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := &Snapshot{
		Definitions:  append([]Definition(nil), m.definitions...),
		Calls:        append([]CallSite(nil), m.calls...),
		Dependencies: make(map[string][]string, len(m.dependencies)),
		Files:        make(map[string][]string, len(m.files)),
	}
	for k, v := range m.dependencies {
		s.Dependencies[k] = append([]string(nil), v...)
	}
	for k, v := range m.files {
		s.Files[k] = append([]string(nil), v...)
	}
	return s
}
