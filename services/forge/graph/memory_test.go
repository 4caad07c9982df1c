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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() *Memory {
	m := NewMemory()
	m.AddDefinition(Definition{Module: "foo", Function: "bar", Arity: 1, File: "foo/foo.go", Line: 3})
	m.AddDefinition(Definition{Module: "foo", Function: "bar", Arity: 2, File: "foo/foo2.go", Line: 5})
	m.AddCall(CallSite{Callee: Target{Module: "foo", Function: "bar", Arity: 1}, File: "foo/foo.go", Line: 10})
	m.AddCall(CallSite{Callee: Target{Module: "foo", Function: "bar", Arity: 1}, File: "app/main.go", Line: 7})
	m.AddCall(CallSite{Callee: Target{Module: "foo", Function: "bar", Arity: 2}, File: "app/main.go", Line: 8})
	m.AddDependency("app", "foo")
	return m
}

func TestResolveDefinition_ArityAware(t *testing.T) {
	m := sample()
	ctx := context.Background()

	defs, err := m.ResolveDefinition(ctx, Target{Module: "foo", Function: "bar", Arity: 1})
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "foo/foo.go", defs[0].File)

	defs, err = m.ResolveDefinition(ctx, Target{Module: "foo", Function: "bar", Arity: AnyArity})
	require.NoError(t, err)
	assert.Len(t, defs, 2)

	defs, err = m.ResolveDefinition(ctx, Target{Module: "foo", Function: "baz", Arity: 1})
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestResolveDefinition_ModuleFallsBackToFiles(t *testing.T) {
	m := sample()
	defs, err := m.ResolveDefinition(context.Background(), Target{Module: "foo"})
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, KindModule, defs[0].Kind)
	assert.Equal(t, "foo/foo.go", defs[0].File)
}

func TestFindCallers_Scope(t *testing.T) {
	m := sample()
	ctx := context.Background()
	target := Target{Module: "foo", Function: "bar", Arity: 1}

	all, err := m.FindCallers(ctx, target, ScopeProject)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "app/main.go", all[0].File)

	local, err := m.FindCallers(ctx, target, ScopeModule)
	require.NoError(t, err)
	require.Len(t, local, 1)
	assert.Equal(t, "foo/foo.go", local[0].File)

	_, err = m.FindCallers(ctx, target, Scope("galaxy"))
	assert.ErrorIs(t, err, ErrUnknownScope)
}

func TestModuleQueries(t *testing.T) {
	m := sample()
	ctx := context.Background()

	deps, err := m.ModuleDependencies(ctx, "app")
	require.NoError(t, err)
	assert.Equal(t, []string{"foo"}, deps)

	files, err := m.ModuleFiles(ctx, "foo")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"foo/foo.go", "foo/foo2.go"}, files)
}

func TestSnapshot_RoundTripThroughFile(t *testing.T) {
	src := `{
	  "definitions": [{"module": "m", "function": "f", "arity": 0, "file": "m.py", "line": 1}],
	  "calls": [{"callee": {"module": "m", "function": "f", "arity": 0}, "file": "n.py", "line": 4, "dynamic": true}],
	  "dependencies": {"n": ["m"]}
	}`
	path := filepath.Join(t.TempDir(), "graph.json")
	require.NoError(t, os.WriteFile(path, []byte(src), 0644))

	m, err := LoadSnapshot(path)
	require.NoError(t, err)

	calls, err := m.FindCallers(context.Background(), Target{Module: "m", Function: "f"}, ScopeProject)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.True(t, calls[0].Dynamic)
	assert.Equal(t, KindFunction, m.Snapshot().Definitions[0].Kind)

	_, err = DecodeSnapshot(strings.NewReader("{"))
	assert.Error(t, err)
}

func TestParseScope(t *testing.T) {
	s, err := ParseScope("")
	require.NoError(t, err)
	assert.Equal(t, ScopeProject, s)

	s, err = ParseScope("module")
	require.NoError(t, err)
	assert.Equal(t, ScopeModule, s)

	_, err = ParseScope("file")
	assert.ErrorIs(t, err, ErrUnknownScope)
}

func TestTarget_String(t *testing.T) {
	assert.Equal(t, "Foo.bar/1", Target{Module: "Foo", Function: "bar", Arity: 1}.String())
	assert.Equal(t, "Foo.bar", Target{Module: "Foo", Function: "bar", Arity: AnyArity}.String())
	assert.Equal(t, "Foo", Target{Module: "Foo"}.String())
}
