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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianForge/services/forge/backup"
	"github.com/AleutianAI/AleutianForge/services/forge/editor"
	"github.com/AleutianAI/AleutianForge/services/forge/graph"
	"github.com/AleutianAI/AleutianForge/services/forge/operation"
	"github.com/AleutianAI/AleutianForge/services/forge/transaction"
)

const utilPy = `def helper(x):
    return x + 1


def double(n):
    return helper(n) * 2
`

type project struct {
	root   string
	graph  *graph.Memory
	engine *Engine
}

func newProject(t *testing.T, files map[string]string) *project {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}

	ed, err := editor.New(editor.Config{Root: root, Backups: backup.NewMemoryStore(0)})
	require.NoError(t, err)
	coord, err := transaction.NewCoordinator(transaction.CoordinatorConfig{Editor: ed})
	require.NoError(t, err)

	g := graph.NewMemory()
	eng, err := NewEngine(EngineConfig{Graph: g, Coordinator: coord})
	require.NoError(t, err)
	return &project{root: root, graph: g, engine: eng}
}

func (p *project) read(t *testing.T, rel string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(p.root, rel))
	require.NoError(t, err)
	return string(b)
}

// pythonProject has helper/1 defined in util.py and called four times
// across three files.
func pythonProject(t *testing.T) *project {
	p := newProject(t, map[string]string{
		"util.py": utilPy,
		"app.py":  "from util import helper\n\nprint(helper(1))\nprint(helper(2))\n",
		"cli.py":  "import util\n\nvalue = util.helper(3)\n",
	})
	helper := graph.Target{Module: "Util", Function: "helper", Arity: 1}
	p.graph.AddDefinition(graph.Definition{Module: "Util", Function: "helper", Arity: 1, File: "util.py", Line: 1, EndLine: 2, Visibility: graph.Public})
	p.graph.AddDefinition(graph.Definition{Module: "Util", Function: "double", Arity: 1, File: "util.py", Line: 5, EndLine: 6, Visibility: graph.Public})
	p.graph.AddFile("App", "app.py")
	p.graph.AddFile("Cli", "cli.py")
	p.graph.AddCall(graph.CallSite{Callee: helper, File: "util.py", Line: 6, CallerModule: "Util", Caller: "double"})
	p.graph.AddCall(graph.CallSite{Callee: helper, File: "app.py", Line: 3, CallerModule: "App"})
	p.graph.AddCall(graph.CallSite{Callee: helper, File: "app.py", Line: 4, CallerModule: "App"})
	p.graph.AddCall(graph.CallSite{Callee: helper, File: "cli.py", Line: 3, CallerModule: "Cli"})
	p.graph.AddDependency("App", "Util")
	p.graph.AddDependency("Cli", "Util")
	return p
}

func helperRef() operation.FunctionRef {
	return operation.FunctionRef{Module: "Util", Function: "helper", Arity: operation.Arity(1)}
}

func TestRefactor_RenameUpdatesEveryCallSite(t *testing.T) {
	p := pythonProject(t)

	res, err := p.engine.Refactor(context.Background(), &operation.RenameFunction{FunctionRef: helperRef(), NewName: "increment"}, Options{})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.ElementsMatch(t, []string{"util.py", "app.py", "cli.py"}, res.FilesModified)
	assert.Equal(t, 4, res.CallSitesUpdated)
	require.NotNil(t, res.Transaction)
	assert.Len(t, res.Transaction.BackupIDs(), 3)

	assert.Equal(t, "def increment(x):\n    return x + 1\n\n\ndef double(n):\n    return increment(n) * 2\n", p.read(t, "util.py"))
	assert.Equal(t, "from util import increment\n\nprint(increment(1))\nprint(increment(2))\n", p.read(t, "app.py"))
	assert.Equal(t, "import util\n\nvalue = util.increment(3)\n", p.read(t, "cli.py"))
}

func TestRefactor_ConflictWritesNothing(t *testing.T) {
	p := pythonProject(t)

	res, err := p.engine.Refactor(context.Background(), &operation.RenameFunction{FunctionRef: helperRef(), NewName: "double"}, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)

	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.False(t, ce.Report.CanProceed)
	assert.False(t, res.Success)
	assert.Same(t, ce.Report, res.Conflicts)
	assert.Equal(t, utilPy, p.read(t, "util.py"))
}

func TestRefactor_TargetNotFound(t *testing.T) {
	p := pythonProject(t)
	op := &operation.RenameFunction{FunctionRef: operation.FunctionRef{Module: "Util", Function: "missing"}, NewName: "found"}

	_, err := p.engine.Refactor(context.Background(), op, Options{})
	assert.ErrorIs(t, err, ErrTargetNotFound)
	assert.Contains(t, err.Error(), "Util.missing")
}

func TestRefactor_Unsupported(t *testing.T) {
	p := pythonProject(t)

	_, err := p.engine.Refactor(context.Background(), &operation.MoveFunction{FunctionRef: helperRef(), Destination: "Tools"}, Options{})
	assert.ErrorIs(t, err, operation.ErrUnsupportedOperation)

	_, err = p.engine.Refactor(context.Background(), &operation.RenameModule{Module: "Util", NewName: "tools"}, Options{})
	assert.ErrorIs(t, err, operation.ErrUnsupportedOperation)
	assert.Equal(t, utilPy, p.read(t, "util.py"))
}

func TestRefactor_InvalidOperation(t *testing.T) {
	p := pythonProject(t)

	_, err := p.engine.Refactor(context.Background(), &operation.RenameFunction{FunctionRef: helperRef(), NewName: "not valid"}, Options{})
	assert.ErrorIs(t, err, operation.ErrInvalidOperation)
}

func TestPlan_WritesNothing(t *testing.T) {
	p := pythonProject(t)

	plan, err := p.engine.Plan(context.Background(), &operation.RenameFunction{FunctionRef: helperRef(), NewName: "increment"}, graph.ScopeProject)
	require.NoError(t, err)
	require.Len(t, plan.Files, 3)
	assert.Equal(t, 4, plan.CallSitesUpdated)
	for _, f := range plan.Files {
		assert.NotEqual(t, string(f.Original), string(f.Updated), f.Path)
		assert.NotEmpty(t, f.Changes, f.Path)
	}
	assert.Equal(t, utilPy, p.read(t, "util.py"))
}

func TestRefactor_InlineDeletesDefinition(t *testing.T) {
	p := pythonProject(t)

	res, err := p.engine.Refactor(context.Background(), &operation.InlineFunction{FunctionRef: helperRef()}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 4, res.CallSitesUpdated)

	util := p.read(t, "util.py")
	assert.NotContains(t, util, "def helper")
	assert.Contains(t, util, "(n + 1)")
	assert.NotContains(t, p.read(t, "app.py"), "helper(1)")
	assert.Contains(t, p.read(t, "cli.py"), "(3 + 1)")
}

// editingGraph prepends a line to one file on the writeOn-th FindCallers
// call, the way an editor saving in the background would.
type editingGraph struct {
	graph.KnowledgeGraph
	t       *testing.T
	path    string
	writeOn int
	calls   int
	last    string
}

func (g *editingGraph) FindCallers(ctx context.Context, target graph.Target, scope graph.Scope) ([]graph.CallSite, error) {
	g.calls++
	if g.calls == g.writeOn {
		b, err := os.ReadFile(g.path)
		require.NoError(g.t, err)
		g.last = "# saved elsewhere\n" + string(b)
		require.NoError(g.t, os.WriteFile(g.path, []byte(g.last), 0644))
	}
	return g.KnowledgeGraph.FindCallers(ctx, target, scope)
}

func TestRefactor_FileChangedDuringPlanningIsNotClobbered(t *testing.T) {
	p := pythonProject(t)
	eg := &editingGraph{KnowledgeGraph: p.graph, t: t, path: filepath.Join(p.root, "cli.py")}
	eng, err := NewEngine(EngineConfig{Graph: eg, Coordinator: p.engine.coordinator})
	require.NoError(t, err)
	op := &operation.InlineFunction{FunctionRef: helperRef()}

	// The last graph query comes after every file has been read.
	plan, err := eng.Plan(context.Background(), op, "")
	require.NoError(t, err)
	require.Contains(t, plan.Paths(), "cli.py")
	eg.writeOn, eg.calls = eg.calls, 0

	res, err := eng.Refactor(context.Background(), op, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, editor.ErrConcurrentModification)
	require.NotEmpty(t, eg.last)

	assert.False(t, res.Success)
	require.NotNil(t, res.Transaction)
	assert.False(t, res.Transaction.FilesystemTouched)

	assert.Equal(t, eg.last, p.read(t, "cli.py"))
	assert.Equal(t, utilPy, p.read(t, "util.py"))
	assert.Equal(t, "from util import helper\n\nprint(helper(1))\nprint(helper(2))\n", p.read(t, "app.py"))
}

func TestRefactor_InlineKeepsDefinitionWithDynamicCaller(t *testing.T) {
	p := pythonProject(t)
	p.graph.AddCall(graph.CallSite{Callee: graph.Target{Module: "Util", Function: "helper", Arity: 1}, File: "app.py", Line: 1, Dynamic: true})

	res, err := p.engine.Refactor(context.Background(), &operation.InlineFunction{FunctionRef: helperRef()}, Options{})
	require.NoError(t, err)
	assert.Contains(t, p.read(t, "util.py"), "def helper")
	assert.NotEmpty(t, res.Warnings)
}

func TestRefactor_ChangeSignatureRewritesCalls(t *testing.T) {
	p := pythonProject(t)
	op := &operation.ChangeSignature{
		FunctionRef: helperRef(),
		Parameters: []operation.Parameter{
			{Name: "value", From: operation.Arity(0)},
			{Name: "step", Default: "1"},
		},
	}

	res, err := p.engine.Refactor(context.Background(), op, Options{})
	require.NoError(t, err)
	assert.True(t, res.Success)

	util := p.read(t, "util.py")
	assert.Contains(t, util, "def helper(value, step):")
	assert.Contains(t, util, "return value + 1")
	assert.Contains(t, util, "return helper(n, 1) * 2")
	assert.Equal(t, "from util import helper\n\nprint(helper(1, 1))\nprint(helper(2, 1))\n", p.read(t, "app.py"))
}

func TestRefactor_RenameParameterUpdatesKeywords(t *testing.T) {
	p := newProject(t, map[string]string{
		"util.py": "def scale(v, factor=2):\n    return v * factor\n",
		"app.py":  "from util import scale\n\nx = scale(3, factor=4)\n",
	})
	p.graph.AddDefinition(graph.Definition{Module: "Util", Function: "scale", Arity: 2, File: "util.py", Line: 1, EndLine: 2})
	p.graph.AddFile("App", "app.py")
	p.graph.AddCall(graph.CallSite{Callee: graph.Target{Module: "Util", Function: "scale", Arity: 2}, File: "app.py", Line: 3, CallerModule: "App", Keyword: true})

	op := &operation.RenameParameter{FunctionRef: operation.FunctionRef{Module: "Util", Function: "scale"}, OldName: "factor", NewName: "by"}
	res, err := p.engine.Refactor(context.Background(), op, Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.CallSitesUpdated)
	assert.Equal(t, "def scale(v, by=2):\n    return v * by\n", p.read(t, "util.py"))
	assert.Equal(t, "from util import scale\n\nx = scale(3, by=4)\n", p.read(t, "app.py"))
}

func TestRefactor_ModifyAttributes(t *testing.T) {
	p := pythonProject(t)
	op := &operation.ModifyAttributes{Module: "Util", Changes: []operation.AttributeChange{
		{Action: operation.AttributeAdd, Name: "__version__", Value: `"1.0"`},
	}}

	_, err := p.engine.Refactor(context.Background(), op, Options{})
	require.NoError(t, err)
	assert.Contains(t, p.read(t, "util.py"), `__version__ = "1.0"`)
}

func TestRefactor_RenameGoPackage(t *testing.T) {
	p := newProject(t, map[string]string{
		"calc/calc.go": "package calc\n\nfunc Add(a, b int) int {\n\treturn a + b\n}\n",
		"main.go":      "package main\n\nimport \"example.com/calc\"\n\nfunc main() {\n\tprintln(calc.Add(1, 2))\n}\n",
	})
	p.graph.AddDefinition(graph.Definition{Module: "example.com/calc", Function: "Add", Arity: 2, File: "calc/calc.go", Line: 3, EndLine: 5, Visibility: graph.Public})
	p.graph.AddFile("main", "main.go")
	p.graph.AddCall(graph.CallSite{Callee: graph.Target{Module: "example.com/calc", Function: "Add", Arity: 2}, File: "main.go", Line: 6, CallerModule: "main", Caller: "main"})

	res, err := p.engine.Refactor(context.Background(), &operation.RenameModule{Module: "example.com/calc", NewName: "mathx"}, Options{})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"calc/calc.go", "main.go"}, res.FilesModified)
	assert.Contains(t, p.read(t, "calc/calc.go"), "package mathx")
	assert.Contains(t, p.read(t, "main.go"), "println(mathx.Add(1, 2))")
}

func TestRefactor_ExtractFunction(t *testing.T) {
	p := newProject(t, map[string]string{
		"calc.go": "package calc\n\nimport \"fmt\"\n\nfunc Total(items []int) int {\n\tsum := 0\n\tfor _, v := range items {\n\t\tsum += v\n\t}\n\tfmt.Println(sum)\n\treturn sum\n}\n",
	})
	p.graph.AddDefinition(graph.Definition{Module: "calc", Function: "Total", Arity: 1, File: "calc.go", Line: 5, EndLine: 12, Visibility: graph.Public})

	op := &operation.ExtractFunction{FunctionRef: operation.FunctionRef{Module: "calc", Function: "Total"}, StartLine: 10, EndLine: 10, NewName: "report"}
	res, err := p.engine.Refactor(context.Background(), op, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"calc.go"}, res.FilesModified)

	got := p.read(t, "calc.go")
	assert.Contains(t, got, "\treport(sum)\n\treturn sum\n")
	assert.Contains(t, got, "func report(sum int) {\n\tfmt.Println(sum)\n}\n")
}

func TestRefactor_UnknownScope(t *testing.T) {
	p := pythonProject(t)

	_, err := p.engine.Refactor(context.Background(), &operation.RenameFunction{FunctionRef: helperRef(), NewName: "increment"}, Options{Scope: "galaxy"})
	assert.ErrorIs(t, err, graph.ErrUnknownScope)
}
