// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianForge/services/forge/graph"
	"github.com/AleutianAI/AleutianForge/services/forge/operation"
	"github.com/AleutianAI/AleutianForge/services/forge/syntax"
)

func TestPython_Functions(t *testing.T) {
	tree := parse(t, syntax.LangPython, `import functools


def plain(a, b=1, *rest, c: int = 2, **kw):
    return a


@functools.cache
def cached(x: int):
    return x
`)
	fns := Python{}.Functions(tree)
	require.Len(t, fns, 2)

	p := fns[0]
	assert.Equal(t, "plain", p.Name)
	require.Len(t, p.Params, 5)
	assert.Equal(t, "1", p.Params[1].Default)
	assert.True(t, p.Params[2].Variadic)
	assert.Equal(t, "rest", p.Params[2].Name)
	assert.Equal(t, "int", p.Params[3].Type)
	assert.Equal(t, "kw", p.Params[4].Name)

	c := fns[1]
	assert.True(t, c.Decorated)
	assert.Equal(t, 8, c.StartLine)
	assert.Equal(t, "x", c.Params[0].Name)
	assert.Equal(t, "int", c.Params[0].Type)
}

func TestPython_RenameFunctionAndImports(t *testing.T) {
	tree := parse(t, syntax.LangPython, `from util import helper, other

print(helper(1), util.helper(2))
`)
	py := Python{}
	edits := py.RenameImports(tree, "util", "helper", "assist")
	calls := py.Calls(tree, "helper", 0)
	require.Len(t, calls, 2)
	assert.Equal(t, "util", calls[1].Qualifier)
	for _, c := range calls {
		edits = append(edits, py.RenameCall(tree, c, "assist"))
	}

	assert.Equal(t, `from util import assist, other

print(assist(1), util.assist(2))
`, apply(t, tree, edits))
}

func TestPython_RenameParameterAndKeywords(t *testing.T) {
	tree := parse(t, syntax.LangPython, `def scale(value, factor):
    return value * factor


print(scale(2, factor=3))
`)
	py := Python{}
	fn, err := py.FindFunction(tree, "scale", 0)
	require.NoError(t, err)

	edits, err := py.RenameParameter(tree, fn, "factor", "k")
	require.NoError(t, err)
	for _, c := range py.Calls(tree, "scale", 0) {
		edits = append(edits, py.RenameKeyword(tree, c, "factor", "k")...)
	}

	assert.Equal(t, `def scale(value, k):
    return value * k


print(scale(2, k=3))
`, apply(t, tree, edits))
}

func TestPython_InlineAndDelete(t *testing.T) {
	tree := parse(t, syntax.LangPython, `def double(x):
    """Double."""
    return x * 2


def use(n):
    return double(n + 1)
`)
	py := Python{}
	fn, err := py.FindFunction(tree, "double", 0)
	require.NoError(t, err)
	in, err := py.Inlinable(tree, fn)
	require.NoError(t, err)

	calls := py.Calls(tree, "double", 0)
	require.Len(t, calls, 1)
	e, err := py.InlineCall(tree, calls[0], tree, in, false)
	require.NoError(t, err)

	assert.Equal(t, "def use(n):\n    return ((n + 1) * 2)\n", apply(t, tree, []Edit{e, py.DeleteFunction(tree, fn)}))
}

func TestPython_InlineUsesDefaults(t *testing.T) {
	tree := parse(t, syntax.LangPython, `def scale(v, factor=2):
    return v * factor


x = scale(3)
y = scale(v=4, factor=5)
`)
	py := Python{}
	fn, err := py.FindFunction(tree, "scale", 0)
	require.NoError(t, err)
	in, err := py.Inlinable(tree, fn)
	require.NoError(t, err)

	var edits []Edit
	for _, c := range py.Calls(tree, "scale", 0) {
		e, err := py.InlineCall(tree, c, tree, in, false)
		require.NoError(t, err)
		edits = append(edits, e)
	}
	out := apply(t, tree, edits)
	assert.Contains(t, out, "x = (3 * 2)\n")
	assert.Contains(t, out, "y = (4 * 5)\n")
}

func TestPython_InlineRejects(t *testing.T) {
	tree := parse(t, syntax.LangPython, `import functools


@functools.cache
def cached(x):
    return x


async def fetch(x):
    return x


def two(x):
    y = x
    return y
`)
	py := Python{}
	for _, name := range []string{"cached", "fetch", "two"} {
		fn, err := py.FindFunction(tree, name, 0)
		require.NoError(t, err)
		_, err = py.Inlinable(tree, fn)
		assert.ErrorIs(t, err, ErrNotTransformable, name)
	}
}

const pyProcess = `def process(items):
    total = 0
    for item in items:
        total += item
    print(total)
    return total
`

func TestPython_ExtractFunction(t *testing.T) {
	tree := parse(t, syntax.LangPython, pyProcess)
	py := Python{}
	fn, err := py.FindFunction(tree, "process", 0)
	require.NoError(t, err)

	edits, err := py.ExtractFunction(tree, fn, 5, 5, "report")
	require.NoError(t, err)
	assert.Equal(t, `def process(items):
    total = 0
    for item in items:
        total += item
    report(total)
    return total


def report(total):
    print(total)
`, apply(t, tree, edits))

	_, err = py.ExtractFunction(tree, fn, 3, 4, "accumulate")
	assert.ErrorIs(t, err, ErrNotTransformable, "total is assigned and used afterwards")

	_, err = py.ExtractFunction(tree, fn, 5, 6, "tail")
	assert.ErrorIs(t, err, ErrNotTransformable, "return cannot be extracted")
}

func TestPython_ChangeSignature(t *testing.T) {
	tree := parse(t, syntax.LangPython, `def greet(name, greeting="hi"):
    return greeting + name


a = greet("bob", greeting="yo")
b = greet("amy")
`)
	py := Python{}
	fn, err := py.FindFunction(tree, "greet", 0)
	require.NoError(t, err)

	params := []operation.Parameter{
		{Name: "who", From: operation.Arity(0)},
		{Name: "greeting", From: operation.Arity(1)},
	}
	edits, err := py.ChangeSignature(tree, fn, params)
	require.NoError(t, err)
	for _, c := range py.Calls(tree, "greet", 0) {
		e, err := py.RewriteArguments(tree, c, fn.Params, params)
		require.NoError(t, err)
		edits = append(edits, e)
	}

	assert.Equal(t, `def greet(who, greeting="hi"):
    return greeting + who


a = greet("bob", "yo")
b = greet("amy")
`, apply(t, tree, edits))

	_, err = py.ChangeSignature(tree, fn, []operation.Parameter{
		{Name: "greeting", From: operation.Arity(1)},
		{Name: "name", From: operation.Arity(0)},
	})
	assert.ErrorIs(t, err, ErrNotTransformable, "required parameter after a default")
}

func TestPython_Visibility(t *testing.T) {
	py := Python{}
	assert.Equal(t, graph.Private, py.Visibility("_helper"))
	assert.Equal(t, graph.Public, py.Visibility("__init__"))

	name, err := py.VisibilityName("helper", graph.Private)
	require.NoError(t, err)
	assert.Equal(t, "_helper", name)

	name, err = py.VisibilityName("_helper", graph.Public)
	require.NoError(t, err)
	assert.Equal(t, "helper", name)

	_, err = py.VisibilityName("__init__", graph.Private)
	assert.ErrorIs(t, err, ErrNotTransformable)
}

func TestPython_ModifyAttributes(t *testing.T) {
	tree := parse(t, syntax.LangPython, `"""Doc."""
import os

__version__ = "1.0"


def f():
    return os.sep
`)
	py := Python{}
	attrs := py.Attributes(tree)
	require.Len(t, attrs, 1)
	assert.Equal(t, "__version__", attrs[0].Name)

	edits, err := py.ModifyAttributes(tree, []operation.AttributeChange{
		{Action: operation.AttributeUpdate, Name: "__version__", Value: `"2.0"`},
		{Action: operation.AttributeAdd, Name: "__author__", Value: `"me"`},
	})
	require.NoError(t, err)
	assert.Equal(t, `"""Doc."""
import os

__version__ = "2.0"
__author__ = "me"


def f():
    return os.sep
`, apply(t, tree, edits))

	bare := parse(t, syntax.LangPython, "\"\"\"Doc.\"\"\"\nimport os\n\n\ndef f():\n    pass\n")
	edits, err = py.ModifyAttributes(bare, []operation.AttributeChange{
		{Action: operation.AttributeAdd, Name: "__author__", Value: `"me"`},
	})
	require.NoError(t, err)
	assert.Equal(t, "\"\"\"Doc.\"\"\"\nimport os\n__author__ = \"me\"\n\n\ndef f():\n    pass\n", apply(t, bare, edits))
}

func TestPython_RenameModuleUnsupported(t *testing.T) {
	tree := parse(t, syntax.LangPython, "x = 1\n")
	_, err := Python{}.RenameModule(tree, "other")
	assert.ErrorIs(t, err, operation.ErrUnsupportedOperation)
}
