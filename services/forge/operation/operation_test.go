// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package operation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianForge/services/forge/graph"
)

func TestDecode_RenameFunction(t *testing.T) {
	op, err := Decode(KindRenameFunction, json.RawMessage(`{"module":"Foo","function":"bar","arity":1,"new_name":"baz"}`))
	require.NoError(t, err)

	rf, ok := op.(*RenameFunction)
	require.True(t, ok)
	assert.Equal(t, "baz", rf.NewName)
	assert.Equal(t, graph.Target{Module: "Foo", Function: "bar", Arity: 1}, op.Target())
	assert.Equal(t, "Rename Foo.bar/1 to baz", op.Describe())
}

func TestDecode_MissingArityMatchesAny(t *testing.T) {
	op, err := Decode(KindInlineFunction, json.RawMessage(`{"module":"m","function":"f"}`))
	require.NoError(t, err)
	assert.Equal(t, graph.AnyArity, op.Target().Arity)
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		kind   Kind
		params string
	}{
		{"unknown kind", Kind("teleport"), `{}`},
		{"unknown field", KindRenameFunction, `{"module":"m","function":"f","new_name":"g","colour":"red"}`},
		{"bad identifier", KindRenameFunction, `{"module":"m","function":"f","new_name":"1g"}`},
		{"same name", KindRenameFunction, `{"module":"m","function":"f","new_name":"f"}`},
		{"no module", KindInlineFunction, `{"function":"f"}`},
		{"bad range", KindExtractFunction, `{"module":"m","function":"f","new_name":"g","start_line":5,"end_line":2}`},
		{"bad visibility", KindConvertVisibility, `{"module":"m","function":"f","visibility":"protected"}`},
		{"attr twice", KindModifyAttributes, `{"module":"m","changes":[{"action":"remove","name":"a"},{"action":"remove","name":"a"}]}`},
		{"attr multiline", KindModifyAttributes, `{"module":"m","changes":[{"action":"add","name":"a","value":"1\n2"}]}`},
		{"dup param", KindChangeSignature, `{"module":"m","function":"f","parameters":[{"name":"a"},{"name":"a"}]}`},
		{"from out of range", KindChangeSignature, `{"module":"m","function":"f","arity":1,"parameters":[{"name":"a","from":1}]}`},
		{"move to self", KindMoveFunction, `{"module":"m","function":"f","destination":"m"}`},
		{"extract none", KindExtractModule, `{"module":"m","functions":[],"destination":"n"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.kind, json.RawMessage(tt.params))
			assert.ErrorIs(t, err, ErrInvalidOperation)
		})
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	op := &ChangeSignature{
		FunctionRef: FunctionRef{Module: "m", Function: "f", Arity: Arity(2)},
		Parameters: []Parameter{
			{Name: "b", From: Arity(1)},
			{Name: "a", From: Arity(0)},
			{Name: "c", Default: "None"},
		},
	}
	raw, err := Encode(op)
	require.NoError(t, err)

	back, err := DecodeDescriptor(raw)
	require.NoError(t, err)
	assert.Equal(t, op, back)
	assert.Equal(t, 3, back.(*ChangeSignature).NewArity())
}

func TestEveryKindDecodes(t *testing.T) {
	for _, k := range Kinds() {
		op, err := New(k)
		require.NoError(t, err)
		assert.Equal(t, k, op.Kind())
	}
}

func TestUnsupportedOperationError(t *testing.T) {
	err := Unsupported(KindMoveFunction, "go", "relocating definitions is not implemented")
	assert.ErrorIs(t, err, ErrUnsupportedOperation)
	assert.Equal(t, "unsupported operation move_function for go: relocating definitions is not implemented", err.Error())
}

func TestRenameModule_NewModule(t *testing.T) {
	assert.Equal(t, "example.com/app/bar", (&RenameModule{Module: "example.com/app/foo", NewName: "bar"}).NewModule())
	assert.Equal(t, "pkg.bar", (&RenameModule{Module: "pkg.foo", NewName: "bar"}).NewModule())
	assert.Equal(t, "bar", (&RenameModule{Module: "foo", NewName: "bar"}).NewModule())
}

func TestIsIdentifier(t *testing.T) {
	assert.True(t, IsIdentifier("_a1"))
	assert.False(t, IsIdentifier(""))
	assert.False(t, IsIdentifier("a-b"))
	assert.False(t, IsIdentifier("9a"))
}
