// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transform computes source edits for refactor operations, one
// implementation per language.
//
// Transformers read a syntax.Tree and return byte-range Edits; they never
// touch the file system. The refactor engine applies the edits to produce
// candidate content and turns that into line changes for the editor.
package transform

import (
	"errors"
	"fmt"
	"sort"

	"github.com/AleutianAI/AleutianForge/services/forge/operation"
	"github.com/AleutianAI/AleutianForge/services/forge/syntax"
)

var (
	// ErrFunctionNotFound is returned when no definition matches.
	ErrFunctionNotFound = errors.New("function not found")

	// ErrAmbiguousFunction is returned when several definitions match and
	// the line hint does not pick one.
	ErrAmbiguousFunction = errors.New("function is ambiguous")

	// ErrNotTransformable is returned when code falls outside what an
	// operation supports. The message says why.
	ErrNotTransformable = errors.New("code cannot be transformed")

	// ErrOverlappingEdits is returned by ApplyEdits for conflicting edits.
	ErrOverlappingEdits = errors.New("overlapping edits")
)

func notTransformable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotTransformable, fmt.Sprintf(format, args...))
}

// Edit replaces source bytes [Start, End) with Text. Start == End inserts.
type Edit struct {
	Start int
	End   int
	Text  string
}

// ApplyEdits applies non-overlapping edits to src.
//
// Edits are applied from the end of the file backwards so offsets stay
// valid. Two insertions at one offset are rejected, as is any pair of
// intersecting ranges; an insertion at the boundary of a replacement is
// allowed and lands before the replacement text.
func ApplyEdits(src []byte, edits []Edit) ([]byte, error) {
	sorted := append([]Edit(nil), edits...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start > sorted[j].Start
		}
		return sorted[i].End > sorted[j].End
	})

	for i, e := range sorted {
		if e.Start < 0 || e.End < e.Start || e.End > len(src) {
			return nil, fmt.Errorf("%w: edit [%d,%d) outside source of %d bytes", ErrOverlappingEdits, e.Start, e.End, len(src))
		}
		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		if e.End > prev.Start || (e.Start == e.End && prev.Start == prev.End && e.Start == prev.Start) {
			return nil, fmt.Errorf("%w: [%d,%d) and [%d,%d)", ErrOverlappingEdits, e.Start, e.End, prev.Start, prev.End)
		}
	}

	out := append([]byte(nil), src...)
	for _, e := range sorted {
		tail := append([]byte(e.Text), out[e.End:]...)
		out = append(out[:e.Start], tail...)
	}
	return out, nil
}

// Param is one declared parameter.
type Param struct {
	Name     string
	Type     string
	Default  string
	Node     syntax.NodeID
	NameNode syntax.NodeID

	// Variadic marks Go "...T" and Python "*args"/"**kwargs" parameters.
	Variadic bool
}

// Function is a top-level function definition.
type Function struct {
	Name      string
	Node      syntax.NodeID
	Outer     syntax.NodeID
	NameNode  syntax.NodeID
	ParamList syntax.NodeID
	Body      syntax.NodeID
	Params    []Param
	StartLine int
	EndLine   int
	Decorated bool
	Async     bool
}

// Arity returns the number of parameters.
func (f *Function) Arity() int {
	return len(f.Params)
}

// ParamIndex returns the position of the parameter called name, or -1.
func (f *Function) ParamIndex(name string) int {
	for i, p := range f.Params {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// Argument is one call argument.
type Argument struct {
	Node    syntax.NodeID
	Text    string
	Keyword string
	Spread  bool
}

// Call is a call expression whose callee is a plain or qualified name.
type Call struct {
	Node      syntax.NodeID
	NameNode  syntax.NodeID
	ArgList   syntax.NodeID
	Name      string
	Qualifier string
	Line      int
	Args      []Argument

	// Opaque marks argument lists that cannot be mapped positionally, such
	// as Python generator arguments.
	Opaque bool
}

// HasSpread reports whether any argument is unpacked.
func (c *Call) HasSpread() bool {
	for _, a := range c.Args {
		if a.Spread {
			return true
		}
	}
	return false
}

// HasKeywords reports whether any argument is passed by name.
func (c *Call) HasKeywords() bool {
	for _, a := range c.Args {
		if a.Keyword != "" {
			return true
		}
	}
	return false
}

// Attribute is a module-level metadata declaration.
type Attribute struct {
	Name      string
	Value     string
	Line      int
	EndLine   int
	Node      syntax.NodeID
	ValueNode syntax.NodeID

	// Decl is the node removed with the attribute: the whole statement, or
	// the single const_spec or var_spec inside a grouped declaration.
	Decl syntax.NodeID
}

// Inlinable is a function reduced to a single returned expression.
type Inlinable struct {
	Function *Function
	Expr     syntax.NodeID

	// Uses counts references to each parameter in Expr.
	Uses map[string]int

	// Free lists identifiers in Expr that are neither parameters nor
	// builtins.
	Free []string

	refs map[string][]syntax.NodeID
}

// Transformer computes edits for one language.
//
// # Thread Safety
//
// Implementations are stateless and safe for concurrent use.
type Transformer interface {
	// Language returns the syntax language tag.
	Language() string

	// Functions lists top-level function definitions.
	Functions(t *syntax.Tree) []*Function

	// FindFunction returns the top-level function called name. A positive
	// line prefers the definition spanning it.
	FindFunction(t *syntax.Tree, name string, line int) (*Function, error)

	// Calls returns calls to name whose callee name starts on line, or on
	// any line when line is 0.
	Calls(t *syntax.Tree, name string, line int) []*Call

	// Identifiers returns every name bound or referenced inside fn.
	Identifiers(t *syntax.Tree, fn *Function) map[string]bool

	// RenameFunction renames fn's definition.
	RenameFunction(t *syntax.Tree, fn *Function, newName string) []Edit

	// RenameCall renames the callee of c.
	RenameCall(t *syntax.Tree, c *Call, newName string) Edit

	// RenameImports renames imported names of module from oldName to
	// newName.
	RenameImports(t *syntax.Tree, module, oldName, newName string) []Edit

	// VisibilityName returns name converted to the given visibility.
	VisibilityName(name, visibility string) (string, error)

	// Visibility returns graph.Public or graph.Private for name.
	Visibility(name string) string

	// RenameParameter renames a parameter and its uses inside fn.
	RenameParameter(t *syntax.Tree, fn *Function, oldName, newName string) ([]Edit, error)

	// RenameKeyword renames arguments of c passed by the name oldName.
	RenameKeyword(t *syntax.Tree, c *Call, oldName, newName string) []Edit

	// ChangeSignature rewrites fn's parameter list. Kept parameters that
	// are renamed are also renamed in the body.
	ChangeSignature(t *syntax.Tree, fn *Function, params []operation.Parameter) ([]Edit, error)

	// RewriteArguments rewrites a call's arguments for a new signature.
	RewriteArguments(t *syntax.Tree, c *Call, oldParams []Param, params []operation.Parameter) (Edit, error)

	// Inlinable checks fn has the single-return shape inlining needs.
	Inlinable(t *syntax.Tree, fn *Function) (*Inlinable, error)

	// InlineCall replaces c with the body of in, evaluated in the file of
	// defTree. foreign reports whether the call site lives in another
	// module.
	InlineCall(t *syntax.Tree, c *Call, defTree *syntax.Tree, in *Inlinable, foreign bool) (Edit, error)

	// DeleteFunction removes fn together with its leading comments.
	DeleteFunction(t *syntax.Tree, fn *Function) Edit

	// ExtractFunction moves lines start..end of fn into a new function.
	ExtractFunction(t *syntax.Tree, fn *Function, start, end int, newName string) ([]Edit, error)

	// Attributes lists module-level metadata declarations.
	Attributes(t *syntax.Tree) []*Attribute

	// ModifyAttributes applies attribute changes.
	ModifyAttributes(t *syntax.Tree, changes []operation.AttributeChange) ([]Edit, error)

	// ModuleName returns the module's declared name, if the language
	// declares one in source.
	ModuleName(t *syntax.Tree) string

	// RenameModule renames the module declaration.
	RenameModule(t *syntax.Tree, newName string) ([]Edit, error)

	// RenameModuleReferences renames qualified references to the module
	// imported from importPath.
	RenameModuleReferences(t *syntax.Tree, importPath, oldName, newName string) ([]Edit, error)
}

// For returns the transformer for a language tag.
func For(language string) (Transformer, bool) {
	switch language {
	case syntax.LangGo:
		return Go{}, true
	case syntax.LangPython:
		return Python{}, true
	default:
		return nil, false
	}
}

// Languages lists languages with a transformer.
func Languages() []string {
	return []string{syntax.LangGo, syntax.LangPython}
}
