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
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianForge/services/forge/graph"
	"github.com/AleutianAI/AleutianForge/services/forge/operation"
	"github.com/AleutianAI/AleutianForge/services/forge/syntax"
)

// Go transforms Go source.
//
// Modules are packages. Visibility is the case of the first letter.
// Attributes are top-level single-line constants.
type Go struct{}

var goPredeclared = map[string]bool{
	"true": true, "false": true, "nil": true, "iota": true,
	"append": true, "cap": true, "clear": true, "close": true, "complex": true,
	"copy": true, "delete": true, "imag": true, "len": true, "make": true,
	"max": true, "min": true, "new": true, "panic": true, "print": true,
	"println": true, "real": true, "recover": true,
	"any": true, "bool": true, "byte": true, "comparable": true, "complex64": true,
	"complex128": true, "error": true, "float32": true, "float64": true, "int": true,
	"int8": true, "int16": true, "int32": true, "int64": true, "rune": true,
	"string": true, "uint": true, "uint8": true, "uint16": true, "uint32": true,
	"uint64": true, "uintptr": true,
}

func (Go) Language() string { return syntax.LangGo }

func (g Go) Functions(t *syntax.Tree) []*Function {
	var out []*Function
	for _, id := range t.NamedChildren(t.Root()) {
		if t.Kind(id) == "function_declaration" {
			out = append(out, g.function(t, id))
		}
	}
	return out
}

func (Go) function(t *syntax.Tree, id syntax.NodeID) *Function {
	n := t.Node(id)
	f := &Function{
		Node:      id,
		Outer:     id,
		NameNode:  t.Field(id, "name"),
		ParamList: t.Field(id, "parameters"),
		Body:      t.Field(id, "body"),
		StartLine: n.StartLine,
		EndLine:   n.EndLine,
	}
	f.Name = t.Text(f.NameNode)

	for _, decl := range t.NamedChildren(f.ParamList) {
		switch t.Kind(decl) {
		case "parameter_declaration":
			typ := t.Text(t.Field(decl, "type"))
			names := t.Fields(decl, "name")
			if len(names) == 0 {
				f.Params = append(f.Params, Param{Type: typ, Node: decl, NameNode: syntax.NoNode})
			}
			for _, nm := range names {
				f.Params = append(f.Params, Param{Name: t.Text(nm), Type: typ, Node: decl, NameNode: nm})
			}
		case "variadic_parameter_declaration":
			nm := t.Field(decl, "name")
			f.Params = append(f.Params, Param{
				Name:     t.Text(nm),
				Type:     "..." + t.Text(t.Field(decl, "type")),
				Node:     decl,
				NameNode: nm,
				Variadic: true,
			})
		}
	}
	return f
}

func (g Go) FindFunction(t *syntax.Tree, name string, line int) (*Function, error) {
	return pickFunction(g.Functions(t), name, line)
}

func (Go) Calls(t *syntax.Tree, name string, line int) []*Call {
	var out []*Call
	for _, id := range t.FindAll(t.Root(), "call_expression") {
		fn := t.Field(id, "function")
		nameNode, qual := syntax.NoNode, ""
		switch t.Kind(fn) {
		case "identifier":
			nameNode = fn
		case "selector_expression":
			nameNode = t.Field(fn, "field")
			qual = t.Text(t.Field(fn, "operand"))
		default:
			continue
		}
		if t.Text(nameNode) != name {
			continue
		}
		ln := t.Node(nameNode).StartLine
		if line > 0 && ln != line {
			continue
		}
		c := &Call{
			Node:      id,
			NameNode:  nameNode,
			ArgList:   t.Field(id, "arguments"),
			Name:      name,
			Qualifier: qual,
			Line:      ln,
		}
		c.Args = goArgs(t, c.ArgList)
		out = append(out, c)
	}
	return out
}

func goArgs(t *syntax.Tree, list syntax.NodeID) []Argument {
	n := t.Node(list)
	if n == nil {
		return nil
	}
	var args []Argument
	for _, c := range n.Children {
		cn := t.Node(c)
		switch {
		case cn.Kind == "...":
			if len(args) > 0 {
				args[len(args)-1].Spread = true
			}
		case !cn.Named || cn.Kind == "comment":
		case cn.Kind == "variadic_argument":
			args = append(args, Argument{Node: c, Text: t.Text(c), Spread: true})
		default:
			args = append(args, Argument{Node: c, Text: t.Text(c)})
		}
	}
	return args
}

func (Go) Identifiers(t *syntax.Tree, fn *Function) map[string]bool {
	out := make(map[string]bool)
	t.Walk(fn.Node, func(id syntax.NodeID) bool {
		if t.Kind(id) == "identifier" && id != fn.NameNode {
			out[t.Text(id)] = true
		}
		return true
	})
	return out
}

func (Go) RenameFunction(t *syntax.Tree, fn *Function, newName string) []Edit {
	return []Edit{replaceNode(t, fn.NameNode, newName)}
}

func (Go) RenameCall(t *syntax.Tree, c *Call, newName string) Edit {
	return replaceNode(t, c.NameNode, newName)
}

func (Go) RenameImports(*syntax.Tree, string, string, string) []Edit {
	return nil
}

func (Go) Visibility(name string) string {
	r, _ := utf8.DecodeRuneInString(name)
	if unicode.IsUpper(r) {
		return graph.Public
	}
	return graph.Private
}

func (g Go) VisibilityName(name, visibility string) (string, error) {
	r, size := utf8.DecodeRuneInString(name)
	if g.Visibility(name) == visibility {
		return "", notTransformable("%s is already %s", name, visibility)
	}
	if name == "main" || name == "init" {
		return "", notTransformable("%s cannot change visibility", name)
	}
	if visibility == graph.Public {
		if !unicode.IsLetter(r) {
			return "", notTransformable("%s cannot be exported", name)
		}
		return string(unicode.ToUpper(r)) + name[size:], nil
	}
	return string(unicode.ToLower(r)) + name[size:], nil
}

// goKeep filters identifier nodes that are composite-literal keys.
func goKeep(t *syntax.Tree) func(syntax.NodeID) bool {
	return func(id syntax.NodeID) bool {
		p := t.Parent(id)
		switch t.Kind(p) {
		case "literal_element":
			kp := t.Parent(p)
			if t.Kind(kp) == "keyed_element" {
				if kids := t.NamedChildren(kp); len(kids) > 0 && kids[0] == p {
					return false
				}
			}
		case "keyed_element":
			if kids := t.NamedChildren(p); len(kids) > 0 && kids[0] == id {
				return false
			}
		}
		return true
	}
}

// goShadows skips function literals that redeclare name as a parameter.
func goShadows(t *syntax.Tree, name string) func(syntax.NodeID) bool {
	return func(id syntax.NodeID) bool {
		if t.Kind(id) != "func_literal" {
			return false
		}
		for _, nm := range t.FindAll(t.Field(id, "parameters"), "identifier") {
			if t.Text(nm) == name {
				return true
			}
		}
		return false
	}
}

func (g Go) bodyUses(t *syntax.Tree, fn *Function, name string) []syntax.NodeID {
	return identifierUses(t, fn.Body, name, goShadows(t, name), goKeep(t))
}

func (g Go) RenameParameter(t *syntax.Tree, fn *Function, oldName, newName string) ([]Edit, error) {
	idx := fn.ParamIndex(oldName)
	if idx < 0 {
		return nil, notTransformable("%s has no parameter %s", fn.Name, oldName)
	}
	if fn.ParamIndex(newName) >= 0 {
		return nil, notTransformable("%s already has a parameter %s", fn.Name, newName)
	}
	edits := []Edit{replaceNode(t, fn.Params[idx].NameNode, newName)}
	for _, id := range g.bodyUses(t, fn, oldName) {
		edits = append(edits, replaceNode(t, id, newName))
	}
	return edits, nil
}

func (Go) RenameKeyword(*syntax.Tree, *Call, string, string) []Edit {
	return nil
}

func (g Go) ChangeSignature(t *syntax.Tree, fn *Function, params []operation.Parameter) ([]Edit, error) {
	for _, p := range fn.Params {
		if p.Name == "" {
			return nil, notTransformable("%s has unnamed parameters", fn.Name)
		}
	}
	if fn.Body == syntax.NoNode {
		return nil, notTransformable("%s has no body", fn.Name)
	}

	kept := make(map[int]bool)
	parts := make([]string, len(params))
	var edits []Edit
	for i, p := range params {
		if p.From == nil {
			if p.Type == "" {
				return nil, notTransformable("new parameter %s needs a type", p.Name)
			}
			parts[i] = p.Name + " " + p.Type
			continue
		}
		if *p.From >= len(fn.Params) {
			return nil, notTransformable("%s has no parameter at position %d", fn.Name, *p.From)
		}
		src := fn.Params[*p.From]
		kept[*p.From] = true
		typ := src.Type
		if p.Type != "" {
			typ = p.Type
		}
		if strings.HasPrefix(typ, "...") && i != len(params)-1 {
			return nil, notTransformable("variadic parameter %s must stay last", p.Name)
		}
		parts[i] = p.Name + " " + typ
		if p.Name != src.Name {
			for _, id := range g.bodyUses(t, fn, src.Name) {
				edits = append(edits, replaceNode(t, id, p.Name))
			}
		}
	}

	for i, p := range fn.Params {
		if !kept[i] && p.Name != "_" && len(g.bodyUses(t, fn, p.Name)) > 0 {
			return nil, notTransformable("removed parameter %s is still used in %s", p.Name, fn.Name)
		}
	}

	edits = append(edits, replaceNode(t, fn.ParamList, "("+strings.Join(parts, ", ")+")"))
	return edits, nil
}

func (Go) RewriteArguments(t *syntax.Tree, c *Call, oldParams []Param, params []operation.Parameter) (Edit, error) {
	if c.HasSpread() {
		return Edit{}, notTransformable("call at line %d spreads its arguments", c.Line)
	}
	if len(c.Args) != len(oldParams) {
		return Edit{}, notTransformable("call at line %d passes %d arguments, expected %d", c.Line, len(c.Args), len(oldParams))
	}
	args := make([]string, len(params))
	for i, p := range params {
		if p.From != nil {
			args[i] = c.Args[*p.From].Text
			continue
		}
		if p.Default == "" {
			return Edit{}, notTransformable("new parameter %s has no default for call sites", p.Name)
		}
		args[i] = p.Default
	}
	return replaceNode(t, c.ArgList, "("+strings.Join(args, ", ")+")"), nil
}

func (g Go) Inlinable(t *syntax.Tree, fn *Function) (*Inlinable, error) {
	if t.Field(fn.Node, "type_parameters") != syntax.NoNode {
		return nil, notTransformable("%s is generic", fn.Name)
	}
	for _, p := range fn.Params {
		if p.Variadic {
			return nil, notTransformable("%s is variadic", fn.Name)
		}
	}
	stmts := statements(t, fn.Body)
	if len(stmts) != 1 || t.Kind(stmts[0]) != "return_statement" {
		return nil, notTransformable("%s must consist of a single return statement", fn.Name)
	}
	exprs := t.NamedChildren(stmts[0])
	if len(exprs) == 1 && t.Kind(exprs[0]) == "expression_list" {
		exprs = t.NamedChildren(exprs[0])
	}
	if len(exprs) != 1 {
		return nil, notTransformable("%s must return exactly one expression", fn.Name)
	}
	expr := exprs[0]

	for _, c := range g.Calls(t, fn.Name, 0) {
		if t.Contains(expr, c.Node) && c.Qualifier == "" {
			return nil, notTransformable("%s is recursive", fn.Name)
		}
	}

	in := &Inlinable{Function: fn, Expr: expr, Uses: make(map[string]int), refs: make(map[string][]syntax.NodeID)}
	params := make(map[string]bool)
	for _, p := range fn.Params {
		if p.Name == "" || p.Name == "_" {
			continue
		}
		params[p.Name] = true
		refs := identifierUses(t, expr, p.Name, goShadows(t, p.Name), goKeep(t))
		in.refs[p.Name] = refs
		in.Uses[p.Name] = len(refs)
	}

	free := make(map[string]bool)
	keep := goKeep(t)
	t.Walk(expr, func(id syntax.NodeID) bool {
		if t.Kind(id) == "identifier" && keep(id) {
			name := t.Text(id)
			if !params[name] && !goPredeclared[name] {
				free[name] = true
			}
		}
		return true
	})
	in.Free = sortedKeys(free)
	return in, nil
}

func goSimple(kind string) bool {
	switch kind {
	case "identifier", "int_literal", "float_literal", "imaginary_literal", "rune_literal",
		"interpreted_string_literal", "raw_string_literal", "true", "false", "nil":
		return true
	}
	return false
}

func goPrimary(kind string) bool {
	switch kind {
	case "call_expression", "selector_expression", "index_expression", "slice_expression",
		"parenthesized_expression", "composite_literal", "type_assertion_expression":
		return true
	}
	return goSimple(kind)
}

func (Go) InlineCall(t *syntax.Tree, c *Call, defTree *syntax.Tree, in *Inlinable, foreign bool) (Edit, error) {
	fn := in.Function
	if c.HasSpread() {
		return Edit{}, notTransformable("call at line %d spreads its arguments", c.Line)
	}
	if len(c.Args) != len(fn.Params) {
		return Edit{}, notTransformable("call at line %d passes %d arguments, expected %d", c.Line, len(c.Args), len(fn.Params))
	}
	if (foreign || c.Qualifier != "") && len(in.Free) > 0 {
		return Edit{}, notTransformable("call at line %d is outside the package and %s refers to %s",
			c.Line, fn.Name, strings.Join(in.Free, ", "))
	}

	repl := make(map[syntax.NodeID]string)
	for i, p := range fn.Params {
		arg := c.Args[i]
		simple := goSimple(t.Kind(arg.Node))
		if uses := in.Uses[p.Name]; uses != 1 && !simple {
			return Edit{}, notTransformable("call at line %d: argument %s would be evaluated %d times",
				c.Line, arg.Text, uses)
		}
		for _, id := range in.refs[p.Name] {
			repl[id] = parenthesize(arg.Text, simple || goPrimary(t.Kind(arg.Node)))
		}
	}

	text := substitute(defTree, in.Expr, repl)
	text = parenthesize(text, goPrimary(defTree.Kind(in.Expr)))
	return replaceNode(t, c.Node, text), nil
}

func (Go) DeleteFunction(t *syntax.Tree, fn *Function) Edit {
	start := leadingCommentStart(t, t.Root(), fn.StartLine)
	from, to := deletionRange(t, start, fn.EndLine)
	return Edit{Start: from, End: to}
}

// =============================================================================
// Extract
// =============================================================================

func (g Go) ExtractFunction(t *syntax.Tree, fn *Function, start, end int, newName string) ([]Edit, error) {
	selected, before, after, err := splitBody(t, fn, start, end)
	if err != nil {
		return nil, err
	}

	keep := goKeep(t)
	for _, s := range selected {
		if err := goCheckExtractable(t, s); err != nil {
			return nil, err
		}
	}

	types := make(map[string]string)
	for _, p := range fn.Params {
		typ := p.Type
		if p.Variadic {
			typ = "[]" + strings.TrimPrefix(typ, "...")
		}
		types[p.Name] = typ
	}
	for _, s := range before {
		goDeclarations(t, s, types, false)
	}

	declaredIn := make(map[string]string)
	written := make(map[string]bool)
	var order []string
	seen := make(map[string]bool)
	for _, s := range selected {
		goDeclarations(t, s, declaredIn, true)
		goWrites(t, s, written)
		t.Walk(s, func(id syntax.NodeID) bool {
			if t.Kind(id) == "identifier" && keep(id) {
				name := t.Text(id)
				if _, ok := types[name]; ok && !seen[name] {
					seen[name] = true
					order = append(order, name)
				}
			}
			return true
		})
	}

	usedAfter := make(map[string]bool)
	for _, s := range after {
		t.Walk(s, func(id syntax.NodeID) bool {
			if t.Kind(id) == "identifier" {
				usedAfter[t.Text(id)] = true
			}
			return true
		})
	}
	for _, name := range sortedKeys(usedAfter) {
		if _, ok := declaredIn[name]; ok {
			return nil, notTransformable("lines %d-%d declare %s, which is used after them", start, end, name)
		}
		if written[name] {
			return nil, notTransformable("lines %d-%d assign %s, which is used after them", start, end, name)
		}
	}

	params := make([]string, 0, len(order))
	for _, name := range order {
		typ := types[name]
		if typ == "" {
			return nil, notTransformable("cannot determine the type of %s", name)
		}
		params = append(params, name+" "+typ)
	}

	first, last := t.Node(selected[0]).StartLine, t.Node(selected[len(selected)-1]).EndLine
	indent := indentOf(lineText(t, first))
	call := indent + newName + "(" + strings.Join(order, ", ") + ")"
	body := reindent(linesOf(t, first, last), "\t")
	fnText := "\n\nfunc " + newName + "(" + strings.Join(params, ", ") + ") {\n" + strings.Join(body, "\n") + "\n}"

	return []Edit{
		{Start: t.LineStartByte(first), End: lineContentEnd(t, last), Text: call},
		{Start: t.Node(fn.Node).EndByte, End: t.Node(fn.Node).EndByte, Text: fnText},
	}, nil
}

// splitBody partitions fn's top-level statements around lines start..end.
func splitBody(t *syntax.Tree, fn *Function, start, end int) (selected, before, after []syntax.NodeID, err error) {
	if fn.Body == syntax.NoNode {
		return nil, nil, nil, notTransformable("%s has no body", fn.Name)
	}
	body := t.Node(fn.Body)
	if start <= fn.StartLine || end > body.EndLine || (end == body.EndLine && t.Language == syntax.LangGo) {
		return nil, nil, nil, notTransformable("lines %d-%d are not inside the body of %s", start, end, fn.Name)
	}
	for _, s := range statements(t, fn.Body) {
		n := t.Node(s)
		switch {
		case n.EndLine < start:
			before = append(before, s)
		case n.StartLine > end:
			after = append(after, s)
		case n.StartLine >= start && n.EndLine <= end:
			selected = append(selected, s)
		default:
			return nil, nil, nil, notTransformable("lines %d-%d split the statement at line %d", start, end, n.StartLine)
		}
	}
	if len(selected) == 0 {
		return nil, nil, nil, notTransformable("lines %d-%d contain no statements", start, end)
	}
	return selected, before, after, nil
}

func goCheckExtractable(t *syntax.Tree, stmt syntax.NodeID) error {
	var err error
	t.Walk(stmt, func(id syntax.NodeID) bool {
		if err != nil {
			return false
		}
		n := t.Node(id)
		switch n.Kind {
		case "func_literal":
			return false
		case "return_statement":
			err = notTransformable("line %d returns from the enclosing function", n.StartLine)
		case "defer_statement":
			err = notTransformable("line %d defers a call", n.StartLine)
		case "goto_statement", "labeled_statement":
			err = notTransformable("line %d uses labels", n.StartLine)
		case "break_statement", "continue_statement":
			loop := t.Ancestor(id, "for_statement", "expression_switch_statement", "type_switch_statement", "select_statement")
			if loop == syntax.NoNode || !t.Contains(stmt, loop) {
				err = notTransformable("line %d leaves a loop outside the range", n.StartLine)
			}
		}
		return true
	})
	return err
}

// goDeclarations records names declared by stmt with their types, "" when
// unknown. deep also visits nested statements.
func goDeclarations(t *syntax.Tree, stmt syntax.NodeID, into map[string]string, deep bool) {
	visit := func(id syntax.NodeID) {
		switch t.Kind(id) {
		case "var_spec", "const_spec":
			typ := t.Text(t.Field(id, "type"))
			values := goExprList(t, t.Field(id, "value"))
			for i, nm := range t.Fields(id, "name") {
				ty := typ
				if ty == "" && i < len(values) {
					ty = goLiteralType(t, values[i])
				}
				into[t.Text(nm)] = ty
			}
		case "short_var_declaration":
			left := goExprList(t, t.Field(id, "left"))
			right := goExprList(t, t.Field(id, "right"))
			for i, nm := range left {
				if t.Kind(nm) != "identifier" {
					continue
				}
				ty := ""
				if len(right) == len(left) {
					ty = goLiteralType(t, right[i])
				}
				if _, ok := into[t.Text(nm)]; !ok || ty != "" {
					into[t.Text(nm)] = ty
				}
			}
		case "range_clause":
			for _, nm := range goExprList(t, t.Field(id, "left")) {
				if t.Kind(nm) == "identifier" {
					into[t.Text(nm)] = ""
				}
			}
		}
	}
	if !deep {
		switch t.Kind(stmt) {
		case "var_declaration", "const_declaration":
			for _, spec := range t.FindAll(stmt, "var_spec", "const_spec") {
				visit(spec)
			}
		default:
			visit(stmt)
		}
		return
	}
	t.Walk(stmt, func(id syntax.NodeID) bool {
		if t.Kind(id) == "func_literal" {
			return false
		}
		visit(id)
		return true
	})
}

// goWrites records identifiers assigned by stmt, including the roots of
// assigned fields and elements.
func goWrites(t *syntax.Tree, stmt syntax.NodeID, into map[string]bool) {
	t.Walk(stmt, func(id syntax.NodeID) bool {
		switch t.Kind(id) {
		case "func_literal":
			return false
		case "assignment_statement":
			for _, l := range goExprList(t, t.Field(id, "left")) {
				if root := goRootIdent(t, l); root != "" {
					into[root] = true
				}
			}
		case "inc_dec_statement":
			if kids := t.NamedChildren(id); len(kids) > 0 {
				if root := goRootIdent(t, kids[0]); root != "" {
					into[root] = true
				}
			}
		}
		return true
	})
}

func goRootIdent(t *syntax.Tree, id syntax.NodeID) string {
	for {
		switch t.Kind(id) {
		case "identifier":
			return t.Text(id)
		case "selector_expression":
			id = t.Field(id, "operand")
		case "index_expression":
			id = t.Field(id, "operand")
		case "parenthesized_expression", "unary_expression":
			kids := t.NamedChildren(id)
			if len(kids) == 0 {
				return ""
			}
			id = kids[len(kids)-1]
		default:
			return ""
		}
	}
}

func goExprList(t *syntax.Tree, id syntax.NodeID) []syntax.NodeID {
	if id == syntax.NoNode {
		return nil
	}
	if t.Kind(id) == "expression_list" {
		return t.NamedChildren(id)
	}
	return []syntax.NodeID{id}
}

func goLiteralType(t *syntax.Tree, id syntax.NodeID) string {
	switch t.Kind(id) {
	case "int_literal":
		return "int"
	case "float_literal":
		return "float64"
	case "interpreted_string_literal", "raw_string_literal":
		return "string"
	case "rune_literal":
		return "rune"
	case "true", "false":
		return "bool"
	case "composite_literal":
		return t.Text(t.Field(id, "type"))
	case "unary_expression":
		if strings.HasPrefix(t.Text(id), "&") {
			if inner := t.Field(id, "operand"); t.Kind(inner) == "composite_literal" {
				return "*" + t.Text(t.Field(inner, "type"))
			}
		}
	}
	return ""
}

// =============================================================================
// Attributes
// =============================================================================

func (Go) Attributes(t *syntax.Tree) []*Attribute {
	var out []*Attribute
	for _, decl := range t.NamedChildren(t.Root()) {
		if t.Kind(decl) != "const_declaration" {
			continue
		}
		var specs []syntax.NodeID
		for _, c := range t.NamedChildren(decl) {
			if t.Kind(c) == "const_spec" {
				specs = append(specs, c)
			}
		}
		for _, spec := range specs {
			names := t.Fields(spec, "name")
			values := goExprList(t, t.Field(spec, "value"))
			n := t.Node(spec)
			if len(names) != 1 || len(values) != 1 || n.StartLine != n.EndLine {
				continue
			}
			a := &Attribute{
				Name:      t.Text(names[0]),
				Value:     t.Text(values[0]),
				Line:      n.StartLine,
				EndLine:   n.EndLine,
				Node:      spec,
				ValueNode: values[0],
				Decl:      spec,
			}
			if len(specs) == 1 {
				a.Decl = decl
			}
			out = append(out, a)
		}
	}
	return out
}

func (g Go) ModifyAttributes(t *syntax.Tree, changes []operation.AttributeChange) ([]Edit, error) {
	attrs := make(map[string]*Attribute)
	for _, a := range g.Attributes(t) {
		attrs[a.Name] = a
	}

	var (
		edits []Edit
		adds  []string
	)
	for _, c := range changes {
		a, exists := attrs[c.Name]
		switch c.Action {
		case operation.AttributeAdd:
			if exists {
				return nil, notTransformable("constant %s already exists", c.Name)
			}
			adds = append(adds, "const "+c.Name+" = "+c.Value)
		case operation.AttributeRemove:
			if !exists {
				return nil, notTransformable("constant %s does not exist", c.Name)
			}
			d := t.Node(a.Decl)
			if a.Decl == a.Node {
				edits = append(edits, Edit{Start: t.LineStartByte(d.StartLine), End: t.LineEndByte(d.EndLine)})
			} else {
				from, to := deletionRange(t, leadingCommentStart(t, t.Root(), d.StartLine), d.EndLine)
				edits = append(edits, Edit{Start: from, End: to})
			}
		case operation.AttributeUpdate:
			if !exists {
				return nil, notTransformable("constant %s does not exist", c.Name)
			}
			edits = append(edits, replaceNode(t, a.ValueNode, c.Value))
		}
	}

	if len(adds) > 0 {
		anchor, grouped := g.attributeAnchor(t)
		at := t.LineEndByte(anchor)
		text := strings.Join(adds, "\n") + "\n"
		if !grouped {
			text = "\n" + text
		}
		if at == len(t.Source) && (at == 0 || t.Source[at-1] != '\n') {
			text = "\n" + text
		}
		edits = append(edits, Edit{Start: at, End: at, Text: text})
	}
	return edits, nil
}

// attributeAnchor returns the line after which new constants go, and
// whether that line ends an existing constant declaration.
func (Go) attributeAnchor(t *syntax.Tree) (int, bool) {
	line, grouped := 1, false
	for _, c := range t.NamedChildren(t.Root()) {
		n := t.Node(c)
		switch n.Kind {
		case "const_declaration":
			line, grouped = n.EndLine, true
		case "import_declaration", "package_clause":
			if !grouped {
				line = n.EndLine
			}
		}
	}
	return line, grouped
}

// =============================================================================
// Modules
// =============================================================================

func (Go) packageIdent(t *syntax.Tree) syntax.NodeID {
	for _, c := range t.NamedChildren(t.Root()) {
		if t.Kind(c) == "package_clause" {
			for _, k := range t.NamedChildren(c) {
				if t.Kind(k) == "package_identifier" || t.Kind(k) == "identifier" {
					return k
				}
			}
		}
	}
	return syntax.NoNode
}

func (g Go) ModuleName(t *syntax.Tree) string {
	return strings.TrimSuffix(t.Text(g.packageIdent(t)), "_test")
}

func (g Go) RenameModule(t *syntax.Tree, newName string) ([]Edit, error) {
	id := g.packageIdent(t)
	if id == syntax.NoNode {
		return nil, notTransformable("no package clause")
	}
	name := newName
	if strings.HasSuffix(t.Text(id), "_test") {
		name += "_test"
	}
	return []Edit{replaceNode(t, id, name)}, nil
}

func (Go) RenameModuleReferences(t *syntax.Tree, importPath, oldName, newName string) ([]Edit, error) {
	imported := false
	for _, spec := range t.FindAll(t.Root(), "import_spec") {
		path, err := strconv.Unquote(t.Text(t.Field(spec, "path")))
		if err != nil {
			continue
		}
		alias := t.Field(spec, "name")
		local := path[strings.LastIndex(path, "/")+1:]
		if alias != syntax.NoNode {
			local = t.Text(alias)
		}
		if path == importPath {
			if alias != syntax.NoNode {
				return nil, nil
			}
			imported = true
			continue
		}
		if local == newName {
			return nil, notTransformable("%s is already imported under the name %s", path, newName)
		}
	}
	if !imported {
		return nil, nil
	}

	var edits []Edit
	t.Walk(t.Root(), func(id syntax.NodeID) bool {
		switch t.Kind(id) {
		case "selector_expression":
			op := t.Field(id, "operand")
			if t.Kind(op) == "identifier" && t.Text(op) == oldName {
				edits = append(edits, replaceNode(t, op, newName))
			}
		case "qualified_type":
			pkg := t.Field(id, "package")
			if t.Text(pkg) == oldName {
				edits = append(edits, replaceNode(t, pkg, newName))
			}
		}
		return true
	})
	return edits, nil
}
