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
	"strings"

	"github.com/AleutianAI/AleutianForge/services/forge/graph"
	"github.com/AleutianAI/AleutianForge/services/forge/operation"
	"github.com/AleutianAI/AleutianForge/services/forge/syntax"
)

// Python transforms Python source.
//
// Modules are files, so renaming one is a file move and is not supported
// here. Visibility follows the leading-underscore convention. Attributes
// are module-level dunder assignments such as __version__.
type Python struct{}

const pyIndent = "    "

var pyBuiltins = map[string]bool{
	"True": true, "False": true, "None": true, "self": true, "cls": true,
	"abs": true, "all": true, "any": true, "ascii": true, "bin": true, "bool": true,
	"bytearray": true, "bytes": true, "callable": true, "chr": true, "dict": true,
	"dir": true, "divmod": true, "enumerate": true, "filter": true, "float": true,
	"format": true, "frozenset": true, "getattr": true, "hasattr": true, "hash": true,
	"hex": true, "id": true, "int": true, "isinstance": true, "issubclass": true,
	"iter": true, "len": true, "list": true, "map": true, "max": true, "min": true,
	"next": true, "object": true, "oct": true, "ord": true, "pow": true, "print": true,
	"range": true, "repr": true, "reversed": true, "round": true, "set": true,
	"slice": true, "sorted": true, "str": true, "sum": true, "super": true,
	"tuple": true, "type": true, "zip": true,
}

func (Python) Language() string { return syntax.LangPython }

func (p Python) Functions(t *syntax.Tree) []*Function {
	var out []*Function
	for _, id := range t.NamedChildren(t.Root()) {
		switch t.Kind(id) {
		case "function_definition":
			out = append(out, p.function(t, id, id))
		case "decorated_definition":
			def := t.Field(id, "definition")
			if t.Kind(def) == "function_definition" {
				out = append(out, p.function(t, def, id))
			}
		}
	}
	return out
}

func (Python) function(t *syntax.Tree, id, outer syntax.NodeID) *Function {
	n := t.Node(id)
	f := &Function{
		Node:      id,
		Outer:     outer,
		NameNode:  t.Field(id, "name"),
		ParamList: t.Field(id, "parameters"),
		Body:      t.Field(id, "body"),
		StartLine: t.Node(outer).StartLine,
		EndLine:   n.EndLine,
		Decorated: outer != id,
		Async:     strings.HasPrefix(t.Text(id), "async"),
	}
	f.Name = t.Text(f.NameNode)

	for _, c := range t.NamedChildren(f.ParamList) {
		switch t.Kind(c) {
		case "identifier":
			f.Params = append(f.Params, Param{Name: t.Text(c), Node: c, NameNode: c})
		case "default_parameter":
			nm := t.Field(c, "name")
			f.Params = append(f.Params, Param{Name: t.Text(nm), Default: t.Text(t.Field(c, "value")), Node: c, NameNode: nm})
		case "typed_default_parameter":
			nm := t.Field(c, "name")
			f.Params = append(f.Params, Param{
				Name:     t.Text(nm),
				Type:     t.Text(t.Field(c, "type")),
				Default:  t.Text(t.Field(c, "value")),
				Node:     c,
				NameNode: nm,
			})
		case "typed_parameter":
			p := Param{Type: t.Text(t.Field(c, "type")), Node: c, NameNode: syntax.NoNode}
			for _, k := range t.NamedChildren(c) {
				if t.Node(k).Field == "type" {
					continue
				}
				if t.Kind(k) == "identifier" {
					p.Name, p.NameNode = t.Text(k), k
				} else {
					p.Variadic = true
					for _, nm := range t.NamedChildren(k) {
						p.Name, p.NameNode = t.Text(nm), nm
					}
				}
				break
			}
			f.Params = append(f.Params, p)
		case "list_splat_pattern", "dictionary_splat_pattern":
			p := Param{Node: c, NameNode: syntax.NoNode, Variadic: true}
			for _, nm := range t.NamedChildren(c) {
				p.Name, p.NameNode = t.Text(nm), nm
			}
			f.Params = append(f.Params, p)
		case "keyword_separator", "positional_separator":
			f.Params = append(f.Params, Param{Name: t.Text(c), Node: c, NameNode: syntax.NoNode, Variadic: true})
		}
	}
	return f
}

func (p Python) FindFunction(t *syntax.Tree, name string, line int) (*Function, error) {
	return pickFunction(p.Functions(t), name, line)
}

func (Python) Calls(t *syntax.Tree, name string, line int) []*Call {
	var out []*Call
	for _, id := range t.FindAll(t.Root(), "call") {
		fn := t.Field(id, "function")
		nameNode, qual := syntax.NoNode, ""
		switch t.Kind(fn) {
		case "identifier":
			nameNode = fn
		case "attribute":
			nameNode = t.Field(fn, "attribute")
			qual = t.Text(t.Field(fn, "object"))
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
		if t.Kind(c.ArgList) != "argument_list" {
			c.Opaque = true
		} else {
			c.Args = pyArgs(t, c.ArgList)
		}
		out = append(out, c)
	}
	return out
}

func pyArgs(t *syntax.Tree, list syntax.NodeID) []Argument {
	var args []Argument
	for _, a := range t.NamedChildren(list) {
		switch t.Kind(a) {
		case "comment":
		case "keyword_argument":
			args = append(args, Argument{
				Node:    a,
				Text:    t.Text(t.Field(a, "value")),
				Keyword: t.Text(t.Field(a, "name")),
			})
		case "list_splat", "dictionary_splat":
			args = append(args, Argument{Node: a, Text: t.Text(a), Spread: true})
		default:
			args = append(args, Argument{Node: a, Text: t.Text(a)})
		}
	}
	return args
}

// pyKeep filters identifier nodes that name attributes or keywords rather
// than variables.
func pyKeep(t *syntax.Tree) func(syntax.NodeID) bool {
	return func(id syntax.NodeID) bool {
		n := t.Node(id)
		switch t.Kind(n.Parent) {
		case "attribute":
			return n.Field != "attribute"
		case "keyword_argument":
			return n.Field != "name"
		}
		return true
	}
}

// pyShadows skips nested scopes that bind name as a parameter.
func pyShadows(t *syntax.Tree, name string) func(syntax.NodeID) bool {
	return func(id syntax.NodeID) bool {
		switch t.Kind(id) {
		case "function_definition", "lambda":
		default:
			return false
		}
		params := t.Field(id, "parameters")
		if params == syntax.NoNode {
			return false
		}
		for _, nm := range t.FindAll(params, "identifier") {
			if t.Text(nm) == name && t.Node(nm).Field != "type" {
				return true
			}
		}
		return false
	}
}

func (Python) Identifiers(t *syntax.Tree, fn *Function) map[string]bool {
	out := make(map[string]bool)
	keep := pyKeep(t)
	t.Walk(fn.Node, func(id syntax.NodeID) bool {
		if t.Kind(id) == "identifier" && id != fn.NameNode && keep(id) {
			out[t.Text(id)] = true
		}
		return true
	})
	return out
}

func (Python) RenameFunction(t *syntax.Tree, fn *Function, newName string) []Edit {
	return []Edit{replaceNode(t, fn.NameNode, newName)}
}

func (Python) RenameCall(t *syntax.Tree, c *Call, newName string) Edit {
	return replaceNode(t, c.NameNode, newName)
}

// RenameImports renames "from module import oldName" clauses. Aliased
// imports keep their alias.
func (Python) RenameImports(t *syntax.Tree, module, oldName, newName string) []Edit {
	var edits []Edit
	for _, stmt := range t.FindAll(t.Root(), "import_from_statement") {
		if !pyModuleMatches(t.Text(t.Field(stmt, "module_name")), module) {
			continue
		}
		for _, nm := range t.Fields(stmt, "name") {
			target := nm
			if t.Kind(nm) == "aliased_import" {
				target = t.Field(nm, "name")
			}
			if t.Text(target) == oldName {
				edits = append(edits, replaceNode(t, target, newName))
			}
		}
	}
	return edits
}

// pyModuleMatches compares an imported module name to a module path given
// with dots or slashes. Relative imports match on their last element.
func pyModuleMatches(imported, module string) bool {
	module = strings.ReplaceAll(strings.TrimSuffix(module, ".py"), "/", ".")
	imported = strings.TrimLeft(imported, ".")
	if imported == module || strings.HasSuffix(module, "."+imported) {
		return true
	}
	return imported != "" && strings.HasSuffix(imported, "."+module)
}

func (Python) Visibility(name string) string {
	if strings.HasPrefix(name, "_") && !isDunder(name) {
		return graph.Private
	}
	return graph.Public
}

func isDunder(name string) bool {
	return len(name) > 4 && strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__")
}

func (p Python) VisibilityName(name, visibility string) (string, error) {
	if isDunder(name) {
		return "", notTransformable("%s is a special method name", name)
	}
	if p.Visibility(name) == visibility {
		return "", notTransformable("%s is already %s", name, visibility)
	}
	if visibility == graph.Private {
		return "_" + name, nil
	}
	public := strings.TrimLeft(name, "_")
	if public == "" {
		return "", notTransformable("%s has no public form", name)
	}
	return public, nil
}

func (p Python) bodyUses(t *syntax.Tree, fn *Function, name string) []syntax.NodeID {
	return identifierUses(t, fn.Body, name, pyShadows(t, name), pyKeep(t))
}

func (p Python) RenameParameter(t *syntax.Tree, fn *Function, oldName, newName string) ([]Edit, error) {
	idx := fn.ParamIndex(oldName)
	if idx < 0 || fn.Params[idx].NameNode == syntax.NoNode {
		return nil, notTransformable("%s has no parameter %s", fn.Name, oldName)
	}
	if fn.ParamIndex(newName) >= 0 {
		return nil, notTransformable("%s already has a parameter %s", fn.Name, newName)
	}
	edits := []Edit{replaceNode(t, fn.Params[idx].NameNode, newName)}
	for _, id := range p.bodyUses(t, fn, oldName) {
		edits = append(edits, replaceNode(t, id, newName))
	}
	return edits, nil
}

func (Python) RenameKeyword(t *syntax.Tree, c *Call, oldName, newName string) []Edit {
	var edits []Edit
	for _, a := range c.Args {
		if a.Keyword == oldName {
			edits = append(edits, replaceNode(t, t.Field(a.Node, "name"), newName))
		}
	}
	return edits
}

func pyParamText(name, typ, def string) string {
	switch {
	case typ != "" && def != "":
		return name + ": " + typ + " = " + def
	case typ != "":
		return name + ": " + typ
	case def != "":
		return name + "=" + def
	}
	return name
}

func (p Python) ChangeSignature(t *syntax.Tree, fn *Function, params []operation.Parameter) ([]Edit, error) {
	for _, prm := range fn.Params {
		if prm.Variadic {
			return nil, notTransformable("%s takes variadic or keyword-only parameters", fn.Name)
		}
	}

	kept := make(map[int]bool)
	parts := make([]string, len(params))
	var edits []Edit
	seenDefault := false
	for i, prm := range params {
		typ, def := prm.Type, ""
		if prm.From != nil {
			if *prm.From >= len(fn.Params) {
				return nil, notTransformable("%s has no parameter at position %d", fn.Name, *prm.From)
			}
			src := fn.Params[*prm.From]
			kept[*prm.From] = true
			if typ == "" {
				typ = src.Type
			}
			def = src.Default
			if prm.Name != src.Name {
				for _, id := range p.bodyUses(t, fn, src.Name) {
					edits = append(edits, replaceNode(t, id, prm.Name))
				}
			}
		}
		if def != "" {
			seenDefault = true
		} else if seenDefault {
			return nil, notTransformable("parameter %s without a default follows one with a default", prm.Name)
		}
		parts[i] = pyParamText(prm.Name, typ, def)
	}

	for i, prm := range fn.Params {
		if !kept[i] && len(p.bodyUses(t, fn, prm.Name)) > 0 {
			return nil, notTransformable("removed parameter %s is still used in %s", prm.Name, fn.Name)
		}
	}

	edits = append(edits, replaceNode(t, fn.ParamList, "("+strings.Join(parts, ", ")+")"))
	return edits, nil
}

// bind maps each old parameter to the argument that supplies it, or -1.
func pyBind(c *Call, oldParams []Param) ([]int, error) {
	if c.Opaque || c.HasSpread() {
		return nil, notTransformable("call at line %d unpacks its arguments", c.Line)
	}
	bound := make([]int, len(oldParams))
	for i := range bound {
		bound[i] = -1
	}
	pos := 0
	for i, a := range c.Args {
		if a.Keyword == "" {
			if pos >= len(oldParams) {
				return nil, notTransformable("call at line %d passes too many arguments", c.Line)
			}
			bound[pos] = i
			pos++
			continue
		}
		idx := -1
		for j, p := range oldParams {
			if p.Name == a.Keyword {
				idx = j
			}
		}
		if idx < 0 || bound[idx] >= 0 {
			return nil, notTransformable("call at line %d passes unexpected keyword %s", c.Line, a.Keyword)
		}
		bound[idx] = i
	}
	return bound, nil
}

func (Python) RewriteArguments(t *syntax.Tree, c *Call, oldParams []Param, params []operation.Parameter) (Edit, error) {
	bound, err := pyBind(c, oldParams)
	if err != nil {
		return Edit{}, err
	}

	var args []string
	keyword := false
	for _, prm := range params {
		text := ""
		switch {
		case prm.From != nil && bound[*prm.From] >= 0:
			text = c.Args[bound[*prm.From]].Text
		case prm.From != nil && oldParams[*prm.From].Default != "":
			keyword = true
			continue
		case prm.From != nil:
			return Edit{}, notTransformable("call at line %d does not pass %s", c.Line, prm.Name)
		case prm.Default != "":
			text = prm.Default
		default:
			return Edit{}, notTransformable("new parameter %s has no default for call sites", prm.Name)
		}
		if keyword {
			text = prm.Name + "=" + text
		}
		args = append(args, text)
	}
	return replaceNode(t, c.ArgList, "("+strings.Join(args, ", ")+")"), nil
}

func pyIsDocstring(t *syntax.Tree, stmt syntax.NodeID) bool {
	if t.Kind(stmt) != "expression_statement" {
		return false
	}
	kids := t.NamedChildren(stmt)
	return len(kids) == 1 && t.Kind(kids[0]) == "string"
}

func (p Python) Inlinable(t *syntax.Tree, fn *Function) (*Inlinable, error) {
	if fn.Decorated {
		return nil, notTransformable("%s is decorated", fn.Name)
	}
	if fn.Async {
		return nil, notTransformable("%s is async", fn.Name)
	}
	for _, prm := range fn.Params {
		if prm.Variadic {
			return nil, notTransformable("%s takes variadic or keyword-only parameters", fn.Name)
		}
	}
	stmts := statements(t, fn.Body)
	if len(stmts) == 2 && pyIsDocstring(t, stmts[0]) {
		stmts = stmts[1:]
	}
	if len(stmts) != 1 || t.Kind(stmts[0]) != "return_statement" {
		return nil, notTransformable("%s must consist of a single return statement", fn.Name)
	}
	exprs := t.NamedChildren(stmts[0])
	if len(exprs) != 1 || t.Kind(exprs[0]) == "expression_list" {
		return nil, notTransformable("%s must return exactly one expression", fn.Name)
	}
	expr := exprs[0]

	for _, c := range p.Calls(t, fn.Name, 0) {
		if t.Contains(expr, c.Node) && c.Qualifier == "" {
			return nil, notTransformable("%s is recursive", fn.Name)
		}
	}

	in := &Inlinable{Function: fn, Expr: expr, Uses: make(map[string]int), refs: make(map[string][]syntax.NodeID)}
	params := make(map[string]bool)
	for _, prm := range fn.Params {
		params[prm.Name] = true
		refs := identifierUses(t, expr, prm.Name, pyShadows(t, prm.Name), pyKeep(t))
		in.refs[prm.Name] = refs
		in.Uses[prm.Name] = len(refs)
	}

	free := make(map[string]bool)
	keep := pyKeep(t)
	t.Walk(expr, func(id syntax.NodeID) bool {
		if t.Kind(id) == "identifier" && keep(id) {
			name := t.Text(id)
			if !params[name] && !pyBuiltins[name] {
				free[name] = true
			}
		}
		return true
	})
	in.Free = sortedKeys(free)
	return in, nil
}

func pySimple(kind string) bool {
	switch kind {
	case "identifier", "integer", "float", "string", "true", "false", "none":
		return true
	}
	return false
}

func pyPrimary(kind string) bool {
	switch kind {
	case "call", "attribute", "subscript", "parenthesized_expression", "list", "dictionary",
		"tuple", "set", "list_comprehension", "dictionary_comprehension", "set_comprehension":
		return true
	}
	return pySimple(kind)
}

func (Python) InlineCall(t *syntax.Tree, c *Call, defTree *syntax.Tree, in *Inlinable, foreign bool) (Edit, error) {
	fn := in.Function
	bound, err := pyBind(c, fn.Params)
	if err != nil {
		return Edit{}, err
	}
	if (foreign || c.Qualifier != "") && len(in.Free) > 0 {
		return Edit{}, notTransformable("call at line %d is outside the module and %s refers to %s",
			c.Line, fn.Name, strings.Join(in.Free, ", "))
	}

	repl := make(map[syntax.NodeID]string)
	for i, prm := range fn.Params {
		var node syntax.NodeID
		var text string
		tree := t
		switch {
		case bound[i] >= 0:
			a := c.Args[bound[i]]
			node, text = a.Node, a.Text
			if a.Keyword != "" {
				node = t.Field(a.Node, "value")
			}
		case prm.Default != "":
			tree, node, text = defTree, defTree.Field(prm.Node, "value"), prm.Default
		default:
			return Edit{}, notTransformable("call at line %d does not pass %s", c.Line, prm.Name)
		}
		simple := pySimple(tree.Kind(node))
		text = parenthesize(text, pyPrimary(tree.Kind(node)))
		if uses := in.Uses[prm.Name]; uses != 1 && !simple {
			return Edit{}, notTransformable("call at line %d: argument for %s would be evaluated %d times",
				c.Line, prm.Name, uses)
		}
		for _, id := range in.refs[prm.Name] {
			repl[id] = text
		}
	}

	text := substitute(defTree, in.Expr, repl)
	text = parenthesize(text, pyPrimary(defTree.Kind(in.Expr)))
	return replaceNode(t, c.Node, text), nil
}

func (Python) DeleteFunction(t *syntax.Tree, fn *Function) Edit {
	start := leadingCommentStart(t, t.Root(), fn.StartLine)
	from, to := deletionRange(t, start, fn.EndLine)
	return Edit{Start: from, End: to}
}

// =============================================================================
// Extract
// =============================================================================

func (p Python) ExtractFunction(t *syntax.Tree, fn *Function, start, end int, newName string) ([]Edit, error) {
	if start <= t.Node(fn.Node).StartLine {
		return nil, notTransformable("lines %d-%d are not inside the body of %s", start, end, fn.Name)
	}
	selected, before, after, err := splitBody(t, fn, start, end)
	if err != nil {
		return nil, err
	}
	for _, s := range selected {
		if err := pyCheckExtractable(t, s); err != nil {
			return nil, err
		}
	}

	declared := make(map[string]bool)
	for _, prm := range fn.Params {
		declared[prm.Name] = true
	}
	for _, s := range before {
		pyBindings(t, s, declared)
	}

	keep := pyKeep(t)
	assigned := make(map[string]bool)
	var order []string
	seen := make(map[string]bool)
	for _, s := range selected {
		pyBindings(t, s, assigned)
		t.Walk(s, func(id syntax.NodeID) bool {
			if t.Kind(id) == "identifier" && keep(id) {
				name := t.Text(id)
				if declared[name] && !seen[name] {
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
			if t.Kind(id) == "identifier" && keep(id) {
				usedAfter[t.Text(id)] = true
			}
			return true
		})
	}
	for _, name := range sortedKeys(assigned) {
		if usedAfter[name] {
			return nil, notTransformable("lines %d-%d assign %s, which is used after them", start, end, name)
		}
	}

	first, last := t.Node(selected[0]).StartLine, t.Node(selected[len(selected)-1]).EndLine
	indent := indentOf(lineText(t, first))
	call := indent + newName + "(" + strings.Join(order, ", ") + ")"
	body := reindent(linesOf(t, first, last), pyIndent)
	fnText := "\n\n\ndef " + newName + "(" + strings.Join(order, ", ") + "):\n" + strings.Join(body, "\n")
	at := lineContentEnd(t, fn.EndLine)

	return []Edit{
		{Start: t.LineStartByte(first), End: lineContentEnd(t, last), Text: call},
		{Start: at, End: at, Text: fnText},
	}, nil
}

func pyCheckExtractable(t *syntax.Tree, stmt syntax.NodeID) error {
	var err error
	t.Walk(stmt, func(id syntax.NodeID) bool {
		if err != nil {
			return false
		}
		n := t.Node(id)
		switch n.Kind {
		case "function_definition", "lambda", "class_definition":
			return false
		case "return_statement":
			err = notTransformable("line %d returns from the enclosing function", n.StartLine)
		case "yield":
			err = notTransformable("line %d yields", n.StartLine)
		case "await":
			err = notTransformable("line %d awaits", n.StartLine)
		case "global_statement", "nonlocal_statement":
			err = notTransformable("line %d changes name scoping", n.StartLine)
		case "break_statement", "continue_statement":
			loop := t.Ancestor(id, "for_statement", "while_statement")
			if loop == syntax.NoNode || !t.Contains(stmt, loop) {
				err = notTransformable("line %d leaves a loop outside the range", n.StartLine)
			}
		}
		return true
	})
	return err
}

// pyBindings records names bound by stmt outside nested scopes.
func pyBindings(t *syntax.Tree, stmt syntax.NodeID, into map[string]bool) {
	t.Walk(stmt, func(id syntax.NodeID) bool {
		switch t.Kind(id) {
		case "lambda", "class_definition":
			return false
		case "function_definition":
			into[t.Text(t.Field(id, "name"))] = true
			return false
		case "assignment", "augmented_assignment", "for_statement", "for_in_clause":
			pyTargets(t, t.Field(id, "left"), into)
		case "named_expression":
			into[t.Text(t.Field(id, "name"))] = true
		case "as_pattern":
			if alias := t.Field(id, "alias"); alias != syntax.NoNode {
				pyTargets(t, alias, into)
			}
		case "aliased_import":
			into[t.Text(t.Field(id, "alias"))] = true
		case "import_statement", "import_from_statement":
			for _, nm := range t.Fields(id, "name") {
				if t.Kind(nm) == "dotted_name" {
					parts := t.NamedChildren(nm)
					if len(parts) > 0 {
						into[t.Text(parts[0])] = true
					}
				}
			}
		}
		return true
	})
}

func pyTargets(t *syntax.Tree, id syntax.NodeID, into map[string]bool) {
	switch t.Kind(id) {
	case "identifier":
		into[t.Text(id)] = true
	case "pattern_list", "tuple_pattern", "list_pattern", "expression_list", "tuple", "list",
		"list_splat_pattern", "as_pattern_target":
		for _, k := range t.NamedChildren(id) {
			pyTargets(t, k, into)
		}
	}
}

// =============================================================================
// Attributes
// =============================================================================

func (Python) Attributes(t *syntax.Tree) []*Attribute {
	var out []*Attribute
	for _, stmt := range t.NamedChildren(t.Root()) {
		if t.Kind(stmt) != "expression_statement" {
			continue
		}
		kids := t.NamedChildren(stmt)
		if len(kids) != 1 || t.Kind(kids[0]) != "assignment" {
			continue
		}
		as := kids[0]
		left, right := t.Field(as, "left"), t.Field(as, "right")
		n := t.Node(stmt)
		if t.Kind(left) != "identifier" || !isDunder(t.Text(left)) || right == syntax.NoNode {
			continue
		}
		out = append(out, &Attribute{
			Name:      t.Text(left),
			Value:     t.Text(right),
			Line:      n.StartLine,
			EndLine:   n.EndLine,
			Node:      stmt,
			ValueNode: right,
			Decl:      stmt,
		})
	}
	return out
}

func (p Python) ModifyAttributes(t *syntax.Tree, changes []operation.AttributeChange) ([]Edit, error) {
	attrs := make(map[string]*Attribute)
	for _, a := range p.Attributes(t) {
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
				return nil, notTransformable("attribute %s already exists", c.Name)
			}
			if !isDunder(c.Name) {
				return nil, notTransformable("attribute %s must be a dunder name", c.Name)
			}
			adds = append(adds, c.Name+" = "+c.Value)
		case operation.AttributeRemove:
			if !exists {
				return nil, notTransformable("attribute %s does not exist", c.Name)
			}
			edits = append(edits, Edit{Start: t.LineStartByte(a.Line), End: t.LineEndByte(a.EndLine)})
		case operation.AttributeUpdate:
			if !exists {
				return nil, notTransformable("attribute %s does not exist", c.Name)
			}
			edits = append(edits, replaceNode(t, a.ValueNode, c.Value))
		}
	}

	if len(adds) > 0 {
		text := strings.Join(adds, "\n") + "\n"
		line := p.attributeAnchor(t, attrs)
		at := 0
		if line > 0 {
			at = t.LineEndByte(line)
			if at == len(t.Source) && at > 0 && t.Source[at-1] != '\n' {
				text = "\n" + text
			}
		}
		edits = append(edits, Edit{Start: at, End: at, Text: text})
	}
	return edits, nil
}

// attributeAnchor returns the line after which new attributes go: the last
// existing one, else the end of the leading docstring and imports, else 0
// for the top of the file.
func (Python) attributeAnchor(t *syntax.Tree, attrs map[string]*Attribute) int {
	line := 0
	for _, a := range attrs {
		line = max(line, a.EndLine)
	}
	if line > 0 {
		return line
	}
	for i, stmt := range t.NamedChildren(t.Root()) {
		switch t.Kind(stmt) {
		case "import_statement", "import_from_statement", "future_import_statement", "comment":
		case "expression_statement":
			if i != 0 || !pyIsDocstring(t, stmt) {
				return line
			}
		default:
			return line
		}
		line = t.Node(stmt).EndLine
	}
	return line
}

// =============================================================================
// Modules
// =============================================================================

func (Python) ModuleName(*syntax.Tree) string { return "" }

func (Python) RenameModule(*syntax.Tree, string) ([]Edit, error) {
	return nil, operation.Unsupported(operation.KindRenameModule, syntax.LangPython,
		"renaming a Python module requires moving its file")
}

func (Python) RenameModuleReferences(*syntax.Tree, string, string, string) ([]Edit, error) {
	return nil, operation.Unsupported(operation.KindRenameModule, syntax.LangPython,
		"renaming a Python module requires moving its file")
}
