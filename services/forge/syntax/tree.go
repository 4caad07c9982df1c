// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package syntax parses source files with tree-sitter and copies the
// resulting tree into an arena of plain nodes indexed by NodeID.
//
// The arena owns no C memory: the tree-sitter tree is closed as soon as the
// copy is made, so a Tree can be kept, shared across goroutines for reading,
// and rewritten against without aliasing hazards.
package syntax

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
)

// MaxSourceSize bounds the content accepted by Parse.
const MaxSourceSize = 10 * 1024 * 1024

var (
	// ErrUnsupportedLanguage is returned for languages without a grammar.
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrInvalidUTF8 is returned when content is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("content is not valid UTF-8")

	// ErrTooLarge is returned when content exceeds MaxSourceSize.
	ErrTooLarge = errors.New("content too large")
)

// NodeID indexes a node in its Tree. The root is always 0.
type NodeID int32

// NoNode is the absent node.
const NoNode NodeID = -1

// Node is one syntax node.
//
// Lines and columns are 1-indexed; byte offsets are 0-indexed with End
// exclusive.
type Node struct {
	ID        NodeID
	Kind      string
	Field     string
	Named     bool
	Missing   bool
	Parent    NodeID
	Children  []NodeID
	StartByte int
	EndByte   int
	StartLine int
	StartCol  int
	EndLine   int
	EndCol    int
}

// IsError returns true for ERROR and MISSING nodes.
func (n *Node) IsError() bool {
	return n.Kind == "ERROR" || n.Missing
}

// Tree is a parsed file.
//
// # Thread Safety
//
// Immutable after Parse; safe for concurrent reads.
type Tree struct {
	Language string
	Source   []byte
	nodes    []Node
	hasError bool
}

// Parse parses content in the given language.
//
// # Inputs
//
//   - ctx: Cancels parsing of large inputs.
//   - language: A language tag known to Grammar, e.g. "go" or "python".
//   - content: Source bytes. Must be valid UTF-8.
//
// # Outputs
//
//   - *Tree: The arena. Syntax errors do not fail Parse; check HasError.
//   - error: Unsupported language, invalid input, or parser failure.
func Parse(ctx context.Context, language string, content []byte) (*Tree, error) {
	lang, ok := Grammar(language)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}
	if len(content) > MaxSourceSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(content))
	}
	if !utf8.Valid(content) {
		return nil, ErrInvalidUTF8
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	st, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", language, err)
	}
	defer st.Close()

	root := st.RootNode()
	t := &Tree{
		Language: language,
		Source:   content,
		nodes:    make([]Node, 0, root.ChildCount()*8+1),
		hasError: root.HasError(),
	}

	cursor := sitter.NewTreeCursor(root)
	defer cursor.Close()
	t.copyFrom(cursor, NoNode, "")

	return t, nil
}

// copyFrom appends the cursor's current node and its subtree.
func (t *Tree) copyFrom(cursor *sitter.TreeCursor, parent NodeID, field string) NodeID {
	sn := cursor.CurrentNode()
	id := NodeID(len(t.nodes))
	start, end := sn.StartPoint(), sn.EndPoint()
	t.nodes = append(t.nodes, Node{
		ID:        id,
		Kind:      sn.Type(),
		Field:     field,
		Named:     sn.IsNamed(),
		Missing:   sn.IsMissing(),
		Parent:    parent,
		StartByte: int(sn.StartByte()),
		EndByte:   int(sn.EndByte()),
		StartLine: int(start.Row) + 1,
		StartCol:  int(start.Column) + 1,
		EndLine:   int(end.Row) + 1,
		EndCol:    int(end.Column) + 1,
	})

	if cursor.GoToFirstChild() {
		var children []NodeID
		for {
			children = append(children, t.copyFrom(cursor, id, cursor.CurrentFieldName()))
			if !cursor.GoToNextSibling() {
				break
			}
		}
		cursor.GoToParent()
		t.nodes[id].Children = children
	}
	return id
}

// Root returns the root node id.
func (t *Tree) Root() NodeID {
	return 0
}

// Len returns the number of nodes.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// HasError reports whether the tree contains syntax errors.
func (t *Tree) HasError() bool {
	return t.hasError
}

// Node returns the node for id. The pointer is into the arena; callers must
// not modify it.
func (t *Tree) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(t.nodes) {
		return nil
	}
	return &t.nodes[id]
}

// Kind returns the node kind, or "" for NoNode.
func (t *Tree) Kind(id NodeID) string {
	if n := t.Node(id); n != nil {
		return n.Kind
	}
	return ""
}

// Text returns the source text of id.
func (t *Tree) Text(id NodeID) string {
	n := t.Node(id)
	if n == nil {
		return ""
	}
	return string(t.Source[n.StartByte:n.EndByte])
}

// Parent returns the parent of id.
func (t *Tree) Parent(id NodeID) NodeID {
	if n := t.Node(id); n != nil {
		return n.Parent
	}
	return NoNode
}

// Field returns the first child of id attached under the given field name.
func (t *Tree) Field(id NodeID, field string) NodeID {
	n := t.Node(id)
	if n == nil {
		return NoNode
	}
	for _, c := range n.Children {
		if t.nodes[c].Field == field {
			return c
		}
	}
	return NoNode
}

// Fields returns every child of id attached under the given field name.
func (t *Tree) Fields(id NodeID, field string) []NodeID {
	n := t.Node(id)
	if n == nil {
		return nil
	}
	var out []NodeID
	for _, c := range n.Children {
		if t.nodes[c].Field == field {
			out = append(out, c)
		}
	}
	return out
}

// NamedChildren returns the named children of id.
func (t *Tree) NamedChildren(id NodeID) []NodeID {
	n := t.Node(id)
	if n == nil {
		return nil
	}
	out := make([]NodeID, 0, len(n.Children))
	for _, c := range n.Children {
		if t.nodes[c].Named {
			out = append(out, c)
		}
	}
	return out
}

// Walk visits id and its descendants in pre-order. Returning false from fn
// skips the node's children.
func (t *Tree) Walk(id NodeID, fn func(id NodeID) bool) {
	n := t.Node(id)
	if n == nil {
		return
	}
	if !fn(id) {
		return
	}
	for _, c := range n.Children {
		t.Walk(c, fn)
	}
}

// FindAll returns every node under id whose kind is in kinds, in source order.
func (t *Tree) FindAll(id NodeID, kinds ...string) []NodeID {
	want := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	var out []NodeID
	t.Walk(id, func(n NodeID) bool {
		if want[t.nodes[n].Kind] {
			out = append(out, n)
		}
		return true
	})
	return out
}

// Ancestor returns the nearest ancestor of id (excluding id) whose kind is
// in kinds, or NoNode.
func (t *Tree) Ancestor(id NodeID, kinds ...string) NodeID {
	for p := t.Parent(id); p != NoNode; p = t.Parent(p) {
		for _, k := range kinds {
			if t.nodes[p].Kind == k {
				return p
			}
		}
	}
	return NoNode
}

// Contains reports whether inner lies within outer's byte range.
func (t *Tree) Contains(outer, inner NodeID) bool {
	o, i := t.Node(outer), t.Node(inner)
	if o == nil || i == nil {
		return false
	}
	return i.StartByte >= o.StartByte && i.EndByte <= o.EndByte
}

// ErrorNode is a syntax error location.
type ErrorNode struct {
	Line    int
	Column  int
	Missing bool
	Kind    string
	Text    string
}

// Errors returns every ERROR or MISSING node, outermost first.
func (t *Tree) Errors() []ErrorNode {
	if !t.hasError {
		return nil
	}
	var out []ErrorNode
	t.Walk(t.Root(), func(id NodeID) bool {
		n := &t.nodes[id]
		if !n.IsError() {
			return true
		}
		text := t.Text(id)
		if len(text) > 40 {
			text = text[:40]
		}
		out = append(out, ErrorNode{
			Line:    n.StartLine,
			Column:  n.StartCol,
			Missing: n.Missing,
			Kind:    n.Kind,
			Text:    text,
		})
		// Nested errors inside an ERROR node add noise.
		return false
	})
	return out
}

// LineStartByte returns the byte offset of the start of 1-indexed line.
func (t *Tree) LineStartByte(line int) int {
	if line <= 1 {
		return 0
	}
	seen := 1
	for i, b := range t.Source {
		if b == '\n' {
			seen++
			if seen == line {
				return i + 1
			}
		}
	}
	return len(t.Source)
}

// LineEndByte returns the byte offset just past the "\n" ending line, or
// the end of source for the last line.
func (t *Tree) LineEndByte(line int) int {
	next := t.LineStartByte(line + 1)
	return next
}
