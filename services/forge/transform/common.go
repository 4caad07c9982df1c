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
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianForge/services/forge/syntax"
)

func replaceNode(t *syntax.Tree, id syntax.NodeID, text string) Edit {
	n := t.Node(id)
	return Edit{Start: n.StartByte, End: n.EndByte, Text: text}
}

// lineContentEnd returns the offset of the "\n" ending line, or the end of
// source.
func lineContentEnd(t *syntax.Tree, line int) int {
	end := t.LineEndByte(line)
	if end > 0 && end <= len(t.Source) && t.Source[end-1] == '\n' {
		return end - 1
	}
	return end
}

// lineText returns line without its terminator.
func lineText(t *syntax.Tree, line int) string {
	return string(t.Source[t.LineStartByte(line):lineContentEnd(t, line)])
}

// indentOf returns the leading whitespace of s.
func indentOf(s string) string {
	return s[:len(s)-len(strings.TrimLeft(s, " \t"))]
}

// reindent strips the common indentation of lines and prefixes each
// non-blank line with indent.
func reindent(lines []string, indent string) []string {
	common := ""
	first := true
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		ind := indentOf(l)
		if first {
			common = ind
			first = false
			continue
		}
		for !strings.HasPrefix(ind, common) {
			common = common[:len(common)-1]
		}
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		if strings.TrimSpace(l) == "" {
			out[i] = ""
			continue
		}
		out[i] = indent + strings.TrimPrefix(l, common)
	}
	return out
}

// linesOf returns lines start..end of t.
func linesOf(t *syntax.Tree, start, end int) []string {
	out := make([]string, 0, end-start+1)
	for l := start; l <= end; l++ {
		out = append(out, lineText(t, l))
	}
	return out
}

// statements returns the named, non-comment children of a block, looking
// through a wrapping statement_list.
func statements(t *syntax.Tree, block syntax.NodeID) []syntax.NodeID {
	kids := t.NamedChildren(block)
	if len(kids) == 1 && t.Kind(kids[0]) == "statement_list" {
		kids = t.NamedChildren(kids[0])
	}
	out := kids[:0:0]
	for _, k := range kids {
		if t.Kind(k) != "comment" {
			out = append(out, k)
		}
	}
	return out
}

// leadingCommentStart returns the start line of the comment block directly
// above line, or line itself.
func leadingCommentStart(t *syntax.Tree, parent syntax.NodeID, line int) int {
	comments := make(map[int]bool)
	for _, c := range t.NamedChildren(parent) {
		n := t.Node(c)
		if n.Kind == "comment" && n.StartLine == n.EndLine {
			comments[n.StartLine] = true
		}
	}
	start := line
	for comments[start-1] {
		start--
	}
	return start
}

// deletionRange returns the byte range of lines start..end, extended over
// the blank lines that follow, or those that precede at end of file.
func deletionRange(t *syntax.Tree, start, end int) (int, int) {
	from := t.LineStartByte(start)
	to := t.LineEndByte(end)
	if to < len(t.Source) {
		for line := end + 1; to < len(t.Source); line++ {
			next := t.LineEndByte(line)
			if strings.TrimSpace(string(t.Source[to:next])) != "" {
				break
			}
			to = next
		}
		return from, to
	}
	for start > 1 && strings.TrimSpace(lineText(t, start-1)) == "" {
		start--
		from = t.LineStartByte(start)
	}
	return from, to
}

// identifierUses returns identifier nodes under root named name for which
// keep returns true, skipping subtrees for which skip returns true.
func identifierUses(t *syntax.Tree, root syntax.NodeID, name string, skip func(syntax.NodeID) bool, keep func(syntax.NodeID) bool) []syntax.NodeID {
	var out []syntax.NodeID
	t.Walk(root, func(id syntax.NodeID) bool {
		if id != root && skip != nil && skip(id) {
			return false
		}
		n := t.Node(id)
		if n.Kind == "identifier" && t.Text(id) == name && (keep == nil || keep(id)) {
			out = append(out, id)
		}
		return true
	})
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// pickFunction applies the line preference shared by FindFunction
// implementations.
func pickFunction(fns []*Function, name string, line int) (*Function, error) {
	var matches []*Function
	for _, f := range fns {
		if f.Name == name {
			matches = append(matches, f)
		}
	}
	switch {
	case len(matches) == 0:
		return nil, notFound(name)
	case len(matches) == 1:
		return matches[0], nil
	}
	if line > 0 {
		for _, f := range matches {
			if f.StartLine <= line && line <= f.EndLine {
				return f, nil
			}
		}
	}
	return nil, ambiguous(name, len(matches))
}

func notFound(name string) error {
	return &lookupError{name: name, err: ErrFunctionNotFound}
}

func ambiguous(name string, n int) error {
	return &lookupError{name: name, n: n, err: ErrAmbiguousFunction}
}

type lookupError struct {
	name string
	n    int
	err  error
}

func (e *lookupError) Error() string {
	if e.n > 1 {
		return fmt.Sprintf("%v: %s is defined %d times", e.err, e.name, e.n)
	}
	return fmt.Sprintf("%v: %s", e.err, e.name)
}

func (e *lookupError) Unwrap() error { return e.err }

// parenthesize wraps text unless simple reports it needs no grouping.
func parenthesize(text string, simple bool) string {
	if simple {
		return text
	}
	return "(" + text + ")"
}

// substitute rewrites the source of root, replacing each node in repl with
// its text.
func substitute(t *syntax.Tree, root syntax.NodeID, repl map[syntax.NodeID]string) string {
	n := t.Node(root)
	base := n.StartByte
	src := []byte(t.Text(root))
	edits := make([]Edit, 0, len(repl))
	for id, text := range repl {
		m := t.Node(id)
		edits = append(edits, Edit{Start: m.StartByte - base, End: m.EndByte - base, Text: text})
	}
	out, err := ApplyEdits(src, edits)
	if err != nil {
		return string(src)
	}
	return string(out)
}
