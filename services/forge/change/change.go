// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package change defines the line-range edit model used by every mutation
// in forge, and the rule for applying several edits to one file.
//
// Lines are 1-indexed and ranges are inclusive. Changes belonging to one
// request must not overlap; they are applied in descending line order so
// that not-yet-applied changes keep the line numbers they were written
// against.
package change

import (
	"fmt"
	"strings"
)

// Kind identifies the variant of a Change.
type Kind string

const (
	// KindReplace replaces lines [LineStart, LineEnd] with Content.
	KindReplace Kind = "replace"

	// KindInsert inserts Content before LineStart. LineStart may be one
	// past the last line to append.
	KindInsert Kind = "insert"

	// KindDelete removes lines [LineStart, LineEnd].
	KindDelete Kind = "delete"
)

// Valid returns true if k is a known change kind.
func (k Kind) Valid() bool {
	switch k {
	case KindReplace, KindInsert, KindDelete:
		return true
	}
	return false
}

// Change is one line-range edit against a file's content.
//
// Description:
//
//	Change is a tagged variant. Which fields are meaningful depends on Kind:
//	  - replace: LineStart, LineEnd, Content
//	  - insert:  LineStart, Content
//	  - delete:  LineStart, LineEnd
//
//	Content is split on "\n" into lines. An empty Content for replace or
//	insert produces a single empty line; use delete to remove lines.
//
// Thread Safety:
//
//	Change is a value type and safe to copy.
type Change struct {
	Kind      Kind   `json:"kind" yaml:"kind"`
	LineStart int    `json:"line_start" yaml:"line_start"`
	LineEnd   int    `json:"line_end,omitempty" yaml:"line_end,omitempty"`
	Content   string `json:"content,omitempty" yaml:"content,omitempty"`
}

// Replace builds a replace change for lines [start, end].
func Replace(start, end int, content string) Change {
	return Change{Kind: KindReplace, LineStart: start, LineEnd: end, Content: content}
}

// Insert builds an insert change placing content before line.
func Insert(line int, content string) Change {
	return Change{Kind: KindInsert, LineStart: line, LineEnd: line, Content: content}
}

// Delete builds a delete change for lines [start, end].
func Delete(start, end int) Change {
	return Change{Kind: KindDelete, LineStart: start, LineEnd: end}
}

// Span returns the inclusive line span the change occupies for overlap
// purposes. An insert occupies the single line it is anchored to.
func (c Change) Span() (int, int) {
	if c.Kind == KindInsert {
		return c.LineStart, c.LineStart
	}
	return c.LineStart, c.LineEnd
}

// ContentLines returns Content split into lines.
func (c Change) ContentLines() []string {
	if c.Kind == KindDelete {
		return nil
	}
	return strings.Split(c.Content, "\n")
}

// String returns a compact description, e.g. "replace(2-4)".
func (c Change) String() string {
	if c.Kind == KindInsert {
		return fmt.Sprintf("%s(%d)", c.Kind, c.LineStart)
	}
	return fmt.Sprintf("%s(%d-%d)", c.Kind, c.LineStart, c.LineEnd)
}

// Document is file content split into lines.
//
// Description:
//
//	TrailingNewline records whether the content ended in "\n" so Join can
//	reproduce the original bytes exactly when no change touched them.
type Document struct {
	Lines           []string
	TrailingNewline bool
}

// Split splits content into a Document.
//
// Example:
//
//	Split("a\nb\n") => Document{Lines: ["a", "b"], TrailingNewline: true}
//	Split("")       => Document{Lines: [], TrailingNewline: false}
func Split(content string) Document {
	if content == "" {
		return Document{Lines: []string{}}
	}
	trailing := strings.HasSuffix(content, "\n")
	if trailing {
		content = content[:len(content)-1]
	}
	return Document{Lines: strings.Split(content, "\n"), TrailingNewline: trailing}
}

// Join reassembles the document into content.
func (d Document) Join() string {
	if len(d.Lines) == 0 {
		return ""
	}
	out := strings.Join(d.Lines, "\n")
	if d.TrailingNewline {
		out += "\n"
	}
	return out
}
