// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package change

import (
	"sort"
)

// Validate checks a change set against a file with lineCount lines.
//
// Description:
//
//	Rejects unknown kinds, non-positive starts, inverted ranges, ranges past
//	the end of the file, and any two changes whose spans intersect. Runs
//	before any I/O so a rejected request never touches the file system.
//
// Inputs:
//
//	changes - The change set in request order.
//	lineCount - Number of lines in the current content.
//
// Outputs:
//
//	error - *InvalidChangeError on the first violation, nil otherwise.
func Validate(changes []Change, lineCount int) error {
	if len(changes) == 0 {
		return Invalid("no changes")
	}

	for i, c := range changes {
		if err := validateOne(i, c, lineCount); err != nil {
			return err
		}
	}

	order := make([]int, len(changes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		sa, _ := changes[order[a]].Span()
		sb, _ := changes[order[b]].Span()
		return sa < sb
	})

	for k := 1; k < len(order); k++ {
		prev, cur := changes[order[k-1]], changes[order[k]]
		_, prevEnd := prev.Span()
		curStart, _ := cur.Span()
		if curStart <= prevEnd {
			return &InvalidChangeError{
				Index:  order[k],
				Other:  order[k-1],
				Change: cur,
				Reason: "overlaps change " + prev.String(),
			}
		}
	}
	return nil
}

func validateOne(i int, c Change, lineCount int) error {
	fail := func(reason string) error {
		return &InvalidChangeError{Index: i, Other: -1, Change: c, Reason: reason}
	}

	if !c.Kind.Valid() {
		return fail("unknown kind " + string(c.Kind))
	}
	if c.LineStart < 1 {
		return fail("line_start must be >= 1")
	}

	switch c.Kind {
	case KindInsert:
		if c.LineStart > lineCount+1 {
			return fail("insert position past end of file")
		}
	default:
		if c.LineEnd < c.LineStart {
			return fail("line_end before line_start")
		}
		if c.LineEnd > lineCount {
			return fail("range past end of file")
		}
	}
	return nil
}

// Apply validates changes and applies them to lines.
//
// Description:
//
//	Changes are applied highest LineStart first. Because spans never
//	overlap, applying a later range cannot shift the line numbers of an
//	earlier one. The input slice is not modified.
//
// Example:
//
//	Apply([]string{"a", "b", "c"}, []Change{Insert(1, "TOP"), Delete(3, 3)})
//	=> []string{"TOP", "a", "b"}
//
// Outputs:
//
//	[]string - The new lines.
//	error - *InvalidChangeError if the set is invalid.
func Apply(lines []string, changes []Change) ([]string, error) {
	if err := Validate(changes, len(lines)); err != nil {
		return nil, err
	}

	sorted := Descending(changes)
	out := make([]string, len(lines))
	copy(out, lines)

	for _, c := range sorted {
		out = applyOne(out, c)
	}
	return out, nil
}

// Descending returns a copy of changes ordered by LineStart, highest first.
func Descending(changes []Change) []Change {
	sorted := make([]Change, len(changes))
	copy(sorted, changes)
	sort.SliceStable(sorted, func(a, b int) bool {
		return sorted[a].LineStart > sorted[b].LineStart
	})
	return sorted
}

func applyOne(lines []string, c Change) []string {
	start := c.LineStart - 1
	switch c.Kind {
	case KindInsert:
		return splice(lines, start, start, c.ContentLines())
	case KindReplace:
		return splice(lines, start, c.LineEnd, c.ContentLines())
	case KindDelete:
		return splice(lines, start, c.LineEnd, nil)
	}
	return lines
}

// splice replaces lines[from:to] with repl.
func splice(lines []string, from, to int, repl []string) []string {
	out := make([]string, 0, len(lines)-(to-from)+len(repl))
	out = append(out, lines[:from]...)
	out = append(out, repl...)
	out = append(out, lines[to:]...)
	return out
}

// ApplyContent applies changes to content, preserving the trailing newline.
func ApplyContent(content string, changes []Change) (string, error) {
	doc := Split(content)
	lines, err := Apply(doc.Lines, changes)
	if err != nil {
		return "", err
	}
	doc.Lines = lines
	return doc.Join(), nil
}

// LinesChanged counts the lines touched by a change set.
//
// Replace counts the larger of removed and added lines, insert counts added
// lines and delete counts removed lines.
func LinesChanged(changes []Change) int {
	total := 0
	for _, c := range changes {
		switch c.Kind {
		case KindInsert:
			total += len(c.ContentLines())
		case KindDelete:
			total += c.LineEnd - c.LineStart + 1
		case KindReplace:
			removed := c.LineEnd - c.LineStart + 1
			added := len(c.ContentLines())
			if added > removed {
				total += added
			} else {
				total += removed
			}
		}
	}
	return total
}
