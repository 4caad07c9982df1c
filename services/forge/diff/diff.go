// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package diff computes line-level differences between file versions and
// renders them as unified, side-by-side or structured output.
//
// Differences are computed with a Myers shortest edit script over whole
// lines. A unified rendering can be applied back onto the original content
// with Apply, reproducing the new content exactly.
package diff

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/AleutianAI/AleutianForge/services/forge/change"
)

// DefaultContext is the number of unchanged lines around each hunk.
const DefaultContext = 3

// Op is the kind of a diff line.
type Op string

const (
	OpContext Op = "context"
	OpAdd     Op = "added"
	OpDelete  Op = "removed"
)

// Line is one line of a diff. OldLine and NewLine are 1-indexed; zero
// means the line is absent on that side.
type Line struct {
	Op      Op     `json:"type"`
	OldLine int    `json:"old_line,omitempty"`
	NewLine int    `json:"new_line,omitempty"`
	Content string `json:"content"`
}

// Hunk is a group of changes with surrounding context.
type Hunk struct {
	OldStart int    `json:"old_start"`
	OldLines int    `json:"old_lines"`
	NewStart int    `json:"new_start"`
	NewLines int    `json:"new_lines"`
	Lines    []Line `json:"lines"`
}

// Stats summarizes a diff.
type Stats struct {
	LinesAdded   int `json:"lines_added"`
	LinesRemoved int `json:"lines_removed"`
	FilesTouched int `json:"files_touched"`
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.LinesAdded += o.LinesAdded
	s.LinesRemoved += o.LinesRemoved
	s.FilesTouched += o.FilesTouched
}

// FileDiff is the difference between two versions of one file.
type FileDiff struct {
	Path  string `json:"path"`
	Hunks []Hunk `json:"hunks"`
	Stats Stats  `json:"stats"`

	// OldNoNewline and NewNoNewline record a missing final newline.
	OldNoNewline bool `json:"old_no_newline,omitempty"`
	NewNoNewline bool `json:"new_no_newline,omitempty"`

	lines    []Line
	oldCount int
	newCount int
}

// HasChanges reports whether the versions differ.
func (d *FileDiff) HasChanges() bool {
	return len(d.Hunks) > 0
}

// Lines returns every line of the diff, including unchanged lines outside
// hunks.
func (d *FileDiff) Lines() []Line {
	return d.lines
}

// Compute diffs oldContent against newContent.
//
// # Inputs
//
//   - path: Reported in renderings.
//   - oldContent, newContent: The two versions.
//   - context: Unchanged lines around each hunk. Negative uses
//     DefaultContext.
//
// # Outputs
//
//   - *FileDiff: Never nil. Stats.FilesTouched is 1 iff the versions differ.
func Compute(path string, oldContent, newContent []byte, context int) *FileDiff {
	if context < 0 {
		context = DefaultContext
	}
	old, nw := string(oldContent), string(newContent)
	d := &FileDiff{
		Path:         path,
		OldNoNewline: old != "" && !strings.HasSuffix(old, "\n"),
		NewNoNewline: nw != "" && !strings.HasSuffix(nw, "\n"),
	}
	if old == nw {
		d.lines, d.oldCount, d.newCount = contextLines(old)
		return d
	}

	d.lines = lineDiff(old, nw)
	for _, l := range d.lines {
		switch l.Op {
		case OpAdd:
			d.Stats.LinesAdded++
			d.newCount++
		case OpDelete:
			d.Stats.LinesRemoved++
			d.oldCount++
		default:
			d.oldCount++
			d.newCount++
		}
	}
	d.Hunks = buildHunks(d.lines, context)
	if len(d.Hunks) > 0 {
		d.Stats.FilesTouched = 1
	}
	return d
}

// lineDiff runs a Myers diff in line mode.
func lineDiff(old, nw string) []Line {
	dmp := diffmatchpatch.New()
	a, b, table := dmp.DiffLinesToChars(old, nw)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, table)

	var (
		out          []Line
		oldNo, newNo = 1, 1
	)
	for _, df := range diffs {
		for _, text := range splitLines(df.Text) {
			switch df.Type {
			case diffmatchpatch.DiffEqual:
				out = append(out, Line{Op: OpContext, OldLine: oldNo, NewLine: newNo, Content: text})
				oldNo++
				newNo++
			case diffmatchpatch.DiffDelete:
				out = append(out, Line{Op: OpDelete, OldLine: oldNo, Content: text})
				oldNo++
			case diffmatchpatch.DiffInsert:
				out = append(out, Line{Op: OpAdd, NewLine: newNo, Content: text})
				newNo++
			}
		}
	}
	return out
}

func contextLines(s string) ([]Line, int, int) {
	lines := splitLines(s)
	out := make([]Line, len(lines))
	for i, text := range lines {
		out[i] = Line{Op: OpContext, OldLine: i + 1, NewLine: i + 1, Content: text}
	}
	return out, len(lines), len(lines)
}

// splitLines splits s into lines without their terminators.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}

// buildHunks groups changed lines with up to context lines around them.
func buildHunks(lines []Line, context int) []Hunk {
	var hunks []Hunk
	i := 0
	for i < len(lines) {
		if lines[i].Op == OpContext {
			i++
			continue
		}

		start := max(i-context, 0)
		end := i
		// Extend while the gap to the next change fits in two contexts.
		for j := i; j < len(lines); j++ {
			if lines[j].Op != OpContext {
				end = j
				continue
			}
			if j-end > 2*context {
				break
			}
		}
		stop := min(end+context+1, len(lines))

		h := Hunk{Lines: append([]Line(nil), lines[start:stop]...)}
		for _, l := range h.Lines {
			if l.Op != OpAdd {
				h.OldLines++
				if h.OldStart == 0 {
					h.OldStart = l.OldLine
				}
			}
			if l.Op != OpDelete {
				h.NewLines++
				if h.NewStart == 0 {
					h.NewStart = l.NewLine
				}
			}
		}
		// Pure insertions and deletions anchor on the preceding line.
		if h.OldLines == 0 {
			h.OldStart = precedingOld(lines, start)
		}
		if h.NewLines == 0 {
			h.NewStart = precedingNew(lines, start)
		}
		hunks = append(hunks, h)
		i = stop
	}
	return hunks
}

func precedingOld(lines []Line, idx int) int {
	for k := idx - 1; k >= 0; k-- {
		if lines[k].OldLine > 0 {
			return lines[k].OldLine
		}
	}
	return 0
}

func precedingNew(lines []Line, idx int) int {
	for k := idx - 1; k >= 0; k-- {
		if lines[k].NewLine > 0 {
			return lines[k].NewLine
		}
	}
	return 0
}

// Changes converts the difference between two versions into
// non-overlapping line changes that turn oldContent into newContent when
// applied with change.Apply. The final-newline state of oldContent is kept.
func Changes(oldContent, newContent []byte) []change.Change {
	oldDoc := change.Split(string(oldContent))
	newDoc := change.Split(string(newContent))
	old := joinLines(oldDoc.Lines)
	nw := joinLines(newDoc.Lines)
	if old == nw {
		return nil
	}

	var (
		out     []change.Change
		delFrom int
		delTo   int
		adds    []string
		nextOld = 1
	)
	flush := func() {
		switch {
		case delFrom > 0 && len(adds) > 0:
			out = append(out, change.Replace(delFrom, delTo, strings.Join(adds, "\n")))
		case delFrom > 0:
			out = append(out, change.Delete(delFrom, delTo))
		case len(adds) > 0:
			out = append(out, change.Insert(nextOld, strings.Join(adds, "\n")))
		}
		delFrom, delTo, adds = 0, 0, nil
	}

	for _, l := range lineDiff(old, nw) {
		switch l.Op {
		case OpContext:
			flush()
			nextOld = l.OldLine + 1
		case OpDelete:
			if delFrom == 0 {
				delFrom = l.OldLine
			}
			delTo = l.OldLine
			nextOld = l.OldLine + 1
		case OpAdd:
			adds = append(adds, l.Content)
		}
	}
	flush()
	return out
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

// Summarize totals the stats of several file diffs.
func Summarize(diffs []*FileDiff) Stats {
	var s Stats
	for _, d := range diffs {
		s.Add(d.Stats)
	}
	return s
}

// Format selects a rendering.
type Format string

const (
	FormatUnified    Format = "unified"
	FormatSideBySide Format = "side_by_side"
	FormatStructured Format = "structured"
)

// ErrUnknownFormat is returned by ParseFormat.
var ErrUnknownFormat = errors.New("unknown diff format")

// ParseFormat validates f. Empty means unified.
func ParseFormat(f string) (Format, error) {
	switch Format(f) {
	case "":
		return FormatUnified, nil
	case FormatUnified, FormatSideBySide, FormatStructured:
		return Format(f), nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownFormat, f)
	}
}
