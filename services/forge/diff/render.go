// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diff

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
	godiff "github.com/sourcegraph/go-diff/diff"
)

const noNewlineMarker = "\\ No newline at end of file\n"

// ErrPatchMismatch is returned when a unified diff does not apply.
var ErrPatchMismatch = errors.New("patch does not apply")

// Unified renders d as a unified diff with a/ and b/ prefixed names.
// Unchanged files render as "".
func (d *FileDiff) Unified() (string, error) {
	if !d.HasChanges() {
		return "", nil
	}

	fd := &godiff.FileDiff{
		OrigName: "a/" + d.Path,
		NewName:  "b/" + d.Path,
	}
	for _, h := range d.Hunks {
		fd.Hunks = append(fd.Hunks, &godiff.Hunk{
			OrigStartLine: int32(h.OldStart),
			OrigLines:     int32(h.OldLines),
			NewStartLine:  int32(h.NewStart),
			NewLines:      int32(h.NewLines),
			Body:          d.hunkBody(h),
		})
	}

	out, err := godiff.PrintFileDiff(fd)
	if err != nil {
		return "", fmt.Errorf("render diff for %s: %w", d.Path, err)
	}
	return string(out), nil
}

// hunkBody writes prefixed lines, marking a missing final newline after the
// last line of either side.
func (d *FileDiff) hunkBody(h Hunk) []byte {
	var b bytes.Buffer
	for _, l := range h.Lines {
		switch l.Op {
		case OpAdd:
			b.WriteByte('+')
		case OpDelete:
			b.WriteByte('-')
		default:
			b.WriteByte(' ')
		}
		b.WriteString(l.Content)
		b.WriteByte('\n')

		lastOld := l.Op != OpAdd && d.OldNoNewline && l.OldLine == d.oldCount
		lastNew := l.Op != OpDelete && d.NewNoNewline && l.NewLine == d.newCount
		if lastOld || lastNew {
			b.WriteString(noNewlineMarker)
		}
	}
	return b.Bytes()
}

// SideBySide renders d in two columns of the given width. Width below 20
// uses 60.
func (d *FileDiff) SideBySide(width int) string {
	if !d.HasChanges() {
		return ""
	}
	if width < 20 {
		width = 60
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-*s | %s\n", width+6, "--- "+d.Path, "+++ "+d.Path)
	for i, h := range d.Hunks {
		if i > 0 {
			fmt.Fprintf(&b, "%s\n", strings.Repeat("~", 2*width+15))
		}
		rows := pairRows(h.Lines)
		for _, r := range rows {
			left, right := "", ""
			if r.old != nil {
				left = fmt.Sprintf("%4d %s", r.old.OldLine, clip(r.old.Content, width))
			}
			if r.new != nil {
				right = fmt.Sprintf("%4d %s", r.new.NewLine, clip(r.new.Content, width))
			}
			fmt.Fprintf(&b, "%-*s %s %s\n", width+5, left, r.marker(), right)
		}
	}
	return b.String()
}

type row struct {
	old *Line
	new *Line
}

func (r row) marker() string {
	switch {
	case r.old != nil && r.new != nil && r.old.Op == OpContext:
		return "|"
	case r.old != nil && r.new != nil:
		return "~"
	case r.old != nil:
		return "<"
	default:
		return ">"
	}
}

// pairRows aligns each run of removals with the following run of additions.
func pairRows(lines []Line) []row {
	var (
		rows []row
		dels []*Line
		adds []*Line
	)
	flush := func() {
		n := max(len(dels), len(adds))
		for i := 0; i < n; i++ {
			var r row
			if i < len(dels) {
				r.old = dels[i]
			}
			if i < len(adds) {
				r.new = adds[i]
			}
			rows = append(rows, r)
		}
		dels, adds = nil, nil
	}
	for i := range lines {
		l := &lines[i]
		switch l.Op {
		case OpDelete:
			if len(adds) > 0 {
				flush()
			}
			dels = append(dels, l)
		case OpAdd:
			adds = append(adds, l)
		default:
			flush()
			rows = append(rows, row{old: l, new: l})
		}
	}
	flush()
	return rows
}

func clip(s string, width int) string {
	s = strings.ReplaceAll(s, "\t", "    ")
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}

// Structured is the JSON-friendly rendering of one file.
type Structured struct {
	Path  string `json:"path"`
	Hunks []Hunk `json:"hunks"`
	Stats Stats  `json:"stats"`
}

// Structured returns d as plain data.
func (d *FileDiff) Structured() Structured {
	return Structured{Path: d.Path, Hunks: d.Hunks, Stats: d.Stats}
}

// Render renders d in format f. Structured output is not text; use
// FileDiff.Structured for it.
func (d *FileDiff) Render(f Format) (string, error) {
	switch f {
	case FormatUnified, "":
		return d.Unified()
	case FormatSideBySide:
		return d.SideBySide(0), nil
	default:
		return "", fmt.Errorf("format %q has no text rendering", f)
	}
}

// Apply applies a single-file unified diff to original.
//
// # Outputs
//
//   - []byte: The patched content. An empty patch returns original.
//   - error: ErrPatchMismatch wrapping the cause when the patch is
//     malformed, covers several files, or does not match original.
func Apply(original []byte, patch string) ([]byte, error) {
	if strings.TrimSpace(patch) == "" {
		return original, nil
	}

	files, _, err := gitdiff.Parse(strings.NewReader(patch))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPatchMismatch, err)
	}
	if len(files) != 1 {
		return nil, fmt.Errorf("%w: expected one file, got %d", ErrPatchMismatch, len(files))
	}

	var out bytes.Buffer
	if err := gitdiff.Apply(&out, bytes.NewReader(original), files[0]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPatchMismatch, err)
	}
	return out.Bytes(), nil
}
