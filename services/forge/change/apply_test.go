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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply_DescendingOrder(t *testing.T) {
	lines := []string{"a", "b", "c"}

	out, err := Apply(lines, []Change{Insert(1, "TOP"), Delete(3, 3)})
	require.NoError(t, err)
	assert.Equal(t, []string{"TOP", "a", "b"}, out)

	// input untouched
	assert.Equal(t, []string{"a", "b", "c"}, lines)
}

func TestApply_Descending_SortsHighestFirst(t *testing.T) {
	sorted := Descending([]Change{Insert(1, "x"), Delete(3, 3), Replace(2, 2, "y")})
	require.Len(t, sorted, 3)
	assert.Equal(t, 3, sorted[0].LineStart)
	assert.Equal(t, 2, sorted[1].LineStart)
	assert.Equal(t, 1, sorted[2].LineStart)
}

func TestApply_Kinds(t *testing.T) {
	lines := []string{"one", "two", "three"}

	tests := []struct {
		name    string
		changes []Change
		want    []string
	}{
		{"replace single", []Change{Replace(2, 2, "hello")}, []string{"one", "hello", "three"}},
		{"replace grows", []Change{Replace(1, 1, "x\ny")}, []string{"x", "y", "two", "three"}},
		{"replace shrinks", []Change{Replace(1, 3, "only")}, []string{"only"}},
		{"insert middle", []Change{Insert(2, "mid")}, []string{"one", "mid", "two", "three"}},
		{"insert append", []Change{Insert(4, "end")}, []string{"one", "two", "three", "end"}},
		{"delete range", []Change{Delete(1, 2)}, []string{"three"}},
		{"mixed", []Change{Replace(1, 1, "ONE"), Delete(3, 3)}, []string{"ONE", "two"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Apply(lines, tt.changes)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestApply_InsertIntoEmpty(t *testing.T) {
	out, err := Apply([]string{}, []Change{Insert(1, "first")})
	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, out)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		changes []Change
	}{
		{"empty", nil},
		{"unknown kind", []Change{{Kind: "move", LineStart: 1, LineEnd: 1}}},
		{"zero start", []Change{Replace(0, 1, "x")}},
		{"inverted", []Change{Delete(3, 2)}},
		{"past end", []Change{Delete(3, 4)}},
		{"insert past end", []Change{Insert(5, "x")}},
		{"overlap", []Change{Replace(1, 2, "x"), Delete(2, 3)}},
		{"insert inside range", []Change{Delete(1, 3), Insert(2, "x")}},
		{"same insert line", []Change{Insert(2, "a"), Insert(2, "b")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.changes, 3)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidChange))

			var ice *InvalidChangeError
			assert.True(t, errors.As(err, &ice))
		})
	}
}

func TestValidate_OverlapReportsBothIndices(t *testing.T) {
	err := Validate([]Change{Replace(4, 6, "x"), Delete(1, 1), Replace(6, 7, "y")}, 10)

	var ice *InvalidChangeError
	require.True(t, errors.As(err, &ice))
	assert.Equal(t, 2, ice.Index)
	assert.Equal(t, 0, ice.Other)
}

func TestApplyContent_PreservesTrailingNewline(t *testing.T) {
	out, err := ApplyContent("one\ntwo\nthree\n", []Change{Replace(2, 2, "hello")})
	require.NoError(t, err)
	assert.Equal(t, "one\nhello\nthree\n", out)

	out, err = ApplyContent("one\ntwo", []Change{Insert(3, "three")})
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree", out)
}

func TestSplitJoin_RoundTrip(t *testing.T) {
	for _, s := range []string{"", "a", "a\n", "a\nb", "a\n\nb\n", "\n"} {
		assert.Equal(t, s, Split(s).Join(), "content %q", s)
	}
}

func TestLinesChanged(t *testing.T) {
	assert.Equal(t, 1, LinesChanged([]Change{Replace(2, 2, "hello")}))
	assert.Equal(t, 3, LinesChanged([]Change{Replace(2, 2, "a\nb\nc")}))
	assert.Equal(t, 2, LinesChanged([]Change{Delete(1, 2)}))
	assert.Equal(t, 1, LinesChanged([]Change{Insert(1, "x")}))
}
