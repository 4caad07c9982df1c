// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package editor

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianForge/services/forge/validate"
)

var (
	// ErrValidation indicates candidate content failed validation. Nothing
	// was written.
	ErrValidation = errors.New("validation failed")

	// ErrConcurrentModification indicates the file changed on disk after it
	// was read. Nothing was written; the caller must re-read and retry.
	ErrConcurrentModification = errors.New("file modified concurrently")

	// ErrIO indicates the file could not be read or written.
	ErrIO = errors.New("file I/O failed")

	// ErrBackupMismatch indicates a backup id belongs to a different file.
	ErrBackupMismatch = errors.New("backup belongs to a different file")

	// ErrEditorClosed is returned after Close.
	ErrEditorClosed = errors.New("editor closed")
)

// ValidationError carries the blocking findings for one file.
type ValidationError struct {
	Path     string
	Language string
	Findings []validate.Finding
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Findings))
	for i, f := range e.Findings {
		if i == 3 {
			parts = append(parts, fmt.Sprintf("and %d more", len(e.Findings)-3))
			break
		}
		parts = append(parts, f.String())
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Path, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ConcurrentModificationError reports the state observed at write time.
type ConcurrentModificationError struct {
	Path            string
	ExpectedModTime time.Time
	ActualModTime   time.Time
	ContentChanged  bool
}

func (e *ConcurrentModificationError) Error() string {
	if e.ContentChanged && e.ExpectedModTime.Equal(e.ActualModTime) {
		return fmt.Sprintf("%s changed on disk since it was read (content differs)", e.Path)
	}
	return fmt.Sprintf("%s changed on disk since it was read (mtime %s, now %s)",
		e.Path, e.ExpectedModTime.Format(time.RFC3339Nano), e.ActualModTime.Format(time.RFC3339Nano))
}

func (e *ConcurrentModificationError) Unwrap() error { return ErrConcurrentModification }

// IOError wraps a file system failure for Path.
type IOError struct {
	Path string
	Op   string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap exposes the underlying error, e.g. fs.ErrNotExist.
func (e *IOError) Unwrap() error { return e.Err }

// Is matches ErrIO in addition to the wrapped error chain.
func (e *IOError) Is(target error) bool { return target == ErrIO }

func ioError(op, path string, err error) error {
	return &IOError{Path: path, Op: op, Err: err}
}
