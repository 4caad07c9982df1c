// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transaction

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianForge/services/forge/change"
	"github.com/AleutianAI/AleutianForge/services/forge/editor"
)

var (
	// ErrAlreadyCommitted is returned when a transaction is committed twice.
	ErrAlreadyCommitted = errors.New("transaction already committed")

	// ErrPartialTransaction indicates a write failed after other files were
	// written; those files were restored.
	ErrPartialTransaction = errors.New("transaction failed after partial apply")

	// ErrRollbackFailed is fatal: files could not be restored after a
	// failed commit and remain modified on disk.
	ErrRollbackFailed = errors.New("transaction rollback failed")
)

// PartialTransactionError reports a write failure after some files were
// written and then restored.
type PartialTransactionError struct {
	TransactionID string
	FailedPath    string
	Restored      []string
	Cause         error
}

func (e *PartialTransactionError) Error() string {
	return fmt.Sprintf("transaction %s: %s failed after %d file(s) were written (restored: %s): %v",
		e.TransactionID, e.FailedPath, len(e.Restored), strings.Join(e.Restored, ", "), e.Cause)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *PartialTransactionError) Unwrap() []error {
	return []error{ErrPartialTransaction, e.Cause}
}

// RollbackFailedError names the files left modified when rollback could not
// complete.
type RollbackFailedError struct {
	TransactionID string
	Modified      []string
	Restored      []string
	Cause         error
	RestoreErrors []error
}

func (e *RollbackFailedError) Error() string {
	return fmt.Sprintf("transaction %s: rollback failed, files left modified: %s (cause: %v; restore errors: %v)",
		e.TransactionID, strings.Join(e.Modified, ", "), e.Cause, errors.Join(e.RestoreErrors...))
}

func (e *RollbackFailedError) Unwrap() []error {
	return []error{ErrRollbackFailed, e.Cause}
}

// errorKind classifies err for FileError.Kind.
func errorKind(err error) string {
	switch {
	case errors.Is(err, editor.ErrValidation):
		return "validation"
	case errors.Is(err, editor.ErrConcurrentModification):
		return "concurrent_modification"
	case errors.Is(err, change.ErrInvalidChange):
		return "invalid_change"
	case errors.Is(err, editor.ErrIO):
		return "io"
	default:
		return "internal"
	}
}

func fileError(path string, err error) FileError {
	return FileError{Path: path, Kind: errorKind(err), Error: err.Error()}
}
