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
	"fmt"
)

// ErrInvalidChange indicates a malformed, out-of-range, or overlapping change.
var ErrInvalidChange = errors.New("invalid change")

// InvalidChangeError describes why a change set was rejected.
//
// Index is the position of the offending change in the request, or -1 when
// the problem is not tied to a single change. Other is set for overlaps.
type InvalidChangeError struct {
	Index  int
	Other  int
	Change Change
	Reason string
}

// Error implements the error interface.
func (e *InvalidChangeError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("invalid change: %s", e.Reason)
	}
	return fmt.Sprintf("invalid change #%d %s: %s", e.Index, e.Change, e.Reason)
}

// Unwrap returns ErrInvalidChange so errors.Is works.
func (e *InvalidChangeError) Unwrap() error {
	return ErrInvalidChange
}

// Invalid builds an InvalidChangeError not tied to a specific change.
func Invalid(format string, args ...any) error {
	return &InvalidChangeError{Index: -1, Other: -1, Reason: fmt.Sprintf(format, args...)}
}
