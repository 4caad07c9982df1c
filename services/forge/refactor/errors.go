// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package refactor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianForge/services/forge/conflict"
)

var (
	// ErrTargetNotFound is returned when the operation's target has no
	// definition in the knowledge graph.
	ErrTargetNotFound = errors.New("refactor target not found")

	// ErrConflict is returned when conflict detection blocks a refactor.
	ErrConflict = errors.New("refactor blocked by conflicts")
)

// TargetNotFoundError names the missing target.
type TargetNotFoundError struct {
	Target string
}

func (e *TargetNotFoundError) Error() string {
	return fmt.Sprintf("%v: %s", ErrTargetNotFound, e.Target)
}

func (e *TargetNotFoundError) Unwrap() error { return ErrTargetNotFound }

// ConflictError carries the blocking report.
type ConflictError struct {
	Report *conflict.Report
}

func (e *ConflictError) Error() string {
	errs := e.Report.Errors()
	msgs := make([]string, len(errs))
	for i, c := range errs {
		msgs[i] = c.String()
	}
	return fmt.Sprintf("%v: %s", ErrConflict, strings.Join(msgs, "; "))
}

func (e *ConflictError) Unwrap() error { return ErrConflict }
