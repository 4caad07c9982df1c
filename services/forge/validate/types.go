// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validate provides the pluggable per-language capabilities used
// before content is written: syntax validation and best-effort formatting.
//
// Capabilities are registered in a Registry keyed by language tag and
// resolved once per request from the file extension (or an explicit
// language override) into a Capabilities value that callers carry.
package validate

import (
	"context"
	"fmt"
)

// Severity of a finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Finding is one validation result. Line and Column are 1-indexed and zero
// when unknown.
type Finding struct {
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Line     int      `json:"line,omitempty"`
	Column   int      `json:"column,omitempty"`
}

// String formats the finding as "line:col: severity: message".
func (f Finding) String() string {
	if f.Line == 0 {
		return fmt.Sprintf("%s: %s", f.Severity, f.Message)
	}
	return fmt.Sprintf("%d:%d: %s: %s", f.Line, f.Column, f.Severity, f.Message)
}

// Validator checks candidate content for one language.
type Validator interface {
	// Language returns the language tag this validator serves.
	Language() string

	// Validate returns findings for content. An empty slice means valid.
	// A non-nil error means the validator itself could not run.
	Validate(ctx context.Context, content []byte) ([]Finding, error)
}

// Formatter rewrites content for one language.
type Formatter interface {
	Language() string

	// Format returns formatted content. Callers keep the input on error.
	Format(ctx context.Context, content []byte) ([]byte, error)
}

// HasErrors reports whether any finding has error severity.
func HasErrors(findings []Finding) bool {
	for _, f := range findings {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Split separates blocking (error) findings from the rest.
func Split(findings []Finding) (errs, others []Finding) {
	for _, f := range findings {
		if f.Severity == SeverityError {
			errs = append(errs, f)
		} else {
			others = append(others, f)
		}
	}
	return errs, others
}
