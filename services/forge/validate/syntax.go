// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validate

import (
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianForge/services/forge/syntax"
)

// maxSyntaxFindings caps findings so one broken file does not flood results.
const maxSyntaxFindings = 20

// SyntaxValidator validates content by parsing it with tree-sitter.
type SyntaxValidator struct {
	language string
}

// NewSyntaxValidator creates a validator for a syntax language tag.
func NewSyntaxValidator(language string) *SyntaxValidator {
	return &SyntaxValidator{language: language}
}

// Language implements Validator.
func (v *SyntaxValidator) Language() string {
	return v.language
}

// Validate implements Validator.
//
// # Description
//
// Every ERROR node becomes a "syntax error" finding and every MISSING node a
// "missing <kind>" finding, each with its position. Content that is not
// UTF-8 or too large to parse is reported as a single finding rather than a
// validator failure, since it cannot be valid source either way.
func (v *SyntaxValidator) Validate(ctx context.Context, content []byte) ([]Finding, error) {
	tree, err := syntax.Parse(ctx, v.language, content)
	if err != nil {
		if errors.Is(err, syntax.ErrInvalidUTF8) || errors.Is(err, syntax.ErrTooLarge) {
			return []Finding{{Message: err.Error(), Severity: SeverityError}}, nil
		}
		return nil, err
	}
	if !tree.HasError() {
		return nil, nil
	}

	var findings []Finding
	for _, e := range tree.Errors() {
		msg := fmt.Sprintf("syntax error near %q", e.Text)
		if e.Missing {
			msg = fmt.Sprintf("missing %s", e.Kind)
		}
		findings = append(findings, Finding{
			Message:  msg,
			Severity: SeverityError,
			Line:     e.Line,
			Column:   e.Column,
		})
		if len(findings) == maxSyntaxFindings {
			break
		}
	}
	if len(findings) == 0 {
		findings = append(findings, Finding{Message: "syntax error", Severity: SeverityError})
	}
	return findings, nil
}
