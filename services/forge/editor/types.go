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
	"os"
	"time"

	"github.com/AleutianAI/AleutianForge/services/forge/change"
	"github.com/AleutianAI/AleutianForge/services/forge/validate"
)

// Options controls one file edit.
type Options struct {
	// Validate runs the language validator on the candidate content.
	Validate bool `json:"validate"`

	// CreateBackup snapshots the original content before writing.
	CreateBackup bool `json:"create_backup"`

	// Format runs the language formatter, best effort, after validation.
	Format bool `json:"format"`

	// Language overrides extension-based language detection.
	Language string `json:"language,omitempty"`
}

// DefaultOptions validates and backs up, without formatting.
func DefaultOptions() Options {
	return Options{Validate: true, CreateBackup: true}
}

// Overrides are optional per-request or per-file option changes. Nil
// fields keep the base value.
type Overrides struct {
	Validate     *bool   `json:"validate,omitempty" yaml:"validate,omitempty"`
	CreateBackup *bool   `json:"create_backup,omitempty" yaml:"create_backup,omitempty"`
	Format       *bool   `json:"format,omitempty" yaml:"format,omitempty"`
	Language     *string `json:"language,omitempty" yaml:"language,omitempty"`
}

// With returns o with every non-nil override applied.
func (o Options) With(ov Overrides) Options {
	if ov.Validate != nil {
		o.Validate = *ov.Validate
	}
	if ov.CreateBackup != nil {
		o.CreateBackup = *ov.CreateBackup
	}
	if ov.Format != nil {
		o.Format = *ov.Format
	}
	if ov.Language != nil {
		o.Language = *ov.Language
	}
	return o
}

// Bool returns a pointer to b, for building Overrides.
func Bool(b bool) *bool { return &b }

// Request is one single-file edit.
type Request struct {
	Path    string          `json:"path"`
	Changes []change.Change `json:"changes"`
	Options Options         `json:"options"`
}

// Result describes a successful single-file edit.
type Result struct {
	Path                string             `json:"path"`
	ChangesApplied      int                `json:"changes_applied"`
	LinesChanged        int                `json:"lines_changed"`
	ValidationPerformed bool               `json:"validation_performed"`
	ValidatorMissing    bool               `json:"validator_missing,omitempty"`
	Language            string             `json:"language,omitempty"`
	Formatted           bool               `json:"formatted,omitempty"`
	Findings            []validate.Finding `json:"findings,omitempty"`
	BackupID            string             `json:"backup_id,omitempty"`
	Timestamp           time.Time          `json:"timestamp"`
}

// Report is the outcome of a dry-run validation.
type Report struct {
	Path                string             `json:"path"`
	Valid               bool               `json:"valid"`
	ChangesApplied      int                `json:"changes_applied"`
	LinesChanged        int                `json:"lines_changed"`
	ValidationPerformed bool               `json:"validation_performed"`
	ValidatorMissing    bool               `json:"validator_missing,omitempty"`
	Language            string             `json:"language,omitempty"`
	Findings            []validate.Finding `json:"findings,omitempty"`
}

// RollbackResult describes a restored file.
type RollbackResult struct {
	Path      string    `json:"path"`
	BackupID  string    `json:"backup_id"`
	Size      int64     `json:"size"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is the on-disk state of a file at read time.
type Snapshot struct {
	ModTime time.Time
	Size    int64
	Digest  string
	Mode    os.FileMode
}

// Prepared is a validated candidate ready to be written by Commit.
//
// # Description
//
// Produced by Prepare (edit steps 1 through 3). It records the snapshot the
// candidate was computed against so Commit can refuse to write if the file
// has changed since.
type Prepared struct {
	Path                string
	AbsPath             string
	Original            []byte
	Candidate           []byte
	Snapshot            Snapshot
	Options             Options
	ChangesApplied      int
	LinesChanged        int
	Language            string
	ValidationPerformed bool
	ValidatorMissing    bool
	Formatted           bool
	Findings            []validate.Finding
}
