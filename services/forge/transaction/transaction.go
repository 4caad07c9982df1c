// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transaction composes single-file edits into an all-or-nothing
// unit across files.
//
// A Transaction is built incrementally with Add and consumed exactly once by
// Coordinator.Commit. Every file is prepared and validated before any file
// is written; writes then happen in add order, and a failure part way
// restores every file already written, newest first.
package transaction

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianForge/services/forge/change"
	"github.com/AleutianAI/AleutianForge/services/forge/editor"
)

// Entry is one file of a transaction.
type Entry struct {
	Path      string           `json:"path"`
	Changes   []change.Change  `json:"changes"`
	Overrides editor.Overrides `json:"options,omitempty"`

	// ExpectedDigest is the digest of the content Changes were computed
	// against. Empty means the changes apply to whatever is on disk.
	ExpectedDigest string `json:"-"`
}

// Transaction is an ordered group of per-file edits.
//
// # Thread Safety
//
// Building (Add, Describe) is not safe for concurrent use. Commit may be
// attempted from several goroutines; only the first succeeds in consuming
// it.
type Transaction struct {
	ID          string
	Defaults    editor.Options
	Operation   string
	Description string
	Descriptor  json.RawMessage
	CreatedAt   time.Time

	entries  []Entry
	consumed atomic.Bool
}

// New creates an empty transaction with transaction-level defaults.
func New(defaults editor.Options) *Transaction {
	return &Transaction{
		ID:        uuid.NewString(),
		Defaults:  defaults,
		Operation: "edit_files",
		CreatedAt: time.Now(),
	}
}

// Add appends a file edit. Per-file overrides win over the defaults.
func (t *Transaction) Add(path string, changes []change.Change, overrides editor.Overrides) *Transaction {
	t.entries = append(t.entries, Entry{Path: path, Changes: changes, Overrides: overrides})
	return t
}

// AddExpected appends a file edit whose changes were computed against
// content hashing to digest. The commit fails with a concurrent
// modification error if the file differs when it is prepared.
func (t *Transaction) AddExpected(path string, changes []change.Change, overrides editor.Overrides, digest string) *Transaction {
	t.entries = append(t.entries, Entry{Path: path, Changes: changes, Overrides: overrides, ExpectedDigest: digest})
	return t
}

// Describe labels the transaction for history and undo.
func (t *Transaction) Describe(operation, description string, descriptor json.RawMessage) *Transaction {
	t.Operation = operation
	t.Description = description
	t.Descriptor = descriptor
	return t
}

// Entries returns the entries in add order.
func (t *Transaction) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of entries.
func (t *Transaction) Len() int {
	return len(t.entries)
}

// Committed reports whether Commit has consumed the transaction.
func (t *Transaction) Committed() bool {
	return t.consumed.Load()
}

// effectiveOptions resolves the options for entry i.
func (t *Transaction) effectiveOptions(i int) editor.Options {
	return t.Defaults.With(t.entries[i].Overrides)
}

// FileError is a per-file failure reason.
type FileError struct {
	Path  string `json:"path"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// Result is the outcome of a commit.
//
// # Description
//
// On success FilesEdited equals the number of entries and Results holds one
// editor.Result per file in add order. On failure FilesEdited is the number
// of files written before the failure, every one of which is listed in
// Restored when RolledBack is true. RolledBack is true for every failure
// the coordinator cleaned up after, including failures before any write.
type Result struct {
	ID                string           `json:"id"`
	Success           bool             `json:"success"`
	FilesEdited       int              `json:"files_edited"`
	Results           []*editor.Result `json:"results,omitempty"`
	RolledBack        bool             `json:"rolled_back"`
	FilesystemTouched bool             `json:"filesystem_touched"`
	Restored          []string         `json:"restored,omitempty"`
	Errors            []FileError      `json:"errors,omitempty"`
	Warnings          []string         `json:"warnings,omitempty"`
	Duration          time.Duration    `json:"duration_ns"`
}

// BackupIDs returns path -> backup id for every file written with a backup.
func (r *Result) BackupIDs() map[string]string {
	out := make(map[string]string, len(r.Results))
	for _, fr := range r.Results {
		if fr != nil && fr.BackupID != "" {
			out[fr.Path] = fr.BackupID
		}
	}
	return out
}
