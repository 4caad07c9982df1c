// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package editor performs atomic, validated, backed-up edits of single files.
//
// An edit reads the file and its modification time, applies line changes in
// descending order, validates the candidate, snapshots the original into the
// backup store, and replaces the file by temp-file-and-rename only if the
// file is still exactly as it was read.
package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianForge/services/forge/backup"
	"github.com/AleutianAI/AleutianForge/services/forge/change"
	"github.com/AleutianAI/AleutianForge/services/forge/project"
	"github.com/AleutianAI/AleutianForge/services/forge/validate"
)

// DefaultValidateTimeout bounds one validator run.
const DefaultValidateTimeout = 10 * time.Second

// Config configures an Editor.
type Config struct {
	// Root is the project root. Edited paths must resolve inside it.
	Root string

	// Backups stores snapshots. Required.
	Backups backup.Store

	// Registry resolves validators and formatters. Nil uses
	// validate.DefaultRegistry().
	Registry *validate.Registry

	// ValidateTimeout bounds validation. A timeout fails the edit.
	ValidateTimeout time.Duration

	// FormatTimeout bounds formatting. A timeout keeps unformatted content.
	FormatTimeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Now overrides the clock for result timestamps.
	Now func() time.Time
}

// Editor edits files of one project.
//
// # Thread Safety
//
// Safe for concurrent use. Edits to the same path through one Editor are
// serialized by a per-file mutex; edits from other processes are detected
// by the modification check at write time.
type Editor struct {
	root            string
	backups         backup.Store
	registry        *validate.Registry
	validateTimeout time.Duration
	formatTimeout   time.Duration
	logger          *slog.Logger
	now             func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates an Editor.
//
// # Outputs
//
//   - *Editor: Ready to use.
//   - error: Missing root or backup store.
func New(cfg Config) (*Editor, error) {
	root, err := project.Canonical(cfg.Root)
	if err != nil {
		return nil, err
	}
	if cfg.Backups == nil {
		return nil, errors.New("backup store is required")
	}
	if cfg.Registry == nil {
		cfg.Registry = validate.DefaultRegistry()
	}
	if cfg.ValidateTimeout <= 0 {
		cfg.ValidateTimeout = DefaultValidateTimeout
	}
	if cfg.FormatTimeout <= 0 {
		cfg.FormatTimeout = validate.DefaultFormatTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Editor{
		root:            root,
		backups:         cfg.Backups,
		registry:        cfg.Registry,
		validateTimeout: cfg.ValidateTimeout,
		formatTimeout:   cfg.FormatTimeout,
		logger:          cfg.Logger.With("component", "editor.Editor"),
		now:             cfg.Now,
		locks:           make(map[string]*sync.Mutex),
	}, nil
}

// Root returns the project root.
func (e *Editor) Root() string { return e.root }

// Backups returns the backup store.
func (e *Editor) Backups() backup.Store { return e.backups }

// Registry returns the capability registry.
func (e *Editor) Registry() *validate.Registry { return e.registry }

// Resolve maps a path to its absolute and root-relative forms.
func (e *Editor) Resolve(path string) (abs, rel string, err error) {
	abs, rel, err = project.Resolve(e.root, path)
	if err != nil {
		return "", "", change.Invalid("%v", err)
	}
	return abs, rel, nil
}

// =============================================================================
// Public Operations
// =============================================================================

// EditFile applies changes to one file.
//
// # Description
//
// Runs the full edit: read, apply in descending order, validate, back up,
// write atomically if unchanged on disk.
//
// # Inputs
//
//   - ctx: Context for validation, formatting and backup I/O.
//   - path: File path, absolute or relative to the project root.
//   - changes: Non-overlapping line changes.
//   - opts: Edit options.
//
// # Outputs
//
//   - *Result: On success.
//   - error: *change.InvalidChangeError, *ValidationError, *IOError or
//     *ConcurrentModificationError. In every error case the file is
//     unchanged.
//
// # Example
//
//	res, err := ed.EditFile(ctx, "a.txt", []change.Change{change.Replace(2, 2, "hello")},
//	    editor.Options{Validate: false, CreateBackup: true})
func (e *Editor) EditFile(ctx context.Context, path string, changes []change.Change, opts Options) (res *Result, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("edit %s: panic: %v", path, r)
			res = nil
		}
		recordEdit(ctx, "edit", err, time.Since(start))
	}()

	p, err := e.Prepare(ctx, path, changes, opts)
	if err != nil {
		return nil, err
	}
	return e.Commit(ctx, p)
}

// ValidateChanges performs a dry run of EditFile.
//
// # Description
//
// Reads, applies and validates without writing. Blocking findings are
// reported in the Report with Valid=false rather than as an error, so the
// caller can render them.
//
// # Outputs
//
//   - *Report: Always set when err is nil.
//   - error: *change.InvalidChangeError or *IOError.
func (e *Editor) ValidateChanges(ctx context.Context, path string, changes []change.Change, opts Options) (*Report, error) {
	p, err := e.prepare(ctx, path, changes, opts, "")
	if err != nil {
		return nil, err
	}
	return &Report{
		Path:                p.Path,
		Valid:               !validate.HasErrors(p.Findings),
		ChangesApplied:      p.ChangesApplied,
		LinesChanged:        p.LinesChanged,
		ValidationPerformed: p.ValidationPerformed,
		ValidatorMissing:    p.ValidatorMissing,
		Language:            p.Language,
		Findings:            p.Findings,
	}, nil
}

// Rollback restores path from a backup.
//
// # Description
//
// Restores the backup named by backupID, or the most recent backup of path
// when backupID is empty. The write is the same guarded atomic write used by
// edits; content is not validated because the goal is exact restoration.
//
// # Outputs
//
//   - *RollbackResult: On success.
//   - error: backup.ErrNoHistory when path has no backups,
//     backup.ErrNotFound, ErrBackupMismatch, *IOError or
//     *ConcurrentModificationError.
func (e *Editor) Rollback(ctx context.Context, path, backupID string) (res *RollbackResult, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rollback %s: panic: %v", path, r)
			res = nil
		}
		recordEdit(ctx, "rollback", err, time.Since(start))
	}()

	abs, rel, err := e.Resolve(path)
	if err != nil {
		return nil, err
	}

	var rec *backup.Record
	if backupID == "" {
		rec, err = e.backups.Latest(ctx, rel)
	} else {
		rec, err = e.backups.Get(ctx, backupID)
		if err == nil && rec.OriginalPath != rel {
			err = fmt.Errorf("%w: %s is for %s", ErrBackupMismatch, backupID, rec.OriginalPath)
		}
	}
	if err != nil {
		return nil, err
	}

	content, err := e.backups.Read(ctx, rec.ID)
	if err != nil {
		return nil, err
	}

	unlock := e.lock(abs)
	defer unlock()

	snap, err := readSnapshot(abs)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, ioError("stat", rel, err)
	}
	var guard *Snapshot
	mode := os.FileMode(0644)
	if err == nil {
		guard = &snap
		mode = snap.Mode
	}

	if err := writeAtomic(abs, rel, content, mode, guard); err != nil {
		return nil, err
	}

	e.logger.Info("file rolled back", "path", rel, "backup_id", rec.ID)
	return &RollbackResult{
		Path:      rel,
		BackupID:  rec.ID,
		Size:      int64(len(content)),
		Timestamp: e.now(),
	}, nil
}

// History returns backup metadata for path, newest first.
func (e *Editor) History(ctx context.Context, path string, limit int) ([]*backup.Record, error) {
	_, rel, err := e.Resolve(path)
	if err != nil {
		return nil, err
	}
	return e.backups.List(ctx, rel, limit)
}

// =============================================================================
// Two-Phase API
// =============================================================================

// Prepare performs edit steps 1 through 3 and returns the validated
// candidate.
//
// # Outputs
//
//   - *Prepared: Candidate and read-time snapshot.
//   - error: *change.InvalidChangeError, *IOError or *ValidationError.
func (e *Editor) Prepare(ctx context.Context, path string, changes []change.Change, opts Options) (*Prepared, error) {
	return e.PrepareExpected(ctx, path, changes, opts, "")
}

// PrepareExpected is Prepare for changes computed against content the
// caller read earlier. When expectedDigest is set and the file no longer
// hashes to it, the changes are stale and the call fails with
// *ConcurrentModificationError.
func (e *Editor) PrepareExpected(ctx context.Context, path string, changes []change.Change, opts Options, expectedDigest string) (*Prepared, error) {
	p, err := e.prepare(ctx, path, changes, opts, expectedDigest)
	if err != nil {
		return nil, err
	}
	if errs, _ := validate.Split(p.Findings); len(errs) > 0 {
		recordValidationFailure(ctx, p.Language)
		return nil, &ValidationError{Path: p.Path, Language: p.Language, Findings: errs}
	}
	return p, nil
}

func (e *Editor) prepare(ctx context.Context, path string, changes []change.Change, opts Options, expectedDigest string) (*Prepared, error) {
	abs, rel, err := e.Resolve(path)
	if err != nil {
		return nil, err
	}

	original, snap, err := readFile(abs)
	if err != nil {
		return nil, ioError("read", rel, err)
	}
	if expectedDigest != "" && snap.Digest != expectedDigest {
		recordConflict(ctx)
		return nil, &ConcurrentModificationError{
			Path:            rel,
			ExpectedModTime: snap.ModTime,
			ActualModTime:   snap.ModTime,
			ContentChanged:  true,
		}
	}

	doc := change.Split(string(original))
	lines, err := change.Apply(doc.Lines, changes)
	if err != nil {
		return nil, err
	}
	doc.Lines = lines
	candidate := []byte(doc.Join())

	caps := e.registry.Resolve(rel, opts.Language)
	p := &Prepared{
		Path:           rel,
		AbsPath:        abs,
		Original:       original,
		Candidate:      candidate,
		Snapshot:       snap,
		Options:        opts,
		ChangesApplied: len(changes),
		LinesChanged:   change.LinesChanged(changes),
		Language:       caps.Language,
	}

	if opts.Validate {
		if err := e.runValidation(ctx, p, caps); err != nil {
			return nil, err
		}
	}

	if opts.Format && !validate.HasErrors(p.Findings) && caps.Formatter != nil {
		fr := validate.BestEffortFormat(ctx, caps.Formatter, p.Candidate, e.formatTimeout)
		if fr.Err != nil {
			e.logger.Warn("formatter skipped", "path", rel, "language", caps.Language, "error", fr.Err)
		}
		p.Candidate = fr.Content
		p.Formatted = fr.Formatted
	}

	return p, nil
}

func (e *Editor) runValidation(ctx context.Context, p *Prepared, caps validate.Capabilities) error {
	if caps.Validator == nil {
		p.ValidatorMissing = true
		e.logger.Debug("no validator for language", "path", p.Path, "language", caps.Language)
		return nil
	}

	vctx, cancel := context.WithTimeout(ctx, e.validateTimeout)
	defer cancel()

	findings, err := caps.Validator.Validate(vctx, p.Candidate)
	if err != nil {
		// A validator that cannot run blocks the write.
		findings = append(findings, validate.Finding{
			Message:  fmt.Sprintf("validator failed: %v", err),
			Severity: validate.SeverityError,
		})
	}
	p.ValidationPerformed = true
	p.Findings = findings
	return nil
}

// Commit performs edit steps 4 through 6 for a prepared candidate.
//
// # Description
//
// Fails with *ConcurrentModificationError, before taking a backup, if the
// file no longer matches the snapshot taken by Prepare; the check is
// repeated immediately before the rename.
func (e *Editor) Commit(ctx context.Context, p *Prepared) (*Result, error) {
	unlock := e.lock(p.AbsPath)
	defer unlock()

	if err := checkSnapshot(p.AbsPath, p.Path, p.Snapshot); err != nil {
		recordConflict(ctx)
		return nil, err
	}

	var backupID string
	if p.Options.CreateBackup {
		rec, err := e.backups.Create(ctx, p.Path, p.Original)
		if err != nil {
			return nil, ioError("backup", p.Path, err)
		}
		backupID = rec.ID
	}

	if err := writeAtomic(p.AbsPath, p.Path, p.Candidate, p.Snapshot.Mode, &p.Snapshot); err != nil {
		if errors.Is(err, ErrConcurrentModification) {
			recordConflict(ctx)
		}
		// The snapshot must not become the file's latest backup for a write
		// that never happened.
		if backupID != "" {
			if derr := e.backups.Delete(context.WithoutCancel(ctx), backupID); derr != nil {
				e.logger.Warn("discarding unused backup failed", "path", p.Path, "backup_id", backupID, "error", derr)
			}
		}
		return nil, err
	}

	_, nonBlocking := validate.Split(p.Findings)
	e.logger.Info("file edited",
		"path", p.Path,
		"changes", p.ChangesApplied,
		"lines_changed", p.LinesChanged,
		"backup_id", backupID,
	)

	return &Result{
		Path:                p.Path,
		ChangesApplied:      p.ChangesApplied,
		LinesChanged:        p.LinesChanged,
		ValidationPerformed: p.ValidationPerformed,
		ValidatorMissing:    p.ValidatorMissing,
		Language:            p.Language,
		Formatted:           p.Formatted,
		Findings:            nonBlocking,
		BackupID:            backupID,
		Timestamp:           e.now(),
	}, nil
}

// Restore overwrites path with content atomically, without validation or
// modification checks. Used to undo writes this process made.
func (e *Editor) Restore(ctx context.Context, path string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	abs, rel, err := e.Resolve(path)
	if err != nil {
		return err
	}

	unlock := e.lock(abs)
	defer unlock()

	mode := os.FileMode(0644)
	if info, err := os.Stat(abs); err == nil {
		mode = info.Mode().Perm()
	}
	return writeAtomic(abs, rel, content, mode, nil)
}

// RestoreExpected is Restore guarded by content: path must still hash to
// expectedDigest, otherwise nothing is written and the call fails with
// *ConcurrentModificationError. An empty digest skips the check.
func (e *Editor) RestoreExpected(ctx context.Context, path string, content []byte, expectedDigest string) error {
	if expectedDigest == "" {
		return e.Restore(ctx, path, content)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	abs, rel, err := e.Resolve(path)
	if err != nil {
		return err
	}

	unlock := e.lock(abs)
	defer unlock()

	snap, err := readSnapshot(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			recordConflict(ctx)
			return &ConcurrentModificationError{Path: rel, ContentChanged: true}
		}
		return ioError("read", rel, err)
	}
	if snap.Digest != expectedDigest {
		recordConflict(ctx)
		return &ConcurrentModificationError{
			Path:            rel,
			ExpectedModTime: snap.ModTime,
			ActualModTime:   snap.ModTime,
			ContentChanged:  true,
		}
	}
	return writeAtomic(abs, rel, content, snap.Mode, &snap)
}

// ReadFile returns the current content of path.
func (e *Editor) ReadFile(path string) ([]byte, error) {
	abs, rel, err := e.Resolve(path)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, ioError("read", rel, err)
	}
	return content, nil
}

func (e *Editor) lock(abs string) func() {
	e.locksMu.Lock()
	mu, ok := e.locks[abs]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[abs] = mu
	}
	e.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}
