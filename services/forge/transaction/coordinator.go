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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianForge/services/forge/backup"
	"github.com/AleutianAI/AleutianForge/services/forge/change"
	"github.com/AleutianAI/AleutianForge/services/forge/editor"
)

// DefaultMaxParallelPrepare bounds concurrent file preparation in a commit.
const DefaultMaxParallelPrepare = 8

// CommittedFile is a file written by a successful commit.
type CommittedFile struct {
	Path     string
	BackupID string

	// Digest is the digest of the content the commit wrote.
	Digest string
}

// Commit describes a successful transaction to a Recorder.
type Commit struct {
	Transaction *Transaction
	Files       []CommittedFile
	Result      *Result
}

// Recorder is notified after a transaction commits, e.g. to append an undo
// entry. A Recorder error does not undo the commit; it is surfaced as a
// result warning.
type Recorder interface {
	RecordCommit(ctx context.Context, c *Commit) error
}

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	Editor *editor.Editor

	// Recorder is optional.
	Recorder Recorder

	// MaxParallelPrepare bounds concurrent preparation. Zero uses
	// DefaultMaxParallelPrepare.
	MaxParallelPrepare int

	// TracingEnabled enables OpenTelemetry spans.
	TracingEnabled bool

	Logger *slog.Logger
}

// Coordinator commits transactions against one project's editor.
//
// # Thread Safety
//
// Safe for concurrent use. Transactions on disjoint files do not contend;
// transactions racing on one file yield one winner and a
// ConcurrentModificationError for the other.
type Coordinator struct {
	editor      *editor.Editor
	recorder    Recorder
	maxParallel int
	tracer      *Tracer
	logger      *slog.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Editor == nil {
		return nil, errors.New("editor is required")
	}
	if cfg.MaxParallelPrepare <= 0 {
		cfg.MaxParallelPrepare = DefaultMaxParallelPrepare
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "transaction.Coordinator")

	return &Coordinator{
		editor:      cfg.Editor,
		recorder:    cfg.Recorder,
		maxParallel: cfg.MaxParallelPrepare,
		tracer:      NewTracer(logger, cfg.TracingEnabled),
		logger:      logger,
	}, nil
}

// SetRecorder replaces the commit recorder.
func (c *Coordinator) SetRecorder(r Recorder) {
	c.recorder = r
}

// Editor returns the underlying editor.
func (c *Coordinator) Editor() *editor.Editor {
	return c.editor
}

// Commit applies tx atomically.
//
// # Description
//
// Phase 1 prepares every entry concurrently (read, apply, validate). Any
// failure aborts with no file touched. Phase 2 writes files in add order.
// If a write fails or panics, every file already written is restored in
// reverse order from its backup. Entries added with AddExpected fail in
// phase 1 when the file no longer matches the content they were planned
// against. Once phase 2 starts the caller's cancellation is ignored:
// a commit either completes or is rolled back.
//
// # Inputs
//
//   - ctx: Cancels phase 1 only.
//   - tx: The transaction. Consumed even on failure.
//
// # Outputs
//
//   - *Result: Always non-nil unless tx was already committed.
//   - error: nil on success. Otherwise the first preparation error,
//     *PartialTransactionError, or the fatal *RollbackFailedError.
//
// # Example
//
//	tx := transaction.New(editor.DefaultOptions()).
//	    Add("a.go", changesA, editor.Overrides{}).
//	    Add("b.go", changesB, editor.Overrides{})
//	res, err := coord.Commit(ctx, tx)
func (c *Coordinator) Commit(ctx context.Context, tx *Transaction) (res *Result, err error) {
	if tx == nil {
		return nil, change.Invalid("nil transaction")
	}
	if !tx.consumed.CompareAndSwap(false, true) {
		return nil, ErrAlreadyCommitted
	}

	start := time.Now()
	res = &Result{ID: tx.ID}
	ctx, span := c.tracer.StartCommit(ctx, tx)
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic during commit", "tx_id", tx.ID, "panic", r)
			err = fmt.Errorf("transaction %s: panic: %v", tx.ID, r)
			res.Success = false
		}
		res.Duration = time.Since(start)
		c.tracer.EndCommit(span, res, err)
		recordCommit(ctx, tx.Operation, res, err)
	}()

	if tx.Len() == 0 {
		return res, change.Invalid("transaction has no files")
	}
	if err := c.checkDuplicates(tx); err != nil {
		res.RolledBack = true
		return res, err
	}

	prepared, prepErr := c.prepareAll(ctx, tx, res)
	if prepErr != nil {
		res.RolledBack = true
		c.logger.Info("transaction aborted before writing",
			"tx_id", tx.ID, "files", tx.Len(), "errors", len(res.Errors))
		return res, prepErr
	}

	// Writes are not cancellable.
	wctx := context.WithoutCancel(ctx)
	return c.apply(wctx, tx, prepared, res)
}

func (c *Coordinator) checkDuplicates(tx *Transaction) error {
	seen := make(map[string]int, tx.Len())
	for i, e := range tx.entries {
		_, rel, err := c.editor.Resolve(e.Path)
		if err != nil {
			return err
		}
		if prev, ok := seen[rel]; ok {
			return change.Invalid("%s appears twice in transaction (entries %d and %d)", rel, prev, i)
		}
		seen[rel] = i
	}
	return nil
}

// prepareAll runs phase 1, collecting every file's error.
func (c *Coordinator) prepareAll(ctx context.Context, tx *Transaction, res *Result) ([]*editor.Prepared, error) {
	n := tx.Len()
	prepared := make([]*editor.Prepared, n)
	errs := make([]error, n)

	var g errgroup.Group
	g.SetLimit(c.maxParallel)
	for i := range tx.entries {
		g.Go(func() error {
			e := tx.entries[i]
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			prepared[i], errs[i] = c.editor.PrepareExpected(ctx, e.Path, e.Changes, tx.effectiveOptions(i), e.ExpectedDigest)
			return nil
		})
	}
	_ = g.Wait()

	var first error
	for i, err := range errs {
		if err != nil {
			res.Errors = append(res.Errors, fileError(tx.entries[i].Path, err))
			if first == nil {
				first = err
			}
		}
	}
	return prepared, first
}

// apply runs phase 2. A panic part way is handled like a failed write:
// every file already written is restored.
func (c *Coordinator) apply(ctx context.Context, tx *Transaction, prepared []*editor.Prepared, res *Result) (out *Result, err error) {
	written := make([]*editor.Result, 0, len(prepared))
	current := ""

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		cause := fmt.Errorf("transaction %s: panic: %v", tx.ID, r)
		c.logger.Error("panic during commit, rolling back",
			"tx_id", tx.ID, "path", current, "written", len(written), "panic", r)
		res.Success = false
		res.Results = nil
		res.Errors = append(res.Errors, fileError(current, cause))
		res.FilesEdited = len(written)
		res.FilesystemTouched = len(written) > 0
		out, err = res, c.rollback(ctx, tx, prepared[:len(written)], written, current, cause, res)
	}()

	for i, p := range prepared {
		current = p.Path
		fr, err := c.editor.Commit(ctx, p)
		if err != nil {
			res.Errors = append(res.Errors, fileError(p.Path, err))
			res.FilesEdited = len(written)
			res.FilesystemTouched = len(written) > 0
			c.logger.Warn("transaction write failed, rolling back",
				"tx_id", tx.ID, "path", p.Path, "index", i, "written", len(written), "error", err)
			return res, c.rollback(ctx, tx, prepared[:len(written)], written, p.Path, err, res)
		}
		written = append(written, fr)
	}

	current = ""
	res.Success = true
	res.FilesEdited = len(written)
	res.FilesystemTouched = true
	res.Results = written

	if c.recorder != nil {
		files := make([]CommittedFile, len(written))
		for i, fr := range written {
			files[i] = CommittedFile{Path: fr.Path, BackupID: fr.BackupID, Digest: backup.Digest(prepared[i].Candidate)}
		}
		if err := c.recorder.RecordCommit(ctx, &Commit{Transaction: tx, Files: files, Result: res}); err != nil {
			c.logger.Warn("commit recorder failed", "tx_id", tx.ID, "error", err)
			res.Warnings = append(res.Warnings, fmt.Sprintf("history not recorded: %v", err))
		}
	}

	c.logger.Info("transaction committed", "tx_id", tx.ID, "operation", tx.Operation, "files", len(written))
	return res, nil
}

// rollback restores written files newest first.
func (c *Coordinator) rollback(
	ctx context.Context,
	tx *Transaction,
	prepared []*editor.Prepared,
	written []*editor.Result,
	failedPath string,
	cause error,
	res *Result,
) error {
	ctx, span := c.tracer.StartRollback(ctx, tx.ID, len(written))
	res.RolledBack = true

	var (
		restored []string
		modified []string
		errs     []error
	)
	for i := len(written) - 1; i >= 0; i-- {
		path := written[i].Path
		content, err := c.originalContent(ctx, prepared[i], written[i])
		if err == nil {
			err = c.editor.Restore(ctx, path, content)
		}
		if err != nil {
			c.logger.Error("rollback restore failed", "tx_id", tx.ID, "path", path, "error", err)
			modified = append(modified, path)
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		restored = append(restored, path)
	}
	res.Restored = restored
	recordRollback(ctx, len(modified) == 0)

	if len(modified) > 0 {
		rerr := &RollbackFailedError{
			TransactionID: tx.ID,
			Modified:      modified,
			Restored:      restored,
			Cause:         cause,
			RestoreErrors: errs,
		}
		c.tracer.EndRollback(span, rerr)
		return rerr
	}
	c.tracer.EndRollback(span, nil)

	return &PartialTransactionError{
		TransactionID: tx.ID,
		FailedPath:    failedPath,
		Restored:      restored,
		Cause:         cause,
	}
}

// originalContent returns the pre-commit content of a written file, from its
// backup when one was taken.
func (c *Coordinator) originalContent(ctx context.Context, p *editor.Prepared, fr *editor.Result) ([]byte, error) {
	if fr.BackupID == "" {
		return p.Original, nil
	}
	content, err := c.editor.Backups().Read(ctx, fr.BackupID)
	if err != nil {
		c.logger.Warn("backup unreadable, restoring from memory", "path", fr.Path, "backup_id", fr.BackupID, "error", err)
		return p.Original, nil
	}
	return content, nil
}
