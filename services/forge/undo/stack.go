// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package undo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianForge/services/forge/backup"
	"github.com/AleutianAI/AleutianForge/services/forge/editor"
	"github.com/AleutianAI/AleutianForge/services/forge/transaction"
)

// ErrUndoFailed is returned when an entry's files could not be restored.
var ErrUndoFailed = errors.New("undo failed")

// FailedError reports the file that could not be restored. Reverted is
// true when every file restored before it was put back, leaving the
// project as it was before the undo.
type FailedError struct {
	EntryID  string
	Path     string
	Reverted bool
	Err      error
}

func (e *FailedError) Error() string {
	state := "earlier files reverted"
	if !e.Reverted {
		state = "earlier files could not be reverted"
	}
	return fmt.Sprintf("%v: entry %s: %s: %v (%s)", ErrUndoFailed, e.EntryID, e.Path, e.Err, state)
}

func (e *FailedError) Unwrap() []error { return []error{ErrUndoFailed, e.Err} }

// Result is the outcome of Undo.
type Result struct {
	EntryID       string        `json:"entry_id"`
	Operation     string        `json:"operation"`
	Description   string        `json:"description"`
	FilesRestored []string      `json:"files_restored"`
	Duration      time.Duration `json:"duration_ns"`
}

// StackConfig configures a Stack.
type StackConfig struct {
	Log    Log
	Editor *editor.Editor
	Logger *slog.Logger
	Now    func() time.Time
}

// Stack records committed operations and undoes them newest first.
//
// # Thread Safety
//
// Safe for concurrent use. Undo calls are serialized.
type Stack struct {
	log    Log
	editor *editor.Editor
	logger *slog.Logger
	now    func() time.Time
	mu     sync.Mutex
}

var _ transaction.Recorder = (*Stack)(nil)

// NewStack creates a Stack.
func NewStack(cfg StackConfig) (*Stack, error) {
	if cfg.Log == nil {
		return nil, errors.New("undo log is required")
	}
	if cfg.Editor == nil {
		return nil, errors.New("editor is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Stack{
		log:    cfg.Log,
		editor: cfg.Editor,
		logger: cfg.Logger.With("component", "undo.Stack"),
		now:    cfg.Now,
	}, nil
}

// Record pins the entry's backups and appends it.
//
// Pinning happens first so retention can never prune a backup an entry
// points at.
func (s *Stack) Record(ctx context.Context, e *Entry) error {
	if len(e.Files) == 0 {
		return errors.New("undo entry has no files")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}

	ids := make([]string, len(e.Files))
	for i, f := range e.Files {
		ids[i] = f.BackupID
	}
	if err := s.editor.Backups().Pin(ctx, ids...); err != nil {
		return fmt.Errorf("pin backups: %w", err)
	}
	if err := s.log.Append(ctx, e); err != nil {
		return fmt.Errorf("append undo entry: %w", err)
	}
	recordEntry(ctx)
	s.logger.Debug("undo entry recorded",
		slog.String("entry_id", e.ID),
		slog.String("operation", e.Operation),
		slog.Int("files", len(e.Files)))
	return nil
}

// RecordCommit implements transaction.Recorder. Files written without a
// backup cannot be restored and are left out; a commit with none is not
// recorded.
func (s *Stack) RecordCommit(ctx context.Context, c *transaction.Commit) error {
	var files []File
	for _, f := range c.Files {
		if f.BackupID == "" {
			s.logger.Warn("committed file has no backup and cannot be undone",
				slog.String("path", f.Path),
				slog.String("transaction_id", c.Transaction.ID))
			continue
		}
		files = append(files, File{Path: f.Path, BackupID: f.BackupID, Digest: f.Digest})
	}
	if len(files) == 0 {
		return nil
	}
	return s.Record(ctx, &Entry{
		ID:          c.Transaction.ID,
		Operation:   c.Transaction.Operation,
		Description: c.Transaction.Description,
		Descriptor:  c.Transaction.Descriptor,
		Files:       files,
	})
}

// Undo restores the newest entry not yet undone.
//
// # Description
//
// Every file must still hold the content the operation wrote; a file
// changed since then fails the undo with *editor.ConcurrentModificationError
// before anything is restored, and the entry stays active. Each file is
// then overwritten with its backup content. If one restore fails, the files
// already restored get their pre-undo content back and the entry stays
// active.
//
// # Outputs
//
//   - *Result: The restored entry.
//   - error: ErrNoHistory, *editor.ConcurrentModificationError, or a
//     *FailedError.
func (s *Stack) Undo(ctx context.Context) (res *Result, err error) {
	start := time.Now()
	defer func() { recordUndo(ctx, err, time.Since(start)) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.log.LatestActive(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.verify(e); err != nil {
		s.logger.Warn("undo refused, file changed since the operation",
			slog.String("entry_id", e.ID),
			slog.String("error", err.Error()))
		return nil, err
	}

	backups := s.editor.Backups()
	type saved struct {
		path    string
		content []byte
	}
	var done []saved
	fail := func(path string, cause error) error {
		reverted := true
		for i := len(done) - 1; i >= 0; i-- {
			if rerr := s.editor.Restore(context.WithoutCancel(ctx), done[i].path, done[i].content); rerr != nil {
				reverted = false
				s.logger.Error("reverting partial undo failed",
					slog.String("entry_id", e.ID),
					slog.String("path", done[i].path),
					slog.String("error", rerr.Error()))
			}
		}
		return &FailedError{EntryID: e.ID, Path: path, Reverted: reverted, Err: cause}
	}

	for _, f := range e.Files {
		content, err := backups.Read(ctx, f.BackupID)
		if err != nil {
			return nil, fail(f.Path, err)
		}
		current, err := s.editor.ReadFile(f.Path)
		if err != nil {
			return nil, fail(f.Path, err)
		}
		if err := s.editor.RestoreExpected(ctx, f.Path, content, f.Digest); err != nil {
			return nil, fail(f.Path, err)
		}
		done = append(done, saved{path: f.Path, content: current})
	}

	if err := s.log.MarkUndone(ctx, e.ID, s.now()); err != nil {
		return nil, fail(e.Files[len(e.Files)-1].Path, fmt.Errorf("mark undone: %w", err))
	}

	res = &Result{
		EntryID:     e.ID,
		Operation:   e.Operation,
		Description: e.Description,
		Duration:    time.Since(start),
	}
	for _, f := range e.Files {
		res.FilesRestored = append(res.FilesRestored, f.Path)
	}
	s.logger.Info("undo completed",
		slog.String("entry_id", e.ID),
		slog.String("operation", e.Operation),
		slog.Int("files", len(res.FilesRestored)))
	return res, nil
}

// verify checks every file of e against the digest recorded at commit.
func (s *Stack) verify(e *Entry) error {
	for _, f := range e.Files {
		if f.Digest == "" {
			continue
		}
		current, err := s.editor.ReadFile(f.Path)
		if errors.Is(err, fs.ErrNotExist) {
			return &editor.ConcurrentModificationError{Path: f.Path, ContentChanged: true}
		}
		if err != nil {
			return err
		}
		if backup.Digest(current) != f.Digest {
			return &editor.ConcurrentModificationError{Path: f.Path, ContentChanged: true}
		}
	}
	return nil
}

// History returns up to limit entries, newest first.
func (s *Stack) History(ctx context.Context, limit int, includeUndone bool) ([]*Entry, error) {
	return s.log.Entries(ctx, limit, includeUndone)
}

// Close closes the log.
func (s *Stack) Close() error {
	return s.log.Close()
}
