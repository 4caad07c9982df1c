// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package forge

import (
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianForge/services/forge/backup"
	"github.com/AleutianAI/AleutianForge/services/forge/change"
	"github.com/AleutianAI/AleutianForge/services/forge/conflict"
	"github.com/AleutianAI/AleutianForge/services/forge/editor"
	"github.com/AleutianAI/AleutianForge/services/forge/graph"
	"github.com/AleutianAI/AleutianForge/services/forge/operation"
	"github.com/AleutianAI/AleutianForge/services/forge/preview"
	"github.com/AleutianAI/AleutianForge/services/forge/refactor"
	"github.com/AleutianAI/AleutianForge/services/forge/transaction"
	"github.com/AleutianAI/AleutianForge/services/forge/undo"
)

// OperationEditFiles names multi-file edit entries in the undo history.
const OperationEditFiles = "edit_files"

// FileEdit is one file of an EditFiles request.
type FileEdit struct {
	Path      string           `json:"path" yaml:"path"`
	Changes   []change.Change  `json:"changes" yaml:"changes"`
	Overrides editor.Overrides `json:"options,omitempty" yaml:"options,omitempty"`
}

// EditFile applies changes to one file of root.
//
// # Outputs
//
//   - *editor.Result: On success.
//   - error: change.ErrInvalidChange, editor.ErrValidation,
//     editor.ErrConcurrentModification or editor.ErrIO. The file is
//     unchanged on every error.
func (s *Service) EditFile(ctx context.Context, root, path string, changes []change.Change, ov editor.Overrides) (*editor.Result, error) {
	ws, err := s.Workspace(ctx, root)
	if err != nil {
		return nil, err
	}
	return ws.Editor.EditFile(ctx, path, changes, s.config.Defaults.With(ov))
}

// ValidateChanges reports whether changes would pass validation. Nothing
// is written.
func (s *Service) ValidateChanges(ctx context.Context, root, path string, changes []change.Change, ov editor.Overrides) (*editor.Report, error) {
	ws, err := s.Workspace(ctx, root)
	if err != nil {
		return nil, err
	}
	opts := s.config.Defaults.With(ov)
	opts.Validate = true
	return ws.Editor.ValidateChanges(ctx, path, changes, opts)
}

// Rollback restores path from backupID, or from its newest backup when
// backupID is empty.
func (s *Service) Rollback(ctx context.Context, root, path, backupID string) (*editor.RollbackResult, error) {
	ws, err := s.Workspace(ctx, root)
	if err != nil {
		return nil, err
	}
	return ws.Editor.Rollback(ctx, path, backupID)
}

// History lists the backups of path, newest first.
func (s *Service) History(ctx context.Context, root, path string, limit int) ([]*backup.Record, error) {
	ws, err := s.Workspace(ctx, root)
	if err != nil {
		return nil, err
	}
	return ws.Editor.History(ctx, path, limit)
}

// EditFiles applies edits to several files as one transaction.
//
// # Description
//
// Either every file is written or none is. Successful transactions are
// recorded in the undo history under OperationEditFiles.
//
// # Outputs
//
//   - *transaction.Result: Always non-nil once the transaction started,
//     describing what was written and restored.
//   - error: transaction.ErrPartialTransaction when files were written and
//     restored, transaction.ErrRollbackFailed when restoring failed, or
//     the first file error.
func (s *Service) EditFiles(ctx context.Context, root string, edits []FileEdit, ov editor.Overrides) (*transaction.Result, error) {
	if len(edits) == 0 {
		return nil, fmt.Errorf("%w: no files to edit", ErrInvalidRequest)
	}
	ws, err := s.Workspace(ctx, root)
	if err != nil {
		return nil, err
	}

	paths := make([]string, len(edits))
	tx := transaction.New(s.config.Defaults.With(ov))
	for i, e := range edits {
		tx.Add(e.Path, e.Changes, e.Overrides)
		paths[i] = e.Path
	}
	tx.Describe(OperationEditFiles, "Edit "+strings.Join(paths, ", "), nil)
	return ws.Coordinator.Commit(ctx, tx)
}

func (s *Service) refactorWorkspace(ctx context.Context, root string) (*Workspace, error) {
	ws, err := s.Workspace(ctx, root)
	if err != nil {
		return nil, err
	}
	if ws.Engine == nil {
		return nil, ErrGraphUnavailable
	}
	return ws, nil
}

// Refactor runs a semantic refactor on root.
func (s *Service) Refactor(ctx context.Context, root string, op operation.Operation, opts refactor.Options) (*refactor.Result, error) {
	ws, err := s.refactorWorkspace(ctx, root)
	if err != nil {
		return nil, err
	}
	return ws.Engine.Refactor(ctx, op, opts)
}

// CheckConflicts reports what would block or complicate op.
func (s *Service) CheckConflicts(ctx context.Context, root string, op operation.Operation, scope graph.Scope) (*conflict.Report, error) {
	ws, err := s.refactorWorkspace(ctx, root)
	if err != nil {
		return nil, err
	}
	if scope == "" {
		scope = graph.ScopeProject
	}
	return ws.Engine.Detector().Check(ctx, op, scope)
}

// Preview shows the diffs op would produce without writing them.
func (s *Service) Preview(ctx context.Context, root string, op operation.Operation, opts preview.Options) (*preview.Preview, error) {
	ws, err := s.refactorWorkspace(ctx, root)
	if err != nil {
		return nil, err
	}
	return ws.Previewer.Preview(ctx, op, opts)
}

// Undo reverts the newest active refactor or multi-file edit of root.
//
// # Outputs
//
//   - *undo.Result: The restored entry.
//   - error: undo.ErrNoHistory when nothing is left, undo.ErrUndoFailed
//     when a restore failed.
func (s *Service) Undo(ctx context.Context, root string) (*undo.Result, error) {
	ws, err := s.Workspace(ctx, root)
	if err != nil {
		return nil, err
	}
	return ws.Undo.Undo(ctx)
}

// RefactorHistory lists undo entries of root, newest first.
func (s *Service) RefactorHistory(ctx context.Context, root string, limit int, includeUndone bool) ([]*undo.Entry, error) {
	ws, err := s.Workspace(ctx, root)
	if err != nil {
		return nil, err
	}
	return ws.Undo.History(ctx, limit, includeUndone)
}
