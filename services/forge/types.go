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
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/AleutianForge/services/forge/backup"
	"github.com/AleutianAI/AleutianForge/services/forge/change"
	"github.com/AleutianAI/AleutianForge/services/forge/conflict"
	"github.com/AleutianAI/AleutianForge/services/forge/editor"
	"github.com/AleutianAI/AleutianForge/services/forge/graph"
	"github.com/AleutianAI/AleutianForge/services/forge/operation"
	"github.com/AleutianAI/AleutianForge/services/forge/undo"
)

// =============================================================================
// File Edit Requests
// =============================================================================

// EditFileRequest is the body of POST /v1/forge/edit.
type EditFileRequest struct {
	// Root is the absolute project root.
	Root string `json:"root" binding:"required"`

	// Path is the file, absolute or relative to Root.
	Path string `json:"path" binding:"required"`

	// Changes are non-overlapping line changes.
	Changes []change.Change `json:"changes" binding:"required,min=1"`

	// Options override the service defaults.
	Options editor.Overrides `json:"options"`
}

// RollbackRequest is the body of POST /v1/forge/rollback.
type RollbackRequest struct {
	Root string `json:"root" binding:"required"`
	Path string `json:"path" binding:"required"`

	// BackupID selects a backup. Empty restores the newest one.
	BackupID string `json:"backup_id,omitempty"`
}

// HistoryResponse is the body returned by GET /v1/forge/history.
type HistoryResponse struct {
	Path    string           `json:"path"`
	Backups []*backup.Record `json:"backups"`
}

// EditFilesRequest is the body of POST /v1/forge/edit_files.
type EditFilesRequest struct {
	Root    string           `json:"root" binding:"required"`
	Files   []FileEdit       `json:"files" binding:"required,min=1,dive"`
	Options editor.Overrides `json:"options"`
}

// =============================================================================
// Refactor Requests
// =============================================================================

// OperationRequest names an operation and its parameters.
type OperationRequest struct {
	Root string `json:"root" binding:"required"`

	// Operation is the operation kind, e.g. "rename_function".
	Operation operation.Kind `json:"operation" binding:"required"`

	// Params are the kind-specific parameters.
	Params json.RawMessage `json:"params"`

	// Scope is "module" or "project". Empty means project.
	Scope string `json:"scope,omitempty"`
}

// Decode returns the validated operation and scope.
func (r *OperationRequest) Decode() (operation.Operation, graph.Scope, error) {
	op, err := operation.Decode(r.Operation, r.Params)
	if err != nil {
		return nil, "", err
	}
	scope := graph.ScopeProject
	if r.Scope != "" {
		if scope, err = graph.ParseScope(r.Scope); err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	return op, scope, nil
}

// RefactorRequest is the body of POST /v1/forge/refactor.
type RefactorRequest struct {
	OperationRequest
	Options editor.Overrides `json:"options"`
}

// PreviewRequest is the body of POST /v1/forge/preview.
type PreviewRequest struct {
	OperationRequest

	// Format is "unified", "side_by_side" or "structured".
	Format string `json:"format,omitempty"`

	// Context is the number of context lines. Zero uses the default.
	Context int `json:"context,omitempty" binding:"gte=0"`

	// Commentary asks the advisor for a summary.
	Commentary bool `json:"commentary,omitempty"`

	Options editor.Overrides `json:"options"`
}

// UndoRequest is the body of POST /v1/forge/undo.
type UndoRequest struct {
	Root string `json:"root" binding:"required"`
}

// RefactorHistoryResponse is the body returned by GET /v1/forge/refactor/history.
type RefactorHistoryResponse struct {
	Entries []*undo.Entry `json:"entries"`
}

// =============================================================================
// Common
// =============================================================================

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the stable error code.
	Code string `json:"code,omitempty"`

	// Conflicts is the blocking report of a conflicted refactor.
	Conflicts *conflict.Report `json:"conflicts,omitempty"`

	// Result is the partial outcome when the operation got far enough to
	// produce one, e.g. a rolled back transaction.
	Result any `json:"result,omitempty"`
}

// HealthResponse is the body of GET /v1/forge/health.
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Workspaces int    `json:"workspaces"`
}
