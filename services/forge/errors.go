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
	"errors"
	"net/http"

	"github.com/AleutianAI/AleutianForge/services/forge/backup"
	"github.com/AleutianAI/AleutianForge/services/forge/change"
	"github.com/AleutianAI/AleutianForge/services/forge/diff"
	"github.com/AleutianAI/AleutianForge/services/forge/editor"
	"github.com/AleutianAI/AleutianForge/services/forge/graph"
	"github.com/AleutianAI/AleutianForge/services/forge/operation"
	"github.com/AleutianAI/AleutianForge/services/forge/project"
	"github.com/AleutianAI/AleutianForge/services/forge/refactor"
	"github.com/AleutianAI/AleutianForge/services/forge/syntax"
	"github.com/AleutianAI/AleutianForge/services/forge/transaction"
	"github.com/AleutianAI/AleutianForge/services/forge/transform"
	"github.com/AleutianAI/AleutianForge/services/forge/undo"
)

// Sentinel errors for the forge service.
var (
	// ErrServiceClosed is returned after Close.
	ErrServiceClosed = errors.New("forge service closed")

	// ErrInvalidRoot indicates the project root is missing or not a directory.
	ErrInvalidRoot = errors.New("invalid project root")

	// ErrGraphUnavailable indicates refactor operations were requested for
	// a workspace without a knowledge graph.
	ErrGraphUnavailable = errors.New("knowledge graph unavailable")

	// ErrInvalidRequest indicates a malformed request body or parameter.
	ErrInvalidRequest = errors.New("invalid request")
)

// errorMapping pairs a sentinel with its HTTP status and error code. Order
// matters: the first match wins, so specific sentinels precede the ones
// they wrap.
var errorMapping = []struct {
	err    error
	status int
	code   string
}{
	{ErrInvalidRequest, http.StatusBadRequest, "INVALID_REQUEST"},
	{transaction.ErrRollbackFailed, http.StatusInternalServerError, "ROLLBACK_FAILED"},
	{transaction.ErrPartialTransaction, http.StatusConflict, "PARTIAL_TRANSACTION"},
	{undo.ErrUndoFailed, http.StatusInternalServerError, "UNDO_FAILED"},
	{ErrInvalidRoot, http.StatusBadRequest, "INVALID_ROOT"},
	{project.ErrEmptyRoot, http.StatusBadRequest, "INVALID_ROOT"},
	{project.ErrPathEscapesRoot, http.StatusBadRequest, "PATH_ESCAPES_ROOT"},
	{change.ErrInvalidChange, http.StatusBadRequest, "INVALID_CHANGE"},
	{operation.ErrInvalidOperation, http.StatusBadRequest, "INVALID_OPERATION"},
	{graph.ErrUnknownScope, http.StatusBadRequest, "INVALID_SCOPE"},
	{diff.ErrUnknownFormat, http.StatusBadRequest, "INVALID_FORMAT"},
	{operation.ErrUnsupportedOperation, http.StatusUnprocessableEntity, "UNSUPPORTED_OPERATION"},
	{transform.ErrNotTransformable, http.StatusUnprocessableEntity, "NOT_TRANSFORMABLE"},
	{syntax.ErrUnsupportedLanguage, http.StatusUnprocessableEntity, "UNSUPPORTED_LANGUAGE"},
	{editor.ErrValidation, http.StatusUnprocessableEntity, "VALIDATION_FAILED"},
	{editor.ErrBackupMismatch, http.StatusBadRequest, "BACKUP_MISMATCH"},
	{refactor.ErrTargetNotFound, http.StatusNotFound, "TARGET_NOT_FOUND"},
	{transform.ErrFunctionNotFound, http.StatusNotFound, "TARGET_NOT_FOUND"},
	{transform.ErrAmbiguousFunction, http.StatusConflict, "AMBIGUOUS_TARGET"},
	{backup.ErrNotFound, http.StatusNotFound, "BACKUP_NOT_FOUND"},
	{backup.ErrNoHistory, http.StatusNotFound, "NO_HISTORY"},
	{undo.ErrNoHistory, http.StatusNotFound, "NO_UNDO_HISTORY"},
	{refactor.ErrConflict, http.StatusConflict, "CONFLICT"},
	{editor.ErrConcurrentModification, http.StatusConflict, "CONCURRENT_MODIFICATION"},
	{ErrGraphUnavailable, http.StatusServiceUnavailable, "GRAPH_UNAVAILABLE"},
	{ErrServiceClosed, http.StatusServiceUnavailable, "SERVICE_CLOSED"},
	{editor.ErrIO, http.StatusInternalServerError, "IO_ERROR"},
	{backup.ErrCorrupt, http.StatusInternalServerError, "BACKUP_CORRUPT"},
}

// StatusFor maps err to an HTTP status and error code.
func StatusFor(err error) (int, string) {
	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}
