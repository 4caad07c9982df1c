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
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianForge/services/forge/diff"
	"github.com/AleutianAI/AleutianForge/services/forge/editor"
	"github.com/AleutianAI/AleutianForge/services/forge/preview"
	"github.com/AleutianAI/AleutianForge/services/forge/refactor"
)

// Handlers contains the HTTP handlers for forge.
type Handlers struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc, logger: svc.logger}
}

func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	return h.logger.With("request_id", getOrCreateRequestID(c), "handler", handler)
}

func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

func (h *Handlers) bind(c *gin.Context, logger *slog.Logger, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body: " + err.Error(),
			Code:  "INVALID_REQUEST",
		})
		return false
	}
	return true
}

// fail writes the mapped error. result, when non-nil, is attached so
// callers can see what was written and restored.
func (h *Handlers) fail(c *gin.Context, logger *slog.Logger, err error, result any) {
	status, code := StatusFor(err)
	resp := ErrorResponse{Error: err.Error(), Code: code, Result: result}
	var ce *refactor.ConflictError
	if errors.As(err, &ce) {
		resp.Conflicts = ce.Report
	}
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", "error", err, "code", code)
	} else {
		logger.Warn("Request rejected", "error", err, "code", code)
	}
	c.JSON(status, resp)
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	v := c.Query(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.Join(ErrInvalidRequest, errors.New(name+" must be a non-negative integer"))
	}
	return n, nil
}

// HandleEdit handles POST /v1/forge/edit.
//
// Description:
//
//	Applies line changes to one file: validate, back up, write atomically.
//
// Response:
//
//	200 OK: editor.Result
//	400 Bad Request: Invalid change or path
//	409 Conflict: File modified concurrently
//	422 Unprocessable Entity: Validation failed
func (h *Handlers) HandleEdit(c *gin.Context) {
	logger := h.requestLogger(c, "HandleEdit")
	var req EditFileRequest
	if !h.bind(c, logger, &req) {
		return
	}

	res, err := h.svc.EditFile(c.Request.Context(), req.Root, req.Path, req.Changes, req.Options)
	if err != nil {
		h.fail(c, logger, err, nil)
		return
	}
	logger.Info("File edited", "path", res.Path, "backup_id", res.BackupID, "lines_changed", res.LinesChanged)
	c.JSON(http.StatusOK, res)
}

// HandleValidate handles POST /v1/forge/validate.
//
// Response:
//
//	200 OK: editor.Report, valid or not
func (h *Handlers) HandleValidate(c *gin.Context) {
	logger := h.requestLogger(c, "HandleValidate")
	var req EditFileRequest
	if !h.bind(c, logger, &req) {
		return
	}

	report, err := h.svc.ValidateChanges(c.Request.Context(), req.Root, req.Path, req.Changes, req.Options)
	if err != nil {
		h.fail(c, logger, err, nil)
		return
	}
	c.JSON(http.StatusOK, report)
}

// HandleRollback handles POST /v1/forge/rollback.
func (h *Handlers) HandleRollback(c *gin.Context) {
	logger := h.requestLogger(c, "HandleRollback")
	var req RollbackRequest
	if !h.bind(c, logger, &req) {
		return
	}

	res, err := h.svc.Rollback(c.Request.Context(), req.Root, req.Path, req.BackupID)
	if err != nil {
		h.fail(c, logger, err, nil)
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandleHistory handles GET /v1/forge/history?root=...&path=...&limit=N.
func (h *Handlers) HandleHistory(c *gin.Context) {
	logger := h.requestLogger(c, "HandleHistory")
	root, path := c.Query("root"), c.Query("path")
	if root == "" || path == "" {
		h.fail(c, logger, errors.Join(ErrInvalidRequest, errors.New("root and path are required")), nil)
		return
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		h.fail(c, logger, err, nil)
		return
	}

	records, err := h.svc.History(c.Request.Context(), root, path, limit)
	if err != nil {
		h.fail(c, logger, err, nil)
		return
	}
	c.JSON(http.StatusOK, HistoryResponse{Path: path, Backups: records})
}

// HandleEditFiles handles POST /v1/forge/edit_files.
//
// Response:
//
//	200 OK: transaction.Result
//	409 Conflict: Partial transaction, rolled back; body carries the result
//	500 Internal Server Error: Rollback failed; files may be modified
func (h *Handlers) HandleEditFiles(c *gin.Context) {
	logger := h.requestLogger(c, "HandleEditFiles")
	var req EditFilesRequest
	if !h.bind(c, logger, &req) {
		return
	}

	res, err := h.svc.EditFiles(c.Request.Context(), req.Root, req.Files, req.Options)
	if err != nil {
		var result any
		if res != nil {
			result = res
		}
		h.fail(c, logger, err, result)
		return
	}
	logger.Info("Transaction committed", "transaction_id", res.ID, "files", res.FilesEdited)
	c.JSON(http.StatusOK, res)
}

// HandleRefactor handles POST /v1/forge/refactor.
//
// Response:
//
//	200 OK: refactor.Result
//	404 Not Found: Target not found
//	409 Conflict: Blocked by conflicts; body carries the report
//	422 Unprocessable Entity: Operation unsupported for the language
//	503 Service Unavailable: No knowledge graph
func (h *Handlers) HandleRefactor(c *gin.Context) {
	logger := h.requestLogger(c, "HandleRefactor")
	var req RefactorRequest
	if !h.bind(c, logger, &req) {
		return
	}
	op, scope, err := req.Decode()
	if err != nil {
		h.fail(c, logger, err, nil)
		return
	}

	res, err := h.svc.Refactor(c.Request.Context(), req.Root, op, refactor.Options{Scope: scope, Overrides: req.Options})
	if err != nil {
		var result any
		if res != nil {
			result = res
		}
		h.fail(c, logger, err, result)
		return
	}
	logger.Info("Refactor applied",
		"operation", res.Operation,
		"files_modified", len(res.FilesModified),
		"call_sites_updated", res.CallSitesUpdated)
	c.JSON(http.StatusOK, res)
}

// HandleConflicts handles POST /v1/forge/conflicts.
//
// Response:
//
//	200 OK: conflict.Report, whether or not it can proceed
func (h *Handlers) HandleConflicts(c *gin.Context) {
	logger := h.requestLogger(c, "HandleConflicts")
	var req OperationRequest
	if !h.bind(c, logger, &req) {
		return
	}
	op, scope, err := req.Decode()
	if err != nil {
		h.fail(c, logger, err, nil)
		return
	}

	report, err := h.svc.CheckConflicts(c.Request.Context(), req.Root, op, scope)
	if err != nil {
		h.fail(c, logger, err, nil)
		return
	}
	c.JSON(http.StatusOK, report)
}

// HandlePreview handles POST /v1/forge/preview.
//
// Response:
//
//	200 OK: preview.Preview
//	409 Conflict: Blocked by conflicts; body carries the report
func (h *Handlers) HandlePreview(c *gin.Context) {
	logger := h.requestLogger(c, "HandlePreview")
	var req PreviewRequest
	if !h.bind(c, logger, &req) {
		return
	}
	op, scope, err := req.Decode()
	if err != nil {
		h.fail(c, logger, err, nil)
		return
	}

	pv, err := h.svc.Preview(c.Request.Context(), req.Root, op, preview.Options{
		Scope:      scope,
		Format:     diff.Format(req.Format),
		Context:    req.Context,
		Commentary: req.Commentary,
		Overrides:  req.Options,
	})
	if err != nil {
		h.fail(c, logger, err, nil)
		return
	}
	c.JSON(http.StatusOK, pv)
}

// HandleUndo handles POST /v1/forge/undo.
//
// Response:
//
//	200 OK: undo.Result
//	404 Not Found: Nothing to undo
func (h *Handlers) HandleUndo(c *gin.Context) {
	logger := h.requestLogger(c, "HandleUndo")
	var req UndoRequest
	if !h.bind(c, logger, &req) {
		return
	}

	res, err := h.svc.Undo(c.Request.Context(), req.Root)
	if err != nil {
		h.fail(c, logger, err, nil)
		return
	}
	logger.Info("Undo applied", "entry_id", res.EntryID, "operation", res.Operation)
	c.JSON(http.StatusOK, res)
}

// HandleRefactorHistory handles GET /v1/forge/refactor/history?root=...&limit=N&include_undone=true.
func (h *Handlers) HandleRefactorHistory(c *gin.Context) {
	logger := h.requestLogger(c, "HandleRefactorHistory")
	root := c.Query("root")
	if root == "" {
		h.fail(c, logger, errors.Join(ErrInvalidRequest, errors.New("root is required")), nil)
		return
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		h.fail(c, logger, err, nil)
		return
	}
	includeUndone, _ := strconv.ParseBool(c.DefaultQuery("include_undone", "false"))

	entries, err := h.svc.RefactorHistory(c.Request.Context(), root, limit, includeUndone)
	if err != nil {
		h.fail(c, logger, err, nil)
		return
	}
	c.JSON(http.StatusOK, RefactorHistoryResponse{Entries: entries})
}

// HandleDefaults handles GET /v1/forge/defaults.
func (h *Handlers) HandleDefaults(c *gin.Context) {
	getOrCreateRequestID(c)
	c.JSON(http.StatusOK, struct {
		Options editor.Options `json:"options"`
	}{h.svc.Defaults()})
}

// HandleHealth handles GET /v1/forge/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	getOrCreateRequestID(c)
	c.JSON(http.StatusOK, HealthResponse{
		Status:     "healthy",
		Version:    ServiceVersion,
		Workspaces: h.svc.WorkspaceCount(),
	})
}
