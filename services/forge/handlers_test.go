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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianForge/services/forge/conflict"
	"github.com/AleutianAI/AleutianForge/services/forge/editor"
	"github.com/AleutianAI/AleutianForge/services/forge/preview"
	"github.com/AleutianAI/AleutianForge/services/forge/refactor"
	"github.com/AleutianAI/AleutianForge/services/forge/undo"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupTestRouter(svc *Service) *gin.Engine {
	router := gin.New()
	v1 := router.Group("/v1")
	RegisterRoutes(v1, NewHandlers(svc))
	return router
}

func do(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func renameParams(newName string) json.RawMessage {
	return json.RawMessage(`{"module":"Util","function":"helper","arity":1,"new_name":"` + newName + `"}`)
}

func TestHandlers_HandleHealth(t *testing.T) {
	router := setupTestRouter(newTestService(t, nil))

	w := do(t, router, http.MethodGet, "/v1/forge/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, ServiceVersion, resp.Version)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestHandlers_EchoesRequestID(t *testing.T) {
	router := setupTestRouter(newTestService(t, nil))

	for _, path := range []string{"/v1/forge/health", "/v1/forge/defaults"} {
		req, err := http.NewRequest(http.MethodGet, path, nil)
		require.NoError(t, err)
		req.Header.Set("X-Request-ID", "req-123")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code, path)
		assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"), path)
	}
}

func TestHandlers_EditHistoryRollback(t *testing.T) {
	router := setupTestRouter(newTestService(t, nil))
	root := writeProject(t, map[string]string{"notes.txt": "one\ntwo\n"})

	w := do(t, router, http.MethodPost, "/v1/forge/edit", map[string]any{
		"root":    root,
		"path":    "notes.txt",
		"changes": []map[string]any{{"kind": "replace", "line_start": 1, "line_end": 1, "content": "ONE"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[editor.Result](t, w)
	assert.Equal(t, "notes.txt", res.Path)
	assert.Equal(t, "ONE\ntwo\n", readFile(t, root, "notes.txt"))

	q := url.Values{"root": {root}, "path": {"notes.txt"}}
	w = do(t, router, http.MethodGet, "/v1/forge/history?"+q.Encode(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	hist := decode[HistoryResponse](t, w)
	require.Len(t, hist.Backups, 1)
	assert.Equal(t, res.BackupID, hist.Backups[0].ID)

	w = do(t, router, http.MethodPost, "/v1/forge/rollback", RollbackRequest{Root: root, Path: "notes.txt", BackupID: res.BackupID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "one\ntwo\n", readFile(t, root, "notes.txt"))
}

func TestHandlers_EditErrors(t *testing.T) {
	router := setupTestRouter(newTestService(t, nil))
	root := writeProject(t, map[string]string{"notes.txt": "one\n"})

	w := do(t, router, http.MethodPost, "/v1/forge/edit", map[string]any{"root": root})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", decode[ErrorResponse](t, w).Code)

	w = do(t, router, http.MethodPost, "/v1/forge/edit", map[string]any{
		"root":    root,
		"path":    "notes.txt",
		"changes": []map[string]any{{"kind": "replace", "line_start": 9, "line_end": 9, "content": "x"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_CHANGE", decode[ErrorResponse](t, w).Code)

	w = do(t, router, http.MethodPost, "/v1/forge/edit", map[string]any{
		"root":    root,
		"path":    "../outside.txt",
		"changes": []map[string]any{{"kind": "replace", "line_start": 1, "line_end": 1, "content": "x"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	q := url.Values{"root": {root}, "path": {"notes.txt"}}
	w = do(t, router, http.MethodGet, "/v1/forge/history?"+q.Encode()+"&limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, http.MethodPost, "/v1/forge/rollback", RollbackRequest{Root: root, Path: "notes.txt"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NO_HISTORY", decode[ErrorResponse](t, w).Code)
}

func TestHandlers_ValidateGoSyntax(t *testing.T) {
	router := setupTestRouter(newTestService(t, nil))
	root := writeProject(t, map[string]string{"main.go": "package main\n\nfunc main() {}\n"})

	w := do(t, router, http.MethodPost, "/v1/forge/validate", map[string]any{
		"root":    root,
		"path":    "main.go",
		"changes": []map[string]any{{"kind": "replace", "line_start": 3, "line_end": 3, "content": "func main() {"}},
	})
	require.Equal(t, http.StatusOK, w.Code)
	report := decode[editor.Report](t, w)
	assert.False(t, report.Valid)
	assert.NotEmpty(t, report.Findings)
}

func TestHandlers_EditFilesAndUndo(t *testing.T) {
	router := setupTestRouter(newTestService(t, nil))
	root := writeProject(t, map[string]string{"a.txt": "a\n", "b.txt": "b\n"})

	w := do(t, router, http.MethodPost, "/v1/forge/edit_files", map[string]any{
		"root": root,
		"files": []map[string]any{
			{"path": "a.txt", "changes": []map[string]any{{"kind": "replace", "line_start": 1, "line_end": 1, "content": "A"}}},
			{"path": "b.txt", "changes": []map[string]any{{"kind": "replace", "line_start": 1, "line_end": 1, "content": "B"}}},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "A\n", readFile(t, root, "a.txt"))

	w = do(t, router, http.MethodPost, "/v1/forge/undo", UndoRequest{Root: root})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[undo.Result](t, w)
	assert.Equal(t, OperationEditFiles, res.Operation)
	assert.Equal(t, "a\n", readFile(t, root, "a.txt"))
	assert.Equal(t, "b\n", readFile(t, root, "b.txt"))
}

func TestHandlers_EditFilesRolledBack(t *testing.T) {
	router := setupTestRouter(newTestService(t, nil))
	root := writeProject(t, map[string]string{"a.txt": "a\n", "b.txt": "b\n"})

	w := do(t, router, http.MethodPost, "/v1/forge/edit_files", map[string]any{
		"root": root,
		"files": []map[string]any{
			{"path": "a.txt", "changes": []map[string]any{{"kind": "replace", "line_start": 1, "line_end": 1, "content": "A"}}},
			{"path": "b.txt", "changes": []map[string]any{{"kind": "replace", "line_start": 7, "line_end": 7, "content": "B"}}},
		},
	})
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	resp := decode[ErrorResponse](t, w)
	assert.Equal(t, "INVALID_CHANGE", resp.Code)
	assert.NotNil(t, resp.Result)
	assert.Equal(t, "a\n", readFile(t, root, "a.txt"))
}

func TestHandlers_EmptyUndo(t *testing.T) {
	router := setupTestRouter(newTestService(t, nil))
	root := writeProject(t, map[string]string{"a.txt": "a\n"})

	w := do(t, router, http.MethodPost, "/v1/forge/undo", UndoRequest{Root: root})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NO_UNDO_HISTORY", decode[ErrorResponse](t, w).Code)
	assert.Equal(t, "a\n", readFile(t, root, "a.txt"))
}

func TestHandlers_RefactorAndHistory(t *testing.T) {
	router := setupTestRouter(newTestService(t, StaticGraph(pythonGraph())))
	root := writeProject(t, pythonFiles)

	w := do(t, router, http.MethodPost, "/v1/forge/refactor", map[string]any{
		"root":      root,
		"operation": "rename_function",
		"params":    renameParams("increment"),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[refactor.Result](t, w)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.CallSitesUpdated)
	assert.Equal(t, "from util import increment\n\nprint(increment(1))\n", readFile(t, root, "app.py"))

	q := url.Values{"root": {root}, "include_undone": {"true"}}
	w = do(t, router, http.MethodGet, "/v1/forge/refactor/history?"+q.Encode(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	hist := decode[RefactorHistoryResponse](t, w)
	require.Len(t, hist.Entries, 1)
	assert.Equal(t, "rename_function", hist.Entries[0].Operation)
	assert.NotEmpty(t, hist.Entries[0].Descriptor)
}

func TestHandlers_RefactorConflict(t *testing.T) {
	router := setupTestRouter(newTestService(t, StaticGraph(pythonGraph())))
	root := writeProject(t, pythonFiles)

	w := do(t, router, http.MethodPost, "/v1/forge/refactor", map[string]any{
		"root":      root,
		"operation": "rename_function",
		"params":    renameParams("double"),
	})
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	resp := decode[ErrorResponse](t, w)
	assert.Equal(t, "CONFLICT", resp.Code)
	require.NotNil(t, resp.Conflicts)
	assert.True(t, resp.Conflicts.Has(conflict.TypeNameCollision))
	assert.Equal(t, pythonFiles["util.py"], readFile(t, root, "util.py"))

	w = do(t, router, http.MethodPost, "/v1/forge/conflicts", map[string]any{
		"root":      root,
		"operation": "rename_function",
		"params":    renameParams("double"),
	})
	require.Equal(t, http.StatusOK, w.Code)
	report := decode[conflict.Report](t, w)
	assert.False(t, report.CanProceed)
}

func TestHandlers_RefactorBadRequests(t *testing.T) {
	router := setupTestRouter(newTestService(t, StaticGraph(pythonGraph())))
	root := writeProject(t, pythonFiles)

	cases := []struct {
		name   string
		body   map[string]any
		status int
		code   string
	}{
		{"unknown kind", map[string]any{"root": root, "operation": "explode"}, http.StatusBadRequest, "INVALID_OPERATION"},
		{"unknown field", map[string]any{"root": root, "operation": "rename_function", "params": json.RawMessage(`{"bogus":1}`)}, http.StatusBadRequest, "INVALID_OPERATION"},
		{"bad scope", map[string]any{"root": root, "operation": "rename_function", "params": renameParams("inc"), "scope": "galaxy"}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"unsupported", map[string]any{"root": root, "operation": "move_function", "params": json.RawMessage(`{"module":"Util","function":"helper","arity":1,"destination":"App"}`)}, http.StatusUnprocessableEntity, "UNSUPPORTED_OPERATION"},
		{"missing target", map[string]any{"root": root, "operation": "rename_function", "params": json.RawMessage(`{"module":"Util","function":"nope","new_name":"x"}`)}, http.StatusNotFound, "TARGET_NOT_FOUND"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, router, http.MethodPost, "/v1/forge/refactor", tc.body)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
			assert.Equal(t, tc.code, decode[ErrorResponse](t, w).Code)
		})
	}
}

func TestHandlers_RefactorWithoutGraph(t *testing.T) {
	router := setupTestRouter(newTestService(t, nil))
	root := writeProject(t, pythonFiles)

	w := do(t, router, http.MethodPost, "/v1/forge/preview", map[string]any{
		"root":      root,
		"operation": "rename_function",
		"params":    renameParams("increment"),
	})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "GRAPH_UNAVAILABLE", decode[ErrorResponse](t, w).Code)
}

func TestHandlers_Preview(t *testing.T) {
	router := setupTestRouter(newTestService(t, StaticGraph(pythonGraph())))
	root := writeProject(t, pythonFiles)

	w := do(t, router, http.MethodPost, "/v1/forge/preview", map[string]any{
		"root":      root,
		"operation": "rename_function",
		"params":    renameParams("increment"),
		"format":    "side_by_side",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	pv := decode[preview.Preview](t, w)
	assert.Len(t, pv.Files, 2)
	assert.True(t, pv.Valid)
	for _, f := range pv.Files {
		assert.NotEmpty(t, f.Diff)
	}
	assert.Equal(t, pythonFiles["app.py"], readFile(t, root, "app.py"))

	w = do(t, router, http.MethodPost, "/v1/forge/preview", map[string]any{
		"root":      root,
		"operation": "rename_function",
		"params":    renameParams("increment"),
		"format":    "html",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_FORMAT", decode[ErrorResponse](t, w).Code)
}

func TestHandlers_Defaults(t *testing.T) {
	router := setupTestRouter(newTestService(t, nil))

	w := do(t, router, http.MethodGet, "/v1/forge/defaults", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Options editor.Options `json:"options"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, editor.DefaultOptions(), body.Options)
}
