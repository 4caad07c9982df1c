// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	forge "github.com/AleutianAI/AleutianForge/services/forge"
	"github.com/AleutianAI/AleutianForge/services/forge/editor"
	"github.com/AleutianAI/AleutianForge/services/forge/graph"
	"github.com/AleutianAI/AleutianForge/services/forge/refactor"
	"github.com/AleutianAI/AleutianForge/services/forge/telemetry"
	"github.com/AleutianAI/AleutianForge/services/forge/transaction"
	"github.com/AleutianAI/AleutianForge/services/forge/undo"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	utilPy = "def helper(x):\n    return x + 1\n\n\ndef double(n):\n    return helper(n) * 2\n"
	appPy  = "from util import helper\n\nprint(helper(1))\n"
)

const renameParams = `{"module":"Util","function":"helper","arity":1,"new_name":"increment"}`

type fixture struct {
	root   string
	config string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	root := t.TempDir()
	write(t, root, "util.py", utilPy)
	write(t, root, "app.py", appPy)

	g := graph.NewMemory()
	helper := graph.Target{Module: "Util", Function: "helper", Arity: 1}
	g.AddDefinition(graph.Definition{Module: "Util", Function: "helper", Arity: 1, File: "util.py", Line: 1, EndLine: 2})
	g.AddDefinition(graph.Definition{Module: "Util", Function: "double", Arity: 1, File: "util.py", Line: 5, EndLine: 6})
	g.AddFile("App", "app.py")
	g.AddCall(graph.CallSite{Callee: helper, File: "util.py", Line: 6, CallerModule: "Util", Caller: "double"})
	g.AddCall(graph.CallSite{Callee: helper, File: "app.py", Line: 3, CallerModule: "App"})
	g.AddDependency("App", "Util")
	snap, err := json.Marshal(g.Snapshot())
	require.NoError(t, err)
	write(t, root, ".forge/graph.json", string(snap))

	cfgPath := filepath.Join(t.TempDir(), "forge.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
state_dir: %s
graph:
  snapshot: .forge/graph.json
logging:
  level: error
`, t.TempDir())), 0644))
	return fixture{root: root, config: cfgPath}
}

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
}

func read(t *testing.T, root, rel string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(root, rel))
	require.NoError(t, err)
	return string(b)
}

// run executes one forge invocation and returns stdout and stderr.
func (f fixture) run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	a := &app{}
	cmd := newRootCmd(a)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", f.config, "--root", f.root}, args...))
	err := cmd.Execute()
	require.NoError(t, a.close())
	return stdout.String(), stderr.String(), err
}

func TestEditHistoryRollback(t *testing.T) {
	f := newFixture(t)
	changes := `- {kind: replace, line_start: 3, line_end: 3, content: "print(helper(2))"}`

	out, _, err := f.run(t, changes, "edit", "app.py", "--changes", "-", "--json")
	require.NoError(t, err)
	var res editor.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 1, res.ChangesApplied)
	assert.NotEmpty(t, res.BackupID)
	assert.Contains(t, read(t, f.root, "app.py"), "helper(2)")

	out, _, err = f.run(t, "", "history", "app.py")
	require.NoError(t, err)
	assert.Contains(t, out, res.BackupID)

	out, _, err = f.run(t, "", "rollback", "app.py")
	require.NoError(t, err)
	assert.Contains(t, out, "Restored app.py")
	assert.Equal(t, appPy, read(t, f.root, "app.py"))
}

func TestEdit_NoBackupFlag(t *testing.T) {
	f := newFixture(t)
	changes := `[{"kind":"insert","line_start":1,"content":"import os"}]`

	out, _, err := f.run(t, changes, "edit", "app.py", "--changes", "-", "--backup=false")
	require.NoError(t, err)
	assert.NotContains(t, out, "Backup:")

	_, _, err = f.run(t, "", "rollback", "app.py")
	require.Error(t, err)
	assert.Contains(t, formatError(err), "[NO_HISTORY]")
}

func TestEdit_Errors(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.run(t, "[]", "edit", "app.py", "--changes", "-")
	require.Error(t, err)
	assert.Contains(t, formatError(err), "[INVALID_REQUEST]")

	_, _, err = f.run(t, `- {kind: replace, line_start: 9, line_end: 9, content: x}`, "edit", "app.py", "--changes", "-")
	require.Error(t, err)
	assert.Contains(t, formatError(err), "[INVALID_CHANGE]")

	_, _, err = f.run(t, "", "edit", "app.py")
	assert.Error(t, err, "--changes is required")

	assert.Equal(t, appPy, read(t, f.root, "app.py"))
}

func TestValidate_ReportsInvalidGo(t *testing.T) {
	f := newFixture(t)
	write(t, f.root, "main.go", "package main\n\nfunc main() {}\n")

	out, _, err := f.run(t, `- {kind: replace, line_start: 3, line_end: 3, content: "func main() {"}`,
		"validate", "main.go", "--changes", "-")
	require.Error(t, err)
	assert.Contains(t, out, "invalid")
	assert.Equal(t, "package main\n\nfunc main() {}\n", read(t, f.root, "main.go"))
}

func TestEditFilesAndUndo(t *testing.T) {
	f := newFixture(t)
	plan := `
- path: util.py
  changes:
    - {kind: insert, line_start: 1, content: "# util"}
- path: app.py
  changes:
    - {kind: insert, line_start: 1, content: "# app"}
`
	out, _, err := f.run(t, plan, "edit-files", "-", "--json")
	require.NoError(t, err)
	var res transaction.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.FilesEdited)

	out, _, err = f.run(t, "", "refactor-history")
	require.NoError(t, err)
	assert.Contains(t, out, forge.OperationEditFiles)

	out, _, err = f.run(t, "", "undo", "--json")
	require.NoError(t, err)
	var u undo.Result
	require.NoError(t, json.Unmarshal([]byte(out), &u))
	assert.Equal(t, forge.OperationEditFiles, u.Operation)
	assert.Equal(t, utilPy, read(t, f.root, "util.py"))
	assert.Equal(t, appPy, read(t, f.root, "app.py"))

	_, _, err = f.run(t, "", "undo")
	require.Error(t, err)
	assert.Contains(t, formatError(err), "[NO_UNDO_HISTORY]")
}

func TestEditFiles_FailureWritesNothing(t *testing.T) {
	f := newFixture(t)
	plan := `[
  {"path": "util.py", "changes": [{"kind": "insert", "line_start": 1, "content": "# util"}]},
  {"path": "app.py", "changes": [{"kind": "delete", "line_start": 40, "line_end": 41}]}
]`
	_, stderr, err := f.run(t, plan, "edit-files", "-")
	require.Error(t, err)
	assert.Contains(t, stderr, "app.py")
	assert.Equal(t, utilPy, read(t, f.root, "util.py"))
}

func TestRefactorPreviewUndo(t *testing.T) {
	f := newFixture(t)

	out, _, err := f.run(t, "", "conflicts", "rename_function", "--params", renameParams)
	require.NoError(t, err)
	assert.Contains(t, out, "can proceed")

	out, _, err = f.run(t, renameParams, "preview", "rename_function", "--params-file", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "+print(increment(1))")
	assert.Equal(t, appPy, read(t, f.root, "app.py"), "preview writes nothing")

	out, _, err = f.run(t, "", "refactor", "rename_function", "--params", renameParams, "--json")
	require.NoError(t, err)
	var res refactor.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.CallSitesUpdated)
	assert.Contains(t, read(t, f.root, "app.py"), "increment(1)")

	out, _, err = f.run(t, "", "undo")
	require.NoError(t, err)
	assert.Contains(t, out, "rename_function")
	assert.Equal(t, appPy, read(t, f.root, "app.py"))
	assert.Equal(t, utilPy, read(t, f.root, "util.py"))

	out, _, err = f.run(t, "", "refactor-history", "--include-undone")
	require.NoError(t, err)
	assert.Contains(t, out, "[undone]")
}

func TestRefactor_Conflict(t *testing.T) {
	f := newFixture(t)
	params := `{"module":"Util","function":"helper","arity":1,"new_name":"double"}`

	_, stderr, err := f.run(t, "", "refactor", "rename_function", "--params", params)
	require.Error(t, err)
	assert.Contains(t, formatError(err), "[CONFLICT]")
	assert.Contains(t, stderr, "blocked")
	assert.Equal(t, utilPy, read(t, f.root, "util.py"))
}

func TestRefactor_BadInput(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.run(t, "", "refactor", "rename_everything", "--params", renameParams)
	require.Error(t, err)
	assert.Contains(t, formatError(err), "[INVALID_OPERATION]")

	_, _, err = f.run(t, "", "refactor", "rename_function", "--params", renameParams, "--scope", "galaxy")
	require.Error(t, err)
	assert.Contains(t, formatError(err), "[INVALID_REQUEST]")

	_, _, err = f.run(t, "", "preview", "rename_function", "--params", renameParams, "--diff-format", "html")
	require.Error(t, err)
	assert.Contains(t, formatError(err), "[INVALID_FORMAT]")
}

func TestRouter_ServesForgeAndMetrics(t *testing.T) {
	cfg := telemetry.DefaultConfig()
	cfg.TraceExporter = "none"
	cfg.MetricExporter = "prometheus"
	providers, err := telemetry.Init(t.Context(), cfg)
	require.NoError(t, err)
	defer providers.Shutdown(t.Context())

	svc := forge.NewService(forge.ServiceConfig{StateDir: t.TempDir(), InMemory: true})
	defer svc.Close()
	router := newRouter(svc, routerOptions{serviceName: "forge-test", metrics: providers.MetricsHandler()})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/forge/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), forge.ServiceVersion)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")

	bare := newRouter(svc, routerOptions{})
	w = httptest.NewRecorder()
	bare.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTelemetryConfig(t *testing.T) {
	f := newFixture(t)
	a := &app{configPath: f.config}
	cmd := newRootCmd(a)
	cmd.SetArgs([]string{"--config", f.config, "--root", f.root, "refactor-history"})
	cmd.SetOut(&bytes.Buffer{})
	require.NoError(t, cmd.Execute())
	defer a.close()

	a.cfg.Telemetry.ServiceName = "forge-x"
	a.cfg.Telemetry.TraceExporter = "otlp"
	a.cfg.Telemetry.OTLPEndpoint = "collector:4317"
	tc := telemetryConfig(a.cfg)
	assert.Equal(t, "forge-x", tc.ServiceName)
	assert.Equal(t, "otlp", tc.TraceExporter)
	assert.Equal(t, "collector:4317", tc.OTLPEndpoint)
	assert.Equal(t, forge.ServiceVersion, tc.ServiceVersion)
}
