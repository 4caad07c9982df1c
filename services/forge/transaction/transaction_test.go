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
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianForge/services/forge/backup"
	"github.com/AleutianAI/AleutianForge/services/forge/change"
	"github.com/AleutianAI/AleutianForge/services/forge/editor"
)

// hookStore fails Create for one path after running an optional hook.
type hookStore struct {
	backup.Store
	failPath string
	hook     func()
}

func (s *hookStore) Create(ctx context.Context, path string, content []byte) (*backup.Record, error) {
	if path == s.failPath {
		if s.hook != nil {
			s.hook()
		}
		return nil, errors.New("disk full")
	}
	return s.Store.Create(ctx, path, content)
}

type recorderFunc func(ctx context.Context, c *Commit) error

func (f recorderFunc) RecordCommit(ctx context.Context, c *Commit) error { return f(ctx, c) }

func setup(t *testing.T, store backup.Store) (*Coordinator, string) {
	t.Helper()
	root := t.TempDir()
	if store == nil {
		store = backup.NewMemoryStore(0)
	}
	ed, err := editor.New(editor.Config{Root: root, Backups: store})
	require.NoError(t, err)
	c, err := NewCoordinator(CoordinatorConfig{Editor: ed})
	require.NoError(t, err)
	return c, root
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

func TestCommit_AllFilesWritten(t *testing.T) {
	c, root := setup(t, nil)
	write(t, root, "a.go", "package a\n\nvar X = 1\n")
	write(t, root, "b.go", "package a\n\nvar Y = 1\n")

	var recorded *Commit
	c.SetRecorder(recorderFunc(func(_ context.Context, cm *Commit) error {
		recorded = cm
		return nil
	}))

	tx := New(editor.DefaultOptions()).
		Add("a.go", []change.Change{change.Replace(3, 3, "var X = 2")}, editor.Overrides{}).
		Add("b.go", []change.Change{change.Replace(3, 3, "var Y = 2")}, editor.Overrides{})

	res, err := c.Commit(context.Background(), tx)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.FilesEdited)
	assert.False(t, res.RolledBack)
	require.Len(t, res.Results, 2)
	assert.Equal(t, "a.go", res.Results[0].Path)
	assert.Len(t, res.BackupIDs(), 2)

	assert.Equal(t, "package a\n\nvar X = 2\n", read(t, root, "a.go"))
	assert.Equal(t, "package a\n\nvar Y = 2\n", read(t, root, "b.go"))

	require.NotNil(t, recorded)
	assert.Equal(t, tx.ID, recorded.Transaction.ID)
	assert.Len(t, recorded.Files, 2)
}

func TestCommit_ValidationFailureTouchesNothing(t *testing.T) {
	c, root := setup(t, nil)
	write(t, root, "a.go", "package a\n\nvar A = 1\n")
	write(t, root, "b.go", "package a\n\nvar B = 1\n")
	write(t, root, "c.go", "package a\n\nvar C = 1\n")

	tx := New(editor.DefaultOptions()).
		Add("a.go", []change.Change{change.Replace(3, 3, "var A = 2")}, editor.Overrides{}).
		Add("b.go", []change.Change{change.Replace(3, 3, "var B = 2")}, editor.Overrides{}).
		Add("c.go", []change.Change{change.Replace(3, 3, "var C = (")}, editor.Overrides{})

	res, err := c.Commit(context.Background(), tx)
	require.Error(t, err)
	assert.ErrorIs(t, err, editor.ErrValidation)
	assert.False(t, res.Success)
	assert.Equal(t, 0, res.FilesEdited)
	assert.True(t, res.RolledBack)
	assert.False(t, res.FilesystemTouched)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "c.go", res.Errors[0].Path)
	assert.Equal(t, "validation", res.Errors[0].Kind)

	assert.Equal(t, "package a\n\nvar A = 1\n", read(t, root, "a.go"))
	assert.Equal(t, "package a\n\nvar B = 1\n", read(t, root, "b.go"))
	assert.Equal(t, "package a\n\nvar C = 1\n", read(t, root, "c.go"))
}

func TestCommit_CollectsEveryPreparationError(t *testing.T) {
	c, root := setup(t, nil)
	write(t, root, "a.go", "package a\n")

	tx := New(editor.DefaultOptions()).
		Add("a.go", []change.Change{change.Replace(5, 5, "x")}, editor.Overrides{}).
		Add("missing.go", []change.Change{change.Insert(1, "x")}, editor.Overrides{})

	res, err := c.Commit(context.Background(), tx)
	require.Error(t, err)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, "invalid_change", res.Errors[0].Kind)
	assert.Equal(t, "io", res.Errors[1].Kind)
}

func TestCommit_WriteFailureRestoresEarlierFiles(t *testing.T) {
	store := &hookStore{Store: backup.NewMemoryStore(0), failPath: "c.py"}
	c, root := setup(t, store)
	write(t, root, "a.py", "A = 1\n")
	write(t, root, "b.py", "B = 1\n")
	write(t, root, "c.py", "C = 1\n")

	tx := New(editor.DefaultOptions()).
		Add("a.py", []change.Change{change.Replace(1, 1, "A = 2")}, editor.Overrides{}).
		Add("b.py", []change.Change{change.Replace(1, 1, "B = 2")}, editor.Overrides{}).
		Add("c.py", []change.Change{change.Replace(1, 1, "C = 2")}, editor.Overrides{})

	res, err := c.Commit(context.Background(), tx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPartialTransaction)
	assert.ErrorIs(t, err, editor.ErrIO)

	var pe *PartialTransactionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "c.py", pe.FailedPath)
	assert.Equal(t, []string{"b.py", "a.py"}, pe.Restored)

	assert.False(t, res.Success)
	assert.True(t, res.RolledBack)
	assert.True(t, res.FilesystemTouched)
	assert.Equal(t, 2, res.FilesEdited)

	assert.Equal(t, "A = 1\n", read(t, root, "a.py"))
	assert.Equal(t, "B = 1\n", read(t, root, "b.py"))
	assert.Equal(t, "C = 1\n", read(t, root, "c.py"))
}

func TestCommit_RollbackFailureIsFatal(t *testing.T) {
	var root string
	store := &hookStore{Store: backup.NewMemoryStore(0), failPath: "c.py"}
	store.hook = func() {
		_ = os.RemoveAll(filepath.Join(root, "pkg"))
	}
	c, r := setup(t, store)
	root = r
	write(t, root, "pkg/a.py", "A = 1\n")
	write(t, root, "c.py", "C = 1\n")

	tx := New(editor.DefaultOptions()).
		Add("pkg/a.py", []change.Change{change.Replace(1, 1, "A = 2")}, editor.Overrides{}).
		Add("c.py", []change.Change{change.Replace(1, 1, "C = 2")}, editor.Overrides{})

	res, err := c.Commit(context.Background(), tx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRollbackFailed)

	var rf *RollbackFailedError
	require.ErrorAs(t, err, &rf)
	assert.Equal(t, []string{"pkg/a.py"}, rf.Modified)
	assert.True(t, res.RolledBack)
	assert.Empty(t, res.Restored)
}

func TestCommit_Twice(t *testing.T) {
	c, root := setup(t, nil)
	write(t, root, "a.txt", "one\n")

	tx := New(editor.DefaultOptions()).
		Add("a.txt", []change.Change{change.Replace(1, 1, "two")}, editor.Overrides{})
	_, err := c.Commit(context.Background(), tx)
	require.NoError(t, err)
	assert.True(t, tx.Committed())

	_, err = c.Commit(context.Background(), tx)
	assert.ErrorIs(t, err, ErrAlreadyCommitted)
}

func TestCommit_DuplicatePathRejected(t *testing.T) {
	c, root := setup(t, nil)
	write(t, root, "a.txt", "one\n")

	tx := New(editor.DefaultOptions()).
		Add("a.txt", []change.Change{change.Replace(1, 1, "two")}, editor.Overrides{}).
		Add("./a.txt", []change.Change{change.Insert(1, "zero")}, editor.Overrides{})

	_, err := c.Commit(context.Background(), tx)
	assert.ErrorIs(t, err, change.ErrInvalidChange)
	assert.Equal(t, "one\n", read(t, root, "a.txt"))
}

func TestCommit_EmptyTransaction(t *testing.T) {
	c, _ := setup(t, nil)
	_, err := c.Commit(context.Background(), New(editor.DefaultOptions()))
	assert.ErrorIs(t, err, change.ErrInvalidChange)
}

func TestCommit_PerFileOverrides(t *testing.T) {
	c, root := setup(t, nil)
	write(t, root, "a.go", "package a\n")
	write(t, root, "b.go", "package a\n")

	// b.go is deliberately broken but skips validation.
	tx := New(editor.DefaultOptions()).
		Add("a.go", []change.Change{change.Insert(2, "var A = 1")}, editor.Overrides{}).
		Add("b.go", []change.Change{change.Insert(2, "var B = (")}, editor.Overrides{
			Validate:     editor.Bool(false),
			CreateBackup: editor.Bool(false),
		})

	res, err := c.Commit(context.Background(), tx)
	require.NoError(t, err)
	assert.True(t, res.Results[0].ValidationPerformed)
	assert.NotEmpty(t, res.Results[0].BackupID)
	assert.False(t, res.Results[1].ValidationPerformed)
	assert.Empty(t, res.Results[1].BackupID)
}

func TestCommit_RecorderErrorIsWarning(t *testing.T) {
	c, root := setup(t, nil)
	write(t, root, "a.txt", "one\n")
	c.SetRecorder(recorderFunc(func(context.Context, *Commit) error {
		return errors.New("log unavailable")
	}))

	tx := New(editor.DefaultOptions()).
		Add("a.txt", []change.Change{change.Replace(1, 1, "two")}, editor.Overrides{})
	res, err := c.Commit(context.Background(), tx)
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "log unavailable")
}

func TestCommit_ConcurrentDisjointTransactions(t *testing.T) {
	c, root := setup(t, nil)
	names := []string{"a.txt", "b.txt", "c.txt", "d.txt"}
	for _, n := range names {
		write(t, root, n, "x\n")
	}

	var wg sync.WaitGroup
	errs := make([]error, len(names))
	for i, n := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx := New(editor.DefaultOptions()).
				Add(n, []change.Change{change.Replace(1, 1, n)}, editor.Overrides{})
			_, errs[i] = c.Commit(context.Background(), tx)
		}()
	}
	wg.Wait()

	for i, n := range names {
		require.NoError(t, errs[i])
		assert.Equal(t, n+"\n", read(t, root, n))
	}
}

func TestCommit_RacingTransactionsOnOneFile(t *testing.T) {
	c, root := setup(t, nil)
	write(t, root, "shared.txt", "base\n")
	write(t, root, "own0.txt", "own\n")
	write(t, root, "own1.txt", "own\n")
	planned := backup.Digest([]byte("base\n"))

	// Both transactions are planned against the same read of shared.txt.
	txs := make([]*Transaction, 2)
	for i := range txs {
		own := "own" + string(rune('0'+i)) + ".txt"
		line := "writer " + string(rune('0'+i))
		txs[i] = New(editor.DefaultOptions()).
			Add(own, []change.Change{change.Replace(1, 1, line)}, editor.Overrides{}).
			AddExpected("shared.txt", []change.Change{change.Replace(1, 1, line)}, editor.Overrides{}, planned)
	}

	start := make(chan struct{})
	results := make([]*Result, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range txs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			results[i], errs[i] = c.Commit(context.Background(), txs[i])
		}()
	}
	close(start)
	wg.Wait()

	winner, loser := 0, 1
	if errs[0] != nil {
		winner, loser = 1, 0
	}
	require.NoError(t, errs[winner])
	require.Error(t, errs[loser])
	assert.ErrorIs(t, errs[loser], editor.ErrConcurrentModification)
	assert.True(t, results[winner].Success)
	assert.False(t, results[loser].Success)
	assert.True(t, results[loser].RolledBack)

	winLine := "writer " + string(rune('0'+winner)) + "\n"
	assert.Equal(t, winLine, read(t, root, "shared.txt"))
	assert.Equal(t, winLine, read(t, root, "own"+string(rune('0'+winner))+".txt"))
	assert.Equal(t, "own\n", read(t, root, "own"+string(rune('0'+loser))+".txt"))
}

func TestCommit_StalePlanRejected(t *testing.T) {
	c, root := setup(t, nil)
	write(t, root, "a.py", "A = 1\n")
	write(t, root, "b.py", "B = 1\n")
	planned := backup.Digest([]byte("B = 1\n"))

	write(t, root, "b.py", "# header\nB = 1\n")

	tx := New(editor.DefaultOptions()).
		Add("a.py", []change.Change{change.Replace(1, 1, "A = 2")}, editor.Overrides{}).
		AddExpected("b.py", []change.Change{change.Replace(1, 1, "B = 2")}, editor.Overrides{}, planned)

	res, err := c.Commit(context.Background(), tx)
	require.ErrorIs(t, err, editor.ErrConcurrentModification)
	assert.False(t, res.FilesystemTouched)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "b.py", res.Errors[0].Path)
	assert.Equal(t, "concurrent_modification", res.Errors[0].Kind)

	assert.Equal(t, "A = 1\n", read(t, root, "a.py"))
	assert.Equal(t, "# header\nB = 1\n", read(t, root, "b.py"))
}

func TestCommit_PanicDuringWritesRestoresEarlierFiles(t *testing.T) {
	store := &hookStore{Store: backup.NewMemoryStore(0), failPath: "c.py"}
	store.hook = func() { panic("snapshot writer crashed") }
	c, root := setup(t, store)
	write(t, root, "a.py", "A = 1\n")
	write(t, root, "b.py", "B = 1\n")
	write(t, root, "c.py", "C = 1\n")

	var recorded bool
	c.SetRecorder(recorderFunc(func(context.Context, *Commit) error {
		recorded = true
		return nil
	}))

	tx := New(editor.DefaultOptions()).
		Add("a.py", []change.Change{change.Replace(1, 1, "A = 2")}, editor.Overrides{}).
		Add("b.py", []change.Change{change.Replace(1, 1, "B = 2")}, editor.Overrides{}).
		Add("c.py", []change.Change{change.Replace(1, 1, "C = 2")}, editor.Overrides{})

	res, err := c.Commit(context.Background(), tx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPartialTransaction)
	assert.Contains(t, err.Error(), "snapshot writer crashed")

	var pe *PartialTransactionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "c.py", pe.FailedPath)
	assert.Equal(t, []string{"b.py", "a.py"}, pe.Restored)

	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.True(t, res.RolledBack)
	assert.Equal(t, 2, res.FilesEdited)
	assert.False(t, recorded)

	assert.Equal(t, "A = 1\n", read(t, root, "a.py"))
	assert.Equal(t, "B = 1\n", read(t, root, "b.py"))
	assert.Equal(t, "C = 1\n", read(t, root, "c.py"))
}

func TestCommit_RecordsWrittenDigests(t *testing.T) {
	c, root := setup(t, nil)
	write(t, root, "a.txt", "one\n")

	var recorded *Commit
	c.SetRecorder(recorderFunc(func(_ context.Context, cm *Commit) error {
		recorded = cm
		return nil
	}))
	tx := New(editor.DefaultOptions()).
		Add("a.txt", []change.Change{change.Replace(1, 1, "two")}, editor.Overrides{})
	_, err := c.Commit(context.Background(), tx)
	require.NoError(t, err)

	require.NotNil(t, recorded)
	require.Len(t, recorded.Files, 1)
	assert.Equal(t, backup.Digest([]byte("two\n")), recorded.Files[0].Digest)
}

func TestCommit_CancelledBeforeWrite(t *testing.T) {
	c, root := setup(t, nil)
	write(t, root, "a.go", "package a\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tx := New(editor.DefaultOptions()).
		Add("a.go", []change.Change{change.Insert(2, "var A = 1")}, editor.Overrides{})
	res, err := c.Commit(ctx, tx)
	require.Error(t, err)
	assert.False(t, res.FilesystemTouched)
	assert.Equal(t, "package a\n", read(t, root, "a.go"))
}
