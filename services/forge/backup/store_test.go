// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fbadger "github.com/AleutianAI/AleutianForge/services/forge/storage/badger"
)

// storeFactories builds each Store implementation with the given retention.
func storeFactories(t *testing.T) map[string]func(retention int) Store {
	return map[string]func(int) Store{
		"memory": func(retention int) Store {
			return NewMemoryStore(retention)
		},
		"disk": func(retention int) Store {
			db, err := fbadger.OpenInMemory()
			require.NoError(t, err)
			s, err := NewDiskStore(DiskConfig{
				SnapshotDir: filepath.Join(t.TempDir(), "snapshots"),
				Index:       db,
				Retention:   retention,
			})
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func TestStore_CreateReadLatest(t *testing.T) {
	ctx := context.Background()
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(0)

			first, err := s.Create(ctx, "a.go", []byte("v1"))
			require.NoError(t, err)
			second, err := s.Create(ctx, "a.go", []byte("v2"))
			require.NoError(t, err)

			assert.NotEqual(t, first.ID, second.ID)
			assert.Equal(t, int64(2), second.Size)
			assert.True(t, second.CreatedAt.After(first.CreatedAt))

			latest, err := s.Latest(ctx, "a.go")
			require.NoError(t, err)
			assert.Equal(t, second.ID, latest.ID)

			content, err := s.Read(ctx, first.ID)
			require.NoError(t, err)
			assert.Equal(t, "v1", string(content))

			rec, err := s.Get(ctx, first.ID)
			require.NoError(t, err)
			assert.Equal(t, "a.go", rec.OriginalPath)
		})
	}
}

func TestStore_ListNewestFirstAndScopedByPath(t *testing.T) {
	ctx := context.Background()
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(0)

			for i := 0; i < 3; i++ {
				_, err := s.Create(ctx, "a.go", []byte(fmt.Sprintf("a%d", i)))
				require.NoError(t, err)
			}
			_, err := s.Create(ctx, "a.go.orig", []byte("other"))
			require.NoError(t, err)

			records, err := s.List(ctx, "a.go", 0)
			require.NoError(t, err)
			require.Len(t, records, 3)
			for i := 1; i < len(records); i++ {
				assert.True(t, records[i-1].CreatedAt.After(records[i].CreatedAt))
			}

			limited, err := s.List(ctx, "a.go", 2)
			require.NoError(t, err)
			assert.Len(t, limited, 2)
		})
	}
}

func TestStore_RetentionKeepsPinned(t *testing.T) {
	ctx := context.Background()
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(3)

			oldest, err := s.Create(ctx, "a.go", []byte("0"))
			require.NoError(t, err)
			require.NoError(t, s.Pin(ctx, oldest.ID))

			second, err := s.Create(ctx, "a.go", []byte("1"))
			require.NoError(t, err)

			for i := 2; i < 6; i++ {
				_, err := s.Create(ctx, "a.go", []byte(fmt.Sprintf("%d", i)))
				require.NoError(t, err)
			}

			records, err := s.List(ctx, "a.go", 0)
			require.NoError(t, err)
			// three newest plus the pinned one
			assert.Len(t, records, 4)

			_, err = s.Get(ctx, second.ID)
			assert.ErrorIs(t, err, ErrNotFound)

			content, err := s.Read(ctx, oldest.ID)
			require.NoError(t, err)
			assert.Equal(t, "0", string(content))
		})
	}
}

func TestStore_Errors(t *testing.T) {
	ctx := context.Background()
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(0)

			_, err := s.Latest(ctx, "missing.go")
			assert.ErrorIs(t, err, ErrNoHistory)

			_, err = s.Get(ctx, "nope")
			assert.ErrorIs(t, err, ErrNotFound)

			assert.ErrorIs(t, s.Pin(ctx, "nope"), ErrNotFound)
		})
	}
}

func TestStore_DeleteDiscardsUnpinnedOnly(t *testing.T) {
	ctx := context.Background()
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(0)

			kept, err := s.Create(ctx, "a.go", []byte("v1"))
			require.NoError(t, err)
			orphan, err := s.Create(ctx, "a.go", []byte("v2"))
			require.NoError(t, err)

			require.NoError(t, s.Delete(ctx, orphan.ID))
			_, err = s.Get(ctx, orphan.ID)
			assert.ErrorIs(t, err, ErrNotFound)

			latest, err := s.Latest(ctx, "a.go")
			require.NoError(t, err)
			assert.Equal(t, kept.ID, latest.ID)

			require.NoError(t, s.Delete(ctx, "nope"))

			require.NoError(t, s.Pin(ctx, kept.ID))
			assert.ErrorIs(t, s.Delete(ctx, kept.ID), ErrPinned)
			_, err = s.Read(ctx, kept.ID)
			assert.NoError(t, err)
		})
	}
}

func TestDiskStore_DetectsCorruptSnapshot(t *testing.T) {
	ctx := context.Background()
	db, err := fbadger.OpenInMemory()
	require.NoError(t, err)
	s, err := NewDiskStore(DiskConfig{SnapshotDir: t.TempDir(), Index: db})
	require.NoError(t, err)
	defer s.Close()

	rec, err := s.Create(ctx, "a.go", []byte("original"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(rec.SnapshotPath, []byte("tampered"), 0600))

	_, err = s.Read(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestOpenDiskStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	snapshots := filepath.Join(base, "snapshots")
	index := filepath.Join(base, "index")

	s, err := OpenDiskStore(snapshots, index, 0, nil)
	require.NoError(t, err)
	rec, err := s.Create(ctx, "pkg/a.go", []byte("package a\n"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := OpenDiskStore(snapshots, index, 0, nil)
	require.NoError(t, err)
	defer s2.Close()

	latest, err := s2.Latest(ctx, "pkg/a.go")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, latest.ID)

	content, err := s2.Read(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "package a\n", string(content))
}
