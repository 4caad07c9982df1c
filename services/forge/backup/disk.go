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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	fbadger "github.com/AleutianAI/AleutianForge/services/forge/storage/badger"
)

// =============================================================================
// Key Layout
// =============================================================================

// rec/<id>                               -> Record JSON
// file/<path>\x00<created-at nanos>/<id> -> id
const (
	recPrefix  = "rec/"
	filePrefix = "file/"
)

func recKey(id string) []byte {
	return []byte(recPrefix + id)
}

func filePathPrefix(path string) []byte {
	return []byte(filePrefix + path + "\x00")
}

func fileKey(r *Record) []byte {
	return []byte(fmt.Sprintf("%s%s\x00%020d/%s", filePrefix, r.OriginalPath, r.CreatedAt.UnixNano(), r.ID))
}

// =============================================================================
// DiskStore
// =============================================================================

// DiskConfig configures a DiskStore.
type DiskConfig struct {
	// SnapshotDir holds one <id>.bak file per backup.
	SnapshotDir string

	// Index is the Badger database holding record metadata.
	Index *fbadger.DB

	// Retention is the number of backups kept per file. Zero uses
	// DefaultRetention.
	Retention int

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DiskStore keeps snapshot content as files and metadata in Badger.
//
// # Thread Safety
//
// Safe for concurrent use. Badger serializes index updates; snapshot files
// are written under unique ids.
type DiskStore struct {
	dir       string
	index     *fbadger.DB
	retention int
	clock     *monotonicClock
	logger    *slog.Logger
	closed    atomic.Bool
}

// NewDiskStore creates a DiskStore. The store takes ownership of cfg.Index
// and closes it on Close.
func NewDiskStore(cfg DiskConfig) (*DiskStore, error) {
	if cfg.SnapshotDir == "" {
		return nil, errors.New("snapshot dir is required")
	}
	if cfg.Index == nil {
		return nil, errors.New("index database is required")
	}
	if err := os.MkdirAll(cfg.SnapshotDir, 0750); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}

	retention := cfg.Retention
	if retention == 0 {
		retention = DefaultRetention
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &DiskStore{
		dir:       cfg.SnapshotDir,
		index:     cfg.Index,
		retention: retention,
		clock:     &monotonicClock{now: time.Now},
		logger:    logger.With("component", "backup.DiskStore"),
	}, nil
}

// OpenDiskStore opens the index under indexDir and returns a DiskStore.
func OpenDiskStore(snapshotDir, indexDir string, retention int, logger *slog.Logger) (*DiskStore, error) {
	cfg := fbadger.DefaultConfig(indexDir)
	cfg.Logger = logger
	db, err := fbadger.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open backup index: %w", err)
	}
	store, err := NewDiskStore(DiskConfig{
		SnapshotDir: snapshotDir,
		Index:       db,
		Retention:   retention,
		Logger:      logger,
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Create snapshots content for path.
//
// # Description
//
// Writes and fsyncs the snapshot file first, then records it in the index.
// If indexing fails the snapshot file is removed. Retention pruning runs
// afterwards; a pruning failure is logged and does not fail the create.
func (s *DiskStore) Create(ctx context.Context, path string, content []byte) (*Record, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	rec := &Record{
		ID:           uuid.NewString(),
		OriginalPath: path,
		CreatedAt:    s.clock.Next(),
		Size:         int64(len(content)),
		Digest:       Digest(content),
	}
	rec.SnapshotPath = filepath.Join(s.dir, rec.ID+".bak")

	if err := writeSynced(rec.SnapshotPath, content); err != nil {
		return nil, fmt.Errorf("write snapshot: %w", err)
	}

	err := s.index.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := fbadger.PutJSON(txn, recKey(rec.ID), rec); err != nil {
			return err
		}
		return txn.Set(fileKey(rec), []byte(rec.ID))
	})
	if err != nil {
		_ = os.Remove(rec.SnapshotPath)
		return nil, fmt.Errorf("index snapshot: %w", err)
	}

	if err := s.prune(ctx, path); err != nil {
		s.logger.Warn("backup retention prune failed", "path", path, "error", err)
	}

	s.logger.Debug("backup created", "id", rec.ID, "path", path, "size", rec.Size)
	return rec, nil
}

// Get returns the record for id.
func (s *DiskStore) Get(ctx context.Context, id string) (*Record, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var rec Record
	err := s.index.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return fbadger.GetJSON(txn, recKey(id), &rec)
	})
	if errors.Is(err, fbadger.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Read returns snapshot content for id, verifying its digest.
func (s *DiskStore) Read(ctx context.Context, id string) ([]byte, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(rec.SnapshotPath)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", id, err)
	}
	if Digest(content) != rec.Digest {
		return nil, fmt.Errorf("%w: %s", ErrCorrupt, id)
	}
	return content, nil
}

// Latest returns the newest record for path.
func (s *DiskStore) Latest(ctx context.Context, path string) (*Record, error) {
	records, err := s.List(ctx, path, 1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoHistory, path)
	}
	return records[0], nil
}

// List returns records for path, newest first.
func (s *DiskStore) List(ctx context.Context, path string, limit int) ([]*Record, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var out []*Record
	err := s.index.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return fbadger.ScanPrefix(txn, filePathPrefix(path), true, func(_, val []byte) (bool, error) {
			var rec Record
			if err := fbadger.GetJSON(txn, recKey(string(val)), &rec); err != nil {
				if errors.Is(err, fbadger.ErrNotFound) {
					return true, nil
				}
				return false, err
			}
			out = append(out, &rec)
			return limit <= 0 || len(out) < limit, nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list backups for %s: %w", path, err)
	}
	return out, nil
}

// Pin marks records as referenced by undo history.
func (s *DiskStore) Pin(ctx context.Context, ids ...string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.index.WithTxn(ctx, func(txn *badger.Txn) error {
		for _, id := range ids {
			var rec Record
			if err := fbadger.GetJSON(txn, recKey(id), &rec); err != nil {
				if errors.Is(err, fbadger.ErrNotFound) {
					return fmt.Errorf("%w: %s", ErrNotFound, id)
				}
				return err
			}
			if rec.Pinned {
				continue
			}
			rec.Pinned = true
			if err := fbadger.PutJSON(txn, recKey(id), &rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes an unpinned record from the index, then its snapshot file.
func (s *DiskStore) Delete(ctx context.Context, id string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	var rec Record
	err := s.index.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := fbadger.GetJSON(txn, recKey(id), &rec); err != nil {
			return err
		}
		if rec.Pinned {
			return fmt.Errorf("%w: %s", ErrPinned, id)
		}
		if err := txn.Delete(recKey(id)); err != nil {
			return err
		}
		return txn.Delete(fileKey(&rec))
	})
	if errors.Is(err, fbadger.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete backup %s: %w", id, err)
	}
	if err := os.Remove(rec.SnapshotPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("remove deleted snapshot", "id", id, "error", err)
	}
	s.logger.Debug("backup deleted", "id", id, "path", rec.OriginalPath)
	return nil
}

// Close closes the index.
func (s *DiskStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.index.Close()
}

func (s *DiskStore) prune(ctx context.Context, path string) error {
	records, err := s.List(ctx, path, 0)
	if err != nil {
		return err
	}
	victims := pruneCandidates(records, s.retention)
	if len(victims) == 0 {
		return nil
	}

	err = s.index.WithTxn(ctx, func(txn *badger.Txn) error {
		for _, r := range victims {
			if err := txn.Delete(recKey(r.ID)); err != nil {
				return err
			}
			if err := txn.Delete(fileKey(r)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, r := range victims {
		if err := os.Remove(r.SnapshotPath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("remove pruned snapshot", "id", r.ID, "error", err)
		}
	}
	s.logger.Debug("pruned backups", "path", path, "count", len(victims))
	return nil
}

func writeSynced(path string, content []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return err
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
