// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package undo keeps an append-only history of committed multi-file
// operations and restores them from their backups.
package undo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	fbadger "github.com/AleutianAI/AleutianForge/services/forge/storage/badger"
)

var (
	// ErrNoHistory is returned by Undo when no entry is left to undo.
	ErrNoHistory = errors.New("no undo history")

	// ErrEntryNotFound is returned for an unknown entry id.
	ErrEntryNotFound = errors.New("undo entry not found")
)

// File is one file of an entry and the backup holding its content from
// before the operation.
type File struct {
	Path     string `json:"path"`
	BackupID string `json:"backup_id"`

	// Digest is the content the operation left on disk. Undo refuses to
	// restore over anything else. Empty for entries recorded without it.
	Digest string `json:"digest,omitempty"`
}

// Entry is one undoable operation. Only Undone and UndoneAt change after
// the entry is appended.
type Entry struct {
	ID          string          `json:"id"`
	Seq         uint64          `json:"seq"`
	Operation   string          `json:"operation"`
	Description string          `json:"description"`
	Descriptor  json.RawMessage `json:"descriptor,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Files       []File          `json:"files"`
	Undone      bool            `json:"undone"`
	UndoneAt    *time.Time      `json:"undone_at,omitempty"`
}

// Log persists entries in append order.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Log interface {
	// Append assigns e.Seq and stores e.
	Append(ctx context.Context, e *Entry) error

	// Entries returns up to limit entries, newest first. limit <= 0 means
	// no limit.
	Entries(ctx context.Context, limit int, includeUndone bool) ([]*Entry, error)

	// LatestActive returns the newest entry not yet undone, or
	// ErrNoHistory.
	LatestActive(ctx context.Context) (*Entry, error)

	// MarkUndone flags entry id as undone at the given time.
	MarkUndone(ctx context.Context, id string, at time.Time) error

	// Close releases resources.
	Close() error
}

// =============================================================================
// Badger
// =============================================================================

// entry/<seq>   -> Entry JSON
// id/<id>       -> seq key
const (
	entryPrefix = "entry/"
	idPrefix    = "id/"
	seqKey      = "seq/entry"
)

func entryKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", entryPrefix, seq))
}

// BadgerLog is a Log stored in a Badger database.
type BadgerLog struct {
	db  *fbadger.DB
	seq *badger.Sequence
	mu  sync.Mutex
}

// NewBadgerLog creates a log over db and takes ownership of it.
func NewBadgerLog(db *fbadger.DB) (*BadgerLog, error) {
	if db == nil {
		return nil, errors.New("badger database is required")
	}
	seq, err := db.GetSequence([]byte(seqKey), 32)
	if err != nil {
		return nil, fmt.Errorf("undo sequence: %w", err)
	}
	return &BadgerLog{db: db, seq: seq}, nil
}

// OpenBadgerLog opens the database under dir.
func OpenBadgerLog(dir string, cfg fbadger.Config) (*BadgerLog, error) {
	cfg.Path = dir
	db, err := fbadger.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open undo log: %w", err)
	}
	l, err := NewBadgerLog(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// Append implements Log.
func (l *BadgerLog) Append(ctx context.Context, e *Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	n, err := l.seq.Next()
	if err != nil {
		return fmt.Errorf("next undo sequence: %w", err)
	}
	e.Seq = n + 1
	return l.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := fbadger.PutJSON(txn, entryKey(e.Seq), e); err != nil {
			return err
		}
		return txn.Set([]byte(idPrefix+e.ID), entryKey(e.Seq))
	})
}

// Entries implements Log.
func (l *BadgerLog) Entries(ctx context.Context, limit int, includeUndone bool) ([]*Entry, error) {
	var out []*Entry
	err := l.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return fbadger.ScanPrefix(txn, []byte(entryPrefix), true, func(_, val []byte) (bool, error) {
			var e Entry
			if err := json.Unmarshal(val, &e); err != nil {
				return false, fmt.Errorf("decode undo entry: %w", err)
			}
			if e.Undone && !includeUndone {
				return true, nil
			}
			out = append(out, &e)
			return limit <= 0 || len(out) < limit, nil
		})
	})
	return out, err
}

// LatestActive implements Log.
func (l *BadgerLog) LatestActive(ctx context.Context) (*Entry, error) {
	entries, err := l.Entries(ctx, 1, false)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNoHistory
	}
	return entries[0], nil
}

// MarkUndone implements Log.
func (l *BadgerLog) MarkUndone(ctx context.Context, id string, at time.Time) error {
	return l.db.WithTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(idPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
		}
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		var e Entry
		if err := fbadger.GetJSON(txn, key, &e); err != nil {
			return err
		}
		e.Undone = true
		e.UndoneAt = &at
		return fbadger.PutJSON(txn, key, &e)
	})
}

// Close releases the sequence lease and closes the database.
func (l *BadgerLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.seq.Release(); err != nil {
		l.db.Close()
		return fmt.Errorf("release undo sequence: %w", err)
	}
	return l.db.Close()
}

// =============================================================================
// Memory
// =============================================================================

// MemoryLog is an in-memory Log.
type MemoryLog struct {
	mu      sync.Mutex
	entries []*Entry
}

// NewMemoryLog creates an empty MemoryLog.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

// Append implements Log.
func (l *MemoryLog) Append(_ context.Context, e *Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.Seq = uint64(len(l.entries) + 1)
	cp := *e
	l.entries = append(l.entries, &cp)
	return nil
}

// Entries implements Log.
func (l *MemoryLog) Entries(_ context.Context, limit int, includeUndone bool) ([]*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*Entry
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if e.Undone && !includeUndone {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// LatestActive implements Log.
func (l *MemoryLog) LatestActive(ctx context.Context) (*Entry, error) {
	entries, _ := l.Entries(ctx, 1, false)
	if len(entries) == 0 {
		return nil, ErrNoHistory
	}
	return entries[0], nil
}

// MarkUndone implements Log.
func (l *MemoryLog) MarkUndone(_ context.Context, id string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.ID == id {
			e.Undone = true
			e.UndoneAt = &at
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
}

// Close implements Log.
func (l *MemoryLog) Close() error { return nil }
