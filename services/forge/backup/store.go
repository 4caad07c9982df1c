// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package backup stores full-content snapshots taken immediately before an
// in-place write, so a file can be restored exactly.
//
// A Store is owned by one project root. Records are immutable once created
// apart from the Pinned flag, and are pruned per file by a retention limit.
package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"
)

// DefaultRetention is the number of snapshots kept per file.
const DefaultRetention = 10

var (
	// ErrNotFound is returned when a backup id is unknown.
	ErrNotFound = errors.New("backup not found")

	// ErrNoHistory is returned when a file has no backups.
	ErrNoHistory = errors.New("no backup history")

	// ErrCorrupt is returned when snapshot content no longer matches its digest.
	ErrCorrupt = errors.New("backup snapshot corrupt")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("backup store closed")

	// ErrPinned is returned when deleting a record undo history references.
	ErrPinned = errors.New("backup is pinned")
)

// Record is the metadata of one snapshot.
type Record struct {
	ID           string    `json:"id"`
	OriginalPath string    `json:"original_path"`
	SnapshotPath string    `json:"snapshot_path,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	Size         int64     `json:"size"`
	Digest       string    `json:"digest"`

	// Pinned records are referenced by undo history and never pruned.
	Pinned bool `json:"pinned,omitempty"`
}

// Store persists and retrieves snapshots for one project.
//
// Paths are root-relative, slash-separated.
type Store interface {
	// Create snapshots content for path and applies retention.
	Create(ctx context.Context, path string, content []byte) (*Record, error)

	// Get returns the record for id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// Read returns the snapshot content for id.
	Read(ctx context.Context, id string) ([]byte, error)

	// Latest returns the newest record for path, or ErrNoHistory.
	Latest(ctx context.Context, path string) (*Record, error)

	// List returns up to limit records for path, newest first. limit <= 0
	// means no limit.
	List(ctx context.Context, path string, limit int) ([]*Record, error)

	// Pin marks records as referenced by undo history.
	Pin(ctx context.Context, ids ...string) error

	// Delete removes an unpinned record and its content. Used to discard a
	// snapshot whose write never happened. Unknown ids are not an error.
	Delete(ctx context.Context, id string) error

	// Close releases resources.
	Close() error
}

// Digest returns the hex sha256 of content.
func Digest(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// monotonicClock hands out strictly increasing timestamps so records
// created within one clock tick still order deterministically.
type monotonicClock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func (c *monotonicClock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC()
	if !t.After(c.last) {
		t = c.last.Add(time.Nanosecond)
	}
	c.last = t
	return t
}

// pruneCandidates returns the records beyond retention that may be deleted.
// records must be newest first.
func pruneCandidates(records []*Record, retention int) []*Record {
	if retention <= 0 || len(records) <= retention {
		return nil
	}
	var out []*Record
	for _, r := range records[retention:] {
		if !r.Pinned {
			out = append(out, r)
		}
	}
	return out
}
