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
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for tests and dry runs.
type MemoryStore struct {
	mu        sync.RWMutex
	records   map[string]*Record
	content   map[string][]byte
	byPath    map[string][]string // oldest first
	retention int
	clock     *monotonicClock
}

// NewMemoryStore creates an empty store. retention <= 0 uses DefaultRetention.
func NewMemoryStore(retention int) *MemoryStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MemoryStore{
		records:   make(map[string]*Record),
		content:   make(map[string][]byte),
		byPath:    make(map[string][]string),
		retention: retention,
		clock:     &monotonicClock{now: time.Now},
	}
}

func (s *MemoryStore) Create(_ context.Context, path string, content []byte) (*Record, error) {
	rec := &Record{
		ID:           uuid.NewString(),
		OriginalPath: path,
		CreatedAt:    s.clock.Next(),
		Size:         int64(len(content)),
		Digest:       Digest(content),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.ID] = rec
	s.content[rec.ID] = append([]byte(nil), content...)
	s.byPath[path] = append(s.byPath[path], rec.ID)

	for _, victim := range pruneCandidates(s.listLocked(path, 0), s.retention) {
		delete(s.records, victim.ID)
		delete(s.content, victim.ID)
		ids := s.byPath[path]
		for i, id := range ids {
			if id == victim.ID {
				s.byPath[path] = append(ids[:i], ids[i+1:]...)
				break
			}
		}
	}

	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) Read(_ context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	content, ok := s.content[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return append([]byte(nil), content...), nil
}

func (s *MemoryStore) Latest(ctx context.Context, path string) (*Record, error) {
	records, _ := s.List(ctx, path, 1)
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoHistory, path)
	}
	return records[0], nil
}

func (s *MemoryStore) List(_ context.Context, path string, limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(path, limit), nil
}

func (s *MemoryStore) listLocked(path string, limit int) []*Record {
	ids := s.byPath[path]
	var out []*Record
	for i := len(ids) - 1; i >= 0; i-- {
		cp := *s.records[ids[i]]
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (s *MemoryStore) Pin(_ context.Context, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		rec, ok := s.records[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		rec.Pinned = true
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil
	}
	if rec.Pinned {
		return fmt.Errorf("%w: %s", ErrPinned, id)
	}
	delete(s.records, id)
	delete(s.content, id)
	ids := s.byPath[rec.OriginalPath]
	for i, v := range ids {
		if v == id {
			s.byPath[rec.OriginalPath] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }
