// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package project derives the per-project identity and on-disk state layout
// shared by the backup store and the undo log.
package project

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrEmptyRoot is returned when no project root is given.
	ErrEmptyRoot = errors.New("project root is empty")

	// ErrPathEscapesRoot is returned when a path resolves outside the root.
	ErrPathEscapesRoot = errors.New("path escapes project root")
)

// Key returns the stable key for a project root.
//
// # Description
//
// The key is the hex sha256 prefix of the cleaned absolute root, so the same
// project always maps to the same state directory regardless of how the
// root was spelled by the caller.
func Key(root string) (string, error) {
	abs, err := Canonical(root)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:16]), nil
}

// Canonical returns the cleaned absolute form of root.
func Canonical(root string) (string, error) {
	if strings.TrimSpace(root) == "" {
		return "", ErrEmptyRoot
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve project root: %w", err)
	}
	return filepath.Clean(abs), nil
}

// Layout is the state directory layout of one project.
type Layout struct {
	Root      string
	Key       string
	StateDir  string
	Snapshots string
	Index     string
	Undo      string
}

// NewLayout computes the layout for root under stateDir.
//
// # Outputs
//
//   - Layout: Directories are not created; callers MkdirAll what they use.
func NewLayout(stateDir, root string) (Layout, error) {
	abs, err := Canonical(root)
	if err != nil {
		return Layout{}, err
	}
	key, err := Key(abs)
	if err != nil {
		return Layout{}, err
	}
	base := filepath.Join(stateDir, key)
	return Layout{
		Root:      abs,
		Key:       key,
		StateDir:  base,
		Snapshots: filepath.Join(base, "backups", "snapshots"),
		Index:     filepath.Join(base, "backups", "index"),
		Undo:      filepath.Join(base, "undo"),
	}, nil
}

// DefaultStateDir returns ~/.aleutian/forge, or a temp dir fallback when the
// home directory is unknown.
func DefaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "aleutian-forge")
	}
	return filepath.Join(home, ".aleutian", "forge")
}

// Resolve maps path (absolute or root-relative) to its absolute form and
// its slash-separated path relative to root.
//
// # Outputs
//
//   - abs: Absolute file path.
//   - rel: Root-relative path using forward slashes.
//   - err: ErrPathEscapesRoot if path is outside root.
func Resolve(root, path string) (abs string, rel string, err error) {
	if path == "" {
		return "", "", errors.New("path is empty")
	}
	if filepath.IsAbs(path) {
		abs = filepath.Clean(path)
	} else {
		abs = filepath.Join(root, path)
	}

	r, err := filepath.Rel(root, abs)
	if err != nil {
		return "", "", fmt.Errorf("%w: %s", ErrPathEscapesRoot, path)
	}
	if r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("%w: %s", ErrPathEscapesRoot, path)
	}
	return abs, filepath.ToSlash(r), nil
}
