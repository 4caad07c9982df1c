// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package editor

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/AleutianAI/AleutianForge/services/forge/backup"
)

// readFile reads content and the snapshot it was read at.
func readFile(abs string) ([]byte, Snapshot, error) {
	info, err := os.Stat(abs)
	if err != nil {
		return nil, Snapshot{}, err
	}
	if info.IsDir() {
		return nil, Snapshot{}, fmt.Errorf("is a directory")
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, Snapshot{}, err
	}
	return content, Snapshot{
		ModTime: info.ModTime(),
		Size:    info.Size(),
		Digest:  backup.Digest(content),
		Mode:    info.Mode().Perm(),
	}, nil
}

// readSnapshot returns the current snapshot of abs.
func readSnapshot(abs string) (Snapshot, error) {
	_, snap, err := readFile(abs)
	return snap, err
}

// checkSnapshot fails with *ConcurrentModificationError when abs no longer
// matches want. Modification time is compared first; the content digest
// covers writes that land within the file system's timestamp granularity.
func checkSnapshot(abs, rel string, want Snapshot) error {
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return &ConcurrentModificationError{Path: rel, ExpectedModTime: want.ModTime, ContentChanged: true}
		}
		return ioError("stat", rel, err)
	}
	if !info.ModTime().Equal(want.ModTime) {
		return &ConcurrentModificationError{Path: rel, ExpectedModTime: want.ModTime, ActualModTime: info.ModTime()}
	}
	if info.Size() != want.Size {
		return &ConcurrentModificationError{Path: rel, ExpectedModTime: want.ModTime, ActualModTime: info.ModTime(), ContentChanged: true}
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return ioError("read", rel, err)
	}
	if backup.Digest(content) != want.Digest {
		return &ConcurrentModificationError{Path: rel, ExpectedModTime: want.ModTime, ActualModTime: info.ModTime(), ContentChanged: true}
	}
	return nil
}

// writeAtomic replaces abs with content via a temp file in the same
// directory and a rename. When guard is non-nil the file must still match
// it immediately before the rename, otherwise nothing is written.
func writeAtomic(abs, rel string, content []byte, mode os.FileMode, guard *Snapshot) error {
	dir := filepath.Dir(abs)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(abs)+".forge-*")
	if err != nil {
		return ioError("create temp", rel, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		cleanup()
		return ioError("write", rel, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return ioError("sync", rel, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return ioError("close", rel, err)
	}
	if mode == 0 {
		mode = 0644
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		cleanup()
		return ioError("chmod", rel, err)
	}

	if guard != nil {
		if err := checkSnapshot(abs, rel, *guard); err != nil {
			cleanup()
			return err
		}
	}

	if err := os.Rename(tmpName, abs); err != nil {
		cleanup()
		return ioError("rename", rel, err)
	}
	return nil
}
