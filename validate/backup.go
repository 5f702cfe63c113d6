// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/google/uuid"
)

const defaultFileMode fs.FileMode = 0o644

// BackupFile stores an in-memory snapshot of the given content for the
// path. One slot per path: a second backup replaces the first.
func (v *Validator) BackupFile(path, content string) FileBackup {
	sum := sha256.Sum256([]byte(content))
	backup := FileBackup{
		ID:          uuid.NewString(),
		Path:        path,
		Content:     content,
		ContentHash: hex.EncodeToString(sum[:]),
		CreatedAt:   time.Now(),
	}

	v.mu.Lock()
	v.backups[path] = backup
	v.mu.Unlock()
	return backup
}

// Backup returns the held snapshot for a path, if any.
func (v *Validator) Backup(path string) (FileBackup, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	b, ok := v.backups[path]
	return b, ok
}

// Rollback rewrites the file from its held snapshot.
//
// Description:
//
//	Restores the exact content stored by the last BackupFile call for
//	the path and discards the snapshot. Without a snapshot the file is
//	left untouched and the call reports false.
//
// Outputs:
//
//	bool - True iff the file was restored.
//	error - Non-nil when a snapshot exists but the write failed; the
//	snapshot is retained in that case.
func (v *Validator) Rollback(path string) (bool, error) {
	v.mu.Lock()
	backup, ok := v.backups[path]
	v.mu.Unlock()
	if !ok {
		return false, nil
	}

	if err := os.WriteFile(path, []byte(backup.Content), fileMode(path)); err != nil {
		return false, fmt.Errorf("restoring %s from backup %s: %w", path, backup.ID, err)
	}

	v.mu.Lock()
	delete(v.backups, path)
	v.mu.Unlock()
	return true, nil
}

// ClearBackup discards the held snapshot for a path. No-op without one.
func (v *Validator) ClearBackup(path string) {
	v.mu.Lock()
	delete(v.backups, path)
	v.mu.Unlock()
}

// fileMode returns the file's current permission bits, or the default
// for files that do not exist yet.
func fileMode(path string) fs.FileMode {
	if info, err := os.Stat(path); err == nil {
		return info.Mode().Perm()
	}
	return defaultFileMode
}
