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
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_BackupAndRollback(t *testing.T) {
	v := newTestValidator()
	path := filepath.Join(t.TempDir(), "file.py")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0o644))

	backup := v.BackupFile(path, "original")
	assert.Equal(t, path, backup.Path)
	assert.Equal(t, "original", backup.Content)
	assert.False(t, backup.CreatedAt.IsZero())

	_, err := uuid.Parse(backup.ID)
	assert.NoError(t, err)

	sum := sha256.Sum256([]byte("original"))
	assert.Equal(t, hex.EncodeToString(sum[:]), backup.ContentHash)

	require.NoError(t, os.WriteFile(path, []byte("clobbered"), 0o644))

	restored, err := v.Rollback(path)
	require.NoError(t, err)
	assert.True(t, restored)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))

	// Rollback consumed the snapshot.
	_, held := v.Backup(path)
	assert.False(t, held)
}

func TestValidator_Rollback_NoBackup(t *testing.T) {
	v := newTestValidator()
	path := filepath.Join(t.TempDir(), "file.py")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o644))

	restored, err := v.Rollback(path)
	require.NoError(t, err)
	assert.False(t, restored)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "content", string(data), "file must be untouched")
}

func TestValidator_Backup_LastWriteWins(t *testing.T) {
	v := newTestValidator()
	path := filepath.Join(t.TempDir(), "file.py")

	first := v.BackupFile(path, "first")
	second := v.BackupFile(path, "second")
	assert.NotEqual(t, first.ID, second.ID)

	held, ok := v.Backup(path)
	require.True(t, ok)
	assert.Equal(t, "second", held.Content)

	restored, err := v.Rollback(path)
	require.NoError(t, err)
	assert.True(t, restored)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestValidator_ClearBackup(t *testing.T) {
	v := newTestValidator()
	path := filepath.Join(t.TempDir(), "file.py")

	v.BackupFile(path, "content")
	v.ClearBackup(path)

	restored, err := v.Rollback(path)
	require.NoError(t, err)
	assert.False(t, restored)

	// Clearing an absent slot is a no-op.
	v.ClearBackup(path)
}

func TestValidator_Backup_IndependentPaths(t *testing.T) {
	v := newTestValidator()
	dir := t.TempDir()
	a := filepath.Join(dir, "a.py")
	b := filepath.Join(dir, "b.py")

	v.BackupFile(a, "aaa")
	v.BackupFile(b, "bbb")
	v.ClearBackup(a)

	_, heldA := v.Backup(a)
	_, heldB := v.Backup(b)
	assert.False(t, heldA)
	assert.True(t, heldB)
}
