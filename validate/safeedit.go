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
	"context"
	"fmt"
	"os"
)

// SafeEdit validates an edit and writes it only when it is safe.
//
// Description:
//
//	Backs up the old content, runs ValidateEdit, and applies the new
//	content only when the edit introduces no new errors. A rejected
//	edit leaves the file untouched and the result carries the
//	validation detail explaining why; the backup stays held until the
//	caller clears or rolls it back. Only a durably applied edit clears
//	the backup.
//
//	Validation failures never surface as errors; the one condition that
//	does is a failed on-disk write of an approved edit, since a
//	requested mutation did not happen. When autoRollback is set, a
//	failed write is additionally restored from the backup.
//
// Outputs:
//
//	*SafeEditResult - Never nil.
//	error - Non-nil only when the disk write of an approved edit failed.
func (v *Validator) SafeEdit(ctx context.Context, path, oldContent, newContent string, autoRollback bool, level Level) (*SafeEditResult, error) {
	v.BackupFile(path, oldContent)

	validation := v.ValidateEdit(ctx, path, oldContent, newContent, level)
	result := &SafeEditResult{Validation: validation}

	if !validation.CanApply {
		result.Message = validation.Recommendation
		return result, nil
	}

	if err := os.WriteFile(path, []byte(newContent), fileMode(path)); err != nil {
		writeErr := fmt.Errorf("writing %s: %w", path, err)
		result.Message = writeErr.Error()
		if autoRollback {
			restored, rbErr := v.Rollback(path)
			result.RolledBack = restored
			if rbErr != nil {
				result.Message = fmt.Sprintf("%s; rollback also failed: %v", result.Message, rbErr)
			}
		}
		return result, writeErr
	}

	v.ClearBackup(path)
	result.Applied = true
	result.Message = validation.Recommendation
	return result, nil
}
