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
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/go-diff/diff"
	"golang.org/x/sync/errgroup"
)

// patchWorkers bounds the per-file validation concurrency.
const patchWorkers = 4

// ValidatePatch validates a unified diff against a project tree.
//
// Description:
//
//	Parses the diff, applies each file's hunks in memory, and runs
//	ValidateEdit over every touched file's before/after pair. Files are
//	validated concurrently; each file syncs its own document to the
//	language server so the didChange ordering constraint stays
//	per-file. Added lines are additionally scanned for dangerous call
//	patterns and hardcoded secrets. Nothing is written to disk.
//
// Inputs:
//
//	patchContent - Unified diff text, git-style a/ b/ prefixes allowed
//	projectRoot - Directory the diff paths are resolved against
//
// Outputs:
//
//	*PatchResult - Per-file edit validations, scanner findings, stats
//	error - Non-nil only when the context is cancelled
func (v *Validator) ValidatePatch(ctx context.Context, patchContent, projectRoot string, level Level) (*PatchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &PatchResult{
		Valid:       true,
		Files:       make(map[string]*EditValidation),
		ValidatedAt: time.Now(),
	}

	if lines := strings.Count(patchContent, "\n"); lines > v.config.MaxPatchLines {
		result.Valid = false
		result.Errors = append(result.Errors,
			fmt.Sprintf("patch exceeds maximum size: %d lines (max %d)", lines, v.config.MaxPatchLines))
		return result, nil
	}

	fileDiffs, err := diff.NewMultiFileDiffReader(strings.NewReader(patchContent)).ReadAllFiles()
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("invalid diff format: %v", err))
		return result, nil
	}
	result.Stats = patchStats(fileDiffs)

	patterns := newPatternScanner()
	secrets := newSecretScanner(v.config)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(patchWorkers)

	for _, fileDiff := range fileDiffs {
		fd := fileDiff
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			relPath := diffPath(fd)
			absPath := filepath.Join(projectRoot, relPath)

			if fd.NewName == "/dev/null" {
				// Deletion: nothing to validate beyond writability.
				if issue := writeIssue(absPath, relPath, true); issue != "" {
					mu.Lock()
					result.Errors = append(result.Errors, issue)
					mu.Unlock()
				}
				return nil
			}

			var original []byte
			if data, err := os.ReadFile(absPath); err == nil {
				original = data
			}

			patched, err := applyFileDiff(original, fd)
			if err != nil {
				mu.Lock()
				result.Errors = append(result.Errors,
					fmt.Sprintf("%s: cannot apply diff: %v", relPath, err))
				mu.Unlock()
				return nil
			}

			ev := v.ValidateEdit(gctx, absPath, string(original), string(patched), level)

			added := addedLines(fd)
			var findings []Finding
			if len(added) > 0 {
				findings = append(findings,
					patterns.Scan(gctx, added, languageForPath(relPath), relPath)...)
				findings = append(findings, secrets.Scan(added, relPath)...)
			}
			issue := writeIssue(absPath, relPath, false)

			mu.Lock()
			result.Files[relPath] = ev
			result.Findings = append(result.Findings, findings...)
			if issue != "" {
				result.Errors = append(result.Errors, issue)
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	determineValidity(result, v.config)
	return result, nil
}

// determineValidity derives the final flag from file verdicts, errors,
// and blocking findings.
func determineValidity(result *PatchResult, cfg ValidatorConfig) {
	if len(result.Errors) > 0 {
		result.Valid = false
		return
	}
	for _, ev := range result.Files {
		if !ev.CanApply {
			result.Valid = false
			return
		}
	}
	if cfg.BlockFindings {
		for _, f := range result.Findings {
			if f.Blocking {
				result.Valid = false
				return
			}
		}
	}
}

// diffPath resolves the file a diff entry refers to, stripping git's
// a/ and b/ prefixes.
func diffPath(fd *diff.FileDiff) string {
	path := fd.NewName
	if path == "" || path == "/dev/null" {
		path = fd.OrigName
	}
	path = strings.TrimPrefix(path, "a/")
	return strings.TrimPrefix(path, "b/")
}

// patchStats counts added and removed lines across all hunks.
func patchStats(fileDiffs []*diff.FileDiff) PatchStats {
	stats := PatchStats{FilesAffected: len(fileDiffs)}
	for _, fd := range fileDiffs {
		for _, hunk := range fd.Hunks {
			for _, line := range strings.Split(string(hunk.Body), "\n") {
				switch {
				case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
					stats.LinesAdded++
				case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
					stats.LinesRemoved++
				}
			}
		}
	}
	return stats
}

// applyFileDiff applies one file's hunks to its original content.
func applyFileDiff(original []byte, fd *diff.FileDiff) ([]byte, error) {
	if fd.OrigName == "/dev/null" || len(original) == 0 {
		// New file: the content is the added lines.
		var lines []string
		for _, hunk := range fd.Hunks {
			for _, line := range strings.Split(string(hunk.Body), "\n") {
				if strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++") {
					lines = append(lines, strings.TrimPrefix(line, "+"))
				}
			}
		}
		return []byte(strings.Join(lines, "\n")), nil
	}

	origLines := strings.Split(string(original), "\n")
	newLines := make([]string, 0, len(origLines))

	origIdx := 0
	for _, hunk := range fd.Hunks {
		hunkStart := int(hunk.OrigStartLine) - 1
		if hunkStart < origIdx {
			return nil, fmt.Errorf("hunks overlap at line %d", hunk.OrigStartLine)
		}
		for origIdx < hunkStart && origIdx < len(origLines) {
			newLines = append(newLines, origLines[origIdx])
			origIdx++
		}

		for _, line := range strings.Split(string(hunk.Body), "\n") {
			switch {
			case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
				newLines = append(newLines, strings.TrimPrefix(line, "+"))
			case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
				origIdx++
			case strings.HasPrefix(line, " ") || line == "":
				if origIdx < len(origLines) {
					newLines = append(newLines, origLines[origIdx])
					origIdx++
				}
			}
		}
	}

	for origIdx < len(origLines) {
		newLines = append(newLines, origLines[origIdx])
		origIdx++
	}
	return []byte(strings.Join(newLines, "\n")), nil
}

// addedLines extracts the + lines of a file diff as one blob for the
// scanners.
func addedLines(fd *diff.FileDiff) []byte {
	var out []byte
	for _, hunk := range fd.Hunks {
		for _, line := range strings.Split(string(hunk.Body), "\n") {
			if strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++") {
				out = append(out, strings.TrimPrefix(line, "+")...)
				out = append(out, '\n')
			}
		}
	}
	return out
}

// writeIssue reports why a path cannot be written, or empty when it can.
func writeIssue(absPath, relPath string, deletion bool) string {
	info, err := os.Stat(absPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Sprintf("%s: cannot stat: %v", relPath, err)
		}
		if deletion {
			return "" // already gone
		}
		// New file: the parent directory must be writable.
		parent, err := os.Stat(filepath.Dir(absPath))
		if err != nil || !parent.IsDir() || parent.Mode().Perm()&0o200 == 0 {
			return fmt.Sprintf("%s: parent directory not writable", relPath)
		}
		return ""
	}
	if info.Mode().Perm()&0o200 == 0 {
		return fmt.Sprintf("%s: not writable", relPath)
	}
	return ""
}
