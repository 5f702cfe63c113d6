// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validate runs multi-stage validation over source edits.
//
// The Validator combines the local syntax check from the ast package with
// language-server diagnostics from the lsp package. Callers pick a Level;
// higher levels add slower, more thorough stages. ValidateEdit compares the
// diagnostic sets before and after a proposed edit and only approves edits
// that introduce zero new errors. SafeEdit wraps that comparison with an
// in-memory backup so a rejected or failed write never loses the original.
package validate

import (
	"context"
	"time"
)

// =============================================================================
// VALIDATION LEVELS AND CHECKS
// =============================================================================

// Level selects how much validation to run. Higher levels include all
// stages of the lower ones.
type Level int

const (
	// LevelSyntax runs only the local tree-sitter syntax check.
	LevelSyntax Level = iota

	// LevelLSPBasic adds language-server error diagnostics.
	LevelLSPBasic

	// LevelLSPFull adds language-server warning diagnostics.
	LevelLSPFull

	// LevelComprehensive adds the import-resolution stage.
	LevelComprehensive
)

// String returns a human-readable level name.
func (l Level) String() string {
	switch l {
	case LevelSyntax:
		return "syntax"
	case LevelLSPBasic:
		return "lsp-basic"
	case LevelLSPFull:
		return "lsp-full"
	case LevelComprehensive:
		return "comprehensive"
	default:
		return "unknown"
	}
}

// CheckType identifies a validation stage.
type CheckType string

const (
	CheckSyntax      CheckType = "syntax"
	CheckLSPErrors   CheckType = "lsp_errors"
	CheckLSPWarnings CheckType = "lsp_warnings"
	CheckImports     CheckType = "imports"
	CheckTypeCheck   CheckType = "type_check"
	CheckCustom      CheckType = "custom"
)

// Severity classifies how a failed check affects validity. Only
// SeverityError failures make a result invalid.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Check is the outcome of one validation stage.
type Check struct {
	// Type is the stage that produced this check.
	Type CheckType `json:"type"`

	// Name distinguishes custom checks; empty for built-in stages.
	Name string `json:"name,omitempty"`

	// Passed reports whether the stage found no problems.
	Passed bool `json:"passed"`

	// Message is a one-line summary of the outcome.
	Message string `json:"message"`

	// Details lists individual findings, one per line.
	Details []string `json:"details,omitempty"`

	// Severity decides whether a failure blocks validity.
	Severity Severity `json:"severity"`
}

// CheckFunc is a caller-registered validation stage. It receives the
// path and the content under validation and returns one Check.
type CheckFunc func(ctx context.Context, path, content string) Check

// Result is the outcome of a full Validate run.
type Result struct {
	// Valid is true iff no error-severity check failed. Warnings never
	// block validity.
	Valid bool `json:"valid"`

	// Checks holds the per-stage outcomes in execution order.
	Checks []Check `json:"checks"`

	// Errors flattens the details of failed error-severity checks.
	Errors []string `json:"errors,omitempty"`

	// Warnings flattens the details of failed warning-severity checks.
	Warnings []string `json:"warnings,omitempty"`

	// DurationMs is the wall-clock time the run took.
	DurationMs int64 `json:"duration_ms"`
}

// =============================================================================
// EDIT VALIDATION
// =============================================================================

// EditValidation compares validation outcomes before and after an edit.
type EditValidation struct {
	// CanApply is true iff the edit introduces zero new errors,
	// regardless of how many it fixes.
	CanApply bool `json:"can_apply"`

	// ValidationBefore is the result for the original content.
	ValidationBefore *Result `json:"validation_before"`

	// ValidationAfter is the result for the edited content.
	ValidationAfter *Result `json:"validation_after"`

	// NewErrors are errors present after the edit but not before.
	NewErrors []string `json:"new_errors,omitempty"`

	// FixedErrors are errors present before the edit but not after.
	FixedErrors []string `json:"fixed_errors,omitempty"`

	// Recommendation is a human-readable verdict.
	Recommendation string `json:"recommendation"`
}

// FileBackup is an in-memory snapshot of one file. One slot per path;
// a later backup of the same path replaces the earlier one.
type FileBackup struct {
	// ID uniquely identifies this snapshot.
	ID string `json:"id"`

	// Path is the absolute file path the snapshot belongs to.
	Path string `json:"path"`

	// Content is the full file content at backup time.
	Content string `json:"content"`

	// ContentHash is the hex SHA-256 of Content.
	ContentHash string `json:"content_hash"`

	// CreatedAt is when the snapshot was taken.
	CreatedAt time.Time `json:"created_at"`
}

// SafeEditResult reports what SafeEdit did.
type SafeEditResult struct {
	// Applied is true iff the new content was written to disk.
	Applied bool `json:"applied"`

	// RolledBack is true if a failed write was restored from backup.
	RolledBack bool `json:"rolled_back"`

	// Validation is the before/after comparison that drove the decision.
	Validation *EditValidation `json:"validation"`

	// Message explains the outcome.
	Message string `json:"message"`
}

// =============================================================================
// PATCH VALIDATION AND SCANNING
// =============================================================================

// PatchStats counts the shape of a unified diff.
type PatchStats struct {
	LinesAdded    int `json:"lines_added"`
	LinesRemoved  int `json:"lines_removed"`
	FilesAffected int `json:"files_affected"`
}

// PatchResult is the outcome of validating a unified diff.
type PatchResult struct {
	// Valid is true iff the diff parsed, every touched file's edit can
	// apply, and no blocking finding was raised.
	Valid bool `json:"valid"`

	// Stats summarizes the diff.
	Stats PatchStats `json:"stats"`

	// Files maps each touched path (relative to the project root) to
	// its edit validation.
	Files map[string]*EditValidation `json:"files,omitempty"`

	// Errors holds diff-level problems: size, parse, apply failures.
	Errors []string `json:"errors,omitempty"`

	// Findings holds scanner output for the added lines.
	Findings []Finding `json:"findings,omitempty"`

	// ValidatedAt is when validation occurred.
	ValidatedAt time.Time `json:"validated_at"`
}

// Finding is one scanner hit: a dangerous call pattern or a hardcoded
// secret in added content.
type Finding struct {
	// Rule names the pattern that matched.
	Rule string `json:"rule"`

	// File is the path the finding was located in.
	File string `json:"file"`

	// Line is the 1-indexed line number.
	Line int `json:"line"`

	// Severity classifies the finding.
	Severity Severity `json:"severity"`

	// Message describes the problem.
	Message string `json:"message"`

	// Suggestion describes how to fix it, when known.
	Suggestion string `json:"suggestion,omitempty"`

	// Blocking marks findings that invalidate a patch when the
	// validator config says findings block.
	Blocking bool `json:"blocking"`
}

// DangerousPattern describes a call pattern the scanner flags.
type DangerousPattern struct {
	// Name identifies the pattern in findings.
	Name string

	// NodeType is the tree-sitter node kind to inspect; empty matches
	// any node.
	NodeType string

	// FuncNames are callee names that trigger the pattern.
	FuncNames []string

	// Severity classifies resulting findings.
	Severity Severity

	// Message describes the risk.
	Message string

	// Suggestion describes the safer alternative.
	Suggestion string

	// Blocking marks the pattern as patch-invalidating.
	Blocking bool
}

// SecretPattern describes a regex the secret scanner applies per line.
type SecretPattern struct {
	// Name identifies the pattern in findings.
	Name string

	// Pattern is the regex source.
	Pattern string

	// MinEntropy overrides the config entropy floor; 0 uses the default.
	MinEntropy float64

	// Message describes the finding.
	Message string
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// ValidatorConfig tunes the validator's patch and scanner behavior.
type ValidatorConfig struct {
	// MaxPatchLines rejects unified diffs longer than this many lines.
	MaxPatchLines int

	// BlockFindings makes blocking findings invalidate patches.
	BlockFindings bool

	// AllowlistPaths are glob patterns the secret scanner skips.
	AllowlistPaths []string

	// MinSecretEntropy is the Shannon-entropy floor below which a
	// secret-pattern match is discarded as a false positive.
	MinSecretEntropy float64
}

// DefaultValidatorConfig returns the default configuration.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxPatchLines: 500,
		BlockFindings: true,
		AllowlistPaths: []string{
			"*_test.go",
			"test_*.py",
			"*.test.js",
			"*.test.ts",
			"**/testdata/**",
			"**/fixtures/**",
			"**/__tests__/**",
		},
		MinSecretEntropy: 3.5,
	}
}
