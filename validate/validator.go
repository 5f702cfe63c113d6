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
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/codeintel/ast"
	"github.com/AleutianAI/codeintel/lsp"
)

// DefaultDiagnosticsWait bounds how long a validation run waits for the
// language server to publish diagnostics after a content sync.
const DefaultDiagnosticsWait = 2 * time.Second

// Validator runs staged validation over file content and edits.
//
// Description:
//
//	The syntax stage always runs locally through the ast editor. The
//	LSP stages are best-effort: when no server is configured, installed,
//	or reachable for the file's language, the stage is recorded as
//	skipped-but-passed so a missing tool never fails an edit that the
//	local check accepts.
//
// Thread Safety: Safe for concurrent use, except that two concurrent
// SafeEdit calls on the same path race on the shared backup slot.
type Validator struct {
	editor *ast.Editor
	ops    *lsp.Operations
	config ValidatorConfig

	diagnosticsWait time.Duration

	mu      sync.Mutex
	backups map[string]FileBackup

	checkMu sync.RWMutex
	custom  []namedCheck
}

type namedCheck struct {
	name string
	fn   CheckFunc
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithOperations attaches a language-server client used for the LSP
// validation stages. Without one, those stages are skipped.
func WithOperations(ops *lsp.Operations) ValidatorOption {
	return func(v *Validator) { v.ops = ops }
}

// WithConfig overrides the default validator configuration.
func WithConfig(cfg ValidatorConfig) ValidatorOption {
	return func(v *Validator) { v.config = cfg }
}

// WithDiagnosticsWait overrides the diagnostics settle window.
func WithDiagnosticsWait(d time.Duration) ValidatorOption {
	return func(v *Validator) {
		if d > 0 {
			v.diagnosticsWait = d
		}
	}
}

// NewValidator creates a Validator around the given syntax editor.
func NewValidator(editor *ast.Editor, opts ...ValidatorOption) *Validator {
	v := &Validator{
		editor:          editor,
		config:          DefaultValidatorConfig(),
		diagnosticsWait: DefaultDiagnosticsWait,
		backups:         make(map[string]FileBackup),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// RegisterCheck adds a custom validation stage. Custom stages run after
// the built-in ones, in registration order.
func (v *Validator) RegisterCheck(name string, fn CheckFunc) {
	if name == "" || fn == nil {
		return
	}
	v.checkMu.Lock()
	v.custom = append(v.custom, namedCheck{name: name, fn: fn})
	v.checkMu.Unlock()
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate runs the stages selected by level over the given content.
//
// Description:
//
//	Syntax always runs. LSP errors are fetched at LevelLSPBasic and
//	above, warnings at LevelLSPFull and above, and import resolution at
//	LevelComprehensive. Registered custom checks run last at every
//	level. Failures inside a stage degrade that stage; they never abort
//	the run or escape as errors.
//
// Outputs:
//
//	*Result - Never nil. Valid iff no error-severity check failed.
func (v *Validator) Validate(ctx context.Context, path, content string, level Level) *Result {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	result := &Result{}

	language := languageForPath(path)
	result.Checks = append(result.Checks, v.syntaxCheck(ctx, content, language))

	if level >= LevelLSPBasic {
		diags, available := v.lspDiagnostics(ctx, path, content)
		result.Checks = append(result.Checks, v.lspErrorCheck(diags, available))

		if level >= LevelLSPFull {
			result.Checks = append(result.Checks, v.lspWarningCheck(diags, available))
		}
		if level >= LevelComprehensive {
			result.Checks = append(result.Checks, v.importCheck(diags, available))
		}
	}

	v.checkMu.RLock()
	custom := v.custom
	v.checkMu.RUnlock()
	for _, c := range custom {
		check := c.fn(ctx, path, content)
		check.Type = CheckCustom
		if check.Name == "" {
			check.Name = c.name
		}
		if check.Severity == "" {
			check.Severity = SeverityWarning
		}
		result.Checks = append(result.Checks, check)
	}

	finalize(result)
	result.DurationMs = time.Since(start).Milliseconds()
	return result
}

// syntaxCheck runs the local tree-sitter parse.
func (v *Validator) syntaxCheck(ctx context.Context, content, language string) Check {
	check := Check{Type: CheckSyntax, Severity: SeverityError}

	if language == "" {
		check.Passed = true
		check.Message = "no grammar for file type; syntax assumed valid"
		return check
	}

	ok, issues := v.editor.IsValidSyntax(ctx, content, language)
	check.Passed = ok
	if ok {
		check.Message = "syntax valid"
		return check
	}

	check.Message = fmt.Sprintf("%d syntax issue(s)", len(issues))
	for _, issue := range issues {
		check.Details = append(check.Details, issue.String())
	}
	return check
}

// lspDiagnostics syncs content to the language server and collects the
// published diagnostics. The second return is false when no server is
// usable for the path, which callers record as a skip, not a failure.
func (v *Validator) lspDiagnostics(ctx context.Context, path, content string) ([]lsp.Diagnostic, bool) {
	if v.ops == nil || !v.ops.IsAvailable(path) {
		return nil, false
	}
	if err := v.ops.OpenDocument(ctx, path, content); err != nil {
		slog.Warn("validate: document sync failed, skipping lsp stages",
			"path", path, "error", err)
		return nil, false
	}
	return v.ops.Diagnostics(ctx, path, v.diagnosticsWait), true
}

// lspErrorCheck reports error-severity diagnostics.
func (v *Validator) lspErrorCheck(diags []lsp.Diagnostic, available bool) Check {
	check := Check{Type: CheckLSPErrors, Severity: SeverityError}
	if !available {
		check.Passed = true
		check.Message = "language server unavailable; stage skipped"
		return check
	}

	for _, d := range diags {
		if d.Severity == lsp.SeverityError {
			check.Details = append(check.Details, formatDiagnostic(d))
		}
	}
	check.Passed = len(check.Details) == 0
	if check.Passed {
		check.Message = "no language server errors"
	} else {
		check.Message = fmt.Sprintf("%d language server error(s)", len(check.Details))
	}
	return check
}

// lspWarningCheck reports warning-severity diagnostics.
func (v *Validator) lspWarningCheck(diags []lsp.Diagnostic, available bool) Check {
	check := Check{Type: CheckLSPWarnings, Severity: SeverityWarning}
	if !available {
		check.Passed = true
		check.Message = "language server unavailable; stage skipped"
		return check
	}

	for _, d := range diags {
		if d.Severity == lsp.SeverityWarning {
			check.Details = append(check.Details, formatDiagnostic(d))
		}
	}
	check.Passed = len(check.Details) == 0
	if check.Passed {
		check.Message = "no language server warnings"
	} else {
		check.Message = fmt.Sprintf("%d language server warning(s)", len(check.Details))
	}
	return check
}

// importCheck reports diagnostics that indicate unresolved imports.
func (v *Validator) importCheck(diags []lsp.Diagnostic, available bool) Check {
	check := Check{Type: CheckImports, Severity: SeverityError}
	if !available {
		check.Passed = true
		check.Message = "language server unavailable; stage skipped"
		return check
	}

	for _, d := range diags {
		if importRelated(d.Message) {
			check.Details = append(check.Details, formatDiagnostic(d))
		}
	}
	check.Passed = len(check.Details) == 0
	if check.Passed {
		check.Message = "imports resolve"
	} else {
		check.Message = fmt.Sprintf("%d unresolved import(s)", len(check.Details))
	}
	return check
}

// importRelated matches the diagnostic phrasings servers use for broken
// imports (gopls, pylsp, tsserver, rust-analyzer).
func importRelated(message string) bool {
	lower := strings.ToLower(message)
	for _, marker := range []string{
		"could not import",
		"cannot find module",
		"cannot find package",
		"unresolved import",
		"no required module provides",
		"unable to import",
		"import error",
	} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// finalize derives Valid, Errors, and Warnings from the checks.
func finalize(result *Result) {
	result.Valid = true
	for _, check := range result.Checks {
		if check.Passed {
			continue
		}
		lines := check.Details
		if len(lines) == 0 {
			lines = []string{check.Message}
		}
		switch check.Severity {
		case SeverityError:
			result.Valid = false
			result.Errors = append(result.Errors, lines...)
		case SeverityWarning:
			result.Warnings = append(result.Warnings, lines...)
		}
	}
}

// formatDiagnostic renders a diagnostic as "line N: source: message"
// with the line converted to 1-indexed.
func formatDiagnostic(d lsp.Diagnostic) string {
	if d.Source != "" {
		return fmt.Sprintf("line %d: %s: %s", d.Range.Start.Line+1, d.Source, d.Message)
	}
	return fmt.Sprintf("line %d: %s", d.Range.Start.Line+1, d.Message)
}

// =============================================================================
// EDIT VALIDATION
// =============================================================================

// ValidateEdit validates both sides of a proposed edit and diffs their
// error lists.
//
// Description:
//
//	Runs Validate over the old content, then over the new content. The
//	two runs are sequential because both sync the same document to the
//	language server and the didChange version order must match the
//	content order. NewErrors holds errors present only after the edit;
//	FixedErrors those present only before. CanApply is true iff
//	NewErrors is empty, no matter how many errors the edit fixes.
//
// Outputs:
//
//	*EditValidation - Never nil. ValidateEdit(path, A, A, level) always
//	yields empty NewErrors and FixedErrors with CanApply true.
func (v *Validator) ValidateEdit(ctx context.Context, path, oldContent, newContent string, level Level) *EditValidation {
	before := v.Validate(ctx, path, oldContent, level)
	after := v.Validate(ctx, path, newContent, level)

	ev := &EditValidation{
		ValidationBefore: before,
		ValidationAfter:  after,
		NewErrors:        subtract(after.Errors, before.Errors),
		FixedErrors:      subtract(before.Errors, after.Errors),
	}
	ev.CanApply = len(ev.NewErrors) == 0
	ev.Recommendation = recommend(ev)
	return ev
}

// subtract returns the members of a that are not in b, preserving order.
func subtract(a, b []string) []string {
	if len(a) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(b))
	for _, s := range b {
		seen[s] = struct{}{}
	}
	var out []string
	for _, s := range a {
		if _, ok := seen[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}

// recommend produces the human-readable verdict for an edit comparison.
func recommend(ev *EditValidation) string {
	switch {
	case !ev.CanApply:
		return fmt.Sprintf("reject: edit introduces %d new error(s), first: %s",
			len(ev.NewErrors), ev.NewErrors[0])
	case len(ev.FixedErrors) > 0:
		return fmt.Sprintf("apply: edit fixes %d error(s) and introduces none",
			len(ev.FixedErrors))
	default:
		return "apply: edit introduces no new errors"
	}
}

// =============================================================================
// LANGUAGE DETECTION
// =============================================================================

// languageForPath maps a file extension to a grammar identifier. Empty
// string for file types without a registered grammar.
func languageForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return "go"
	case ".py", ".pyi":
		return "python"
	case ".js", ".jsx", ".mjs", ".cjs":
		return "javascript"
	case ".ts", ".tsx", ".mts", ".cts":
		return "typescript"
	case ".rs":
		return "rust"
	case ".java":
		return "java"
	case ".c", ".h":
		return "c"
	case ".cpp", ".cc", ".cxx", ".hpp", ".hh", ".hxx":
		return "cpp"
	default:
		return ""
	}
}
