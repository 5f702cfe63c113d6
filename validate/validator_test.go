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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/codeintel/ast"
	"github.com/AleutianAI/codeintel/lsp"
)

const validPython = "def f():\n    return 1\n"
const brokenPython = "def f(:\n    return 1\n"

func newTestValidator(opts ...ValidatorOption) *Validator {
	return NewValidator(ast.NewEditor(), opts...)
}

func TestValidator_Validate_SyntaxOnly(t *testing.T) {
	v := newTestValidator()
	ctx := context.Background()

	t.Run("valid content passes", func(t *testing.T) {
		result := v.Validate(ctx, "/tmp/good.py", validPython, LevelSyntax)
		require.NotNil(t, result)
		assert.True(t, result.Valid)
		require.Len(t, result.Checks, 1)
		assert.Equal(t, CheckSyntax, result.Checks[0].Type)
		assert.True(t, result.Checks[0].Passed)
		assert.Empty(t, result.Errors)
	})

	t.Run("broken content fails with details", func(t *testing.T) {
		result := v.Validate(ctx, "/tmp/bad.py", brokenPython, LevelSyntax)
		assert.False(t, result.Valid)
		require.Len(t, result.Checks, 1)
		assert.False(t, result.Checks[0].Passed)
		assert.NotEmpty(t, result.Errors)
	})

	t.Run("unknown file type assumes valid", func(t *testing.T) {
		result := v.Validate(ctx, "/tmp/notes.txt", "anything at all", LevelSyntax)
		assert.True(t, result.Valid)
		assert.True(t, result.Checks[0].Passed)
		assert.Contains(t, result.Checks[0].Message, "no grammar")
	})
}

func TestValidator_Validate_MissingServer(t *testing.T) {
	// No lsp.Operations attached: the LSP stages must be recorded as
	// skipped-but-passed while the syntax outcome is still reported.
	v := newTestValidator()
	ctx := context.Background()

	result := v.Validate(ctx, "/tmp/bad.py", brokenPython, LevelLSPBasic)
	assert.False(t, result.Valid, "syntax failure must still surface")
	require.Len(t, result.Checks, 2)

	syntax, lspErrs := result.Checks[0], result.Checks[1]
	assert.False(t, syntax.Passed)
	assert.Equal(t, CheckLSPErrors, lspErrs.Type)
	assert.True(t, lspErrs.Passed)
	assert.Contains(t, lspErrs.Message, "unavailable")
}

func TestValidator_Validate_LevelStages(t *testing.T) {
	v := newTestValidator()
	ctx := context.Background()

	result := v.Validate(ctx, "/tmp/good.py", validPython, LevelComprehensive)
	assert.True(t, result.Valid)

	var types []CheckType
	for _, c := range result.Checks {
		types = append(types, c.Type)
	}
	assert.Equal(t, []CheckType{CheckSyntax, CheckLSPErrors, CheckLSPWarnings, CheckImports}, types)
}

func TestValidator_CustomChecks(t *testing.T) {
	ctx := context.Background()

	t.Run("error severity failure blocks validity", func(t *testing.T) {
		v := newTestValidator()
		v.RegisterCheck("always-fail", func(ctx context.Context, path, content string) Check {
			return Check{Passed: false, Severity: SeverityError, Message: "boom"}
		})

		result := v.Validate(ctx, "/tmp/good.py", validPython, LevelSyntax)
		assert.False(t, result.Valid)
		assert.Contains(t, result.Errors, "boom")

		last := result.Checks[len(result.Checks)-1]
		assert.Equal(t, CheckCustom, last.Type)
		assert.Equal(t, "always-fail", last.Name)
	})

	t.Run("warning severity failure never blocks", func(t *testing.T) {
		v := newTestValidator()
		v.RegisterCheck("style", func(ctx context.Context, path, content string) Check {
			return Check{Passed: false, Severity: SeverityWarning, Message: "nit"}
		})

		result := v.Validate(ctx, "/tmp/good.py", validPython, LevelSyntax)
		assert.True(t, result.Valid)
		assert.Contains(t, result.Warnings, "nit")
	})

	t.Run("blank severity defaults to warning", func(t *testing.T) {
		v := newTestValidator()
		v.RegisterCheck("lax", func(ctx context.Context, path, content string) Check {
			return Check{Passed: false, Message: "meh"}
		})

		result := v.Validate(ctx, "/tmp/good.py", validPython, LevelSyntax)
		assert.True(t, result.Valid)
	})

	t.Run("empty name or nil func ignored", func(t *testing.T) {
		v := newTestValidator()
		v.RegisterCheck("", func(ctx context.Context, path, content string) Check { return Check{} })
		v.RegisterCheck("nil-fn", nil)

		result := v.Validate(ctx, "/tmp/good.py", validPython, LevelSyntax)
		assert.Len(t, result.Checks, 1)
	})
}

func TestValidator_ValidateEdit(t *testing.T) {
	v := newTestValidator()
	ctx := context.Background()

	t.Run("identity edit always applies", func(t *testing.T) {
		for _, content := range []string{validPython, brokenPython, ""} {
			ev := v.ValidateEdit(ctx, "/tmp/f.py", content, content, LevelSyntax)
			assert.True(t, ev.CanApply)
			assert.Empty(t, ev.NewErrors)
			assert.Empty(t, ev.FixedErrors)
		}
	})

	t.Run("regression is rejected", func(t *testing.T) {
		ev := v.ValidateEdit(ctx, "/tmp/f.py", validPython, brokenPython, LevelSyntax)
		assert.False(t, ev.CanApply)
		assert.NotEmpty(t, ev.NewErrors)
		assert.Empty(t, ev.FixedErrors)
		assert.Contains(t, ev.Recommendation, "reject")
	})

	t.Run("fix is approved and counted", func(t *testing.T) {
		ev := v.ValidateEdit(ctx, "/tmp/f.py", brokenPython, validPython, LevelSyntax)
		assert.True(t, ev.CanApply)
		assert.Empty(t, ev.NewErrors)
		assert.NotEmpty(t, ev.FixedErrors)
		assert.Contains(t, ev.Recommendation, "fixes")
	})

	t.Run("both results are attached", func(t *testing.T) {
		ev := v.ValidateEdit(ctx, "/tmp/f.py", validPython, validPython, LevelSyntax)
		require.NotNil(t, ev.ValidationBefore)
		require.NotNil(t, ev.ValidationAfter)
		assert.True(t, ev.ValidationBefore.Valid)
		assert.True(t, ev.ValidationAfter.Valid)
	})
}

func TestSubtract(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []string
		expected []string
	}{
		{"disjoint", []string{"x", "y"}, []string{"z"}, []string{"x", "y"}},
		{"overlap", []string{"x", "y"}, []string{"y"}, []string{"x"}},
		{"identical", []string{"x", "y"}, []string{"x", "y"}, nil},
		{"empty a", nil, []string{"x"}, nil},
		{"empty b", []string{"x"}, nil, []string{"x"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, subtract(tc.a, tc.b))
		})
	}
}

func TestLanguageForPath(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"main.go", "go"},
		{"script.py", "python"},
		{"types.pyi", "python"},
		{"app.jsx", "javascript"},
		{"index.mts", "typescript"},
		{"lib.rs", "rust"},
		{"Main.java", "java"},
		{"core.h", "c"},
		{"engine.cc", "cpp"},
		{"view.hxx", "cpp"},
		{"util.cts", "typescript"},
		{"README.md", ""},
		{"Makefile", ""},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.expected, languageForPath(tc.path), tc.path)
	}
}

func TestLanguageForPath_CoversServerExtensions(t *testing.T) {
	// Every extension the default server registry routes must resolve to
	// the same language here, or syntax checks and diagnostics would
	// disagree about what a file is.
	registry := lsp.NewConfigRegistry()
	for _, ext := range registry.Extensions() {
		lang, ok := registry.LanguageForExtension(ext)
		require.True(t, ok, ext)
		assert.Equal(t, lang, languageForPath("file"+ext), ext)
	}
}

func TestLevel_String(t *testing.T) {
	assert.Equal(t, "syntax", LevelSyntax.String())
	assert.Equal(t, "lsp-basic", LevelLSPBasic.String())
	assert.Equal(t, "lsp-full", LevelLSPFull.String())
	assert.Equal(t, "comprehensive", LevelComprehensive.String())
	assert.Equal(t, "unknown", Level(42).String())
}

func TestImportRelated(t *testing.T) {
	assert.True(t, importRelated(`could not import "foo"`))
	assert.True(t, importRelated("Cannot find module 'react'"))
	assert.True(t, importRelated("unresolved import `serde`"))
	assert.False(t, importRelated("undefined variable x"))
}
