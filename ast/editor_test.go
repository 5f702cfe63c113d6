// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEditor(t *testing.T) {
	e := NewEditor()

	langs := e.SupportedLanguages()
	require.NotEmpty(t, langs)

	for _, lang := range []string{"python", "go", "javascript", "typescript", "rust", "java", "c", "cpp"} {
		assert.True(t, e.HasGrammar(lang), "grammar for %s", lang)
	}
	assert.False(t, e.HasGrammar("cobol"))
}

func TestEditor_FindInCode_Contexts(t *testing.T) {
	e := NewEditor()
	ctx := context.Background()

	source := `import os

# helper mentioned in a comment
def helper():
    "helper docstring"
    return "helper result"

helper()
`

	t.Run("code matches only by default", func(t *testing.T) {
		matches := e.FindInCode(ctx, source, "helper", "python", DefaultFindOptions())
		require.NotEmpty(t, matches)
		for _, m := range matches {
			assert.Equal(t, ContextCode, m.Context, "line %d: %s", m.Span.StartLine, m.FullLine)
		}
		// def helper and the call site
		assert.Len(t, matches, 2)
	})

	t.Run("include strings adds string and docstring matches", func(t *testing.T) {
		opts := DefaultFindOptions()
		opts.IncludeStrings = true
		matches := e.FindInCode(ctx, source, "helper", "python", opts)

		var contexts []MatchContext
		for _, m := range matches {
			contexts = append(contexts, m.Context)
		}
		assert.Contains(t, contexts, ContextDocstring)
		assert.Contains(t, contexts, ContextString)
		assert.Len(t, matches, 4)
	})

	t.Run("include comments adds comment matches", func(t *testing.T) {
		opts := DefaultFindOptions()
		opts.IncludeComments = true
		matches := e.FindInCode(ctx, source, "helper", "python", opts)

		var sawComment bool
		for _, m := range matches {
			if m.Context == ContextComment {
				sawComment = true
			}
		}
		assert.True(t, sawComment)
		assert.Len(t, matches, 3)
	})

	t.Run("import context always included", func(t *testing.T) {
		matches := e.FindInCode(ctx, source, "os", "python", DefaultFindOptions())
		require.NotEmpty(t, matches)
		assert.Equal(t, ContextImport, matches[0].Context)
	})
}

func TestEditor_FindInCode_DocstringVsString(t *testing.T) {
	e := NewEditor()
	ctx := context.Background()

	// The first "hello" is a docstring (first statement of the body), the
	// second is a plain string.
	source := "def f():\n    \"hello\"\n    return \"hello\"\n"

	opts := DefaultFindOptions()
	opts.IncludeStrings = true
	matches := e.FindInCode(ctx, source, "hello", "python", opts)

	require.Len(t, matches, 2)
	assert.Equal(t, ContextDocstring, matches[0].Context)
	assert.Equal(t, 2, matches[0].Span.StartLine)
	assert.Equal(t, ContextString, matches[1].Context)
	assert.Equal(t, 3, matches[1].Span.StartLine)
}

func TestEditor_FindInCode_ClassDocstring(t *testing.T) {
	e := NewEditor()
	ctx := context.Background()

	source := "class C:\n    \"class docs\"\n    x = \"class docs\"\n"

	opts := DefaultFindOptions()
	opts.IncludeStrings = true
	matches := e.FindInCode(ctx, source, "class docs", "python", opts)

	require.Len(t, matches, 2)
	assert.Equal(t, ContextDocstring, matches[0].Context)
	assert.Equal(t, ContextString, matches[1].Context)
}

func TestEditor_FindInCode_Decorator(t *testing.T) {
	e := NewEditor()
	ctx := context.Background()

	source := "@retry\ndef fetch():\n    pass\n"

	matches := e.FindInCode(ctx, source, "retry", "python", DefaultFindOptions())
	require.Len(t, matches, 1)
	assert.Equal(t, ContextDecorator, matches[0].Context)
}

func TestEditor_FindInCode_CaseSensitivity(t *testing.T) {
	e := NewEditor()
	ctx := context.Background()

	source := "def Helper():\n    helper = 1\n    return helper\n"

	sensitive := e.FindInCode(ctx, source, "Helper", "python", DefaultFindOptions())
	assert.Len(t, sensitive, 1)

	opts := DefaultFindOptions()
	opts.CaseSensitive = false
	insensitive := e.FindInCode(ctx, source, "HELPER", "python", opts)
	assert.Len(t, insensitive, 3)
}

func TestEditor_FindInCode_MatchDetails(t *testing.T) {
	e := NewEditor()
	ctx := context.Background()

	source := "x = compute()\n"
	matches := e.FindInCode(ctx, source, "compute", "python", DefaultFindOptions())

	require.Len(t, matches, 1)
	m := matches[0]
	assert.Equal(t, "compute", m.Text)
	assert.Equal(t, 1, m.Span.StartLine)
	assert.Equal(t, 4, m.Span.StartColumn)
	assert.Equal(t, "x = compute()", m.FullLine)
	assert.NotEmpty(t, m.NodeType)
}

func TestEditor_FindInCode_GoImportString(t *testing.T) {
	e := NewEditor()
	ctx := context.Background()

	source := "package main\n\nimport \"fmt\"\n\nfunc main() {\n\tfmt.Println(\"fmt\")\n}\n"

	// The import path string classifies Import, not String, so import
	// rewrites are findable without turning on string matching.
	matches := e.FindInCode(ctx, source, "fmt", "go", DefaultFindOptions())
	require.NotEmpty(t, matches)
	assert.Equal(t, ContextImport, matches[0].Context)

	var sawCode bool
	for _, m := range matches {
		if m.Context == ContextCode {
			sawCode = true
		}
	}
	assert.True(t, sawCode, "fmt.Println receiver should classify as code")
}

func TestEditor_FindInCode_EmptyAndDegenerate(t *testing.T) {
	e := NewEditor()
	ctx := context.Background()

	assert.Nil(t, e.FindInCode(ctx, "x = 1", "", "python", DefaultFindOptions()))
	assert.Nil(t, e.FindInCode(ctx, "", "x", "python", DefaultFindOptions()))
	assert.Nil(t, e.FindInCode(nil, "x = 1", "x", "python", DefaultFindOptions())) //nolint:staticcheck
	assert.Nil(t, e.FindInCode(ctx, "x = 1", "missing", "python", DefaultFindOptions()))
}

func TestEditor_FindInCode_OversizeContent(t *testing.T) {
	e := NewEditor(WithMaxFileSize(16))
	ctx := context.Background()

	content := strings.Repeat("x = 1\n", 100)
	assert.Nil(t, e.FindInCode(ctx, content, "x", "python", DefaultFindOptions()))
}

func TestEditor_ReplaceInCode(t *testing.T) {
	e := NewEditor()
	ctx := context.Background()

	t.Run("replaces code occurrences only", func(t *testing.T) {
		source := "def old_name():\n    \"calls old_name\"\n    pass\n\nold_name()\n"

		out, n := e.ReplaceInCode(ctx, source, "old_name", "new_name", "python", DefaultReplaceOptions())
		assert.Equal(t, 2, n)
		assert.Contains(t, out, "def new_name()")
		assert.Contains(t, out, "new_name()")
		// The docstring mention is untouched.
		assert.Contains(t, out, "calls old_name")
	})

	t.Run("max replacements bound in document order", func(t *testing.T) {
		source := "a()\na()\na()\n"
		opts := DefaultReplaceOptions()
		opts.MaxReplacements = 2

		out, n := e.ReplaceInCode(ctx, source, "a()", "b()", "python", opts)
		assert.Equal(t, 2, n)
		assert.Equal(t, "b()\nb()\na()\n", out)
	})

	t.Run("replacement longer than search", func(t *testing.T) {
		source := "x(); x(); x()\n"
		out, n := e.ReplaceInCode(ctx, source, "x()", "longer_name()", "python", DefaultReplaceOptions())
		assert.Equal(t, 3, n)
		assert.Equal(t, "longer_name(); longer_name(); longer_name()\n", out)
	})

	t.Run("no matches leaves content unchanged", func(t *testing.T) {
		source := "x = 1\n"
		out, n := e.ReplaceInCode(ctx, source, "absent", "z", "python", DefaultReplaceOptions())
		assert.Equal(t, 0, n)
		assert.Equal(t, source, out)
	})

	t.Run("replace is idempotent once applied", func(t *testing.T) {
		source := "old()\n"
		once, n1 := e.ReplaceInCode(ctx, source, "old", "fresh", "python", DefaultReplaceOptions())
		require.Equal(t, 1, n1)
		twice, n2 := e.ReplaceInCode(ctx, once, "old", "fresh", "python", DefaultReplaceOptions())
		assert.Equal(t, 0, n2)
		assert.Equal(t, once, twice)
	})
}

func TestEditor_GetSymbols_Python(t *testing.T) {
	e := NewEditor()
	ctx := context.Background()

	source := `"""module docs"""

def top():
    """top docs"""
    def inner():
        pass
    return inner

class Shape:
    """a shape"""

    def area(self):
        return 0

    def name(self):
        return "shape"

def bottom():
    pass
`

	syms := e.GetSymbols(ctx, source, "python")
	require.Len(t, syms, 3)

	assert.Equal(t, "top", syms[0].Name)
	assert.Equal(t, SymbolFunction, syms[0].Type)
	assert.Equal(t, "top docs", syms[0].Docstring)
	assert.Equal(t, "def top():", syms[0].Signature)

	shape := syms[1]
	assert.Equal(t, "Shape", shape.Name)
	assert.Equal(t, SymbolClass, shape.Type)
	assert.Equal(t, "a shape", shape.Docstring)
	require.Len(t, shape.Children, 2)
	assert.Equal(t, "area", shape.Children[0].Name)
	assert.Equal(t, SymbolMethod, shape.Children[0].Type)
	assert.Equal(t, "Shape", shape.Children[0].Parent)

	assert.Equal(t, "bottom", syms[2].Name)
}

func TestEditor_GetSymbols_Go(t *testing.T) {
	e := NewEditor()
	ctx := context.Background()

	source := `package main

type Greeter struct {
	name string
}

func (g *Greeter) Greet() string {
	return "hi " + g.name
}

func NewGreeter(name string) *Greeter {
	return &Greeter{name: name}
}
`

	syms := e.GetSymbols(ctx, source, "go")
	require.Len(t, syms, 3)

	assert.Equal(t, "Greeter", syms[0].Name)
	assert.Equal(t, SymbolClass, syms[0].Type)

	assert.Equal(t, "Greet", syms[1].Name)
	assert.Equal(t, SymbolMethod, syms[1].Type)

	assert.Equal(t, "NewGreeter", syms[2].Name)
	assert.Equal(t, SymbolFunction, syms[2].Type)
}

func TestEditor_GetSymbols_NoGrammar(t *testing.T) {
	e := NewEditor()
	assert.Nil(t, e.GetSymbols(context.Background(), "whatever", "brainfuck"))
}

func TestEditor_FindSymbol(t *testing.T) {
	e := NewEditor()
	ctx := context.Background()

	source := `class Store:
    def get(self):
        pass

def get():
    pass
`

	t.Run("by name only returns first in document order", func(t *testing.T) {
		sym := e.FindSymbol(ctx, source, "get", "python", "")
		require.NotNil(t, sym)
		assert.Equal(t, SymbolMethod, sym.Type)
	})

	t.Run("by name and type", func(t *testing.T) {
		sym := e.FindSymbol(ctx, source, "get", "python", SymbolFunction)
		require.NotNil(t, sym)
		assert.Equal(t, SymbolFunction, sym.Type)
		assert.Empty(t, sym.Parent)
	})

	t.Run("absent symbol", func(t *testing.T) {
		assert.Nil(t, e.FindSymbol(ctx, source, "missing", "python", ""))
	})
}

func TestEditor_IsValidSyntax(t *testing.T) {
	e := NewEditor()
	ctx := context.Background()

	t.Run("valid python", func(t *testing.T) {
		ok, issues := e.IsValidSyntax(ctx, "def f():\n    return 1\n", "python")
		assert.True(t, ok)
		assert.Empty(t, issues)
	})

	t.Run("invalid python", func(t *testing.T) {
		ok, issues := e.IsValidSyntax(ctx, "def f(:\n    return\n", "python")
		assert.False(t, ok)
		require.NotEmpty(t, issues)
		assert.Greater(t, issues[0].Line, 0)
	})

	t.Run("valid go", func(t *testing.T) {
		ok, _ := e.IsValidSyntax(ctx, "package main\n\nfunc main() {}\n", "go")
		assert.True(t, ok)
	})

	t.Run("invalid go", func(t *testing.T) {
		ok, issues := e.IsValidSyntax(ctx, "package main\n\nfunc main() {\n", "go")
		assert.False(t, ok)
		assert.NotEmpty(t, issues)
	})

	t.Run("no grammar assumes valid", func(t *testing.T) {
		ok, issues := e.IsValidSyntax(ctx, "anything at all", "cobol")
		assert.True(t, ok)
		assert.Empty(t, issues)
	})
}

func TestEditor_GetNodeAtPosition(t *testing.T) {
	e := NewEditor()
	ctx := context.Background()

	source := "def f():\n    \"docs\"\n    return 1\n"

	t.Run("docstring position", func(t *testing.T) {
		info := e.GetNodeAtPosition(ctx, source, "python", 2, 6)
		require.NotNil(t, info)
		assert.Equal(t, ContextDocstring, info.Context)
	})

	t.Run("code position", func(t *testing.T) {
		info := e.GetNodeAtPosition(ctx, source, "python", 3, 4)
		require.NotNil(t, info)
		assert.Equal(t, ContextCode, info.Context)
	})

	t.Run("invalid position", func(t *testing.T) {
		assert.Nil(t, e.GetNodeAtPosition(ctx, source, "python", 0, 0))
		assert.Nil(t, e.GetNodeAtPosition(ctx, source, "python", 1, -1))
	})

	t.Run("no grammar", func(t *testing.T) {
		assert.Nil(t, e.GetNodeAtPosition(ctx, source, "cobol", 1, 0))
	})
}

func TestStripQuotes(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{`"""triple"""`, "triple"},
		{`'''triple'''`, "triple"},
		{`"plain"`, "plain"},
		{`'single'`, "single"},
		{"`raw`", "raw"},
		{`"""  padded  """`, "padded"},
		{`bare`, "bare"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.expected, stripQuotes(tc.in), "input %q", tc.in)
	}
}

func TestFindOccurrences(t *testing.T) {
	t.Run("case sensitive", func(t *testing.T) {
		offsets := findOccurrences("abcABCabc", "abc", true)
		assert.Equal(t, []int{0, 6}, offsets)
	})

	t.Run("case insensitive", func(t *testing.T) {
		offsets := findOccurrences("abcABCabc", "abc", false)
		assert.Equal(t, []int{0, 3, 6}, offsets)
	})

	t.Run("non-overlapping advance", func(t *testing.T) {
		offsets := findOccurrences("aaaa", "aa", true)
		assert.Equal(t, []int{0, 2}, offsets)
	})
}

func TestSpanGeometry(t *testing.T) {
	content := "first\nsecond\nthird"
	lines := lineStarts(content)

	require.Equal(t, []int{0, 6, 13}, lines)

	span := spanFor(lines, 6, 12) // "second"
	assert.Equal(t, 2, span.StartLine)
	assert.Equal(t, 0, span.StartColumn)
	assert.Equal(t, 2, span.EndLine)
	assert.Equal(t, 6, span.EndColumn)

	assert.Equal(t, "second", lineAt(content, lines, 1))
	assert.Equal(t, "third", lineAt(content, lines, 2))
	assert.Equal(t, "", lineAt(content, lines, 7))
}
