// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ast provides syntax-aware search, replace, and symbol extraction
// over source code using tree-sitter grammars.
//
// The central type is Editor: it parses content with the grammar registered
// for the language, classifies the lexical context of every match (code,
// string, comment, docstring, import, decorator), and degrades to a
// regex-and-heuristics engine for languages without a grammar.
//
// Design principles:
//   - Language-agnostic: one editor, per-language grammar tables
//   - Degrade, never fail: public operations return empty results on
//     parse failures, not errors
//   - No map[string]interface{} - concrete types only
package ast

import (
	"errors"
	"fmt"
)

// DefaultMaxFileSize is the maximum content size the editor accepts (10MB).
const DefaultMaxFileSize = 10 * 1024 * 1024

// WarnFileSize is the content size above which a warning is logged (1MB).
const WarnFileSize = 1024 * 1024

// Sentinel errors for content validation.
var (
	// ErrFileTooLarge is returned when content exceeds the size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrInvalidContent is returned for content that is not valid UTF-8.
	ErrInvalidContent = errors.New("invalid content")

	// ErrNoGrammar is returned internally when no grammar is registered
	// for a language. Public operations convert it into fallback behavior.
	ErrNoGrammar = errors.New("no grammar registered")
)

// =============================================================================
// MATCH CONTEXT
// =============================================================================

// MatchContext classifies the lexical context a match was found in.
type MatchContext int

const (
	// ContextCode is executable code: anything not covered below.
	ContextCode MatchContext = iota

	// ContextString is a string literal.
	ContextString

	// ContextComment is a line or block comment.
	ContextComment

	// ContextDocstring is a string literal that is the first statement of
	// its enclosing function or class body.
	ContextDocstring

	// ContextImport is an import/include/use statement.
	ContextImport

	// ContextDecorator is a decorator, annotation, or attribute.
	ContextDecorator
)

// String returns the lowercase context name.
func (c MatchContext) String() string {
	switch c {
	case ContextCode:
		return "code"
	case ContextString:
		return "string"
	case ContextComment:
		return "comment"
	case ContextDocstring:
		return "docstring"
	case ContextImport:
		return "import"
	case ContextDecorator:
		return "decorator"
	default:
		return "unknown"
	}
}

// =============================================================================
// SPANS, MATCHES, SYMBOLS
// =============================================================================

// Span locates a region of source text. Lines are 1-indexed for external
// consumers; columns and byte offsets are 0-indexed.
type Span struct {
	StartLine   int `json:"start_line"`
	StartColumn int `json:"start_column"`
	EndLine     int `json:"end_line"`
	EndColumn   int `json:"end_column"`
	StartByte   int `json:"start_byte"`
	EndByte     int `json:"end_byte"`
}

// String renders the span as line:column for log output.
func (s Span) String() string {
	return fmt.Sprintf("%d:%d", s.StartLine, s.StartColumn)
}

// CodeMatch is one occurrence of a search string with its lexical context.
type CodeMatch struct {
	// Text is the matched text as it appears in the source.
	Text string `json:"text"`

	// Span locates the match.
	Span Span `json:"span"`

	// Context classifies where the match sits lexically.
	Context MatchContext `json:"context"`

	// NodeType is the grammar node type containing the match (empty in
	// fallback mode).
	NodeType string `json:"node_type,omitempty"`

	// ParentType is the containing node's parent type (empty in fallback
	// mode or at the root).
	ParentType string `json:"parent_type,omitempty"`

	// FullLine is the complete source line containing the match start.
	FullLine string `json:"full_line"`
}

// SymbolType categorizes an extracted symbol.
type SymbolType string

const (
	SymbolFunction SymbolType = "function"
	SymbolMethod   SymbolType = "method"
	SymbolClass    SymbolType = "class"
)

// CodeSymbol is a function, method, or class extracted from source.
type CodeSymbol struct {
	// Name is the declared identifier.
	Name string `json:"name"`

	// Type is the symbol category.
	Type SymbolType `json:"type"`

	// Span covers the whole declaration.
	Span Span `json:"span"`

	// Signature is the first line of the declaration.
	Signature string `json:"signature"`

	// Docstring is the documentation string attached to the body, if the
	// language convention carries one (Python-style first statement).
	Docstring string `json:"docstring,omitempty"`

	// Parent is the name of the enclosing class for methods.
	Parent string `json:"parent,omitempty"`

	// Children are nested symbols (methods of a class).
	Children []*CodeSymbol `json:"children,omitempty"`
}

// NodeInfo describes the smallest node covering a position. Diagnostic use.
type NodeInfo struct {
	Type    string       `json:"type"`
	Text    string       `json:"text"`
	Context MatchContext `json:"context"`
	Span    Span         `json:"span"`
}

// SyntaxIssue is one error or missing node found by a syntax check.
type SyntaxIssue struct {
	Line    int    `json:"line"` // 1-indexed
	Column  int    `json:"column"`
	Message string `json:"message"`
}

// String renders the issue for inclusion in validation output.
func (i SyntaxIssue) String() string {
	return fmt.Sprintf("line %d:%d: %s", i.Line, i.Column, i.Message)
}

// =============================================================================
// OPTIONS
// =============================================================================

// FindOptions controls match filtering in FindInCode.
type FindOptions struct {
	// IncludeStrings includes matches inside string literals and
	// docstrings.
	IncludeStrings bool

	// IncludeComments includes matches inside comments.
	IncludeComments bool

	// CaseSensitive controls search matching. Defaults to true via
	// DefaultFindOptions.
	CaseSensitive bool
}

// DefaultFindOptions returns the standard find configuration:
// case-sensitive, code-context matches only.
func DefaultFindOptions() FindOptions {
	return FindOptions{CaseSensitive: true}
}

// ReplaceOptions controls ReplaceInCode.
type ReplaceOptions struct {
	FindOptions

	// MaxReplacements bounds how many matches are replaced, in document
	// order. 0 means unlimited.
	MaxReplacements int
}

// DefaultReplaceOptions returns the standard replace configuration.
func DefaultReplaceOptions() ReplaceOptions {
	return ReplaceOptions{FindOptions: DefaultFindOptions()}
}
