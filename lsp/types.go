// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lsp implements a Language Server Protocol client: JSON-RPC 2.0
// framing over subprocess stdio, per-language server lifecycle management,
// and the high-level operations (definition, references, hover, symbols,
// completion, diagnostics) consumed by the validation layer.
//
// The package is a protocol client only. It never implements a language
// server, and a missing server binary is an expected condition: operations
// degrade to empty results rather than failing the caller.
package lsp

import "encoding/json"

// =============================================================================
// BASE TYPES
// =============================================================================

// Position is a zero-indexed line/character position in a document,
// per LSP convention.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range is a half-open [start, end) span in a document.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Location is a range within a document identified by URI.
type Location struct {
	URI   string `json:"uri"`
	Range Range  `json:"range"`
}

// StartLine returns the 1-indexed start line for external consumers.
// The wire format stays zero-indexed; only the accessor converts.
func (l Location) StartLine() int { return l.Range.Start.Line + 1 }

// EndLine returns the 1-indexed end line for external consumers.
func (l Location) EndLine() int { return l.Range.End.Line + 1 }

// LocationLink is the richer definition-response shape some servers return
// instead of a plain Location.
type LocationLink struct {
	OriginSelectionRange *Range `json:"originSelectionRange,omitempty"`
	TargetURI            string `json:"targetUri"`
	TargetRange          Range  `json:"targetRange"`
	TargetSelectionRange Range  `json:"targetSelectionRange"`
}

// =============================================================================
// TEXT DOCUMENT TYPES
// =============================================================================

// TextDocumentIdentifier identifies a document by URI.
type TextDocumentIdentifier struct {
	URI string `json:"uri"`
}

// VersionedTextDocumentIdentifier carries the client's version counter.
type VersionedTextDocumentIdentifier struct {
	URI     string `json:"uri"`
	Version int    `json:"version"`
}

// TextDocumentItem is the full document payload sent in didOpen.
type TextDocumentItem struct {
	URI        string `json:"uri"`
	LanguageID string `json:"languageId"`
	Version    int    `json:"version"`
	Text       string `json:"text"`
}

// TextDocumentPositionParams is the common request shape for position-based
// operations (definition, hover, references).
type TextDocumentPositionParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Position     Position               `json:"position"`
}

// DidOpenTextDocumentParams is the payload for textDocument/didOpen.
type DidOpenTextDocumentParams struct {
	TextDocument TextDocumentItem `json:"textDocument"`
}

// TextDocumentContentChangeEvent is a full-text replacement change.
// The client always syncs full document content, never incremental ranges.
type TextDocumentContentChangeEvent struct {
	Text string `json:"text"`
}

// DidChangeTextDocumentParams is the payload for textDocument/didChange.
type DidChangeTextDocumentParams struct {
	TextDocument   VersionedTextDocumentIdentifier  `json:"textDocument"`
	ContentChanges []TextDocumentContentChangeEvent `json:"contentChanges"`
}

// DidCloseTextDocumentParams is the payload for textDocument/didClose.
type DidCloseTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// =============================================================================
// INITIALIZE
// =============================================================================

// InitializeParams is the payload of the initialize request.
type InitializeParams struct {
	ProcessID             int                `json:"processId"`
	RootURI               string             `json:"rootUri"`
	Capabilities          ClientCapabilities `json:"capabilities"`
	InitializationOptions any                `json:"initializationOptions,omitempty"`
}

// ClientCapabilities advertises what this client understands.
type ClientCapabilities struct {
	TextDocument TextDocumentClientCapabilities `json:"textDocument"`
}

// TextDocumentClientCapabilities enumerates supported document features.
type TextDocumentClientCapabilities struct {
	Definition         *DefinitionCapabilities         `json:"definition,omitempty"`
	References         *ReferencesCapabilities         `json:"references,omitempty"`
	Hover              *HoverCapabilities              `json:"hover,omitempty"`
	DocumentSymbol     *DocumentSymbolCapabilities     `json:"documentSymbol,omitempty"`
	Completion         *CompletionCapabilities         `json:"completion,omitempty"`
	PublishDiagnostics *PublishDiagnosticsCapabilities `json:"publishDiagnostics,omitempty"`
	Synchronization    *SynchronizationCapabilities    `json:"synchronization,omitempty"`
}

// DefinitionCapabilities is the client's definition support declaration.
type DefinitionCapabilities struct {
	LinkSupport bool `json:"linkSupport,omitempty"`
}

// ReferencesCapabilities is the client's references support declaration.
type ReferencesCapabilities struct{}

// HoverCapabilities declares the hover content formats the client accepts.
type HoverCapabilities struct {
	ContentFormat []string `json:"contentFormat,omitempty"`
}

// DocumentSymbolCapabilities declares hierarchical symbol support.
type DocumentSymbolCapabilities struct {
	HierarchicalDocumentSymbolSupport bool `json:"hierarchicalDocumentSymbolSupport,omitempty"`
}

// CompletionCapabilities is the client's completion support declaration.
type CompletionCapabilities struct{}

// PublishDiagnosticsCapabilities declares diagnostics notification support.
type PublishDiagnosticsCapabilities struct {
	VersionSupport bool `json:"versionSupport,omitempty"`
}

// SynchronizationCapabilities declares document sync support.
type SynchronizationCapabilities struct {
	DidSave bool `json:"didSave,omitempty"`
}

// InitializeResult is the server's response to initialize.
type InitializeResult struct {
	Capabilities ServerCapabilities `json:"capabilities"`
	ServerInfo   *ServerInfo        `json:"serverInfo,omitempty"`
}

// ServerInfo identifies the server implementation.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// ServerCapabilities is the feature set a server advertised during
// initialize. Provider fields are `any` because the protocol allows either
// a boolean or an options object; use the HasXxxProvider accessors.
type ServerCapabilities struct {
	TextDocumentSync        any `json:"textDocumentSync,omitempty"`
	DefinitionProvider      any `json:"definitionProvider,omitempty"`
	ReferencesProvider      any `json:"referencesProvider,omitempty"`
	HoverProvider           any `json:"hoverProvider,omitempty"`
	DocumentSymbolProvider  any `json:"documentSymbolProvider,omitempty"`
	CompletionProvider      any `json:"completionProvider,omitempty"`
	RenameProvider          any `json:"renameProvider,omitempty"`
	WorkspaceSymbolProvider any `json:"workspaceSymbolProvider,omitempty"`
}

// providerEnabled treats `true` and any options object as enabled.
func providerEnabled(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	default:
		return true
	}
}

// HasDefinitionProvider reports definition support.
func (c ServerCapabilities) HasDefinitionProvider() bool { return providerEnabled(c.DefinitionProvider) }

// HasReferencesProvider reports references support.
func (c ServerCapabilities) HasReferencesProvider() bool { return providerEnabled(c.ReferencesProvider) }

// HasHoverProvider reports hover support.
func (c ServerCapabilities) HasHoverProvider() bool { return providerEnabled(c.HoverProvider) }

// HasDocumentSymbolProvider reports document symbol support.
func (c ServerCapabilities) HasDocumentSymbolProvider() bool {
	return providerEnabled(c.DocumentSymbolProvider)
}

// HasCompletionProvider reports completion support.
func (c ServerCapabilities) HasCompletionProvider() bool { return providerEnabled(c.CompletionProvider) }

// HasRenameProvider reports rename support.
func (c ServerCapabilities) HasRenameProvider() bool { return providerEnabled(c.RenameProvider) }

// =============================================================================
// HOVER
// =============================================================================

// MarkupContent is structured hover content.
type MarkupContent struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

// HoverResult is the wire shape of a hover response.
//
// Contents may arrive as a MarkupContent object, a bare string, or a
// MarkedString array depending on the server; decodeHoverContents in
// operations.go normalizes all three.
type HoverResult struct {
	Contents MarkupContent `json:"contents"`
	Range    *Range        `json:"range,omitempty"`
}

// HoverInfo is the normalized hover payload returned to callers.
type HoverInfo struct {
	Content string `json:"content"`
	Kind    string `json:"kind"`
	Range   *Range `json:"range,omitempty"`
}

// =============================================================================
// COMPLETION
// =============================================================================

// CompletionItem is a single completion suggestion.
type CompletionItem struct {
	Label         string          `json:"label"`
	Kind          int             `json:"kind,omitempty"`
	Detail        string          `json:"detail,omitempty"`
	Documentation json.RawMessage `json:"documentation,omitempty"`
	InsertText    string          `json:"insertText,omitempty"`
	SortText      string          `json:"sortText,omitempty"`
}

// CompletionList is the list-shaped completion response.
type CompletionList struct {
	IsIncomplete bool             `json:"isIncomplete"`
	Items        []CompletionItem `json:"items"`
}

// =============================================================================
// SYMBOLS
// =============================================================================

// SymbolKind is the LSP numeric symbol kind.
type SymbolKind int

// LSP symbol kinds (subset the client consumes).
const (
	SymbolKindFile          SymbolKind = 1
	SymbolKindModule        SymbolKind = 2
	SymbolKindNamespace     SymbolKind = 3
	SymbolKindPackage       SymbolKind = 4
	SymbolKindClass         SymbolKind = 5
	SymbolKindMethod        SymbolKind = 6
	SymbolKindProperty      SymbolKind = 7
	SymbolKindField         SymbolKind = 8
	SymbolKindConstructor   SymbolKind = 9
	SymbolKindEnum          SymbolKind = 10
	SymbolKindInterface     SymbolKind = 11
	SymbolKindFunction      SymbolKind = 12
	SymbolKindVariable      SymbolKind = 13
	SymbolKindConstant      SymbolKind = 14
	SymbolKindString        SymbolKind = 15
	SymbolKindStruct        SymbolKind = 23
)

// DocumentSymbol is the hierarchical symbol response shape.
type DocumentSymbol struct {
	Name           string           `json:"name"`
	Detail         string           `json:"detail,omitempty"`
	Kind           SymbolKind       `json:"kind"`
	Range          Range            `json:"range"`
	SelectionRange Range            `json:"selectionRange"`
	Children       []DocumentSymbol `json:"children,omitempty"`
}

// SymbolInformation is the flat symbol response shape older servers use.
type SymbolInformation struct {
	Name          string     `json:"name"`
	Kind          SymbolKind `json:"kind"`
	Location      Location   `json:"location"`
	ContainerName string     `json:"containerName,omitempty"`
}

// WorkspaceSymbolParams is the payload for workspace/symbol.
type WorkspaceSymbolParams struct {
	Query string `json:"query"`
}

// =============================================================================
// REFERENCES / RENAME
// =============================================================================

// ReferenceContext controls whether the declaration is included.
type ReferenceContext struct {
	IncludeDeclaration bool `json:"includeDeclaration"`
}

// ReferenceParams is the payload for textDocument/references.
type ReferenceParams struct {
	TextDocumentPositionParams
	Context ReferenceContext `json:"context"`
}

// RenameParams is the payload for textDocument/rename.
type RenameParams struct {
	TextDocumentPositionParams
	NewName string `json:"newName"`
}

// CompletionParams is the payload for textDocument/completion.
type CompletionParams struct {
	TextDocumentPositionParams
}

// DocumentSymbolParams is the payload for textDocument/documentSymbol.
type DocumentSymbolParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// =============================================================================
// WORKSPACE EDITS
// =============================================================================

// TextEdit replaces a range with new text.
type TextEdit struct {
	Range   Range  `json:"range"`
	NewText string `json:"newText"`
}

// WorkspaceEdit is a set of text edits grouped by document URI.
type WorkspaceEdit struct {
	Changes map[string][]TextEdit `json:"changes,omitempty"`
}

// =============================================================================
// DIAGNOSTICS
// =============================================================================

// DiagnosticSeverity is the LSP numeric severity.
type DiagnosticSeverity int

// Diagnostic severities per the LSP specification.
const (
	SeverityError       DiagnosticSeverity = 1
	SeverityWarning     DiagnosticSeverity = 2
	SeverityInformation DiagnosticSeverity = 3
	SeverityHint        DiagnosticSeverity = 4
)

// String returns the lowercase severity name.
func (s DiagnosticSeverity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInformation:
		return "information"
	case SeverityHint:
		return "hint"
	default:
		return "unknown"
	}
}

// Diagnostic is a server-reported issue tied to a source range.
type Diagnostic struct {
	Range    Range              `json:"range"`
	Severity DiagnosticSeverity `json:"severity,omitempty"`
	Code     json.RawMessage    `json:"code,omitempty"`
	Source   string             `json:"source,omitempty"`
	Message  string             `json:"message"`
}

// PublishDiagnosticsParams is the textDocument/publishDiagnostics payload.
type PublishDiagnosticsParams struct {
	URI         string       `json:"uri"`
	Version     int          `json:"version,omitempty"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// DidChangeConfigurationParams is the workspace/didChangeConfiguration
// payload sent when a language config carries settings.
type DidChangeConfigurationParams struct {
	Settings any `json:"settings"`
}
