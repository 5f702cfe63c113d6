// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// maxCompletionItems caps completion responses so callers never drown in
// thousand-item lists from eager servers.
const maxCompletionItems = 50

// DefaultDiagnosticsWait is the default window Diagnostics waits for the
// asynchronous publishDiagnostics notification to land.
const DefaultDiagnosticsWait = 500 * time.Millisecond

// =============================================================================
// OPERATIONS
// =============================================================================

// Operations is the high-level LSP client surface for one workspace.
//
// Description:
//
//	Wraps a Manager with document lifecycle tracking (open set, version
//	counters), a diagnostics cache, and the query operations the
//	validation layer consumes. Protocol and connection failures never
//	escape the query operations: they are logged, counted, and converted
//	to empty results, so a missing or broken language server degrades the
//	pipeline instead of breaking it.
//
// Thread Safety:
//
//	Safe for concurrent use, except that two goroutines must not sync
//	conflicting content for the same document path.
type Operations struct {
	manager *Manager
	diags   *DiagnosticsStore

	mu   sync.Mutex
	docs map[string]*documentState // path -> open document bookkeeping

	diagnosticsWait time.Duration
	errorCount      atomic.Int64
}

// documentState tracks one open document.
type documentState struct {
	language    string
	version     int
	lastChanged time.Time
}

// OperationsOption configures an Operations instance.
type OperationsOption func(*Operations)

// WithDiagnosticsWait overrides the default diagnostics wait window.
func WithDiagnosticsWait(d time.Duration) OperationsOption {
	return func(o *Operations) {
		if d > 0 {
			o.diagnosticsWait = d
		}
	}
}

// NewOperations creates the operations layer on top of a manager.
//
// Description:
//
//	Registers a spawn hook so every server started by the manager
//	forwards publishDiagnostics into the shared diagnostics store.
//
// Inputs:
//
//	manager - The server manager (required)
//	opts - Optional configuration
//
// Outputs:
//
//	*Operations - The operations layer
func NewOperations(manager *Manager, opts ...OperationsOption) *Operations {
	o := &Operations{
		manager:         manager,
		diags:           NewDiagnosticsStore(),
		docs:            make(map[string]*documentState),
		diagnosticsWait: DefaultDiagnosticsWait,
	}
	for _, opt := range opts {
		opt(o)
	}

	manager.OnSpawn(func(s *Server) {
		s.OnDiagnostics(o.diags.Publish)
	})
	return o
}

// Manager returns the underlying server manager.
func (o *Operations) Manager() *Manager { return o.manager }

// ErrorCount returns the number of degraded (caught and suppressed)
// operation failures since creation.
func (o *Operations) ErrorCount() int64 { return o.errorCount.Load() }

// IsAvailable reports whether a language server is configured and
// installed for the file's extension.
func (o *Operations) IsAvailable(path string) bool {
	lang := o.languageFromPath(path)
	if lang == "" {
		return false
	}
	return o.manager.IsAvailable(lang)
}

// languageFromPath maps a file path to a language identifier via the
// registry's extension table. Empty string for unsupported extensions.
func (o *Operations) languageFromPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	lang, ok := o.manager.Configs().LanguageForExtension(ext)
	if !ok {
		return ""
	}
	return lang
}

// =============================================================================
// DOCUMENT LIFECYCLE
// =============================================================================

// OpenDocument sends didOpen for a path with the given content.
//
// Description:
//
//	Starts the language's server if needed. Re-opening an already open
//	document resyncs it as a change instead.
//
// Errors:
//
//	ErrUnsupportedLanguage - No server configured for the extension
func (o *Operations) OpenDocument(ctx context.Context, path, content string) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	lang := o.languageFromPath(path)
	if lang == "" {
		return fmt.Errorf("%w: %s", ErrUnsupportedLanguage, filepath.Ext(path))
	}

	o.mu.Lock()
	_, open := o.docs[path]
	o.mu.Unlock()
	if open {
		return o.NotifyChange(ctx, path, content)
	}

	server, err := o.manager.GetOrSpawn(ctx, lang)
	if err != nil {
		return err
	}

	err = server.Notify("textDocument/didOpen", DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{
			URI:        pathToURI(path),
			LanguageID: lang,
			Version:    1,
			Text:       content,
		},
	})
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.docs[path] = &documentState{language: lang, version: 1, lastChanged: time.Now()}
	o.mu.Unlock()
	return nil
}

// NotifyChange increments the document version and sends a full-text
// didChange. Opens the document first if it is not open yet.
func (o *Operations) NotifyChange(ctx context.Context, path, newContent string) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}

	o.mu.Lock()
	doc, open := o.docs[path]
	o.mu.Unlock()
	if !open {
		return o.OpenDocument(ctx, path, newContent)
	}

	server := o.manager.Get(doc.language)
	if server == nil {
		return ErrServerNotRunning
	}

	o.mu.Lock()
	doc.version++
	doc.lastChanged = time.Now()
	version := doc.version
	o.mu.Unlock()

	return server.Notify("textDocument/didChange", DidChangeTextDocumentParams{
		TextDocument: VersionedTextDocumentIdentifier{
			URI:     pathToURI(path),
			Version: version,
		},
		ContentChanges: []TextDocumentContentChangeEvent{{Text: newContent}},
	})
}

// CloseDocument sends didClose and drops all bookkeeping for the path.
func (o *Operations) CloseDocument(ctx context.Context, path string) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}

	o.mu.Lock()
	doc, open := o.docs[path]
	delete(o.docs, path)
	o.mu.Unlock()

	o.diags.Clear(pathToURI(path))

	if !open {
		return nil
	}
	server := o.manager.Get(doc.language)
	if server == nil {
		return nil
	}
	return server.Notify("textDocument/didClose", DidCloseTextDocumentParams{
		TextDocument: TextDocumentIdentifier{URI: pathToURI(path)},
	})
}

// ensureDocument makes sure the path's server is running and the document
// is open, reading content from disk on first touch.
func (o *Operations) ensureDocument(ctx context.Context, path, lang string) (*Server, error) {
	o.mu.Lock()
	_, open := o.docs[path]
	o.mu.Unlock()

	if !open {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if err := o.OpenDocument(ctx, path, string(content)); err != nil {
			return nil, err
		}
	}

	server, err := o.manager.GetOrSpawn(ctx, lang)
	if err != nil {
		return nil, err
	}
	return server, nil
}

// degrade logs and counts a suppressed failure.
func (o *Operations) degrade(op, path string, err error) {
	o.errorCount.Add(1)
	recordDegrade(op)
	slog.Warn("lsp operation degraded to empty result",
		slog.String("operation", op),
		slog.String("path", path),
		slog.Bool("retryable", isRetryableError(err)),
		slog.Any("error", err),
	)
}

// =============================================================================
// QUERY OPERATIONS
// =============================================================================

// Definition returns the definition locations for the symbol at a position.
//
// Description:
//
//	Zero-indexed line/character per LSP convention. An unsupported
//	extension or any protocol/connection failure yields an empty result,
//	never an error; only programmer errors (nil context) are returned.
func (o *Operations) Definition(ctx context.Context, path string, line, character int) ([]Location, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	lang := o.languageFromPath(path)
	if lang == "" {
		return nil, nil
	}

	server, err := o.ensureDocument(ctx, path, lang)
	if err != nil {
		o.degrade("definition", path, err)
		return nil, nil
	}

	raw, err := server.Request(ctx, "textDocument/definition", TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: pathToURI(path)},
		Position:     Position{Line: line, Character: character},
	})
	if err != nil {
		o.degrade("definition", path, err)
		return nil, nil
	}

	locs, err := parseLocationResponse(raw)
	if err != nil {
		o.degrade("definition", path, err)
		return nil, nil
	}
	return locs, nil
}

// References returns all references to the symbol at a position.
func (o *Operations) References(ctx context.Context, path string, line, character int, includeDeclaration bool) ([]Location, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	lang := o.languageFromPath(path)
	if lang == "" {
		return nil, nil
	}

	server, err := o.ensureDocument(ctx, path, lang)
	if err != nil {
		o.degrade("references", path, err)
		return nil, nil
	}

	raw, err := server.Request(ctx, "textDocument/references", ReferenceParams{
		TextDocumentPositionParams: TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: pathToURI(path)},
			Position:     Position{Line: line, Character: character},
		},
		Context: ReferenceContext{IncludeDeclaration: includeDeclaration},
	})
	if err != nil {
		o.degrade("references", path, err)
		return nil, nil
	}

	locs, err := parseLocationResponse(raw)
	if err != nil {
		o.degrade("references", path, err)
		return nil, nil
	}
	return locs, nil
}

// Hover returns hover information for the symbol at a position.
// Nil (with nil error) when the server has nothing to say.
func (o *Operations) Hover(ctx context.Context, path string, line, character int) (*HoverInfo, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	lang := o.languageFromPath(path)
	if lang == "" {
		return nil, nil
	}

	server, err := o.ensureDocument(ctx, path, lang)
	if err != nil {
		o.degrade("hover", path, err)
		return nil, nil
	}

	raw, err := server.Request(ctx, "textDocument/hover", TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: pathToURI(path)},
		Position:     Position{Line: line, Character: character},
	})
	if err != nil {
		o.degrade("hover", path, err)
		return nil, nil
	}
	return decodeHoverResponse(raw), nil
}

// DocumentSymbols returns the symbol tree for a document.
//
// Description:
//
//	Servers answer with either hierarchical DocumentSymbol trees or flat
//	SymbolInformation lists; flat lists are lifted into childless
//	DocumentSymbols so callers see one shape.
func (o *Operations) DocumentSymbols(ctx context.Context, path string) ([]DocumentSymbol, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	lang := o.languageFromPath(path)
	if lang == "" {
		return nil, nil
	}

	server, err := o.ensureDocument(ctx, path, lang)
	if err != nil {
		o.degrade("documentSymbol", path, err)
		return nil, nil
	}

	raw, err := server.Request(ctx, "textDocument/documentSymbol", DocumentSymbolParams{
		TextDocument: TextDocumentIdentifier{URI: pathToURI(path)},
	})
	if err != nil {
		o.degrade("documentSymbol", path, err)
		return nil, nil
	}

	symbols, err := parseSymbolResponse(raw)
	if err != nil {
		o.degrade("documentSymbol", path, err)
		return nil, nil
	}
	return symbols, nil
}

// Completion returns completion items at a position, capped at
// maxCompletionItems.
func (o *Operations) Completion(ctx context.Context, path string, line, character int) ([]CompletionItem, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	lang := o.languageFromPath(path)
	if lang == "" {
		return nil, nil
	}

	server, err := o.ensureDocument(ctx, path, lang)
	if err != nil {
		o.degrade("completion", path, err)
		return nil, nil
	}

	raw, err := server.Request(ctx, "textDocument/completion", CompletionParams{
		TextDocumentPositionParams: TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: pathToURI(path)},
			Position:     Position{Line: line, Character: character},
		},
	})
	if err != nil {
		o.degrade("completion", path, err)
		return nil, nil
	}

	items, err := parseCompletionResponse(raw)
	if err != nil {
		o.degrade("completion", path, err)
		return nil, nil
	}
	if len(items) > maxCompletionItems {
		items = items[:maxCompletionItems]
	}
	return items, nil
}

// Diagnostics returns the cached diagnostics for a path, waiting up to the
// configured window for the asynchronous notification to land.
//
// Description:
//
//	Diagnostics are push-based; this is a bounded heuristic wait, not a
//	request/response round trip. The returned set reflects some server
//	state at or after the last observed change, within the wait window.
//	A zero wait uses the configured default.
func (o *Operations) Diagnostics(ctx context.Context, path string, wait time.Duration) []Diagnostic {
	if ctx == nil {
		return nil
	}
	lang := o.languageFromPath(path)
	if lang == "" {
		return nil
	}
	if wait <= 0 {
		wait = o.diagnosticsWait
	}

	if _, err := o.ensureDocument(ctx, path, lang); err != nil {
		o.degrade("diagnostics", path, err)
		return nil
	}

	o.mu.Lock()
	var since time.Time
	if doc, ok := o.docs[path]; ok {
		since = doc.lastChanged
	}
	o.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	return o.diags.WaitFresh(waitCtx, pathToURI(path), since)
}

// Rename asks the server for a workspace edit renaming the symbol at a
// position. Unlike the query operations this returns errors: callers apply
// the returned edit and must know why one is missing.
func (o *Operations) Rename(ctx context.Context, path string, line, character int, newName string) (*WorkspaceEdit, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if newName == "" {
		return nil, fmt.Errorf("newName must not be empty")
	}
	lang := o.languageFromPath(path)
	if lang == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, filepath.Ext(path))
	}

	server, err := o.ensureDocument(ctx, path, lang)
	if err != nil {
		return nil, err
	}

	raw, err := server.Request(ctx, "textDocument/rename", RenameParams{
		TextDocumentPositionParams: TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: pathToURI(path)},
			Position:     Position{Line: line, Character: character},
		},
		NewName: newName,
	})
	if err != nil {
		return nil, err
	}
	if isNullResult(raw) {
		return nil, nil
	}

	var edit WorkspaceEdit
	if err := json.Unmarshal(raw, &edit); err != nil {
		return nil, fmt.Errorf("decode workspace edit: %w", err)
	}
	return &edit, nil
}

// WorkspaceSymbol queries a language's server for symbols across the
// workspace.
func (o *Operations) WorkspaceSymbol(ctx context.Context, language, query string) ([]SymbolInformation, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}

	server, err := o.manager.GetOrSpawn(ctx, language)
	if err != nil {
		return nil, err
	}

	raw, err := server.Request(ctx, "workspace/symbol", WorkspaceSymbolParams{Query: query})
	if err != nil {
		return nil, err
	}
	if isNullResult(raw) {
		return nil, nil
	}

	var symbols []SymbolInformation
	if err := json.Unmarshal(raw, &symbols); err != nil {
		return nil, fmt.Errorf("decode workspace symbols: %w", err)
	}
	return symbols, nil
}

// =============================================================================
// WORKSPACE EDIT HELPERS
// =============================================================================

// WorkspaceEditSummary aggregates a workspace edit for display.
type WorkspaceEditSummary struct {
	FileCount  int
	TotalEdits int
	Files      map[string]int // path -> edit count
}

// SummarizeWorkspaceEdit counts files and edits in a workspace edit.
func (o *Operations) SummarizeWorkspaceEdit(edit *WorkspaceEdit) WorkspaceEditSummary {
	summary := WorkspaceEditSummary{Files: make(map[string]int)}
	if edit == nil {
		return summary
	}
	for uri, edits := range edit.Changes {
		if len(edits) == 0 {
			continue
		}
		summary.FileCount++
		summary.TotalEdits += len(edits)
		summary.Files[uriToPath(uri)] = len(edits)
	}
	return summary
}

// ValidateWorkspaceEdit sanity-checks a workspace edit before it is applied.
//
// Errors:
//
//	Non-nil for nil/empty edits, non-file URIs, or negative positions.
func (o *Operations) ValidateWorkspaceEdit(edit *WorkspaceEdit) error {
	if edit == nil {
		return fmt.Errorf("workspace edit is nil")
	}
	if len(edit.Changes) == 0 {
		return fmt.Errorf("workspace edit has no changes")
	}
	for uri, edits := range edit.Changes {
		if !strings.HasPrefix(uri, "file://") {
			return fmt.Errorf("unsupported URI scheme in %q", uri)
		}
		for _, e := range edits {
			if e.Range.Start.Line < 0 || e.Range.Start.Character < 0 ||
				e.Range.End.Line < 0 || e.Range.End.Character < 0 {
				return fmt.Errorf("negative position in edit for %q", uri)
			}
		}
	}
	return nil
}

// =============================================================================
// URI & RESPONSE PARSING
// =============================================================================

// PathToURI converts an absolute file path to a file:// URI.
func (o *Operations) PathToURI(path string) string { return pathToURI(path) }

// URIToPath converts a file:// URI back to a file path.
func (o *Operations) URIToPath(uri string) string { return uriToPath(uri) }

// pathToURI converts an absolute path to a file:// URI with escaping.
func pathToURI(path string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String()
}

// uriToPath converts a file:// URI to a path, tolerating unescaped input.
func uriToPath(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "file" {
		return strings.TrimPrefix(uri, "file://")
	}
	return u.Path
}

// isNullResult reports whether a raw result is empty or JSON null.
func isNullResult(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}

// parseLocationResponse decodes the definition/references response, which
// may be null, a single Location, an array of Locations, or an array of
// LocationLinks.
func parseLocationResponse(raw json.RawMessage) ([]Location, error) {
	if isNullResult(raw) {
		return nil, nil
	}

	// Single location object.
	if strings.HasPrefix(strings.TrimSpace(string(raw)), "{") {
		var loc Location
		if err := json.Unmarshal(raw, &loc); err != nil {
			return nil, fmt.Errorf("decode location: %w", err)
		}
		return []Location{loc}, nil
	}

	// Array of plain locations.
	var locs []Location
	if err := json.Unmarshal(raw, &locs); err == nil && allLocationsValid(locs) {
		return locs, nil
	}

	// Array of location links.
	var links []LocationLink
	if err := json.Unmarshal(raw, &links); err != nil {
		return nil, fmt.Errorf("decode locations: %w", err)
	}
	out := make([]Location, 0, len(links))
	for _, link := range links {
		out = append(out, Location{URI: link.TargetURI, Range: link.TargetRange})
	}
	return out, nil
}

// allLocationsValid distinguishes real Location arrays from LocationLink
// arrays that decoded with empty URIs.
func allLocationsValid(locs []Location) bool {
	for _, l := range locs {
		if l.URI == "" {
			return false
		}
	}
	return len(locs) > 0
}

// decodeHoverResponse normalizes the hover response shapes: null,
// MarkupContent, bare string contents, or MarkedString arrays.
func decodeHoverResponse(raw json.RawMessage) *HoverInfo {
	if isNullResult(raw) {
		return nil
	}

	var result HoverResult
	if err := json.Unmarshal(raw, &result); err == nil && result.Contents.Value != "" {
		return &HoverInfo{
			Content: result.Contents.Value,
			Kind:    result.Contents.Kind,
			Range:   result.Range,
		}
	}

	// Legacy shapes: contents as a string or an array of strings/objects.
	var legacy struct {
		Contents json.RawMessage `json:"contents"`
		Range    *Range          `json:"range"`
	}
	if err := json.Unmarshal(raw, &legacy); err != nil || len(legacy.Contents) == 0 {
		return nil
	}

	var s string
	if err := json.Unmarshal(legacy.Contents, &s); err == nil {
		if s == "" {
			return nil
		}
		return &HoverInfo{Content: s, Kind: "plaintext", Range: legacy.Range}
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(legacy.Contents, &parts); err != nil {
		return nil
	}
	var sections []string
	for _, part := range parts {
		var str string
		if err := json.Unmarshal(part, &str); err == nil {
			sections = append(sections, str)
			continue
		}
		var marked struct {
			Language string `json:"language"`
			Value    string `json:"value"`
		}
		if err := json.Unmarshal(part, &marked); err == nil && marked.Value != "" {
			sections = append(sections, marked.Value)
		}
	}
	if len(sections) == 0 {
		return nil
	}
	return &HoverInfo{Content: strings.Join(sections, "\n\n"), Kind: "plaintext", Range: legacy.Range}
}

// parseSymbolResponse decodes documentSymbol responses, lifting flat
// SymbolInformation lists into childless DocumentSymbols.
func parseSymbolResponse(raw json.RawMessage) ([]DocumentSymbol, error) {
	if isNullResult(raw) {
		return nil, nil
	}

	var hierarchical []DocumentSymbol
	if err := json.Unmarshal(raw, &hierarchical); err == nil && symbolsHaveSelectionRange(hierarchical) {
		return hierarchical, nil
	}

	var flat []SymbolInformation
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, fmt.Errorf("decode document symbols: %w", err)
	}
	out := make([]DocumentSymbol, 0, len(flat))
	for _, info := range flat {
		out = append(out, DocumentSymbol{
			Name:           info.Name,
			Kind:           info.Kind,
			Range:          info.Location.Range,
			SelectionRange: info.Location.Range,
		})
	}
	return out, nil
}

// symbolsHaveSelectionRange distinguishes hierarchical symbols (which carry
// selectionRange) from flat SymbolInformation that happened to decode. Flat
// entries keep their position under "location", so decoding them as
// DocumentSymbol leaves SelectionRange at its zero value.
func symbolsHaveSelectionRange(symbols []DocumentSymbol) bool {
	if len(symbols) == 0 {
		return false
	}
	zero := Range{}
	for _, s := range symbols {
		if s.Name == "" || s.SelectionRange == zero {
			return false
		}
	}
	return true
}

// parseCompletionResponse decodes completion responses: CompletionList or
// bare item array.
func parseCompletionResponse(raw json.RawMessage) ([]CompletionItem, error) {
	if isNullResult(raw) {
		return nil, nil
	}

	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") {
		var list CompletionList
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("decode completion list: %w", err)
		}
		return list.Items, nil
	}

	var items []CompletionItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode completion items: %w", err)
	}
	return items, nil
}
