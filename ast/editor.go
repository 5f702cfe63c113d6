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
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
)

// =============================================================================
// EDITOR
// =============================================================================

// Editor performs syntax-aware find, replace, and symbol extraction.
//
// Description:
//
//	One Editor serves a whole workspace. Languages with a registered
//	grammar get precise tree-sitter classification; everything else goes
//	through the regex fallback. Public operations never return parse
//	errors - failures are logged, counted, and degrade to empty results.
//
// Thread Safety:
//
//	Safe for concurrent use. Each operation parses with its own
//	tree-sitter parser instance.
type Editor struct {
	grammars    map[string]*grammar
	fallback    *fallbackEngine
	maxFileSize int64
}

// EditorOption configures an Editor.
type EditorOption func(*Editor)

// WithMaxFileSize sets the maximum content size the editor will parse.
func WithMaxFileSize(bytes int64) EditorOption {
	return func(e *Editor) {
		if bytes > 0 {
			e.maxFileSize = bytes
		}
	}
}

// NewEditor creates an editor with grammars for all supported languages.
//
// Outputs:
//
//	*Editor - Configured editor, never nil
func NewEditor(opts ...EditorOption) *Editor {
	e := &Editor{
		grammars:    builtinGrammars(),
		fallback:    newFallbackEngine(),
		maxFileSize: DefaultMaxFileSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SupportedLanguages returns the languages with a registered grammar.
func (e *Editor) SupportedLanguages() []string {
	langs := make([]string, 0, len(e.grammars))
	for lang := range e.grammars {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// HasGrammar reports whether precise parsing is available for a language.
func (e *Editor) HasGrammar(language string) bool {
	_, ok := e.grammars[language]
	return ok
}

// checkContent validates size and encoding before parsing.
func (e *Editor) checkContent(content, language, op string) bool {
	if int64(len(content)) > e.maxFileSize {
		slog.Warn("content exceeds size limit, skipping",
			slog.String("operation", op),
			slog.String("language", language),
			slog.Int("size_bytes", len(content)),
		)
		return false
	}
	if len(content) > WarnFileSize {
		slog.Warn("parsing large content",
			slog.String("operation", op),
			slog.Int("size_bytes", len(content)),
		)
	}
	if !utf8.ValidString(content) {
		slog.Warn("content is not valid UTF-8, skipping",
			slog.String("operation", op),
			slog.String("language", language),
		)
		return false
	}
	return true
}

// =============================================================================
// FIND
// =============================================================================

// FindInCode finds all occurrences of a search string and classifies each
// occurrence's lexical context.
//
// Description:
//
//	Parses the content with the language's grammar and locates the
//	smallest named node covering each occurrence. A string literal that is
//	the first statement of its enclosing function or class body classifies
//	Docstring rather than String. Matches in String/Docstring context are
//	excluded unless opts.IncludeStrings is set; Comment matches unless
//	opts.IncludeComments. Import and Decorator matches are always
//	included.
//
//	Languages without a grammar use the regex fallback engine, which
//	trades classification precision for availability.
//
// Inputs:
//
//	ctx - Bounds parse time
//	content - Source text to search
//	search - Literal text to find (no regex)
//	language - Language identifier selecting the grammar
//	opts - Match filtering (see DefaultFindOptions)
//
// Outputs:
//
//	[]CodeMatch - Matches in document order; nil when none or on failure
//
// Thread Safety:
//
//	Safe for concurrent use.
func (e *Editor) FindInCode(ctx context.Context, content, search, language string, opts FindOptions) []CodeMatch {
	if ctx == nil || search == "" {
		return nil
	}
	if !e.checkContent(content, language, "find") {
		return nil
	}

	g, ok := e.grammars[language]
	if !ok {
		recordFallback(ctx, language)
		return e.fallback.find(content, search, opts)
	}

	start := time.Now()
	tree, err := g.parse(ctx, []byte(content))
	recordParse(ctx, language, time.Since(start), err == nil)
	if err != nil {
		slog.Warn("parse failed, using fallback",
			slog.String("language", language),
			slog.Any("error", err),
		)
		recordFallback(ctx, language)
		return e.fallback.find(content, search, opts)
	}
	defer tree.Close()

	root := tree.RootNode()
	lines := lineStarts(content)

	var matches []CodeMatch
	for _, off := range findOccurrences(content, search, opts.CaseSensitive) {
		startPt := pointAt(lines, off)
		endPt := pointAt(lines, off+len(search))

		node := root.NamedDescendantForPointRange(startPt, endPt)
		if node == nil {
			node = root
		}

		mctx := classify(node, g)
		switch mctx {
		case ContextString, ContextDocstring:
			if !opts.IncludeStrings {
				continue
			}
		case ContextComment:
			if !opts.IncludeComments {
				continue
			}
		}

		parentType := ""
		if p := node.Parent(); p != nil {
			parentType = p.Type()
		}

		matches = append(matches, CodeMatch{
			Text:       content[off : off+len(search)],
			Span:       spanFor(lines, off, off+len(search)),
			Context:    mctx,
			NodeType:   node.Type(),
			ParentType: parentType,
			FullLine:   lineAt(content, lines, int(startPt.Row)),
		})
	}
	return matches
}

// ReplaceInCode replaces occurrences of a search string, respecting the
// same context filtering as FindInCode.
//
// Description:
//
//	Replacements apply from the last match to the first so earlier byte
//	offsets stay valid. opts.MaxReplacements bounds how many matches are
//	replaced, counted in document order; 0 means all.
//
// Outputs:
//
//	string - The new content (unchanged when nothing matched)
//	int - Number of replacements made
func (e *Editor) ReplaceInCode(ctx context.Context, content, search, replacement, language string, opts ReplaceOptions) (string, int) {
	matches := e.FindInCode(ctx, content, search, language, opts.FindOptions)
	if len(matches) == 0 {
		return content, 0
	}
	if opts.MaxReplacements > 0 && len(matches) > opts.MaxReplacements {
		matches = matches[:opts.MaxReplacements]
	}

	out := []byte(content)
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		out = append(out[:m.Span.StartByte], append([]byte(replacement), out[m.Span.EndByte:]...)...)
	}
	recordReplace(ctx, language, len(matches))
	return string(out), len(matches)
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// classify determines the lexical context of a node by checking its own
// type and then walking ancestors for nested cases.
func classify(node *sitter.Node, g *grammar) MatchContext {
	for n := node; n != nil; n = n.Parent() {
		t := n.Type()

		if g.commentKinds.has(t) {
			return ContextComment
		}
		if g.stringKinds.has(t) {
			if enclosedBy(n, g.importKinds) {
				return ContextImport
			}
			if isDocstring(n, g) {
				return ContextDocstring
			}
			return ContextString
		}
		if g.decoratorKinds.has(t) {
			return ContextDecorator
		}
		if g.importKinds.has(t) {
			return ContextImport
		}
	}
	return ContextCode
}

// enclosedBy reports whether any strict ancestor's type is in the set.
func enclosedBy(node *sitter.Node, set kindSet) bool {
	for p := node.Parent(); p != nil; p = p.Parent() {
		if set.has(p.Type()) {
			return true
		}
	}
	return false
}

// isDocstring reports whether a string node is the first statement of its
// immediately enclosing function or class body. Decorators sit outside the
// body in every registered grammar, so no skip-list walk is needed inside
// the block itself.
func isDocstring(strNode *sitter.Node, g *grammar) bool {
	stmt := strNode.Parent()
	if stmt == nil || stmt.Type() != "expression_statement" {
		return false
	}

	body := stmt.Parent()
	if body == nil || !g.bodyKinds.has(body.Type()) {
		return false
	}

	owner := body.Parent()
	if owner == nil {
		return false
	}
	if !g.functionKinds.has(owner.Type()) && !g.classKinds.has(owner.Type()) {
		return false
	}

	first := body.NamedChild(0)
	return first != nil && first.StartByte() == stmt.StartByte()
}

// =============================================================================
// SYMBOLS
// =============================================================================

// GetSymbols extracts functions, methods, and classes from source.
//
// Description:
//
//	Class nodes yield a class symbol and recurse into their body with the
//	class as parent, so methods appear as children without double counting
//	at the outer level. Function bodies are not descended into; closures
//	and nested helpers stay out of the symbol list. Languages without a
//	grammar yield no symbols.
//
// Outputs:
//
//	[]*CodeSymbol - Top-level symbols in document order
func (e *Editor) GetSymbols(ctx context.Context, content, language string) []*CodeSymbol {
	if ctx == nil {
		return nil
	}
	if !e.checkContent(content, language, "symbols") {
		return nil
	}

	g, ok := e.grammars[language]
	if !ok {
		recordFallback(ctx, language)
		return nil
	}

	start := time.Now()
	tree, err := g.parse(ctx, []byte(content))
	recordParse(ctx, language, time.Since(start), err == nil)
	if err != nil {
		slog.Warn("parse failed, no symbols",
			slog.String("language", language),
			slog.Any("error", err),
		)
		return nil
	}
	defer tree.Close()

	lines := lineStarts(content)
	return e.collectSymbols(tree.RootNode(), content, lines, g, "")
}

// collectSymbols walks a subtree gathering symbols. parentClass is the
// enclosing class name, empty at the top level.
func (e *Editor) collectSymbols(node *sitter.Node, content string, lines []int, g *grammar, parentClass string) []*CodeSymbol {
	var out []*CodeSymbol

	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		t := child.Type()

		switch {
		case g.classKinds.has(t):
			sym := e.symbolFor(child, content, lines, g, SymbolClass, parentClass)
			if sym == nil {
				continue
			}
			sym.Children = e.collectSymbols(child, content, lines, g, sym.Name)
			out = append(out, sym)

		case g.functionKinds.has(t):
			symType := SymbolFunction
			if parentClass != "" || g.methodKinds.has(t) {
				symType = SymbolMethod
			}
			sym := e.symbolFor(child, content, lines, g, symType, parentClass)
			if sym != nil {
				out = append(out, sym)
			}
			// Function bodies are not descended into.

		default:
			out = append(out, e.collectSymbols(child, content, lines, g, parentClass)...)
		}
	}
	return out
}

// symbolFor builds a CodeSymbol for a declaration node. Nil when the node
// carries no resolvable name (anonymous functions, func literals).
func (e *Editor) symbolFor(node *sitter.Node, content string, lines []int, g *grammar, symType SymbolType, parentClass string) *CodeSymbol {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		// Rust impl blocks name the type they implement.
		nameNode = node.ChildByFieldName("type")
	}
	if nameNode == nil {
		return nil
	}

	text := node.Content([]byte(content))
	signature := text
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		signature = text[:idx]
	}

	sym := &CodeSymbol{
		Name:      nameNode.Content([]byte(content)),
		Type:      symType,
		Span:      spanFor(lines, int(node.StartByte()), int(node.EndByte())),
		Signature: strings.TrimSpace(signature),
		Docstring: bodyDocstring(node, content, g),
	}
	if symType == SymbolMethod {
		sym.Parent = parentClass
	}
	return sym
}

// bodyDocstring extracts the documentation string from a declaration body
// when the language convention carries one.
func bodyDocstring(node *sitter.Node, content string, g *grammar) string {
	body := node.ChildByFieldName("body")
	if body == nil || !g.bodyKinds.has(body.Type()) {
		return ""
	}

	first := body.NamedChild(0)
	if first == nil || first.Type() != "expression_statement" {
		return ""
	}
	str := first.NamedChild(0)
	if str == nil || !g.stringKinds.has(str.Type()) {
		return ""
	}
	return stripQuotes(str.Content([]byte(content)))
}

// stripQuotes removes surrounding quote syntax from a string literal.
func stripQuotes(s string) string {
	for _, q := range []string{`"""`, `'''`, `"`, `'`, "`"} {
		if strings.HasPrefix(s, q) && strings.HasSuffix(s, q) && len(s) >= 2*len(q) {
			return strings.TrimSpace(s[len(q) : len(s)-len(q)])
		}
	}
	return strings.TrimSpace(s)
}

// FindSymbol locates a symbol by exact name, optionally filtered by type.
//
// Inputs:
//
//	symType - Required type, or empty string for any
//
// Outputs:
//
//	*CodeSymbol - The first match in document order, nil when absent
func (e *Editor) FindSymbol(ctx context.Context, content, name, language string, symType SymbolType) *CodeSymbol {
	var scan func(symbols []*CodeSymbol) *CodeSymbol
	scan = func(symbols []*CodeSymbol) *CodeSymbol {
		for _, sym := range symbols {
			if sym.Name == name && (symType == "" || sym.Type == symType) {
				return sym
			}
			if found := scan(sym.Children); found != nil {
				return found
			}
		}
		return nil
	}
	return scan(e.GetSymbols(ctx, content, language))
}

// =============================================================================
// SYNTAX CHECK & POSITION LOOKUP
// =============================================================================

// maxSyntaxIssues caps the issues reported per check.
const maxSyntaxIssues = 20

// IsValidSyntax checks content for syntax errors.
//
// Description:
//
//	Parses and scans the tree for error and missing nodes. Languages
//	without a grammar are assumed valid - the fallback engine has no
//	notion of syntax.
//
// Outputs:
//
//	bool - True when no syntax errors were found
//	[]SyntaxIssue - The issues found, capped at maxSyntaxIssues
func (e *Editor) IsValidSyntax(ctx context.Context, content, language string) (bool, []SyntaxIssue) {
	if ctx == nil {
		return true, nil
	}
	if !e.checkContent(content, language, "syntax") {
		return true, nil
	}

	g, ok := e.grammars[language]
	if !ok {
		return true, nil
	}

	start := time.Now()
	tree, err := g.parse(ctx, []byte(content))
	recordParse(ctx, language, time.Since(start), err == nil)
	if err != nil {
		slog.Warn("parse failed, assuming valid syntax",
			slog.String("language", language),
			slog.Any("error", err),
		)
		return true, nil
	}
	defer tree.Close()

	root := tree.RootNode()
	if !root.HasError() {
		return true, nil
	}

	lines := lineStarts(content)
	var issues []SyntaxIssue
	collectSyntaxIssues(root, lines, &issues)
	return len(issues) == 0, issues
}

// collectSyntaxIssues gathers ERROR and missing nodes depth-first.
func collectSyntaxIssues(node *sitter.Node, lines []int, issues *[]SyntaxIssue) {
	if len(*issues) >= maxSyntaxIssues {
		return
	}

	if node.IsMissing() {
		pt := node.StartPoint()
		*issues = append(*issues, SyntaxIssue{
			Line:    int(pt.Row) + 1,
			Column:  int(pt.Column),
			Message: "missing " + node.Type(),
		})
		return
	}
	if node.IsError() {
		pt := node.StartPoint()
		*issues = append(*issues, SyntaxIssue{
			Line:    int(pt.Row) + 1,
			Column:  int(pt.Column),
			Message: "syntax error",
		})
		return
	}
	if !node.HasError() {
		return
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		collectSyntaxIssues(node.Child(i), lines, issues)
	}
}

// GetNodeAtPosition returns the smallest named node covering a position.
//
// Description:
//
//	Diagnostic helper, not a hot path. Line is 1-indexed to match the
//	spans this package produces; column is 0-indexed.
//
// Outputs:
//
//	*NodeInfo - Node type, text, and context; nil when out of range or no
//	grammar is registered
func (e *Editor) GetNodeAtPosition(ctx context.Context, content, language string, line, column int) *NodeInfo {
	if ctx == nil || line < 1 || column < 0 {
		return nil
	}
	if !e.checkContent(content, language, "node_at") {
		return nil
	}

	g, ok := e.grammars[language]
	if !ok {
		return nil
	}

	tree, err := g.parse(ctx, []byte(content))
	if err != nil {
		return nil
	}
	defer tree.Close()

	pt := sitter.Point{Row: uint32(line - 1), Column: uint32(column)}
	node := tree.RootNode().NamedDescendantForPointRange(pt, pt)
	if node == nil {
		return nil
	}

	lines := lineStarts(content)
	return &NodeInfo{
		Type:    node.Type(),
		Text:    node.Content([]byte(content)),
		Context: classify(node, g),
		Span:    spanFor(lines, int(node.StartByte()), int(node.EndByte())),
	}
}

// =============================================================================
// TEXT GEOMETRY
// =============================================================================

// findOccurrences returns the byte offsets of every occurrence of search.
// Overlapping occurrences advance by the full search length.
func findOccurrences(content, search string, caseSensitive bool) []int {
	hay, needle := content, search
	if !caseSensitive {
		hay = strings.ToLower(content)
		needle = strings.ToLower(search)
	}

	var offsets []int
	for from := 0; ; {
		idx := strings.Index(hay[from:], needle)
		if idx < 0 {
			break
		}
		offsets = append(offsets, from+idx)
		from += idx + len(needle)
	}
	return offsets
}

// lineStarts returns the byte offset of each line's first character.
func lineStarts(content string) []int {
	starts := []int{0}
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// pointAt converts a byte offset into a tree-sitter point.
func pointAt(lines []int, offset int) sitter.Point {
	row := sort.Search(len(lines), func(i int) bool { return lines[i] > offset }) - 1
	if row < 0 {
		row = 0
	}
	return sitter.Point{Row: uint32(row), Column: uint32(offset - lines[row])}
}

// spanFor builds a Span from byte offsets.
func spanFor(lines []int, startByte, endByte int) Span {
	start := pointAt(lines, startByte)
	end := pointAt(lines, endByte)
	return Span{
		StartLine:   int(start.Row) + 1,
		StartColumn: int(start.Column),
		EndLine:     int(end.Row) + 1,
		EndColumn:   int(end.Column),
		StartByte:   startByte,
		EndByte:     endByte,
	}
}

// lineAt returns line row (0-indexed) without its trailing newline.
func lineAt(content string, lines []int, row int) string {
	if row < 0 || row >= len(lines) {
		return ""
	}
	start := lines[row]
	end := len(content)
	if row+1 < len(lines) {
		end = lines[row+1] - 1
	}
	return content[start:end]
}
