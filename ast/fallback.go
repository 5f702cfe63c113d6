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

// fallbackEngine classifies matches for languages without a grammar.
//
// Description:
//
//	Trades precision for availability: strings are detected by quote
//	parity on the match's line, comments by an unquoted # or // earlier
//	on the line. Never errors. Docstring, import, and decorator contexts
//	are grammar concepts and are not produced here.
type fallbackEngine struct{}

func newFallbackEngine() *fallbackEngine {
	return &fallbackEngine{}
}

// find locates occurrences and classifies them heuristically.
func (f *fallbackEngine) find(content, search string, opts FindOptions) []CodeMatch {
	lines := lineStarts(content)

	var matches []CodeMatch
	for _, off := range findOccurrences(content, search, opts.CaseSensitive) {
		pt := pointAt(lines, off)
		line := lineAt(content, lines, int(pt.Row))
		col := int(pt.Column)

		mctx := classifyHeuristic(line, col)
		switch mctx {
		case ContextString:
			if !opts.IncludeStrings {
				continue
			}
		case ContextComment:
			if !opts.IncludeComments {
				continue
			}
		}

		matches = append(matches, CodeMatch{
			Text:     content[off : off+len(search)],
			Span:     spanFor(lines, off, off+len(search)),
			Context:  mctx,
			FullLine: line,
		})
	}
	return matches
}

// classifyHeuristic decides string/comment/code from the text before the
// match on its line.
//
// Description:
//
//	Comment wins when a # or // appears before the match outside quotes.
//	String wins when the quote count before the match is odd (the match
//	sits inside an unclosed quote pair). Multi-line strings and block
//	comments are beyond a line-local heuristic and classify as code.
func classifyHeuristic(line string, col int) MatchContext {
	if col > len(line) {
		col = len(line)
	}
	prefix := line[:col]

	inSingle, inDouble := false, false
	for i := 0; i < len(prefix); i++ {
		ch := prefix[i]
		switch {
		case ch == '\\' && (inSingle || inDouble):
			i++ // skip the escaped character
		case ch == '\'' && !inDouble:
			inSingle = !inSingle
		case ch == '"' && !inSingle:
			inDouble = !inDouble
		case !inSingle && !inDouble:
			if ch == '#' {
				return ContextComment
			}
			if ch == '/' && i+1 < len(prefix) && prefix[i+1] == '/' {
				return ContextComment
			}
		}
	}

	if inSingle || inDouble {
		return ContextString
	}
	return ContextCode
}
