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
	"encoding/json"
	"testing"
)

func TestPosition_WireFormat(t *testing.T) {
	// Line and character are required by the protocol even when zero, so
	// neither field may carry omitempty.
	data, err := json.Marshal(Position{})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"line":0,"character":0}` {
		t.Errorf("zero Position = %s, want both fields present", data)
	}
}

func TestLocation_LineHelpers(t *testing.T) {
	loc := Location{
		URI: "file:///src/main.go",
		Range: Range{
			Start: Position{Line: 9, Character: 0},
			End:   Position{Line: 12, Character: 1},
		},
	}

	// Wire positions are zero-indexed; the helpers report editor lines.
	if got := loc.StartLine(); got != 10 {
		t.Errorf("StartLine() = %d, want 10", got)
	}
	if got := loc.EndLine(); got != 13 {
		t.Errorf("EndLine() = %d, want 13", got)
	}
}

func TestServerCapabilities_DecodeFromInitialize(t *testing.T) {
	// Shaped like a real initialize result: providers arrive as booleans,
	// options objects, or are absent entirely.
	raw := `{
		"capabilities": {
			"definitionProvider": true,
			"hoverProvider": {"workDoneProgress": true},
			"renameProvider": {"prepareProvider": true},
			"referencesProvider": false,
			"completionProvider": {"triggerCharacters": ["."]}
		},
		"serverInfo": {"name": "gopls", "version": "0.16.0"}
	}`

	var result InitializeResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	caps := result.Capabilities
	checks := []struct {
		name string
		got  bool
		want bool
	}{
		{"definition (bool true)", caps.HasDefinitionProvider(), true},
		{"hover (options object)", caps.HasHoverProvider(), true},
		{"rename (options object)", caps.HasRenameProvider(), true},
		{"references (bool false)", caps.HasReferencesProvider(), false},
		{"completion (options object)", caps.HasCompletionProvider(), true},
		{"documentSymbol (absent)", caps.HasDocumentSymbolProvider(), false},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}

	if result.ServerInfo == nil || result.ServerInfo.Name != "gopls" {
		t.Errorf("ServerInfo = %+v, want name gopls", result.ServerInfo)
	}
}

func TestDiagnostic_DecodeCodeShapes(t *testing.T) {
	// Servers send code as a number (gopls), a string (typescript), or not
	// at all; the raw field must survive all three.
	tests := []struct {
		name string
		raw  string
		code string
	}{
		{"numeric code", `{"range":{"start":{"line":1,"character":0},"end":{"line":1,"character":4}},"severity":1,"code":2345,"message":"type mismatch"}`, "2345"},
		{"string code", `{"range":{"start":{"line":0,"character":0},"end":{"line":0,"character":1}},"severity":2,"code":"unused-var","message":"x is unused"}`, `"unused-var"`},
		{"no code", `{"range":{"start":{"line":0,"character":0},"end":{"line":0,"character":1}},"message":"hint"}`, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var d Diagnostic
			if err := json.Unmarshal([]byte(tc.raw), &d); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if string(d.Code) != tc.code {
				t.Errorf("Code = %s, want %s", d.Code, tc.code)
			}
			if d.Message == "" {
				t.Error("Message should decode")
			}
		})
	}
}

func TestDiagnosticSeverity_String_Map(t *testing.T) {
	tests := map[DiagnosticSeverity]string{
		SeverityError:          "error",
		SeverityWarning:        "warning",
		SeverityInformation:    "information",
		SeverityHint:           "hint",
		DiagnosticSeverity(42): "unknown",
	}
	for sev, want := range tests {
		if got := sev.String(); got != want {
			t.Errorf("DiagnosticSeverity(%d).String() = %q, want %q", sev, got, want)
		}
	}
}

func TestWorkspaceEdit_DecodeRenameResponse(t *testing.T) {
	// Shaped like a gopls rename result: edits grouped per document URI.
	raw := `{
		"changes": {
			"file:///src/a.go": [
				{"range":{"start":{"line":4,"character":5},"end":{"line":4,"character":11}},"newText":"Renamed"},
				{"range":{"start":{"line":9,"character":1},"end":{"line":9,"character":7}},"newText":"Renamed"}
			],
			"file:///src/b.go": [
				{"range":{"start":{"line":2,"character":0},"end":{"line":2,"character":6}},"newText":"Renamed"}
			]
		}
	}`

	var edit WorkspaceEdit
	if err := json.Unmarshal([]byte(raw), &edit); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if len(edit.Changes) != 2 {
		t.Fatalf("Changes has %d documents, want 2", len(edit.Changes))
	}
	a := edit.Changes["file:///src/a.go"]
	if len(a) != 2 {
		t.Fatalf("a.go has %d edits, want 2", len(a))
	}
	if a[0].NewText != "Renamed" {
		t.Errorf("NewText = %q, want Renamed", a[0].NewText)
	}
	if a[1].Range.Start.Line != 9 {
		t.Errorf("second edit start line = %d, want 9", a[1].Range.Start.Line)
	}
}
