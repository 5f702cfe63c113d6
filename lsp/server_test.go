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
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

// absentServer builds a server whose binary cannot possibly resolve, so
// lifecycle guards can be exercised without spawning anything.
func absentServer() *Server {
	return NewServer(LanguageConfig{
		Language: "fake",
		Command:  "no-such-language-server-on-path",
	}, "/tmp/workspace")
}

func TestServerState_String(t *testing.T) {
	tests := map[ServerState]string{
		ServerStateUninitialized: "uninitialized",
		ServerStateStarting:      "starting",
		ServerStateReady:         "ready",
		ServerStateStopping:      "stopping",
		ServerStateStopped:       "stopped",
		ServerState(-1):          "unknown",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("ServerState(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestNewServer_InitialFields(t *testing.T) {
	s := NewServer(LanguageConfig{Language: "go", Command: "gopls", Args: []string{"serve"}}, "/src/project")

	if s.Language() != "go" {
		t.Errorf("Language() = %q, want go", s.Language())
	}
	if s.RootPath() != "/src/project" {
		t.Errorf("RootPath() = %q, want /src/project", s.RootPath())
	}
	if s.State() != ServerStateUninitialized {
		t.Errorf("State() = %v, want uninitialized", s.State())
	}
	if time.Since(s.LastUsed()) > time.Second {
		t.Error("LastUsed() should be set at construction")
	}
}

func TestServer_StartGuards(t *testing.T) {
	t.Run("nil context", func(t *testing.T) {
		if err := absentServer().Start(nil); err == nil { //nolint:staticcheck
			t.Error("expected error for nil context")
		}
	})

	t.Run("binary not on PATH", func(t *testing.T) {
		s := absentServer()
		err := s.Start(context.Background())
		if !errors.Is(err, ErrServerNotInstalled) {
			t.Fatalf("Start error = %v, want ErrServerNotInstalled", err)
		}
		if s.State() != ServerStateStopped {
			t.Errorf("State() = %v, want stopped", s.State())
		}
	})

	t.Run("second start rejected even after failure", func(t *testing.T) {
		s := absentServer()
		_ = s.Start(context.Background())
		if err := s.Start(context.Background()); !errors.Is(err, ErrServerAlreadyStarted) {
			t.Errorf("second Start error = %v, want ErrServerAlreadyStarted", err)
		}
	})
}

func TestServer_RequiresReady(t *testing.T) {
	s := absentServer()

	if _, err := s.Request(context.Background(), "textDocument/hover", nil); !errors.Is(err, ErrServerNotRunning) {
		t.Errorf("Request error = %v, want ErrServerNotRunning", err)
	}
	if err := s.Notify("textDocument/didOpen", nil); !errors.Is(err, ErrServerNotRunning) {
		t.Errorf("Notify error = %v, want ErrServerNotRunning", err)
	}
	if _, err := s.Request(nil, "textDocument/hover", nil); err == nil { //nolint:staticcheck
		t.Error("Request with nil context should error")
	}
}

func TestServer_ShutdownBeforeStart(t *testing.T) {
	s := absentServer()
	ctx := context.Background()

	// Never-started and repeated shutdowns must both be no-ops.
	for i := 0; i < 2; i++ {
		if err := s.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown #%d: %v", i+1, err)
		}
	}
}

// goplsWorkspace writes a minimal module and starts gopls over it, skipping
// when the binary is absent. The caller owns shutdown via t.Cleanup.
func goplsWorkspace(t *testing.T, mainSrc string) (*Server, string) {
	t.Helper()
	if _, err := exec.LookPath("gopls"); err != nil {
		t.Skip("gopls not installed")
	}

	dir := t.TempDir()
	files := map[string]string{
		"go.mod":  "module sandbox\n\ngo 1.21\n",
		"main.go": mainSrc,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	s := NewServer(LanguageConfig{Language: "go", Command: "gopls", Args: []string{"serve"}}, dir)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	return s, dir
}

func TestServer_GoplsLifecycle(t *testing.T) {
	s, _ := goplsWorkspace(t, "package main\n\nfunc main() {}\n")

	if s.State() != ServerStateReady {
		t.Fatalf("State() = %v, want ready", s.State())
	}
	if !s.Capabilities().HasDefinitionProvider() {
		t.Error("gopls should advertise a definition provider")
	}
	if !s.Capabilities().HasHoverProvider() {
		t.Error("gopls should advertise a hover provider")
	}

	if err := s.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	if s.State() != ServerStateStopped {
		t.Errorf("State() after Shutdown = %v, want stopped", s.State())
	}
}

func TestServer_GoplsHover(t *testing.T) {
	src := "package main\n\nfunc main() {\n\thelper()\n}\n\nfunc helper() {}\n"
	s, dir := goplsWorkspace(t, src)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	uri := "file://" + filepath.Join(dir, "main.go")
	err := s.Notify("textDocument/didOpen", DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{URI: uri, LanguageID: "go", Version: 1, Text: src},
	})
	if err != nil {
		t.Fatalf("didOpen: %v", err)
	}

	// Let gopls finish type-checking the freshly opened file.
	time.Sleep(500 * time.Millisecond)

	resp, err := s.Request(ctx, "textDocument/hover", TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
		Position:     Position{Line: 6, Character: 5},
	})
	if err != nil {
		t.Fatalf("hover: %v", err)
	}
	if len(resp) == 0 {
		t.Error("expected a hover payload for the helper declaration")
	}
}
