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
	"testing"
	"time"
)

func TestDefaultManagerConfig(t *testing.T) {
	config := DefaultManagerConfig()

	if config.IdleTimeout != 10*time.Minute {
		t.Errorf("IdleTimeout = %v, want 10m", config.IdleTimeout)
	}
	if config.StartupTimeout != 30*time.Second {
		t.Errorf("StartupTimeout = %v, want 30s", config.StartupTimeout)
	}
	if config.RequestTimeout != 10*time.Second {
		t.Errorf("RequestTimeout = %v, want 10s", config.RequestTimeout)
	}
}

func TestNewManager(t *testing.T) {
	mgr := NewManager("/tmp/workspace", DefaultManagerConfig())
	defer mgr.ShutdownAll(context.Background())

	if mgr.RootPath() != "/tmp/workspace" {
		t.Errorf("RootPath() = %q, want /tmp/workspace", mgr.RootPath())
	}
	if mgr.Configs() == nil {
		t.Error("Configs() should not be nil")
	}
	if len(mgr.RunningServers()) != 0 {
		t.Error("no servers should be running initially")
	}
}

func TestManager_GetOrSpawn_RequiresContext(t *testing.T) {
	mgr := NewManager("/tmp/workspace", DefaultManagerConfig())
	defer mgr.ShutdownAll(context.Background())

	_, err := mgr.GetOrSpawn(nil, "go") //nolint:staticcheck
	if err == nil {
		t.Error("expected error for nil context")
	}
}

func TestManager_GetOrSpawn_UnsupportedLanguage(t *testing.T) {
	mgr := NewManager("/tmp/workspace", DefaultManagerConfig())
	defer mgr.ShutdownAll(context.Background())

	_, err := mgr.GetOrSpawn(context.Background(), "cobol")
	if !errors.Is(err, ErrUnsupportedLanguage) {
		t.Errorf("expected ErrUnsupportedLanguage, got %v", err)
	}
}

func TestManager_GetOrSpawn_NotInstalled(t *testing.T) {
	mgr := NewManager("/tmp/workspace", DefaultManagerConfig())
	defer mgr.ShutdownAll(context.Background())

	mgr.Configs().Register(LanguageConfig{
		Language:   "fake",
		Command:    "nonexistent-lsp-server-binary-12345",
		Extensions: []string{".fake"},
	})

	_, err := mgr.GetOrSpawn(context.Background(), "fake")
	if !errors.Is(err, ErrServerNotInstalled) {
		t.Errorf("expected ErrServerNotInstalled, got %v", err)
	}
}

func TestManager_GetOrSpawn_AfterShutdownAll(t *testing.T) {
	mgr := NewManager("/tmp/workspace", DefaultManagerConfig())

	if err := mgr.ShutdownAll(context.Background()); err != nil {
		t.Fatalf("ShutdownAll: %v", err)
	}

	_, err := mgr.GetOrSpawn(context.Background(), "go")
	if err == nil {
		t.Error("expected error after ShutdownAll")
	}
}

func TestManager_Get_NoServer(t *testing.T) {
	mgr := NewManager("/tmp/workspace", DefaultManagerConfig())
	defer mgr.ShutdownAll(context.Background())

	if server := mgr.Get("go"); server != nil {
		t.Error("Get should return nil when no server is running")
	}
}

func TestManager_Shutdown_NoServer(t *testing.T) {
	mgr := NewManager("/tmp/workspace", DefaultManagerConfig())
	defer mgr.ShutdownAll(context.Background())

	if err := mgr.Shutdown(context.Background(), "go"); err != nil {
		t.Errorf("Shutdown of absent server should be nil, got %v", err)
	}
}

func TestManager_ShutdownAll_Idempotent(t *testing.T) {
	mgr := NewManager("/tmp/workspace", DefaultManagerConfig())

	if err := mgr.ShutdownAll(context.Background()); err != nil {
		t.Fatalf("first ShutdownAll: %v", err)
	}
	if err := mgr.ShutdownAll(context.Background()); err != nil {
		t.Fatalf("second ShutdownAll: %v", err)
	}
}

func TestManager_IsAvailable(t *testing.T) {
	mgr := NewManager("/tmp/workspace", DefaultManagerConfig())
	defer mgr.ShutdownAll(context.Background())

	if mgr.IsAvailable("cobol") {
		t.Error("unregistered language should not be available")
	}

	mgr.Configs().Register(LanguageConfig{
		Language:   "fake",
		Command:    "nonexistent-lsp-server-binary-12345",
		Extensions: []string{".fake"},
	})
	if mgr.IsAvailable("fake") {
		t.Error("language with missing binary should not be available")
	}
}

func TestManager_OnSpawn_HookRuns(t *testing.T) {
	mgr := NewManager("/tmp/workspace", DefaultManagerConfig())
	defer mgr.ShutdownAll(context.Background())

	mgr.Configs().Register(LanguageConfig{
		Language:   "fake",
		Command:    "nonexistent-lsp-server-binary-12345",
		Extensions: []string{".fake"},
	})

	hooked := make(chan *Server, 1)
	mgr.OnSpawn(func(s *Server) {
		hooked <- s
	})

	// Spawn fails at LookPath, but the hook must have run first so
	// diagnostics wiring is in place before any handshake traffic.
	_, err := mgr.GetOrSpawn(context.Background(), "fake")
	if !errors.Is(err, ErrServerNotInstalled) {
		t.Fatalf("expected ErrServerNotInstalled, got %v", err)
	}

	select {
	case s := <-hooked:
		if s.Language() != "fake" {
			t.Errorf("hook received server for %q, want fake", s.Language())
		}
	default:
		t.Error("spawn hook did not run")
	}
}

func TestManager_Config(t *testing.T) {
	config := ManagerConfig{
		IdleTimeout:    time.Minute,
		StartupTimeout: 5 * time.Second,
		RequestTimeout: time.Second,
	}
	mgr := NewManager("/tmp/workspace", config)
	defer mgr.ShutdownAll(context.Background())

	got := mgr.Config()
	if got.IdleTimeout != time.Minute {
		t.Errorf("IdleTimeout = %v, want 1m", got.IdleTimeout)
	}
}
