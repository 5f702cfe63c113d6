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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// =============================================================================
// SERVER STATE
// =============================================================================

// ServerState is the lifecycle state of a language server instance.
type ServerState int32

const (
	// ServerStateUninitialized means Start has not been called.
	ServerStateUninitialized ServerState = iota

	// ServerStateStarting means the process is up but the initialize
	// handshake has not completed.
	ServerStateStarting

	// ServerStateReady means the server accepts requests.
	ServerStateReady

	// ServerStateStopping means Shutdown is in progress.
	ServerStateStopping

	// ServerStateStopped means the process has exited.
	ServerStateStopped
)

// String returns the lowercase state name.
func (s ServerState) String() string {
	switch s {
	case ServerStateUninitialized:
		return "uninitialized"
	case ServerStateStarting:
		return "starting"
	case ServerStateReady:
		return "ready"
	case ServerStateStopping:
		return "stopping"
	case ServerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// shutdownGracePeriod is how long Shutdown waits for the process to exit
// after the shutdown/exit exchange before escalating to a kill.
const shutdownGracePeriod = 5 * time.Second

// =============================================================================
// SERVER
// =============================================================================

// Server manages one language server subprocess and its transport.
//
// Description:
//
//	Owns the process lifecycle: spawn, initialize handshake, request
//	routing, and graceful shutdown with forced-kill escalation. A Server
//	is created per language per workspace by the Manager.
//
// Thread Safety:
//
//	Safe for concurrent use once Start has returned.
type Server struct {
	config   LanguageConfig
	rootPath string

	mu        sync.Mutex
	started   bool
	cmd       *exec.Cmd
	transport *Transport
	caps      ServerCapabilities

	state    atomic.Int32
	lastUsed atomic.Int64 // UnixNano

	diagMu  sync.Mutex
	diagsCb func(PublishDiagnosticsParams)

	procDone chan struct{}
}

// NewServer creates a server for the given language configuration.
//
// Description:
//
//	Does not spawn anything; call Start. The rootPath becomes the
//	workspace root sent in the initialize request.
//
// Inputs:
//
//	config - Language server launch configuration
//	rootPath - Absolute path to the workspace root
//
// Outputs:
//
//	*Server - The server in the uninitialized state
func NewServer(config LanguageConfig, rootPath string) *Server {
	s := &Server{
		config:   config,
		rootPath: rootPath,
		procDone: make(chan struct{}),
	}
	s.state.Store(int32(ServerStateUninitialized))
	s.lastUsed.Store(time.Now().UnixNano())
	return s
}

// Language returns the language identifier this server handles.
func (s *Server) Language() string { return s.config.Language }

// RootPath returns the workspace root path.
func (s *Server) RootPath() string { return s.rootPath }

// State returns the current lifecycle state.
func (s *Server) State() ServerState { return ServerState(s.state.Load()) }

// LastUsed returns the time of the most recent request.
func (s *Server) LastUsed() time.Time { return time.Unix(0, s.lastUsed.Load()) }

// Capabilities returns the capabilities the server advertised during
// initialize. Zero value before the server is ready.
func (s *Server) Capabilities() ServerCapabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps
}

// OnDiagnostics registers the callback invoked for every
// textDocument/publishDiagnostics notification. May be set before or after
// Start; only one callback is held.
func (s *Server) OnDiagnostics(cb func(PublishDiagnosticsParams)) {
	s.diagMu.Lock()
	s.diagsCb = cb
	s.diagMu.Unlock()
}

// Start spawns the server process and performs the initialize handshake.
//
// Description:
//
//	Resolves the command on PATH, spawns it with stdio pipes, starts the
//	transport read loop, sends initialize, records the advertised
//	capabilities, sends initialized, and pushes configuration settings if
//	the language config carries any. Exactly-once: a second call returns
//	ErrServerAlreadyStarted.
//
// Inputs:
//
//	ctx - Bounds the whole handshake (the manager applies StartupTimeout)
//
// Errors:
//
//	ErrServerNotInstalled - Command not found on PATH
//	ErrServerAlreadyStarted - Start was already called
//	ErrInitializeFailed - Handshake did not complete
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrServerAlreadyStarted
	}
	s.started = true

	path, err := exec.LookPath(s.config.Command)
	if err != nil {
		s.state.Store(int32(ServerStateStopped))
		return fmt.Errorf("%w: %s", ErrServerNotInstalled, s.config.Command)
	}

	s.state.Store(int32(ServerStateStarting))

	cmd := exec.Command(path, s.config.Args...)
	cmd.Dir = s.rootPath
	cmd.Env = os.Environ()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		s.state.Store(int32(ServerStateStopped))
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.state.Store(int32(ServerStateStopped))
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.state.Store(int32(ServerStateStopped))
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		s.state.Store(int32(ServerStateStopped))
		return fmt.Errorf("start %s: %w", s.config.Command, err)
	}

	s.cmd = cmd
	s.transport = NewTransport(stdout, stdin, stdin)
	s.transport.OnNotification("textDocument/publishDiagnostics", s.handlePublishDiagnostics)
	s.transport.Start()

	go s.drainStderr(stderr)
	go s.waitProcess()

	if err := s.initialize(ctx); err != nil {
		s.state.Store(int32(ServerStateStopped))
		_ = s.transport.Close()
		_ = cmd.Process.Kill()
		return fmt.Errorf("%w: %v", ErrInitializeFailed, err)
	}

	s.state.Store(int32(ServerStateReady))
	slog.Info("language server ready",
		slog.String("language", s.config.Language),
		slog.String("command", s.config.Command),
		slog.String("root", s.rootPath),
	)
	return nil
}

// initialize performs the initialize/initialized exchange. Caller holds s.mu.
func (s *Server) initialize(ctx context.Context) error {
	params := InitializeParams{
		ProcessID: os.Getpid(),
		RootURI:   pathToURI(s.rootPath),
		Capabilities: ClientCapabilities{
			TextDocument: TextDocumentClientCapabilities{
				Definition:     &DefinitionCapabilities{},
				References:     &ReferencesCapabilities{},
				Hover:          &HoverCapabilities{ContentFormat: []string{"markdown", "plaintext"}},
				DocumentSymbol: &DocumentSymbolCapabilities{HierarchicalDocumentSymbolSupport: true},
				Completion:     &CompletionCapabilities{},
				PublishDiagnostics: &PublishDiagnosticsCapabilities{
					VersionSupport: true,
				},
				Synchronization: &SynchronizationCapabilities{},
			},
		},
		InitializationOptions: s.config.InitializationOptions,
	}

	raw, err := s.transport.Call(ctx, "initialize", params)
	if err != nil {
		return err
	}

	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("decode initialize result: %w", err)
	}
	s.caps = result.Capabilities

	if err := s.transport.Notify("initialized", struct{}{}); err != nil {
		return err
	}

	if s.config.Settings != nil {
		if err := s.transport.Notify("workspace/didChangeConfiguration",
			DidChangeConfigurationParams{Settings: s.config.Settings}); err != nil {
			return err
		}
	}
	return nil
}

// Request sends a request to the server and waits for the response.
//
// Errors:
//
//	ErrServerNotRunning - Server is not in the ready state
func (s *Server) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if s.State() != ServerStateReady {
		return nil, ErrServerNotRunning
	}
	s.lastUsed.Store(time.Now().UnixNano())
	return s.transport.Call(ctx, method, params)
}

// Notify sends a notification to the server.
//
// Errors:
//
//	ErrServerNotRunning - Server is not in the ready state
func (s *Server) Notify(method string, params any) error {
	if s.State() != ServerStateReady {
		return ErrServerNotRunning
	}
	s.lastUsed.Store(time.Now().UnixNano())
	return s.transport.Notify(method, params)
}

// Shutdown gracefully stops the server.
//
// Description:
//
//	Sends the shutdown request and exit notification, closes the transport
//	(failing any in-flight requests), then waits for the process to exit,
//	escalating to SIGKILL after the grace period. Idempotent; safe to call
//	on a server that never started.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State() {
	case ServerStateStopped, ServerStateStopping:
		return nil
	case ServerStateUninitialized:
		s.state.Store(int32(ServerStateStopped))
		return nil
	}

	s.state.Store(int32(ServerStateStopping))

	if s.transport != nil {
		// Best effort; a wedged server must not block shutdown.
		shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_, _ = s.transport.Call(shutdownCtx, "shutdown", nil)
		cancel()
		_ = s.transport.Notify("exit", nil)
		_ = s.transport.Close()
	}

	if s.cmd != nil && s.cmd.Process != nil {
		select {
		case <-s.procDone:
		case <-time.After(shutdownGracePeriod):
			slog.Warn("language server did not exit, killing",
				slog.String("language", s.config.Language),
			)
			_ = s.cmd.Process.Kill()
			<-s.procDone
		case <-ctx.Done():
			_ = s.cmd.Process.Kill()
			<-s.procDone
		}
	}

	s.state.Store(int32(ServerStateStopped))
	return nil
}

// handlePublishDiagnostics decodes and forwards a diagnostics notification.
func (s *Server) handlePublishDiagnostics(_ string, raw json.RawMessage) {
	var params PublishDiagnosticsParams
	if err := json.Unmarshal(raw, &params); err != nil {
		slog.Debug("bad publishDiagnostics payload",
			slog.String("language", s.config.Language),
			slog.String("error", err.Error()),
		)
		return
	}

	s.diagMu.Lock()
	cb := s.diagsCb
	s.diagMu.Unlock()

	if cb != nil {
		cb(params)
	}
}

// waitProcess reaps the subprocess and flags unexpected exits.
func (s *Server) waitProcess() {
	err := s.cmd.Wait()
	close(s.procDone)

	if s.State() == ServerStateReady {
		slog.Warn("language server exited unexpectedly",
			slog.String("language", s.config.Language),
			slog.Any("error", err),
		)
		s.state.Store(int32(ServerStateStopped))
		_ = s.transport.Close()
	}
}

// drainStderr forwards server stderr to the debug log so diagnostics from
// the server binary are not lost.
func (s *Server) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		slog.Debug("language server stderr",
			slog.String("language", s.config.Language),
			slog.String("line", scanner.Text()),
		)
	}
}
