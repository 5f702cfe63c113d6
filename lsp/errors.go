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
	"errors"
	"fmt"
)

// Sentinel errors for server and transport lifecycle.
var (
	// ErrUnsupportedLanguage indicates no configuration exists for a language.
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrServerNotInstalled indicates the server binary was not found on PATH.
	ErrServerNotInstalled = errors.New("language server not installed")

	// ErrServerNotRunning indicates an operation requires a ready server.
	ErrServerNotRunning = errors.New("language server not running")

	// ErrServerAlreadyStarted indicates Start was called more than once.
	ErrServerAlreadyStarted = errors.New("language server already started")

	// ErrServerCrashed indicates the server process exited unexpectedly.
	ErrServerCrashed = errors.New("language server crashed")

	// ErrInitializeFailed indicates the initialize handshake failed.
	ErrInitializeFailed = errors.New("initialize handshake failed")

	// ErrRequestTimeout indicates a request deadline elapsed before a
	// response arrived. Distinct from LSPError so callers can retry with
	// a longer deadline.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrTransportClosed indicates the connection was closed while a
	// request was outstanding.
	ErrTransportClosed = errors.New("transport closed")
)

// JSON-RPC 2.0 error codes the client cares about.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// Server-defined error range per JSON-RPC 2.0.
	codeServerErrorEnd   = -32000
	codeServerErrorStart = -32099
)

// LSPError is a JSON-RPC error response from a language server.
type LSPError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *LSPError) Error() string {
	return fmt.Sprintf("lsp error %d: %s", e.Code, e.Message)
}

// IsServerError reports whether the code is in the JSON-RPC
// server-defined error range.
func (e *LSPError) IsServerError() bool {
	return e.Code >= codeServerErrorStart && e.Code <= codeServerErrorEnd
}

// isRetryableError reports whether an operation that failed with err is
// worth retrying against a (possibly restarted) server.
//
// Description:
//
//	Crashed or not-yet-running servers are transient: the manager can
//	respawn them. Server-defined JSON-RPC errors are typically internal
//	hiccups. Unsupported languages, timeouts, and protocol-level errors
//	(method not found, invalid params) will fail the same way again.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrServerCrashed) || errors.Is(err, ErrServerNotRunning) {
		return true
	}
	var lspErr *LSPError
	if errors.As(err, &lspErr) {
		return lspErr.IsServerError()
	}
	return false
}
