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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
)

// =============================================================================
// TRANSPORT
// =============================================================================

// Transport frames JSON-RPC 2.0 messages over a single connection using the
// LSP base protocol (Content-Length headers, UTF-8 JSON bodies).
//
// Description:
//
//	One background reader drains and dispatches incoming frames. Writes are
//	serialized under a mutex so two bodies can never interleave on the wire.
//	Requests are correlated to responses by a monotonically increasing id;
//	any number of requests may be outstanding concurrently and resolve in
//	arbitrary order.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Transport struct {
	reader *bufio.Reader
	writer io.Writer
	closer io.Closer

	writeMu sync.Mutex

	nextID atomic.Int64

	mu       sync.Mutex
	pending  map[int64]chan *Response
	handlers map[string]NotificationHandler

	closed atomic.Bool
	done   chan struct{}
}

// NotificationHandler is invoked for id-less messages of a registered method.
type NotificationHandler func(method string, params json.RawMessage)

// Request is an outgoing JSON-RPC request or notification.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response is an incoming JSON-RPC response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *LSPError       `json:"error,omitempty"`
}

// serverRequest is an incoming request or notification from the server.
type serverRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// NewTransport creates a transport over the given reader/writer pair.
//
// Description:
//
//	The reader and writer are typically the stdout and stdin pipes of a
//	language server subprocess. The optional closer is closed when the
//	transport shuts down.
//
// Outputs:
//
//	*Transport - The transport. Call Start to begin dispatching.
func NewTransport(r io.Reader, w io.Writer, c io.Closer) *Transport {
	return &Transport{
		reader:   bufio.NewReaderSize(r, 64*1024),
		writer:   w,
		closer:   c,
		pending:  make(map[int64]chan *Response),
		handlers: make(map[string]NotificationHandler),
		done:     make(chan struct{}),
	}
}

// Start launches the background read loop.
//
// Thread Safety:
//
//	Must be called exactly once, before any Call.
func (t *Transport) Start() {
	go t.readLoop()
}

// Call sends a request and blocks until the matching response arrives, the
// context expires, or the transport closes.
//
// Description:
//
//	Allocates a fresh id, registers a pending completion, writes the frame,
//	and suspends the caller. Context deadline expiry removes the pending
//	entry and returns ErrRequestTimeout (wrapped with the method name); a
//	late response for that id is dropped, never misdelivered. A JSON-RPC
//	error response is returned as *LSPError.
//
// Inputs:
//
//	ctx - Deadline and cancellation for this request
//	method - JSON-RPC method name
//	params - Request parameters, marshaled as-is (may be nil)
//
// Outputs:
//
//	json.RawMessage - The raw result payload (may be "null")
//	error - ErrRequestTimeout, ErrTransportClosed, *LSPError, or a write error
//
// Thread Safety:
//
//	Safe for concurrent use; concurrent calls resolve independently by id.
func (t *Transport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}

	start := time.Now()
	id := t.nextID.Add(1)
	ch := make(chan *Response, 1)

	t.mu.Lock()
	t.pending[id] = ch
	t.mu.Unlock()

	// The dispatch path deletes the entry when it delivers; this covers
	// the timeout, cancellation, and shutdown paths.
	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	req := &Request{JSONRPC: "2.0", ID: &id, Method: method, Params: params}
	if err := t.send(req); err != nil {
		recordRequest(ctx, method, time.Since(start), false)
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		recordRequest(ctx, method, time.Since(start), false)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w", method, ErrRequestTimeout)
		}
		return nil, ctx.Err()
	case <-t.done:
		recordRequest(ctx, method, time.Since(start), false)
		return nil, ErrTransportClosed
	case resp := <-ch:
		if resp.Error != nil {
			recordRequest(ctx, method, time.Since(start), false)
			return nil, resp.Error
		}
		recordRequest(ctx, method, time.Since(start), true)
		return resp.Result, nil
	}
}

// Notify sends a fire-and-forget notification (no id, no pending entry).
func (t *Transport) Notify(method string, params any) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	return t.send(&Request{JSONRPC: "2.0", Method: method, Params: params})
}

// OnNotification registers a handler for id-less messages of the given
// method. Handlers run on their own goroutine so the read loop never blocks.
func (t *Transport) OnNotification(method string, handler NotificationHandler) {
	t.mu.Lock()
	t.handlers[method] = handler
	t.mu.Unlock()
}

// Close shuts the transport down.
//
// Description:
//
//	Idempotent. Fails every outstanding request with ErrTransportClosed,
//	stops the read loop, and closes the underlying closer (which terminates
//	the subprocess pipes).
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}

	close(t.done)

	// Pending waiters unblock via t.done; clearing the map here just
	// guarantees no entry outlives the connection.
	t.mu.Lock()
	t.pending = make(map[int64]chan *Response)
	t.mu.Unlock()

	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}

// IsClosed reports whether Close has been called.
func (t *Transport) IsClosed() bool {
	return t.closed.Load()
}

// =============================================================================
// WIRE FORMAT
// =============================================================================

// send writes one framed message. The header/body pair is written under a
// single mutex hold so concurrent senders cannot interleave.
func (t *Transport) send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(data))
	if _, err := io.WriteString(t.writer, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := t.writer.Write(data); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

// readMessage reads one Content-Length framed message.
func (t *Transport) readMessage() (json.RawMessage, error) {
	contentLength := 0
	for {
		line, err := t.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		if strings.HasPrefix(strings.ToLower(line), "content-length:") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				n, err := strconv.Atoi(strings.TrimSpace(parts[1]))
				if err != nil {
					return nil, fmt.Errorf("bad Content-Length %q: %w", parts[1], err)
				}
				contentLength = n
			}
		}
		// Content-Type and any other headers are ignored.
	}

	if contentLength <= 0 {
		return nil, fmt.Errorf("missing Content-Length header")
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(t.reader, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// =============================================================================
// DISPATCH
// =============================================================================

// readLoop is the single consumer of incoming frames.
func (t *Transport) readLoop() {
	for {
		select {
		case <-t.done:
			return
		default:
		}

		msg, err := t.readMessage()
		if err != nil {
			if t.closed.Load() || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return
			}
			slog.Debug("lsp transport read error", slog.String("error", err.Error()))
			continue
		}
		t.dispatch(msg)
	}
}

// dispatch routes one frame: a message with an id and a result/error is a
// response; a message with a method is a notification or server request.
func (t *Transport) dispatch(data json.RawMessage) {
	hasID := gjson.GetBytes(data, "id").Exists()
	method := gjson.GetBytes(data, "method").Str

	if hasID && method == "" {
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			slog.Debug("lsp transport bad response frame", slog.String("error", err.Error()))
			return
		}
		t.deliver(&resp)
		return
	}

	if method != "" {
		var req serverRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return
		}
		if req.ID != nil {
			// Server-to-client request. The client supports none, but a
			// silent drop would stall servers that block on the reply.
			t.replyUnsupported(req.ID, req.Method)
			return
		}
		t.notifyHandler(req.Method, req.Params)
	}
}

// deliver hands a response to its waiting caller, or drops it if the caller
// already timed out and removed its pending entry.
func (t *Transport) deliver(resp *Response) {
	t.mu.Lock()
	ch, ok := t.pending[resp.ID]
	if ok {
		delete(t.pending, resp.ID)
	}
	t.mu.Unlock()

	if ok {
		ch <- resp // buffered, never blocks
	}
}

// notifyHandler invokes the registered handler for a notification method.
func (t *Transport) notifyHandler(method string, params json.RawMessage) {
	t.mu.Lock()
	handler := t.handlers[method]
	t.mu.Unlock()

	if handler != nil {
		go handler(method, params)
	}
}

// replyUnsupported answers a server-to-client request with MethodNotFound.
func (t *Transport) replyUnsupported(id *int64, method string) {
	reply := map[string]any{
		"jsonrpc": "2.0",
		"id":      *id,
		"error": &LSPError{
			Code:    CodeMethodNotFound,
			Message: fmt.Sprintf("client does not implement %s", method),
		},
	}
	if err := t.send(reply); err != nil {
		slog.Debug("lsp transport reply failed",
			slog.String("method", method),
			slog.String("error", err.Error()),
		)
	}
}
