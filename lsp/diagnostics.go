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
	"sort"
	"sync"
	"time"
)

// =============================================================================
// DIAGNOSTICS STORE
// =============================================================================

// DiagnosticsStore caches the latest published diagnostics per document URI.
//
// Description:
//
//	Diagnostics are push-based in LSP: the server sends
//	textDocument/publishDiagnostics whenever its analysis settles. The
//	store keeps the most recent snapshot per URI, retained until
//	superseded by a newer publish or cleared when the document closes.
//
// Thread Safety:
//
//	Safe for concurrent use. The notification handler is the single
//	writer of snapshots; readers take the RLock.
type DiagnosticsStore struct {
	mu      sync.RWMutex
	byURI   map[string]*diagnosticSnapshot
	nextSeq int64
}

// diagnosticSnapshot is one published diagnostics set plus bookkeeping.
type diagnosticSnapshot struct {
	diagnostics []Diagnostic
	seq         int64
	receivedAt  time.Time
	updated     chan struct{} // closed when a newer snapshot replaces this one
}

// DiagnosticCounts aggregates a snapshot by severity.
type DiagnosticCounts struct {
	Errors      int
	Warnings    int
	Information int
	Hints       int
}

// NewDiagnosticsStore creates an empty store.
func NewDiagnosticsStore() *DiagnosticsStore {
	return &DiagnosticsStore{
		byURI: make(map[string]*diagnosticSnapshot),
	}
}

// Publish records a published diagnostics set for a URI, superseding any
// previous snapshot and waking waiters.
func (d *DiagnosticsStore) Publish(params PublishDiagnosticsParams) {
	diags := make([]Diagnostic, len(params.Diagnostics))
	copy(diags, params.Diagnostics)
	sort.SliceStable(diags, func(i, j int) bool {
		if diags[i].Range.Start.Line != diags[j].Range.Start.Line {
			return diags[i].Range.Start.Line < diags[j].Range.Start.Line
		}
		return diags[i].Range.Start.Character < diags[j].Range.Start.Character
	})

	d.mu.Lock()
	d.nextSeq++
	prev := d.byURI[params.URI]
	d.byURI[params.URI] = &diagnosticSnapshot{
		diagnostics: diags,
		seq:         d.nextSeq,
		receivedAt:  time.Now(),
		updated:     make(chan struct{}),
	}
	d.mu.Unlock()

	if prev != nil {
		close(prev.updated)
	}
}

// Get returns the cached diagnostics for a URI. Nil if none published.
func (d *DiagnosticsStore) Get(uri string) []Diagnostic {
	d.mu.RLock()
	defer d.mu.RUnlock()

	snap, ok := d.byURI[uri]
	if !ok {
		return nil
	}
	out := make([]Diagnostic, len(snap.diagnostics))
	copy(out, snap.diagnostics)
	return out
}

// ReceivedAt returns when the current snapshot for a URI was published,
// and whether one exists.
func (d *DiagnosticsStore) ReceivedAt(uri string) (time.Time, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	snap, ok := d.byURI[uri]
	if !ok {
		return time.Time{}, false
	}
	return snap.receivedAt, true
}

// Clear drops the snapshot for a URI (on didClose) and wakes waiters.
func (d *DiagnosticsStore) Clear(uri string) {
	d.mu.Lock()
	prev := d.byURI[uri]
	delete(d.byURI, uri)
	d.mu.Unlock()

	if prev != nil {
		close(prev.updated)
	}
}

// WaitFresh blocks until a snapshot published at or after the given time
// exists for the URI, or the context expires.
//
// Description:
//
//	This bridges the push protocol into a pull call. It is a bounded
//	heuristic, not a synchronization guarantee: a server may publish
//	nothing for a clean file, so callers bound the wait and take
//	whatever snapshot exists when it elapses.
//
// Outputs:
//
//	[]Diagnostic - The freshest snapshot available when the wait ends
func (d *DiagnosticsStore) WaitFresh(ctx context.Context, uri string, since time.Time) []Diagnostic {
	for {
		d.mu.RLock()
		snap, ok := d.byURI[uri]
		d.mu.RUnlock()

		if ok && !snap.receivedAt.Before(since) {
			return d.Get(uri)
		}

		var updated chan struct{}
		if ok {
			updated = snap.updated
		} else {
			// Nothing published yet; poll on a short tick.
			updated = nil
		}

		if updated != nil {
			select {
			case <-ctx.Done():
				return d.Get(uri)
			case <-updated:
			}
		} else {
			select {
			case <-ctx.Done():
				return d.Get(uri)
			case <-time.After(10 * time.Millisecond):
			}
		}
	}
}

// Counts aggregates the cached diagnostics for a URI by severity.
func (d *DiagnosticsStore) Counts(uri string) DiagnosticCounts {
	var counts DiagnosticCounts
	for _, diag := range d.Get(uri) {
		switch diag.Severity {
		case SeverityError:
			counts.Errors++
		case SeverityWarning:
			counts.Warnings++
		case SeverityInformation:
			counts.Information++
		case SeverityHint:
			counts.Hints++
		}
	}
	return counts
}
