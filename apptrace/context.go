// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

package apptrace

import "context"

type scopeKey struct{}

// Open returns a child context carrying a fresh Scope identified by
// scopeID. The context carries the Scope as far as the middleware;
// Dispatch and the generated body wrappers do not read it from a
// context but find it ambiently on the calling goroutine, once
// RunInScope (below) has installed it there. middleware.Handle calls
// this once per inbound request.
func Open(ctx context.Context, scopeID string) context.Context {
	return context.WithValue(ctx, scopeKey{}, newScope(scopeID, DefaultBus))
}

// ScopeFromContext returns the Scope carried by ctx, or nil if ctx
// carries none — the Go equivalent of spec.md §4.4's "no scope is
// active" early exit, which Dispatch treats as a pass-through call.
func ScopeFromContext(ctx context.Context) *Scope {
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	return s
}

// withScope returns ctx with scope installed, used internally when
// forking isolation for un-awaited calls and detached callback arguments
// (spec.md §4.5).
func withScope(ctx context.Context, scope *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

// RunInScope runs fn with ctx's Scope (if any) installed as the ambient
// current scope for the calling goroutine. Dispatch has no
// context.Context parameter of its own — a rewritten call site only
// knows its reflect.Value, receiver, and arguments — so it resolves "the
// active scope" ambiently rather than from an explicit parameter.
// middleware.Handle calls this once around the whole downstream handler
// so every Dispatch call made on that goroutine, directly or through a
// callback with no context parameter, can still find the request's
// Scope. A ctx carrying no Scope runs fn unchanged.
func RunInScope(ctx context.Context, fn func()) {
	scope := ScopeFromContext(ctx)
	if scope == nil {
		fn()
		return
	}
	runWithScope(scope, fn)
}
