// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

package apptrace

import (
	"github.com/apptrace-go/apptrace/ext"
	"github.com/apptrace-go/apptrace/internal/sanitize"
)

// EnterBody is what internal/transform's function-body wrap generates a
// call to as the first statement of a body-traced function — the
// transformed function manages its own span directly instead of relying
// on a caller-side Dispatch wrapping it, since origin.Info.BodyTraced
// tells Dispatch to skip emitting a second enter/exit for it (§4.4). Both
// results are nil when no Scope is active on the calling goroutine; the
// generated defer's ExitBody call is then a no-op.
func EnterBody(name, file string, line int, kind ext.FuncKind, args any) (span *Span, scope *Scope) {
	scope = currentScope()
	if scope == nil {
		return nil, nil
	}
	return scope.Enter(name, file, line, kind, sanitize.Value(args)), scope
}

// ExitBody closes the span EnterBody opened. A nil scope (EnterBody found
// no ambient Scope) makes this a no-op.
func ExitBody(span *Span, scope *Scope, name, file string, line int, kind ext.FuncKind, detail ExitDetail) {
	if scope == nil {
		return
	}
	scope.Exit(span, name, file, line, kind, detail)
}

// ForkCurrentScope returns a fork of whatever Scope is ambient on the
// calling goroutine, or nil if none — internal/transform's rewrite of a
// `go` statement calls this on the launching goroutine, before the
// launched goroutine starts, so the fork captures the stack state at the
// moment of launch rather than whatever it happens to be later.
func ForkCurrentScope() *Scope {
	s := currentScope()
	if s == nil {
		return nil
	}
	return s.fork()
}

// RunWithScope installs scope as the ambient current scope for the
// calling goroutine for the duration of fn. A nil scope runs fn
// unchanged. Exported for internal/transform's generated `go` statement
// wrapping, which has no context.Context to thread a Scope through.
func RunWithScope(scope *Scope, fn func()) {
	if scope == nil {
		fn()
		return
	}
	runWithScope(scope, fn)
}
