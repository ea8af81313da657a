// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

package apptrace

import (
	"sync"

	"github.com/apptrace-go/apptrace/internal/gid"
)

// ambientScopes is the fallback scope lookup Dispatch uses when a call
// site has no context.Context to read from — a bare func(...) value
// handed to a third-party callback slot (sort.Interface.Less, a
// time.AfterFunc callback, an http.HandlerFunc wired as a sub-route) has
// no parameter the transformer can thread a context through. Every such
// callback is wrapped with runWithScope before being handed off, which
// installs the captured Scope for the duration of that one synchronous
// call on the current goroutine and removes it again afterward. This is
// scoped per-goroutine, not process-wide, for the same reason
// internal/bus's re-entrancy guard is: Go genuinely runs call graphs on
// multiple OS threads at once.
var ambientScopes sync.Map // int64 goroutine id -> *Scope

func currentScope() *Scope {
	v, ok := ambientScopes.Load(gid.Current())
	if !ok {
		return nil
	}
	return v.(*Scope)
}

// runWithScope installs scope as the ambient current scope for the
// calling goroutine, runs fn, then restores whatever was installed
// before (or clears it). Dispatch wraps every fn.Call invocation in this
// so nested calls on the same goroutine — including calls the callee
// makes into a callback argument with no context parameter of its own —
// can still resolve the right Scope.
func runWithScope(scope *Scope, fn func()) {
	id := gid.Current()
	prev, hadPrev := ambientScopes.Load(id)
	ambientScopes.Store(id, scope)
	defer func() {
		if hadPrev {
			ambientScopes.Store(id, prev)
		} else {
			ambientScopes.Delete(id)
		}
	}()
	fn()
}
