// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

package apptrace

import "sync/atomic"

var spanIDSeq uint64

// nextSpanID returns a process-unique, monotonically increasing span
// identifier. It is never reused, matching spec.md §3's "unique within
// process" requirement for Span.ID.
func nextSpanID() uint64 {
	return atomic.AddUint64(&spanIDSeq, 1)
}

// Span is the in-memory bracket tracked on a Scope's stack while a traced
// call is open. It exists only on the stack; no Span ever outlives its
// exit emission (spec.md §3 invariant).
type Span struct {
	ID        uint64
	ParentID  uint64
	Depth     int
	Suspended bool
}
