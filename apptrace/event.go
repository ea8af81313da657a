// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

package apptrace

import "github.com/apptrace-go/apptrace/ext"

// TraceEvent is the immutable record emitted for every enter and exit.
// Field meaning matches spec.md §3 exactly.
type TraceEvent struct {
	Phase     ext.Phase
	EmitNanos int64
	Name      string
	File      string
	Line      int
	Kind      ext.FuncKind
	ScopeID   string
	Depth     int
	SpanID    uint64
	ParentID  uint64

	Args   any
	Result any
	Err    any

	Threw     bool
	Unawaited bool
}

// IsEnter reports whether this event opens a span.
func (e TraceEvent) IsEnter() bool { return e.Phase == ext.PhaseEnter }

// IsExit reports whether this event closes a span.
func (e TraceEvent) IsExit() bool { return e.Phase == ext.PhaseExit }
