// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

package apptrace

import (
	"sync"
	"time"

	"github.com/apptrace-go/apptrace/ext"
	"github.com/apptrace-go/apptrace/internal/bus"
)

// DefaultBus is the process-wide event bus every Scope publishes to
// unless a test substitutes its own via newScope. middleware and
// internal/log subscribe here.
var DefaultBus = bus.New()

// ExitDetail carries everything an Exit call needs beyond the Span
// already returned from the matching Enter.
type ExitDetail struct {
	Result    any
	Err       any
	Threw     bool
	Unawaited bool
}

// Scope is the Go analogue of spec.md §3's per-request Scope: a span
// stack plus the un-awaited bookkeeping from §4.5, protected by its own
// mutex because — unlike the JS runtime a Scope is single-threaded
// under — Go call graphs genuinely run on multiple OS threads
// concurrently once goroutines are involved. A Scope is carried through
// a context.Context (see context.go) and, while traced code runs, is
// installed as the calling goroutine's ambient scope (see ambient.go),
// which is where Dispatch looks it up.
type Scope struct {
	mu sync.Mutex

	id    string
	depth int
	stack []*Span

	// pendingUnawaited holds one marker per upcoming Enter that the
	// dispatcher has already determined is an un-awaited call (spec.md
	// §4.5); frameUnawaited records, per currently-open frame, whether
	// it consumed one, so the matching Exit can propagate the flag.
	pendingUnawaited []struct{}
	frameUnawaited   []bool

	b *bus.Bus
}

func newScope(id string, b *bus.Bus) *Scope {
	if b == nil {
		b = DefaultBus
	}
	return &Scope{id: id, b: b}
}

// ID returns the scope identifier it was opened with.
func (s *Scope) ID() string {
	return s.id
}

// fork returns a sibling Scope sharing this scope's id but owning an
// independent copy of the currently-open span stack, with any span
// already marked Suspended dropped. This is spec.md §4.5's isolation
// step for un-awaited calls and detached callback arguments: the forked
// branch can keep pushing/popping without racing the original call's own
// stack mutations.
func (s *Scope) fork() *Scope {
	s.mu.Lock()
	defer s.mu.Unlock()

	stack := make([]*Span, 0, len(s.stack))
	for _, sp := range s.stack {
		if sp.Suspended {
			continue
		}
		cp := *sp
		stack = append(stack, &cp)
	}
	return &Scope{id: s.id, depth: len(stack), stack: stack, b: s.b}
}

// Suspend marks span as Suspended and removes it from the live stack
// immediately, rather than leaving it for a later Exit call that may
// never come on this scope. A deferred Future/channel result hands its
// span's eventual Exit off to whatever goroutine the Future resolves
// on (via a forked Scope — see fork), but the live scope must stop
// treating span as "still open" the moment that handoff happens, or
// every sibling call entered afterward computes its parentID against a
// frame that, from the live scope's perspective, is never coming back
// (spec.md §4.5).
func (s *Scope) Suspend(span *Span) {
	s.mu.Lock()
	defer s.mu.Unlock()
	span.Suspended = true
	for i := len(s.stack) - 1; i >= 0; i-- {
		if s.stack[i] == span {
			s.stack = append(s.stack[:i], s.stack[i+1:]...)
			break
		}
	}
	s.depth = len(s.stack)
}

// MarkNextUnawaited records that the next Enter on this scope opens an
// un-awaited call, so its eventual Exit carries Unawaited=true even if
// the callee itself never discovers a pending Future.
func (s *Scope) MarkNextUnawaited() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingUnawaited = append(s.pendingUnawaited, struct{}{})
}

// Enter opens a new span as a child of whatever is currently on top of
// the stack (or a root span if the stack is empty) and emits the
// corresponding enter TraceEvent.
func (s *Scope) Enter(name, file string, line int, kind ext.FuncKind, args any) *Span {
	s.mu.Lock()

	var parentID uint64
	if n := len(s.stack); n > 0 {
		parentID = s.stack[n-1].ID
	}

	var consumedUnawaited bool
	if n := len(s.pendingUnawaited); n > 0 {
		s.pendingUnawaited = s.pendingUnawaited[:n-1]
		consumedUnawaited = true
	}
	s.frameUnawaited = append(s.frameUnawaited, consumedUnawaited)

	s.depth++
	span := &Span{ID: nextSpanID(), ParentID: parentID, Depth: s.depth}
	s.stack = append(s.stack, span)
	scopeID := s.id
	b := s.b
	s.mu.Unlock()

	b.Emit(bus.Event{
		Phase:     ext.PhaseEnter,
		EmitNanos: time.Now().UnixNano(),
		Name:      name,
		File:      file,
		Line:      line,
		Kind:      kind,
		ScopeID:   scopeID,
		Depth:     span.Depth,
		SpanID:    span.ID,
		ParentID:  span.ParentID,
		Args:      args,
	})
	return span
}

// Exit closes span and emits the matching exit TraceEvent. span is
// removed from the stack wherever it is found rather than assumed to be
// on top, since an asynchronous completion (a Future resolving later, or
// a detached goroutine) can close its span out of order relative to
// sibling frames opened and closed in between.
func (s *Scope) Exit(span *Span, name, file string, line int, kind ext.FuncKind, detail ExitDetail) {
	s.mu.Lock()

	var frameUnawaited bool
	if n := len(s.frameUnawaited); n > 0 {
		frameUnawaited = s.frameUnawaited[n-1]
		s.frameUnawaited = s.frameUnawaited[:n-1]
	}

	for i := len(s.stack) - 1; i >= 0; i-- {
		if s.stack[i] == span {
			s.stack = append(s.stack[:i], s.stack[i+1:]...)
			break
		}
	}
	s.depth = len(s.stack)
	scopeID := s.id
	b := s.b
	s.mu.Unlock()

	unawaited := detail.Unawaited || frameUnawaited || isMarkedUnawaited(detail.Result)

	b.Emit(bus.Event{
		Phase:     ext.PhaseExit,
		EmitNanos: time.Now().UnixNano(),
		Name:      name,
		File:      file,
		Line:      line,
		Kind:      kind,
		ScopeID:   scopeID,
		Depth:     span.Depth,
		SpanID:    span.ID,
		ParentID:  span.ParentID,
		Result:    detail.Result,
		Err:       detail.Err,
		Threw:     detail.Threw,
		Unawaited: unawaited,
	})
}

// Depth returns the number of currently-open spans.
func (s *Scope) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stack)
}
