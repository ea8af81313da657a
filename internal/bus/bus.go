// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

// Package bus is the process-wide trace event pub/sub (C6). Its operation
// stack is modeled directly on the teacher's appsec/dyngo package: an
// Operation-like registry of listeners that is walked on every emission,
// generalized here from security events to TraceEvents.
package bus

import (
	"sync"

	"github.com/apptrace-go/apptrace/ext"
	"github.com/apptrace-go/apptrace/internal/gid"
)

// Event is the payload delivered to subscribers. It is a structural alias
// kept separate from apptrace.TraceEvent so this package has no dependency
// on the public API package (apptrace depends on bus, not the reverse).
type Event struct {
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

// Subscriber receives every event not dropped by the bus's filter set.
type Subscriber func(Event)

// Bus is an in-process, single-emitter publish/subscribe hub. Emission is
// FIFO across subscribers; a subscriber that itself calls Emit while being
// invoked is silently ignored for that nested call (spec.md §4.6's EMITTING
// guard), since Go offers no single-thread reentrancy check the way the JS
// event loop does.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]Subscriber
	nextID      int

	// activeEmits tracks, per goroutine, whether that goroutine is already
	// inside a call to Emit on this bus. spec.md §4.6's EMITTING guard
	// assumes a single event-loop thread; Go has none, so the guard is
	// scoped per goroutine (via internal/gid) rather than process-wide —
	// this keeps concurrent, unrelated requests from blocking each other
	// while still catching a subscriber that re-enters Emit on its own
	// call stack.
	activeEmits sync.Map // int64 goroutine id -> struct{}

	filters *FilterSet
}

// New returns an empty Bus with no filters installed.
func New() *Bus {
	return &Bus{subscribers: make(map[int]Subscriber)}
}

// SetFilters installs the declarative drop rules applied before a
// subscriber ever sees an event. A nil FilterSet disables filtering.
func (b *Bus) SetFilters(f *FilterSet) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filters = f
}

// Subscribe registers a subscriber and returns an unsubscribe function. A
// removed subscriber is guaranteed to see no event emitted strictly after
// unsubscribe returns.
func (b *Bus) Subscribe(s Subscriber) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = s
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
		})
	}
}

// Emit delivers ev to every subscriber not excluded by the installed
// FilterSet. Events dropped by the filter set never reach a subscriber.
func (b *Bus) Emit(ev Event) {
	id := gid.Current()
	if _, reentrant := b.activeEmits.Load(id); reentrant {
		return
	}
	b.activeEmits.Store(id, struct{}{})
	defer b.activeEmits.Delete(id)

	b.mu.RLock()
	filters := b.filters
	subs := make([]Subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	if filters != nil && filters.Drop(ev) {
		return
	}
	for _, s := range subs {
		s(ev)
	}
}
