// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

// Package assembler is C8: it turns the raw, possibly-unordered list of
// events a flush collected into a balanced, depth-first-ordered, batched
// sequence ready to ship over internal/transport. Grounded on the
// teacher's appsec/dyngo parent-walk helpers (forEachOperation /
// forEachParentOperation), generalized from walking a live operation
// tree to walking a flushed, span-id-keyed event tree.
package assembler

import (
	"sort"

	"github.com/apptrace-go/apptrace/ext"
	"github.com/apptrace-go/apptrace/internal/bus"
)

// Batch is one fixed-size chunk of the reordered event list, tagged so
// the receiving side can reassemble scope order and detect drops.
type Batch struct {
	ScopeID     string
	ChunkIndex  int
	TotalChunks int
	Events      []bus.Event
}

// Assemble balances unmatched enters, reorders the list into a
// depth-first walk of the span tree, and splits the result into batches
// of batchSize events (the default batch size, ext.DefaultBatchSize, if
// batchSize <= 0).
func Assemble(scopeID string, events []bus.Event, batchSize int) []Batch {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	balanced := balance(events)
	reordered := reorder(balanced)
	return batchify(scopeID, reordered, batchSize)
}

const defaultBatchSize = 100

// balance appends a synthetic exit for every enter event with no
// matching exit in the list — a request whose handler goroutine panicked
// past recovery, or whose span never got a chance to complete before
// flush, must still produce a valid bracket.
func balance(events []bus.Event) []bus.Event {
	open := map[uint64]bus.Event{}
	for _, ev := range events {
		switch {
		case ev.IsEnter():
			open[ev.SpanID] = ev
		case ev.IsExit():
			delete(open, ev.SpanID)
		}
	}
	if len(open) == 0 {
		return events
	}
	out := make([]bus.Event, len(events), len(events)+len(open))
	copy(out, events)
	for _, enter := range open {
		out = append(out, bus.Event{
			Phase:     ext.PhaseExit,
			Name:      enter.Name,
			File:      enter.File,
			Line:      enter.Line,
			Kind:      enter.Kind,
			ScopeID:   enter.ScopeID,
			Depth:     enter.Depth - 1,
			SpanID:    enter.SpanID,
			ParentID:  enter.ParentID,
			Unawaited: true,
		})
	}
	return out
}

type treeNode struct {
	spanID   uint64
	enter    *bus.Event
	exits    []*bus.Event // usually one; a query-builder span emits two (spec.md §9 scenario 4)
	children []*treeNode
	order    int // first-emission index, for stable child ordering
}

// reorder builds a tree keyed by SpanID with ParentID edges, sorts
// siblings by first-emission order, and depth-first re-serializes it
// (enter, recurse, then every exit for that span, in arrival order).
// A deferred query-builder call legitimately emits two exits sharing one
// SpanID — an immediate "pending" one and, once its finisher resolves, a
// second "resolved" one — so exits accumulate per span rather than the
// last one silently overwriting the first. Events carrying no SpanID
// (SpanID==0, meaning they were never part of a traced call — this
// should not normally occur in practice but is handled defensively) are
// preserved in their original relative position, interleaved around the
// reassembled span subtree that follows them.
func reorder(events []bus.Event) []bus.Event {
	nodes := map[uint64]*treeNode{}
	var roots []*treeNode
	// before is the first-emission index of the next span to appear after
	// the loose event, which places it ahead of that span's root subtree.
	type looseEvent struct {
		ev     bus.Event
		before int
	}
	var loose []looseEvent
	order := 0

	for _, ev := range events {
		if ev.SpanID == 0 {
			loose = append(loose, looseEvent{ev: ev, before: order})
			continue
		}
		n, ok := nodes[ev.SpanID]
		if !ok {
			n = &treeNode{spanID: ev.SpanID, order: order}
			order++
			nodes[ev.SpanID] = n
		}
		if ev.IsEnter() {
			e := ev
			n.enter = &e
		} else {
			e := ev
			n.exits = append(n.exits, &e)
		}
	}

	for _, n := range nodes {
		if n.enter == nil {
			// an exit with no enter in this flush: treat it as a root
			// so it still appears in the output rather than vanishing.
			roots = append(roots, n)
			continue
		}
		parent, hasParent := nodes[n.enter.ParentID]
		if n.enter.ParentID == 0 || !hasParent {
			roots = append(roots, n)
			continue
		}
		parent.children = append(parent.children, n)
	}

	sort.Slice(roots, func(i, j int) bool { return roots[i].order < roots[j].order })
	for _, n := range nodes {
		sort.Slice(n.children, func(i, j int) bool { return n.children[i].order < n.children[j].order })
	}

	out := make([]bus.Event, 0, len(events))
	var walk func(n *treeNode, depth int)
	walk = func(n *treeNode, depth int) {
		if n.enter != nil {
			e := *n.enter
			e.Depth = depth
			out = append(out, e)
		}
		for _, c := range n.children {
			walk(c, depth+1)
		}
		for _, ex := range n.exits {
			e := *ex
			e.Depth = depth
			out = append(out, e)
		}
	}
	next := 0
	for _, r := range roots {
		for next < len(loose) && loose[next].before <= r.order {
			out = append(out, loose[next].ev)
			next++
		}
		walk(r, 1)
	}
	for ; next < len(loose); next++ {
		out = append(out, loose[next].ev)
	}
	return out
}

func batchify(scopeID string, events []bus.Event, batchSize int) []Batch {
	if len(events) == 0 {
		return nil
	}
	total := (len(events) + batchSize - 1) / batchSize
	batches := make([]Batch, 0, total)
	for i := 0; i < total; i++ {
		start := i * batchSize
		end := start + batchSize
		if end > len(events) {
			end = len(events)
		}
		batches = append(batches, Batch{
			ScopeID:     scopeID,
			ChunkIndex:  i,
			TotalChunks: total,
			Events:      events[start:end],
		})
	}
	return batches
}
