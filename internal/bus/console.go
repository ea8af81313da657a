// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

package bus

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/apptrace-go/apptrace/internal/log"
)

// ConsoleLogger is the debug-output subscriber from spec.md §4.6: it
// indents by depth, coalesces exact-repeat lines into "… ×N", and once an
// application frame calls into a dependency, prints only that top-most
// dependency frame — deeper dependency frames are muted until the top
// frame's own exit arrives. None of this affects the structured event
// stream other subscribers see; coalescing and muting are purely a
// rendering concern of this subscriber (spec.md §9's resolved open
// question).
type ConsoleLogger struct {
	out io.Writer

	mu sync.Mutex

	pending      string
	pendingCount int

	suppressing    bool
	suppressSpanID uint64

	// debounce, when set, extends coalescing across every instance
	// sharing one Redis rather than just consecutive lines within this
	// process (see DistributedDebouncer).
	debounce *DistributedDebouncer
}

// NewConsoleLogger returns a logger writing formatted lines to out.
func NewConsoleLogger(out io.Writer) *ConsoleLogger {
	return &ConsoleLogger{out: out}
}

// WithDistributedDebounce makes c consult d before printing any line,
// suppressing its own copy when another instance already printed the
// same line within d's window.
func (c *ConsoleLogger) WithDistributedDebounce(d *DistributedDebouncer) *ConsoleLogger {
	c.debounce = d
	return c
}

// Subscriber returns the Subscriber function to pass to Bus.Subscribe.
func (c *ConsoleLogger) Subscriber() Subscriber {
	return c.handle
}

func (c *ConsoleLogger) handle(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.suppressing {
		if ev.IsExit() && ev.SpanID == c.suppressSpanID {
			c.suppressing = false
			c.emitLine(c.format(ev))
		}
		return
	}
	if ev.IsEnter() && inferLibrary(ev.File) != "" {
		c.suppressing = true
		c.suppressSpanID = ev.SpanID
	}
	c.emitLine(c.format(ev))
}

func (c *ConsoleLogger) format(ev Event) string {
	depth := ev.Depth - 1
	if depth < 0 {
		depth = 0
	}
	marker := "->"
	if ev.IsExit() {
		marker = "<-"
	}
	if ev.Line > 0 {
		return fmt.Sprintf("%s%s %s (%s:%d)", strings.Repeat("  ", depth), marker, ev.Name, ev.File, ev.Line)
	}
	return fmt.Sprintf("%s%s %s (%s)", strings.Repeat("  ", depth), marker, ev.Name, ev.File)
}

// emitLine delays printing until a differing line is seen, so an
// immediate run of identical lines can be coalesced into one "… ×N" line.
// Must be called with mu held.
func (c *ConsoleLogger) emitLine(line string) {
	if line == c.pending {
		c.pendingCount++
		return
	}
	c.flushPendingLocked()
	c.pending = line
	c.pendingCount = 1
}

func (c *ConsoleLogger) flushPendingLocked() {
	if c.pending == "" {
		return
	}
	defer func() {
		c.pending = ""
		c.pendingCount = 0
	}()

	if c.debounce != nil {
		// Claimed against the bare line, not the "… ×N" suffixed form,
		// so two instances that coalesced a different number of local
		// repeats still recognize them as the same underlying line.
		claimed, err := c.debounce.Claim(context.Background(), c.pending)
		if err != nil {
			log.Warn("bus: distributed debounce claim failed, printing anyway: %v", err)
		} else if !claimed {
			return
		}
	}

	if c.pendingCount > 1 {
		fmt.Fprintf(c.out, "%s … ×%d\n", c.pending, c.pendingCount)
	} else {
		fmt.Fprintln(c.out, c.pending)
	}
}

// Close flushes any buffered repeat-line. Callers should invoke it once a
// scope is done producing events (middleware does this at flush time).
func (c *ConsoleLogger) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushPendingLocked()
}
