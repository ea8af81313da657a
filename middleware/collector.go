// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

package middleware

import (
	"strings"
	"sync"

	"github.com/apptrace-go/apptrace/config"
	"github.com/apptrace-go/apptrace/ext"
	"github.com/apptrace-go/apptrace/internal/bus"
	"github.com/apptrace-go/apptrace/internal/sanitize"
)

// collector is the per-request bus.Subscriber: it keeps only the events
// belonging to its own scope, sanitizes their dynamic payloads, and
// tracks the first frame that looks like the request's entry point.
type collector struct {
	mu      sync.Mutex
	scopeID string
	cfg     config.Config

	events        []bus.Event
	entryPoint    string
	entryPointSet bool
	onActivity    func()
}

func newCollector(scopeID string, cfg config.Config) *collector {
	return &collector{scopeID: scopeID, cfg: cfg}
}

func (c *collector) setOnActivity(fn func()) {
	c.mu.Lock()
	c.onActivity = fn
	c.mu.Unlock()
}

// Subscriber returns the bus.Subscriber bound to this collector, for
// passing to bus.Bus.Subscribe.
func (c *collector) Subscriber() bus.Subscriber {
	return c.onEvent
}

func (c *collector) onEvent(ev bus.Event) {
	if ev.ScopeID != c.scopeID {
		return
	}
	ev.Args = sanitize.Value(ev.Args)
	ev.Result = sanitize.Value(ev.Result)
	ev.Err = sanitize.Value(ev.Err)

	c.mu.Lock()
	c.events = append(c.events, ev)
	if !c.entryPointSet && ev.Phase == ext.PhaseEnter && c.isEntryPointLocked(ev) {
		c.entryPoint = ev.Name
		c.entryPointSet = true
	}
	activity := c.onActivity
	c.mu.Unlock()

	if activity != nil {
		activity()
	}
}

// isEntryPointLocked decides whether ev looks like the request's entry
// point frame: either it lives under the configured controller path
// prefix, or, absent that configuration, it's shallow enough (depth <= 2)
// to plausibly be the route handler rather than something it called into.
func (c *collector) isEntryPointLocked(ev bus.Event) bool {
	if c.cfg.ControllerPathPrefix != "" {
		return strings.Contains(ev.File, c.cfg.ControllerPathPrefix)
	}
	return ev.Depth <= 2
}

func (c *collector) snapshot() ([]bus.Event, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]bus.Event, len(c.events))
	copy(out, c.events)
	return out, c.entryPoint
}
