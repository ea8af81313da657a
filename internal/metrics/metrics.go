// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

// Package metrics reports the SDK's own operational counters — spans
// opened, synthetic exits the assembler had to balance, flush latency —
// to statsd, separate from whatever metrics the instrumented application
// itself emits. Grounded on the o11y.MetricsProvider shape
// (Histogram/Gauge/Count, each taking tags and a sample rate) seen
// elsewhere in the pack, backed by the teacher's own datadog-go
// dependency rather than a bespoke client.
package metrics

import (
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
)

// Recorder is the minimal surface this package calls through to — the
// subset of *statsd.Client's methods it actually uses, so tests can swap
// in a fake.
type Recorder interface {
	Count(name string, value int64, tags []string, rate float64) error
	Gauge(name string, value float64, tags []string, rate float64) error
	Histogram(name string, value float64, tags []string, rate float64) error
}

var client Recorder = noop{}

// Configure points every subsequent metric call at addr (a statsd
// agent's host:port), prefixing every metric name with "apptrace.".
// Passing an empty addr disables metrics reporting.
func Configure(addr string) error {
	if addr == "" {
		client = noop{}
		return nil
	}
	c, err := statsd.New(addr, statsd.WithNamespace("apptrace."))
	if err != nil {
		return err
	}
	client = c
	return nil
}

// SpanOpened counts one span entering a scope.
func SpanOpened(kind string) {
	client.Count("spans.opened", 1, []string{"kind:" + kind}, 1)
}

// SyntheticExitBalanced counts one exit the assembler had to synthesize
// for a span that never closed before flush.
func SyntheticExitBalanced() {
	client.Count("spans.synthetic_exit", 1, nil, 1)
}

// FlushLatency records how long one transport.Client.Flush call took.
func FlushLatency(d time.Duration) {
	client.Histogram("flush.latency_ms", float64(d.Milliseconds()), nil, 1)
}

// QueueDepth gauges how many events are currently buffered for a scope
// awaiting flush.
func QueueDepth(scopeID string, depth int) {
	client.Gauge("scope.queue_depth", float64(depth), []string{"scope:" + scopeID}, 1)
}

type noop struct{}

func (noop) Count(string, int64, []string, float64) error       { return nil }
func (noop) Gauge(string, float64, []string, float64) error     { return nil }
func (noop) Histogram(string, float64, []string, float64) error { return nil }
