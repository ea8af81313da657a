// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeRecorder struct {
	counts     []string
	gauges     []string
	histograms []string
}

func (f *fakeRecorder) Count(name string, value int64, tags []string, rate float64) error {
	f.counts = append(f.counts, name)
	return nil
}

func (f *fakeRecorder) Gauge(name string, value float64, tags []string, rate float64) error {
	f.gauges = append(f.gauges, name)
	return nil
}

func (f *fakeRecorder) Histogram(name string, value float64, tags []string, rate float64) error {
	f.histograms = append(f.histograms, name)
	return nil
}

func TestSpanOpenedCounts(t *testing.T) {
	fake := &fakeRecorder{}
	prev := client
	client = fake
	defer func() { client = prev }()

	SpanOpened("method")
	assert.Equal(t, []string{"spans.opened"}, fake.counts)
}

func TestFlushLatencyRecordsHistogram(t *testing.T) {
	fake := &fakeRecorder{}
	prev := client
	client = fake
	defer func() { client = prev }()

	FlushLatency(250 * time.Millisecond)
	assert.Equal(t, []string{"flush.latency_ms"}, fake.histograms)
}

func TestQueueDepthGauges(t *testing.T) {
	fake := &fakeRecorder{}
	prev := client
	client = fake
	defer func() { client = prev }()

	QueueDepth("scope-1", 12)
	assert.Equal(t, []string{"scope.queue_depth"}, fake.gauges)
}

func TestConfigureWithEmptyAddrDisablesReporting(t *testing.T) {
	prev := client
	defer func() { client = prev }()

	require := assert.New(t)
	require.NoError(Configure(""))
	_, ok := client.(noop)
	require.True(ok)
}
