// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

package sanitize

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValuePassesThroughScalars(t *testing.T) {
	assert.Equal(t, "hi", Value("hi"))
	assert.Equal(t, int64(5), Value(5))
	assert.Equal(t, true, Value(true))
}

func TestValueTruncatesLongStrings(t *testing.T) {
	s := strings.Repeat("a", 5000)
	got := Value(s)
	trunc, ok := got.(Truncated)
	require.True(t, ok)
	assert.Equal(t, "string", trunc.Kind)
	assert.Equal(t, 5000, trunc.Total)
}

func TestValueTruncatesLargeSlices(t *testing.T) {
	items := make([]int, 100)
	got := ValueWithLimits(items, Limits{MaxItems: 5})
	trunc, ok := got.(Truncated)
	require.True(t, ok)
	assert.Equal(t, "slice", trunc.Kind)
	assert.Equal(t, 100, trunc.Total)
	assert.Equal(t, 5, trunc.Shown)
}

func TestValueDetectsCircularReferences(t *testing.T) {
	type node struct {
		Next *node
	}
	n := &node{}
	n.Next = n

	got := Value(n)
	m, ok := got.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "[Circular]", m["Next"])
}

func TestValueFormatsTimeAsRFC3339(t *testing.T) {
	ts := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	got := Value(ts)
	assert.Equal(t, ts.Format(time.RFC3339Nano), got)
}

func TestValueFormatsErrors(t *testing.T) {
	got := Value(errors.New("boom"))
	assert.Equal(t, "boom", got)
}

func TestValueBoundsDepth(t *testing.T) {
	type level3 struct{ V int }
	type level2 struct{ Next level3 }
	type level1 struct{ Next level2 }
	v := level1{Next: level2{Next: level3{V: 1}}}

	got := ValueWithLimits(v, Limits{MaxDepth: 1})
	m, ok := got.(map[string]any)
	require.True(t, ok)
	_, truncated := m["Next"].(Truncated)
	assert.True(t, truncated)
}

func TestValueMarksPendingFutureWithoutForcingIt(t *testing.T) {
	f := &fakeFuture{}
	got := Value(f)
	assert.Equal(t, "<pending>", got)
}

type fakeFuture struct{}

func (f *fakeFuture) Then(onDone func(result any, err error)) {}

func TestValueRecoversFromAPerFieldPanic(t *testing.T) {
	got := Value(panicky{Bad: &panickyError{}})
	m, ok := got.(map[string]any)
	require.True(t, ok)
	s, ok := m["Bad"].(string)
	require.True(t, ok)
	assert.Contains(t, s, "[Cannot serialize:")
}

type panicky struct {
	Bad *panickyError
}

type panickyError struct{}

func (*panickyError) Error() string { panic("boom") }
