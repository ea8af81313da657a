// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

package apptrace

import (
	"errors"
	"reflect"
	"testing"

	"github.com/apptrace-go/apptrace/ext"
	"github.com/apptrace-go/apptrace/internal/bus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func add(a, b int) int { return a + b }

func failingCall() (int, error) { return 0, errors.New("boom") }

func panickyCall() int { panic("kaboom") }

func makeQuery() *fakeQueryBuilder { return &fakeQueryBuilder{isQuery: true} }

// makeSyncQuery stands in for GORM's own Find/Create/etc.: the finisher
// (FinalizeQuery) runs synchronously, before the function even returns
// the builder it finalized.
func makeSyncQuery() *fakeQueryBuilder {
	qb := &fakeQueryBuilder{isQuery: true}
	FinalizeQuery(qb, []string{"row"}, nil)
	return qb
}

func dispatchTestScope() (*Scope, *[]bus.Event) {
	b := bus.New()
	events := &[]bus.Event{}
	b.Subscribe(func(e bus.Event) { *events = append(*events, e) })
	return newScope("test-scope", b), events
}

func TestDispatchWithNoAmbientScopeCallsThrough(t *testing.T) {
	result, err := Dispatch(reflect.ValueOf(add), nil, []any{4, 5}, "app/math.go", 40, "add", false)
	require.NoError(t, err)
	assert.Equal(t, 9, result)
}

func TestDispatchEmitsEnterAndExitForPlainFunction(t *testing.T) {
	scope, events := dispatchTestScope()
	var result any
	var err error
	runWithScope(scope, func() {
		result, err = Dispatch(reflect.ValueOf(add), nil, []any{2, 3}, "app/math.go", 10, "add", false)
	})
	require.NoError(t, err)
	assert.Equal(t, 5, result)
	require.Len(t, *events, 2)
	assert.Equal(t, "add", (*events)[0].Name)
	assert.Equal(t, ext.PhaseEnter, (*events)[0].Phase)
	assert.Equal(t, ext.PhaseExit, (*events)[1].Phase)
	assert.Equal(t, (*events)[0].SpanID, (*events)[1].SpanID)
}

func TestDispatchPropagatesError(t *testing.T) {
	scope, events := dispatchTestScope()
	var err error
	runWithScope(scope, func() {
		_, err = Dispatch(reflect.ValueOf(failingCall), nil, nil, "app/math.go", 20, "failingCall", false)
	})
	assert.Error(t, err)
	require.Len(t, *events, 2)
	assert.True(t, (*events)[1].Threw)
}

func TestDispatchRecoversAndRepanicsWithExitEmitted(t *testing.T) {
	scope, events := dispatchTestScope()
	assert.PanicsWithValue(t, "kaboom", func() {
		runWithScope(scope, func() {
			Dispatch(reflect.ValueOf(panickyCall), nil, nil, "app/math.go", 30, "panickyCall", false)
		})
	})
	require.Len(t, *events, 2)
	assert.True(t, (*events)[1].Threw)
}

func TestDispatchQueryBuilderDoesNotForceExecution(t *testing.T) {
	scope, events := dispatchTestScope()
	var result any
	runWithScope(scope, func() {
		result, _ = Dispatch(reflect.ValueOf(makeQuery), nil, nil, "app/db.go", 50, "makeQuery", false)
	})
	qb, ok := result.(*fakeQueryBuilder)
	require.True(t, ok)
	assert.Nil(t, qb.fakeFuture.done, "a query builder must never have Then invoked on it")
	require.Len(t, *events, 2)

	FinalizeQuery(qb, []string{"row"}, nil)
	require.Len(t, *events, 3, "finalizing the query must emit a third, asynchronous exit")
}

func TestDispatchResolvesQueryBuilderSynchronouslyWhenFinisherRunsInsideCall(t *testing.T) {
	scope, events := dispatchTestScope()
	var result any
	runWithScope(scope, func() {
		result, _ = Dispatch(reflect.ValueOf(makeSyncQuery), nil, nil, "app/db.go", 55, "makeSyncQuery", false)
	})
	_, ok := result.(*fakeQueryBuilder)
	require.True(t, ok)
	require.Len(t, *events, 3, "a finisher that resolves inside call() must still emit both the pending and resolved exits")
	assert.True(t, (*events)[1].IsExit(), "pending exit goes out first even though the finisher already ran")
	assert.True(t, (*events)[2].IsExit())
	assert.False(t, (*events)[2].Threw)
	assert.NotNil(t, (*events)[2].Result)
}

func TestDispatchSuspendsSpanOnDeferredFutureSoSiblingParentingStaysCorrect(t *testing.T) {
	scope, events := dispatchTestScope()
	var notifyResult any
	runWithScope(scope, func() {
		notifyResult, _ = Dispatch(reflect.ValueOf(func() Future { return &fakeFuture{} }), nil, nil, "app/notify.go", 60, "notify", true)
	})
	// notify's span must no longer sit on the live scope's stack once
	// its Future has been handed off, or a sibling entered afterward
	// would incorrectly parent under it.
	assert.Equal(t, 0, scope.Depth())

	var siblingResult any
	runWithScope(scope, func() {
		siblingResult, _ = Dispatch(reflect.ValueOf(add), nil, []any{1, 2}, "app/notify.go", 61, "findNotification", false)
	})
	assert.Equal(t, 3, siblingResult)

	// events: [0] notify enter, [1] findNotification enter, [2] findNotification exit.
	// notify's own Exit never fires in this test (its fakeFuture never resolves),
	// matching the fire-and-forget scenario where the call is never awaited.
	require.Len(t, *events, 3)
	assert.Equal(t, "findNotification", (*events)[1].Name)
	assert.Equal(t, uint64(0), (*events)[1].ParentID, "findNotification must be a sibling root, not a child of the suspended notify span")
	_ = notifyResult
}

func TestDisplayNameFallsBackToAnonymous(t *testing.T) {
	assert.Equal(t, ext.AnonymousName, displayName(""))
	assert.Equal(t, "Bar", displayName("example.com/pkg.Bar"))
}

func TestKindHintDetectsMethodsAndClosures(t *testing.T) {
	assert.Equal(t, ext.KindMethod, kindHint(struct{}{}, "example.com/pkg.Foo"))
	assert.Equal(t, ext.KindClosure, kindHint(nil, "example.com/pkg.Foo.func1"))
	assert.Equal(t, ext.KindFunction, kindHint(nil, "example.com/pkg.Foo"))
}
