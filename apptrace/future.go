// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

package apptrace

import (
	"reflect"
	"sync"
)

// Future is the Go analogue of a thenable (spec.md §3/§9): a value
// representing work whose completion the dispatcher can observe without
// forcing it to happen. Implementations must call onDone exactly once.
type Future interface {
	Then(onDone func(result any, err error))
}

// QueryBuilder marks a Future whose resolution must never be forced by
// the dispatcher itself — it completes only when application code calls
// an explicit finisher (Exec, Find, Scan, …). Calling Then on one before
// that finisher runs would trigger the query early, corrupting results
// (spec.md §4.4, §9). DESIGN.md consolidates the spec's two competing
// heuristics into this single recognition rule: either a type
// implements QueryBuilder directly, or it structurally matches
// *gorm.DB (see isGormStyleQueryBuilder).
type QueryBuilder interface {
	Future
	IsQuery() bool
}

var unawaitedMarks sync.Map // identity (uintptr) -> struct{}

// identityOf returns a stable, comparable key for a reference-like value
// (pointer, map, chan, func) so it can be marked without requiring every
// deferred value to implement a common interface. Value types return
// ok=false: they cannot carry a mark across a copy, which matches every
// concrete Future this module wires (*gorm.DB and hand-written pointer
// receivers).
func identityOf(v any) (uintptr, bool) {
	if v == nil {
		return 0, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		if rv.IsNil() {
			return 0, false
		}
		return rv.Pointer(), true
	default:
		return 0, false
	}
}

// markUnawaited records v as the product of a call the dispatcher
// classified as un-awaited, so a later sanitize/console pass can show
// that the caller never inspected it.
func markUnawaited(v any) {
	if id, ok := identityOf(v); ok {
		unawaitedMarks.Store(id, struct{}{})
	}
}

// isMarkedUnawaited reports whether v was previously passed to
// markUnawaited.
func isMarkedUnawaited(v any) bool {
	id, ok := identityOf(v)
	if !ok {
		return false
	}
	_, marked := unawaitedMarks.Load(id)
	return marked
}

// isGormStyleQueryBuilder recognizes *gorm.DB directly via reflection,
// so the core dispatcher can detect it without importing gorm.io/gorm
// (that coupling stays in collab/gormobserver): the struct must be the
// type named DB in package gorm.io/gorm and carry both an Error field
// and a Statement field.
func isGormStyleQueryBuilder(v any) bool {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return false
	}
	t := rv.Type()
	if t.PkgPath() != "gorm.io/gorm" || t.Name() != "DB" {
		return false
	}
	_, hasError := t.FieldByName("Error")
	_, hasStatement := t.FieldByName("Statement")
	return hasError && hasStatement
}

// deferredKind classifies a call's return value for Dispatch's
// un-awaited handling.
type deferredKind int

const (
	deferredNone deferredKind = iota
	deferredQueryBuilder
	deferredFuture
	deferredChannel
)

// classifyDeferred inspects v and reports which deferred-completion
// shape it matches, in the priority order spec.md §4.4 implies:
// query-builders are never treated as generic Futures (that would force
// them), then explicit Future implementers, then a bare receive channel.
func classifyDeferred(v any) deferredKind {
	if v == nil {
		return deferredNone
	}
	if qb, ok := v.(QueryBuilder); ok && qb.IsQuery() {
		return deferredQueryBuilder
	}
	if isGormStyleQueryBuilder(v) {
		return deferredQueryBuilder
	}
	if _, ok := v.(Future); ok {
		return deferredFuture
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Chan && rv.Type().ChanDir() != reflect.SendDir {
		return deferredChannel
	}
	return deferredNone
}
