// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

// Package sanitize turns an arbitrary traced value into a bounded,
// display-safe representation before it is attached to a TraceEvent
// (spec.md §4.7.1). Every traced argument and return value passes
// through here; without it a single large slice or a cyclic structure
// handed to a traced function could make every emitted event unbounded
// in size or loop forever walking it.
package sanitize

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"reflect"
	"regexp"
	"time"

	"github.com/apptrace-go/apptrace/ext"
)

// Limits bounds how deep, how wide, and how long a sanitized
// representation may be. Zero values fall back to the ext package
// defaults.
type Limits struct {
	MaxDepth     int
	MaxKeys      int
	MaxItems     int
	MaxStringLen int
}

func (l Limits) withDefaults() Limits {
	if l.MaxDepth <= 0 {
		l.MaxDepth = ext.DefaultMaxDepth
	}
	if l.MaxKeys <= 0 {
		l.MaxKeys = ext.DefaultMaxKeys
	}
	if l.MaxItems <= 0 {
		l.MaxItems = ext.DefaultMaxItems
	}
	if l.MaxStringLen <= 0 {
		l.MaxStringLen = ext.DefaultMaxStringLen
	}
	return l
}

// Truncated marks a collection or string that was cut short.
type Truncated struct {
	Kind    string // "string", "slice", "map", "depth"
	Total   int
	Shown   int
	Preview any
}

// circularSentinel stands in for a value already seen earlier on the
// same walk, matching the literal "[Circular]" string an emitted event
// carries (spec.md's own sentinel, unchanged for this target language).
const circularSentinel = "[Circular]"

// pendingSentinel stands in for a Future/query-builder that has not
// resolved yet — sanitizing it must never force it to complete.
const pendingSentinel = "<pending>"

// Value walks v and returns a bounded, cycle-safe, display-oriented
// representation using Limits.withDefaults() as the bound set.
func Value(v any) any {
	return ValueWithLimits(v, Limits{})
}

// ValueWithLimits is Value with caller-supplied bounds.
func ValueWithLimits(v any, limits Limits) any {
	limits = limits.withDefaults()
	seen := make(map[uintptr]bool)
	return walk(reflect.ValueOf(v), limits, 0, seen)
}

var timeType = reflect.TypeOf(time.Time{})
var regexpType = reflect.TypeOf(regexp.Regexp{})
var bigIntType = reflect.TypeOf(big.Int{})
var errorIfaceType = reflect.TypeOf((*error)(nil)).Elem()

func walk(rv reflect.Value, limits Limits, depth int, seen map[uintptr]bool) any {
	if !rv.IsValid() {
		return nil
	}

	if rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		return walk(rv.Elem(), limits, depth, seen)
	}

	// Checked before the pointer is dereferenced below: a Future is
	// almost always implemented on a pointer receiver (*gorm.DB,
	// hand-written Futures), and walking past the pointer here would
	// lose that method set. Same reasoning applies to error, whose
	// Error() is conventionally a pointer-receiver method too.
	if isFuture(rv) {
		return pendingSentinel
	}
	if rv.Kind() != reflect.Struct && rv.Type().Implements(errorIfaceType) && rv.CanInterface() {
		if err, ok := rv.Interface().(error); ok {
			return sanitizeString(err.Error(), limits)
		}
	}

	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		if rv.Elem().Kind() == reflect.Uint8 {
			return walk(rv.Elem(), limits, depth, seen)
		}
		if seen[rv.Pointer()] {
			return circularSentinel
		}
		seen[rv.Pointer()] = true
		defer delete(seen, rv.Pointer())
		return walk(rv.Elem(), limits, depth, seen)
	}

	switch t := rv.Type(); {
	case t == timeType:
		return rv.Interface().(time.Time).Format(time.RFC3339Nano)
	case t == regexpType:
		return rv.Interface().(regexp.Regexp).String()
	case t == bigIntType:
		bi := rv.Interface().(big.Int)
		return bi.String()
	}

	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
		return sanitizeBytes(rv.Bytes(), limits)
	}

	if depth >= limits.MaxDepth {
		return Truncated{Kind: "depth", Preview: briefly(rv)}
	}

	switch rv.Kind() {
	case reflect.String:
		return sanitizeString(rv.String(), limits)
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Complex64, reflect.Complex128:
		c := rv.Complex()
		return fmt.Sprintf("%v", c)
	case reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return fmt.Sprintf("<%s>", rv.Type().String())
	case reflect.Slice, reflect.Array:
		return sanitizeSequence(rv, limits, depth, seen)
	case reflect.Map:
		return sanitizeMap(rv, limits, depth, seen)
	case reflect.Struct:
		return sanitizeStruct(rv, limits, depth, seen)
	default:
		return fmt.Sprintf("%v", rv.Interface())
	}
}

func sanitizeBytes(b []byte, limits Limits) any {
	if len(b) > limits.MaxStringLen {
		return Truncated{Kind: "string", Total: len(b), Shown: limits.MaxStringLen, Preview: hex.EncodeToString(b[:limits.MaxStringLen])}
	}
	return hex.EncodeToString(b)
}

func sanitizeString(s string, limits Limits) any {
	if len(s) > limits.MaxStringLen {
		return Truncated{Kind: "string", Total: len(s), Shown: limits.MaxStringLen, Preview: s[:limits.MaxStringLen]}
	}
	return s
}

func sanitizeSequence(rv reflect.Value, limits Limits, depth int, seen map[uintptr]bool) any {
	n := rv.Len()
	shown := n
	if shown > limits.MaxItems {
		shown = limits.MaxItems
	}
	out := make([]any, 0, shown)
	for i := 0; i < shown; i++ {
		out = append(out, safeWalk(rv.Index(i), limits, depth+1, seen))
	}
	if n > shown {
		return Truncated{Kind: "slice", Total: n, Shown: shown, Preview: out}
	}
	return out
}

func sanitizeMap(rv reflect.Value, limits Limits, depth int, seen map[uintptr]bool) any {
	keys := rv.MapKeys()
	n := len(keys)
	shown := n
	if shown > limits.MaxKeys {
		shown = limits.MaxKeys
	}
	out := make(map[string]any, shown)
	for i := 0; i < shown; i++ {
		k := keys[i]
		out[fmt.Sprintf("%v", k.Interface())] = safeWalk(rv.MapIndex(k), limits, depth+1, seen)
	}
	if n > shown {
		return Truncated{Kind: "map", Total: n, Shown: shown, Preview: out}
	}
	return out
}

func sanitizeStruct(rv reflect.Value, limits Limits, depth int, seen map[uintptr]bool) any {
	t := rv.Type()
	out := make(map[string]any, t.NumField())
	for i := 0; i < t.NumField() && i < limits.MaxKeys; i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		out[f.Name] = safeWalk(rv.Field(i), limits, depth+1, seen)
	}
	return out
}

// safeWalk recovers from a panic inside a single field/key/item's own
// walk — most likely a user error type whose Error() method itself
// panics — so one bad value never takes down the whole sanitized
// representation (§7's per-key "[Cannot serialize: <err>]" rule).
func safeWalk(rv reflect.Value, limits Limits, depth int, seen map[uintptr]bool) (result any) {
	defer func() {
		if r := recover(); r != nil {
			result = fmt.Sprintf("[Cannot serialize: %v]", r)
		}
	}()
	return walk(rv, limits, depth, seen)
}

func briefly(rv reflect.Value) string {
	if !rv.IsValid() {
		return "<nil>"
	}
	return rv.Type().String()
}

// thenableType is a structural stand-in for apptrace.Future: reflect's
// Implements check matches by method name and signature, not by which
// named interface declared it, so this package can recognize a Future
// without importing apptrace (which imports sanitize, not the other way
// around).
var thenableType = reflect.TypeOf((*interface {
	Then(func(result any, err error))
})(nil)).Elem()

// isFuture reports whether rv looks like a deferred value (implements
// Then, or matches the gorm.io/gorm.DB Error+Statement shape) that must
// never be forced by sanitizing it. Checked on rv's type directly,
// before any pointer dereferencing, since both shapes are conventionally
// implemented on a pointer receiver.
func isFuture(rv reflect.Value) bool {
	if !rv.IsValid() {
		return false
	}
	t := rv.Type()
	if t.Implements(thenableType) {
		return true
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return false
	}
	if t.PkgPath() != "gorm.io/gorm" || t.Name() != "DB" {
		return false
	}
	_, hasError := t.FieldByName("Error")
	_, hasStatement := t.FieldByName("Statement")
	return hasError && hasStatement
}
