// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

package loader

import (
	"reflect"
	"strings"

	"github.com/apptrace-go/apptrace/internal/origin"
)

var errType = reflect.TypeOf((*error)(nil)).Elem()

// WrapValue is §4.2.1's retrofit path: for a function value pulled out
// of an already-compiled package by reflection (a vendored dependency,
// or anything else Load's static walk never had source for), it
// produces a new reflect.Value of the same func type whose body routes
// through dispatch instead of calling fn directly. Go gives no API to
// enumerate an arbitrary imported package's exported symbols the way a
// JS require() hook can — the caller supplies the one reflect.Value it
// already holds (e.g. fetched via a plugin symbol lookup, or simply the
// method value a contrib integration wraps explicitly), and WrapValue
// decides whether that single value is eligible.
//
// dispatch is the apptrace.Dispatch contract, passed in rather than
// imported directly: apptrace already imports internal/origin, so
// importing apptrace here would cycle back.
type dispatchFunc func(fn reflect.Value, recv any, args []any, callFile string, callLine int, label string, unawaited bool) (any, error)

// WrapValue wraps fn under name (used both as the dispatched label and
// as the qualified key checked against the side table), returning the
// original value unchanged, and ok=false, when fn is not eligible:
// already wrapped, a trivial accessor, or an Error() string method
// (wrapping that would change what errors.Is/As sees through it).
// unawaited is always forced false: a reflection-obtained value carries
// no call-site AST, so there is no `go` statement to have detected.
func WrapValue(name string, fn reflect.Value, dispatch dispatchFunc) (reflect.Value, bool) {
	if !fn.IsValid() || fn.Kind() != reflect.Func || fn.IsNil() {
		return fn, false
	}
	if qualified := origin.QualifiedName(fn); qualified != "" {
		if info, ok := origin.Lookup(qualified); ok && info.SkipWrap {
			return fn, false
		}
	}
	if isAccessorShaped(name, fn.Type()) || isErrorMethod(name, fn.Type()) {
		return fn, false
	}

	t := fn.Type()
	wrapped := reflect.MakeFunc(t, func(in []reflect.Value) []reflect.Value {
		args := make([]any, len(in))
		for i, v := range in {
			args[i] = v.Interface()
		}
		result, err := dispatch(fn, nil, args, origin.DefiningFile(fn), 0, name, false)
		return splitIntoResults(t, result, err)
	})

	if qualified := origin.QualifiedName(fn); qualified != "" {
		origin.Tag(qualified, origin.Info{File: origin.DefiningFile(fn), IsApp: false, SkipWrap: true})
	}
	return wrapped, true
}

// isAccessorShaped matches the Get*/Set* single-field accessor shape
// §4.2.1 exempts: zero-arg one-result getters and one-arg no-result
// setters. Unlike internal/origin's isTrivialAccessor, there is no
// function body to inspect here — only the name and the type — so this
// is a coarser, name-driven heuristic, recorded as a simplification.
func isAccessorShaped(name string, t reflect.Type) bool {
	switch {
	case strings.HasPrefix(name, "Get") && t.NumIn() == 0 && t.NumOut() == 1:
		return true
	case strings.HasPrefix(name, "Set") && t.NumIn() == 1 && t.NumOut() == 0:
		return true
	default:
		return false
	}
}

// isErrorMethod matches a zero-arg method literally named Error whose
// single result is a string (the error interface's own method) or a
// type implementing error — wrapping it
// would route every errors.Is/As format-string call through dispatch,
// changing observable error behavior for no tracing benefit.
func isErrorMethod(name string, t reflect.Type) bool {
	if name != "Error" || t.NumIn() != 0 || t.NumOut() != 1 {
		return false
	}
	return t.Out(0).Kind() == reflect.String || t.Out(0).Implements(errType)
}

// splitIntoResults maps Dispatch's (any, error) back onto t's actual
// result arity, mirroring apptrace's own splitResults in reverse: a
// single non-error result is used directly, multiple non-error results
// are expected back as a []any the same width, and a trailing error
// result (if t has one) is populated from err.
func splitIntoResults(t reflect.Type, result any, err error) []reflect.Value {
	n := t.NumOut()
	out := make([]reflect.Value, n)
	if n == 0 {
		return out
	}

	hasErr := t.Out(n - 1).Implements(errType)
	valueCount := n
	if hasErr {
		valueCount--
	}

	switch valueCount {
	case 0:
		// no-op
	case 1:
		out[0] = valueOrZero(t.Out(0), result)
	default:
		values, _ := result.([]any)
		for i := 0; i < valueCount; i++ {
			var v any
			if i < len(values) {
				v = values[i]
			}
			out[i] = valueOrZero(t.Out(i), v)
		}
	}

	if hasErr {
		if err == nil {
			out[n-1] = reflect.Zero(t.Out(n - 1))
		} else {
			out[n-1] = reflect.ValueOf(err)
		}
	}
	return out
}

func valueOrZero(want reflect.Type, v any) reflect.Value {
	if v == nil {
		return reflect.Zero(want)
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(want) {
		return rv
	}
	if rv.Type().ConvertibleTo(want) {
		return rv.Convert(want)
	}
	return reflect.Zero(want)
}
