// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

package apptrace

import (
	"fmt"
	"reflect"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/apptrace-go/apptrace/ext"
	"github.com/apptrace-go/apptrace/internal/gid"
	"github.com/apptrace-go/apptrace/internal/origin"
	"github.com/apptrace-go/apptrace/internal/sanitize"
)

var errType = reflect.TypeOf((*error)(nil)).Elem()

// activePatterns backs Dispatch's IsApp fallback when the origin side
// table hasn't been populated yet for callFile (a race during concurrent
// first-call tagging, per spec.md §4.4's classification rule).
var activePatterns origin.PatternSet

// ConfigurePatterns installs the include/exclude set Dispatch falls back
// to. The assignment is not synchronized with concurrent Dispatch calls.
func ConfigurePatterns(p origin.PatternSet) {
	activePatterns = p
}

// Dispatch is the single entry point every rewritten call routes
// through (C4). fn is the callee obtained via reflection; recv is the
// method receiver (nil for a plain function call); callFile/callLine
// identify the call site; label is the display name the transformer
// already resolved ("" falls back to fn's own runtime name); unawaited
// is true when the call-site transform determined the result is
// discarded or the call was launched via `go`.
func Dispatch(fn reflect.Value, recv any, args []any, callFile string, callLine int, label string, unawaited bool) (any, error) {
	if !fn.IsValid() || fn.Kind() != reflect.Func {
		return nil, nil
	}

	qualified := origin.QualifiedName(fn)
	info, known := origin.Lookup(qualified)
	if known && info.SkipWrap {
		return call(fn, recv, args)
	}

	scope := currentScope()
	if scope == nil {
		result, err := call(fn, recv, args)
		if unawaited {
			markUnawaited(result)
		}
		return result, err
	}

	isApp := info.IsApp
	if !known {
		isApp = activePatterns.IsApp(callFile)
	}

	name := label
	if name == "" {
		name = displayName(qualified)
	}
	kind := kindHint(recv, qualified)

	if known && info.BodyTraced {
		// The callee emits its own enter/exit; the dispatcher only
		// propagates the un-awaited mark and runs it under the current
		// scope so any goroutine it launches itself forks correctly.
		if unawaited {
			scope.MarkNextUnawaited()
		}
		var result any
		var err error
		runWithScope(scope, func() {
			result, err = call(fn, recv, args)
		})
		if unawaited {
			markUnawaited(result)
		}
		return result, err
	}

	file := callFile
	if !isApp {
		if df := origin.DefiningFile(fn); df != "" {
			file = df
		}
	}

	span := scope.Enter(name, file, callLine, kind, sanitize.Value(argsForSanitize(recv, args)))
	// A callee that is itself one of the scope installers gets its
	// callback arguments unwrapped, so the scope it installs is not
	// installed a second time by the callback wrapper.
	wrapped := args
	if p := fn.Pointer(); p != reflect.ValueOf(RunWithScope).Pointer() && p != reflect.ValueOf(RunInScope).Pointer() {
		wrapped = wrapCallbackArgs(scope, args)
	}

	// resolution is pushed before the call runs, not after: GORM (and
	// anything else whose finisher executes eagerly rather than
	// deferred) can call FinalizeQuery synchronously from inside
	// call(), which is strictly before a query-builder result could
	// ever be known, let alone registered via onQueryFinalize.
	var resolution *queryResolution
	result, callErr := func() (result any, callErr error) {
		resolution = pushResolution()
		defer popResolution()
		defer func() {
			if r := recover(); r != nil {
				scope.Exit(span, name, file, callLine, kind, ExitDetail{
					Threw: true,
					Err:   sanitize.Value(fmt.Sprintf("%v\n%s", r, debug.Stack())),
				})
				panic(r)
			}
		}()
		runWithScope(scope, func() {
			result, callErr = call(fn, recv, wrapped)
		})
		return result, callErr
	}()

	switch classifyDeferred(result) {
	case deferredQueryBuilder:
		if resolution.resolved {
			// The finisher already ran, synchronously, inside call()
			// above. The pending exit still goes out first so the
			// ordering spec.md §4.4/§9 requires holds regardless of
			// how fast the finisher actually was, then the resolved
			// exit follows immediately behind it.
			scope.Exit(span, name, file, callLine, kind, ExitDetail{Result: result, Unawaited: unawaited})
			scope.Exit(span, name, file, callLine, kind, ExitDetail{
				Result: sanitize.Value(resolution.result),
				Err:    sanitize.Value(resolution.err),
				Threw:  resolution.err != nil,
			})
			break
		}
		onQueryFinalize(result, func(rows any, qerr error) {
			scope.Exit(span, name, file, callLine, kind, ExitDetail{
				Result: sanitize.Value(rows),
				Err:    sanitize.Value(qerr),
				Threw:  qerr != nil,
			})
		})
		// The finisher hasn't run yet: the immediate exit carries the
		// builder itself, never the forced row/error (spec.md §4.4).
		scope.Exit(span, name, file, callLine, kind, ExitDetail{Result: result, Unawaited: unawaited})

	case deferredFuture:
		scope.Suspend(span)
		forked := scope.fork()
		future := result.(Future)
		if unawaited {
			markUnawaited(future)
		}
		future.Then(func(asyncResult any, asyncErr error) {
			forked.Exit(span, name, file, callLine, kind, ExitDetail{
				Result:    sanitize.Value(asyncResult),
				Err:       sanitize.Value(asyncErr),
				Threw:     asyncErr != nil,
				Unawaited: unawaited,
			})
		})

	case deferredChannel:
		scope.Suspend(span)
		forked := scope.fork()
		ch := reflect.ValueOf(result)
		if unawaited {
			markUnawaited(result)
		}
		go func() {
			v, ok := ch.Recv()
			var recvResult any
			if ok {
				recvResult = v.Interface()
			}
			forked.Exit(span, name, file, callLine, kind, ExitDetail{
				Result:    sanitize.Value(recvResult),
				Unawaited: unawaited,
			})
		}()

	default:
		scope.Exit(span, name, file, callLine, kind, ExitDetail{
			Result:    sanitize.Value(result),
			Err:       sanitize.Value(callErr),
			Threw:     callErr != nil,
			Unawaited: unawaited,
		})
	}

	return result, callErr
}

// call invokes fn via reflection and splits its results into the
// (value, error) shape Dispatch returns — the Go analogue of a JS
// function's single return value, since Go callees may return zero, one,
// or several values with the last conventionally an error.
func call(fn reflect.Value, recv any, args []any) (result any, err error) {
	t := fn.Type()
	in := make([]reflect.Value, 0, len(args))
	for i, a := range args {
		if a == nil && i < t.NumIn() {
			in = append(in, reflect.Zero(t.In(i)))
			continue
		}
		in = append(in, reflect.ValueOf(a))
	}
	out := fn.Call(in)
	return splitResults(out)
}

func splitResults(out []reflect.Value) (any, error) {
	if len(out) == 0 {
		return nil, nil
	}
	last := out[len(out)-1]
	if last.Type().Implements(errType) {
		var err error
		if !last.IsNil() {
			err, _ = last.Interface().(error)
		}
		switch len(out) {
		case 1:
			return nil, err
		case 2:
			return out[0].Interface(), err
		default:
			vals := make([]any, len(out)-1)
			for i := 0; i < len(out)-1; i++ {
				vals[i] = out[i].Interface()
			}
			return vals, err
		}
	}
	if len(out) == 1 {
		return out[0].Interface(), nil
	}
	vals := make([]any, len(out))
	for i, v := range out {
		vals[i] = v.Interface()
	}
	return vals, nil
}

// displayName falls back to the runtime symbol name's final component
// when the transformer supplied no label — spec.md §4.1's tie-break
// order, last resort.
func displayName(qualified string) string {
	if qualified == "" {
		return ext.AnonymousName
	}
	if idx := strings.LastIndex(qualified, "."); idx >= 0 && idx < len(qualified)-1 {
		return qualified[idx+1:]
	}
	return qualified
}

func kindHint(recv any, qualified string) ext.FuncKind {
	if recv != nil {
		return ext.KindMethod
	}
	if idx := strings.LastIndex(qualified, "."); idx >= 0 {
		if strings.HasPrefix(qualified[idx+1:], "func") {
			return ext.KindClosure
		}
	}
	return ext.KindFunction
}

// argsForSanitize folds the receiver (if any) into the argument list
// sanitize.Value walks, so a method call's receiver state shows up
// alongside its arguments in the enter event without a separate field.
func argsForSanitize(recv any, args []any) any {
	if recv == nil {
		return args
	}
	combined := make([]any, 0, len(args)+1)
	combined = append(combined, recv)
	combined = append(combined, args...)
	return combined
}

// wrapCallbackArgs substitutes, for every func(...)-typed argument, a
// wrapper that installs a fork of scope as the ambient current scope for
// the duration of that one call (spec.md §5 callback-argument isolation)
// — so a sort.Interface.Less or time.AfterFunc callback handed to a
// dependency reflects the caller's span-stack state at the moment it was
// passed, not whatever goroutine eventually invokes it.
func wrapCallbackArgs(scope *Scope, args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = wrapCallbackArg(scope, a)
	}
	return out
}

func wrapCallbackArg(scope *Scope, a any) any {
	if a == nil {
		return a
	}
	rv := reflect.ValueOf(a)
	if rv.Kind() != reflect.Func || rv.IsNil() {
		return a
	}
	t := rv.Type()
	forked := scope.fork()
	wrapped := reflect.MakeFunc(t, func(in []reflect.Value) []reflect.Value {
		var out []reflect.Value
		runWithScope(forked, func() {
			out = rv.Call(in)
		})
		return out
	})
	return wrapped.Interface()
}

// queryFinalizers holds, per query-builder identity, the callback
// Dispatch registered to run once that builder's deferred execution
// actually resolves. This path only ever fires for a builder whose
// finisher runs later than the call that produced it (genuinely
// asynchronous resolution, or a hand-written Future-shaped builder in
// tests) — see queryResolution below for the common, synchronous case.
var queryFinalizers sync.Map // identity (uintptr) -> func(any, error)

func onQueryFinalize(qb any, fn func(result any, err error)) {
	if id, ok := identityOf(qb); ok {
		queryFinalizers.Store(id, fn)
	}
}

// queryResolution records a query builder's outcome when the builder's
// own finisher resolves it synchronously, inside the same call that
// produced it. GORM is the motivating case: its Before/After callback
// chain runs to completion inside call(fn, recv, wrapped) above, calling
// FinalizeQuery before Dispatch has even classified the result, let
// alone registered a finalizer under its identity — so the identity-keyed
// queryFinalizers path above always misses for it.
type queryResolution struct {
	resolved bool
	result   any
	err      error
}

// resolutionStacks holds, per goroutine, the stack of resolution slots
// for calls currently executing on that goroutine. Scoping it to the
// goroutine (via internal/gid, the same mechanism internal/bus already
// uses for its Emit re-entrancy guard) means FinalizeQuery can deliver
// straight into the frame still waiting on it without depending on
// pointer identity between the value Dispatch saw and whatever object
// an ORM's internal callback chain actually finalizes — GORM's session
// cloning means those are not always the same pointer.
var resolutionStacks sync.Map // int64 goroutine id -> *[]*queryResolution

// pushResolution opens a resolution slot for the call currently being
// dispatched on the calling goroutine. Every Dispatch call pushes one,
// not just query-builder calls, since the result isn't classified until
// after the call returns.
func pushResolution() *queryResolution {
	id := gid.Current()
	v, _ := resolutionStacks.LoadOrStore(id, &[]*queryResolution{})
	stack := v.(*[]*queryResolution)
	res := &queryResolution{}
	*stack = append(*stack, res)
	return res
}

// popResolution closes the slot pushResolution opened for the current
// call, run via defer so it happens whether or not the call panicked.
func popResolution() {
	id := gid.Current()
	v, ok := resolutionStacks.Load(id)
	if !ok {
		return
	}
	stack := v.(*[]*queryResolution)
	if n := len(*stack); n > 0 {
		*stack = (*stack)[:n-1]
	}
	if len(*stack) == 0 {
		resolutionStacks.Delete(id)
	}
}

// resolveTopOfStack writes result/err into the innermost resolution slot
// still open on the calling goroutine, if any. Called from FinalizeQuery:
// an ORM's After callback runs on the same goroutine and strictly inside
// the call whose slot is on top, so "top of stack" always means "the
// call this finalization belongs to" — any deeper nested Dispatch call
// has already popped its own slot by the time an outer call's finisher
// runs.
func resolveTopOfStack(result any, err error) bool {
	id := gid.Current()
	v, ok := resolutionStacks.Load(id)
	if !ok {
		return false
	}
	stack := *(v.(*[]*queryResolution))
	if len(stack) == 0 {
		return false
	}
	top := stack[len(stack)-1]
	top.resolved = true
	top.result = result
	top.err = err
	return true
}

// FinalizeQuery is the dispatcher side of the EmitDBQuery contract hook
// (collab.DBObserver): an ORM integration calls this once a query
// builder it recognizes has actually executed. It first tries to
// deliver straight into the resolution slot open on the calling
// goroutine (the synchronous-finisher case); only when no slot is open
// — the finisher genuinely ran later, possibly on another goroutine —
// does it fall back to the identity-keyed finalizer a prior Dispatch
// call registered. A builder matching neither is a no-op.
func FinalizeQuery(qb any, result any, err error) {
	if resolveTopOfStack(result, err) {
		return
	}
	id, ok := identityOf(qb)
	if !ok {
		return
	}
	v, ok := queryFinalizers.LoadAndDelete(id)
	if !ok {
		return
	}
	v.(func(any, error))(result, err)
}
