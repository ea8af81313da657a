// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

// Package origin is C3: it attaches "defining file" / "is application
// code" / "skip wrap" / "body traced" marks to functions. Go function
// values carry no room for attached metadata (spec.md §9's "if the target
// language does not permit attaching arbitrary metadata to functions,
// maintain a side table keyed by function identity"), so this package is
// exactly that side table, modeled on the teacher's appsec/dyngo
// eventListenerMapKey: a struct/string-keyed map standing in for identity
// that can't be hung directly off the value.
package origin

import (
	"reflect"
	"regexp"
	"runtime"
	"strings"
	"sync"
)

// Info is FunctionOrigin from spec.md §3.
type Info struct {
	File       string
	IsApp      bool
	SkipWrap   bool
	BodyTraced bool
}

var table sync.Map // qualified func name (string) -> Info

// Tag attaches info to the function identified by qualifiedName. Tagging
// an already-tagged name is a no-op (spec.md §8 idempotence) — the first
// write wins, since re-tagging typically happens when a retrofit pass
// revisits a package the static walk already covered.
func Tag(qualifiedName string, info Info) {
	table.LoadOrStore(qualifiedName, info)
}

// Lookup returns the Info attached to qualifiedName, if any.
func Lookup(qualifiedName string) (Info, bool) {
	v, ok := table.Load(qualifiedName)
	if !ok {
		return Info{}, false
	}
	return v.(Info), true
}

// QualifiedName derives a stable identity string for a function value
// using the runtime's own symbol table (runtime.FuncForPC), the Go
// analogue of spec.md's "function identity" key for a weak-keyed side
// table. Returns "" if fn is not a valid, non-nil function value.
func QualifiedName(fn reflect.Value) string {
	if !fn.IsValid() || fn.Kind() != reflect.Func || fn.IsNil() {
		return ""
	}
	rf := runtime.FuncForPC(fn.Pointer())
	if rf == nil {
		return ""
	}
	return rf.Name()
}

// DefiningFile returns the source file runtime.FuncForPC associates with
// fn, used as a fallback when no static Info was recorded (e.g. a
// dependency function the static walk never saw).
func DefiningFile(fn reflect.Value) string {
	if !fn.IsValid() || fn.Kind() != reflect.Func || fn.IsNil() {
		return ""
	}
	rf := runtime.FuncForPC(fn.Pointer())
	if rf == nil {
		return ""
	}
	file, _ := rf.FileLine(fn.Pointer())
	return file
}

// PatternSet is the include/exclude regex pair from spec.md §6's
// `include`/`exclude` configuration.
type PatternSet struct {
	Include []*regexp.Regexp
	Exclude []*regexp.Regexp
}

// CompilePatterns compiles raw regex strings, skipping any that fail to
// compile (a malformed user pattern must not crash startup).
func CompilePatterns(raw []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(raw))
	for _, p := range raw {
		if re, err := regexp.Compile(p); err == nil {
			out = append(out, re)
		}
	}
	return out
}

// IsApp reports whether file falls under an include pattern and outside
// every exclude pattern (spec.md §3's app-origin invariant).
func (p PatternSet) IsApp(file string) bool {
	normalized := strings.ReplaceAll(file, "\\", "/")
	included := len(p.Include) == 0
	for _, re := range p.Include {
		if re.MatchString(normalized) {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, re := range p.Exclude {
		if re.MatchString(normalized) {
			return false
		}
	}
	return true
}
