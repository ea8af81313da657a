// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

package bus

import (
	"regexp"
	"strings"

	"github.com/apptrace-go/apptrace/ext"
)

// FilePattern matches an event's File field against a substring,
// filename-suffix, or regex rule (spec.md §4.6).
type FilePattern struct {
	Substring string
	Suffix    string
	Regex     *regexp.Regexp
}

func (p FilePattern) matches(file string) bool {
	normalized := strings.ReplaceAll(file, "\\", "/")
	switch {
	case p.Regex != nil:
		return p.Regex.MatchString(normalized)
	case p.Suffix != "":
		return strings.HasSuffix(normalized, p.Suffix)
	case p.Substring != "":
		return strings.Contains(normalized, p.Substring)
	default:
		return false
	}
}

// Rule is a compound drop condition over the fields spec.md §4.6 names:
// function name, file, inferred library, function kind, and phase. Every
// non-zero field must match for the rule to fire (a conjunction); leave a
// field zero to ignore it.
type Rule struct {
	Name    string
	File    *FilePattern
	Library string
	Kind    *ext.FuncKind
	Phase   *ext.Phase
}

func (r Rule) matches(ev Event) bool {
	if r.Name != "" && r.Name != ev.Name {
		return false
	}
	if r.File != nil && !r.File.matches(ev.File) {
		return false
	}
	if r.Library != "" && r.Library != inferLibrary(ev.File) {
		return false
	}
	if r.Kind != nil && *r.Kind != ev.Kind {
		return false
	}
	if r.Phase != nil && *r.Phase != ev.Phase {
		return false
	}
	return true
}

// inferLibrary returns the first path segment under a Go module-cache or
// vendor directory, the nearest analogue to spec.md's "first segment under
// a node_modules path".
func inferLibrary(file string) string {
	normalized := strings.ReplaceAll(file, "\\", "/")
	for _, marker := range []string{"/vendor/", "/pkg/mod/"} {
		if idx := strings.Index(normalized, marker); idx >= 0 {
			rest := normalized[idx+len(marker):]
			if at := strings.Index(rest, "@"); at >= 0 {
				rest = rest[:at]
			}
			if slash := strings.Index(rest, "/"); slash >= 0 {
				return rest[:slash]
			}
			return rest
		}
	}
	return ""
}

// Predicate is an arbitrary user-supplied drop condition.
type Predicate func(Event) bool

// FilterSet is the declarative filter layer: any matching rule, pattern,
// or predicate drops the event before it reaches a subscriber.
type FilterSet struct {
	Files      []FilePattern
	Kinds      []ext.FuncKind
	Rules      []Rule
	Predicates []Predicate
}

// Drop reports whether ev should be discarded.
func (f *FilterSet) Drop(ev Event) bool {
	if f == nil {
		return false
	}
	for _, p := range f.Files {
		if p.matches(ev.File) {
			return true
		}
	}
	for _, k := range f.Kinds {
		if k == ev.Kind {
			return true
		}
	}
	for _, r := range f.Rules {
		if r.matches(ev) {
			return true
		}
	}
	for _, pred := range f.Predicates {
		if pred(ev) {
			return true
		}
	}
	return false
}
