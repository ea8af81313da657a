// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

// Package transform is C1: it rewrites a parsed Go source file's AST so
// every selected function emits its own enter/exit trace events and
// every call site it makes routes through apptrace.Dispatch. Go ships no
// AST-rewriting library in the ecosystem this module otherwise draws
// from (neither the teacher nor any other retrieved repo imports one;
// see DESIGN.md), so this package works directly against the standard
// library's go/ast — the one corner of the module with no third-party
// grounding to follow.
package transform

import (
	"go/ast"
	"go/token"
	"regexp"
)

// Options configures one Rewrite call. It mirrors the subset of
// config.Config that bears on source rewriting; cmd/apptrace-instrument
// compiles its -allow-fns/-skip-fns patterns into the regexes here and
// hands them to internal/loader through WithTransformOptions.
type Options struct {
	// WrapGettersSetters, off by default, makes trivial Get*/Set*
	// accessors eligible for wrapping like any other method.
	WrapGettersSetters bool

	// SkipAnonymous drops every *ast.FuncLit from body-wrapping when set.
	SkipAnonymous bool

	// AllowFns, when non-empty, restricts wrapping to names matching at
	// least one pattern (allowlist mode); empty means "wrap everything
	// not otherwise skipped".
	AllowFns []*regexp.Regexp

	// SkipFns holds the configured skip-list (config.Config's
	// DisableFunctionTraces), checked before AllowFns.
	SkipFns []*regexp.Regexp
}

func (o Options) allowed(name string) bool {
	if len(o.AllowFns) == 0 {
		return true
	}
	for _, re := range o.AllowFns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

func (o Options) skipped(name string) bool {
	for _, re := range o.SkipFns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// Rewrite mutates file in place: every eligible function declaration and
// literal gets a body wrap, and every eligible call expression is routed
// through apptrace.Dispatch. Returns whether anything changed, so
// internal/loader can skip rewriting the build-cache copy of a file that
// needed no instrumentation. filename is recorded on every generated
// Enter/Exit/Dispatch call as the event's reported source file —
// fset-resolved call-site lines remain exact by construction (§4.1's
// "position handling" simplification), so filename only needs to be the
// file's own path, never a synthesized one.
func Rewrite(fset *token.FileSet, file *ast.File, filename string, opts Options) bool {
	changed := wrapFuncDecls(fset, file, filename, opts)
	if wrapFuncLits(fset, file, filename, opts) {
		changed = true
	}
	if rewriteCallSites(fset, file, filename) {
		changed = true
	}
	if changed {
		ensureImports(file, importsUsed(file))
	}
	return changed
}

func wrapFuncDecls(fset *token.FileSet, file *ast.File, filename string, opts Options) bool {
	changed := false
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Body == nil {
			continue
		}
		if alreadyWrapped(fset, fn.Name.NamePos) {
			continue
		}
		name, kind := declName(fn)
		if !shouldWrapDecl(fn, name, opts) {
			continue
		}
		line := fset.Position(fn.Pos()).Line
		wrapBody(fn.Body, fn.Type, name, kind, filename, line)
		markWrapped(fset, fn.Name.NamePos)
		changed = true
	}
	return changed
}

// wrapFuncLits walks the whole file looking for *ast.FuncLit nodes,
// resolving each one's display name from its immediate assignment
// context (names.go's litName/assignHint) before handing it to
// wrapBody — a FuncLit has no declared name of its own, so this context
// is the only source for spec.md §4.1's remaining tie-break links. The
// first pass records the hint every literal directly assigned from an
// AssignStmt/ValueSpec gets; the second wraps every literal in the file,
// falling back to "(anonymous)" for one ast.Inspect never hinted (passed
// straight into a call argument, returned directly, and so on).
func wrapFuncLits(fset *token.FileSet, file *ast.File, filename string, opts Options) bool {
	hints := map[*ast.FuncLit]ast.Expr{}
	ast.Inspect(file, func(n ast.Node) bool {
		switch s := n.(type) {
		case *ast.AssignStmt:
			for i, rhs := range s.Rhs {
				if lit, ok := rhs.(*ast.FuncLit); ok {
					hints[lit] = assignHint(s.Lhs, s.Rhs, i)
				}
			}
		case *ast.ValueSpec:
			for i, v := range s.Values {
				if lit, ok := v.(*ast.FuncLit); ok && i < len(s.Names) {
					hints[lit] = s.Names[i]
				}
			}
		}
		return true
	})

	changed := false
	ast.Inspect(file, func(n ast.Node) bool {
		lit, ok := n.(*ast.FuncLit)
		if !ok || lit.Body == nil || alreadyWrapped(fset, lit.Pos()) {
			return true
		}
		name, kind := litName(hints[lit])
		if shouldWrapLit(lit, name, opts) {
			line := fset.Position(lit.Pos()).Line
			wrapBody(lit.Body, lit.Type, name, kind, filename, line)
			markWrapped(fset, lit.Pos())
			changed = true
		}
		return true
	})
	return changed
}
