// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

package transform

import (
	"go/ast"
	"go/parser"
	"go/token"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// parseSrc parses src as a standalone file body, returning the file and
// the FileSet positions were resolved against, plus the synthetic
// filename to pass to Rewrite. Nothing here is ever compiled: assertions
// walk the resulting AST shape directly, since this package's output is
// never run (§8's idempotence is checked the same way — by calling
// Rewrite twice over the same *ast.File and comparing structure, not by
// executing anything). Each test gets its own filename, derived from its
// name, so the package-level wrapped set (keyed by file+offset, §8)
// can't see two unrelated tests' identically-shaped sources as the same
// already-wrapped function.
func parseSrc(t *testing.T, src string) (*token.FileSet, *ast.File, string) {
	t.Helper()
	filename := t.Name() + ".go"
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, "package app\n"+src, 0)
	require.NoError(t, err)
	return fset, file, filename
}

func findFunc(file *ast.File, name string) *ast.FuncDecl {
	for _, d := range file.Decls {
		if fn, ok := d.(*ast.FuncDecl); ok && fn.Name.Name == name {
			return fn
		}
	}
	return nil
}

func TestRewriteWrapsExportedFunctionBody(t *testing.T) {
	fset, file, filename := parseSrc(t, `
func Do(a int) (int, error) { return a, nil }
`)
	changed := Rewrite(fset, file, filename, Options{})
	assert.True(t, changed)

	fn := findFunc(file, "Do")
	require.NotNil(t, fn)
	require.Len(t, fn.Body.List, 3) // enter, defer, original return

	enter, ok := fn.Body.List[0].(*ast.AssignStmt)
	require.True(t, ok)
	assert.Equal(t, "__span", enter.Lhs[0].(*ast.Ident).Name)
	assert.Equal(t, "__scope", enter.Lhs[1].(*ast.Ident).Name)

	call := enter.Rhs[0].(*ast.CallExpr)
	sel := call.Fun.(*ast.SelectorExpr)
	assert.Equal(t, "apptrace", sel.X.(*ast.Ident).Name)
	assert.Equal(t, "EnterBody", sel.Sel.Name)
	assert.Equal(t, `"Do"`, call.Args[0].(*ast.BasicLit).Value)

	_, ok = fn.Body.List[1].(*ast.DeferStmt)
	assert.True(t, ok)

	// Previously unnamed (int, error) results gained synthesized names
	// usable by the generated defer.
	require.Len(t, fn.Type.Results.List, 2)
	assert.Equal(t, "r0", fn.Type.Results.List[0].Names[0].Name)
	assert.Equal(t, "err", fn.Type.Results.List[1].Names[0].Name)
}

func TestRewriteSkipsUnexportedMethod(t *testing.T) {
	fset, file, filename := parseSrc(t, `
type T struct{}
func (t T) hidden() { println("x") }
`)
	changed := Rewrite(fset, file, filename, Options{})
	assert.False(t, changed)

	fn := findFunc(file, "hidden")
	require.NotNil(t, fn)
	require.Len(t, fn.Body.List, 1, "unexported method must not gain an enter/defer pair")
}

func TestRewriteIsIdempotent(t *testing.T) {
	fset, file, filename := parseSrc(t, `
func Do() { println("x") }
`)
	first := Rewrite(fset, file, filename, Options{})
	require.True(t, first)
	fn := findFunc(file, "Do")
	lenAfterFirst := len(fn.Body.List)

	second := Rewrite(fset, file, filename, Options{})
	assert.False(t, second, "a function already wrapped must not be wrapped twice")
	assert.Len(t, fn.Body.List, lenAfterFirst)
}

func TestRewriteRespectsSkipList(t *testing.T) {
	fset, file, filename := parseSrc(t, `
func Sensitive() { println("x") }
`)
	opts := Options{SkipFns: []*regexp.Regexp{regexp.MustCompile("^Sensitive$")}}
	changed := Rewrite(fset, file, filename, opts)
	assert.False(t, changed)

	fn := findFunc(file, "Sensitive")
	require.NotNil(t, fn)
	assert.Len(t, fn.Body.List, 1)
}

func TestWrapFuncLitNamesFromAssignment(t *testing.T) {
	fset, file, filename := parseSrc(t, `
func Do() {
	helper := func(x int) int { return x * 2 }
	_ = helper
}
`)
	changed := Rewrite(fset, file, filename, Options{})
	assert.True(t, changed)

	// The generated defer closures are FuncLits too, but carry no source
	// position; the helper literal is the only one parsed from src.
	var lit *ast.FuncLit
	ast.Inspect(file, func(n ast.Node) bool {
		if l, ok := n.(*ast.FuncLit); ok && l.Pos().IsValid() {
			lit = l
		}
		return true
	})
	require.NotNil(t, lit)
	require.NotEmpty(t, lit.Body.List)

	enter, ok := lit.Body.List[0].(*ast.AssignStmt)
	require.True(t, ok)
	call := enter.Rhs[0].(*ast.CallExpr)
	assert.Equal(t, `"helper"`, call.Args[0].(*ast.BasicLit).Value)
}

func TestCallSiteRewritesSameArityAssignToDispatch(t *testing.T) {
	fset, file, filename := parseSrc(t, `
func Caller() {
	result, err := doSomething(1, 2)
	_ = result
	_ = err
}
func doSomething(a, b int) (int, error) { return a + b, nil }
`)
	changed := rewriteCallSites(fset, file, filename)
	assert.True(t, changed)

	fn := findFunc(file, "Caller")
	require.NotNil(t, fn)

	var assign *ast.AssignStmt
	for _, stmt := range fn.Body.List {
		if a, ok := stmt.(*ast.AssignStmt); ok {
			if _, isCall := a.Rhs[0].(*ast.CallExpr); isCall {
				assign = a
				break
			}
		}
	}
	require.NotNil(t, assign)
	call := assign.Rhs[0].(*ast.CallExpr)
	sel, ok := call.Fun.(*ast.SelectorExpr)
	require.True(t, ok)
	assert.Equal(t, "apptrace", sel.X.(*ast.Ident).Name)
	assert.Equal(t, "Dispatch", sel.Sel.Name)
}

func TestGoStatementForksScopeBeforeLaunch(t *testing.T) {
	fset, file, filename := parseSrc(t, `
func Caller() {
	go worker(1)
}
func worker(n int) {}
`)
	changed := rewriteCallSites(fset, file, filename)
	assert.True(t, changed)

	fn := findFunc(file, "Caller")
	require.NotNil(t, fn)

	var forkAssign *ast.AssignStmt
	var goStmt *ast.GoStmt
	for _, stmt := range fn.Body.List {
		switch s := stmt.(type) {
		case *ast.AssignStmt:
			forkAssign = s
		case *ast.GoStmt:
			goStmt = s
		}
	}
	require.NotNil(t, forkAssign, "launch must be preceded by a scope-fork assignment")
	require.NotNil(t, goStmt)

	forkCall := forkAssign.Rhs[0].(*ast.CallExpr)
	sel := forkCall.Fun.(*ast.SelectorExpr)
	assert.Equal(t, "ForkCurrentScope", sel.Sel.Name)

	launchCall := goStmt.Call.Fun.(*ast.FuncLit)
	inner := launchCall.Body.List[0].(*ast.ExprStmt).X.(*ast.CallExpr)
	innerSel := inner.Fun.(*ast.SelectorExpr)
	assert.Equal(t, "RunWithScope", innerSel.Sel.Name)
}
