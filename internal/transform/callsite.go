// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

package transform

import (
	"go/ast"
	"go/token"
)

// builtins lists identifiers rewriteCall must never treat as a callee to
// dispatch through — spec.md §4.1's call-site skip list, minus the
// dispatcher/bus calls themselves (those are recognized by package
// selector below since this package never emits a bare call to them).
var builtins = map[string]bool{
	"make": true, "len": true, "cap": true, "new": true, "append": true,
	"recover": true, "panic": true, "delete": true, "copy": true,
	"close": true, "print": true, "println": true, "min": true, "max": true,
	"clear": true, "complex": true, "real": true, "imag": true,
}

// skipPackages holds the import selectors a call must never be routed
// through apptrace.Dispatch for: the generated wrapper code's own
// runtime calls would otherwise recursively dispatch themselves.
var skipPackages = map[string]bool{"apptrace": true}

func isSkippedCallee(call *ast.CallExpr) bool {
	switch fn := call.Fun.(type) {
	case *ast.Ident:
		// A bare identifier that starts uppercase and has no arguments
		// shaped like a call elsewhere in this file is indistinguishable
		// from a type conversion without go/types; treated as skipped —
		// documented limitation, not a correctness guarantee.
		return builtins[fn.Name] || isLikelyTypeName(fn.Name)
	case *ast.SelectorExpr:
		if pkg, ok := fn.X.(*ast.Ident); ok {
			return skipPackages[pkg.Name]
		}
		return false
	case *ast.FuncLit, *ast.ParenExpr, *ast.ArrayType, *ast.MapType, *ast.ChanType, *ast.InterfaceType, *ast.StructType:
		return true
	default:
		return false
	}
}

func isLikelyTypeName(name string) bool {
	return len(name) > 0 && name[0] >= 'A' && name[0] <= 'Z' &&
		(name == "String" || name == "Int" || name == "Int64" || name == "Bool" ||
			name == "Float64" || name == "Byte" || name == "Rune")
}

// dispatchCall builds the apptrace.Dispatch(...) replacement for call.
// recv is non-nil only for a selector call recv.Method(...); label is
// the method/function name used as Dispatch's display-name hint.
func dispatchCall(call *ast.CallExpr, fset *token.FileSet, filename string, unawaited ast.Expr, pre *[]ast.Stmt) *ast.CallExpr {
	var fnExpr, recvExpr ast.Expr
	label := ""

	switch fn := call.Fun.(type) {
	case *ast.SelectorExpr:
		if recvIdent, ok := fn.X.(*ast.Ident); ok {
			// The receiver gets no temporary of its own: it now appears
			// twice (as Dispatch's recv argument and inside the hoisted
			// method value), which is safe because recvIdent is a bare
			// identifier with no side effects to duplicate. Only the
			// method value is hoisted, into __fn below.
			recvExpr = recvIdent
			fnExpr = fn
			label = fn.Sel.Name
		} else {
			return nil
		}
	case *ast.Ident:
		fnExpr = fn
		recvExpr = ast.NewIdent("nil")
		label = fn.Name
	default:
		return nil
	}

	tmp := ast.NewIdent("__fn")
	*pre = append(*pre, &ast.AssignStmt{
		Lhs: []ast.Expr{tmp},
		Tok: token.DEFINE,
		Rhs: []ast.Expr{fnExpr},
	})

	pos := fset.Position(call.Pos())
	argsElts := make([]ast.Expr, 0, len(call.Args))
	argsElts = append(argsElts, call.Args...)

	return &ast.CallExpr{
		Fun: &ast.SelectorExpr{X: ast.NewIdent("apptrace"), Sel: ast.NewIdent("Dispatch")},
		Args: []ast.Expr{
			&ast.CallExpr{
				Fun:  &ast.SelectorExpr{X: ast.NewIdent("reflect"), Sel: ast.NewIdent("ValueOf")},
				Args: []ast.Expr{tmp},
			},
			recvExpr,
			&ast.CompositeLit{Type: &ast.ArrayType{Elt: ast.NewIdent("any")}, Elts: argsElts},
			stringLit(filename),
			intLit(pos.Line),
			stringLit(label),
			unawaited,
		},
	}
}

// rewriteCallSites replaces every eligible *ast.ExprStmt, same-arity
// *ast.AssignStmt and *ast.GoStmt call with a route through
// apptrace.Dispatch, per spec.md §4.1's call-site wrap. Only selector
// calls with a bare-identifier receiver are rewritten (a receiver
// expression with side effects would need full temp-hoisting this
// transformer does not perform — documented limitation), and only
// type-checking-independent shapes are recognized as callees, since no
// go/types information is available to this pass.
func rewriteCallSites(fset *token.FileSet, file *ast.File, filename string) bool {
	changed := false

	ast.Inspect(file, func(n ast.Node) bool {
		block, ok := n.(*ast.BlockStmt)
		if !ok {
			return true
		}
		var newList []ast.Stmt
		for _, stmt := range block.List {
			rewritten, pre := rewriteStmt(fset, stmt, filename)
			if pre != nil {
				changed = true
				newList = append(newList, pre...)
			}
			newList = append(newList, rewritten)
		}
		block.List = newList
		return true
	})

	return changed
}

func rewriteStmt(fset *token.FileSet, stmt ast.Stmt, filename string) (ast.Stmt, []ast.Stmt) {
	switch s := stmt.(type) {
	case *ast.ExprStmt:
		call, ok := s.X.(*ast.CallExpr)
		if !ok || isSkippedCallee(call) {
			return stmt, nil
		}
		var pre []ast.Stmt
		dispatch := dispatchCall(call, fset, filename, ast.NewIdent("true"), &pre)
		if dispatch == nil {
			return stmt, nil
		}
		s.X = dispatch
		return s, pre

	case *ast.AssignStmt:
		if s.Tok != token.DEFINE || len(s.Rhs) != 1 {
			return stmt, nil
		}
		call, ok := s.Rhs[0].(*ast.CallExpr)
		if !ok || isSkippedCallee(call) {
			return stmt, nil
		}
		var pre []ast.Stmt
		switch len(s.Lhs) {
		case 2:
			dispatch := dispatchCall(call, fset, filename, ast.NewIdent("false"), &pre)
			if dispatch == nil {
				return stmt, nil
			}
			s.Rhs[0] = dispatch
			// s.Rhs still has length 1 but the call now yields two
			// results (any, error), matching the two-element s.Lhs —
			// exactly Go's existing "f() returns 2 values" assignment
			// shape, just with a different callee.
			return s, pre
		case 1:
			dispatch := dispatchCall(call, fset, filename, ast.NewIdent("false"), &pre)
			if dispatch == nil {
				return stmt, nil
			}
			iife := &ast.CallExpr{Fun: &ast.FuncLit{
				Type: &ast.FuncType{Results: &ast.FieldList{List: []*ast.Field{{Type: ast.NewIdent("any")}}}},
				Body: &ast.BlockStmt{List: []ast.Stmt{
					&ast.AssignStmt{
						Lhs: []ast.Expr{ast.NewIdent("__res"), ast.NewIdent("_")},
						Tok: token.DEFINE,
						Rhs: []ast.Expr{dispatch},
					},
					&ast.ReturnStmt{Results: []ast.Expr{ast.NewIdent("__res")}},
				}},
			}}
			s.Rhs[0] = iife
			return s, pre
		default:
			return stmt, nil
		}

	case *ast.GoStmt:
		return rewriteGoStmt(fset, s, filename)

	default:
		return stmt, nil
	}
}

// rewriteGoStmt replaces `go fn(args...)` with a launch that forks the
// launching goroutine's current Scope before the new goroutine starts
// and installs the fork as that goroutine's ambient scope for its
// duration — spec.md §4.1 step 4's "go statement without a
// synchronizing receive" unawaited case, and the only shape C5's
// ambient-scope machinery (apptrace.ForkCurrentScope/RunWithScope) was
// built to support.
func rewriteGoStmt(fset *token.FileSet, s *ast.GoStmt, filename string) (ast.Stmt, []ast.Stmt) {
	if isSkippedCallee(s.Call) {
		return s, nil
	}
	var pre []ast.Stmt
	dispatch := dispatchCall(s.Call, fset, filename, ast.NewIdent("true"), &pre)
	if dispatch == nil {
		return s, nil
	}

	forked := ast.NewIdent("__forked")
	pre = append(pre, &ast.AssignStmt{
		Lhs: []ast.Expr{forked},
		Tok: token.DEFINE,
		Rhs: []ast.Expr{&ast.CallExpr{
			Fun: &ast.SelectorExpr{X: ast.NewIdent("apptrace"), Sel: ast.NewIdent("ForkCurrentScope")},
		}},
	})

	s.Call = &ast.CallExpr{Fun: ast.NewIdent("func")}
	newGo := &ast.GoStmt{Call: &ast.CallExpr{
		Fun: &ast.FuncLit{Type: &ast.FuncType{Params: &ast.FieldList{}}, Body: &ast.BlockStmt{
			List: []ast.Stmt{&ast.ExprStmt{X: &ast.CallExpr{
				Fun:  &ast.SelectorExpr{X: ast.NewIdent("apptrace"), Sel: ast.NewIdent("RunWithScope")},
				Args: []ast.Expr{forked, &ast.FuncLit{Type: &ast.FuncType{Params: &ast.FieldList{}}, Body: &ast.BlockStmt{List: []ast.Stmt{&ast.ExprStmt{X: dispatch}}}}},
			}}},
		}},
	}}
	return newGo, pre
}
