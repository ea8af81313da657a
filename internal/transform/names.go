// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

package transform

import (
	"go/ast"

	"github.com/apptrace-go/apptrace/ext"
)

// declName resolves a *ast.FuncDecl's display name and kind: the
// declared name, unqualified for a method as well (the receiver only
// selects ext.KindMethod) — the
// first two links of spec.md §4.1's tie-break chain, the only two that
// ever apply to a FuncDecl (it always has a declared name).
func declName(decl *ast.FuncDecl) (string, ext.FuncKind) {
	if decl.Recv == nil || len(decl.Recv.List) == 0 {
		return decl.Name.Name, ext.KindFunction
	}
	return decl.Name.Name, ext.KindMethod
}

// litName resolves the display name for a *ast.FuncLit given the
// innermost enclosing node that names it, continuing spec.md §4.1's
// tie-break chain past "declared name" (a literal has none): the
// identifier on the left of the `:=`/`var` it initializes, then the LHS
// of an enclosing plain assignment (selector expressions included), then
// the last-resort "(anonymous)".
func litName(hint ast.Expr) (string, ext.FuncKind) {
	switch e := hint.(type) {
	case nil:
		return ext.AnonymousName, ext.KindClosure
	case *ast.Ident:
		return e.Name, ext.KindClosure
	case *ast.SelectorExpr:
		return e.Sel.Name, ext.KindClosure
	default:
		return ext.AnonymousName, ext.KindClosure
	}
}

// assignHint returns the single LHS expression a FuncLit at rhsIndex of
// an AssignStmt or ValueSpec should be named after, or nil when the
// statement's shape doesn't give the literal an unambiguous name (e.g. a
// multi-value RHS that isn't a 1:1 assignment).
func assignHint(lhs []ast.Expr, rhs []ast.Expr, rhsIndex int) ast.Expr {
	if len(lhs) != len(rhs) || rhsIndex >= len(lhs) {
		return nil
	}
	return lhs[rhsIndex]
}
