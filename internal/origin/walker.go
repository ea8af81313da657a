// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

package origin

import (
	"go/ast"
	"go/token"
)

// Walk attaches an Info to every function and method declaration in
// files, the static half of C3: internal/loader calls this once per
// parsed package, after internal/transform has run over it (or skipped
// it). pkgPath is the package's import path, used to build the same
// runtime.FuncForPC-style qualified name Dispatch derives at call time
// so the two sides of the side table agree on a key.
//
// Go declarations are a flat list (ast.File.Decls) with no "export
// object graph" to walk recursively the way a JS module's exports can
// nest arbitrarily, so unlike spec.md §4.3's depth-capped recursive
// walk, this is a single pass.
func Walk(pkgPath string, fset *token.FileSet, files []*ast.File, patterns PatternSet, bodyTraced func(file string) bool) {
	for _, f := range files {
		for _, decl := range f.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok {
				continue
			}
			pos := fset.Position(fn.Pos())
			qualified := qualifiedDeclName(pkgPath, fn)
			Tag(qualified, Info{
				File:       pos.Filename,
				IsApp:      patterns.IsApp(pos.Filename),
				SkipWrap:   isTrivialAccessor(fn),
				BodyTraced: bodyTraced != nil && bodyTraced(pos.Filename),
			})
		}
	}
}

// qualifiedDeclName builds the same "pkgPath.Name" / "pkgPath.(*Type).Name"
// shape runtime.FuncForPC reports, so a statically-tagged Info and a
// runtime Dispatch lookup resolve to the same table entry.
func qualifiedDeclName(pkgPath string, fn *ast.FuncDecl) string {
	if fn.Recv == nil || len(fn.Recv.List) == 0 {
		return pkgPath + "." + fn.Name.Name
	}
	recvType := exprTypeName(fn.Recv.List[0].Type)
	return pkgPath + ".(" + recvType + ")." + fn.Name.Name
}

func exprTypeName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return "*" + exprTypeName(t.X)
	case *ast.Ident:
		return t.Name
	case *ast.IndexExpr:
		return exprTypeName(t.X)
	case *ast.IndexListExpr:
		return exprTypeName(t.X)
	default:
		return ""
	}
}

// isTrivialAccessor reports whether fn is a single-statement getter
// ("return f.x") or setter ("f.x = v"); Walk tags every such method
// SkipWrap (spec.md §4.2.1). Tag keeps the first Info recorded for a
// name, and WrapGettersSetters does not change this tagging.
func isTrivialAccessor(fn *ast.FuncDecl) bool {
	if fn.Recv == nil || fn.Body == nil || len(fn.Body.List) != 1 {
		return false
	}
	switch stmt := fn.Body.List[0].(type) {
	case *ast.ReturnStmt:
		if len(stmt.Results) != 1 {
			return false
		}
		_, ok := stmt.Results[0].(*ast.SelectorExpr)
		return ok
	case *ast.AssignStmt:
		if len(stmt.Lhs) != 1 || len(stmt.Rhs) != 1 {
			return false
		}
		_, ok := stmt.Lhs[0].(*ast.SelectorExpr)
		return ok
	default:
		return false
	}
}
