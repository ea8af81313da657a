// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

package transform

import (
	"go/ast"
	"go/token"
)

// knownPaths maps the package identifiers generated code references to
// their import paths, so ensureImports can add whichever ones a Rewrite
// pass actually introduced without reparsing the whole file's existing
// import graph.
var knownPaths = map[string]string{
	"apptrace": "github.com/apptrace-go/apptrace/apptrace",
	"ext":      "github.com/apptrace-go/apptrace/ext",
	"reflect":  "reflect",
	"fmt":      "fmt",
}

// importsUsed scans file for selector expressions naming one of
// knownPaths' package identifiers and returns the subset actually
// referenced.
func importsUsed(file *ast.File) []string {
	used := map[string]bool{}
	ast.Inspect(file, func(n ast.Node) bool {
		sel, ok := n.(*ast.SelectorExpr)
		if !ok {
			return true
		}
		if id, ok := sel.X.(*ast.Ident); ok {
			if _, known := knownPaths[id.Name]; known {
				used[id.Name] = true
			}
		}
		return true
	})
	names := make([]string, 0, len(used))
	for name := range used {
		names = append(names, name)
	}
	return names
}

// ensureImports adds an import declaration for every name in names whose
// import path isn't already present in file's import block.
func ensureImports(file *ast.File, names []string) {
	existing := map[string]bool{}
	for _, imp := range file.Imports {
		existing[importPath(imp)] = true
	}

	var toAdd []*ast.ImportSpec
	for _, name := range names {
		path, ok := knownPaths[name]
		if !ok || existing[path] {
			continue
		}
		toAdd = append(toAdd, &ast.ImportSpec{
			Path: &ast.BasicLit{Kind: token.STRING, Value: strconvQuote(path)},
		})
		existing[path] = true
	}
	if len(toAdd) == 0 {
		return
	}

	file.Imports = append(file.Imports, toAdd...)

	for _, decl := range file.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if ok && gen.Tok == token.IMPORT {
			for _, spec := range toAdd {
				gen.Specs = append(gen.Specs, spec)
			}
			return
		}
	}

	// The file had no import block at all: synthesize one and place it
	// first among Decls, ahead of every existing declaration.
	specs := make([]ast.Spec, len(toAdd))
	for i, imp := range toAdd {
		specs[i] = imp
	}
	importDecl := &ast.GenDecl{Tok: token.IMPORT, Lparen: token.Pos(1), Specs: specs}
	file.Decls = append([]ast.Decl{importDecl}, file.Decls...)
}

func importPath(imp *ast.ImportSpec) string {
	if imp.Path == nil {
		return ""
	}
	v := imp.Path.Value
	if len(v) >= 2 {
		return v[1 : len(v)-1]
	}
	return v
}
