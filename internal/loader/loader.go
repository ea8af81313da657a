// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

// Package loader is C2: the build-time package driver that plays the
// role a JS `require`/ESM load hook plays at runtime. Go has no such
// hook once a binary is linked, so instrumentation has to happen before
// compilation — Load walks a set of package directories, hands every
// file to internal/transform, writes the rewritten source to a
// build-cache location a go:generate step regenerates from, and asks
// internal/origin to tag each package's declarations once loaded.
//
// Grounded on the teacher's own functional-option idiom
// (contrib/aws/aws-sdk-go-v2/aws.Option/OptionFn, the same shape
// config.Option already mirrors) for New's options, and on go/build +
// go/parser directly rather than golang.org/x/tools/go/packages — even
// though the teacher itself imports that heavier loader in its own
// apicheck.go — to keep this package's dependency surface to exactly
// what parsing and rewriting one file at a time requires; see
// DESIGN.md.
package loader

import (
	"fmt"
	"go/ast"
	"go/build"
	"go/format"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"regexp"

	"github.com/apptrace-go/apptrace/internal/origin"
	"github.com/apptrace-go/apptrace/internal/transform"
)

// Loader resolves patterns passed to Load into rewritten package source,
// using the transform and origin options it was built with.
type Loader struct {
	cacheDir  string
	transform transform.Options
}

// Option mutates a Loader being built by New.
type Option interface {
	apply(*Loader)
}

// OptionFn adapts a plain func(*Loader) into an Option.
type OptionFn func(*Loader)

func (fn OptionFn) apply(l *Loader) { fn(l) }

// WithCacheDir sets the directory rewritten source is written under;
// each file lands at its own absolute source path re-rooted under dir.
// Defaults to a subdirectory of os.TempDir.
func WithCacheDir(dir string) OptionFn {
	return func(l *Loader) { l.cacheDir = dir }
}

// WithTransformOptions sets the transform.Options every rewritten file
// is passed, letting the embedding config.Config control skip-lists,
// getter/setter wrapping, and anonymous-function wrapping.
func WithTransformOptions(opts transform.Options) OptionFn {
	return func(l *Loader) { l.transform = opts }
}

// New builds a Loader, applying opts over a default cache directory.
func New(opts ...Option) *Loader {
	l := &Loader{cacheDir: filepath.Join(os.TempDir(), "apptrace-build")}
	for _, opt := range opts {
		opt.apply(l)
	}
	return l
}

// FileError records one file Load could not fully process. The file
// itself is left untransformed (and, for a parse failure, untagged);
// every other file in the load proceeds regardless (§7).
type FileError struct {
	File string
	Err  error
}

func (e FileError) Error() string { return e.File + ": " + e.Err.Error() }

// Result summarizes one Load call.
type Result struct {
	// Rewritten lists every file whose source actually changed and was
	// written under the loader's cache directory.
	Rewritten []string
	// Tagged lists every file internal/origin attached declarations
	// for, including build-tag-excluded files that were tagged but
	// never rewritten.
	Tagged []string
	Errors []FileError
}

// Load resolves patterns — each a package directory, not a full Go
// import-path pattern like "./..." — parsing, rewriting, and tagging
// every source file it finds. include/exclude gate both which files are
// eligible for rewriting and internal/origin's IsApp classification, so
// a file excluded from instrumentation is also never considered
// application code for dispatch purposes.
//
// Directory-only patterns (no "./..." expansion) is a deliberate
// narrowing recorded in DESIGN.md: cmd/apptrace-instrument resolves its
// own directory tree before calling Load, so Load itself never needs to
// reimplement Go's package-pattern matching.
func (l *Loader) Load(patterns []string, include, exclude []*regexp.Regexp) (*Result, error) {
	res := &Result{}
	patternSet := origin.PatternSet{Include: include, Exclude: exclude}

	for _, dir := range patterns {
		if err := l.loadDir(dir, patternSet, res); err != nil {
			res.Errors = append(res.Errors, FileError{File: dir, Err: err})
		}
	}
	return res, nil
}

func (l *Loader) loadDir(dir string, patterns origin.PatternSet, res *Result) error {
	pkg, err := build.ImportDir(dir, build.IgnoreVendor)
	if err != nil {
		if _, ok := err.(*build.NoGoError); ok {
			return nil // an empty or doc-only directory is not a load failure
		}
		return err
	}

	fset := token.NewFileSet()
	var files []*ast.File
	bodyTraced := map[string]bool{}

	rewrite := func(name string, tagOnly bool) {
		full := filepath.Join(dir, name)
		file, err := parser.ParseFile(fset, full, nil, parser.ParseComments)
		if err != nil {
			res.Errors = append(res.Errors, FileError{File: full, Err: err})
			return
		}
		files = append(files, file)

		if tagOnly || !patterns.IsApp(full) {
			return
		}

		changed := l.rewriteOne(fset, file, full, res)
		bodyTraced[full] = changed
	}

	for _, name := range pkg.GoFiles {
		rewrite(name, false)
	}
	// Build-tag-excluded files are still parsed and tagged, so a
	// function only compiled under another GOOS/GOARCH still shows up
	// in the side table — but never source-rewritten, since a file not
	// in the current build can't be regenerated into the build cache
	// the active compilation will actually read from.
	for _, name := range pkg.IgnoredGoFiles {
		rewrite(name, true)
	}

	origin.Walk(pkg.ImportPath, fset, files, patterns, func(file string) bool {
		return bodyTraced[file]
	})
	for _, file := range files {
		res.Tagged = append(res.Tagged, fset.Position(file.Pos()).Filename)
	}
	return nil
}

// rewriteOne runs C1 over one already-parsed file, swallowing both a
// transform panic and a write failure as a per-file error (§7) rather
// than aborting the directory's load. AST rewriting over a malformed
// but successfully-parsed tree is not expected to panic, but nothing
// about go/ast rules it out outright, so the recover stays cheap
// insurance rather than dead code.
func (l *Loader) rewriteOne(fset *token.FileSet, file *ast.File, full string, res *Result) (changed bool) {
	defer func() {
		if r := recover(); r != nil {
			res.Errors = append(res.Errors, FileError{File: full, Err: fmt.Errorf("transform panic: %v", r)})
			changed = false
		}
	}()

	changed = transform.Rewrite(fset, file, full, l.transform)
	if !changed {
		return false
	}

	if err := l.writeCache(fset, file, full); err != nil {
		res.Errors = append(res.Errors, FileError{File: full, Err: err})
		return false
	}
	res.Rewritten = append(res.Rewritten, full)
	return true
}

// writeCache renders the rewritten AST back to source and writes it
// under the loader's cache directory, at full's absolute path re-rooted
// under that directory (full as given if it cannot be made absolute).
func (l *Loader) writeCache(fset *token.FileSet, file *ast.File, full string) error {
	rel := full
	if abs, err := filepath.Abs(full); err == nil {
		rel = abs
	}
	dest := filepath.Join(l.cacheDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	return format.Node(out, fset, file)
}
