// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

// Command apptrace-instrument drives internal/loader ahead of a normal
// go build: it rewrites every package directory named on the command
// line in place into the build cache internal/loader writes to, so the
// regular compiler picks up instrumented source on the next build.
// Grounded on the teacher's own cmd/main.go — a flag.BoolVar-driven
// main() that delegates to a run() doing the actual work, kept
// separate so run() stays testable without touching os.Args or
// os.Exit.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/apptrace-go/apptrace/internal/loader"
	"github.com/apptrace-go/apptrace/internal/origin"
	"github.com/apptrace-go/apptrace/internal/transform"
)

var (
	include            string
	exclude            string
	skipFns            string
	allowFns           string
	cacheDir           string
	wrapGettersSetters bool
	skipAnonymous      bool
	quiet              bool
)

func main() {
	flag.StringVar(&include, "include", "", "comma-separated regexes; a file must match one to be instrumented")
	flag.StringVar(&exclude, "exclude", "", "comma-separated regexes; a matching file is never instrumented")
	flag.StringVar(&skipFns, "skip-fns", "", "comma-separated regexes of function names to leave untraced")
	flag.StringVar(&allowFns, "allow-fns", "", "comma-separated regexes; non-empty switches to allowlist mode")
	flag.StringVar(&cacheDir, "cache-dir", "", "rewritten-source cache directory (defaults to a temp dir)")
	flag.BoolVar(&wrapGettersSetters, "wrap-getters-setters", false, "also wrap trivial Get*/Set* accessors")
	flag.BoolVar(&skipAnonymous, "skip-anonymous", false, "never wrap anonymous functions")
	flag.BoolVar(&quiet, "quiet", false, "suppress the per-run summary")
	flag.Parse()

	if err := run(flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "apptrace-instrument:", err)
		os.Exit(1)
	}
}

func run(dirs []string) error {
	if len(dirs) == 0 {
		return fmt.Errorf("usage: apptrace-instrument [flags] <dir>...")
	}

	var opts []loader.Option
	if cacheDir != "" {
		opts = append(opts, loader.WithCacheDir(cacheDir))
	}
	opts = append(opts, loader.WithTransformOptions(transform.Options{
		WrapGettersSetters: wrapGettersSetters,
		SkipAnonymous:      skipAnonymous,
		AllowFns:           origin.CompilePatterns(splitCSV(allowFns)),
		SkipFns:            origin.CompilePatterns(splitCSV(skipFns)),
	}))

	l := loader.New(opts...)
	includeRe := origin.CompilePatterns(splitCSV(include))
	excludeRe := origin.CompilePatterns(splitCSV(exclude))

	res, err := l.Load(dirs, includeRe, excludeRe)
	if err != nil {
		return err
	}

	for _, fe := range res.Errors {
		fmt.Fprintln(os.Stderr, "apptrace-instrument:", fe.Error())
	}
	if !quiet {
		fmt.Printf("apptrace-instrument: %d file(s) rewritten, %d tagged, %d error(s)\n",
			len(res.Rewritten), len(res.Tagged), len(res.Errors))
	}
	if len(res.Errors) > 0 {
		return fmt.Errorf("%d file(s) failed to instrument", len(res.Errors))
	}
	return nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
