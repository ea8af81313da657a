// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

// Package log is the SDK's own diagnostic logger, separate from whatever
// logging library the instrumented application uses. Grounded on the
// teacher's contrib/aws/aws-sdk-go-v2/internal package-level Logger
// variable pattern (a single assignable logger, loaded once), generalized
// here to a small leveled interface gated by env vars instead of being
// assigned externally at init.
package log

import (
	"log"
	"os"
)

// Logger is the minimal interface this package's level methods call
// through to. The default is backed by the standard library's log
// package; tests and embedders can swap in their own.
type Logger interface {
	Printf(format string, args ...any)
}

var std Logger = log.New(os.Stderr, "[apptrace] ", log.LstdFlags)

// quiet, when true (TRACE_QUIET set to a non-empty value), suppresses
// Debug and Warn entirely — only Error still prints.
var quiet = os.Getenv("TRACE_QUIET") != ""

// debugUnawaited additionally surfaces Debug-level messages about
// unawaited-call bookkeeping, which are noisy enough that spec.md keeps
// them behind their own flag rather than folding them into TRACE_QUIET's
// opposite.
var debugUnawaited = os.Getenv("TRACE_DEBUG_UNAWAITED") != ""

// SetLogger overrides the logger entries are written to. Intended for
// tests and for embedding apptrace's own diagnostics into a host
// application's structured logger.
func SetLogger(l Logger) {
	std = l
}

// Debug prints a diagnostic message unless TRACE_QUIET is set.
func Debug(format string, args ...any) {
	if quiet {
		return
	}
	std.Printf("DEBUG "+format, args...)
}

// DebugUnawaited prints a message about unawaited-call tracking, gated by
// TRACE_DEBUG_UNAWAITED rather than by TRACE_QUIET's absence — it stays
// silent by default even when Debug would otherwise print.
func DebugUnawaited(format string, args ...any) {
	if !debugUnawaited {
		return
	}
	std.Printf("DEBUG[unawaited] "+format, args...)
}

// Warn prints a recoverable-problem message unless TRACE_QUIET is set.
func Warn(format string, args ...any) {
	if quiet {
		return
	}
	std.Printf("WARN "+format, args...)
}

// Error always prints, regardless of TRACE_QUIET — an instrumentation
// failure the host application should be able to see no matter how it
// has configured verbosity.
func Error(format string, args ...any) {
	std.Printf("ERROR "+format, args...)
}
