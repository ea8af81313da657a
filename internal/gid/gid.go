// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

// Package gid extracts the calling goroutine's runtime id. Go has no
// public API for this; the standard (if informally supported) technique
// is parsing the "goroutine N [state]:" header off a short stack trace.
// Two independent concerns in this module need a goroutine-scoped key —
// internal/bus's Emit re-entrancy guard and apptrace's ambient
// current-scope lookup for callback isolation — so the extraction lives
// here once rather than duplicated in both.
package gid

import (
	"bytes"
	"runtime"
	"strconv"
)

// Current returns the calling goroutine's id, or -1 if the stack header
// could not be parsed.
func Current() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	const prefix = "goroutine "
	if !bytes.HasPrefix(b, []byte(prefix)) {
		return -1
	}
	b = b[len(prefix):]
	if idx := bytes.IndexByte(b, ' '); idx >= 0 {
		b = b[:idx]
	}
	id, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return -1
	}
	return id
}
