// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetFlags() {
	include, exclude, skipFns, allowFns, cacheDir = "", "", "", "", ""
	wrapGettersSetters, skipAnonymous, quiet = false, false, true
}

func TestRunRequiresAtLeastOneDirectory(t *testing.T) {
	resetFlags()
	err := run(nil)
	assert.Error(t, err)
}

func TestRunInstrumentsADirectory(t *testing.T) {
	resetFlags()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.go"), []byte("package app\n\nfunc Do() {}\n"), 0o644))

	include = ".*"
	cacheDir = t.TempDir()

	err := run([]string{dir})
	assert.NoError(t, err)
}

func TestRunReportsPerFileErrorsWithoutAbortingOthers(t *testing.T) {
	resetFlags()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "good.go"), []byte("package app\n\nfunc Do() {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.go"), []byte("package app\n\nfunc ( {\n"), 0o644))

	include = ".*"
	cacheDir = t.TempDir()

	err := run([]string{dir})
	assert.Error(t, err, "a per-file parse failure surfaces as a non-zero exit, even though the load itself completed")
}

func TestSplitCSVTrimsAndDropsEmpty(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitCSV(" a , b ,"))
	assert.Nil(t, splitCSV(""))
}
