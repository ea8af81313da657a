// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

package loader

import (
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writePkg materializes a one-file package under a fresh temp directory
// and returns its path.
func writePkg(t *testing.T, name, src string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644))
	return dir
}

func TestLoadRewritesIncludedFile(t *testing.T) {
	dir := writePkg(t, "app.go", `package app

func Do(a int) (int, error) {
	b := helper(a)
	return b, nil
}

func helper(a int) int { return a * 2 }
`)
	l := New(WithCacheDir(t.TempDir()))
	include := []*regexp.Regexp{regexp.MustCompile(`.*`)}

	res, err := l.Load([]string{dir}, include, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	require.Len(t, res.Rewritten, 1)
	assert.Len(t, res.Tagged, 1)

	cached, err := os.ReadFile(filepath.Join(l.cacheDir, res.Rewritten[0]))
	require.NoError(t, err)
	assert.Contains(t, string(cached), "apptrace.EnterBody")
	assert.Contains(t, string(cached), "apptrace.Dispatch")
}

func TestLoadExcludedFileIsTaggedNotRewritten(t *testing.T) {
	dir := writePkg(t, "vendor_like.go", `package app

func Do() { println("x") }
`)
	l := New(WithCacheDir(t.TempDir()))
	// The exclude pattern matches every file, so the file is tagged
	// (origin.Walk runs over every parsed file regardless) but never
	// handed to transform.Rewrite.
	exclude := []*regexp.Regexp{regexp.MustCompile(`.*`)}

	res, err := l.Load([]string{dir}, nil, exclude)
	require.NoError(t, err)
	assert.Empty(t, res.Rewritten)
	assert.Len(t, res.Tagged, 1)
}

func TestLoadSwallowsPerFileParseError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "good.go"), []byte("package app\n\nfunc Do() {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.go"), []byte("package app\n\nfunc ( {\n"), 0o644))

	l := New(WithCacheDir(t.TempDir()))
	include := []*regexp.Regexp{regexp.MustCompile(`.*`)}

	res, err := l.Load([]string{dir}, include, nil)
	require.NoError(t, err, "one bad file must never fail the whole load")
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].File, "bad.go")
	// good.go still got rewritten despite bad.go's parse failure.
	assert.Len(t, res.Rewritten, 1)
	assert.Contains(t, res.Rewritten[0], "good.go")
}

func TestLoadMissingDirectoryIsAPerPatternError(t *testing.T) {
	l := New(WithCacheDir(t.TempDir()))
	res, err := l.Load([]string{filepath.Join(t.TempDir(), "does-not-exist")}, nil, nil)
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
}

func TestWrapValueSkipsErrorMethod(t *testing.T) {
	fn := reflect.ValueOf(func() string { return "boom" })
	_, ok := WrapValue("Error", fn, func(reflect.Value, any, []any, string, int, string, bool) (any, error) {
		t.Fatal("dispatch must not be called for a skipped value")
		return nil, nil
	})
	assert.False(t, ok)
}

func TestWrapValueSkipsAccessorShaped(t *testing.T) {
	getter := reflect.ValueOf(func() int { return 42 })
	_, ok := WrapValue("GetCount", getter, func(reflect.Value, any, []any, string, int, string, bool) (any, error) {
		t.Fatal("dispatch must not be called for an accessor-shaped value")
		return nil, nil
	})
	assert.False(t, ok)
}

func TestWrapValueRoutesThroughDispatch(t *testing.T) {
	target := func(a, b int) (int, error) { return a + b, nil }
	fn := reflect.ValueOf(target)

	var gotUnawaited bool
	var gotLabel string
	wrapped, ok := WrapValue("Add", fn, func(_ reflect.Value, _ any, args []any, _ string, _ int, label string, unawaited bool) (any, error) {
		gotLabel = label
		gotUnawaited = unawaited
		a, b := args[0].(int), args[1].(int)
		return a + b, nil
	})
	require.True(t, ok)

	out := wrapped.Call([]reflect.Value{reflect.ValueOf(2), reflect.ValueOf(3)})
	require.Len(t, out, 2)
	assert.Equal(t, 5, out[0].Interface())
	assert.Nil(t, out[1].Interface())
	assert.Equal(t, "Add", gotLabel)
	assert.False(t, gotUnawaited, "a reflection-retrofit call is never marked unawaited")
}
