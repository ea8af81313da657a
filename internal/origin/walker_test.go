// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

package origin

import (
	"go/ast"
	"go/parser"
	"go/token"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const walkerFixture = `package sample

type Account struct{ name string }

func (a *Account) Name() string { return a.name }

func (a *Account) SetName(n string) { a.name = n }

func Handler(w int) int {
	return w + 1
}
`

func TestWalkTagsFunctionsAndMethods(t *testing.T) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "app/sample.go", walkerFixture, 0)
	require.NoError(t, err)

	patterns := PatternSet{Include: CompilePatterns([]string{`^app/`})}
	Walk("example.com/app", fset, []*ast.File{f}, patterns, func(file string) bool { return true })

	handler, ok := Lookup("example.com/app.Handler")
	require.True(t, ok)
	assert.True(t, handler.IsApp)
	assert.True(t, handler.BodyTraced)
	assert.False(t, handler.SkipWrap)

	getter, ok := Lookup("example.com/app.(*Account).Name")
	require.True(t, ok)
	assert.True(t, getter.SkipWrap, "a single-statement getter is a SkipWrap candidate")

	setter, ok := Lookup("example.com/app.(*Account).SetName")
	require.True(t, ok)
	assert.True(t, setter.SkipWrap)
}
