// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

package apptrace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScopeFromContextReturnsNilWhenUnset(t *testing.T) {
	assert.Nil(t, ScopeFromContext(context.Background()))
}

func TestOpenInstallsRetrievableScope(t *testing.T) {
	ctx := Open(context.Background(), "req-1")
	scope := ScopeFromContext(ctx)
	if assert.NotNil(t, scope) {
		assert.Equal(t, "req-1", scope.ID())
	}
}

func TestRunInScopeInstallsAmbientScopeForDuration(t *testing.T) {
	ctx := Open(context.Background(), "req-2")
	assert.Nil(t, currentScope())
	var sawScope *Scope
	RunInScope(ctx, func() {
		sawScope = currentScope()
	})
	assert.Same(t, ScopeFromContext(ctx), sawScope)
	assert.Nil(t, currentScope())
}

func TestRunInScopeWithNoScopeRunsUnchanged(t *testing.T) {
	ran := false
	RunInScope(context.Background(), func() { ran = true })
	assert.True(t, ran)
}
