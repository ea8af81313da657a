// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg := Load()
	assert.True(t, cfg.Instrument)
	assert.Equal(t, ModeTrace, cfg.Mode)
	assert.Equal(t, 200*time.Millisecond, cfg.IdleFlush)
	assert.Equal(t, 2000*time.Millisecond, cfg.LingerAfterFinish)
	assert.Equal(t, 100, cfg.BatchSize)
}

func TestLoadReadsEnvOverrides(t *testing.T) {
	t.Setenv("TRACE_MODE", "profile")
	t.Setenv("TRACE_IDLE_FLUSH_MS", "50")
	t.Setenv("TRACE_LINGER_AFTER_FINISH_MS", "500")

	cfg := Load()
	assert.Equal(t, ModeProfile, cfg.Mode)
	assert.Equal(t, 50*time.Millisecond, cfg.IdleFlush)
	assert.Equal(t, 500*time.Millisecond, cfg.LingerAfterFinish)
}

func TestOptionsOverrideEnv(t *testing.T) {
	t.Setenv("TRACE_MODE", "profile")

	cfg := Load(WithMode(ModeTrace), WithInclude("app/**"), WithIngestion("https://api.example.com", "app", "secret", "tenant", "myapp"))
	assert.Equal(t, ModeTrace, cfg.Mode)
	assert.Equal(t, []string{"app/**"}, cfg.Include)
	assert.Equal(t, "https://api.example.com", cfg.APIBase)
	assert.Equal(t, "myapp", cfg.AppName)
}

func TestWithControllerPathPrefix(t *testing.T) {
	cfg := Load(WithControllerPathPrefix("app/controllers/"))
	assert.Equal(t, "app/controllers/", cfg.ControllerPathPrefix)
}
