// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

// Package config holds the SDK's runtime configuration: source
// rewriting knobs, origin-tagging patterns, and the ingestion endpoint
// apptrace flushes to. Grounded on the teacher's own functional-option
// idiom (contrib/aws/aws-sdk-go-v2/aws.Option/OptionFn) layered on top of
// env-var defaults, since the teacher's tracer.Start itself takes
// StartOption values the same way.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/apptrace-go/apptrace/ext"
)

// Mode selects what the instrumentation does beyond tracing.
type Mode int

const (
	ModeTrace Mode = iota
	ModeProfile
)

// Config is the fully-resolved configuration consumed by internal/loader,
// internal/bus, and middleware.
type Config struct {
	Instrument bool

	Include []string
	Exclude []string

	ParserPlugins []string

	Mode       Mode
	SamplingMs int

	WrapGettersSetters bool
	SkipAnonymous      bool

	AllowFns []string

	DisableFunctionTraces []string
	DisableFunctionTypes  []string
	DisableTraceFiles     []string

	LogFunctionCalls  bool
	TraceInterceptors bool

	APIBase   string
	AppID     string
	AppSecret string
	TenantID  string
	AppName   string

	IdleFlush            time.Duration
	LingerAfterFinish    time.Duration
	BatchSize            int
	Quiet                bool
	DebugUnawaited       bool
	ControllerPathPrefix string
}

// Option mutates a Config being built by Load.
type Option interface {
	apply(*Config)
}

// OptionFn adapts a plain func(*Config) into an Option.
type OptionFn func(*Config)

func (fn OptionFn) apply(cfg *Config) { fn(cfg) }

// WithInclude sets the include-pattern allowlist for origin tagging.
func WithInclude(patterns ...string) OptionFn {
	return func(cfg *Config) { cfg.Include = patterns }
}

// WithExclude sets the exclude-pattern denylist for origin tagging.
func WithExclude(patterns ...string) OptionFn {
	return func(cfg *Config) { cfg.Exclude = patterns }
}

// WithMode selects ModeTrace or ModeProfile.
func WithMode(m Mode) OptionFn {
	return func(cfg *Config) { cfg.Mode = m }
}

// WithIngestion sets the ingestion endpoint and its auth headers.
func WithIngestion(apiBase, appID, appSecret, tenantID, appName string) OptionFn {
	return func(cfg *Config) {
		cfg.APIBase = apiBase
		cfg.AppID = appID
		cfg.AppSecret = appSecret
		cfg.TenantID = tenantID
		cfg.AppName = appName
	}
}

// WithControllerPathPrefix sets the path prefix used to identify the
// "entry point" frame in middleware (§4.7).
func WithControllerPathPrefix(prefix string) OptionFn {
	return func(cfg *Config) { cfg.ControllerPathPrefix = prefix }
}

func defaults() Config {
	return Config{
		Instrument:        true,
		Mode:              ModeTrace,
		IdleFlush:         time.Duration(ext.DefaultIdleFlushMs) * time.Millisecond,
		LingerAfterFinish: time.Duration(ext.DefaultLingerAfterFinishMs) * time.Millisecond,
		BatchSize:         ext.DefaultBatchSize,
		Quiet:             os.Getenv("TRACE_QUIET") != "",
		DebugUnawaited:    os.Getenv("TRACE_DEBUG_UNAWAITED") != "",
	}
}

// Load builds a Config from env vars (TRACE_MODE, TRACE_QUIET,
// TRACE_DEBUG_UNAWAITED, TRACE_LINGER_AFTER_FINISH_MS,
// TRACE_IDLE_FLUSH_MS, per SPEC_FULL.md §6), then applies opts on top so
// explicit overrides always win over env defaults — the same precedence
// the teacher's StartOption values have over ddtrace's own env-derived
// defaults.
func Load(opts ...Option) Config {
	cfg := defaults()

	if v := os.Getenv("TRACE_MODE"); v == "profile" {
		cfg.Mode = ModeProfile
	}
	if v := os.Getenv("TRACE_IDLE_FLUSH_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.IdleFlush = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("TRACE_LINGER_AFTER_FINISH_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.LingerAfterFinish = time.Duration(ms) * time.Millisecond
		}
	}

	for _, o := range opts {
		o.apply(&cfg)
	}
	return cfg
}
