// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

// Package middleware wires apptrace into an inbound HTTP request: it
// opens a Scope, captures everything the request's traced calls emit,
// and flushes the result to the ingestion API once the response has
// settled. Grounded on the teacher's own contrib pattern of wrapping
// http.Handler (see contrib/net/http) together with the StatusRecorder
// response-writer idiom other_examples/1face145_spothero-tools shows.
package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/apptrace-go/apptrace/apptrace"
	"github.com/apptrace-go/apptrace/config"
	"github.com/apptrace-go/apptrace/ext"
	"github.com/apptrace-go/apptrace/internal/assembler"
	"github.com/apptrace-go/apptrace/internal/log"
	"github.com/apptrace-go/apptrace/internal/sanitize"
	"github.com/apptrace-go/apptrace/internal/transport"
)

// maxCapturedBodyBytes bounds how much of a streamed response body
// middleware keeps around for the request entry's respBody field.
const maxCapturedBodyBytes = 64 * 1024

// Middleware wraps http.Handlers with apptrace collection, configured
// once at startup and reused across every request it wraps.
type Middleware struct {
	cfg    config.Config
	client *transport.Client
}

// New builds a Middleware from cfg, constructing the transport.Client it
// flushes through.
func New(cfg config.Config) *Middleware {
	return &Middleware{
		cfg: cfg,
		client: transport.New(transport.Config{
			Endpoint:  cfg.APIBase,
			AppID:     cfg.AppID,
			AppSecret: cfg.AppSecret,
			TenantID:  cfg.TenantID,
			AppName:   cfg.AppName,
		}),
	}
}

// Handle wraps next with apptrace collection. Requests missing either
// of the two trigger headers (X-Bug-Session-Id, X-Bug-Action-Id) pass
// through untouched — a bare reverse-proxy health check or an
// un-instrumented caller never pays any tracing cost.
func (m *Middleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.Header.Get(ext.HeaderSessionID)
		actionID := r.Header.Get(ext.HeaderActionID)
		if sessionID == "" || actionID == "" {
			next.ServeHTTP(w, r)
			return
		}

		requestStart := time.Now()
		scopeID, skew := scopeAndSkew(r, requestStart)

		ctx := apptrace.Open(r.Context(), scopeID)
		r = r.WithContext(ctx)

		cw := newCaptureWriter(w, maxCapturedBodyBytes)
		col := newCollector(scopeID, m.cfg)
		unsubscribe := apptrace.DefaultBus.Subscribe(col.Subscriber())

		var once sync.Once
		var idle, hard *time.Timer
		flush := func() {
			once.Do(func() {
				if idle != nil {
					idle.Stop()
				}
				if hard != nil {
					hard.Stop()
				}
				unsubscribe()
				m.flush(r, cw, requestStart, actionID, sessionID, col, skew)
			})
		}

		apptrace.RunInScope(ctx, func() {
			next.ServeHTTP(cw, r)
		})

		idle = time.AfterFunc(m.idleFlush(), flush)
		hard = time.AfterFunc(m.lingerAfterFinish(), flush)
		col.setOnActivity(func() { idle.Reset(m.idleFlush()) })
	})
}

func (m *Middleware) idleFlush() time.Duration {
	if m.cfg.IdleFlush > 0 {
		return m.cfg.IdleFlush
	}
	return time.Duration(ext.DefaultIdleFlushMs) * time.Millisecond
}

func (m *Middleware) lingerAfterFinish() time.Duration {
	if m.cfg.LingerAfterFinish > 0 {
		return m.cfg.LingerAfterFinish
	}
	return time.Duration(ext.DefaultLingerAfterFinishMs) * time.Millisecond
}

// scopeAndSkew derives the scope id and clock-skew offset from the
// optional X-Bug-Request-Start header: a millisecond client timestamp
// shared across hops so a request proxied through multiple instrumented
// services keeps one scope id end to end. Its absence falls back to a
// local wall-clock timestamp for the scope id, with zero skew.
func scopeAndSkew(r *http.Request, localStart time.Time) (scopeID string, skew time.Duration) {
	header := r.Header.Get(ext.HeaderRequestStart)
	if header == "" {
		return strconv.FormatInt(localStart.UnixMilli(), 10), 0
	}
	ms, err := strconv.ParseInt(header, 10, 64)
	if err != nil {
		return strconv.FormatInt(localStart.UnixMilli(), 10), 0
	}
	clientStart := time.UnixMilli(ms)
	return header, localStart.Sub(clientStart)
}

func (m *Middleware) flush(r *http.Request, cw *captureWriter, requestStart time.Time, actionID, sessionID string, col *collector, skew time.Duration) {
	events, entryPoint := col.snapshot()
	ctx := context.Background()

	if len(events) > 0 {
		batches := assembler.Assemble(col.scopeID, events, m.cfg.BatchSize)
		if err := m.client.Flush(ctx, sessionID, batches); err != nil {
			log.Error("middleware: flushing trace batches for scope %s: %v", col.scopeID, err)
		}
	}

	reqEntry := transport.RequestEntry{
		RID:        uuid.NewString(),
		Method:     r.Method,
		URL:        r.URL.String(),
		Path:       r.URL.Path,
		Status:     cw.StatusCode,
		DurMs:      time.Since(requestStart).Milliseconds(),
		Headers:    flattenHeader(r.Header),
		RespBody:   sanitize.Value(string(cw.body)),
		EntryPoint: entryPoint,
	}
	emittedAt := time.Now().Add(-skew).UnixMilli()
	entry := transport.NewRequestEntry(actionID, reqEntry, emittedAt)
	if err := m.client.SendRequestEntry(ctx, sessionID, entry); err != nil {
		log.Error("middleware: sending request entry for scope %s: %v", col.scopeID, err)
	}
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ", ")
	}
	return out
}
