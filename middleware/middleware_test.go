// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apptrace-go/apptrace/config"
	"github.com/apptrace-go/apptrace/ext"
)

func TestHandlePassesThroughWithoutTriggerHeaders(t *testing.T) {
	var called int32
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&called, 1)
		w.WriteHeader(http.StatusTeapot)
	})

	var ingested int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&ingested, 1)
	}))
	defer backend.Close()

	m := New(config.Config{APIBase: backend.URL, IdleFlush: 20 * time.Millisecond, LingerAfterFinish: 50 * time.Millisecond})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/widgets", nil)
	m.Handle(next).ServeHTTP(rec, req)

	assert.Equal(t, int32(1), atomic.LoadInt32(&called))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&ingested), "untagged request must never reach the ingestion backend")
}

func TestHandleFlushesRequestEntryForTaggedRequest(t *testing.T) {
	var gotEnvelope envelopeProbe
	done := make(chan struct{}, 1)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/sessions/sess-1/backend", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotEnvelope))
		w.WriteHeader(http.StatusAccepted)
		select {
		case done <- struct{}{}:
		default:
		}
	}))
	defer backend.Close()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("ok"))
	})

	m := New(config.Config{
		APIBase:           backend.URL,
		IdleFlush:         10 * time.Millisecond,
		LingerAfterFinish: 30 * time.Millisecond,
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/widgets", nil)
	req.Header.Set(ext.HeaderSessionID, "sess-1")
	req.Header.Set(ext.HeaderActionID, "action-1")
	m.Handle(next).ServeHTTP(rec, req)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for flush to reach the backend")
	}

	require.Len(t, gotEnvelope.Entries, 1)
	assert.Equal(t, "action-1", gotEnvelope.Entries[0].ActionID)
	require.NotNil(t, gotEnvelope.Entries[0].Request)
	assert.Equal(t, http.StatusCreated, gotEnvelope.Entries[0].Request.Status)
	assert.Equal(t, "POST", gotEnvelope.Entries[0].Request.Method)
}

func TestScopeAndSkewFallsBackToWallClockWithoutHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	start := time.Now()
	scopeID, skew := scopeAndSkew(req, start)
	assert.NotEmpty(t, scopeID)
	assert.Zero(t, skew)
}

func TestScopeAndSkewUsesRequestStartHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	clientStart := time.Now().Add(-5 * time.Second)
	req.Header.Set(ext.HeaderRequestStart, strconv.FormatInt(clientStart.UnixMilli(), 10))

	localStart := time.Now()
	scopeID, skew := scopeAndSkew(req, localStart)
	assert.Equal(t, strconv.FormatInt(clientStart.UnixMilli(), 10), scopeID)
	assert.InDelta(t, 5*time.Second, skew, float64(200*time.Millisecond))
}

type envelopeProbe struct {
	Entries []struct {
		ActionID string `json:"actionId"`
		Request  *struct {
			Method string `json:"method"`
			Status int    `json:"status"`
		} `json:"request"`
	} `json:"entries"`
}
