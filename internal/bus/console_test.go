// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

package bus

import (
	"bytes"
	"strings"
	"testing"

	"github.com/apptrace-go/apptrace/ext"
	"github.com/stretchr/testify/assert"
)

func TestConsoleLoggerCoalescesRepeats(t *testing.T) {
	var buf bytes.Buffer
	logger := NewConsoleLogger(&buf)
	sub := logger.Subscriber()

	for i := 0; i < 3; i++ {
		sub(Event{Name: "tick", File: "app/loop.go", Line: 10, Phase: ext.PhaseEnter, Depth: 1, SpanID: uint64(i + 1)})
	}
	logger.Close()

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "tick"))
	assert.Contains(t, out, "×3")
}

func TestConsoleLoggerMutesNestedDependencyFrames(t *testing.T) {
	var buf bytes.Buffer
	logger := NewConsoleLogger(&buf)
	sub := logger.Subscriber()

	sub(Event{Name: "Handler", File: "app/handler.go", Phase: ext.PhaseEnter, Depth: 1, SpanID: 1})
	sub(Event{Name: "Query", File: "/pkg/mod/gorm.io/gorm@v1/db.go", Phase: ext.PhaseEnter, Depth: 2, SpanID: 2})
	sub(Event{Name: "scanRow", File: "/pkg/mod/gorm.io/gorm@v1/scan.go", Phase: ext.PhaseEnter, Depth: 3, SpanID: 3})
	sub(Event{Name: "scanRow", File: "/pkg/mod/gorm.io/gorm@v1/scan.go", Phase: ext.PhaseExit, Depth: 3, SpanID: 3})
	sub(Event{Name: "Query", File: "/pkg/mod/gorm.io/gorm@v1/db.go", Phase: ext.PhaseExit, Depth: 2, SpanID: 2})
	sub(Event{Name: "Handler", File: "app/handler.go", Phase: ext.PhaseExit, Depth: 1, SpanID: 1})
	logger.Close()

	out := buf.String()
	assert.Contains(t, out, "Handler")
	assert.Contains(t, out, "Query")
	assert.NotContains(t, out, "scanRow")
}
