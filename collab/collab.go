// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

// Package collab declares the contract hooks the core never implements
// itself: an ORM integration and a mail-provider patch both notify
// apptrace through these interfaces rather than apptrace reaching into
// either dependency directly. Out of scope per SPEC_FULL.md §1; specified
// here only as interfaces, with collab/gormobserver providing the one
// concrete implementation this module ships.
package collab

import "time"

// DBObserver is implemented by an ORM integration (collab/gormobserver
// is the one this module ships). apptrace never executes a query
// itself; EmitDBQuery reports a finished query's collection, operation,
// shape, and duration to the observer. The dispatcher's pending
// finalizer is resolved separately, through apptrace.FinalizeQuery.
type DBObserver interface {
	EmitDBQuery(collection, op string, query any, resultMeta any, dur time.Duration)
}

// EmailMeta is the sanitized snapshot of an outbound email a mail
// provider patch reports.
type EmailMeta struct {
	To      []string
	From    string
	Subject string
	Body    any
}

// EmailObserver is implemented by a mail-provider patch. No concrete
// implementation ships with this module — the spec lists it only to
// fix the shape a future patch must satisfy.
type EmailObserver interface {
	EmitEmail(msg EmailMeta)
}
