// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

// Package gormobserver is the one concrete collab.DBObserver wiring this
// module ships: a gorm.Plugin that times every query/create/update/delete
// and, once it finishes, both notifies a collab.DBObserver and drains the
// dispatcher's pending finalizer for that *gorm.DB (apptrace.FinalizeQuery),
// closing the deferred span Dispatch opened when the query builder was
// first returned (SPEC_FULL.md §4.4, §7).
package gormobserver

import (
	"time"

	"gorm.io/gorm"

	"github.com/apptrace-go/apptrace/apptrace"
	"github.com/apptrace-go/apptrace/collab"
)

const startedAtKey = "apptrace:started_at"

// Plugin implements gorm.Plugin, registering Before/After callbacks on
// every CRUD operation GORM exposes.
type Plugin struct {
	observer collab.DBObserver
}

// New returns a Plugin that reports finished queries to observer.
// observer may be nil: apptrace.FinalizeQuery still runs so the
// dispatcher's own deferred span closes even with no DBObserver wired.
func New(observer collab.DBObserver) *Plugin {
	return &Plugin{observer: observer}
}

// Name implements gorm.Plugin.
func (p *Plugin) Name() string { return "apptrace" }

// Initialize implements gorm.Plugin, registering this plugin's callbacks
// on db's callback chains for every CRUD operation.
func (p *Plugin) Initialize(db *gorm.DB) error {
	type op struct {
		chain func() *gorm.CallbackProcessor
		name  string
	}
	ops := []op{
		{db.Callback().Query, "query"},
		{db.Callback().Create, "create"},
		{db.Callback().Update, "update"},
		{db.Callback().Delete, "delete"},
		{db.Callback().Row, "row"},
		{db.Callback().Raw, "raw"},
	}
	for _, o := range ops {
		if err := o.chain().Before("gorm:"+o.name).Register("apptrace:before_"+o.name, p.before); err != nil {
			return err
		}
		if err := o.chain().After("gorm:"+o.name).Register("apptrace:after_"+o.name, p.after(o.name)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Plugin) before(db *gorm.DB) {
	db.Set(startedAtKey, time.Now())
}

func (p *Plugin) after(op string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		var dur time.Duration
		if v, ok := db.Get(startedAtKey); ok {
			if started, ok := v.(time.Time); ok {
				dur = time.Since(started)
			}
		}

		collection := ""
		if db.Statement != nil {
			if db.Statement.Schema != nil {
				collection = db.Statement.Schema.Table
			} else {
				collection = db.Statement.Table
			}
		}

		query := ""
		if db.Statement != nil && db.Statement.SQL.Len() > 0 {
			query = db.Dialector.Explain(db.Statement.SQL.String(), db.Statement.Vars...)
		}

		if p.observer != nil {
			resultMeta := map[string]any{"rowsAffected": db.RowsAffected}
			p.observer.EmitDBQuery(collection, op, query, resultMeta, dur)
		}

		apptrace.FinalizeQuery(db, db.Statement.Dest, db.Error)
	}
}
