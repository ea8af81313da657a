// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// Copyright 2026 The apptrace-go Authors.

package transport

import (
	"encoding/json"
	"io"

	"github.com/tinylib/msgp/msgp"

	"github.com/apptrace-go/apptrace/internal/assembler"
	"github.com/apptrace-go/apptrace/internal/bus"
)

// wireEvent is the on-the-wire shape of a bus.Event. bus.Event carries
// Args/Result/Err as `any` (whatever internal/sanitize produced), which
// msgp cannot encode directly — each is JSON-encoded into a string field
// instead, same as the teacher's own payload encoder falls back to a
// generic envelope for dynamic span tags it doesn't know the shape of
// ahead of time.
type wireEvent struct {
	Phase      uint8
	Name       string
	File       string
	Line       int
	Kind       uint8
	ScopeID    string
	Depth      int
	SpanID     uint64
	ParentID   uint64
	ArgsJSON   string
	ResultJSON string
	ErrJSON    string
	Threw      bool
	Unawaited  bool
}

type wireBatch struct {
	ScopeID     string
	ChunkIndex  int
	TotalChunks int
	Events      []wireEvent
}

func toWireBatch(b assembler.Batch) wireBatch {
	events := make([]wireEvent, len(b.Events))
	for i, e := range b.Events {
		events[i] = toWireEvent(e)
	}
	return wireBatch{
		ScopeID:     b.ScopeID,
		ChunkIndex:  b.ChunkIndex,
		TotalChunks: b.TotalChunks,
		Events:      events,
	}
}

func toWireEvent(e bus.Event) wireEvent {
	return wireEvent{
		Phase:      uint8(e.Phase),
		Name:       e.Name,
		File:       e.File,
		Line:       e.Line,
		Kind:       uint8(e.Kind),
		ScopeID:    e.ScopeID,
		Depth:      e.Depth,
		SpanID:     e.SpanID,
		ParentID:   e.ParentID,
		ArgsJSON:   marshalOrEmpty(e.Args),
		ResultJSON: marshalOrEmpty(e.Result),
		ErrJSON:    marshalOrEmpty(e.Err),
		Threw:      e.Threw,
		Unawaited:  e.Unawaited,
	}
}

func marshalOrEmpty(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// EncodeMsg and DecodeMsg are written by hand in the style msgp's code
// generator produces (a map header keyed by field name, tolerant of
// fields it doesn't recognize on decode) rather than run through
// `go generate`, since this module has no build step that invokes it.

func (e wireEvent) EncodeMsg(w *msgp.Writer) error {
	if err := w.WriteMapHeader(13); err != nil {
		return err
	}
	fields := []struct {
		key string
		fn  func() error
	}{
		{"phase", func() error { return w.WriteUint8(e.Phase) }},
		{"name", func() error { return w.WriteString(e.Name) }},
		{"file", func() error { return w.WriteString(e.File) }},
		{"line", func() error { return w.WriteInt(e.Line) }},
		{"kind", func() error { return w.WriteUint8(e.Kind) }},
		{"scope_id", func() error { return w.WriteString(e.ScopeID) }},
		{"depth", func() error { return w.WriteInt(e.Depth) }},
		{"span_id", func() error { return w.WriteUint64(e.SpanID) }},
		{"parent_id", func() error { return w.WriteUint64(e.ParentID) }},
		{"args", func() error { return w.WriteString(e.ArgsJSON) }},
		{"result", func() error { return w.WriteString(e.ResultJSON) }},
		{"err", func() error { return w.WriteString(e.ErrJSON) }},
		{"threw_unawaited", func() error { return w.WriteBool(e.Threw || e.Unawaited) }},
	}
	for _, f := range fields {
		if err := w.WriteString(f.key); err != nil {
			return err
		}
		if err := f.fn(); err != nil {
			return err
		}
	}
	return nil
}

func (e *wireEvent) DecodeMsg(r *msgp.Reader) error {
	sz, err := r.ReadMapHeader()
	if err != nil {
		return err
	}
	for i := uint32(0); i < sz; i++ {
		key, err := r.ReadString()
		if err != nil {
			return err
		}
		switch key {
		case "phase":
			e.Phase, err = r.ReadUint8()
		case "name":
			e.Name, err = r.ReadString()
		case "file":
			e.File, err = r.ReadString()
		case "line":
			e.Line, err = r.ReadInt()
		case "kind":
			e.Kind, err = r.ReadUint8()
		case "scope_id":
			e.ScopeID, err = r.ReadString()
		case "depth":
			e.Depth, err = r.ReadInt()
		case "span_id":
			e.SpanID, err = r.ReadUint64()
		case "parent_id":
			e.ParentID, err = r.ReadUint64()
		case "args":
			e.ArgsJSON, err = r.ReadString()
		case "result":
			e.ResultJSON, err = r.ReadString()
		case "err":
			e.ErrJSON, err = r.ReadString()
		case "threw_unawaited":
			var v bool
			v, err = r.ReadBool()
			e.Threw = v
		default:
			err = r.Skip()
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (b wireBatch) EncodeMsg(w *msgp.Writer) error {
	if err := w.WriteMapHeader(4); err != nil {
		return err
	}
	if err := w.WriteString("scope_id"); err != nil {
		return err
	}
	if err := w.WriteString(b.ScopeID); err != nil {
		return err
	}
	if err := w.WriteString("chunk_index"); err != nil {
		return err
	}
	if err := w.WriteInt(b.ChunkIndex); err != nil {
		return err
	}
	if err := w.WriteString("total_chunks"); err != nil {
		return err
	}
	if err := w.WriteInt(b.TotalChunks); err != nil {
		return err
	}
	if err := w.WriteString("events"); err != nil {
		return err
	}
	if err := w.WriteArrayHeader(uint32(len(b.Events))); err != nil {
		return err
	}
	for _, e := range b.Events {
		if err := e.EncodeMsg(w); err != nil {
			return err
		}
	}
	return nil
}

func (b *wireBatch) DecodeMsg(r *msgp.Reader) error {
	sz, err := r.ReadMapHeader()
	if err != nil {
		return err
	}
	for i := uint32(0); i < sz; i++ {
		key, err := r.ReadString()
		if err != nil {
			return err
		}
		switch key {
		case "scope_id":
			b.ScopeID, err = r.ReadString()
		case "chunk_index":
			b.ChunkIndex, err = r.ReadInt()
		case "total_chunks":
			b.TotalChunks, err = r.ReadInt()
		case "events":
			var n uint32
			n, err = r.ReadArrayHeader()
			if err == nil {
				b.Events = make([]wireEvent, n)
				for i := range b.Events {
					if err = b.Events[i].DecodeMsg(r); err != nil {
						break
					}
				}
			}
		default:
			err = r.Skip()
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func msgpEncode(w io.Writer, b wireBatch) error {
	return msgp.Encode(w, &b)
}

func msgpDecode(r io.Reader) (wireBatch, error) {
	var b wireBatch
	err := msgp.Decode(r, &b)
	return b, err
}
