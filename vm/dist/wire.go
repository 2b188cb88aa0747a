package dist

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/rexx/vm"
)

// cborEncMode uses canonical mode for deterministic encoding.
var cborEncMode cbor.EncMode

func init() {
	opts := cbor.CanonicalEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("dist: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalSnapshot serializes a Snapshot to CBOR bytes.
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// UnmarshalSnapshot deserializes a Snapshot from CBOR bytes.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("dist: unmarshal snapshot: %w", err)
	}
	return &s, nil
}

// MarshalTrace serializes trace entries to CBOR bytes.
func MarshalTrace(entries []vm.TraceEntry) ([]byte, error) {
	return cborEncMode.Marshal(FromTrace(entries))
}

// UnmarshalTrace deserializes trace entries from CBOR bytes.
func UnmarshalTrace(data []byte) ([]TraceEntry, error) {
	var entries []TraceEntry
	if err := cbor.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("dist: unmarshal trace: %w", err)
	}
	return entries, nil
}

// Capture builds a Snapshot of an interpreter after a run. runErr is the
// error Run returned, if any; its frame chain is included.
func Capture(in *vm.Interpreter, result vm.Value, runErr error) *Snapshot {
	s := &Snapshot{
		Filename:  in.Filename(),
		Result:    FromValue(result),
		Vars:      make(map[string]Value, in.Vars().Len()),
		TraceMode: in.Tracer().Mode(),
		Trace:     FromTrace(in.Tracer().Entries()),
	}
	for name, v := range in.Vars().Snapshot() {
		s.Vars[name] = FromValue(v)
	}
	if runErr != nil {
		s.Error = runErr.Error()
		s.ErrorKind = vm.ErrorKind(runErr)
		var ex *vm.ExecutionError
		if errors.As(runErr, &ex) {
			s.Frames = FromFrames(ex.Frames)
		}
	}
	return s
}

// Restore binds the snapshot's variables into vars.
func (s *Snapshot) Restore(vars *vm.Variables) {
	for name, v := range s.Vars {
		vars.Set(name, v.ToValue())
	}
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

// FromValue converts a script value to its wire form.
func FromValue(v vm.Value) Value {
	switch v.Kind() {
	case vm.KindString:
		return Value{Kind: ValueString, Str: v.String()}
	case vm.KindNumber:
		n, _ := v.Number()
		return Value{Kind: ValueNumber, Num: n}
	case vm.KindBool:
		b, _ := v.Truth()
		return Value{Kind: ValueBool, Bool: b}
	case vm.KindRecord:
		w := Value{Kind: ValueRecord, Fields: make(map[string]Value, v.Len())}
		for _, k := range v.Keys() {
			f, _ := v.Field(k)
			w.Fields[k] = FromValue(f)
		}
		return w
	case vm.KindArray:
		w := Value{Kind: ValueArray}
		for _, e := range v.Elems() {
			w.Elems = append(w.Elems, FromValue(e))
		}
		return w
	}
	return Value{Kind: ValueUndefined}
}

// ToValue converts a wire value back to a script value.
func (w Value) ToValue() vm.Value {
	switch w.Kind {
	case ValueString:
		return vm.Str(w.Str)
	case ValueNumber:
		return vm.Num(w.Num)
	case ValueBool:
		return vm.Bool(w.Bool)
	case ValueRecord:
		m := make(map[string]vm.Value, len(w.Fields))
		for k, f := range w.Fields {
			m[k] = f.ToValue()
		}
		return vm.Record(m)
	case ValueArray:
		elems := make([]vm.Value, len(w.Elems))
		for k, e := range w.Elems {
			elems[k] = e.ToValue()
		}
		return vm.Array(elems...)
	}
	return vm.Undefined
}

// FromTrace converts trace entries to their wire form.
func FromTrace(entries []vm.TraceEntry) []TraceEntry {
	out := make([]TraceEntry, len(entries))
	for k, e := range entries {
		out[k] = TraceEntry{
			Timestamp: e.Timestamp,
			Mode:      e.Mode,
			Type:      string(e.Type),
			Message:   e.Message,
			Line:      e.Line,
			Result:    e.Result,
		}
	}
	return out
}

// FromFrames converts context frames to their wire form.
func FromFrames(frames []vm.Frame) []Frame {
	out := make([]Frame, len(frames))
	for k, f := range frames {
		out[k] = Frame{
			Kind:     f.Kind.String(),
			Line:     f.Line,
			Source:   f.Source,
			Filename: f.Filename,
			Details:  f.Details,
		}
	}
	return out
}
