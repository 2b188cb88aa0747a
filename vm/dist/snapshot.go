// Package dist implements the wire encoding of interpreter state. Trace
// buffers, variable environments and context frame chains are exchanged
// as canonical CBOR so that two encodings of the same state are
// byte-identical.
package dist

import (
	"time"
)

// ValueKind mirrors vm.Kind on the wire.
type ValueKind uint8

const (
	ValueUndefined ValueKind = 0
	ValueString    ValueKind = 1
	ValueNumber    ValueKind = 2
	ValueBool      ValueKind = 3
	ValueRecord    ValueKind = 4
	ValueArray     ValueKind = 5
)

// Value is the wire form of a script value.
type Value struct {
	Kind   ValueKind        `cbor:"1,keyasint"`
	Str    string           `cbor:"2,keyasint,omitempty"`
	Num    float64          `cbor:"3,keyasint,omitempty"`
	Bool   bool             `cbor:"4,keyasint,omitempty"`
	Fields map[string]Value `cbor:"5,keyasint,omitempty"`
	Elems  []Value          `cbor:"6,keyasint,omitempty"`
}

// TraceEntry is the wire form of one trace event.
type TraceEntry struct {
	Timestamp time.Time `cbor:"1,keyasint"`
	Mode      string    `cbor:"2,keyasint"`
	Type      string    `cbor:"3,keyasint"`
	Message   string    `cbor:"4,keyasint"`
	Line      int       `cbor:"5,keyasint,omitempty"`
	Result    *string   `cbor:"6,keyasint,omitempty"`
}

// Frame is the wire form of a context frame.
type Frame struct {
	Kind     string            `cbor:"1,keyasint"`
	Line     int               `cbor:"2,keyasint"`
	Source   string            `cbor:"3,keyasint,omitempty"`
	Filename string            `cbor:"4,keyasint,omitempty"`
	Details  map[string]string `cbor:"5,keyasint,omitempty"`
}

// Snapshot captures an interpreter's observable state after a run.
type Snapshot struct {
	Filename  string           `cbor:"1,keyasint,omitempty"`
	Result    Value            `cbor:"2,keyasint"`
	Vars      map[string]Value `cbor:"3,keyasint"`
	TraceMode string           `cbor:"4,keyasint"`
	Trace     []TraceEntry     `cbor:"5,keyasint,omitempty"`
	Frames    []Frame          `cbor:"6,keyasint,omitempty"` // set when the run failed
	Error     string           `cbor:"7,keyasint,omitempty"`
	ErrorKind string           `cbor:"8,keyasint,omitempty"`
}
