package vm

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindUndefined Kind = iota
	KindString
	KindNumber
	KindBool
	KindRecord
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindUndefined:
		return "undefined"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindRecord:
		return "record"
	case KindArray:
		return "array"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Value is a script value: a string, number, boolean, record, array, or
// undefined. The zero Value is undefined.
//
// Values are treated as immutable; Copy returns an independent deep copy
// for callers that need to hand a value to code that may retain it.
type Value struct {
	kind Kind
	s    string
	n    float64
	b    bool
	rec  map[string]Value
	arr  []Value
}

// Undefined is the undefined value.
var Undefined = Value{}

// Str returns a string value.
func Str(s string) Value { return Value{kind: KindString, s: s} }

// Num returns a number value.
func Num(n float64) Value { return Value{kind: KindNumber, n: n} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Record returns a record value holding a copy of fields.
func Record(fields map[string]Value) Value {
	m := make(map[string]Value, len(fields))
	for k, v := range fields {
		m[k] = v
	}
	return Value{kind: KindRecord, rec: m}
}

// Array returns an array value holding a copy of elems.
func Array(elems ...Value) Value {
	return Value{kind: KindArray, arr: append([]Value(nil), elems...)}
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Kind returns the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsUndefined reports whether v is the undefined value.
func (v Value) IsUndefined() bool { return v.kind == KindUndefined }

// String returns the display form of v. Integral numbers print without a
// fractional part and booleans print as 1 and 0.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindNumber:
		return formatNumber(v.n)
	case KindBool:
		if v.b {
			return "1"
		}
		return "0"
	case KindRecord:
		keys := v.Keys()
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + v.rec[k].String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case KindArray:
		parts := make([]string, len(v.arr))
		for i, e := range v.arr {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return ""
}

// Number returns the numeric interpretation of v. Strings are parsed after
// trimming surrounding blanks; booleans convert to 1 and 0.
func (v Value) Number() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.n, true
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	case KindString:
		s := strings.TrimSpace(v.s)
		if s == "" {
			return 0, false
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// Truth returns the logical interpretation of v. Only booleans, 0 and 1
// (as numbers or strings) and the words true and false are logical values.
func (v Value) Truth() (bool, bool) {
	switch v.kind {
	case KindBool:
		return v.b, true
	case KindNumber:
		switch v.n {
		case 0:
			return false, true
		case 1:
			return true, true
		}
		return false, false
	case KindString:
		switch strings.ToLower(strings.TrimSpace(v.s)) {
		case "1", "true":
			return true, true
		case "0", "false":
			return false, true
		}
	}
	return false, false
}

// Field returns a record field.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != KindRecord {
		return Undefined, false
	}
	f, ok := v.rec[name]
	return f, ok
}

// Keys returns the record field names in sorted order.
func (v Value) Keys() []string {
	keys := make([]string, 0, len(v.rec))
	for k := range v.rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Index returns the 1-based array element at i.
func (v Value) Index(i int) (Value, bool) {
	if v.kind != KindArray || i < 1 || i > len(v.arr) {
		return Undefined, false
	}
	return v.arr[i-1], true
}

// Len returns the number of array elements or record fields.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.arr)
	case KindRecord:
		return len(v.rec)
	}
	return 0
}

// Elems returns a copy of the array elements.
func (v Value) Elems() []Value {
	return append([]Value(nil), v.arr...)
}

// Copy returns a deep copy of v.
func (v Value) Copy() Value {
	switch v.kind {
	case KindRecord:
		m := make(map[string]Value, len(v.rec))
		for k, f := range v.rec {
			m[k] = f.Copy()
		}
		return Value{kind: KindRecord, rec: m}
	case KindArray:
		elems := make([]Value, len(v.arr))
		for i, e := range v.arr {
			elems[i] = e.Copy()
		}
		return Value{kind: KindArray, arr: elems}
	}
	return v
}

// Equal reports whether a and b hold the same variant and contents.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindUndefined:
		return true
	case KindString:
		return v.s == o.s
	case KindNumber:
		return v.n == o.n
	case KindBool:
		return v.b == o.b
	case KindRecord:
		if len(v.rec) != len(o.rec) {
			return false
		}
		for k, f := range v.rec {
			g, ok := o.rec[k]
			if !ok || !f.Equal(g) {
				return false
			}
		}
		return true
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Go conversion
// ---------------------------------------------------------------------------

// Interface converts v to plain Go data: string, float64, bool,
// map[string]interface{}, []interface{} or nil.
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindString:
		return v.s
	case KindNumber:
		return v.n
	case KindBool:
		return v.b
	case KindRecord:
		m := make(map[string]interface{}, len(v.rec))
		for k, f := range v.rec {
			m[k] = f.Interface()
		}
		return m
	case KindArray:
		out := make([]interface{}, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.Interface()
		}
		return out
	}
	return nil
}

// FromGo converts plain Go data to a Value. Unknown types are converted
// through their fmt representation.
func FromGo(x interface{}) Value {
	switch t := x.(type) {
	case nil:
		return Undefined
	case Value:
		return t
	case string:
		return Str(t)
	case []byte:
		return Str(string(t))
	case bool:
		return Bool(t)
	case float64:
		return Num(t)
	case float32:
		return Num(float64(t))
	case int:
		return Num(float64(t))
	case int32:
		return Num(float64(t))
	case int64:
		return Num(float64(t))
	case uint32:
		return Num(float64(t))
	case uint64:
		return Num(float64(t))
	case map[string]interface{}:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			m[k] = FromGo(e)
		}
		return Value{kind: KindRecord, rec: m}
	case map[string]Value:
		return Record(t)
	case []interface{}:
		elems := make([]Value, len(t))
		for i, e := range t {
			elems[i] = FromGo(e)
		}
		return Value{kind: KindArray, arr: elems}
	case []Value:
		return Array(t...)
	case []string:
		elems := make([]Value, len(t))
		for i, e := range t {
			elems[i] = Str(e)
		}
		return Value{kind: KindArray, arr: elems}
	case fmt.Stringer:
		return Str(t.String())
	}
	return Str(fmt.Sprint(x))
}

func formatNumber(n float64) string {
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}
