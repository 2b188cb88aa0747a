package vm

import (
	"sync"
	"time"

	"github.com/edwingeng/deque"
)

// TraceType is the kind of a trace event.
type TraceType string

const (
	TraceInstruction TraceType = "instruction"
	TraceCall        TraceType = "call"
	TraceReturn      TraceType = "return"
	TraceAssignment  TraceType = "assignment"
	TraceFunction    TraceType = "function"
	TraceOutput      TraceType = "output"
	TraceAddress     TraceType = "address"
	TraceMode        TraceType = "mode"
)

// DefaultTraceCapacity bounds the trace buffer unless configured otherwise.
const DefaultTraceCapacity = 1000

// TraceEntry is one recorded event. Result is set only for events that
// carry a value.
type TraceEntry struct {
	Timestamp time.Time
	Mode      string
	Type      TraceType
	Message   string
	Line      int
	Result    *string
}

// Tracer records events filtered by the current trace mode into a bounded
// ring buffer; once full, the oldest entry is dropped.
type Tracer struct {
	mu       sync.Mutex
	mode     string
	capacity int
	buf      deque.Deque
}

// NewTracer returns a tracer in the given mode. A non-positive capacity
// selects DefaultTraceCapacity.
func NewTracer(mode string, capacity int) *Tracer {
	if mode == "" {
		mode = "OFF"
	}
	if capacity <= 0 {
		capacity = DefaultTraceCapacity
	}
	return &Tracer{mode: mode, capacity: capacity, buf: deque.NewDeque()}
}

// Mode returns the current mode.
func (t *Tracer) Mode() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mode
}

// SetMode switches modes. The switch itself is recorded first, so a move
// into OFF is still visible in the buffer.
func (t *Tracer) SetMode(mode string, line int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.push(TraceEntry{
		Timestamp: time.Now(),
		Mode:      t.mode,
		Type:      TraceMode,
		Message:   "TRACE " + mode,
		Line:      line,
	})
	t.mode = mode
}

// Record appends an event if the current mode retains its type.
func (t *Tracer) Record(typ TraceType, message string, line int, result *Value) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !retains(t.mode, typ, result != nil) {
		return
	}
	e := TraceEntry{
		Timestamp: time.Now(),
		Mode:      t.mode,
		Type:      typ,
		Message:   message,
		Line:      line,
	}
	if result != nil {
		s := result.String()
		e.Result = &s
	}
	t.push(e)
}

// Enabled reports whether an event of typ would be recorded. Callers use
// it to skip formatting work.
func (t *Tracer) Enabled(typ TraceType, hasResult bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return retains(t.mode, typ, hasResult)
}

func (t *Tracer) push(e TraceEntry) {
	for t.buf.Len() >= t.capacity {
		t.buf.PopFront()
	}
	t.buf.PushBack(e)
}

// Entries returns the buffered events, oldest first.
func (t *Tracer) Entries() []TraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.buf.Len()
	out := make([]TraceEntry, 0, n)
	for j := 0; j < n; j++ {
		e := t.buf.PopFront().(TraceEntry)
		out = append(out, e)
		t.buf.PushBack(e)
	}
	return out
}

// Len returns the number of buffered events.
func (t *Tracer) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.Len()
}

// Capacity returns the buffer bound.
func (t *Tracer) Capacity() int { return t.capacity }

// Clear empties the buffer.
func (t *Tracer) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for !t.buf.Empty() {
		t.buf.PopFront()
	}
}

// retains implements the per-mode filters. Mode events always pass.
func retains(mode string, typ TraceType, hasResult bool) bool {
	if typ == TraceMode {
		return true
	}
	switch mode {
	case "N":
		return typ == TraceInstruction || typ == TraceCall
	case "I":
		return typ == TraceAssignment || typ == TraceFunction || typ == TraceCall
	case "R":
		return typ == TraceAssignment || typ == TraceFunction || hasResult
	case "A":
		return true
	}
	return false
}
