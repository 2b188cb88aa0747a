package vm

import (
	"time"
)

// FrameKind identifies the scope a context frame represents.
type FrameKind int

const (
	FrameMain FrameKind = iota
	FrameInterpret
	FrameSubroutine
)

func (k FrameKind) String() string {
	switch k {
	case FrameMain:
		return "main"
	case FrameInterpret:
		return "interpret"
	case FrameSubroutine:
		return "subroutine"
	}
	return "unknown"
}

// Frame is one entry of the execution context stack. Line and Source track
// the command most recently started in the frame.
type Frame struct {
	Kind      FrameKind
	Line      int
	Source    string
	Filename  string
	Details   map[string]string
	CreatedAt time.Time
}

// ---------------------------------------------------------------------------
// ContextStack
// ---------------------------------------------------------------------------

// ContextStack is the LIFO stack of execution context frames. The base
// frame is always a Main frame and is never popped. Frames are left in
// place when an error propagates so the failure can be rendered with its
// full chain.
type ContextStack struct {
	frames []*Frame
}

// NewContextStack returns a stack holding only the Main frame.
func NewContextStack(filename string) *ContextStack {
	return &ContextStack{
		frames: []*Frame{{Kind: FrameMain, Filename: filename, CreatedAt: time.Now()}},
	}
}

// Push adds a frame and returns it.
func (s *ContextStack) Push(kind FrameKind, line int, source, filename string, details map[string]string) *Frame {
	if details == nil {
		details = map[string]string{}
	}
	f := &Frame{
		Kind:      kind,
		Line:      line,
		Source:    source,
		Filename:  filename,
		Details:   details,
		CreatedAt: time.Now(),
	}
	s.frames = append(s.frames, f)
	return f
}

// Pop removes and returns the top frame. The Main frame stays; popping it
// returns nil.
func (s *ContextStack) Pop() *Frame {
	if len(s.frames) <= 1 {
		return nil
	}
	f := s.frames[len(s.frames)-1]
	s.frames[len(s.frames)-1] = nil
	s.frames = s.frames[:len(s.frames)-1]
	return f
}

// Current returns the top frame.
func (s *ContextStack) Current() *Frame {
	return s.frames[len(s.frames)-1]
}

// MostRecentOfKind returns the topmost frame of the given kind, or nil.
func (s *ContextStack) MostRecentOfKind(kind FrameKind) *Frame {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if s.frames[i].Kind == kind {
			return s.frames[i]
		}
	}
	return nil
}

// Depth returns the number of frames including Main.
func (s *ContextStack) Depth() int {
	return len(s.frames)
}

// Frames returns a copy of the frames, base first.
func (s *ContextStack) Frames() []Frame {
	out := make([]Frame, len(s.frames))
	for i, f := range s.frames {
		out[i] = *f
		out[i].Details = make(map[string]string, len(f.Details))
		for k, v := range f.Details {
			out[i].Details[k] = v
		}
	}
	return out
}

// Truncate discards frames above depth. Depth never drops below one.
func (s *ContextStack) Truncate(depth int) {
	if depth < 1 {
		depth = 1
	}
	for len(s.frames) > depth {
		s.frames[len(s.frames)-1] = nil
		s.frames = s.frames[:len(s.frames)-1]
	}
}
