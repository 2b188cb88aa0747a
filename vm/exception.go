package vm

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chazu/rexx/compiler"
)

// ---------------------------------------------------------------------------
// Error taxonomy
// ---------------------------------------------------------------------------

// UndefinedVariableError reports a read of an unbound variable where a
// binding is required: an indirect CALL target, or any reference in strict
// mode.
type UndefinedVariableError struct {
	Name string
}

func (e *UndefinedVariableError) Error() string {
	return fmt.Sprintf("undefined variable %s", e.Name)
}

// NotFoundError reports a name that resolved to nothing. Kind is
// "subroutine", "function", "address target" or "script".
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Name)
}

// IsUndefinedSubroutine reports whether err is a NotFoundError for a CALL
// target.
func IsUndefinedSubroutine(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf) && nf.Kind == "subroutine"
}

// ErrTransientInvalidation matches every TransientInvalidationError under
// errors.Is.
var ErrTransientInvalidation = errors.New("transient invalidation")

// TransientInvalidationError is the one recoverable failure class: a
// resource the script depends on was invalidated by a concurrent change and
// the work may succeed if repeated. Retry blocks re-run their body on it.
type TransientInvalidationError struct {
	Resource string
	Err      error
}

// NewTransientInvalidation wraps err as a transient invalidation of resource.
func NewTransientInvalidation(resource string, err error) *TransientInvalidationError {
	return &TransientInvalidationError{Resource: resource, Err: err}
}

func (e *TransientInvalidationError) Error() string {
	msg := "transient invalidation"
	if e.Resource != "" {
		msg += " of " + e.Resource
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransientInvalidationError) Unwrap() error { return e.Err }

func (e *TransientInvalidationError) Is(target error) bool {
	return target == ErrTransientInvalidation
}

// TimeoutError is raised by a retry block whose deadline elapsed before an
// attempt succeeded. Last is the final transient failure.
type TimeoutError struct {
	Timeout  time.Duration
	Attempts int
	Last     error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("retry timed out after %s (%d attempts)", e.Timeout, e.Attempts)
	if e.Last != nil {
		msg += ": " + e.Last.Error()
	}
	return msg
}

func (e *TimeoutError) Unwrap() error { return e.Last }

// CallDepthError reports that a call would exceed the configured nesting
// limit.
type CallDepthError struct {
	Name  string
	Limit int
}

func (e *CallDepthError) Error() string {
	return fmt.Sprintf("call depth limit %d exceeded calling %s", e.Limit, e.Name)
}

// HaltError reports that the host halted the interpreter.
type HaltError struct{}

func (e *HaltError) Error() string { return "halted by host" }

// ---------------------------------------------------------------------------
// ExecutionError: failure plus the context frame chain
// ---------------------------------------------------------------------------

// ExecutionError is returned by Run for every failure. Frames is the
// context stack at the point of failure, base first.
type ExecutionError struct {
	Err    error
	Frames []Frame
}

func (e *ExecutionError) Error() string {
	if len(e.Frames) == 0 {
		return e.Err.Error()
	}
	top := e.Frames[len(e.Frames)-1]
	return fmt.Sprintf("%s:%d: %s", displayName(top.Filename), top.Line, e.Err.Error())
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Kind returns a short classification of the underlying error.
func (e *ExecutionError) Kind() string {
	return ErrorKind(e.Err)
}

// Render formats the error with one line per context frame, innermost
// last, followed by the error kind and message.
func (e *ExecutionError) Render() string {
	var sb strings.Builder
	for _, f := range e.Frames {
		fmt.Fprintf(&sb, "  %s:%d [%s", displayName(f.Filename), f.Line, f.Kind)
		if name := f.Details["name"]; name != "" {
			fmt.Fprintf(&sb, " %s", name)
		}
		if from := f.Details["from"]; f.Kind == FrameInterpret && from != "" {
			fmt.Fprintf(&sb, " from line %s", from)
		}
		sb.WriteString("]")
		if f.Source != "" {
			fmt.Fprintf(&sb, " %s", f.Source)
		}
		sb.WriteByte('\n')
	}
	fmt.Fprintf(&sb, "%s: %s", e.Kind(), e.Err.Error())
	return sb.String()
}

// ErrorKind classifies err for display.
func ErrorKind(err error) string {
	var (
		syn     *compiler.SyntaxError
		undef   *UndefinedVariableError
		nf      *NotFoundError
		trans   *TransientInvalidationError
		timeout *TimeoutError
		depth   *CallDepthError
		halt    *HaltError
	)
	switch {
	case errors.As(err, &syn):
		return "SyntaxError"
	case errors.As(err, &timeout):
		return "TimeoutError"
	case errors.As(err, &undef):
		return "UndefinedVariableError"
	case errors.As(err, &nf):
		if nf.Kind == "subroutine" {
			return "UndefinedSubroutineError"
		}
		return "NotFoundError"
	case errors.As(err, &trans):
		return "TransientInvalidationError"
	case errors.As(err, &depth):
		return "CallDepthError"
	case errors.As(err, &halt):
		return "HaltError"
	}
	return "Error"
}

func displayName(filename string) string {
	if filename == "" {
		return "<script>"
	}
	return filename
}
