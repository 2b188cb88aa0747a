package vm

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
)

// BuiltinFunc implements a built-in function. Built-ins are reachable only
// through function-call syntax, never through CALL.
type BuiltinFunc func(ctx context.Context, args []Value) (Value, error)

// Builtins is a registry of built-in functions keyed by upper-case name.
type Builtins struct {
	funcs map[string]BuiltinFunc
}

// NewBuiltins returns an empty registry.
func NewBuiltins() *Builtins {
	return &Builtins{funcs: make(map[string]BuiltinFunc)}
}

// Register adds or replaces a function.
func (b *Builtins) Register(name string, fn BuiltinFunc) {
	b.funcs[strings.ToUpper(name)] = fn
}

// Lookup finds a function by name, ignoring case.
func (b *Builtins) Lookup(name string) (BuiltinFunc, bool) {
	fn, ok := b.funcs[strings.ToUpper(name)]
	return fn, ok
}

// Names returns the registered names in sorted order.
func (b *Builtins) Names() []string {
	names := make([]string, 0, len(b.funcs))
	for n := range b.funcs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// intrinsicNames are the built-ins that read interpreter state. They are
// served by the interpreter itself rather than the registry.
var intrinsicNames = []string{"ADDRESS", "SYMBOL", "TRACE"}

// BuiltinNames returns every default built-in name including intrinsics.
func BuiltinNames() []string {
	names := append(DefaultBuiltins().Names(), intrinsicNames...)
	sort.Strings(names)
	return names
}

// DefaultBuiltins returns a registry holding the string and arithmetic
// helpers.
func DefaultBuiltins() *Builtins {
	b := NewBuiltins()

	b.Register("LENGTH", func(_ context.Context, args []Value) (Value, error) {
		if err := arity("LENGTH", args, 1, 1); err != nil {
			return Undefined, err
		}
		return Num(float64(len([]rune(args[0].String())))), nil
	})

	b.Register("UPPER", func(_ context.Context, args []Value) (Value, error) {
		if err := arity("UPPER", args, 1, 1); err != nil {
			return Undefined, err
		}
		return Str(strings.ToUpper(args[0].String())), nil
	})

	b.Register("LOWER", func(_ context.Context, args []Value) (Value, error) {
		if err := arity("LOWER", args, 1, 1); err != nil {
			return Undefined, err
		}
		return Str(strings.ToLower(args[0].String())), nil
	})

	b.Register("SUBSTR", func(_ context.Context, args []Value) (Value, error) {
		if err := arity("SUBSTR", args, 2, 4); err != nil {
			return Undefined, err
		}
		s := []rune(args[0].String())
		start, err := intArg("SUBSTR", args, 1, 0)
		if err != nil {
			return Undefined, err
		}
		if start < 1 {
			return Undefined, fmt.Errorf("SUBSTR: start must be positive, got %d", start)
		}
		length := len(s) - start + 1
		if length < 0 {
			length = 0
		}
		if len(args) > 2 {
			if length, err = intArg("SUBSTR", args, 2, 0); err != nil {
				return Undefined, err
			}
		}
		pad := padArg(args, 3)
		var sb strings.Builder
		for k := 0; k < length; k++ {
			if idx := start - 1 + k; idx < len(s) {
				sb.WriteRune(s[idx])
			} else {
				sb.WriteRune(pad)
			}
		}
		return Str(sb.String()), nil
	})

	b.Register("POS", func(_ context.Context, args []Value) (Value, error) {
		if err := arity("POS", args, 2, 3); err != nil {
			return Undefined, err
		}
		needle, hay := []rune(args[0].String()), []rune(args[1].String())
		start := 1
		if len(args) > 2 {
			var err error
			if start, err = intArg("POS", args, 2, 1); err != nil {
				return Undefined, err
			}
		}
		if start < 1 || len(needle) == 0 || start > len(hay) {
			return Num(0), nil
		}
		idx := strings.Index(string(hay[start-1:]), string(needle))
		if idx < 0 {
			return Num(0), nil
		}
		return Num(float64(start + len([]rune(string(hay[start-1:])[:idx])))), nil
	})

	b.Register("WORD", func(_ context.Context, args []Value) (Value, error) {
		if err := arity("WORD", args, 2, 2); err != nil {
			return Undefined, err
		}
		n, err := intArg("WORD", args, 1, 0)
		if err != nil {
			return Undefined, err
		}
		words := strings.Fields(args[0].String())
		if n < 1 || n > len(words) {
			return Str(""), nil
		}
		return Str(words[n-1]), nil
	})

	b.Register("WORDS", func(_ context.Context, args []Value) (Value, error) {
		if err := arity("WORDS", args, 1, 1); err != nil {
			return Undefined, err
		}
		return Num(float64(len(strings.Fields(args[0].String())))), nil
	})

	b.Register("STRIP", func(_ context.Context, args []Value) (Value, error) {
		if err := arity("STRIP", args, 1, 3); err != nil {
			return Undefined, err
		}
		s := args[0].String()
		opt := "B"
		if len(args) > 1 && args[1].String() != "" {
			opt = strings.ToUpper(args[1].String()[:1])
		}
		cut := func(r rune) bool { return r == ' ' || r == '\t' }
		if len(args) > 2 {
			ch := padArg(args, 2)
			cut = func(r rune) bool { return r == ch }
		}
		switch opt {
		case "L":
			s = strings.TrimLeftFunc(s, cut)
		case "T":
			s = strings.TrimRightFunc(s, cut)
		case "B":
			s = strings.TrimFunc(s, cut)
		default:
			return Undefined, fmt.Errorf("STRIP: option must be L, T or B, got %q", opt)
		}
		return Str(s), nil
	})

	b.Register("REVERSE", func(_ context.Context, args []Value) (Value, error) {
		if err := arity("REVERSE", args, 1, 1); err != nil {
			return Undefined, err
		}
		r := []rune(args[0].String())
		for a, z := 0, len(r)-1; a < z; a, z = a+1, z-1 {
			r[a], r[z] = r[z], r[a]
		}
		return Str(string(r)), nil
	})

	b.Register("LEFT", func(_ context.Context, args []Value) (Value, error) {
		if err := arity("LEFT", args, 2, 3); err != nil {
			return Undefined, err
		}
		n, err := intArg("LEFT", args, 1, 0)
		if err != nil || n < 0 {
			return Undefined, fmt.Errorf("LEFT: length must be a non-negative whole number")
		}
		s := []rune(args[0].String())
		if n <= len(s) {
			return Str(string(s[:n])), nil
		}
		return Str(string(s) + strings.Repeat(string(padArg(args, 2)), n-len(s))), nil
	})

	b.Register("RIGHT", func(_ context.Context, args []Value) (Value, error) {
		if err := arity("RIGHT", args, 2, 3); err != nil {
			return Undefined, err
		}
		n, err := intArg("RIGHT", args, 1, 0)
		if err != nil || n < 0 {
			return Undefined, fmt.Errorf("RIGHT: length must be a non-negative whole number")
		}
		s := []rune(args[0].String())
		if n <= len(s) {
			return Str(string(s[len(s)-n:])), nil
		}
		return Str(strings.Repeat(string(padArg(args, 2)), n-len(s)) + string(s)), nil
	})

	b.Register("ABS", func(_ context.Context, args []Value) (Value, error) {
		if err := arity("ABS", args, 1, 1); err != nil {
			return Undefined, err
		}
		n, err := numArg("ABS", args, 0)
		if err != nil {
			return Undefined, err
		}
		return Num(math.Abs(n)), nil
	})

	b.Register("MAX", func(_ context.Context, args []Value) (Value, error) {
		return extreme("MAX", args, func(a, b float64) bool { return a > b })
	})

	b.Register("MIN", func(_ context.Context, args []Value) (Value, error) {
		return extreme("MIN", args, func(a, b float64) bool { return a < b })
	})

	b.Register("DATATYPE", func(_ context.Context, args []Value) (Value, error) {
		if err := arity("DATATYPE", args, 1, 2); err != nil {
			return Undefined, err
		}
		_, isNum := args[0].Number()
		if len(args) == 1 {
			if isNum {
				return Str("NUM"), nil
			}
			return Str("CHAR"), nil
		}
		s := args[0].String()
		switch t := strings.ToUpper(args[1].String()); {
		case strings.HasPrefix(t, "N"):
			return Bool(isNum), nil
		case strings.HasPrefix(t, "W"):
			n, ok := args[0].Number()
			return Bool(ok && n == math.Trunc(n)), nil
		case strings.HasPrefix(t, "A"):
			return Bool(s != "" && allRunes(s, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) })), nil
		case strings.HasPrefix(t, "U"):
			return Bool(s != "" && allRunes(s, unicode.IsUpper)), nil
		case strings.HasPrefix(t, "L"):
			return Bool(s != "" && allRunes(s, unicode.IsLower)), nil
		case strings.HasPrefix(t, "M"):
			return Bool(s != "" && allRunes(s, unicode.IsLetter)), nil
		}
		return Undefined, fmt.Errorf("DATATYPE: unknown type %q", args[1].String())
	})

	b.Register("COPIES", func(_ context.Context, args []Value) (Value, error) {
		if err := arity("COPIES", args, 2, 2); err != nil {
			return Undefined, err
		}
		n, err := intArg("COPIES", args, 1, 0)
		if err != nil || n < 0 {
			return Undefined, fmt.Errorf("COPIES: count must be a non-negative whole number")
		}
		return Str(strings.Repeat(args[0].String(), n)), nil
	})

	b.Register("SPACE", func(_ context.Context, args []Value) (Value, error) {
		if err := arity("SPACE", args, 1, 3); err != nil {
			return Undefined, err
		}
		n := 1
		if len(args) > 1 {
			var err error
			if n, err = intArg("SPACE", args, 1, 1); err != nil || n < 0 {
				return Undefined, fmt.Errorf("SPACE: count must be a non-negative whole number")
			}
		}
		sep := strings.Repeat(string(padArg(args, 2)), n)
		return Str(strings.Join(strings.Fields(args[0].String()), sep)), nil
	})

	return b
}

// ---------------------------------------------------------------------------
// Argument helpers
// ---------------------------------------------------------------------------

func arity(name string, args []Value, min, max int) error {
	if len(args) < min || (max >= 0 && len(args) > max) {
		if min == max {
			return fmt.Errorf("%s expects %d argument(s), got %d", name, min, len(args))
		}
		return fmt.Errorf("%s expects %d to %d arguments, got %d", name, min, max, len(args))
	}
	return nil
}

func numArg(name string, args []Value, idx int) (float64, error) {
	n, ok := args[idx].Number()
	if !ok {
		return 0, fmt.Errorf("%s: argument %d must be a number, got %q", name, idx+1, args[idx].String())
	}
	return n, nil
}

// intArg reads a whole-number argument. An empty string selects def.
func intArg(name string, args []Value, idx, def int) (int, error) {
	if idx >= len(args) || args[idx].String() == "" {
		return def, nil
	}
	n, err := numArg(name, args, idx)
	if err != nil {
		return 0, err
	}
	if n != math.Trunc(n) {
		return 0, fmt.Errorf("%s: argument %d must be a whole number, got %s", name, idx+1, args[idx].String())
	}
	return int(n), nil
}

// padArg returns the first character of an optional pad argument, or a
// blank.
func padArg(args []Value, idx int) rune {
	if idx < len(args) {
		if r := []rune(args[idx].String()); len(r) > 0 {
			return r[0]
		}
	}
	return ' '
}

func extreme(name string, args []Value, better func(a, b float64) bool) (Value, error) {
	if len(args) == 0 {
		return Undefined, fmt.Errorf("%s expects at least one argument", name)
	}
	best, err := numArg(name, args, 0)
	if err != nil {
		return Undefined, err
	}
	for k := 1; k < len(args); k++ {
		n, err := numArg(name, args, k)
		if err != nil {
			return Undefined, err
		}
		if better(n, best) {
			best = n
		}
	}
	return Num(best), nil
}

func allRunes(s string, pred func(rune) bool) bool {
	for _, r := range s {
		if !pred(r) {
			return false
		}
	}
	return true
}

// intrinsic returns the state-reading built-ins bound to this interpreter.
func (i *Interpreter) intrinsic(name string) (BuiltinFunc, bool) {
	switch strings.ToUpper(name) {
	case "ADDRESS":
		return func(_ context.Context, args []Value) (Value, error) {
			if err := arity("ADDRESS", args, 0, 0); err != nil {
				return Undefined, err
			}
			return Str(i.router.Target()), nil
		}, true
	case "TRACE":
		return func(_ context.Context, args []Value) (Value, error) {
			if err := arity("TRACE", args, 0, 0); err != nil {
				return Undefined, err
			}
			return Str(i.tracer.Mode()), nil
		}, true
	case "SYMBOL":
		return func(_ context.Context, args []Value) (Value, error) {
			if err := arity("SYMBOL", args, 1, 1); err != nil {
				return Undefined, err
			}
			name := args[0].String()
			if _, ok := i.vars.Lookup(name); ok {
				return Str("VAR"), nil
			}
			if isSymbol(name) {
				return Str("LIT"), nil
			}
			return Str("BAD"), nil
		}, true
	}
	return nil, false
}

func isSymbol(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("_.$@#", r)) {
			return false
		}
	}
	return true
}
