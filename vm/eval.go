package vm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/chazu/rexx/compiler"
)

// ---------------------------------------------------------------------------
// Expression evaluation
// ---------------------------------------------------------------------------

// ErrDivisionByZero is returned by / and % with a zero divisor.
var ErrDivisionByZero = errors.New("division by zero")

// eval evaluates an expression against the current variable environment.
func (i *Interpreter) eval(ctx context.Context, e compiler.Expr) (Value, error) {
	switch n := e.(type) {
	case *compiler.NumberLiteral:
		return Num(n.Value), nil

	case *compiler.StringLiteral:
		return Str(n.Value), nil

	case *compiler.Variable:
		return i.lookup(n.Name)

	case *compiler.FunctionCall:
		return i.evalFunction(ctx, n)

	case *compiler.UnaryExpr:
		v, err := i.eval(ctx, n.Operand)
		if err != nil {
			return Undefined, err
		}
		return unary(n.Op, v)

	case *compiler.BinaryExpr:
		l, err := i.eval(ctx, n.Left)
		if err != nil {
			return Undefined, err
		}
		r, err := i.eval(ctx, n.Right)
		if err != nil {
			return Undefined, err
		}
		return binary(n.Op, l, r)
	}
	return Undefined, fmt.Errorf("unsupported expression %T", e)
}

// lookup reads a variable. An unbound name reads as its own (tail
// substituted) name, or fails in strict mode.
func (i *Interpreter) lookup(name string) (Value, error) {
	if v, ok := i.vars.Lookup(name); ok {
		return v, nil
	}
	if i.cfg.Strict {
		return Undefined, &UndefinedVariableError{Name: name}
	}
	return Str(i.vars.Resolve(name)), nil
}

// evalArgs evaluates call arguments in order. A quoted literal passes its
// text, a bare name passes the variable's value, and anything else is
// evaluated as an expression.
func (i *Interpreter) evalArgs(ctx context.Context, exprs []compiler.Expr) ([]Value, error) {
	args := make([]Value, 0, len(exprs))
	for _, e := range exprs {
		var (
			v   Value
			err error
		)
		switch a := e.(type) {
		case *compiler.StringLiteral:
			v = Str(a.Value)
		case *compiler.Variable:
			v, err = i.lookup(a.Name)
		default:
			v, err = i.eval(ctx, e)
		}
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return args, nil
}

// number evaluates e as a number. what names the operand in errors.
func (i *Interpreter) number(ctx context.Context, e compiler.Expr, what string) (float64, error) {
	v, err := i.eval(ctx, e)
	if err != nil {
		return 0, err
	}
	n, ok := v.Number()
	if !ok {
		return 0, fmt.Errorf("%s must be a number, got %q", what, v.String())
	}
	return n, nil
}

// wholeNumber evaluates e as a non-negative whole number.
func (i *Interpreter) wholeNumber(ctx context.Context, e compiler.Expr, what string) (int, error) {
	n, err := i.number(ctx, e, what)
	if err != nil {
		return 0, err
	}
	if n != math.Trunc(n) || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative whole number, got %s", what, formatNumber(n))
	}
	return int(n), nil
}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

func unary(op compiler.TokenType, v Value) (Value, error) {
	switch op {
	case compiler.TokenNot:
		b, ok := v.Truth()
		if !ok {
			return Undefined, fmt.Errorf("logical value expected, got %q", v.String())
		}
		return Bool(!b), nil
	case compiler.TokenMinus, compiler.TokenPlus:
		n, ok := v.Number()
		if !ok {
			return Undefined, fmt.Errorf("bad arithmetic conversion: %q", v.String())
		}
		if op == compiler.TokenMinus {
			n = -n
		}
		return Num(n), nil
	}
	return Undefined, fmt.Errorf("unsupported prefix operator %s", op)
}

func binary(op string, l, r Value) (Value, error) {
	switch op {
	case "||":
		return Str(l.String() + r.String()), nil
	case compiler.OpBlankConcat:
		return Str(l.String() + " " + r.String()), nil

	case "&", "|":
		a, ok := l.Truth()
		if !ok {
			return Undefined, fmt.Errorf("logical value expected, got %q", l.String())
		}
		b, ok := r.Truth()
		if !ok {
			return Undefined, fmt.Errorf("logical value expected, got %q", r.String())
		}
		if op == "&" {
			return Bool(a && b), nil
		}
		return Bool(a || b), nil

	case "==":
		return Bool(l.String() == r.String()), nil

	case "=", "\\=", "<", ">", "<=", ">=":
		c := compare(l, r)
		switch op {
		case "=":
			return Bool(c == 0), nil
		case "\\=":
			return Bool(c != 0), nil
		case "<":
			return Bool(c < 0), nil
		case ">":
			return Bool(c > 0), nil
		case "<=":
			return Bool(c <= 0), nil
		}
		return Bool(c >= 0), nil
	}

	a, ok := l.Number()
	if !ok {
		return Undefined, fmt.Errorf("bad arithmetic conversion: %q", l.String())
	}
	b, ok := r.Number()
	if !ok {
		return Undefined, fmt.Errorf("bad arithmetic conversion: %q", r.String())
	}
	switch op {
	case "+":
		return Num(a + b), nil
	case "-":
		return Num(a - b), nil
	case "*":
		return Num(a * b), nil
	case "/":
		if b == 0 {
			return Undefined, ErrDivisionByZero
		}
		return Num(a / b), nil
	case "%":
		if b == 0 {
			return Undefined, ErrDivisionByZero
		}
		return Num(math.Mod(a, b)), nil
	case "**":
		return Num(math.Pow(a, b)), nil
	}
	return Undefined, fmt.Errorf("unsupported operator %s", op)
}

// compare orders two values for the non-strict comparisons: numerically
// when both are numbers, otherwise as strings with surrounding blanks
// ignored.
func compare(l, r Value) int {
	if a, ok := l.Number(); ok {
		if b, ok := r.Number(); ok {
			switch {
			case a < b:
				return -1
			case a > b:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(strings.TrimSpace(l.String()), strings.TrimSpace(r.String()))
}
