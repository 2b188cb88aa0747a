package vm

import (
	"context"
	"errors"
	"strings"

	"github.com/chazu/rexx/compiler"
)

// ---------------------------------------------------------------------------
// CALL dispatcher
// ---------------------------------------------------------------------------

// Call invokes a subroutine of the loaded program, or an external script,
// by name. RESULT is set as for a CALL statement.
func (i *Interpreter) Call(ctx context.Context, name string, args ...Value) (Value, error) {
	return i.callFromHost(ctx, name, false, args)
}

// CallIndirect invokes the subroutine named by the value of variable ref.
func (i *Interpreter) CallIndirect(ctx context.Context, ref string, args ...Value) (Value, error) {
	return i.callFromHost(ctx, ref, true, args)
}

func (i *Interpreter) callFromHost(ctx context.Context, name string, indirect bool, args []Value) (Value, error) {
	i.contexts.Truncate(1)
	i.callStack = nil
	v, has, err := i.invoke(ctx, name, indirect, args, 0, "")
	if err != nil {
		var exit *exitSignal
		if errors.As(err, &exit) {
			i.contexts.Truncate(1)
			i.callStack = nil
			return exit.value, nil
		}
		return Undefined, i.wrap(err)
	}
	i.setResult(v, has)
	return v, nil
}

// execCall runs a CALL statement.
func (i *Interpreter) execCall(ctx context.Context, c *compiler.Call, line int) error {
	args, err := i.evalArgs(ctx, c.Args)
	if err != nil {
		return err
	}
	name := c.Name
	if c.Indirect() {
		name = c.Ref
	}
	v, has, err := i.invoke(ctx, name, c.Indirect(), args, line, c.Source())
	if err != nil {
		return err
	}
	i.setResult(v, has)
	return nil
}

func (i *Interpreter) setResult(v Value, has bool) {
	if has {
		i.vars.Set(VarResult, v)
	} else {
		i.vars.Delete(VarResult)
	}
}

// invoke resolves and runs a call target. The Subroutine frame is pushed
// before resolution so resolution failures carry the call site. Frames are
// popped only when the call succeeds.
//
// Resolution order: indirect reference, external script, subroutine table.
// Built-in functions are never CALL targets.
func (i *Interpreter) invoke(ctx context.Context, name string, indirect bool, args []Value, line int, source string) (Value, bool, error) {
	frame := i.contexts.Push(FrameSubroutine, line, source, i.cfg.Filename, map[string]string{"name": name})
	if i.baseDepth+len(i.callStack) >= i.cfg.MaxCallDepth {
		return Undefined, false, &CallDepthError{Name: name, Limit: i.cfg.MaxCallDepth}
	}

	if indirect {
		v, ok := i.vars.Lookup(name)
		if !ok {
			return Undefined, false, &UndefinedVariableError{Name: name}
		}
		frame.Details["ref"] = name
		name = v.String()
		frame.Details["name"] = name
	}

	if i.tracer.Enabled(TraceCall, false) {
		parts := make([]string, len(args))
		for k, a := range args {
			parts[k] = a.String()
		}
		i.tracer.Record(TraceCall, strings.TrimSpace("CALL "+name+" "+strings.Join(parts, " ")), line, nil)
	}

	if IsExternalName(name) {
		frame.Details["script"] = name
		i.callStack = append(i.callStack, name)
		v, err := i.cfg.Runner.RunScript(ctx, name, args, i)
		if err != nil {
			return Undefined, false, err
		}
		i.popCall()
		i.vars.BindArgs(args)
		i.traceReturn(name, v, line)
		return v, !v.IsUndefined(), nil
	}

	sub, ok := i.subs[strings.ToUpper(name)]
	if !ok {
		return Undefined, false, &NotFoundError{Kind: "subroutine", Name: name}
	}

	i.vars.BindArgs(args)
	i.callStack = append(i.callStack, sub.Name)
	i.hasReturn = false

	f, err := i.runRange(ctx, i.program, sub.Start, sub.End, false)
	if err != nil {
		return Undefined, false, err
	}

	var v Value
	var has bool
	if f == flowReturn {
		v, has = i.returnValue, i.hasReturn
	} else {
		v = i.last
		has = !v.IsUndefined()
	}
	i.hasReturn = false
	i.returnValue = Undefined

	i.popCall()
	i.traceReturn(sub.Name, v, line)
	return v, has, nil
}

// popCall pops the context frame and the call-stack frame together.
func (i *Interpreter) popCall() {
	i.contexts.Pop()
	i.callStack = i.callStack[:len(i.callStack)-1]
}

func (i *Interpreter) traceReturn(name string, v Value, line int) {
	if v.IsUndefined() {
		i.tracer.Record(TraceReturn, "RETURN from "+name, line, nil)
		return
	}
	i.tracer.Record(TraceReturn, "RETURN from "+name, line, &v)
}

// CallDepth returns the number of active subroutine calls.
func (i *Interpreter) CallDepth() int {
	return len(i.callStack)
}

// isFunction reports whether name resolves in function-call position.
func (i *Interpreter) isFunction(name string) bool {
	if _, ok := i.subs[strings.ToUpper(name)]; ok {
		return true
	}
	if _, ok := i.cfg.Builtins.Lookup(name); ok {
		return true
	}
	_, ok := i.intrinsic(name)
	return ok
}

// evalFunction evaluates name(args). Subroutines take precedence over
// built-ins.
func (i *Interpreter) evalFunction(ctx context.Context, fc *compiler.FunctionCall) (Value, error) {
	args, err := i.evalArgs(ctx, fc.Args)
	if err != nil {
		return Undefined, err
	}
	line := fc.Span().Start.Line

	if _, ok := i.subs[strings.ToUpper(fc.Name)]; ok {
		v, _, err := i.invoke(ctx, fc.Name, false, args, line, i.contexts.Current().Source)
		return v, err
	}

	fn, ok := i.cfg.Builtins.Lookup(fc.Name)
	if !ok {
		fn, ok = i.intrinsic(fc.Name)
	}
	if !ok {
		return Undefined, &NotFoundError{Kind: "function", Name: fc.Name}
	}
	v, err := fn(ctx, args)
	if err != nil {
		return Undefined, err
	}
	if i.tracer.Enabled(TraceFunction, true) {
		i.tracer.Record(TraceFunction, strings.ToUpper(fc.Name)+"()", line, &v)
	}
	return v, nil
}
