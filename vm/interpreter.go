package vm

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tevino/abool/v2"

	"github.com/chazu/rexx/compiler"
)

// ---------------------------------------------------------------------------
// Interpreter: tree-walking executor
// ---------------------------------------------------------------------------

// flow tells the enclosing block how a command finished.
type flow int

const (
	flowNext flow = iota
	flowReturn
	flowLeave
	flowIterate
)

// exitSignal carries EXIT out through every block and call until Run
// catches it.
type exitSignal struct {
	value Value
}

func (e *exitSignal) Error() string { return "exit" }

// Subroutine is a label and the index range of its body in the program.
// End is exclusive.
type Subroutine struct {
	Name  string
	Start int
	End   int
}

// Interpreter runs parsed scripts. It is not safe for concurrent use,
// except for Halt, which may be called from any goroutine.
type Interpreter struct {
	cfg       Config
	vars      *Variables
	contexts  *ContextStack
	callStack []string
	router    *Router
	tracer    *Tracer
	halted    *abool.AtomicBool

	program   []compiler.Command
	subs      map[string]Subroutine
	labelEnds map[int]int

	last        Value // most recent implicit expression value
	returnValue Value
	hasReturn   bool
	baseDepth   int // call depth inherited from a parent interpreter
}

// New creates an interpreter.
func New(opts ...Option) *Interpreter {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.applyDefaults()

	i := &Interpreter{
		cfg:      cfg,
		vars:     NewVariables(),
		contexts: NewContextStack(cfg.Filename),
		router:   NewRouter(cfg.Targets),
		tracer:   cfg.Tracer,
		halted:   abool.NewBool(false),
	}
	if cfg.DefaultAddress != "" {
		i.router.Switch(cfg.DefaultAddress, "")
	}
	return i
}

// Child returns an interpreter sharing this one's configuration, targets,
// built-ins and tracer, with a fresh variable environment. Call depth
// carries over so recursion through external scripts is bounded.
func (i *Interpreter) Child(opts ...Option) *Interpreter {
	cfg := i.cfg
	cfg.DefaultAddress = ""
	for _, opt := range opts {
		opt(&cfg)
	}
	child := &Interpreter{
		cfg:       cfg,
		vars:      NewVariables(),
		contexts:  NewContextStack(cfg.Filename),
		router:    NewRouter(cfg.Targets),
		tracer:    i.tracer,
		halted:    i.halted,
		baseDepth: i.baseDepth + len(i.callStack) + 1,
	}
	return child
}

// Vars returns the variable environment.
func (i *Interpreter) Vars() *Variables { return i.vars }

// Contexts returns the execution context stack.
func (i *Interpreter) Contexts() *ContextStack { return i.contexts }

// Router returns the ADDRESS router.
func (i *Interpreter) Router() *Router { return i.router }

// Tracer returns the trace recorder.
func (i *Interpreter) Tracer() *Tracer { return i.tracer }

// Targets returns the ADDRESS target registry.
func (i *Interpreter) Targets() *TargetRegistry { return i.cfg.Targets }

// Builtins returns the built-in function registry.
func (i *Interpreter) Builtins() *Builtins { return i.cfg.Builtins }

// Filename returns the script name used in diagnostics.
func (i *Interpreter) Filename() string { return i.cfg.Filename }

// LastValue returns the most recent implicit expression value.
func (i *Interpreter) LastValue() Value { return i.last }

// Subroutines returns the subroutine table of the loaded program.
func (i *Interpreter) Subroutines() []Subroutine {
	out := make([]Subroutine, 0, len(i.subs))
	for _, s := range i.subs {
		out = append(out, s)
	}
	return out
}

// Halt asks the interpreter to stop before its next command.
func (i *Interpreter) Halt() { i.halted.Set() }

// Resume clears a pending halt.
func (i *Interpreter) Resume() { i.halted.UnSet() }

// Halted reports whether a halt is pending.
func (i *Interpreter) Halted() bool { return i.halted.IsSet() }

// ---------------------------------------------------------------------------
// Entry points
// ---------------------------------------------------------------------------

// RunSource parses and runs a script.
func (i *Interpreter) RunSource(ctx context.Context, filename, source string) (Value, error) {
	if filename != "" {
		i.cfg.Filename = filename
		i.contexts.frames[0].Filename = filename
	}
	prog, err := compiler.Parse(source)
	if err != nil {
		frames := i.contexts.Frames()[:1]
		var syn *compiler.SyntaxError
		if errors.As(err, &syn) {
			frames[0].Line = syn.Line
		}
		return Undefined, &ExecutionError{Err: err, Frames: frames}
	}
	return i.Run(ctx, prog)
}

// Run executes a parsed program from the top. The result is the value of
// a top-level RETURN or EXIT, or else the last implicit expression value.
// Errors are returned as *ExecutionError carrying the context frame chain.
func (i *Interpreter) Run(ctx context.Context, prog []compiler.Command) (Value, error) {
	i.contexts.Truncate(1)
	i.callStack = nil
	i.Load(prog)

	f, err := i.runRange(ctx, i.program, 0, len(i.program), true)
	if err != nil {
		var exit *exitSignal
		if errors.As(err, &exit) {
			i.contexts.Truncate(1)
			i.callStack = nil
			return exit.value, nil
		}
		return Undefined, i.wrap(err)
	}
	if f == flowReturn {
		if i.hasReturn {
			return i.returnValue, nil
		}
		return Undefined, nil
	}
	return i.last, nil
}

// Load installs prog as the current program and builds its subroutine
// table without running anything.
func (i *Interpreter) Load(prog []compiler.Command) {
	i.program = prog
	i.subs, i.labelEnds = BuildSubroutineTable(prog)
}

// wrap attaches the context frame chain to err. Frames of a failed child
// interpreter are appended below this interpreter's frames.
func (i *Interpreter) wrap(err error) error {
	frames := i.contexts.Frames()
	var inner *ExecutionError
	if errors.As(err, &inner) {
		return &ExecutionError{Err: inner.Err, Frames: append(frames, inner.Frames...)}
	}
	return &ExecutionError{Err: err, Frames: frames}
}

// BuildSubroutineTable scans prog once. Each label starts a subroutine
// that runs up to the next label, or through the first top-level RETURN.
// The first definition of a name wins. The second result maps each label
// index to the end of its range.
func BuildSubroutineTable(prog []compiler.Command) (map[string]Subroutine, map[int]int) {
	subs := make(map[string]Subroutine)
	ends := make(map[int]int)
	for idx, cmd := range prog {
		label, ok := cmd.(*compiler.Label)
		if !ok {
			continue
		}
		end := len(prog)
	scan:
		for j := idx + 1; j < len(prog); j++ {
			switch prog[j].(type) {
			case *compiler.Label:
				end = j
				break scan
			case *compiler.Return:
				end = j + 1
				break scan
			}
		}
		ends[idx] = end
		key := strings.ToUpper(label.Name)
		if _, dup := subs[key]; !dup {
			subs[key] = Subroutine{Name: label.Name, Start: idx + 1, End: end}
		}
	}
	return subs, ends
}

// ---------------------------------------------------------------------------
// Execution
// ---------------------------------------------------------------------------

// runRange executes prog[start:end]. At top level, subroutine bodies are
// skipped when the main flow reaches their label.
func (i *Interpreter) runRange(ctx context.Context, prog []compiler.Command, start, end int, top bool) (flow, error) {
	for pc := start; pc < end; pc++ {
		if top {
			if e, ok := i.labelEnds[pc]; ok {
				pc = e - 1
				continue
			}
		}
		f, err := i.exec(ctx, prog[pc])
		if err != nil {
			return flowNext, err
		}
		if f != flowNext {
			return f, nil
		}
	}
	return flowNext, nil
}

// runBlock executes a nested command list.
func (i *Interpreter) runBlock(ctx context.Context, cmds []compiler.Command) (flow, error) {
	return i.runRange(ctx, cmds, 0, len(cmds), false)
}

// exec executes one command.
func (i *Interpreter) exec(ctx context.Context, cmd compiler.Command) (flow, error) {
	if i.halted.IsSet() {
		return flowNext, &HaltError{}
	}
	if err := ctx.Err(); err != nil {
		return flowNext, err
	}

	line := cmd.Span().Start.Line
	frame := i.contexts.Current()
	frame.Line = line
	frame.Source = cmd.Source()

	if _, isLabel := cmd.(*compiler.Label); !isLabel && i.tracer.Enabled(TraceInstruction, false) {
		i.tracer.Record(TraceInstruction, cmd.Source(), line, nil)
	}
	return i.execCommand(ctx, cmd, line)
}

func (i *Interpreter) execCommand(ctx context.Context, cmd compiler.Command, line int) (flow, error) {
	switch c := cmd.(type) {
	case *compiler.Label, *compiler.Nop:
		return flowNext, nil

	case *compiler.Assign:
		v, err := i.eval(ctx, c.Value)
		if err != nil {
			return flowNext, err
		}
		i.assign(c.Name, v, line)
		return flowNext, nil

	case *compiler.Say:
		v := Str("")
		if c.Value != nil {
			var err error
			if v, err = i.eval(ctx, c.Value); err != nil {
				return flowNext, err
			}
		}
		fmt.Fprintln(i.cfg.Output, v.String())
		i.tracer.Record(TraceOutput, v.String(), line, &v)
		return flowNext, nil

	case *compiler.Call:
		return flowNext, i.execCall(ctx, c, line)

	case *compiler.Return:
		i.hasReturn = false
		i.returnValue = Undefined
		if c.Value != nil {
			v, err := i.eval(ctx, c.Value)
			if err != nil {
				return flowNext, err
			}
			i.returnValue = v
			i.hasReturn = true
		}
		return flowReturn, nil

	case *compiler.Exit:
		v := Undefined
		if c.Value != nil {
			var err error
			if v, err = i.eval(ctx, c.Value); err != nil {
				return flowNext, err
			}
		}
		return flowNext, &exitSignal{value: v}

	case *compiler.AddressSwitch:
		if c.Reset() {
			i.router.Reset()
			i.tracer.Record(TraceAddress, "ADDRESS DEFAULT", line, nil)
		} else {
			i.router.Switch(c.Target, c.Matching)
			i.tracer.Record(TraceAddress, "ADDRESS "+c.Target, line, nil)
		}
		return flowNext, nil

	case *compiler.AddressSend:
		return flowNext, i.dispatch(ctx, c.Target, c.Literal, Meta{Kind: MetaMessage}, line, c.Source())

	case *compiler.MatchedLine:
		if i.router.Routed() {
			if msg, ok := i.router.Match(c.Raw); ok {
				meta := Meta{Kind: MetaMessage, Pattern: i.router.Pattern()}
				return flowNext, i.dispatch(ctx, i.router.Target(), msg, meta, line, c.Source())
			}
		}
		if c.FallbackErr != nil {
			return flowNext, c.FallbackErr
		}
		if c.Fallback == nil {
			return flowNext, nil
		}
		return i.execCommand(ctx, c.Fallback, line)

	case *compiler.ParseStmt:
		return flowNext, i.execParse(ctx, c)

	case *compiler.Trace:
		i.tracer.SetMode(c.Mode, line)
		return flowNext, nil

	case *compiler.RetryBlock:
		return i.execRetry(ctx, c)

	case *compiler.If:
		ok, err := i.condition(ctx, c.Cond)
		if err != nil {
			return flowNext, err
		}
		if ok {
			return i.runBlock(ctx, c.Then)
		}
		return i.runBlock(ctx, c.Else)

	case *compiler.Do:
		return i.execDo(ctx, c)

	case *compiler.Select:
		for _, w := range c.Whens {
			ok, err := i.condition(ctx, w.Cond)
			if err != nil {
				return flowNext, err
			}
			if ok {
				return i.runBlock(ctx, w.Body)
			}
		}
		if !c.HasOther {
			return flowNext, fmt.Errorf("no WHEN matched and SELECT has no OTHERWISE")
		}
		return i.runBlock(ctx, c.Otherwise)

	case *compiler.Leave:
		return flowLeave, nil

	case *compiler.Iterate:
		return flowIterate, nil

	case *compiler.Interpret:
		return i.execInterpret(ctx, c, line)

	case *compiler.ExprStmt:
		return flowNext, i.execExprStmt(ctx, c, line)

	case *compiler.Drop:
		for _, n := range c.Names {
			i.vars.Delete(i.vars.Resolve(n))
		}
		return flowNext, nil
	}

	return flowNext, fmt.Errorf("unsupported command %T", cmd)
}

// assign binds a variable and records the assignment.
func (i *Interpreter) assign(name string, v Value, line int) {
	i.vars.Assign(name, v)
	if i.tracer.Enabled(TraceAssignment, true) {
		i.tracer.Record(TraceAssignment, name+" = "+v.String(), line, &v)
	}
}

// condition evaluates a logical expression.
func (i *Interpreter) condition(ctx context.Context, e compiler.Expr) (bool, error) {
	v, err := i.eval(ctx, e)
	if err != nil {
		return false, err
	}
	b, ok := v.Truth()
	if !ok {
		return false, fmt.Errorf("logical value expected, got %q", v.String())
	}
	return b, nil
}

// execDo runs the DO forms. A simple DO group is not a loop, so LEAVE and
// ITERATE pass through it to the enclosing loop.
func (i *Interpreter) execDo(ctx context.Context, c *compiler.Do) (flow, error) {
	if c.Kind == compiler.LoopSimple {
		return i.runBlock(ctx, c.Body)
	}

	// body runs one iteration and reports whether the loop should stop.
	body := func() (bool, flow, error) {
		f, err := i.runBlock(ctx, c.Body)
		if err != nil {
			return true, flowNext, err
		}
		switch f {
		case flowLeave:
			return true, flowNext, nil
		case flowReturn:
			return true, f, nil
		}
		return false, flowNext, nil
	}

	switch c.Kind {
	case compiler.LoopForever:
		for {
			if stop, f, err := body(); stop {
				return f, err
			}
		}

	case compiler.LoopRepeat:
		n, err := i.wholeNumber(ctx, c.Cond, "DO count")
		if err != nil {
			return flowNext, err
		}
		for k := 0; k < n; k++ {
			if stop, f, err := body(); stop {
				return f, err
			}
		}
		return flowNext, nil

	case compiler.LoopWhile:
		for {
			ok, err := i.condition(ctx, c.Cond)
			if err != nil || !ok {
				return flowNext, err
			}
			if stop, f, err := body(); stop {
				return f, err
			}
		}

	case compiler.LoopUntil:
		for {
			if stop, f, err := body(); stop {
				return f, err
			}
			ok, err := i.condition(ctx, c.Cond)
			if err != nil || ok {
				return flowNext, err
			}
		}

	case compiler.LoopCounted:
		return i.execCounted(ctx, c, body)
	}
	return flowNext, fmt.Errorf("unsupported DO form")
}

func (i *Interpreter) execCounted(ctx context.Context, c *compiler.Do, body func() (bool, flow, error)) (flow, error) {
	line := c.Span().Start.Line
	from, err := i.number(ctx, c.From, "DO start")
	if err != nil {
		return flowNext, err
	}
	by := 1.0
	if c.By != nil {
		if by, err = i.number(ctx, c.By, "DO BY"); err != nil {
			return flowNext, err
		}
	}
	var to float64
	if c.To != nil {
		if to, err = i.number(ctx, c.To, "DO TO"); err != nil {
			return flowNext, err
		}
	}
	limit := -1
	if c.For != nil {
		if limit, err = i.wholeNumber(ctx, c.For, "DO FOR"); err != nil {
			return flowNext, err
		}
	}

	cur := from
	for count := 0; ; count++ {
		if c.To != nil && ((by >= 0 && cur > to) || (by < 0 && cur < to)) {
			break
		}
		if limit >= 0 && count >= limit {
			break
		}
		i.assign(c.Control, Num(cur), line)
		if stop, f, err := body(); stop {
			return f, err
		}
		v, _ := i.vars.Lookup(c.Control)
		n, ok := v.Number()
		if !ok {
			return flowNext, fmt.Errorf("loop control variable %s is not a number: %q", c.Control, v.String())
		}
		cur = n + by
	}
	i.vars.Assign(c.Control, Num(cur))
	return flowNext, nil
}

// execInterpret parses a string at run time and executes it in an
// Interpret frame.
func (i *Interpreter) execInterpret(ctx context.Context, c *compiler.Interpret, line int) (flow, error) {
	v, err := i.eval(ctx, c.Code)
	if err != nil {
		return flowNext, err
	}
	code := v.String()

	// Nested INTERPRET code reports the script line the chain started on.
	from := strconv.Itoa(line)
	if outer := i.contexts.MostRecentOfKind(FrameInterpret); outer != nil && outer == i.contexts.Current() {
		from = outer.Details["from"]
	}
	i.contexts.Push(FrameInterpret, line, c.Source(), i.cfg.Filename, map[string]string{"code": code, "from": from})

	prog, err := compiler.Parse(code)
	if err != nil {
		return flowNext, err
	}
	f, err := i.runBlock(ctx, prog)
	if err != nil {
		return flowNext, err
	}
	i.contexts.Pop()
	return f, nil
}

// execExprStmt evaluates an expression statement. While routed, a call to
// a name that is neither a built-in nor a subroutine is sent to the active
// target as a command, and any other non-call expression is sent as a
// message.
func (i *Interpreter) execExprStmt(ctx context.Context, c *compiler.ExprStmt, line int) error {
	if !i.router.Routed() {
		v, err := i.eval(ctx, c.Expr)
		if err != nil {
			return err
		}
		i.last = v
		return nil
	}

	if fc, ok := c.Expr.(*compiler.FunctionCall); ok {
		if i.isFunction(fc.Name) {
			v, err := i.eval(ctx, fc)
			if err != nil {
				return err
			}
			i.last = v
			return nil
		}
		params, err := i.evalArgs(ctx, fc.Args)
		if err != nil {
			return err
		}
		meta := Meta{Kind: MetaCommand, Method: fc.Name, Params: params}
		return i.dispatch(ctx, i.router.Target(), c.Source(), meta, line, c.Source())
	}

	v, err := i.eval(ctx, c.Expr)
	if err != nil {
		return err
	}
	return i.dispatch(ctx, i.router.Target(), v.String(), Meta{Kind: MetaMessage}, line, c.Source())
}

// dispatch sends a message to a target and records RC and RESULT.
func (i *Interpreter) dispatch(ctx context.Context, target, message string, meta Meta, line int, source string) error {
	meta.Line = line
	meta.Source = source
	meta.Filename = i.cfg.Filename

	res, err := i.router.Dispatch(ctx, target, message, i.vars.Snapshot(), meta)
	if err != nil {
		return err
	}

	i.vars.Set(VarRC, Num(float64(res.RC)))
	if !res.Value.IsUndefined() {
		i.vars.Set(VarResult, res.Value)
		i.last = res.Value
		i.tracer.Record(TraceAddress, target+": "+message, line, &res.Value)
	} else {
		i.tracer.Record(TraceAddress, target+": "+message, line, nil)
	}
	return nil
}
