package compiler

// ---------------------------------------------------------------------------
// AST: commands and expressions
// ---------------------------------------------------------------------------

// Position represents a source location.
type Position struct {
	Offset int // byte offset within the line
	Line   int // 1-based line number
	Column int // 1-based column number
}

// Span represents a range in source code.
type Span struct {
	Start Position
	End   Position
}

// Node is the interface implemented by all AST nodes.
type Node interface {
	Span() Span
	node() // marker method
}

// ---------------------------------------------------------------------------
// Expression nodes
// ---------------------------------------------------------------------------

// Expr is the interface for expression nodes.
type Expr interface {
	Node
	expr() // marker method
}

// NumberLiteral represents a numeric literal. Text keeps the source form.
type NumberLiteral struct {
	SpanVal Span
	Value   float64
	Text    string
}

func (n *NumberLiteral) Span() Span { return n.SpanVal }
func (n *NumberLiteral) node()      {}
func (n *NumberLiteral) expr()      {}

// StringLiteral represents a quoted string or a heredoc body.
type StringLiteral struct {
	SpanVal Span
	Value   string
	Heredoc bool
}

func (n *StringLiteral) Span() Span { return n.SpanVal }
func (n *StringLiteral) node()      {}
func (n *StringLiteral) expr()      {}

// Variable represents a variable reference.
type Variable struct {
	SpanVal Span
	Name    string
}

func (n *Variable) Span() Span { return n.SpanVal }
func (n *Variable) node()      {}
func (n *Variable) expr()      {}

// FunctionCall represents name(arg, ...). This is the only form through
// which built-in functions are reachable.
type FunctionCall struct {
	SpanVal Span
	Name    string
	Args    []Expr
}

func (n *FunctionCall) Span() Span { return n.SpanVal }
func (n *FunctionCall) node()      {}
func (n *FunctionCall) expr()      {}

// UnaryExpr represents a prefix operator.
type UnaryExpr struct {
	SpanVal Span
	Op      TokenType // TokenMinus, TokenPlus, TokenNot
	Operand Expr
}

func (n *UnaryExpr) Span() Span { return n.SpanVal }
func (n *UnaryExpr) node()      {}
func (n *UnaryExpr) expr()      {}

// BinaryExpr represents an infix operator. Blank concatenation is a
// BinaryExpr with Op == OpBlankConcat.
type BinaryExpr struct {
	SpanVal Span
	Op      string
	Left    Expr
	Right   Expr
}

func (n *BinaryExpr) Span() Span { return n.SpanVal }
func (n *BinaryExpr) node()      {}
func (n *BinaryExpr) expr()      {}

// OpBlankConcat is the operator recorded for "a" b style concatenation.
const OpBlankConcat = " "

// ---------------------------------------------------------------------------
// Command nodes
// ---------------------------------------------------------------------------

// Command is the interface for executable statements. Commands are
// immutable once parsed.
type Command interface {
	Node
	// Source returns the trimmed source text of the command's line.
	Source() string
	command() // marker method
}

// cmdBase carries the location shared by all commands.
type cmdBase struct {
	SpanVal Span
	Text    string
}

func (c *cmdBase) Span() Span     { return c.SpanVal }
func (c *cmdBase) Source() string { return c.Text }
func (c *cmdBase) Line() int      { return c.SpanVal.Start.Line }
func (c *cmdBase) node()          {}
func (c *cmdBase) command()       {}

// Assign represents LET name = expr or name = expr.
type Assign struct {
	cmdBase
	Name  string
	Value Expr
}

// Say writes the value of an expression to the interpreter output.
type Say struct {
	cmdBase
	Value Expr // nil writes an empty line
}

// Call represents CALL name args. Exactly one of Name or Ref is set: Ref
// holds the variable name for the indirect form CALL (var).
type Call struct {
	cmdBase
	Name string
	Ref  string
	Args []Expr
}

// Indirect reports whether the call target is read from a variable.
func (c *Call) Indirect() bool { return c.Ref != "" }

// Return ends a subroutine, or the script at top level.
type Return struct {
	cmdBase
	Value Expr // nil for a bare RETURN
}

// Exit ends the script from any depth.
type Exit struct {
	cmdBase
	Value Expr
}

// Label marks the start of a subroutine.
type Label struct {
	cmdBase
	Name string
}

// AddressSwitch changes the ADDRESS router state. An empty Target resets
// the router to its default state.
type AddressSwitch struct {
	cmdBase
	Target   string
	Matching string // MATCHING regex source, empty when absent
}

// Reset reports whether the command is ADDRESS or ADDRESS DEFAULT.
func (a *AddressSwitch) Reset() bool { return a.Target == "" }

// TextKind distinguishes how an ADDRESS message was written.
type TextKind int

const (
	TextQuoted TextKind = iota
	TextHeredoc
)

// AddressSend sends literal text to a target without changing the router
// state: ADDRESS name "text" or ADDRESS name <<MARK.
type AddressSend struct {
	cmdBase
	Target  string
	Kind    TextKind
	Literal string
}

// MatchedLine is a line that matched the active MATCHING pattern when it
// was parsed. Fallback holds the line parsed as an ordinary statement for
// when no pattern applies at run time; FallbackErr is set instead when the
// line is not a valid statement.
type MatchedLine struct {
	cmdBase
	Raw         string
	Fallback    Command
	FallbackErr *SyntaxError
}

// ParseSource selects where PARSE reads its input.
type ParseSource int

const (
	ParseVar ParseSource = iota
	ParseValue
	ParseArg
)

func (s ParseSource) String() string {
	switch s {
	case ParseVar:
		return "VAR"
	case ParseValue:
		return "VALUE"
	case ParseArg:
		return "ARG"
	}
	return "?"
}

// ParseStmt represents PARSE [UPPER] VAR|VALUE|ARG.
type ParseStmt struct {
	cmdBase
	From     ParseSource
	Upper    bool
	Var      string // for ParseVar
	Input    Expr   // for ParseValue
	Template *Template
}

// Trace sets the trace mode. Mode is normalized to upper case.
type Trace struct {
	cmdBase
	Mode string
}

// RetryBlock re-runs Body while it fails with a transient invalidation.
type RetryBlock struct {
	cmdBase
	TimeoutMS int64 // 0 selects the interpreter default
	Preserve  []string
	Body      []Command
}

// If represents IF cond THEN ... [ELSE ...].
type If struct {
	cmdBase
	Cond Expr
	Then []Command
	Else []Command
}

// LoopKind distinguishes DO forms.
type LoopKind int

const (
	LoopSimple  LoopKind = iota // DO ... END
	LoopCounted                 // DO i = a TO b [BY c] [FOR n]
	LoopRepeat                  // DO n
	LoopWhile                   // DO WHILE cond
	LoopUntil                   // DO UNTIL cond
	LoopForever                 // DO FOREVER
)

// Do represents a DO group or loop.
type Do struct {
	cmdBase
	Kind    LoopKind
	Control string // counted loop variable
	From    Expr
	To      Expr // nil for an open-ended counted loop
	By      Expr
	For     Expr
	Cond    Expr // WHILE/UNTIL condition, or the count for LoopRepeat
	Body    []Command
}

// When is one arm of a SELECT.
type When struct {
	SpanVal Span
	Cond    Expr
	Body    []Command
}

// Select represents SELECT / WHEN / OTHERWISE / END.
type Select struct {
	cmdBase
	Whens     []*When
	Otherwise []Command
	HasOther  bool
}

// Leave exits the innermost loop.
type Leave struct {
	cmdBase
}

// Iterate continues with the next loop iteration.
type Iterate struct {
	cmdBase
}

// Interpret parses and runs the string value of an expression.
type Interpret struct {
	cmdBase
	Code Expr
}

// ExprStmt is an expression used as a statement.
type ExprStmt struct {
	cmdBase
	Expr Expr
}

// Nop does nothing.
type Nop struct {
	cmdBase
}

// Drop unbinds variables.
type Drop struct {
	cmdBase
	Names []string
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// MakeSpan creates a span from start and end positions.
func MakeSpan(start, end Position) Span {
	return Span{Start: start, End: end}
}
