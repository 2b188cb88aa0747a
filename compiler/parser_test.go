package compiler

import (
	"fmt"
	"strings"
	"testing"
)

func mustParse(t *testing.T, src string) []Command {
	t.Helper()
	cmds, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse(%q): %v", src, err)
	}
	return cmds
}

func parseOne(t *testing.T, src string) Command {
	t.Helper()
	cmds := mustParse(t, src)
	if len(cmds) != 1 {
		t.Fatalf("Parse(%q): expected 1 command, got %d", src, len(cmds))
	}
	return cmds[0]
}

// exprString renders an expression tree with explicit grouping.
func exprString(e Expr) string {
	switch n := e.(type) {
	case *NumberLiteral:
		return n.Text
	case *StringLiteral:
		return "'" + n.Value + "'"
	case *Variable:
		return n.Name
	case *FunctionCall:
		args := make([]string, len(n.Args))
		for i, a := range n.Args {
			args[i] = exprString(a)
		}
		return n.Name + "(" + strings.Join(args, ", ") + ")"
	case *UnaryExpr:
		return "(" + n.Op.String() + exprString(n.Operand) + ")"
	case *BinaryExpr:
		op := n.Op
		if op == OpBlankConcat {
			op = "_"
		}
		return "(" + exprString(n.Left) + " " + op + " " + exprString(n.Right) + ")"
	}
	return "?"
}

// ---- Expressions ----

func TestParseExpressionPrecedence(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"1 + 2 * 3", "(1 + (2 * 3))"},
		{"(1 + 2) * 3", "((1 + 2) * 3)"},
		{"2 ** 3 ** 2", "((2 ** 3) ** 2)"},
		{"-2 ** 2", "((-2) ** 2)"},
		{"a = 1 & b = 2 | c", "(((a = 1) & (b = 2)) | c)"},
		{"a || b c", "((a || b) _ c)"},
		{`"x"'y'`, "('x' || 'y')"},
		{"x + 1 > y", "((x + 1) > y)"},
		{"a \\= b", "(a \\= b)"},
		{"\\ok", "(\\ok)"},
		{"f(1, g(2))", "f(1, g(2))"},
		{"f (1)", "(f _ 1)"},
		{"stem.i + ARG.1", "(stem.i + ARG.1)"},
		{"10 % 3", "(10 % 3)"},
	}

	for _, tt := range tests {
		e, err := ParseExpression(tt.src)
		if err != nil {
			t.Errorf("ParseExpression(%q): %v", tt.src, err)
			continue
		}
		if got := exprString(e); got != tt.want {
			t.Errorf("ParseExpression(%q) = %s, want %s", tt.src, got, tt.want)
		}
	}
}

func TestParseExpressionErrors(t *testing.T) {
	for _, src := range []string{"1 +", "(1", "f(1,", "1 )", ""} {
		if _, err := ParseExpression(src); err == nil {
			t.Errorf("ParseExpression(%q): expected error", src)
		}
	}
}

// ---- Statements ----

func TestParseAssignments(t *testing.T) {
	for _, src := range []string{"x = 1", "LET x = 1", "let x = 1"} {
		a, ok := parseOne(t, src).(*Assign)
		if !ok || a.Name != "x" || exprString(a.Value) != "1" {
			t.Errorf("%q: got %#v", src, a)
		}
	}
	if _, err := Parse("LET 5 = 1"); err == nil {
		t.Error("LET needs a variable name")
	}
}

func TestParseCall(t *testing.T) {
	tests := []struct {
		src  string
		name string
		ref  string
		args []string
	}{
		{"CALL f", "f", "", nil},
		{`CALL f "a b" 42 x`, "f", "", []string{"'a b'", "42", "x"}},
		{"CALL f 1, 2", "f", "", []string{"1", "2"}},
		{"CALL f (1 2)", "f", "", []string{"(1 _ 2)"}},
		{"CALL f x||y", "f", "", []string{"(x || y)"}},
		{"CALL (target) 1", "", "target", []string{"1"}},
		{`CALL "lib/util.rexx" a`, "lib/util.rexx", "", []string{"a"}},
	}

	for _, tt := range tests {
		c, ok := parseOne(t, tt.src).(*Call)
		if !ok {
			t.Errorf("%q: not a Call", tt.src)
			continue
		}
		if c.Name != tt.name || c.Ref != tt.ref {
			t.Errorf("%q: name %q ref %q", tt.src, c.Name, c.Ref)
		}
		if c.Indirect() != (tt.ref != "") {
			t.Errorf("%q: Indirect() = %v", tt.src, c.Indirect())
		}
		if len(c.Args) != len(tt.args) {
			t.Errorf("%q: %d args, want %d", tt.src, len(c.Args), len(tt.args))
			continue
		}
		for i, a := range c.Args {
			if exprString(a) != tt.args[i] {
				t.Errorf("%q: arg %d = %s, want %s", tt.src, i, exprString(a), tt.args[i])
			}
		}
	}
}

func TestParseLabels(t *testing.T) {
	cmds := mustParse(t, "main:\nCallSub: RETURN 42\n")
	if len(cmds) != 3 {
		t.Fatalf("expected 3 commands, got %d", len(cmds))
	}
	if l, ok := cmds[1].(*Label); !ok || l.Name != "CallSub" {
		t.Errorf("cmds[1] = %#v", cmds[1])
	}
	if r, ok := cmds[2].(*Return); !ok || exprString(r.Value) != "42" || r.Span().Start.Line != 2 {
		t.Errorf("cmds[2] = %#v", cmds[2])
	}

	_, err := Parse("DO 2\n  inner:\nEND")
	if err == nil || !strings.Contains(err.Error(), "label inner inside a block") {
		t.Errorf("label in block: %v", err)
	}
}

func TestParseAddressForms(t *testing.T) {
	tests := []struct {
		src      string
		reset    bool
		target   string
		matching string
	}{
		{"ADDRESS", true, "", ""},
		{"ADDRESS DEFAULT", true, "", ""},
		{"ADDRESS sql", false, "sql", ""},
		{`ADDRESS "my target"`, false, "my target", ""},
		{`ADDRESS t MATCHING("^> (.*)$")`, false, "t", "^> (.*)$"},
		{`ADDRESS t MATCHING '^x'`, false, "t", "^x"},
	}
	for _, tt := range tests {
		s, ok := parseOne(t, tt.src).(*AddressSwitch)
		if !ok {
			t.Errorf("%q: not an AddressSwitch", tt.src)
			continue
		}
		if s.Reset() != tt.reset || s.Target != tt.target || s.Matching != tt.matching {
			t.Errorf("%q: %+v", tt.src, s)
		}
	}

	send, ok := parseOne(t, `ADDRESS sql "SELECT 1"`).(*AddressSend)
	if !ok || send.Target != "sql" || send.Literal != "SELECT 1" || send.Kind != TextQuoted {
		t.Errorf("quoted send = %#v", send)
	}
	send, ok = parseOne(t, "ADDRESS sql <<Q\nSELECT *\nFROM t\nQ").(*AddressSend)
	if !ok || send.Literal != "SELECT *\nFROM t" || send.Kind != TextHeredoc {
		t.Errorf("heredoc send = %#v", send)
	}
}

func TestParseMatchingLines(t *testing.T) {
	src := `ADDRESS t MATCHING("^[ \t]*\. (.*)$")
. {x} should equal 5
  x = 1
ADDRESS t "direct"
. again
ADDRESS
. decided at run time`
	cmds := mustParse(t, src)
	if len(cmds) != 7 {
		t.Fatalf("expected 7 commands, got %d", len(cmds))
	}
	m, ok := cmds[1].(*MatchedLine)
	if !ok || m.Raw != ". {x} should equal 5" || m.FallbackErr == nil {
		t.Errorf("cmds[1] = %#v", cmds[1])
	}
	if _, ok := cmds[2].(*Assign); !ok {
		t.Errorf("non-matching line should parse normally: %#v", cmds[2])
	}
	if _, ok := cmds[3].(*AddressSend); !ok {
		t.Errorf("ADDRESS lines are never matched: %#v", cmds[3])
	}
	if _, ok := cmds[4].(*MatchedLine); !ok {
		t.Errorf("matching continues after a one-shot send: %#v", cmds[4])
	}
	last, ok := cmds[6].(*MatchedLine)
	if !ok || last.FallbackErr == nil || last.FallbackErr.Line != 7 {
		t.Errorf("a line after the reset is still a candidate: %#v", cmds[6])
	}
}

func TestParseMatchingCandidates(t *testing.T) {
	src := "check:\n> hello\nRETURN\nDO i = 1 TO 2\n> loop\nEND\nADDRESS t MATCHING(\"^> (.*)$\")\nCALL check\n"
	cmds := mustParse(t, src)

	tests := []struct {
		idx  int
		want string
	}{
		{0, "*compiler.Label"},
		{1, "*compiler.MatchedLine"},
		{2, "*compiler.Return"},
		{3, "*compiler.Do"},
		{4, "*compiler.AddressSwitch"},
		{5, "*compiler.Call"},
	}
	if len(cmds) != len(tests) {
		t.Fatalf("expected %d commands, got %d", len(tests), len(cmds))
	}
	for _, tt := range tests {
		if got := fmt.Sprintf("%T", cmds[tt.idx]); got != tt.want {
			t.Errorf("cmds[%d] = %s, want %s", tt.idx, got, tt.want)
		}
	}
	loop := cmds[3].(*Do)
	if len(loop.Body) != 1 {
		t.Fatalf("loop body = %#v", loop.Body)
	}
	if _, ok := loop.Body[0].(*MatchedLine); !ok {
		t.Errorf("loop body line should be a candidate: %#v", loop.Body[0])
	}
}

func TestParseMatchedLineKeepsComments(t *testing.T) {
	cmds := mustParse(t, "ADDRESS t MATCHING(\"^> (.*)$\")\n> open http://example.com/x\n")
	m, ok := cmds[1].(*MatchedLine)
	if !ok {
		t.Fatalf("cmds[1] = %#v", cmds[1])
	}
	if m.Raw != "> open http://example.com/x" {
		t.Errorf("Raw = %q", m.Raw)
	}
}

func TestParseMatchedLineWithLabel(t *testing.T) {
	cmds := mustParse(t, "ADDRESS t MATCHING(\"^here: (.*)$\")\nhere: SAY 'x'\n")
	if len(cmds) != 3 {
		t.Fatalf("expected 3 commands, got %d", len(cmds))
	}
	if l, ok := cmds[1].(*Label); !ok || l.Name != "here" {
		t.Errorf("cmds[1] = %#v", cmds[1])
	}
	if m, ok := cmds[2].(*MatchedLine); !ok || m.Fallback == nil {
		t.Errorf("cmds[2] = %#v", cmds[2])
	}
}

func TestParseMatchedLineFallback(t *testing.T) {
	cmds := mustParse(t, "ADDRESS t MATCHING(\"^SAY (.*)$\")\nSAY 'hi'\n")
	m := cmds[1].(*MatchedLine)
	if m.FallbackErr != nil {
		t.Fatalf("FallbackErr = %v", m.FallbackErr)
	}
	if _, ok := m.Fallback.(*Say); !ok {
		t.Errorf("Fallback = %#v", m.Fallback)
	}
}

func TestParseInvalidMatchingPattern(t *testing.T) {
	cmds := mustParse(t, "ADDRESS t MATCHING(\"([\")\nx = 1\n")
	if _, ok := cmds[1].(*Assign); !ok {
		t.Errorf("invalid pattern should not route lines: %#v", cmds[1])
	}
}

func TestParseParse(t *testing.T) {
	tests := []struct {
		src   string
		from  ParseSource
		upper bool
		tmpl  string
	}{
		{"PARSE VAR line first rest", ParseVar, false, "first rest"},
		{"PARSE UPPER VAR line first", ParseVar, true, "first"},
		{`PARSE VALUE a || b WITH x "," y`, ParseValue, false, `x "," y`},
		{"PARSE VALUE WITH x", ParseValue, false, "x"},
		{"PARSE ARG a, b", ParseArg, false, "a, b"},
		{"PARSE UPPER ARG a", ParseArg, true, "a"},
	}
	for _, tt := range tests {
		p, ok := parseOne(t, tt.src).(*ParseStmt)
		if !ok {
			t.Errorf("%q: not a Parse", tt.src)
			continue
		}
		if p.From != tt.from || p.Upper != tt.upper || p.Template.Source != tt.tmpl {
			t.Errorf("%q: from %s upper %v template %q", tt.src, p.From, p.Upper, p.Template.Source)
		}
	}

	for _, bad := range []string{"PARSE", "PARSE VALUE 1", "PARSE VAR", `PARSE ARG "open`} {
		if _, err := Parse(bad); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
}

func TestParseTrace(t *testing.T) {
	for src, want := range map[string]string{"TRACE A": "A", "TRACE off": "OFF", "TRACE 'Results'": "R", "TRACE Intermediates": "I"} {
		tr, ok := parseOne(t, src).(*Trace)
		if !ok || tr.Mode != want {
			t.Errorf("%q: %#v", src, tr)
		}
	}
	if _, err := Parse("TRACE Sideways"); err == nil {
		t.Error("unknown trace mode should fail")
	}
}

func TestParseRetryBlock(t *testing.T) {
	src := "RETRY_ON_STALE TIMEOUT 250 PRESERVE a, b\n  x = 1\n  CALL f\nEND_RETRY"
	r, ok := parseOne(t, src).(*RetryBlock)
	if !ok {
		t.Fatal("not a RetryBlock")
	}
	if r.TimeoutMS != 250 || strings.Join(r.Preserve, ",") != "a,b" || len(r.Body) != 2 {
		t.Errorf("retry = %+v", r)
	}

	r = parseOne(t, "RETRY_ON_STALE PRESERVE=n TIMEOUT=10\nEND_RETRY").(*RetryBlock)
	if r.TimeoutMS != 10 || len(r.Preserve) != 1 {
		t.Errorf("key=value form = %+v", r)
	}

	_, err := Parse("RETRY_ON_STALE\n  x = 1\n")
	se, ok := err.(*SyntaxError)
	if !ok || !se.Incomplete || se.Line != 1 {
		t.Errorf("missing END_RETRY: %v", err)
	}
}

func TestParseIf(t *testing.T) {
	i := parseOne(t, "IF x THEN SAY 1 ELSE SAY 2").(*If)
	if len(i.Then) != 1 || len(i.Else) != 1 {
		t.Errorf("inline if = %+v", i)
	}

	i = parseOne(t, "IF x THEN SAY 1\nELSE SAY 2").(*If)
	if len(i.Else) != 1 {
		t.Errorf("else on next line = %+v", i)
	}

	src := "IF a THEN\n  x = 1\n  y = 2\nELSE IF b THEN\n  z = 3\nELSE\n  w = 4\nENDIF"
	i = parseOne(t, src).(*If)
	if len(i.Then) != 2 || len(i.Else) != 1 {
		t.Fatalf("block if = %+v", i)
	}
	nested := i.Else[0].(*If)
	if len(nested.Then) != 1 || len(nested.Else) != 1 {
		t.Errorf("else if = %+v", nested)
	}

	_, err := Parse("IF a THEN\n  x = 1\n")
	if se, ok := err.(*SyntaxError); !ok || !se.Incomplete {
		t.Errorf("missing ENDIF: %v", err)
	}
}

func TestParseDo(t *testing.T) {
	tests := []struct {
		src  string
		kind LoopKind
	}{
		{"DO\nEND", LoopSimple},
		{"DO FOREVER\nEND", LoopForever},
		{"DO 3\nEND", LoopRepeat},
		{"DO WHILE x < 3\nEND", LoopWhile},
		{"DO UNTIL done\nEND", LoopUntil},
		{"DO i = 1 TO 10 BY 2 FOR 3\nEND i", LoopCounted},
	}
	for _, tt := range tests {
		d, ok := parseOne(t, tt.src).(*Do)
		if !ok || d.Kind != tt.kind {
			t.Errorf("%q: %#v", tt.src, d)
		}
	}

	d := parseOne(t, "DO i = 1 TO n\n  LEAVE\n  ITERATE i\nEND").(*Do)
	if d.Control != "i" || d.To == nil || d.By != nil || len(d.Body) != 2 {
		t.Errorf("counted = %+v", d)
	}

	if _, err := Parse("DO i = 1 TO 5 )\nEND"); err == nil {
		t.Error("stray token in DO header should fail")
	}
}

func TestParseSelect(t *testing.T) {
	src := "SELECT\n  WHEN a THEN x = 1\n  WHEN b THEN\n    x = 2\n    y = 3\n  OTHERWISE\n    x = 4\nEND"
	s := parseOne(t, src).(*Select)
	if len(s.Whens) != 2 || !s.HasOther || len(s.Otherwise) != 1 {
		t.Fatalf("select = %+v", s)
	}
	if len(s.Whens[1].Body) != 2 {
		t.Errorf("second WHEN body = %d commands", len(s.Whens[1].Body))
	}

	if _, err := Parse("SELECT\n  x = 1\nEND"); err == nil {
		t.Error("statements outside WHEN should fail")
	}
}

func TestParseMisc(t *testing.T) {
	cmds := mustParse(t, "NOP\nDROP a b\nINTERPRET code\nSAY\nEXIT 1\nRETURN\nf(1)")
	kinds := []string{"*compiler.Nop", "*compiler.Drop", "*compiler.Interpret", "*compiler.Say", "*compiler.Exit", "*compiler.Return", "*compiler.ExprStmt"}
	if len(cmds) != len(kinds) {
		t.Fatalf("expected %d commands, got %d", len(kinds), len(cmds))
	}
	for i, cmd := range cmds {
		if got := fmt.Sprintf("%T", cmd); got != kinds[i] {
			t.Errorf("cmds[%d] = %s, want %s", i, got, kinds[i])
		}
	}
	if d := cmds[1].(*Drop); strings.Join(d.Names, " ") != "a b" {
		t.Errorf("DROP names = %v", d.Names)
	}
	if cmds[3].(*Say).Value != nil || cmds[5].(*Return).Value != nil {
		t.Error("bare SAY and RETURN have no value")
	}
}

func TestParseSourceText(t *testing.T) {
	cmds := mustParse(t, "  x = 1   -- note\n\n  SAY x")
	if cmds[0].Source() != "x = 1" || cmds[1].Source() != "SAY x" {
		t.Errorf("sources = %q, %q", cmds[0].Source(), cmds[1].Source())
	}
	if cmds[1].Span().Start.Line != 3 {
		t.Errorf("line = %d", cmds[1].Span().Start.Line)
	}
}

func TestParseErrorsReportLine(t *testing.T) {
	tests := []struct {
		src  string
		line int
	}{
		{"x = 1\ny = (2", 2},
		{"SAY 1\nSAY 2\nEND", 3},
		{"x = 1\nELSE", 2},
		{"x = 'open", 1},
		{"CALL", 1},
	}
	for _, tt := range tests {
		_, err := Parse(tt.src)
		se, ok := err.(*SyntaxError)
		if !ok {
			t.Errorf("%q: expected SyntaxError, got %v", tt.src, err)
			continue
		}
		if se.Line != tt.line {
			t.Errorf("%q: line %d, want %d", tt.src, se.Line, tt.line)
		}
	}
}
