package vm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/chazu/rexx/compiler"
)

// ---- Routing ----

func TestMatchingDeliversVerbatimMessage(t *testing.T) {
	mock := &mockTarget{}
	src := `x = 5
ADDRESS mock MATCHING("^[ \t]*\. (.*)$")
. {x} should equal 5
`
	runScript(t, src, withTarget("mock", mock))

	if len(mock.calls) != 1 {
		t.Fatalf("expected 1 dispatch, got %d", len(mock.calls))
	}
	call := mock.calls[0]
	if call.Message != "{x} should equal 5" {
		t.Errorf("message = %q", call.Message)
	}
	if v, ok := call.Vars["x"]; !ok || v.String() != "5" {
		t.Errorf("vars snapshot x = %v, %v", v, ok)
	}
	if call.Meta.Kind != MetaMessage || call.Meta.Target != "mock" || call.Meta.Line != 3 {
		t.Errorf("unexpected meta %+v", call.Meta)
	}
	if call.Meta.Pattern == "" {
		t.Error("meta should carry the pattern")
	}
}

func TestMatchingWithoutCaptureGroup(t *testing.T) {
	mock := &mockTarget{}
	runScript(t, "ADDRESS mock MATCHING(\"^>\")\n>   check this\n", withTarget("mock", mock))
	if len(mock.calls) != 1 || mock.calls[0].Message != "check this" {
		t.Fatalf("calls = %+v", mock.calls)
	}
}

func TestNonMatchingLinesRunNormally(t *testing.T) {
	mock := &mockTarget{}
	src := "ADDRESS mock MATCHING(\"^> (.*)$\")\n> routed\nSAY 'local'\n"
	_, _, out := runScript(t, src, withTarget("mock", mock))
	if len(mock.calls) != 1 || mock.calls[0].Message != "routed" {
		t.Errorf("calls = %+v", mock.calls)
	}
	if out != "local\n" {
		t.Errorf("output = %q", out)
	}
}

func TestMatchingAppliesToEarlierSubroutines(t *testing.T) {
	mock := &mockTarget{}
	src := `CALL main
EXIT
check:
> hello
RETURN
main:
ADDRESS mock MATCHING("^> (.*)$")
CALL check
RETURN
`
	runScript(t, src, withTarget("mock", mock))
	if len(mock.calls) != 1 || mock.calls[0].Message != "hello" {
		t.Fatalf("calls = %+v", mock.calls)
	}
}

func TestMatchingUsesLineAsWritten(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"> open http://example.com/x", "open http://example.com/x"},
		{"> a -- b", "a -- b"},
		{"> c /* d */", "c /* d */"},
	}
	for _, tt := range tests {
		mock := &mockTarget{}
		runScript(t, "ADDRESS mock MATCHING(\"^> (.*)$\")\n"+tt.line+"\n", withTarget("mock", mock))
		if len(mock.calls) != 1 || mock.calls[0].Message != tt.want {
			t.Errorf("%q: calls = %+v", tt.line, mock.calls)
		}
	}
}

func TestUnroutedCandidateFailsAtRunTime(t *testing.T) {
	mock := &mockTarget{}
	src := "ADDRESS mock MATCHING(\"^> (.*)$\")\n> one\nADDRESS\n> two\n"
	_, err := runScriptErr(t, src, withTarget("mock", mock))
	var syn *compiler.SyntaxError
	if !errors.As(err, &syn) || syn.Line != 4 {
		t.Fatalf("err = %v, want a syntax error on line 4", err)
	}
	if len(mock.calls) != 1 || mock.calls[0].Message != "one" {
		t.Errorf("calls = %+v", mock.calls)
	}
}

func TestAddressReset(t *testing.T) {
	for _, reset := range []string{"ADDRESS", "ADDRESS DEFAULT"} {
		t.Run(reset, func(t *testing.T) {
			mock := &mockTarget{}
			src := "ADDRESS mock MATCHING(\"^SAY (.*)$\")\nSAY \"first\"\n" + reset + "\nSAY \"second\"\n"
			in, _, out := runScript(t, src, withTarget("mock", mock))

			if len(mock.calls) != 1 || mock.calls[0].Message != `"first"` {
				t.Errorf("calls = %+v", mock.calls)
			}
			if out != "second\n" {
				t.Errorf("output = %q", out)
			}
			if in.Router().Routed() {
				t.Error("router should be reset")
			}
		})
	}
}

func TestAddressLiteralDispatchesOnce(t *testing.T) {
	for _, setup := range []string{"ADDRESS mock", "ADDRESS mock MATCHING(\"^.*$\")"} {
		mock := &mockTarget{}
		runScript(t, setup+"\nADDRESS mock \"literal text\"\n", withTarget("mock", mock))
		if len(mock.calls) != 1 {
			t.Fatalf("%s: expected 1 dispatch, got %d", setup, len(mock.calls))
		}
		if mock.calls[0].Message != "literal text" {
			t.Errorf("%s: message = %q", setup, mock.calls[0].Message)
		}
	}
}

func TestAddressHeredocSend(t *testing.T) {
	mock := &mockTarget{}
	src := "ADDRESS mock <<EOT\nline one\nline {two}\nEOT\n"
	runScript(t, src, withTarget("mock", mock))
	if len(mock.calls) != 1 || mock.calls[0].Message != "line one\nline {two}" {
		t.Fatalf("calls = %+v", mock.calls)
	}
}

func TestRoutedCommandsAndMessages(t *testing.T) {
	mock := &mockTarget{}
	src := `ADDRESS mock
create_user("bob", 42)
"free text"
n = LENGTH("abc")
`
	in, _, _ := runScript(t, src, withTarget("mock", mock))

	if len(mock.calls) != 2 {
		t.Fatalf("expected 2 dispatches, got %d", len(mock.calls))
	}
	cmd := mock.calls[0]
	if cmd.Meta.Kind != MetaCommand || cmd.Meta.Method != "create_user" {
		t.Errorf("command meta = %+v", cmd.Meta)
	}
	if len(cmd.Meta.Params) != 2 || cmd.Meta.Params[0].String() != "bob" || cmd.Meta.Params[1].String() != "42" {
		t.Errorf("params = %v", cmd.Meta.Params)
	}
	if cmd.Message != `create_user("bob", 42)` {
		t.Errorf("command message = %q", cmd.Message)
	}
	if msg := mock.calls[1]; msg.Meta.Kind != MetaMessage || msg.Message != "free text" {
		t.Errorf("message call = %+v", msg)
	}
	if varString(t, in, "n") != "3" {
		t.Error("assignment should not be routed")
	}
}

func TestInvalidPatternFallsBackToCommands(t *testing.T) {
	mock := &mockTarget{}
	runScript(t, "ADDRESS mock MATCHING(\"([\")\ndo_thing(1)\n", withTarget("mock", mock))
	if len(mock.calls) != 1 || mock.calls[0].Meta.Kind != MetaCommand {
		t.Fatalf("calls = %+v", mock.calls)
	}
	if mock.calls[0].Meta.Pattern != "" {
		t.Error("invalid pattern should not be kept")
	}
}

// ---- Results and errors ----

func TestAddressSetsRCAndResult(t *testing.T) {
	mock := &mockTarget{result: Result{RC: 3, Value: Str("ok")}}
	in, _, _ := runScript(t, "ADDRESS mock \"x\"\n", withTarget("mock", mock))
	if varString(t, in, VarRC) != "3" || varString(t, in, VarResult) != "ok" {
		t.Errorf("RC = %s, RESULT = %s", varString(t, in, VarRC), varString(t, in, VarResult))
	}
}

func TestAddressUnknownTarget(t *testing.T) {
	_, err := runScriptErr(t, "ADDRESS nowhere \"x\"\n")
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Kind != "address target" || nf.Name != "nowhere" {
		t.Fatalf("expected address target NotFoundError, got %v", err)
	}
}

func TestAddressHandlerErrorPassesThrough(t *testing.T) {
	errBoom := errors.New("boom")
	mock := &mockTarget{err: errBoom}
	_, err := runScriptErr(t, "ADDRESS mock \"x\"\n", withTarget("mock", mock))
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected handler error, got %v", err)
	}
}

func TestHandlerReceivesSnapshot(t *testing.T) {
	mutate := TargetFunc(func(ctx context.Context, msg string, vars map[string]Value, meta Meta) (Result, error) {
		vars["x"] = Str("changed")
		return Result{}, nil
	})
	_, _, out := runScript(t, "x = 5\nADDRESS m \"go\"\nSAY x\n", withTarget("m", mutate))
	if strings.TrimSpace(out) != "5" {
		t.Errorf("handler mutation leaked: %q", out)
	}
}

func TestAddressIntrinsic(t *testing.T) {
	_, _, out := runScript(t, "SAY '['ADDRESS()']'\nADDRESS mock\nSAY ADDRESS()\n", withTarget("mock", &mockTarget{}))
	if out != "[]\nmock\n" {
		t.Errorf("output = %q", out)
	}
}

// ---- Registry and helpers ----

func TestTargetRegistry(t *testing.T) {
	reg := NewTargetRegistry()
	reg.Register("Echo", &mockTarget{}, []string{"send"}, map[string]string{"kind": "echo"})
	reg.Register("sql", &mockTarget{}, nil, nil)

	r, ok := reg.Lookup("ECHO")
	if !ok || r.Name != "Echo" || r.Metadata["kind"] != "echo" {
		t.Fatalf("Lookup(ECHO) = %+v, %v", r, ok)
	}
	if names := reg.Registrations(); len(names) != 2 || names[0].Name != "Echo" {
		t.Errorf("Registrations() = %+v", names)
	}

	reg.Unregister("echo")
	if _, ok := reg.Lookup("Echo"); ok {
		t.Error("Echo should be unregistered")
	}
}

func TestInterpolate(t *testing.T) {
	vars := map[string]Value{"x": Num(5), "user.name": Str("bob")}
	tests := []struct {
		in   string
		want string
	}{
		{"{x} should equal 5", "5 should equal 5"},
		{"hello {user.name}", "hello bob"},
		{"{missing} stays", "{missing} stays"},
		{"no placeholders", "no placeholders"},
	}
	for _, tt := range tests {
		if got := Interpolate(tt.in, vars); got != tt.want {
			t.Errorf("Interpolate(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRouterMatch(t *testing.T) {
	r := NewRouter(NewTargetRegistry())
	if _, ok := r.Match("anything"); ok {
		t.Error("an unrouted router matches nothing")
	}
	r.Switch("t", `^\s*assert (.*)$`)
	if msg, ok := r.Match("  assert a = b"); !ok || msg != "a = b" {
		t.Errorf("Match = %q, %v", msg, ok)
	}
	if _, ok := r.Match("other"); ok {
		t.Error("non-matching line matched")
	}
	r.Reset()
	if r.Routed() || r.Pattern() != "" {
		t.Error("Reset should clear target and pattern")
	}
}
