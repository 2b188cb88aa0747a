package vm

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestCallBindsArguments(t *testing.T) {
	src := `x = 7
CALL show "a b" 42 x
EXIT
show:
  RETURN ARG.0
`
	in, _, _ := runScript(t, src)

	want := map[string]string{
		"ARG.0":  "3",
		"ARG.1":  "a b",
		"ARG.2":  "42",
		"ARG.3":  "7",
		"RESULT": "3",
	}
	for name, w := range want {
		if got := varString(t, in, name); got != w {
			t.Errorf("%s = %q, want %q", name, got, w)
		}
	}
}

func TestCallArgumentCountProperty(t *testing.T) {
	for n := 0; n <= 6; n++ {
		args := make([]string, n)
		for k := range args {
			args[k] = "'v" + strings.Repeat("x", k) + "'"
		}
		src := "CALL count " + strings.Join(args, ", ") + "\nEXIT\ncount:\n  RETURN\n"
		in, _, _ := runScript(t, src)
		if got := varString(t, in, "ARG.0"); got != itoa(n) {
			t.Errorf("n=%d: ARG.0 = %s", n, got)
		}
		for k := 1; k <= n; k++ {
			if got := varString(t, in, ArgName(k)); got != "v"+strings.Repeat("x", k-1) {
				t.Errorf("n=%d: ARG.%d = %q", n, k, got)
			}
		}
		if _, ok := in.Vars().Get(ArgName(n + 1)); ok {
			t.Errorf("n=%d: ARG.%d should be unbound", n, n+1)
		}
	}
}

func itoa(n int) string { return Num(float64(n)).String() }

func TestCallSharesVariables(t *testing.T) {
	src := `CALL setx
SAY x
EXIT
setx:
  LET x = 5
  RETURN
`
	_, _, out := runScript(t, src)
	if strings.TrimSpace(out) != "5" {
		t.Errorf("output = %q, want 5", out)
	}
}

func TestCallSetsResult(t *testing.T) {
	src := "CallSub: RETURN 42\nCALL CallSub\nLET r = RESULT\n"
	in, _, _ := runScript(t, src)
	if got := varString(t, in, "r"); got != "42" {
		t.Errorf("r = %q, want 42", got)
	}
}

func TestCallResultForms(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "implicit value",
			src:  "CALL f\nSAY RESULT\nEXIT\nf:\n  \"implicit\"\n",
			want: "implicit",
		},
		{
			name: "valueless return drops RESULT",
			src:  "RESULT = 5\nCALL f\nSAY SYMBOL('RESULT')\nEXIT\nf:\n  RETURN\n",
			want: "LIT",
		},
		{
			name: "function position",
			src:  "SAY double(21)\nEXIT\ndouble:\n  RETURN ARG.1 * 2\n",
			want: "42",
		},
		{
			name: "case insensitive names",
			src:  "CALL GREET\nSAY RESULT\nEXIT\nGreet:\n  RETURN 'hello'\n",
			want: "hello",
		},
		{
			name: "ends at next label",
			src:  "CALL first\nSAY RESULT\nEXIT\nfirst:\n  a = 1\nsecond:\n  RETURN 2\n",
			want: "RESULT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, out := runScript(t, tt.src)
			if got := strings.TrimSpace(out); got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCallIndirect(t *testing.T) {
	src := `target = "greet"
CALL (target) "bob"
SAY RESULT
EXIT
greet:
  RETURN "hi" ARG.1
`
	_, _, out := runScript(t, src)
	if strings.TrimSpace(out) != "hi bob" {
		t.Errorf("output = %q", out)
	}

	in, err := runScriptErr(t, "CALL (nothing)\n")
	var undef *UndefinedVariableError
	if !errors.As(err, &undef) || undef.Name != "nothing" {
		t.Fatalf("expected UndefinedVariableError for nothing, got %v", err)
	}
	frames := in.Contexts().Frames()
	if len(frames) != 2 || frames[1].Kind != FrameSubroutine || frames[1].Line != 1 {
		t.Errorf("unexpected frames %+v", frames)
	}
}

func TestCallUnknownSubroutine(t *testing.T) {
	for _, src := range []string{"CALL missing", "CALL LENGTH 'abc'"} {
		_, err := runScriptErr(t, src)
		if !IsUndefinedSubroutine(err) {
			t.Errorf("%s: expected undefined subroutine, got %v", src, err)
		}
		if ErrorKind(err) != "UndefinedSubroutineError" {
			t.Errorf("%s: ErrorKind = %s", src, ErrorKind(err))
		}
	}

	_, err := runScriptErr(t, "SAY nosuch(1)")
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Kind != "function" {
		t.Errorf("expected function NotFoundError, got %v", err)
	}
}

func TestCallDepthLimit(t *testing.T) {
	src := "CALL loop\nEXIT\nloop:\n  CALL loop\n  RETURN\n"
	_, err := runScriptErr(t, src, WithMaxCallDepth(10))
	var depth *CallDepthError
	if !errors.As(err, &depth) {
		t.Fatalf("expected CallDepthError, got %v", err)
	}
	if depth.Limit != 10 {
		t.Errorf("Limit = %d", depth.Limit)
	}

	var ex *ExecutionError
	if !errors.As(err, &ex) || len(ex.Frames) == 0 {
		t.Fatalf("expected frames on %v", err)
	}
	top := ex.Frames[len(ex.Frames)-1]
	if top.Kind != FrameSubroutine || top.Details["name"] != "loop" || top.Line != 4 {
		t.Errorf("top frame = %+v, want the refused call to loop at line 4", top)
	}
}

func TestCallPopsFramesOnSuccess(t *testing.T) {
	src := "CALL a\nEXIT\na:\n  CALL b\n  RETURN\nb:\n  RETURN 1\n"
	in, _, _ := runScript(t, src)
	if d := in.Contexts().Depth(); d != 1 {
		t.Errorf("context depth = %d, want 1", d)
	}
	if d := in.CallDepth(); d != 0 {
		t.Errorf("call depth = %d, want 0", d)
	}
}

func TestCallFromHost(t *testing.T) {
	in, _, _ := runScript(t, "EXIT\nadd:\n  RETURN ARG.1 + ARG.2\nname:\n  RETURN 'add'\n")

	v, err := in.Call(context.Background(), "add", Num(2), Num(3))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if v.String() != "5" || varString(t, in, VarResult) != "5" {
		t.Errorf("Call result %s, RESULT %s", v, varString(t, in, VarResult))
	}

	in.Vars().Set("which", Str("add"))
	v, err = in.CallIndirect(context.Background(), "which", Num(10), Num(1))
	if err != nil {
		t.Fatalf("CallIndirect: %v", err)
	}
	if v.String() != "11" {
		t.Errorf("CallIndirect result %s", v)
	}

	if _, err := in.Call(context.Background(), "absent"); !IsUndefinedSubroutine(err) {
		t.Errorf("expected undefined subroutine, got %v", err)
	}
}

func TestSubroutineTable(t *testing.T) {
	in, _, _ := runScript(t, "EXIT\none:\n  RETURN 1\ntwo:\n  x = 2\nthree: RETURN 3\n")
	subs := map[string]Subroutine{}
	for _, s := range in.Subroutines() {
		subs[s.Name] = s
	}
	if len(subs) != 3 {
		t.Fatalf("expected 3 subroutines, got %v", subs)
	}
	if subs["one"].End-subs["one"].Start != 1 {
		t.Errorf("one should hold one command: %+v", subs["one"])
	}
	if subs["two"].End != subs["three"].Start-1 {
		t.Errorf("two should end at the next label: %+v %+v", subs["two"], subs["three"])
	}
}
