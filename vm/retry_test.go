package vm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// flaky fails with a transient invalidation for the first k calls.
func flaky(k int, final Result) *mockTarget {
	return &mockTarget{
		respond: func(n int, message string, vars map[string]Value) (Result, error) {
			if n <= k {
				return Result{}, NewTransientInvalidation("row 1", fmt.Errorf("stale read %d", n))
			}
			return final, nil
		},
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	for k := 0; k <= 4; k++ {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			target := flaky(k, Result{Value: Str("done")})
			src := `attempts = 0
RETRY_ON_STALE TIMEOUT 5000 PRESERVE attempts
  attempts = attempts + 1
  ADDRESS db "work"
END_RETRY
SAY attempts RESULT
`
			_, _, out := runScript(t, src, withTarget("db", target))

			if len(target.calls) != k+1 {
				t.Errorf("body ran %d times, want %d", len(target.calls), k+1)
			}
			want := fmt.Sprintf("%d done", k+1)
			if strings.TrimSpace(out) != want {
				t.Errorf("output = %q, want %q", out, want)
			}
			last := target.calls[len(target.calls)-1]
			if last.Vars["attempts"].String() != fmt.Sprint(k+1) {
				t.Errorf("final attempt saw attempts = %s", last.Vars["attempts"])
			}
		})
	}
}

func TestRetryKeywordValueForms(t *testing.T) {
	target := flaky(1, Result{})
	src := "n = 0\nRETRY_ON_STALE TIMEOUT=1000 PRESERVE=n\n  n = n + 1\n  ADDRESS db \"x\"\nEND_RETRY\n"
	in, _, _ := runScript(t, src, withTarget("db", target))
	if varString(t, in, "n") != "2" {
		t.Errorf("n = %s", varString(t, in, "n"))
	}
}

func TestRetryTimesOut(t *testing.T) {
	target := flaky(1<<30, Result{})
	src := "RETRY_ON_STALE TIMEOUT 50\n  ADDRESS db \"x\"\nEND_RETRY\n"
	_, err := runScriptErr(t, src, withTarget("db", target), WithRetryBackoff(10*time.Millisecond))

	var timeout *TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if timeout.Attempts < 1 || timeout.Timeout != 50*time.Millisecond {
		t.Errorf("timeout = %+v", timeout)
	}
	if !errors.Is(err, ErrTransientInvalidation) {
		t.Error("timeout should wrap the last transient failure")
	}
	if ErrorKind(err) != "TimeoutError" {
		t.Errorf("ErrorKind = %s", ErrorKind(err))
	}
}

func TestRetryPassesOtherErrorsThrough(t *testing.T) {
	errFatal := errors.New("fatal")
	target := &mockTarget{err: errFatal}
	src := "RETRY_ON_STALE\n  ADDRESS db \"x\"\nEND_RETRY\n"
	_, err := runScriptErr(t, src, withTarget("db", target))
	if !errors.Is(err, errFatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if len(target.calls) != 1 {
		t.Errorf("non-transient failure retried: %d calls", len(target.calls))
	}
}

func TestRetryDiscardsAbandonedFrames(t *testing.T) {
	target := flaky(2, Result{Value: Str("ok")})
	src := `RETRY_ON_STALE
  CALL work
END_RETRY
SAY RESULT
EXIT
work:
  ADDRESS db "x"
  RETURN RESULT
`
	in, _, out := runScript(t, src, withTarget("db", target))
	if strings.TrimSpace(out) != "ok" {
		t.Errorf("output = %q", out)
	}
	if d := in.Contexts().Depth(); d != 1 {
		t.Errorf("context depth = %d, want 1", d)
	}
	if d := in.CallDepth(); d != 0 {
		t.Errorf("call depth = %d, want 0", d)
	}
}

func TestRetryReturnInsideBlock(t *testing.T) {
	src := "CALL f\nSAY RESULT\nEXIT\nf:\n  RETRY_ON_STALE\n    RETURN 'inner'\n  END_RETRY\n  RETURN 'outer'\n"
	_, _, out := runScript(t, src)
	if strings.TrimSpace(out) != "inner" {
		t.Errorf("output = %q", out)
	}
}

// ---- RetryOrchestrator ----

func TestOrchestratorPreservesLatestValues(t *testing.T) {
	vars := NewVariables()
	vars.Set("keep", Num(0))
	vars.Set("other", Str("start"))

	orch := &RetryOrchestrator{Vars: vars}
	var seen []string
	_, err := orch.Run(context.Background(), time.Second, []string{"keep"}, func(ctx context.Context, attempt int) (Value, error) {
		v, _ := vars.Get("keep")
		seen = append(seen, v.String())
		n, _ := v.Number()
		vars.Set("keep", Num(n+10))
		if attempt < 3 {
			return Undefined, NewTransientInvalidation("", nil)
		}
		return Str("ok"), nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.Join(seen, ",") != "0,10,20" {
		t.Errorf("preserved values seen = %v", seen)
	}
}

func TestOrchestratorRecognizesWrappedTransient(t *testing.T) {
	orch := &RetryOrchestrator{Vars: NewVariables()}
	calls := 0
	_, err := orch.Run(context.Background(), time.Second, nil, func(ctx context.Context, attempt int) (Value, error) {
		calls++
		if attempt == 1 {
			return Undefined, fmt.Errorf("query: %w", NewTransientInvalidation("t", nil))
		}
		return Undefined, nil
	})
	if err != nil || calls != 2 {
		t.Errorf("err = %v, calls = %d", err, calls)
	}
}

func TestOrchestratorHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	orch := &RetryOrchestrator{
		Vars:        NewVariables(),
		Backoff:     time.Hour,
		OnTransient: func(int, error) { cancel() },
	}
	_, err := orch.Run(ctx, 2*time.Hour, nil, func(ctx context.Context, attempt int) (Value, error) {
		return Undefined, NewTransientInvalidation("", nil)
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
