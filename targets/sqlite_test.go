package targets

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/chazu/rexx/vm"
)

func openMemory(t *testing.T) *SQLTarget {
	t.Helper()
	target, err := OpenSQLite(context.Background(), "db", ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { target.DB.Close() })
	return target
}

func TestSQLiteTarget_Statements(t *testing.T) {
	in, out := newScript(t, "db", openMemory(t))

	_, err := in.RunSource(context.Background(), "sql.rexx", `ADDRESS db "CREATE TABLE users (name TEXT, age INTEGER)"
name = "bob"
age = 42
ADDRESS db "INSERT INTO users (name, age) VALUES ({name}, {age})"
SAY RESULT
name = "O'Brien"
ADDRESS db "INSERT INTO users (name, age) VALUES ({name}, 7)"
ADDRESS db "SELECT name, age FROM users ORDER BY age"
SAY RC RESULT.1.name RESULT.2.name RESULT.2.age`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.String() != "1\n0 O'Brien bob 42\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestSQLiteTarget_MatchingLines(t *testing.T) {
	in, out := newScript(t, "db", openMemory(t))

	_, err := in.RunSource(context.Background(), "sql.rexx", `ADDRESS db MATCHING("^SQL (.*)$")
SQL CREATE TABLE kv (k TEXT, v TEXT)
k = "colour"
v = "green"
SQL INSERT INTO kv VALUES ({k}, {v})
SQL SELECT v FROM kv WHERE k = {k}
ADDRESS
SAY RESULT.1.v`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.String() != "green\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestSQLiteTarget_Commands(t *testing.T) {
	in, out := newScript(t, "db", openMemory(t))

	_, err := in.RunSource(context.Background(), "sql.rexx", `ADDRESS db
exec("CREATE TABLE n (x INTEGER)")
exec("INSERT INTO n VALUES (?), (?)", 2, 3)
query("SELECT sum(x) AS s FROM n")
SAY RESULT.1.s`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.String() != "5\n" {
		t.Errorf("output = %q", out.String())
	}

	_, err = in.RunSource(context.Background(), "sql.rexx", "ADDRESS db\ndrop_table('n')")
	if err == nil {
		t.Error("unknown command should fail")
	}
}

func TestSQLiteTarget_UnboundPlaceholder(t *testing.T) {
	in, _ := newScript(t, "db", openMemory(t))
	_, err := in.RunSource(context.Background(), "sql.rexx", `ADDRESS db "SELECT {missing}"`)
	var uv *vm.UndefinedVariableError
	if !errors.As(err, &uv) || uv.Name != "missing" {
		t.Errorf("err = %v", err)
	}
}

func TestSQLiteTarget_BusyIsTransient(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "busy.db") + "?_pragma=busy_timeout(0)"
	target, err := OpenSQLite(context.Background(), "db", dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer target.DB.Close()
	if _, err := target.DB.Exec("CREATE TABLE t (n INTEGER)"); err != nil {
		t.Fatal(err)
	}

	other, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer other.Close()
	lock, err := other.Conn(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer lock.Close()
	if _, err := lock.ExecContext(context.Background(), "BEGIN EXCLUSIVE"); err != nil {
		t.Fatal(err)
	}

	// The first attempt hits the lock; the lock is released as soon as
	// that failure is seen, so the retry succeeds.
	released := false
	wrapped := vm.TargetFunc(func(ctx context.Context, message string, vars map[string]vm.Value, meta vm.Meta) (vm.Result, error) {
		res, err := target.Handle(ctx, message, vars, meta)
		if err != nil && !released {
			if !errors.Is(err, vm.ErrTransientInvalidation) {
				t.Errorf("busy error not transient: %v", err)
			}
			released = true
			if _, cerr := lock.ExecContext(ctx, "COMMIT"); cerr != nil {
				t.Errorf("commit: %v", cerr)
			}
		}
		return res, err
	})

	in, out := newScript(t, "db", wrapped)
	_, err = in.RunSource(context.Background(), "busy.rexx", `attempts = 0
RETRY_ON_STALE TIMEOUT 5000 PRESERVE attempts
  attempts = attempts + 1
  ADDRESS db "INSERT INTO t (n) VALUES ({attempts})"
END_RETRY
ADDRESS db "SELECT n FROM t"
SAY attempts RESULT.1.n`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !released {
		t.Fatal("the exclusive lock never blocked the insert")
	}
	if out.String() != "2 2\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestReturnsRows(t *testing.T) {
	tests := []struct {
		stmt string
		want bool
	}{
		{"SELECT 1", true},
		{"  with x as (select 1) select *", true},
		{"PRAGMA table_info(t)", true},
		{"INSERT INTO t VALUES (1)", false},
		{"INSERT INTO t VALUES (1) RETURNING n", true},
		{"UPDATE t SET n = 2", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := returnsRows(tt.stmt); got != tt.want {
			t.Errorf("returnsRows(%q) = %v, want %v", tt.stmt, got, tt.want)
		}
	}
}
