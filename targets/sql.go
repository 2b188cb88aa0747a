package targets

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"

	"github.com/chazu/rexx/vm"
)

// SQLTarget runs each message as one SQL statement against a database/sql
// handle. {name} placeholders become bind parameters taken from the
// script's variables, so values are never spliced into the statement text.
//
// Statements that return rows set RESULT to an array of records and RC to
// 0. Other statements set RESULT to the number of affected rows. A
// function-call command query(sql, args...) or exec(sql, args...) binds
// positional ? parameters instead.
type SQLTarget struct {
	Name string
	DB   *sql.DB

	// Transient reports whether a driver error means the statement may
	// succeed if repeated, e.g. a busy or locked database.
	Transient func(error) bool
}

// Handle implements vm.Target.
func (t *SQLTarget) Handle(ctx context.Context, message string, vars map[string]vm.Value, meta vm.Meta) (vm.Result, error) {
	var (
		stmt  string
		args  []interface{}
		query bool
	)

	if meta.Kind == vm.MetaCommand {
		method := strings.ToLower(meta.Method)
		if method != "query" && method != "exec" {
			return vm.Result{}, fmt.Errorf("%s: unknown command %s (want query or exec)", t.Name, meta.Method)
		}
		if len(meta.Params) == 0 {
			return vm.Result{}, fmt.Errorf("%s: %s needs a statement", t.Name, meta.Method)
		}
		stmt = meta.Params[0].String()
		for _, p := range meta.Params[1:] {
			args = append(args, sqlArg(p))
		}
		query = method == "query"
	} else {
		var err error
		stmt, args, err = bindPlaceholders(message, vars)
		if err != nil {
			return vm.Result{}, err
		}
		query = returnsRows(stmt)
	}

	if query {
		return t.query(ctx, stmt, args)
	}
	return t.exec(ctx, stmt, args)
}

func (t *SQLTarget) query(ctx context.Context, stmt string, args []interface{}) (vm.Result, error) {
	rows, err := t.DB.QueryContext(ctx, stmt, args...)
	if err != nil {
		return vm.Result{}, t.classify(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return vm.Result{}, t.classify(err)
	}

	var records []vm.Value
	for rows.Next() {
		raw := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return vm.Result{}, t.classify(err)
		}
		fields := make(map[string]vm.Value, len(cols))
		for i, col := range cols {
			fields[col] = columnValue(raw[i])
		}
		records = append(records, vm.Record(fields))
	}
	if err := rows.Err(); err != nil {
		return vm.Result{}, t.classify(err)
	}

	return vm.Result{
		Value:   vm.Array(records...),
		Message: fmt.Sprintf("%d rows", len(records)),
	}, nil
}

func (t *SQLTarget) exec(ctx context.Context, stmt string, args []interface{}) (vm.Result, error) {
	res, err := t.DB.ExecContext(ctx, stmt, args...)
	if err != nil {
		return vm.Result{}, t.classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		n = 0
	}
	return vm.Result{Value: vm.Num(float64(n))}, nil
}

func (t *SQLTarget) classify(err error) error {
	if t.Transient != nil && t.Transient(err) {
		return vm.NewTransientInvalidation(t.Name, err)
	}
	return fmt.Errorf("%s: %w", t.Name, err)
}

// bindPlaceholders rewrites {name} placeholders as ? parameters. Every
// placeholder must name a bound variable.
func bindPlaceholders(message string, vars map[string]vm.Value) (string, []interface{}, error) {
	var (
		args    []interface{}
		missing string
	)
	stmt := vm.ExpandPlaceholders(message, func(name string) (string, bool) {
		v, ok := vars[name]
		if !ok {
			if missing == "" {
				missing = name
			}
			return "", false
		}
		args = append(args, sqlArg(v))
		return "?", true
	})
	if missing != "" {
		return "", nil, &vm.UndefinedVariableError{Name: missing}
	}
	return strings.TrimSpace(stmt), args, nil
}

var rowKeywords = map[string]bool{
	"SELECT": true, "WITH": true, "PRAGMA": true, "VALUES": true,
	"EXPLAIN": true, "SHOW": true, "DESCRIBE": true, "SUMMARIZE": true,
}

// returnsRows guesses whether stmt produces a result set.
func returnsRows(stmt string) bool {
	fields := strings.Fields(stmt)
	if len(fields) == 0 {
		return false
	}
	if rowKeywords[strings.ToUpper(fields[0])] {
		return true
	}
	return strings.Contains(strings.ToUpper(stmt), " RETURNING ")
}

// sqlArg converts a script value to a driver argument. Whole numbers bind
// as integers.
func sqlArg(v vm.Value) interface{} {
	switch v.Kind() {
	case vm.KindNumber:
		n, _ := v.Number()
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			return int64(n)
		}
		return n
	case vm.KindBool:
		b, _ := v.Truth()
		return b
	case vm.KindUndefined:
		return nil
	}
	return v.String()
}

// columnValue converts a scanned column to a script value. NULL becomes
// the empty string.
func columnValue(x interface{}) vm.Value {
	if x == nil {
		return vm.Str("")
	}
	return vm.FromGo(x)
}
