package targets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/chazu/rexx/manifest"
	"github.com/chazu/rexx/vm"
)

func init() {
	RegisterKind("sqlite", openSQLite)
}

// OpenSQLite opens a SQLite database as an ADDRESS target. BUSY and
// LOCKED errors are reported as transient invalidations.
func OpenSQLite(ctx context.Context, name, dsn string) (*SQLTarget, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	// Each connection to an in-memory database is a separate database.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	return &SQLTarget{Name: name, DB: db, Transient: sqliteTransient}, nil
}

func openSQLite(ctx context.Context, def manifest.AddressDef) (vm.Target, io.Closer, error) {
	t, err := OpenSQLite(ctx, def.Name, def.DSN)
	if err != nil {
		return nil, nil, err
	}
	return t, t.DB, nil
}

func sqliteTransient(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}
