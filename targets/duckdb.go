//go:build duckdb

package targets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/marcboeker/go-duckdb"

	"github.com/chazu/rexx/manifest"
	"github.com/chazu/rexx/vm"
)

func init() {
	RegisterKind("duckdb", func(ctx context.Context, def manifest.AddressDef) (vm.Target, io.Closer, error) {
		t, err := OpenDuckDB(ctx, def.Name, def.DSN)
		if err != nil {
			return nil, nil, err
		}
		return t, t.DB, nil
	})
}

// OpenDuckDB opens a DuckDB database as an ADDRESS target. An empty dsn
// opens an in-memory database. Transaction conflicts are reported as
// transient invalidations.
func OpenDuckDB(ctx context.Context, name, dsn string) (*SQLTarget, error) {
	connector, err := duckdb.NewConnector(dsn, nil)
	if err != nil {
		return nil, fmt.Errorf("open duckdb %q: %w", dsn, err)
	}
	db := sql.OpenDB(connector)
	if dsn == "" {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open duckdb %q: %w", dsn, err)
	}
	return &SQLTarget{Name: name, DB: db, Transient: duckdbTransient}, nil
}

func duckdbTransient(err error) bool {
	var de *duckdb.Error
	return errors.As(err, &de) && de.Type == duckdb.ErrorTypeTransaction
}
