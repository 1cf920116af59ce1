package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // register sqlite driver
)

// connectionPragmas apply to the single pooled connection.
var connectionPragmas = []struct {
	stmt string
	what string
}{
	{stmt: `PRAGMA foreign_keys = ON;`, what: "enable foreign keys"},
	{stmt: `PRAGMA journal_mode = WAL;`, what: "set wal mode"},
	{stmt: `PRAGMA synchronous = NORMAL;`, what: "set synchronous mode"},
	{stmt: `PRAGMA busy_timeout = 5000;`, what: "set busy timeout"},
}

// Open opens the telemetry archive at path, creating its directory when
// needed, and brings the schema up to date.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); path != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create archive dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection keeps per-connection pragmas in force and serializes writers.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	for _, p := range connectionPragmas {
		if _, err := db.ExecContext(ctx, p.stmt); err != nil {
			_ = db.Close()

			return nil, fmt.Errorf("%s: %w", p.what, err)
		}
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()

		return nil, err
	}

	return db, nil
}
