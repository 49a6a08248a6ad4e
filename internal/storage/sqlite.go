package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures the journal tables exist. The path must be on a local filesystem.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
		if err := RequireLocal(path, "state.path"); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == MemoryPath {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables and indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS load_history (
  id          INTEGER PRIMARY KEY AUTOINCREMENT,
  version     INTEGER NOT NULL DEFAULT 0,
  hash        TEXT,
  source      TEXT NOT NULL,
  operations  INTEGER NOT NULL DEFAULT 0,
  outcome     TEXT NOT NULL,
  error       TEXT,
  duration_ms INTEGER NOT NULL,
  created_at  TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS call_log (
  call_id     TEXT PRIMARY KEY,
  operation   TEXT NOT NULL,
  version     INTEGER NOT NULL DEFAULT 0,
  outcome     TEXT NOT NULL,
  error       TEXT,
  duration_us INTEGER NOT NULL,
  created_at  TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS call_log_created_at_idx ON call_log(created_at);`,
		`CREATE INDEX IF NOT EXISTS call_log_operation_idx ON call_log(operation, outcome);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
