// Package journal persists load attempts and calls to SQLite so operators can
// see what the host served and when.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mattjoyce/switchboard/internal/bridge"
	"github.com/mattjoyce/switchboard/internal/loader"
)

// Store writes to the tables created by storage.BootstrapSQLite.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// RecordLoad appends one load attempt.
func (s *Store) RecordLoad(ctx context.Context, rec loader.LoadRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO load_history(version, hash, source, operations, outcome, error, duration_ms, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, rec.Version, nullable(rec.Hash), rec.Source, rec.Operations, rec.Outcome, nullable(rec.Error),
		rec.Duration.Milliseconds(), rec.At.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert load_history: %w", err)
	}
	return nil
}

// RecordCall appends one finished call.
func (s *Store) RecordCall(ctx context.Context, rec bridge.CallRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO call_log(call_id, operation, version, outcome, error, duration_us, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?);
`, rec.CallID, rec.Operation, rec.Version, rec.Outcome, nullable(rec.Error),
		rec.Duration.Microseconds(), rec.At.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert call_log: %w", err)
	}
	return nil
}

// LoadEntry is a row of load_history.
type LoadEntry struct {
	Version    uint64    `json:"version"`
	Hash       string    `json:"hash,omitempty"`
	Source     string    `json:"source"`
	Operations int       `json:"operations"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	At         time.Time `json:"at"`
}

// RecentLoads returns up to limit load attempts, newest first.
func (s *Store) RecentLoads(ctx context.Context, limit int) ([]LoadEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT version, hash, source, operations, outcome, error, duration_ms, created_at
FROM load_history
ORDER BY id DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query load_history: %w", err)
	}
	defer rows.Close()

	var out []LoadEntry
	for rows.Next() {
		var (
			e         LoadEntry
			hash, msg sql.NullString
			created   string
		)
		if err := rows.Scan(&e.Version, &hash, &e.Source, &e.Operations, &e.Outcome, &msg, &e.DurationMS, &created); err != nil {
			return nil, fmt.Errorf("scan load_history: %w", err)
		}
		e.Hash = hash.String
		e.Error = msg.String
		e.At, err = time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("parse created_at %q: %w", created, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CallStat summarizes call_log for one operation and outcome.
type CallStat struct {
	Operation string `json:"operation"`
	Outcome   string `json:"outcome"`
	Count     int64  `json:"count"`
}

// CallStats counts logged calls by operation and outcome.
func (s *Store) CallStats(ctx context.Context) ([]CallStat, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT operation, outcome, COUNT(*)
FROM call_log
GROUP BY operation, outcome
ORDER BY operation, outcome;
`)
	if err != nil {
		return nil, fmt.Errorf("query call_log: %w", err)
	}
	defer rows.Close()

	var out []CallStat
	for rows.Next() {
		var st CallStat
		if err := rows.Scan(&st.Operation, &st.Outcome, &st.Count); err != nil {
			return nil, fmt.Errorf("scan call_log: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// PruneCalls deletes call_log rows older than retention and returns how many
// were removed.
func (s *Store) PruneCalls(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, "DELETE FROM call_log WHERE created_at < ?;", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune call_log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
