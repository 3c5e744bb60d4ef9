// Package history persists reconciliation run records in a sqlite
// database under the state directory.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/converge-sh/converge/internal/report"
)

// Store is the run-history database. Safe for use from one process;
// the connection pool is capped at a single connection.
type Store struct {
	db *sql.DB
}

// Entry is one summarized run row.
type Entry struct {
	RunID      string
	Spec       string
	Started    time.Time
	Finished   time.Time
	Converged  bool
	Applied    int
	Failed     int
	Skipped    int
	RolledBack int
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	spec        TEXT NOT NULL,
	started     INTEGER NOT NULL,
	finished    INTEGER NOT NULL,
	converged   INTEGER NOT NULL,
	applied     INTEGER NOT NULL,
	failed      INTEGER NOT NULL,
	skipped     INTEGER NOT NULL,
	rolled_back INTEGER NOT NULL,
	report      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started);
`

// Open creates or opens the history database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("history dir: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing history schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Record inserts one sealed report.
func (s *Store) Record(ctx context.Context, r *report.Report) error {
	if !r.Sealed() {
		return fmt.Errorf("refusing to record unsealed report %s", r.RunID)
	}
	blob, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs(run_id, spec, started, finished, converged, applied, failed, skipped, rolled_back, report)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		r.RunID, r.Spec, r.Started.Unix(), r.Finished.Unix(), boolInt(r.Converged),
		r.Count(report.Applied), r.Count(report.Failed), r.Count(report.Skipped), r.Count(report.RolledBack),
		string(blob))
	return err
}

// List returns the most recent runs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, spec, started, finished, converged, applied, failed, skipped, rolled_back
		 FROM runs ORDER BY started DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var started, finished int64
		var converged int
		if err := rows.Scan(&e.RunID, &e.Spec, &started, &finished, &converged,
			&e.Applied, &e.Failed, &e.Skipped, &e.RolledBack); err != nil {
			return nil, err
		}
		e.Started = time.Unix(started, 0)
		e.Finished = time.Unix(finished, 0)
		e.Converged = converged != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

// Get returns the full report JSON for one run.
func (s *Store) Get(ctx context.Context, runID string) (*report.Report, error) {
	var blob string
	err := s.db.QueryRowContext(ctx, `SELECT report FROM runs WHERE run_id = ?`, runID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no run %s", runID)
	}
	if err != nil {
		return nil, err
	}
	var r report.Report
	if err := json.Unmarshal([]byte(blob), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
