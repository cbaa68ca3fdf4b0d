package store

import (
	"database/sql"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/ibeckermayer/renew4me/internal/types"
)

// Store keeps the history of renewal runs
type Store struct {
	db *sql.DB
}

// New creates a new Store with SQLite backend
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// Scheduled runs and the history command may share the file
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate history db")
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema
func (s *Store) migrate() error {
	schema := `
	PRAGMA busy_timeout = 5000;

	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		target TEXT NOT NULL,
		outcome TEXT NOT NULL,
		matcher TEXT,
		message TEXT,
		screenshot TEXT,
		error TEXT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_outcome ON runs(outcome);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveRun inserts a run and sets its ID
func (s *Store) SaveRun(r *types.Run) error {
	res, err := s.db.Exec(`
		INSERT INTO runs (target, outcome, matcher, message, screenshot, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.Target, string(r.Outcome), r.Matcher, r.Message, r.Screenshot, r.Error,
		r.StartedAt.UTC(), r.FinishedAt.UTC())
	if err != nil {
		return errors.Wrap(err, "insert run")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	r.ID = id
	return nil
}

// RecentRuns returns up to limit runs, newest first
func (s *Store) RecentRuns(limit int) ([]types.Run, error) {
	rows, err := s.db.Query(`
		SELECT id, target, outcome, matcher, message, screenshot, error, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRuns(rows)
}

// LastRun returns the newest run with the given outcome, or any outcome when
// outcome is empty. It returns nil when there is none.
func (s *Store) LastRun(outcome types.Outcome) (*types.Run, error) {
	rows, err := s.db.Query(`
		SELECT id, target, outcome, matcher, message, screenshot, error, started_at, finished_at
		FROM runs
		WHERE ? = '' OR outcome = ?
		ORDER BY started_at DESC, id DESC
		LIMIT 1
	`, string(outcome), string(outcome))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs, err := scanRuns(rows)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return &runs[0], nil
}

// OutcomeCounts tallies stored runs by outcome
func (s *Store) OutcomeCounts() (map[types.Outcome]int, error) {
	rows, err := s.db.Query(`SELECT outcome, COUNT(*) FROM runs GROUP BY outcome`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[types.Outcome]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[types.Outcome(outcome)] = n
	}
	return counts, rows.Err()
}

// Prune deletes all but the newest keep runs and returns how many went
func (s *Store) Prune(keep int) (int64, error) {
	res, err := s.db.Exec(`
		DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC, id DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, errors.Wrap(err, "prune runs")
	}
	return res.RowsAffected()
}

func scanRuns(rows *sql.Rows) ([]types.Run, error) {
	var runs []types.Run
	for rows.Next() {
		var r types.Run
		var outcome string
		var matcher, message, screenshot, runErr sql.NullString

		err := rows.Scan(
			&r.ID, &r.Target, &outcome, &matcher, &message, &screenshot, &runErr,
			&r.StartedAt, &r.FinishedAt,
		)
		if err != nil {
			return nil, err
		}

		r.Outcome = types.Outcome(outcome)
		r.Matcher = matcher.String
		r.Message = message.String
		r.Screenshot = screenshot.String
		r.Error = runErr.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
