package checkpoint

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout has a fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// State is the SQLite-backed run history.
type State struct {
	db *sql.DB
}

// New opens (or creates) the history database at path. ":memory:" is accepted.
func New(path string) (*State, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite only supports one writer; a single connection also keeps :memory: alive.
	db.SetMaxOpenConns(1)

	s := &State{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// DefaultPath returns ~/.geocopy/history.db.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".geocopy", "history.db")
	}
	return filepath.Join(home, ".geocopy", "history.db")
}

func (s *State) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			config_path TEXT NOT NULL DEFAULT '',
			tables INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			started_at TEXT NOT NULL,
			completed_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS table_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id),
			source TEXT NOT NULL,
			dest TEXT NOT NULL,
			status TEXT NOT NULL,
			row_count INTEGER NOT NULL DEFAULT 0,
			index_errors INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			columns TEXT NOT NULL DEFAULT '[]',
			finished_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_table_results_run ON table_results(run_id)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// CreateRun records the start of a run.
func (s *State) CreateRun(id, configPath string, tables int) error {
	_, err := s.db.Exec(
		`INSERT INTO runs (id, status, config_path, tables, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, StatusRunning, configPath, tables, time.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("creating run %s: %w", id, err)
	}
	return nil
}

// RecordTable stores one table outcome.
func (s *State) RecordTable(runID string, r TableResult) error {
	finished := r.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO table_results (run_id, source, dest, status, row_count, index_errors, duration_ms, error, columns, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, r.Source, r.Dest, r.Status, r.Rows, r.IndexErrors, r.Duration.Milliseconds(),
		r.Error, r.ColumnsJSON(), finished.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("recording %s for run %s: %w", r.Source, runID, err)
	}
	return nil
}

// CompleteRun marks a run finished.
func (s *State) CompleteRun(id string, status string, errorMsg string) error {
	res, err := s.db.Exec(
		`UPDATE runs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		status, errorMsg, time.Now().UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("completing run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

const runColumns = `
	r.id, r.status, r.config_path, r.tables, r.error, r.started_at, r.completed_at,
	(SELECT COUNT(*) FROM table_results t WHERE t.run_id = r.id AND t.status = 'success'),
	(SELECT COUNT(*) FROM table_results t WHERE t.run_id = r.id AND t.status = 'failed')
`

// GetAllRuns returns runs newest first. limit <= 0 returns all.
func (s *State) GetAllRuns(limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs r ORDER BY r.started_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// GetRunByID returns one run, or nil when it does not exist.
func (s *State) GetRunByID(runID string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs r WHERE r.id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// GetTableResults returns the table outcomes of a run in recording order.
func (s *State) GetTableResults(runID string) ([]TableResult, error) {
	rows, err := s.db.Query(
		`SELECT source, dest, status, row_count, index_errors, duration_ms, error, columns, finished_at
		 FROM table_results WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing table results: %w", err)
	}
	defer rows.Close()

	var out []TableResult
	for rows.Next() {
		var (
			r          TableResult
			durationMs int64
			columns    string
			finished   string
		)
		if err := rows.Scan(&r.Source, &r.Dest, &r.Status, &r.Rows, &r.IndexErrors,
			&durationMs, &r.Error, &columns, &finished); err != nil {
			return nil, fmt.Errorf("scanning table result: %w", err)
		}
		r.Duration = time.Duration(durationMs) * time.Millisecond
		r.Columns = ParseColumns(columns)
		r.FinishedAt, _ = time.Parse(timeLayout, finished)
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		r         Run
		started   string
		completed sql.NullString
	)
	if err := sc.Scan(&r.ID, &r.Status, &r.ConfigPath, &r.Tables, &r.Error,
		&started, &completed, &r.Succeeded, &r.Failed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning run: %w", err)
	}
	r.StartedAt, _ = time.Parse(timeLayout, started)
	if completed.Valid {
		t, err := time.Parse(timeLayout, completed.String)
		if err == nil {
			r.CompletedAt = &t
		}
	}
	return &r, nil
}
