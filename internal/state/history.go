// Package state provides SQLite-based persistence for pipeline run
// history (~/.local/share/agentflow/history.db by default).
package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"agentflow/pkg/models"
)

// History wraps an SQLite database that records completed pipeline runs.
type History struct {
	conn *sql.DB
	path string
	mu   sync.Mutex
}

// Run is one recorded pipeline execution.
type Run struct {
	ID        string
	Input     string
	Success   bool
	Stages    []models.StageResult
	Duration  time.Duration
	CreatedAt time.Time
}

// DefaultPath returns the path to the default history database.
func DefaultPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "agentflow", "history.db")
}

// Open opens the history database at the given path, creating parent
// directories and the schema as needed. WAL mode is enabled for
// concurrent reads.
func Open(path string) (*History, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	h := &History{conn: conn, path: path}
	if err := h.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return h, nil
}

// Close closes the database connection.
func (h *History) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn.Close()
}

// Path returns the path to the database file.
func (h *History) Path() string {
	return h.path
}

func (h *History) migrate() error {
	_, err := h.conn.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id          TEXT PRIMARY KEY,
			input       TEXT NOT NULL,
			success     INTEGER NOT NULL,
			stages      TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			created_at  DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create runs table: %w", err)
	}
	return nil
}

// Record stores one completed pipeline run. Stage results are stored
// as a JSON column since they are read back whole, never queried.
func (h *History) Record(run Run) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	stages, err := json.Marshal(run.Stages)
	if err != nil {
		return fmt.Errorf("encode stages: %w", err)
	}

	success := 0
	if run.Success {
		success = 1
	}

	_, err = h.conn.Exec(`
		INSERT INTO runs (id, input, success, stages, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.ID, run.Input, success, string(stages), run.Duration.Milliseconds(), run.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Recent returns the most recent runs, newest first, up to limit.
func (h *History) Recent(limit int) ([]Run, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}

	rows, err := h.conn.Query(`
		SELECT id, input, success, stages, duration_ms, created_at
		FROM runs
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run        Run
			success    int
			stagesJSON string
			durationMS int64
		)
		if err := rows.Scan(&run.ID, &run.Input, &success, &stagesJSON, &durationMS, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Success = success != 0
		run.Duration = time.Duration(durationMS) * time.Millisecond
		if err := json.Unmarshal([]byte(stagesJSON), &run.Stages); err != nil {
			return nil, fmt.Errorf("decode stages for run %s: %w", run.ID, err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
