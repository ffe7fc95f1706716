package session

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const indexSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	started_at TEXT NOT NULL,
	ended_at   TEXT,
	chunks     INTEGER NOT NULL DEFAULT 0,
	failures   INTEGER NOT NULL DEFAULT 0,
	output_dir TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS fragments (
	session_id TEXT NOT NULL,
	sequence   INTEGER NOT NULL,
	start_time TEXT NOT NULL,
	end_time   TEXT NOT NULL,
	status     TEXT NOT NULL,
	text       TEXT NOT NULL,
	PRIMARY KEY (session_id, sequence)
);
`

// SessionSummary is one row from the sessions table
type SessionSummary struct {
	ID        string
	StartedAt string
	EndedAt   string
	Chunks    int
	Failures  int
	OutputDir string
}

// Index persists session summaries and per-chunk fragment rows in SQLite
// so past sessions can be listed without scanning the output tree.
type Index struct {
	db *sql.DB
}

// OpenIndex opens (creating if needed) the session index database
func OpenIndex(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session index: %w", err)
	}

	if _, err := db.Exec(indexSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize session index: %w", err)
	}

	return &Index{db: db}, nil
}

// RecordSession registers a session at start. Safe to call again for the
// same session id.
func (ix *Index) RecordSession(sess *Session) error {
	_, err := ix.db.Exec(
		`INSERT INTO sessions (id, started_at, output_dir) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		sess.ID, sess.StartedAt.UTC().Format(time.RFC3339), sess.OutputDir)
	if err != nil {
		return fmt.Errorf("failed to record session: %w", err)
	}
	return nil
}

// InsertFragment stores one chunk record. Replays overwrite the previous
// row for the same (session, sequence).
func (ix *Index) InsertFragment(sessionID string, record *ChunkRecord) error {
	status := record.Status
	if status == "" {
		status = "ok"
	}

	_, err := ix.db.Exec(
		`INSERT OR REPLACE INTO fragments (session_id, sequence, start_time, end_time, status, text)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, record.Sequence, record.Start, record.End, status, fragmentText(record))
	if err != nil {
		return fmt.Errorf("failed to insert fragment: %w", err)
	}
	return nil
}

// FinalizeSession stamps the end time and final counters
func (ix *Index) FinalizeSession(sessionID string, endedAt time.Time, chunks, failures uint64) error {
	_, err := ix.db.Exec(
		`UPDATE sessions SET ended_at = ?, chunks = ?, failures = ? WHERE id = ?`,
		endedAt.UTC().Format(time.RFC3339), chunks, failures, sessionID)
	if err != nil {
		return fmt.Errorf("failed to finalize session: %w", err)
	}
	return nil
}

// ListSessions returns the most recent sessions, newest first
func (ix *Index) ListSessions(limit int) ([]SessionSummary, error) {
	rows, err := ix.db.Query(
		`SELECT id, started_at, COALESCE(ended_at, ''), chunks, failures, output_dir
		 FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionSummary
	for rows.Next() {
		var s SessionSummary
		if err := rows.Scan(&s.ID, &s.StartedAt, &s.EndedAt, &s.Chunks, &s.Failures, &s.OutputDir); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Close closes the underlying database
func (ix *Index) Close() error {
	return ix.db.Close()
}

func fragmentText(record *ChunkRecord) string {
	parts := make([]string, 0, len(record.Segments))
	for _, seg := range record.Segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}
