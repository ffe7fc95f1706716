package session

import (
	"time"

	"github.com/google/uuid"
)

// Session identifies one capture run and carries its output location
type Session struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	OutputDir string    `json:"output_dir"`
}

// New creates a session anchored at the given instant
func New(outputDir string, startedAt time.Time) *Session {
	return &Session{
		ID:        uuid.New().String(),
		StartedAt: startedAt,
		OutputDir: outputDir,
	}
}

// TimestampParts returns the local-time (date, time) path components for
// an instant, e.g. ("2026-02-15", "14-30-05"). Output paths use local
// time so a day's transcripts land in that day's directory.
func TimestampParts(t time.Time) (string, string) {
	local := t.Local()
	return local.Format("2006-01-02"), local.Format("15-04-05")
}
