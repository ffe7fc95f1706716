package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ghardin1314/scribe/internal/chunker"
	"github.com/ghardin1314/scribe/internal/config"
	"github.com/ghardin1314/scribe/internal/merge"
)

// AudioFiles records where a chunk's audio survives on disk. Fields are
// empty when the file was deleted after a successful transcription.
type AudioFiles struct {
	System string `json:"system,omitempty"`
	Mic    string `json:"mic,omitempty"`
	Stereo string `json:"stereo,omitempty"`
}

// ChunkRecord is the serialized outcome of one chunk. Records written to
// the transcript files always have speech and omit Status; "empty" and
// "failed" records exist only for the index and the log.
type ChunkRecord struct {
	Sequence        uint64                 `json:"sequence"`
	TimestampStart  string                 `json:"timestamp_start"`
	TimestampEnd    string                 `json:"timestamp_end"`
	Start           string                 `json:"start"`
	End             string                 `json:"end"`
	DurationSeconds float64                `json:"duration_seconds"`
	Partial         bool                   `json:"partial,omitempty"`
	Segments        []merge.SpeakerSegment `json:"segments"`
	AudioFiles      AudioFiles             `json:"audio_files"`
	Status          string                 `json:"status,omitempty"`
	Error           string                 `json:"error,omitempty"`
}

// Outcome is one chunk's final disposition from the worker pool. Exactly
// one Outcome must be submitted per dispatched chunk.
type Outcome struct {
	Chunk      *chunker.Chunk
	Fragment   *merge.Fragment // nil when the chunk failed
	Err        error           // non-nil when the chunk failed
	AudioFiles AudioFiles
}

// WriterStats represents writer statistics
type WriterStats struct {
	ChunksWritten  uint64 `json:"chunks_written"`
	EmptyChunks    uint64 `json:"empty_chunks"`
	FailuresLogged uint64 `json:"failures_logged"`
	PendingReorder int    `json:"pending_reorder"`
}

// Writer serializes chunk outcomes to the session's output files in
// sequence order. Workers finish out of order; a reorder buffer holds
// completed outcomes until every earlier sequence has been written.
//
// Chunks that produced speech get a pretty JSON file and a session.jsonl
// line under transcripts/<date>/ plus a markdown section in session.md.
// Empty and failed chunks advance the sequence and reach the index but
// leave the transcript files untouched; failures are logged with their
// time range so no chunk disappears silently.
type Writer struct {
	cfg     *config.Config
	session *Session
	index   *Index // nil when the index is disabled

	outcomes chan *Outcome
	done     chan struct{}

	pending map[uint64]*Outcome
	nextSeq uint64

	chunksWritten  uint64
	emptyChunks    uint64
	failuresLogged uint64

	mu sync.RWMutex
}

// NewWriter creates a session writer. The index may be nil.
func NewWriter(cfg *config.Config, sess *Session, index *Index) *Writer {
	return &Writer{
		cfg:      cfg,
		session:  sess,
		index:    index,
		outcomes: make(chan *Outcome, 16),
		done:     make(chan struct{}),
		pending:  make(map[uint64]*Outcome),
	}
}

// Start launches the writer goroutine
func (w *Writer) Start() {
	go w.run()
}

// Submit hands over one chunk outcome. Blocks when the writer is behind.
func (w *Writer) Submit(outcome *Outcome) {
	w.outcomes <- outcome
}

// Close stops accepting outcomes, flushes everything buffered, and waits
// for the writer goroutine to exit.
func (w *Writer) Close() {
	close(w.outcomes)
	<-w.done
}

// GetStats returns current writer statistics
func (w *Writer) GetStats() WriterStats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return WriterStats{
		ChunksWritten:  w.chunksWritten,
		EmptyChunks:    w.emptyChunks,
		FailuresLogged: w.failuresLogged,
		PendingReorder: len(w.pending),
	}
}

func (w *Writer) run() {
	defer close(w.done)

	for outcome := range w.outcomes {
		w.mu.Lock()
		w.pending[outcome.Chunk.Sequence] = outcome
		w.mu.Unlock()

		w.flushReady()
	}

	w.flushStragglers()
}

// flushReady writes every buffered outcome that is next in sequence
func (w *Writer) flushReady() {
	for {
		w.mu.Lock()
		outcome, ok := w.pending[w.nextSeq]
		if ok {
			delete(w.pending, w.nextSeq)
		}
		w.mu.Unlock()

		if !ok {
			return
		}

		w.write(outcome)
		w.nextSeq++
	}
}

// flushStragglers drains the reorder buffer after close. A gap here means
// a chunk never produced an outcome; later records are written anyway.
func (w *Writer) flushStragglers() {
	w.mu.Lock()
	sequences := make([]uint64, 0, len(w.pending))
	for seq := range w.pending {
		sequences = append(sequences, seq)
	}
	w.mu.Unlock()

	if len(sequences) == 0 {
		return
	}

	sort.Slice(sequences, func(i, j int) bool { return sequences[i] < sequences[j] })
	slog.Warn("Writer closing with sequence gaps",
		slog.Uint64("next_expected", w.nextSeq),
		slog.Int("stragglers", len(sequences)))

	for _, seq := range sequences {
		w.mu.Lock()
		outcome := w.pending[seq]
		delete(w.pending, seq)
		w.mu.Unlock()

		w.write(outcome)
		w.nextSeq = seq + 1
	}
}

// write resolves one outcome. Only chunks with speech touch the
// transcript files; empty and failed chunks leave a log line and an
// index row and move the sequence along.
func (w *Writer) write(outcome *Outcome) {
	record := w.buildRecord(outcome)

	switch record.Status {
	case "failed":
		w.mu.Lock()
		w.failuresLogged++
		w.mu.Unlock()

		slog.Warn("Chunk lost",
			slog.Uint64("sequence", record.Sequence),
			slog.String("start", record.Start),
			slog.String("end", record.End),
			slog.String("error", record.Error),
			slog.Bool("audio_retained", record.AudioFiles != AudioFiles{}))

	case "empty":
		w.mu.Lock()
		w.emptyChunks++
		w.mu.Unlock()

		slog.Info("Chunk empty, nothing to write",
			slog.Uint64("sequence", record.Sequence))

	default:
		w.writeTranscript(outcome.Chunk.Start, record)
	}

	if w.index != nil {
		if err := w.index.InsertFragment(w.session.ID, record); err != nil {
			slog.Error("Failed to index fragment",
				slog.Uint64("sequence", record.Sequence),
				slog.String("error", err.Error()))
		}
	}
}

// writeTranscript appends one speech-bearing record to the session's
// transcript files.
func (w *Writer) writeTranscript(start time.Time, record *ChunkRecord) {
	date, _ := TimestampParts(start)
	dir := filepath.Join(w.cfg.Session.OutputDir, "transcripts", date)
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Error("Failed to create transcript directory",
			slog.String("dir", dir),
			slog.String("error", err.Error()))
		return
	}

	w.writeChunkJSON(dir, record)
	w.appendJSONL(dir, record)
	w.appendMarkdown(dir, date, record)

	w.mu.Lock()
	w.chunksWritten++
	w.mu.Unlock()

	slog.Info("Chunk written",
		slog.Uint64("sequence", record.Sequence),
		slog.Int("segments", len(record.Segments)))
}

func (w *Writer) buildRecord(outcome *Outcome) *ChunkRecord {
	chunk := outcome.Chunk
	_, startTS := TimestampParts(chunk.Start)
	_, endTS := TimestampParts(chunk.End)

	record := &ChunkRecord{
		Sequence:       chunk.Sequence,
		TimestampStart: startTS,
		TimestampEnd:   endTS,
		Start:          chunk.Start.UTC().Format(time.RFC3339),
		End:            chunk.End.UTC().Format(time.RFC3339),
		Partial:        chunk.Partial,
		Segments:       []merge.SpeakerSegment{},
		AudioFiles:     outcome.AudioFiles,
	}

	if outcome.Err != nil {
		record.Status = "failed"
		record.Error = outcome.Err.Error()
		record.DurationSeconds = chunk.Duration().Seconds()
		return record
	}

	record.Segments = outcome.Fragment.Segments
	record.DurationSeconds = outcome.Fragment.Duration
	if record.DurationSeconds == 0 {
		// Both lanes silent or empty; fall back to the chunk's own span
		record.DurationSeconds = chunk.Duration().Seconds()
	}
	if len(record.Segments) == 0 {
		record.Status = "empty"
	}
	return record
}

// writeChunkJSON writes the pretty per-chunk file, named by start time
func (w *Writer) writeChunkJSON(dir string, record *ChunkRecord) {
	path := filepath.Join(dir, record.TimestampStart+".json")
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		slog.Error("Failed to marshal chunk record", slog.String("error", err.Error()))
		return
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		slog.Error("Failed to write chunk JSON",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
}

// appendJSONL appends one line to the per-date session log
func (w *Writer) appendJSONL(dir string, record *ChunkRecord) {
	path := filepath.Join(dir, "session.jsonl")
	line, err := json.Marshal(record)
	if err != nil {
		slog.Error("Failed to marshal session line", slog.String("error", err.Error()))
		return
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		slog.Error("Failed to open session log",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return
	}
	defer file.Close()

	if _, err := fmt.Fprintf(file, "%s\n", line); err != nil {
		slog.Error("Failed to append session line", slog.String("error", err.Error()))
	}
}

// appendMarkdown appends a readable section for one chunk
func (w *Writer) appendMarkdown(dir, date string, record *ChunkRecord) {
	path := filepath.Join(dir, "session.md")

	isNew := true
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		isNew = false
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		slog.Error("Failed to open markdown transcript",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return
	}
	defer file.Close()

	if isNew {
		fmt.Fprintf(file, "# Transcript — %s\n\n", date)
	}

	start := formatClock(record.TimestampStart)
	end := formatClock(record.TimestampEnd)
	fmt.Fprintf(file, "## %s — %s (%s)\n\n", start, end, formatSpan(record.DurationSeconds))

	// Collapse consecutive same-speaker segments into one quote
	type entry struct {
		speaker merge.Speaker
		start   float64
		text    string
	}
	var entries []entry
	for _, seg := range record.Segments {
		if n := len(entries); n > 0 && entries[n-1].speaker == seg.Speaker {
			entries[n-1].text += seg.Text
			continue
		}
		entries = append(entries, entry{speaker: seg.Speaker, start: seg.Start, text: seg.Text})
	}

	for _, e := range entries {
		var label string
		switch e.speaker {
		case merge.SpeakerYou:
			label = "You"
		case merge.SpeakerOther:
			label = "Other"
		default:
			label = string(e.speaker)
		}
		fmt.Fprintf(file, "> **%s** (%s): %s\n\n", label, formatSpan(e.start), strings.TrimSpace(e.text))
	}

	fmt.Fprintf(file, "---\n\n")
}

// formatClock turns a "15-04-05" path timestamp into "15:04:05"
func formatClock(ts string) string {
	return strings.ReplaceAll(ts, "-", ":")
}

// formatSpan renders seconds as "m:ss", or "Ns" under a minute
func formatSpan(seconds float64) string {
	m := int(seconds / 60)
	s := int(math.Mod(seconds, 60))
	if m > 0 {
		return fmt.Sprintf("%d:%02d", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
