// Package session owns the durable output of a transcription run.
//
// A Session identifies one run. The Writer receives chunk outcomes from
// the worker pool, restores sequence order, and writes three views under
// <output_dir>/transcripts/<date>/: a pretty JSON file per chunk, an
// append-only session.jsonl log, and a readable session.md transcript.
// Failed chunks are recorded in the jsonl log with a status field so the
// session never has silent holes.
//
// The optional Index mirrors session summaries and fragment text into a
// SQLite database for listing past sessions.
package session
