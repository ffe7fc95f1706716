// Package transcription implements the HTTP client for whisper-compatible
// transcription backends. It submits WAV audio as multipart form data with
// verbose_json word timestamps, classifies failures as transient,
// permanent, or transport-level, and can manage a local whisper.cpp server
// process for offline use.
package transcription
