// Package pipeline orchestrates a transcription session end to end.
//
// The Pipeline owns the flow: capture frames are canonicalized and
// aligned on the mixer's virtual clock, cut into fixed-duration chunks,
// and dispatched to a bounded worker pool. Workers gate each lane on a
// silence threshold, transcribe through the backend with retry and
// backoff, merge the lane results into speaker-labeled fragments, and
// hand exactly one outcome per chunk to the session writer.
//
// Shutdown is a drain: capture stops first, buffered audio is flushed
// through chunking, in-flight transcriptions get a bounded grace period,
// and whatever cannot finish is recorded as a failed chunk rather than
// dropped.
package pipeline
