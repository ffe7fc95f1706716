// Package chunker cuts the synchronized timeline into fixed-duration,
// sequence-numbered chunks with a configurable overlap between
// consecutive chunks. Chunk boundaries come from the virtual clock, not
// wall time, so timestamps stay consistent under scheduling jitter.
package chunker
