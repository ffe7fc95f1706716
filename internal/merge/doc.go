// Package merge combines per-lane transcription results into a single
// speaker-labeled transcript per chunk. The system lane becomes "other"
// and the microphone lane becomes "you". Before merging, runs of mic
// words that duplicate system words at matching timestamps are stripped
// as acoustic bleed from speakers heard by the microphone.
package merge
