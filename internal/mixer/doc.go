// Package mixer turns raw capture frames into a single aligned timeline.
// The Canonicalizer converts each source's native format to 16 kHz mono
// 16-bit PCM, and the Synchronizer places both lanes on a shared virtual
// clock, padding silence over late starts, dropouts, and disconnects so
// downstream chunking always sees lockstep lanes.
package mixer
