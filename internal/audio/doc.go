// Package audio provides PCM sample math and WAV encoding.
// It implements level analysis (RMS, dBFS, peak normalization), channel
// conversions between the capture and canonical formats, and WAV
// encode/decode for transcription uploads and retained chunk audio.
package audio
