// Package config provides configuration loading and validation for scribe.
// It handles YAML-based configuration layered over defaults, with per-section
// struct validation covering capture, pipeline, transcription, merge, session,
// and metrics parameters.
package config
