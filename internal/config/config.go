package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete scribe configuration
type Config struct {
	Logging       LoggingConfig       `yaml:"logging"`
	Capture       CaptureConfig       `yaml:"capture"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Merge         MergeConfig         `yaml:"merge"`
	Session       SessionConfig       `yaml:"session"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// CaptureConfig contains the two capture source configurations
type CaptureConfig struct {
	System  SourceConfig `yaml:"system"`
	Mic     SourceConfig `yaml:"mic"`
	FrameMs int          `yaml:"frame_ms"` // milliseconds per capture frame
}

// SourceConfig describes one capture source
type SourceConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Backend  string `yaml:"backend"` // portaudio, file, tone
	Device   string `yaml:"device"`  // substring match against device names
	Path     string `yaml:"path"`    // wav path for the file backend
	Realtime bool   `yaml:"realtime"`
}

// PipelineConfig contains chunking and worker pool parameters
type PipelineConfig struct {
	ChunkDurationSeconds float64 `yaml:"chunk_duration_seconds"`
	OverlapSeconds       float64 `yaml:"overlap_seconds"`
	MixMode              string  `yaml:"mix_mode"` // stereo or split
	Concurrency          int     `yaml:"concurrency"`
	QueueSize            int     `yaml:"queue_size"`
	MaxBufferSeconds     float64 `yaml:"max_buffer_seconds"`     // hard backlog cap
	DrainTimeoutSeconds  float64 `yaml:"drain_timeout_seconds"`  // shutdown drain bound
	SilenceThresholdDBFS float64 `yaml:"silence_threshold_dbfs"` // lanes below this skip the backend
}

// TranscriptionConfig contains transcription API configuration
type TranscriptionConfig struct {
	APIURL             string      `yaml:"api_url"`
	APIKey             string      `yaml:"api_key"` // falls back to OPENAI_API_KEY
	Model              string      `yaml:"model"`
	TimeoutSeconds     int         `yaml:"timeout_seconds"`
	MaxRetries         int         `yaml:"max_retries"`
	BackoffBaseSeconds float64     `yaml:"backoff_base_seconds"`
	Local              LocalConfig `yaml:"local"`
}

// LocalConfig controls the optional local whisper server
type LocalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"`
	Port    int    `yaml:"port"`
}

// MergeConfig contains acoustic bleed dedup thresholds
type MergeConfig struct {
	BleedTimeToleranceSeconds float64 `yaml:"bleed_time_tolerance_seconds"`
	BleedMinRun               int     `yaml:"bleed_min_run"`
	BleedDropCoverage         float64 `yaml:"bleed_drop_coverage"`
}

// SessionConfig contains output locations and retention
type SessionConfig struct {
	OutputDir string `yaml:"output_dir"`
	SaveAudio bool   `yaml:"save_audio"`
	IndexPath string `yaml:"index_path"` // sqlite file, empty disables the index
}

// MetricsConfig contains the prometheus endpoint configuration
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"` // empty disables
}

// Default returns a configuration with all defaults applied
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Capture: CaptureConfig{
			System:  SourceConfig{Enabled: true, Backend: "portaudio", Realtime: true},
			Mic:     SourceConfig{Enabled: true, Backend: "portaudio", Realtime: true},
			FrameMs: 20,
		},
		Pipeline: PipelineConfig{
			ChunkDurationSeconds: 30,
			OverlapSeconds:       0,
			MixMode:              "split",
			Concurrency:          2,
			QueueSize:            8,
			MaxBufferSeconds:     120,
			DrainTimeoutSeconds:  120,
			SilenceThresholdDBFS: -40,
		},
		Transcription: TranscriptionConfig{
			APIURL:             "https://api.openai.com/v1/audio/transcriptions",
			Model:              "whisper-1",
			TimeoutSeconds:     60,
			MaxRetries:         3,
			BackoffBaseSeconds: 1,
			Local:              LocalConfig{Model: "base.en", Port: 8080},
		},
		Merge: MergeConfig{
			BleedTimeToleranceSeconds: 1.0,
			BleedMinRun:               3,
			BleedDropCoverage:         0.8,
		},
		Session: SessionConfig{
			OutputDir: "./scribe-out",
		},
	}
}

// Load reads the configuration file over the defaults and validates it
func Load(path string) (*Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Merge.Validate(); err != nil {
		return fmt.Errorf("merge config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	if !c.System.Enabled && !c.Mic.Enabled {
		return fmt.Errorf("at least one capture source must be enabled")
	}

	if c.FrameMs < 1 || c.FrameMs > 1000 {
		return fmt.Errorf("frame_ms must be between 1 and 1000, got %d", c.FrameMs)
	}

	if err := c.System.Validate(); err != nil {
		return fmt.Errorf("system source: %w", err)
	}

	if err := c.Mic.Validate(); err != nil {
		return fmt.Errorf("mic source: %w", err)
	}

	return nil
}

// Validate validates one capture source configuration
func (s *SourceConfig) Validate() error {
	if !s.Enabled {
		return nil
	}

	validBackends := map[string]bool{"portaudio": true, "file": true, "tone": true}
	if !validBackends[s.Backend] {
		return fmt.Errorf("backend must be one of [portaudio, file, tone], got '%s'", s.Backend)
	}

	if s.Backend == "file" && s.Path == "" {
		return fmt.Errorf("path cannot be empty for the file backend")
	}

	return nil
}

// Validate validates pipeline configuration
func (p *PipelineConfig) Validate() error {
	if p.ChunkDurationSeconds <= 0 {
		return fmt.Errorf("chunk_duration_seconds must be positive, got %f", p.ChunkDurationSeconds)
	}

	if p.OverlapSeconds < 0 || p.OverlapSeconds >= p.ChunkDurationSeconds {
		return fmt.Errorf("overlap_seconds must be in [0, chunk_duration_seconds), got %f", p.OverlapSeconds)
	}

	if p.MixMode != "stereo" && p.MixMode != "split" {
		return fmt.Errorf("mix_mode must be 'stereo' or 'split', got '%s'", p.MixMode)
	}

	if p.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", p.Concurrency)
	}

	if p.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", p.QueueSize)
	}

	if p.MaxBufferSeconds < p.ChunkDurationSeconds {
		return fmt.Errorf("max_buffer_seconds (%f) must be at least chunk_duration_seconds (%f)",
			p.MaxBufferSeconds, p.ChunkDurationSeconds)
	}

	if p.DrainTimeoutSeconds <= 0 {
		return fmt.Errorf("drain_timeout_seconds must be positive, got %f", p.DrainTimeoutSeconds)
	}

	if p.SilenceThresholdDBFS >= 0 {
		return fmt.Errorf("silence_threshold_dbfs must be negative, got %f", p.SilenceThresholdDBFS)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.APIURL == "" && !t.Local.Enabled {
		return fmt.Errorf("api_url cannot be empty")
	}

	if t.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if t.TimeoutSeconds < 1 {
		return fmt.Errorf("timeout_seconds must be at least 1, got %d", t.TimeoutSeconds)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	if t.BackoffBaseSeconds <= 0 {
		return fmt.Errorf("backoff_base_seconds must be positive, got %f", t.BackoffBaseSeconds)
	}

	if t.Local.Enabled {
		if t.Local.Model == "" {
			return fmt.Errorf("local model cannot be empty when the local server is enabled")
		}
		if t.Local.Port < 1 || t.Local.Port > 65535 {
			return fmt.Errorf("local port must be between 1 and 65535, got %d", t.Local.Port)
		}
	}

	return nil
}

// Validate validates merge configuration
func (m *MergeConfig) Validate() error {
	if m.BleedTimeToleranceSeconds <= 0 {
		return fmt.Errorf("bleed_time_tolerance_seconds must be positive, got %f", m.BleedTimeToleranceSeconds)
	}

	if m.BleedMinRun < 1 {
		return fmt.Errorf("bleed_min_run must be at least 1, got %d", m.BleedMinRun)
	}

	if m.BleedDropCoverage <= 0 || m.BleedDropCoverage > 1 {
		return fmt.Errorf("bleed_drop_coverage must be in (0, 1], got %f", m.BleedDropCoverage)
	}

	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if s.OutputDir == "" {
		return fmt.Errorf("output_dir cannot be empty")
	}

	return nil
}

// GetChunkDuration returns the chunk duration as a time.Duration
func (p *PipelineConfig) GetChunkDuration() time.Duration {
	return time.Duration(p.ChunkDurationSeconds * float64(time.Second))
}

// GetOverlapDuration returns the chunk overlap as a time.Duration
func (p *PipelineConfig) GetOverlapDuration() time.Duration {
	return time.Duration(p.OverlapSeconds * float64(time.Second))
}

// GetMaxBufferDuration returns the backlog hard cap as a time.Duration
func (p *PipelineConfig) GetMaxBufferDuration() time.Duration {
	return time.Duration(p.MaxBufferSeconds * float64(time.Second))
}

// GetDrainTimeout returns the shutdown drain bound as a time.Duration
func (p *PipelineConfig) GetDrainTimeout() time.Duration {
	return time.Duration(p.DrainTimeoutSeconds * float64(time.Second))
}

// GetFrameDuration returns the capture frame length as a time.Duration
func (c *CaptureConfig) GetFrameDuration() time.Duration {
	return time.Duration(c.FrameMs) * time.Millisecond
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// GetBackoffBase returns the retry backoff base as a time.Duration
func (t *TranscriptionConfig) GetBackoffBase() time.Duration {
	return time.Duration(t.BackoffBaseSeconds * float64(time.Second))
}
