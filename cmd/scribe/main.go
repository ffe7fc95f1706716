package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/joho/godotenv"

	"github.com/ghardin1314/scribe/internal/capture"
	"github.com/ghardin1314/scribe/internal/config"
	"github.com/ghardin1314/scribe/internal/metrics"
	"github.com/ghardin1314/scribe/internal/pipeline"
	"github.com/ghardin1314/scribe/internal/server"
	"github.com/ghardin1314/scribe/internal/session"
	"github.com/ghardin1314/scribe/internal/transcription"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "scribe"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	noSystem := flag.Bool("no-system", false, "Disable system audio capture")
	noMic := flag.Bool("no-mic", false, "Disable microphone capture")
	listSessions := flag.Int("sessions", 0, "List the N most recent sessions and exit")
	flag.Parse()

	// Load .env before reading the environment (OPENAI_API_KEY)
	godotenv.Load()

	// Load configuration. The default path is optional; a missing file
	// there means run with defaults.
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *noSystem {
		cfg.Capture.System.Enabled = false
	}
	if *noMic {
		cfg.Capture.Mic.Enabled = false
	}
	if !cfg.Capture.System.Enabled && !cfg.Capture.Mic.Enabled {
		fmt.Fprintln(os.Stderr, "At least one capture source must be enabled")
		os.Exit(1)
	}

	if cfg.Transcription.APIKey == "" {
		cfg.Transcription.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)
	slog.SetDefault(logger)

	if *listSessions > 0 {
		if err := printSessions(cfg, *listSessions); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to list sessions: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Bool("capture_system", cfg.Capture.System.Enabled),
		slog.Bool("capture_mic", cfg.Capture.Mic.Enabled),
		slog.Float64("chunk_duration_seconds", cfg.Pipeline.ChunkDurationSeconds),
		slog.Float64("overlap_seconds", cfg.Pipeline.OverlapSeconds),
		slog.String("mix_mode", cfg.Pipeline.MixMode),
		slog.Int("concurrency", cfg.Pipeline.Concurrency),
		slog.Bool("local_whisper", cfg.Transcription.Local.Enabled),
		slog.String("output_dir", cfg.Session.OutputDir),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()

	// Start the local whisper server first when enabled; the client needs
	// its endpoint.
	var localServer *transcription.LocalServer
	if cfg.Transcription.Local.Enabled {
		localServer = transcription.NewLocalServer(cfg)
		if err := localServer.Start(ctx); err != nil {
			logger.Error("Failed to start local whisper server", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer localServer.Stop()
		cfg.Transcription.APIURL = localServer.APIURL()
	}

	client, err := transcription.NewClient(cfg)
	if err != nil {
		logger.Error("Failed to create transcription client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize portaudio once if any enabled source uses it
	if usesPortAudio(cfg) {
		if err := portaudio.Initialize(); err != nil {
			logger.Error("Failed to initialize portaudio", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer portaudio.Terminate()
	}

	frameDur := cfg.Capture.GetFrameDuration()
	var systemSource, micSource capture.Source
	if cfg.Capture.System.Enabled {
		systemSource = buildSource(capture.SourceSystem, cfg.Capture.System, frameDur)
	}
	if cfg.Capture.Mic.Enabled {
		micSource = buildSource(capture.SourceMic, cfg.Capture.Mic, frameDur)
	}

	// Open the session index when configured
	var index *session.Index
	if cfg.Session.IndexPath != "" {
		index, err = session.OpenIndex(cfg.Session.IndexPath)
		if err != nil {
			logger.Error("Failed to open session index", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer index.Close()
	}

	sess := session.New(cfg.Session.OutputDir, time.Now())
	logger.Info("Session created",
		slog.String("session_id", sess.ID),
		slog.String("output_dir", sess.OutputDir),
	)

	pipe, err := pipeline.NewPipeline(cfg, sess, systemSource, micSource, client, index, appMetrics)
	if err != nil {
		logger.Error("Failed to create pipeline", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize HTTP monitoring server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.Metrics.ListenAddr != "" {
		httpServer = server.NewHTTPServer(cfg, logger, pipe, index, appMetrics)
		logger.Info("HTTP monitoring server initialized",
			slog.String("address", cfg.Metrics.ListenAddr),
		)
	}

	// Start the pipeline
	if err := pipe.Start(); err != nil {
		logger.Error("Failed to start pipeline", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start HTTP server (if enabled)
	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Recording started, press Ctrl+C to stop")

	// Wait for a shutdown signal or for the capture sources to end on
	// their own (file replay reaching end of stream)
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-pipe.Done():
		logger.Info("Capture ended, finishing session")
	}

	// Drain: buffered audio still flows through chunking and
	// transcription, bounded by the configured drain timeout
	drainCtx, drainCancel := context.WithTimeout(context.Background(),
		cfg.Pipeline.GetDrainTimeout()+10*time.Second)
	defer drainCancel()

	if err := pipe.Stop(drainCtx); err != nil {
		logger.Error("Pipeline stopped with error", slog.String("error", err.Error()))
	}

	// Stop HTTP server after the drain so /health reports it
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Get final statistics
	stats := pipe.GetStats()
	logger.Info("Final session statistics",
		slog.String("session_id", sess.ID),
		slog.Uint64("chunks_written", stats.Writer.ChunksWritten),
		slog.Uint64("chunks_empty", stats.Writer.EmptyChunks),
		slog.Uint64("failures_logged", stats.Writer.FailuresLogged),
		slog.Uint64("silence_skips", stats.Pool.SilenceSkips),
		slog.Uint64("transcription_calls", stats.Transcription.TotalCalls),
		slog.Uint64("bleed_words_removed", stats.Merge.WordsRemoved),
	)

	logger.Info("Session stopped", slog.String("output_dir", sess.OutputDir))

	if pipe.Err() != nil {
		os.Exit(1)
	}
}

// loadConfig reads the configuration file, falling back to defaults when
// the default path does not exist. An explicit -config path must exist.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if path == defaultConfigPath {
			return config.Default(), nil
		}
		return nil, fmt.Errorf("config file %s does not exist", path)
	}
	return config.Load(path)
}

// buildSource constructs the capture source for one lane
func buildSource(id capture.SourceID, src config.SourceConfig, frameDur time.Duration) capture.Source {
	switch src.Backend {
	case "file":
		return capture.NewFileSource(id, src.Path, src.Realtime, frameDur)
	case "tone":
		return capture.NewToneSource(id, 0, frameDur)
	default:
		return capture.NewPortAudioSource(id, src.Device, frameDur)
	}
}

// usesPortAudio reports whether any enabled source needs the portaudio
// library initialized
func usesPortAudio(cfg *config.Config) bool {
	if cfg.Capture.System.Enabled && cfg.Capture.System.Backend == "portaudio" {
		return true
	}
	if cfg.Capture.Mic.Enabled && cfg.Capture.Mic.Backend == "portaudio" {
		return true
	}
	return false
}

// printSessions lists recent sessions from the index
func printSessions(cfg *config.Config, limit int) error {
	if cfg.Session.IndexPath == "" {
		return fmt.Errorf("no session index configured (set session.index_path)")
	}

	index, err := session.OpenIndex(cfg.Session.IndexPath)
	if err != nil {
		return err
	}
	defer index.Close()

	sessions, err := index.ListSessions(limit)
	if err != nil {
		return err
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions recorded")
		return nil
	}

	for _, s := range sessions {
		ended := s.EndedAt
		if ended == "" {
			ended = "(unfinished)"
		}
		fmt.Printf("%s  started=%s ended=%s chunks=%d failures=%d dir=%s\n",
			s.ID, s.StartedAt, ended, s.Chunks, s.Failures, s.OutputDir)
	}
	return nil
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Logs go to stderr; stdout stays clean for -sessions output
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
