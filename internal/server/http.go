package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ghardin1314/scribe/internal/config"
	"github.com/ghardin1314/scribe/internal/metrics"
	"github.com/ghardin1314/scribe/internal/pipeline"
	"github.com/ghardin1314/scribe/internal/session"
)

// HTTPServer provides HTTP API endpoints for monitoring a running session
type HTTPServer struct {
	server   *http.Server
	logger   *slog.Logger
	config   *config.Config
	pipeline *pipeline.Pipeline
	index    *session.Index
	metrics  *metrics.Metrics

	// Server state
	startTime time.Time
	mu        sync.RWMutex
}

// NewHTTPServer creates a new HTTP monitoring server. The index may be
// nil when no session index is configured; /sessions then returns 503.
func NewHTTPServer(cfg *config.Config, logger *slog.Logger,
	pipe *pipeline.Pipeline, idx *session.Index, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    cfg,
		pipeline:  pipe,
		index:     idx,
		metrics:   m,
		startTime: time.Now(),
	}

	// Create HTTP server with routes
	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         cfg.Metrics.ListenAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Statistics endpoint
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Session index endpoint
	mux.HandleFunc("/sessions", h.withMetrics("/sessions", h.handleSessions))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		// Call the original handler
		handler(ww, r)

		// Record metrics
		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		// Record error if status code indicates an error
		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP monitoring server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP monitoring server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	stats := h.pipeline.GetStats()

	status := "healthy"
	httpStatus := http.StatusOK
	switch stats.State {
	case pipeline.StateDraining.String():
		status = "draining"
	case pipeline.StateStopped.String():
		status = "stopped"
		httpStatus = http.StatusServiceUnavailable
	}

	health := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "scribe",
			"version": "1.0.0",
		},
		"session": map[string]interface{}{
			"id":    stats.Session,
			"state": stats.State,
		},
		"components": map[string]interface{}{
			"mixer": map[string]interface{}{
				"system_backlog_samples": stats.Mixer.SystemBacklog,
				"mic_backlog_samples":    stats.Mixer.MicBacklog,
				"head_seconds":           stats.Mixer.HeadSeconds,
			},
			"workers": map[string]interface{}{
				"queue_depth":      stats.Pool.QueueDepth,
				"queue_capacity":   stats.Pool.QueueCapacity,
				"chunks_processed": stats.Pool.ChunksProcessed,
				"chunks_failed":    stats.Pool.ChunksFailed,
			},
			"writer": map[string]interface{}{
				"chunks_written":  stats.Writer.ChunksWritten,
				"empty_chunks":    stats.Writer.EmptyChunks,
				"failures_logged": stats.Writer.FailuresLogged,
				"pending_reorder": stats.Writer.PendingReorder,
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(health)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"pipeline":  h.pipeline.GetStats(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return sanitized configuration (remove sensitive data)
	sanitizedConfig := map[string]interface{}{
		"capture": map[string]interface{}{
			"system_enabled": h.config.Capture.System.Enabled,
			"system_backend": h.config.Capture.System.Backend,
			"system_device":  h.config.Capture.System.Device,
			"mic_enabled":    h.config.Capture.Mic.Enabled,
			"mic_backend":    h.config.Capture.Mic.Backend,
			"mic_device":     h.config.Capture.Mic.Device,
			"frame_ms":       h.config.Capture.FrameMs,
		},
		"pipeline": map[string]interface{}{
			"chunk_duration_seconds": h.config.Pipeline.ChunkDurationSeconds,
			"overlap_seconds":        h.config.Pipeline.OverlapSeconds,
			"mix_mode":               h.config.Pipeline.MixMode,
			"concurrency":            h.config.Pipeline.Concurrency,
			"queue_size":             h.config.Pipeline.QueueSize,
			"max_buffer_seconds":     h.config.Pipeline.MaxBufferSeconds,
			"drain_timeout_seconds":  h.config.Pipeline.DrainTimeoutSeconds,
			"silence_threshold_dbfs": h.config.Pipeline.SilenceThresholdDBFS,
		},
		"transcription": map[string]interface{}{
			"api_url":         h.config.Transcription.APIURL,
			"model":           h.config.Transcription.Model,
			"timeout_seconds": h.config.Transcription.TimeoutSeconds,
			"max_retries":     h.config.Transcription.MaxRetries,
			"local_enabled":   h.config.Transcription.Local.Enabled,
			"local_model":     h.config.Transcription.Local.Model,
			// Note: API key is intentionally omitted for security
		},
		"merge": map[string]interface{}{
			"bleed_time_tolerance_seconds": h.config.Merge.BleedTimeToleranceSeconds,
			"bleed_min_run":                h.config.Merge.BleedMinRun,
			"bleed_drop_coverage":          h.config.Merge.BleedDropCoverage,
		},
		"session": map[string]interface{}{
			"output_dir": h.config.Session.OutputDir,
			"save_audio": h.config.Session.SaveAudio,
			"index_path": h.config.Session.IndexPath,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

// handleSessions implements the /sessions endpoint
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.index == nil {
		http.Error(w, "Session index not configured", http.StatusServiceUnavailable)
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	sessions, err := h.index.ListSessions(limit)
	if err != nil {
		h.logger.Error("Failed to list sessions", slog.String("error", err.Error()))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{
		"total_sessions": len(sessions),
		"timestamp":      time.Now().UTC(),
		"sessions":       sessions,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Scribe Transcription Pipeline",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":         "API documentation",
			"GET /health":   "Pipeline health check",
			"GET /stats":    "Detailed pipeline statistics",
			"GET /config":   "Active configuration",
			"GET /sessions": "Recent sessions from the index (?limit=N)",
			"GET /metrics":  "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
