package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ghardin1314/scribe/internal/capture"
	"github.com/ghardin1314/scribe/internal/config"
	"github.com/ghardin1314/scribe/internal/pipeline"
	"github.com/ghardin1314/scribe/internal/session"
	"github.com/ghardin1314/scribe/internal/transcription"
)

func newTestServer(t *testing.T, idx *session.Index) *HTTPServer {
	t.Helper()

	cfg := config.Default()
	cfg.Session.OutputDir = t.TempDir()
	cfg.Metrics.ListenAddr = "127.0.0.1:0"
	cfg.Transcription.APIKey = "sk-secret-key"

	sess := session.New(cfg.Session.OutputDir, time.Now())

	client, err := transcription.NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	frameDur := cfg.Capture.GetFrameDuration()
	system := capture.NewToneSource(capture.SourceSystem, 440, frameDur)
	mic := capture.NewToneSource(capture.SourceMic, 330, frameDur)

	pipe, err := pipeline.NewPipeline(cfg, sess, system, mic, client, idx, nil)
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHTTPServer(cfg, logger, pipe, idx, nil)
}

func serve(srv *HTTPServer, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := serve(srv, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health status = %d, want %d", rec.Code, http.StatusOK)
	}

	var health map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("failed to parse health response: %v", err)
	}

	if health["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", health["status"])
	}

	components, ok := health["components"].(map[string]interface{})
	if !ok {
		t.Fatal("health response missing components")
	}
	for _, name := range []string{"mixer", "workers", "writer"} {
		if _, ok := components[name]; !ok {
			t.Errorf("components missing %q", name)
		}
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := serve(srv, http.MethodGet, "/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /stats status = %d, want %d", rec.Code, http.StatusOK)
	}

	var stats map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("failed to parse stats response: %v", err)
	}

	pipelineStats, ok := stats["pipeline"].(map[string]interface{})
	if !ok {
		t.Fatal("stats response missing pipeline")
	}
	if pipelineStats["state"] != "running" {
		t.Errorf("pipeline state = %v, want running", pipelineStats["state"])
	}
}

func TestConfigEndpointOmitsSecrets(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := serve(srv, http.MethodGet, "/config")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /config status = %d, want %d", rec.Code, http.StatusOK)
	}

	body := rec.Body.String()
	if strings.Contains(body, "sk-secret-key") {
		t.Error("config response leaked the API key")
	}
	if !strings.Contains(body, "chunk_duration_seconds") {
		t.Error("config response missing pipeline settings")
	}
}

func TestSessionsWithoutIndex(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := serve(srv, http.MethodGet, "/sessions")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /sessions status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestSessionsEndpoint(t *testing.T) {
	idx, err := session.OpenIndex(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("OpenIndex() error = %v", err)
	}
	defer idx.Close()

	sess := session.New(t.TempDir(), time.Now())
	if err := idx.RecordSession(sess); err != nil {
		t.Fatalf("RecordSession() error = %v", err)
	}

	srv := newTestServer(t, idx)

	rec := serve(srv, http.MethodGet, "/sessions")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /sessions status = %d, want %d", rec.Code, http.StatusOK)
	}

	var response struct {
		TotalSessions int `json:"total_sessions"`
		Sessions      []struct {
			ID string
		} `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse sessions response: %v", err)
	}
	if response.TotalSessions < 1 {
		t.Errorf("total_sessions = %d, want at least 1", response.TotalSessions)
	}

	found := false
	for _, s := range response.Sessions {
		if s.ID == sess.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("sessions response missing session %s", sess.ID)
	}

	if rec := serve(srv, http.MethodGet, "/sessions?limit=0"); rec.Code != http.StatusBadRequest {
		t.Errorf("GET /sessions?limit=0 status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestRootEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := serve(srv, http.MethodGet, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET / status = %d, want %d", rec.Code, http.StatusOK)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("failed to parse root response: %v", err)
	}
	if _, ok := doc["endpoints"]; !ok {
		t.Error("root response missing endpoint documentation")
	}

	if rec := serve(srv, http.MethodGet, "/no-such-endpoint"); rec.Code != http.StatusNotFound {
		t.Errorf("GET /no-such-endpoint status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, nil)

	for _, path := range []string{"/health", "/stats", "/config", "/sessions"} {
		if rec := serve(srv, http.MethodPost, path); rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("POST %s status = %d, want %d", path, rec.Code, http.StatusMethodNotAllowed)
		}
	}
}
