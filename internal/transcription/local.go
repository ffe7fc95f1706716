package transcription

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ghardin1314/scribe/internal/config"
)

const (
	localReadyTimeout = 30 * time.Second
	localPollInterval = 500 * time.Millisecond
)

// localBinaries are the whisper.cpp server names probed on PATH, in order
var localBinaries = []string{"whisper-cpp-server", "whisper-server"}

// LocalServer manages a whisper.cpp server child process for offline
// transcription. Start spawns it and blocks until its health endpoint
// answers; Stop kills it.
type LocalServer struct {
	model string
	port  int
	cmd   *exec.Cmd
}

// NewLocalServer creates a manager for the configured local model
func NewLocalServer(cfg *config.Config) *LocalServer {
	return &LocalServer{
		model: cfg.Transcription.Local.Model,
		port:  cfg.Transcription.Local.Port,
	}
}

// APIURL returns the inference endpoint of the running server
func (s *LocalServer) APIURL() string {
	return fmt.Sprintf("http://localhost:%d/inference", s.port)
}

// Start spawns the whisper server and waits for it to become healthy
func (s *LocalServer) Start(ctx context.Context) error {
	binary, err := findBinary()
	if err != nil {
		return err
	}

	modelPath, err := findModel(s.model)
	if err != nil {
		return err
	}

	slog.Info("Starting local whisper server",
		slog.String("binary", binary),
		slog.String("model", modelPath),
		slog.Int("port", s.port))

	cmd := exec.Command(binary, "-m", modelPath, "--port", strconv.Itoa(s.port))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", binary, err)
	}
	s.cmd = cmd

	if err := s.waitReady(ctx); err != nil {
		s.Stop()
		return err
	}

	slog.Info("Local whisper server ready", slog.Int("port", s.port))
	return nil
}

// Stop kills the server process and reaps it
func (s *LocalServer) Stop() {
	if s.cmd == nil || s.cmd.Process == nil {
		return
	}

	slog.Info("Stopping local whisper server")
	s.cmd.Process.Kill()
	s.cmd.Wait()
	s.cmd = nil
}

// waitReady polls the health endpoint until the server answers
func (s *LocalServer) waitReady(ctx context.Context) error {
	url := fmt.Sprintf("http://localhost:%d/health", s.port)
	client := &http.Client{Timeout: time.Second}
	deadline := time.Now().Add(localReadyTimeout)

	for {
		if time.Now().After(deadline) {
			return fmt.Errorf("whisper server failed to start within %v", localReadyTimeout)
		}

		resp, err := client.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(localPollInterval):
		}
	}
}

// findBinary locates a whisper.cpp server executable on PATH
func findBinary() (string, error) {
	for _, name := range localBinaries {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("whisper server not found in PATH (install: brew install whisper-cpp)")
}

// findModel locates ggml-{model}.bin in the conventional model directories
func findModel(model string) (string, error) {
	filename := fmt.Sprintf("ggml-%s.bin", model)
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot resolve home directory: %w", err)
	}

	candidates := []string{
		filepath.Join(home, ".cache", "whisper", filename),
		filepath.Join(home, ".local", "share", "scribe", "models", filename),
		filepath.Join(home, "models", filename),
	}

	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("model %s not found (download: whisper-cpp-download-ggml-model %s)", filename, model)
}
