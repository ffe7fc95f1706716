package transcription

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ghardin1314/scribe/internal/config"
)

func testClient(t *testing.T, url string) *Client {
	t.Helper()

	cfg := config.Default()
	cfg.Transcription.APIURL = url
	cfg.Transcription.APIKey = "test-key"
	cfg.Transcription.Model = "whisper-1"

	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func TestClientTranscribeSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"text": "hello world",
			"language": "en",
			"duration": 2.5,
			"segments": [
				{"id": 0, "start": 0.0, "end": 2.5, "text": "hello world"}
			],
			"words": [
				{"word": "hello", "start": 0.1, "end": 0.5},
				{"word": "world", "start": 0.6, "end": 1.0}
			]
		}`)
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	result, err := client.Transcribe(context.Background(), []byte("fake wav data"))
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if result.Text != "hello world" {
		t.Errorf("expected text 'hello world', got '%s'", result.Text)
	}
	if result.Duration != 2.5 {
		t.Errorf("expected duration 2.5, got %f", result.Duration)
	}
	if len(result.Segments) != 1 {
		t.Errorf("expected 1 segment, got %d", len(result.Segments))
	}
	if len(result.Words) != 2 {
		t.Fatalf("expected 2 words, got %d", len(result.Words))
	}
	if result.Words[0].Word != "hello" || result.Words[0].Start != 0.1 {
		t.Errorf("word 0 mismatch: %+v", result.Words[0])
	}

	stats := client.GetStats()
	if stats.TotalCalls != 1 || stats.SuccessCalls != 1 {
		t.Errorf("expected 1 successful call in stats, got %+v", stats)
	}
}

func TestClientMultipartFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("expected bearer auth, got '%s'", auth)
		}

		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Fatalf("failed to parse multipart form: %v", err)
		}

		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("expected model 'whisper-1', got '%s'", got)
		}
		if got := r.FormValue("response_format"); got != "verbose_json" {
			t.Errorf("expected response_format 'verbose_json', got '%s'", got)
		}

		granularities := r.MultipartForm.Value["timestamp_granularities[]"]
		if len(granularities) != 2 || granularities[0] != "word" || granularities[1] != "segment" {
			t.Errorf("expected word and segment granularities, got %v", granularities)
		}

		files := r.MultipartForm.File["file"]
		if len(files) != 1 {
			t.Fatalf("expected 1 file part, got %d", len(files))
		}
		if files[0].Filename != "audio.wav" {
			t.Errorf("expected filename 'audio.wav', got '%s'", files[0].Filename)
		}
		if ct := files[0].Header.Get("Content-Type"); ct != "audio/wav" {
			t.Errorf("expected file content type 'audio/wav', got '%s'", ct)
		}

		file, err := files[0].Open()
		if err != nil {
			t.Fatalf("failed to open file part: %v", err)
		}
		defer file.Close()
		payload := make([]byte, 16)
		n, _ := file.Read(payload)
		if string(payload[:n]) != "fake wav data" {
			t.Errorf("file payload mismatch: '%s'", string(payload[:n]))
		}

		fmt.Fprint(w, `{"text": "ok", "duration": 1.0}`)
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	if _, err := client.Transcribe(context.Background(), []byte("fake wav data")); err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
}

func TestClientErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
		permanent bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, transient: true},
		{name: "server error", status: http.StatusInternalServerError, transient: true},
		{name: "bad gateway", status: http.StatusBadGateway, transient: true},
		{name: "service unavailable", status: http.StatusServiceUnavailable, transient: true},
		{name: "bad request", status: http.StatusBadRequest, permanent: true},
		{name: "unauthorized", status: http.StatusUnauthorized, permanent: true},
		{name: "not found", status: http.StatusNotFound, permanent: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "backend says no", tt.status)
			}))
			defer server.Close()

			client := testClient(t, server.URL)
			_, err := client.Transcribe(context.Background(), []byte("x"))
			if err == nil {
				t.Fatal("expected error but got none")
			}

			var transient *TransientError
			var permanent *PermanentError
			if tt.transient {
				if !errors.As(err, &transient) {
					t.Errorf("expected TransientError, got %T: %v", err, err)
				}
				if transient != nil && transient.Status != tt.status {
					t.Errorf("expected status %d, got %d", tt.status, transient.Status)
				}
				if !IsRetryable(err) {
					t.Error("transient error should be retryable")
				}
			}
			if tt.permanent {
				if !errors.As(err, &permanent) {
					t.Errorf("expected PermanentError, got %T: %v", err, err)
				}
				if IsRetryable(err) {
					t.Error("permanent error should not be retryable")
				}
			}
		})
	}
}

func TestClientTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := testClient(t, url)
	_, err := client.Transcribe(context.Background(), []byte("x"))
	if err == nil {
		t.Fatal("expected error against closed server")
	}

	var transport *TransportError
	if !errors.As(err, &transport) {
		t.Errorf("expected TransportError, got %T: %v", err, err)
	}
	if !IsRetryable(err) {
		t.Error("transport error should be retryable")
	}
}

func TestClientFlattensSegmentWords(t *testing.T) {
	// whisper.cpp nests word timestamps under segments and leaves the
	// top-level list empty
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"text": "the quick brown fox",
			"duration": 3.0,
			"segments": [
				{"id": 0, "start": 0.0, "end": 1.5, "text": "the quick",
				 "words": [{"word": "the", "start": 0.1, "end": 0.4}, {"word": "quick", "start": 0.5, "end": 0.9}]},
				{"id": 1, "start": 1.5, "end": 3.0, "text": "brown fox",
				 "words": [{"word": "brown", "start": 1.6, "end": 2.0}, {"word": "fox", "start": 2.1, "end": 2.5}]}
			]
		}`)
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	result, err := client.Transcribe(context.Background(), []byte("x"))
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if len(result.Words) != 4 {
		t.Fatalf("expected 4 flattened words, got %d", len(result.Words))
	}
	wantOrder := []string{"the", "quick", "brown", "fox"}
	for i, want := range wantOrder {
		if result.Words[i].Word != want {
			t.Errorf("word %d: expected '%s', got '%s'", i, want, result.Words[i].Word)
		}
	}
}

func TestClientInvalidResponseJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "this is not json")
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	_, err := client.Transcribe(context.Background(), []byte("x"))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if IsRetryable(err) {
		t.Error("a malformed success response should not be retried")
	}
}

func TestNewClientValidation(t *testing.T) {
	cfg := config.Default()
	cfg.Transcription.APIURL = ""
	cfg.Transcription.Local.Enabled = false

	if _, err := NewClient(cfg); err == nil {
		t.Error("expected error for empty api_url")
	}
}

func TestIsRetryableWrapped(t *testing.T) {
	wrapped := fmt.Errorf("lane system: %w", &TransientError{Status: 503})
	if !IsRetryable(wrapped) {
		t.Error("expected wrapped transient error to stay retryable")
	}

	wrappedPermanent := fmt.Errorf("lane mic: %w", &PermanentError{Status: 400})
	if IsRetryable(wrappedPermanent) {
		t.Error("expected wrapped permanent error to stay non-retryable")
	}
}
