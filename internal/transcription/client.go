package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sync"
	"time"

	"github.com/ghardin1314/scribe/internal/config"
)

// Word is a single recognized word with its offsets in seconds relative
// to the start of the submitted audio.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Segment is a contiguous span of recognized speech
type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	Words []Word  `json:"words,omitempty"`
}

// Result is a verbose_json transcription response
type Result struct {
	Text     string    `json:"text"`
	Language string    `json:"language,omitempty"`
	Duration float64   `json:"duration"`
	Segments []Segment `json:"segments,omitempty"`
	Words    []Word    `json:"words,omitempty"`
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalCalls      uint64        `json:"total_calls"`
	SuccessCalls    uint64        `json:"success_calls"`
	FailedCalls     uint64        `json:"failed_calls"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// Client submits WAV audio to a whisper-compatible transcription endpoint
// and parses the verbose_json response. A call is a single HTTP exchange;
// the retry policy lives with the caller, which needs to count attempts
// and observe shutdown.
type Client struct {
	apiURL     string
	apiKey     string
	model      string
	httpClient *http.Client

	totalCalls      uint64
	successCalls    uint64
	failedCalls     uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// NewClient creates a transcription client from configuration
func NewClient(cfg *config.Config) (*Client, error) {
	apiURL := cfg.Transcription.APIURL
	if apiURL == "" {
		return nil, fmt.Errorf("api_url cannot be empty")
	}

	httpClient := &http.Client{
		Timeout: cfg.Transcription.GetTimeoutDuration(),
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		apiURL:     apiURL,
		apiKey:     cfg.Transcription.APIKey,
		model:      cfg.Transcription.Model,
		httpClient: httpClient,
	}, nil
}

// Transcribe submits one WAV payload and returns the parsed result.
// Failures are classified: *TransientError and *TransportError are worth
// retrying, *PermanentError is not.
func (c *Client) Transcribe(ctx context.Context, wavData []byte) (*Result, error) {
	startTime := time.Now()
	c.incrementTotalCalls()

	result, err := c.doRequest(ctx, wavData)
	if err != nil {
		c.incrementFailedCalls()
		return nil, err
	}

	c.incrementSuccessCalls()
	c.updateAvgResponseTime(time.Since(startTime))
	return result, nil
}

// doRequest performs a single HTTP exchange with the backend
func (c *Client) doRequest(ctx context.Context, wavData []byte) (*Result, error) {
	body, contentType, err := c.createMultipartRequest(wavData)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.apiURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "scribe/1.0")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &TransientError{Status: resp.StatusCode, Body: string(respBody)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &PermanentError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	result.flattenWords()
	return &result, nil
}

// createMultipartRequest builds the whisper-style multipart form body
func (c *Client) createMultipartRequest(wavData []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	// Explicit part header so the file carries an audio/wav content type
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="audio.wav"`)
	header.Set("Content-Type", "audio/wav")
	fileWriter, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(wavData); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := [][2]string{
		{"model", c.model},
		{"response_format", "verbose_json"},
		{"timestamp_granularities[]", "word"},
		{"timestamp_granularities[]", "segment"},
	}
	for _, field := range fields {
		if err := writer.WriteField(field[0], field[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", field[0], err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// flattenWords fills the top-level word list from segment words when the
// backend nests them. whisper.cpp's server returns word timestamps only
// inside segments.
func (r *Result) flattenWords() {
	if len(r.Words) > 0 {
		return
	}

	for _, segment := range r.Segments {
		r.Words = append(r.Words, segment.Words...)
	}
}

// Statistics methods
func (c *Client) incrementTotalCalls() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalCalls++
}

func (c *Client) incrementSuccessCalls() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successCalls++
}

func (c *Client) incrementFailedCalls() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedCalls++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalCalls > 0 {
		successRate = float64(c.successCalls) / float64(c.totalCalls) * 100
	}

	return ClientStats{
		TotalCalls:      c.totalCalls,
		SuccessCalls:    c.successCalls,
		FailedCalls:     c.failedCalls,
		SuccessRate:     successRate,
		AvgResponseTime: c.avgResponseTime,
	}
}
