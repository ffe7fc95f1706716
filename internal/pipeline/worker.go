package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ghardin1314/scribe/internal/audio"
	"github.com/ghardin1314/scribe/internal/chunker"
	"github.com/ghardin1314/scribe/internal/config"
	"github.com/ghardin1314/scribe/internal/merge"
	"github.com/ghardin1314/scribe/internal/metrics"
	"github.com/ghardin1314/scribe/internal/session"
	"github.com/ghardin1314/scribe/internal/transcription"
)

const (
	// maxBackoff caps exponential retry delays
	maxBackoff = 30 * time.Second

	// normalizeTarget is the peak level lanes are normalized to before
	// transcription. Quiet capture devices otherwise produce poor results.
	normalizeTarget = 0.9
)

// PoolStats represents worker pool statistics
type PoolStats struct {
	ChunksProcessed uint64 `json:"chunks_processed"`
	ChunksFailed    uint64 `json:"chunks_failed"`
	SilenceSkips    uint64 `json:"silence_skips"`
	QueueDepth      int    `json:"queue_depth"`
	QueueCapacity   int    `json:"queue_capacity"`
}

// Pool runs the transcription workers. Each worker claims a chunk from
// the bounded queue, transcribes its lanes, merges the results, and
// submits exactly one outcome to the session writer. Lane transcriptions
// within a chunk run concurrently; a lane below the silence threshold
// never reaches the backend.
type Pool struct {
	cfg     *config.Config
	client  *transcription.Client
	merger  *merge.Engine
	writer  *session.Writer
	metrics *metrics.Metrics

	chunks chan *chunker.Chunk
	wg     sync.WaitGroup

	chunksProcessed uint64
	chunksFailed    uint64
	silenceSkips    uint64
	mu              sync.RWMutex
}

// NewPool creates a worker pool wired to the writer
func NewPool(cfg *config.Config, client *transcription.Client, merger *merge.Engine,
	writer *session.Writer, m *metrics.Metrics) *Pool {

	return &Pool{
		cfg:     cfg,
		client:  client,
		merger:  merger,
		writer:  writer,
		metrics: m,
		chunks:  make(chan *chunker.Chunk, cfg.Pipeline.QueueSize),
	}
}

// Start launches the configured number of workers. The context cancels
// in-flight backend calls; queued chunks then drain as fast failures, so
// every submitted chunk still produces an outcome.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Pipeline.Concurrency; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	slog.Info("Worker pool started",
		slog.Int("workers", p.cfg.Pipeline.Concurrency),
		slog.Int("queue_size", p.cfg.Pipeline.QueueSize))
}

// Submit queues a chunk for transcription. Blocks while the queue is
// full; the backpressure propagates into the mixer backlog, which has
// its own hard ceiling.
func (p *Pool) Submit(ctx context.Context, chunk *chunker.Chunk) error {
	select {
	case p.chunks <- chunk:
		p.metrics.SetQueueDepth(len(p.chunks))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pipeline stopping, chunk %d not dispatched: %w", chunk.Sequence, ctx.Err())
	}
}

// Close stops accepting chunks. Workers exit after the queue empties.
func (p *Pool) Close() {
	close(p.chunks)
}

// Wait blocks until all workers have exited
func (p *Pool) Wait() {
	p.wg.Wait()
}

// GetStats returns current pool statistics
func (p *Pool) GetStats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return PoolStats{
		ChunksProcessed: p.chunksProcessed,
		ChunksFailed:    p.chunksFailed,
		SilenceSkips:    p.silenceSkips,
		QueueDepth:      len(p.chunks),
		QueueCapacity:   cap(p.chunks),
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for chunk := range p.chunks {
		p.metrics.SetQueueDepth(len(p.chunks))
		p.process(ctx, chunk)
	}

	slog.Debug("Worker exited", slog.Int("worker", id))
}

// laneResult carries one lane's transcription through the merge
type laneResult struct {
	result *transcription.Result
	err    error
}

// process turns one chunk into exactly one written outcome
func (p *Pool) process(ctx context.Context, chunk *chunker.Chunk) {
	started := time.Now()

	slog.Debug("Processing chunk",
		slog.String("chunk", chunk.ID()),
		slog.Float64("duration", chunk.Duration().Seconds()))

	// Audio goes to disk before the first backend call so a crash
	// mid-call never loses the source material.
	audioFiles := p.writeAudio(chunk)

	var system, mic laneResult
	var laneWG sync.WaitGroup
	if chunk.System != nil {
		laneWG.Add(1)
		go func() {
			defer laneWG.Done()
			system = p.transcribeLane(ctx, "system", chunk.System, chunk.SampleRate)
		}()
	}
	if chunk.Mic != nil {
		laneWG.Add(1)
		go func() {
			defer laneWG.Done()
			mic = p.transcribeLane(ctx, "mic", chunk.Mic, chunk.SampleRate)
		}()
	}
	laneWG.Wait()

	outcome := &session.Outcome{Chunk: chunk, AudioFiles: audioFiles}

	// A failed lane is logged and contributes nothing; the other lane's
	// transcript still goes through. Only a chunk with no surviving lane
	// becomes a failure outcome.
	present, failed := 0, 0
	if chunk.System != nil {
		present++
		if system.err != nil {
			failed++
			p.logLaneFailure(chunk, "system", system.err)
		}
	}
	if chunk.Mic != nil {
		present++
		if mic.err != nil {
			failed++
			p.logLaneFailure(chunk, "mic", mic.err)
		}
	}

	if present > 0 && failed == present {
		outcome.Err = laneFailureError(system.err, mic.err)
	} else {
		fragment := p.merger.Merge(system.result, mic.result)
		p.metrics.RecordBleedRemoved(fragment.BleedWordsRemoved, fragment.BleedSegmentsDropped)
		outcome.Fragment = fragment
	}

	if !p.cfg.Session.SaveAudio {
		outcome.AudioFiles = p.removeAudio(audioFiles)
	}

	// The writer never needs the PCM again; free it before the outcome
	// sits in the reorder buffer.
	chunk.System = nil
	chunk.Mic = nil
	chunk.Stereo = nil

	status := "ok"
	p.mu.Lock()
	switch {
	case outcome.Err != nil:
		p.chunksFailed++
		status = "failed"
	case len(outcome.Fragment.Segments) == 0:
		p.chunksProcessed++
		status = "empty"
	default:
		p.chunksProcessed++
	}
	p.mu.Unlock()

	p.writer.Submit(outcome)
	p.metrics.RecordChunkCompleted(status, time.Since(started).Seconds())
}

// logLaneFailure records a lane that gave up. The chunk id names the
// audio file to resubmit manually when save_audio kept it.
func (p *Pool) logLaneFailure(chunk *chunker.Chunk, lane string, err error) {
	slog.Error("Lane transcription failed",
		slog.Uint64("sequence", chunk.Sequence),
		slog.String("chunk", chunk.ID()),
		slog.String("lane", lane),
		slog.String("error", err.Error()))
}

// laneFailureError folds per-lane errors into one chunk-level error
func laneFailureError(systemErr, micErr error) error {
	switch {
	case systemErr != nil && micErr != nil:
		return fmt.Errorf("system lane: %v; mic lane: %w", systemErr, micErr)
	case systemErr != nil:
		return fmt.Errorf("system lane: %w", systemErr)
	default:
		return fmt.Errorf("mic lane: %w", micErr)
	}
}

// transcribeLane gates on silence, then normalizes, encodes, and sends
// one lane's audio through the retry loop.
func (p *Pool) transcribeLane(ctx context.Context, lane string, samples []int16, sampleRate int) laneResult {
	level := audio.LevelDBFS(samples)
	if level < p.cfg.Pipeline.SilenceThresholdDBFS {
		slog.Debug("Skipping silent lane",
			slog.String("lane", lane),
			slog.Float64("level_dbfs", level))

		p.metrics.RecordSilenceSkip(lane)
		p.mu.Lock()
		p.silenceSkips++
		p.mu.Unlock()
		return laneResult{}
	}

	normalized := audio.PeakNormalize(samples, normalizeTarget)
	wavData, err := audio.EncodeWAV(normalized, sampleRate, 1)
	if err != nil {
		return laneResult{err: fmt.Errorf("failed to encode lane audio: %w", err)}
	}

	result, err := p.transcribeWithRetry(ctx, lane, wavData)
	return laneResult{result: result, err: err}
}

// transcribeWithRetry sends one lane's WAV to the backend, retrying
// transient failures with exponential backoff. Permanent failures and
// context cancellation return immediately.
func (p *Pool) transcribeWithRetry(ctx context.Context, lane string, wavData []byte) (*transcription.Result, error) {
	maxRetries := p.cfg.Transcription.MaxRetries
	base := p.cfg.Transcription.GetBackoffBase()

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := base * time.Duration(1<<(attempt-1))
			if backoff > maxBackoff {
				backoff = maxBackoff
			}

			slog.Debug("Retrying transcription",
				slog.String("lane", lane),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff))

			p.metrics.RecordTranscriptionRetry()

			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("transcription abandoned after %d attempts: %w", attempt, lastErr)
			case <-time.After(backoff):
			}
		}

		callStart := time.Now()
		result, err := p.client.Transcribe(ctx, wavData)
		elapsed := time.Since(callStart).Seconds()

		if err == nil {
			p.metrics.RecordTranscriptionCall(lane, "ok", elapsed)
			return result, nil
		}

		p.metrics.RecordTranscriptionCall(lane, "error", elapsed)
		lastErr = err

		if !transcription.IsRetryable(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("transcription failed after %d attempts: %w", maxRetries+1, lastErr)
}

// writeAudio persists the chunk's audio under <output_dir>/audio/<date>/.
// Split mode writes one WAV per lane; stereo mode writes one interleaved
// file, system left, mic right. Failures are logged and leave the
// matching path empty; transcription proceeds from memory either way.
func (p *Pool) writeAudio(chunk *chunker.Chunk) session.AudioFiles {
	date, ts := session.TimestampParts(chunk.Start)
	dir := filepath.Join(p.cfg.Session.OutputDir, "audio", date)

	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Error("Failed to create audio directory",
			slog.String("dir", dir),
			slog.String("error", err.Error()))
		return session.AudioFiles{}
	}

	var files session.AudioFiles
	if chunk.Mode == chunker.ModeStereo && len(chunk.Stereo) > 0 {
		path := filepath.Join(dir, ts+".wav")
		if err := audio.WriteWAVFile(path, chunk.Stereo, chunk.SampleRate, 2); err != nil {
			slog.Error("Failed to write stereo WAV",
				slog.String("path", path),
				slog.String("error", err.Error()))
		} else {
			files.Stereo = path
		}
		return files
	}

	if len(chunk.System) > 0 {
		path := filepath.Join(dir, ts+"_system.wav")
		if err := audio.WriteWAVFile(path, chunk.System, chunk.SampleRate, 1); err != nil {
			slog.Error("Failed to write system WAV",
				slog.String("path", path),
				slog.String("error", err.Error()))
		} else {
			files.System = path
		}
	}
	if len(chunk.Mic) > 0 {
		path := filepath.Join(dir, ts+"_mic.wav")
		if err := audio.WriteWAVFile(path, chunk.Mic, chunk.SampleRate, 1); err != nil {
			slog.Error("Failed to write mic WAV",
				slog.String("path", path),
				slog.String("error", err.Error()))
		} else {
			files.Mic = path
		}
	}
	return files
}

// removeAudio deletes chunk audio after the outcome is decided. With
// save_audio off nothing is retained, failed chunks included.
func (p *Pool) removeAudio(files session.AudioFiles) session.AudioFiles {
	for _, path := range []string{files.System, files.Mic, files.Stereo} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil {
			slog.Warn("Failed to remove chunk audio",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	}
	return session.AudioFiles{}
}
