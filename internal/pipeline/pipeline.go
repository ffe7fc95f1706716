package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ghardin1314/scribe/internal/audio"
	"github.com/ghardin1314/scribe/internal/capture"
	"github.com/ghardin1314/scribe/internal/chunker"
	"github.com/ghardin1314/scribe/internal/config"
	"github.com/ghardin1314/scribe/internal/merge"
	"github.com/ghardin1314/scribe/internal/metrics"
	"github.com/ghardin1314/scribe/internal/mixer"
	"github.com/ghardin1314/scribe/internal/session"
	"github.com/ghardin1314/scribe/internal/transcription"
)

// advanceInterval paces virtual clock advances in the run loop
const advanceInterval = 100 * time.Millisecond

// State is the pipeline lifecycle state
type State int

const (
	// StateRunning means capture and transcription are active
	StateRunning State = iota
	// StateDraining means capture has stopped and buffered work is
	// being flushed through transcription and the writer
	StateDraining
	// StateStopped means every outcome has been written
	StateStopped
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// PipelineStats aggregates statistics from every pipeline component
type PipelineStats struct {
	State         string                    `json:"state"`
	Session       string                    `json:"session_id"`
	Mixer         mixer.SyncStats           `json:"mixer"`
	Chunker       chunker.ChunkerStats      `json:"chunker"`
	Pool          PoolStats                 `json:"pool"`
	Writer        session.WriterStats       `json:"writer"`
	Transcription transcription.ClientStats `json:"transcription"`
	Merge         merge.EngineStats         `json:"merge"`
}

// Pipeline owns the capture-to-transcript flow for one session: frames
// from the capture sources are canonicalized, aligned on the virtual
// clock, cut into chunks, transcribed by the worker pool, and written in
// order by the session writer.
//
// Lifecycle is Running, then Draining once Stop is called or every
// source ends, then Stopped once all outcomes are on disk.
type Pipeline struct {
	cfg  *config.Config
	sess *session.Session

	systemSource capture.Source
	micSource    capture.Source
	systemCanon  *mixer.Canonicalizer
	micCanon     *mixer.Canonicalizer

	synchronizer *mixer.Synchronizer
	chunker      *chunker.Chunker
	merger       *merge.Engine
	client       *transcription.Client
	pool         *Pool
	writer       *session.Writer
	index        *session.Index
	metrics      *metrics.Metrics

	// workerCtx aborts in-flight backend calls when the drain deadline
	// passes; queued chunks then fail fast instead of being lost.
	workerCtx    context.Context
	workerCancel context.CancelFunc

	// last published silence-fill counters, touched only on the run loop
	lastSystemFilled uint64
	lastMicFilled    uint64

	loopDone chan struct{} // closed when the run loop exits
	stopDone chan struct{} // closed when Stop completes

	state    State
	fatalErr error
	mu       sync.RWMutex
}

// NewPipeline wires the pipeline components for one session. Sources may
// be nil only when the matching lane is disabled in config; the index may
// always be nil.
func NewPipeline(cfg *config.Config, sess *session.Session, system, mic capture.Source,
	client *transcription.Client, index *session.Index, m *metrics.Metrics) (*Pipeline, error) {

	if cfg.Capture.System.Enabled && system == nil {
		return nil, fmt.Errorf("system capture is enabled but no source was provided")
	}
	if cfg.Capture.Mic.Enabled && mic == nil {
		return nil, fmt.Errorf("mic capture is enabled but no source was provided")
	}

	writer := session.NewWriter(cfg, sess, index)
	merger := merge.NewEngine(cfg)

	workerCtx, workerCancel := context.WithCancel(context.Background())

	p := &Pipeline{
		cfg:          cfg,
		sess:         sess,
		systemSource: system,
		micSource:    mic,
		synchronizer: mixer.NewSynchronizer(cfg),
		chunker:      chunker.NewChunker(cfg),
		merger:       merger,
		client:       client,
		pool:         NewPool(cfg, client, merger, writer, m),
		writer:       writer,
		index:        index,
		metrics:      m,
		workerCtx:    workerCtx,
		workerCancel: workerCancel,
		loopDone:     make(chan struct{}),
		stopDone:     make(chan struct{}),
	}

	if system != nil {
		p.systemCanon = mixer.NewCanonicalizer(capture.SourceSystem)
	}
	if mic != nil {
		p.micCanon = mixer.NewCanonicalizer(capture.SourceMic)
	}

	return p, nil
}

// Start anchors the virtual clock, launches the workers and writer, and
// begins capturing.
func (p *Pipeline) Start() error {
	p.metrics.SetPipelineState(int(StateRunning))
	p.synchronizer.Start(time.Now())
	p.writer.Start()
	p.pool.Start(p.workerCtx)

	if p.index != nil {
		if err := p.index.RecordSession(p.sess); err != nil {
			slog.Warn("Failed to register session in index", slog.String("error", err.Error()))
		}
	}

	if p.systemSource != nil {
		if err := p.systemSource.Start(); err != nil {
			return fmt.Errorf("failed to start system capture: %w", err)
		}
	}
	if p.micSource != nil {
		if err := p.micSource.Start(); err != nil {
			if p.systemSource != nil {
				p.systemSource.Stop()
			}
			return fmt.Errorf("failed to start mic capture: %w", err)
		}
	}

	go p.runLoop()

	slog.Info("Pipeline running",
		slog.String("session", p.sess.ID),
		slog.String("mix_mode", p.cfg.Pipeline.MixMode),
		slog.Float64("chunk_seconds", p.cfg.Pipeline.ChunkDurationSeconds),
		slog.Float64("overlap_seconds", p.cfg.Pipeline.OverlapSeconds))

	return nil
}

// Stop drains the pipeline: capture stops, buffered audio is flushed
// through chunking and transcription bounded by the drain timeout, and
// the writer is closed after its last outcome. Safe to call more than
// once; later calls wait for the first to finish.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	switch p.state {
	case StateStopped:
		p.mu.Unlock()
		return p.Err()
	case StateDraining:
		p.mu.Unlock()
		<-p.stopDone
		return p.Err()
	}
	p.state = StateDraining
	p.mu.Unlock()

	p.metrics.SetPipelineState(int(StateDraining))
	slog.Info("Draining pipeline...")

	// Stopping the sources closes their channels, which ends the run
	// loop after it ingests the tail and flushes the chunker.
	if p.systemSource != nil {
		if err := p.systemSource.Stop(); err != nil {
			slog.Warn("Failed to stop system capture", slog.String("error", err.Error()))
		}
	}
	if p.micSource != nil {
		if err := p.micSource.Stop(); err != nil {
			slog.Warn("Failed to stop mic capture", slog.String("error", err.Error()))
		}
	}

	<-p.loopDone

	p.pool.Close()
	drained := make(chan struct{})
	go func() {
		p.pool.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(p.cfg.Pipeline.GetDrainTimeout()):
		slog.Warn("Drain timeout exceeded, abandoning in-flight transcriptions",
			slog.Float64("timeout_seconds", p.cfg.Pipeline.DrainTimeoutSeconds))
		p.workerCancel()
		<-drained
	case <-ctx.Done():
		slog.Warn("Shutdown context canceled, abandoning in-flight transcriptions")
		p.workerCancel()
		<-drained
	}
	p.workerCancel()

	p.writer.Close()

	writerStats := p.writer.GetStats()
	if p.index != nil {
		completed := writerStats.ChunksWritten + writerStats.EmptyChunks
		if err := p.index.FinalizeSession(p.sess.ID, time.Now(),
			completed, writerStats.FailuresLogged); err != nil {
			slog.Warn("Failed to finalize session in index", slog.String("error", err.Error()))
		}
	}

	p.mu.Lock()
	p.state = StateStopped
	p.mu.Unlock()
	p.metrics.SetPipelineState(int(StateStopped))

	poolStats := p.pool.GetStats()
	slog.Info("Pipeline stopped",
		slog.String("session", p.sess.ID),
		slog.Uint64("chunks_written", writerStats.ChunksWritten),
		slog.Uint64("chunks_empty", writerStats.EmptyChunks),
		slog.Uint64("failures", writerStats.FailuresLogged),
		slog.Uint64("silence_skips", poolStats.SilenceSkips))

	close(p.stopDone)
	return p.Err()
}

// Done closes when the ingest loop has ended, either because Stop was
// called or because every source reached end of stream. Callers should
// then call Stop to finish the drain.
func (p *Pipeline) Done() <-chan struct{} {
	return p.loopDone
}

// State returns the current lifecycle state
func (p *Pipeline) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Err returns the first fatal pipeline error, if any
func (p *Pipeline) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.fatalErr
}

// GetStats aggregates statistics from every component
func (p *Pipeline) GetStats() PipelineStats {
	return PipelineStats{
		State:         p.State().String(),
		Session:       p.sess.ID,
		Mixer:         p.synchronizer.Stats(),
		Chunker:       p.chunker.GetStats(),
		Pool:          p.pool.GetStats(),
		Writer:        p.writer.GetStats(),
		Transcription: p.client.GetStats(),
		Merge:         p.merger.GetStats(),
	}
}

// runLoop owns ingest: it multiplexes capture frames and events with the
// virtual clock tick, and performs the final flush when every source has
// ended.
func (p *Pipeline) runLoop() {
	defer close(p.loopDone)

	ticker := time.NewTicker(advanceInterval)
	defer ticker.Stop()

	var sysFrames, micFrames <-chan capture.Frame
	var sysEvents, micEvents <-chan capture.Event
	if p.systemSource != nil {
		sysFrames = p.systemSource.Frames()
		sysEvents = p.systemSource.Events()
	}
	if p.micSource != nil {
		micFrames = p.micSource.Frames()
		micEvents = p.micSource.Events()
	}

	for sysFrames != nil || micFrames != nil || sysEvents != nil || micEvents != nil {
		select {
		case frame, ok := <-sysFrames:
			if !ok {
				sysFrames = nil
				continue
			}
			p.ingest(p.systemCanon, frame)

		case frame, ok := <-micFrames:
			if !ok {
				micFrames = nil
				continue
			}
			p.ingest(p.micCanon, frame)

		case ev, ok := <-sysEvents:
			if !ok {
				sysEvents = nil
				continue
			}
			if ev.Kind == capture.EventEndOfStream {
				sysFrames = p.drainFrames(sysFrames, p.systemCanon)
				sysEvents = nil
				p.sourceEnded(ev.Source)
				continue
			}
			p.handleEvent(ev)

		case ev, ok := <-micEvents:
			if !ok {
				micEvents = nil
				continue
			}
			if ev.Kind == capture.EventEndOfStream {
				micFrames = p.drainFrames(micFrames, p.micCanon)
				micEvents = nil
				p.sourceEnded(ev.Source)
				continue
			}
			p.handleEvent(ev)

		case <-ticker.C:
			p.advance(time.Now())
		}
	}

	p.finalFlush()
}

// ingest pushes one capture frame through canonicalization into the
// synchronizer
func (p *Pipeline) ingest(canon *mixer.Canonicalizer, frame capture.Frame) {
	samples, err := canon.Process(frame)
	if err != nil {
		slog.Warn("Dropping malformed frame",
			slog.String("source", frame.Source.String()),
			slog.String("error", err.Error()))
		return
	}
	if len(samples) == 0 {
		return
	}

	if err := p.synchronizer.Append(frame.Source, samples, frame.Timestamp); err != nil {
		if errors.Is(err, mixer.ErrBacklogExceeded) {
			p.fatal(err)
			return
		}
		slog.Warn("Failed to append samples",
			slog.String("source", frame.Source.String()),
			slog.String("error", err.Error()))
	}
}

// drainFrames ingests whatever a source queued before its end-of-stream
// event, then retires the channel.
func (p *Pipeline) drainFrames(frames <-chan capture.Frame, canon *mixer.Canonicalizer) <-chan capture.Frame {
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			p.ingest(canon, frame)
		default:
			return nil
		}
	}
}

func (p *Pipeline) sourceEnded(source capture.SourceID) {
	slog.Info("Capture source ended", slog.String("source", source.String()))
}

// handleEvent reacts to capture source events. Disconnects are not fatal;
// the synchronizer pads the lane until the source reconnects.
func (p *Pipeline) handleEvent(ev capture.Event) {
	switch ev.Kind {
	case capture.EventPermissionDenied:
		p.fatal(fmt.Errorf("%s capture: %w", ev.Source, ev.Err))

	case capture.EventDeviceDisconnected:
		slog.Warn("Capture device disconnected, padding lane with silence",
			slog.String("source", ev.Source.String()),
			slog.String("error", errString(ev.Err)))

	case capture.EventDeviceReconnected:
		slog.Info("Capture device reconnected", slog.String("source", ev.Source.String()))
	}
}

// advance moves the virtual clock and feeds any released audio onward
func (p *Pipeline) advance(now time.Time) {
	if block := p.synchronizer.Advance(now); block != nil {
		p.feed(block)
	}
	p.syncMixerMetrics()
}

// syncMixerMetrics publishes the synchronizer's backlog gauges and the
// growth of its silence-fill counters. Run loop goroutine only.
func (p *Pipeline) syncMixerMetrics() {
	stats := p.synchronizer.Stats()
	p.metrics.SetMixerBacklog("system", float64(stats.SystemBacklog)/audio.CanonicalRate)
	p.metrics.SetMixerBacklog("mic", float64(stats.MicBacklog)/audio.CanonicalRate)
	p.metrics.RecordSilenceFilled("system", int(stats.SystemFilled-p.lastSystemFilled))
	p.metrics.RecordSilenceFilled("mic", int(stats.MicFilled-p.lastMicFilled))
	p.lastSystemFilled = stats.SystemFilled
	p.lastMicFilled = stats.MicFilled
}

func (p *Pipeline) feed(block *mixer.Block) {
	chunks, err := p.chunker.Feed(block)
	if err != nil {
		p.fatal(fmt.Errorf("chunker rejected block: %w", err))
		return
	}
	for _, chunk := range chunks {
		p.dispatch(chunk)
	}
}

// dispatch hands a finalized chunk to the worker pool. If the workers
// are already gone the chunk is recorded as a failure instead, so its
// sequence number never goes missing.
func (p *Pipeline) dispatch(chunk *chunker.Chunk) {
	p.metrics.RecordChunkFinalized()

	slog.Info("Chunk finalized",
		slog.String("chunk", chunk.ID()),
		slog.Time("start", chunk.Start),
		slog.Float64("duration", chunk.Duration().Seconds()),
		slog.Bool("partial", chunk.Partial))

	if err := p.pool.Submit(p.workerCtx, chunk); err != nil {
		chunk.System = nil
		chunk.Mic = nil
		chunk.Stereo = nil
		p.writer.Submit(&session.Outcome{Chunk: chunk, Err: err})
	}
}

// finalFlush pushes everything still buffered through the chunker once
// capture has ended: resampler tails, the synchronizer remainder, and the
// final partial chunk.
func (p *Pipeline) finalFlush() {
	type tail struct {
		source capture.SourceID
		canon  *mixer.Canonicalizer
	}
	for _, t := range []tail{
		{capture.SourceSystem, p.systemCanon},
		{capture.SourceMic, p.micCanon},
	} {
		if t.canon == nil {
			continue
		}
		samples, err := t.canon.Flush()
		if err != nil {
			slog.Warn("Failed to flush resampler tail",
				slog.String("source", t.source.String()),
				slog.String("error", err.Error()))
			continue
		}
		if len(samples) > 0 {
			if err := p.synchronizer.AppendContiguous(t.source, samples); err != nil {
				slog.Warn("Failed to append resampler tail",
					slog.String("source", t.source.String()),
					slog.String("error", err.Error()))
			}
		}
	}

	if block := p.synchronizer.FlushRemaining(); block != nil {
		p.feed(block)
	}
	if final := p.chunker.Flush(); final != nil {
		p.dispatch(final)
	}
	p.syncMixerMetrics()
}

// fatal records the first unrecoverable error and starts the drain so
// already-captured audio still gets written out.
func (p *Pipeline) fatal(err error) {
	p.mu.Lock()
	first := p.fatalErr == nil
	if first {
		p.fatalErr = err
	}
	p.mu.Unlock()

	if !first {
		return
	}

	slog.Error("Fatal pipeline error", slog.String("error", err.Error()))
	go p.Stop(context.Background())
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
