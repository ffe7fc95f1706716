package chunker

import (
	"fmt"
	"sync"
	"time"

	"github.com/ghardin1314/scribe/internal/audio"
	"github.com/ghardin1314/scribe/internal/config"
	"github.com/ghardin1314/scribe/internal/mixer"
)

// Mode selects how the two lanes are persisted
type Mode string

const (
	// ModeSplit keeps one WAV per lane
	ModeSplit Mode = "split"
	// ModeStereo persists a single interleaved WAV, system left, mic right
	ModeStereo Mode = "stereo"
)

// Chunk is a fixed slice of the session timeline ready for dispatch.
// Lane slices are canonical PCM; a disabled lane is nil. Stereo is only
// populated in stereo mode and carries system left, mic right.
type Chunk struct {
	Sequence   uint64    `json:"sequence"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Mode       Mode      `json:"mode"`
	SampleRate int       `json:"sample_rate"`
	System     []int16   `json:"-"`
	Mic        []int16   `json:"-"`
	Stereo     []int16   `json:"-"`
	Partial    bool      `json:"partial"` // emitted by a drain flush, shorter than the chunk duration
}

// Duration returns the chunk length in time
func (c *Chunk) Duration() time.Duration {
	return c.End.Sub(c.Start)
}

// Samples returns the per-lane sample count
func (c *Chunk) Samples() int {
	if len(c.System) > len(c.Mic) {
		return len(c.System)
	}
	return len(c.Mic)
}

// ID returns a stable identifier for logs
func (c *Chunk) ID() string {
	return fmt.Sprintf("chunk_%d", c.Sequence)
}

// ChunkerStats represents chunker statistics
type ChunkerStats struct {
	ChunksCreated  uint64  `json:"chunks_created"`
	TotalSeconds   float64 `json:"total_seconds"`
	PendingSamples int     `json:"pending_samples"`
	AvgChunkSec    float64 `json:"avg_chunk_duration_sec"`
}

// Chunker cuts the aligned timeline into fixed-duration chunks with a
// configurable overlap. Each chunk after the first begins overlap seconds
// before the previous chunk's end; the duplicated head gives the merge
// engine context to dedup against. Sequence numbers are gapless from 0.
type Chunker struct {
	mode           Mode
	chunkSamples   int
	overlapSamples int
	strideSamples  int

	systemEnabled bool
	micEnabled    bool

	// pending holds the tail of the timeline not yet cut. firstIndex is
	// the absolute canonical index of pending sample 0. Both lanes stay
	// the same length, managed by the synchronizer upstream.
	pendingSystem []int16
	pendingMic    []int16
	firstIndex    uint64
	anchor        time.Time
	anchorSet     bool

	nextSequence  uint64
	chunksCreated uint64
	totalDuration time.Duration

	mu sync.RWMutex
}

// NewChunker creates a chunker from the pipeline configuration
func NewChunker(cfg *config.Config) *Chunker {
	chunkSamples := int(cfg.Pipeline.ChunkDurationSeconds * audio.CanonicalRate)
	overlapSamples := int(cfg.Pipeline.OverlapSeconds * audio.CanonicalRate)

	return &Chunker{
		mode:           Mode(cfg.Pipeline.MixMode),
		chunkSamples:   chunkSamples,
		overlapSamples: overlapSamples,
		strideSamples:  chunkSamples - overlapSamples,
		systemEnabled:  cfg.Capture.System.Enabled,
		micEnabled:     cfg.Capture.Mic.Enabled,
	}
}

// Feed appends an aligned block to the pending timeline and returns any
// chunks it completed, in sequence order. Blocks must arrive contiguous.
func (c *Chunker) Feed(block *mixer.Block) ([]*Chunk, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if block == nil || block.Samples() == 0 {
		return nil, nil
	}

	if !c.anchorSet {
		c.anchor = block.Start.Add(-c.durationOf(block.Index))
		c.firstIndex = block.Index
		c.anchorSet = true
	}

	expected := c.firstIndex + uint64(c.pendingLen())
	if block.Index != expected {
		return nil, fmt.Errorf("discontiguous block: index %d, expected %d", block.Index, expected)
	}

	if c.systemEnabled {
		c.pendingSystem = append(c.pendingSystem, block.System...)
	}
	if c.micEnabled {
		c.pendingMic = append(c.pendingMic, block.Mic...)
	}

	var chunks []*Chunk
	for c.pendingLen() >= c.chunkSamples {
		chunks = append(chunks, c.cut(c.chunkSamples, false))
	}

	return chunks, nil
}

// Flush emits the final partial chunk during drain. Returns nil when the
// pending tail holds nothing beyond the previous chunk's overlap.
func (c *Chunker) Flush() *Chunk {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending := c.pendingLen()
	if pending == 0 {
		return nil
	}

	// After a cut the pending tail starts with overlap samples that were
	// already part of the previous chunk. A flush that would contain only
	// those adds no new audio.
	if c.nextSequence > 0 && pending <= c.overlapSamples {
		c.dropPending()
		return nil
	}

	return c.cut(pending, true)
}

// GetStats returns current chunker statistics
func (c *Chunker) GetStats() ChunkerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	avg := float64(0)
	if c.chunksCreated > 0 {
		avg = c.totalDuration.Seconds() / float64(c.chunksCreated)
	}

	return ChunkerStats{
		ChunksCreated:  c.chunksCreated,
		TotalSeconds:   c.totalDuration.Seconds(),
		PendingSamples: c.pendingLen(),
		AvgChunkSec:    avg,
	}
}

// cut emits a chunk over pending[0:n] and advances the stride. Caller
// holds the lock. A final cut consumes everything.
func (c *Chunker) cut(n int, final bool) *Chunk {
	chunk := &Chunk{
		Sequence:   c.nextSequence,
		Start:      c.anchor.Add(c.durationOf(c.firstIndex)),
		End:        c.anchor.Add(c.durationOf(c.firstIndex + uint64(n))),
		Mode:       c.mode,
		SampleRate: audio.CanonicalRate,
		Partial:    final,
	}

	if c.systemEnabled {
		chunk.System = copySamples(c.pendingSystem[:n])
	}
	if c.micEnabled {
		chunk.Mic = copySamples(c.pendingMic[:n])
	}
	if c.mode == ModeStereo {
		chunk.Stereo = audio.InterleaveStereo(laneOrZero(chunk.System, n), laneOrZero(chunk.Mic, n))
	}

	stride := c.strideSamples
	if final || stride > n {
		stride = n
	}
	c.pendingSystem = dropFront(c.pendingSystem, stride)
	c.pendingMic = dropFront(c.pendingMic, stride)
	c.firstIndex += uint64(stride)

	c.nextSequence++
	c.chunksCreated++
	c.totalDuration += chunk.Duration()

	return chunk
}

func (c *Chunker) pendingLen() int {
	if len(c.pendingSystem) > len(c.pendingMic) {
		return len(c.pendingSystem)
	}
	return len(c.pendingMic)
}

func (c *Chunker) dropPending() {
	stride := c.pendingLen()
	c.pendingSystem = dropFront(c.pendingSystem, stride)
	c.pendingMic = dropFront(c.pendingMic, stride)
	c.firstIndex += uint64(stride)
}

func (c *Chunker) durationOf(samples uint64) time.Duration {
	return time.Duration(float64(samples) / audio.CanonicalRate * float64(time.Second))
}

func copySamples(src []int16) []int16 {
	out := make([]int16, len(src))
	copy(out, src)
	return out
}

// laneOrZero substitutes silence for a disabled lane so stereo chunks
// always carry both channels
func laneOrZero(lane []int16, n int) []int16 {
	if lane != nil {
		return lane
	}
	return make([]int16, n)
}

func dropFront(samples []int16, n int) []int16 {
	if samples == nil {
		return nil
	}
	if n >= len(samples) {
		return samples[:0]
	}
	remaining := make([]int16, len(samples)-n)
	copy(remaining, samples[n:])
	return remaining
}
