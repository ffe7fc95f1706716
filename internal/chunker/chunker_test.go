package chunker

import (
	"testing"
	"time"

	"github.com/ghardin1314/scribe/internal/config"
	"github.com/ghardin1314/scribe/internal/mixer"
)

func testConfig(chunkSec, overlapSec float64, mode string) *config.Config {
	cfg := config.Default()
	cfg.Pipeline.ChunkDurationSeconds = chunkSec
	cfg.Pipeline.OverlapSeconds = overlapSec
	cfg.Pipeline.MixMode = mode
	cfg.Capture.System.Enabled = true
	cfg.Capture.Mic.Enabled = true
	return cfg
}

// feedSeconds pushes the given number of seconds of audio through the
// chunker in one-second aligned blocks and returns every emitted chunk.
func feedSeconds(t *testing.T, c *Chunker, anchor time.Time, seconds int, sysVal, micVal int16, sysOn, micOn bool) []*Chunk {
	t.Helper()

	var chunks []*Chunk
	for i := 0; i < seconds; i++ {
		block := &mixer.Block{
			Index: uint64(i * 16000),
			Start: anchor.Add(time.Duration(i) * time.Second),
		}
		if sysOn {
			block.System = constSamples(sysVal, 16000)
		}
		if micOn {
			block.Mic = constSamples(micVal, 16000)
		}

		emitted, err := c.Feed(block)
		if err != nil {
			t.Fatalf("Feed failed at second %d: %v", i, err)
		}
		chunks = append(chunks, emitted...)
	}
	return chunks
}

func constSamples(value int16, n int) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = value
	}
	return samples
}

func TestChunkerEmitsAtChunkBoundary(t *testing.T) {
	c := NewChunker(testConfig(30, 0, "split"))
	anchor := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	chunks := feedSeconds(t, c, anchor, 90, 100, -100, true, true)

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks for 90s at 30s duration, got %d", len(chunks))
	}

	for i, chunk := range chunks {
		if chunk.Sequence != uint64(i) {
			t.Errorf("chunk %d: expected sequence %d, got %d", i, i, chunk.Sequence)
		}
		wantStart := anchor.Add(time.Duration(i*30) * time.Second)
		if !chunk.Start.Equal(wantStart) {
			t.Errorf("chunk %d: expected start %v, got %v", i, wantStart, chunk.Start)
		}
		if chunk.Duration() != 30*time.Second {
			t.Errorf("chunk %d: expected 30s duration, got %v", i, chunk.Duration())
		}
		if chunk.Samples() != 480000 {
			t.Errorf("chunk %d: expected 480000 samples, got %d", i, chunk.Samples())
		}
		if chunk.Partial {
			t.Errorf("chunk %d: should not be partial", i)
		}
		if chunk.System[0] != 100 || chunk.Mic[0] != -100 {
			t.Errorf("chunk %d: lane samples corrupted", i)
		}
	}
}

func TestChunkerOverlap(t *testing.T) {
	c := NewChunker(testConfig(10, 2, "split"))
	anchor := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	chunks := feedSeconds(t, c, anchor, 30, 100, -100, true, true)

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}

	for i := 1; i < len(chunks); i++ {
		prev, cur := chunks[i-1], chunks[i]
		wantStart := prev.End.Add(-2 * time.Second)
		if !cur.Start.Equal(wantStart) {
			t.Errorf("chunk %d: expected start 2s before previous end (%v), got %v", i, wantStart, cur.Start)
		}
		if cur.Duration() != 10*time.Second {
			t.Errorf("chunk %d: expected 10s duration, got %v", i, cur.Duration())
		}
	}

	// 30s fed, stride 8s, three chunks cut up to 26s: the 24..30s tail
	// holds 4s of fresh audio and flushes as a partial chunk.
	final := c.Flush()
	if final == nil {
		t.Fatal("expected a final partial chunk")
	}
	if !final.Partial {
		t.Error("expected final chunk to be marked partial")
	}
	if final.Sequence != 3 {
		t.Errorf("expected sequence 3, got %d", final.Sequence)
	}
	wantStart := anchor.Add(24 * time.Second)
	if !final.Start.Equal(wantStart) {
		t.Errorf("expected final start %v, got %v", wantStart, final.Start)
	}
	if !final.End.Equal(anchor.Add(30 * time.Second)) {
		t.Errorf("expected final end %v, got %v", anchor.Add(30*time.Second), final.End)
	}
}

func TestChunkerFlushPartial(t *testing.T) {
	c := NewChunker(testConfig(30, 0, "split"))
	anchor := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	chunks := feedSeconds(t, c, anchor, 12, 100, -100, true, true)
	if len(chunks) != 0 {
		t.Fatalf("expected no full chunks for 12s at 30s duration, got %d", len(chunks))
	}

	final := c.Flush()
	if final == nil {
		t.Fatal("expected a partial chunk on flush")
	}
	if final.Sequence != 0 {
		t.Errorf("expected sequence 0, got %d", final.Sequence)
	}
	if final.Duration() != 12*time.Second {
		t.Errorf("expected 12s duration, got %v", final.Duration())
	}
	if !final.Partial {
		t.Error("expected partial flag")
	}
	if final.Samples() != 192000 {
		t.Errorf("expected 192000 samples, got %d", final.Samples())
	}
}

func TestChunkerFlushSkipsOverlapOnlyTail(t *testing.T) {
	c := NewChunker(testConfig(10, 2, "split"))
	anchor := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	chunks := feedSeconds(t, c, anchor, 10, 100, -100, true, true)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}

	// The pending tail is exactly the 2s overlap already present in
	// chunk 0, so flushing it would re-transcribe known audio.
	if final := c.Flush(); final != nil {
		t.Errorf("expected nil flush, got chunk with %d samples", final.Samples())
	}
}

func TestChunkerFlushEmpty(t *testing.T) {
	c := NewChunker(testConfig(30, 0, "split"))
	if final := c.Flush(); final != nil {
		t.Errorf("expected nil flush on empty chunker, got %v", final)
	}
}

func TestChunkerStereoMode(t *testing.T) {
	c := NewChunker(testConfig(1, 0, "stereo"))
	anchor := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	chunks := feedSeconds(t, c, anchor, 1, 100, -100, true, true)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}

	chunk := chunks[0]
	if chunk.Mode != ModeStereo {
		t.Errorf("expected stereo mode, got %s", chunk.Mode)
	}
	if len(chunk.Stereo) != 32000 {
		t.Fatalf("expected 32000 interleaved samples, got %d", len(chunk.Stereo))
	}
	if chunk.Stereo[0] != 100 || chunk.Stereo[1] != -100 {
		t.Errorf("expected system left, mic right, got [%d, %d]", chunk.Stereo[0], chunk.Stereo[1])
	}

	// Lane slices stay populated for per-lane transcription
	if len(chunk.System) != 16000 || len(chunk.Mic) != 16000 {
		t.Errorf("expected lanes alongside stereo, got system=%d mic=%d", len(chunk.System), len(chunk.Mic))
	}
}

func TestChunkerSingleLane(t *testing.T) {
	cfg := testConfig(1, 0, "split")
	cfg.Capture.Mic.Enabled = false
	c := NewChunker(cfg)
	anchor := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	chunks := feedSeconds(t, c, anchor, 1, 100, 0, true, false)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}

	chunk := chunks[0]
	if chunk.Mic != nil {
		t.Errorf("expected nil mic lane, got %d samples", len(chunk.Mic))
	}
	if chunk.Samples() != 16000 {
		t.Errorf("expected 16000 samples, got %d", chunk.Samples())
	}
}

func TestChunkerDiscontiguousBlock(t *testing.T) {
	c := NewChunker(testConfig(30, 0, "split"))
	anchor := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	first := &mixer.Block{Index: 0, Start: anchor, System: constSamples(1, 16000), Mic: constSamples(1, 16000)}
	if _, err := c.Feed(first); err != nil {
		t.Fatalf("Feed failed: %v", err)
	}

	skipped := &mixer.Block{Index: 999999, Start: anchor.Add(time.Minute), System: constSamples(1, 16000), Mic: constSamples(1, 16000)}
	if _, err := c.Feed(skipped); err == nil {
		t.Error("expected error for discontiguous block")
	}
}

func TestChunkerSequencesGapless(t *testing.T) {
	c := NewChunker(testConfig(1, 0, "split"))
	anchor := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	chunks := feedSeconds(t, c, anchor, 5, 100, -100, true, true)

	// Half a second more, then drain
	block := &mixer.Block{
		Index:  uint64(5 * 16000),
		Start:  anchor.Add(5 * time.Second),
		System: constSamples(100, 8000),
		Mic:    constSamples(-100, 8000),
	}
	if _, err := c.Feed(block); err != nil {
		t.Fatalf("Feed failed: %v", err)
	}
	if final := c.Flush(); final != nil {
		chunks = append(chunks, final)
	}

	if len(chunks) != 6 {
		t.Fatalf("expected 6 chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if chunk.Sequence != uint64(i) {
			t.Errorf("expected gapless sequence %d, got %d", i, chunk.Sequence)
		}
	}

	stats := c.GetStats()
	if stats.ChunksCreated != 6 {
		t.Errorf("expected 6 chunks in stats, got %d", stats.ChunksCreated)
	}
}
