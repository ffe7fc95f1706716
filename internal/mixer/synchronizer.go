package mixer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ghardin1314/scribe/internal/audio"
	"github.com/ghardin1314/scribe/internal/capture"
	"github.com/ghardin1314/scribe/internal/config"
)

// ErrBacklogExceeded means a lane accumulated more unconsumed audio than
// the configured ceiling. The pipeline treats it as fatal because it only
// happens when the consumer has stalled.
var ErrBacklogExceeded = errors.New("mixer backlog exceeded")

const (
	// safetyLag keeps Advance behind the wall clock so frames still in
	// flight through capture channels and the resampler are not counted
	// as missing.
	safetyLag = 500 * time.Millisecond

	// realignSlack is the timestamp gap beyond which a lane is considered
	// interrupted and re-anchored with silence. Smaller gaps are ordinary
	// jitter and the stream stays contiguous.
	realignSlack = 250 * time.Millisecond
)

// Block is a slab of virtual-clock-aligned canonical audio. Enabled lanes
// carry slices of identical length; a disabled lane is nil.
type Block struct {
	Index  uint64    // canonical sample index of the first sample
	Start  time.Time // virtual-clock time of the first sample
	System []int16
	Mic    []int16
}

// Samples returns the per-lane sample count
func (b *Block) Samples() int {
	if len(b.System) > len(b.Mic) {
		return len(b.System)
	}
	return len(b.Mic)
}

// Duration returns the block length in time
func (b *Block) Duration() time.Duration {
	return time.Duration(float64(b.Samples()) / float64(audio.CanonicalRate) * float64(time.Second))
}

// lane holds one source's canonical samples from the shared head onward
type lane struct {
	id       capture.SourceID
	enabled  bool
	samples  []int16
	started  bool   // first real append seen
	appended uint64 // total real samples accepted
	filled   uint64 // total silence samples inserted
}

// SyncStats is a snapshot of synchronizer counters for monitoring
type SyncStats struct {
	SystemAppended uint64  `json:"system_appended_samples"`
	MicAppended    uint64  `json:"mic_appended_samples"`
	SystemFilled   uint64  `json:"system_filled_samples"`
	MicFilled      uint64  `json:"mic_filled_samples"`
	SystemBacklog  int     `json:"system_backlog_samples"`
	MicBacklog     int     `json:"mic_backlog_samples"`
	Advances       uint64  `json:"advances"`
	HeadSeconds    float64 `json:"head_seconds"`
}

// SilenceFilled returns the total silence inserted across both lanes
func (st SyncStats) SilenceFilled() uint64 {
	return st.SystemFilled + st.MicFilled
}

// Synchronizer aligns the capture lanes on a shared virtual clock. The
// clock starts at an anchor instant; every canonical sample index maps to
// anchor + index/16000 s. Lanes that start late, drop out, or stall are
// padded with silence so both lanes always advance in lockstep.
type Synchronizer struct {
	anchor     time.Time
	head       uint64 // absolute index of samples[0] in every lane
	maxBacklog int    // per-lane unconsumed sample ceiling

	system lane
	mic    lane

	advances uint64
	mu       sync.RWMutex
}

// NewSynchronizer creates a synchronizer for the lanes enabled in config
func NewSynchronizer(cfg *config.Config) *Synchronizer {
	return &Synchronizer{
		maxBacklog: int(cfg.Pipeline.GetMaxBufferDuration().Seconds() * audio.CanonicalRate),
		system:     lane{id: capture.SourceSystem, enabled: cfg.Capture.System.Enabled},
		mic:        lane{id: capture.SourceMic, enabled: cfg.Capture.Mic.Enabled},
	}
}

// Start pins the virtual clock's zero point. Must be called before Append
// or Advance.
func (s *Synchronizer) Start(anchor time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anchor = anchor
}

// Anchor returns the virtual clock's zero point
func (s *Synchronizer) Anchor() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.anchor
}

// Append adds canonical samples for one lane. captureTime is the wall
// time of the first sample; it re-anchors the lane after an interruption
// and is otherwise only consulted on the lane's first append.
func (s *Synchronizer) Append(source capture.SourceID, samples []int16, captureTime time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.anchor.IsZero() {
		return fmt.Errorf("synchronizer not started")
	}
	if len(samples) == 0 {
		return nil
	}

	ln, err := s.laneFor(source)
	if err != nil {
		return err
	}

	absLen := s.head + uint64(len(ln.samples))
	pos := s.indexAt(captureTime)
	gap := pos - int64(absLen)

	if !ln.started || gap > s.slackSamples() {
		if gap > 0 {
			ln.samples = append(ln.samples, make([]int16, gap)...)
			ln.filled += uint64(gap)
			if ln.started {
				slog.Debug("Lane re-anchored after gap",
					slog.String("source", source.String()),
					slog.Float64("gap_seconds", float64(gap)/audio.CanonicalRate))
			}
		}
	}

	ln.started = true
	ln.samples = append(ln.samples, samples...)
	ln.appended += uint64(len(samples))

	if len(ln.samples) > s.maxBacklog {
		return fmt.Errorf("%s lane: %w: %d samples buffered, ceiling %d",
			source, ErrBacklogExceeded, len(ln.samples), s.maxBacklog)
	}

	return nil
}

// AppendContiguous adds canonical samples directly after a lane's
// buffered audio, skipping timestamp realignment. Drain flushes use it
// for resampler tails, which carry no capture timestamp of their own.
func (s *Synchronizer) AppendContiguous(source capture.SourceID, samples []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.anchor.IsZero() {
		return fmt.Errorf("synchronizer not started")
	}
	if len(samples) == 0 {
		return nil
	}

	ln, err := s.laneFor(source)
	if err != nil {
		return err
	}

	ln.started = true
	ln.samples = append(ln.samples, samples...)
	ln.appended += uint64(len(samples))

	if len(ln.samples) > s.maxBacklog {
		return fmt.Errorf("%s lane: %w: %d samples buffered, ceiling %d",
			source, ErrBacklogExceeded, len(ln.samples), s.maxBacklog)
	}

	return nil
}

// Advance moves the virtual clock up to now minus the safety lag and
// returns the aligned audio between the old and new head. Lanes short of
// the new head are padded with silence. Returns nil when the clock has
// not yet produced new samples.
func (s *Synchronizer) Advance(now time.Time) *Block {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.anchor.IsZero() {
		return nil
	}

	target := s.indexAt(now.Add(-safetyLag))
	if target <= int64(s.head) {
		return nil
	}

	return s.cutTo(uint64(target))
}

// FlushRemaining drains everything still buffered past the head, padding
// the shorter lane so both stay in lockstep. Called once during drain,
// after the capture sources have stopped.
func (s *Synchronizer) FlushRemaining() *Block {
	s.mu.Lock()
	defer s.mu.Unlock()

	maxLen := 0
	for _, ln := range []*lane{&s.system, &s.mic} {
		if ln.enabled && len(ln.samples) > maxLen {
			maxLen = len(ln.samples)
		}
	}
	if maxLen == 0 {
		return nil
	}

	return s.cutTo(s.head + uint64(maxLen))
}

// Stats returns a snapshot of synchronizer counters
func (s *Synchronizer) Stats() SyncStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return SyncStats{
		SystemAppended: s.system.appended,
		MicAppended:    s.mic.appended,
		SystemFilled:   s.system.filled,
		MicFilled:      s.mic.filled,
		SystemBacklog:  len(s.system.samples),
		MicBacklog:     len(s.mic.samples),
		Advances:       s.advances,
		HeadSeconds:    float64(s.head) / audio.CanonicalRate,
	}
}

// cutTo pads enabled lanes up to the target index, slices off everything
// below it as a Block, and moves the head. Caller holds the lock.
func (s *Synchronizer) cutTo(target uint64) *Block {
	n := int(target - s.head)
	block := &Block{
		Index: s.head,
		Start: s.timeAt(s.head),
	}

	for _, ln := range []*lane{&s.system, &s.mic} {
		if !ln.enabled {
			continue
		}

		if len(ln.samples) < n {
			pad := n - len(ln.samples)
			ln.samples = append(ln.samples, make([]int16, pad)...)
			ln.filled += uint64(pad)
		}

		out := make([]int16, n)
		copy(out, ln.samples[:n])

		remaining := make([]int16, len(ln.samples)-n)
		copy(remaining, ln.samples[n:])
		ln.samples = remaining

		if ln.id == capture.SourceSystem {
			block.System = out
		} else {
			block.Mic = out
		}
	}

	s.head = target
	s.advances++
	return block
}

func (s *Synchronizer) laneFor(source capture.SourceID) (*lane, error) {
	switch source {
	case capture.SourceSystem:
		if !s.system.enabled {
			return nil, fmt.Errorf("system lane is disabled")
		}
		return &s.system, nil
	case capture.SourceMic:
		if !s.mic.enabled {
			return nil, fmt.Errorf("mic lane is disabled")
		}
		return &s.mic, nil
	default:
		return nil, fmt.Errorf("unknown source: %s", source)
	}
}

// indexAt maps a wall time to a canonical sample index, clamped at zero
func (s *Synchronizer) indexAt(t time.Time) int64 {
	d := t.Sub(s.anchor)
	if d <= 0 {
		return 0
	}
	return int64(d.Seconds() * audio.CanonicalRate)
}

// timeAt maps a canonical sample index back to virtual-clock time
func (s *Synchronizer) timeAt(index uint64) time.Time {
	return s.anchor.Add(time.Duration(float64(index) / audio.CanonicalRate * float64(time.Second)))
}

func (s *Synchronizer) slackSamples() int64 {
	return int64(realignSlack.Seconds() * audio.CanonicalRate)
}
