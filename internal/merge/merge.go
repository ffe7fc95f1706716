package merge

import (
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/ghardin1314/scribe/internal/config"
	"github.com/ghardin1314/scribe/internal/transcription"
)

// Speaker labels a segment by its capture lane
type Speaker string

const (
	// SpeakerOther is the system lane: the remote side of a call, a
	// video, whatever the machine was playing.
	SpeakerOther Speaker = "other"
	// SpeakerYou is the microphone lane
	SpeakerYou Speaker = "you"
)

// SpeakerSegment is one labeled span of the merged transcript. Times are
// seconds relative to the chunk start.
type SpeakerSegment struct {
	Speaker Speaker              `json:"speaker"`
	Start   float64              `json:"start"`
	End     float64              `json:"end"`
	Text    string               `json:"text"`
	Words   []transcription.Word `json:"words,omitempty"`
}

// Fragment is the merged transcript of one chunk
type Fragment struct {
	Segments []SpeakerSegment `json:"segments"`
	Duration float64          `json:"duration"`

	// BleedWordsRemoved and BleedSegmentsDropped count what bleed
	// removal stripped from the mic lane while producing this fragment.
	BleedWordsRemoved    int `json:"-"`
	BleedSegmentsDropped int `json:"-"`
}

// Text returns the fragment's plain text, segments joined in order
func (f *Fragment) Text() string {
	parts := make([]string, 0, len(f.Segments))
	for _, seg := range f.Segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// EngineStats represents merge engine statistics
type EngineStats struct {
	Merges          uint64 `json:"merges"`
	WordsRemoved    uint64 `json:"bleed_words_removed"`
	SegmentsDropped uint64 `json:"bleed_segments_dropped"`
}

// Engine merges per-lane transcription results into speaker-labeled
// fragments, stripping acoustic bleed from the mic lane first. Merge is
// safe for concurrent use; each call works only on its arguments.
type Engine struct {
	timeTolerance float64
	minRun        int
	dropCoverage  float64

	merges          uint64
	wordsRemoved    uint64
	segmentsDropped uint64

	mu sync.RWMutex
}

// NewEngine creates a merge engine from the bleed thresholds in config
func NewEngine(cfg *config.Config) *Engine {
	return &Engine{
		timeTolerance: cfg.Merge.BleedTimeToleranceSeconds,
		minRun:        cfg.Merge.BleedMinRun,
		dropCoverage:  cfg.Merge.BleedDropCoverage,
	}
}

// Merge combines the lane results for one chunk. Either result may be
// nil when its lane was disabled, silent, or failed. The mic result is
// modified in place by bleed removal. Segments are ordered by start
// time; on equal starts the system lane sorts first.
func (e *Engine) Merge(system, mic *transcription.Result) *Fragment {
	var duration float64
	if system != nil {
		duration = system.Duration
	}
	if mic != nil && mic.Duration > duration {
		duration = mic.Duration
	}

	removed := 0
	dropped := 0
	if system != nil && mic != nil {
		removed, dropped = e.dedupBleed(system, mic)
	}

	segments := []SpeakerSegment{}
	if system != nil {
		segments = append(segments, speakerSegments(system, SpeakerOther)...)
	}
	if mic != nil {
		segments = append(segments, speakerSegments(mic, SpeakerYou)...)
	}

	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].Start < segments[j].Start
	})

	e.recordMerge(removed, dropped)

	return &Fragment{
		Segments:             segments,
		Duration:             duration,
		BleedWordsRemoved:    removed,
		BleedSegmentsDropped: dropped,
	}
}

// GetStats returns current engine statistics
func (e *Engine) GetStats() EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return EngineStats{
		Merges:          e.merges,
		WordsRemoved:    e.wordsRemoved,
		SegmentsDropped: e.segmentsDropped,
	}
}

func (e *Engine) recordMerge(removed, dropped int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.merges++
	e.wordsRemoved += uint64(removed)
	e.segmentsDropped += uint64(dropped)
}

// speakerSegments labels a result's segments and attaches each word to
// the segment whose time range holds its start. Words starting outside
// every segment still land on the one with the closest start, so none
// are lost.
func speakerSegments(result *transcription.Result, speaker Speaker) []SpeakerSegment {
	out := make([]SpeakerSegment, 0, len(result.Segments))
	for _, seg := range result.Segments {
		out = append(out, SpeakerSegment{
			Speaker: speaker,
			Start:   seg.Start,
			End:     seg.End,
			Text:    seg.Text,
		})
	}

	for _, w := range result.Words {
		if i := segmentIndexFor(w, result.Segments); i >= 0 {
			out[i].Words = append(out[i].Words, w)
		}
	}
	return out
}

// segmentIndexFor finds the segment whose [start,end) range contains the
// word's start time, falling back to the segment with the nearest start.
// Returns -1 when there are no segments.
func segmentIndexFor(w transcription.Word, segments []transcription.Segment) int {
	best := -1
	bestDist := math.MaxFloat64
	for i, seg := range segments {
		if w.Start >= seg.Start && w.Start < seg.End {
			return i
		}
		if d := math.Abs(w.Start - seg.Start); d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}
