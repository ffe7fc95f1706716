package merge

import (
	"math"
	"strings"
	"unicode"

	"github.com/ghardin1314/scribe/internal/transcription"
)

// dedupBleed strips mic words that are acoustic bleed: system audio
// picked up by the microphone and transcribed twice. A mic word counts
// as a match when some system word has the same normalized text and a
// start within the time tolerance; only runs of minRun or more
// consecutive matches are removed, so short genuine echoes ("yes",
// "okay") survive. Returns removed word and dropped segment counts.
func (e *Engine) dedupBleed(system, mic *transcription.Result) (int, int) {
	if len(system.Words) == 0 || len(mic.Words) == 0 {
		return 0, 0
	}

	systemNorms := make([]string, len(system.Words))
	for i, sw := range system.Words {
		systemNorms[i] = normalizeWord(sw.Word)
	}

	matches := make([]bool, len(mic.Words))
	for i, mw := range mic.Words {
		norm := normalizeWord(mw.Word)
		if norm == "" {
			continue
		}
		for j, sw := range system.Words {
			if systemNorms[j] == norm && math.Abs(mw.Start-sw.Start) < e.timeTolerance {
				matches[i] = true
				break
			}
		}
	}

	// Mark runs of minRun or more consecutive matches for removal
	toRemove := make([]bool, len(mic.Words))
	for i := 0; i < len(matches); {
		if !matches[i] {
			i++
			continue
		}
		runStart := i
		for i < len(matches) && matches[i] {
			i++
		}
		if i-runStart >= e.minRun {
			for j := runStart; j < i; j++ {
				toRemove[j] = true
			}
		}
	}

	// Filter the word list, collecting removed time ranges
	var removedTimes [][2]float64
	kept := make([]transcription.Word, 0, len(mic.Words))
	for i, w := range mic.Words {
		if toRemove[i] {
			removedTimes = append(removedTimes, [2]float64{w.Start, w.End})
			continue
		}
		kept = append(kept, w)
	}
	removed := len(mic.Words) - len(kept)
	mic.Words = kept

	if removed == 0 {
		return 0, 0
	}

	// Rebuild segment text from surviving words, each rejoining the
	// segment its start time falls in. A segment mostly covered by
	// removed words is dropped outright.
	remaining := make([][]string, len(mic.Segments))
	for _, w := range mic.Words {
		if i := segmentIndexFor(w, mic.Segments); i >= 0 {
			remaining[i] = append(remaining[i], strings.TrimSpace(w.Word))
		}
	}

	rebuilt := make([]transcription.Segment, 0, len(mic.Segments))
	for i, seg := range mic.Segments {
		var bleedCoverage float64
		for _, r := range removedTimes {
			if r[0] >= seg.Start && r[1] <= seg.End {
				bleedCoverage += r[1] - r[0]
			}
		}
		segDuration := seg.End - seg.Start

		if segDuration > 0 && bleedCoverage/segDuration > e.dropCoverage {
			continue
		}
		if len(remaining[i]) == 0 {
			continue
		}

		seg.Text = strings.Join(remaining[i], " ")
		rebuilt = append(rebuilt, seg)
	}
	dropped := len(mic.Segments) - len(rebuilt)
	mic.Segments = rebuilt

	return removed, dropped
}

// normalizeWord lowercases and strips everything but letters and digits,
// so "Hello," and "hello" compare equal.
func normalizeWord(w string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(w)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
