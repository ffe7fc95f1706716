package audio

import "math"

// Canonical PCM format shared by every stage past capture
const (
	CanonicalRate     = 16000 // Hz
	CanonicalChannels = 1
)

// dbfsFloor is the level reported for digital silence, below any usable
// threshold.
const dbfsFloor = -120.0

// RMS computes the root-mean-square level of PCM-16 samples, normalized to
// [0, 1] relative to full scale.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sumSq float64
	for _, s := range samples {
		f := float64(s) / 32768.0
		sumSq += f * f
	}

	return math.Sqrt(sumSq / float64(len(samples)))
}

// DBFS converts a normalized RMS level to decibels relative to full scale.
func DBFS(rms float64) float64 {
	if rms <= 0 {
		return dbfsFloor
	}

	db := 20 * math.Log10(rms)
	if db < dbfsFloor {
		return dbfsFloor
	}
	return db
}

// LevelDBFS computes the RMS level of samples in dBFS.
func LevelDBFS(samples []int16) float64 {
	return DBFS(RMS(samples))
}

// DownmixMono averages interleaved multi-channel float32 samples into mono.
// A mono input is returned as a copy.
func DownmixMono(samples []float32, channels int) []float32 {
	if channels <= 1 {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out
	}

	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}

	return out
}

// Float32ToInt16 converts float32 samples in [-1, 1] to PCM-16, clamping
// out-of-range values.
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		out[i] = int16(s * 32767)
	}
	return out
}

// Int16ToFloat32 converts PCM-16 samples to float32 in [-1, 1].
func Int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// PeakNormalize returns a copy of samples scaled so the peak amplitude
// reaches target (0..1 of full scale). Silent input is returned unchanged.
func PeakNormalize(samples []int16, target float64) []int16 {
	out := make([]int16, len(samples))
	copy(out, samples)

	var peak float64
	for _, s := range samples {
		a := math.Abs(float64(s) / 32768.0)
		if a > peak {
			peak = a
		}
	}

	if peak <= 0 {
		return out
	}

	gain := target / peak
	for i, s := range samples {
		v := float64(s) * gain
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int16(v)
	}

	return out
}

// InterleaveStereo interleaves two mono buffers into a stereo buffer with
// left first. The shorter side is padded with silence.
func InterleaveStereo(left, right []int16) []int16 {
	frames := len(left)
	if len(right) > frames {
		frames = len(right)
	}

	out := make([]int16, 0, frames*2)
	for i := 0; i < frames; i++ {
		var l, r int16
		if i < len(left) {
			l = left[i]
		}
		if i < len(right) {
			r = right[i]
		}
		out = append(out, l, r)
	}

	return out
}

// DeinterleaveStereo splits an interleaved stereo buffer back into its left
// and right mono buffers. A trailing unpaired sample is dropped.
func DeinterleaveStereo(stereo []int16) (left, right []int16) {
	frames := len(stereo) / 2
	left = make([]int16, frames)
	right = make([]int16, frames)
	for i := 0; i < frames; i++ {
		left[i] = stereo[i*2]
		right[i] = stereo[i*2+1]
	}
	return left, right
}
