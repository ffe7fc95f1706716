package audio

import (
	"math"
	"testing"
)

// sine generates amplitude*sin at the given frequency, 16kHz, n samples.
func sine(n int, frequency, amplitude float64) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		t := float64(i) / 16000.0
		samples[i] = int16(amplitude * 32767.0 * math.Sin(2*math.Pi*frequency*t))
	}
	return samples
}

func TestRMS(t *testing.T) {
	tests := []struct {
		name    string
		samples []int16
		want    float64
		tol     float64
	}{
		{
			name:    "silence",
			samples: make([]int16, 1600),
			want:    0,
			tol:     0.0001,
		},
		{
			name:    "full scale sine",
			samples: sine(16000, 440, 1.0),
			want:    1.0 / math.Sqrt2,
			tol:     0.01,
		},
		{
			name:    "half scale sine",
			samples: sine(16000, 440, 0.5),
			want:    0.5 / math.Sqrt2,
			tol:     0.01,
		},
		{
			name:    "empty",
			samples: nil,
			want:    0,
			tol:     0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RMS(tt.samples)
			if math.Abs(got-tt.want) > tt.tol {
				t.Errorf("Expected RMS %.4f, got %.4f", tt.want, got)
			}
		})
	}
}

func TestDBFS(t *testing.T) {
	if got := DBFS(1.0); math.Abs(got) > 0.001 {
		t.Errorf("Expected 0 dBFS for full scale, got %.3f", got)
	}

	// -40 dBFS corresponds to RMS 0.01
	if got := DBFS(0.01); math.Abs(got-(-40)) > 0.001 {
		t.Errorf("Expected -40 dBFS, got %.3f", got)
	}

	if got := DBFS(0); got != dbfsFloor {
		t.Errorf("Expected floor %.1f for silence, got %.3f", dbfsFloor, got)
	}
}

func TestLevelDBFSSilenceThreshold(t *testing.T) {
	// A quiet sine well below the -40 dBFS floor and a speech-level sine
	// above it; the silence gate depends on this separation.
	quiet := sine(16000, 440, 0.001)
	loud := sine(16000, 440, 0.1)

	if got := LevelDBFS(quiet); got >= -40 {
		t.Errorf("Expected quiet signal below -40 dBFS, got %.2f", got)
	}

	if got := LevelDBFS(loud); got < -40 {
		t.Errorf("Expected loud signal above -40 dBFS, got %.2f", got)
	}
}

func TestDownmixMono(t *testing.T) {
	stereo := []float32{1.0, 0.0, 0.5, 0.5, -1.0, 1.0}
	mono := DownmixMono(stereo, 2)

	want := []float32{0.5, 0.5, 0.0}
	if len(mono) != len(want) {
		t.Fatalf("Expected %d samples, got %d", len(want), len(mono))
	}

	for i, w := range want {
		if math.Abs(float64(mono[i]-w)) > 0.0001 {
			t.Errorf("Sample %d: expected %.4f, got %.4f", i, w, mono[i])
		}
	}

	// Mono passthrough copies rather than aliasing
	in := []float32{0.25, -0.25}
	out := DownmixMono(in, 1)
	out[0] = 0
	if in[0] != 0.25 {
		t.Error("Expected mono downmix to copy, not alias")
	}
}

func TestFloat32Int16Conversion(t *testing.T) {
	in := []float32{0, 0.5, -0.5, 1.0, -1.0, 2.0, -2.0}
	out := Float32ToInt16(in)

	if out[0] != 0 {
		t.Errorf("Expected 0, got %d", out[0])
	}
	if out[3] != 32767 {
		t.Errorf("Expected 32767 for 1.0, got %d", out[3])
	}
	if out[5] != 32767 {
		t.Errorf("Expected clamp to 32767 for 2.0, got %d", out[5])
	}
	if out[6] != -32767 {
		t.Errorf("Expected clamp to -32767 for -2.0, got %d", out[6])
	}

	back := Int16ToFloat32(out[:5])
	for i := 0; i < 5; i++ {
		if math.Abs(float64(back[i]-in[i])) > 0.001 {
			t.Errorf("Sample %d: round trip expected %.3f, got %.3f", i, in[i], back[i])
		}
	}
}

func TestPeakNormalize(t *testing.T) {
	samples := sine(1600, 440, 0.25)
	normalized := PeakNormalize(samples, 0.9)

	var peak float64
	for _, s := range normalized {
		a := math.Abs(float64(s) / 32768.0)
		if a > peak {
			peak = a
		}
	}

	if math.Abs(peak-0.9) > 0.01 {
		t.Errorf("Expected peak 0.9 after normalization, got %.3f", peak)
	}

	// Input is left untouched
	var origPeak float64
	for _, s := range samples {
		a := math.Abs(float64(s) / 32768.0)
		if a > origPeak {
			origPeak = a
		}
	}
	if origPeak > 0.3 {
		t.Errorf("Expected input unchanged (peak ~0.25), got %.3f", origPeak)
	}

	// Silence normalizes to silence
	silent := PeakNormalize(make([]int16, 100), 0.9)
	for i, s := range silent {
		if s != 0 {
			t.Errorf("Sample %d: expected silence, got %d", i, s)
			break
		}
	}
}

func TestInterleaveDeinterleave(t *testing.T) {
	left := []int16{1, 2, 3}
	right := []int16{-1, -2, -3}

	stereo := InterleaveStereo(left, right)
	want := []int16{1, -1, 2, -2, 3, -3}
	if len(stereo) != len(want) {
		t.Fatalf("Expected %d samples, got %d", len(want), len(stereo))
	}
	for i, w := range want {
		if stereo[i] != w {
			t.Errorf("Sample %d: expected %d, got %d", i, w, stereo[i])
		}
	}

	gotLeft, gotRight := DeinterleaveStereo(stereo)
	for i := range left {
		if gotLeft[i] != left[i] {
			t.Errorf("Left %d: expected %d, got %d", i, left[i], gotLeft[i])
		}
		if gotRight[i] != right[i] {
			t.Errorf("Right %d: expected %d, got %d", i, right[i], gotRight[i])
		}
	}
}

func TestInterleaveStereoPadsShorterSide(t *testing.T) {
	left := []int16{1, 2, 3, 4}
	right := []int16{-1}

	stereo := InterleaveStereo(left, right)
	if len(stereo) != 8 {
		t.Fatalf("Expected 8 samples, got %d", len(stereo))
	}

	// Right lane is silence-padded past its end
	if stereo[3] != 0 || stereo[5] != 0 || stereo[7] != 0 {
		t.Errorf("Expected right lane padded with zeros, got %v", stereo)
	}

	if stereo[1] != -1 {
		t.Errorf("Expected right[0] = -1, got %d", stereo[1])
	}
}
