package audio

import (
	"math"
	"testing"
)

func TestEncodeWAV(t *testing.T) {
	// Generate test audio samples (440Hz sine wave for 0.1 seconds at 16kHz)
	sampleRate := 16000
	duration := 0.1
	frequency := 440.0

	numSamples := int(float64(sampleRate) * duration)
	samples := make([]int16, numSamples)

	for i := 0; i < numSamples; i++ {
		t := float64(i) / float64(sampleRate)
		amplitude := 16383.0 // Half of max int16 to avoid clipping
		sample := amplitude * math.Sin(2*math.Pi*frequency*t)
		samples[i] = int16(sample)
	}

	wavData, err := EncodeWAV(samples, sampleRate, 1)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	if len(wavData) == 0 {
		t.Fatal("WAV data is empty")
	}

	// WAV header should be 44 bytes
	expectedSize := 44 + len(samples)*2
	if len(wavData) != expectedSize {
		t.Errorf("Expected WAV size %d, got %d", expectedSize, len(wavData))
	}

	if err := ValidateWAV(wavData); err != nil {
		t.Errorf("Generated WAV is invalid: %v", err)
	}

	gotDuration, err := GetWAVDuration(wavData)
	if err != nil {
		t.Errorf("Failed to read WAV duration: %v", err)
	}

	expectedDuration := float64(numSamples) / float64(sampleRate)
	if math.Abs(gotDuration-expectedDuration) > 0.001 {
		t.Errorf("Expected duration %.3f, got %.3f", expectedDuration, gotDuration)
	}
}

func TestEncodeWAVStereo(t *testing.T) {
	sampleRate := 16000
	left := []int16{100, 200, 300, 400}
	right := []int16{-100, -200, -300, -400}
	stereo := InterleaveStereo(left, right)

	wavData, err := EncodeWAV(stereo, sampleRate, 2)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	decoded, decodedRate, decodedChannels, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	if decodedRate != sampleRate {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, decodedRate)
	}

	if decodedChannels != 2 {
		t.Errorf("Expected 2 channels, got %d", decodedChannels)
	}

	if len(decoded) != len(stereo) {
		t.Fatalf("Expected %d samples, got %d", len(stereo), len(decoded))
	}

	for i, s := range stereo {
		if decoded[i] != s {
			t.Errorf("Sample %d: expected %d, got %d", i, s, decoded[i])
		}
	}

	// Stereo duration counts frames, not samples
	gotDuration, err := GetWAVDuration(wavData)
	if err != nil {
		t.Fatalf("GetWAVDuration failed: %v", err)
	}

	expectedDuration := float64(len(left)) / float64(sampleRate)
	if math.Abs(gotDuration-expectedDuration) > 0.0001 {
		t.Errorf("Expected duration %.6f, got %.6f", expectedDuration, gotDuration)
	}
}

func TestDecodeWAV(t *testing.T) {
	originalSamples := []int16{100, -200, 300, -400, 500}
	sampleRate := 16000

	wavData, err := EncodeWAV(originalSamples, sampleRate, 1)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	decodedSamples, decodedSampleRate, decodedChannels, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	if decodedSampleRate != sampleRate {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, decodedSampleRate)
	}

	if decodedChannels != 1 {
		t.Errorf("Expected 1 channel, got %d", decodedChannels)
	}

	if len(decodedSamples) != len(originalSamples) {
		t.Errorf("Expected %d samples, got %d", len(originalSamples), len(decodedSamples))
	}

	for i, original := range originalSamples {
		if i >= len(decodedSamples) {
			break
		}
		if decodedSamples[i] != original {
			t.Errorf("Sample %d: expected %d, got %d", i, original, decodedSamples[i])
		}
	}
}

func TestEncodeWAVEmpty(t *testing.T) {
	_, err := EncodeWAV([]int16{}, 16000, 1)
	if err == nil {
		t.Error("Expected error for empty samples")
	}
}

func TestEncodeWAVInvalidSampleRate(t *testing.T) {
	samples := []int16{100, 200, 300}
	_, err := EncodeWAV(samples, 0, 1)
	if err == nil {
		t.Error("Expected error for zero sample rate")
	}

	_, err = EncodeWAV(samples, -1000, 1)
	if err == nil {
		t.Error("Expected error for negative sample rate")
	}
}

func TestEncodeWAVInvalidChannels(t *testing.T) {
	samples := []int16{100, 200, 300, 400}

	_, err := EncodeWAV(samples, 16000, 0)
	if err == nil {
		t.Error("Expected error for zero channels")
	}

	// Odd sample count cannot be stereo
	_, err = EncodeWAV([]int16{1, 2, 3}, 16000, 2)
	if err == nil {
		t.Error("Expected error for sample count not divisible by channels")
	}
}

func TestValidateWAV(t *testing.T) {
	err := ValidateWAV([]byte{1, 2, 3})
	if err == nil {
		t.Error("Expected error for too short WAV data")
	}

	invalidWAV := make([]byte, 50)
	copy(invalidWAV[0:4], []byte("FAKE"))
	err = ValidateWAV(invalidWAV)
	if err == nil {
		t.Error("Expected error for invalid RIFF header")
	}
}
