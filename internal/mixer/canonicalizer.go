package mixer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"

	soxr "github.com/zaf/resample"

	"github.com/ghardin1314/scribe/internal/audio"
	"github.com/ghardin1314/scribe/internal/capture"
)

// Canonicalizer converts one source's native frames to the canonical
// format: 16 kHz, mono, 16-bit PCM. Multichannel input is downmixed by
// averaging before resampling. The resampler carries internal state, so
// frames from a single source must pass through a single Canonicalizer
// in capture order.
type Canonicalizer struct {
	source capture.SourceID

	nativeRate     int
	nativeChannels int

	// The resampler writes converted bytes into resampleBuf. Nil while
	// the native rate already matches the canonical rate.
	resampler   *soxr.Resampler
	resampleBuf *bytes.Buffer
	inputBytes  []byte // reused per call, grows as needed

	frames uint64
}

// NewCanonicalizer creates a converter for one capture lane. The native
// format is taken from the first frame and the resampler is built lazily.
func NewCanonicalizer(source capture.SourceID) *Canonicalizer {
	return &Canonicalizer{
		source:      source,
		resampleBuf: &bytes.Buffer{},
	}
}

// Process converts one frame and returns the canonical samples it yields.
// The resampler may withhold samples near the end of its window, so an
// empty return for a non-empty frame is normal.
func (c *Canonicalizer) Process(frame capture.Frame) ([]int16, error) {
	if err := frame.Validate(); err != nil {
		return nil, fmt.Errorf("invalid frame from %s: %w", c.source, err)
	}

	if frame.Rate != c.nativeRate || frame.Channels != c.nativeChannels {
		if err := c.reconfigure(frame.Rate, frame.Channels); err != nil {
			return nil, err
		}
	}
	c.frames++

	mono := audio.DownmixMono(frame.Samples, frame.Channels)
	samples := audio.Float32ToInt16(mono)

	if c.resampler == nil {
		return samples, nil
	}

	return c.resample(samples)
}

// Flush drains the resampler tail. The Canonicalizer is spent afterwards.
func (c *Canonicalizer) Flush() ([]int16, error) {
	if c.resampler == nil {
		return nil, nil
	}

	c.resampleBuf.Reset()
	if err := c.resampler.Close(); err != nil {
		return nil, fmt.Errorf("failed to flush resampler for %s: %w", c.source, err)
	}
	c.resampler = nil

	return bytesToInt16(c.resampleBuf.Bytes()), nil
}

// reconfigure rebuilds the resampler for a new native format. A device
// swap mid-session can change the rate; the old resampler's tail is
// dropped because it belongs to the previous device's stream.
func (c *Canonicalizer) reconfigure(rate, channels int) error {
	if c.resampler != nil {
		slog.Warn("Native format changed mid-stream",
			slog.String("source", c.source.String()),
			slog.Int("old_rate", c.nativeRate),
			slog.Int("new_rate", rate))
		c.resampler.Close()
		c.resampler = nil
	}

	c.nativeRate = rate
	c.nativeChannels = channels

	if rate == audio.CanonicalRate {
		return nil
	}

	c.resampleBuf.Reset()
	resampler, err := soxr.New(c.resampleBuf, float64(rate), float64(audio.CanonicalRate), 1, soxr.I16, soxr.HighQ)
	if err != nil {
		return fmt.Errorf("failed to create resampler for %s (%d Hz): %w", c.source, rate, err)
	}
	c.resampler = resampler
	return nil
}

// resample pushes mono samples through the rate converter
func (c *Canonicalizer) resample(samples []int16) ([]int16, error) {
	if len(samples) == 0 {
		return nil, nil
	}

	inputSize := len(samples) * 2
	if cap(c.inputBytes) < inputSize {
		c.inputBytes = make([]byte, inputSize)
	}
	input := c.inputBytes[:inputSize]
	for i, s := range samples {
		binary.LittleEndian.PutUint16(input[i*2:], uint16(s))
	}

	c.resampleBuf.Reset()
	if _, err := c.resampler.Write(input); err != nil {
		return nil, fmt.Errorf("resampler write for %s: %w", c.source, err)
	}

	return bytesToInt16(c.resampleBuf.Bytes()), nil
}

func bytesToInt16(raw []byte) []int16 {
	if len(raw) < 2 {
		return nil
	}
	out := make([]int16, len(raw)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return out
}
