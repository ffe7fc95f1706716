package capture

import (
	"log/slog"
	"math"
	"sync"
	"time"
)

const (
	toneRate      = 16000
	toneAmplitude = 0.2
)

// ToneSource generates a continuous sine tone. It stands in for a live
// device in demos and smoke tests where no audio hardware exists, so it
// always paces itself in real time.
type ToneSource struct {
	source   SourceID
	freq     float64
	frameDur time.Duration

	frames chan Frame
	events chan Event

	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}
}

// NewToneSource creates a sine generator for one capture lane
func NewToneSource(source SourceID, freq float64, frameDur time.Duration) *ToneSource {
	if freq <= 0 {
		freq = 440
	}
	return &ToneSource{
		source:   source,
		freq:     freq,
		frameDur: frameDur,
		frames:   make(chan Frame, frameChanSize),
		events:   make(chan Event, eventChanSize),
		stopped:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Label names the source for logs
func (s *ToneSource) Label() string {
	return s.source.String()
}

// Frames returns the channel of generated frames
func (s *ToneSource) Frames() <-chan Frame {
	return s.frames
}

// Events returns the channel of source state changes
func (s *ToneSource) Events() <-chan Event {
	return s.events
}

// Start begins the generator loop
func (s *ToneSource) Start() error {
	slog.Info("Tone source started",
		slog.String("source", s.Label()),
		slog.Float64("freq", s.freq),
		slog.Int("rate", toneRate))
	go s.generateLoop()
	return nil
}

// Stop halts the generator and closes the output channels
func (s *ToneSource) Stop() error {
	s.stopOnce.Do(func() {
		close(s.stopped)
		<-s.done
		close(s.frames)
		close(s.events)
	})
	return nil
}

func (s *ToneSource) generateLoop() {
	defer close(s.done)

	framesPerBuffer := int(float64(toneRate) * s.frameDur.Seconds())
	if framesPerBuffer < 1 {
		framesPerBuffer = 1
	}

	ticker := time.NewTicker(s.frameDur)
	defer ticker.Stop()

	var phase float64
	step := 2 * math.Pi * s.freq / float64(toneRate)

	for {
		select {
		case <-s.stopped:
			return
		case <-ticker.C:
		}

		samples := make([]float32, framesPerBuffer)
		for i := range samples {
			samples[i] = float32(toneAmplitude * math.Sin(phase))
			phase += step
			if phase > 2*math.Pi {
				phase -= 2 * math.Pi
			}
		}

		frame := Frame{
			Samples:   samples,
			Source:    s.source,
			Timestamp: time.Now(),
			Rate:      toneRate,
			Channels:  1,
		}

		// Live-source contract: drop rather than stall the generator
		select {
		case s.frames <- frame:
		default:
		}
	}
}
