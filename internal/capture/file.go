package capture

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// FileSource replays a WAV file as if it were a live device. With realtime
// pacing it emits one frame per frame duration; without it the file is
// pushed through as fast as downstream accepts it.
type FileSource struct {
	source   SourceID
	path     string
	realtime bool
	frameDur time.Duration

	frames chan Frame
	events chan Event

	file     *os.File
	decoder  *wav.Decoder
	rate     int
	channels int
	bitDepth int

	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}
}

// NewFileSource creates a replay source for one capture lane
func NewFileSource(source SourceID, path string, realtime bool, frameDur time.Duration) *FileSource {
	return &FileSource{
		source:   source,
		path:     path,
		realtime: realtime,
		frameDur: frameDur,
		frames:   make(chan Frame, frameChanSize),
		events:   make(chan Event, eventChanSize),
		stopped:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Label names the source for logs
func (s *FileSource) Label() string {
	return s.source.String()
}

// Frames returns the channel of replayed frames
func (s *FileSource) Frames() <-chan Frame {
	return s.frames
}

// Events returns the channel of source state changes
func (s *FileSource) Events() <-chan Event {
	return s.events
}

// Start validates the file header and begins the replay loop
func (s *FileSource) Start() error {
	file, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("%s source: failed to open %s: %w", s.Label(), s.path, err)
	}

	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		file.Close()
		return fmt.Errorf("%s source: %s is not a valid WAV file", s.Label(), s.path)
	}

	s.file = file
	s.decoder = decoder
	s.rate = int(decoder.SampleRate)
	s.channels = int(decoder.NumChans)
	s.bitDepth = int(decoder.BitDepth)

	if s.rate < 1 || s.channels < 1 {
		file.Close()
		return fmt.Errorf("%s source: %s has unusable format (rate=%d, channels=%d)",
			s.Label(), s.path, s.rate, s.channels)
	}

	slog.Info("Replay source started",
		slog.String("source", s.Label()),
		slog.String("path", s.path),
		slog.Int("rate", s.rate),
		slog.Int("channels", s.channels),
		slog.Bool("realtime", s.realtime))

	go s.readLoop()
	return nil
}

// Stop halts the replay loop and closes the output channels
func (s *FileSource) Stop() error {
	s.stopOnce.Do(func() {
		close(s.stopped)
		<-s.done
		close(s.frames)
		close(s.events)
	})
	return nil
}

// readLoop decodes PCM in frame-sized slices until EOF or Stop
func (s *FileSource) readLoop() {
	defer close(s.done)
	defer s.file.Close()

	framesPerBuffer := int(float64(s.rate) * s.frameDur.Seconds())
	if framesPerBuffer < 1 {
		framesPerBuffer = 1
	}

	buf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: s.channels, SampleRate: s.rate},
		Data:   make([]int, framesPerBuffer*s.channels),
	}

	// Full-scale magnitude for the file's bit depth
	scale := float32(int64(1) << (s.bitDepth - 1))

	var ticker *time.Ticker
	if s.realtime {
		ticker = time.NewTicker(s.frameDur)
		defer ticker.Stop()
	}

	for {
		n, err := s.decoder.PCMBuffer(buf)
		if err != nil {
			slog.Warn("Replay read failed",
				slog.String("source", s.Label()),
				slog.String("error", err.Error()))
			s.emitEvent(EventEndOfStream, err)
			return
		}
		if n == 0 {
			slog.Info("Replay finished", slog.String("source", s.Label()))
			s.emitEvent(EventEndOfStream, nil)
			return
		}

		samples := make([]float32, n)
		for i := 0; i < n; i++ {
			samples[i] = float32(buf.Data[i]) / scale
		}

		frame := Frame{
			Samples:   samples,
			Source:    s.source,
			Timestamp: time.Now(),
			Rate:      s.rate,
			Channels:  s.channels,
		}

		// Replay must not lose samples, so the send blocks until
		// downstream accepts the frame or the source is stopped.
		select {
		case s.frames <- frame:
		case <-s.stopped:
			return
		}

		if s.realtime {
			select {
			case <-ticker.C:
			case <-s.stopped:
				return
			}
		}
	}
}

func (s *FileSource) emitEvent(kind EventKind, err error) {
	event := Event{Kind: kind, Source: s.source, Err: err, Timestamp: time.Now()}
	select {
	case s.events <- event:
	case <-s.stopped:
	}
}
