package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// ErrPermission marks a capture startup failure caused by the OS refusing
// device access. Callers branch on it with errors.Is.
var ErrPermission = errors.New("audio capture permission denied")

// reconnectDelay paces device re-open attempts after a disconnect.
const reconnectDelay = time.Second

// PortAudioSource captures from a portaudio input device. The system lane
// points it at a loopback/monitor device (pulse "*.monitor", "Stereo Mix",
// "BlackHole"); the mic lane uses the default input unless a device name
// is configured.
type PortAudioSource struct {
	source   SourceID
	device   string // case-insensitive substring match, empty means default input
	frameDur time.Duration

	frames chan Frame
	events chan Event

	stream   *portaudio.Stream
	buf      []float32
	rate     int
	channels int

	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}
	dropped  uint64
}

// NewPortAudioSource creates a portaudio-backed source for one capture lane.
// portaudio.Initialize must have been called before Start.
func NewPortAudioSource(source SourceID, device string, frameDur time.Duration) *PortAudioSource {
	return &PortAudioSource{
		source:   source,
		device:   device,
		frameDur: frameDur,
		frames:   make(chan Frame, frameChanSize),
		events:   make(chan Event, eventChanSize),
		stopped:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Label names the source for logs
func (s *PortAudioSource) Label() string {
	return s.source.String()
}

// Frames returns the channel of captured frames
func (s *PortAudioSource) Frames() <-chan Frame {
	return s.frames
}

// Events returns the channel of source state changes
func (s *PortAudioSource) Events() <-chan Event {
	return s.events
}

// Start opens the device and begins the read loop. Open failures are
// startup errors; permission refusals wrap ErrPermission.
func (s *PortAudioSource) Start() error {
	if err := s.open(); err != nil {
		if looksLikePermission(err) {
			s.emitEvent(EventPermissionDenied, err)
			return fmt.Errorf("%s source: %w: %v", s.Label(), ErrPermission, err)
		}
		return fmt.Errorf("%s source: failed to open device: %w", s.Label(), err)
	}

	slog.Info("Capture source started",
		slog.String("source", s.Label()),
		slog.String("device", s.device),
		slog.Int("rate", s.rate),
		slog.Int("channels", s.channels))

	go s.readLoop()
	return nil
}

// Stop halts the read loop and closes the output channels
func (s *PortAudioSource) Stop() error {
	s.stopOnce.Do(func() {
		close(s.stopped)
		<-s.done
		close(s.frames)
		close(s.events)
	})
	return nil
}

// open resolves the device and opens a blocking-read stream on it
func (s *PortAudioSource) open() error {
	dev, err := s.findDevice()
	if err != nil {
		return err
	}

	channels := dev.MaxInputChannels
	if channels > 2 {
		channels = 2
	}
	if channels < 1 {
		return fmt.Errorf("device %q has no input channels", dev.Name)
	}

	rate := int(dev.DefaultSampleRate)
	framesPerBuffer := int(float64(rate) * s.frameDur.Seconds())
	if framesPerBuffer < 1 {
		framesPerBuffer = 1
	}

	s.rate = rate
	s.channels = channels
	s.buf = make([]float32, framesPerBuffer*channels)

	params := portaudio.HighLatencyParameters(dev, nil)
	params.Input.Channels = channels
	params.SampleRate = float64(rate)
	params.FramesPerBuffer = framesPerBuffer

	stream, err := portaudio.OpenStream(params, s.buf)
	if err != nil {
		return err
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return err
	}

	s.stream = stream
	return nil
}

// findDevice resolves the configured device name to a portaudio input
// device, falling back to the default input when no name is set.
func (s *PortAudioSource) findDevice() (*portaudio.DeviceInfo, error) {
	if s.device == "" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("no default input device: %w", err)
		}
		return dev, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	needle := strings.ToLower(s.device)
	for _, dev := range devices {
		if dev.MaxInputChannels < 1 {
			continue
		}
		if strings.Contains(strings.ToLower(dev.Name), needle) {
			return dev, nil
		}
	}

	return nil, fmt.Errorf("no input device matching %q", s.device)
}

// readLoop pulls device buffers until stopped, reconnecting on read errors
func (s *PortAudioSource) readLoop() {
	defer close(s.done)
	defer s.closeStream()

	for {
		select {
		case <-s.stopped:
			return
		default:
		}

		if err := s.stream.Read(); err != nil {
			if err == portaudio.InputOverflowed {
				// The device outran us; samples were lost inside
				// portaudio but the stream is still healthy.
				slog.Debug("Capture overflow", slog.String("source", s.Label()))
				continue
			}

			slog.Warn("Capture device lost",
				slog.String("source", s.Label()),
				slog.String("error", err.Error()))
			s.emitEvent(EventDeviceDisconnected, err)

			if !s.reconnect() {
				return
			}
			s.emitEvent(EventDeviceReconnected, nil)
			continue
		}

		samples := make([]float32, len(s.buf))
		copy(samples, s.buf)

		s.emitFrame(Frame{
			Samples:   samples,
			Source:    s.source,
			Timestamp: time.Now(),
			Rate:      s.rate,
			Channels:  s.channels,
		})
	}
}

// reconnect retries the device until it comes back or the source is
// stopped. Returns false when stopped.
func (s *PortAudioSource) reconnect() bool {
	s.closeStream()

	for {
		select {
		case <-s.stopped:
			return false
		case <-time.After(reconnectDelay):
		}

		if err := s.open(); err != nil {
			slog.Debug("Capture reconnect failed",
				slog.String("source", s.Label()),
				slog.String("error", err.Error()))
			continue
		}

		slog.Info("Capture device reconnected", slog.String("source", s.Label()))
		return true
	}
}

func (s *PortAudioSource) closeStream() {
	if s.stream != nil {
		s.stream.Stop()
		s.stream.Close()
		s.stream = nil
	}
}

// emitFrame hands a frame downstream without ever blocking the device loop
func (s *PortAudioSource) emitFrame(frame Frame) {
	select {
	case s.frames <- frame:
	default:
		s.dropped++
		slog.Debug("Capture frame dropped",
			slog.String("source", s.Label()),
			slog.Uint64("total_dropped", s.dropped))
	}
}

func (s *PortAudioSource) emitEvent(kind EventKind, err error) {
	event := Event{Kind: kind, Source: s.source, Err: err, Timestamp: time.Now()}
	select {
	case s.events <- event:
	default:
		slog.Warn("Capture event dropped", slog.String("event", event.String()))
	}
}

// looksLikePermission guesses whether an open failure was an OS permission
// refusal rather than a missing device.
func looksLikePermission(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "permission") ||
		strings.Contains(msg, "access denied") ||
		strings.Contains(msg, "not authorized")
}
