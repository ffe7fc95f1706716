package capture

import (
	"fmt"
	"time"
)

// Source identifiers
const (
	SourceSystem SourceID = 0x01 // Loopback of the machine's audio output
	SourceMic    SourceID = 0x02 // Microphone input
)

// SourceID identifies which capture lane a frame or event belongs to
type SourceID uint8

// String returns a human-readable source name
func (s SourceID) String() string {
	switch s {
	case SourceSystem:
		return "system"
	case SourceMic:
		return "mic"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(s))
	}
}

// Event kinds signaled by capture sources
const (
	EventPermissionDenied   EventKind = 0x01 // OS refused access to the device
	EventDeviceDisconnected EventKind = 0x02 // Device lost, reconnect pending
	EventDeviceReconnected  EventKind = 0x03 // Device recovered after a disconnect
	EventEndOfStream        EventKind = 0x04 // Source is done producing frames
)

// EventKind classifies a capture source event
type EventKind uint8

// String returns a human-readable event kind
func (k EventKind) String() string {
	switch k {
	case EventPermissionDenied:
		return "permission_denied"
	case EventDeviceDisconnected:
		return "device_disconnected"
	case EventDeviceReconnected:
		return "device_reconnected"
	case EventEndOfStream:
		return "end_of_stream"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(k))
	}
}

// Frame is one block of captured audio in the device's native format.
// Samples are interleaved float32 in [-1, 1]. Immutable once emitted.
type Frame struct {
	Samples   []float32
	Source    SourceID
	Timestamp time.Time // capture wall-clock time of the first sample
	Rate      int       // native sample rate in Hz
	Channels  int       // interleaved channel count
}

// Duration returns the frame length in seconds of audio.
func (f *Frame) Duration() time.Duration {
	if f.Rate <= 0 || f.Channels <= 0 {
		return 0
	}
	frames := len(f.Samples) / f.Channels
	return time.Duration(float64(frames) / float64(f.Rate) * float64(time.Second))
}

// Validate checks the frame's format fields
func (f *Frame) Validate() error {
	if f.Rate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", f.Rate)
	}

	if f.Channels < 1 {
		return fmt.Errorf("invalid channel count: %d", f.Channels)
	}

	if len(f.Samples)%f.Channels != 0 {
		return fmt.Errorf("sample count %d is not a multiple of %d channels", len(f.Samples), f.Channels)
	}

	return nil
}

// String returns a human-readable representation of the frame
func (f *Frame) String() string {
	return fmt.Sprintf("Frame{Source:%s, Samples:%d, Rate:%d, Channels:%d}",
		f.Source, len(f.Samples), f.Rate, f.Channels)
}

// Event signals a capture source state change
type Event struct {
	Kind      EventKind
	Source    SourceID
	Err       error // underlying cause, may be nil
	Timestamp time.Time
}

// String returns a human-readable representation of the event
func (e Event) String() string {
	if e.Err != nil {
		return fmt.Sprintf("Event{Kind:%s, Source:%s, Err:%v}", e.Kind, e.Source, e.Err)
	}
	return fmt.Sprintf("Event{Kind:%s, Source:%s}", e.Kind, e.Source)
}

// Source is a producer of timestamped PCM frames. Live sources never block
// on downstream consumers: a full frame channel drops the frame and counts
// it rather than stalling the device loop. Replay sources block instead so
// no file samples are lost.
type Source interface {
	// Start begins capture. An error here is a startup failure (permission
	// refusal, missing device, unreadable file).
	Start() error

	// Stop halts capture and closes the frame and event channels once the
	// device loop has exited.
	Stop() error

	// Frames returns the channel of captured frames.
	Frames() <-chan Frame

	// Events returns the channel of source state changes.
	Events() <-chan Event

	// Label names the source for logs.
	Label() string
}

// frameChanSize bounds how much audio a source may buffer ahead of the
// canonicalizer (64 frames at 20ms is ~1.3s).
const frameChanSize = 64

const eventChanSize = 8
