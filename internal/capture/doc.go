// Package capture acquires raw audio frames from the system and microphone
// lanes. It defines the Source interface plus three backends: portaudio for
// live devices, WAV file replay, and a synthetic tone generator. Sources
// deliver frames and device events over channels and never block the device
// read loop.
package capture
