package audioio

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

// Direction identifies which way an Endpoint moves audio.
type Direction int

const (
	Capture Direction = iota
	Playback
)

func (d Direction) String() string {
	if d == Capture {
		return "capture"
	}
	return "playback"
}

// Endpoint describes one of the bridge's three cables: Clubdeck capture,
// MPV capture, or browser-facing playback. Immutable once constructed.
type Endpoint struct {
	DeviceID    int
	NativeRate  int
	NativeChans int
	Dir         Direction
	Name        string // for logging, resolved at open time
}

// DeviceOpenError wraps a failing endpoint and the underlying PortAudio
// error so startup diagnostics can name the exact cable that failed.
type DeviceOpenError struct {
	Endpoint Endpoint
	Err      error
}

func (e *DeviceOpenError) Error() string {
	return fmt.Sprintf("audioio: open %s device %d (%q): %v", e.Endpoint.Dir, e.Endpoint.DeviceID, e.Endpoint.Name, e.Err)
}

func (e *DeviceOpenError) Unwrap() error { return e.Err }

// CaptureHandle is a running capture stream. onFrame is invoked
// repeatedly by the stream's capture goroutine with newly captured
// interleaved native-format samples; it must not block on non-realtime
// locks.
type CaptureHandle struct {
	stream *portaudio.Stream
	buf    []int16
	closed atomic.Bool
	errCh  chan error
}

// PlaybackHandle is a running playback stream. onFill is invoked
// repeatedly by the stream's playback goroutine to produce the next block
// of interleaved native-format samples.
type PlaybackHandle struct {
	stream *portaudio.Stream
	buf    []int16
	closed atomic.Bool
	errCh  chan error
}

// Close stops and releases the stream.
func (h *CaptureHandle) Close() error {
	if h == nil || h.stream == nil {
		return nil
	}
	h.closed.Store(true)
	if err := h.stream.Stop(); err != nil {
		log.Printf("[audioio] capture stop: %v", err)
	}
	return h.stream.Close()
}

// Err reports an unrecoverable stream failure (e.g. the device was
// unplugged). At most one error is ever delivered; an orderly Close
// delivers none.
func (h *CaptureHandle) Err() <-chan error {
	return h.errCh
}

// Close stops and releases the stream.
func (h *PlaybackHandle) Close() error {
	if h == nil || h.stream == nil {
		return nil
	}
	h.closed.Store(true)
	if err := h.stream.Stop(); err != nil {
		log.Printf("[audioio] playback stop: %v", err)
	}
	return h.stream.Close()
}

// Err reports an unrecoverable stream failure, as for CaptureHandle.Err.
func (h *PlaybackHandle) Err() <-chan error {
	return h.errCh
}

// OpenCapture opens a capture stream on endpoint. onFrame is called from
// a goroutine that loops on the stream's blocking Read, once per buffer;
// frames is the number of
// sample-frames in samples (len(samples) == frames*endpoint.NativeChans).
func OpenCapture(endpoint Endpoint, chunkFrames int, onFrame func(samples []int16, frames int)) (*CaptureHandle, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, &DeviceOpenError{Endpoint: endpoint, Err: err}
	}
	dev, err := deviceByID(devices, endpoint.DeviceID)
	if err != nil {
		return nil, &DeviceOpenError{Endpoint: endpoint, Err: err}
	}
	endpoint.Name = dev.Name

	buf := make([]int16, chunkFrames*endpoint.NativeChans)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: endpoint.NativeChans,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(endpoint.NativeRate),
		FramesPerBuffer: chunkFrames,
	}
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, &DeviceOpenError{Endpoint: endpoint, Err: err}
	}

	h := &CaptureHandle{stream: stream, buf: buf, errCh: make(chan error, 1)}

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, &DeviceOpenError{Endpoint: endpoint, Err: err}
	}

	go captureLoop(h, chunkFrames, onFrame)
	return h, nil
}

// captureLoop repeatedly blocks in stream.Read, delivering buf to onFrame
// on every iteration. Input overflow is logged and skipped; any other
// read error after an orderly Close ends the loop silently, otherwise the
// failure is surfaced on errCh.
func captureLoop(h *CaptureHandle, frames int, onFrame func([]int16, int)) {
	for {
		if err := h.stream.Read(); err != nil {
			if err == portaudio.InputOverflowed {
				log.Printf("[audioio] capture overflow (continuing)")
				continue
			}
			if !h.closed.Load() {
				h.errCh <- fmt.Errorf("capture stream: %w", err)
			}
			return
		}
		onFrame(h.buf, frames)
	}
}

// OpenPlayback opens a playback stream on endpoint. onFill is called from
// a goroutine that loops on the stream's blocking Write, once before each
// buffer is written; it must fill
// out fully (or zero-fill the remainder itself).
func OpenPlayback(endpoint Endpoint, chunkFrames int, onFill func(out []int16, frames int)) (*PlaybackHandle, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, &DeviceOpenError{Endpoint: endpoint, Err: err}
	}
	dev, err := deviceByID(devices, endpoint.DeviceID)
	if err != nil {
		return nil, &DeviceOpenError{Endpoint: endpoint, Err: err}
	}
	endpoint.Name = dev.Name

	buf := make([]int16, chunkFrames*endpoint.NativeChans)
	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: endpoint.NativeChans,
			Latency:  dev.DefaultLowOutputLatency,
		},
		SampleRate:      float64(endpoint.NativeRate),
		FramesPerBuffer: chunkFrames,
	}
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, &DeviceOpenError{Endpoint: endpoint, Err: err}
	}

	h := &PlaybackHandle{stream: stream, buf: buf, errCh: make(chan error, 1)}

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, &DeviceOpenError{Endpoint: endpoint, Err: err}
	}

	go playbackLoop(h, chunkFrames, onFill)
	return h, nil
}

func playbackLoop(h *PlaybackHandle, frames int, onFill func([]int16, int)) {
	for {
		onFill(h.buf, frames)
		if err := h.stream.Write(); err != nil {
			if err == portaudio.OutputUnderflowed {
				log.Printf("[audioio] playback underflow (continuing)")
				continue
			}
			if !h.closed.Load() {
				h.errCh <- fmt.Errorf("playback stream: %w", err)
			}
			return
		}
	}
}

// ResolveEndpoint builds an Endpoint for device id from the device's
// default sample rate and its channel count clamped to stereo. A device
// with no channels in the requested direction is an error, caught before
// any stream is opened.
func ResolveEndpoint(id int, dir Direction) (Endpoint, error) {
	devices, err := Devices()
	if err != nil {
		return Endpoint{}, err
	}
	dev, err := deviceByID(devices, id)
	if err != nil {
		return Endpoint{}, err
	}

	chans := dev.MaxInputChannels
	if dir == Playback {
		chans = dev.MaxOutputChannels
	}
	if chans < 1 {
		return Endpoint{}, fmt.Errorf("device %d (%q) has no %s channels", id, dev.Name, dir)
	}
	if chans > CanonicalChannels {
		chans = CanonicalChannels
	}

	return Endpoint{
		DeviceID:    id,
		NativeRate:  int(dev.DefaultSampleRate),
		NativeChans: chans,
		Dir:         dir,
		Name:        dev.Name,
	}, nil
}

func deviceByID(devices []*portaudio.DeviceInfo, id int) (*portaudio.DeviceInfo, error) {
	if id < 0 || id >= len(devices) {
		return nil, fmt.Errorf("device id %d out of range (have %d devices)", id, len(devices))
	}
	return devices[id], nil
}

// mu serializes portaudio.Devices() calls; PortAudio's device enumeration
// is not guaranteed safe for concurrent calls from multiple goroutines.
var mu sync.Mutex

// Devices returns the PortAudio device list under a package-level lock.
func Devices() ([]*portaudio.DeviceInfo, error) {
	mu.Lock()
	defer mu.Unlock()
	return portaudio.Devices()
}
