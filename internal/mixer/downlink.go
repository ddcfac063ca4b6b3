// Package mixer composes the bridge's two output streams: the downlink
// (room audio plus music, bound for browser clients) and the uplink
// (browser microphones plus attenuated music, bound for the conferencing
// app's virtual input cable).
package mixer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rustyguts/audiobridge/internal/musicctl"
	"github.com/rustyguts/audiobridge/internal/queue"
	"github.com/rustyguts/audiobridge/internal/vad"
)

const (
	// getTimeout bounds each queue read so the mixer loop observes
	// shutdown promptly even when a capture source goes quiet.
	getTimeout = 50 * time.Millisecond

	// levelInterval is how many mixed frames pass between level
	// snapshots (~1s of audio at 512-frame chunks).
	levelInterval = 100
)

// Levels is a point-in-time reading of the mixer's input levels, read by
// the HTTP status endpoint.
type Levels struct {
	ClubdeckRMS float64
	MusicRMS    float64
	FramesMixed uint64
}

// Downlink combines room audio with music into the browser-bound stream
// and drives music ducking from the room's voice activity. One instance,
// one goroutine.
type Downlink struct {
	clubdeck *queue.Queue[[]int16]
	music    *queue.Queue[[]int16]
	out      *queue.Queue[[]int16]

	detector   *vad.VAD
	controller musicctl.Controller

	mixMode        bool
	duckingEnabled bool
	lastActive     bool

	framesMixed atomic.Uint64

	levelMu sync.Mutex
	levels  Levels
}

// NewDownlink wires a downlink mixer between its three queues. mixMode
// false means the music source is ignored entirely and the downlink
// stream equals the room capture.
func NewDownlink(clubdeck, music, out *queue.Queue[[]int16], detector *vad.VAD, controller musicctl.Controller, mixMode, duckingEnabled bool) *Downlink {
	return &Downlink{
		clubdeck:       clubdeck,
		music:          music,
		out:            out,
		detector:       detector,
		controller:     controller,
		mixMode:        mixMode,
		duckingEnabled: duckingEnabled,
	}
}

// Run loops until ctx is cancelled. Each iteration pairs one room frame
// with one music frame, mixes them, and publishes the result. A timeout
// on either input drops the iteration rather than padding with silence,
// so the downlink never fabricates audio the room didn't produce.
func (d *Downlink) Run(ctx context.Context) {
	for ctx.Err() == nil {
		cdFrame, err := d.clubdeck.Get(getTimeout)
		if err != nil {
			continue
		}

		active := d.detector.Process(cdFrame)
		if d.duckingEnabled && active != d.lastActive {
			d.lastActive = active
			d.controller.SetDucking(active)
		}

		mixed := cdFrame
		var muFrame []int16
		if d.mixMode {
			muFrame, err = d.music.Get(getTimeout)
			if err != nil {
				continue
			}
			mixed = mixFrames(cdFrame, muFrame)
		}

		d.out.Put(mixed)
		n := d.framesMixed.Add(1)

		if n%levelInterval == 0 {
			d.publishLevels(cdFrame, muFrame, n)
		}
	}
}

// Snapshot returns the most recent level reading.
func (d *Downlink) Snapshot() Levels {
	d.levelMu.Lock()
	defer d.levelMu.Unlock()
	l := d.levels
	l.FramesMixed = d.framesMixed.Load()
	return l
}

func (d *Downlink) publishLevels(cdFrame, muFrame []int16, frames uint64) {
	cd := vad.RMS(cdFrame)
	mu := vad.RMS(muFrame)
	d.levelMu.Lock()
	d.levels = Levels{ClubdeckRMS: cd, MusicRMS: mu, FramesMixed: frames}
	d.levelMu.Unlock()
}

// mixFrames adds two int16 frames sample-wise in int32, clipping the sum
// back to int16. The result is truncated to the shorter input.
func mixFrames(a, b []int16) []int16 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = clip(int32(a[i]) + int32(b[i]))
	}
	return out
}

func clip(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
