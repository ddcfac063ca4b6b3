package mixer

import (
	"github.com/rustyguts/audiobridge/internal/audioio"
	"github.com/rustyguts/audiobridge/internal/ringbuf"
)

// musicUplinkGain attenuates the music bed under the browser voice on the
// uplink so the spoken voice dominates in the room.
const musicUplinkGain = 0.3

// Uplink synthesizes the stream fed into the conferencing app's virtual
// input cable: browser microphone audio at full gain plus the music
// capture at reduced gain. It is driven by the playback device's pull
// callback, so it reads from ring buffers (deterministic, zero-padding
// when starved) rather than queues.
type Uplink struct {
	browser *ringbuf.Ring
	music   *ringbuf.Ring

	outRate  int
	outChans int
	mixMode  bool

	// Scratch buffers reused across callbacks; Fill runs on the audio
	// host thread and must not allocate on the fast path.
	browserBuf []int16
	musicBuf   []int16
	mixBuf     []int16
}

// NewUplink builds an uplink for a playback device running at outRate
// with outChans channels. mixMode false mixes the browser mic with
// silence instead of music.
func NewUplink(browser, music *ringbuf.Ring, outRate, outChans int, mixMode bool) *Uplink {
	return &Uplink{
		browser:  browser,
		music:    music,
		outRate:  outRate,
		outChans: outChans,
		mixMode:  mixMode,
	}
}

// Fill produces frames sample-frames of interleaved device-native output
// into out. Starved sources contribute silence; the device never stalls.
func (u *Uplink) Fill(out []int16, frames int) {
	needed := frames
	if u.outRate != audioio.CanonicalSampleRate {
		needed = frames * audioio.CanonicalSampleRate / u.outRate
	}
	n := needed * audioio.CanonicalChannels

	u.browserBuf = grow(u.browserBuf, n)
	u.mixBuf = grow(u.mixBuf, n)

	u.browser.ReadInto(u.browserBuf[:n])

	if u.mixMode {
		u.musicBuf = grow(u.musicBuf, n)
		u.music.ReadInto(u.musicBuf[:n])
		for i := 0; i < n; i++ {
			v := int32(u.browserBuf[i]) + int32(float64(u.musicBuf[i])*musicUplinkGain)
			u.mixBuf[i] = clip(v)
		}
	} else {
		copy(u.mixBuf[:n], u.browserBuf[:n])
	}

	converted := audioio.FromCanonical(u.mixBuf[:n], u.outRate, u.outChans)

	want := frames * u.outChans
	copied := copy(out[:want], converted)
	for i := copied; i < want; i++ {
		out[i] = 0
	}
}

func grow(buf []int16, n int) []int16 {
	if cap(buf) < n {
		return make([]int16, n)
	}
	return buf[:n]
}
