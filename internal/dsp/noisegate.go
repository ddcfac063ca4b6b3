package dsp

import "math"

// NoiseGate attenuates (rather than hard-zeroes) frames whose RMS falls
// below a threshold. Attenuation keeps a faint noise floor, which sounds
// less jarring over a voice link than gating to digital silence.
type NoiseGate struct {
	thresholdRMS float64
	attenuation  float64 // divisor applied to gated frames, e.g. 10 -> 10x quieter
	hold         int     // frames to keep passing at full level after going quiet
	remaining    int
	open         bool
}

const (
	// DefaultThresholdRMS is the int16 RMS level below which frames are attenuated.
	DefaultThresholdRMS = 150.0

	// DefaultAttenuation is the divisor applied to gated frames (10x quieter).
	DefaultAttenuation = 10.0
)

// NewNoiseGate returns a gate with default tuning and no hold window:
// the gate decision is made fresh every frame.
func NewNoiseGate() *NoiseGate {
	return &NoiseGate{
		thresholdRMS: DefaultThresholdRMS,
		attenuation:  DefaultAttenuation,
	}
}

// WithHold sets a hold window (in frames) during which the gate keeps
// passing audio at full level after RMS drops below threshold.
func (g *NoiseGate) WithHold(frames int) *NoiseGate {
	g.hold = frames
	return g
}

// IsOpen reports whether the previous Process call passed audio unattenuated.
func (g *NoiseGate) IsOpen() bool {
	return g.open
}

// Process attenuates frame in place when its RMS is below threshold and
// the hold window has expired. Returns the frame's RMS as measured before
// attenuation.
func (g *NoiseGate) Process(frame []int16) float64 {
	rms := RMS(frame)

	if rms >= g.thresholdRMS {
		g.remaining = g.hold
		g.open = true
		return rms
	}

	if g.remaining > 0 {
		g.remaining--
		g.open = true
		return rms
	}

	for i, s := range frame {
		frame[i] = int16(float64(s) / g.attenuation)
	}
	g.open = false
	return rms
}

// Reset clears the hold counter.
func (g *NoiseGate) Reset() {
	g.remaining = 0
	g.open = false
}

// RMS returns the root-mean-square of an int16 PCM frame.
func RMS(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(frame)))
}
