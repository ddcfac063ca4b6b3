// Package audioio bridges native device audio (whatever sample rate and
// channel count a cable happens to run at) and the bridge's canonical
// format: interleaved stereo int16 at 48 kHz. It owns the PortAudio
// streams for all three cables and the per-frame format conversion
// between them.
package audioio

const (
	// CanonicalSampleRate and CanonicalChannels define the bridge's
	// internal audio format.
	CanonicalSampleRate = 48000
	CanonicalChannels   = 2
)

// ToCanonical converts samples (interleaved, nativeChannels per frame, at
// nativeRate) to canonical stereo 48kHz int16. Allocates nothing when
// nativeRate==48000 and nativeChannels==2.
func ToCanonical(samples []int16, nativeRate, nativeChannels int) []int16 {
	stereo := toStereo(samples, nativeChannels)
	if nativeRate == CanonicalSampleRate {
		return stereo
	}
	return resampleStereo(stereo, nativeRate, CanonicalSampleRate)
}

// FromCanonical converts canonical stereo 48kHz int16 samples to
// targetChannels at targetRate. Allocates nothing when targetRate==48000
// and targetChannels==2.
func FromCanonical(samples []int16, targetRate, targetChannels int) []int16 {
	out := samples
	if targetRate != CanonicalSampleRate {
		out = resampleStereo(out, CanonicalSampleRate, targetRate)
	}
	return fromStereo(out, targetChannels)
}

// toStereo maps an interleaved native-channel buffer to interleaved
// stereo. 1ch duplicates to L/R; N>=2 takes the first two channels.
func toStereo(samples []int16, nativeChannels int) []int16 {
	if nativeChannels == CanonicalChannels {
		return samples
	}
	frames := len(samples) / nativeChannels
	out := make([]int16, frames*CanonicalChannels)
	if nativeChannels == 1 {
		for i := 0; i < frames; i++ {
			s := samples[i]
			out[2*i] = s
			out[2*i+1] = s
		}
		return out
	}
	for i := 0; i < frames; i++ {
		base := i * nativeChannels
		out[2*i] = samples[base]
		out[2*i+1] = samples[base+1]
	}
	return out
}

// fromStereo maps interleaved stereo to targetChannels. 1ch mixes L+R in
// int32 then clips; N>2 fills L/R and zeroes the rest.
func fromStereo(samples []int16, targetChannels int) []int16 {
	if targetChannels == CanonicalChannels {
		return samples
	}
	frames := len(samples) / CanonicalChannels
	out := make([]int16, frames*targetChannels)
	if targetChannels == 1 {
		for i := 0; i < frames; i++ {
			l := int32(samples[2*i])
			r := int32(samples[2*i+1])
			out[i] = clipInt32((l + r) / 2)
		}
		return out
	}
	for i := 0; i < frames; i++ {
		base := i * targetChannels
		out[base] = samples[2*i]
		out[base+1] = samples[2*i+1]
		// remaining channels already zero-valued
	}
	return out
}

// resampleStereo performs linear interpolation per channel between
// fromRate and toRate. Voice-grade monitoring, not archival quality, is
// the target: a fast, allocation-light resampler is preferred over a
// higher-order filter.
func resampleStereo(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(samples) == 0 {
		return samples
	}
	frames := len(samples) / CanonicalChannels
	outFrames := int(int64(frames) * int64(toRate) / int64(fromRate))
	if outFrames < 1 {
		return nil
	}
	out := make([]int16, outFrames*CanonicalChannels)
	ratio := float64(frames-1) / float64(maxInt(outFrames-1, 1))
	for i := 0; i < outFrames; i++ {
		srcPos := float64(i) * ratio
		i0 := int(srcPos)
		if i0 >= frames-1 {
			i0 = frames - 2
			if i0 < 0 {
				i0 = 0
			}
		}
		i1 := i0 + 1
		if i1 >= frames {
			i1 = frames - 1
		}
		frac := srcPos - float64(i0)

		l0, r0 := samples[2*i0], samples[2*i0+1]
		l1, r1 := samples[2*i1], samples[2*i1+1]

		out[2*i] = lerpInt16(l0, l1, frac)
		out[2*i+1] = lerpInt16(r0, r1, frac)
	}
	return out
}

func lerpInt16(a, b int16, frac float64) int16 {
	return int16(float64(a) + (float64(b)-float64(a))*frac)
}

func clipInt32(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
