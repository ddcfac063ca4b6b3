package audioio

import "testing"

func TestToCanonicalFastPathNoAlloc(t *testing.T) {
	in := []int16{1, 2, 3, 4}
	out := ToCanonical(in, CanonicalSampleRate, CanonicalChannels)
	if &out[0] != &in[0] {
		t.Fatal("fast path should return the same backing array")
	}
}

func TestFromCanonicalFastPathNoAlloc(t *testing.T) {
	in := []int16{1, 2, 3, 4}
	out := FromCanonical(in, CanonicalSampleRate, CanonicalChannels)
	if &out[0] != &in[0] {
		t.Fatal("fast path should return the same backing array")
	}
}

func TestToCanonicalMonoDuplicates(t *testing.T) {
	in := []int16{100, 200, 300}
	out := ToCanonical(in, CanonicalSampleRate, 1)
	want := []int16{100, 100, 200, 200, 300, 300}
	if len(out) != len(want) {
		t.Fatalf("len = %d, want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out[%d] = %d, want %d", i, out[i], want[i])
		}
	}
}

func TestFromCanonicalMonoMixesAndClips(t *testing.T) {
	in := []int16{32767, 32767, -32768, -32768}
	out := FromCanonical(in, CanonicalSampleRate, 1)
	want := []int16{32767, -32768}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out[%d] = %d, want %d", i, out[i], want[i])
		}
	}
}

func TestToCanonicalTakesFirstTwoChannels(t *testing.T) {
	in := []int16{1, 2, 3, 4, 5, 6} // 3 channels, 2 frames
	out := ToCanonical(in, CanonicalSampleRate, 3)
	want := []int16{1, 2, 4, 5}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out[%d] = %d, want %d", i, out[i], want[i])
		}
	}
}

func TestFromCanonicalExtraChannelsZeroed(t *testing.T) {
	in := []int16{10, 20}
	out := FromCanonical(in, CanonicalSampleRate, 4)
	want := []int16{10, 20, 0, 0}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out[%d] = %d, want %d", i, out[i], want[i])
		}
	}
}

func TestRoundTripStereo48kFastPath(t *testing.T) {
	in := []int16{1000, -1000, 2000, -2000}
	canonical := ToCanonical(in, CanonicalSampleRate, CanonicalChannels)
	out := FromCanonical(canonical, CanonicalSampleRate, CanonicalChannels)
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("round trip mismatch at %d: got %d, want %d", i, out[i], in[i])
		}
	}
}

func TestResampleChangesFrameCount(t *testing.T) {
	frames := 480 // 10ms @ 48kHz
	in := make([]int16, frames*CanonicalChannels)
	for i := range in {
		in[i] = int16(i % 100)
	}
	out := ToCanonical(in, 44100, CanonicalChannels)
	// upsampling 44100 -> 48000 should produce more frames than input
	if len(out) <= len(in) {
		t.Fatalf("expected upsampled output to be longer: got %d, want > %d", len(out), len(in))
	}
}
