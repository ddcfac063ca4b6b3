package dsp

import "testing"

func TestHighPassRemovesDC(t *testing.T) {
	h := NewHighPass(48000)
	frame := make([]int16, 2000)
	for i := range frame {
		frame[i] = 1000 // constant DC offset, both channels
	}
	h.Process(frame)
	// After enough samples a high-pass filter should drive a DC input
	// toward zero.
	tail := frame[len(frame)-100:]
	for _, s := range tail {
		if s > 50 || s < -50 {
			t.Fatalf("DC not attenuated: sample = %d", s)
		}
	}
}

func TestHighPassChannelsIndependent(t *testing.T) {
	h := NewHighPass(48000)
	frame := make([]int16, 4)
	frame[0], frame[1] = 1000, 0
	frame[2], frame[3] = 1000, 0
	h.Process(frame)
	// Right channel started at 0 and stays at 0 given 0 input forever.
	if frame[1] != 0 || frame[3] != 0 {
		t.Fatalf("right channel should stay silent, got %v", frame)
	}
}

func TestHighPassReset(t *testing.T) {
	h := NewHighPass(48000)
	frame := []int16{1000, 1000}
	h.Process(frame)
	h.Reset()
	frame2 := []int16{0, 0}
	h.Process(frame2)
	if frame2[0] != 0 || frame2[1] != 0 {
		t.Fatalf("expected zero output from zero input after Reset, got %v", frame2)
	}
}
