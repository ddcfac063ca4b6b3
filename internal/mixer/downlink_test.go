package mixer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rustyguts/audiobridge/internal/queue"
	"github.com/rustyguts/audiobridge/internal/vad"
)

// recordingController captures SetDucking calls for assertions.
type recordingController struct {
	mu    sync.Mutex
	calls []bool
}

func (r *recordingController) SetDucking(shouldDuck bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, shouldDuck)
}

func (r *recordingController) Stop() {}

func (r *recordingController) snapshot() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bool, len(r.calls))
	copy(out, r.calls)
	return out
}

func newTestDownlink(mixMode, ducking bool) (*Downlink, *queue.Queue[[]int16], *queue.Queue[[]int16], *queue.Queue[[]int16], *recordingController) {
	qCD := queue.New[[]int16](64)
	qMU := queue.New[[]int16](64)
	qDown := queue.New[[]int16](64)
	ctrl := &recordingController{}
	d := NewDownlink(qCD, qMU, qDown, vad.New(), ctrl, mixMode, ducking)
	return d, qCD, qMU, qDown, ctrl
}

func constFrame(value int16, n int) []int16 {
	frame := make([]int16, n)
	for i := range frame {
		frame[i] = value
	}
	return frame
}

func TestMixFramesAddsAndClips(t *testing.T) {
	tests := []struct {
		name string
		a, b int16
		want int16
	}{
		{"simple sum", 100, 200, 300},
		{"clip high", 30000, 30000, 32767},
		{"clip low", -30000, -30000, -32768},
		{"cancel", 5000, -5000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := mixFrames(constFrame(tt.a, 8), constFrame(tt.b, 8))
			for i, got := range out {
				if got != tt.want {
					t.Fatalf("out[%d] = %d, want %d", i, got, tt.want)
				}
			}
		})
	}
}

func TestMixFramesTruncatesToShorterInput(t *testing.T) {
	out := mixFrames(constFrame(1, 10), constFrame(2, 6))
	if len(out) != 6 {
		t.Fatalf("len(out) = %d, want 6", len(out))
	}
}

func TestDownlinkMixesPairedFrames(t *testing.T) {
	d, qCD, qMU, qDown, _ := newTestDownlink(true, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	qCD.Put(constFrame(100, 1024))
	qMU.Put(constFrame(200, 1024))

	mixed, err := qDown.Get(time.Second)
	if err != nil {
		t.Fatalf("no mixed frame: %v", err)
	}
	if len(mixed) != 1024 {
		t.Fatalf("len(mixed) = %d, want 1024", len(mixed))
	}
	for i, s := range mixed {
		if s != 300 {
			t.Fatalf("mixed[%d] = %d, want 300", i, s)
		}
	}
}

func TestDownlinkProducesNothingWithoutMusic(t *testing.T) {
	d, qCD, _, qDown, _ := newTestDownlink(true, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	qCD.Put(constFrame(100, 1024))

	// The room frame has no music partner; the mixer must drop it rather
	// than pad with silence.
	if _, err := qDown.Get(200 * time.Millisecond); err == nil {
		t.Fatal("got a downlink frame with no music input")
	}
}

func TestDownlinkMixModeOffPassesRoomAudioThrough(t *testing.T) {
	d, qCD, qMU, qDown, _ := newTestDownlink(false, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	qMU.Put(constFrame(9999, 1024))
	qCD.Put(constFrame(123, 1024))

	mixed, err := qDown.Get(time.Second)
	if err != nil {
		t.Fatalf("no downlink frame: %v", err)
	}
	for i, s := range mixed {
		if s != 123 {
			t.Fatalf("mixed[%d] = %d, want 123 (music must be ignored)", i, s)
		}
	}
}

func TestDownlinkDucksOnSpeechAndReleases(t *testing.T) {
	d, qCD, qMU, qDown, ctrl := newTestDownlink(true, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	// Enough loud frames to trip the activation threshold.
	loud := d.detector.ActivationFrames() + 5
	for i := 0; i < loud; i++ {
		qCD.Put(constFrame(2000, 1024))
		qMU.Put(constFrame(10, 1024))
	}
	drainUntil(t, qDown, loud)

	calls := ctrl.snapshot()
	if len(calls) == 0 || calls[0] != true {
		t.Fatalf("SetDucking calls after speech = %v, want leading true", calls)
	}

	// Enough silent frames to trip the release threshold.
	quiet := d.detector.ReleaseFrames() + 5
	for i := 0; i < quiet; i++ {
		qCD.Put(constFrame(0, 1024))
		qMU.Put(constFrame(10, 1024))
	}
	drainUntil(t, qDown, quiet)

	calls = ctrl.snapshot()
	if len(calls) != 2 || calls[1] != false {
		t.Fatalf("SetDucking calls after silence = %v, want [true false]", calls)
	}
}

func TestDownlinkSnapshotCountsFrames(t *testing.T) {
	d, qCD, qMU, qDown, _ := newTestDownlink(true, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	for i := 0; i < 3; i++ {
		qCD.Put(constFrame(1, 64))
		qMU.Put(constFrame(1, 64))
	}
	drainUntil(t, qDown, 3)

	if got := d.Snapshot().FramesMixed; got != 3 {
		t.Fatalf("FramesMixed = %d, want 3", got)
	}
}

// drainUntil reads n frames from q, failing the test on timeout.
func drainUntil(t *testing.T, q *queue.Queue[[]int16], n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := q.Get(time.Second); err != nil {
			t.Fatalf("frame %d/%d not produced: %v", i+1, n, err)
		}
	}
}
