// Package bridge owns the lifecycle of every long-lived buffer, stream,
// and worker in the audio bridge: it opens the three cables, starts the
// mixer and broadcaster, runs the HTTP surface, and tears everything down
// in the reverse order on stop.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rustyguts/audiobridge/internal/audioio"
	"github.com/rustyguts/audiobridge/internal/config"
	"github.com/rustyguts/audiobridge/internal/fanout"
	"github.com/rustyguts/audiobridge/internal/httpapi"
	"github.com/rustyguts/audiobridge/internal/mixer"
	"github.com/rustyguts/audiobridge/internal/musicctl"
	"github.com/rustyguts/audiobridge/internal/queue"
	"github.com/rustyguts/audiobridge/internal/ringbuf"
	"github.com/rustyguts/audiobridge/internal/vad"
)

const (
	// ChunkFrames is the canonical per-callback frame count: 512 stereo
	// sample-frames, ~10.7ms at 48kHz.
	ChunkFrames = 512

	// QueueFrames bounds each hand-off queue at ~2s of audio.
	QueueFrames = 200

	// RingSamples sizes each ring buffer at 0.5s of canonical stereo.
	RingSamples = audioio.CanonicalSampleRate

	joinTimeout = 2 * time.Second
)

// Bridge wires the capture cables through the mixers to the websocket
// fan-out and back out the playback cable. Construct with New, then
// Start/Stop once each.
type Bridge struct {
	cfg config.Config

	qClubdeck *queue.Queue[[]int16]
	qMusic    *queue.Queue[[]int16]
	qDown     *queue.Queue[[]int16]

	ringBrowser *ringbuf.Ring
	ringMusic   *ringbuf.Ring

	music    musicctl.Controller
	downlink *mixer.Downlink
	uplink   *mixer.Uplink
	hub      *fanout.Hub
	httpSrv  *httpapi.Server

	captureClubdeck *audioio.CaptureHandle
	captureMusic    *audioio.CaptureHandle
	playback        *audioio.PlaybackHandle

	cancel        context.CancelFunc
	mixDone       chan struct{}
	broadcastDone chan struct{}
	httpErr       chan error
	fatal         chan error

	stopOnce sync.Once
}

// New assembles the bridge's buffers and workers from configuration.
// Nothing touches the audio devices until Start.
func New(cfg config.Config) *Bridge {
	qClubdeck := queue.New[[]int16](QueueFrames)
	qMusic := queue.New[[]int16](QueueFrames)
	qDown := queue.New[[]int16](QueueFrames)

	ringBrowser := ringbuf.New(RingSamples)
	ringMusic := ringbuf.New(RingSamples)

	var music musicctl.Controller = musicctl.Noop{}
	if cfg.MPVEnabled {
		music = musicctl.NewNamedPipe(
			cfg.MPVDefaultPipe,
			cfg.MPVNormalVolume,
			cfg.MPVDuckingVolume,
			time.Duration(cfg.MPVDuckingTransition*float64(time.Second)),
		)
	}

	detector := vad.NewWithParams(
		audioio.CanonicalSampleRate,
		ChunkFrames,
		vad.DefaultThresholdRMS,
		cfg.MPVDuckingMinDuration,
		cfg.MPVDuckingRelease,
	)

	downlink := mixer.NewDownlink(qClubdeck, qMusic, qDown, detector, music, cfg.MixMode, cfg.MPVDuckingEnabled)

	hub := fanout.NewHub(fanout.Config{
		Down:             qDown,
		BrowserRing:      ringBrowser,
		DuplexMode:       string(cfg.DuplexMode),
		DuckingEnabled:   cfg.BrowserDuckingEnabled,
		DuckingThreshold: cfg.BrowserDuckingThresh,
		DuckingGain:      cfg.BrowserDuckingGain,
		CORSEnabled:      cfg.CORSEnabled,
		AllowedOrigins:   cfg.CORSAllowedOrigins,
	})

	httpSrv := httpapi.New(hub, downlink, httpapi.Config{
		CORSEnabled:    cfg.CORSEnabled,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})

	return &Bridge{
		cfg:         cfg,
		qClubdeck:   qClubdeck,
		qMusic:      qMusic,
		qDown:       qDown,
		ringBrowser: ringBrowser,
		ringMusic:   ringMusic,
		music:       music,
		downlink:    downlink,
		hub:         hub,
		httpSrv:     httpSrv,
		httpErr:     make(chan error, 1),
		fatal:       make(chan error, 1),
	}
}

// Start resolves the three endpoints, opens their streams, and launches
// the worker goroutines. On any failure the streams opened so far are
// closed in reverse order and the error names the offending config
// option.
func (b *Bridge) Start(ctx context.Context) error {
	ctx, b.cancel = context.WithCancel(ctx)

	clubdeckEp, err := audioio.ResolveEndpoint(b.cfg.ClubdeckInputDeviceID, audioio.Capture)
	if err != nil {
		return fmt.Errorf("clubdeck_input_device_id: %w", err)
	}
	musicEp, err := audioio.ResolveEndpoint(b.cfg.MPVInputDeviceID, audioio.Capture)
	if err != nil {
		return fmt.Errorf("mpv_input_device_id: %w", err)
	}
	outEp, err := audioio.ResolveEndpoint(b.cfg.BrowserOutputDeviceID, audioio.Playback)
	if err != nil {
		return fmt.Errorf("browser_output_device_id: %w", err)
	}

	slog.Info("endpoints resolved",
		"clubdeck", clubdeckEp.Name,
		"music", musicEp.Name,
		"output", outEp.Name,
	)

	b.uplink = mixer.NewUplink(b.ringBrowser, b.ringMusic, outEp.NativeRate, outEp.NativeChans, b.cfg.MixMode)

	b.captureClubdeck, err = audioio.OpenCapture(clubdeckEp, ChunkFrames, b.onClubdeckFrame(clubdeckEp))
	if err != nil {
		return fmt.Errorf("clubdeck_input_device_id: %w", err)
	}
	b.captureMusic, err = audioio.OpenCapture(musicEp, ChunkFrames, b.onMusicFrame(musicEp))
	if err != nil {
		b.captureClubdeck.Close()
		return fmt.Errorf("mpv_input_device_id: %w", err)
	}
	b.playback, err = audioio.OpenPlayback(outEp, ChunkFrames, b.uplink.Fill)
	if err != nil {
		b.captureMusic.Close()
		b.captureClubdeck.Close()
		return fmt.Errorf("browser_output_device_id: %w", err)
	}

	// Idempotent initial volume so the player starts from a known level.
	b.music.SetDucking(false)

	b.mixDone = make(chan struct{})
	go func() {
		defer close(b.mixDone)
		b.downlink.Run(ctx)
	}()

	b.broadcastDone = make(chan struct{})
	go func() {
		defer close(b.broadcastDone)
		b.hub.BroadcastLoop(ctx)
	}()

	addr := fmt.Sprintf("%s:%d", b.cfg.ServerHost, b.cfg.ServerPort)
	go func() {
		b.httpErr <- b.httpSrv.Run(ctx, addr)
	}()
	slog.Info("bridge started", "addr", addr, "duplex", b.cfg.DuplexMode, "mix_mode", b.cfg.MixMode)

	go b.watchRuntime(ctx)
	return nil
}

// onClubdeckFrame returns the capture callback for the room cable: each
// native frame is converted to canonical form, copied out of the shared
// device buffer, and queued for the downlink mixer.
func (b *Bridge) onClubdeckFrame(ep audioio.Endpoint) func([]int16, int) {
	return func(samples []int16, frames int) {
		canonical := audioio.ToCanonical(samples[:frames*ep.NativeChans], ep.NativeRate, ep.NativeChans)
		frame := append([]int16(nil), canonical...)
		b.qClubdeck.Put(frame)
	}
}

// onMusicFrame feeds the music capture to both consumers: the downlink
// mixer's queue and the uplink's ring.
func (b *Bridge) onMusicFrame(ep audioio.Endpoint) func([]int16, int) {
	return func(samples []int16, frames int) {
		canonical := audioio.ToCanonical(samples[:frames*ep.NativeChans], ep.NativeRate, ep.NativeChans)
		b.ringMusic.Write(canonical)
		frame := append([]int16(nil), canonical...)
		b.qMusic.Put(frame)
	}
}

// watchRuntime forwards the first unrecoverable runtime failure (device
// removal, HTTP listener death) to Fatal.
func (b *Bridge) watchRuntime(ctx context.Context) {
	var err error
	select {
	case <-ctx.Done():
		return
	case err = <-b.captureClubdeck.Err():
	case err = <-b.captureMusic.Err():
	case err = <-b.playback.Err():
	case err = <-b.httpErr:
	}
	if err == nil {
		return
	}
	select {
	case b.fatal <- err:
	default:
	}
}

// Fatal delivers at most one unrecoverable runtime error. The caller is
// expected to Stop the bridge and exit non-zero.
func (b *Bridge) Fatal() <-chan error {
	return b.fatal
}

// Stop tears the bridge down: music volume restored first, workers
// joined with a timeout, playback closed before capture so no further
// pulls occur, then buffers cleared. Safe to call more than once.
func (b *Bridge) Stop() {
	b.stopOnce.Do(b.stop)
}

func (b *Bridge) stop() {
	if b.cancel != nil {
		b.cancel()
	}

	b.music.Stop()

	if b.mixDone != nil && !waitClosed(b.mixDone, joinTimeout) {
		slog.Warn("downlink mixer did not exit in time; abandoning")
	}
	if b.broadcastDone != nil && !waitClosed(b.broadcastDone, joinTimeout) {
		slog.Warn("broadcaster did not exit in time; abandoning")
	}

	if b.playback != nil {
		b.playback.Close()
	}
	if b.captureMusic != nil {
		b.captureMusic.Close()
	}
	if b.captureClubdeck != nil {
		b.captureClubdeck.Close()
	}

	b.qClubdeck.Clear()
	b.qMusic.Clear()
	b.qDown.Clear()
	b.ringBrowser.Reset()
	b.ringMusic.Reset()

	b.hub.CloseAll()
	slog.Info("bridge stopped")
}

func waitClosed(ch <-chan struct{}, d time.Duration) bool {
	select {
	case <-ch:
		return true
	case <-time.After(d):
		return false
	}
}
