// Package fanout owns the websocket side of the bridge: one connection
// record per browser client, the downlink broadcast loop, microphone
// intake into the uplink ring, and the server-side ducking applied to the
// downlink while a browser client is speaking.
package fanout

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rustyguts/audiobridge/internal/audioio"
	"github.com/rustyguts/audiobridge/internal/dsp"
	"github.com/rustyguts/audiobridge/internal/protocol"
	"github.com/rustyguts/audiobridge/internal/queue"
	"github.com/rustyguts/audiobridge/internal/ringbuf"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	writeTimeout = 5 * time.Second
	getTimeout   = 50 * time.Millisecond

	// sendBuf bounds each client's outbound event channel; a client that
	// cannot drain ~1/3s of audio starts losing frames, not stalling the
	// broadcaster.
	sendBuf = 32

	maxMessageBytes = 1 << 20

	// duckStep is how far the downlink gain moves toward its target on
	// each broadcast frame.
	duckStep = 0.08

	// speakingDecayMax is how many broadcast frames (~300ms) a client
	// stays marked speaking after its last above-threshold mic frame.
	speakingDecayMax = 30
)

// conn is one connected browser client. The speaking/decay fields are
// guarded by the hub mutex; the dsp instances are touched only by this
// connection's reader goroutine.
type conn struct {
	id   string
	ws   *websocket.Conn
	send chan protocol.Event

	highpass *dsp.HighPass
	gate     *dsp.NoiseGate

	lastMic  time.Time
	speaking bool
	decay    int
}

// Config carries the hub's wiring and ducking policy.
type Config struct {
	Down        *queue.Queue[[]int16]
	BrowserRing *ringbuf.Ring

	DuplexMode string // "half" or "full"

	DuckingEnabled   bool
	DuckingThreshold float64 // peak amplitude above which a mic frame counts as speech
	DuckingGain      float64 // downlink gain target while a client speaks

	CORSEnabled    bool
	AllowedOrigins []string
}

// Hub fans mixed downlink frames out to every connected client and feeds
// inbound microphone frames into the uplink ring.
type Hub struct {
	cfg      Config
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*conn

	// currentDuck is owned by BroadcastLoop; nothing else touches it.
	currentDuck float64

	highpass *dsp.HighPass
	gate     *dsp.NoiseGate

	framesSent atomic.Uint64
	sendDrops  atomic.Uint64
}

// NewHub creates a hub with no connections.
func NewHub(cfg Config) *Hub {
	h := &Hub{
		cfg:         cfg,
		conns:       make(map[string]*conn),
		currentDuck: 1.0,
		highpass:    dsp.NewHighPass(audioio.CanonicalSampleRate),
		gate:        dsp.NewNoiseGate(),
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

// checkOrigin applies the configured origin allow-list to the upgrade
// request. Requests without an Origin header (non-browser clients, tests)
// are always allowed.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || !h.cfg.CORSEnabled {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// Register binds the websocket route on an Echo router.
func (h *Hub) Register(e *echo.Echo) {
	e.GET("/ws", h.HandleWebSocket)
}

// HandleWebSocket upgrades one request and serves it until disconnect.
func (h *Hub) HandleWebSocket(c echo.Context) error {
	remoteAddr := c.RealIP()
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error("ws upgrade failed", "remote", remoteAddr, "err", err)
		return nil
	}
	h.serveConn(ws, remoteAddr)
	return nil
}

func (h *Hub) serveConn(ws *websocket.Conn, remoteAddr string) {
	defer ws.Close()
	ws.SetReadLimit(maxMessageBytes)

	c := &conn{
		id:       uuid.NewString(),
		ws:       ws,
		send:     make(chan protocol.Event, sendBuf),
		highpass: dsp.NewHighPass(audioio.CanonicalSampleRate),
		gate:     dsp.NewNoiseGate(),
	}

	h.mu.Lock()
	h.conns[c.id] = c
	count := len(h.conns)
	h.mu.Unlock()
	slog.Info("client connected", "client_id", c.id, "remote", remoteAddr, "total", count)

	defer h.removeConn(c, remoteAddr)

	go func() {
		for ev := range c.send {
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteJSON(ev); err != nil {
				slog.Debug("ws write error", "client_id", c.id, "type", ev.Type, "err", err)
				// Closing the socket unblocks the reader, which tears the
				// connection down; other clients are unaffected.
				ws.Close()
				return
			}
		}
	}()

	trySend(c.send, protocol.Event{
		Type:       protocol.TypeConnected,
		ClientID:   c.id,
		DuplexMode: h.cfg.DuplexMode,
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("ws unexpected close", "client_id", c.id, "err", err)
			}
			return
		}
		var ev protocol.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			// Malformed JSON is a client bug, not a connection failure.
			slog.Debug("ws malformed event dropped", "client_id", c.id, "err", err)
			continue
		}
		h.handleInbound(c, ev)
	}
}

func (h *Hub) removeConn(c *conn, remoteAddr string) {
	h.mu.Lock()
	_, ok := h.conns[c.id]
	delete(h.conns, c.id)
	count := len(h.conns)
	h.mu.Unlock()
	if ok {
		close(c.send)
		slog.Info("client disconnected", "client_id", c.id, "remote", remoteAddr, "remaining", count)
	}
}

func (h *Hub) handleInbound(c *conn, ev protocol.Event) {
	switch ev.Type {
	case protocol.TypeGetConfig:
		trySend(c.send, protocol.Event{Type: protocol.TypeConfig, DuplexMode: h.cfg.DuplexMode})

	case protocol.TypeAudioData:
		h.handleAudioData(c, ev)

	case protocol.TypeJoinRoom, protocol.TypeLeaveRoom:
		// Routing hint only; the bridge serves a single room.
		slog.Debug("room hint ignored", "client_id", c.id, "type", ev.Type, "room", ev.Room)

	default:
		slog.Warn("ws unknown event type", "client_id", c.id, "type", ev.Type)
		trySend(c.send, protocol.Event{Type: protocol.TypeError, Error: "unsupported event type"})
	}
}

// handleAudioData decodes one microphone frame, cleans it up, updates the
// client's speaking state, and hands the samples to the uplink ring.
func (h *Hub) handleAudioData(c *conn, ev protocol.Event) {
	if h.cfg.DuplexMode != "full" {
		return
	}
	samples, err := protocol.DecodePCM(ev.Audio)
	if err != nil {
		slog.Debug("mic frame dropped", "client_id", c.id, "err", err)
		return
	}
	if len(samples) == 0 {
		return
	}

	c.highpass.Process(samples)
	c.gate.Process(samples)
	peak := peakAbs(samples)

	h.mu.Lock()
	c.lastMic = time.Now()
	if peak > h.cfg.DuckingThreshold {
		c.speaking = true
		c.decay = speakingDecayMax
	}
	h.mu.Unlock()

	h.cfg.BrowserRing.Write(samples)
}

// BroadcastLoop drains the downlink queue, applies the broadcast cleanup
// and server-side ducking, and fans each frame out to every client. Runs
// until ctx is cancelled.
func (h *Hub) BroadcastLoop(ctx context.Context) {
	for ctx.Err() == nil {
		frame, err := h.cfg.Down.Get(getTimeout)
		if err != nil {
			continue
		}

		h.highpass.Process(frame)
		h.gate.Process(frame)

		target := 1.0
		if h.cfg.DuckingEnabled && h.anySpeaking() {
			target = h.cfg.DuckingGain
		}
		h.currentDuck = stepToward(h.currentDuck, target, duckStep)
		if h.currentDuck < 0.999 {
			applyGain(frame, h.currentDuck)
		}

		ev := protocol.Event{
			Type:       protocol.TypeAudioFromClubdeck,
			Audio:      protocol.EncodePCM(frame),
			SampleRate: audioio.CanonicalSampleRate,
			Channels:   audioio.CanonicalChannels,
		}

		h.mu.Lock()
		targets := make([]chan protocol.Event, 0, len(h.conns))
		for _, c := range h.conns {
			targets = append(targets, c.send)
		}
		h.mu.Unlock()

		for _, ch := range targets {
			if !trySend(ch, ev) {
				h.sendDrops.Add(1)
			}
		}
		h.framesSent.Add(1)
	}
}

// anySpeaking reports whether any client is inside its speaking window,
// decrementing each client's decay counter by one broadcast frame.
func (h *Hub) anySpeaking() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	any := false
	for _, c := range h.conns {
		if !c.speaking {
			continue
		}
		if c.decay > 0 {
			c.decay--
			any = true
		} else {
			c.speaking = false
		}
	}
	return any
}

// PeerCount returns the number of connected clients.
func (h *Hub) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// DuckFactor returns the broadcaster's most recent downlink gain. Only
// meaningful as a diagnostic; BroadcastLoop owns the value.
func (h *Hub) DuckFactor() float64 {
	return h.currentDuck
}

// Stats returns cumulative broadcast counters.
func (h *Hub) Stats() (framesSent, sendDrops uint64) {
	return h.framesSent.Load(), h.sendDrops.Load()
}

// CloseAll force-closes every client socket, used at shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		c.ws.Close()
	}
}

// trySend enqueues ev without blocking. A full or already-closed channel
// drops the event: a slow client loses frames, never stalls the sender.
func trySend(ch chan protocol.Event, ev protocol.Event) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case ch <- ev:
		return true
	default:
		return false
	}
}

func stepToward(current, target, step float64) float64 {
	diff := target - current
	if diff > step {
		return current + step
	}
	if diff < -step {
		return current - step
	}
	return target
}

func applyGain(frame []int16, gain float64) {
	for i, s := range frame {
		frame[i] = int16(float64(s) * gain)
	}
}

func peakAbs(samples []int16) float64 {
	var peak int32
	for _, s := range samples {
		v := int32(s)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return float64(peak)
}
