// Package httpapi is the bridge's HTTP surface: health and status
// endpoints, the SDK metadata document browsers use to bootstrap, and the
// websocket upgrade route.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rustyguts/audiobridge/internal/audioio"
	"github.com/rustyguts/audiobridge/internal/fanout"
	"github.com/rustyguts/audiobridge/internal/mixer"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Server is the Echo application.
type Server struct {
	echo     *echo.Echo
	hub      *fanout.Hub
	downlink *mixer.Downlink
}

// Config carries the HTTP-facing settings the server needs.
type Config struct {
	CORSEnabled    bool
	AllowedOrigins []string
}

// New constructs an Echo app with the status + websocket routes.
func New(hub *fanout.Hub, downlink *mixer.Downlink, cfg Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger())

	// Origins are an allow-list: with CORS enabled and nothing configured,
	// no cross-origin caller is admitted, so the middleware is only
	// mounted when there is something to allow.
	if cfg.CORSEnabled && len(cfg.AllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.AllowedOrigins,
		}))
	}

	s := &Server{echo: e, hub: hub, downlink: downlink}
	s.registerRoutes()
	return s
}

// requestLogger returns Echo middleware that logs each HTTP request via slog.
func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			path := req.URL.Path

			// Skip noisy endpoints at debug level.
			if path == "/ws" || path == "/health" {
				slog.Debug("http request",
					"method", req.Method,
					"path", path,
					"status", c.Response().Status,
					"duration_ms", time.Since(start).Milliseconds(),
				)
			} else {
				slog.Info("http request",
					"method", req.Method,
					"path", path,
					"status", c.Response().Status,
					"duration_ms", time.Since(start).Milliseconds(),
					"remote", c.RealIP(),
				)
			}
			return nil
		}
	}
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/", s.handleIndex)
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/status", s.handleStatus)
	s.echo.GET("/sdk-info", s.handleSDKInfo)
	s.hub.Register(s.echo)
}

// Run starts Echo and blocks until ctx cancellation or startup failure.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutting down http server")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		slog.Info("http server stopped")
		return nil
	}
}

func (s *Server) handleIndex(c echo.Context) error {
	// The browser client is served by its own asset pipeline, not from
	// this binary.
	return echo.NewHTTPError(http.StatusNotFound, "browser client assets are not bundled with the bridge")
}

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "ok"})
}

type statusResponse struct {
	Status      string  `json:"status"`
	Peers       int     `json:"peers"`
	FramesMixed uint64  `json:"frames_mixed"`
	FramesSent  uint64  `json:"frames_sent"`
	SendDrops   uint64  `json:"send_drops"`
	ClubdeckRMS float64 `json:"clubdeck_rms"`
	MusicRMS    float64 `json:"music_rms"`
}

func (s *Server) handleStatus(c echo.Context) error {
	levels := s.downlink.Snapshot()
	framesSent, sendDrops := s.hub.Stats()
	return c.JSON(http.StatusOK, statusResponse{
		Status:      "running",
		Peers:       s.hub.PeerCount(),
		FramesMixed: levels.FramesMixed,
		FramesSent:  framesSent,
		SendDrops:   sendDrops,
		ClubdeckRMS: levels.ClubdeckRMS,
		MusicRMS:    levels.MusicRMS,
	})
}

type sdkAudioFormat struct {
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Encoding   string `json:"encoding"`
}

type sdkInfoResponse struct {
	ServerURL   string         `json:"server_url"`
	WSURL       string         `json:"ws_url"`
	AudioFormat sdkAudioFormat `json:"audio_format"`
	Features    []string       `json:"features"`
}

func (s *Server) handleSDKInfo(c echo.Context) error {
	scheme := c.Scheme()
	wsScheme := "ws"
	if scheme == "https" {
		wsScheme = "wss"
	}
	host := c.Request().Host
	return c.JSON(http.StatusOK, sdkInfoResponse{
		ServerURL: fmt.Sprintf("%s://%s", scheme, host),
		WSURL:     fmt.Sprintf("%s://%s/ws", wsScheme, host),
		AudioFormat: sdkAudioFormat{
			SampleRate: audioio.CanonicalSampleRate,
			Channels:   audioio.CanonicalChannels,
			Encoding:   "int16_base64",
		},
		Features: []string{"duplex", "music_ducking", "server_side_ducking"},
	})
}
