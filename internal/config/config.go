// Package config loads the bridge's INI configuration file: one Config
// struct, a Default, a Load, sourced from disk via gookit/ini/v2 across
// the [server]/[audio]/[VAD Browser]/[VAD MPV]/[VB Cable]/[mpv]/[cors]
// sections.
package config

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/gookit/ini/v2"
)

// DuplexMode selects whether the bridge relays browser mic audio back to
// Clubdeck.
type DuplexMode string

const (
	DuplexHalf DuplexMode = "half"
	DuplexFull DuplexMode = "full"
)

// Config holds every setting recognized from the INI file, defaults
// applied for anything absent.
type Config struct {
	ServerHost string
	ServerPort int

	DuplexMode DuplexMode
	MixMode    bool

	ClubdeckInputDeviceID int
	MPVInputDeviceID      int
	BrowserOutputDeviceID int

	MPVDuckingEnabled     bool
	MPVNormalVolume       int
	MPVDuckingVolume      int
	MPVDuckingMinDuration float64
	MPVDuckingRelease     float64
	MPVDuckingTransition  float64

	BrowserDuckingEnabled bool
	BrowserDuckingThresh  float64
	BrowserDuckingGain    float64

	MPVEnabled     bool
	MPVDefaultPipe string

	CORSEnabled        bool
	CORSAllowedOrigins []string
}

// Default returns a fully-populated Config. Device IDs default to -1
// (unset; the operator must supply real ids in the INI file or the
// bridge refuses to start).
func Default() Config {
	return Config{
		ServerHost: "0.0.0.0",
		ServerPort: 5000,

		DuplexMode: DuplexFull,
		MixMode:    true,

		ClubdeckInputDeviceID: -1,
		MPVInputDeviceID:      -1,
		BrowserOutputDeviceID: -1,

		MPVDuckingEnabled:     true,
		MPVNormalVolume:       100,
		MPVDuckingVolume:      15,
		MPVDuckingMinDuration: 0.1,
		MPVDuckingRelease:     0.5,
		MPVDuckingTransition:  0.1,

		BrowserDuckingEnabled: false,
		BrowserDuckingThresh:  150.0,
		BrowserDuckingGain:    0.15,

		MPVEnabled:     true,
		MPVDefaultPipe: defaultPipePath(),

		CORSEnabled:        true,
		CORSAllowedOrigins: nil,
	}
}

// defaultPipePath returns the platform-conventional mpv IPC pipe path.
func defaultPipePath() string {
	if runtime.GOOS == "windows" {
		return `\\.\pipe\mpvsocket`
	}
	return "/tmp/mpvsocket"
}

// Load reads path into a fresh ini.Ini instance and overlays it on
// Default(). A missing file is not an error: the defaults are returned
// as-is.
func Load(path string) (Config, error) {
	cfg := Default()

	i := ini.New()
	if err := i.LoadExists(path); err != nil {
		return cfg, fmt.Errorf("config: load %s: %w", path, err)
	}
	if len(i.Data()) == 0 {
		return cfg, nil
	}

	cfg.ServerHost = i.String("server.host", cfg.ServerHost)
	cfg.ServerPort = i.Int("server.port", cfg.ServerPort)

	if mode := i.String("audio.duplex_mode", string(cfg.DuplexMode)); mode == string(DuplexHalf) {
		cfg.DuplexMode = DuplexHalf
	} else {
		cfg.DuplexMode = DuplexFull
	}
	cfg.MixMode = i.Bool("audio.mix_mode", cfg.MixMode)

	cfg.ClubdeckInputDeviceID = i.Int("VB Cable.clubdeck_input_device_id", cfg.ClubdeckInputDeviceID)
	cfg.MPVInputDeviceID = i.Int("VB Cable.mpv_input_device_id", cfg.MPVInputDeviceID)
	cfg.BrowserOutputDeviceID = i.Int("VB Cable.browser_output_device_id", cfg.BrowserOutputDeviceID)

	cfg.MPVDuckingEnabled = i.Bool("VAD MPV.mpv_ducking_enabled", cfg.MPVDuckingEnabled)
	cfg.MPVNormalVolume = i.Int("VAD MPV.normal_volume", cfg.MPVNormalVolume)
	cfg.MPVDuckingVolume = i.Int("VAD MPV.ducking_volume", cfg.MPVDuckingVolume)
	cfg.MPVDuckingMinDuration = floatOr(i, "VAD MPV.ducking_min_duration", cfg.MPVDuckingMinDuration)
	cfg.MPVDuckingRelease = floatOr(i, "VAD MPV.ducking_release_time", cfg.MPVDuckingRelease)
	cfg.MPVDuckingTransition = floatOr(i, "VAD MPV.ducking_transition_time", cfg.MPVDuckingTransition)

	cfg.BrowserDuckingEnabled = i.Bool("VAD Browser.browser_ducking_enabled", cfg.BrowserDuckingEnabled)
	cfg.BrowserDuckingThresh = floatOr(i, "VAD Browser.ducking_threshold", cfg.BrowserDuckingThresh)
	cfg.BrowserDuckingGain = floatOr(i, "VAD Browser.ducking_gain", cfg.BrowserDuckingGain)

	cfg.MPVEnabled = i.Bool("mpv.enabled", cfg.MPVEnabled)
	cfg.MPVDefaultPipe = i.String("mpv.default_pipe", cfg.MPVDefaultPipe)

	cfg.CORSEnabled = i.Bool("cors.enabled", cfg.CORSEnabled)
	if origins := i.String("cors.allowed_origins", ""); origins != "" {
		cfg.CORSAllowedOrigins = splitTrimmed(origins, ",")
	}

	return cfg, nil
}

// floatOr reads a string value and parses it as a float, falling back to
// fallback on any parse failure. gookit/ini/v2 has no native Float
// getter.
func floatOr(i *ini.Ini, key string, fallback float64) float64 {
	raw := i.String(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

func splitTrimmed(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
