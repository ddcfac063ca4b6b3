package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rustyguts/audiobridge/internal/config"
)

func TestDefault(t *testing.T) {
	cfg := config.Default()
	if cfg.ServerHost != "0.0.0.0" || cfg.ServerPort != 5000 {
		t.Errorf("unexpected server defaults: %+v", cfg)
	}
	if cfg.DuplexMode != config.DuplexFull {
		t.Errorf("expected full duplex by default, got %q", cfg.DuplexMode)
	}
	if !cfg.MPVDuckingEnabled {
		t.Error("expected mpv ducking enabled by default")
	}
	if cfg.BrowserDuckingEnabled {
		t.Error("expected browser ducking disabled by default")
	}
	if cfg.ClubdeckInputDeviceID != -1 || cfg.MPVInputDeviceID != -1 || cfg.BrowserOutputDeviceID != -1 {
		t.Error("expected unset device ids to default to -1")
	}
	if !cfg.CORSEnabled {
		t.Error("expected CORS enabled by default")
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.ini"))
	if err != nil {
		t.Fatalf("Load on missing file should not error, got %v", err)
	}
	if cfg.ServerPort != 5000 {
		t.Errorf("expected default port on missing file, got %d", cfg.ServerPort)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.ini")
	contents := `
[server]
host = 127.0.0.1
port = 6000

[audio]
duplex_mode = half
mix_mode = false

[VB Cable]
clubdeck_input_device_id = 3
mpv_input_device_id = 4
browser_output_device_id = 5

[VAD MPV]
mpv_ducking_enabled = false
normal_volume = 90
ducking_volume = 20
ducking_min_duration = 0.2
ducking_release_time = 0.8
ducking_transition_time = 0.15

[VAD Browser]
browser_ducking_enabled = true
ducking_threshold = 200.5
ducking_gain = 0.25

[mpv]
enabled = false
default_pipe = /tmp/custom-pipe

[cors]
enabled = false
allowed_origins = http://localhost:3000, http://example.com
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ServerHost != "127.0.0.1" || cfg.ServerPort != 6000 {
		t.Errorf("server: got %+v", cfg)
	}
	if cfg.DuplexMode != config.DuplexHalf {
		t.Errorf("duplex mode: got %q, want half", cfg.DuplexMode)
	}
	if cfg.MixMode {
		t.Error("mix mode should be false")
	}
	if cfg.ClubdeckInputDeviceID != 3 || cfg.MPVInputDeviceID != 4 || cfg.BrowserOutputDeviceID != 5 {
		t.Errorf("device ids: got %+v", cfg)
	}
	if cfg.MPVDuckingEnabled {
		t.Error("mpv ducking should be disabled")
	}
	if cfg.MPVNormalVolume != 90 || cfg.MPVDuckingVolume != 20 {
		t.Errorf("mpv volumes: got %+v", cfg)
	}
	if cfg.MPVDuckingMinDuration != 0.2 || cfg.MPVDuckingRelease != 0.8 || cfg.MPVDuckingTransition != 0.15 {
		t.Errorf("mpv ducking timing: got %+v", cfg)
	}
	if !cfg.BrowserDuckingEnabled || cfg.BrowserDuckingThresh != 200.5 || cfg.BrowserDuckingGain != 0.25 {
		t.Errorf("browser ducking: got %+v", cfg)
	}
	if cfg.MPVEnabled || cfg.MPVDefaultPipe != "/tmp/custom-pipe" {
		t.Errorf("mpv: got %+v", cfg)
	}
	if cfg.CORSEnabled {
		t.Error("cors should be disabled")
	}
	want := []string{"http://localhost:3000", "http://example.com"}
	if len(cfg.CORSAllowedOrigins) != len(want) {
		t.Fatalf("cors origins: got %v, want %v", cfg.CORSAllowedOrigins, want)
	}
	for i, o := range want {
		if cfg.CORSAllowedOrigins[i] != o {
			t.Errorf("cors origin[%d]: got %q, want %q", i, cfg.CORSAllowedOrigins[i], o)
		}
	}
}
