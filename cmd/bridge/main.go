package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gordonklaus/portaudio"

	"github.com/rustyguts/audiobridge/internal/audioio"
	"github.com/rustyguts/audiobridge/internal/bridge"
	"github.com/rustyguts/audiobridge/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "audiobridge.ini", "path to the INI configuration file")
	addr := flag.String("addr", "", "listen address override (host:port)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	listDevices := flag.Bool("list-devices", false, "print the audio device table and exit")
	flag.Parse()

	setupLogging(*logLevel)

	if err := portaudio.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "audiobridge: initialize audio host: %v\n", err)
		return 1
	}
	defer portaudio.Terminate()

	if *listDevices {
		return printDevices()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "audiobridge: %v\n", err)
		return 1
	}
	if *addr != "" {
		host, portStr, err := net.SplitHostPort(*addr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "audiobridge: -addr %q: %v\n", *addr, err)
			return 1
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "audiobridge: -addr %q: invalid port\n", *addr)
			return 1
		}
		cfg.ServerHost = host
		cfg.ServerPort = port
	}

	// All three cables must be configured; refuse to start before
	// touching any device otherwise.
	for _, dev := range []struct {
		option string
		id     int
	}{
		{"clubdeck_input_device_id", cfg.ClubdeckInputDeviceID},
		{"mpv_input_device_id", cfg.MPVInputDeviceID},
		{"browser_output_device_id", cfg.BrowserOutputDeviceID},
	} {
		if dev.id < 0 {
			fmt.Fprintf(os.Stderr, "audiobridge: [VB Cable] %s is not set (run with -list-devices to see ids)\n", dev.option)
			return 1
		}
	}

	b := bridge.New(cfg)
	if err := b.Start(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "audiobridge: %v\n", err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	// Signals after the first are delivered to the buffered channel and
	// never re-trigger shutdown.
	select {
	case sig := <-sigCh:
		slog.Info("signal received; shutting down", "signal", sig.String())
		b.Stop()
		return 0
	case err := <-b.Fatal():
		slog.Error("unrecoverable failure; shutting down", "err", err)
		b.Stop()
		return 1
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func printDevices() int {
	devices, err := audioio.Devices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "audiobridge: enumerate devices: %v\n", err)
		return 1
	}
	for id, dev := range devices {
		fmt.Printf("%3d  in:%d out:%d %6.0fHz  %s\n",
			id, dev.MaxInputChannels, dev.MaxOutputChannels, dev.DefaultSampleRate, dev.Name)
	}
	return 0
}
