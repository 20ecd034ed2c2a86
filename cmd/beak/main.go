package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/beak-audio/beak/internal/audio/device/host"
	"github.com/beak-audio/beak/internal/config"
	"github.com/beak-audio/beak/internal/logger"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// fileList collects repeated -play flags.
type fileList []string

func (f *fileList) String() string     { return strings.Join(*f, ",") }
func (f *fileList) Set(v string) error { *f = append(*f, v); return nil }

func main() {
	var files fileList
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
		version     = flag.Bool("version", false, "Show version information")
		backend     = flag.String("backend", "", "Audio backend ("+strings.Join(host.Names(), ", ")+")")
		deviceName  = flag.String("device", "", "Output device name (empty for the system default)")
		listDevices = flag.Bool("list-devices", false, "List audio devices and exit")
		channel     = flag.Int("channel", 0, "First output channel for played sounds")
		tone        = flag.Float64("tone", 0, "Play a sine tone of this frequency in Hz")
		toneLength  = flag.Duration("tone-length", time.Second, "Length of the -tone sound")
		stay        = flag.Bool("stay", false, "Keep running after all sounds finished, following config changes")
	)
	flag.Var(&files, "play", "Sound file to play (repeatable)")
	flag.Parse()

	if *version {
		fmt.Printf("beak %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "beak: %v\n", err)
		os.Exit(1)
	}
	if *backend != "" {
		cfg.Set("audio.backend", *backend)
	}
	if *deviceName != "" {
		cfg.Set("audio.device", *deviceName)
	}

	logConfig := cfg.Log
	if *logLevel != "" {
		logConfig.Level = *logLevel
	}
	logger.Initialize(logConfig)
	defer logger.Get().Close()

	logger.Info("beak starting",
		logger.String("version", Version),
		logger.String("build_time", BuildTime),
		logger.String("config", cfg.File()),
	)

	app, err := NewApp(cfg)
	if err != nil {
		logger.Fatal("Failed to create audio engine", logger.Error(err))
	}
	defer app.shutdown()

	if *listDevices {
		if err := app.listDevices(os.Stdout); err != nil {
			logger.Fatal("Failed to list devices", logger.Error(err))
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.startup(ctx); err != nil {
		logger.Fatal("Failed to configure audio device", logger.Error(err))
	}

	for _, path := range files {
		if err := app.engine.PlaySound(path, *channel); err != nil {
			logger.ErrorLog("Failed to play sound", logger.String("path", path), logger.Error(err))
		}
	}
	if *tone > 0 {
		if err := app.playTone(*tone, *toneLength, *channel); err != nil {
			logger.ErrorLog("Failed to play tone", logger.Error(err))
		}
	}

	if *stay {
		cfg.Watch(app.reconfigure)
		<-ctx.Done()
		return
	}
	app.waitIdle(ctx)
}
