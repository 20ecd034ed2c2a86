package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/beak-audio/beak/internal/audio"
	"github.com/beak-audio/beak/internal/audio/device"
	"github.com/beak-audio/beak/internal/audio/device/host"
	"github.com/beak-audio/beak/internal/audio/source"
	"github.com/beak-audio/beak/internal/config"
	"github.com/beak-audio/beak/internal/logger"
)

// App wires the engine to the configuration and the command line.
type App struct {
	config  *config.Config
	backend device.Backend
	engine  *audio.Engine
	done    chan struct{}
}

func NewApp(cfg *config.Config) (*App, error) {
	backend, err := host.New(cfg.AudioSnapshot().Backend)
	if err != nil {
		return nil, err
	}
	engine, err := audio.New(audio.OptionsFromSettings(backend, cfg))
	if err != nil {
		_ = host.Release(backend)
		return nil, err
	}
	return &App{config: cfg, backend: backend, engine: engine, done: make(chan struct{})}, nil
}

// startup configures the device and starts the engine's background work.
func (a *App) startup(ctx context.Context) error {
	a.engine.AddListener(a.handleEngineEvent)

	if err := a.engine.Configure(audio.ConfigFromSettings(a.config.AudioSnapshot())); err != nil {
		return err
	}

	go func() {
		defer close(a.done)
		if err := a.engine.Run(ctx); err != nil {
			logger.ErrorLog("Audio engine stopped", logger.Error(err))
		}
	}()
	return nil
}

func (a *App) shutdown() {
	if err := a.engine.Close(); err != nil {
		logger.Warn("Failed to close audio engine", logger.Error(err))
	}
	if err := host.Release(a.backend); err != nil {
		logger.Warn("Failed to release audio backend", logger.Error(err))
	}
}

func (a *App) handleEngineEvent(event audio.Event, data interface{}) {
	switch event {
	case audio.EventDeviceChanged:
		if ev, ok := data.(device.DeviceEvent); ok {
			logger.Info("Audio devices changed",
				logger.Any("added", device.Names(ev.Added)),
				logger.Any("removed", device.Names(ev.Removed)),
			)
		}
	case audio.EventError:
		if err, ok := data.(error); ok {
			logger.Warn("Audio engine error", logger.Error(err))
		}
	case audio.EventSoundStarted:
		logger.Debug("Sound started", logger.Any("name", data))
	}
}

// reconfigure applies an edited audio section of the configuration file.
func (a *App) reconfigure(s config.AudioConfig) {
	if err := a.engine.Configure(audio.ConfigFromSettings(s)); err != nil {
		logger.ErrorLog("Failed to apply new audio configuration", logger.Error(err))
	}
}

func (a *App) playTone(frequency float64, length time.Duration, channel int) error {
	rate := a.engine.State().Applied().SampleRate
	name := fmt.Sprintf("%.0f Hz tone", frequency)
	return a.engine.PlaySource(source.NewTone(frequency, length, rate, 1), channel, name)
}

func (a *App) listDevices(w io.Writer) error {
	infos, err := a.engine.State().Devices.Devices()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tIN\tOUT\tDEFAULT RATE\tDEFAULT")
	for _, info := range infos {
		def := ""
		if info.IsDefault {
			def = "*"
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", info.Name, info.MaxInputs, info.MaxOutputs, info.DefaultSampleRate, def)
	}
	return tw.Flush()
}

// waitIdle returns once every sound has finished or ctx is done.
func (a *App) waitIdle(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.done:
			return
		case <-ticker.C:
			if a.engine.Dispatcher().Active() == 0 {
				return
			}
		}
	}
}
