// Package audio ties the device manager, the processing graph and the
// playback dispatcher together behind the Engine facade.
package audio

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/beak-audio/beak/internal/audio/decoder"
	"github.com/beak-audio/beak/internal/audio/device"
	"github.com/beak-audio/beak/internal/audio/graph"
	"github.com/beak-audio/beak/internal/audio/playback"
	"github.com/beak-audio/beak/internal/audio/source"
	"github.com/beak-audio/beak/internal/config"
	"github.com/beak-audio/beak/internal/logger"
)

// Event identifies engine notifications.
type Event int

const (
	EventConfigured Event = iota
	EventDeviceChanged
	EventSoundStarted
	EventError
)

func (e Event) String() string {
	switch e {
	case EventConfigured:
		return "configured"
	case EventDeviceChanged:
		return "device_changed"
	case EventSoundStarted:
		return "sound_started"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// EventListener is called synchronously from the goroutine raising the
// event and must not block.
type EventListener func(event Event, data interface{})

const errorQueue = 16

type Options struct {
	Backend       device.Backend
	Decoders      *decoder.DecoderFactory
	OpenTimeout   time.Duration
	WatchInterval time.Duration
	MaxTransients int
	ReapInterval  time.Duration
	RemovalQueue  int
}

// OptionsFromSettings fills Options from the configuration file.
func OptionsFromSettings(backend device.Backend, s *config.Config) Options {
	a, e := s.AudioSnapshot(), s.EngineSnapshot()
	return Options{
		Backend:       backend,
		OpenTimeout:   a.OpenTimeout,
		WatchInterval: e.WatchInterval,
		MaxTransients: e.MaxTransients,
		ReapInterval:  e.ReapInterval,
		RemovalQueue:  e.RemovalQueue,
	}
}

// Engine is the control surface of the audio core.
type Engine struct {
	state      *EngineState
	bridge     *Bridge
	dispatcher *playback.Dispatcher

	changes     chan struct{}
	errs        chan error
	unsubscribe func()
	log         *logger.LoggerContext

	listenerMu sync.RWMutex
	listeners  []EventListener

	closeOnce sync.Once
	closeErr  error
}

func New(opts Options) (*Engine, error) {
	if opts.Backend == nil {
		return nil, errors.New("audio backend is required")
	}

	g := graph.New()
	devices := device.NewManager(opts.Backend,
		device.WithOpenTimeout(opts.OpenTimeout),
		device.WithWatchInterval(opts.WatchInterval),
	)

	e := &Engine{
		state:   newEngineState(g, devices),
		changes: make(chan struct{}, 1),
		errs:    make(chan error, errorQueue),
		log:     logger.WithField("component", "engine"),
	}
	e.dispatcher = playback.NewDispatcher(g, playback.Options{
		MaxTransients: opts.MaxTransients,
		ReapInterval:  opts.ReapInterval,
		RemovalQueue:  opts.RemovalQueue,
		Decoders:      opts.Decoders,
		Horizon:       e.horizon,
	})
	e.bridge = NewBridge(g, e.dispatcher)
	devices.SetCallback(e.bridge.Process)
	e.unsubscribe = devices.OnDeviceChange(e.onDeviceChange)

	e.log.Info("Audio engine created", logger.String("backend", opts.Backend.Name()))
	return e, nil
}

// horizon is the oldest snapshot the callback may still render. With no
// running stream nothing renders, so every retired source can be closed.
func (e *Engine) horizon() uint64 {
	if !e.state.Devices.Active() {
		return math.MaxUint64
	}
	return e.bridge.LastEpoch()
}

// Configure opens the device described by cfg and rebuilds the graph to
// match it. Every playing sound is stopped. On a validation error the
// previous device and graph stay in place.
func (e *Engine) Configure(cfg Config) error {
	var (
		applied device.Setup
		dropped []*graph.Node
	)
	e.bridge.Reserve(cfg.Inputs())
	err := e.state.Graph.Edit(func(ed *graph.Editor) error {
		var err error
		applied, err = e.state.Devices.ApplyConfig(cfg.setup())
		if err != nil {
			return err
		}
		dropped, err = ed.Rebuild(graph.ChannelSpec{
			Inputs:     applied.Inputs,
			Outputs:    applied.Outputs,
			SampleRate: applied.SampleRate,
			BlockSize:  applied.BlockSize,
		})
		return err
	})
	if err != nil {
		e.log.Warn("Configuration failed",
			logger.String("config", cfg.String()),
			logger.Error(err),
		)
		return err
	}

	e.dispatcher.Reset(dropped)
	e.state.set(cfg, applied)

	e.log.Info("Engine configured",
		logger.String("device", applied.Device),
		logger.Int("inputs", applied.Inputs),
		logger.Int("outputs", applied.Outputs),
		logger.Int("sample_rate", applied.SampleRate),
		logger.Int("block_size", applied.BlockSize),
		logger.Int("stopped", len(dropped)),
	)
	e.notifyListeners(EventConfigured, cfg)
	return nil
}

// PlaySound decodes the file at path and plays it starting at output
// channel. It returns once the sound is scheduled.
func (e *Engine) PlaySound(path string, channel int) error {
	id, err := e.dispatcher.PlayFile(path, channel)
	if err != nil {
		return err
	}
	e.started(id)
	return nil
}

// PlaySource plays an already constructed source under a display name.
func (e *Engine) PlaySource(src source.Source, channel int, name string) error {
	id, err := e.dispatcher.PlaySource(src, channel, name)
	if err != nil {
		return err
	}
	e.started(id)
	return nil
}

func (e *Engine) started(id graph.NodeID) {
	if v, ok := e.dispatcher.Voice(id); ok {
		e.notifyListeners(EventSoundStarted, v.Name())
	}
}

// DeviceListChanged asks the engine to re-apply its last configuration.
// It never blocks; requests made while one is pending are coalesced.
func (e *Engine) DeviceListChanged() {
	select {
	case e.changes <- struct{}{}:
	default:
	}
}

func (e *Engine) onDeviceChange(ev device.DeviceEvent) {
	e.notifyListeners(EventDeviceChanged, ev)

	_, configured := e.state.Config()
	if ev.CurrentLost || (configured && !e.state.Devices.Active()) {
		e.DeviceListChanged()
	}
}

// Run drives the reaper, the device watcher and reconfiguration after
// device changes until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.dispatcher.Run(ctx) })
	g.Go(func() error { return e.state.Devices.Watch(ctx) })
	g.Go(func() error { return e.reconfigure(ctx) })
	return g.Wait()
}

func (e *Engine) reconfigure(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.changes:
			cfg, ok := e.state.Config()
			if !ok {
				continue
			}
			e.log.Info("Device list changed, reconfiguring", logger.String("config", cfg.String()))
			if err := e.Configure(cfg); err != nil {
				e.report(err)
			}
		}
	}
}

func (e *Engine) report(err error) {
	select {
	case e.errs <- err:
	default:
		e.log.Warn("Error queue full, dropping error", logger.Error(err))
	}
	e.notifyListeners(EventError, err)
}

// Errors delivers failures of reconfigurations triggered by device changes.
func (e *Engine) Errors() <-chan error { return e.errs }

// Config returns the last applied configuration.
func (e *Engine) Config() (Config, bool) { return e.state.Config() }

func (e *Engine) State() *EngineState              { return e.state }
func (e *Engine) Bridge() *Bridge                  { return e.bridge }
func (e *Engine) Dispatcher() *playback.Dispatcher { return e.dispatcher }

func (e *Engine) AddListener(listener EventListener) {
	e.listenerMu.Lock()
	defer e.listenerMu.Unlock()
	e.listeners = append(e.listeners, listener)
}

func (e *Engine) notifyListeners(event Event, data interface{}) {
	e.listenerMu.RLock()
	listeners := make([]EventListener, len(e.listeners))
	copy(listeners, e.listeners)
	e.listenerMu.RUnlock()

	for _, l := range listeners {
		l(event, data)
	}
}

// Close stops the device stream and releases every source.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.unsubscribe()
		e.closeErr = errors.Join(
			e.state.Devices.Close(),
			e.dispatcher.Close(),
		)
		e.log.Info("Audio engine closed",
			logger.Uint64("blocks", e.bridge.Blocks()),
			logger.Uint64("fallbacks", e.bridge.Fallbacks()),
		)
	})
	return e.closeErr
}
