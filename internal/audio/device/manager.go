package device

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/beak-audio/beak/internal/domain"
	"github.com/beak-audio/beak/internal/logger"
)

// DefaultOpenTimeout bounds how long ApplyConfig waits for a backend to
// open a stream.
const DefaultOpenTimeout = 5 * time.Second

// Manager is the single owner of the open device stream.
type Manager struct {
	backend     Backend
	openTimeout time.Duration
	log         *logger.LoggerContext

	mu       sync.RWMutex
	stream   Stream
	current  Setup
	device   Info
	active   bool
	callback Callback

	hmu      sync.Mutex
	handlers map[int]func(DeviceEvent)
	nextSub  int

	watch watchState
}

type Option func(*Manager)

func WithOpenTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.openTimeout = d
		}
	}
}

func WithWatchInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.watch.baseInterval = d
		}
	}
}

func NewManager(backend Backend, opts ...Option) *Manager {
	m := &Manager{
		backend:     backend,
		openTimeout: DefaultOpenTimeout,
		log:         logger.WithField("component", "device"),
		handlers:    make(map[int]func(DeviceEvent)),
		watch:       newWatchState(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Backend() Backend { return m.backend }

// SetCallback installs the block callback used by streams opened after
// this call.
func (m *Manager) SetCallback(cb Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callback = cb
}

// Devices lists the backend's devices.
func (m *Manager) Devices() ([]Info, error) {
	infos, err := m.backend.Devices()
	if err != nil {
		return nil, domain.Wrap(domain.ErrDeviceUnavailable, err, "enumerating devices")
	}
	return infos, nil
}

// ApplyConfig resolves and validates the requested device, closes the
// current stream and opens a new one. It returns the applied setup. On a
// validation failure the current stream is left running; once the old
// stream has been closed a failed open leaves no stream at all.
func (m *Manager) ApplyConfig(req Setup) (Setup, error) {
	infos, err := m.Devices()
	if err != nil {
		return Setup{}, err
	}
	info, err := resolve(infos, req.Device)
	if err != nil {
		return Setup{}, err
	}
	if err := validate(info, req); err != nil {
		return Setup{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream != nil {
		if err := m.stream.Close(); err != nil {
			m.log.Warn("Failed to close previous stream", logger.Error(err))
		}
		m.stream = nil
		m.active = false
	}

	req.Device = info.Name
	cb := m.callback
	if cb == nil {
		cb = silence
	}

	stream, applied, err := m.open(info, req, cb)
	if err != nil {
		m.current = Setup{}
		m.device = Info{}
		m.watch.setCurrent("")
		return Setup{}, err
	}
	if applied.BlockSize <= 0 {
		applied.BlockSize = req.BlockSize
	}
	if applied.SampleRate <= 0 {
		applied.SampleRate = req.SampleRate
	}
	applied.Device = info.Name

	m.stream = stream
	m.current = applied
	m.device = info
	m.active = true
	m.watch.setCurrent(info.Name)

	m.log.Info("Device opened",
		logger.String("backend", m.backend.Name()),
		logger.String("device", info.Name),
		logger.Int("inputs", applied.Inputs),
		logger.Int("outputs", applied.Outputs),
		logger.Int("sample_rate", applied.SampleRate),
		logger.Int("block_size", applied.BlockSize),
	)
	return applied, nil
}

type openResult struct {
	stream  Stream
	applied Setup
	err     error
}

func (m *Manager) open(info Info, req Setup, cb Callback) (Stream, Setup, error) {
	done := make(chan openResult)
	abandoned := make(chan struct{})
	go func() {
		s, applied, err := m.backend.Open(info, req, cb)
		select {
		case done <- openResult{s, applied, err}:
		case <-abandoned:
			if s != nil {
				_ = s.Close()
			}
		}
	}()

	timer := time.NewTimer(m.openTimeout)
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, Setup{}, classify(r.err, req)
		}
		return r.stream, r.applied, nil
	case <-timer.C:
		close(abandoned)
		// The open may have completed between the timer firing and close.
		select {
		case r := <-done:
			if r.stream != nil {
				_ = r.stream.Close()
			}
		default:
		}
		return nil, Setup{}, domain.Errorf(domain.ErrDeviceUnavailable,
			"opening %q timed out after %s", info.Name, m.openTimeout)
	}
}

// classify keeps kinds the backend already assigned and treats anything
// else as the device being unusable.
func classify(err error, req Setup) error {
	var ee *domain.EngineError
	if errors.As(err, &ee) {
		return err
	}
	return domain.Wrap(domain.ErrDeviceUnavailable, err, fmt.Sprintf("opening %s", req))
}

func silence(_, out [][]float32) {
	for _, ch := range out {
		clear(ch)
	}
}

func resolve(infos []Info, name string) (Info, error) {
	if name == "" || name == DefaultDevice {
		for _, info := range infos {
			if info.IsDefault {
				return info, nil
			}
		}
		for _, info := range infos {
			if info.MaxOutputs > 0 {
				return info, nil
			}
		}
		return Info{}, domain.NewError(domain.ErrDeviceNotFound, "no default device")
	}
	for _, info := range infos {
		if info.Name == name {
			return info, nil
		}
	}
	return Info{}, domain.Errorf(domain.ErrDeviceNotFound, "%q", name)
}

func validate(info Info, req Setup) error {
	if info.Busy {
		return domain.Errorf(domain.ErrDeviceUnavailable, "%q is disconnected or in use", info.Name)
	}
	if req.Inputs < 0 || req.Outputs < 0 || req.Inputs > info.MaxInputs || req.Outputs > info.MaxOutputs {
		return domain.Errorf(domain.ErrUnsupportedChannelConfig,
			"%d in/%d out requested, %q supports %d/%d", req.Inputs, req.Outputs, info.Name, info.MaxInputs, info.MaxOutputs)
	}
	if req.Inputs == 0 && req.Outputs == 0 {
		return domain.NewError(domain.ErrUnsupportedChannelConfig, "no channels requested")
	}
	if req.SampleRate <= 0 || !info.SupportsRate(req.SampleRate) {
		return domain.Errorf(domain.ErrUnsupportedSampleRate, "%d Hz on %q", req.SampleRate, info.Name)
	}
	return nil
}

// Current returns the applied setup and whether a stream is open.
func (m *Manager) Current() (Setup, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current, m.stream != nil
}

func (m *Manager) CurrentDevice() Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.device
}

func (m *Manager) SampleRate() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.SampleRate
}

func (m *Manager) BlockSize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.BlockSize
}

// Active reports whether the open stream is expected to be delivering
// callbacks. It turns false when the stream is closed or its device is lost.
func (m *Manager) Active() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

func (m *Manager) markLost() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = false
}

// OnDeviceChange subscribes handler to device-list changes. Handlers run
// synchronously on the watcher goroutine and must not block.
func (m *Manager) OnDeviceChange(handler func(DeviceEvent)) (unsubscribe func()) {
	m.hmu.Lock()
	defer m.hmu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.handlers[id] = handler
	return func() {
		m.hmu.Lock()
		defer m.hmu.Unlock()
		delete(m.handlers, id)
	}
}

func (m *Manager) notify(ev DeviceEvent) {
	m.hmu.Lock()
	handlers := make([]func(DeviceEvent), 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.hmu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Close closes the open stream, if any.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = false
	if m.stream == nil {
		return nil
	}
	err := m.stream.Close()
	m.stream = nil
	return err
}
