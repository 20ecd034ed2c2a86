package device

import (
	"fmt"
	"sync"
	"time"
)

// Dummy is an in-process backend with no hardware behind it. Blocks are
// delivered only when the owner calls Tick on the open stream, which makes
// it suitable for tests and headless runs.
type Dummy struct {
	mu        sync.Mutex
	devices   []Info
	stream    *DummyStream
	openDelay time.Duration
	openErr   error
	opens     int
}

// DummyDevice is the device a Dummy lists when created without arguments.
var DummyDevice = Info{
	Name:              "Dummy Device",
	MaxInputs:         2,
	MaxOutputs:        8,
	SampleRates:       []int{22050, 44100, 48000, 96000},
	DefaultSampleRate: 44100,
	IsDefault:         true,
}

func NewDummy(devices ...Info) *Dummy {
	if len(devices) == 0 {
		devices = []Info{DummyDevice}
	}
	return &Dummy{devices: append([]Info(nil), devices...)}
}

func (d *Dummy) Name() string { return "dummy" }

func (d *Dummy) Devices() ([]Info, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Info(nil), d.devices...), nil
}

func (d *Dummy) Open(dev Info, setup Setup, cb Callback) (Stream, Setup, error) {
	d.mu.Lock()
	delay, openErr := d.openDelay, d.openErr
	d.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if openErr != nil {
		return nil, Setup{}, openErr
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.find(dev.Name); !ok {
		return nil, Setup{}, fmt.Errorf("dummy device %q vanished", dev.Name)
	}
	s := &DummyStream{
		setup: setup,
		cb:    cb,
		in:    buffers(setup.Inputs, setup.BlockSize),
		out:   buffers(setup.Outputs, setup.BlockSize),
	}
	d.stream = s
	d.opens++
	return s, setup, nil
}

func buffers(channels, frames int) [][]float32 {
	b := make([][]float32, channels)
	for ch := range b {
		b[ch] = make([]float32, frames)
	}
	return b
}

func (d *Dummy) find(name string) (int, bool) {
	for i, info := range d.devices {
		if info.Name == name {
			return i, true
		}
	}
	return -1, false
}

// Stream returns the most recently opened stream, or nil.
func (d *Dummy) Stream() *DummyStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream
}

// Opens counts successful Open calls.
func (d *Dummy) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Plug adds or replaces a device.
func (d *Dummy) Plug(info Info) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i, ok := d.find(info.Name); ok {
		d.devices[i] = info
		return
	}
	d.devices = append(d.devices, info)
}

// Unplug removes a device. An open stream on it stops delivering blocks.
func (d *Dummy) Unplug(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i, ok := d.find(name); ok {
		d.devices = append(d.devices[:i], d.devices[i+1:]...)
	}
	if d.stream != nil && d.stream.setup.Device == name {
		d.stream.disconnect()
	}
}

// SetOpenDelay makes subsequent opens sleep before completing.
func (d *Dummy) SetOpenDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openDelay = delay
}

// FailOpen makes subsequent opens return err. Pass nil to clear.
func (d *Dummy) FailOpen(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openErr = err
}

// DummyStream delivers blocks to the callback on demand.
type DummyStream struct {
	mu     sync.Mutex
	setup  Setup
	cb     Callback
	in     [][]float32
	out    [][]float32
	closed bool
	blocks int
}

func (s *DummyStream) Setup() Setup { return s.setup }

// SetInput fills input channel ch for the following ticks.
func (s *DummyStream) SetInput(ch int, samples []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch >= 0 && ch < len(s.in) {
		copy(s.in[ch], samples)
	}
}

// Tick runs n blocks through the callback and returns the output of the
// last one. A closed or disconnected stream returns nil.
func (s *DummyStream) Tick(n int) [][]float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	for i := 0; i < n; i++ {
		s.cb(s.in, s.out)
		s.blocks++
	}
	out := make([][]float32, len(s.out))
	for ch := range s.out {
		out[ch] = append([]float32(nil), s.out[ch]...)
	}
	return out
}

// Blocks counts the blocks delivered so far.
func (s *DummyStream) Blocks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocks
}

func (s *DummyStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *DummyStream) disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *DummyStream) Close() error {
	s.disconnect()
	return nil
}
