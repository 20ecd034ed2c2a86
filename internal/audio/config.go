package audio

import (
	"fmt"

	"github.com/beak-audio/beak/internal/audio/device"
	"github.com/beak-audio/beak/internal/config"
)

const (
	DefaultDeviceName = device.DefaultDevice
	DefaultInputs     = 2
	DefaultOutputs    = 2
	DefaultSampleRate = 44100
	DefaultBlockSize  = 512
)

// Config describes the device configuration the engine should run with.
// It is a value: every With method returns a modified copy.
type Config struct {
	deviceName string
	inputs     int
	outputs    int
	sampleRate int
	blockSize  int
}

func NewConfig() Config {
	return Config{
		deviceName: DefaultDeviceName,
		inputs:     DefaultInputs,
		outputs:    DefaultOutputs,
		sampleRate: DefaultSampleRate,
		blockSize:  DefaultBlockSize,
	}
}

// ConfigFromSettings builds a Config from the audio section of the
// configuration file.
func ConfigFromSettings(s config.AudioConfig) Config {
	return NewConfig().
		WithDeviceName(s.Device).
		WithInputs(s.Inputs).
		WithOutputs(s.Outputs).
		WithSampleRate(s.SampleRate).
		WithBlockSize(s.BlockSize)
}

// WithDeviceName selects a device by name. An empty name selects the
// system default device.
func (c Config) WithDeviceName(name string) Config {
	if name == "" {
		name = DefaultDeviceName
	}
	c.deviceName = name
	return c
}

func (c Config) WithInputs(n int) Config {
	c.inputs = n
	return c
}

func (c Config) WithOutputs(n int) Config {
	c.outputs = n
	return c
}

// WithSampleRate sets the sample rate in Hz; 0 selects DefaultSampleRate.
func (c Config) WithSampleRate(rate int) Config {
	if rate == 0 {
		rate = DefaultSampleRate
	}
	c.sampleRate = rate
	return c
}

// WithBlockSize sets the frames per block; 0 selects DefaultBlockSize.
func (c Config) WithBlockSize(frames int) Config {
	if frames == 0 {
		frames = DefaultBlockSize
	}
	c.blockSize = frames
	return c
}

func (c Config) DeviceName() string { return c.deviceName }
func (c Config) Inputs() int        { return c.inputs }
func (c Config) Outputs() int       { return c.outputs }
func (c Config) SampleRate() int    { return c.sampleRate }
func (c Config) BlockSize() int     { return c.blockSize }

func (c Config) String() string {
	return fmt.Sprintf("%s %din/%dout %dHz/%d", c.deviceName, c.inputs, c.outputs, c.sampleRate, c.blockSize)
}

func (c Config) setup() device.Setup {
	return device.Setup{
		Device:     c.deviceName,
		Inputs:     c.inputs,
		Outputs:    c.outputs,
		SampleRate: c.sampleRate,
		BlockSize:  c.blockSize,
	}
}
