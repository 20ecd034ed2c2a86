//go:build portaudio

package host

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/beak-audio/beak/internal/audio/device"
	"github.com/beak-audio/beak/internal/domain"
)

// probeRates are checked against each device to build its supported set.
var probeRates = []int{22050, 32000, 44100, 48000, 88200, 96000, 176400, 192000}

// PortAudio is a duplex backend on top of the PortAudio C library.
type PortAudio struct {
	mu     sync.Mutex
	closed bool
}

func NewPortAudio() (*PortAudio, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	return &PortAudio{}, nil
}

func (p *PortAudio) Name() string { return "portaudio" }

func (p *PortAudio) Devices() ([]device.Info, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	defaultOut, _ := portaudio.DefaultOutputDevice()

	infos := make([]device.Info, 0, len(devices))
	for _, d := range devices {
		infos = append(infos, device.Info{
			Name:              d.Name,
			MaxInputs:         d.MaxInputChannels,
			MaxOutputs:        d.MaxOutputChannels,
			SampleRates:       supportedRates(d),
			DefaultSampleRate: int(d.DefaultSampleRate),
			IsDefault:         defaultOut != nil && d.Name == defaultOut.Name,
		})
	}
	return infos, nil
}

func supportedRates(d *portaudio.DeviceInfo) []int {
	var rates []int
	for _, rate := range probeRates {
		params := parameters(d, 0, min(d.MaxOutputChannels, 2), rate, 0)
		if d.MaxOutputChannels == 0 {
			params = parameters(d, min(d.MaxInputChannels, 2), 0, rate, 0)
		}
		if portaudio.IsFormatSupported(params, func(in, out [][]float32) {}) == nil {
			rates = append(rates, rate)
		}
	}
	return rates
}

func parameters(d *portaudio.DeviceInfo, inputs, outputs, rate, block int) portaudio.StreamParameters {
	var in, out *portaudio.DeviceInfo
	if inputs > 0 {
		in = d
	}
	if outputs > 0 {
		out = d
	}
	params := portaudio.LowLatencyParameters(in, out)
	params.Input.Channels = inputs
	params.Output.Channels = outputs
	params.SampleRate = float64(rate)
	params.FramesPerBuffer = block
	return params
}

func (p *PortAudio) find(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.Name == name {
			return d, nil
		}
	}
	return nil, domain.Errorf(domain.ErrDeviceNotFound, "%q", name)
}

func (p *PortAudio) Open(dev device.Info, setup device.Setup, cb device.Callback) (device.Stream, device.Setup, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, device.Setup{}, errors.New("portaudio backend released")
	}

	d, err := p.find(dev.Name)
	if err != nil {
		return nil, device.Setup{}, err
	}

	params := parameters(d, setup.Inputs, setup.Outputs, setup.SampleRate, setup.BlockSize)
	stream, err := portaudio.OpenStream(params, func(in, out [][]float32) {
		cb(in, out)
	})
	if err != nil {
		return nil, device.Setup{}, classifyPortAudio(err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, device.Setup{}, classifyPortAudio(err)
	}

	applied := setup
	if info := stream.Info(); info != nil && info.SampleRate > 0 {
		applied.SampleRate = int(info.SampleRate)
	}
	return &paStream{stream: stream}, applied, nil
}

func classifyPortAudio(err error) error {
	switch {
	case errors.Is(err, portaudio.InvalidChannelCount):
		return domain.Wrap(domain.ErrUnsupportedChannelConfig, err, "portaudio")
	case errors.Is(err, portaudio.InvalidSampleRate):
		return domain.Wrap(domain.ErrUnsupportedSampleRate, err, "portaudio")
	case errors.Is(err, portaudio.InvalidDevice):
		return domain.Wrap(domain.ErrDeviceNotFound, err, "portaudio")
	case errors.Is(err, portaudio.DeviceUnavailable):
		return domain.Wrap(domain.ErrDeviceUnavailable, err, "portaudio")
	default:
		return err
	}
}

// Close terminates PortAudio. No stream may be opened afterwards.
func (p *PortAudio) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return portaudio.Terminate()
}

type paStream struct {
	once   sync.Once
	stream *portaudio.Stream
	err    error
}

func (s *paStream) Close() error {
	s.once.Do(func() {
		if err := s.stream.Stop(); err != nil {
			s.err = err
		}
		if err := s.stream.Close(); err != nil && s.err == nil {
			s.err = err
		}
	})
	return s.err
}
