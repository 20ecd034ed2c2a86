//go:build !portaudio

package host

import (
	"fmt"

	"github.com/beak-audio/beak/internal/audio/device"
)

// PortAudio is a placeholder used when the binary is built without the
// portaudio tag.
type PortAudio struct{}

var errNoPortAudio = fmt.Errorf("PortAudio support not enabled (build with -tags portaudio)")

func NewPortAudio() (*PortAudio, error) {
	return nil, errNoPortAudio
}

func (p *PortAudio) Name() string { return "portaudio" }

func (p *PortAudio) Devices() ([]device.Info, error) {
	return nil, errNoPortAudio
}

func (p *PortAudio) Open(device.Info, device.Setup, device.Callback) (device.Stream, device.Setup, error) {
	return nil, device.Setup{}, errNoPortAudio
}

func (p *PortAudio) Close() error { return nil }
