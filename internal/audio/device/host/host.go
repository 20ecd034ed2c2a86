// Package host provides the hardware backends for the device manager.
package host

import (
	"fmt"
	"io"
	"strings"

	"github.com/beak-audio/beak/internal/audio/device"
)

// Names lists the backend names accepted by New.
func Names() []string {
	return []string{"auto", "portaudio", "oto", "dummy"}
}

// New creates the backend called name. "auto" prefers PortAudio and falls
// back to oto. Hardware backends must be released with Release when no
// longer needed.
func New(name string) (device.Backend, error) {
	switch strings.ToLower(name) {
	case "auto", "":
		if pa, err := NewPortAudio(); err == nil {
			return pa, nil
		}
		return NewOto(), nil
	case "portaudio":
		pa, err := NewPortAudio()
		if err != nil {
			return nil, err
		}
		return pa, nil
	case "oto":
		return NewOto(), nil
	case "dummy":
		return device.NewDummy(), nil
	default:
		return nil, fmt.Errorf("unknown audio backend %q (available: %s)", name, strings.Join(Names(), ", "))
	}
}

// Release frees process-wide resources held by a backend, if any.
func Release(b device.Backend) error {
	if c, ok := b.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
