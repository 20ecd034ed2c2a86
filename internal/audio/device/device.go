// Package device owns the physical audio device: it resolves and opens
// devices through a Backend, holds the single live setup, and reports
// device-list changes to subscribers.
package device

import (
	"fmt"
	"sort"
)

// DefaultDevice selects the backend's default output device.
const DefaultDevice = "default"

// Info describes a device as reported by a backend.
type Info struct {
	Name       string
	MaxInputs  int
	MaxOutputs int
	// SampleRates lists the supported rates. Empty means the backend will
	// try any rate at open time.
	SampleRates       []int
	DefaultSampleRate int
	IsDefault         bool
	// Busy marks a device that is listed but cannot be opened, for example
	// because it is disconnected or held exclusively by another process.
	Busy bool
}

func (i Info) String() string {
	return fmt.Sprintf("%s (in %d, out %d)", i.Name, i.MaxInputs, i.MaxOutputs)
}

// SupportsRate reports whether rate is in the device's supported set.
func (i Info) SupportsRate(rate int) bool {
	if len(i.SampleRates) == 0 {
		return true
	}
	for _, r := range i.SampleRates {
		if r == rate {
			return true
		}
	}
	return false
}

// Setup is a requested or applied device configuration.
type Setup struct {
	Device     string
	Inputs     int
	Outputs    int
	SampleRate int
	BlockSize  int
}

func (s Setup) String() string {
	return fmt.Sprintf("%q %din/%dout %dHz block %d", s.Device, s.Inputs, s.Outputs, s.SampleRate, s.BlockSize)
}

// Callback receives one block of non-interleaved input and fills the
// output. It runs on the backend's real-time thread.
type Callback func(in, out [][]float32)

// Stream is an open device stream.
type Stream interface {
	Close() error
}

// Backend is the hardware abstraction. Open starts a stream that invokes cb
// once per block and returns the setup actually applied (the block size
// in particular may differ from the request).
type Backend interface {
	Name() string
	Devices() ([]Info, error)
	Open(dev Info, setup Setup, cb Callback) (Stream, Setup, error)
}

// DeviceEvent describes a change in the device list.
type DeviceEvent struct {
	Added   []Info
	Removed []Info
	// CurrentLost is set when the device the manager has open disappeared
	// or became busy.
	CurrentLost bool
}

func (e DeviceEvent) Empty() bool {
	return len(e.Added) == 0 && len(e.Removed) == 0 && !e.CurrentLost
}

// Names returns the device names in ascending order.
func Names(infos []Info) []string {
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	sort.Strings(names)
	return names
}
