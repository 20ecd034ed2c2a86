package audio

import (
	"sync"

	"github.com/beak-audio/beak/internal/audio/device"
	"github.com/beak-audio/beak/internal/audio/graph"
)

// EngineState is the live engine state shared by the dispatcher, the
// bridge and the control API. The graph and the device manager guard
// themselves; the fields below are guarded by mu.
type EngineState struct {
	Graph   *graph.Graph
	Devices *device.Manager

	mu         sync.RWMutex
	config     Config
	applied    device.Setup
	configured bool
}

func newEngineState(g *graph.Graph, m *device.Manager) *EngineState {
	return &EngineState{Graph: g, Devices: m}
}

// Config returns the last successfully applied configuration.
func (s *EngineState) Config() (Config, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config, s.configured
}

// Applied returns the device setup the last configuration resolved to.
func (s *EngineState) Applied() device.Setup {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.applied
}

func (s *EngineState) set(cfg Config, applied device.Setup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = cfg
	s.applied = applied
	s.configured = true
}
