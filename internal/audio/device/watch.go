package device

import (
	"context"
	"sync"
	"time"

	"github.com/beak-audio/beak/internal/logger"
)

const (
	defaultWatchInterval = 500 * time.Millisecond
	maxWatchBackoff      = 4
)

// watchState tracks the last observed device list. Polling speeds back up
// to the base interval whenever a change is seen and slows down gradually
// while nothing changes.
type watchState struct {
	mu              sync.Mutex
	baseInterval    time.Duration
	currentInterval time.Duration
	noChangeCount   int
	known           map[string]Info
	current         string
	primed          bool
}

func newWatchState() watchState {
	return watchState{
		baseInterval:    defaultWatchInterval,
		currentInterval: defaultWatchInterval,
	}
}

func (w *watchState) setCurrent(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.current = name
}

func (w *watchState) interval() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentInterval < w.baseInterval {
		w.currentInterval = w.baseInterval
	}
	return w.currentInterval
}

// diff records infos as the new device list and returns what changed.
func (w *watchState) diff(infos []Info) DeviceEvent {
	w.mu.Lock()
	defer w.mu.Unlock()

	next := make(map[string]Info, len(infos))
	for _, info := range infos {
		next[info.Name] = info
	}

	var ev DeviceEvent
	if w.primed {
		for name, info := range next {
			if _, ok := w.known[name]; !ok {
				ev.Added = append(ev.Added, info)
			}
		}
		for name, info := range w.known {
			if _, ok := next[name]; !ok {
				ev.Removed = append(ev.Removed, info)
			}
		}
		if w.current != "" {
			now, present := next[w.current]
			before, was := w.known[w.current]
			ev.CurrentLost = was && (!present || (now.Busy && !before.Busy))
		}
	}
	w.known = next
	w.primed = true

	if ev.Empty() {
		w.noChangeCount++
		if w.noChangeCount >= 3 && w.currentInterval < w.baseInterval*maxWatchBackoff {
			w.currentInterval *= 2
			w.noChangeCount = 0
		}
	} else {
		w.currentInterval = w.baseInterval
		w.noChangeCount = 0
	}
	return ev
}

// Poll checks the device list once and notifies subscribers if it
// changed. The first poll only records the baseline.
func (m *Manager) Poll() (DeviceEvent, error) {
	infos, err := m.Devices()
	if err != nil {
		return DeviceEvent{}, err
	}
	ev := m.watch.diff(infos)
	if ev.Empty() {
		return ev, nil
	}

	if ev.CurrentLost {
		m.markLost()
	}
	m.log.Info("Device list changed",
		logger.Any("added", Names(ev.Added)),
		logger.Any("removed", Names(ev.Removed)),
		logger.Bool("current_lost", ev.CurrentLost),
	)
	m.notify(ev)
	return ev, nil
}

// Watch polls the backend until ctx is done. It never reconfigures the
// device itself; subscribers decide what to do with each event.
func (m *Manager) Watch(ctx context.Context) error {
	if _, err := m.Poll(); err != nil {
		m.log.Warn("Initial device poll failed", logger.Error(err))
	}

	timer := time.NewTimer(m.watch.interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			if _, err := m.Poll(); err != nil {
				m.log.Warn("Device poll failed", logger.Error(err))
			}
			timer.Reset(m.watch.interval())
		}
	}
}
