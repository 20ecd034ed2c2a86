package playback

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/beak-audio/beak/internal/audio/decoder"
	"github.com/beak-audio/beak/internal/audio/graph"
	"github.com/beak-audio/beak/internal/audio/source"
	"github.com/beak-audio/beak/internal/domain"
	"github.com/beak-audio/beak/internal/logger"
)

const (
	DefaultMaxTransients = 64
	DefaultReapInterval  = 50 * time.Millisecond
	DefaultRemovalQueue  = 256

	// setupAttempts bounds retries when a configure lands between source
	// preparation and graph insertion.
	setupAttempts = 3
)

var errSpecChanged = errors.New("graph configuration changed")

// Options configure a Dispatcher. Zero values select the defaults.
type Options struct {
	MaxTransients int
	ReapInterval  time.Duration
	RemovalQueue  int
	Decoders      *decoder.DecoderFactory

	// Horizon returns the oldest snapshot epoch the audio callback may
	// still be rendering. Sources of reaped voices are closed once the
	// horizon passes the epoch that removed them. Nil closes them at once.
	Horizon func() uint64
}

type retired struct {
	voice *Voice
	epoch uint64
}

// Dispatcher owns the transient voices in a graph.
type Dispatcher struct {
	graph    *graph.Graph
	decoders *decoder.DecoderFactory
	max      int
	interval time.Duration
	horizon  func() uint64
	removals chan graph.NodeID
	log      *logger.LoggerContext

	mu      sync.Mutex
	voices  map[graph.NodeID]*Voice
	retired []retired
}

func NewDispatcher(g *graph.Graph, opts Options) *Dispatcher {
	if opts.MaxTransients <= 0 {
		opts.MaxTransients = DefaultMaxTransients
	}
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = DefaultReapInterval
	}
	if opts.RemovalQueue <= 0 {
		opts.RemovalQueue = DefaultRemovalQueue
	}
	if opts.Decoders == nil {
		opts.Decoders = decoder.GetDecoderFactory()
	}
	if opts.Horizon == nil {
		opts.Horizon = func() uint64 { return math.MaxUint64 }
	}
	return &Dispatcher{
		graph:    g,
		decoders: opts.Decoders,
		max:      opts.MaxTransients,
		interval: opts.ReapInterval,
		horizon:  opts.Horizon,
		removals: make(chan graph.NodeID, opts.RemovalQueue),
		log:      logger.WithField("component", "playback"),
		voices:   make(map[graph.NodeID]*Voice),
	}
}

// PlayFile decodes path into memory and plays it from outputChannel.
func (d *Dispatcher) PlayFile(path string, outputChannel int) (graph.NodeID, error) {
	if err := d.checkChannel(outputChannel); err != nil {
		return graph.InvalidNode, err
	}

	clip, meta, err := d.decoders.DecodeFile(path)
	if err != nil {
		return graph.InvalidNode, domain.Wrap(domain.ErrDecode, err, path)
	}
	return d.PlaySource(clip, outputChannel, meta.DisplayName(path))
}

// PlaySource schedules src on outputChannel and returns the node hosting
// it. Playback starts with the next audio block. On error src is left open.
func (d *Dispatcher) PlaySource(src source.Source, outputChannel int, name string) (graph.NodeID, error) {
	if src == nil || src.Channels() <= 0 {
		return graph.InvalidNode, domain.NewError(domain.ErrDecode, "source has no channels")
	}
	if name == "" {
		name = "untitled"
	}

	// base is src, or its decoded copy once a resample had to drain it.
	base := src
	for attempt := 0; attempt < setupAttempts; attempt++ {
		spec, ok := d.graph.Spec()
		if !ok {
			return graph.InvalidNode, domain.NewError(domain.ErrNotConfigured, "no device configured")
		}
		if err := validChannel(outputChannel, spec); err != nil {
			return graph.InvalidNode, err
		}

		prepared, drained, err := conform(base, spec.SampleRate)
		if err != nil {
			return graph.InvalidNode, err
		}
		if drained != nil {
			base = drained
		}

		v := newVoice(prepared, name, outputChannel)
		err = d.graph.Edit(func(ed *graph.Editor) error {
			return d.insert(ed, v, spec)
		})
		if errors.Is(err, errSpecChanged) {
			continue
		}
		if err != nil {
			return graph.InvalidNode, err
		}

		if prepared != src {
			if err := src.Close(); err != nil {
				d.log.Warn("Failed to close source",
					logger.String("name", name),
					logger.Error(err),
				)
			}
		}
		d.log.Info("Voice started",
			logger.String("voice", v.id.String()),
			logger.String("name", name),
			logger.Int("node", int(v.node)),
			logger.Int("channel", outputChannel),
			logger.Int("channels", prepared.Channels()),
			logger.Duration("length", source.Duration(prepared.Len(), spec.SampleRate)),
		)
		return v.node, nil
	}
	return graph.InvalidNode, domain.NewError(domain.ErrDeviceUnavailable, "device kept changing while scheduling playback")
}

// insert runs under the graph lock. The voice is recorded last so that the
// capacity count is exact across concurrent callers.
func (d *Dispatcher) insert(ed *graph.Editor, v *Voice, prepared graph.ChannelSpec) error {
	spec, ok := ed.Spec()
	if !ok {
		return domain.NewError(domain.ErrNotConfigured, "no device configured")
	}
	if spec != prepared {
		return errSpecChanged
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.voices) >= d.max {
		return domain.Errorf(domain.ErrGraphCapacityExceeded, "%d voices playing", len(d.voices))
	}

	id, err := ed.AddNode(v)
	if err != nil {
		return err
	}
	v.node = id
	for _, c := range routes(id, v.src.Channels(), ed.OutputNode(), v.channel, spec.Outputs) {
		if err := ed.Connect(c); err != nil {
			return err
		}
	}
	d.voices[id] = v
	return nil
}

func (d *Dispatcher) checkChannel(channel int) error {
	spec, ok := d.graph.Spec()
	if !ok {
		return domain.NewError(domain.ErrNotConfigured, "no device configured")
	}
	return validChannel(channel, spec)
}

func validChannel(channel int, spec graph.ChannelSpec) error {
	if channel < 0 || channel >= spec.Outputs {
		return domain.Errorf(domain.ErrInvalidChannelIndex, "output channel %d of %d", channel, spec.Outputs)
	}
	return nil
}

// conform returns src at rate, resampling in memory when needed. When src
// had to be drained, the drained clip is returned too so that a retry can
// resample it again without reading src twice.
func conform(src source.Source, rate int) (source.Source, *source.Clip, error) {
	if src.SampleRate() == rate {
		return src, nil, nil
	}
	clip, err := source.Drain(src, 0)
	if err != nil {
		return nil, nil, domain.Wrap(domain.ErrDecode, err, fmt.Sprintf("%d Hz source", src.SampleRate()))
	}
	out, err := source.Resample(clip, rate)
	if err != nil {
		return nil, nil, domain.Wrap(domain.ErrDecode, err, fmt.Sprintf("resampling to %d Hz", rate))
	}
	return out, clip, nil
}

// Notify posts a removal intent for a finished node. It never blocks; when
// the queue is full the periodic sweep picks the node up instead.
func (d *Dispatcher) Notify(id graph.NodeID) {
	select {
	case d.removals <- id:
	default:
	}
}

// Run reaps finished voices until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.Reap()
			return nil
		case <-d.removals:
			d.drainRemovals()
			d.Reap()
		case <-ticker.C:
			d.Reap()
		}
	}
}

func (d *Dispatcher) drainRemovals() {
	for {
		select {
		case <-d.removals:
		default:
			return
		}
	}
}

// Reap removes every finished or flagged voice from the graph in a single
// edit and returns how many were removed.
func (d *Dispatcher) Reap() int {
	var done, gone []graph.NodeID
	err := d.graph.Edit(func(ed *graph.Editor) error {
		d.mu.Lock()
		defer d.mu.Unlock()
		for id, v := range d.voices {
			n, ok := ed.Node(id)
			if !ok {
				gone = append(gone, id)
				continue
			}
			if !n.PendingRemoval() && !v.Finished() {
				continue
			}
			if err := ed.RemoveNode(id); err != nil {
				return err
			}
			done = append(done, id)
		}
		return nil
	})
	if err != nil {
		d.log.Error("Failed to reap voices", logger.Error(err))
		return 0
	}

	epoch := d.epoch()
	d.mu.Lock()
	for _, id := range done {
		if v, ok := d.voices[id]; ok {
			d.log.Info("Voice finished",
				logger.String("voice", v.id.String()),
				logger.String("name", v.name),
				logger.Duration("played", time.Since(v.started)),
			)
		}
	}
	d.retireLocked(append(done, gone...), epoch)
	d.closeRetiredLocked()
	d.mu.Unlock()
	return len(done)
}

// Reset forgets voices whose nodes a rebuild dropped.
func (d *Dispatcher) Reset(dropped []*graph.Node) {
	ids := make([]graph.NodeID, 0, len(dropped))
	for _, n := range dropped {
		ids = append(ids, n.ID())
	}

	epoch := d.epoch()
	d.mu.Lock()
	defer d.mu.Unlock()
	if n := d.retireLocked(ids, epoch); n > 0 {
		d.log.Info("Voices stopped by reconfiguration", logger.Int("count", n))
	}
	d.closeRetiredLocked()
}

func (d *Dispatcher) epoch() uint64 {
	if s := d.graph.Snapshot(); s != nil {
		return s.Epoch()
	}
	return 0
}

func (d *Dispatcher) retireLocked(ids []graph.NodeID, epoch uint64) int {
	n := 0
	for _, id := range ids {
		v, ok := d.voices[id]
		if !ok {
			continue
		}
		delete(d.voices, id)
		d.retired = append(d.retired, retired{voice: v, epoch: epoch})
		n++
	}
	return n
}

func (d *Dispatcher) closeRetiredLocked() {
	horizon := d.horizon()
	kept := d.retired[:0]
	for _, r := range d.retired {
		if r.epoch > horizon {
			kept = append(kept, r)
			continue
		}
		if err := r.voice.src.Close(); err != nil {
			d.log.Warn("Failed to close source",
				logger.String("voice", r.voice.id.String()),
				logger.Error(err),
			)
		}
	}
	clear(d.retired[len(kept):])
	d.retired = kept
}

// Active returns the number of voices currently in the graph.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.voices)
}

// Voice returns the voice hosted by node id.
func (d *Dispatcher) Voice(id graph.NodeID) (*Voice, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.voices[id]
	return v, ok
}

// Pending returns the number of reaped voices whose sources are still open.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.retired)
}

// Close closes every source the dispatcher still holds. The audio stream
// must already be stopped.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for id, v := range d.voices {
		errs = append(errs, v.src.Close())
		delete(d.voices, id)
	}
	for _, r := range d.retired {
		errs = append(errs, r.voice.src.Close())
	}
	d.retired = nil
	return errors.Join(errs...)
}
