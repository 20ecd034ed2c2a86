package audio

import (
	"sync/atomic"

	"github.com/beak-audio/beak/internal/audio/graph"
)

// Notifier receives removal intents for finished transient nodes. Notify
// is called on the audio thread and must not block.
type Notifier interface {
	Notify(id graph.NodeID)
}

// Bridge is the device callback. It renders the graph's published
// snapshot into the hardware buffers.
type Bridge struct {
	graph  *graph.Graph
	notify Notifier

	// Only touched from the callback goroutine.
	snap *graph.Snapshot

	inView atomic.Pointer[[][]float32]

	lastEpoch atomic.Uint64
	blocks    atomic.Uint64
	fallbacks atomic.Uint64
}

const bridgeChannels = 32

func NewBridge(g *graph.Graph, n Notifier) *Bridge {
	b := &Bridge{graph: g, notify: n}
	b.Reserve(bridgeChannels)
	return b
}

// Reserve sizes the input view for devices with up to inputs channels.
// Call it before opening such a device; input channels beyond the reserved
// count are not rendered.
func (b *Bridge) Reserve(inputs int) {
	for {
		cur := b.inView.Load()
		if cur != nil && len(*cur) >= inputs {
			return
		}
		view := make([][]float32, inputs)
		if b.inView.CompareAndSwap(cur, &view) {
			return
		}
	}
}

// Process renders one hardware block. When the graph lock is busy the
// previously acquired snapshot is rendered again. Blocks larger than the
// graph's block size are rendered in several passes.
func (b *Bridge) Process(in, out [][]float32) {
	b.blocks.Add(1)
	if s := b.graph.AcquireSnapshot(); s != nil {
		b.snap = s
	} else {
		b.fallbacks.Add(1)
	}

	s := b.snap
	if s == nil {
		for _, ch := range out {
			clear(ch)
		}
		return
	}
	b.lastEpoch.Store(s.Epoch())

	frames := 0
	if len(out) > 0 {
		frames = len(out[0])
	} else if len(in) > 0 {
		frames = len(in[0])
	}

	view := *b.inView.Load()
	view = view[:min(len(in), len(view))]

	block := s.Spec().BlockSize
	for off := 0; off < frames; off += block {
		n := min(block, frames-off)
		for ch := range view {
			view[ch] = nil
			if len(in[ch]) >= off+n {
				view[ch] = in[ch][off : off+n]
			}
		}

		s.Render(view, n)

		mixed := s.Output()
		for ch := range out {
			dst := out[ch][off : off+n]
			if ch < len(mixed) {
				copy(dst, mixed[ch])
			} else {
				clear(dst)
			}
		}
	}

	if b.notify == nil {
		return
	}
	for _, n := range s.Transients() {
		if n.Finished() && n.MarkPendingRemoval() {
			b.notify.Notify(n.ID())
		}
	}
}

// LastEpoch is the epoch of the snapshot rendered by the latest block.
// Older snapshots are never rendered again.
func (b *Bridge) LastEpoch() uint64 { return b.lastEpoch.Load() }

func (b *Bridge) Blocks() uint64    { return b.blocks.Load() }
func (b *Bridge) Fallbacks() uint64 { return b.fallbacks.Load() }
