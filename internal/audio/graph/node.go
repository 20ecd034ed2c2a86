package graph

import (
	"fmt"
	"sync/atomic"
)

// NodeID identifies a node for its whole lifetime. IDs are never reused
// within a Graph.
type NodeID uint32

// InvalidNode is the zero NodeID; no node ever carries it.
const InvalidNode NodeID = 0

// Processor is a processing unit hosted by a node. Render is called on the
// audio thread once per block: in holds the summed input channels, out is
// zeroed before the call. Both have exactly the frame count of the block.
// Render must not block or allocate.
type Processor interface {
	ChannelCounts() (inputs, outputs int)
	Render(in, out [][]float32)
}

// Finisher is implemented by processors that run out of material, such as
// one-shot sound sources. Finished is polled on the audio thread after Render.
type Finisher interface {
	Finished() bool
}

// Preparer is implemented by processors that size internal state to the
// device. Prepare is called on the control thread when the node is added.
type Preparer interface {
	Prepare(sampleRate, blockSize int)
}

// Kind distinguishes the reserved I/O nodes from hosted processors.
type Kind int

const (
	KindProcessor Kind = iota
	KindInput
	KindOutput
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindOutput:
		return "output"
	default:
		return "processor"
	}
}

// Connection routes one output channel of Source into one input channel of Dest.
type Connection struct {
	Source        NodeID
	SourceChannel int
	Dest          NodeID
	DestChannel   int
}

func (c Connection) String() string {
	return fmt.Sprintf("%d:%d->%d:%d", c.Source, c.SourceChannel, c.Dest, c.DestChannel)
}

// ChannelSpec sizes the I/O nodes and block buffers of a graph.
type ChannelSpec struct {
	Inputs     int
	Outputs    int
	SampleRate int
	BlockSize  int
}

// Node is a graph vertex. Its buffers are allocated on the control thread
// when the node is added and reused by every render pass.
type Node struct {
	id      NodeID
	kind    Kind
	proc    Processor
	fin     Finisher
	ins     int
	outs    int
	in      [][]float32
	out     [][]float32
	inView  [][]float32
	outView [][]float32
	pending atomic.Bool
}

func newNode(id NodeID, kind Kind, proc Processor, blockSize int) *Node {
	ins, outs := proc.ChannelCounts()
	n := &Node{
		id:      id,
		kind:    kind,
		proc:    proc,
		ins:     ins,
		outs:    outs,
		in:      makeBuffers(ins, blockSize),
		out:     makeBuffers(outs, blockSize),
		inView:  make([][]float32, ins),
		outView: make([][]float32, outs),
	}
	n.fin, _ = proc.(Finisher)
	return n
}

func makeBuffers(channels, frames int) [][]float32 {
	bufs := make([][]float32, channels)
	backing := make([]float32, channels*frames)
	for ch := range bufs {
		bufs[ch] = backing[ch*frames : (ch+1)*frames : (ch+1)*frames]
	}
	return bufs
}

func (n *Node) ID() NodeID                { return n.id }
func (n *Node) Kind() Kind                { return n.kind }
func (n *Node) Processor() Processor      { return n.proc }
func (n *Node) ChannelCounts() (int, int) { return n.ins, n.outs }

// Finished reports whether a transient processor has run out of material.
// Nodes whose processor is not a Finisher never finish.
func (n *Node) Finished() bool {
	return n.fin != nil && n.fin.Finished()
}

// MarkPendingRemoval flags the node for deferred removal. It reports true
// only for the caller that set the flag.
func (n *Node) MarkPendingRemoval() bool {
	return n.pending.CompareAndSwap(false, true)
}

// PendingRemoval reports whether the node has been flagged for removal.
func (n *Node) PendingRemoval() bool {
	return n.pending.Load()
}

// ioProcessor is the pass-through behind the reserved I/O nodes. The input
// node only has outputs (filled from the device), the output node only has
// inputs (read back by the callback bridge).
type ioProcessor struct {
	inputs  int
	outputs int
}

func (p ioProcessor) ChannelCounts() (int, int) { return p.inputs, p.outputs }

func (p ioProcessor) Render(in, out [][]float32) {
	for ch := 0; ch < len(in) && ch < len(out); ch++ {
		copy(out[ch], in[ch])
	}
}
