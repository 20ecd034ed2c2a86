package graph

import "sort"

type feed struct {
	srcCh int
	dst   *Node
	dstCh int
}

type step struct {
	node  *Node
	feeds []feed
}

// Snapshot is an immutable, topologically ordered render plan. Render is
// meant to be called from a single goroutine at a time.
type Snapshot struct {
	epoch      uint64
	spec       ChannelSpec
	steps      []step
	input      *Node
	output     *Node
	transients []*Node
}

func compile(t *topology, epoch uint64) *Snapshot {
	s := &Snapshot{
		epoch:  epoch,
		spec:   t.spec,
		input:  t.nodes[t.input],
		output: t.nodes[t.output],
	}

	indeg := make(map[NodeID]int, len(t.nodes))
	for c := range t.conns {
		indeg[c.Dest]++
	}

	var ready []NodeID
	for _, id := range t.sortedIDs() {
		if indeg[id] == 0 {
			ready = append(ready, id)
		}
	}

	s.steps = make([]step, 0, len(t.nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		n := t.nodes[id]

		conns := make([]Connection, 0, len(t.out[id]))
		for c := range t.out[id] {
			conns = append(conns, c)
		}
		sortConnections(conns)

		st := step{node: n, feeds: make([]feed, 0, len(conns))}
		var next []NodeID
		for _, c := range conns {
			st.feeds = append(st.feeds, feed{srcCh: c.SourceChannel, dst: t.nodes[c.Dest], dstCh: c.DestChannel})
			indeg[c.Dest]--
			if indeg[c.Dest] == 0 {
				next = append(next, c.Dest)
			}
		}
		sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
		ready = append(ready, next...)
		s.steps = append(s.steps, st)

		if n.fin != nil {
			s.transients = append(s.transients, n)
		}
	}
	return s
}

func (s *Snapshot) Epoch() uint64       { return s.epoch }
func (s *Snapshot) Spec() ChannelSpec   { return s.spec }
func (s *Snapshot) Len() int            { return len(s.steps) }
func (s *Snapshot) Transients() []*Node { return s.transients }

// Order returns the node IDs in render order.
func (s *Snapshot) Order() []NodeID {
	ids := make([]NodeID, len(s.steps))
	for i, st := range s.steps {
		ids[i] = st.node.id
	}
	return ids
}

// Render runs one pass over the plan for frames frames (at most the block
// size). input holds device input channels; missing channels read as
// silence. After Render, Output returns the mixed output channels.
func (s *Snapshot) Render(input [][]float32, frames int) {
	if frames > s.spec.BlockSize {
		frames = s.spec.BlockSize
	}
	if frames <= 0 {
		return
	}

	for i := range s.steps {
		n := s.steps[i].node
		for ch := range n.in {
			n.inView[ch] = n.in[ch][:frames]
			clear(n.inView[ch])
		}
	}

	for i := range s.steps {
		st := &s.steps[i]
		n := st.node
		for ch := range n.out {
			n.outView[ch] = n.out[ch][:frames]
			clear(n.outView[ch])
		}

		if n.kind == KindInput {
			for ch := 0; ch < len(n.outView) && ch < len(input); ch++ {
				copy(n.outView[ch], input[ch])
			}
		} else {
			n.proc.Render(n.inView, n.outView)
		}

		for _, f := range st.feeds {
			src := n.outView[f.srcCh]
			dst := f.dst.inView[f.dstCh]
			for j := range dst {
				dst[j] += src[j]
			}
		}
	}
}

// Output returns the output node's channels as left by the last Render.
func (s *Snapshot) Output() [][]float32 {
	if s.output == nil {
		return nil
	}
	return s.output.inView
}
