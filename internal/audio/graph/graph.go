package graph

import (
	"sort"
	"sync"

	"github.com/beak-audio/beak/internal/domain"
)

// Graph is the processing graph shared between control goroutines and the
// audio callback. Every mutation runs under a single exclusion lock and
// publishes a new immutable Snapshot; the callback only ever renders
// snapshots.
type Graph struct {
	mu     sync.Mutex
	topo   *topology
	snap   *Snapshot
	nextID NodeID
	epoch  uint64
}

func New() *Graph {
	return &Graph{topo: newTopology()}
}

// Edit applies fn to a private copy of the topology. The copy replaces the
// live topology, and a new snapshot is published, only if fn returns nil;
// otherwise the graph is left exactly as it was.
func (g *Graph) Edit(fn func(*Editor) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	ed := &Editor{g: g, topo: g.topo.clone()}
	if err := fn(ed); err != nil {
		return err
	}
	if !ed.dirty {
		return nil
	}
	g.topo = ed.topo
	g.publish()
	return nil
}

func (g *Graph) publish() {
	g.epoch++
	g.snap = compile(g.topo, g.epoch)
}

func (g *Graph) AddNode(p Processor) (NodeID, error) {
	var id NodeID
	err := g.Edit(func(ed *Editor) error {
		var err error
		id, err = ed.AddNode(p)
		return err
	})
	return id, err
}

func (g *Graph) Connect(c Connection) error {
	return g.Edit(func(ed *Editor) error { return ed.Connect(c) })
}

func (g *Graph) Disconnect(c Connection) error {
	return g.Edit(func(ed *Editor) error { return ed.Disconnect(c) })
}

func (g *Graph) RemoveNode(id NodeID) error {
	return g.Edit(func(ed *Editor) error { return ed.RemoveNode(id) })
}

// Rebuild recreates the I/O nodes for spec and drops every other node.
func (g *Graph) Rebuild(spec ChannelSpec) error {
	return g.Edit(func(ed *Editor) error {
		_, err := ed.Rebuild(spec)
		return err
	})
}

// AcquireSnapshot is the callback-side accessor. It never waits: when the
// lock is held by a control goroutine it returns nil and the caller keeps
// rendering whatever snapshot it already has.
func (g *Graph) AcquireSnapshot() *Snapshot {
	if !g.mu.TryLock() {
		return nil
	}
	s := g.snap
	g.mu.Unlock()
	return s
}

// Snapshot returns the current render plan, or nil before the first Rebuild.
func (g *Graph) Snapshot() *Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snap
}

func (g *Graph) Spec() (ChannelSpec, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.topo.spec, g.topo.configured
}

func (g *Graph) NodeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.topo.nodes)
}

// Nodes returns the IDs of all nodes in ascending order.
func (g *Graph) Nodes() []NodeID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.topo.sortedIDs()
}

func (g *Graph) Node(id NodeID) (*Node, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.topo.nodes[id]
	return n, ok
}

// Connections returns every connection, ordered by source then destination.
func (g *Graph) Connections() []Connection {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.topo.sortedConnections()
}

func (g *Graph) HasConnection(c Connection) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.topo.conns[c]
	return ok
}

func (g *Graph) InputNode() NodeID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.topo.input
}

func (g *Graph) OutputNode() NodeID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.topo.output
}

// Editor mutates a working copy of the topology inside Graph.Edit. It must
// not be retained after the edit function returns.
type Editor struct {
	g     *Graph
	topo  *topology
	dirty bool
}

// AddNode inserts a node with no connections.
func (ed *Editor) AddNode(p Processor) (NodeID, error) {
	if !ed.topo.configured {
		return InvalidNode, domain.NewError(domain.ErrNotConfigured, "graph has no I/O nodes")
	}
	if p == nil {
		return InvalidNode, domain.NewError(domain.ErrNodeNotFound, "nil processor")
	}
	ins, outs := p.ChannelCounts()
	if ins < 0 || outs < 0 {
		return InvalidNode, domain.Errorf(domain.ErrInvalidChannelIndex, "processor declares %d inputs, %d outputs", ins, outs)
	}
	if pr, ok := p.(Preparer); ok {
		pr.Prepare(ed.topo.spec.SampleRate, ed.topo.spec.BlockSize)
	}
	n := newNode(ed.allocID(), KindProcessor, p, ed.topo.spec.BlockSize)
	ed.topo.add(n)
	ed.dirty = true
	return n.id, nil
}

// Connect validates and commits c. Checks run in order: both nodes exist,
// channel indices are in range, the connection is new, and the edge does
// not close a cycle.
func (ed *Editor) Connect(c Connection) error {
	src, ok := ed.topo.nodes[c.Source]
	if !ok {
		return domain.Errorf(domain.ErrNodeNotFound, "source node %d", c.Source)
	}
	dst, ok := ed.topo.nodes[c.Dest]
	if !ok {
		return domain.Errorf(domain.ErrNodeNotFound, "destination node %d", c.Dest)
	}
	if c.SourceChannel < 0 || c.SourceChannel >= src.outs {
		return domain.Errorf(domain.ErrInvalidChannelIndex,
			"source channel %d of node %d (%d outputs)", c.SourceChannel, c.Source, src.outs)
	}
	if c.DestChannel < 0 || c.DestChannel >= dst.ins {
		return domain.Errorf(domain.ErrInvalidChannelIndex,
			"destination channel %d of node %d (%d inputs)", c.DestChannel, c.Dest, dst.ins)
	}
	if _, dup := ed.topo.conns[c]; dup {
		return domain.NewError(domain.ErrDuplicateConnection, c.String())
	}
	if c.Source == c.Dest || ed.topo.reaches(c.Dest, c.Source) {
		return domain.NewError(domain.ErrGraphCycle, c.String())
	}
	ed.topo.connect(c)
	ed.dirty = true
	return nil
}

// Disconnect removes c. Removing a connection that does not exist is a no-op.
func (ed *Editor) Disconnect(c Connection) error {
	if _, ok := ed.topo.conns[c]; !ok {
		return nil
	}
	ed.topo.disconnect(c)
	ed.dirty = true
	return nil
}

// RemoveNode removes a node together with all of its connections.
func (ed *Editor) RemoveNode(id NodeID) error {
	n, ok := ed.topo.nodes[id]
	if !ok {
		return domain.Errorf(domain.ErrNodeNotFound, "node %d", id)
	}
	if n.kind != KindProcessor {
		return domain.Errorf(domain.ErrReservedNode, "%s node %d", n.kind, id)
	}
	ed.topo.remove(id)
	ed.dirty = true
	return nil
}

// Rebuild resets the topology to a fresh pair of I/O nodes sized by spec and
// returns the processor nodes that were dropped. When spec matches the
// current one the existing I/O nodes are kept.
func (ed *Editor) Rebuild(spec ChannelSpec) ([]*Node, error) {
	if spec.Inputs < 0 || spec.Outputs < 0 {
		return nil, domain.Errorf(domain.ErrUnsupportedChannelConfig,
			"%d inputs, %d outputs", spec.Inputs, spec.Outputs)
	}
	if spec.SampleRate <= 0 {
		return nil, domain.Errorf(domain.ErrUnsupportedSampleRate, "%d Hz", spec.SampleRate)
	}
	if spec.BlockSize <= 0 {
		return nil, domain.Errorf(domain.ErrUnsupportedChannelConfig, "block size %d", spec.BlockSize)
	}

	old := ed.topo
	var dropped []*Node
	for _, id := range old.sortedIDs() {
		if n := old.nodes[id]; n.kind == KindProcessor {
			dropped = append(dropped, n)
		}
	}

	fresh := newTopology()
	fresh.spec = spec
	fresh.configured = true
	if old.configured && old.spec == spec {
		fresh.add(old.nodes[old.input])
		fresh.add(old.nodes[old.output])
	} else {
		fresh.add(newNode(ed.allocID(), KindInput, ioProcessor{outputs: spec.Inputs}, spec.BlockSize))
		fresh.add(newNode(ed.allocID(), KindOutput, ioProcessor{inputs: spec.Outputs}, spec.BlockSize))
	}

	ed.topo = fresh
	ed.dirty = true
	return dropped, nil
}

func (ed *Editor) allocID() NodeID {
	ed.g.nextID++
	return ed.g.nextID
}

func (ed *Editor) Node(id NodeID) (*Node, bool) {
	n, ok := ed.topo.nodes[id]
	return n, ok
}

func (ed *Editor) Spec() (ChannelSpec, bool) { return ed.topo.spec, ed.topo.configured }
func (ed *Editor) InputNode() NodeID         { return ed.topo.input }
func (ed *Editor) OutputNode() NodeID        { return ed.topo.output }
func (ed *Editor) NodeCount() int            { return len(ed.topo.nodes) }

func (ed *Editor) HasConnection(c Connection) bool {
	_, ok := ed.topo.conns[c]
	return ok
}

type topology struct {
	spec       ChannelSpec
	configured bool
	nodes      map[NodeID]*Node
	conns      map[Connection]struct{}
	out        map[NodeID]map[Connection]struct{}
	in         map[NodeID]map[Connection]struct{}
	input      NodeID
	output     NodeID
}

func newTopology() *topology {
	return &topology{
		nodes: make(map[NodeID]*Node),
		conns: make(map[Connection]struct{}),
		out:   make(map[NodeID]map[Connection]struct{}),
		in:    make(map[NodeID]map[Connection]struct{}),
	}
}

func (t *topology) clone() *topology {
	c := newTopology()
	c.spec = t.spec
	c.configured = t.configured
	c.input = t.input
	c.output = t.output
	for id, n := range t.nodes {
		c.nodes[id] = n
	}
	for conn := range t.conns {
		c.connect(conn)
	}
	return c
}

func (t *topology) add(n *Node) {
	t.nodes[n.id] = n
	switch n.kind {
	case KindInput:
		t.input = n.id
	case KindOutput:
		t.output = n.id
	}
}

func (t *topology) connect(c Connection) {
	t.conns[c] = struct{}{}
	if t.out[c.Source] == nil {
		t.out[c.Source] = make(map[Connection]struct{})
	}
	if t.in[c.Dest] == nil {
		t.in[c.Dest] = make(map[Connection]struct{})
	}
	t.out[c.Source][c] = struct{}{}
	t.in[c.Dest][c] = struct{}{}
}

func (t *topology) disconnect(c Connection) {
	delete(t.conns, c)
	delete(t.out[c.Source], c)
	delete(t.in[c.Dest], c)
	if len(t.out[c.Source]) == 0 {
		delete(t.out, c.Source)
	}
	if len(t.in[c.Dest]) == 0 {
		delete(t.in, c.Dest)
	}
}

func (t *topology) remove(id NodeID) {
	for c := range t.out[id] {
		t.disconnect(c)
	}
	for c := range t.in[id] {
		t.disconnect(c)
	}
	delete(t.nodes, id)
}

// reaches reports whether to is reachable from from along existing edges.
func (t *topology) reaches(from, to NodeID) bool {
	visited := make(map[NodeID]struct{}, len(t.nodes))
	stack := []NodeID{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == to {
			return true
		}
		if _, seen := visited[id]; seen {
			continue
		}
		visited[id] = struct{}{}
		for c := range t.out[id] {
			if _, seen := visited[c.Dest]; !seen {
				stack = append(stack, c.Dest)
			}
		}
	}
	return false
}

func (t *topology) sortedIDs() []NodeID {
	ids := make([]NodeID, 0, len(t.nodes))
	for id := range t.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (t *topology) sortedConnections() []Connection {
	conns := make([]Connection, 0, len(t.conns))
	for c := range t.conns {
		conns = append(conns, c)
	}
	sortConnections(conns)
	return conns
}

func sortConnections(conns []Connection) {
	sort.Slice(conns, func(i, j int) bool {
		a, b := conns[i], conns[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.SourceChannel != b.SourceChannel {
			return a.SourceChannel < b.SourceChannel
		}
		if a.Dest != b.Dest {
			return a.Dest < b.Dest
		}
		return a.DestChannel < b.DestChannel
	})
}
