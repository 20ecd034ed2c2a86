package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beak-audio/beak/internal/domain"
)

// constant writes value on every output channel.
type constant struct {
	outs  int
	value float32
}

func (c *constant) ChannelCounts() (int, int) { return 0, c.outs }

func (c *constant) Render(_, out [][]float32) {
	for _, ch := range out {
		for i := range ch {
			ch[i] = c.value
		}
	}
}

// gain scales input channel i into output channel i.
type gain struct {
	channels int
	factor   float32
}

func (g *gain) ChannelCounts() (int, int) { return g.channels, g.channels }

func (g *gain) Render(in, out [][]float32) {
	for ch := range out {
		for i := range out[ch] {
			out[ch][i] = in[ch][i] * g.factor
		}
	}
}

// burst emits ones for a fixed number of frames and then reports finished.
type burst struct {
	remaining int
	prepared  int
}

func (b *burst) ChannelCounts() (int, int) { return 0, 1 }
func (b *burst) Finished() bool            { return b.remaining == 0 }
func (b *burst) Prepare(sampleRate, _ int) { b.prepared = sampleRate }

func (b *burst) Render(_, out [][]float32) {
	for i := range out[0] {
		if b.remaining == 0 {
			return
		}
		out[0][i] = 1
		b.remaining--
	}
}

var stereo = ChannelSpec{Inputs: 2, Outputs: 2, SampleRate: 48000, BlockSize: 64}

func newConfigured(t *testing.T) *Graph {
	t.Helper()
	g := New()
	require.NoError(t, g.Rebuild(stereo))
	return g
}

type topoState struct {
	nodes []NodeID
	conns []Connection
}

func stateOf(g *Graph) topoState {
	return topoState{nodes: g.Nodes(), conns: g.Connections()}
}

func TestGraph_RebuildCreatesIONodes(t *testing.T) {
	g := newConfigured(t)

	assert.Equal(t, 2, g.NodeCount())
	in, ok := g.Node(g.InputNode())
	require.True(t, ok)
	out, ok := g.Node(g.OutputNode())
	require.True(t, ok)

	ins, outs := in.ChannelCounts()
	assert.Equal(t, 0, ins)
	assert.Equal(t, 2, outs)
	ins, outs = out.ChannelCounts()
	assert.Equal(t, 2, ins)
	assert.Equal(t, 0, outs)
	assert.Equal(t, KindInput, in.Kind())
	assert.Equal(t, KindOutput, out.Kind())

	spec, ok := g.Spec()
	assert.True(t, ok)
	assert.Equal(t, stereo, spec)
	assert.NotNil(t, g.Snapshot())
}

func TestGraph_AddNodeRequiresConfiguration(t *testing.T) {
	g := New()
	_, err := g.AddNode(&constant{outs: 1})
	assert.ErrorIs(t, err, domain.ErrNotConfigured)
	assert.Nil(t, g.Snapshot())
}

func TestGraph_AddNodeCallsPrepare(t *testing.T) {
	g := newConfigured(t)
	b := &burst{remaining: 10}
	_, err := g.AddNode(b)
	require.NoError(t, err)
	assert.Equal(t, 48000, b.prepared)
}

func TestGraph_NodeIDsAreNeverReused(t *testing.T) {
	g := newConfigured(t)
	a, err := g.AddNode(&constant{outs: 1})
	require.NoError(t, err)
	require.NoError(t, g.RemoveNode(a))

	b, err := g.AddNode(&constant{outs: 1})
	require.NoError(t, err)
	assert.Greater(t, b, a)
}

func TestGraph_ConnectValidation(t *testing.T) {
	g := newConfigured(t)
	src, err := g.AddNode(&constant{outs: 1})
	require.NoError(t, err)
	fx, err := g.AddNode(&gain{channels: 1, factor: 1})
	require.NoError(t, err)
	require.NoError(t, g.Connect(Connection{Source: src, Dest: fx}))

	out := g.OutputNode()
	in := g.InputNode()

	tests := []struct {
		name string
		conn Connection
		want error
	}{
		{"unknown source", Connection{Source: 999, Dest: out}, domain.ErrNodeNotFound},
		{"unknown destination", Connection{Source: src, Dest: 999}, domain.ErrNodeNotFound},
		{"source channel out of range", Connection{Source: src, SourceChannel: 1, Dest: out}, domain.ErrInvalidChannelIndex},
		{"negative destination channel", Connection{Source: src, Dest: out, DestChannel: -1}, domain.ErrInvalidChannelIndex},
		{"destination channel out of range", Connection{Source: src, Dest: out, DestChannel: 2}, domain.ErrInvalidChannelIndex},
		{"output node has no outputs", Connection{Source: out, Dest: fx}, domain.ErrInvalidChannelIndex},
		{"input node has no inputs", Connection{Source: fx, Dest: in}, domain.ErrInvalidChannelIndex},
		{"duplicate", Connection{Source: src, Dest: fx}, domain.ErrDuplicateConnection},
		{"self loop", Connection{Source: fx, Dest: fx}, domain.ErrGraphCycle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := stateOf(g)
			err := g.Connect(tt.conn)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.Equal(t, before, stateOf(g))
		})
	}
}

func TestGraph_CycleRejectedAndTopologyUnchanged(t *testing.T) {
	g := newConfigured(t)
	var chain []NodeID
	for i := 0; i < 4; i++ {
		id, err := g.AddNode(&gain{channels: 1, factor: 1})
		require.NoError(t, err)
		chain = append(chain, id)
	}
	for i := 0; i+1 < len(chain); i++ {
		require.NoError(t, g.Connect(Connection{Source: chain[i], Dest: chain[i+1]}))
	}

	before := stateOf(g)
	epoch := g.Snapshot().Epoch()

	err := g.Connect(Connection{Source: chain[3], Dest: chain[0]})
	assert.ErrorIs(t, err, domain.ErrGraphCycle)
	assert.Equal(t, domain.CodeGraphCycle, domain.KindOf(err))
	assert.Equal(t, before, stateOf(g))
	assert.Equal(t, epoch, g.Snapshot().Epoch(), "failed connect must not publish")

	// A parallel edge that does not close a loop is fine.
	require.NoError(t, g.Connect(Connection{Source: chain[0], Dest: chain[2]}))
}

func TestGraph_RandomEditsStayAcyclic(t *testing.T) {
	g := newConfigured(t)
	var ids []NodeID
	for i := 0; i < 8; i++ {
		id, err := g.AddNode(&gain{channels: 2, factor: 1})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	// Deterministic pseudo-random pairs.
	x := uint32(7)
	for i := 0; i < 200; i++ {
		x = x*1664525 + 1013904223
		a := ids[int(x>>8)%len(ids)]
		b := ids[int(x>>16)%len(ids)]
		err := g.Connect(Connection{Source: a, SourceChannel: int(x>>4) % 2, Dest: b, DestChannel: int(x>>12) % 2})
		if err != nil {
			assert.True(t, errors.Is(err, domain.ErrGraphCycle) || errors.Is(err, domain.ErrDuplicateConnection), "got %v", err)
		}
	}

	// Every node appears in the compiled order exactly once, which only
	// happens when the graph is a DAG.
	snap := g.Snapshot()
	assert.Equal(t, g.NodeCount(), snap.Len())
	pos := make(map[NodeID]int)
	for i, id := range snap.Order() {
		pos[id] = i
	}
	for _, c := range g.Connections() {
		assert.Less(t, pos[c.Source], pos[c.Dest], "edge %s out of order", c)
	}
}

func TestGraph_RemoveNodeRemovesIncidentConnections(t *testing.T) {
	g := newConfigured(t)
	src, err := g.AddNode(&constant{outs: 1})
	require.NoError(t, err)
	fx, err := g.AddNode(&gain{channels: 1, factor: 1})
	require.NoError(t, err)
	require.NoError(t, g.Connect(Connection{Source: src, Dest: fx}))
	require.NoError(t, g.Connect(Connection{Source: fx, Dest: g.OutputNode()}))
	require.NoError(t, g.Connect(Connection{Source: fx, Dest: g.OutputNode(), DestChannel: 1}))

	require.NoError(t, g.RemoveNode(fx))

	assert.Equal(t, 3, g.NodeCount())
	assert.Empty(t, g.Connections())

	err = g.RemoveNode(fx)
	assert.ErrorIs(t, err, domain.ErrNodeNotFound)
}

func TestGraph_IONodesAreReserved(t *testing.T) {
	g := newConfigured(t)
	assert.ErrorIs(t, g.RemoveNode(g.InputNode()), domain.ErrReservedNode)
	assert.ErrorIs(t, g.RemoveNode(g.OutputNode()), domain.ErrReservedNode)
	assert.Equal(t, 2, g.NodeCount())
}

func TestGraph_DisconnectIsIdempotent(t *testing.T) {
	g := newConfigured(t)
	src, err := g.AddNode(&constant{outs: 1})
	require.NoError(t, err)
	c := Connection{Source: src, Dest: g.OutputNode()}
	require.NoError(t, g.Connect(c))

	require.NoError(t, g.Disconnect(c))
	assert.False(t, g.HasConnection(c))
	require.NoError(t, g.Disconnect(c))
}

func TestGraph_RebuildDropsProcessorNodes(t *testing.T) {
	g := newConfigured(t)
	src, err := g.AddNode(&constant{outs: 1})
	require.NoError(t, err)
	require.NoError(t, g.Connect(Connection{Source: src, Dest: g.OutputNode()}))

	var dropped []*Node
	mono := ChannelSpec{Inputs: 0, Outputs: 1, SampleRate: 44100, BlockSize: 32}
	require.NoError(t, g.Edit(func(ed *Editor) error {
		var err error
		dropped, err = ed.Rebuild(mono)
		return err
	}))

	require.Len(t, dropped, 1)
	assert.Equal(t, src, dropped[0].ID())
	assert.Equal(t, 2, g.NodeCount())
	assert.Empty(t, g.Connections())
	_, ok := g.Node(src)
	assert.False(t, ok)
}

func TestGraph_RebuildSameSpecKeepsIONodes(t *testing.T) {
	g := newConfigured(t)
	before := stateOf(g)

	require.NoError(t, g.Rebuild(stereo))
	assert.Equal(t, before, stateOf(g))

	require.NoError(t, g.Rebuild(ChannelSpec{Inputs: 2, Outputs: 4, SampleRate: 48000, BlockSize: 64}))
	assert.NotEqual(t, before.nodes, g.Nodes())
}

func TestGraph_RebuildRejectsInvalidSpec(t *testing.T) {
	g := newConfigured(t)
	before := stateOf(g)

	assert.ErrorIs(t, g.Rebuild(ChannelSpec{Inputs: -1, Outputs: 2, SampleRate: 44100, BlockSize: 64}), domain.ErrUnsupportedChannelConfig)
	assert.ErrorIs(t, g.Rebuild(ChannelSpec{Outputs: 2, BlockSize: 64}), domain.ErrUnsupportedSampleRate)
	assert.ErrorIs(t, g.Rebuild(ChannelSpec{Outputs: 2, SampleRate: 44100}), domain.ErrUnsupportedChannelConfig)
	assert.Equal(t, before, stateOf(g))
}

func TestGraph_EditRollsBackOnError(t *testing.T) {
	g := newConfigured(t)
	before := stateOf(g)
	boom := errors.New("boom")

	err := g.Edit(func(ed *Editor) error {
		id, err := ed.AddNode(&constant{outs: 1})
		if err != nil {
			return err
		}
		if err := ed.Connect(Connection{Source: id, Dest: ed.OutputNode()}); err != nil {
			return err
		}
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, before, stateOf(g))
}

func TestGraph_AcquireSnapshotDoesNotWait(t *testing.T) {
	g := newConfigured(t)
	assert.NotNil(t, g.AcquireSnapshot())

	g.mu.Lock()
	assert.Nil(t, g.AcquireSnapshot())
	g.mu.Unlock()
}

func TestSnapshot_RenderMixesIntoOutput(t *testing.T) {
	g := newConfigured(t)
	a, err := g.AddNode(&constant{outs: 1, value: 0.25})
	require.NoError(t, err)
	b, err := g.AddNode(&constant{outs: 1, value: 0.5})
	require.NoError(t, err)
	fx, err := g.AddNode(&gain{channels: 1, factor: 2})
	require.NoError(t, err)

	out := g.OutputNode()
	require.NoError(t, g.Connect(Connection{Source: a, Dest: out}))
	require.NoError(t, g.Connect(Connection{Source: b, Dest: out}))
	require.NoError(t, g.Connect(Connection{Source: b, Dest: fx}))
	require.NoError(t, g.Connect(Connection{Source: fx, Dest: out, DestChannel: 1}))

	snap := g.Snapshot()
	snap.Render(nil, 16)

	mixed := snap.Output()
	require.Len(t, mixed, 2)
	require.Len(t, mixed[0], 16)
	for i := 0; i < 16; i++ {
		assert.InDelta(t, 0.75, mixed[0][i], 1e-6)
		assert.InDelta(t, 1.0, mixed[1][i], 1e-6)
	}

	// A second pass starts from silence rather than accumulating.
	snap.Render(nil, 16)
	assert.InDelta(t, 0.75, snap.Output()[0][0], 1e-6)
}

func TestSnapshot_RenderPassesDeviceInputThrough(t *testing.T) {
	g := newConfigured(t)
	in := g.InputNode()
	out := g.OutputNode()
	require.NoError(t, g.Connect(Connection{Source: in, SourceChannel: 1, Dest: out}))

	input := [][]float32{make([]float32, 8), make([]float32, 8)}
	for i := range input[1] {
		input[1][i] = float32(i)
	}

	snap := g.Snapshot()
	snap.Render(input, 8)
	assert.Equal(t, input[1], snap.Output()[0])
	assert.Equal(t, make([]float32, 8), snap.Output()[1])
}

func TestSnapshot_TransientsAndFinish(t *testing.T) {
	g := newConfigured(t)
	b := &burst{remaining: 20}
	id, err := g.AddNode(b)
	require.NoError(t, err)
	require.NoError(t, g.Connect(Connection{Source: id, Dest: g.OutputNode()}))

	snap := g.Snapshot()
	require.Len(t, snap.Transients(), 1)
	n := snap.Transients()[0]

	snap.Render(nil, 16)
	assert.False(t, n.Finished())
	snap.Render(nil, 16)
	assert.True(t, n.Finished())
	assert.Equal(t, float32(1), snap.Output()[0][3])
	assert.Equal(t, float32(0), snap.Output()[0][4])

	assert.True(t, n.MarkPendingRemoval())
	assert.False(t, n.MarkPendingRemoval())
	assert.True(t, n.PendingRemoval())
}

func TestSnapshot_RenderDoesNotAllocate(t *testing.T) {
	g := newConfigured(t)
	a, err := g.AddNode(&constant{outs: 1, value: 0.1})
	require.NoError(t, err)
	require.NoError(t, g.Connect(Connection{Source: a, Dest: g.OutputNode()}))
	require.NoError(t, g.Connect(Connection{Source: g.InputNode(), Dest: g.OutputNode(), DestChannel: 1}))

	snap := g.Snapshot()
	input := [][]float32{make([]float32, 64), make([]float32, 64)}
	allocs := testing.AllocsPerRun(100, func() {
		snap.Render(input, 64)
	})
	assert.Zero(t, allocs)
}
