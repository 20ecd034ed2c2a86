// Package playback turns play requests into transient graph nodes and
// reclaims them once their source runs dry.
package playback

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/beak-audio/beak/internal/audio/graph"
	"github.com/beak-audio/beak/internal/audio/source"
)

// Voice is the processor behind a transient node. It has no inputs and one
// output per source channel.
type Voice struct {
	id      uuid.UUID
	name    string
	src     source.Source
	node    graph.NodeID
	channel int
	started time.Time
	done    atomic.Bool
}

func newVoice(src source.Source, name string, channel int) *Voice {
	return &Voice{
		id:      uuid.New(),
		name:    name,
		src:     src,
		channel: channel,
		started: time.Now(),
	}
}

func (v *Voice) ID() uuid.UUID         { return v.id }
func (v *Voice) Name() string          { return v.name }
func (v *Voice) Node() graph.NodeID    { return v.node }
func (v *Voice) Channel() int          { return v.channel }
func (v *Voice) Source() source.Source { return v.src }

func (v *Voice) ChannelCounts() (int, int) { return 0, v.src.Channels() }

func (v *Voice) Render(_, out [][]float32) {
	if v.done.Load() || len(out) == 0 {
		return
	}
	n := v.src.Read(out)
	if n < len(out[0]) || (v.src.Len() >= 0 && v.src.Position() >= v.src.Len()) {
		v.done.Store(true)
	}
}

// Finished reports whether the source has been read to its end. A source of
// known length finishes with the block that reads its last frame.
func (v *Voice) Finished() bool {
	return v.done.Load()
}

// routes maps the voice's channels onto the output node. A mono source is
// duplicated to channel and channel+1; otherwise source channel i goes to
// channel+i. Channels past the last output are dropped.
func routes(node graph.NodeID, channels int, output graph.NodeID, channel, outputs int) []graph.Connection {
	var conns []graph.Connection
	if channels == 1 {
		for dst := channel; dst < outputs && dst <= channel+1; dst++ {
			conns = append(conns, graph.Connection{Source: node, SourceChannel: 0, Dest: output, DestChannel: dst})
		}
		return conns
	}
	for ch := 0; ch < channels && channel+ch < outputs; ch++ {
		conns = append(conns, graph.Connection{Source: node, SourceChannel: ch, Dest: output, DestChannel: channel + ch})
	}
	return conns
}
