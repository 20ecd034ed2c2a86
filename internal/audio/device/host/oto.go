package host

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/beak-audio/beak/internal/audio/device"
	"github.com/beak-audio/beak/internal/domain"
)

const otoDeviceName = "System Output"

// Oto is an output-only backend. oto allows a single context per process,
// so once opened the sample rate and channel count are fixed.
type Oto struct {
	mu       sync.Mutex
	ctx      *oto.Context
	rate     int
	channels int
}

func NewOto() *Oto {
	return &Oto{}
}

func (o *Oto) Name() string { return "oto" }

func (o *Oto) Devices() ([]device.Info, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	info := device.Info{
		Name:              otoDeviceName,
		MaxOutputs:        2,
		DefaultSampleRate: 44100,
		IsDefault:         true,
	}
	if o.ctx != nil {
		info.SampleRates = []int{o.rate}
		info.MaxOutputs = o.channels
	}
	return []device.Info{info}, nil
}

func (o *Oto) Open(dev device.Info, setup device.Setup, cb device.Callback) (device.Stream, device.Setup, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if setup.Inputs > 0 {
		return nil, device.Setup{}, domain.NewError(domain.ErrUnsupportedChannelConfig, "oto has no inputs")
	}

	if o.ctx == nil {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   setup.SampleRate,
			ChannelCount: setup.Outputs,
			Format:       oto.FormatFloat32LE,
			BufferSize:   time.Duration(setup.BlockSize) * time.Second / time.Duration(setup.SampleRate) * 2,
		})
		if err != nil {
			return nil, device.Setup{}, fmt.Errorf("failed to create oto context: %w", err)
		}
		<-ready
		o.ctx = ctx
		o.rate = setup.SampleRate
		o.channels = setup.Outputs
	} else if o.rate != setup.SampleRate || o.channels != setup.Outputs {
		return nil, device.Setup{}, domain.Errorf(domain.ErrUnsupportedSampleRate,
			"oto context is fixed at %d Hz, %d channels", o.rate, o.channels)
	}

	r := newOtoReader(setup, cb)
	player := o.ctx.NewPlayer(r)
	player.Play()

	return &otoStream{player: player, reader: r}, setup, nil
}

// otoReader pulls blocks from the callback and serves them to oto as
// interleaved float32 little-endian bytes.
type otoReader struct {
	mu       sync.Mutex
	cb       device.Callback
	channels int
	in       [][]float32
	out      [][]float32
	block    []byte
	off      int
	stopped  bool
}

func newOtoReader(setup device.Setup, cb device.Callback) *otoReader {
	out := make([][]float32, setup.Outputs)
	for ch := range out {
		out[ch] = make([]float32, setup.BlockSize)
	}
	return &otoReader{
		cb:       cb,
		channels: setup.Outputs,
		in:       [][]float32{},
		out:      out,
		block:    make([]byte, setup.BlockSize*setup.Outputs*4),
		off:      setup.BlockSize * setup.Outputs * 4,
	}
}

func (r *otoReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for n < len(p) {
		if r.off >= len(r.block) {
			r.render()
		}
		c := copy(p[n:], r.block[r.off:])
		r.off += c
		n += c
	}
	return n, nil
}

func (r *otoReader) render() {
	if r.stopped {
		clear(r.block)
	} else {
		r.cb(r.in, r.out)
		frames := len(r.out[0])
		for i := 0; i < frames; i++ {
			for ch := 0; ch < r.channels; ch++ {
				binary.LittleEndian.PutUint32(r.block[(i*r.channels+ch)*4:], math.Float32bits(r.out[ch][i]))
			}
		}
	}
	r.off = 0
}

func (r *otoReader) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
}

type otoStream struct {
	once   sync.Once
	player *oto.Player
	reader *otoReader
	err    error
}

func (s *otoStream) Close() error {
	s.once.Do(func() {
		s.reader.stop()
		s.player.Pause()
		s.err = s.player.Close()
	})
	return s.err
}
