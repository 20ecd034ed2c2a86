package source

import (
	"fmt"

	"github.com/faiface/beep"
)

// ResampleQuality is the beep resampler quality used when converting clips
// to the device rate.
const ResampleQuality = 4

const streamChunk = 4096

// Streamer adapts a beep.Streamer to Source. beep streams are always two
// channels wide; a mono format reads only the left channel.
type Streamer struct {
	s        beep.Streamer
	format   beep.Format
	scratch  [][2]float64
	pos      int
	finished bool
}

// FromStreamer wraps s. The scratch buffer is allocated here so Read never
// allocates.
func FromStreamer(s beep.Streamer, format beep.Format) *Streamer {
	if format.NumChannels <= 0 || format.NumChannels > 2 {
		format.NumChannels = 2
	}
	return &Streamer{
		s:       s,
		format:  format,
		scratch: make([][2]float64, streamChunk),
	}
}

func (b *Streamer) Channels() int   { return b.format.NumChannels }
func (b *Streamer) SampleRate() int { return int(b.format.SampleRate) }

func (b *Streamer) Read(dst [][]float32) int {
	if len(dst) == 0 || b.finished {
		return 0
	}
	want := len(dst[0])
	done := 0
	for done < want {
		chunk := want - done
		if chunk > len(b.scratch) {
			chunk = len(b.scratch)
		}
		n, ok := b.s.Stream(b.scratch[:chunk])
		for i := 0; i < n; i++ {
			dst[0][done+i] = float32(b.scratch[i][0])
			if len(dst) > 1 {
				dst[1][done+i] = float32(b.scratch[i][1])
			}
		}
		done += n
		if !ok || n < chunk {
			b.finished = true
			break
		}
	}
	b.pos += done
	return done
}

func (b *Streamer) Len() int {
	if ss, ok := b.s.(beep.StreamSeeker); ok {
		return ss.Len()
	}
	return -1
}

func (b *Streamer) Position() int {
	if ss, ok := b.s.(beep.StreamSeeker); ok {
		return ss.Position()
	}
	return b.pos
}

func (b *Streamer) Seek(frame int) error {
	ss, ok := b.s.(beep.StreamSeeker)
	if !ok {
		return fmt.Errorf("streamer is not seekable")
	}
	if err := ss.Seek(frame); err != nil {
		return err
	}
	b.pos = frame
	b.finished = false
	return nil
}

// Err reports the error of the underlying streamer, if any.
func (b *Streamer) Err() error { return b.s.Err() }

func (b *Streamer) Close() error {
	if c, ok := b.s.(beep.StreamCloser); ok {
		return c.Close()
	}
	return nil
}

// pairStreamer streams two channels of a clip as a beep.StreamSeeker.
type pairStreamer struct {
	left, right []float32
	pos         int
}

func (p *pairStreamer) Stream(samples [][2]float64) (int, bool) {
	if p.pos >= len(p.left) {
		return 0, false
	}
	n := copyPairs(samples, p.left[p.pos:], p.right[p.pos:])
	p.pos += n
	return n, true
}

func copyPairs(samples [][2]float64, left, right []float32) int {
	n := len(samples)
	if len(left) < n {
		n = len(left)
	}
	for i := 0; i < n; i++ {
		samples[i][0] = float64(left[i])
		samples[i][1] = float64(right[i])
	}
	return n
}

func (p *pairStreamer) Err() error    { return nil }
func (p *pairStreamer) Len() int      { return len(p.left) }
func (p *pairStreamer) Position() int { return p.pos }

func (p *pairStreamer) Seek(frame int) error {
	if frame < 0 || frame > len(p.left) {
		return fmt.Errorf("seek position %d out of range", frame)
	}
	p.pos = frame
	return nil
}

// Streamer returns a beep view of the clip's first two channels, starting
// at its current position. A mono clip is duplicated on both sides.
func (c *Clip) Streamer() beep.StreamSeeker {
	right := c.samples[0]
	if len(c.samples) > 1 {
		right = c.samples[1]
	}
	return &pairStreamer{left: c.samples[0], right: right, pos: c.Position()}
}

// Format describes the clip in beep terms.
func (c *Clip) Format() beep.Format {
	channels := len(c.samples)
	if channels > 2 {
		channels = 2
	}
	return beep.Format{SampleRate: beep.SampleRate(c.rate), NumChannels: channels, Precision: 4}
}

// Resample converts clip to rate with beep's resampler, two channels at a
// time. The result is a new clip; the input is left untouched.
func Resample(clip *Clip, rate int) (*Clip, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("invalid target sample rate %d", rate)
	}
	if clip.rate == rate {
		return clip, nil
	}

	out := make([][]float32, len(clip.samples))
	expected := int(int64(clip.Len())*int64(rate)/int64(clip.rate)) + 1
	buf := make([][2]float64, streamChunk)

	for ch := 0; ch < len(clip.samples); ch += 2 {
		left := clip.samples[ch]
		right := left
		stereo := ch+1 < len(clip.samples)
		if stereo {
			right = clip.samples[ch+1]
		}
		r := beep.Resample(ResampleQuality, beep.SampleRate(clip.rate), beep.SampleRate(rate),
			&pairStreamer{left: left, right: right})

		l := make([]float32, 0, expected)
		rr := make([]float32, 0, expected)
		for {
			n, ok := r.Stream(buf)
			for i := 0; i < n; i++ {
				l = append(l, float32(buf[i][0]))
				rr = append(rr, float32(buf[i][1]))
			}
			if !ok || n == 0 {
				break
			}
		}
		if err := r.Err(); err != nil {
			return nil, fmt.Errorf("resample channels %d-%d: %w", ch, ch+1, err)
		}
		out[ch] = l
		if stereo {
			out[ch+1] = rr
		}
	}
	return NewClip(rate, out)
}

// Drain reads src to the end into a new clip. Sources of unknown length are
// cut at maxFrames; maxFrames <= 0 means no limit.
func Drain(src Source, maxFrames int) (*Clip, error) {
	if c, ok := src.(*Clip); ok {
		return c, nil
	}
	channels := src.Channels()
	if channels <= 0 {
		return nil, fmt.Errorf("source has no channels")
	}
	if src.Len() < 0 && maxFrames <= 0 {
		return nil, fmt.Errorf("source has unknown length")
	}

	out := make([][]float32, channels)
	chunk := make([][]float32, channels)
	for ch := range chunk {
		chunk[ch] = make([]float32, streamChunk)
	}
	total := 0
	for maxFrames <= 0 || total < maxFrames {
		view := chunk
		if maxFrames > 0 && maxFrames-total < streamChunk {
			view = make([][]float32, channels)
			for ch := range view {
				view[ch] = chunk[ch][:maxFrames-total]
			}
		}
		n := src.Read(view)
		for ch := range out {
			out[ch] = append(out[ch], view[ch][:n]...)
		}
		total += n
		if n < len(view[0]) {
			break
		}
	}
	if total == 0 {
		for ch := range out {
			out[ch] = []float32{}
		}
	}
	return NewClip(src.SampleRate(), out)
}
