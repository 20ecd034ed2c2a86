package source

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"
)

// Tone generates a sine wave, duplicated on every channel.
type Tone struct {
	frequency float64
	amplitude float32
	rate      int
	channels  int
	length    int // frames, -1 for endless
	index     atomic.Int64
}

// NewTone creates a tone of the given frequency and duration. A zero or
// negative duration produces an endless tone.
func NewTone(frequency float64, duration time.Duration, sampleRate, channels int) *Tone {
	if channels <= 0 {
		channels = 1
	}
	length := -1
	if duration > 0 {
		length = int(int64(duration) * int64(sampleRate) / int64(time.Second))
	}
	return &Tone{
		frequency: frequency,
		amplitude: 0.5,
		rate:      sampleRate,
		channels:  channels,
		length:    length,
	}
}

// WithAmplitude sets the peak amplitude, clamped to [0, 1].
func (t *Tone) WithAmplitude(a float32) *Tone {
	t.amplitude = float32(math.Max(0, math.Min(1, float64(a))))
	return t
}

func (t *Tone) Channels() int   { return t.channels }
func (t *Tone) SampleRate() int { return t.rate }
func (t *Tone) Len() int        { return t.length }
func (t *Tone) Position() int   { return int(t.index.Load()) }
func (t *Tone) Close() error    { return nil }

func (t *Tone) Read(dst [][]float32) int {
	if len(dst) == 0 {
		return 0
	}
	start := int(t.index.Load())
	n := len(dst[0])
	if t.length >= 0 && start+n > t.length {
		n = t.length - start
	}
	if n <= 0 {
		return 0
	}

	step := 2 * math.Pi * t.frequency / float64(t.rate)
	for i := 0; i < n; i++ {
		v := t.amplitude * float32(math.Sin(step*float64(start+i)))
		for ch := range dst {
			dst[ch][i] = v
		}
	}
	t.index.Store(int64(start + n))
	return n
}

func (t *Tone) Seek(frame int) error {
	if frame < 0 || (t.length >= 0 && frame > t.length) {
		return fmt.Errorf("seek position %d out of range", frame)
	}
	t.index.Store(int64(frame))
	return nil
}
