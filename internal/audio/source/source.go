// Package source provides positionable sample streams that can be played
// through the engine: decoded clips, generated tones and beep streamers.
package source

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Source is a positionable stream of non-interleaved float32 frames.
//
// Read fills dst (one slice per channel, all of equal length) starting at
// the current position and returns the number of frames written. A return
// smaller than len(dst[0]) means the stream ended; 0 means it is exhausted.
// Read is called from the audio callback and must not block or allocate.
type Source interface {
	Channels() int
	SampleRate() int
	Read(dst [][]float32) int
	// Len is the total number of frames, or -1 if unknown.
	Len() int
	Position() int
	Seek(frame int) error
	Close() error
}

// Duration converts a frame count at rate into a time.Duration.
func Duration(frames, rate int) time.Duration {
	if rate <= 0 || frames < 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(rate)
}

// Clip is a fully decoded, in-memory source.
type Clip struct {
	rate    int
	samples [][]float32
	pos     atomic.Int64
	closed  atomic.Bool
}

// NewClip wraps per-channel sample slices. All channels must be the same
// length.
func NewClip(sampleRate int, samples [][]float32) (*Clip, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("clip has no channels")
	}
	for ch := range samples {
		if len(samples[ch]) != len(samples[0]) {
			return nil, fmt.Errorf("channel %d has %d frames, expected %d", ch, len(samples[ch]), len(samples[0]))
		}
	}
	return &Clip{rate: sampleRate, samples: samples}, nil
}

func (c *Clip) Channels() int   { return len(c.samples) }
func (c *Clip) SampleRate() int { return c.rate }
func (c *Clip) Len() int        { return len(c.samples[0]) }
func (c *Clip) Position() int   { return int(c.pos.Load()) }

func (c *Clip) Duration() time.Duration {
	return Duration(c.Len(), c.rate)
}

// Samples exposes the underlying channel data. Callers must not modify it.
func (c *Clip) Samples() [][]float32 { return c.samples }

func (c *Clip) Read(dst [][]float32) int {
	if len(dst) == 0 || c.closed.Load() {
		return 0
	}
	pos := int(c.pos.Load())
	n := len(c.samples[0]) - pos
	if n <= 0 {
		return 0
	}
	if n > len(dst[0]) {
		n = len(dst[0])
	}
	for ch := 0; ch < len(dst) && ch < len(c.samples); ch++ {
		copy(dst[ch][:n], c.samples[ch][pos:pos+n])
	}
	c.pos.Store(int64(pos + n))
	return n
}

func (c *Clip) Seek(frame int) error {
	if frame < 0 || frame > c.Len() {
		return fmt.Errorf("seek position %d out of range [0, %d]", frame, c.Len())
	}
	c.pos.Store(int64(frame))
	return nil
}

func (c *Clip) Close() error {
	c.closed.Store(true)
	return nil
}
