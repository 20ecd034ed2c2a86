package decoder

import (
	"errors"
	"io"
	"time"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrInvalidData       = errors.New("invalid audio data")
)

// AudioFormat represents the format of decoded audio
type AudioFormat struct {
	SampleRate int    // Sample rate in Hz (e.g., 44100)
	Channels   int    // Number of channels (1 = mono, 2 = stereo)
	BitDepth   int    // Bits per sample of the source (e.g., 16, 24)
	Encoding   string // Container or codec name (e.g., "mp3", "flac")
}

// Decoder is the interface for all audio decoders
type Decoder interface {
	// Decode reads up to len(dst[0]) frames into dst, one slice per channel.
	// It returns io.EOF once the stream is exhausted.
	Decode(dst [][]float32) (int, error)

	// Format returns the audio format of the decoded stream
	Format() AudioFormat

	// Metadata returns tags embedded in the stream, never nil
	Metadata() *Metadata

	// SampleCount returns the total number of frames, or -1 if unknown
	SampleCount() int64

	// Close closes the decoder and releases resources
	Close() error
}

// Factory creates decoders for one family of formats
type Factory interface {
	// CreateDecoder creates a decoder for the given reader
	CreateDecoder(reader io.ReadSeeker) (Decoder, error)

	// SupportedFormats returns a list of supported file extensions
	SupportedFormats() []string
}

// BaseDecoder provides common functionality for decoders
type BaseDecoder struct {
	format      AudioFormat
	metadata    *Metadata
	sampleCount int64
}

func (d *BaseDecoder) Format() AudioFormat {
	return d.format
}

func (d *BaseDecoder) Metadata() *Metadata {
	if d.metadata == nil {
		d.metadata = &Metadata{}
	}
	return d.metadata
}

func (d *BaseDecoder) SampleCount() int64 {
	return d.sampleCount
}

func (d *BaseDecoder) Duration() time.Duration {
	if d.format.SampleRate == 0 || d.sampleCount < 0 {
		return 0
	}
	return time.Duration(d.sampleCount) * time.Second / time.Duration(d.format.SampleRate)
}

// deinterleaveInts splits interleaved int samples of the given bit depth into dst,
// starting at frame offset off. It returns the number of frames written.
func deinterleaveInts(dst [][]float32, off int, data []int, channels, bitDepth int) int {
	if channels <= 0 {
		return 0
	}
	scale := float32(int64(1) << (bitDepth - 1))
	frames := len(data) / channels
	if room := len(dst[0]) - off; frames > room {
		frames = room
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels && ch < len(dst); ch++ {
			dst[ch][off+i] = float32(data[i*channels+ch]) / scale
		}
	}
	return frames
}
