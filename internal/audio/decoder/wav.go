package decoder

import (
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVDecoder implements the Decoder interface for PCM WAV files. The PCM
// chunk is read in one pass on the first Decode.
type WAVDecoder struct {
	BaseDecoder
	reader  io.ReadSeeker
	decoder *wav.Decoder
	pcm     *audio.IntBuffer
	pos     int // frames consumed
}

// NewWAVDecoder creates a new WAV decoder
func NewWAVDecoder(reader io.ReadSeeker) (*WAVDecoder, error) {
	decoder := wav.NewDecoder(reader)
	if !decoder.IsValidFile() {
		if err := decoder.Err(); err != nil {
			return nil, fmt.Errorf("%w: wav: %v", ErrInvalidData, err)
		}
		return nil, fmt.Errorf("%w: wav: not a valid file", ErrInvalidData)
	}

	return &WAVDecoder{
		BaseDecoder: BaseDecoder{
			format: AudioFormat{
				SampleRate: int(decoder.SampleRate),
				Channels:   int(decoder.NumChans),
				BitDepth:   int(decoder.BitDepth),
				Encoding:   "wav",
			},
			sampleCount: -1,
		},
		reader:  reader,
		decoder: decoder,
	}, nil
}

func (d *WAVDecoder) load() error {
	if d.pcm != nil {
		return nil
	}
	buf, err := d.decoder.FullPCMBuffer()
	if err != nil {
		return fmt.Errorf("%w: wav: %v", ErrInvalidData, err)
	}
	d.pcm = buf
	d.sampleCount = int64(len(buf.Data) / d.format.Channels)
	return nil
}

// SampleCount is known only after the PCM chunk has been read.
func (d *WAVDecoder) SampleCount() int64 {
	if err := d.load(); err != nil {
		return -1
	}
	return d.sampleCount
}

// Decode reads and decodes audio data into dst
func (d *WAVDecoder) Decode(dst [][]float32) (int, error) {
	if err := d.load(); err != nil {
		return 0, err
	}
	if len(dst) == 0 {
		return 0, nil
	}
	channels := d.format.Channels
	rest := d.pcm.Data[d.pos*channels:]
	if len(rest) == 0 {
		return 0, io.EOF
	}
	n := deinterleaveInts(dst, 0, rest, channels, d.format.BitDepth)
	d.pos += n
	return n, nil
}

// Close closes the decoder
func (d *WAVDecoder) Close() error {
	if closer, ok := d.reader.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// WAVFactory creates WAV decoders
type WAVFactory struct{}

func (f *WAVFactory) CreateDecoder(reader io.ReadSeeker) (Decoder, error) {
	return NewWAVDecoder(reader)
}

func (f *WAVFactory) SupportedFormats() []string {
	return []string{"wav", "wave"}
}
