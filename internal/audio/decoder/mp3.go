package decoder

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// MP3Decoder implements the Decoder interface for MP3 files. go-mp3 always
// produces 16-bit little-endian stereo.
type MP3Decoder struct {
	BaseDecoder
	reader  io.ReadSeeker
	decoder *mp3.Decoder
	buffer  []byte
	eof     bool
}

// NewMP3Decoder creates a new MP3 decoder
func NewMP3Decoder(reader io.ReadSeeker) (*MP3Decoder, error) {
	decoder, err := mp3.NewDecoder(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: mp3: %v", ErrInvalidData, err)
	}

	sampleCount := int64(-1)
	if length := decoder.Length(); length >= 0 {
		sampleCount = length / 4 // 2 channels * 2 bytes per sample
	}

	return &MP3Decoder{
		BaseDecoder: BaseDecoder{
			format: AudioFormat{
				SampleRate: decoder.SampleRate(),
				Channels:   2,
				BitDepth:   16,
				Encoding:   "mp3",
			},
			sampleCount: sampleCount,
		},
		reader:  reader,
		decoder: decoder,
		buffer:  make([]byte, 4096*4),
	}, nil
}

// Decode reads and decodes audio data into dst
func (d *MP3Decoder) Decode(dst [][]float32) (int, error) {
	if d.eof {
		return 0, io.EOF
	}
	if len(dst) == 0 || len(dst[0]) == 0 {
		return 0, nil
	}

	want := len(dst[0])
	done := 0
	for done < want {
		chunk := (want - done) * 4
		if chunk > len(d.buffer) {
			chunk = len(d.buffer)
		}
		n, err := io.ReadFull(d.decoder, d.buffer[:chunk])
		frames := n / 4
		for i := 0; i < frames; i++ {
			l := int16(binary.LittleEndian.Uint16(d.buffer[i*4:]))
			r := int16(binary.LittleEndian.Uint16(d.buffer[i*4+2:]))
			dst[0][done+i] = float32(l) / 32768.0
			if len(dst) > 1 {
				dst[1][done+i] = float32(r) / 32768.0
			}
		}
		done += frames

		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			d.eof = true
			break
		}
		if err != nil {
			return done, fmt.Errorf("failed to decode MP3: %w", err)
		}
	}

	if done == 0 && d.eof {
		return 0, io.EOF
	}
	return done, nil
}

// Close closes the decoder
func (d *MP3Decoder) Close() error {
	if closer, ok := d.reader.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// MP3Factory creates MP3 decoders
type MP3Factory struct{}

func (f *MP3Factory) CreateDecoder(reader io.ReadSeeker) (Decoder, error) {
	return NewMP3Decoder(reader)
}

func (f *MP3Factory) SupportedFormats() []string {
	return []string{"mp3"}
}
