package decoder

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

// FLACDecoder implements the Decoder interface for FLAC files
type FLACDecoder struct {
	BaseDecoder
	stream *flac.Stream
	reader io.ReadSeeker
	frame  *frame.Frame
	offset int
	eof    bool
}

// NewFLACDecoder creates a new FLAC decoder
func NewFLACDecoder(reader io.ReadSeeker) (*FLACDecoder, error) {
	stream, err := flac.Parse(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: flac: %v", ErrInvalidData, err)
	}

	info := stream.Info
	if info.NChannels == 0 || info.SampleRate == 0 {
		return nil, fmt.Errorf("%w: flac: empty stream info", ErrInvalidData)
	}

	sampleCount := int64(info.NSamples)
	if sampleCount == 0 {
		sampleCount = -1
	}

	return &FLACDecoder{
		BaseDecoder: BaseDecoder{
			format: AudioFormat{
				SampleRate: int(info.SampleRate),
				Channels:   int(info.NChannels),
				BitDepth:   int(info.BitsPerSample),
				Encoding:   "flac",
			},
			metadata:    vorbisMetadata(stream.Blocks),
			sampleCount: sampleCount,
		},
		stream: stream,
		reader: reader,
	}, nil
}

func vorbisMetadata(blocks []*meta.Block) *Metadata {
	m := &Metadata{}
	for _, block := range blocks {
		comment, ok := block.Body.(*meta.VorbisComment)
		if !ok {
			continue
		}
		for _, tag := range comment.Tags {
			switch strings.ToUpper(tag[0]) {
			case "TITLE":
				m.Title = tag[1]
			case "ARTIST":
				m.Artist = tag[1]
			case "ALBUM":
				m.Album = tag[1]
			case "GENRE":
				m.Genre = tag[1]
			}
		}
	}
	return m
}

// Decode reads and decodes audio data into dst
func (d *FLACDecoder) Decode(dst [][]float32) (int, error) {
	if d.eof {
		return 0, io.EOF
	}
	if len(dst) == 0 {
		return 0, nil
	}

	scale := float32(int64(1) << (d.format.BitDepth - 1))
	want := len(dst[0])
	done := 0
	for done < want {
		if d.frame == nil || d.offset >= int(d.frame.BlockSize) {
			f, err := d.stream.ParseNext()
			if errors.Is(err, io.EOF) {
				d.eof = true
				break
			}
			if err != nil {
				return done, fmt.Errorf("failed to parse FLAC frame: %w", err)
			}
			d.frame = f
			d.offset = 0
		}

		n := int(d.frame.BlockSize) - d.offset
		if n > want-done {
			n = want - done
		}
		for ch := 0; ch < len(dst) && ch < len(d.frame.Subframes); ch++ {
			samples := d.frame.Subframes[ch].Samples[d.offset : d.offset+n]
			for i, s := range samples {
				dst[ch][done+i] = float32(s) / scale
			}
		}
		d.offset += n
		done += n
	}

	if done == 0 && d.eof {
		return 0, io.EOF
	}
	return done, nil
}

// Close closes the decoder
func (d *FLACDecoder) Close() error {
	if closer, ok := d.reader.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// FLACFactory creates FLAC decoders
type FLACFactory struct{}

func (f *FLACFactory) CreateDecoder(reader io.ReadSeeker) (Decoder, error) {
	return NewFLACDecoder(reader)
}

func (f *FLACFactory) SupportedFormats() []string {
	return []string{"flac"}
}
