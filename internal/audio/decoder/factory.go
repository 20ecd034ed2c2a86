package decoder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/beak-audio/beak/internal/audio/source"
)

const decodeChunk = 4096

// DecoderFactory manages all available audio decoders
type DecoderFactory struct {
	factories map[string]Factory
}

// NewDecoderFactory creates a new decoder factory with all available decoders
func NewDecoderFactory() *DecoderFactory {
	f := &DecoderFactory{
		factories: make(map[string]Factory),
	}

	f.RegisterFactory(&MP3Factory{})
	f.RegisterFactory(&FLACFactory{})
	f.RegisterFactory(&WAVFactory{})

	return f
}

// RegisterFactory registers a decoder factory for every format it supports
func (f *DecoderFactory) RegisterFactory(factory Factory) {
	for _, format := range factory.SupportedFormats() {
		f.factories[strings.ToLower(format)] = factory
	}
}

func extension(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

// CreateDecoder creates a decoder based on file extension
func (f *DecoderFactory) CreateDecoder(path string, reader io.ReadSeeker) (Decoder, error) {
	ext := extension(path)
	factory, exists := f.factories[ext]
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	return factory.CreateDecoder(reader)
}

// Open opens path and returns a decoder positioned at the first frame.
// Tags found by the generic tag reader are merged into the decoder's own.
func (f *DecoderFactory) Open(path string) (Decoder, error) {
	if !f.SupportsFormat(extension(path)) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, extension(path))
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	tags, _ := ReadMetadata(file)

	dec, err := f.CreateDecoder(path, file)
	if err != nil {
		file.Close()
		return nil, err
	}
	dec.Metadata().merge(tags)
	return dec, nil
}

// DecodeFile decodes path completely into an in-memory clip.
func (f *DecoderFactory) DecodeFile(path string) (*source.Clip, *Metadata, error) {
	dec, err := f.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer dec.Close()

	clip, err := DecodeAll(dec)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	meta := dec.Metadata()
	meta.Duration = clip.Duration()
	if meta.Format == "" {
		meta.Format = dec.Format().Encoding
	}
	return clip, meta, nil
}

// DecodeAll drains dec into a clip at the decoder's native rate.
func DecodeAll(dec Decoder) (*source.Clip, error) {
	format := dec.Format()
	if format.Channels <= 0 || format.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: %d channels at %d Hz", ErrInvalidData, format.Channels, format.SampleRate)
	}

	capacity := decodeChunk
	if n := dec.SampleCount(); n > 0 {
		capacity = int(n)
	}
	out := make([][]float32, format.Channels)
	chunk := make([][]float32, format.Channels)
	for ch := range out {
		out[ch] = make([]float32, 0, capacity)
		chunk[ch] = make([]float32, decodeChunk)
	}

	for {
		n, err := dec.Decode(chunk)
		for ch := range out {
			out[ch] = append(out[ch], chunk[ch][:n]...)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
	}
	return source.NewClip(format.SampleRate, out)
}

// SupportsFormat checks if a format is supported
func (f *DecoderFactory) SupportsFormat(format string) bool {
	format = strings.ToLower(strings.TrimPrefix(format, "."))
	_, exists := f.factories[format]
	return exists
}

// SupportedFormats returns all supported formats, sorted
func (f *DecoderFactory) SupportedFormats() []string {
	formats := make([]string, 0, len(f.factories))
	for format := range f.factories {
		formats = append(formats, format)
	}
	sort.Strings(formats)
	return formats
}

// Global decoder factory instance
var globalFactory = NewDecoderFactory()

// GetDecoderFactory returns the global decoder factory
func GetDecoderFactory() *DecoderFactory {
	return globalFactory
}

// SupportsFile checks if a file format is supported
func SupportsFile(path string) bool {
	return globalFactory.SupportsFormat(extension(path))
}
