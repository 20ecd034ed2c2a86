package decoder

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/dhowden/tag"
)

// Metadata contains track metadata extracted from the audio file
type Metadata struct {
	Title    string
	Artist   string
	Album    string
	Genre    string
	Year     int
	Format   string
	Duration time.Duration
}

// ReadMetadata reads ID3/Vorbis/MP4 tags from r and rewinds it.
func ReadMetadata(r io.ReadSeeker) (*Metadata, error) {
	defer r.Seek(0, io.SeekStart)

	m, err := tag.ReadFrom(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read tags: %w", err)
	}
	return &Metadata{
		Title:  m.Title(),
		Artist: m.Artist(),
		Album:  m.Album(),
		Genre:  m.Genre(),
		Year:   m.Year(),
		Format: string(m.Format()),
	}, nil
}

// merge fills empty fields of m from other.
func (m *Metadata) merge(other *Metadata) {
	if other == nil {
		return
	}
	if m.Title == "" {
		m.Title = other.Title
	}
	if m.Artist == "" {
		m.Artist = other.Artist
	}
	if m.Album == "" {
		m.Album = other.Album
	}
	if m.Genre == "" {
		m.Genre = other.Genre
	}
	if m.Year == 0 {
		m.Year = other.Year
	}
}

// DisplayName is "Artist - Title", the title alone, or the file name
// without extension when the file carries no title.
func (m *Metadata) DisplayName(path string) string {
	if m != nil && m.Title != "" {
		if m.Artist != "" {
			return m.Artist + " - " + m.Title
		}
		return m.Title
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
