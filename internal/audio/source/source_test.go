package source

import (
	"math"
	"testing"
	"time"

	"github.com/faiface/beep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ramp(n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = float32(i)
	}
	return s
}

func frames(channels, n int) [][]float32 {
	dst := make([][]float32, channels)
	for ch := range dst {
		dst[ch] = make([]float32, n)
	}
	return dst
}

func TestNewClip_Validation(t *testing.T) {
	_, err := NewClip(0, [][]float32{{1}})
	assert.Error(t, err)
	_, err = NewClip(44100, nil)
	assert.Error(t, err)
	_, err = NewClip(44100, [][]float32{{1, 2}, {1}})
	assert.Error(t, err)
}

func TestClip_ReadToEnd(t *testing.T) {
	clip, err := NewClip(8000, [][]float32{ramp(10), ramp(10)})
	require.NoError(t, err)
	assert.Equal(t, 2, clip.Channels())
	assert.Equal(t, 10, clip.Len())

	dst := frames(2, 4)
	assert.Equal(t, 4, clip.Read(dst))
	assert.Equal(t, []float32{0, 1, 2, 3}, dst[1])
	assert.Equal(t, 4, clip.Read(dst))
	assert.Equal(t, 2, clip.Read(dst))
	assert.Equal(t, []float32{8, 9}, dst[0][:2])
	assert.Equal(t, 0, clip.Read(dst))
	assert.Equal(t, 10, clip.Position())
}

func TestClip_SeekAndClose(t *testing.T) {
	clip, err := NewClip(8000, [][]float32{ramp(10)})
	require.NoError(t, err)

	require.NoError(t, clip.Seek(7))
	dst := frames(1, 8)
	assert.Equal(t, 3, clip.Read(dst))
	assert.Error(t, clip.Seek(11))
	assert.Error(t, clip.Seek(-1))

	require.NoError(t, clip.Seek(0))
	require.NoError(t, clip.Close())
	assert.Equal(t, 0, clip.Read(dst))
}

func TestClip_Duration(t *testing.T) {
	clip, err := NewClip(1000, [][]float32{make([]float32, 1500)})
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, clip.Duration())
}

func TestTone_FiniteLength(t *testing.T) {
	tone := NewTone(440, 10*time.Millisecond, 48000, 2)
	assert.Equal(t, 480, tone.Len())

	dst := frames(2, 256)
	total := 0
	for {
		n := tone.Read(dst)
		if n == 0 {
			break
		}
		total += n
	}
	assert.Equal(t, 480, total)
	assert.Equal(t, dst[0][0], dst[1][0])
}

func TestTone_Waveform(t *testing.T) {
	tone := NewTone(1000, 0, 8000, 1).WithAmplitude(1)
	assert.Equal(t, -1, tone.Len())

	dst := frames(1, 8)
	require.Equal(t, 8, tone.Read(dst))
	for i, v := range dst[0] {
		want := math.Sin(2 * math.Pi * 1000 * float64(i) / 8000)
		assert.InDelta(t, want, v, 1e-5)
	}

	require.NoError(t, tone.Seek(0))
	assert.Equal(t, 0, tone.Position())
}

func TestStreamer_ReadsBeepStream(t *testing.T) {
	clip, err := NewClip(8000, [][]float32{ramp(5000), ramp(5000)})
	require.NoError(t, err)

	s := FromStreamer(clip.Streamer(), clip.Format())
	assert.Equal(t, 2, s.Channels())
	assert.Equal(t, 8000, s.SampleRate())
	assert.Equal(t, 5000, s.Len())

	dst := frames(2, 4500)
	assert.Equal(t, 4500, s.Read(dst))
	assert.Equal(t, float32(4499), dst[1][4499])
	assert.Equal(t, 500, s.Read(dst))
	assert.Equal(t, 0, s.Read(dst))

	require.NoError(t, s.Seek(10))
	assert.Equal(t, 10, s.Position())
	assert.Equal(t, 4500, s.Read(dst))
	assert.Equal(t, float32(10), dst[0][0])
}

func TestStreamer_Silence(t *testing.T) {
	s := FromStreamer(beep.Silence(100), beep.Format{SampleRate: 44100, NumChannels: 1, Precision: 2})
	assert.Equal(t, 1, s.Channels())
	assert.Equal(t, -1, s.Len())

	dst := frames(1, 64)
	assert.Equal(t, 64, s.Read(dst))
	assert.Equal(t, 36, s.Read(dst))
	assert.Equal(t, 0, s.Read(dst))
	assert.Error(t, s.Seek(0))
}

func TestResample_ChangesLength(t *testing.T) {
	in := make([]float32, 4410)
	for i := range in {
		in[i] = 0.25
	}
	clip, err := NewClip(44100, [][]float32{in})
	require.NoError(t, err)

	out, err := Resample(clip, 48000)
	require.NoError(t, err)
	assert.Equal(t, 48000, out.SampleRate())
	assert.Equal(t, 1, out.Channels())
	assert.InDelta(t, 4800, out.Len(), 16)
	assert.InDelta(t, 0.25, out.Samples()[0][out.Len()/2], 1e-3)

	same, err := Resample(clip, 44100)
	require.NoError(t, err)
	assert.Same(t, clip, same)
}

func TestResample_OddChannelCount(t *testing.T) {
	clip, err := NewClip(22050, [][]float32{ramp(100), ramp(100), ramp(100)})
	require.NoError(t, err)

	out, err := Resample(clip, 44100)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Channels())
	assert.InDelta(t, 200, out.Len(), 8)
}

func TestDrain(t *testing.T) {
	tone := NewTone(440, 100*time.Millisecond, 10000, 2)
	clip, err := Drain(tone, 0)
	require.NoError(t, err)
	assert.Equal(t, 1000, clip.Len())
	assert.Equal(t, 2, clip.Channels())

	endless := NewTone(440, 0, 10000, 1)
	_, err = Drain(endless, 0)
	assert.Error(t, err)

	cut, err := Drain(endless, 5000)
	require.NoError(t, err)
	assert.Equal(t, 5000, cut.Len())
}
