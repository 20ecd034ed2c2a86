package audio

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/beak-audio/beak/internal/audio/device"
	"github.com/beak-audio/beak/internal/audio/graph"
	"github.com/beak-audio/beak/internal/audio/source"
	"github.com/beak-audio/beak/internal/config"
	"github.com/beak-audio/beak/internal/domain"
)

var playbackConfig = NewConfig().WithInputs(0).WithOutputs(2).WithSampleRate(48000)

func newEngine(t *testing.T, opts Options) (*Engine, *device.Dummy) {
	t.Helper()
	backend := device.NewDummy()
	opts.Backend = backend
	e, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e, backend
}

func shortClip(t *testing.T, frames int) *source.Clip {
	t.Helper()
	samples := [][]float32{make([]float32, frames)}
	for i := range samples[0] {
		samples[0][i] = 0.25
	}
	c, err := source.NewClip(48000, samples)
	require.NoError(t, err)
	return c
}

func TestNew_RequiresBackend(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestEngine_PlayShortClip(t *testing.T) {
	e, backend := newEngine(t, Options{})
	g := e.State().Graph

	require.NoError(t, e.Configure(playbackConfig))
	assert.Equal(t, 2, g.NodeCount())

	require.NoError(t, e.PlaySource(shortClip(t, 1000), 0, "short"))
	require.Equal(t, 3, g.NodeCount())

	var voice graph.NodeID
	for _, id := range g.Nodes() {
		if id != g.InputNode() && id != g.OutputNode() {
			voice = id
		}
	}
	assert.True(t, g.HasConnection(graph.Connection{Source: voice, SourceChannel: 0, Dest: g.OutputNode(), DestChannel: 0}))

	stream := backend.Stream()
	out := stream.Tick(1)
	assert.InDelta(t, 0.25, out[0][100], 1e-6)
	assert.InDelta(t, 0.25, out[1][100], 1e-6, "mono is duplicated to the next channel")

	// 1000 frames end inside the second 512-frame block.
	stream.Tick(1)
	assert.Equal(t, 1, e.Dispatcher().Reap())
	assert.Equal(t, 2, g.NodeCount())
	assert.Empty(t, g.Connections())
}

func TestEngine_BlockAlignedClipEndsWithItsLastBlock(t *testing.T) {
	e, backend := newEngine(t, Options{})
	g := e.State().Graph
	require.NoError(t, e.Configure(playbackConfig))

	require.NoError(t, e.PlaySource(shortClip(t, 1024), 0, "aligned"))
	stream := backend.Stream()

	stream.Tick(1)
	assert.Zero(t, e.Dispatcher().Reap())
	assert.Equal(t, 3, g.NodeCount())

	stream.Tick(1)
	assert.Equal(t, 1, e.Dispatcher().Reap())
	assert.Equal(t, 2, g.NodeCount())
}

func TestEngine_DefaultSettingsOnOutputOnlyDevice(t *testing.T) {
	backend := device.NewDummy(device.Info{
		Name:              "System Output",
		MaxOutputs:        2,
		DefaultSampleRate: 44100,
		IsDefault:         true,
	})
	e, err := New(Options{Backend: backend})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	settings, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	require.NoError(t, e.Configure(ConfigFromSettings(settings.AudioSnapshot())))
	applied := e.State().Applied()
	assert.Equal(t, "System Output", applied.Device)
	assert.Zero(t, applied.Inputs)
	assert.Equal(t, 2, applied.Outputs)
}

func TestEngine_RunReapsInBackground(t *testing.T) {
	e, backend := newEngine(t, Options{ReapInterval: 5 * time.Millisecond, WatchInterval: time.Hour})
	require.NoError(t, e.Configure(playbackConfig))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.NoError(t, e.PlaySource(shortClip(t, 600), 1, "ping"))
	stream := backend.Stream()
	stream.Tick(2)

	// The reaped source is closed once a later block has been rendered.
	assert.Eventually(t, func() bool {
		stream.Tick(1)
		return e.State().Graph.NodeCount() == 2 && e.Dispatcher().Pending() == 0
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
}

func TestEngine_ConfigureIsIdempotent(t *testing.T) {
	e, backend := newEngine(t, Options{})
	g := e.State().Graph

	require.NoError(t, e.Configure(playbackConfig))
	nodes, conns := g.Nodes(), g.Connections()
	setup, _ := e.State().Devices.Current()

	require.NoError(t, e.Configure(playbackConfig))
	again, _ := e.State().Devices.Current()
	assert.Equal(t, nodes, g.Nodes())
	assert.Equal(t, conns, g.Connections())
	assert.Equal(t, setup, again)
	assert.Equal(t, 2, backend.Opens())

	cfg, ok := e.Config()
	require.True(t, ok)
	assert.Equal(t, playbackConfig, cfg)
	assert.Equal(t, setup, e.State().Applied())
}

func TestEngine_ConfigureStopsPlayback(t *testing.T) {
	e, backend := newEngine(t, Options{})
	g := e.State().Graph
	require.NoError(t, e.Configure(playbackConfig))

	src := shortClip(t, 48000)
	require.NoError(t, e.PlaySource(src, 0, "long"))
	backend.Stream().Tick(1)

	require.NoError(t, e.Configure(playbackConfig.WithOutputs(4)))
	assert.Equal(t, 2, g.NodeCount())
	assert.Zero(t, e.Dispatcher().Active())

	// The new stream may not have rendered yet, so the old source stays
	// open until the callback moves past the snapshot that held it.
	assert.Equal(t, 1, e.Dispatcher().Pending())
	backend.Stream().Tick(1)
	e.Dispatcher().Reap()
	assert.Zero(t, e.Dispatcher().Pending())
	assert.Zero(t, src.Read([][]float32{make([]float32, 8)}), "source closed")
}

func TestEngine_ConfigureErrors(t *testing.T) {
	e, _ := newEngine(t, Options{})
	g := e.State().Graph

	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"unknown device", playbackConfig.WithDeviceName("Studio Monitors"), domain.ErrDeviceNotFound},
		{"too many outputs", playbackConfig.WithOutputs(32), domain.ErrUnsupportedChannelConfig},
		{"negative inputs", playbackConfig.WithInputs(-1), domain.ErrUnsupportedChannelConfig},
		{"odd sample rate", playbackConfig.WithSampleRate(12345), domain.ErrUnsupportedSampleRate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.Configure(tt.cfg)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, domain.IsDeviceError(err))
		})
	}

	_, ok := e.Config()
	assert.False(t, ok)
	assert.Zero(t, g.NodeCount())

	err := e.PlaySource(shortClip(t, 10), 0, "early")
	assert.ErrorIs(t, err, domain.ErrNotConfigured)
}

func TestEngine_FailedConfigureKeepsGraph(t *testing.T) {
	e, _ := newEngine(t, Options{})
	g := e.State().Graph
	require.NoError(t, e.Configure(playbackConfig))
	require.NoError(t, e.PlaySource(shortClip(t, 48000), 0, "keeps going"))
	epoch := g.Snapshot().Epoch()

	err := e.Configure(playbackConfig.WithSampleRate(11025))
	assert.ErrorIs(t, err, domain.ErrUnsupportedSampleRate)
	assert.Equal(t, epoch, g.Snapshot().Epoch())
	assert.Equal(t, 3, g.NodeCount())
	assert.True(t, e.State().Devices.Active())
}

func TestEngine_InvalidChannelDoesNotMutate(t *testing.T) {
	e, _ := newEngine(t, Options{})
	g := e.State().Graph
	require.NoError(t, e.Configure(playbackConfig))

	err := e.PlaySource(shortClip(t, 10), 2, "off the end")
	assert.ErrorIs(t, err, domain.ErrInvalidChannelIndex)
	err = e.PlaySound("does-not-matter.wav", 7)
	assert.ErrorIs(t, err, domain.ErrInvalidChannelIndex)
	assert.Equal(t, 2, g.NodeCount())
}

func TestEngine_PlaySoundDecodeError(t *testing.T) {
	e, _ := newEngine(t, Options{})
	require.NoError(t, e.Configure(playbackConfig))

	err := e.PlaySound("/nonexistent/bell.flac", 0)
	assert.ErrorIs(t, err, domain.ErrDecode)
	assert.Equal(t, domain.CodeDecode, domain.KindOf(err))
}

func TestEngine_ConcurrentPlaySound(t *testing.T) {
	const players = 24
	e, _ := newEngine(t, Options{MaxTransients: players})
	g := e.State().Graph
	require.NoError(t, e.Configure(playbackConfig.WithOutputs(4)))

	clips := make([]*source.Clip, players)
	for i := range clips {
		clips[i] = shortClip(t, 4800)
	}

	var eg errgroup.Group
	for i := 0; i < players; i++ {
		i := i
		eg.Go(func() error { return e.PlaySource(clips[i], i%4, "voice") })
	}
	require.NoError(t, eg.Wait())

	assert.Equal(t, players+2, g.NodeCount())
	assert.Equal(t, players, e.Dispatcher().Active())

	perNode := make(map[graph.NodeID]int)
	for _, c := range g.Connections() {
		assert.Equal(t, g.OutputNode(), c.Dest)
		perNode[c.Source]++
	}
	assert.Len(t, perNode, players)
	// Channel 3 is the last output, so mono voices there get one connection.
	assert.Len(t, g.Connections(), players/4*(2+2+2+1))
}

func TestEngine_ReconfiguresAfterDeviceLoss(t *testing.T) {
	e, backend := newEngine(t, Options{WatchInterval: 5 * time.Millisecond})
	require.NoError(t, e.Configure(playbackConfig))

	var mu sync.Mutex
	var events []Event
	e.AddListener(func(ev Event, _ interface{}) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = e.Run(ctx) }()

	// Let the watcher take its baseline.
	time.Sleep(30 * time.Millisecond)
	backend.Unplug(device.DummyDevice.Name)

	select {
	case err := <-e.Errors():
		assert.ErrorIs(t, err, domain.ErrDeviceNotFound)
	case <-time.After(2 * time.Second):
		t.Fatal("reconfiguration error not reported")
	}
	assert.False(t, e.State().Devices.Active())

	backend.Plug(device.DummyDevice)
	assert.Eventually(t, e.State().Devices.Active, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, e.State().Graph.NodeCount())

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, events, EventDeviceChanged)
	assert.Contains(t, events, EventError)
	assert.Contains(t, events, EventConfigured)
}

func TestEngine_DeviceListChangedNeverBlocks(t *testing.T) {
	e, _ := newEngine(t, Options{})
	for i := 0; i < 10; i++ {
		e.DeviceListChanged()
	}
}

func TestEngine_CloseIsIdempotent(t *testing.T) {
	e, backend := newEngine(t, Options{})
	require.NoError(t, e.Configure(playbackConfig))
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	assert.True(t, backend.Stream().Closed())
}

func TestEvent_String(t *testing.T) {
	assert.Equal(t, "configured", EventConfigured.String())
	assert.Equal(t, "device_changed", EventDeviceChanged.String())
	assert.Equal(t, "sound_started", EventSoundStarted.String())
	assert.Equal(t, "error", EventError.String())
	assert.Equal(t, "unknown", Event(42).String())
}
