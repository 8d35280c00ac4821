package audio

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu      sync.Mutex
	samples []float32
}

func (c *collector) add(s []float32) {
	c.mu.Lock()
	c.samples = append(c.samples, s...)
	c.mu.Unlock()
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.samples)
}

func (c *collector) snapshot() []float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]float32(nil), c.samples...)
}

func writeTestWAV(t *testing.T, rate int, data []int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
	return path
}

func TestWAVContextReplaysSamples(t *testing.T) {
	data := make([]int, 3000)
	for i := range data {
		data[i] = 16384
	}
	path := writeTestWAV(t, 8000, data)

	ctx, err := NewWAVContext(path, false)
	require.NoError(t, err)
	defer ctx.Close()
	assert.Equal(t, uint32(8000), ctx.SampleRate())
	assert.Equal(t, 3000, ctx.Len())

	_, err = ctx.NewCapture(nil, CaptureConfig{SampleRate: 16000})
	require.ErrorIs(t, err, ErrInvalidWAV)

	dev, err := ctx.NewCapture(nil, CaptureConfig{SampleRate: 8000})
	require.NoError(t, err)
	var got collector
	dev.SetCallback(got.add)
	require.NoError(t, dev.Start())
	require.Eventually(t, func() bool { return got.len() >= 4096 }, 2*time.Second, 5*time.Millisecond)
	dev.Stop()
	dev.Close()

	samples := got.snapshot()
	assert.InDelta(t, 0.5, samples[0], 1e-6)
	assert.InDelta(t, 0.5, samples[2999], 1e-6)
	assert.Zero(t, samples[3000])
}

func TestWAVContextRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	require.NoError(t, os.WriteFile(path, []byte("not a wav file at all"), 0o600))

	_, err := NewWAVContext(path, false)
	assert.ErrorIs(t, err, ErrInvalidWAV)
}

func TestSyntheticLevels(t *testing.T) {
	cfg := DefaultSynthetic()
	cfg.SampleRate = 8000
	cfg.BurstEvery = 2 * time.Second
	cfg.BurstLength = time.Second

	gen := newGenerator(cfg)
	burst := make([]float32, 8000)
	gen.fill(burst)
	quiet := make([]float32, 8000)
	gen.fill(quiet)

	assert.InDelta(t, -12, Loudness(burst), 0.5)
	assert.InDelta(t, -60, Loudness(quiet), 0.5)
}

func TestOpenContext(t *testing.T) {
	ctx, err := OpenContext(SourceConfig{Source: SourceSynthetic})
	require.NoError(t, err)
	defer ctx.Close()

	dev, err := ResolveDevice(ctx, "synthetic")
	require.NoError(t, err)
	assert.Equal(t, "synthetic generator", dev.Name)

	_, err = ResolveDevice(ctx, "missing")
	assert.ErrorIs(t, err, ErrNoAudioDevice)

	_, err = OpenContext(SourceConfig{Source: "tape"})
	assert.ErrorIs(t, err, ErrUnknownSource)
}
