package audio

import (
	"math"
	"math/rand/v2"
	"time"
)

// SyntheticConfig shapes the generated signal: a steady noise bed with a
// periodic louder tone burst.
type SyntheticConfig struct {
	SampleRate  uint32
	BaseDB      float64
	BurstDB     float64
	BurstFreq   float64
	BurstEvery  time.Duration
	BurstLength time.Duration
	Seed        uint64
}

// DefaultSynthetic returns a 48 kHz signal at -60 dBFS with a -12 dBFS
// burst of 5 s every 2 minutes.
func DefaultSynthetic() SyntheticConfig {
	return SyntheticConfig{
		SampleRate:  48000,
		BaseDB:      -60,
		BurstDB:     -12,
		BurstFreq:   440,
		BurstEvery:  2 * time.Minute,
		BurstLength: 5 * time.Second,
		Seed:        1,
	}
}

// SyntheticContext generates audio instead of capturing it.
type SyntheticContext struct {
	cfg      SyntheticConfig
	realtime bool
}

// NewSyntheticContext creates a generator context.
func NewSyntheticContext(cfg SyntheticConfig, realtime bool) *SyntheticContext {
	return &SyntheticContext{cfg: cfg, realtime: realtime}
}

func (s *SyntheticContext) Devices() ([]Device, error) {
	return []Device{{ID: "synthetic", Name: "synthetic generator"}}, nil
}

func (s *SyntheticContext) NewCapture(_ *Device, config CaptureConfig) (CaptureDevice, error) {
	cfg := s.cfg
	if config.SampleRate != 0 {
		cfg.SampleRate = config.SampleRate
	}
	gen := newGenerator(cfg)
	return &feedCapture{
		name:       "synthetic generator",
		sampleRate: cfg.SampleRate,
		realtime:   s.realtime,
		next:       gen.fill,
	}, nil
}

func (s *SyntheticContext) Close() {}

type generator struct {
	rng        *rand.Rand
	rate       float64
	base       float64 // RMS of the noise bed
	burst      float64 // peak amplitude of the tone
	freq       float64
	period     int64
	length     int64
	sampleTime int64
}

func newGenerator(cfg SyntheticConfig) *generator {
	rate := float64(cfg.SampleRate)
	return &generator{
		rng:  rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)), //nolint:gosec // Test signal, not security sensitive
		rate: rate,
		// Uniform noise in [-a, a] has RMS a/sqrt(3).
		base:   math.Pow(10, cfg.BaseDB/20) * math.Sqrt(3),
		burst:  math.Pow(10, cfg.BurstDB/20) * math.Sqrt2,
		freq:   cfg.BurstFreq,
		period: int64(cfg.BurstEvery.Seconds() * rate),
		length: int64(cfg.BurstLength.Seconds() * rate),
	}
}

func (g *generator) fill(buf []float32) {
	for i := range buf {
		v := (g.rng.Float64()*2 - 1) * g.base
		if g.period > 0 && g.sampleTime%g.period < g.length {
			v += g.burst * math.Sin(2*math.Pi*g.freq*float64(g.sampleTime)/g.rate)
		}
		buf[i] = float32(max(-1, min(1, v)))
		g.sampleTime++
	}
}
