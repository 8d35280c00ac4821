// Package engine connects the capture callback to the noise floor estimator
// and the recording state machine on a fixed tick.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-noisetrigger/internal/audio"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/noisefloor"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/ringbuf"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/trigger"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/types"
)

// Default tick configuration.
const (
	DefaultTickInterval = 250 * time.Millisecond
	DefaultWindow       = 750 * time.Millisecond
	DefaultHistory      = 30 * time.Second
	DefaultPreroll      = 5 * time.Second
)

// ErrInvalidConfig is returned by New for unusable settings.
var ErrInvalidConfig = errors.New("invalid engine configuration")

// Config parameterizes an Engine.
type Config struct {
	SampleRate   int
	TickInterval time.Duration
	// Window is the span of audio measured on every tick.
	Window time.Duration
	// History is the span of audio kept in memory; it bounds Window and Preroll.
	History   time.Duration
	Preroll   time.Duration
	PeakHold  time.Duration
	Estimator noisefloor.Config
	Timing    trigger.Timing
	// Now is the clock used by Run. Defaults to time.Now.
	Now func() time.Time
}

func (c *Config) validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate must be positive, got %d", c.SampleRate))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("tick interval must be positive, got %s", c.TickInterval))
	}
	if c.History <= 0 {
		errs = append(errs, fmt.Errorf("history must be positive, got %s", c.History))
	}
	if c.Window <= 0 || c.Window > c.History {
		errs = append(errs, fmt.Errorf("window must be within (0, %s], got %s", c.History, c.Window))
	}
	if c.Preroll < 0 || c.Preroll > c.History {
		errs = append(errs, fmt.Errorf("preroll must be within [0, %s], got %s", c.History, c.Preroll))
	}
	if err := c.Timing.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
	}
	return nil
}

func (c *Config) samplesFor(d time.Duration) int {
	return int(int64(c.SampleRate) * int64(d) / int64(time.Second))
}

// TickReport is the outcome of one tick.
type TickReport struct {
	Time         time.Time
	CurrentDB    float64
	PeakDB       float64
	NoiseFloor   float64
	Threshold    float64
	Calibrated   bool
	Noise        trigger.NoiseState
	Phase        trigger.Phase
	EventCount   uint64
	FailureCount uint64
	Recording    string
}

// Engine owns the sample history for one capture session.
type Engine struct {
	cfg            Config
	windowSamples  int
	prerollSamples int

	// mu is the producer lock; OnSamples holds it only while copying.
	mu      sync.Mutex
	samples *ringbuf.Buffer[float32]
	total   uint64 // samples ever written
	drained uint64 // value of total at the last Preroll or Fresh
	dropped uint64

	// tickMu serializes consumers.
	tickMu    sync.Mutex
	estimator *noisefloor.Estimator
	machine   *trigger.Machine
	peak      *audio.PeakHolder
	window    []float32

	reportMu sync.RWMutex
	report   TickReport
}

// New creates an engine writing recordings to sink. onEvent receives
// recording lifecycle events on the tick goroutine and may be nil.
func New(cfg Config, sink trigger.Sink, onEvent trigger.EventHandler) (*Engine, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	estimator, err := noisefloor.New(cfg.Estimator)
	if err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}
	samples, err := ringbuf.New[float32](cfg.samplesFor(cfg.History))
	if err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	e := &Engine{
		cfg:            cfg,
		windowSamples:  max(cfg.samplesFor(cfg.Window), 1),
		prerollSamples: cfg.samplesFor(cfg.Preroll),
		samples:        samples,
		estimator:      estimator,
		peak:           audio.NewPeakHolder(cfg.PeakHold),
	}
	e.window = make([]float32, 0, e.windowSamples)
	e.machine = trigger.NewMachine(sink, e, cfg.Timing, cfg.Now(), onEvent)
	e.report = TickReport{
		CurrentDB:  audio.MinDB,
		PeakDB:     audio.MinDB,
		NoiseFloor: estimator.NoiseFloor(),
		Threshold:  estimator.Threshold(),
	}
	return e, nil
}

// OnSamples is the capture callback. It copies data into the history and
// never blocks on I/O.
func (e *Engine) OnSamples(data []float32) {
	e.mu.Lock()
	for _, s := range data {
		e.samples.Put(s)
	}
	e.total += uint64(len(data))
	e.mu.Unlock()
}

// Preroll returns the most recent pre-roll span and marks all captured
// samples as consumed. It implements trigger.AudioSource.
func (e *Engine) Preroll() []float32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.drained = e.total
	return e.samples.OrderedLast(e.prerollSamples)
}

// Fresh returns the samples captured since the previous Preroll or Fresh
// call. Samples already overwritten in the history are counted as dropped.
// It implements trigger.AudioSource.
func (e *Engine) Fresh() []float32 {
	e.mu.Lock()
	defer e.mu.Unlock()

	pending := e.total - e.drained
	e.drained = e.total
	if limit := uint64(e.samples.Cap()); pending > limit {
		lost := pending - limit
		e.dropped += lost
		slog.Warn("recording fell behind capture, samples dropped", "dropped", lost, "total_dropped", e.dropped)
		pending = limit
	}
	return e.samples.OrderedLast(int(pending))
}

// Tick measures the latest window and advances the recorder.
func (e *Engine) Tick(now time.Time) TickReport {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	e.mu.Lock()
	e.window = e.samples.AppendOrderedLast(e.window[:0], e.windowSamples)
	e.mu.Unlock()

	db := audio.Loudness(e.window)
	peak := e.peak.Update(audio.Peak(e.window), now)

	e.estimator.Observe(db)
	e.estimator.RecomputeIfFull()

	noise := e.machine.Update(db, e.estimator.Threshold(), now)
	state := e.machine.State()

	r := TickReport{
		Time:         now,
		CurrentDB:    db,
		PeakDB:       peak,
		NoiseFloor:   e.estimator.NoiseFloor(),
		Threshold:    e.estimator.Threshold(),
		Calibrated:   e.estimator.Calibrated(),
		Noise:        noise,
		Phase:        state.Phase,
		EventCount:   e.machine.EventCount(),
		FailureCount: e.machine.FailureCount(),
		Recording:    e.machine.RecordingPath(),
	}

	e.reportMu.Lock()
	e.report = r
	e.reportMu.Unlock()
	return r
}

// Report returns the result of the most recent tick.
func (e *Engine) Report() TickReport {
	e.reportMu.RLock()
	defer e.reportMu.RUnlock()
	return e.report
}

// Snapshot returns the flat telemetry view of the most recent tick.
func (e *Engine) Snapshot() types.Telemetry {
	r := e.Report()

	e.mu.Lock()
	dropped := e.dropped
	e.mu.Unlock()

	return types.Telemetry{
		Time:           r.Time,
		LevelDB:        r.CurrentDB,
		PeakDB:         r.PeakDB,
		NoiseFloorDB:   r.NoiseFloor,
		ThresholdDB:    r.Threshold,
		Calibrated:     r.Calibrated,
		Noise:          r.Noise.String(),
		Phase:          r.Phase.String(),
		EventCount:     r.EventCount,
		FailureCount:   r.FailureCount,
		Recording:      r.Recording,
		SamplesDropped: dropped,
	}
}

// Levels returns the compact level view of the most recent tick.
func (e *Engine) Levels() types.Levels {
	r := e.Report()
	return types.Levels{
		LevelDB:     r.CurrentDB,
		PeakDB:      r.PeakDB,
		ThresholdDB: r.Threshold,
		Noise:       r.Noise == trigger.Noise,
		Phase:       r.Phase.String(),
	}
}

// TickInterval returns the configured tick period.
func (e *Engine) TickInterval() time.Duration {
	return e.cfg.TickInterval
}

// Close finalizes any open recording.
func (e *Engine) Close() error {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	err := e.machine.Close(e.cfg.Now())

	e.reportMu.Lock()
	e.report.Phase = trigger.Idle
	e.report.Recording = ""
	e.report.FailureCount = e.machine.FailureCount()
	e.reportMu.Unlock()
	return err
}

// Run ticks until ctx is cancelled, then finalizes any open recording.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	slog.Info("engine started",
		"tick", e.cfg.TickInterval,
		"window", e.cfg.Window,
		"history", e.cfg.History,
		"sample_rate", e.cfg.SampleRate)

	for {
		select {
		case <-ctx.Done():
			if err := e.Close(); err != nil {
				return fmt.Errorf("finalize recording on shutdown: %w", err)
			}
			slog.Info("engine stopped")
			return nil
		case <-ticker.C:
			e.Tick(e.cfg.Now())
		}
	}
}
