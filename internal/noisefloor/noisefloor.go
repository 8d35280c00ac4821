// Package noisefloor adapts the detection threshold to the ambient level
// using quantiles of recent loudness readings.
package noisefloor

import (
	"errors"
	"fmt"
	"slices"

	"github.com/oszuidwest/zwfm-noisetrigger/internal/audio"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/ringbuf"
)

// DefaultMarginDB is added to the 90th percentile to form the threshold.
const DefaultMarginDB = 6.0

// ErrInvalidWindow is returned when the rolling window size is not positive.
var ErrInvalidWindow = errors.New("noise floor window must be positive")

// Config parameterizes an Estimator.
type Config struct {
	// Window is the number of readings in the rolling history.
	Window int
	// MarginDB is added to the 90th percentile.
	MarginDB float64
	// FallbackThresholdDB is used until the window has filled once.
	FallbackThresholdDB float64
	// FallbackFloorDB is reported as the noise floor until the window has filled once.
	FallbackFloorDB float64
}

// Estimator tracks a rolling history of loudness readings.
// It is not safe for concurrent use.
type Estimator struct {
	history    *ringbuf.Buffer[float64]
	margin     float64
	floor      float64
	threshold  float64
	calibrated bool
	scratch    []float64
}

// New creates an estimator that reports the fallback values until its
// window has filled.
func New(cfg Config) (*Estimator, error) {
	history, err := ringbuf.New[float64](cfg.Window)
	if err != nil {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWindow, cfg.Window)
	}
	return &Estimator{
		history:   history,
		margin:    cfg.MarginDB,
		floor:     audio.Sanitize(cfg.FallbackFloorDB),
		threshold: cfg.FallbackThresholdDB,
		scratch:   make([]float64, 0, cfg.Window),
	}, nil
}

// Observe records one loudness reading. Non-finite values are stored as audio.MinDB.
func (e *Estimator) Observe(db float64) {
	e.history.Put(audio.Sanitize(db))
}

// RecomputeIfFull derives the noise floor (median) and threshold (90th
// percentile plus margin) from the history once it has filled. It reports
// whether the derived values were updated.
func (e *Estimator) RecomputeIfFull() bool {
	if !e.history.IsFull() {
		return false
	}
	v := e.history.AppendUnordered(e.scratch[:0])
	slices.Sort(v)
	e.floor = v[len(v)*5/10]
	e.threshold = v[len(v)*9/10] + e.margin
	e.calibrated = true
	e.scratch = v
	return true
}

// NoiseFloor returns the current median loudness or the fallback floor.
func (e *Estimator) NoiseFloor() float64 { return e.floor }

// Threshold returns the current detection threshold or the fallback threshold.
func (e *Estimator) Threshold() float64 { return e.threshold }

// Calibrated reports whether the derived values come from a full window.
func (e *Estimator) Calibrated() bool { return e.calibrated }

// Observed returns how many readings are held, up to the window size.
func (e *Estimator) Observed() int { return e.history.Len() }

// Window returns the rolling window size.
func (e *Estimator) Window() int { return e.history.Cap() }
