// Package trigger decides when to open, extend and close recordings based on
// a debounced noise/quiet classification.
package trigger

import (
	"errors"
	"time"
)

// Default timing values.
const (
	DefaultDebounce = 750 * time.Millisecond
	DefaultHold     = 30 * time.Second
)

// ErrInvalidTiming is returned by Timing.Validate.
var ErrInvalidTiming = errors.New("invalid trigger timing")

// NoiseState is the classification of a single loudness reading.
type NoiseState int

// Noise classifications.
const (
	Quiet NoiseState = iota
	Noise
)

func (n NoiseState) String() string {
	if n == Noise {
		return "noise"
	}
	return "quiet"
}

// MarshalText implements encoding.TextMarshaler.
func (n NoiseState) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// Phase is the recording lifecycle stage.
type Phase int

// Recording phases.
const (
	Idle Phase = iota
	PreRoll
	Recording
	PostRoll
)

var phaseNames = [...]string{"idle", "preroll", "recording", "postroll"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Timing holds the configurable durations of the phase machine.
type Timing struct {
	// Debounce is how long noise must persist before a recording starts.
	Debounce time.Duration
	// Hold is how long quiet must persist before a recording stops.
	Hold time.Duration
	// MaxDuration splits long recordings into segments. Zero disables it.
	MaxDuration time.Duration
}

// DefaultTiming returns the default debounce and hold with no segment limit.
func DefaultTiming() Timing {
	return Timing{Debounce: DefaultDebounce, Hold: DefaultHold}
}

// Validate rejects negative durations and a zero hold.
func (t Timing) Validate() error {
	switch {
	case t.Debounce < 0:
		return errors.Join(ErrInvalidTiming, errors.New("debounce must not be negative"))
	case t.Hold <= 0:
		return errors.Join(ErrInvalidTiming, errors.New("hold must be positive"))
	case t.MaxDuration < 0:
		return errors.Join(ErrInvalidTiming, errors.New("max duration must not be negative"))
	}
	return nil
}

// State is the full state of the phase machine.
type State struct {
	Noise           NoiseState
	Phase           Phase
	LastNoiseChange time.Time
	LastPhaseChange time.Time
	// SegmentStart is when the current recording segment was opened.
	SegmentStart time.Time
}

// NewState returns an idle, quiet state anchored at now.
func NewState(now time.Time) State {
	return State{Noise: Quiet, Phase: Idle, LastNoiseChange: now, LastPhaseChange: now}
}

// Input is one tick's classification.
type Input struct {
	Noise NoiseState
	Now   time.Time
}

// Effect is a side effect requested from the sink by Step.
type Effect int

// Sink effects, applied in the order returned.
const (
	// EffectOpen opens a new recording and flushes pre-roll history into it.
	EffectOpen Effect = iota + 1
	// EffectAppend appends samples captured since the previous tick.
	EffectAppend
	// EffectFinalize closes the open recording.
	EffectFinalize
	// EffectRotate closes the open recording and opens the next segment.
	EffectRotate
)

func (e Effect) String() string {
	switch e {
	case EffectOpen:
		return "open"
	case EffectAppend:
		return "append"
	case EffectFinalize:
		return "finalize"
	case EffectRotate:
		return "rotate"
	default:
		return "none"
	}
}

// Classify returns Noise when db is strictly above threshold.
func Classify(db, threshold float64) NoiseState {
	if db > threshold {
		return Noise
	}
	return Quiet
}

// Step advances s by one tick. Elapsed times are measured from the last
// classification change, so debounce and hold both require the current
// classification to have been sustained.
func Step(s State, in Input, t Timing) (State, []Effect) {
	if in.Noise != s.Noise {
		s.Noise = in.Noise
		s.LastNoiseChange = in.Now
	}
	sustained := in.Now.Sub(s.LastNoiseChange)

	setPhase := func(p Phase) {
		s.Phase = p
		s.LastPhaseChange = in.Now
	}

	switch s.Phase {
	case Idle:
		if s.Noise == Noise && sustained >= t.Debounce {
			setPhase(PreRoll)
		}
		return s, nil

	case PreRoll:
		setPhase(Recording)
		s.SegmentStart = in.Now
		return s, []Effect{EffectOpen}

	case Recording:
		if s.Noise == Quiet && sustained >= t.Hold {
			setPhase(PostRoll)
			return s, []Effect{EffectAppend, EffectFinalize}
		}
		if t.MaxDuration > 0 && in.Now.Sub(s.SegmentStart) >= t.MaxDuration {
			s.SegmentStart = in.Now
			return s, []Effect{EffectAppend, EffectRotate}
		}
		return s, []Effect{EffectAppend}

	case PostRoll:
		setPhase(Idle)
		return s, nil
	}

	panic("trigger: unknown phase " + s.Phase.String())
}
