package trigger

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-noisetrigger/internal/util"
)

// Retry delays applied after a recording failed. A new recording is not
// started before the delay elapses; the delay doubles until a recording
// completes successfully.
const (
	retryInitialDelay = 5 * time.Second
	retryMaxDelay     = 5 * time.Minute
)

// Handle is an open audio file.
type Handle interface {
	Append(samples []float32) error
	Finalize() error
	Path() string
}

// Sink creates recordings.
type Sink interface {
	Open(start time.Time) (Handle, error)
}

// AudioSource supplies the samples that go into a recording.
type AudioSource interface {
	// Preroll returns recent history to prepend to a new recording and
	// marks everything up to now as consumed.
	Preroll() []float32
	// Fresh returns the samples captured since the previous Preroll or Fresh call.
	Fresh() []float32
}

// EventKind identifies a recording lifecycle event.
type EventKind string

// Recording lifecycle events.
const (
	EventStarted  EventKind = "recording_started"
	EventFinished EventKind = "recording_finished"
	EventFailed   EventKind = "recording_failed"
)

// Event describes a recording lifecycle change.
type Event struct {
	Kind       EventKind
	Time       time.Time
	Path       string
	Duration   time.Duration
	EventCount uint64
	Rotated    bool
	Err        error
	// LevelDB and ThresholdDB are the reading of the update that produced the event.
	LevelDB     float64
	ThresholdDB float64
}

// EventHandler receives events on the tick goroutine and must not block.
type EventHandler func(Event)

// Machine applies Step to a live sink. It is safe for concurrent use.
type Machine struct {
	mu      sync.Mutex
	state   State
	timing  Timing
	sink    Sink
	source  AudioSource
	onEvent EventHandler

	rec      Handle
	recStart time.Time

	// reading passed to the current Update, attached to emitted events
	levelDB     float64
	thresholdDB float64

	events   uint64
	failures uint64
	backoff  *util.Backoff
	retryAt  time.Time
}

// NewMachine creates an idle machine. onEvent may be nil.
func NewMachine(sink Sink, source AudioSource, timing Timing, now time.Time, onEvent EventHandler) *Machine {
	return &Machine{
		state:   NewState(now),
		timing:  timing,
		sink:    sink,
		source:  source,
		onEvent: onEvent,
		backoff: util.NewBackoff(retryInitialDelay, retryMaxDelay),
	}
}

// Update classifies db against threshold, advances the phase machine and
// applies the resulting effects. Sink failures are absorbed: the recording
// is abandoned, the failure counter incremented and the phase reset to Idle.
func (m *Machine) Update(db, threshold float64, now time.Time) NoiseState {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.levelDB, m.thresholdDB = db, threshold
	noise := Classify(db, threshold)
	next, effects := Step(m.state, Input{Noise: noise, Now: now}, m.timing)

	if m.state.Phase == Idle && next.Phase == PreRoll && now.Before(m.retryAt) {
		next.Phase = Idle
		next.LastPhaseChange = m.state.LastPhaseChange
	}
	m.state = next

	for _, e := range effects {
		if err := m.apply(e, now); err != nil {
			break
		}
	}
	return noise
}

func (m *Machine) apply(e Effect, now time.Time) error {
	switch e {
	case EffectOpen:
		return m.open(now, true)

	case EffectAppend:
		m.mustBeRecording(e)
		if err := m.rec.Append(m.source.Fresh()); err != nil {
			m.abort(now, "append to", err)
			return err
		}

	case EffectFinalize:
		m.mustBeRecording(e)
		return m.finalize(now, false)

	case EffectRotate:
		m.mustBeRecording(e)
		if err := m.finalize(now, true); err != nil {
			return err
		}
		return m.open(now, false)
	}
	return nil
}

func (m *Machine) mustBeRecording(e Effect) {
	if m.rec == nil {
		panic("trigger: " + e.String() + " without an open recording")
	}
}

func (m *Machine) open(now time.Time, withPreroll bool) error {
	if m.rec != nil {
		panic("trigger: open while a recording is already open")
	}

	rec, err := m.sink.Open(now)
	if err != nil {
		m.fail(now, "", "open", err)
		return err
	}
	m.rec = rec
	m.recStart = now

	var samples []float32
	if withPreroll {
		samples = m.source.Preroll()
		if err := rec.Append(samples); err != nil {
			m.abort(now, "write pre-roll to", err)
			return err
		}
		m.events++
	}

	slog.Info("recording started", "path", rec.Path(), "event_count", m.events, "preroll_samples", len(samples))
	m.emit(Event{Kind: EventStarted, Time: now, Path: rec.Path(), EventCount: m.events, Rotated: !withPreroll})
	return nil
}

func (m *Machine) finalize(now time.Time, rotated bool) error {
	rec, start := m.rec, m.recStart
	m.rec = nil
	if err := rec.Finalize(); err != nil {
		m.fail(now, rec.Path(), "finalize", err)
		return err
	}

	m.backoff.Reset()
	m.retryAt = time.Time{}

	d := now.Sub(start)
	slog.Info("recording finalized", "path", rec.Path(), "duration", util.FormatDuration(d), "rotated", rotated)
	m.emit(Event{Kind: EventFinished, Time: now, Path: rec.Path(), Duration: d, EventCount: m.events, Rotated: rotated})
	return nil
}

// abort finalizes the open recording once, ignoring its error, and records the failure.
func (m *Machine) abort(now time.Time, op string, cause error) {
	rec := m.rec
	m.rec = nil
	if err := rec.Finalize(); err != nil {
		slog.Warn("failed to finalize aborted recording", "path", rec.Path(), "error", err)
	}
	m.fail(now, rec.Path(), op, cause)
}

func (m *Machine) fail(now time.Time, path, op string, cause error) {
	m.failures++
	m.state.Phase = Idle
	m.state.LastPhaseChange = now
	m.retryAt = now.Add(m.backoff.Next())

	err := util.WrapError(op+" recording", cause)
	slog.Warn("recording failed", "path", path, "failures", m.failures, "error", err)
	m.emit(Event{Kind: EventFailed, Time: now, Path: path, EventCount: m.events, Err: err})
}

func (m *Machine) emit(e Event) {
	if m.onEvent != nil {
		e.LevelDB, e.ThresholdDB = m.levelDB, m.thresholdDB
		m.onEvent(e)
	}
}

// Close appends any remaining samples to an open recording, finalizes it
// and returns the machine to Idle.
func (m *Machine) Close(now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	defer func() {
		m.state.Phase = Idle
		m.state.LastPhaseChange = now
	}()

	if m.rec == nil {
		return nil
	}

	rec := m.rec
	appendErr := rec.Append(m.source.Fresh())
	if err := m.finalize(now, false); err != nil {
		return errors.Join(appendErr, err)
	}
	return appendErr
}

// State returns a copy of the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// EventCount returns how many recordings were started from Idle.
func (m *Machine) EventCount() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events
}

// FailureCount returns how many recordings failed to open, write or close.
func (m *Machine) FailureCount() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures
}

// RecordingPath returns the path of the open recording, or "" when idle.
func (m *Machine) RecordingPath() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rec == nil {
		return ""
	}
	return m.rec.Path()
}
