package audio

import (
	"errors"
	"fmt"
)

// ErrNoAudioDevice is returned when no audio input device is available.
var ErrNoAudioDevice = errors.New("no audio input device found")

// ErrUnknownSource is returned for an unsupported Source value.
var ErrUnknownSource = errors.New("unknown audio source")

// SampleCallback receives mono float32 samples in [-1, 1].
// It runs on the capture thread and must not block; the slice is only
// valid for the duration of the call.
type SampleCallback func(samples []float32)

// CaptureConfig describes the stream requested from a backend.
type CaptureConfig struct {
	SampleRate uint32
}

// Context enumerates devices and opens capture streams for one backend.
type Context interface {
	Devices() ([]Device, error)
	NewCapture(device *Device, config CaptureConfig) (CaptureDevice, error)
	Close()
}

// CaptureDevice is an open mono capture stream.
type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb SampleCallback)
	ClearCallback()
	DeviceName() string
}

// SourceConfig selects and parameterizes a sample source.
type SourceConfig struct {
	Source  Source
	WAVPath string
	// SampleRate applies to the synthetic source; a WAV file has its own rate.
	SampleRate uint32
}

// OpenContext returns the Context for cfg.Source.
func OpenContext(cfg SourceConfig) (Context, error) {
	switch cfg.Source {
	case SourceDevice, "":
		return NewContext()
	case SourceWAV:
		return NewWAVContext(cfg.WAVPath, true)
	case SourceSynthetic:
		synth := DefaultSynthetic()
		if cfg.SampleRate > 0 {
			synth.SampleRate = cfg.SampleRate
		}
		return NewSyntheticContext(synth, true), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, cfg.Source)
	}
}

// ResolveDevice finds the device with the given ID or name.
// An empty id returns nil, which selects the backend default.
func ResolveDevice(ctx Context, id string) (*Device, error) {
	if id == "" {
		return nil, nil
	}
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	for i := range devices {
		if devices[i].ID == id || devices[i].Name == id {
			return &devices[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoAudioDevice, id)
}
