package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-audio/wav"
)

// ErrInvalidWAV is returned when a replay file is not a readable PCM WAV file.
var ErrInvalidWAV = errors.New("invalid wav file")

// WAVContext replays a WAV file as if it were a capture device.
// The first channel is used; after the file ends silence is delivered.
type WAVContext struct {
	path       string
	samples    []float32
	sampleRate uint32
	realtime   bool
}

// NewWAVContext decodes path fully into memory.
func NewWAVContext(path string, realtime bool) (*WAVContext, error) {
	f, err := os.Open(path) //nolint:gosec // Path comes from the operator's config file
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck // Read-only file

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidWAV, path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	channels := int(dec.NumChans)
	if channels == 0 || dec.BitDepth == 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidWAV, path)
	}

	scale := float32(int64(1) << (dec.BitDepth - 1))
	samples := make([]float32, 0, len(buf.Data)/channels)
	for i := 0; i < len(buf.Data); i += channels {
		samples = append(samples, float32(buf.Data[i])/scale)
	}

	return &WAVContext{
		path:       path,
		samples:    samples,
		sampleRate: dec.SampleRate,
		realtime:   realtime,
	}, nil
}

// SampleRate returns the file's sample rate.
func (w *WAVContext) SampleRate() uint32 { return w.sampleRate }

// Len returns the number of decoded mono samples.
func (w *WAVContext) Len() int { return len(w.samples) }

func (w *WAVContext) Devices() ([]Device, error) {
	return []Device{{ID: w.path, Name: filepath.Base(w.path)}}, nil
}

func (w *WAVContext) NewCapture(_ *Device, config CaptureConfig) (CaptureDevice, error) {
	if config.SampleRate != w.sampleRate {
		return nil, fmt.Errorf("%w: file is %d Hz, capture wants %d Hz", ErrInvalidWAV, w.sampleRate, config.SampleRate)
	}
	pos := 0
	return &feedCapture{
		name:       filepath.Base(w.path),
		sampleRate: w.sampleRate,
		realtime:   w.realtime,
		next: func(buf []float32) {
			n := copy(buf, w.samples[pos:])
			pos += n
			clear(buf[n:])
		},
	}, nil
}

func (w *WAVContext) Close() {}
