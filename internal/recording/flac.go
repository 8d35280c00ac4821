package recording

import (
	"errors"
	"fmt"
	"os"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

const (
	flacBlockSize     = 4096
	flacBitsPerSample = 16
)

// flacWriter writes 16-bit mono FLAC in blocks of flacBlockSize samples.
// Samples are buffered until a block is complete; the tail is flushed on close.
type flacWriter struct {
	file       *os.File
	enc        *flac.Encoder
	sampleRate uint32
	pending    []int32
	written    uint64
}

func newFLACWriter(file *os.File, sampleRate int) (*flacWriter, error) {
	info := &meta.StreamInfo{
		BlockSizeMin:  16,
		BlockSizeMax:  flacBlockSize,
		SampleRate:    uint32(sampleRate), //nolint:gosec // Sample rate is validated positive
		NChannels:     1,
		BitsPerSample: flacBitsPerSample,
	}
	enc, err := flac.NewEncoder(file, info)
	if err != nil {
		return nil, fmt.Errorf("creating flac encoder: %w", err)
	}
	enc.EnablePredictionAnalysis(true)
	return &flacWriter{
		file:       file,
		enc:        enc,
		sampleRate: info.SampleRate,
		pending:    make([]int32, 0, flacBlockSize),
	}, nil
}

func (w *flacWriter) write(samples []float32) error {
	for _, s := range samples {
		w.pending = append(w.pending, int32(toPCM16(s))) //nolint:gosec // toPCM16 stays within int16
		if len(w.pending) == flacBlockSize {
			if err := w.flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *flacWriter) flush() error {
	if len(w.pending) == 0 {
		return nil
	}
	block := make([]int32, len(w.pending))
	copy(block, w.pending)
	w.pending = w.pending[:0]

	f := &frame.Frame{
		Header: frame.Header{
			// Blocks may be short at the end, so frames carry their first sample number.
			HasFixedBlockSize: false,
			Num:               w.written,
			BlockSize:         uint16(len(block)), //nolint:gosec // Bounded by flacBlockSize
			SampleRate:        w.sampleRate,
			Channels:          frame.ChannelsMono,
			BitsPerSample:     flacBitsPerSample,
		},
		Subframes: []*frame.Subframe{{
			SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
			Samples:   block,
			NSamples:  len(block),
		}},
	}
	if err := w.enc.WriteFrame(f); err != nil {
		return fmt.Errorf("writing flac frame: %w", err)
	}
	w.written += uint64(len(block))
	return nil
}

func (w *flacWriter) close() error {
	flushErr := w.flush()
	encErr := w.enc.Close()
	// The encoder may already have closed the file.
	fileErr := w.file.Close()
	if errors.Is(fileErr, os.ErrClosed) {
		fileErr = nil
	}
	return errors.Join(flushErr, encErr, fileErr)
}
