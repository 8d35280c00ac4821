package recording

import (
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavBitDepth = 16

// wavWriter writes 16-bit mono PCM WAV. The header is patched with the
// final sizes on close.
type wavWriter struct {
	file   *os.File
	enc    *wav.Encoder
	format *audio.Format
	buf    []int
}

func newWAVWriter(file *os.File, sampleRate int) *wavWriter {
	return &wavWriter{
		file:   file,
		enc:    wav.NewEncoder(file, sampleRate, wavBitDepth, 1, 1),
		format: &audio.Format{NumChannels: 1, SampleRate: sampleRate},
	}
}

func (w *wavWriter) write(samples []float32) error {
	if len(samples) == 0 {
		return nil
	}
	w.buf = w.buf[:0]
	for _, s := range samples {
		w.buf = append(w.buf, toPCM16(s))
	}
	return w.enc.Write(&audio.IntBuffer{
		Format:         w.format,
		Data:           w.buf,
		SourceBitDepth: wavBitDepth,
	})
}

func (w *wavWriter) close() error {
	if err := w.enc.Close(); err != nil {
		_ = w.file.Close()
		return fmt.Errorf("wav header: %w", err)
	}
	return w.file.Close()
}
