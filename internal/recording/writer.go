package recording

import (
	"math"
)

// sampleWriter encodes mono float32 samples into a container.
type sampleWriter interface {
	write(samples []float32) error
	close() error
}

// toPCM16 converts a sample in [-1, 1] to a signed 16-bit value.
func toPCM16(v float32) int {
	x := float64(v)
	switch {
	case math.IsNaN(x):
		return 0
	case x > 1:
		x = 1
	case x < -1:
		x = -1
	}
	return int(math.Round(x * math.MaxInt16))
}
