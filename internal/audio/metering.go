// Package audio provides mono level metering and the audio capture backends
// that feed the recorder.
package audio

import "math"

// MinDB is the floor for every decibel value reported by this package.
// Silence, empty windows and non-finite input all map to it.
const MinDB = -120.0

// RMS returns the root-mean-square amplitude of samples.
// An empty window has no energy and returns 0.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// ToDecibel converts a linear amplitude (full scale = 1.0) to dBFS.
// Non-positive or non-finite amplitudes return MinDB.
func ToDecibel(amplitude float64) float64 {
	if amplitude <= 0 || math.IsNaN(amplitude) || math.IsInf(amplitude, 0) {
		return MinDB
	}
	return max(20*math.Log10(amplitude), MinDB)
}

// Loudness returns the RMS level of samples in dBFS.
func Loudness(samples []float32) float64 {
	return ToDecibel(RMS(samples))
}

// Peak returns the absolute peak level of samples in dBFS.
func Peak(samples []float32) float64 {
	var peak float64
	for _, s := range samples {
		if v := math.Abs(float64(s)); v > peak {
			peak = v
		}
	}
	return ToDecibel(peak)
}

// Sanitize replaces NaN and infinite decibel values with MinDB.
func Sanitize(db float64) float64 {
	if math.IsNaN(db) || math.IsInf(db, 0) {
		return MinDB
	}
	return max(db, MinDB)
}
