// Package analysis holds the pure math of the sweep: frequency sequence
// generation, gain/phase extraction from captured waveforms, and plot
// smoothing. Nothing in here touches hardware.
package analysis

import (
	"errors"
	"math"
)

// Errors returned by the sequence generators.
var (
	ErrInvalidRange = errors.New("analysis: frequencies must satisfy 0 < min < max")
	ErrInvalidCount = errors.New("analysis: point count must be positive")
)

// LogSpace returns count log-spaced frequencies from min to max inclusive,
// strictly increasing, with a constant ratio between neighbours.
func LogSpace(min, max float64, count int) ([]float64, error) {
	if err := validateRange(min, max, count); err != nil {
		return nil, err
	}
	if count == 1 {
		return []float64{min}, nil
	}

	out := make([]float64, count)
	step := math.Log(max/min) / float64(count-1)
	for i := range out {
		out[i] = min * math.Exp(float64(i)*step)
	}
	// Pin the endpoints so accumulated rounding never moves them.
	out[0] = min
	out[count-1] = max
	return out, nil
}

// LinSpace returns count linearly spaced frequencies from min to max
// inclusive.
func LinSpace(min, max float64, count int) ([]float64, error) {
	if err := validateRange(min, max, count); err != nil {
		return nil, err
	}
	if count == 1 {
		return []float64{min}, nil
	}

	out := make([]float64, count)
	step := (max - min) / float64(count-1)
	for i := range out {
		out[i] = min + float64(i)*step
	}
	out[0] = min
	out[count-1] = max
	return out, nil
}

func validateRange(min, max float64, count int) error {
	if min <= 0 || max <= min {
		return ErrInvalidRange
	}
	if count <= 0 {
		return ErrInvalidCount
	}
	return nil
}
