package analysis

import (
	"errors"
	"fmt"
	"math"

	"github.com/bkoppe/bode/pkg/models"
)

// NoiseFloorV is the minimum input amplitude (volts peak) accepted as a real
// excitation. Below it, a gain ratio would just amplify noise.
const NoiseFloorV = 1e-3

// nyquistGuard marks measurements above this fraction of the capture's
// Nyquist frequency as low confidence.
const nyquistGuard = 0.8

// ErrInsufficientSignal is returned when the captured input amplitude sits
// below the noise floor. Retrying at the same settings cannot help.
var ErrInsufficientSignal = errors.New("analysis: input signal below noise floor")

// Measurement is the reduction of one captured waveform pair.
type Measurement struct {
	// GainDB is 20*log10(output amplitude / input amplitude).
	GainDB float64
	// PhaseDeg is the output phase minus the input phase in degrees,
	// normalized to (-180, 180]. Positive means the output leads.
	PhaseDeg float64
	// LowConfidence is set when the excitation frequency exceeds 80% of
	// the capture's Nyquist frequency.
	LowConfidence bool
	// InputAmplitudeV and OutputAmplitudeV are the recovered sine
	// amplitudes in volts peak.
	InputAmplitudeV  float64
	OutputAmplitudeV float64
}

// Extract computes gain and phase at the known excitation frequency from a
// synchronized waveform pair. It is pure: equal inputs always produce equal
// outputs.
//
// Amplitude and phase come from correlating each waveform with a sine and
// cosine at freqHz over an integer number of periods (a single-bin DFT),
// which rejects DC offset and uncorrelated noise.
func Extract(in, out models.Waveform, freqHz float64) (Measurement, error) {
	var m Measurement

	if freqHz <= 0 {
		return m, fmt.Errorf("analysis: frequency must be positive, got %g", freqHz)
	}
	if len(in.Volts) == 0 || len(out.Volts) == 0 {
		return m, fmt.Errorf("analysis: empty waveform")
	}
	if in.SampleInterval <= 0 || out.SampleInterval <= 0 {
		return m, fmt.Errorf("analysis: sample interval must be positive")
	}

	inAmp, inPhase := correlate(in, freqHz)
	outAmp, outPhase := correlate(out, freqHz)

	if inAmp < NoiseFloorV {
		return m, fmt.Errorf("input amplitude %.4g V at %g Hz: %w", inAmp, freqHz, ErrInsufficientSignal)
	}

	m.InputAmplitudeV = inAmp
	m.OutputAmplitudeV = outAmp
	m.GainDB = 20 * math.Log10(outAmp/inAmp)
	m.PhaseDeg = NormalizeDegrees(outPhase - inPhase)
	m.LowConfidence = freqHz > nyquistGuard*in.Nyquist() || freqHz > nyquistGuard*out.Nyquist()
	return m, nil
}

// correlate recovers amplitude (volts peak) and phase (degrees) of the
// component at freqHz, windowed to an integer number of periods so the
// estimate is unbiased by partial cycles.
func correlate(w models.Waveform, freqHz float64) (amplitude, phaseDeg float64) {
	samplesPerPeriod := 1 / (freqHz * w.SampleInterval)
	n := len(w.Volts)
	if whole := int(math.Floor(float64(n)/samplesPerPeriod) * samplesPerPeriod); whole >= 2 {
		n = whole
	}

	// Remove the mean over the window; with a partial final cycle the DC
	// term would otherwise leak into the bin.
	mean := 0.0
	for _, v := range w.Volts[:n] {
		mean += v
	}
	mean /= float64(n)

	var sinSum, cosSum float64
	omega := 2 * math.Pi * freqHz * w.SampleInterval
	for i := 0; i < n; i++ {
		v := w.Volts[i] - mean
		sinSum += v * math.Sin(omega*float64(i))
		cosSum += v * math.Cos(omega*float64(i))
	}

	// For v(t) = A*sin(2*pi*f*t + phi): the sine correlation carries
	// A*cos(phi), the cosine correlation A*sin(phi).
	scale := 2 / float64(n)
	amplitude = scale * math.Hypot(sinSum, cosSum)
	phaseDeg = math.Atan2(cosSum, sinSum) * 180 / math.Pi
	return amplitude, phaseDeg
}

// NormalizeDegrees maps an angle to (-180, 180].
func NormalizeDegrees(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg > 180 {
		deg -= 360
	} else if deg <= -180 {
		deg += 360
	}
	return deg
}
