package models

import (
	"time"

	"github.com/google/uuid"
)

// Waveform holds the samples of one scope channel from a single acquisition.
// Samples are voltages taken at a fixed interval; both channels of an
// acquisition share the same interval and start instant, so index i on one
// waveform lines up with index i on the other.
type Waveform struct {
	// SampleInterval is the time between consecutive samples in seconds.
	SampleInterval float64
	// Volts holds the sampled voltages in acquisition order.
	Volts []float64
}

// Duration returns the time span covered by the waveform in seconds.
func (w Waveform) Duration() float64 {
	if len(w.Volts) == 0 {
		return 0
	}
	return float64(len(w.Volts)-1) * w.SampleInterval
}

// Nyquist returns the highest frequency representable at the waveform's
// sample rate, in Hz.
func (w Waveform) Nyquist() float64 {
	if w.SampleInterval <= 0 {
		return 0
	}
	return 0.5 / w.SampleInterval
}

// Time returns the instant of sample i relative to the start of the
// acquisition, in seconds.
func (w Waveform) Time(i int) float64 {
	return float64(i) * w.SampleInterval
}

// MeasurementResult represents one successfully measured frequency point.
type MeasurementResult struct {
	// Frequency is the excitation frequency in Hz.
	Frequency float64 `json:"frequency"`
	// GainDB is the output/input amplitude ratio in dB.
	GainDB float64 `json:"gain_db"`
	// PhaseDeg is the output phase relative to the input in degrees,
	// normalized to (-180, 180]. Nil when phase measurement is disabled.
	PhaseDeg *float64 `json:"phase_deg,omitempty"`
	// LowConfidence marks points measured near the Nyquist limit of the
	// capture, where the amplitude and phase estimates degrade.
	LowConfidence bool `json:"low_confidence,omitempty"`
}

// FailedPoint records a frequency that could not be measured and why.
type FailedPoint struct {
	Frequency float64 `json:"frequency"`
	Reason    string  `json:"reason"`
}

// PointStatus tracks a frequency point through the sweep state machine.
type PointStatus string

const (
	StatusPending     PointStatus = "pending"
	StatusConfiguring PointStatus = "configuring"
	StatusCapturing   PointStatus = "capturing"
	StatusExtracting  PointStatus = "extracting"
	StatusRecorded    PointStatus = "recorded"
	StatusFailed      PointStatus = "failed"
)

// SweepReport is the immutable outcome of a sweep: the recorded results in
// ascending frequency order plus the points that failed. Points that could
// not be measured are absent from Results, never interpolated.
type SweepReport struct {
	RunID      uuid.UUID           `json:"run_id"`
	Results    []MeasurementResult `json:"results"`
	Failed     []FailedPoint       `json:"failed,omitempty"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
}

// Recorded returns the number of successfully measured points.
func (r *SweepReport) Recorded() int { return len(r.Results) }
