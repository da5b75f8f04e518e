// Package sweep coordinates the generator and the scope across the
// configured frequency points and reduces each capture to a measurement.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bkoppe/bode/internal/analysis"
	"github.com/bkoppe/bode/internal/instrument"
	"github.com/bkoppe/bode/pkg/models"
)

// Progress describes one state transition of a frequency point.
type Progress struct {
	Index     int
	Frequency float64
	Status    models.PointStatus
	Attempt   int
	Err       error
}

// Options tune a sweep run.
type Options struct {
	// AmplitudeV is the generator amplitude in volts peak-to-peak.
	AmplitudeV float64
	// MaxRetries bounds how often a point is retried after a clipped or
	// timed-out capture.
	MaxRetries int
	// SettleTime is the pause after switching frequency, giving the DUT
	// and the scope time to stabilize.
	SettleTime time.Duration
	// Phase enables phase extraction alongside gain.
	Phase bool
	// OnProgress, when set, receives every per-point state transition.
	OnProgress func(Progress)
	// Logger receives per-point progress events.
	Logger zerolog.Logger
}

func (o *Options) applyDefaults() {
	if o.AmplitudeV == 0 {
		o.AmplitudeV = 5
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 2
	}
}

// Bounds for the adaptive vertical-scale feedback. The expected amplitude
// fed to the scope follows the previous point's measured output but never
// collapses below the noise floor region or exceeds the probe range.
const (
	minExpectedV = 0.05
	maxExpectedV = 40
)

// Runner owns the two instruments for the duration of a sweep. Processing
// is strictly sequential: both devices are singleton hardware and their
// operations must never interleave.
type Runner struct {
	source instrument.SignalSource
	scope  instrument.CaptureDevice
	opts   Options
}

// NewRunner wires a sweep runner over the given instruments.
func NewRunner(source instrument.SignalSource, scope instrument.CaptureDevice, opts Options) *Runner {
	opts.applyDefaults()
	return &Runner{source: source, scope: scope, opts: opts}
}

// Run measures every frequency in freqs in order. Points are expected in
// ascending order so the scale heuristics can carry over from one point to
// the next.
//
// A failed capture or extraction marks the point Failed and the sweep moves
// on; a generator communication failure aborts the run, returning the
// partial report alongside the error. Cancelling the context stops the
// sweep between points with no error: whatever was recorded stays valid.
func (r *Runner) Run(ctx context.Context, freqs []float64) (*models.SweepReport, error) {
	report := &models.SweepReport{
		RunID:     uuid.New(),
		StartedAt: time.Now(),
	}
	defer func() { report.FinishedAt = time.Now() }()

	log := r.opts.Logger.With().Str("run_id", report.RunID.String()).Logger()
	log.Info().Int("points", len(freqs)).Float64("amplitude_vpp", r.opts.AmplitudeV).Msg("sweep started")

	if err := r.source.Setup(ctx); err != nil {
		return report, fmt.Errorf("sweep: generator setup: %w", err)
	}

	expectedV := r.opts.AmplitudeV
	for i, freq := range freqs {
		if ctx.Err() != nil {
			log.Warn().Int("remaining", len(freqs)-i).Msg("sweep interrupted")
			return report, nil
		}

		result, pointErr, fatal := r.measurePoint(ctx, log, i, freq, &expectedV)
		switch {
		case fatal != nil:
			if interrupted(fatal) {
				log.Warn().Int("remaining", len(freqs)-i).Msg("sweep interrupted")
				return report, nil
			}
			r.emit(log, Progress{Index: i, Frequency: freq, Status: models.StatusFailed, Err: fatal})
			return report, fmt.Errorf("sweep: point %d (%g Hz): %w", i, freq, fatal)
		case pointErr != nil:
			report.Failed = append(report.Failed, models.FailedPoint{Frequency: freq, Reason: pointErr.Error()})
			r.emit(log, Progress{Index: i, Frequency: freq, Status: models.StatusFailed, Err: pointErr})
		default:
			report.Results = append(report.Results, *result)
			r.emit(log, Progress{Index: i, Frequency: freq, Status: models.StatusRecorded})
		}
	}

	log.Info().
		Int("recorded", len(report.Results)).
		Int("failed", len(report.Failed)).
		Msg("sweep finished")
	return report, nil
}

// measurePoint walks one frequency through Configuring, Capturing and
// Extracting. pointErr reports a recoverable per-point failure, fatal an
// error that must abort the whole sweep.
func (r *Runner) measurePoint(ctx context.Context, log zerolog.Logger, index int, freq float64, expectedV *float64) (result *models.MeasurementResult, pointErr, fatal error) {
	r.emit(log, Progress{Index: index, Frequency: freq, Status: models.StatusConfiguring})
	if err := r.source.SetFrequency(ctx, freq, r.opts.AmplitudeV); err != nil {
		// No working generator means no measurement is possible at all.
		return nil, nil, err
	}
	if err := r.settle(ctx); err != nil {
		return nil, nil, err
	}

	attemptV := *expectedV
	for attempt := 0; ; attempt++ {
		r.emit(log, Progress{Index: index, Frequency: freq, Status: models.StatusCapturing, Attempt: attempt})

		in, out, err := r.capture(ctx, freq, attemptV)
		if err != nil {
			if instrument.IsRetryable(err) && attempt < r.opts.MaxRetries {
				var clip *instrument.ClippingError
				if errors.As(err, &clip) {
					// Widen the range before trying again.
					attemptV = clamp(attemptV * 2)
				}
				log.Debug().Err(err).Int("attempt", attempt).Float64("freq_hz", freq).Msg("capture retried")
				continue
			}
			if instrument.IsRetryable(err) {
				return nil, err, nil
			}
			return nil, nil, err
		}

		r.emit(log, Progress{Index: index, Frequency: freq, Status: models.StatusExtracting, Attempt: attempt})
		m, err := analysis.Extract(in, out, freq)
		if err != nil {
			// Insufficient signal cannot improve on retry, and any other
			// extraction failure is deterministic for this capture.
			return nil, err, nil
		}

		// Seed the next point's vertical scale with what we actually saw.
		*expectedV = clamp(2 * m.OutputAmplitudeV)

		res := &models.MeasurementResult{
			Frequency:     freq,
			GainDB:        m.GainDB,
			LowConfidence: m.LowConfidence,
		}
		if r.opts.Phase {
			phase := m.PhaseDeg
			res.PhaseDeg = &phase
		}
		return res, nil, nil
	}
}

func (r *Runner) capture(ctx context.Context, freq, expectedV float64) (models.Waveform, models.Waveform, error) {
	if err := r.scope.PrepareForFrequency(ctx, freq, expectedV); err != nil {
		return models.Waveform{}, models.Waveform{}, err
	}
	return r.scope.CaptureChannels(ctx)
}

func (r *Runner) settle(ctx context.Context) error {
	if r.opts.SettleTime <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(r.opts.SettleTime):
		return nil
	}
}

func (r *Runner) emit(log zerolog.Logger, p Progress) {
	ev := log.Debug()
	if p.Status == models.StatusRecorded {
		ev = log.Info()
	}
	if p.Err != nil {
		ev = log.Warn().Err(p.Err)
	}
	ev.Int("point", p.Index).
		Float64("freq_hz", p.Frequency).
		Str("status", string(p.Status)).
		Msg("sweep progress")

	if r.opts.OnProgress != nil {
		r.opts.OnProgress(p)
	}
}

func interrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func clamp(v float64) float64 {
	switch {
	case v < minExpectedV:
		return minExpectedV
	case v > maxExpectedV:
		return maxExpectedV
	default:
		return v
	}
}
