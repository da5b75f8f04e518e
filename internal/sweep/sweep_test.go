package sweep

import (
	"context"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bkoppe/bode/internal/analysis"
	"github.com/bkoppe/bode/internal/instrument"
	"github.com/bkoppe/bode/internal/instrument/instrumenttest"
	"github.com/bkoppe/bode/pkg/models"
)

func testFreqs(t *testing.T, min, max float64, count int) []float64 {
	t.Helper()
	freqs, err := analysis.LogSpace(min, max, count)
	require.NoError(t, err)
	return freqs
}

func TestRunAllPointsSucceed(t *testing.T) {
	freqs := testFreqs(t, 1e3, 2.2e6, 100)

	bench := instrumenttest.NewBench(instrumenttest.RCLowPass(10e3))
	source := instrumenttest.NewSource(bench)
	scope := instrumenttest.NewScope(bench)

	runner := NewRunner(source, scope, Options{AmplitudeV: 5, Phase: true, Logger: zerolog.Nop()})
	report, err := runner.Run(context.Background(), freqs)
	require.NoError(t, err)

	require.Len(t, report.Results, 100)
	assert.Empty(t, report.Failed)

	for i, res := range report.Results {
		assert.Equal(t, freqs[i], res.Frequency)
		if i > 0 {
			assert.Greater(t, res.Frequency, report.Results[i-1].Frequency)
		}

		wantGain, wantPhase := instrumenttest.RCLowPass(10e3)(res.Frequency)
		assert.InDelta(t, 20*math.Log10(wantGain), res.GainDB, 0.1, "gain at %g Hz", res.Frequency)
		require.NotNil(t, res.PhaseDeg)
		assert.InDelta(t, wantPhase, *res.PhaseDeg, 1, "phase at %g Hz", res.Frequency)
	}
}

func TestRunWithoutPhase(t *testing.T) {
	freqs := testFreqs(t, 100, 1000, 5)

	bench := instrumenttest.NewBench(instrumenttest.Unity())
	runner := NewRunner(instrumenttest.NewSource(bench), instrumenttest.NewScope(bench), Options{Logger: zerolog.Nop()})

	report, err := runner.Run(context.Background(), freqs)
	require.NoError(t, err)
	require.Len(t, report.Results, 5)
	for _, res := range report.Results {
		assert.Nil(t, res.PhaseDeg)
		assert.InDelta(t, 0, res.GainDB, 0.05)
	}
}

func TestRunClippingRetriedWithWiderScale(t *testing.T) {
	freqs := testFreqs(t, 100, 10000, 10)

	bench := instrumenttest.NewBench(instrumenttest.Unity())
	scope := instrumenttest.NewScope(bench)
	scope.Clip = map[float64]*instrumenttest.FaultScript{
		freqs[5]: {Remaining: 2, Err: &instrument.ClippingError{Channel: 2}},
	}

	runner := NewRunner(instrumenttest.NewSource(bench), scope, Options{AmplitudeV: 5, Logger: zerolog.Nop()})
	report, err := runner.Run(context.Background(), freqs)
	require.NoError(t, err)

	assert.Len(t, report.Results, 10, "the rescaled retry must record point 5")
	assert.Empty(t, report.Failed)
	assert.Equal(t, 12, scope.Captures(), "10 points plus 2 clipped attempts")

	// Unity DUT at 5 Vpp keeps the adaptive expectation at 5; the two
	// clipped attempts double it to 10 then 20.
	prepared := scope.PreparedAmplitudes()
	require.Len(t, prepared, 12)
	assert.InDelta(t, 5, prepared[5], 1e-9)
	assert.InDelta(t, 10, prepared[6], 1e-9)
	assert.InDelta(t, 20, prepared[7], 1e-9)
}

func TestRunPersistentClippingFailsOnlyThatPoint(t *testing.T) {
	freqs := testFreqs(t, 100, 10000, 10)

	bench := instrumenttest.NewBench(instrumenttest.Unity())
	scope := instrumenttest.NewScope(bench)
	scope.Clip = map[float64]*instrumenttest.FaultScript{
		freqs[5]: {Remaining: -1, Err: &instrument.ClippingError{Channel: 2}},
	}

	runner := NewRunner(instrumenttest.NewSource(bench), scope, Options{AmplitudeV: 5, Logger: zerolog.Nop()})
	report, err := runner.Run(context.Background(), freqs)
	require.NoError(t, err)

	assert.Len(t, report.Results, 9)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, freqs[5], report.Failed[0].Frequency)
	assert.Contains(t, report.Failed[0].Reason, "clipped")

	for _, res := range report.Results {
		assert.NotEqual(t, freqs[5], res.Frequency)
	}
}

func TestRunCaptureTimeoutRetried(t *testing.T) {
	freqs := testFreqs(t, 100, 1000, 4)

	bench := instrumenttest.NewBench(instrumenttest.Unity())
	scope := instrumenttest.NewScope(bench)
	scope.Timeout = map[float64]*instrumenttest.FaultScript{
		freqs[1]: {Remaining: 1, Err: instrument.ErrCaptureTimeout},
	}

	runner := NewRunner(instrumenttest.NewSource(bench), scope, Options{Logger: zerolog.Nop()})
	report, err := runner.Run(context.Background(), freqs)
	require.NoError(t, err)

	assert.Len(t, report.Results, 4)
	assert.Empty(t, report.Failed)
}

func TestRunSourceFailureAbortsSweep(t *testing.T) {
	freqs := testFreqs(t, 100, 10000, 10)

	bench := instrumenttest.NewBench(instrumenttest.Unity())
	source := instrumenttest.NewSource(bench)
	source.FailOnCall = 4 // points 0-2 succeed, point 3 loses the link

	runner := NewRunner(source, instrumenttest.NewScope(bench), Options{Logger: zerolog.Nop()})
	report, err := runner.Run(context.Background(), freqs)

	require.Error(t, err)
	assert.True(t, instrument.IsFatal(err))
	assert.Len(t, report.Results, 3, "points before the failure stay recorded")
}

func TestRunSetupFailureAborts(t *testing.T) {
	bench := instrumenttest.NewBench(instrumenttest.Unity())
	source := instrumenttest.NewSource(bench)
	source.SetupErr = &instrument.CommunicationError{Device: "sim", Op: "setup", Err: context.DeadlineExceeded}

	runner := NewRunner(source, instrumenttest.NewScope(bench), Options{Logger: zerolog.Nop()})
	report, err := runner.Run(context.Background(), testFreqs(t, 100, 1000, 3))

	require.Error(t, err)
	assert.Empty(t, report.Results)
}

func TestRunInsufficientSignalNotRetried(t *testing.T) {
	freqs := testFreqs(t, 100, 1000, 3)

	bench := instrumenttest.NewBench(instrumenttest.Unity())
	scope := instrumenttest.NewScope(bench)

	// 0.1 mVpp excitation sits below the extractor's noise floor.
	runner := NewRunner(instrumenttest.NewSource(bench), scope, Options{AmplitudeV: 1e-4, Logger: zerolog.Nop()})
	report, err := runner.Run(context.Background(), freqs)
	require.NoError(t, err)

	assert.Empty(t, report.Results)
	assert.Len(t, report.Failed, 3)
	assert.Equal(t, 3, scope.Captures(), "a weak signal must not be retried")
}

func TestRunCancelBetweenPointsKeepsPartialResults(t *testing.T) {
	freqs := testFreqs(t, 100, 10000, 10)

	bench := instrumenttest.NewBench(instrumenttest.Unity())
	ctx, cancel := context.WithCancel(context.Background())

	recorded := 0
	runner := NewRunner(instrumenttest.NewSource(bench), instrumenttest.NewScope(bench), Options{
		Logger: zerolog.Nop(),
		OnProgress: func(p Progress) {
			if p.Status == models.StatusRecorded {
				recorded++
				if recorded == 3 {
					cancel()
				}
			}
		},
	})

	report, err := runner.Run(ctx, freqs)
	require.NoError(t, err, "an interrupt is not a sweep failure")
	assert.Len(t, report.Results, 3)
}

func TestRunProgressSequence(t *testing.T) {
	freqs := testFreqs(t, 100, 1000, 2)

	bench := instrumenttest.NewBench(instrumenttest.Unity())
	var statuses []models.PointStatus
	runner := NewRunner(instrumenttest.NewSource(bench), instrumenttest.NewScope(bench), Options{
		Logger:     zerolog.Nop(),
		OnProgress: func(p Progress) { statuses = append(statuses, p.Status) },
	})

	_, err := runner.Run(context.Background(), freqs)
	require.NoError(t, err)

	want := []models.PointStatus{
		models.StatusConfiguring, models.StatusCapturing, models.StatusExtracting, models.StatusRecorded,
		models.StatusConfiguring, models.StatusCapturing, models.StatusExtracting, models.StatusRecorded,
	}
	assert.Equal(t, want, statuses)
}
