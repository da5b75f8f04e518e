// Package instrument defines the capability interfaces the sweep needs from
// the bench hardware. Concrete drivers (jds6600 generator, ds1054z scope)
// implement them; the orchestrator never sees vendor protocol detail.
package instrument

import (
	"context"

	"github.com/bkoppe/bode/pkg/models"
)

// SignalSource drives the function generator feeding the DUT.
type SignalSource interface {
	// Setup puts the source into a known state for sweeping: sine output,
	// channel enabled. Called once before the first point.
	Setup(ctx context.Context) error

	// SetFrequency configures a sine wave of the given frequency (Hz) and
	// amplitude (volts peak-to-peak) on the source channel. A write that is
	// not acknowledged within the driver timeout yields a
	// *CommunicationError.
	SetFrequency(ctx context.Context, freqHz, amplitudeV float64) error

	// MaxFrequencyHz reports the highest frequency the generator can emit.
	MaxFrequencyHz(ctx context.Context) (float64, error)

	Close() error
}

// CaptureDevice drives the oscilloscope observing the DUT input and output.
type CaptureDevice interface {
	// PrepareForFrequency adjusts timebase and vertical scale so several
	// periods of freqHz fit on screen and the expected amplitude stays
	// inside the input range.
	PrepareForFrequency(ctx context.Context, freqHz, expectedAmplitudeV float64) error

	// CaptureChannels triggers a single acquisition and returns the input
	// and output channel waveforms, sampled at the same timebase. Returns
	// ErrCaptureTimeout if no acquisition completes within the bounded
	// wait, or a *ClippingError if a channel saturated its range.
	CaptureChannels(ctx context.Context) (in, out models.Waveform, err error)

	Close() error
}

// Discoverer locates a capture device on the network. Discovery support is
// optional; callers must work with an explicit address when no Discoverer is
// available.
type Discoverer interface {
	Discover(ctx context.Context) (addr string, err error)
}
