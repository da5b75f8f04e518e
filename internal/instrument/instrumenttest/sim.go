// Package instrumenttest provides in-memory SignalSource and CaptureDevice
// implementations driven by a configurable transfer function, so the sweep
// logic can be exercised without bench hardware.
package instrumenttest

import (
	"context"
	"errors"
	"math"
	"sync"

	"github.com/bkoppe/bode/internal/instrument"
	"github.com/bkoppe/bode/pkg/models"
)

// TransferFunc models the DUT: linear gain and phase shift (degrees) at a
// given frequency.
type TransferFunc func(freqHz float64) (gain, phaseDeg float64)

// Unity passes the input through unchanged.
func Unity() TransferFunc {
	return func(float64) (float64, float64) { return 1, 0 }
}

// RCLowPass models a first-order RC low-pass with the given cutoff.
func RCLowPass(cutoffHz float64) TransferFunc {
	return func(freqHz float64) (float64, float64) {
		ratio := freqHz / cutoffHz
		gain := 1 / math.Sqrt(1+ratio*ratio)
		phase := -math.Atan(ratio) * 180 / math.Pi
		return gain, phase
	}
}

// Bench is the state shared between a simulated generator and scope: the
// currently programmed excitation.
type Bench struct {
	mu         sync.Mutex
	freqHz     float64
	amplitudeV float64 // peak-to-peak
	Transfer   TransferFunc
}

// NewBench creates a bench around the given transfer function.
func NewBench(transfer TransferFunc) *Bench {
	if transfer == nil {
		transfer = Unity()
	}
	return &Bench{Transfer: transfer}
}

func (b *Bench) setExcitation(freqHz, amplitudeV float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.freqHz = freqHz
	b.amplitudeV = amplitudeV
}

func (b *Bench) excitation() (float64, float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.freqHz, b.amplitudeV
}

// Source is a simulated signal generator.
type Source struct {
	bench *Bench

	// SetupErr, when set, is returned by Setup.
	SetupErr error
	// FailOnCall makes SetFrequency fail with a communication error from
	// the Nth call (1-based) onwards. Zero disables.
	FailOnCall int
	// MaxHz is the advertised maximum frequency. Defaults to 60 MHz.
	MaxHz float64

	mu    sync.Mutex
	calls int
}

var _ instrument.SignalSource = (*Source)(nil)

// NewSource creates a simulated generator attached to bench.
func NewSource(bench *Bench) *Source {
	return &Source{bench: bench, MaxHz: 60e6}
}

func (s *Source) Setup(ctx context.Context) error { return s.SetupErr }

func (s *Source) SetFrequency(ctx context.Context, freqHz, amplitudeV float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()

	if s.FailOnCall != 0 && call >= s.FailOnCall {
		return &instrument.CommunicationError{Device: "sim", Op: "set frequency", Err: errors.New("simulated link loss")}
	}
	s.bench.setExcitation(freqHz, amplitudeV)
	return nil
}

func (s *Source) MaxFrequencyHz(ctx context.Context) (float64, error) { return s.MaxHz, nil }

func (s *Source) Close() error { return nil }

// Calls returns how many SetFrequency calls the source has seen.
func (s *Source) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// FaultScript schedules capture failures for one frequency. Remaining is
// decremented per failed capture; negative means fail forever.
type FaultScript struct {
	Remaining int
	Err       error
}

// Scope is a simulated capture device. It synthesizes ten periods of the
// excitation per capture, 100 samples per period.
type Scope struct {
	bench *Bench

	// Clip schedules ClippingError captures per frequency.
	Clip map[float64]*FaultScript
	// Timeout schedules ErrCaptureTimeout captures per frequency.
	Timeout map[float64]*FaultScript

	mu        sync.Mutex
	captures  int
	preparedV []float64 // expected amplitude per PrepareForFrequency call
}

var _ instrument.CaptureDevice = (*Scope)(nil)

// NewScope creates a simulated scope attached to bench.
func NewScope(bench *Bench) *Scope {
	return &Scope{bench: bench}
}

func (s *Scope) PrepareForFrequency(ctx context.Context, freqHz, expectedAmplitudeV float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.preparedV = append(s.preparedV, expectedAmplitudeV)
	s.mu.Unlock()
	return nil
}

func (s *Scope) CaptureChannels(ctx context.Context) (models.Waveform, models.Waveform, error) {
	var none models.Waveform
	if err := ctx.Err(); err != nil {
		return none, none, err
	}

	s.mu.Lock()
	s.captures++
	s.mu.Unlock()

	freq, amplitude := s.bench.excitation()
	if freq <= 0 {
		return none, none, errors.New("instrumenttest: no excitation programmed")
	}

	if err := consume(s.Clip[freq]); err != nil {
		return none, none, err
	}
	if err := consume(s.Timeout[freq]); err != nil {
		return none, none, err
	}

	gain, phaseDeg := s.bench.Transfer(freq)

	const (
		samplesPerPeriod = 100
		periods          = 10
	)
	interval := 1 / (samplesPerPeriod * freq)
	n := samplesPerPeriod * periods

	peak := amplitude / 2
	in := synth(freq, peak, 0, interval, n)
	out := synth(freq, gain*peak, phaseDeg, interval, n)
	return in, out, nil
}

func (s *Scope) Close() error { return nil }

// Captures returns how many acquisitions were attempted.
func (s *Scope) Captures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captures
}

// PreparedAmplitudes returns the expected amplitude passed to each
// PrepareForFrequency call, in order.
func (s *Scope) PreparedAmplitudes() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, len(s.preparedV))
	copy(out, s.preparedV)
	return out
}

func consume(script *FaultScript) error {
	if script == nil || script.Remaining == 0 {
		return nil
	}
	if script.Remaining > 0 {
		script.Remaining--
	}
	return script.Err
}

func synth(freqHz, peakV, phaseDeg, interval float64, n int) models.Waveform {
	w := models.Waveform{SampleInterval: interval, Volts: make([]float64, n)}
	phi := phaseDeg * math.Pi / 180
	for i := range w.Volts {
		t := float64(i) * interval
		w.Volts[i] = peakV * math.Sin(2*math.Pi*freqHz*t+phi)
	}
	return w
}
