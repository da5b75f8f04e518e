// Package jds6600 drives a JDS6600 function generator over its serial
// protocol: ASCII register writes ":wNN=VAL." answered with ":ok", register
// reads ":rNN=" answered with ":rNN=VAL.".
package jds6600

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tarm/serial"

	"github.com/bkoppe/bode/internal/instrument"
)

// Device registers used by the sweep. Frequency values are written in
// centi-Hz with a multiplier index, amplitude in millivolts.
const (
	regDeviceType = 0
	regChanEnable = 20
	regWaveform1  = 21
	regFrequency1 = 23
	regAmplitude1 = 25
)

// waveformSine is index 0 in the device's built-in waveform table.
const waveformSine = 0

const defaultBaud = 115200

// Generator is a SignalSource backed by a JDS6600. It owns the serial
// connection exclusively for the lifetime of the sweep.
type Generator struct {
	port    io.ReadWriteCloser
	reader  *bufio.Reader
	channel int
	log     zerolog.Logger

	lastAmplitudeV float64
}

var _ instrument.SignalSource = (*Generator)(nil)

// Open connects to the generator on the given serial port.
func Open(portName string, channel int, logger zerolog.Logger) (*Generator, error) {
	cfg := &serial.Config{
		Name:        portName,
		Baud:        defaultBaud,
		ReadTimeout: 2 * time.Second,
	}
	port, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, &instrument.CommunicationError{Device: "jds6600", Op: "open " + portName, Err: err}
	}
	return New(port, channel, logger), nil
}

// New wraps an already-open connection. Used by Open and by tests.
func New(rw io.ReadWriteCloser, channel int, logger zerolog.Logger) *Generator {
	if channel != 1 && channel != 2 {
		channel = 1
	}
	return &Generator{
		port:    rw,
		reader:  bufio.NewReader(rw),
		channel: channel,
		log:     logger.With().Str("device", "jds6600").Logger(),
	}
}

// Setup selects a sine waveform on the source channel and enables output.
func (g *Generator) Setup(ctx context.Context) error {
	if err := g.writeRegister(ctx, regWaveform1+g.channel-1, strconv.Itoa(waveformSine)); err != nil {
		return err
	}
	enable := "1,0"
	if g.channel == 2 {
		enable = "0,1"
	}
	return g.writeRegister(ctx, regChanEnable, enable)
}

// SetFrequency programs a sine of freqHz at amplitudeV peak-to-peak. The
// amplitude register is only rewritten when the requested value changes.
func (g *Generator) SetFrequency(ctx context.Context, freqHz, amplitudeV float64) error {
	if freqHz <= 0 {
		return fmt.Errorf("jds6600: frequency must be positive, got %g", freqHz)
	}
	if amplitudeV != g.lastAmplitudeV {
		mv := int(math.Round(amplitudeV * 1000))
		if err := g.writeRegister(ctx, regAmplitude1+g.channel-1, strconv.Itoa(mv)); err != nil {
			return err
		}
		g.lastAmplitudeV = amplitudeV
	}

	// Frequency is written in units of 0.01 Hz with multiplier 0 (Hz range).
	centiHz := int64(math.Round(freqHz * 100))
	val := strconv.FormatInt(centiHz, 10) + ",0"
	if err := g.writeRegister(ctx, regFrequency1+g.channel-1, val); err != nil {
		return err
	}
	g.log.Debug().Float64("freq_hz", freqHz).Msg("frequency set")
	return nil
}

// MaxFrequencyHz asks the device for its type register, which encodes the
// model's maximum output frequency in MHz (e.g. 60 for a JDS6600-60M).
func (g *Generator) MaxFrequencyHz(ctx context.Context) (float64, error) {
	val, err := g.readRegister(ctx, regDeviceType)
	if err != nil {
		return 0, err
	}
	mhz, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, &instrument.CommunicationError{
			Device: "jds6600",
			Op:     "parse device type",
			Err:    fmt.Errorf("unexpected value %q: %w", val, err),
		}
	}
	return mhz * 1e6, nil
}

func (g *Generator) Close() error { return g.port.Close() }

func (g *Generator) writeRegister(ctx context.Context, reg int, val string) error {
	cmd := fmt.Sprintf(":w%02d=%s.\n", reg, val)
	reply, err := g.roundTrip(ctx, cmd)
	if err != nil {
		return &instrument.CommunicationError{Device: "jds6600", Op: strings.TrimSpace(cmd), Err: err}
	}
	if reply != ":ok" {
		return &instrument.CommunicationError{
			Device: "jds6600",
			Op:     strings.TrimSpace(cmd),
			Err:    fmt.Errorf("expected :ok, got %q", reply),
		}
	}
	return nil
}

func (g *Generator) readRegister(ctx context.Context, reg int) (string, error) {
	cmd := fmt.Sprintf(":r%02d=0.\n", reg)
	reply, err := g.roundTrip(ctx, cmd)
	if err != nil {
		return "", &instrument.CommunicationError{Device: "jds6600", Op: strings.TrimSpace(cmd), Err: err}
	}

	// Replies look like ":r00=60." -- value between "=" and the closing ".".
	prefix := fmt.Sprintf(":r%02d=", reg)
	body, ok := strings.CutPrefix(reply, prefix)
	if !ok {
		return "", &instrument.CommunicationError{
			Device: "jds6600",
			Op:     strings.TrimSpace(cmd),
			Err:    fmt.Errorf("register mismatch in reply %q", reply),
		}
	}
	return strings.TrimSuffix(body, "."), nil
}

func (g *Generator) roundTrip(ctx context.Context, cmd string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := io.WriteString(g.port, cmd); err != nil {
		return "", err
	}
	line, err := g.reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
