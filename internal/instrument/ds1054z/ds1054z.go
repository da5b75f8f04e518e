// Package ds1054z drives a Rigol DS1054Z oscilloscope with SCPI text
// commands over its raw TCP socket (port 5555).
package ds1054z

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bkoppe/bode/internal/instrument"
	"github.com/bkoppe/bode/pkg/models"
)

const defaultPort = "5555"

// Screen geometry of the DS1054Z: 12 horizontal and 8 vertical divisions.
const (
	horizontalDivs = 12
	verticalDivs   = 8
)

// cyclesOnScreen is the number of signal periods the timebase heuristic
// fits across the screen.
const cyclesOnScreen = 6

// fillFraction keeps the expected peak-to-peak amplitude within 80% of the
// full vertical range so a modest gain peak does not clip immediately.
const fillFraction = 0.8

// clipFraction is the share of samples allowed at the ADC rails before the
// capture is treated as clipped.
const clipFraction = 0.01

// Config holds the scope settings that vary per bench.
type Config struct {
	// InChannel observes the generator output (DUT input).
	InChannel int
	// OutChannel observes the DUT output.
	OutChannel int
	// SourceAmplitudeV is the generator's peak-to-peak amplitude, used to
	// scale the input channel.
	SourceAmplitudeV float64
	// IOTimeout bounds every command/response exchange.
	IOTimeout time.Duration
	// CaptureWait bounds the wait for a single acquisition to complete.
	CaptureWait time.Duration
}

func (c *Config) applyDefaults() {
	if c.InChannel == 0 {
		c.InChannel = 1
	}
	if c.OutChannel == 0 {
		c.OutChannel = 2
	}
	if c.IOTimeout == 0 {
		c.IOTimeout = 3 * time.Second
	}
	if c.CaptureWait == 0 {
		c.CaptureWait = 5 * time.Second
	}
}

// Scope is a CaptureDevice backed by a DS1054Z. The TCP connection is owned
// exclusively by the Scope for the lifetime of the sweep.
type Scope struct {
	conn   net.Conn
	reader *bufio.Reader
	cfg    Config
	log    zerolog.Logger
}

var _ instrument.CaptureDevice = (*Scope)(nil)

// Dial connects to the scope at addr, appending the default SCPI port when
// none is given.
func Dial(addr string, cfg Config, logger zerolog.Logger) (*Scope, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, defaultPort)
	}
	cfg.applyDefaults()
	conn, err := net.DialTimeout("tcp", addr, cfg.IOTimeout)
	if err != nil {
		return nil, &instrument.CommunicationError{Device: "ds1054z", Op: "dial " + addr, Err: err}
	}
	return NewFromConn(conn, cfg, logger), nil
}

// NewFromConn wraps an established connection. Used by Dial and by tests.
func NewFromConn(conn net.Conn, cfg Config, logger zerolog.Logger) *Scope {
	cfg.applyDefaults()
	return &Scope{
		conn:   conn,
		reader: bufio.NewReader(conn),
		cfg:    cfg,
		log:    logger.With().Str("device", "ds1054z").Logger(),
	}
}

// PrepareForFrequency sets the timebase so about six periods of freqHz span
// the screen and picks vertical scales that keep the expected amplitudes
// inside 80% of the input range.
func (s *Scope) PrepareForFrequency(ctx context.Context, freqHz, expectedAmplitudeV float64) error {
	if freqHz <= 0 {
		return fmt.Errorf("ds1054z: frequency must be positive, got %g", freqHz)
	}

	timebase := snap125(cyclesOnScreen / (horizontalDivs * freqHz))
	inScale := snap125Up(s.cfg.SourceAmplitudeV / (fillFraction * verticalDivs))
	outScale := snap125Up(expectedAmplitudeV / (fillFraction * verticalDivs))

	cmds := []string{
		fmt.Sprintf(":CHAN%d:OFFS 0", s.cfg.InChannel),
		fmt.Sprintf(":CHAN%d:OFFS 0", s.cfg.OutChannel),
		fmt.Sprintf(":CHAN%d:SCAL %s", s.cfg.InChannel, formatFloat(inScale)),
		fmt.Sprintf(":CHAN%d:SCAL %s", s.cfg.OutChannel, formatFloat(outScale)),
		fmt.Sprintf(":TIM:SCAL %s", formatFloat(timebase)),
	}
	for _, cmd := range cmds {
		if err := s.send(ctx, cmd); err != nil {
			return err
		}
	}
	s.log.Debug().
		Float64("freq_hz", freqHz).
		Float64("timebase_s", timebase).
		Float64("out_scale_v", outScale).
		Msg("scope prepared")
	return nil
}

// CaptureChannels arms a single acquisition, waits for it to complete and
// reads back both channel waveforms.
func (s *Scope) CaptureChannels(ctx context.Context) (models.Waveform, models.Waveform, error) {
	var none models.Waveform

	if err := s.send(ctx, ":SING"); err != nil {
		return none, none, err
	}
	if err := s.waitStopped(ctx); err != nil {
		return none, none, err
	}

	in, err := s.readWaveform(ctx, s.cfg.InChannel)
	if err != nil {
		return none, none, err
	}
	out, err := s.readWaveform(ctx, s.cfg.OutChannel)
	if err != nil {
		return none, none, err
	}
	return in, out, nil
}

func (s *Scope) Close() error { return s.conn.Close() }

// waitStopped polls the trigger state until the acquisition has finished.
func (s *Scope) waitStopped(ctx context.Context) error {
	deadline := time.Now().Add(s.cfg.CaptureWait)
	for {
		status, err := s.query(ctx, ":TRIG:STAT?")
		if err != nil {
			return err
		}
		if status == "STOP" {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("trigger state %s after %s: %w", status, s.cfg.CaptureWait, instrument.ErrCaptureTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// preamble holds the fields of :WAV:PRE? needed to scale raw bytes.
type preamble struct {
	points              int
	xIncrement          float64
	yIncrement          float64
	yOrigin, yReference float64
}

func parsePreamble(raw string) (preamble, error) {
	fields := strings.Split(raw, ",")
	if len(fields) < 10 {
		return preamble{}, fmt.Errorf("preamble has %d fields, want 10", len(fields))
	}
	var p preamble
	var err error
	if p.points, err = strconv.Atoi(fields[2]); err != nil {
		return preamble{}, fmt.Errorf("preamble points: %w", err)
	}
	if p.xIncrement, err = strconv.ParseFloat(fields[4], 64); err != nil {
		return preamble{}, fmt.Errorf("preamble x increment: %w", err)
	}
	if p.yIncrement, err = strconv.ParseFloat(fields[7], 64); err != nil {
		return preamble{}, fmt.Errorf("preamble y increment: %w", err)
	}
	if p.yOrigin, err = strconv.ParseFloat(fields[8], 64); err != nil {
		return preamble{}, fmt.Errorf("preamble y origin: %w", err)
	}
	if p.yReference, err = strconv.ParseFloat(fields[9], 64); err != nil {
		return preamble{}, fmt.Errorf("preamble y reference: %w", err)
	}
	return p, nil
}

func (s *Scope) readWaveform(ctx context.Context, channel int) (models.Waveform, error) {
	var none models.Waveform

	setup := []string{
		fmt.Sprintf(":WAV:SOUR CHAN%d", channel),
		":WAV:MODE NORM",
		":WAV:FORM BYTE",
	}
	for _, cmd := range setup {
		if err := s.send(ctx, cmd); err != nil {
			return none, err
		}
	}

	rawPre, err := s.query(ctx, ":WAV:PRE?")
	if err != nil {
		return none, err
	}
	pre, err := parsePreamble(rawPre)
	if err != nil {
		return none, &instrument.CommunicationError{Device: "ds1054z", Op: ":WAV:PRE?", Err: err}
	}

	raw, err := s.queryBlock(ctx, ":WAV:DATA?")
	if err != nil {
		return none, err
	}

	saturated := 0
	volts := make([]float64, len(raw))
	for i, b := range raw {
		if b == 0x00 || b == 0xff {
			saturated++
		}
		volts[i] = (float64(b) - pre.yOrigin - pre.yReference) * pre.yIncrement
	}
	if len(raw) > 0 && float64(saturated) > clipFraction*float64(len(raw)) {
		return none, &instrument.ClippingError{Channel: channel}
	}

	return models.Waveform{SampleInterval: pre.xIncrement, Volts: volts}, nil
}

// send writes a command that produces no response.
func (s *Scope) send(ctx context.Context, cmd string) error {
	if err := s.write(ctx, cmd); err != nil {
		return &instrument.CommunicationError{Device: "ds1054z", Op: cmd, Err: err}
	}
	return nil
}

// query writes a command and reads one response line.
func (s *Scope) query(ctx context.Context, cmd string) (string, error) {
	if err := s.write(ctx, cmd); err != nil {
		return "", &instrument.CommunicationError{Device: "ds1054z", Op: cmd, Err: err}
	}
	line, err := s.reader.ReadString('\n')
	if err != nil && line == "" {
		return "", &instrument.CommunicationError{Device: "ds1054z", Op: cmd, Err: err}
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// queryBlock writes a command and reads an IEEE 488.2 definite-length block
// ("#" + digit count + payload length + payload).
func (s *Scope) queryBlock(ctx context.Context, cmd string) ([]byte, error) {
	if err := s.write(ctx, cmd); err != nil {
		return nil, &instrument.CommunicationError{Device: "ds1054z", Op: cmd, Err: err}
	}

	header := make([]byte, 2)
	if _, err := io.ReadFull(s.reader, header); err != nil {
		return nil, &instrument.CommunicationError{Device: "ds1054z", Op: cmd, Err: err}
	}
	if header[0] != '#' {
		return nil, &instrument.CommunicationError{
			Device: "ds1054z", Op: cmd,
			Err: fmt.Errorf("expected block header, got %q", header[0]),
		}
	}
	nDigits := int(header[1] - '0')
	if nDigits < 1 || nDigits > 9 {
		return nil, &instrument.CommunicationError{
			Device: "ds1054z", Op: cmd,
			Err: fmt.Errorf("invalid block digit count %q", header[1]),
		}
	}
	lenBuf := make([]byte, nDigits)
	if _, err := io.ReadFull(s.reader, lenBuf); err != nil {
		return nil, &instrument.CommunicationError{Device: "ds1054z", Op: cmd, Err: err}
	}
	payloadLen, err := strconv.Atoi(string(lenBuf))
	if err != nil {
		return nil, &instrument.CommunicationError{Device: "ds1054z", Op: cmd, Err: err}
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(s.reader, payload); err != nil {
		return nil, &instrument.CommunicationError{Device: "ds1054z", Op: cmd, Err: err}
	}
	// Trailing newline terminates the block.
	if b, err := s.reader.ReadByte(); err == nil && b != '\n' {
		s.reader.UnreadByte()
	}
	return payload, nil
}

func (s *Scope) write(ctx context.Context, cmd string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.conn.SetDeadline(time.Now().Add(s.cfg.IOTimeout)); err != nil {
		return err
	}
	_, err := io.WriteString(s.conn, cmd+"\n")
	return err
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// snap125 rounds v to the nearest value in the 1-2-5 series the scope's
// timebase accepts.
func snap125(v float64) float64 {
	if v <= 0 {
		return v
	}
	exp := math.Floor(math.Log10(v))
	base := math.Pow(10, exp)
	mant := v / base
	switch {
	case mant < 1.5:
		return base
	case mant < 3.5:
		return 2 * base
	case mant < 7.5:
		return 5 * base
	default:
		return 10 * base
	}
}

// snap125Up rounds v up to the next 1-2-5 value so a vertical scale never
// ends up tighter than requested.
func snap125Up(v float64) float64 {
	if v <= 0 {
		return v
	}
	exp := math.Floor(math.Log10(v))
	base := math.Pow(10, exp)
	mant := v / base
	switch {
	case mant <= 1:
		return base
	case mant <= 2:
		return 2 * base
	case mant <= 5:
		return 5 * base
	default:
		return 10 * base
	}
}
