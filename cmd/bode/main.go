// Command bode measures the frequency response of a device under test with
// a JDS6600 function generator and a Rigol DS1054Z oscilloscope, then
// exports the Bode plot as CSV and PNG.
//
// Usage:
//
//	bode MIN_FREQ MAX_FREQ [FREQ_COUNT] [flags]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/bkoppe/bode/internal/analysis"
	"github.com/bkoppe/bode/internal/config"
	"github.com/bkoppe/bode/internal/export"
	"github.com/bkoppe/bode/internal/instrument/ds1054z"
	"github.com/bkoppe/bode/internal/instrument/jds6600"
	"github.com/bkoppe/bode/internal/sweep"
)

const defaultCount = 50

func main() {
	// Configure zerolog for structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := pflag.NewFlagSet("bode", pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: bode MIN_FREQ MAX_FREQ [FREQ_COUNT] [flags]")
		fmt.Fprintln(os.Stderr, "\nFlags:")
		fs.PrintDefaults()
	}

	fs.String("awg_port", "/dev/ttyUSB0", "serial port of the JDS6600 generator")
	fs.Float64("awg_voltage", 5, "generator amplitude in volts peak-to-peak")
	fs.String("ds_ip", "", "IP address of the DS1054Z; auto-discovered via mDNS when empty")
	fs.Bool("phase", false, "measure and plot phase as well")
	fs.Bool("linear", false, "use linearly spaced frequencies instead of log-spaced")
	fs.Duration("step_time", 0, "extra settle time after each frequency change")
	noSmoothing := fs.Bool("no_smoothing", false, "disable the smoothed overlay on the charts")
	fs.String("output", "", "write the measured data to the given CSV file")
	fs.String("plot", "bode", "path prefix for the PNG charts; empty disables plotting")

	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		return 2
	}

	minFreq, maxFreq, count, err := parseRange(fs.Args())
	if err != nil {
		log.Error().Err(err).Msg("invalid arguments")
		fs.Usage()
		return 2
	}

	config.BindFlags(fs)
	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("loading configuration failed")
		return 1
	}
	if *noSmoothing {
		cfg.Sweep.Smooth = false
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := cfg.Scope.Addr
	if addr == "" || addr == "auto" {
		discoverer := &ds1054z.ZeroconfDiscoverer{Wait: cfg.Scope.DiscoveryWait, Log: log.Logger}
		addr, err = discoverer.Discover(ctx)
		if err != nil {
			log.Error().Err(err).Msg("no oscilloscope found; specify --ds_ip")
			return 1
		}
	}

	gen, err := jds6600.Open(cfg.Generator.Port, cfg.Generator.Channel, log.Logger)
	if err != nil {
		log.Error().Err(err).Str("port", cfg.Generator.Port).Msg("connecting to generator failed")
		return 1
	}
	defer gen.Close()

	genMax, err := gen.MaxFrequencyHz(ctx)
	if err != nil {
		log.Error().Err(err).Msg("querying generator capabilities failed")
		return 1
	}
	log.Info().Float64("max_freq_hz", genMax).Msg("generator connected")
	if maxFreq > genMax {
		log.Error().
			Float64("requested_hz", maxFreq).
			Float64("generator_max_hz", genMax).
			Msg("MAX_FREQ is higher than the generator can achieve")
		return 2
	}

	scope, err := ds1054z.Dial(addr, ds1054z.Config{
		InChannel:        cfg.Scope.InChannel,
		OutChannel:       cfg.Scope.OutChannel,
		SourceAmplitudeV: cfg.Generator.AmplitudeV,
		CaptureWait:      cfg.Scope.CaptureWait,
	}, log.Logger)
	if err != nil {
		log.Error().Err(err).Str("addr", addr).Msg("connecting to oscilloscope failed")
		return 1
	}
	defer scope.Close()

	space := analysis.LogSpace
	if cfg.Sweep.Linear {
		space = analysis.LinSpace
	}
	freqs, err := space(minFreq, maxFreq, count)
	if err != nil {
		log.Error().Err(err).Msg("invalid frequency range")
		return 2
	}

	runner := sweep.NewRunner(gen, scope, sweep.Options{
		AmplitudeV: cfg.Generator.AmplitudeV,
		MaxRetries: cfg.Sweep.MaxRetries,
		SettleTime: cfg.Sweep.SettleTime,
		Phase:      cfg.Sweep.Phase,
		Logger:     log.Logger,
	})
	report, runErr := runner.Run(ctx, freqs)
	if runErr != nil {
		log.Error().Err(runErr).Msg("sweep aborted")
	}

	// Whatever was recorded before an abort or interrupt is still worth
	// keeping.
	exit := 0
	if len(report.Results) > 0 {
		if cfg.Output.CSVPath != "" {
			if err := export.WriteCSV(report.Results, cfg.Output.CSVPath, cfg.Sweep.Phase); err != nil {
				log.Error().Err(err).Msg("CSV export failed")
				exit = 1
			} else {
				log.Info().Str("path", cfg.Output.CSVPath).Int("rows", len(report.Results)).Msg("CSV written")
			}
		}
		if cfg.Output.PlotPrefix != "" {
			opts := export.ChartOptions{Smooth: cfg.Sweep.Smooth}
			if err := export.WritePNGs(report.Results, cfg.Output.PlotPrefix, cfg.Sweep.Phase, opts); err != nil {
				log.Error().Err(err).Msg("chart rendering failed")
				exit = 1
			} else {
				log.Info().Str("prefix", cfg.Output.PlotPrefix).Msg("charts written")
			}
		}
	}

	for _, failed := range report.Failed {
		log.Warn().Float64("freq_hz", failed.Frequency).Str("reason", failed.Reason).Msg("point not measured")
	}

	if runErr != nil || len(report.Results) == 0 {
		return 1
	}
	return exit
}

// parseRange reads the MIN_FREQ MAX_FREQ [FREQ_COUNT] positional arguments.
func parseRange(args []string) (minFreq, maxFreq float64, count int, err error) {
	if len(args) < 2 || len(args) > 3 {
		return 0, 0, 0, fmt.Errorf("expected MIN_FREQ MAX_FREQ [FREQ_COUNT], got %d arguments", len(args))
	}

	minFreq, err = strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("MIN_FREQ: %w", err)
	}
	maxFreq, err = strconv.ParseFloat(args[1], 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("MAX_FREQ: %w", err)
	}

	count = defaultCount
	if len(args) == 3 {
		count, err = strconv.Atoi(args[2])
		if err != nil {
			return 0, 0, 0, fmt.Errorf("FREQ_COUNT: %w", err)
		}
	}

	switch {
	case minFreq <= 0 || maxFreq <= 0:
		return 0, 0, 0, fmt.Errorf("frequencies must be greater than 0")
	case minFreq >= maxFreq:
		return 0, 0, 0, fmt.Errorf("MAX_FREQ must be greater than MIN_FREQ")
	case count <= 0:
		return 0, 0, 0, fmt.Errorf("FREQ_COUNT must be positive")
	}
	return minFreq, maxFreq, count, nil
}
