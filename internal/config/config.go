package config

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration for a sweep run.
type Config struct {
	Generator GeneratorConfig
	Scope     ScopeConfig
	Sweep     SweepConfig
	Output    OutputConfig
}

// GeneratorConfig holds the function generator settings.
type GeneratorConfig struct {
	// Port is the serial port the generator is attached to.
	Port string
	// Channel is the generator output channel (1 or 2).
	Channel int
	// AmplitudeV is the excitation amplitude in volts peak-to-peak.
	AmplitudeV float64
}

// ScopeConfig holds the oscilloscope settings.
type ScopeConfig struct {
	// Addr is the scope's network address. Empty means auto-discover.
	Addr string
	// InChannel observes the DUT input, OutChannel the DUT output.
	InChannel  int
	OutChannel int
	// CaptureWait bounds the wait for a single acquisition.
	CaptureWait time.Duration
	// DiscoveryWait bounds the mDNS browse when Addr is empty.
	DiscoveryWait time.Duration
}

// SweepConfig holds the sweep policy settings.
type SweepConfig struct {
	// MaxRetries bounds retries of a clipped or timed-out point.
	MaxRetries int
	// SettleTime is the pause after each frequency change.
	SettleTime time.Duration
	// Phase enables phase measurement.
	Phase bool
	// Linear switches from log-spaced to linearly spaced points.
	Linear bool
	// Smooth enables the smoothed chart overlay.
	Smooth bool
}

// OutputConfig holds the export settings.
type OutputConfig struct {
	// CSVPath, when non-empty, is where the result table is written.
	CSVPath string
	// PlotPrefix is the path prefix for the rendered PNG charts. Empty
	// disables chart rendering.
	PlotPrefix string
}

// BindFlags wires command line flags into the configuration so they
// override environment values. Flag names follow the classic tool.
func BindFlags(fs *pflag.FlagSet) {
	viper.BindPFlag("AWG_PORT", fs.Lookup("awg_port"))
	viper.BindPFlag("AWG_VOLTAGE", fs.Lookup("awg_voltage"))
	viper.BindPFlag("DS_IP", fs.Lookup("ds_ip"))
	viper.BindPFlag("PHASE", fs.Lookup("phase"))
	viper.BindPFlag("LINEAR", fs.Lookup("linear"))
	viper.BindPFlag("STEP_TIME", fs.Lookup("step_time"))
	viper.BindPFlag("OUTPUT", fs.Lookup("output"))
	viper.BindPFlag("PLOT_PREFIX", fs.Lookup("plot"))
}

// Load loads configuration from defaults, environment variables and any
// bound command line flags.
func Load() (*Config, error) {
	// Set defaults
	viper.SetDefault("AWG_PORT", "/dev/ttyUSB0")
	viper.SetDefault("AWG_CHANNEL", 1)
	viper.SetDefault("AWG_VOLTAGE", 5.0)
	viper.SetDefault("DS_IP", "")
	viper.SetDefault("SCOPE_CH_IN", 1)
	viper.SetDefault("SCOPE_CH_OUT", 2)
	viper.SetDefault("CAPTURE_WAIT", "5s")
	viper.SetDefault("DISCOVERY_WAIT", "3s")
	viper.SetDefault("MAX_RETRIES", 2)
	viper.SetDefault("STEP_TIME", "0s")
	viper.SetDefault("PHASE", false)
	viper.SetDefault("LINEAR", false)
	viper.SetDefault("SMOOTH", true)
	viper.SetDefault("OUTPUT", "")
	viper.SetDefault("PLOT_PREFIX", "bode")

	// Environment variables override defaults
	viper.AutomaticEnv()

	viper.BindEnv("AWG_PORT")
	viper.BindEnv("AWG_CHANNEL")
	viper.BindEnv("AWG_VOLTAGE")
	viper.BindEnv("DS_IP")
	viper.BindEnv("SCOPE_CH_IN")
	viper.BindEnv("SCOPE_CH_OUT")
	viper.BindEnv("CAPTURE_WAIT")
	viper.BindEnv("DISCOVERY_WAIT")
	viper.BindEnv("MAX_RETRIES")
	viper.BindEnv("STEP_TIME")

	var config Config
	config.Generator.Port = viper.GetString("AWG_PORT")
	config.Generator.Channel = viper.GetInt("AWG_CHANNEL")
	config.Generator.AmplitudeV = viper.GetFloat64("AWG_VOLTAGE")
	config.Scope.Addr = viper.GetString("DS_IP")
	config.Scope.InChannel = viper.GetInt("SCOPE_CH_IN")
	config.Scope.OutChannel = viper.GetInt("SCOPE_CH_OUT")
	config.Scope.CaptureWait = viper.GetDuration("CAPTURE_WAIT")
	config.Scope.DiscoveryWait = viper.GetDuration("DISCOVERY_WAIT")
	config.Sweep.MaxRetries = viper.GetInt("MAX_RETRIES")
	config.Sweep.SettleTime = viper.GetDuration("STEP_TIME")
	config.Sweep.Phase = viper.GetBool("PHASE")
	config.Sweep.Linear = viper.GetBool("LINEAR")
	config.Sweep.Smooth = viper.GetBool("SMOOTH")
	config.Output.CSVPath = viper.GetString("OUTPUT")
	config.Output.PlotPrefix = viper.GetString("PLOT_PREFIX")

	return &config, nil
}
