package app

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/whispr-dev/sdr/internal/capture"
	"github.com/whispr-dev/sdr/internal/sdr"
	"github.com/whispr-dev/sdr/internal/sdr/rtl"
)

const (
	DriverRTLSDR DriverType = "rtl-sdr"
	DriverReplay DriverType = "replay"
)

type DriverType string

// Duration is a time.Duration that marshals as a human-readable string
// ("500ms", "6s") in YAML and JSON.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("app.Duration: failed to parse: %s", err)
	}

	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalJSON(bytes []byte) error {
	var v string
	if err := json.Unmarshal(bytes, &v); err != nil {
		return err
	}

	duration, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("app.Duration: failed to parse: %s", err)
	}

	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// Config is the main application configuration.
type Config struct {
	Settings Settings      `yaml:"settings"`
	Device   DeviceConfig  `yaml:"device"`
	Scan     ScanConfig    `yaml:"scan"`
	Trigger  TriggerConfig `yaml:"trigger"`
	Capture  CaptureConfig `yaml:"capture"`
	Storage  StorageConfig `yaml:"storage"`
}

// Settings represents global application settings.
type Settings struct {
	LogLevel string `yaml:"logLevel" json:"logLevel"`
}

// Level parses the configured log level, defaulting to info.
func (s Settings) Level() (slog.Level, error) {
	if s.LogLevel == "" {
		return slog.LevelInfo, nil
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s.LogLevel, err)
	}
	return level, nil
}

// DeviceConfig selects and configures the sample source.
type DeviceConfig struct {
	Driver     DriverType `yaml:"driver" json:"driver"`
	RTL        rtl.Config `yaml:"rtl" json:"rtl"`
	ReplayFile string     `yaml:"replayFile" json:"replayFile"`

	sdr.Config `yaml:",inline"`
}

// ScanConfig is the channel plan: which frequencies to visit and for how
// long. A nil Passes runs until cancelled.
type ScanConfig struct {
	Band     string    `yaml:"band" json:"band"`
	Channels []float64 `yaml:"channels" json:"channels"`
	Dwell    Duration  `yaml:"dwell" json:"dwell"`
	Settle   Duration  `yaml:"settle" json:"settle"`
	Passes   *int      `yaml:"passes" json:"passes"`
}

// TriggerConfig shapes energy estimation, the noise floor and the recorded
// burst around each trigger.
type TriggerConfig struct {
	EnergyWindow    Duration `yaml:"energyWindow" json:"energyWindow"`
	EnergyHop       Duration `yaml:"energyHop" json:"energyHop"`
	NoisePercentile float64  `yaml:"noisePercentile" json:"noisePercentile"`
	NoiseWindows    int      `yaml:"noiseWindows" json:"noiseWindows"`
	MarginDB        float64  `yaml:"marginDB" json:"marginDB"`

	PreRoll    Duration `yaml:"preRoll" json:"preRoll"`
	PostRoll   Duration `yaml:"postRoll" json:"postRoll"`
	MaxCapture Duration `yaml:"maxCapture" json:"maxCapture"`

	ReadBlock   int      `yaml:"readBlock" json:"readBlock"`
	ReadTimeout Duration `yaml:"readTimeout" json:"readTimeout"`
}

// CaptureConfig is the output side: directory and raw sample format.
type CaptureConfig struct {
	OutputDir string `yaml:"outputDir" json:"outputDir"`
	Format    string `yaml:"format" json:"format"`
}

// StorageConfig configures the SQLite capture index. An empty data
// directory disables the index; sidecars are always written.
type StorageConfig struct {
	DataDirectory string `yaml:"dataDirectory" json:"dataDirectory"`
}

// NewConfig returns a configuration preloaded with the EU868 defaults the
// scanner was built around.
func NewConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Driver: DriverRTLSDR,
			Config: sdr.Config{
				SampleRate: 2_400_000,
				Antenna:    "RX",
				Gain:       sdr.OverallGain(40),
			},
		},
		Scan: ScanConfig{
			Band: "EU868",
			Channels: []float64{
				868_100_000, 868_300_000, 868_500_000,
				867_100_000, 867_300_000, 867_500_000, 867_700_000, 867_900_000,
			},
			Dwell:  Duration(6 * time.Second),
			Settle: Duration(50 * time.Millisecond),
		},
		Trigger: TriggerConfig{
			EnergyWindow:    Duration(10 * time.Millisecond),
			EnergyHop:       Duration(5 * time.Millisecond),
			NoisePercentile: 20,
			NoiseWindows:    40,
			MarginDB:        8,
			PreRoll:         Duration(300 * time.Millisecond),
			PostRoll:        Duration(400 * time.Millisecond),
			MaxCapture:      Duration(4 * time.Second),
			ReadBlock:       1 << 16,
			ReadTimeout:     Duration(capture.DefaultReadTimeout),
		},
		Capture: CaptureConfig{
			OutputDir: "captures",
			Format:    capture.FormatCS16.String(),
		},
	}
}

// LoadConfig reads a YAML configuration file over the defaults.
func LoadConfig(path string) (*Config, error) {
	p, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}

	config := NewConfig()
	if err = yaml.Unmarshal(p, config); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err = config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects configurations the engine or scheduler would refuse,
// before any device is touched. The engine and scheduler re-validate their
// own derived parameters.
func (c *Config) Validate() error {
	switch c.Device.Driver {
	case DriverRTLSDR:
	case DriverReplay:
		if c.Device.ReplayFile == "" {
			return fmt.Errorf("replay driver requires a replay file")
		}
	default:
		return fmt.Errorf("unknown device driver: %q", c.Device.Driver)
	}

	if c.Device.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", c.Device.SampleRate)
	}
	if c.Capture.OutputDir == "" {
		return fmt.Errorf("capture output directory is required")
	}
	if err := capture.Format(c.Capture.Format).Validate(); err != nil {
		return err
	}

	plan := c.ChannelPlan()
	if err := plan.Validate(); err != nil {
		return err
	}

	params := c.EngineParams()
	return params.Validate()
}

// ChannelPlan derives the scheduler plan from the scan section.
func (c *Config) ChannelPlan() capture.ChannelPlan {
	return capture.ChannelPlan{
		Channels: c.Scan.Channels,
		Dwell:    c.Scan.Dwell.Std(),
		Settle:   c.Scan.Settle.Std(),
		Passes:   c.Scan.Passes,
	}
}

// EngineParams converts the second-based trigger configuration into the
// sample-based engine parameters. Window and hop lengths are clamped to
// sane minimums so very low rates cannot degenerate into per-sample
// windows.
func (c *Config) EngineParams() capture.Params {
	rate := c.Device.SampleRate

	toSamples := func(d Duration) int64 {
		return int64(d.Std().Seconds() * float64(rate))
	}

	window := int(toSamples(c.Trigger.EnergyWindow))
	if window < 256 {
		window = 256
	}
	hop := int(toSamples(c.Trigger.EnergyHop))
	if hop < 128 {
		hop = 128
	}

	return capture.Params{
		SampleRate:        rate,
		Band:              c.Scan.Band,
		Format:            capture.Format(c.Capture.Format),
		WindowSamples:     window,
		HopSamples:        hop,
		NoiseWindows:      c.Trigger.NoiseWindows,
		NoisePercentile:   c.Trigger.NoisePercentile,
		MarginDB:          c.Trigger.MarginDB,
		PreRollSamples:    int(toSamples(c.Trigger.PreRoll)),
		PostRollSamples:   toSamples(c.Trigger.PostRoll),
		MaxCaptureSamples: toSamples(c.Trigger.MaxCapture),
		ReadBlockSamples:  c.Trigger.ReadBlock,
		ReadTimeout:       c.Trigger.ReadTimeout.Std(),
	}
}
