package capture

import (
	"fmt"
)

const (
	// FormatCS16 is interleaved little-endian int16 I/Q, the engine's
	// native working format.
	FormatCS16 Format = "cs16"

	// FormatCF32 is interleaved little-endian float32 I/Q in [-1, 1).
	FormatCF32 Format = "cf32"
)

// Format identifies the raw sample file layout. The file carries no framing
// or headers; the sidecar holds all structural metadata.
type Format string

func (f Format) String() string {
	return string(f)
}

// SampleBytes returns the on-disk size of one complex sample.
func (f Format) SampleBytes() int {
	if f == FormatCF32 {
		return 8
	}
	return 4
}

// Validate returns a non-nil error for unknown formats.
func (f Format) Validate() error {
	switch f {
	case FormatCS16, FormatCF32:
		return nil
	}
	return fmt.Errorf("invalid sample format: %q", f)
}

// Metadata is the JSON sidecar written next to every capture file. Static
// fields are filled once by the application from the run configuration; the
// engine fills the per-capture fields (frequency, timestamp, sequence,
// sample count, duration estimate, output path) when a capture finalizes.
type Metadata struct {
	RunID              string    `json:"run_id,omitempty"`
	Device             string    `json:"device"`
	DeviceID           string    `json:"device_id"`
	FrequencyHz        float64   `json:"freq_hz"`
	RateSps            float64   `json:"rate_sps"`
	BandwidthHz        float64   `json:"bandwidth_hz"`
	Antenna            string    `json:"antenna"`
	Gain               string    `json:"gain"`
	Format             Format    `json:"format"`
	TimestampUTC       string    `json:"timestamp_utc"`
	PreSeconds         float64   `json:"pre_seconds"`
	PostSeconds        float64   `json:"post_seconds"`
	EnergyWindowS      float64   `json:"energy_window_s"`
	EnergyHopS         float64   `json:"energy_hop_s"`
	TriggerDBOverFloor float64   `json:"trigger_db_over_floor"`
	NoisePercentile    float64   `json:"noise_percentile"`
	TuneSettleS        float64   `json:"tune_settle_s"`
	ChannelList        []float64 `json:"channel_list"`
	OutputFile         string    `json:"output_file"`
	CaptureSeq         int       `json:"capture_seq"`
	SamplesCaptured    int64     `json:"samples_captured_complex"`
	DurationSEst       float64   `json:"duration_s_est"`
}
