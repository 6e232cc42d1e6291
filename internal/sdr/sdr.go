package sdr

import (
	"errors"
	"time"
)

var (
	// ErrOverrun is returned by Read when the device produced samples faster
	// than the consumer drained them and a block had to be dropped.
	ErrOverrun = errors.New("sample buffer overrun")

	// ErrNotActive is returned by Read when the source stream has not been
	// activated, or has been deactivated.
	ErrNotActive = errors.New("source is not active")

	// ErrClosed is returned when the source has been closed and can no
	// longer be used.
	ErrClosed = errors.New("source is closed")
)

// ConfigError reports an invalid front-end configuration. It is rejected
// before anything is tuned or recorded.
type ConfigError struct {
	msg string
}

func NewConfigError(msg string) *ConfigError {
	return &ConfigError{msg}
}

func (e *ConfigError) Error() string {
	return e.msg
}

// Config describes the receiver front-end configuration resolved once at
// source creation. Frequency is not part of Config: the scheduler retunes
// via Source.Tune between channel dwells.
type Config struct {
	SampleRate int64  `yaml:"sampleRate" json:"sampleRate"` // Sample rate in S/s
	Bandwidth  int64  `yaml:"bandwidth" json:"bandwidth"`   // Analog filter bandwidth in Hz, 0 leaves the driver default
	Antenna    string `yaml:"antenna" json:"antenna"`       // RX antenna port name
	Gain       Gain   `yaml:"gain" json:"gain"`             // Overall dB or per-stage gains

	// Front-end correction toggles, passed through to drivers that
	// support them and ignored otherwise.
	AGC          bool `yaml:"agc" json:"agc"`
	DCCorrection bool `yaml:"dcCorrection" json:"dcCorrection"`
	IQBalance    bool `yaml:"iqBalance" json:"iqBalance"`
}

// SampleBlock is one read worth of interleaved int16 I/Q pairs, stamped with
// the host time the read completed. Blocks are consumed immediately by the
// capture engine and never retained beyond window computation and the
// pre-roll ring copy.
type SampleBlock struct {
	Timestamp time.Time
	IQ        []int16 // interleaved I,Q; always an even number of values
}

// Samples returns the number of complex samples in the block.
func (b *SampleBlock) Samples() int {
	return len(b.IQ) / 2
}

// Source is the tunable receiver abstraction the capture engine runs
// against. Implementations are not safe for concurrent use: the engine is
// the only caller and drives it from a single goroutine.
//
// Read fills iq with up to len(iq)/2 complex samples and returns the number
// of complex samples read. A (0, nil) result is a timeout, not an error;
// the control loop simply continues. ErrOverrun is recoverable and reports
// dropped samples. Any other error is a device fault: the remainder of the
// current dwell is aborted.
type Source interface {
	Tune(freqHz float64) error
	Activate() error
	Deactivate() error
	Read(iq []int16, timeout time.Duration) (n int, err error)
	Close() error

	// Describe returns the device type and identifier for metadata
	// sidecars and the capture index.
	Describe() (device, deviceID string)
}
