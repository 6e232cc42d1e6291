package rtl

import (
	"fmt"
)

const (
	// SampleRateMin and SampleRateMax bound what the rtl_sdr tool accepts.
	SampleRateMin = 225_000
	SampleRateMax = 3_200_000

	DefaultBlockSamples = 1 << 16
	DefaultQueueDepth   = 8
)

// Config is the rtl_sdr tool configuration that is not part of the shared
// front-end config: device selection and streaming shape.
type Config struct {
	DeviceIndex int `yaml:"deviceIndex" json:"deviceIndex"` // -d device index
	PPMError    int `yaml:"ppmError" json:"ppmError"`       // -p frequency correction in ppm

	// BlockSamples is the number of complex samples per block pushed to the
	// reader; QueueDepth is how many blocks may queue before the oldest is
	// dropped as an overrun.
	BlockSamples int `yaml:"blockSamples" json:"blockSamples"`
	QueueDepth   int `yaml:"queueDepth" json:"queueDepth"`
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.DeviceIndex < 0 {
		return fmt.Errorf("rtl.Config: invalid device index: %d", c.DeviceIndex)
	}
	if c.BlockSamples < 0 || c.QueueDepth < 0 {
		return fmt.Errorf("rtl.Config: invalid streaming shape: block=%d, queue=%d", c.BlockSamples, c.QueueDepth)
	}
	if c.BlockSamples == 0 {
		c.BlockSamples = DefaultBlockSamples
	}
	if c.QueueDepth == 0 {
		c.QueueDepth = DefaultQueueDepth
	}
	return nil
}
