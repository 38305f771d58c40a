package scenario

import (
	"time"

	"go.uber.org/zap/zapcore"
)

// Config is the scenario channel configuration.
type Config struct {
	// Interval is the nominal cadence between sync steps.
	Interval time.Duration `mapstructure:"interval"`
}

// DefaultConfig returns the default scenario configuration.
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
	}
}

func (c *Config) MarshalLogObject(encoder zapcore.ObjectEncoder) error {
	encoder.AddDuration("interval", c.Interval)
	return nil
}
