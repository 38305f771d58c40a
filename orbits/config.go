package orbits

import (
	"time"

	"go.uber.org/zap/zapcore"
)

// Config is the orbit channel configuration.
type Config struct {
	// Interval is the nominal cadence between sync steps.
	Interval time.Duration `mapstructure:"interval"`
}

// DefaultConfig returns the default orbit configuration.
func DefaultConfig() Config {
	return Config{
		Interval: 10 * time.Second,
	}
}

func (c *Config) MarshalLogObject(encoder zapcore.ObjectEncoder) error {
	encoder.AddDuration("interval", c.Interval)
	return nil
}
