package vote

import (
	"time"

	"go.uber.org/zap/zapcore"
)

// Config is the vote channel configuration.
type Config struct {
	// Interval is the nominal cadence between sync steps, which is also
	// the status poll cadence for tracked proposals.
	Interval time.Duration `mapstructure:"interval"`
}

// DefaultConfig returns the default vote configuration.
func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Second,
	}
}

func (c *Config) MarshalLogObject(encoder zapcore.ObjectEncoder) error {
	encoder.AddDuration("interval", c.Interval)
	return nil
}
