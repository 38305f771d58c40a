package vessels

import (
	"time"

	"go.uber.org/zap/zapcore"
)

// Config is the vessel channel configuration.
type Config struct {
	// Interval is the nominal cadence between sync steps.
	Interval time.Duration `mapstructure:"interval"`
	// Dir is the staging directory for imported craft files.
	Dir string `mapstructure:"dir"`
}

// DefaultConfig returns the default vessel configuration.
func DefaultConfig() Config {
	return Config{
		Interval: time.Minute,
		Dir:      "vessels",
	}
}

func (c *Config) MarshalLogObject(encoder zapcore.ObjectEncoder) error {
	encoder.AddDuration("interval", c.Interval)
	encoder.AddString("dir", c.Dir)
	return nil
}
