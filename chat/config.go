package chat

import (
	"time"

	"go.uber.org/zap/zapcore"
)

// Config is the chat channel configuration.
type Config struct {
	// Interval is the nominal cadence between sync steps.
	Interval time.Duration `mapstructure:"interval"`
	// Backlog caps how many messages the conversation snapshot keeps.
	Backlog int `mapstructure:"backlog"`
}

// DefaultConfig returns the default chat configuration.
func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Second,
		Backlog:  200,
	}
}

func (c *Config) MarshalLogObject(encoder zapcore.ObjectEncoder) error {
	encoder.AddDuration("interval", c.Interval)
	encoder.AddInt("backlog", c.Backlog)
	return nil
}
