package scheduler

import (
	"time"

	"go.uber.org/zap/zapcore"
)

// Config for the channel loops.
type Config struct {
	// ReadyPoll is how often idle loops re-check the session gate.
	ReadyPoll time.Duration `mapstructure:"ready-poll"`
	// Jitter randomizes every cadence sleep by this fraction, so several
	// clients joining together spread their rounds out.
	Jitter float64 `mapstructure:"jitter"`
	// MinSleep floors every jittered sleep.
	MinSleep time.Duration `mapstructure:"min-sleep"`
}

// DefaultConfig for the channel loops.
func DefaultConfig() Config {
	return Config{
		ReadyPoll: 500 * time.Millisecond,
		Jitter:    0.35,
		MinSleep:  50 * time.Millisecond,
	}
}

// MarshalLogObject implements logging encoder for the config.
func (c *Config) MarshalLogObject(encoder zapcore.ObjectEncoder) error {
	encoder.AddDuration("ready poll", c.ReadyPoll)
	encoder.AddFloat64("jitter", c.Jitter)
	encoder.AddDuration("min sleep", c.MinSleep)
	return nil
}
