package transport

import (
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// Config for the store client.
type Config struct {
	// Endpoints are candidate store base URLs, tried in order on every
	// request.
	Endpoints []string `mapstructure:"endpoints"`
	// RequestTimeout bounds a single request attempt.
	RequestTimeout time.Duration `mapstructure:"request-timeout"`
	// MaxRetries is the retry budget per endpoint for transient failures.
	MaxRetries   int           `mapstructure:"max-retries"`
	RetryWaitMin time.Duration `mapstructure:"retry-wait-min"`
	RetryWaitMax time.Duration `mapstructure:"retry-wait-max"`
	// RequestsPerInterval caps outgoing requests per RateInterval across
	// all channels. Zero disables the limiter.
	RequestsPerInterval int           `mapstructure:"requests-per-interval"`
	RateInterval        time.Duration `mapstructure:"rate-interval"`
}

// DefaultConfig for the store client.
func DefaultConfig() Config {
	return Config{
		Endpoints:           []string{"http://localhost:5011"},
		RequestTimeout:      10 * time.Second,
		MaxRetries:          1,
		RetryWaitMin:        200 * time.Millisecond,
		RetryWaitMax:        2 * time.Second,
		RequestsPerInterval: 20,
		RateInterval:        time.Second,
	}
}

// MarshalLogObject implements logging encoder for the config.
func (c *Config) MarshalLogObject(encoder zapcore.ObjectEncoder) error {
	encoder.AddString("endpoints", strings.Join(c.Endpoints, ","))
	encoder.AddDuration("request timeout", c.RequestTimeout)
	encoder.AddInt("max retries", c.MaxRetries)
	encoder.AddDuration("retry wait min", c.RetryWaitMin)
	encoder.AddDuration("retry wait max", c.RetryWaitMax)
	encoder.AddInt("requests per interval", c.RequestsPerInterval)
	encoder.AddDuration("rate interval", c.RateInterval)
	return nil
}
