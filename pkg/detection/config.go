package detection

import (
	"log/slog"
	"time"
)

// DefaultInterval is the minimum time between model invocations.
const DefaultInterval = 500 * time.Millisecond

// Config holds adapter configuration.
// Use functional options (WithXxx) to set these values.
type Config struct {
	// Interval is the minimum time between model invocations.
	// Zero disables the gate.
	Interval time.Duration

	// MinConfidence drops predictions scoring below it. Zero keeps all.
	MinConfidence float64

	// Clock returns the current time. Tests inject a fake.
	Clock func() time.Time

	Logger *slog.Logger
}

// Option is a functional option for configuring the adapter.
type Option func(*Config)

// WithInterval sets the minimum time between model invocations.
func WithInterval(d time.Duration) Option {
	return func(c *Config) {
		c.Interval = d
	}
}

// WithMinConfidence drops predictions below the given score.
func WithMinConfidence(v float64) Option {
	return func(c *Config) {
		c.MinConfidence = v
	}
}

// WithClock overrides the time source used by the gate.
func WithClock(clock func() time.Time) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() *Config {
	return &Config{
		Interval: DefaultInterval,
		Clock:    time.Now,
		Logger:   slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}
