package narration

import (
	"log/slog"
	"time"
)

// Config holds queue collaborators.
type Config struct {
	// Ducker is ducked while speech is audible. May be nil.
	Ducker Ducker

	// Speaking mirrors the Speaking state. May be nil.
	Speaking SpeakingSink

	// Clock stamps requests.
	Clock func() time.Time

	Logger *slog.Logger
}

// Option is a functional option for configuring the queue.
type Option func(*Config)

// WithDucker sets the music ducker.
func WithDucker(d Ducker) Option {
	return func(c *Config) {
		c.Ducker = d
	}
}

// WithSpeakingSink sets where the Speaking state is published.
func WithSpeakingSink(s SpeakingSink) Option {
	return func(c *Config) {
		c.Speaking = s
	}
}

// WithClock overrides the request timestamp source.
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

// DefaultConfig returns a queue config with no collaborators.
func DefaultConfig() Config {
	return Config{
		Clock:  time.Now,
		Logger: slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}
