package bgm

import (
	"context"
	"log/slog"
	"time"

	"github.com/teslashibe/go-cardsense/internal/httpc"
)

// Defaults for the ducking cycle.
const (
	DefaultNormalVolume = 0.7
	DefaultDuckedVolume = 0.2
	DefaultFadeDuration = 500 * time.Millisecond
)

// Config holds engine configuration.
// Use functional options (WithXxx) to set these values.
type Config struct {
	// NormalVolume is the initial nominal volume.
	NormalVolume float64

	// DuckedVolume is the volume while narration plays.
	DuckedVolume float64

	// FadeDuration is the length of duck and unduck ramps.
	FadeDuration time.Duration

	// Clock returns the current time. Tests inject a fake.
	Clock func() time.Time

	// Fetch loads http(s) track sources.
	Fetch func(ctx context.Context, url string) ([]byte, error)

	Logger *slog.Logger
}

// Option is a functional option for configuring the engine.
type Option func(*Config)

// WithNormalVolume sets the initial nominal volume.
func WithNormalVolume(v float64) Option {
	return func(c *Config) {
		c.NormalVolume = v
	}
}

// WithDuckedVolume sets the volume used while ducked.
func WithDuckedVolume(v float64) Option {
	return func(c *Config) {
		c.DuckedVolume = v
	}
}

// WithFadeDuration sets the duck and unduck ramp length.
func WithFadeDuration(d time.Duration) Option {
	return func(c *Config) {
		c.FadeDuration = d
	}
}

// WithClock overrides the time source used for ramps.
func WithClock(clock func() time.Time) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithFetcher overrides how remote tracks are downloaded.
func WithFetcher(fetch func(ctx context.Context, url string) ([]byte, error)) Option {
	return func(c *Config) {
		c.Fetch = fetch
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *Config {
	return &Config{
		NormalVolume: DefaultNormalVolume,
		DuckedVolume: DefaultDuckedVolume,
		FadeDuration: DefaultFadeDuration,
		Clock:        time.Now,
		Fetch:        httpc.Fetch,
		Logger:       slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}
