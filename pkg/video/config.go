package video

import (
	"log/slog"
	"time"
)

// Config holds the WebRTC source configuration.
type Config struct {
	// SignallingURL is the websocket URL of the signalling server
	// (e.g., "ws://192.168.1.42:8443").
	SignallingURL string

	// ProducerName selects the producer whose meta "name" matches.
	// Empty picks the first producer listed.
	ProducerName string

	// ICEServers are STUN/TURN URLs. Empty is fine on a local network.
	ICEServers []string

	// ConnectTimeout bounds Open when the caller's context has no deadline.
	ConnectTimeout time.Duration

	// DecodeInterval is the minimum time between decodes.
	DecodeInterval time.Duration

	// MaxBuffer caps the buffered group of pictures in bytes.
	MaxBuffer int

	// Decoder turns buffered H264 into JPEG. Nil uses ffmpeg.
	Decoder Decoder

	Logger *slog.Logger
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 15 * time.Second,
		DecodeInterval: 100 * time.Millisecond,
		MaxBuffer:      4 << 20,
	}
}

// Option configures a Client.
type Option func(*Config)

// WithSignallingURL sets the signalling server URL.
func WithSignallingURL(url string) Option {
	return func(c *Config) {
		c.SignallingURL = url
	}
}

// WithProducerName selects the producer by name.
func WithProducerName(name string) Option {
	return func(c *Config) {
		c.ProducerName = name
	}
}

// WithICEServers sets STUN/TURN servers.
func WithICEServers(urls ...string) Option {
	return func(c *Config) {
		c.ICEServers = urls
	}
}

// WithConnectTimeout sets the Open timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ConnectTimeout = d
	}
}

// WithDecodeInterval sets the minimum time between decodes.
func WithDecodeInterval(d time.Duration) Option {
	return func(c *Config) {
		c.DecodeInterval = d
	}
}

// WithDecoder replaces the ffmpeg decoder.
func WithDecoder(d Decoder) Option {
	return func(c *Config) {
		c.Decoder = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}
