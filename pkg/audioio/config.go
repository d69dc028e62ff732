// Package audioio provides audio playback for music and speech.
//
// Backends:
//   - exec: pipes raw PCM into aplay (ALSA)
//   - pulse: pipes raw PCM into pacat (PulseAudio/PipeWire)
//   - mock: records chunks in memory for tests
//
// The backend is selected automatically from the tools available on PATH,
// or can be explicitly specified via configuration.
package audioio

import (
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto automatically selects the best available backend.
	BackendAuto Backend = "auto"
	// BackendALSA pipes audio into aplay.
	BackendALSA Backend = "alsa"
	// BackendPulse pipes audio into pacat.
	BackendPulse Backend = "pulse"
	// BackendMock uses a mock implementation for testing.
	BackendMock Backend = "mock"
)

// Config holds audio configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	// Default: "auto"
	Backend Backend `json:"backend"`

	// SampleRate is the audio sample rate in Hz.
	// Default: 24000 (OpenAI PCM speech output)
	SampleRate int `json:"sample_rate"`

	// Channels is the number of audio channels.
	// Default: 1 (mono)
	Channels int `json:"channels"`

	// BufferDuration is the size of audio buffers.
	// Default: 20ms (480 samples at 24kHz)
	BufferDuration time.Duration `json:"buffer_duration"`

	// Device is the platform-specific device identifier.
	// Examples:
	//   - ALSA: "hw:0,0", "default", "plughw:1,0"
	//   - Pulse: sink name or empty for default
	//   - Mock: ignored
	Device string `json:"device"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendAuto,
		SampleRate:     24000,
		Channels:       1,
		BufferDuration: 20 * time.Millisecond,
		Device:         "",
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.BufferDuration <= 0 {
		return fmt.Errorf("buffer_duration must be positive, got %v", c.BufferDuration)
	}
	return nil
}

// BufferSize returns the number of frames per buffer.
func (c Config) BufferSize() int {
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}

// BufferBytes returns the size of a buffer in bytes (assuming int16 samples).
func (c Config) BufferBytes() int {
	return c.BufferSize() * c.Channels * 2
}
