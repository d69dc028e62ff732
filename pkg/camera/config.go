// Package camera provides the capture source for the recognition pipeline.
//
// A Source exposes "give me the current frame" on demand. The Manager owns
// the active Source, applies the capture constraints and reports camera
// state back to the session.
package camera

import "fmt"

// Facing modes, mirroring media constraints on mobile devices.
const (
	FacingUser        = "user"        // front camera
	FacingEnvironment = "environment" // back camera
)

// Config holds the capture constraints.
type Config struct {
	// === Resolution ===
	Width     int `json:"width"`     // Ideal frame width in pixels
	Height    int `json:"height"`    // Ideal frame height in pixels
	Framerate int `json:"framerate"` // Ideal FPS (capped at MaxFramerate)
	Quality   int `json:"quality"`   // JPEG quality 1-100

	// === Device selection ===
	Facing      string `json:"facing"`       // FacingUser or FacingEnvironment
	FrontDevice int    `json:"front_device"` // Device index for FacingUser
	BackDevice  int    `json:"back_device"`  // Device index for FacingEnvironment
}

// MaxFramerate caps the requested frame rate for mobile-class devices.
const MaxFramerate = 30

// DefaultConfig returns constraints tuned for mobile devices:
// 640x480, 30 FPS, front camera.
func DefaultConfig() Config {
	return Config{
		Width:       640,
		Height:      480,
		Framerate:   30,
		Quality:     85,
		Facing:      FacingUser,
		FrontDevice: 0,
		BackDevice:  1,
	}
}

// Device returns the device index selected by Facing.
func (c Config) Device() int {
	if c.Facing == FacingEnvironment {
		return c.BackDevice
	}
	return c.FrontDevice
}

// Flipped returns a copy with the opposite facing mode.
func (c Config) Flipped() Config {
	if c.Facing == FacingEnvironment {
		c.Facing = FacingUser
	} else {
		c.Facing = FacingEnvironment
	}
	return c
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	if c.Width < 160 || c.Width > 4096 {
		errors = append(errors, "width must be between 160 and 4096")
	}
	if c.Height < 120 || c.Height > 2160 {
		errors = append(errors, "height must be between 120 and 2160")
	}
	if c.Framerate < 1 || c.Framerate > MaxFramerate {
		errors = append(errors, fmt.Sprintf("framerate must be between 1 and %d", MaxFramerate))
	}
	if c.Quality < 1 || c.Quality > 100 {
		errors = append(errors, "quality must be between 1 and 100")
	}
	if c.Facing != FacingUser && c.Facing != FacingEnvironment {
		errors = append(errors, "facing must be user or environment")
	}
	if c.FrontDevice < 0 || c.BackDevice < 0 {
		errors = append(errors, "device indexes must not be negative")
	}

	return errors
}
