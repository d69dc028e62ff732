package bgm

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrNotInitialized is returned when the engine is used before Initialize.
	ErrNotInitialized = errors.New("bgm: engine not initialized")

	// ErrClosed is returned after Dispose until Initialize runs again.
	ErrClosed = errors.New("bgm: engine closed")

	// ErrUnsupportedFormat is wrapped by DecodeError for unknown containers.
	ErrUnsupportedFormat = errors.New("bgm: unsupported audio format")
)

// InitializationError reports that the audio output failed to start.
type InitializationError struct {
	Backend string
	Err     error
}

// Error implements the error interface.
func (e *InitializationError) Error() string {
	return fmt.Sprintf("bgm: failed to start %s output: %v", e.Backend, e.Err)
}

// Unwrap returns the underlying error.
func (e *InitializationError) Unwrap() error {
	return e.Err
}

// PermissionError reports that access to the audio device was denied.
type PermissionError struct {
	Backend string
	Err     error
}

// Error implements the error interface.
func (e *PermissionError) Error() string {
	return fmt.Sprintf("bgm: permission denied for %s output: %v", e.Backend, e.Err)
}

// Unwrap returns the underlying error.
func (e *PermissionError) Unwrap() error {
	return e.Err
}

// Remediation is the user-facing hint for fixing the failure.
func (e *PermissionError) Remediation() string {
	return "Audio output was blocked. Allow audio playback for this device and try again."
}

// DecodeError reports a malformed or unsupported track.
type DecodeError struct {
	Source string
	Err    error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("bgm: decode %s: %v", e.Source, e.Err)
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}
