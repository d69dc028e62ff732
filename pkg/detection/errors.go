package detection

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrModelNotReady is returned by Detect before Initialize succeeds.
	ErrModelNotReady = errors.New("detection: model not ready")

	// ErrNoLoader is returned when the adapter has no loader configured.
	ErrNoLoader = errors.New("detection: no model loader configured")
)

// InitializationError reports that the model failed to load.
type InitializationError struct {
	Err error
}

// Error implements the error interface.
func (e *InitializationError) Error() string {
	return fmt.Sprintf("detection: failed to load model: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *InitializationError) Unwrap() error {
	return e.Err
}

// TransientError wraps a model failure on a single detection call.
// The adapter logs and counts these instead of returning them.
type TransientError struct {
	Err error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	return fmt.Sprintf("detection: transient failure: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *TransientError) Unwrap() error {
	return e.Err
}
