package camera

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

// Sentinel errors for common error conditions.
var (
	// ErrNotActive is returned when capturing before Start.
	ErrNotActive = errors.New("camera: not active")

	// ErrNoFrame is returned when the producer has no frame yet.
	ErrNoFrame = errors.New("camera: no frame available")

	// ErrNotFound is returned when no camera device exists.
	ErrNotFound = errors.New("camera: device not found")

	// ErrBusy is returned when another application holds the device.
	ErrBusy = errors.New("camera: device in use by another application")

	// ErrUnsupportedConstraints is returned when the device rejects the constraints.
	ErrUnsupportedConstraints = errors.New("camera: requested configuration not supported")

	// ErrNotSupported is returned when the platform cannot capture at all.
	ErrNotSupported = errors.New("camera: capture not supported on this platform")
)

// PermissionError reports that access to the camera was denied.
// It is fatal to the session until the user grants access again.
type PermissionError struct {
	Device string
	Err    error
}

// Error implements the error interface.
func (e *PermissionError) Error() string {
	return fmt.Sprintf("camera: permission denied for %s: %v", e.Device, e.Err)
}

// Unwrap returns the underlying error.
func (e *PermissionError) Unwrap() error {
	return e.Err
}

// Remediation is the user-facing hint for fixing the failure.
func (e *PermissionError) Remediation() string {
	return "Camera access was denied. Allow camera access in the system settings and try again."
}

// ClassifyOpenError maps an OS-level error from opening device into the
// camera error taxonomy.
func ClassifyOpenError(device string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrPermission):
		return &PermissionError{Device: device, Err: err}
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s", ErrNotFound, device)
	case errors.Is(err, syscall.EBUSY):
		return fmt.Errorf("%w: %s", ErrBusy, device)
	default:
		return fmt.Errorf("camera: open %s: %w", device, err)
	}
}

// UserMessage returns a message suitable for showing to the user.
func UserMessage(err error) string {
	var perm *PermissionError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &perm):
		return perm.Remediation()
	case errors.Is(err, ErrNotFound):
		return "No camera device was found."
	case errors.Is(err, ErrBusy):
		return "The camera is being used by another application."
	case errors.Is(err, ErrUnsupportedConstraints):
		return "The camera does not support the requested configuration."
	case errors.Is(err, ErrNotSupported):
		return "Camera capture is not supported on this device."
	default:
		return fmt.Sprintf("Camera initialization failed: %v", err)
	}
}
