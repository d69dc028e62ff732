package camera

import (
	"context"
	"time"
)

// Frame is a single captured image.
type Frame struct {
	// JPEG holds the encoded image.
	JPEG []byte

	// Width and Height are the pixel dimensions of the image.
	Width  int
	Height int

	// CapturedAt is when the frame was grabbed.
	CapturedAt time.Time
}

// Empty reports whether the frame carries no image data.
func (f Frame) Empty() bool {
	return len(f.JPEG) == 0
}

// Source owns a live video or image producer.
type Source interface {
	// Open acquires the producer with the given constraints.
	Open(ctx context.Context, cfg Config) error

	// CaptureFrame returns the current frame.
	CaptureFrame(ctx context.Context) (Frame, error)

	// Close releases the producer. It is safe to call Close multiple times.
	Close() error

	// Name returns the backend name (e.g., "device", "webrtc", "static").
	Name() string
}

// Permission describes whether the process may open a capture device.
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
	PermissionPrompt  Permission = "prompt"
)

// Prober is implemented by sources that can report device availability
// and access before Open.
type Prober interface {
	Supported() bool
	Permission(cfg Config) Permission
}
