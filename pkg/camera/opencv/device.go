// Package opencv implements camera.Source on top of a local capture device
// using OpenCV (gocv).
package opencv

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/teslashibe/go-cardsense/pkg/camera"
	"gocv.io/x/gocv"
)

// Device captures frames from a V4L2/AVFoundation camera.
type Device struct {
	logger *slog.Logger

	mu      sync.Mutex
	capture *gocv.VideoCapture
	mat     gocv.Mat
	cfg     camera.Config
	open    bool
}

// New creates an unopened capture device.
func New(logger *slog.Logger) *Device {
	if logger == nil {
		logger = slog.Default()
	}
	return &Device{
		logger: logger.With("component", "camera.opencv"),
	}
}

// devicePath returns the device node backing index, or "" where the
// platform has no device nodes.
func devicePath(index int) string {
	if runtime.GOOS != "linux" {
		return ""
	}
	return fmt.Sprintf("/dev/video%d", index)
}

// Supported reports whether any capture device is present.
func Supported() bool {
	if runtime.GOOS != "linux" {
		return true
	}
	matches, _ := filepath.Glob("/dev/video*")
	return len(matches) > 0
}

// CheckPermission probes access to the device at index without starting capture.
// Platforms without device nodes report PermissionPrompt.
func CheckPermission(index int) camera.Permission {
	path := devicePath(index)
	if path == "" {
		return camera.PermissionPrompt
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if os.IsPermission(err) {
			return camera.PermissionDenied
		}
		return camera.PermissionPrompt
	}
	f.Close()
	return camera.PermissionGranted
}

// Supported reports whether any capture device is present.
func (d *Device) Supported() bool {
	return Supported()
}

// Permission probes the device cfg selects.
func (d *Device) Permission(cfg camera.Config) camera.Permission {
	return CheckPermission(cfg.Device())
}

// Open starts capture on the device selected by cfg.Facing.
func (d *Device) Open(ctx context.Context, cfg camera.Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.open {
		d.closeLocked()
	}

	index := cfg.Device()
	if path := devicePath(index); path != "" {
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			return camera.ClassifyOpenError(path, err)
		}
		f.Close()
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	capture, err := gocv.OpenVideoCapture(index)
	if err != nil {
		return fmt.Errorf("%w: device %d: %v", camera.ErrNotFound, index, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return fmt.Errorf("%w: device %d", camera.ErrBusy, index)
	}

	capture.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	capture.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	capture.Set(gocv.VideoCaptureFPS, float64(min(cfg.Framerate, camera.MaxFramerate)))

	if capture.Get(gocv.VideoCaptureFrameWidth) == 0 {
		capture.Close()
		return fmt.Errorf("%w: %dx%d@%d", camera.ErrUnsupportedConstraints, cfg.Width, cfg.Height, cfg.Framerate)
	}

	d.capture = capture
	d.mat = gocv.NewMat()
	d.cfg = cfg
	d.open = true

	d.logger.Info("camera opened",
		"device", index,
		"facing", cfg.Facing,
		"width", int(capture.Get(gocv.VideoCaptureFrameWidth)),
		"height", int(capture.Get(gocv.VideoCaptureFrameHeight)),
		"fps", capture.Get(gocv.VideoCaptureFPS),
	)
	return nil
}

// CaptureFrame grabs the current frame and encodes it as JPEG.
func (d *Device) CaptureFrame(ctx context.Context) (camera.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return camera.Frame{}, camera.ErrNotActive
	}
	if err := ctx.Err(); err != nil {
		return camera.Frame{}, err
	}

	if ok := d.capture.Read(&d.mat); !ok || d.mat.Empty() {
		return camera.Frame{}, camera.ErrNoFrame
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, d.mat, []int{int(gocv.IMWriteJpegQuality), d.cfg.Quality})
	if err != nil {
		return camera.Frame{}, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	raw := buf.GetBytes()
	data := make([]byte, len(raw))
	copy(data, raw)

	return camera.Frame{
		JPEG:       data,
		Width:      d.mat.Cols(),
		Height:     d.mat.Rows(),
		CapturedAt: time.Now(),
	}, nil
}

// Close stops capture.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeLocked()
	return nil
}

func (d *Device) closeLocked() {
	if !d.open {
		return
	}
	d.capture.Close()
	d.mat.Close()
	d.capture = nil
	d.open = false
	d.logger.Info("camera stopped")
}

// Name returns "device".
func (d *Device) Name() string {
	return "device"
}

var (
	_ camera.Source = (*Device)(nil)
	_ camera.Prober = (*Device)(nil)
)
