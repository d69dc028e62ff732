package camera_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io/fs"
	"strings"
	"syscall"
	"testing"

	"github.com/teslashibe/go-cardsense/pkg/camera"
)

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

type recordingState struct {
	active []bool
	errs   []string
}

func (r *recordingState) SetCameraActive(active bool) { r.active = append(r.active, active) }
func (r *recordingState) SetCameraError(msg string)   { r.errs = append(r.errs, msg) }

func TestDefaultConfig(t *testing.T) {
	cfg := camera.DefaultConfig()
	if cfg.Width != 640 || cfg.Height != 480 {
		t.Errorf("size = %dx%d, want 640x480", cfg.Width, cfg.Height)
	}
	if cfg.Framerate != 30 {
		t.Errorf("framerate = %d, want 30", cfg.Framerate)
	}
	if cfg.Facing != camera.FacingUser {
		t.Errorf("facing = %q, want user", cfg.Facing)
	}
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("default config invalid: %v", errs)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*camera.Config)
		want   int
	}{
		{"valid", func(c *camera.Config) {}, 0},
		{"too narrow", func(c *camera.Config) { c.Width = 10 }, 1},
		{"framerate over cap", func(c *camera.Config) { c.Framerate = 60 }, 1},
		{"bad facing", func(c *camera.Config) { c.Facing = "sideways" }, 1},
		{"bad quality and height", func(c *camera.Config) { c.Quality = 0; c.Height = 5000 }, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := camera.DefaultConfig()
			tt.modify(&cfg)
			if got := len(cfg.Validate()); got != tt.want {
				t.Errorf("Validate() returned %d errors, want %d: %v", got, tt.want, cfg.Validate())
			}
		})
	}
}

func TestConfigFlipped(t *testing.T) {
	cfg := camera.DefaultConfig()
	if cfg.Device() != cfg.FrontDevice {
		t.Errorf("Device() = %d, want front %d", cfg.Device(), cfg.FrontDevice)
	}
	back := cfg.Flipped()
	if back.Facing != camera.FacingEnvironment || back.Device() != cfg.BackDevice {
		t.Errorf("Flipped() = %+v", back)
	}
	if back.Flipped().Facing != camera.FacingUser {
		t.Error("double flip should return to user")
	}
}

func TestClassifyOpenError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		is   error
		msg  string
	}{
		{"permission", fs.ErrPermission, nil, "denied"},
		{"missing", fs.ErrNotExist, camera.ErrNotFound, "No camera"},
		{"busy", syscall.EBUSY, camera.ErrBusy, "another application"},
		{"other", errors.New("boom"), nil, "initialization failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := camera.ClassifyOpenError("/dev/video0", tt.err)
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Errorf("errors.Is(%v, %v) = false", err, tt.is)
			}
			if msg := camera.UserMessage(err); !strings.Contains(msg, tt.msg) {
				t.Errorf("UserMessage() = %q, want it to contain %q", msg, tt.msg)
			}
		})
	}

	t.Run("permission is typed", func(t *testing.T) {
		err := camera.ClassifyOpenError("/dev/video0", fmt.Errorf("open: %w", fs.ErrPermission))
		var perm *camera.PermissionError
		if !errors.As(err, &perm) {
			t.Fatalf("expected PermissionError, got %T", err)
		}
		if perm.Device != "/dev/video0" {
			t.Errorf("Device = %q", perm.Device)
		}
	})

	t.Run("nil passes through", func(t *testing.T) {
		if err := camera.ClassifyOpenError("x", nil); err != nil {
			t.Errorf("expected nil, got %v", err)
		}
	})
}

func TestStatic(t *testing.T) {
	ctx := context.Background()
	src := camera.NewStatic(testJPEG(t, 32, 24))

	if _, err := src.CaptureFrame(ctx); !errors.Is(err, camera.ErrNotActive) {
		t.Errorf("capture before open: got %v, want ErrNotActive", err)
	}

	if err := src.Open(ctx, camera.DefaultConfig()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	frame, err := src.CaptureFrame(ctx)
	if err != nil {
		t.Fatalf("CaptureFrame: %v", err)
	}
	if frame.Width != 32 || frame.Height != 24 {
		t.Errorf("frame size = %dx%d, want 32x24", frame.Width, frame.Height)
	}
	if frame.Empty() {
		t.Error("frame should not be empty")
	}

	frame.JPEG[0] = 0
	again, _ := src.CaptureFrame(ctx)
	if again.JPEG[0] == 0 {
		t.Error("frames should not share the underlying buffer")
	}
	if src.Captures() != 2 {
		t.Errorf("Captures() = %d, want 2", src.Captures())
	}
}

func TestManagerLifecycle(t *testing.T) {
	ctx := context.Background()
	src := camera.NewStatic(testJPEG(t, 16, 16))
	state := &recordingState{}
	m := camera.NewManager(src, camera.DefaultConfig(), state, nil)

	if _, err := m.CaptureFrame(ctx); !errors.Is(err, camera.ErrNotActive) {
		t.Errorf("capture before start: got %v", err)
	}
	if err := m.Switch(ctx); !errors.Is(err, camera.ErrNotActive) {
		t.Errorf("switch before start: got %v", err)
	}

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !m.IsActive() {
		t.Error("expected active after Start")
	}
	if _, _, ok := m.FrameSize(); ok {
		t.Error("FrameSize should be unknown before the first capture")
	}
	if _, err := m.CaptureFrame(ctx); err != nil {
		t.Fatalf("CaptureFrame: %v", err)
	}
	if w, h, ok := m.FrameSize(); !ok || w != 16 || h != 16 {
		t.Errorf("FrameSize() = %d, %d, %v", w, h, ok)
	}

	if err := m.Switch(ctx); err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if m.GetConfig().Facing != camera.FacingEnvironment {
		t.Errorf("facing after switch = %q", m.GetConfig().Facing)
	}
	if !m.IsActive() {
		t.Error("expected active after Switch")
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if m.IsActive() {
		t.Error("expected inactive after Stop")
	}
	if got := state.active[len(state.active)-1]; got {
		t.Error("last reported state should be inactive")
	}
}

func TestManagerStartFailure(t *testing.T) {
	ctx := context.Background()
	src := camera.NewStatic(testJPEG(t, 8, 8))
	src.OpenErr = camera.ClassifyOpenError("/dev/video0", fs.ErrPermission)
	state := &recordingState{}
	m := camera.NewManager(src, camera.DefaultConfig(), state, nil)

	err := m.Start(ctx)
	var perm *camera.PermissionError
	if !errors.As(err, &perm) {
		t.Fatalf("expected PermissionError, got %v", err)
	}
	if m.IsActive() {
		t.Error("manager should not be active after a failed start")
	}
	if len(state.errs) != 1 || !strings.Contains(state.errs[0], "denied") {
		t.Errorf("reported errors = %v", state.errs)
	}
}

func TestManagerSetConfig(t *testing.T) {
	ctx := context.Background()
	m := camera.NewManager(camera.NewStatic(testJPEG(t, 8, 8)), camera.DefaultConfig(), nil, nil)

	bad := camera.DefaultConfig()
	bad.Framerate = 120
	if err := m.SetConfig(ctx, bad); err == nil {
		t.Error("expected validation error")
	}

	good := camera.DefaultConfig()
	good.Width, good.Height = 1280, 720
	if err := m.SetConfig(ctx, good); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	if m.IsActive() {
		t.Error("SetConfig must not start an idle camera")
	}
	if m.GetConfig().Width != 1280 {
		t.Errorf("width = %d", m.GetConfig().Width)
	}
}

type probingSource struct {
	*camera.Static
	supported bool
	perm      camera.Permission
	probed    camera.Config
}

func (p *probingSource) Supported() bool { return p.supported }

func (p *probingSource) Permission(cfg camera.Config) camera.Permission {
	p.probed = cfg
	return p.perm
}

func TestManagerProbe(t *testing.T) {
	static := camera.NewManager(camera.NewStatic(testJPEG(t, 8, 8)), camera.DefaultConfig(), nil, nil)
	if !static.IsSupported() || static.Permission() != camera.PermissionGranted {
		t.Error("sources without a prober should report supported and granted")
	}

	src := &probingSource{Static: camera.NewStatic(testJPEG(t, 8, 8)), perm: camera.PermissionDenied}
	cfg := camera.DefaultConfig()
	cfg.Facing = camera.FacingEnvironment
	m := camera.NewManager(src, cfg, nil, nil)
	if m.IsSupported() {
		t.Error("IsSupported should come from the source")
	}
	if got := m.Permission(); got != camera.PermissionDenied {
		t.Errorf("Permission() = %q", got)
	}
	if src.probed.Facing != camera.FacingEnvironment {
		t.Errorf("probe saw facing %q", src.probed.Facing)
	}
}
