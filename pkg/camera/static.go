package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // register JPEG for DecodeConfig
	"os"
	"sync"
	"time"
)

// Static serves the same image on every capture. Useful for demos,
// `cardsense detect` and tests.
type Static struct {
	mu       sync.Mutex
	jpeg     []byte
	width    int
	height   int
	open     bool
	captures int

	// OpenErr, when set, is returned by Open.
	OpenErr error

	// CaptureErr, when set, is returned by CaptureFrame.
	CaptureErr error
}

// NewStatic wraps a JPEG image. Width and height are read from the header when possible.
func NewStatic(jpegData []byte) *Static {
	s := &Static{jpeg: jpegData}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(jpegData)); err == nil {
		s.width, s.height = cfg.Width, cfg.Height
	}
	return s
}

// NewStaticFile loads a JPEG file.
func NewStaticFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read static image: %w", err)
	}
	return NewStatic(data), nil
}

// Open marks the source active.
func (s *Static) Open(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.OpenErr != nil {
		return s.OpenErr
	}
	s.open = true
	return nil
}

// CaptureFrame returns a copy of the image.
func (s *Static) CaptureFrame(ctx context.Context) (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return Frame{}, ErrNotActive
	}
	if s.CaptureErr != nil {
		return Frame{}, s.CaptureErr
	}
	s.captures++

	data := make([]byte, len(s.jpeg))
	copy(data, s.jpeg)
	return Frame{
		JPEG:       data,
		Width:      s.width,
		Height:     s.height,
		CapturedAt: time.Now(),
	}, nil
}

// Close marks the source inactive.
func (s *Static) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	return nil
}

// Name returns "static".
func (s *Static) Name() string {
	return "static"
}

// Captures returns how many frames were served.
func (s *Static) Captures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captures
}

var _ Source = (*Static)(nil)
