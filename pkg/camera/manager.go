package camera

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// StateSink receives camera state changes. *session.State satisfies it.
type StateSink interface {
	SetCameraActive(active bool)
	SetCameraError(msg string)
}

// Manager owns the active Source and its configuration.
type Manager struct {
	source Source
	state  StateSink
	logger *slog.Logger

	mu     sync.RWMutex
	config Config
	active bool

	// lastSize is the size of the most recent frame.
	lastW, lastH int
}

// NewManager creates a manager for source. state may be nil.
func NewManager(source Source, cfg Config, state StateSink, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		source: source,
		state:  state,
		config: cfg,
		logger: logger.With("component", "camera.manager", "source", source.Name()),
	}
}

// Start opens the source with the current configuration.
// Failures are reported to the state sink with a user-facing message.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked(ctx)
}

func (m *Manager) startLocked(ctx context.Context) error {
	if errs := m.config.Validate(); len(errs) > 0 {
		err := fmt.Errorf("%w: %v", ErrUnsupportedConstraints, errs)
		m.reportError(err)
		return err
	}

	if err := m.source.Open(ctx, m.config); err != nil {
		m.active = false
		m.reportError(err)
		return err
	}

	m.active = true
	if m.state != nil {
		m.state.SetCameraActive(true)
	}
	m.logger.Info("camera started",
		"width", m.config.Width,
		"height", m.config.Height,
		"facing", m.config.Facing,
	)
	return nil
}

func (m *Manager) reportError(err error) {
	m.logger.Error("failed to start camera", "error", err)
	if m.state != nil {
		m.state.SetCameraError(UserMessage(err))
	}
}

// Stop closes the source. It is safe to call Stop when not active.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked()
}

func (m *Manager) stopLocked() error {
	err := m.source.Close()
	wasActive := m.active
	m.active = false
	if m.state != nil {
		m.state.SetCameraActive(false)
	}
	if wasActive {
		m.logger.Info("camera stopped")
	}
	return err
}

// Switch flips between the front and back camera, restarting capture.
func (m *Manager) Switch(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return ErrNotActive
	}

	m.config = m.config.Flipped()
	if err := m.stopLocked(); err != nil {
		m.logger.Warn("close before switch failed", "error", err)
	}
	return m.startLocked(ctx)
}

// CaptureFrame returns the current frame from the active source.
func (m *Manager) CaptureFrame(ctx context.Context) (Frame, error) {
	m.mu.RLock()
	active := m.active
	m.mu.RUnlock()

	if !active {
		return Frame{}, ErrNotActive
	}

	frame, err := m.source.CaptureFrame(ctx)
	if err != nil {
		return Frame{}, err
	}

	m.mu.Lock()
	m.lastW, m.lastH = frame.Width, frame.Height
	m.mu.Unlock()
	return frame, nil
}

// IsActive reports whether capture is running.
func (m *Manager) IsActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// GetConfig returns the current camera configuration.
func (m *Manager) GetConfig() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// SetConfig validates and stores cfg, restarting capture if it is running.
func (m *Manager) SetConfig(ctx context.Context, cfg Config) error {
	if errs := cfg.Validate(); len(errs) > 0 {
		return fmt.Errorf("validation failed: %v", errs)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = cfg
	if !m.active {
		return nil
	}
	if err := m.stopLocked(); err != nil {
		m.logger.Warn("close before reconfigure failed", "error", err)
	}
	return m.startLocked(ctx)
}

// FrameSize returns the size of the most recent frame.
func (m *Manager) FrameSize() (width, height int, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastW == 0 || m.lastH == 0 {
		return 0, 0, false
	}
	return m.lastW, m.lastH, true
}

// IsSupported reports whether the source has a device to open.
// Sources that cannot probe are assumed supported.
func (m *Manager) IsSupported() bool {
	if p, ok := m.source.(Prober); ok {
		return p.Supported()
	}
	return true
}

// Permission reports access to the configured device without starting capture.
func (m *Manager) Permission() Permission {
	p, ok := m.source.(Prober)
	if !ok {
		return PermissionGranted
	}
	return p.Permission(m.GetConfig())
}
