package audioio

import (
	"fmt"
	"log/slog"
	"os/exec"
)

// NewSink creates a new audio sink with the given configuration.
// If cfg.Backend is BackendAuto, the best available backend is selected.
func NewSink(cfg Config, logger *slog.Logger) (Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	backend := cfg.Backend
	if backend == BackendAuto || backend == "" {
		backend = detectBestBackend()
		if backend == BackendMock {
			logger.Warn("no audio player found on PATH, audio output disabled")
		}
	}

	logger.Info("creating audio sink",
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"buffer_ms", cfg.BufferDuration.Milliseconds(),
	)

	switch backend {
	case BackendMock:
		return NewMockSink(cfg, logger), nil
	case BackendALSA, BackendPulse:
		return NewExecSink(backend, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}

// detectBestBackend prefers PulseAudio (shared device) over raw ALSA.
func detectBestBackend() Backend {
	for _, b := range AvailableBackends() {
		if b != BackendMock {
			return b
		}
	}
	return BackendMock
}

// AvailableBackends returns the backends usable on this machine, best first.
func AvailableBackends() []Backend {
	var backends []Backend
	if _, err := exec.LookPath("pacat"); err == nil {
		backends = append(backends, BackendPulse)
	}
	if _, err := exec.LookPath("aplay"); err == nil {
		backends = append(backends, BackendALSA)
	}
	return append(backends, BackendMock)
}
