package audioio

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// maxRetainedChunks bounds the chunks a MockSink keeps for inspection.
const maxRetainedChunks = 512

// MockSink is a mock audio sink for testing.
// It keeps the most recent chunks for inspection and tracks statistics.
type MockSink struct {
	cfg    Config
	logger *slog.Logger

	// StartErr, when set, is returned by Start.
	StartErr error

	// WriteDelay, when set, is slept on every Write to mimic a device.
	WriteDelay time.Duration

	mu      sync.Mutex
	running bool
	closed  bool
	starts  int
	clears  int

	// Stats
	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64

	// Buffer simulation
	buffer  []AudioChunk
	written []AudioChunk
}

// NewMockSink creates a new mock audio sink.
func NewMockSink(cfg Config, logger *slog.Logger) *MockSink {
	if logger == nil {
		logger = slog.Default()
	}

	return &MockSink{
		cfg:    cfg,
		logger: logger,
		buffer: make([]AudioChunk, 0, 100),
	}
}

// Start begins accepting audio.
func (m *MockSink) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return io.ErrClosedPipe
	}
	if m.StartErr != nil {
		return m.StartErr
	}

	m.running = true
	m.starts++
	m.logger.Debug("mock audio sink started")

	return nil
}

// Stop halts audio acceptance.
func (m *MockSink) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.running = false
	m.logger.Debug("mock audio sink stopped")

	return nil
}

// Write accepts an audio chunk.
func (m *MockSink) Write(ctx context.Context, chunk AudioChunk) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return io.ErrClosedPipe
	}
	if !m.running {
		m.mu.Unlock()
		return ErrNotRunning
	}

	// Simulate buffering
	m.buffer = append(m.buffer, chunk)
	if len(m.buffer) > maxRetainedChunks {
		m.buffer = m.buffer[1:]
	}
	m.written = append(m.written, chunk)
	if len(m.written) > maxRetainedChunks {
		m.written = m.written[1:]
	}
	delay := m.WriteDelay
	m.mu.Unlock()

	m.chunksWritten.Add(1)
	m.samplesWritten.Add(int64(len(chunk.Samples)))

	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil
}

// Flush simulates waiting for playback.
func (m *MockSink) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	totalSamples := 0
	for _, chunk := range m.buffer {
		totalSamples += len(chunk.Samples)
	}

	if totalSamples > 0 && m.cfg.SampleRate > 0 {
		duration := time.Duration(float64(totalSamples) / float64(m.cfg.SampleRate) * float64(time.Second))
		// Don't actually wait the full duration in mock mode, just a token amount
		waitTime := min(duration/100, 10*time.Millisecond)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
	}

	m.buffer = m.buffer[:0]
	return nil
}

// Clear discards buffered audio.
func (m *MockSink) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.buffer = m.buffer[:0]
	m.clears++
	m.logger.Debug("mock audio sink cleared")

	return nil
}

// Chunks returns a copy of the most recently written chunks.
func (m *MockSink) Chunks() []AudioChunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AudioChunk(nil), m.written...)
}

// Starts returns how many times Start succeeded.
func (m *MockSink) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

// Clears returns how many times Clear was called.
func (m *MockSink) Clears() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clears
}

// Config returns the audio configuration.
func (m *MockSink) Config() Config {
	return m.cfg
}

// Name returns "mock".
func (m *MockSink) Name() string {
	return "mock"
}

// Close releases resources.
func (m *MockSink) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.Stop()
	return nil
}

// Stats returns sink statistics.
func (m *MockSink) Stats() SinkStats {
	m.mu.Lock()
	running := m.running
	buffered := int64(0)
	for _, chunk := range m.buffer {
		buffered += int64(len(chunk.Samples))
	}
	m.mu.Unlock()

	return SinkStats{
		ChunksWritten:   m.chunksWritten.Load(),
		SamplesWritten:  m.samplesWritten.Load(),
		Underruns:       0,
		Running:         running,
		Backend:         "mock",
		BufferedSamples: buffered,
	}
}

// Ensure MockSink implements SinkWithStats.
var _ SinkWithStats = (*MockSink)(nil)
