package tts

import (
	"context"
	"math"
	"sync"
	"time"
)

// Mock implements Provider for testing and offline demos.
// All methods can be customized via function fields.
type Mock struct {
	// SynthesizeFunc is called when Synthesize is invoked.
	// If nil, returns an error.
	SynthesizeFunc func(ctx context.Context, text string) (*AudioResult, error)

	// StreamFunc is called when Stream is invoked.
	// If nil, the Synthesize result is streamed in ChunkSize pieces.
	StreamFunc func(ctx context.Context, text string) (AudioStream, error)

	// HealthFunc is called when Health is invoked.
	// If nil, returns nil (healthy).
	HealthFunc func(ctx context.Context) error

	// CloseFunc is called when Close is invoked.
	// If nil, returns nil.
	CloseFunc func() error

	// ChunkSize is the default stream chunk size in bytes.
	ChunkSize int

	// Tracking
	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a method invocation for verification.
type MockCall struct {
	Method string
	Text   string
	Speed  float64 // set by StreamWithSpeed
	Time   time.Time
}

// mockMsPerChar paces generated audio roughly like speech.
const mockMsPerChar = 20

// NewMock creates a mock provider that renders each character as 20ms of a
// quiet 440Hz tone in PCM24.
func NewMock() *Mock {
	return &Mock{
		SynthesizeFunc: func(ctx context.Context, text string) (*AudioResult, error) {
			if text == "" {
				return nil, WrapError("mock", ErrEmptyText)
			}
			d := time.Duration(len(text)) * mockMsPerChar * time.Millisecond
			return &AudioResult{
				Audio:     Tone(PCM24, 440, 0.1, d),
				Format:    PCM24,
				CharCount: len(text),
				LatencyMs: 10,
				Duration:  d,
			}, nil
		},
		HealthFunc: func(ctx context.Context) error {
			return nil
		},
		ChunkSize: 4800,
	}
}

// Tone renders a sine wave in format at the given amplitude (0..1).
func Tone(format AudioFormat, freq, amplitude float64, d time.Duration) []byte {
	frames := int(int64(d) * int64(format.SampleRate) / int64(time.Second))
	channels := max(format.Channels, 1)
	out := make([]byte, frames*channels*2)
	for i := 0; i < frames; i++ {
		v := int16(amplitude * 32767 * math.Sin(2*math.Pi*freq*float64(i)/float64(format.SampleRate)))
		for c := 0; c < channels; c++ {
			off := (i*channels + c) * 2
			out[off] = byte(v)
			out[off+1] = byte(uint16(v) >> 8)
		}
	}
	return out
}

// Name returns "mock".
func (m *Mock) Name() string {
	return "mock"
}

// Synthesize calls SynthesizeFunc and records the call.
func (m *Mock) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	m.recordCall("Synthesize", text)
	if m.SynthesizeFunc != nil {
		return m.SynthesizeFunc(ctx, text)
	}
	return nil, WrapError("mock", ErrProviderUnavailable)
}

// Stream calls StreamFunc and records the call.
func (m *Mock) Stream(ctx context.Context, text string) (AudioStream, error) {
	m.recordCall("Stream", text)
	return m.stream(ctx, text)
}

// StreamWithSpeed records the call with its speed and streams like Stream.
func (m *Mock) StreamWithSpeed(ctx context.Context, text string, speed float64) (AudioStream, error) {
	m.record(MockCall{Method: "Stream", Text: text, Speed: speed})
	return m.stream(ctx, text)
}

func (m *Mock) stream(ctx context.Context, text string) (AudioStream, error) {
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, text)
	}
	// Default: convert Synthesize result to stream
	if m.SynthesizeFunc != nil {
		result, err := m.SynthesizeFunc(ctx, text)
		if err != nil {
			return nil, err
		}
		return &bufferStream{data: result.Audio, chunkSize: m.ChunkSize, format: result.Format}, nil
	}
	return nil, WrapError("mock", ErrProviderUnavailable)
}

// Health calls HealthFunc and records the call.
func (m *Mock) Health(ctx context.Context) error {
	m.recordCall("Health", "")
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

// Close calls CloseFunc and records the call.
func (m *Mock) Close() error {
	m.recordCall("Close", "")
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// recordCall adds a call to the tracking list.
func (m *Mock) recordCall(method, text string) {
	m.record(MockCall{Method: method, Text: text})
}

func (m *Mock) record(call MockCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call.Time = time.Now()
	m.calls = append(m.calls, call)
}

// Calls returns all recorded method calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// LastCall returns the most recent call, or nil if none.
func (m *Mock) LastCall() *MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	call := m.calls[len(m.calls)-1]
	return &call
}

// Reset clears all recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// WithError returns a mock that always returns the given error.
func WithError(err error) *Mock {
	return &Mock{
		SynthesizeFunc: func(ctx context.Context, text string) (*AudioResult, error) {
			return nil, err
		},
		StreamFunc: func(ctx context.Context, text string) (AudioStream, error) {
			return nil, err
		},
		HealthFunc: func(ctx context.Context) error {
			return err
		},
	}
}

// WithLatency wraps a mock to add artificial latency.
func WithLatency(m *Mock, delay time.Duration) *Mock {
	originalSynthesize := m.SynthesizeFunc
	m.SynthesizeFunc = func(ctx context.Context, text string) (*AudioResult, error) {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if originalSynthesize != nil {
			return originalSynthesize(ctx, text)
		}
		return nil, WrapError("mock", ErrProviderUnavailable)
	}
	return m
}

// Verify Mock implements Provider at compile time.
var (
	_ Provider      = (*Mock)(nil)
	_ SpeedStreamer = (*Mock)(nil)
)
