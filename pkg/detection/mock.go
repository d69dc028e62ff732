package detection

import (
	"context"
	"sync"

	"github.com/teslashibe/go-cardsense/pkg/camera"
)

// Mock is a scripted Model for tests.
type Mock struct {
	mu          sync.Mutex
	predictions []Prediction
	err         error
	calls       int
	closed      bool

	// Block, when set, is waited on before Detect returns.
	Block chan struct{}
}

// NewMock creates a mock that returns predictions on every call.
func NewMock(predictions ...Prediction) *Mock {
	return &Mock{predictions: predictions}
}

// Detect returns the scripted predictions or error.
func (m *Mock) Detect(ctx context.Context, frame camera.Frame) ([]Prediction, error) {
	m.mu.Lock()
	m.calls++
	block := m.Block
	preds := append([]Prediction(nil), m.predictions...)
	err := m.err
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return preds, err
}

// Close marks the mock closed.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// SetPredictions replaces the scripted predictions.
func (m *Mock) SetPredictions(predictions ...Prediction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictions = predictions
}

// SetError makes subsequent calls fail with err.
func (m *Mock) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns the number of Detect calls.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Loader returns a Loader that yields the mock.
func (m *Mock) Loader() Loader {
	return func(ctx context.Context) (Model, error) {
		return m, nil
	}
}

var _ Model = (*Mock)(nil)
