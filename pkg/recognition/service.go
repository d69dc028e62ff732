// Package recognition is the detection-side API: it owns the detector
// adapter and the card table and turns frames into narration candidates.
package recognition

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-cardsense/pkg/camera"
	"github.com/teslashibe/go-cardsense/pkg/cards"
	"github.com/teslashibe/go-cardsense/pkg/detection"
)

// DefaultThreshold is the minimum confidence for RecognizeCard.
const DefaultThreshold = 0.6

// ModelState receives model lifecycle changes. *session.State satisfies it.
type ModelState interface {
	SetModelLoading(loading bool)
	SetModelLoaded(loaded bool)
}

// Recognition is the card recognized in a frame.
type Recognition struct {
	Text       string  `json:"text"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Service combines a detection.Adapter with a cards.Table.
type Service struct {
	adapter *detection.Adapter
	state   ModelState
	logger  *slog.Logger

	mu        sync.RWMutex
	table     *cards.Table
	threshold float64
}

// Option configures a Service.
type Option func(*Service)

// WithModelState reports model loading to state.
func WithModelState(state ModelState) Option {
	return func(s *Service) {
		s.state = state
	}
}

// WithThreshold sets the RecognizeCard confidence threshold.
func WithThreshold(v float64) Option {
	return func(s *Service) {
		s.threshold = v
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// New creates a service around adapter with an empty card table.
func New(adapter *detection.Adapter, opts ...Option) *Service {
	s := &Service{
		adapter:   adapter,
		table:     cards.NewTable(),
		threshold: DefaultThreshold,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "recognition")
	return s
}

// Initialize loads the model, reporting progress to the model state.
func (s *Service) Initialize(ctx context.Context) error {
	if s.adapter.Loaded() {
		return nil
	}
	if s.state != nil {
		s.state.SetModelLoading(true)
		defer s.state.SetModelLoading(false)
	}

	err := s.adapter.Initialize(ctx)
	if s.state != nil {
		s.state.SetModelLoaded(err == nil)
	}
	return err
}

// LoadCardDatabase replaces the card table.
func (s *Service) LoadCardDatabase(table *cards.Table) {
	if table == nil {
		table = cards.NewTable()
	}
	s.mu.Lock()
	s.table = table
	s.mu.Unlock()
	s.logger.Info("card database loaded", "cards", table.Len())
}

// Cards returns the current card table.
func (s *Service) Cards() *cards.Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table
}

// Detect runs the adapter on frame and matches the results against the
// card table.
func (s *Service) Detect(ctx context.Context, frame camera.Frame) ([]detection.Result, error) {
	results, err := s.adapter.Detect(ctx, frame)
	if err != nil || len(results) == 0 {
		return results, err
	}
	return s.Cards().Match(results), nil
}

// RecognizeCard returns the best matched result above the threshold.
// ok is false when nothing qualifies, including when the call was gated.
func (s *Service) RecognizeCard(ctx context.Context, frame camera.Frame) (rec Recognition, ok bool, err error) {
	results, err := s.Detect(ctx, frame)
	if err != nil {
		return Recognition{}, false, err
	}
	best, ok := cards.Select(results, s.Threshold())
	if !ok {
		return Recognition{}, false, nil
	}
	return Recognition{
		Text:       best.NarrationText,
		Label:      best.Label,
		Confidence: best.Confidence,
	}, true, nil
}

// SetThreshold sets the RecognizeCard confidence threshold.
func (s *Service) SetThreshold(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threshold = v
}

// Threshold returns the RecognizeCard confidence threshold.
func (s *Service) Threshold() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threshold
}

// SetDetectionInterval sets the minimum time between model invocations.
func (s *Service) SetDetectionInterval(d time.Duration) {
	s.adapter.SetInterval(d)
}

// DetectionInterval returns the minimum time between model invocations.
func (s *Service) DetectionInterval() time.Duration {
	return s.adapter.Interval()
}

// Loaded reports whether the model is ready.
func (s *Service) Loaded() bool {
	return s.adapter.Loaded()
}

// Stats returns the adapter counters.
func (s *Service) Stats() detection.Stats {
	return s.adapter.Stats()
}

// Dispose releases the model.
func (s *Service) Dispose() error {
	err := s.adapter.Dispose()
	if s.state != nil {
		s.state.SetModelLoaded(false)
	}
	return err
}
