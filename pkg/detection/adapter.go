package detection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/teslashibe/go-cardsense/pkg/camera"
)

// Stats counts adapter activity since creation.
type Stats struct {
	Invocations int64  `json:"invocations"`
	Skipped     int64  `json:"skipped"`
	Failures    int64  `json:"failures"`
	LastError   string `json:"last_error,omitempty"`
}

// Adapter wraps a Model with lazy loading, an invocation gate and error
// mapping.
type Adapter struct {
	loader        Loader
	clock         func() time.Time
	minConfidence float64
	logger        *slog.Logger

	mu          sync.Mutex
	model       Model
	limiter     *rate.Limiter // nil when the gate is disabled
	interval    time.Duration
	lastInvoked time.Time
	stats       Stats
}

// NewAdapter creates an unloaded adapter around loader.
func NewAdapter(loader Loader, opts ...Option) *Adapter {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Adapter{
		loader:        loader,
		clock:         cfg.Clock,
		minConfidence: cfg.MinConfidence,
		logger:        cfg.Logger.With("component", "detection"),
		interval:      cfg.Interval,
		limiter:       newGate(cfg.Interval, time.Time{}),
	}
}

// newGate returns a burst-1 limiter admitting one call per interval. A
// non-zero last replays the previous admission so the new interval is
// measured from it.
func newGate(interval time.Duration, last time.Time) *rate.Limiter {
	if interval <= 0 {
		return nil
	}
	l := rate.NewLimiter(rate.Every(interval), 1)
	if !last.IsZero() {
		l.AllowN(last, 1)
	}
	return l
}

// Initialize loads the model. It is a no-op once loaded.
func (a *Adapter) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.model != nil {
		return nil
	}
	if a.loader == nil {
		return &InitializationError{Err: ErrNoLoader}
	}

	start := time.Now()
	model, err := a.loader(ctx)
	if err != nil {
		a.logger.Error("model load failed", "error", err)
		return &InitializationError{Err: err}
	}
	if model == nil {
		return &InitializationError{Err: errors.New("loader returned no model")}
	}

	a.model = model
	a.logger.Info("model loaded", "elapsed", time.Since(start))
	return nil
}

// Loaded reports whether the model is ready.
func (a *Adapter) Loaded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.model != nil
}

// Detect runs the model on frame.
//
// Calls within the interval of the previous admitted call return no
// results without invoking the model. Model failures are logged and
// also return no results with a nil error.
func (a *Adapter) Detect(ctx context.Context, frame camera.Frame) ([]Result, error) {
	a.mu.Lock()
	model := a.model
	if model == nil {
		a.mu.Unlock()
		return nil, ErrModelNotReady
	}
	now := a.clock()
	if a.limiter != nil && !a.limiter.AllowN(now, 1) {
		a.stats.Skipped++
		a.mu.Unlock()
		return nil, nil
	}
	a.lastInvoked = now
	a.stats.Invocations++
	a.mu.Unlock()

	preds, err := model.Detect(ctx, frame)
	if err != nil {
		terr := &TransientError{Err: err}
		a.mu.Lock()
		a.stats.Failures++
		a.stats.LastError = err.Error()
		a.mu.Unlock()
		a.logger.Warn("detection failed", "error", terr)
		return nil, nil
	}

	results := make([]Result, 0, len(preds))
	for _, p := range preds {
		if p.Confidence < a.minConfidence {
			continue
		}
		results = append(results, Result{
			Label:      p.Label,
			Confidence: clamp01(p.Confidence),
			Box:        p.Box,
		})
	}
	return results, nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// SetInterval changes the minimum time between model invocations.
func (a *Adapter) SetInterval(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if d == a.interval {
		return
	}
	a.interval = d
	a.limiter = newGate(d, a.lastInvoked)
	a.logger.Debug("detection interval changed", "interval", d)
}

// Interval returns the minimum time between model invocations.
func (a *Adapter) Interval() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.interval
}

// Stats returns a snapshot of the activity counters.
func (a *Adapter) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Dispose releases the model. The adapter can be initialized again.
func (a *Adapter) Dispose() error {
	a.mu.Lock()
	model := a.model
	a.model = nil
	a.mu.Unlock()

	if model == nil {
		return nil
	}
	a.logger.Info("model disposed")
	return model.Close()
}
