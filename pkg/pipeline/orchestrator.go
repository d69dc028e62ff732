// Package pipeline drives the detection-to-narration loop: on each tick
// it captures a frame, detects and matches cards, records the best match
// in the session and hands its text to the narration queue.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-cardsense/pkg/camera"
	"github.com/teslashibe/go-cardsense/pkg/cards"
	"github.com/teslashibe/go-cardsense/pkg/detection"
	"github.com/teslashibe/go-cardsense/pkg/narration"
	"github.com/teslashibe/go-cardsense/pkg/session"
)

// Outcome describes what one tick did.
type Outcome string

const (
	// OutcomeSkipped: recognition off, model not loaded, or narration in progress.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeBusy: a previous tick is still detecting.
	OutcomeBusy Outcome = "busy"
	// OutcomeNone: nothing above the confidence threshold matched a card.
	OutcomeNone Outcome = "none"
	// OutcomeDetected: a card was recorded but not narrated.
	OutcomeDetected Outcome = "detected"
	// OutcomeNarrated: a card was recorded and its text queued.
	OutcomeNarrated Outcome = "narrated"
	// OutcomeDiscarded: recognition stopped while the detector ran.
	OutcomeDiscarded Outcome = "discarded"
)

// FrameSource supplies frames. *camera.Manager satisfies it.
type FrameSource interface {
	CaptureFrame(ctx context.Context) (camera.Frame, error)
}

// Detector detects and matches. *recognition.Service satisfies it.
type Detector interface {
	Detect(ctx context.Context, frame camera.Frame) ([]detection.Result, error)
	SetDetectionInterval(d time.Duration)
	DetectionInterval() time.Duration
}

// Narrator accepts narration. *narration.Queue satisfies it.
type Narrator interface {
	Speak(ctx context.Context, text string, opts narration.Options) (*narration.Request, error)
}

// Observer is told about captured frames and recognized cards, e.g. by
// the dashboard. Callbacks run on the tick goroutine and must not block.
type Observer interface {
	OnFrame(frame camera.Frame)
	OnRecognized(result detection.Result, outcome Outcome)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithNarrationOptions sets the options used for automatic narration.
func WithNarrationOptions(opts narration.Options) Option {
	return func(o *Orchestrator) {
		o.speakOpts = opts
	}
}

// WithObserver registers an observer.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		o.observer = obs
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// Orchestrator runs detection ticks against a session. At most one tick
// detects at a time.
type Orchestrator struct {
	state     *session.State
	frames    FrameSource
	detector  Detector
	narrator  Narrator
	speakOpts narration.Options
	observer  Observer
	logger    *slog.Logger

	inFlight atomic.Bool

	mu     sync.Mutex
	counts map[Outcome]int64
}

// New creates an orchestrator.
func New(state *session.State, frames FrameSource, detector Detector, narrator Narrator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		state:     state,
		frames:    frames,
		detector:  detector,
		narrator:  narrator,
		speakOpts: narration.DefaultOptions(),
		logger:    slog.Default(),
		counts:    make(map[Outcome]int64),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "pipeline")
	return o
}

// Tick runs one detection cycle. Capture failures count as no detection;
// detector errors are returned.
func (o *Orchestrator) Tick(ctx context.Context) (Outcome, error) {
	outcome, err := o.tick(ctx)
	o.mu.Lock()
	o.counts[outcome]++
	o.mu.Unlock()
	return outcome, err
}

func (o *Orchestrator) tick(ctx context.Context) (Outcome, error) {
	snap := o.state.Snapshot()
	if !snap.RecognitionActive || !snap.ModelLoaded || snap.Speaking {
		return OutcomeSkipped, nil
	}

	if !o.inFlight.CompareAndSwap(false, true) {
		return OutcomeBusy, nil
	}
	defer o.inFlight.Store(false)

	frame, err := o.frames.CaptureFrame(ctx)
	if err != nil {
		o.logger.Warn("frame capture failed", "error", err)
		return OutcomeNone, nil
	}
	if o.observer != nil {
		o.observer.OnFrame(frame)
	}

	results, err := o.detector.Detect(ctx, frame)
	if err != nil {
		return OutcomeNone, err
	}

	// The session may have moved on while the detector ran.
	if !o.state.RecognitionActive() {
		o.logger.Debug("discarding detection, recognition stopped")
		return OutcomeDiscarded, nil
	}

	best, ok := cards.Select(results, o.state.Settings().ConfidenceThreshold)
	if !ok {
		return OutcomeNone, nil
	}

	o.state.RecordDetection(best)
	o.logger.Info("card recognized", "label", best.Label, "confidence", best.Confidence)

	outcome, err := o.narrate(ctx, best)
	if o.observer != nil {
		o.observer.OnRecognized(best, outcome)
	}
	return outcome, err
}

func (o *Orchestrator) narrate(ctx context.Context, best detection.Result) (Outcome, error) {
	now := o.state.Snapshot()
	if !now.Settings.AutoSpeak || !now.TTSEnabled {
		return OutcomeDetected, nil
	}

	if _, err := o.narrator.Speak(ctx, best.NarrationText, o.speakOpts); err != nil {
		return OutcomeDetected, err
	}
	return OutcomeNarrated, nil
}

// Run ticks on every value from ticks until ctx is done or ticks closes.
// Ticks run concurrently with the loop, so a slow detector shows up as
// OutcomeBusy rather than delaying the cadence. The detection interval
// setting is applied to the detector before each tick.
func (o *Orchestrator) Run(ctx context.Context, ticks <-chan time.Time) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	o.logger.Info("detection loop started")
	defer o.logger.Info("detection loop stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-ticks:
			if !ok {
				return nil
			}
			o.applyInterval()

			wg.Add(1)
			go func() {
				defer wg.Done()
				outcome, err := o.Tick(ctx)
				if err != nil {
					o.logger.Warn("detection tick failed", "outcome", outcome, "error", err)
				}
			}()
		}
	}
}

func (o *Orchestrator) applyInterval() {
	want := o.state.Settings().DetectionInterval
	if o.detector.DetectionInterval() != want {
		o.detector.SetDetectionInterval(want)
		o.logger.Debug("detection interval changed", "interval", want)
	}
}

// Counts returns how many ticks ended in each outcome.
func (o *Orchestrator) Counts() map[Outcome]int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[Outcome]int64, len(o.counts))
	for k, v := range o.counts {
		out[k] = v
	}
	return out
}
