package pipeline_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-cardsense/pkg/camera"
	"github.com/teslashibe/go-cardsense/pkg/cards"
	"github.com/teslashibe/go-cardsense/pkg/detection"
	"github.com/teslashibe/go-cardsense/pkg/narration"
	"github.com/teslashibe/go-cardsense/pkg/pipeline"
	"github.com/teslashibe/go-cardsense/pkg/recognition"
	"github.com/teslashibe/go-cardsense/pkg/session"
)

type fixture struct {
	state   *session.State
	model   *detection.Mock
	service *recognition.Service
	channel *narration.MockChannel
	queue   *narration.Queue
	frames  *frames
	orch    *pipeline.Orchestrator
}

// frames is a FrameSource that can be made to fail.
type frames struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *frames) CaptureFrame(ctx context.Context) (camera.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return camera.Frame{}, f.err
	}
	return camera.Frame{JPEG: []byte{0xff, 0xd8}, Width: 640, Height: 480}, nil
}

func (f *frames) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newFixture(t *testing.T, preds ...detection.Prediction) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		state:   session.New(session.DefaultSettings()),
		model:   detection.NewMock(preds...),
		channel: narration.NewMockChannel(),
		frames:  &frames{},
	}
	adapter := detection.NewAdapter(f.model.Loader(), detection.WithInterval(0))
	f.service = recognition.New(adapter, recognition.WithModelState(f.state))
	f.service.LoadCardDatabase(cards.Sample())
	f.queue = narration.NewQueue(f.channel, narration.WithSpeakingSink(f.state))
	t.Cleanup(func() { f.queue.Close() })
	f.orch = pipeline.New(f.state, f.frames, f.service, f.queue)

	if err := f.service.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	f.state.SetCameraActive(true)
	if err := f.state.SetRecognitionActive(true); err != nil {
		t.Fatalf("SetRecognitionActive: %v", err)
	}
	return f
}

func tick(t *testing.T, o *pipeline.Orchestrator) pipeline.Outcome {
	t.Helper()
	outcome, err := o.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	return outcome
}

func TestTickNarratesBestCard(t *testing.T) {
	f := newFixture(t,
		detection.Prediction{Label: "book", Confidence: 0.7},
		detection.Prediction{Label: "cup", Confidence: 0.9},
		detection.Prediction{Label: "dog", Confidence: 0.95},
	)

	if got := tick(t, f.orch); got != pipeline.OutcomeNarrated {
		t.Fatalf("outcome = %v, want narrated", got)
	}

	snap := f.state.Snapshot()
	if snap.LastDetection == nil || snap.LastDetection.Label != "cup" {
		t.Fatalf("last detection = %+v, want cup", snap.LastDetection)
	}
	if got := f.channel.Texts(); len(got) != 1 || got[0] != "This is a cup, for holding water." {
		t.Errorf("narrated = %v", got)
	}
	if !snap.Speaking {
		t.Error("session should be speaking")
	}
}

func TestTickSkipsWhileSpeaking(t *testing.T) {
	f := newFixture(t, detection.Prediction{Label: "book", Confidence: 0.9})

	if got := tick(t, f.orch); got != pipeline.OutcomeNarrated {
		t.Fatalf("first tick = %v", got)
	}
	for i := 0; i < 3; i++ {
		if got := tick(t, f.orch); got != pipeline.OutcomeSkipped {
			t.Fatalf("tick while speaking = %v, want skipped", got)
		}
	}
	if f.model.Calls() != 1 {
		t.Errorf("model calls = %d, want 1", f.model.Calls())
	}

	f.channel.Last().Start()
	f.channel.Last().End()
	deadline := time.Now().Add(2 * time.Second)
	for f.state.Speaking() {
		if time.Now().After(deadline) {
			t.Fatal("narration never finished")
		}
		time.Sleep(time.Millisecond)
	}

	if got := tick(t, f.orch); got != pipeline.OutcomeNarrated {
		t.Errorf("tick after narration = %v, want narrated", got)
	}
}

func TestTickSkipsWhenInactive(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fixture)
	}{
		{"recognition off", func(f *fixture) { f.state.SetRecognitionActive(false) }},
		{"camera off", func(f *fixture) { f.state.SetCameraActive(false) }},
		{"model unloaded", func(f *fixture) { f.state.SetModelLoaded(false) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, detection.Prediction{Label: "book", Confidence: 0.9})
			tt.setup(f)
			if got := tick(t, f.orch); got != pipeline.OutcomeSkipped {
				t.Errorf("outcome = %v, want skipped", got)
			}
			if f.frames.Calls() != 0 {
				t.Error("a skipped tick must not capture")
			}
		})
	}
}

func TestTickThreshold(t *testing.T) {
	tests := []struct {
		name  string
		preds []detection.Prediction
		want  pipeline.Outcome
	}{
		{"below threshold", []detection.Prediction{{Label: "book", Confidence: 0.5}}, pipeline.OutcomeNone},
		{"at threshold", []detection.Prediction{{Label: "book", Confidence: 0.6}}, pipeline.OutcomeNone},
		{"unmatched label", []detection.Prediction{{Label: "giraffe", Confidence: 0.99}}, pipeline.OutcomeNone},
		{"nothing detected", nil, pipeline.OutcomeNone},
		{"above threshold", []detection.Prediction{{Label: "book", Confidence: 0.61}}, pipeline.OutcomeNarrated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.preds...)
			if got := tick(t, f.orch); got != tt.want {
				t.Errorf("outcome = %v, want %v", got, tt.want)
			}
			if tt.want == pipeline.OutcomeNone && f.state.Snapshot().LastDetection != nil {
				t.Error("no detection should be recorded")
			}
		})
	}
}

func TestTickDetectedWithoutAutoSpeak(t *testing.T) {
	t.Run("auto speak off", func(t *testing.T) {
		f := newFixture(t, detection.Prediction{Label: "book", Confidence: 0.9})
		off := false
		f.state.UpdateSettings(session.SettingsUpdate{AutoSpeak: &off})
		if got := tick(t, f.orch); got != pipeline.OutcomeDetected {
			t.Errorf("outcome = %v, want detected", got)
		}
		if len(f.channel.Texts()) != 0 {
			t.Error("nothing should be narrated")
		}
	})

	t.Run("tts disabled", func(t *testing.T) {
		f := newFixture(t, detection.Prediction{Label: "book", Confidence: 0.9})
		f.state.SetTTSEnabled(false)
		if got := tick(t, f.orch); got != pipeline.OutcomeDetected {
			t.Errorf("outcome = %v, want detected", got)
		}
		if f.state.Snapshot().LastDetection == nil {
			t.Error("detection should still be recorded")
		}
	})
}

func TestTickBusyAndDiscard(t *testing.T) {
	f := newFixture(t, detection.Prediction{Label: "book", Confidence: 0.9})
	release := make(chan struct{})
	f.model.Block = release

	first := make(chan pipeline.Outcome, 1)
	go func() {
		outcome, _ := f.orch.Tick(context.Background())
		first <- outcome
	}()

	deadline := time.Now().Add(2 * time.Second)
	for f.model.Calls() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first tick never reached the model")
		}
		time.Sleep(time.Millisecond)
	}

	if got := tick(t, f.orch); got != pipeline.OutcomeBusy {
		t.Fatalf("concurrent tick = %v, want busy", got)
	}

	// Stopping recognition mid-detection discards the result.
	f.state.SetRecognitionActive(false)
	close(release)

	if got := <-first; got != pipeline.OutcomeDiscarded {
		t.Fatalf("first tick = %v, want discarded", got)
	}
	if f.state.Snapshot().LastDetection != nil || len(f.channel.Texts()) != 0 {
		t.Error("a discarded detection must leave no trace")
	}

	counts := f.orch.Counts()
	if counts[pipeline.OutcomeBusy] != 1 || counts[pipeline.OutcomeDiscarded] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestTickCaptureFailure(t *testing.T) {
	f := newFixture(t, detection.Prediction{Label: "book", Confidence: 0.9})
	f.frames.err = camera.ErrNoFrame

	if got := tick(t, f.orch); got != pipeline.OutcomeNone {
		t.Errorf("outcome = %v, want none", got)
	}
	if f.model.Calls() != 0 {
		t.Error("model should not run without a frame")
	}
}

func TestTickModelNotReady(t *testing.T) {
	f := newFixture(t)
	f.service.Dispose()
	// Dispose reports the model unloaded, which stops recognition first.
	if got := tick(t, f.orch); got != pipeline.OutcomeSkipped {
		t.Errorf("outcome = %v, want skipped", got)
	}
}

// stubDetector records interval changes.
type stubDetector struct {
	mu        sync.Mutex
	interval  time.Duration
	intervals []time.Duration
	err       error
}

func (s *stubDetector) Detect(ctx context.Context, frame camera.Frame) ([]detection.Result, error) {
	return nil, s.err
}

func (s *stubDetector) SetDetectionInterval(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = d
	s.intervals = append(s.intervals, d)
}

func (s *stubDetector) DetectionInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

func (s *stubDetector) Intervals() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.intervals)
}

func TestTickDetectorError(t *testing.T) {
	state := session.New(session.DefaultSettings())
	state.SetCameraActive(true)
	state.SetModelLoaded(true)
	state.SetRecognitionActive(true)

	boom := errors.New("detector gone")
	o := pipeline.New(state, &frames{}, &stubDetector{err: boom}, narration.NewQueue(narration.NewMockChannel()))
	if _, err := o.Tick(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Tick error = %v, want boom", err)
	}
}

func TestRunAppliesInterval(t *testing.T) {
	state := session.New(session.DefaultSettings())
	det := &stubDetector{interval: 500 * time.Millisecond}
	o := pipeline.New(state, &frames{}, det, narration.NewQueue(narration.NewMockChannel()))

	ticks := make(chan time.Time)
	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background(), ticks) }()

	ticks <- time.Now()
	second := time.Second
	state.UpdateSettings(session.SettingsUpdate{DetectionInterval: &second})
	ticks <- time.Now()
	ticks <- time.Now()
	close(ticks)

	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := det.Intervals(); !slices.Equal(got, []time.Duration{time.Second}) {
		t.Errorf("interval changes = %v, want [1s]", got)
	}
	if got := o.Counts()[pipeline.OutcomeSkipped]; got != 3 {
		t.Errorf("skipped ticks = %d, want 3", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	o := pipeline.New(session.New(session.DefaultSettings()), &frames{}, &stubDetector{}, narration.NewQueue(narration.NewMockChannel()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := o.Run(ctx, make(chan time.Time)); !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
}

type observer struct {
	mu       sync.Mutex
	frames   int
	outcomes []pipeline.Outcome
	labels   []string
}

func (o *observer) OnFrame(camera.Frame) {
	o.mu.Lock()
	o.frames++
	o.mu.Unlock()
}

func (o *observer) OnRecognized(r detection.Result, outcome pipeline.Outcome) {
	o.mu.Lock()
	o.outcomes = append(o.outcomes, outcome)
	o.labels = append(o.labels, r.Label)
	o.mu.Unlock()
}

func TestObserver(t *testing.T) {
	f := newFixture(t, detection.Prediction{Label: "phone", Confidence: 0.8})
	obs := &observer{}
	f.orch = pipeline.New(f.state, f.frames, f.service, f.queue, pipeline.WithObserver(obs))

	off := false
	f.state.UpdateSettings(session.SettingsUpdate{AutoSpeak: &off})
	tick(t, f.orch)

	f.model.SetPredictions()
	tick(t, f.orch)

	if obs.frames != 2 {
		t.Errorf("frames observed = %d, want 2", obs.frames)
	}
	if !slices.Equal(obs.outcomes, []pipeline.Outcome{pipeline.OutcomeDetected}) {
		t.Errorf("outcomes = %v", obs.outcomes)
	}
	if !slices.Equal(obs.labels, []string{"phone"}) {
		t.Errorf("labels = %v", obs.labels)
	}
}
