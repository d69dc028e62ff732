package recognition_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/teslashibe/go-cardsense/pkg/camera"
	"github.com/teslashibe/go-cardsense/pkg/cards"
	"github.com/teslashibe/go-cardsense/pkg/detection"
	"github.com/teslashibe/go-cardsense/pkg/recognition"
)

type modelState struct {
	loading []bool
	loaded  []bool
}

func (m *modelState) SetModelLoading(v bool) { m.loading = append(m.loading, v) }
func (m *modelState) SetModelLoaded(v bool)  { m.loaded = append(m.loaded, v) }

var frame = camera.Frame{JPEG: []byte{1}}

func newService(t *testing.T, mock *detection.Mock, opts ...recognition.Option) *recognition.Service {
	t.Helper()
	adapter := detection.NewAdapter(mock.Loader(), detection.WithInterval(0))
	svc := recognition.New(adapter, opts...)
	svc.LoadCardDatabase(cards.Sample())
	return svc
}

func TestInitializeReportsState(t *testing.T) {
	state := &modelState{}
	svc := newService(t, detection.NewMock(), recognition.WithModelState(state))

	if err := svc.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !svc.Loaded() {
		t.Error("expected Loaded()")
	}
	if len(state.loading) != 2 || !state.loading[0] || state.loading[1] {
		t.Errorf("loading transitions = %v, want [true false]", state.loading)
	}
	if len(state.loaded) != 1 || !state.loaded[0] {
		t.Errorf("loaded transitions = %v", state.loaded)
	}

	svc.Dispose()
	if state.loaded[len(state.loaded)-1] {
		t.Error("Dispose should report the model unloaded")
	}
}

func TestInitializeFailure(t *testing.T) {
	state := &modelState{}
	adapter := detection.NewAdapter(func(ctx context.Context) (detection.Model, error) {
		return nil, errors.New("missing weights")
	})
	svc := recognition.New(adapter, recognition.WithModelState(state))

	var initErr *detection.InitializationError
	if err := svc.Initialize(context.Background()); !errors.As(err, &initErr) {
		t.Fatalf("expected InitializationError, got %v", err)
	}
	if len(state.loaded) != 1 || state.loaded[0] {
		t.Errorf("loaded transitions = %v, want [false]", state.loaded)
	}
}

func TestDetectMatches(t *testing.T) {
	ctx := context.Background()
	mock := detection.NewMock(
		detection.Prediction{Label: "book", Confidence: 0.7},
		detection.Prediction{Label: "giraffe", Confidence: 0.95},
	)
	svc := newService(t, mock)
	svc.Initialize(ctx)

	results, err := svc.Detect(ctx, frame)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}
	if !results[0].Matched() || results[1].Matched() {
		t.Errorf("unexpected match state: %+v", results)
	}
}

func TestRecognizeCard(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		preds     []detection.Prediction
		threshold float64
		wantLabel string
		wantOK    bool
	}{
		{
			name: "best qualifying",
			preds: []detection.Prediction{
				{Label: "cup", Confidence: 0.65},
				{Label: "cell phone", Confidence: 0.85},
				{Label: "giraffe", Confidence: 0.99},
			},
			threshold: 0.6,
			wantLabel: "cell phone",
			wantOK:    true,
		},
		{
			name:      "below threshold",
			preds:     []detection.Prediction{{Label: "cup", Confidence: 0.5}},
			threshold: 0.6,
		},
		{
			name:      "custom threshold",
			preds:     []detection.Prediction{{Label: "cup", Confidence: 0.5}},
			threshold: 0.4,
			wantLabel: "cup",
			wantOK:    true,
		},
		{
			name:      "nothing detected",
			threshold: 0.6,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newService(t, detection.NewMock(tt.preds...), recognition.WithThreshold(tt.threshold))
			svc.Initialize(ctx)

			rec, ok, err := svc.RecognizeCard(ctx, frame)
			if err != nil {
				t.Fatal(err)
			}
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && (rec.Label != tt.wantLabel || rec.Text == "") {
				t.Errorf("rec = %+v, want label %q", rec, tt.wantLabel)
			}
		})
	}
}

func TestRecognizeCardNotReady(t *testing.T) {
	svc := newService(t, detection.NewMock())
	if _, _, err := svc.RecognizeCard(context.Background(), frame); !errors.Is(err, detection.ErrModelNotReady) {
		t.Errorf("got %v, want ErrModelNotReady", err)
	}
}

func TestDetectionInterval(t *testing.T) {
	svc := newService(t, detection.NewMock())
	svc.SetDetectionInterval(750 * time.Millisecond)
	if got := svc.DetectionInterval(); got != 750*time.Millisecond {
		t.Errorf("DetectionInterval() = %v", got)
	}
}
