package narration_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-cardsense/pkg/narration"
)

// recorder implements Ducker and SpeakingSink.
type recorder struct {
	mu       sync.Mutex
	calls    []string
	speaking bool
}

func (r *recorder) Duck()   { r.add("duck") }
func (r *recorder) Unduck() { r.add("unduck") }

func (r *recorder) SetSpeaking(s bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speaking = s
	if s {
		r.calls = append(r.calls, "speaking")
	} else {
		r.calls = append(r.calls, "idle")
	}
}

func (r *recorder) add(c string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

func (r *recorder) Speaking() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.speaking
}

func newQueue(t *testing.T, ch narration.Channel) (*narration.Queue, *recorder) {
	t.Helper()
	rec := &recorder{}
	q := narration.NewQueue(ch, narration.WithDucker(rec), narration.WithSpeakingSink(rec))
	t.Cleanup(func() { q.Close() })
	return q, rec
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func wait(t *testing.T, req *narration.Request) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := req.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("request %q never resolved", req.Text)
	}
	return err
}

func speak(t *testing.T, q *narration.Queue, text string) *narration.Request {
	t.Helper()
	req, err := q.Speak(context.Background(), text, narration.DefaultOptions())
	if err != nil {
		t.Fatalf("Speak(%q): %v", text, err)
	}
	return req
}

func TestQueueSpeaksInOrder(t *testing.T) {
	ch := narration.NewMockChannel()
	q, _ := newQueue(t, ch)

	x := speak(t, q, "X")
	y := speak(t, q, "Y")
	z := speak(t, q, "Z")

	if !q.Speaking() {
		t.Fatal("queue should be speaking immediately after Speak")
	}
	if got := q.QueueLength(); got != 2 {
		t.Fatalf("QueueLength() = %d, want 2", got)
	}
	if got := ch.Texts(); !slices.Equal(got, []string{"X"}) {
		t.Fatalf("channel texts = %v, want only X started", got)
	}

	for i, req := range []*narration.Request{x, y, z} {
		u := ch.Utterances()[i]
		if u.Text != req.Text {
			t.Fatalf("utterance %d = %q, want %q", i, u.Text, req.Text)
		}
		u.Start()
		u.End()
		if err := wait(t, req); err != nil {
			t.Fatalf("%s resolved with %v", req.Text, err)
		}
		if i < 2 {
			eventually(t, "next utterance", func() bool { return len(ch.Utterances()) == i+2 })
		}
	}

	eventually(t, "idle", func() bool { return !q.Speaking() })
	if got := ch.Texts(); !slices.Equal(got, []string{"X", "Y", "Z"}) {
		t.Errorf("spoken order = %v, want [X Y Z]", got)
	}
}

func TestQueueDucksOnAudibleStart(t *testing.T) {
	ch := narration.NewMockChannel()
	q, rec := newQueue(t, ch)

	req := speak(t, q, "This is a book.")
	if got := rec.Calls(); !slices.Equal(got, []string{"speaking"}) {
		t.Fatalf("calls before start = %v, want [speaking]", got)
	}

	u := ch.Last()
	u.Start()
	eventually(t, "duck", func() bool { return slices.Contains(rec.Calls(), "duck") })

	u.End()
	if err := wait(t, req); err != nil {
		t.Fatalf("request: %v", err)
	}

	want := []string{"speaking", "duck", "idle", "unduck"}
	if got := rec.Calls(); !slices.Equal(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
	if rec.Speaking() {
		t.Error("speaking should be cleared")
	}
}

func TestQueueErrorDoesNotAdvance(t *testing.T) {
	ch := narration.NewMockChannel()
	q, rec := newQueue(t, ch)

	a := speak(t, q, "A")
	b := speak(t, q, "B")

	boom := errors.New("synthesis failed")
	ch.Last().Start()
	ch.Last().Fail(boom)

	err := wait(t, a)
	var serr *narration.SpeechError
	if !errors.As(err, &serr) || !errors.Is(err, boom) {
		t.Fatalf("A resolved with %v, want SpeechError wrapping boom", err)
	}
	if serr.RequestID != a.ID || serr.Text != "A" {
		t.Errorf("SpeechError = %+v", serr)
	}

	eventually(t, "idle", func() bool { return !q.Speaking() })
	if q.QueueLength() != 1 {
		t.Fatalf("QueueLength() = %d, want B still pending", q.QueueLength())
	}
	if len(ch.Utterances()) != 1 {
		t.Fatal("B must not start after A failed")
	}
	if b.Err() != nil {
		t.Error("B should be unresolved")
	}
	if !slices.Contains(rec.Calls(), "unduck") {
		t.Error("failure should unduck")
	}

	// The next submission resumes the queue from its head.
	c := speak(t, q, "C")
	if got := ch.Last().Text; got != "B" {
		t.Fatalf("next utterance = %q, want B", got)
	}
	ch.Last().End()
	if err := wait(t, b); err != nil {
		t.Fatalf("B: %v", err)
	}
	eventually(t, "C started", func() bool { return ch.Last().Text == "C" })
	ch.Last().End()
	if err := wait(t, c); err != nil {
		t.Fatalf("C: %v", err)
	}
}

func TestQueueCancel(t *testing.T) {
	ch := narration.NewMockChannel()
	q, rec := newQueue(t, ch)

	a := speak(t, q, "A")
	b := speak(t, q, "B")
	ch.Last().Start()
	eventually(t, "duck", func() bool { return slices.Contains(rec.Calls(), "duck") })

	q.Cancel()

	if err := wait(t, a); !errors.Is(err, narration.ErrCanceled) {
		t.Fatalf("A resolved with %v, want ErrCanceled", err)
	}
	if q.Speaking() || rec.Speaking() {
		t.Error("speaking should be cleared by Cancel")
	}
	if got := rec.Calls(); got[len(got)-1] != "unduck" {
		t.Errorf("last call = %q, want unduck", got[len(got)-1])
	}
	if !ch.Utterances()[0].Canceled() {
		t.Error("channel utterance should be cancelled")
	}
	if q.QueueLength() != 1 || b.Err() != nil {
		t.Error("pending requests must survive Cancel")
	}

	// The late error from the cancelled utterance must not touch B.
	time.Sleep(10 * time.Millisecond)
	if len(ch.Utterances()) != 1 {
		t.Error("cancel must not advance the queue")
	}
}

func TestQueueCancelIdle(t *testing.T) {
	ch := narration.NewMockChannel()
	q, rec := newQueue(t, ch)

	q.Cancel()
	if ch.Cancels() != 1 {
		t.Errorf("Cancels() = %d, want 1", ch.Cancels())
	}
	if got := rec.Calls(); !slices.Equal(got, []string{"idle", "unduck"}) {
		t.Errorf("calls = %v", got)
	}
}

func TestQueueClearQueue(t *testing.T) {
	ch := narration.NewMockChannel()
	q, _ := newQueue(t, ch)

	a := speak(t, q, "A")
	b := speak(t, q, "B")
	c := speak(t, q, "C")

	if n := q.ClearQueue(); n != 2 {
		t.Fatalf("ClearQueue() = %d, want 2", n)
	}
	for _, req := range []*narration.Request{b, c} {
		if err := wait(t, req); !errors.Is(err, narration.ErrCleared) {
			t.Errorf("%s resolved with %v, want ErrCleared", req.Text, err)
		}
	}
	if !q.Speaking() || a.Err() != nil {
		t.Error("active utterance must keep playing")
	}

	ch.Last().End()
	if err := wait(t, a); err != nil {
		t.Fatalf("A: %v", err)
	}
	eventually(t, "idle", func() bool { return !q.Speaking() })
	if len(ch.Utterances()) != 1 {
		t.Error("cleared requests must not be spoken")
	}
}

func TestQueueSpeakErrors(t *testing.T) {
	t.Run("empty text", func(t *testing.T) {
		q, _ := newQueue(t, narration.NewMockChannel())
		if _, err := q.Speak(context.Background(), "  ", narration.DefaultOptions()); !errors.Is(err, narration.ErrEmptyText) {
			t.Errorf("got %v, want ErrEmptyText", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		q, _ := newQueue(t, narration.NewMockChannel())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := q.Speak(ctx, "A", narration.DefaultOptions()); !errors.Is(err, context.Canceled) {
			t.Errorf("got %v, want context.Canceled", err)
		}
	})

	t.Run("channel rejects", func(t *testing.T) {
		ch := narration.NewMockChannel()
		ch.SpeakErr = errors.New("no output")
		q, rec := newQueue(t, ch)

		req, err := q.Speak(context.Background(), "A", narration.DefaultOptions())
		if err != nil {
			t.Fatalf("Speak: %v", err)
		}
		var serr *narration.SpeechError
		if !errors.As(wait(t, req), &serr) {
			t.Fatal("expected SpeechError")
		}
		if q.Speaking() || rec.Speaking() {
			t.Error("queue should be idle")
		}
	})

	t.Run("closed", func(t *testing.T) {
		q, _ := newQueue(t, narration.NewMockChannel())
		a := speak(t, q, "A")
		b := speak(t, q, "B")
		q.Close()

		if !errors.Is(wait(t, a), narration.ErrCanceled) || !errors.Is(wait(t, b), narration.ErrCleared) {
			t.Error("Close should cancel the active request and clear the rest")
		}
		if _, err := q.Speak(context.Background(), "C", narration.DefaultOptions()); !errors.Is(err, narration.ErrClosed) {
			t.Errorf("got %v, want ErrClosed", err)
		}
	})
}

func TestQueueAutoChannel(t *testing.T) {
	ch := &narration.MockChannel{Auto: true}
	q, _ := newQueue(t, ch)

	reqs := []*narration.Request{speak(t, q, "one"), speak(t, q, "two"), speak(t, q, "three")}
	for _, req := range reqs {
		if err := wait(t, req); err != nil {
			t.Fatalf("%s: %v", req.Text, err)
		}
	}
	if got := ch.Texts(); !slices.Equal(got, []string{"one", "two", "three"}) {
		t.Errorf("spoken order = %v", got)
	}
}

func TestQueuePauseResume(t *testing.T) {
	ch := narration.NewMockChannel()
	q, _ := newQueue(t, ch)

	a := speak(t, q, "A")
	if err := q.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if !q.Paused() || ch.Pauses() != 1 {
		t.Fatal("pause should reach the channel")
	}

	b := speak(t, q, "B")
	ch.Last().End()
	if err := wait(t, a); err != nil {
		t.Fatalf("A: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if len(ch.Utterances()) != 1 {
		t.Fatal("a paused queue must not start the next request")
	}

	if err := q.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if ch.Resumes() != 0 {
		t.Error("Resume with nothing active should not reach the channel")
	}
	if ch.Last().Text != "B" {
		t.Fatal("Resume should start the head of the queue")
	}
	ch.Last().End()
	if err := wait(t, b); err != nil {
		t.Fatalf("B: %v", err)
	}
}

// plainChannel hides MockChannel's Pauser implementation.
type plainChannel struct{ narration.Channel }

func TestQueuePauseUnsupported(t *testing.T) {
	q, _ := newQueue(t, plainChannel{narration.NewMockChannel()})
	if err := q.Pause(); !errors.Is(err, narration.ErrPauseUnsupported) {
		t.Errorf("Pause() = %v, want ErrPauseUnsupported", err)
	}
	if err := q.Resume(); !errors.Is(err, narration.ErrPauseUnsupported) {
		t.Errorf("Resume() = %v, want ErrPauseUnsupported", err)
	}
}

func TestQueuePendingAndActive(t *testing.T) {
	ch := narration.NewMockChannel()
	q, _ := newQueue(t, ch)

	if _, ok := q.Active(); ok {
		t.Error("idle queue has no active request")
	}
	a := speak(t, q, "A")
	speak(t, q, "B")
	speak(t, q, "C")

	if active, ok := q.Active(); !ok || active.ID != a.ID {
		t.Errorf("Active() = %v, %v", active, ok)
	}
	var texts []string
	for _, r := range q.Pending() {
		texts = append(texts, r.Text)
	}
	if !slices.Equal(texts, []string{"B", "C"}) {
		t.Errorf("Pending() = %v", texts)
	}
}
