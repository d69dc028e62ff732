package narration

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// utterance is the request currently on the channel.
type utterance struct {
	req     *Request
	cancel  context.CancelFunc
	started bool
}

// Queue plays narration requests one at a time in FIFO order.
//
// The Ducker and SpeakingSink are called with the queue lock held and
// must not call back into the queue.
type Queue struct {
	channel Channel
	cfg     Config
	logger  *slog.Logger

	base       context.Context
	cancelBase context.CancelFunc

	mu      sync.Mutex
	active  *utterance
	pending []*Request
	paused  bool
	closed  bool
}

// NewQueue creates an idle queue speaking through channel.
func NewQueue(channel Channel, opts ...Option) *Queue {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if cfg.Clock == nil {
		cfg.Clock = DefaultConfig().Clock
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	base, cancel := context.WithCancel(context.Background())
	return &Queue{
		channel:    channel,
		cfg:        cfg,
		logger:     cfg.Logger.With("component", "narration.queue"),
		base:       base,
		cancelBase: cancel,
	}
}

// Speak submits text. When idle the utterance starts immediately; while
// speaking it waits at the back of the queue. The returned request resolves
// when the utterance ends, fails or is dropped.
//
// ctx bounds the submission only. Utterances run until they end, are
// cancelled or the queue is closed.
func (q *Queue) Speak(ctx context.Context, text string, opts Options) (*Request, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	req := newRequest(text, opts, q.cfg.Clock())

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrClosed
	}

	q.pending = append(q.pending, req)
	if q.active != nil || q.paused {
		q.logger.Debug("narration queued", "id", req.ID, "queue_length", len(q.pending))
		return req, nil
	}

	// Idle: start the head, which is not necessarily req when an earlier
	// utterance failed and left the queue behind it.
	q.advanceLocked()
	return req, nil
}

// advanceLocked starts the head of the FIFO when idle.
func (q *Queue) advanceLocked() {
	if q.closed || q.active != nil || q.paused || len(q.pending) == 0 {
		return
	}

	req := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]

	ctx, cancel := context.WithCancel(q.base)
	u := &utterance{req: req, cancel: cancel}
	q.active = u
	q.setSpeakingLocked(true)

	q.logger.Info("narration started", "id", req.ID, "chars", len(req.Text), "queue_length", len(q.pending))

	events, err := q.channel.Speak(ctx, req.Text, req.Options)
	if err != nil {
		q.finishLocked(u, err)
		return
	}
	go q.monitor(u, events)
}

// monitor forwards the channel's events for u until it terminates.
func (q *Queue) monitor(u *utterance, events <-chan Event) {
	for ev := range events {
		switch ev.Type {
		case EventStart:
			q.onStart(u)
		case EventEnd:
			q.finish(u, nil)
			return
		case EventError:
			q.finish(u, ev.Err)
			return
		}
	}
	q.finish(u, ErrChannelClosed)
}

func (q *Queue) onStart(u *utterance) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.active != u || u.started {
		return
	}
	u.started = true
	if q.cfg.Ducker != nil {
		q.cfg.Ducker.Duck()
	}
}

func (q *Queue) finish(u *utterance, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.finishLocked(u, err)
}

// finishLocked returns the queue to idle after u ended. Events for an
// utterance that is no longer active are ignored.
func (q *Queue) finishLocked(u *utterance, err error) {
	if q.active != u {
		return
	}

	q.active = nil
	u.cancel()
	q.setSpeakingLocked(false)
	if q.cfg.Ducker != nil {
		q.cfg.Ducker.Unduck()
	}

	if err != nil {
		serr := &SpeechError{RequestID: u.req.ID, Text: u.req.Text, Err: err}
		q.logger.Warn("narration failed", "id", u.req.ID, "error", err, "queue_length", len(q.pending))
		u.req.resolve(serr)
		// The queue is not advanced after a failure; the next Speak resumes it.
		return
	}

	q.logger.Info("narration finished", "id", u.req.ID)
	u.req.resolve(nil)
	q.advanceLocked()
}

func (q *Queue) setSpeakingLocked(speaking bool) {
	if q.cfg.Speaking != nil {
		q.cfg.Speaking.SetSpeaking(speaking)
	}
}

// Cancel stops the active utterance and restores the music. Pending
// requests stay queued. Safe to call in any state.
func (q *Queue) Cancel() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelLocked()
}

func (q *Queue) cancelLocked() {
	u := q.active
	q.active = nil

	q.channel.Cancel()
	q.setSpeakingLocked(false)
	if q.cfg.Ducker != nil {
		q.cfg.Ducker.Unduck()
	}

	if u != nil {
		u.cancel()
		u.req.resolve(ErrCanceled)
		q.logger.Info("narration canceled", "id", u.req.ID, "queue_length", len(q.pending))
	}
}

// ClearQueue drops every pending request and returns how many were dropped.
// The active utterance is not affected.
func (q *Queue) ClearQueue() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.clearLocked()
}

func (q *Queue) clearLocked() int {
	n := len(q.pending)
	for _, req := range q.pending {
		req.resolve(ErrCleared)
	}
	q.pending = nil
	if n > 0 {
		q.logger.Info("narration queue cleared", "dropped", n)
	}
	return n
}

// Pause pauses the active utterance and holds pending ones.
// It fails with ErrPauseUnsupported when the channel cannot pause.
func (q *Queue) Pause() error {
	pauser, ok := q.channel.(Pauser)
	if !ok {
		return ErrPauseUnsupported
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.paused {
		return nil
	}
	if q.active != nil {
		if err := pauser.Pause(); err != nil {
			return err
		}
	}
	q.paused = true
	return nil
}

// Resume continues a paused utterance, or starts the head of the queue.
func (q *Queue) Resume() error {
	pauser, ok := q.channel.(Pauser)
	if !ok {
		return ErrPauseUnsupported
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.paused {
		return nil
	}
	q.paused = false
	if q.active != nil {
		return pauser.Resume()
	}
	q.advanceLocked()
	return nil
}

// Paused reports whether the queue is paused.
func (q *Queue) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// Speaking reports whether an utterance is in progress.
func (q *Queue) Speaking() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active != nil
}

// Active returns the request being spoken.
func (q *Queue) Active() (*Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active == nil {
		return nil, false
	}
	return q.active.req, true
}

// QueueLength returns the number of requests waiting behind the active one.
func (q *Queue) QueueLength() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Pending returns the waiting requests in the order they will be spoken.
func (q *Queue) Pending() []*Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Request, len(q.pending))
	copy(out, q.pending)
	return out
}

// Close cancels the active utterance, drops pending requests and rejects
// further submissions.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.cancelLocked()
	q.clearLocked()
	q.closed = true
	q.cancelBase()
	return nil
}
