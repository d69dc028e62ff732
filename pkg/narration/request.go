package narration

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Request is one submitted narration. It resolves exactly once: nil when the
// utterance played to the end, otherwise the reason it did not.
type Request struct {
	ID         uuid.UUID `json:"id"`
	Text       string    `json:"text"`
	Options    Options   `json:"options"`
	EnqueuedAt time.Time `json:"enqueued_at"`

	once sync.Once
	done chan struct{}
	err  error
}

func newRequest(text string, opts Options, now time.Time) *Request {
	return &Request{
		ID:         uuid.New(),
		Text:       text,
		Options:    opts,
		EnqueuedAt: now,
		done:       make(chan struct{}),
	}
}

func (r *Request) resolve(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.done)
	})
}

// Done is closed when the request resolves.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Err returns the resolution, or nil while the request is unresolved.
func (r *Request) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Wait blocks until the request resolves or ctx is done.
func (r *Request) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
