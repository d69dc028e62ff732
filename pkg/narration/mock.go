package narration

import (
	"context"
	"sync"
	"time"
)

// MockChannel is a scripted Channel for tests. Each Speak creates a
// MockUtterance that the test drives with Start, End and Fail, unless Auto
// is set, in which case utterances start and end immediately.
type MockChannel struct {
	// Auto makes every utterance emit EventStart then EventEnd right away.
	Auto bool

	// SpeakErr, when set, is returned by Speak.
	SpeakErr error

	mu         sync.Mutex
	utterances []*MockUtterance
	current    *MockUtterance
	cancels    int
	pauses     int
	resumes    int
}

// MockUtterance is one utterance spoken on a MockChannel.
type MockUtterance struct {
	Text    string
	Options Options

	mu       sync.Mutex
	events   chan Event
	started  bool
	finished bool
	canceled bool
}

// NewMockChannel creates a manually driven mock channel.
func NewMockChannel() *MockChannel {
	return &MockChannel{}
}

// Speak records the utterance and returns its event stream.
func (m *MockChannel) Speak(ctx context.Context, text string, opts Options) (<-chan Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SpeakErr != nil {
		return nil, m.SpeakErr
	}

	u := &MockUtterance{Text: text, Options: opts, events: make(chan Event, 2)}
	m.utterances = append(m.utterances, u)
	m.current = u
	if m.Auto {
		u.Start()
		u.End()
	}
	return u.events, nil
}

// Cancel fails the current utterance with context.Canceled, as a real
// channel does when its context is cancelled.
func (m *MockChannel) Cancel() {
	m.mu.Lock()
	u := m.current
	m.current = nil
	m.cancels++
	m.mu.Unlock()

	if u != nil {
		u.mu.Lock()
		u.canceled = true
		u.mu.Unlock()
		u.Fail(context.Canceled)
	}
}

// Pause records the call.
func (m *MockChannel) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pauses++
	return nil
}

// Resume records the call.
func (m *MockChannel) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resumes++
	return nil
}

// Utterances returns every utterance spoken so far, oldest first.
func (m *MockChannel) Utterances() []*MockUtterance {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MockUtterance, len(m.utterances))
	copy(out, m.utterances)
	return out
}

// Texts returns the text of every utterance spoken so far.
func (m *MockChannel) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.utterances))
	for i, u := range m.utterances {
		out[i] = u.Text
	}
	return out
}

// Last returns the most recent utterance, or nil.
func (m *MockChannel) Last() *MockUtterance {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.utterances) == 0 {
		return nil
	}
	return m.utterances[len(m.utterances)-1]
}

// Cancels returns how many times Cancel was called.
func (m *MockChannel) Cancels() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancels
}

// Pauses returns how many times Pause was called.
func (m *MockChannel) Pauses() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pauses
}

// Resumes returns how many times Resume was called.
func (m *MockChannel) Resumes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resumes
}

// Start emits EventStart. Ignored after the utterance finished.
func (u *MockUtterance) Start() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.started || u.finished {
		return
	}
	u.started = true
	u.events <- Event{Type: EventStart, At: time.Now()}
}

// End emits EventEnd and closes the stream.
func (u *MockUtterance) End() {
	u.terminate(Event{Type: EventEnd, At: time.Now()})
}

// Fail emits EventError and closes the stream.
func (u *MockUtterance) Fail(err error) {
	u.terminate(Event{Type: EventError, Err: err, At: time.Now()})
}

func (u *MockUtterance) terminate(ev Event) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.finished {
		return
	}
	u.finished = true
	u.events <- ev
	close(u.events)
}

// Canceled reports whether the channel cancelled this utterance.
func (u *MockUtterance) Canceled() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.canceled
}

var (
	_ Channel = (*MockChannel)(nil)
	_ Pauser  = (*MockChannel)(nil)
)
