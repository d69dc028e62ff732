// Package narration serializes spoken narration: one utterance at a time,
// in submission order, with the background music ducked while speech is
// audible.
package narration

import (
	"context"
	"time"
)

// EventType identifies an utterance lifecycle event.
type EventType string

const (
	// EventStart fires once when speech becomes audible.
	EventStart EventType = "start"
	// EventEnd fires when the utterance finished playing.
	EventEnd EventType = "end"
	// EventError fires when the utterance failed.
	EventError EventType = "error"
)

// Event is one step in an utterance's lifecycle.
// A channel emits EventStart, then exactly one of EventEnd or EventError,
// then closes the event channel.
type Event struct {
	Type EventType
	Err  error
	At   time.Time
}

// Options controls how one utterance is spoken.
type Options struct {
	// Volume is the speech volume in [0, 1].
	Volume float64 `json:"volume"`

	// Rate is the speaking rate multiplier. Zero keeps the provider's
	// configured speed.
	Rate float64 `json:"rate,omitempty"`
}

// DefaultOptions returns full-volume options.
func DefaultOptions() Options {
	return Options{Volume: 1.0}
}

// Channel speaks text. At most one utterance is active per channel.
type Channel interface {
	// Speak starts an utterance and returns its event stream.
	// Speak must not block on synthesis or playback.
	Speak(ctx context.Context, text string, opts Options) (<-chan Event, error)

	// Cancel stops the active utterance, if any.
	Cancel()
}

// Pauser is implemented by channels that can pause mid-utterance.
type Pauser interface {
	Pause() error
	Resume() error
}

// Ducker lowers and restores the background music. *bgm.Engine satisfies it.
type Ducker interface {
	Duck()
	Unduck()
}

// SpeakingSink records whether narration is in progress. *session.State satisfies it.
type SpeakingSink interface {
	SetSpeaking(speaking bool)
}
