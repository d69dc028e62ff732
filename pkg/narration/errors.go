package narration

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors for common error conditions.
var (
	// ErrCanceled resolves a request whose utterance was cancelled.
	ErrCanceled = errors.New("narration: canceled")

	// ErrCleared resolves a pending request removed by ClearQueue.
	ErrCleared = errors.New("narration: removed from queue")

	// ErrClosed is returned by Speak after Close.
	ErrClosed = errors.New("narration: queue closed")

	// ErrEmptyText is returned by Speak for blank text.
	ErrEmptyText = errors.New("narration: empty text")

	// ErrPauseUnsupported is returned when the channel cannot pause.
	ErrPauseUnsupported = errors.New("narration: channel does not support pause")

	// ErrChannelClosed reports an event stream that ended without EventEnd or EventError.
	ErrChannelClosed = errors.New("narration: event stream closed early")
)

// SpeechError reports a failed utterance. It is delivered to the request
// that failed and nowhere else.
type SpeechError struct {
	RequestID uuid.UUID
	Text      string
	Err       error
}

// Error implements the error interface.
func (e *SpeechError) Error() string {
	return fmt.Sprintf("narration: speech %s failed: %v", e.RequestID, e.Err)
}

// Unwrap returns the underlying error.
func (e *SpeechError) Unwrap() error {
	return e.Err
}
