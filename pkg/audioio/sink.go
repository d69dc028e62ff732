package audioio

import (
	"context"
	"errors"
	"io"
)

// ErrNotRunning is returned by Write when the sink is stopped.
var ErrNotRunning = errors.New("audioio: sink not running")

// Sink is one audio output. Music and speech each own a sink and the
// system mixer combines them.
type Sink interface {
	// Start opens the output. Calling Start on a running sink is a no-op,
	// and calling it after Stop reopens the output.
	Start(ctx context.Context) error

	// Stop closes the output and drops buffered audio. It is idempotent.
	Stop() error

	// Write queues chunk for playback, converting it to the sink format.
	// It blocks while the output is full and returns ErrNotRunning when
	// the sink is stopped.
	Write(ctx context.Context, chunk AudioChunk) error

	// Flush blocks until queued audio has played.
	Flush(ctx context.Context) error

	// Clear drops queued audio without stopping the output.
	Clear() error

	Config() Config

	// Name is the backend name: "alsa", "pulse" or "mock".
	Name() string

	// Close stops the sink for good. Start fails afterwards.
	io.Closer
}

// SinkStats counts what a sink has played.
type SinkStats struct {
	ChunksWritten   int64  `json:"chunks_written"`
	SamplesWritten  int64  `json:"samples_written"`
	Underruns       int64  `json:"underruns"` // writes that lost the player process
	Running         bool   `json:"running"`
	Backend         string `json:"backend"`
	BufferedSamples int64  `json:"buffered_samples"`
}

// SinkWithStats is a Sink that reports SinkStats.
type SinkWithStats interface {
	Sink
	Stats() SinkStats
}
