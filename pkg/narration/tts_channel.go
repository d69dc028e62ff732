package narration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-cardsense/pkg/audioio"
	"github.com/teslashibe/go-cardsense/pkg/tts"
)

// DefaultAudibleThreshold is the normalized signal power above which a
// chunk counts as audible speech (about -60 dBFS).
const DefaultAudibleThreshold = 1e-6

// TTSChannel speaks through a tts.Provider into an audio sink.
// EventStart fires on the first audible chunk, not when synthesis is requested.
type TTSChannel struct {
	provider  tts.Provider
	sink      audioio.Sink
	threshold float64
	logger    *slog.Logger

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	paused bool
	resume chan struct{}
}

// NewTTSChannel creates a channel. The sink is started by Speak.
func NewTTSChannel(provider tts.Provider, sink audioio.Sink, logger *slog.Logger) *TTSChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &TTSChannel{
		provider:  provider,
		sink:      sink,
		threshold: DefaultAudibleThreshold,
		logger:    logger.With("component", "narration.tts", "provider", provider.Name()),
	}
}

// SetAudibleThreshold overrides DefaultAudibleThreshold.
func (c *TTSChannel) SetAudibleThreshold(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threshold = v
}

// Speak starts synthesizing text and returns immediately.
// A previous utterance still playing on this channel is cancelled.
func (c *TTSChannel) Speak(ctx context.Context, text string, opts Options) (<-chan Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Start is idempotent and revives a sink that lost its device.
	if err := c.sink.Start(ctx); err != nil {
		return nil, fmt.Errorf("start speech output: %w", err)
	}

	if c.cancel != nil {
		c.cancel()
		c.sink.Clear()
	}
	uctx, cancel := context.WithCancel(ctx)
	c.gen++
	c.cancel = cancel
	c.releaseLocked()

	events := make(chan Event, 2)
	gen, threshold := c.gen, c.threshold
	go func() {
		c.run(uctx, text, volume(opts.Volume), opts.Rate, threshold, events)
		c.done(gen)
	}()
	return events, nil
}

// done forgets the utterance gen if it is still the current one.
func (c *TTSChannel) done(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen && c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func volume(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func (c *TTSChannel) run(ctx context.Context, text string, gain, rate, threshold float64, events chan<- Event) {
	defer close(events)

	emit := func(t EventType, err error) {
		events <- Event{Type: t, Err: err, At: time.Now()}
	}
	fail := func(err error) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		emit(EventError, err)
	}

	start := time.Now()
	stream, err := tts.StreamAt(ctx, c.provider, text, rate)
	if err != nil {
		fail(err)
		return
	}
	defer stream.Close()

	format := stream.Format()
	out := c.sink.Config()
	started := false
	var played time.Duration

	for {
		if err := c.waitResumed(ctx); err != nil {
			fail(err)
			return
		}

		data, err := stream.Read()
		if err != nil {
			fail(err)
			return
		}
		if data == nil {
			break
		}

		var in audioio.AudioChunk
		in.FromBytes(data, format.SampleRate, max(format.Channels, 1))

		if !started && audioio.CalculateRMS(in.Samples) >= threshold {
			started = true
			emit(EventStart, nil)
			c.logger.Debug("speech audible", "latency_ms", time.Since(start).Milliseconds())
		}

		samples := audioio.Convert(in, out.SampleRate, out.Channels)
		audioio.ApplyGain(samples, gain)
		chunk := audioio.AudioChunk{Samples: samples, SampleRate: out.SampleRate, Channels: out.Channels}
		if err := c.sink.Write(ctx, chunk); err != nil {
			fail(fmt.Errorf("write speech: %w", err))
			return
		}
		played += time.Duration(in.Duration() * float64(time.Second))
	}

	// Silent synthesis still produces a complete lifecycle.
	if !started {
		emit(EventStart, nil)
	}

	if err := c.sink.Flush(ctx); err != nil && !errors.Is(err, audioio.ErrNotRunning) {
		fail(fmt.Errorf("flush speech: %w", err))
		return
	}
	if err := ctx.Err(); err != nil {
		fail(err)
		return
	}

	c.logger.Debug("speech played", "chars", len(text), "duration", played)
	emit(EventEnd, nil)
}

// waitResumed blocks while the channel is paused.
func (c *TTSChannel) waitResumed(ctx context.Context) error {
	c.mu.Lock()
	if !c.paused {
		c.mu.Unlock()
		return ctx.Err()
	}
	ch := c.resume
	c.mu.Unlock()

	select {
	case <-ch:
		return ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel stops the active utterance and discards buffered speech.
func (c *TTSChannel) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.releaseLocked()
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.cancel = nil
	if err := c.sink.Clear(); err != nil {
		c.logger.Warn("clear speech output failed", "error", err)
	}
}

// Pause holds playback after the chunk in flight.
func (c *TTSChannel) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		c.paused = true
		c.resume = make(chan struct{})
	}
	return nil
}

// Resume continues a paused utterance.
func (c *TTSChannel) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseLocked()
	return nil
}

func (c *TTSChannel) releaseLocked() {
	if c.paused {
		c.paused = false
		close(c.resume)
	}
}

// Close cancels speech and closes the sink.
func (c *TTSChannel) Close() error {
	c.Cancel()
	return c.sink.Close()
}

var (
	_ Channel = (*TTSChannel)(nil)
	_ Pauser  = (*TTSChannel)(nil)
)
