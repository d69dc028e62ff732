// Package bgm plays looped background music through a ramped gain
// parameter and ducks it while narration is speaking.
package bgm

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-cardsense/pkg/audioio"
)

// State is the lifecycle state of the audio output.
type State string

const (
	StateNotInitialized State = "not-initialized"
	StateRunning        State = "running"
	StateSuspended      State = "suspended"
	StateClosed         State = "closed"
)

// ChannelState is a snapshot of the music channel.
type ChannelState struct {
	CurrentGain  float64       `json:"current_gain"`
	TargetGain   float64       `json:"target_gain"`
	FadeStart    time.Time     `json:"fade_start"`
	FadeDuration time.Duration `json:"fade_duration"`
	Playing      bool          `json:"playing"`
	Volume       float64       `json:"volume"`
	State        State         `json:"state"`
	Track        string        `json:"track,omitempty"`

	// Output is set when the sink reports statistics.
	Output *audioio.SinkStats `json:"output,omitempty"`
}

// Engine owns background playback and its gain.
type Engine struct {
	sink   audioio.Sink
	cfg    *Config
	logger *slog.Logger
	gain   *Param

	// playMu serializes starting and stopping the playback goroutine.
	playMu sync.Mutex

	mu         sync.Mutex
	state      State
	track      *Track
	source     string
	nominal    float64
	playWanted bool
	cancel     context.CancelFunc
	done       chan struct{}

	pos atomic.Int64
}

// NewEngine creates an engine that plays into sink.
func NewEngine(sink audioio.Sink, opts ...Option) *Engine {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	nominal := clamp01(cfg.NormalVolume)
	return &Engine{
		sink:    sink,
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "bgm"),
		gain:    NewParam(nominal),
		state:   StateNotInitialized,
		nominal: nominal,
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Initialize starts the audio output.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateRunning, StateSuspended:
		return nil
	}

	if err := e.sink.Start(ctx); err != nil {
		e.logger.Error("audio output failed to start", "backend", e.sink.Name(), "error", err)
		if errors.Is(err, fs.ErrPermission) {
			return &PermissionError{Backend: e.sink.Name(), Err: err}
		}
		return &InitializationError{Backend: e.sink.Name(), Err: err}
	}

	e.state = StateRunning
	e.logger.Info("audio output started", "backend", e.sink.Name())
	return nil
}

// State returns the output lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// LoadTrack decodes a WAV or Ogg Opus track from a file path or http(s)
// URL and caches it for Play. A track loaded while playing replaces the
// current one from the start.
func (e *Engine) LoadTrack(ctx context.Context, source string) error {
	e.mu.Lock()
	state := e.state
	e.mu.Unlock()

	switch state {
	case StateNotInitialized:
		return ErrNotInitialized
	case StateClosed:
		return ErrClosed
	}

	data, err := e.read(ctx, source)
	if err != nil {
		return err
	}

	track, err := Decode(data)
	if err != nil {
		e.logger.Warn("failed to decode track", "source", source, "error", err)
		return &DecodeError{Source: source, Err: err}
	}

	cfg := e.sink.Config()
	track = track.Convert(cfg.SampleRate, cfg.Channels)
	if track.Frames() == 0 {
		return &DecodeError{Source: source, Err: errors.New("track is empty after conversion")}
	}

	e.playMu.Lock()
	defer e.playMu.Unlock()

	e.mu.Lock()
	e.track = track
	e.source = source
	e.pos.Store(0)
	restart := e.playWanted && e.state == StateRunning
	e.mu.Unlock()

	e.logger.Info("track loaded",
		"source", source,
		"duration_s", fmt.Sprintf("%.1f", track.Duration()),
		"sample_rate", track.SampleRate,
		"channels", track.Channels,
	)

	if restart {
		e.stopPlaybackLocked()
		e.startPlaybackLocked(0)
	}
	return nil
}

func (e *Engine) read(ctx context.Context, source string) ([]byte, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		data, err := e.cfg.Fetch(ctx, source)
		if err != nil {
			return nil, fmt.Errorf("bgm: load track: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("bgm: load track: %w", err)
	}
	return data, nil
}

// Play starts looped playback from the beginning, stopping any current
// playback first. Without a loaded track it logs a warning and does nothing.
func (e *Engine) Play() error {
	e.playMu.Lock()
	defer e.playMu.Unlock()

	e.mu.Lock()
	state, track := e.state, e.track
	e.mu.Unlock()

	if state == StateClosed {
		return ErrClosed
	}
	if track == nil {
		e.logger.Warn("no track loaded, ignoring play")
		return nil
	}

	e.stopPlaybackLocked()

	e.mu.Lock()
	e.playWanted = true
	running := e.state == StateRunning
	e.mu.Unlock()

	if running {
		e.startPlaybackLocked(0)
	}
	e.logger.Info("background music playing")
	return nil
}

// Stop halts playback. Stopping a stopped engine is a no-op.
func (e *Engine) Stop() {
	e.playMu.Lock()
	defer e.playMu.Unlock()

	e.mu.Lock()
	wasPlaying := e.playWanted
	e.playWanted = false
	e.mu.Unlock()

	e.stopPlaybackLocked()
	if wasPlaying {
		e.logger.Info("background music stopped")
	}
}

// startPlaybackLocked launches the playback goroutine at frame start.
// Callers hold playMu.
func (e *Engine) startPlaybackLocked(start int) {
	e.mu.Lock()
	track := e.track
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.cancel = cancel
	e.done = done
	e.mu.Unlock()

	e.pos.Store(int64(start))
	go e.playback(ctx, track, start, done)
}

// stopPlaybackLocked cancels the playback goroutine and waits for it.
// Callers hold playMu.
func (e *Engine) stopPlaybackLocked() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	e.sink.Clear()
}

func (e *Engine) playback(ctx context.Context, track *Track, pos int, done chan struct{}) {
	defer close(done)

	chunkFrames := e.sink.Config().BufferSize()
	if chunkFrames <= 0 {
		chunkFrames = track.SampleRate / 50
	}
	frames := track.Frames()
	ch := track.Channels
	frameDur := time.Second / time.Duration(track.SampleRate)
	if pos < 0 || pos >= frames {
		pos = 0
	}

	for ctx.Err() == nil {
		n := min(chunkFrames, frames-pos)
		samples := make([]int16, n*ch)
		copy(samples, track.Samples[pos*ch:(pos+n)*ch])

		t0 := e.cfg.Clock()
		for f := 0; f < n; f++ {
			g := e.gain.ValueAt(t0.Add(time.Duration(f) * frameDur))
			audioio.ApplyGain(samples[f*ch:(f+1)*ch], g)
		}

		err := e.sink.Write(ctx, audioio.AudioChunk{
			Samples:    samples,
			SampleRate: track.SampleRate,
			Channels:   ch,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.suspended(done, err)
			return
		}

		pos += n
		if pos >= frames {
			pos = 0
		}
		e.pos.Store(int64(pos))
	}
}

// suspended records that the output stopped underneath the playback
// goroutine owning done.
func (e *Engine) suspended(done chan struct{}, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateRunning {
		e.state = StateSuspended
	}
	if e.done == done {
		e.cancel()
		e.cancel, e.done = nil, nil
	}
	e.logger.Warn("audio output suspended", "error", err)
}

// Suspend stops the audio output, keeping the playback position.
func (e *Engine) Suspend() error {
	e.playMu.Lock()
	defer e.playMu.Unlock()

	e.mu.Lock()
	state := e.state
	e.mu.Unlock()
	if state != StateRunning {
		return nil
	}

	e.stopPlaybackLocked()
	err := e.sink.Stop()

	e.mu.Lock()
	e.state = StateSuspended
	e.mu.Unlock()
	return err
}

// Resume restarts a suspended output and continues playback if it was
// playing.
func (e *Engine) Resume(ctx context.Context) error {
	e.playMu.Lock()
	defer e.playMu.Unlock()

	e.mu.Lock()
	state := e.state
	e.mu.Unlock()

	switch state {
	case StateRunning:
		return nil
	case StateNotInitialized:
		return ErrNotInitialized
	case StateClosed:
		return ErrClosed
	}

	// A playback goroutine may still be winding down after a failed write.
	e.stopPlaybackLocked()

	if err := e.sink.Start(ctx); err != nil {
		return &InitializationError{Backend: e.sink.Name(), Err: err}
	}

	e.mu.Lock()
	e.state = StateRunning
	resume := e.playWanted && e.track != nil
	e.mu.Unlock()

	if resume {
		e.startPlaybackLocked(int(e.pos.Load()))
	}
	e.logger.Info("audio output resumed")
	return nil
}

// Duck ramps the gain from its current value down to the ducked volume.
func (e *Engine) Duck() {
	e.mu.Lock()
	target := min(e.cfg.DuckedVolume, e.nominal)
	e.mu.Unlock()
	e.rampTo(target)
	e.logger.Debug("ducking", "target", target)
}

// Unduck ramps the gain from its current value back to the nominal volume.
func (e *Engine) Unduck() {
	e.mu.Lock()
	target := e.nominal
	e.mu.Unlock()
	e.rampTo(target)
	e.logger.Debug("unducking", "target", target)
}

func (e *Engine) rampTo(target float64) {
	now := e.cfg.Clock()
	e.gain.CancelAndHold(now)
	e.gain.LinearRampTo(target, now, e.cfg.FadeDuration)
}

// SetVolume sets the nominal volume immediately, clamped to [0, 1].
func (e *Engine) SetVolume(v float64) {
	v = clamp01(v)
	e.mu.Lock()
	e.nominal = v
	e.mu.Unlock()
	e.gain.SetValue(v)
}

// Volume returns the nominal volume.
func (e *Engine) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nominal
}

// Gain returns the gain parameter.
func (e *Engine) Gain() *Param {
	return e.gain
}

// Playing reports whether playback is active.
func (e *Engine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playWanted && e.state == StateRunning
}

// Snapshot returns the current channel state.
func (e *Engine) Snapshot() ChannelState {
	now := e.cfg.Clock()
	start, dur, _ := e.gain.Ramp()

	var output *audioio.SinkStats
	if s, ok := e.sink.(audioio.SinkWithStats); ok {
		stats := s.Stats()
		output = &stats
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return ChannelState{
		CurrentGain:  e.gain.ValueAt(now),
		TargetGain:   e.gain.Target(),
		FadeStart:    start,
		FadeDuration: dur,
		Playing:      e.playWanted && e.state == StateRunning,
		Volume:       e.nominal,
		State:        e.state,
		Track:        e.source,
		Output:       output,
	}
}

// Dispose stops playback, stops the output and drops the track. It is
// idempotent. Initialize may be called again afterwards; closing the sink
// stays with its owner.
func (e *Engine) Dispose() error {
	e.playMu.Lock()
	defer e.playMu.Unlock()

	e.mu.Lock()
	if e.state == StateClosed {
		e.mu.Unlock()
		return nil
	}
	e.playWanted = false
	e.mu.Unlock()

	e.stopPlaybackLocked()
	err := e.sink.Stop()

	e.mu.Lock()
	e.state = StateClosed
	e.track = nil
	e.source = ""
	e.mu.Unlock()
	e.pos.Store(0)

	e.logger.Info("audio engine disposed")
	return err
}
