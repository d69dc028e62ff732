package audioio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
)

// ExecSink plays audio by piping raw PCM16 into a player process
// (aplay or pacat). The player's own buffer paces writes in real time.
type ExecSink struct {
	cfg     Config
	logger  *slog.Logger
	backend Backend
	program string
	args    []string

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stderr  *bytes.Buffer
	running bool
	closed  bool

	// Stats
	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
	underruns      atomic.Int64
}

// playerArgs returns the command line for backend.
func playerArgs(backend Backend, cfg Config) (string, []string, error) {
	rate := strconv.Itoa(cfg.SampleRate)
	channels := strconv.Itoa(cfg.Channels)
	latencyUS := strconv.Itoa(int(5 * cfg.BufferDuration.Microseconds()))

	switch backend {
	case BackendALSA:
		args := []string{"-q", "-t", "raw", "-f", "S16_LE", "-r", rate, "-c", channels, "-B", latencyUS}
		if cfg.Device != "" {
			args = append(args, "-D", cfg.Device)
		}
		return "aplay", args, nil
	case BackendPulse:
		args := []string{
			"--playback", "--raw",
			"--format=s16le",
			"--rate=" + rate,
			"--channels=" + channels,
			"--latency-msec=" + strconv.Itoa(int(5*cfg.BufferDuration.Milliseconds())),
		}
		if cfg.Device != "" {
			args = append(args, "--device="+cfg.Device)
		}
		return "pacat", args, nil
	default:
		return "", nil, fmt.Errorf("unsupported exec backend: %s", backend)
	}
}

// NewExecSink creates a sink for the alsa or pulse backend.
func NewExecSink(backend Backend, cfg Config, logger *slog.Logger) (*ExecSink, error) {
	program, args, err := playerArgs(backend, cfg)
	if err != nil {
		return nil, err
	}
	if _, err := exec.LookPath(program); err != nil {
		return nil, fmt.Errorf("audio player %q not found: %w", program, err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &ExecSink{
		cfg:     cfg,
		logger:  logger.With("component", "audioio", "backend", backend),
		backend: backend,
		program: program,
		args:    args,
	}

	s.logger.Info("exec sink created",
		"player", program,
		"device", cfg.Device,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
	)
	return s, nil
}

// Start spawns the player process.
func (s *ExecSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}
	if err := s.spawnLocked(); err != nil {
		return err
	}
	s.logger.Info("audio sink started")
	return nil
}

func (s *ExecSink) spawnLocked() error {
	cmd := exec.Command(s.program, s.args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", s.program, err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.stderr = stderr
	s.running = true
	return nil
}

// reapLocked kills the player (or lets it drain when graceful) and waits for it.
func (s *ExecSink) reapLocked(graceful bool) {
	if s.cmd == nil {
		return
	}
	s.stdin.Close()
	if !graceful && s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	if err := s.cmd.Wait(); err != nil && graceful {
		s.logger.Debug("player exited", "error", err, "stderr", s.stderr.String())
	}
	s.cmd = nil
	s.stdin = nil
	s.running = false
}

// Stop terminates the player, discarding buffered audio.
func (s *ExecSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.reapLocked(false)
	s.logger.Info("audio sink stopped")
	return nil
}

// Write converts chunk to the sink format and pipes it to the player.
func (s *ExecSink) Write(ctx context.Context, chunk AudioChunk) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return io.ErrClosedPipe
	}
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	stdin := s.stdin
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	samples := Convert(chunk, s.cfg.SampleRate, s.cfg.Channels)
	if _, err := stdin.Write(SamplesToBytes(samples)); err != nil {
		s.mu.Lock()
		if s.stdin == stdin {
			s.underruns.Add(1)
			s.reapLocked(false)
		}
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrNotRunning, err)
	}

	s.chunksWritten.Add(1)
	s.samplesWritten.Add(int64(len(samples)))
	return nil
}

// Flush lets the player drain its buffer, then restarts it.
func (s *ExecSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	proc := s.cmd.Process
	done := make(chan struct{})
	go func() {
		s.reapLocked(true)
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		proc.Kill()
		<-done
		if err := s.spawnLocked(); err != nil {
			return err
		}
		return ctx.Err()
	}
	return s.spawnLocked()
}

// Clear kills the player to drop buffered audio, then restarts it.
func (s *ExecSink) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.reapLocked(false)
	s.logger.Debug("audio sink cleared")
	return s.spawnLocked()
}

// Config returns the audio configuration.
func (s *ExecSink) Config() Config {
	return s.cfg
}

// Name returns the backend name.
func (s *ExecSink) Name() string {
	return string(s.backend)
}

// Close releases resources.
func (s *ExecSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.Stop()
}

// Stats returns sink statistics.
func (s *ExecSink) Stats() SinkStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return SinkStats{
		ChunksWritten:  s.chunksWritten.Load(),
		SamplesWritten: s.samplesWritten.Load(),
		Underruns:      s.underruns.Load(),
		Running:        running,
		Backend:        string(s.backend),
	}
}

var _ SinkWithStats = (*ExecSink)(nil)
