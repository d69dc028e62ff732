// Package app wires the cardsense components together from a
// config.Config and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-cardsense/internal/config"
	"github.com/teslashibe/go-cardsense/pkg/audioio"
	"github.com/teslashibe/go-cardsense/pkg/bgm"
	"github.com/teslashibe/go-cardsense/pkg/camera"
	"github.com/teslashibe/go-cardsense/pkg/camera/opencv"
	"github.com/teslashibe/go-cardsense/pkg/cards"
	"github.com/teslashibe/go-cardsense/pkg/detection"
	"github.com/teslashibe/go-cardsense/pkg/detection/yolo"
	"github.com/teslashibe/go-cardsense/pkg/narration"
	"github.com/teslashibe/go-cardsense/pkg/pipeline"
	"github.com/teslashibe/go-cardsense/pkg/recognition"
	"github.com/teslashibe/go-cardsense/pkg/session"
	"github.com/teslashibe/go-cardsense/pkg/tts"
	"github.com/teslashibe/go-cardsense/pkg/video"
	"github.com/teslashibe/go-cardsense/pkg/web"
)

// Option overrides a component the config would otherwise build.
type Option func(*App)

// WithSource sets the capture source.
func WithSource(src camera.Source) Option {
	return func(a *App) {
		a.source = src
	}
}

// WithLoader sets the detection model loader.
func WithLoader(loader detection.Loader) Option {
	return func(a *App) {
		a.loader = loader
	}
}

// WithSpeechProvider sets the TTS provider.
func WithSpeechProvider(p tts.Provider) Option {
	return func(a *App) {
		a.speech = p
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) {
		a.logger = logger
	}
}

// App is the cardsense application.
// It manages all components and their lifecycle.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	session *session.State

	// Vision
	source      camera.Source
	camera      *camera.Manager
	loader      detection.Loader
	recognition *recognition.Service

	// Audio
	speechSink audioio.Sink
	musicSink  audioio.Sink
	music      *bgm.Engine
	speech     tts.Provider
	queue      *narration.Queue

	pipeline *pipeline.Orchestrator
	web      *web.Server
}

// New creates an application for cfg.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "app")
	return a, nil
}

// Init builds every component. Call this after New and before Run.
// Camera, model and audio failures are logged and leave that part
// unavailable; only configuration errors are returned.
func (a *App) Init(ctx context.Context) error {
	cfg := a.cfg

	settings := session.DefaultSettings()
	settings.DetectionInterval = cfg.Detector.Interval.Std()
	settings.ConfidenceThreshold = cfg.Session.ConfidenceThreshold
	settings.AutoSpeak = cfg.Session.AutoSpeak
	a.session = session.New(settings)
	a.session.SetTTSEnabled(cfg.Session.TTSEnabled)

	if err := a.initCamera(); err != nil {
		return fmt.Errorf("camera init: %w", err)
	}
	if err := a.initRecognition(ctx); err != nil {
		return fmt.Errorf("recognition init: %w", err)
	}
	if err := a.initMusic(ctx); err != nil {
		return fmt.Errorf("music init: %w", err)
	}
	if err := a.initNarration(ctx); err != nil {
		return fmt.Errorf("narration init: %w", err)
	}

	popts := []pipeline.Option{
		pipeline.WithNarrationOptions(narration.Options{Volume: cfg.TTS.Volume}),
		pipeline.WithLogger(a.logger),
	}
	if cfg.Web.Enabled {
		a.web = web.NewServer(cfg.Web.Port, web.Deps{
			Session:     a.session,
			Camera:      a.camera,
			Recognition: a.recognition,
			Music:       a.music,
			Narration:   a.queue,
			Speech:      a.speech,
		}, web.WithLogger(a.logger))
		popts = append(popts, pipeline.WithObserver(a.web))
	}
	a.pipeline = pipeline.New(a.session, a.camera, a.recognition, a.queue, popts...)
	if a.web != nil {
		a.web.SetPipeline(a.pipeline)
	}

	if cfg.Session.AutoStart {
		a.autoStart(ctx)
	}
	return nil
}

func (a *App) initCamera() error {
	cfg := a.cfg.Camera
	if a.source == nil {
		switch cfg.Source {
		case "device":
			a.source = opencv.New(a.logger)
		case "webrtc":
			a.source = video.New(
				video.WithSignallingURL(cfg.SignallingURL),
				video.WithLogger(a.logger),
			)
		case "static":
			src, err := camera.NewStaticFile(cfg.StaticImage)
			if err != nil {
				return err
			}
			a.source = src
		}
	}

	camCfg := camera.DefaultConfig()
	camCfg.Width, camCfg.Height = cfg.Width, cfg.Height
	camCfg.Framerate, camCfg.Quality = cfg.Framerate, cfg.Quality
	camCfg.Facing = cfg.Facing
	camCfg.FrontDevice, camCfg.BackDevice = cfg.FrontDevice, cfg.BackDevice
	if problems := camCfg.Validate(); len(problems) > 0 {
		return fmt.Errorf("invalid camera config: %v", problems)
	}

	a.camera = camera.NewManager(a.source, camCfg, a.session, a.logger)
	a.logger.Info("camera configured", "source", a.source.Name(), "width", camCfg.Width, "height", camCfg.Height)
	if !a.camera.IsSupported() {
		a.logger.Warn("no capture device found")
	} else if perm := a.camera.Permission(); perm == camera.PermissionDenied {
		a.logger.Warn("camera access denied", "permission", perm)
	}
	return nil
}

func (a *App) initRecognition(ctx context.Context) error {
	cfg := a.cfg.Detector
	if a.loader == nil {
		ycfg := yolo.DefaultConfig()
		ycfg.ModelPath = cfg.ModelPath
		ycfg.ConfidenceThresh = float32(cfg.MinConfidence)
		ycfg.NMSThresh = float32(cfg.NMSThreshold)
		ycfg.InputWidth, ycfg.InputHeight = cfg.InputSize, cfg.InputSize
		a.loader = yolo.Loader(ycfg)
	}

	adapter := detection.NewAdapter(a.loader,
		detection.WithInterval(cfg.Interval.Std()),
		detection.WithMinConfidence(cfg.MinConfidence),
		detection.WithLogger(a.logger),
	)
	a.recognition = recognition.New(adapter,
		recognition.WithModelState(a.session),
		recognition.WithThreshold(a.cfg.Session.ConfidenceThreshold),
		recognition.WithLogger(a.logger),
	)

	table, err := cards.Load(a.cfg.Cards.Database)
	if err != nil {
		return err
	}
	a.recognition.LoadCardDatabase(table)
	a.logger.Info("card database loaded", "cards", table.Len())

	if err := a.recognition.Initialize(ctx); err != nil {
		a.logger.Error("model failed to load, recognition unavailable", "error", err)
	}
	return nil
}

// AudioConfig converts the audio section into a sink configuration.
func AudioConfig(audio config.Audio) audioio.Config {
	cfg := audioio.DefaultConfig()
	cfg.Backend = audioio.Backend(audio.Backend)
	cfg.Device = audio.Device
	cfg.SampleRate = audio.SampleRate
	cfg.Channels = audio.Channels
	cfg.BufferDuration = audio.BufferDuration.Std()
	return cfg
}

// initMusic builds the background music engine on its own output so
// speech and music mix in the system mixer.
func (a *App) initMusic(ctx context.Context) error {
	sink, err := audioio.NewSink(AudioConfig(a.cfg.Audio), a.logger)
	if err != nil {
		return err
	}

	a.musicSink = sink

	cfg := a.cfg.BGM
	a.music = bgm.NewEngine(sink,
		bgm.WithNormalVolume(cfg.NormalVolume),
		bgm.WithDuckedVolume(cfg.DuckedVolume),
		bgm.WithFadeDuration(cfg.FadeDuration.Std()),
		bgm.WithLogger(a.logger),
	)
	a.session.SetBGMVolume(cfg.NormalVolume)

	if err := a.music.Initialize(ctx); err != nil {
		a.logger.Error("music output unavailable", "error", err)
		return nil
	}
	if cfg.Track == "" {
		return nil
	}
	if err := a.music.LoadTrack(ctx, cfg.Track); err != nil {
		a.logger.Error("background track failed to load", "track", cfg.Track, "error", err)
		return nil
	}
	if cfg.Autoplay {
		if err := a.music.Play(); err != nil {
			a.logger.Warn("background music did not start", "error", err)
		}
	}
	a.session.SetBGMPlaying(a.music.Playing())
	return nil
}

func (a *App) initNarration(ctx context.Context) error {
	if a.speech == nil {
		p, err := NewSpeechProvider(a.cfg.TTS, a.logger)
		if err != nil {
			return err
		}
		a.speech = p
	}

	sink, err := audioio.NewSink(AudioConfig(a.cfg.Audio), a.logger)
	if err != nil {
		return err
	}
	a.speechSink = sink

	channel := narration.NewTTSChannel(a.speech, sink, a.logger)
	a.queue = narration.NewQueue(channel,
		narration.WithDucker(a.music),
		narration.WithSpeakingSink(a.session),
		narration.WithLogger(a.logger),
	)
	a.logger.Info("narration ready", "provider", a.speech.Name())

	hctx, cancel := context.WithTimeout(ctx, speechHealthTimeout)
	defer cancel()
	if err := a.speech.Health(hctx); err != nil {
		a.logger.Warn("speech provider unhealthy", "provider", a.speech.Name(), "error", err)
	}
	return nil
}

const speechHealthTimeout = 5 * time.Second

// NewSpeechProvider builds the configured provider. With Fallback set the
// tone mock backs up the network provider, and stands in for it when no
// API key is configured.
func NewSpeechProvider(cfg config.TTS, logger *slog.Logger) (tts.Provider, error) {
	if cfg.Provider == "mock" {
		return tts.NewMock(), nil
	}

	opts := []tts.Option{
		tts.WithAPIKey(cfg.APIKey),
		tts.WithLogger(logger),
	}
	if cfg.Voice != "" {
		opts = append(opts, tts.WithVoice(cfg.Voice))
	}
	if cfg.Model != "" {
		opts = append(opts, tts.WithModel(cfg.Model))
	}
	if cfg.Speed > 0 {
		opts = append(opts, tts.WithSpeed(cfg.Speed))
	}

	var primary tts.Provider
	var err error
	switch cfg.Provider {
	case "elevenlabs":
		primary, err = tts.NewElevenLabs(opts...)
	default:
		primary, err = tts.NewOpenAI(opts...)
	}
	if err != nil {
		if !cfg.Fallback {
			return nil, err
		}
		logger.Warn("speech provider unavailable, using tone fallback", "provider", cfg.Provider, "error", err)
		return tts.NewMock(), nil
	}
	if !cfg.Fallback {
		return primary, nil
	}
	return tts.NewChainWithLogger(logger, primary, tts.NewMock())
}

// autoStart opens the camera and, when the model is loaded, starts recognition.
func (a *App) autoStart(ctx context.Context) {
	if err := a.camera.Start(ctx); err != nil {
		a.logger.Warn("camera did not start", "error", camera.UserMessage(err))
		return
	}
	if err := a.session.SetRecognitionActive(true); err != nil {
		a.logger.Warn("recognition not started", "error", err)
	}
}

// Session returns the session state.
func (a *App) Session() *session.State {
	return a.session
}

// Queue returns the narration queue.
func (a *App) Queue() *narration.Queue {
	return a.queue
}

// Run drives detection ticks and, when enabled, the dashboard until ctx
// is done.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	webErr := make(chan error, 1)
	if a.web != nil {
		go func() {
			webErr <- a.web.Start(ctx)
		}()
		a.web.AddLog("info", "cardsense started")
	}

	// Ticks arrive at the frame rate; the adapter gate enforces the
	// detection interval.
	ticker := time.NewTicker(time.Second / time.Duration(max(a.cfg.Camera.Framerate, 1)))
	defer ticker.Stop()

	runErr := make(chan error, 1)
	go func() {
		runErr <- a.pipeline.Run(ctx, ticker.C)
	}()

	select {
	case err := <-webErr:
		cancel()
		<-runErr
		if err != nil {
			return fmt.Errorf("dashboard: %w", err)
		}
		return nil
	case err := <-runErr:
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
}

// Shutdown releases every component. It is safe to call after a failed Init.
func (a *App) Shutdown() {
	a.logger.Info("shutting down")

	if a.queue != nil {
		a.queue.Close()
	}
	if a.camera != nil {
		a.camera.Stop()
	}
	if a.recognition != nil {
		a.recognition.Dispose()
	}
	if a.music != nil {
		a.music.Dispose()
	}
	if a.musicSink != nil {
		a.musicSink.Close()
	}
	if a.speechSink != nil {
		a.speechSink.Close()
	}
	if a.speech != nil {
		a.speech.Close()
	}
}
