// Package web provides the control dashboard: a REST surface over the
// session, camera, recognition, music and narration, plus websocket feeds
// for status, logs and camera frames.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/teslashibe/go-cardsense/pkg/bgm"
	"github.com/teslashibe/go-cardsense/pkg/camera"
	"github.com/teslashibe/go-cardsense/pkg/cards"
	"github.com/teslashibe/go-cardsense/pkg/detection"
	"github.com/teslashibe/go-cardsense/pkg/hub"
	"github.com/teslashibe/go-cardsense/pkg/narration"
	"github.com/teslashibe/go-cardsense/pkg/pipeline"
	"github.com/teslashibe/go-cardsense/pkg/session"
)

// maxLogs is the size of the log ring buffer.
const maxLogs = 500

// Camera controls capture. *camera.Manager satisfies it.
type Camera interface {
	Start(ctx context.Context) error
	Stop() error
	Switch(ctx context.Context) error
	IsActive() bool
	IsSupported() bool
	Permission() camera.Permission
	GetConfig() camera.Config
	CaptureFrame(ctx context.Context) (camera.Frame, error)
}

// Speech is the speech provider behind narration. tts.Provider satisfies it.
type Speech interface {
	Name() string
	Health(ctx context.Context) error
}

// Recognition exposes the detector. *recognition.Service satisfies it.
type Recognition interface {
	Cards() *cards.Table
	Stats() detection.Stats
}

// Music controls background music. *bgm.Engine satisfies it.
type Music interface {
	Play() error
	Stop()
	Duck()
	Unduck()
	SetVolume(v float64)
	Resume(ctx context.Context) error
	Snapshot() bgm.ChannelState
}

// Narration controls the speech queue. *narration.Queue satisfies it.
type Narration interface {
	Speak(ctx context.Context, text string, opts narration.Options) (*narration.Request, error)
	Cancel()
	ClearQueue() int
	Pause() error
	Resume() error
	Paused() bool
	QueueLength() int
	Active() (*narration.Request, bool)
}

// Pipeline reports tick outcomes. *pipeline.Orchestrator satisfies it.
type Pipeline interface {
	Counts() map[pipeline.Outcome]int64
}

// Deps are the components the dashboard controls. Only Session is
// required; endpoints for a missing component answer 503.
type Deps struct {
	Session     *session.State
	Camera      Camera
	Recognition Recognition
	Music       Music
	Narration   Narration
	Pipeline    Pipeline
	Speech      Speech
}

// LogEntry is a log line for the dashboard.
type LogEntry struct {
	Time    string `json:"time"`
	Type    string `json:"type"` // info, detection, speech, error
	Message string `json:"message"`
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithStaticDir serves dashboard assets from dir.
func WithStaticDir(dir string) Option {
	return func(s *Server) {
		s.staticDir = dir
	}
}

// WithRefreshInterval sets how often status is pushed while clients are
// connected, so gain ramps show up between session changes.
func WithRefreshInterval(d time.Duration) Option {
	return func(s *Server) {
		s.refresh = d
	}
}

// Server is the dashboard server.
type Server struct {
	app       *fiber.App
	port      string
	deps      Deps
	logger    *slog.Logger
	staticDir string
	refresh   time.Duration

	logs   []LogEntry
	logsMu sync.RWMutex

	statusHub *hub.Hub
	logHub    *hub.Hub
	cameraHub *hub.Hub

	// dirty is signalled on every session change.
	dirty      chan struct{}
	unregister func()
}

// NewServer creates the dashboard on port.
func NewServer(port string, deps Deps, opts ...Option) *Server {
	s := &Server{
		port:    port,
		deps:    deps,
		logger:  slog.Default(),
		refresh: time.Second,
		logs:    make([]LogEntry, 0, maxLogs),
		dirty:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "web")
	s.statusHub = hub.New("status", hub.WithRetainLast(), hub.WithLogger(s.logger))
	s.logHub = hub.New("logs", hub.WithLogger(s.logger))
	s.cameraHub = hub.New("camera", hub.WithRetainLast(), hub.WithLogger(s.logger))

	// Listeners run under the session's caller; only signal here.
	s.unregister = deps.Session.OnChange(func(session.Snapshot) {
		s.markDirty()
	})

	app := fiber.New(fiber.Config{
		AppName:               "cardsense",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	app.Use(recover.New())
	app.Use(cors.New())

	if s.staticDir != "" {
		app.Static("/", s.staticDir)
	}

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/settings", s.handleGetSettings)
	api.Patch("/settings", s.handleUpdateSettings)
	api.Get("/cards", s.handleCards)
	api.Get("/logs", s.handleGetLogs)
	api.Get("/frame", s.handleFrame)

	api.Post("/camera/start", s.handleCameraStart)
	api.Post("/camera/stop", s.handleCameraStop)
	api.Post("/camera/switch", s.handleCameraSwitch)

	api.Post("/recognition/start", s.handleRecognition(true))
	api.Post("/recognition/stop", s.handleRecognition(false))

	api.Post("/music/play", s.handleMusicPlay)
	api.Post("/music/stop", s.handleMusicStop)
	api.Post("/music/duck", s.handleMusicDuck(true))
	api.Post("/music/unduck", s.handleMusicDuck(false))
	api.Post("/music/resume", s.handleMusicResume)
	api.Put("/music/volume", s.handleMusicVolume)

	api.Get("/narration/health", s.handleSpeechHealth)
	api.Post("/narration/speak", s.handleSpeak)
	api.Post("/narration/cancel", s.handleNarrationCancel)
	api.Post("/narration/clear", s.handleNarrationClear)
	api.Post("/narration/pause", s.handleNarrationPause(true))
	api.Post("/narration/resume", s.handleNarrationPause(false))

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.serveHub(s.statusHub)))
	app.Get("/ws/logs", websocket.New(s.handleLogsWS))
	app.Get("/ws/camera", websocket.New(s.serveHub(s.cameraHub)))

	s.app = app
	return s
}

// SetPipeline attaches the orchestrator after construction, for when the
// orchestrator observes this server. Call it before Start.
func (s *Server) SetPipeline(p Pipeline) {
	s.deps.Pipeline = p
}

// App returns the fiber app, e.g. for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start runs the hubs and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.runBackground(ctx)

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard listening", "url", "http://localhost:"+s.port)
		errc <- s.app.Listen(":" + s.port)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		if err := s.Shutdown(); err != nil {
			return err
		}
		return nil
	}
}

// runBackground starts the hubs and the status publisher.
func (s *Server) runBackground(ctx context.Context) {
	go s.statusHub.Run(ctx)
	go s.logHub.Run(ctx)
	go s.cameraHub.Run(ctx)
	go s.publishStatus(ctx)
}

func (s *Server) markDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

// publishStatus broadcasts the status after session changes and
// periodically while clients are connected.
func (s *Server) publishStatus(ctx context.Context) {
	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.dirty:
		case <-ticker.C:
			if s.statusHub.ClientCount() == 0 {
				continue
			}
		}
		if err := s.statusHub.BroadcastJSON(s.status()); err != nil {
			s.logger.Warn("encode status failed", "error", err)
		}
	}
}

// Shutdown stops the server and detaches from the session.
func (s *Server) Shutdown() error {
	s.unregister()
	return s.app.Shutdown()
}

// AddLog adds a log entry and broadcasts it.
func (s *Server) AddLog(logType, message string) {
	entry := LogEntry{
		Time:    time.Now().Format("15:04:05"),
		Type:    logType,
		Message: message,
	}

	s.logsMu.Lock()
	s.logs = append(s.logs, entry)
	if len(s.logs) > maxLogs {
		s.logs = s.logs[1:]
	}
	s.logsMu.Unlock()

	s.logHub.BroadcastJSON(entry)
}

// Logs returns a copy of the log buffer.
func (s *Server) Logs() []LogEntry {
	s.logsMu.RLock()
	defer s.logsMu.RUnlock()
	return append([]LogEntry(nil), s.logs...)
}

// OnFrame forwards captured frames to camera viewers.
func (s *Server) OnFrame(frame camera.Frame) {
	if s.cameraHub.ClientCount() > 0 {
		s.cameraHub.BroadcastBinary(frame.JPEG)
	}
}

// OnRecognized logs recognized cards.
func (s *Server) OnRecognized(result detection.Result, outcome pipeline.Outcome) {
	s.AddLog("detection", fmt.Sprintf("%s (%.0f%%) %s", result.Label, result.Confidence*100, outcome))
}

var _ pipeline.Observer = (*Server)(nil)

func (s *Server) serveHub(h *hub.Hub) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		client := hub.NewClient(h, c)
		if client == nil {
			return
		}
		client.Run()
	}
}

// handleLogsWS replays recent logs, then streams new ones.
func (s *Server) handleLogsWS(c *websocket.Conn) {
	for _, entry := range s.Logs() {
		if err := c.WriteJSON(entry); err != nil {
			return
		}
	}
	s.serveHub(s.logHub)(c)
}

// handleError renders errors as JSON.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
