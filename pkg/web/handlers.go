package web

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/teslashibe/go-cardsense/pkg/camera"
	"github.com/teslashibe/go-cardsense/pkg/narration"
	"github.com/teslashibe/go-cardsense/pkg/session"
)

var errUnavailable = fiber.NewError(fiber.StatusServiceUnavailable, "component not configured")

const speechHealthTimeout = 5 * time.Second

// handleStatus returns the system status
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.status())
}

func (s *Server) handleGetSettings(c *fiber.Ctx) error {
	return c.JSON(settingsFrom(s.deps.Session.Snapshot()))
}

// handleUpdateSettings applies a partial settings update
func (s *Server) handleUpdateSettings(c *fiber.Ctx) error {
	var req SettingsUpdate
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body: "+err.Error())
	}

	update := session.SettingsUpdate{
		ConfidenceThreshold: req.ConfidenceThreshold,
		AutoSpeak:           req.AutoSpeak,
	}
	if req.DetectionIntervalMS != nil {
		d := time.Duration(*req.DetectionIntervalMS) * time.Millisecond
		update.DetectionInterval = &d
	}
	if err := s.deps.Session.UpdateSettings(update); err != nil {
		if errors.Is(err, session.ErrInvalidSettings) {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return err
	}
	if req.TTSEnabled != nil {
		s.deps.Session.SetTTSEnabled(*req.TTSEnabled)
	}

	return c.JSON(settingsFrom(s.deps.Session.Snapshot()))
}

// handleCards lists the card database
func (s *Server) handleCards(c *fiber.Ctx) error {
	if s.deps.Recognition == nil {
		return errUnavailable
	}
	return c.JSON(s.deps.Recognition.Cards().Cards())
}

// handleGetLogs returns recent log entries
func (s *Server) handleGetLogs(c *fiber.Ctx) error {
	return c.JSON(s.Logs())
}

// handleFrame returns the current camera frame as JPEG
func (s *Server) handleFrame(c *fiber.Ctx) error {
	if s.deps.Camera == nil {
		return errUnavailable
	}
	frame, err := s.deps.Camera.CaptureFrame(c.UserContext())
	if err != nil {
		return cameraError(err)
	}
	c.Set(fiber.HeaderContentType, "image/jpeg")
	return c.Send(frame.JPEG)
}

// cameraError maps camera failures onto statuses with the user-facing message.
func cameraError(err error) error {
	var perm *camera.PermissionError
	switch {
	case errors.As(err, &perm):
		return fiber.NewError(fiber.StatusForbidden, camera.UserMessage(err))
	case errors.Is(err, camera.ErrNotActive), errors.Is(err, camera.ErrNoFrame):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return fiber.NewError(fiber.StatusServiceUnavailable, camera.UserMessage(err))
	}
}

func (s *Server) handleCameraStart(c *fiber.Ctx) error {
	if s.deps.Camera == nil {
		return errUnavailable
	}
	if err := s.deps.Camera.Start(c.UserContext()); err != nil {
		s.AddLog("error", camera.UserMessage(err))
		return cameraError(err)
	}
	s.AddLog("info", "camera started")
	return c.JSON(s.status().Camera)
}

func (s *Server) handleCameraStop(c *fiber.Ctx) error {
	if s.deps.Camera == nil {
		return errUnavailable
	}
	if err := s.deps.Camera.Stop(); err != nil {
		return err
	}
	s.AddLog("info", "camera stopped")
	return c.JSON(s.status().Camera)
}

func (s *Server) handleCameraSwitch(c *fiber.Ctx) error {
	if s.deps.Camera == nil {
		return errUnavailable
	}
	if err := s.deps.Camera.Switch(c.UserContext()); err != nil {
		return cameraError(err)
	}
	return c.JSON(s.status().Camera)
}

// handleRecognition starts or stops the detection loop
func (s *Server) handleRecognition(active bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := s.deps.Session.SetRecognitionActive(active); err != nil {
			if errors.Is(err, session.ErrNotReady) {
				return fiber.NewError(fiber.StatusConflict, err.Error())
			}
			return err
		}
		if active {
			s.AddLog("info", "recognition started")
		} else {
			s.AddLog("info", "recognition stopped")
		}
		return c.JSON(s.status().Recognition)
	}
}

func (s *Server) handleMusicPlay(c *fiber.Ctx) error {
	if s.deps.Music == nil {
		return errUnavailable
	}
	if err := s.deps.Music.Play(); err != nil {
		return fiber.NewError(fiber.StatusConflict, err.Error())
	}
	return s.musicStatus(c)
}

func (s *Server) handleMusicStop(c *fiber.Ctx) error {
	if s.deps.Music == nil {
		return errUnavailable
	}
	s.deps.Music.Stop()
	return s.musicStatus(c)
}

func (s *Server) handleMusicDuck(duck bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if s.deps.Music == nil {
			return errUnavailable
		}
		if duck {
			s.deps.Music.Duck()
		} else {
			s.deps.Music.Unduck()
		}
		return s.musicStatus(c)
	}
}

func (s *Server) handleMusicResume(c *fiber.Ctx) error {
	if s.deps.Music == nil {
		return errUnavailable
	}
	if err := s.deps.Music.Resume(c.UserContext()); err != nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	}
	return s.musicStatus(c)
}

// VolumeRequest is the PUT /api/music/volume body.
type VolumeRequest struct {
	Volume *float64 `json:"volume"`
}

func (s *Server) handleMusicVolume(c *fiber.Ctx) error {
	if s.deps.Music == nil {
		return errUnavailable
	}
	var req VolumeRequest
	if err := c.BodyParser(&req); err != nil || req.Volume == nil {
		return fiber.NewError(fiber.StatusBadRequest, "volume is required")
	}
	s.deps.Music.SetVolume(*req.Volume)
	return s.musicStatus(c)
}

// musicStatus mirrors the engine into the session and returns its snapshot.
func (s *Server) musicStatus(c *fiber.Ctx) error {
	snap := s.deps.Music.Snapshot()
	s.deps.Session.SetBGMPlaying(snap.Playing)
	s.deps.Session.SetBGMVolume(snap.Volume)
	return c.JSON(snap)
}

// SpeakRequest is the POST /api/narration/speak body.
type SpeakRequest struct {
	Text   string   `json:"text"`
	Volume *float64 `json:"volume"`
	Rate   float64  `json:"rate"`
}

// handleSpeak queues text for narration
func (s *Server) handleSpeak(c *fiber.Ctx) error {
	if s.deps.Narration == nil {
		return errUnavailable
	}
	var req SpeakRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body: "+err.Error())
	}

	opts := narration.DefaultOptions()
	if req.Volume != nil {
		opts.Volume = *req.Volume
	}
	opts.Rate = req.Rate
	r, err := s.deps.Narration.Speak(c.UserContext(), req.Text, opts)
	switch {
	case errors.Is(err, narration.ErrEmptyText):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, narration.ErrClosed):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	case err != nil:
		return err
	}

	s.AddLog("speech", r.Text)
	return c.Status(fiber.StatusAccepted).JSON(r)
}

// SpeechHealth is the GET /api/narration/health response.
type SpeechHealth struct {
	Provider string `json:"provider"`
	Healthy  bool   `json:"healthy"`
	Error    string `json:"error,omitempty"`
}

// handleSpeechHealth checks the speech provider. An unhealthy provider
// answers 502 with the provider error.
func (s *Server) handleSpeechHealth(c *fiber.Ctx) error {
	if s.deps.Speech == nil {
		return errUnavailable
	}
	ctx, cancel := context.WithTimeout(c.UserContext(), speechHealthTimeout)
	defer cancel()

	res := SpeechHealth{Provider: s.deps.Speech.Name(), Healthy: true}
	if err := s.deps.Speech.Health(ctx); err != nil {
		res.Healthy = false
		res.Error = err.Error()
		return c.Status(fiber.StatusBadGateway).JSON(res)
	}
	return c.JSON(res)
}

func (s *Server) handleNarrationCancel(c *fiber.Ctx) error {
	if s.deps.Narration == nil {
		return errUnavailable
	}
	s.deps.Narration.Cancel()
	return c.JSON(s.status().Narration)
}

func (s *Server) handleNarrationClear(c *fiber.Ctx) error {
	if s.deps.Narration == nil {
		return errUnavailable
	}
	n := s.deps.Narration.ClearQueue()
	return c.JSON(fiber.Map{"cleared": n})
}

func (s *Server) handleNarrationPause(pause bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if s.deps.Narration == nil {
			return errUnavailable
		}
		var err error
		if pause {
			err = s.deps.Narration.Pause()
		} else {
			err = s.deps.Narration.Resume()
		}
		if errors.Is(err, narration.ErrPauseUnsupported) {
			return fiber.NewError(fiber.StatusNotImplemented, err.Error())
		}
		if err != nil {
			return err
		}
		return c.JSON(s.status().Narration)
	}
}
