package web

import (
	"time"

	"github.com/teslashibe/go-cardsense/pkg/bgm"
	"github.com/teslashibe/go-cardsense/pkg/detection"
	"github.com/teslashibe/go-cardsense/pkg/pipeline"
	"github.com/teslashibe/go-cardsense/pkg/session"
)

// Status is the dashboard view of the whole system.
type Status struct {
	Camera        CameraStatus              `json:"camera"`
	Model         ModelStatus               `json:"model"`
	Recognition   RecognitionStatus         `json:"recognition"`
	Narration     NarrationStatus           `json:"narration"`
	Music         *bgm.ChannelState         `json:"music,omitempty"`
	LastDetection *DetectionStatus          `json:"last_detection,omitempty"`
	Settings      Settings                  `json:"settings"`
	Outcomes      map[pipeline.Outcome]int64 `json:"outcomes,omitempty"`
}

// CameraStatus describes capture.
type CameraStatus struct {
	Active     bool   `json:"active"`
	Supported  bool   `json:"supported"`
	Permission string `json:"permission,omitempty"`
	Error      string `json:"error,omitempty"`
	Facing     string `json:"facing,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
}

// ModelStatus describes the detection model.
type ModelStatus struct {
	Loading bool             `json:"loading"`
	Loaded  bool             `json:"loaded"`
	Stats   *detection.Stats `json:"stats,omitempty"`
}

// RecognitionStatus describes the detection loop.
type RecognitionStatus struct {
	Active    bool `json:"active"`
	Ready     bool `json:"ready"`
	CanDetect bool `json:"can_detect"`
}

// NarrationStatus describes speech.
type NarrationStatus struct {
	Enabled     bool   `json:"enabled"`
	Speaking    bool   `json:"speaking"`
	Paused      bool   `json:"paused"`
	QueueLength int    `json:"queue_length"`
	Current     string `json:"current,omitempty"`
}

// DetectionStatus is the last recognized card.
type DetectionStatus struct {
	detection.Result
	At time.Time `json:"at"`
}

// Settings is the JSON form of session.Settings.
type Settings struct {
	DetectionIntervalMS int64   `json:"detection_interval_ms"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	AutoSpeak           bool    `json:"auto_speak"`
	TTSEnabled          bool    `json:"tts_enabled"`
}

// SettingsUpdate is the PATCH /api/settings body. Omitted fields are unchanged.
type SettingsUpdate struct {
	DetectionIntervalMS *int64   `json:"detection_interval_ms"`
	ConfidenceThreshold *float64 `json:"confidence_threshold"`
	AutoSpeak           *bool    `json:"auto_speak"`
	TTSEnabled          *bool    `json:"tts_enabled"`
}

func settingsFrom(snap session.Snapshot) Settings {
	return Settings{
		DetectionIntervalMS: snap.Settings.DetectionInterval.Milliseconds(),
		ConfidenceThreshold: snap.Settings.ConfidenceThreshold,
		AutoSpeak:           snap.Settings.AutoSpeak,
		TTSEnabled:          snap.TTSEnabled,
	}
}

// status assembles the current Status. It must not be called from a
// session or queue callback.
func (s *Server) status() Status {
	snap := s.deps.Session.Snapshot()

	st := Status{
		Camera: CameraStatus{
			Active: snap.CameraActive,
			Error:  snap.CameraError,
		},
		Model: ModelStatus{
			Loading: snap.ModelLoading,
			Loaded:  snap.ModelLoaded,
		},
		Recognition: RecognitionStatus{
			Active:    snap.RecognitionActive,
			Ready:     snap.Ready,
			CanDetect: snap.CanDetect,
		},
		Narration: NarrationStatus{
			Enabled:  snap.TTSEnabled,
			Speaking: snap.Speaking,
		},
		Settings: settingsFrom(snap),
	}

	if cam := s.deps.Camera; cam != nil {
		cfg := cam.GetConfig()
		st.Camera.Supported = cam.IsSupported()
		st.Camera.Permission = string(cam.Permission())
		st.Camera.Facing = cfg.Facing
		st.Camera.Width, st.Camera.Height = cfg.Width, cfg.Height
	}
	if rec := s.deps.Recognition; rec != nil {
		stats := rec.Stats()
		st.Model.Stats = &stats
	}
	if q := s.deps.Narration; q != nil {
		st.Narration.Paused = q.Paused()
		st.Narration.QueueLength = q.QueueLength()
		if req, ok := q.Active(); ok {
			st.Narration.Current = req.Text
		}
	}
	if m := s.deps.Music; m != nil {
		music := m.Snapshot()
		st.Music = &music
	}
	if snap.LastDetection != nil {
		st.LastDetection = &DetectionStatus{Result: *snap.LastDetection, At: snap.LastDetectionAt}
	}
	if p := s.deps.Pipeline; p != nil {
		st.Outcomes = p.Counts()
	}
	return st
}
