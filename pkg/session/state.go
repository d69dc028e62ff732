// Package session holds the shared state of one recognition session:
// camera and model readiness, whether recognition and narration are running,
// the last detection and the user-tunable settings.
//
// Every component reads and writes the session through State's methods,
// which enforce that recognition only runs while the camera and model are
// both ready.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/teslashibe/go-cardsense/pkg/detection"
)

// Sentinel errors for common error conditions.
var (
	// ErrNotReady is returned when enabling recognition without an active
	// camera and a loaded model.
	ErrNotReady = errors.New("session: camera and model must be ready")

	// ErrInvalidSettings is returned for out of range settings.
	ErrInvalidSettings = errors.New("session: invalid settings")
)

// Settings are the values the user can change while the session runs.
type Settings struct {
	DetectionInterval   time.Duration
	ConfidenceThreshold float64
	AutoSpeak           bool
}

// DefaultSettings returns 500ms, 0.6 and auto-speak on.
func DefaultSettings() Settings {
	return Settings{
		DetectionInterval:   500 * time.Millisecond,
		ConfidenceThreshold: 0.6,
		AutoSpeak:           true,
	}
}

// Validate checks value ranges.
func (s Settings) Validate() error {
	if s.DetectionInterval < 0 {
		return fmt.Errorf("%w: detection interval must not be negative", ErrInvalidSettings)
	}
	if s.ConfidenceThreshold < 0 || s.ConfidenceThreshold > 1 {
		return fmt.Errorf("%w: confidence threshold must be between 0 and 1", ErrInvalidSettings)
	}
	return nil
}

// SettingsUpdate is a partial update; nil fields are left unchanged.
type SettingsUpdate struct {
	DetectionInterval   *time.Duration
	ConfidenceThreshold *float64
	AutoSpeak           *bool
}

// Snapshot is a consistent copy of the session.
type Snapshot struct {
	CameraActive      bool
	CameraError       string
	ModelLoading      bool
	ModelLoaded       bool
	RecognitionActive bool
	Speaking          bool
	BGMPlaying        bool
	BGMVolume         float64
	TTSEnabled        bool

	// LastDetection is nil until something was detected.
	LastDetection   *detection.Result
	LastDetectionAt time.Time

	Settings Settings

	Ready     bool
	CanDetect bool
}

// State is the session state. The zero value is not usable; call New.
type State struct {
	clock func() time.Time

	mu   sync.RWMutex
	snap Snapshot

	listenersMu sync.Mutex
	listeners   map[int]func(Snapshot)
	nextID      int
}

// New creates a session with the given initial settings.
func New(settings Settings) *State {
	return &State{
		clock: time.Now,
		snap: Snapshot{
			BGMVolume:  0.7,
			TTSEnabled: true,
			Settings:   settings,
		},
		listeners: make(map[int]func(Snapshot)),
	}
}

// SetClock overrides the detection timestamp source.
func (s *State) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

// OnChange registers fn to be called with a snapshot after every change.
// fn runs on the goroutine that made the change and must not block.
// The returned function unregisters it.
func (s *State) OnChange(fn func(Snapshot)) (unregister func()) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		delete(s.listeners, id)
	}
}

// update applies fn under the lock, keeps the derived flags current and
// notifies listeners if anything changed.
func (s *State) update(fn func(*Snapshot) error) error {
	s.mu.Lock()
	before := s.snap
	if err := fn(&s.snap); err != nil {
		s.mu.Unlock()
		return err
	}
	// Recognition never outlives its preconditions.
	if !s.snap.CameraActive || !s.snap.ModelLoaded {
		s.snap.RecognitionActive = false
	}
	s.snap.Ready = s.snap.CameraActive && s.snap.ModelLoaded
	s.snap.CanDetect = s.snap.Ready && s.snap.RecognitionActive && !s.snap.Speaking
	after := s.copyLocked()
	changed := !equal(before, s.snap)
	s.mu.Unlock()

	if changed {
		s.notify(after)
	}
	return nil
}

func (s *State) notify(snap Snapshot) {
	s.listenersMu.Lock()
	fns := make([]func(Snapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func equal(a, b Snapshot) bool {
	if (a.LastDetection == nil) != (b.LastDetection == nil) {
		return false
	}
	if a.LastDetection != nil && *a.LastDetection != *b.LastDetection {
		return false
	}
	a.LastDetection, b.LastDetection = nil, nil
	return a == b
}

func (s *State) copyLocked() Snapshot {
	snap := s.snap
	if snap.LastDetection != nil {
		d := *snap.LastDetection
		snap.LastDetection = &d
	}
	return snap
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyLocked()
}

// SetCameraActive records the camera state. Activating clears any camera
// error; deactivating stops recognition.
func (s *State) SetCameraActive(active bool) {
	s.update(func(st *Snapshot) error {
		st.CameraActive = active
		if active {
			st.CameraError = ""
		}
		return nil
	})
}

// SetCameraError records a user-facing camera error. A non-empty error
// marks the camera inactive.
func (s *State) SetCameraError(msg string) {
	s.update(func(st *Snapshot) error {
		st.CameraError = msg
		if msg != "" {
			st.CameraActive = false
		}
		return nil
	})
}

// SetModelLoading records that the model is loading.
func (s *State) SetModelLoading(loading bool) {
	s.update(func(st *Snapshot) error {
		st.ModelLoading = loading
		return nil
	})
}

// SetModelLoaded records the model state. Unloading stops recognition.
func (s *State) SetModelLoaded(loaded bool) {
	s.update(func(st *Snapshot) error {
		st.ModelLoaded = loaded
		if loaded {
			st.ModelLoading = false
		}
		return nil
	})
}

// SetRecognitionActive starts or stops recognition. Starting fails with
// ErrNotReady unless the camera is active and the model loaded.
func (s *State) SetRecognitionActive(active bool) error {
	return s.update(func(st *Snapshot) error {
		if active && !(st.CameraActive && st.ModelLoaded) {
			return ErrNotReady
		}
		st.RecognitionActive = active
		return nil
	})
}

// SetSpeaking records whether narration is in progress. Only the
// narration queue calls it.
func (s *State) SetSpeaking(speaking bool) {
	s.update(func(st *Snapshot) error {
		st.Speaking = speaking
		return nil
	})
}

// SetBGMPlaying records whether background music is playing.
func (s *State) SetBGMPlaying(playing bool) {
	s.update(func(st *Snapshot) error {
		st.BGMPlaying = playing
		return nil
	})
}

// SetBGMVolume records the music volume, clamped to [0, 1].
func (s *State) SetBGMVolume(v float64) {
	s.update(func(st *Snapshot) error {
		st.BGMVolume = max(0, min(1, v))
		return nil
	})
}

// SetTTSEnabled turns narration on or off.
func (s *State) SetTTSEnabled(enabled bool) {
	s.update(func(st *Snapshot) error {
		st.TTSEnabled = enabled
		return nil
	})
}

// RecordDetection stores r as the last detection, stamped with the session clock.
func (s *State) RecordDetection(r detection.Result) {
	s.update(func(st *Snapshot) error {
		st.LastDetection = &r
		st.LastDetectionAt = s.clock()
		return nil
	})
}

// ClearDetection forgets the last detection.
func (s *State) ClearDetection() {
	s.update(func(st *Snapshot) error {
		st.LastDetection = nil
		st.LastDetectionAt = s.clock()
		return nil
	})
}

// UpdateSettings applies a partial settings update. The whole update is
// rejected if the result is out of range.
func (s *State) UpdateSettings(u SettingsUpdate) error {
	return s.update(func(st *Snapshot) error {
		next := st.Settings
		if u.DetectionInterval != nil {
			next.DetectionInterval = *u.DetectionInterval
		}
		if u.ConfidenceThreshold != nil {
			next.ConfidenceThreshold = *u.ConfidenceThreshold
		}
		if u.AutoSpeak != nil {
			next.AutoSpeak = *u.AutoSpeak
		}
		if err := next.Validate(); err != nil {
			return err
		}
		st.Settings = next
		return nil
	})
}

// Reset returns the runtime flags to their initial values. Settings,
// model state, music volume and the TTS switch are kept. Speaking is
// left to the narration queue; cancel the queue to clear it.
func (s *State) Reset() {
	s.update(func(st *Snapshot) error {
		st.CameraActive = false
		st.CameraError = ""
		st.BGMPlaying = false
		st.RecognitionActive = false
		st.LastDetection = nil
		return nil
	})
}

// Settings returns the current settings.
func (s *State) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Settings
}

// IsReady reports whether the camera is active and the model loaded.
func (s *State) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Ready
}

// CanDetect reports whether a detection cycle may run now.
func (s *State) CanDetect() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.CanDetect
}

// RecognitionActive reports whether recognition is on.
func (s *State) RecognitionActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.RecognitionActive
}

// ModelLoaded reports whether the model is loaded.
func (s *State) ModelLoaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.ModelLoaded
}

// Speaking reports whether narration is in progress.
func (s *State) Speaking() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Speaking
}

// TTSEnabled reports whether narration is switched on.
func (s *State) TTSEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.TTSEnabled
}
