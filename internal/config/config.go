// Package config loads go-cardsense configuration from a TOML file with
// environment overrides.
//
// Precedence (lowest to highest): built-in defaults, the TOML file,
// CARDSENSE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "CARDSENSE_"

// Duration is a time.Duration that reads "500ms" style strings from TOML and env.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Log configures internal/log.
type Log struct {
	Level string `toml:"level" env:"LEVEL"`
	File  string `toml:"file" env:"FILE"`
}

// Camera configures the capture source.
type Camera struct {
	// Source is "device" (local camera), "webrtc" or "static".
	Source        string `toml:"source" env:"SOURCE"`
	FrontDevice   int    `toml:"front_device" env:"FRONT_DEVICE"`
	BackDevice    int    `toml:"back_device" env:"BACK_DEVICE"`
	Facing        string `toml:"facing" env:"FACING"`
	Width         int    `toml:"width" env:"WIDTH"`
	Height        int    `toml:"height" env:"HEIGHT"`
	Framerate     int    `toml:"framerate" env:"FRAMERATE"`
	Quality       int    `toml:"quality" env:"QUALITY"`
	SignallingURL string `toml:"signalling_url" env:"SIGNALLING_URL"`
	StaticImage   string `toml:"static_image" env:"STATIC_IMAGE"`
}

// Detector configures the detection model and gate.
type Detector struct {
	ModelPath     string   `toml:"model_path" env:"MODEL_PATH"`
	Interval      Duration `toml:"interval" env:"INTERVAL"`
	MinConfidence float64  `toml:"min_confidence" env:"MIN_CONFIDENCE"`
	NMSThreshold  float64  `toml:"nms_threshold" env:"NMS_THRESHOLD"`
	InputSize     int      `toml:"input_size" env:"INPUT_SIZE"`
}

// Cards configures the card database.
type Cards struct {
	// Database is a TOML card file; empty uses the built-in sample set.
	Database string `toml:"database" env:"DATABASE"`
}

// Audio configures the output device shared by music and speech.
type Audio struct {
	Backend        string   `toml:"backend" env:"BACKEND"`
	Device         string   `toml:"device" env:"DEVICE"`
	SampleRate     int      `toml:"sample_rate" env:"SAMPLE_RATE"`
	Channels       int      `toml:"channels" env:"CHANNELS"`
	BufferDuration Duration `toml:"buffer_duration" env:"BUFFER_DURATION"`
}

// BGM configures background music ducking.
type BGM struct {
	Track        string   `toml:"track" env:"TRACK"`
	Autoplay     bool     `toml:"autoplay" env:"AUTOPLAY"`
	NormalVolume float64  `toml:"normal_volume" env:"NORMAL_VOLUME"`
	DuckedVolume float64  `toml:"ducked_volume" env:"DUCKED_VOLUME"`
	FadeDuration Duration `toml:"fade_duration" env:"FADE_DURATION"`
}

// TTS configures the speech provider.
type TTS struct {
	// Provider is "openai", "elevenlabs" or "mock".
	Provider string  `toml:"provider" env:"PROVIDER"`
	APIKey   string  `toml:"api_key" env:"API_KEY"`
	Voice    string  `toml:"voice" env:"VOICE"`
	Model    string  `toml:"model" env:"MODEL"`
	Volume   float64 `toml:"volume" env:"VOLUME"`
	Speed    float64 `toml:"speed" env:"SPEED"`
	// Fallback chains the tone mock behind the network provider.
	Fallback bool `toml:"fallback" env:"FALLBACK"`
}

// Session holds the initial values of the externally owned settings.
type Session struct {
	ConfidenceThreshold float64 `toml:"confidence_threshold" env:"CONFIDENCE_THRESHOLD"`
	AutoSpeak           bool    `toml:"auto_speak" env:"AUTO_SPEAK"`
	TTSEnabled          bool    `toml:"tts_enabled" env:"TTS_ENABLED"`
	// AutoStart opens the camera and starts recognition once the model loads.
	AutoStart bool `toml:"auto_start" env:"AUTO_START"`
}

// Web configures the dashboard.
type Web struct {
	Enabled bool   `toml:"enabled" env:"ENABLED"`
	Port    string `toml:"port" env:"PORT"`
}

// Config is the full application configuration.
type Config struct {
	Log      Log      `toml:"log" envPrefix:"LOG_"`
	Camera   Camera   `toml:"camera" envPrefix:"CAMERA_"`
	Detector Detector `toml:"detector" envPrefix:"DETECTOR_"`
	Cards    Cards    `toml:"cards" envPrefix:"CARDS_"`
	Audio    Audio    `toml:"audio" envPrefix:"AUDIO_"`
	BGM      BGM      `toml:"bgm" envPrefix:"BGM_"`
	TTS      TTS      `toml:"tts" envPrefix:"TTS_"`
	Session  Session  `toml:"session" envPrefix:"SESSION_"`
	Web      Web      `toml:"web" envPrefix:"WEB_"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log: Log{Level: "info"},
		Camera: Camera{
			Source:      "device",
			FrontDevice: 0,
			BackDevice:  1,
			Facing:      "user",
			Width:       640,
			Height:      480,
			Framerate:   30,
			Quality:     85,
		},
		Detector: Detector{
			ModelPath:     "models/yolov8n.onnx",
			Interval:      Duration(500 * time.Millisecond),
			MinConfidence: 0.4,
			NMSThreshold:  0.45,
			InputSize:     640,
		},
		Audio: Audio{
			Backend:        "auto",
			SampleRate:     24000,
			Channels:       1,
			BufferDuration: Duration(20 * time.Millisecond),
		},
		BGM: BGM{
			Autoplay:     true,
			NormalVolume: 0.7,
			DuckedVolume: 0.2,
			FadeDuration: Duration(500 * time.Millisecond),
		},
		TTS: TTS{
			Provider: "openai",
			Voice:    "shimmer",
			Model:    "tts-1",
			Volume:   1.0,
			Fallback: true,
		},
		Session: Session{
			ConfidenceThreshold: 0.6,
			AutoSpeak:           true,
			TTSEnabled:          true,
			AutoStart:           true,
		},
		Web: Web{
			Enabled: true,
			Port:    "8080",
		},
	}
}

// Load reads path (if it exists), applies environment overrides and validates.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// Missing file: defaults plus env.
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.TTS.APIKey == "" {
		switch cfg.TTS.Provider {
		case "elevenlabs":
			cfg.TTS.APIKey = os.Getenv("ELEVENLABS_API_KEY")
		default:
			cfg.TTS.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var problems []string

	switch c.Camera.Source {
	case "device", "webrtc", "static":
	default:
		problems = append(problems, "camera.source must be device, webrtc or static")
	}
	if c.Camera.Facing != "user" && c.Camera.Facing != "environment" {
		problems = append(problems, "camera.facing must be user or environment")
	}
	if c.Camera.Source == "webrtc" && c.Camera.SignallingURL == "" {
		problems = append(problems, "camera.signalling_url is required for the webrtc source")
	}
	if c.Camera.Source == "static" && c.Camera.StaticImage == "" {
		problems = append(problems, "camera.static_image is required for the static source")
	}
	if c.Detector.Interval < 0 {
		problems = append(problems, "detector.interval must not be negative")
	}
	if c.Session.ConfidenceThreshold < 0 || c.Session.ConfidenceThreshold > 1 {
		problems = append(problems, "session.confidence_threshold must be between 0 and 1")
	}
	volumes := []struct {
		name string
		v    float64
	}{
		{"bgm.normal_volume", c.BGM.NormalVolume},
		{"bgm.ducked_volume", c.BGM.DuckedVolume},
		{"tts.volume", c.TTS.Volume},
	}
	for _, vol := range volumes {
		if vol.v < 0 || vol.v > 1 {
			problems = append(problems, vol.name+" must be between 0 and 1")
		}
	}
	if c.BGM.FadeDuration < 0 {
		problems = append(problems, "bgm.fade_duration must not be negative")
	}
	switch c.TTS.Provider {
	case "openai", "elevenlabs", "mock":
	default:
		problems = append(problems, "tts.provider must be openai, elevenlabs or mock")
	}
	if c.TTS.Speed != 0 && (c.TTS.Speed < 0.25 || c.TTS.Speed > 4) {
		problems = append(problems, "tts.speed must be between 0.25 and 4")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
