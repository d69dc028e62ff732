package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teslashibe/go-cardsense/internal/httpc"
)

const (
	elevenLabsBaseURL  = "https://api.elevenlabs.io/v1"
	providerElevenLabs = "elevenlabs"
)

// ElevenLabs model IDs
const (
	// ModelFlashV2_5 is the fastest multilingual model (~150ms latency).
	ModelFlashV2_5 = "eleven_flash_v2_5"

	// ModelTurboV2_5 is the fastest English model (~200ms latency).
	ModelTurboV2_5 = "eleven_turbo_v2_5"

	// ModelMultilingualV2 is the highest quality multilingual model (~300ms latency).
	ModelMultilingualV2 = "eleven_multilingual_v2"
)

// ElevenLabsVoices maps preset names to ElevenLabs voice IDs.
var ElevenLabsVoices = map[string]string{
	"charlotte": "XB0fDUnXU5powFXDhCwa", // British female, warm
	"aria":      "9BWtsMINqrJLrRacOk9x", // American female, expressive
	"sarah":     "EXAVITQu4vr4xnSDxMaL", // American female, soft
	"lily":      "pFZP5JQG7iQjIQuC4Bku", // British female, warm
	"rachel":    "21m00Tcm4TlvDq8ikWAM", // American female, calm
	"josh":      "TxGEqnHWrfWFTfGW9XjX", // American male, deep
	"adam":      "pNInz6obpgDQGcFmaJgB", // American male, deep
}

// DefaultElevenLabsVoice is the default voice preset.
const DefaultElevenLabsVoice = "charlotte"

// ResolveElevenLabsVoice returns the voice ID for a preset name,
// or the input unchanged if it's already a voice ID.
func ResolveElevenLabsVoice(name string) string {
	if id, ok := ElevenLabsVoices[strings.ToLower(name)]; ok {
		return id
	}
	return name
}

// openAIVoices are rejected as ElevenLabs voice IDs so a shared config
// falls back to the ElevenLabs default.
var openAIVoices = map[string]bool{
	VoiceAlloy: true, VoiceEcho: true, VoiceFable: true,
	VoiceOnyx: true, VoiceNova: true, VoiceShimmer: true,
}

// ElevenLabs implements Provider for ElevenLabs TTS with raw PCM output.
type ElevenLabs struct {
	config       *Config
	client       *http.Client
	streamClient *http.Client
	logger       *slog.Logger
	baseURL      string
}

// NewElevenLabs creates a new ElevenLabs TTS provider.
func NewElevenLabs(opts ...Option) (*ElevenLabs, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.VoiceID == "" || openAIVoices[cfg.VoiceID] {
		cfg.VoiceID = DefaultElevenLabsVoice
	}
	cfg.VoiceID = ResolveElevenLabsVoice(cfg.VoiceID)
	if cfg.ModelID == "" || strings.HasPrefix(cfg.ModelID, "tts-") {
		cfg.ModelID = ModelFlashV2_5
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultConfig().ChunkSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = elevenLabsBaseURL
	}

	return &ElevenLabs{
		config:       cfg,
		client:       httpc.NewClient(cfg.Timeout),
		streamClient: httpc.NewClient(cfg.StreamTimeout),
		logger:       cfg.Logger.With("component", "tts.elevenlabs"),
		baseURL:      strings.TrimSuffix(baseURL, "/"),
	}, nil
}

// Name returns "elevenlabs".
func (e *ElevenLabs) Name() string {
	return providerElevenLabs
}

// Synthesize converts text to audio, returning the complete audio buffer.
func (e *ElevenLabs) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	start := time.Now()

	resp, err := e.request(ctx, e.client, "", text, e.config.Speed)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	latency := time.Since(start).Milliseconds()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(providerElevenLabs, fmt.Errorf("read response: %w", err))
	}

	e.logger.Debug("synthesized audio",
		"chars", len(text),
		"bytes", len(audio),
		"latency_ms", latency,
		"model", e.config.ModelID,
	)

	return &AudioResult{
		Audio:     audio,
		Format:    PCM24,
		Duration:  PCM24.DurationOf(len(audio)),
		CharCount: len(text),
		LatencyMs: latency,
	}, nil
}

// Stream converts text to audio with streaming output for lowest latency.
func (e *ElevenLabs) Stream(ctx context.Context, text string) (AudioStream, error) {
	return e.StreamWithSpeed(ctx, text, e.config.Speed)
}

// StreamWithSpeed streams text at speed, overriding the configured rate.
func (e *ElevenLabs) StreamWithSpeed(ctx context.Context, text string, speed float64) (AudioStream, error) {
	resp, err := e.request(ctx, e.streamClient, "/stream", text, speed)
	if err != nil {
		return nil, err
	}
	return newBodyStream(providerElevenLabs, resp.Body, PCM24, e.config.ChunkSize), nil
}

func (e *ElevenLabs) request(ctx context.Context, client *http.Client, suffix, text string, speed float64) (*http.Response, error) {
	if strings.TrimSpace(text) == "" {
		return nil, WrapError(providerElevenLabs, ErrEmptyText)
	}
	if !validSpeed(speed) {
		return nil, WrapError(providerElevenLabs, ErrInvalidSpeed)
	}

	body, err := json.Marshal(e.buildPayload(text, speed))
	if err != nil {
		return nil, WrapError(providerElevenLabs, fmt.Errorf("marshal payload: %w", err))
	}

	endpoint := fmt.Sprintf("%s/text-to-speech/%s%s?output_format=%s",
		e.baseURL, url.PathEscape(e.config.VoiceID), suffix, EncodingPCM24)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, WrapError(providerElevenLabs, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("xi-api-key", e.config.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/pcm")

	resp, err := doWithRetry(ctx, client, req, body, providerElevenLabs, e.config, e.logger, e.parseError)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, e.parseError(resp)
	}
	return resp, nil
}

// buildPayload constructs the API request payload.
func (e *ElevenLabs) buildPayload(text string, speed float64) map[string]interface{} {
	settings := map[string]interface{}{
		"stability":         0.5,
		"similarity_boost":  0.75,
		"use_speaker_boost": true,
	}
	// ElevenLabs accepts a narrower speed range than OpenAI.
	if speed != 0 {
		settings["speed"] = min(max(speed, 0.7), 1.2)
	}
	return map[string]interface{}{
		"text":           text,
		"model_id":       e.config.ModelID,
		"voice_settings": settings,
	}
}

// Health checks API connectivity and API key validity.
func (e *ElevenLabs) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/user", nil)
	if err != nil {
		return WrapError(providerElevenLabs, err)
	}
	req.Header.Set("xi-api-key", e.config.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return WrapError(providerElevenLabs, fmt.Errorf("health check: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return e.parseError(resp)
	}
	return nil
}

// Close releases resources held by the provider.
func (e *ElevenLabs) Close() error {
	e.client.CloseIdleConnections()
	e.streamClient.CloseIdleConnections()
	return nil
}

// VoiceID returns the resolved voice ID.
func (e *ElevenLabs) VoiceID() string {
	return e.config.VoiceID
}

// ModelID returns the configured model ID.
func (e *ElevenLabs) ModelID() string {
	return e.config.ModelID
}

// parseError reads and parses an error response.
func (e *ElevenLabs) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var errResp struct {
		Detail struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"detail"`
	}

	message := string(body)
	code := ""
	if json.Unmarshal(body, &errResp) == nil && errResp.Detail.Message != "" {
		message = errResp.Detail.Message
		code = errResp.Detail.Status
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Code:       code,
		Provider:   providerElevenLabs,
	}
}

// Verify ElevenLabs implements Provider at compile time.
var (
	_ Provider      = (*ElevenLabs)(nil)
	_ SpeedStreamer = (*ElevenLabs)(nil)
)
