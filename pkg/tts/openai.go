package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-cardsense/internal/httpc"
)

const (
	openAITTSURL   = "https://api.openai.com/v1/audio/speech"
	providerOpenAI = "openai"
)

// OpenAI voice options
const (
	VoiceAlloy   = "alloy"   // Neutral voice
	VoiceEcho    = "echo"    // Male voice
	VoiceFable   = "fable"   // British accent
	VoiceOnyx    = "onyx"    // Deep male voice
	VoiceNova    = "nova"    // Female voice
	VoiceShimmer = "shimmer" // Soft female voice
)

// OpenAI model options
const (
	ModelTTS1   = "tts-1"    // Standard quality, faster
	ModelTTS1HD = "tts-1-hd" // Higher quality, slower
)

// OpenAI implements Provider for the OpenAI speech endpoint.
// Audio is requested as raw PCM so it can be played as it arrives.
type OpenAI struct {
	config       *Config
	client       *http.Client
	streamClient *http.Client
	logger       *slog.Logger
	baseURL      string
}

// NewOpenAI creates a new OpenAI TTS provider.
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.VoiceID == "" {
		cfg.VoiceID = VoiceShimmer
	}
	if cfg.ModelID == "" {
		cfg.ModelID = ModelTTS1
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultConfig().ChunkSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openAITTSURL
	}

	return &OpenAI{
		config:       cfg,
		client:       httpc.NewClient(cfg.Timeout),
		streamClient: httpc.NewClient(cfg.StreamTimeout),
		logger:       cfg.Logger.With("component", "tts.openai"),
		baseURL:      baseURL,
	}, nil
}

// Name returns "openai".
func (o *OpenAI) Name() string {
	return providerOpenAI
}

// Synthesize converts text to audio, returning the complete audio buffer.
func (o *OpenAI) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	start := time.Now()

	resp, err := o.request(ctx, o.client, text, o.config.Speed)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	latency := time.Since(start).Milliseconds()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(providerOpenAI, fmt.Errorf("read response: %w", err))
	}

	o.logger.Debug("synthesized audio",
		"chars", len(text),
		"bytes", len(audio),
		"latency_ms", latency,
		"voice", o.config.VoiceID,
	)

	return &AudioResult{
		Audio:     audio,
		Format:    PCM24,
		Duration:  PCM24.DurationOf(len(audio)),
		CharCount: len(text),
		LatencyMs: latency,
	}, nil
}

// Stream starts synthesis and returns the response body as a chunked stream.
// Chunks hold whole samples so they can be written straight to a sink.
func (o *OpenAI) Stream(ctx context.Context, text string) (AudioStream, error) {
	return o.StreamWithSpeed(ctx, text, o.config.Speed)
}

// StreamWithSpeed streams text at speed, overriding the configured rate.
func (o *OpenAI) StreamWithSpeed(ctx context.Context, text string, speed float64) (AudioStream, error) {
	resp, err := o.request(ctx, o.streamClient, text, speed)
	if err != nil {
		return nil, err
	}
	return newBodyStream(providerOpenAI, resp.Body, PCM24, o.config.ChunkSize), nil
}

func (o *OpenAI) request(ctx context.Context, client *http.Client, text string, speed float64) (*http.Response, error) {
	if strings.TrimSpace(text) == "" {
		return nil, WrapError(providerOpenAI, ErrEmptyText)
	}
	if !validSpeed(speed) {
		return nil, WrapError(providerOpenAI, ErrInvalidSpeed)
	}

	payload := map[string]interface{}{
		"model":           o.config.ModelID,
		"voice":           o.config.VoiceID,
		"input":           text,
		"response_format": "pcm",
	}
	if speed != 0 {
		payload["speed"] = speed
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, WrapError(providerOpenAI, fmt.Errorf("marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, WrapError(providerOpenAI, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+o.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := doWithRetry(ctx, client, req, body, providerOpenAI, o.config, o.logger, o.parseError)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, o.parseError(resp)
	}
	return resp, nil
}

// Health checks API connectivity.
func (o *OpenAI) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.modelsURL(), nil)
	if err != nil {
		return WrapError(providerOpenAI, err)
	}
	req.Header.Set("Authorization", "Bearer "+o.config.APIKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return WrapError(providerOpenAI, fmt.Errorf("health check: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return o.parseError(resp)
	}
	return nil
}

// modelsURL derives the models endpoint from the speech endpoint.
func (o *OpenAI) modelsURL() string {
	if i := strings.Index(o.baseURL, "/audio/speech"); i >= 0 {
		return o.baseURL[:i] + "/models"
	}
	return strings.TrimSuffix(o.baseURL, "/") + "/models"
}

// Close releases resources.
func (o *OpenAI) Close() error {
	o.client.CloseIdleConnections()
	o.streamClient.CloseIdleConnections()
	return nil
}

// VoiceID returns the configured voice.
func (o *OpenAI) VoiceID() string {
	return o.config.VoiceID
}

// parseError reads and parses an error response.
func (o *OpenAI) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}

	message := string(body)
	code := ""
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
		code = errResp.Error.Code
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Code:       code,
		Provider:   providerOpenAI,
	}
}

// doWithRetry sends req, retrying transport failures, 429 and 5xx with a
// linear backoff. body is replayed on each attempt.
func doWithRetry(ctx context.Context, client *http.Client, req *http.Request, body []byte,
	provider string, cfg *Config, logger *slog.Logger, parseError func(*http.Response) error) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(cfg.RetryDelay * time.Duration(attempt)):
			}

			// Reset body for retry
			req.Body = io.NopCloser(bytes.NewReader(body))
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = WrapError(provider, err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = parseError(resp)
			resp.Body.Close()
			logger.Warn("retrying request",
				"attempt", attempt+1,
				"status", resp.StatusCode,
			)
			continue
		}

		return resp, nil
	}

	return nil, lastErr
}

// bodyStream hands out an HTTP body in sample-aligned chunks.
type bodyStream struct {
	mu       sync.Mutex
	provider string
	body     io.ReadCloser
	buf    []byte
	carry  []byte
	format AudioFormat
	closed bool
	done   bool
}

func newBodyStream(provider string, body io.ReadCloser, format AudioFormat, chunkSize int) *bodyStream {
	chunkSize -= chunkSize % 2
	if chunkSize <= 0 {
		chunkSize = 4800
	}
	return &bodyStream{provider: provider, body: body, buf: make([]byte, chunkSize), format: format}
}

// Read returns the next chunk, or nil at end of stream.
func (s *bodyStream) Read() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStreamClosed
	}

	for !s.done {
		n := copy(s.buf, s.carry)
		s.carry = s.carry[:0]

		for n < len(s.buf) {
			m, err := s.body.Read(s.buf[n:])
			n += m
			if err == io.EOF {
				s.done = true
				break
			}
			if err != nil {
				return nil, WrapError(s.provider, fmt.Errorf("read stream: %w", err))
			}
			if m > 0 && n%2 == 0 {
				break
			}
		}

		// A dangling odd byte waits for its partner.
		if n%2 == 1 {
			n--
			if !s.done {
				s.carry = append(s.carry, s.buf[n])
			}
		}
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, s.buf[:n])
			return chunk, nil
		}
	}
	return nil, nil
}

// Close releases the response body.
func (s *bodyStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}

// Format returns the audio format.
func (s *bodyStream) Format() AudioFormat {
	return s.format
}

// bufferStream wraps a byte slice as AudioStream.
type bufferStream struct {
	data      []byte
	offset    int
	chunkSize int
	format    AudioFormat
}

// Read returns the next audio chunk.
func (s *bufferStream) Read() ([]byte, error) {
	if s.offset >= len(s.data) {
		return nil, nil
	}
	end := len(s.data)
	if s.chunkSize > 0 && s.offset+s.chunkSize < end {
		end = s.offset + s.chunkSize
	}
	chunk := s.data[s.offset:end]
	s.offset = end
	return chunk, nil
}

// Close releases resources.
func (s *bufferStream) Close() error {
	return nil
}

// Format returns the audio format.
func (s *bufferStream) Format() AudioFormat {
	return s.format
}

// Verify OpenAI implements Provider at compile time.
var (
	_ Provider      = (*OpenAI)(nil)
	_ SpeedStreamer = (*OpenAI)(nil)
)
