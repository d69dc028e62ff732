package tts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newElevenLabsServer(t *testing.T, handler http.HandlerFunc, opts ...Option) *ElevenLabs {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	opts = append([]Option{
		WithAPIKey("xi-test"),
		WithBaseURL(srv.URL + "/v1"),
		WithRetry(1, time.Millisecond),
		WithChunkSize(100),
	}, opts...)
	p, err := NewElevenLabs(opts...)
	if err != nil {
		t.Fatalf("NewElevenLabs: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestNewElevenLabsDefaults(t *testing.T) {
	if _, err := NewElevenLabs(); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey, got %v", err)
	}

	tests := []struct {
		name      string
		opts      []Option
		wantVoice string
		wantModel string
	}{
		{"openai defaults replaced", nil, ElevenLabsVoices[DefaultElevenLabsVoice], ModelFlashV2_5},
		{"preset name", []Option{WithVoice("Rachel")}, ElevenLabsVoices["rachel"], ModelFlashV2_5},
		{"raw voice id", []Option{WithVoice("abc123"), WithModel(ModelTurboV2_5)}, "abc123", ModelTurboV2_5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewElevenLabs(append([]Option{WithAPIKey("k")}, tt.opts...)...)
			if err != nil {
				t.Fatalf("NewElevenLabs: %v", err)
			}
			if p.VoiceID() != tt.wantVoice || p.ModelID() != tt.wantModel {
				t.Errorf("voice/model = %s/%s, want %s/%s", p.VoiceID(), p.ModelID(), tt.wantVoice, tt.wantModel)
			}
		})
	}
}

func TestElevenLabsRequest(t *testing.T) {
	var got map[string]interface{}
	p := newElevenLabsServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "xi-test" {
			t.Errorf("xi-api-key = %q", r.Header.Get("xi-api-key"))
		}
		want := "/v1/text-to-speech/" + ElevenLabsVoices["sarah"] + "/stream"
		if r.URL.Path != want {
			t.Errorf("path = %s, want %s", r.URL.Path, want)
		}
		if r.URL.Query().Get("output_format") != "pcm_24000" {
			t.Errorf("output_format = %q", r.URL.Query().Get("output_format"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write(make([]byte, 151))
	}, WithVoice("sarah"), WithSpeed(2))

	stream, err := p.Stream(context.Background(), "a cup")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()
	if stream.Format() != PCM24 {
		t.Errorf("format = %+v", stream.Format())
	}

	var total int
	for {
		chunk, err := stream.Read()
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if chunk == nil {
			break
		}
		total += len(chunk)
	}
	if total != 150 {
		t.Errorf("total = %d, want 150 (odd trailing byte dropped)", total)
	}

	if got["text"] != "a cup" || got["model_id"] != ModelFlashV2_5 {
		t.Errorf("payload = %v", got)
	}
	settings, _ := got["voice_settings"].(map[string]interface{})
	if settings["speed"] != 1.2 {
		t.Errorf("speed = %v, want clamped to 1.2", settings["speed"])
	}
}

func TestElevenLabsSynthesizeRetries(t *testing.T) {
	var hits atomic.Int32
	p := newElevenLabsServer(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write(make([]byte, 480))
	})

	result, err := p.Synthesize(context.Background(), "retry")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("hits = %d, want 2", hits.Load())
	}
	if result.Duration != 10*time.Millisecond {
		t.Errorf("duration = %v, want 10ms", result.Duration)
	}
}

func TestElevenLabsParsesErrors(t *testing.T) {
	p := newElevenLabsServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"detail":{"status":"invalid_api_key","message":"Invalid API key"}}`)
	})

	_, err := p.Synthesize(context.Background(), "hi")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if !apiErr.IsUnauthorized() || apiErr.Code != "invalid_api_key" || apiErr.Provider != "elevenlabs" {
		t.Errorf("APIError = %+v", apiErr)
	}

	if _, err := p.Stream(context.Background(), " "); !errors.Is(err, ErrEmptyText) {
		t.Errorf("expected ErrEmptyText, got %v", err)
	}
}

func TestElevenLabsHealth(t *testing.T) {
	p := newElevenLabsServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/user" {
			t.Errorf("health path = %s", r.URL.Path)
		}
	})
	if err := p.Health(context.Background()); err != nil {
		t.Errorf("Health: %v", err)
	}
}
