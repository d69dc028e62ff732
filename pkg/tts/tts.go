// Package tts turns narration text into PCM audio.
//
// Providers implement the Provider interface so the narration channel can
// switch between the OpenAI and ElevenLabs endpoints and the tone Mock without
// changing caller code. Every provider delivers 16-bit little-endian PCM;
// the format travels with each stream.
//
// Example usage:
//
//	provider, _ := tts.NewOpenAI(
//	    tts.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
//	    tts.WithVoice(tts.VoiceShimmer),
//	)
//	defer provider.Close()
//
//	stream, _ := provider.Stream(ctx, "This is a book.")
//	for {
//	    chunk, err := stream.Read()
//	    if err != nil || chunk == nil {
//	        break
//	    }
//	    // play chunk
//	}
package tts

import (
	"context"
	"time"
)

// Provider defines the TTS provider interface.
type Provider interface {
	// Name identifies the provider in logs and errors.
	Name() string

	// Synthesize converts text to audio, returning the complete audio buffer.
	Synthesize(ctx context.Context, text string) (*AudioResult, error)

	// Stream converts text to audio, returning chunks as they arrive.
	Stream(ctx context.Context, text string) (AudioStream, error)

	// Health checks provider connectivity and API key validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// SpeedStreamer is implemented by providers that accept a speaking rate
// per request instead of only the configured one.
type SpeedStreamer interface {
	StreamWithSpeed(ctx context.Context, text string, speed float64) (AudioStream, error)
}

// StreamAt streams text from p at speed. A zero speed, or a provider
// without per-request rates, uses p.Stream.
func StreamAt(ctx context.Context, p Provider, text string, speed float64) (AudioStream, error) {
	if speed == 0 {
		return p.Stream(ctx, text)
	}
	if s, ok := p.(SpeedStreamer); ok {
		return s.StreamWithSpeed(ctx, text, speed)
	}
	return p.Stream(ctx, text)
}

func validSpeed(speed float64) bool {
	return speed == 0 || (speed >= 0.25 && speed <= 4.0)
}

// AudioStream represents a streaming audio response.
// Callers should read until Read returns nil, then call Close.
type AudioStream interface {
	// Read returns the next audio chunk.
	// Returns nil when the stream is complete (not an error).
	Read() ([]byte, error)

	// Close stops the stream and releases resources.
	Close() error

	// Format returns the audio format metadata.
	Format() AudioFormat
}

// AudioResult represents a complete audio synthesis result.
type AudioResult struct {
	// Audio contains PCM16 samples in Format.
	Audio []byte

	// Format describes the audio encoding and sample rate.
	Format AudioFormat

	// Duration is the playback duration of Audio.
	Duration time.Duration

	// CharCount is the number of characters synthesized.
	CharCount int

	// LatencyMs is the time to first byte in milliseconds.
	LatencyMs int64
}

// AudioFormat describes the audio encoding parameters.
type AudioFormat struct {
	Encoding   Encoding
	SampleRate int
	Channels   int
	BitDepth   int
}

// BytesPerSecond returns the PCM data rate of the format.
func (f AudioFormat) BytesPerSecond() int {
	depth := f.BitDepth
	if depth == 0 {
		depth = 16
	}
	channels := f.Channels
	if channels == 0 {
		channels = 1
	}
	return f.SampleRate * channels * depth / 8
}

// DurationOf returns how long n bytes of audio in the format play for.
func (f AudioFormat) DurationOf(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// Encoding names a PCM layout.
type Encoding string

const (
	EncodingPCM16 Encoding = "pcm_16000" // 16kHz mono PCM16
	EncodingPCM24 Encoding = "pcm_24000" // 24kHz mono PCM16, OpenAI "pcm" output
	EncodingPCM48 Encoding = "pcm_48000" // 48kHz mono PCM16
)

// PCM24 is the format returned by the OpenAI provider.
var PCM24 = AudioFormat{Encoding: EncodingPCM24, SampleRate: 24000, Channels: 1, BitDepth: 16}

// SampleRateFromEncoding extracts the sample rate from an encoding type.
func SampleRateFromEncoding(enc Encoding) int {
	switch enc {
	case EncodingPCM16:
		return 16000
	case EncodingPCM48:
		return 48000
	default:
		return 24000
	}
}
