package bgm

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"gopkg.in/hraban/opus.v2"

	"github.com/teslashibe/go-cardsense/pkg/audioio"
)

// opusRate is the output rate of every Ogg Opus stream.
const opusRate = 48000

// Track is decoded, interleaved PCM16 audio.
type Track struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Frames returns the number of sample frames.
func (t *Track) Frames() int {
	if t == nil || t.Channels == 0 {
		return 0
	}
	return len(t.Samples) / t.Channels
}

// Duration returns the playback length in seconds.
func (t *Track) Duration() float64 {
	if t == nil || t.SampleRate == 0 {
		return 0
	}
	return float64(t.Frames()) / float64(t.SampleRate)
}

// Convert returns the track in the given rate and channel layout.
func (t *Track) Convert(rate, channels int) *Track {
	if t.SampleRate == rate && t.Channels == channels {
		return t
	}
	samples := audioio.Convert(audioio.AudioChunk{
		Samples:    t.Samples,
		SampleRate: t.SampleRate,
		Channels:   t.Channels,
	}, rate, channels)
	return &Track{Samples: samples, SampleRate: rate, Channels: channels}
}

// Decode sniffs the container and decodes WAV or Ogg Opus data.
func Decode(data []byte) (*Track, error) {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return decodeWAV(data)
	case len(data) >= 4 && string(data[0:4]) == "OggS":
		return decodeOpus(data)
	default:
		return nil, ErrUnsupportedFormat
	}
}

func decodeWAV(data []byte) (*Track, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, errors.New("invalid WAV file")
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("read samples: %w", err)
	}
	if buf == nil || buf.Format == nil || len(buf.Data) == 0 {
		return nil, errors.New("no samples")
	}

	samples, err := toPCM16(buf, int(dec.BitDepth))
	if err != nil {
		return nil, err
	}
	return &Track{
		Samples:    samples,
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
	}, nil
}

// toPCM16 scales integer samples of any supported bit depth to int16.
func toPCM16(buf *audio.IntBuffer, bitDepth int) ([]int16, error) {
	out := make([]int16, len(buf.Data))
	switch bitDepth {
	case 8:
		for i, v := range buf.Data {
			out[i] = int16((v - 128) << 8)
		}
	case 16:
		for i, v := range buf.Data {
			out[i] = int16(v)
		}
	case 24:
		for i, v := range buf.Data {
			out[i] = int16(v >> 8)
		}
	case 32:
		for i, v := range buf.Data {
			out[i] = int16(v >> 16)
		}
	default:
		return nil, fmt.Errorf("unsupported bit depth %d", bitDepth)
	}
	return out, nil
}

func decodeOpus(data []byte) (*Track, error) {
	channels := opusChannels(data)
	if channels == 0 {
		return nil, errors.New("missing OpusHead")
	}

	stream, err := opus.NewStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()

	// 120ms is the largest Opus frame.
	pcm := make([]int16, opusRate*120/1000*channels)
	var samples []int16
	for {
		n, err := stream.Read(pcm)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read stream: %w", err)
		}
		samples = append(samples, pcm[:n*channels]...)
	}
	if len(samples) == 0 {
		return nil, errors.New("no samples")
	}

	return &Track{Samples: samples, SampleRate: opusRate, Channels: channels}, nil
}

// opusChannels reads the channel count from the OpusHead identification header.
func opusChannels(data []byte) int {
	idx := bytes.Index(data, []byte("OpusHead"))
	if idx < 0 || idx+9 >= len(data) {
		return 0
	}
	return int(data[idx+9])
}
