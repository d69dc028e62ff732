package video

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// minAccessUnit is the smallest buffer worth handing to a decoder.
const minAccessUnit = 100

// Decoder turns an Annex-B H264 buffer into the JPEG of its last picture.
type Decoder interface {
	Decode(ctx context.Context, annexB []byte) ([]byte, error)
}

// FFmpegDecoder decodes by piping through an ffmpeg process.
type FFmpegDecoder struct {
	// Path is the ffmpeg binary. Empty uses "ffmpeg" from PATH.
	Path string

	// Quality is the ffmpeg -q:v value (2 best, 31 worst).
	Quality int

	// Timeout bounds a single decode. Zero uses one second.
	Timeout time.Duration
}

// Decode runs ffmpeg over data and returns the last JPEG it wrote.
func (d *FFmpegDecoder) Decode(ctx context.Context, data []byte) ([]byte, error) {
	if len(data) < minAccessUnit {
		return nil, ErrShortInput
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	path := d.Path
	if path == "" {
		path = "ffmpeg"
	}
	quality := d.Quality
	if quality <= 0 {
		quality = 3
	}

	cmd := exec.CommandContext(ctx, path,
		"-hide_banner", "-loglevel", "error",
		"-f", "h264",
		"-i", "pipe:0",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", strconv.Itoa(quality),
		"pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// ffmpeg exits non-zero on a truncated trailing picture; earlier
	// pictures are still usable.
	runErr := cmd.Run()
	jpg := LastJPEG(stdout.Bytes())
	if jpg == nil {
		if runErr != nil {
			return nil, fmt.Errorf("ffmpeg: %w: %s", runErr, strings.TrimSpace(stderr.String()))
		}
		return nil, ErrNoImage
	}
	return jpg, nil
}

// FFmpegQuality maps a 1-100 JPEG quality onto ffmpeg's 2-31 -q:v scale.
func FFmpegQuality(quality int) int {
	quality = max(1, min(quality, 100))
	return 2 + (100-quality)*29/99
}

// LastJPEG returns the last complete JPEG in a concatenated MJPEG stream.
func LastJPEG(stream []byte) []byte {
	start := bytes.LastIndex(stream, []byte{0xFF, 0xD8, 0xFF})
	if start < 0 {
		return nil
	}
	end := bytes.LastIndex(stream[start:], []byte{0xFF, 0xD9})
	if end < 0 {
		return nil
	}
	out := make([]byte, end+2)
	copy(out, stream[start:start+end+2])
	return out
}

// LooksCorrupt reports whether a decoded JPEG is a gray or black frame,
// which the decoder emits before it has a full reference picture.
func LooksCorrupt(data []byte) bool {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return true
	}
	return looksCorrupt(img)
}

func looksCorrupt(img image.Image) bool {
	bounds := img.Bounds()
	if bounds.Dx() < 16 || bounds.Dy() < 16 {
		return true
	}

	var rSum, gSum, bSum, samples int
	stepX, stepY := max(bounds.Dx()/10, 1), max(bounds.Dy()/10, 1)
	for y := bounds.Min.Y; y < bounds.Max.Y; y += stepY {
		for x := bounds.Min.X; x < bounds.Max.X; x += stepX {
			r, g, b, _ := img.At(x, y).RGBA()
			rSum += int(r >> 8)
			gSum += int(g >> 8)
			bSum += int(b >> 8)
			samples++
		}
	}

	avgR, avgG, avgB := rSum/samples, gSum/samples, bSum/samples

	// Black
	if avgR < 30 && avgG < 30 && avgB < 30 {
		return true
	}

	// Uniform mid gray
	diff := abs(avgR-avgG) + abs(avgG-avgB) + abs(avgR-avgB)
	return diff < 15 && avgR > 100 && avgR < 150
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
