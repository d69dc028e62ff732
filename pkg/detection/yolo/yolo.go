// Package yolo implements detection.Model with a YOLOv8 ONNX network
// running on OpenCV DNN (gocv).
package yolo

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/teslashibe/go-cardsense/pkg/camera"
	"github.com/teslashibe/go-cardsense/pkg/detection"
	"gocv.io/x/gocv"
)

// Config holds YOLO model configuration.
type Config struct {
	ModelPath        string
	ConfidenceThresh float32
	NMSThresh        float32
	InputWidth       int
	InputHeight      int
}

// DefaultConfig returns defaults for YOLOv8n.
func DefaultConfig() Config {
	return Config{
		ModelPath:        "models/yolov8n.onnx",
		ConfidenceThresh: 0.4,
		NMSThresh:        0.45,
		InputWidth:       640,
		InputHeight:      640,
	}
}

// Model is a loaded YOLOv8 network.
type Model struct {
	net       gocv.Net
	config    Config
	mu        sync.Mutex
	inputSize image.Point
	closed    bool
}

// New loads the ONNX network at cfg.ModelPath.
func New(cfg Config) (*Model, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load YOLO model from %s", cfg.ModelPath)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &Model{
		net:       net,
		config:    cfg,
		inputSize: image.Pt(cfg.InputWidth, cfg.InputHeight),
	}, nil
}

// Loader returns a detection.Loader for cfg.
func Loader(cfg Config) detection.Loader {
	return func(ctx context.Context) (detection.Model, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return New(cfg)
	}
}

// Detect finds objects in the JPEG frame.
func (m *Model) Detect(ctx context.Context, frame camera.Frame) ([]detection.Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, detection.ErrModelNotReady
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := gocv.IMDecode(frame.JPEG, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	defer img.Close()

	if img.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	blob := gocv.BlobFromImage(img, 1.0/255.0, m.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	m.net.SetInput(blob, "")
	output := m.net.Forward("")
	defer output.Close()

	return m.parseOutput(output, float32(img.Cols()), float32(img.Rows()))
}

// parseOutput decodes the [1, 84, 8400] YOLOv8 tensor:
// 4 box values (cx, cy, w, h) followed by 80 class scores per anchor.
func (m *Model) parseOutput(output gocv.Mat, imgW, imgH float32) ([]detection.Prediction, error) {
	sizes := output.Size()
	if len(sizes) != 3 {
		return nil, fmt.Errorf("unexpected output shape %v", sizes)
	}
	attrs, anchors := sizes[1], sizes[2]

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}

	var (
		boxes       []image.Rectangle
		confidences []float32
		classIDs    []int
	)

	for i := 0; i < anchors; i++ {
		maxScore := float32(0)
		maxClassID := 0
		for c := 4; c < attrs; c++ {
			if score := data[c*anchors+i]; score > maxScore {
				maxScore = score
				maxClassID = c - 4
			}
		}
		if maxScore < m.config.ConfidenceThresh {
			continue
		}

		cx := data[0*anchors+i]
		cy := data[1*anchors+i]
		w := data[2*anchors+i]
		h := data[3*anchors+i]

		x1 := int((cx - w/2) * imgW / float32(m.config.InputWidth))
		y1 := int((cy - h/2) * imgH / float32(m.config.InputHeight))
		x2 := int((cx + w/2) * imgW / float32(m.config.InputWidth))
		y2 := int((cy + h/2) * imgH / float32(m.config.InputHeight))

		boxes = append(boxes, image.Rect(x1, y1, x2, y2))
		confidences = append(confidences, maxScore)
		classIDs = append(classIDs, maxClassID)
	}

	if len(boxes) == 0 {
		return nil, nil
	}

	indices := gocv.NMSBoxes(boxes, confidences, m.config.ConfidenceThresh, m.config.NMSThresh)

	preds := make([]detection.Prediction, 0, len(indices))
	for _, idx := range indices {
		box := boxes[idx]
		preds = append(preds, detection.Prediction{
			Label:      ClassName(classIDs[idx]),
			Confidence: float64(confidences[idx]),
			Box: detection.Box{
				X: float64(box.Min.X) / float64(imgW),
				Y: float64(box.Min.Y) / float64(imgH),
				W: float64(box.Dx()) / float64(imgW),
				H: float64(box.Dy()) / float64(imgH),
			},
		})
	}
	return preds, nil
}

// Close releases the network.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.net.Close()
}

var _ detection.Model = (*Model)(nil)
