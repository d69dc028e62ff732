// Package detection adapts an object detection model into the recognition
// pipeline.
//
// The Adapter gates calls with a minimum interval between model
// invocations. Calls inside the interval are skipped outright: the frame
// is dropped and the model is not touched. Model failures on admitted calls
// are logged and reported as "no detections" rather than errors.
package detection

import (
	"context"

	"github.com/teslashibe/go-cardsense/pkg/camera"
)

// Box is a bounding box in normalized image coordinates (0-1).
// X and Y are the top-left corner.
type Box struct {
	X, Y float64
	W, H float64
}

// Center returns the center point of the box.
func (b Box) Center() (x, y float64) {
	return b.X + b.W/2, b.Y + b.H/2
}

// Area returns the area of the box.
func (b Box) Area() float64 {
	return b.W * b.H
}

// Result is one labelled detection from a single model call.
type Result struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`

	// NarrationText is set by card matching. Empty means unmatched.
	NarrationText string `json:"narration_text,omitempty"`
}

// Matched reports whether a card has been attached to the result.
func (r Result) Matched() bool {
	return r.NarrationText != ""
}

// Prediction is the raw output of a model.
type Prediction struct {
	Label      string
	Confidence float64
	Box        Box
}

// Model is an opaque detection capability: image in, labelled boxes out.
type Model interface {
	Detect(ctx context.Context, frame camera.Frame) ([]Prediction, error)
	Close() error
}

// Loader loads a model. It is called once by Adapter.Initialize.
type Loader func(ctx context.Context) (Model, error)
