package types

import "time"

// Embedding is one face descriptor as produced by the embedding engine.
// The core treats it as opaque and only compares it through a distance function.
type Embedding []float64

// BoundingBox locates a face inside a frame, in the engine's [top, right, bottom, left] order.
type BoundingBox struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// Width returns the horizontal extent of the box.
func (b BoundingBox) Width() int { return b.Right - b.Left }

// Height returns the vertical extent of the box.
func (b BoundingBox) Height() int { return b.Bottom - b.Top }

// Empty reports whether the box encloses no pixels.
func (b BoundingBox) Empty() bool { return b.Width() <= 0 || b.Height() <= 0 }

// Frame is a single JPEG-encoded image pulled from the camera.
type Frame struct {
	Data       []byte
	CapturedAt time.Time
}

// Identity is a named subject and the embeddings enrolled for it, in insertion order.
type Identity struct {
	Name       string
	Embeddings []Embedding
	UpdatedAt  time.Time
}

// ErrorResult captures the error object returned by the python engine on failure
type ErrorResult struct {
	Error string `json:"error"`
}
