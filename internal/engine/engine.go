// Package engine defines the embedding engine boundary and the distance metrics used to compare faces.
package engine

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/andresmejia3/sentinel-watch/internal/types"
)

// Engine detects faces in a frame and turns them into embeddings.
// Distance must be safe for concurrent use; the other methods may serialize internally.
type Engine interface {
	DetectFaces(ctx context.Context, frame types.Frame) ([]types.BoundingBox, error)
	ExtractEmbeddings(ctx context.Context, frame types.Frame, boxes []types.BoundingBox) ([]types.Embedding, error)
	Distance(a, b types.Embedding) float64
}

// DistanceFunc compares two embeddings. Smaller is closer.
type DistanceFunc func(a, b types.Embedding) float64

// Euclidean is the L2 distance. Vectors of different length never match.
func Euclidean(a, b types.Embedding) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// CosineDist calculates 1 - cosine similarity.
// Returns 1.0 when either vector has zero magnitude.
func CosineDist(a, b []float64) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 1.0
	}
	return 1.0 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

// Cosine adapts CosineDist to DistanceFunc.
func Cosine(a, b types.Embedding) float64 {
	return CosineDist(a, b)
}

// MetricByName resolves a configured metric name.
func MetricByName(name string) (DistanceFunc, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "euclidean":
		return Euclidean, nil
	case "cosine":
		return Cosine, nil
	default:
		return nil, fmt.Errorf("unknown distance metric %q", name)
	}
}

// Faces runs detection then extraction on one frame.
// Returns parallel slices; an empty result is not an error.
func Faces(ctx context.Context, e Engine, frame types.Frame) ([]types.BoundingBox, []types.Embedding, error) {
	boxes, err := e.DetectFaces(ctx, frame)
	if err != nil {
		return nil, nil, fmt.Errorf("detect faces: %w", err)
	}
	if len(boxes) == 0 {
		return nil, nil, nil
	}
	embeddings, err := e.ExtractEmbeddings(ctx, frame, boxes)
	if err != nil {
		return nil, nil, fmt.Errorf("extract embeddings: %w", err)
	}
	if len(embeddings) != len(boxes) {
		return nil, nil, fmt.Errorf("engine returned %d embeddings for %d faces", len(embeddings), len(boxes))
	}
	return boxes, embeddings, nil
}
