// Package embedding turns entity names into dense vectors and compares them.
package embedding

import (
	"context"
	"fmt"
	"math"
)

// Embedder embeds a single text into a dense vector.
type Embedder interface {
	// Embed returns the embedding of text. Implementations must be safe for
	// concurrent use.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Provider returns the backend name used in logs, metrics, and errors.
	Provider() string
	// Model returns the model identifier. Vectors from different models are
	// not comparable.
	Model() string
}

// CosineSimilarity returns the cosine of the angle between a and b, clamped
// to [0, 1]. Negative correlation counts as no similarity. Zero vectors have
// similarity 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("embedding: dimension mismatch: %d vs %d", len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	switch {
	case sim < 0:
		return 0, nil
	case sim > 1:
		// Rounding can push identical vectors just above one.
		return 1, nil
	}
	return sim, nil
}

// normalize scales v to unit length in place.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}
