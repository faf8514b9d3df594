// Package embedding provides vector embedding providers for semantic
// retrieval.
package embedding

import (
	"context"
	"math"
)

// Provider generates vector embeddings for text.
type Provider interface {
	// Embed generates embeddings for the given texts, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding dimension.
	Dimension() int
}

// CosineSimilarity computes the cosine similarity of two vectors.
// Returns 0 for mismatched or zero-length vectors.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
