package embedding

import "context"

// MockEmbedder is a deterministic embedding provider for tests.
type MockEmbedder struct {
	dimension int
}

// NewMockEmbedder creates a mock embedder.
func NewMockEmbedder(dimension int) *MockEmbedder {
	return &MockEmbedder{dimension: dimension}
}

// Embed returns deterministic fake embeddings derived from the text.
func (e *MockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, e.dimension)
		for j := 0; j < e.dimension && j < len(text); j++ {
			vec[j] = float32(text[j%len(text)]) / 256.0
		}
		results[i] = vec
	}
	return results, nil
}

// Dimension returns the embedding dimension.
func (e *MockEmbedder) Dimension() int {
	return e.dimension
}
