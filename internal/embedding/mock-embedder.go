package embedding

import (
	"context"
	"math"

	"github.com/hyperjump/kensaku/pkg/utils"
)

const mockDefaultDimensions = 384

// MockEmbedder derives a unit vector from a hash of the text, so equal texts get
// equal vectors. It needs no model and serves tests and offline setups.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns a mock embedder. Non-positive dimensions use 384.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = mockDefaultDimensions
	}
	return &MockEmbedder{dimensions: dimensions}
}

func (e *MockEmbedder) vector(text string) []float32 {
	h := float64(HashString(text))
	v := make([]float32, e.dimensions)
	for i := range v {
		v[i] = float32(0.1*math.Sin(h*float64(i+1)) + 0.01)
	}
	utils.NormalizeL2(v)
	return v
}

func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.vector(text), nil
}

func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.vector(text)
	}
	return out, nil
}

func (e *MockEmbedder) Dimensions() int { return e.dimensions }

func (e *MockEmbedder) Close() error { return nil }
