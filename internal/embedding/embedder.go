// Package embedding provides text embedders (mock, ONNX, OpenAI, OpenAI-compatible)
// and an LRU cache for query embeddings.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// Embedder produces vector embeddings for text. Embed is used for queries and
// EmbedBatch for corpus chunks; both must return vectors of the same dimension.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// ErrEmbedding marks failures from the embedding collaborator. They are fatal to
// the build or query in progress and are not retried.
var ErrEmbedding = errors.New("embedding failed")

// Wrap marks err as an embedding failure unless it already is one.
func Wrap(err error) error {
	if err == nil || errors.Is(err, ErrEmbedding) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrEmbedding, err)
}

// Provider names accepted by New.
const (
	ProviderMock       = "mock"
	ProviderONNX       = "onnx"
	ProviderOpenAI     = "openai"
	ProviderCompatible = "compatible"
)
