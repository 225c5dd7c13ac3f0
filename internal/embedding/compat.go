package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

// CompatConfig configures an OpenAI-compatible embeddings host such as Ollama or
// LM Studio.
type CompatConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	BatchSize  int
}

// CompatEmbedder embeds text through langchaingo against an OpenAI-compatible API.
// The dimension is fixed by configuration because local hosts do not report it.
type CompatEmbedder struct {
	embedder embeddings.Embedder
	dim      int
	logger   *zap.Logger
}

// NewCompatEmbedder creates an embedder for an OpenAI-compatible host. logger may be nil.
func NewCompatEmbedder(cfg CompatConfig, logger *zap.Logger) (*CompatEmbedder, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("compatible embedder: base_url is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, errors.New("compatible embedder: dimensions must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	token := cfg.APIKey
	if token == "" {
		// Local hosts accept any token.
		token = "none"
	}
	client, err := lcopenai.New(
		lcopenai.WithBaseURL(cfg.BaseURL),
		lcopenai.WithToken(token),
		lcopenai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("compatible embedder: %w", err)
	}
	opts := []embeddings.Option{embeddings.WithStripNewLines(true)}
	if cfg.BatchSize > 0 {
		opts = append(opts, embeddings.WithBatchSize(cfg.BatchSize))
	}
	emb, err := embeddings.NewEmbedder(client, opts...)
	if err != nil {
		return nil, fmt.Errorf("compatible embedder: %w", err)
	}
	return &CompatEmbedder{embedder: emb, dim: cfg.Dimensions, logger: logger}, nil
}

// Embed generates an embedding for a query text.
func (e *CompatEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(v) != e.dim {
		return nil, fmt.Errorf("compatible embedder: got dimension %d, configured %d", len(v), e.dim)
	}
	return v, nil
}

// EmbedBatch generates embeddings for documents.
func (e *CompatEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.logger.Debug("generating embeddings for texts", zap.Int("count", len(texts)))
	out, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(out) != len(texts) {
		return nil, fmt.Errorf("compatible embedder: got %d embeddings for %d texts", len(out), len(texts))
	}
	for i, v := range out {
		if len(v) != e.dim {
			return nil, fmt.Errorf("compatible embedder: text %d has dimension %d, configured %d", i, len(v), e.dim)
		}
	}
	return out, nil
}

// Dimensions returns the configured embedding dimension.
func (e *CompatEmbedder) Dimensions() int {
	return e.dim
}

// Close is a no-op.
func (e *CompatEmbedder) Close() error {
	return nil
}
