package embedding

import (
	"fmt"

	"github.com/hyperjump/kensaku/internal/config"
	"go.uber.org/zap"
)

// New builds the embedder named by cfg.Provider and puts the query cache in front of it.
func New(cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	var (
		inner Embedder
		err   error
	)
	switch cfg.Provider {
	case ProviderMock, "":
		inner = NewMockEmbedder(cfg.Dimensions)
	case ProviderONNX:
		inner, err = NewONNXEmbedder(ONNXConfig{
			ModelPath:  cfg.ModelPath,
			Dimensions: cfg.Dimensions,
			MaxTokens:  cfg.MaxTokens,
		})
	case ProviderOpenAI:
		inner, err = NewOpenAIEmbedder(OpenAIConfig{
			APIKey:            cfg.APIKey,
			BaseURL:           cfg.BaseURL,
			Model:             cfg.Model,
			Dimensions:        cfg.Dimensions,
			BatchSize:         cfg.BatchSize,
			Workers:           cfg.Workers,
			RequestsPerSecond: cfg.RequestsPerSecond,
		}, logger)
	case ProviderCompatible:
		inner, err = NewCompatEmbedder(CompatConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}
