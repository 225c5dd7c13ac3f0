package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hyperjump/kensaku/pkg/utils"
	"github.com/panjf2000/ants/v2"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// OpenAIConfig configures the OpenAI embeddings client.
type OpenAIConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	Dimensions        int
	BatchSize         int
	Workers           int
	RequestsPerSecond float64
}

// OpenAIEmbedder calls the OpenAI embeddings endpoint. Batches are split into
// sub-batches that run on a bounded worker pool behind a request rate limiter.
type OpenAIEmbedder struct {
	client    *openai.Client
	model     string
	dim       int
	sendDim   bool
	batchSize int
	pool      *ants.Pool
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// NewOpenAIEmbedder creates an OpenAI embedder. logger may be nil.
func NewOpenAIEmbedder(cfg OpenAIConfig, logger *zap.Logger) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.SmallEmbedding3)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dim := cfg.Dimensions
	if dim <= 0 {
		dim = 1536
		if cfg.Model == string(openai.LargeEmbedding3) {
			dim = 3072
		}
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding pool: %w", err)
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &OpenAIEmbedder{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     cfg.Model,
		dim:       dim,
		sendDim:   cfg.Dimensions > 0,
		batchSize: cfg.BatchSize,
		pool:      pool,
		limiter:   rate.NewLimiter(limit, 1),
		logger:    logger,
	}, nil
}

// Embed generates an embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.request(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds texts in sub-batches of at most BatchSize. Results keep the
// input order. The first failing sub-batch fails the whole call.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if len(texts) <= e.batchSize {
		return e.request(ctx, texts)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make([][]float32, len(texts))
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	for start := 0; start < len(texts); start += e.batchSize {
		start := start
		end := min(start+e.batchSize, len(texts))
		wg.Add(1)
		err := e.pool.Submit(func() {
			defer wg.Done()
			vecs, err := e.request(ctx, texts[start:end])
			if err != nil {
				fail(fmt.Errorf("texts %d-%d: %w", start, end-1, err))
				return
			}
			copy(out[start:end], vecs)
		})
		if err != nil {
			wg.Done()
			fail(fmt.Errorf("failed to submit embedding batch: %w", err))
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func (e *OpenAIEmbedder) request(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req := openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	}
	// Only an explicitly configured size is sent.
	if e.sendDim {
		req.Dimensions = e.dim
	}
	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("OpenAI API returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) || out[d.Index] != nil {
			return nil, fmt.Errorf("OpenAI API returned invalid embedding index %d", d.Index)
		}
		v := make([]float32, len(d.Embedding))
		for i, x := range d.Embedding {
			v[i] = float32(x)
		}
		utils.NormalizeL2(v)
		out[d.Index] = v
	}
	e.logger.Debug("openai embeddings",
		zap.Int("count", len(texts)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens))
	return out, nil
}

// Dimensions returns the embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dim
}

// Close releases the worker pool.
func (e *OpenAIEmbedder) Close() error {
	e.pool.Release()
	return nil
}
