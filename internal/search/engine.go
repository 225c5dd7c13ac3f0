// Package search runs retrievals: it resolves the mode, gets the collection's
// index ready, queries the retrieval paths and merges their results.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kensaku/internal/config"
	"github.com/hyperjump/kensaku/internal/embedding"
	"github.com/hyperjump/kensaku/internal/indexer"
	"github.com/hyperjump/kensaku/internal/keyword"
	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/internal/retrieval"
)

// PathError reports which retrieval path failed.
type PathError struct {
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s path: %v", e.Path, e.Err)
}

func (e *PathError) Unwrap() error {
	return e.Err
}

// Engine answers retrieval requests for any collection.
type Engine struct {
	indexer  *indexer.Indexer
	embedder embedding.Embedder
	external retrieval.ExternalStore
	keyword  keyword.KeywordIndex
	cfg      config.RetrievalConfig
	logger   *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithExternal sets the external store. Without one, modes that need it are rejected.
func WithExternal(s retrieval.ExternalStore) EngineOption {
	return func(e *Engine) { e.external = s }
}

// WithKeyword sets the keyword index used by keyword_hybrid.
func WithKeyword(k keyword.KeywordIndex) EngineOption {
	return func(e *Engine) { e.keyword = k }
}

// WithConfig sets the retrieval defaults.
func WithConfig(cfg config.RetrievalConfig) EngineOption {
	return func(e *Engine) { e.cfg = cfg }
}

// WithLogger sets the logger. If nil, a no-op logger is used.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an engine over idx. The embedder must be the one the index
// was built with.
func NewEngine(idx *indexer.Indexer, embedder embedding.Embedder, opts ...EngineOption) *Engine {
	e := &Engine{
		indexer:  idx,
		embedder: embedder,
		cfg: config.RetrievalConfig{
			DefaultK:       4,
			MaxK:           100,
			Mode:           string(models.ModeHybrid),
			SelfWeight:     models.DefaultWeights.Primary,
			ExternalWeight: models.DefaultWeights.Secondary,
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HybridRetrieve merges the collection's self path with the external path. Both
// run in parallel and an error from either fails the call.
func (e *Engine) HybridRetrieve(ctx context.Context, collectionID, query string, k int, w models.Weights) ([]models.ScoredChunk, error) {
	if e.external == nil {
		return nil, fmt.Errorf("%w: no external store configured", models.ErrInvalidQuery)
	}
	self, err := e.selfPath(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	return e.merge(ctx, self, retrieval.NewExternalPath(e.external, collectionID), query, k, w)
}

// KeywordRetrieve merges the collection's keyword path with the external path.
func (e *Engine) KeywordRetrieve(ctx context.Context, collectionID, query string, k int, w models.Weights) ([]models.ScoredChunk, error) {
	if e.keyword == nil {
		return nil, fmt.Errorf("%w: no keyword index configured", models.ErrInvalidQuery)
	}
	if e.external == nil {
		return nil, fmt.Errorf("%w: no external store configured", models.ErrInvalidQuery)
	}
	kw := retrieval.NewKeywordPath(e.keyword, collectionID, &keyword.SearchOptions{PhraseBoost: 1.5, FuzzyEnabled: true})
	return e.merge(ctx, &tagged{models.SourceKeyword, kw}, retrieval.NewExternalPath(e.external, collectionID), query, k, w)
}

// Retrieve validates q, fills defaults from the engine's config and dispatches
// on the mode.
func (e *Engine) Retrieve(ctx context.Context, q *models.RetrieveQuery) (*models.RetrieveResponse, error) {
	start := time.Now()
	if q.CollectionID == "" {
		return nil, fmt.Errorf("%w: collection id is required", models.ErrInvalidQuery)
	}
	if q.Mode == "" {
		q.Mode = models.RetrievalMode(e.cfg.Mode)
	}
	if err := q.Validate(e.cfg.DefaultK, e.cfg.MaxK); err != nil {
		return nil, err
	}

	results, mode, err := e.dispatch(ctx, q)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("retrieval",
		zap.String("collection", q.CollectionID),
		zap.String("mode", string(mode)),
		zap.Int("k", q.K),
		zap.Int("results", len(results)),
		zap.Duration("elapsed", time.Since(start)))

	return &models.RetrieveResponse{
		CollectionID: q.CollectionID,
		Query:        q.Query,
		Mode:         mode,
		Results:      results,
		Total:        len(results),
		QueryTime:    time.Since(start).Milliseconds(),
	}, nil
}

func (e *Engine) dispatch(ctx context.Context, q *models.RetrieveQuery) ([]models.ScoredChunk, models.RetrievalMode, error) {
	switch q.Mode {
	case models.ModeSelfOnly:
		self, err := e.selfPath(ctx, q.CollectionID)
		if err != nil {
			return nil, q.Mode, err
		}
		results, err := self.Retrieve(ctx, q.Query, q.K)
		return results, q.Mode, err

	case models.ModeExternalOnly:
		results, err := e.externalOnly(ctx, q)
		return results, q.Mode, err

	case models.ModeKeywordHybrid:
		results, err := e.KeywordRetrieve(ctx, q.CollectionID, q.Query, q.K, e.weights(q))
		return results, q.Mode, err

	default:
		results, err := e.HybridRetrieve(ctx, q.CollectionID, q.Query, q.K, e.weights(q))
		var pe *PathError
		if err != nil && e.cfg.FallbackExternal && e.external != nil &&
			errors.As(err, &pe) && pe.Path == models.SourceSelf {
			e.logger.Warn("self path failed; serving external results",
				zap.String("collection", q.CollectionID),
				zap.Error(err))
			results, err = e.externalOnly(ctx, q)
			return results, models.ModeExternalOnly, err
		}
		return results, q.Mode, err
	}
}

func (e *Engine) externalOnly(ctx context.Context, q *models.RetrieveQuery) ([]models.ScoredChunk, error) {
	if e.external == nil {
		return nil, fmt.Errorf("%w: no external store configured", models.ErrInvalidQuery)
	}
	return retrieval.NewExternalPath(e.external, q.CollectionID).Retrieve(ctx, q.Query, q.K)
}

// weights returns the request's weights or the mode's defaults.
func (e *Engine) weights(q *models.RetrieveQuery) models.Weights {
	if q.Weights != nil {
		return *q.Weights
	}
	if q.Mode == models.ModeKeywordHybrid {
		return models.KeywordWeights
	}
	w := models.Weights{Primary: e.cfg.SelfWeight, Secondary: e.cfg.ExternalWeight}
	if w.IsZero() {
		return models.DefaultWeights
	}
	return w
}

// selfPath readies the collection's index. Failures are self path failures.
func (e *Engine) selfPath(ctx context.Context, collectionID string) (retrieval.Retriever, error) {
	h, err := e.indexer.EnsureReady(ctx, collectionID)
	if err != nil {
		return nil, &PathError{Path: models.SourceSelf, Err: err}
	}
	return &tagged{models.SourceSelf, retrieval.NewSelfPath(h, e.embedder)}, nil
}

// merge runs both paths concurrently and merges their results in path order.
func (e *Engine) merge(ctx context.Context, primary, secondary retrieval.Retriever, query string, k int, w models.Weights) ([]models.ScoredChunk, error) {
	var a, b []models.ScoredChunk
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		a, err = primary.Retrieve(gctx, query, k)
		return err
	})
	g.Go(func() error {
		var err error
		b, err = secondary.Retrieve(gctx, query, k)
		if err != nil {
			return &PathError{Path: models.SourceExternal, Err: err}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return Merge(a, b, k, w), nil
}

// tagged reports a retriever's failures as failures of the named path.
type tagged struct {
	path string
	r    retrieval.Retriever
}

func (t *tagged) Retrieve(ctx context.Context, query string, k int) ([]models.ScoredChunk, error) {
	results, err := t.r.Retrieve(ctx, query, k)
	if err != nil {
		return nil, &PathError{Path: t.path, Err: err}
	}
	return results, nil
}
