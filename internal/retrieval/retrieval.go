// Package retrieval adapts the self-managed index, the external store and the
// keyword index to one "query to ranked chunks" contract.
package retrieval

import (
	"context"
	"fmt"

	"github.com/hyperjump/kensaku/internal/embedding"
	"github.com/hyperjump/kensaku/internal/indexer"
	"github.com/hyperjump/kensaku/internal/keyword"
	"github.com/hyperjump/kensaku/internal/models"
)

// Retriever returns up to k chunks ranked for query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]models.ScoredChunk, error)
}

// ExternalStore is an externally maintained dense store.
type ExternalStore interface {
	Retrieve(ctx context.Context, collectionID, query string, k int) ([]models.ScoredChunk, error)
}

// Metadata keys added to self path results.
const (
	MetaIndexDistance = "index_distance"
	MetaIndexRank     = "index_rank"
)

// SelfPath searches a built index handle.
type SelfPath struct {
	handle   *indexer.Handle
	embedder embedding.Embedder
}

// NewSelfPath returns a path over h. The handle is captured, so a concurrent
// rebuild does not affect an in-flight query.
func NewSelfPath(h *indexer.Handle, embedder embedding.Embedder) *SelfPath {
	return &SelfPath{handle: h, embedder: embedder}
}

// Retrieve embeds query and returns the nearest chunks by ascending distance.
func (p *SelfPath) Retrieve(ctx context.Context, query string, k int) ([]models.ScoredChunk, error) {
	if k <= 0 {
		return []models.ScoredChunk{}, nil
	}
	q, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, embedding.Wrap(err)
	}
	neighbors, err := p.handle.Index.Search(q, k)
	if err != nil {
		return nil, fmt.Errorf("index search failed: %w", err)
	}

	out := make([]models.ScoredChunk, 0, len(neighbors))
	for i, n := range neighbors {
		if n.Position < 0 || n.Position >= len(p.handle.Chunks) {
			return nil, fmt.Errorf("index position %d out of range for %d chunks", n.Position, len(p.handle.Chunks))
		}
		chunk := p.handle.Chunks[n.Position]
		meta := models.CloneMetadata(chunk.Metadata, 2)
		meta[MetaIndexDistance] = float64(n.Distance)
		meta[MetaIndexRank] = i + 1
		chunk.Metadata = meta
		out = append(out, models.ScoredChunk{
			Chunk:     chunk,
			Score:     float64(n.Distance),
			Rank:      i + 1,
			SourceTag: models.SourceSelf,
		})
	}
	return out, nil
}

// ExternalPath binds an ExternalStore to one collection.
type ExternalPath struct {
	store        ExternalStore
	collectionID string
}

// NewExternalPath returns a path over store for collectionID.
func NewExternalPath(store ExternalStore, collectionID string) *ExternalPath {
	return &ExternalPath{store: store, collectionID: collectionID}
}

// Retrieve delegates to the store and tags the results.
func (p *ExternalPath) Retrieve(ctx context.Context, query string, k int) ([]models.ScoredChunk, error) {
	if k <= 0 {
		return []models.ScoredChunk{}, nil
	}
	results, err := p.store.Retrieve(ctx, p.collectionID, query, k)
	if err != nil {
		return nil, fmt.Errorf("external retrieval failed: %w", err)
	}
	return retag(results, k, models.SourceExternal), nil
}

// KeywordPath binds a keyword index to one collection.
type KeywordPath struct {
	index        keyword.KeywordIndex
	collectionID string
	opts         *keyword.SearchOptions
}

// NewKeywordPath returns a path over index for collectionID. opts may be nil.
func NewKeywordPath(index keyword.KeywordIndex, collectionID string, opts *keyword.SearchOptions) *KeywordPath {
	return &KeywordPath{index: index, collectionID: collectionID, opts: opts}
}

// Retrieve runs a keyword search. Scores are bleve relevance scores.
func (p *KeywordPath) Retrieve(ctx context.Context, query string, k int) ([]models.ScoredChunk, error) {
	if k <= 0 {
		return []models.ScoredChunk{}, nil
	}
	hits, err := p.index.Search(ctx, p.collectionID, query, k, p.opts)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	out := make([]models.ScoredChunk, 0, len(hits))
	for _, h := range hits {
		out = append(out, models.ScoredChunk{Chunk: h.Chunk, Score: h.Score})
	}
	return retag(out, k, models.SourceKeyword), nil
}

func retag(results []models.ScoredChunk, k int, tag string) []models.ScoredChunk {
	if len(results) > k {
		results = results[:k]
	}
	for i := range results {
		results[i].SourceTag = tag
		results[i].Rank = i + 1
	}
	return results
}
