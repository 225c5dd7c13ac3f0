package retrieval

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/hyperjump/kensaku/internal/embedding"
	"github.com/hyperjump/kensaku/internal/indexer"
	"github.com/hyperjump/kensaku/internal/keyword"
	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/internal/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildHandle(t *testing.T, e embedding.Embedder, texts ...string) *indexer.Handle {
	t.Helper()
	chunks := make([]models.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = models.Chunk{ID: fmt.Sprintf("c%d", i), Text: text, Metadata: map[string]interface{}{"source": "test"}}
	}
	vectors, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	idx, err := vector.BuildIndex(vectors, "")
	require.NoError(t, err)
	return &indexer.Handle{CollectionID: "docs", Index: idx, Chunks: chunks, Topology: idx.Topology(), Dimensions: idx.Dimensions()}
}

type fakeStore struct {
	results []models.ScoredChunk
	err     error
	calls   int
}

func (s *fakeStore) Retrieve(_ context.Context, _ string, _ string, k int) ([]models.ScoredChunk, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := append([]models.ScoredChunk(nil), s.results...)
	if len(out) > k+1 {
		// Return one extra to check the path enforces k.
		out = out[:k+1]
	}
	return out, nil
}

type failingEmbedder struct{ embedding.Embedder }

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("model offline")
}

func TestSelfPath_Retrieve(t *testing.T) {
	e := embedding.NewMockEmbedder(16)
	h := buildHandle(t, e, "alpha text", "beta text", "gamma text", "delta text")
	p := NewSelfPath(h, e)

	results, err := p.Retrieve(context.Background(), "gamma text", 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "c2", results[0].Chunk.ID)
	assert.InDelta(t, 0, results[0].Score, 1e-6)
	for i, r := range results {
		assert.Equal(t, models.SourceSelf, r.SourceTag)
		assert.Equal(t, i+1, r.Rank)
		assert.Equal(t, i+1, r.Chunk.Metadata[MetaIndexRank])
		assert.Equal(t, r.Score, r.Chunk.Metadata[MetaIndexDistance])
		assert.Equal(t, "test", r.Chunk.Metadata["source"])
		if i > 0 {
			assert.GreaterOrEqual(t, r.Score, results[i-1].Score)
		}
	}
	// The handle's chunks are not modified.
	assert.NotContains(t, h.Chunks[2].Metadata, MetaIndexRank)
}

func TestSelfPath_KBounds(t *testing.T) {
	e := embedding.NewMockEmbedder(8)
	h := buildHandle(t, e, "one", "two")
	p := NewSelfPath(h, e)

	results, err := p.Retrieve(context.Background(), "one", 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = p.Retrieve(context.Background(), "one", 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSelfPath_EmbeddingFailure(t *testing.T) {
	e := embedding.NewMockEmbedder(8)
	h := buildHandle(t, e, "one")
	p := NewSelfPath(h, failingEmbedder{e})

	_, err := p.Retrieve(context.Background(), "one", 1)
	assert.ErrorIs(t, err, embedding.ErrEmbedding)
}

func TestSelfPath_DimensionMismatch(t *testing.T) {
	h := buildHandle(t, embedding.NewMockEmbedder(8), "one")
	p := NewSelfPath(h, embedding.NewMockEmbedder(4))

	_, err := p.Retrieve(context.Background(), "one", 1)
	assert.ErrorIs(t, err, vector.ErrDimensionMismatch)
}

func TestExternalPath_Retrieve(t *testing.T) {
	store := &fakeStore{results: []models.ScoredChunk{
		{Chunk: models.Chunk{ID: "a", Text: "a"}, Score: 0.9},
		{Chunk: models.Chunk{ID: "b", Text: "b"}, Score: 0.8},
		{Chunk: models.Chunk{ID: "c", Text: "c"}, Score: 0.7},
	}}
	p := NewExternalPath(store, "docs")

	results, err := p.Retrieve(context.Background(), "q", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Chunk.ID)
	assert.Equal(t, models.SourceExternal, results[1].SourceTag)
	assert.Equal(t, 2, results[1].Rank)

	results, err = p.Retrieve(context.Background(), "q", 0)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 1, store.calls)
}

func TestExternalPath_Error(t *testing.T) {
	sentinel := errors.New("store down")
	p := NewExternalPath(&fakeStore{err: sentinel}, "docs")
	_, err := p.Retrieve(context.Background(), "q", 3)
	assert.ErrorIs(t, err, sentinel)
}

func TestKeywordPath_Retrieve(t *testing.T) {
	idx, err := keyword.NewBleveIndex(filepath.Join(t.TempDir(), "kw.bleve"))
	require.NoError(t, err)
	defer idx.Close()

	ctx := context.Background()
	require.NoError(t, idx.IndexChunks(ctx, "docs", []models.Chunk{
		{ID: "1", Text: "the quick brown fox"},
		{ID: "2", Text: "lazy dogs sleep all day"},
		{ID: "3", Text: "a quick lunch"},
	}))

	p := NewKeywordPath(idx, "docs", nil)
	results, err := p.Retrieve(ctx, "quick", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for i, r := range results {
		assert.Equal(t, models.SourceKeyword, r.SourceTag)
		assert.Equal(t, i+1, r.Rank)
		assert.Contains(t, r.Chunk.Text, "quick")
	}

	results, err = p.Retrieve(ctx, "quick", 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}
