package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kensaku/internal/cache"
	"github.com/hyperjump/kensaku/internal/chunkfile"
	"github.com/hyperjump/kensaku/internal/config"
	"github.com/hyperjump/kensaku/internal/embedding"
	"github.com/hyperjump/kensaku/internal/external"
	"github.com/hyperjump/kensaku/internal/indexer"
	"github.com/hyperjump/kensaku/internal/keyword"
	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/internal/search"
	"github.com/hyperjump/kensaku/internal/server"
	"github.com/hyperjump/kensaku/internal/storage"
	"github.com/hyperjump/kensaku/internal/vector"
	"github.com/hyperjump/kensaku/internal/watcher"
)

const (
	e2eCollection = "kb"
	e2eDimensions = 16
	e2eK          = 5
)

type stack struct {
	indexer *indexer.Indexer
	engine  *search.Engine
}

func newStack(t *testing.T, topology vector.Topology) *stack {
	t.Helper()
	dir := t.TempDir()

	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "chunks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	embedder := embedding.NewMockEmbedder(e2eDimensions)

	ext, err := external.NewSQLiteStore(filepath.Join(dir, "external.db"), embedder, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ext.Close() })

	kw, err := keyword.NewBleveIndex(filepath.Join(dir, "bleve"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kw.Close() })

	idx := indexer.NewIndexer(store, embedder, cache.New(filepath.Join(dir, "cache")),
		indexer.WithTopology(topology),
		indexer.WithSinks(kw, ext),
	)
	engine := search.NewEngine(idx, embedder,
		search.WithExternal(ext),
		search.WithKeyword(kw),
		search.WithConfig(config.RetrievalConfig{
			DefaultK: e2eK, MaxK: 50, Mode: "hybrid", SelfWeight: 0.6, ExternalWeight: 0.4,
		}),
	)
	return &stack{indexer: idx, engine: engine}
}

func resultIDs(resp *models.RetrieveResponse) []string {
	ids := make([]string, len(resp.Results))
	for i, r := range resp.Results {
		ids[i] = r.Chunk.ID
	}
	return ids
}

func TestE2E_KeywordHybridFindsEveryKeyword(t *testing.T) {
	corpus := BuildCorpus()
	s := newStack(t, "")
	ctx := context.Background()
	require.NoError(t, s.indexer.AddChunks(ctx, e2eCollection, corpus.Chunks()))

	for _, tc := range corpus.Cases {
		tc := tc
		t.Run(tc.Query, func(t *testing.T) {
			resp, err := s.engine.Retrieve(ctx, &models.RetrieveQuery{
				CollectionID: e2eCollection,
				Query:        tc.Query,
				K:            e2eK,
				Mode:         models.ModeKeywordHybrid,
			})
			require.NoError(t, err)
			assert.LessOrEqual(t, len(resp.Results), e2eK)
			assert.Contains(t, resultIDs(resp), tc.ExpectedID)
		})
	}
}

func TestE2E_SelfOnlyExactText(t *testing.T) {
	corpus := BuildCorpus()
	for _, topology := range []vector.Topology{vector.TopologyExact, vector.TopologyPartitioned} {
		topology := topology
		t.Run(string(topology), func(t *testing.T) {
			s := newStack(t, topology)
			ctx := context.Background()
			require.NoError(t, s.indexer.AddChunks(ctx, e2eCollection, corpus.Chunks()))

			for _, p := range corpus.Passages {
				resp, err := s.engine.Retrieve(ctx, &models.RetrieveQuery{
					CollectionID: e2eCollection,
					Query:        p.Text,
					K:            3,
					Mode:         models.ModeSelfOnly,
				})
				require.NoError(t, err)
				require.NotEmpty(t, resp.Results, p.ID)
				assert.Equal(t, p.ID, resp.Results[0].Chunk.ID)
				assert.Equal(t, p.Title, resp.Results[0].Chunk.Metadata["title"])
			}

			stats, err := s.indexer.Stats(ctx, e2eCollection)
			require.NoError(t, err)
			assert.Equal(t, string(topology), stats.Topology)
			assert.Equal(t, len(corpus.Passages), stats.TotalVectors)
		})
	}
}

func TestE2E_HybridNeverRepeatsAChunk(t *testing.T) {
	corpus := BuildCorpus()
	s := newStack(t, "")
	ctx := context.Background()
	require.NoError(t, s.indexer.AddChunks(ctx, e2eCollection, corpus.Chunks()))

	for _, k := range []int{1, 4, 10, 40} {
		resp, err := s.engine.Retrieve(ctx, &models.RetrieveQuery{
			CollectionID: e2eCollection,
			Query:        corpus.Passages[0].Text,
			K:            k,
		})
		require.NoError(t, err)
		ids := resultIDs(resp)
		assert.LessOrEqual(t, len(ids), k)
		seen := make(map[string]bool)
		for _, id := range ids {
			assert.False(t, seen[id], "duplicate %s at k=%d", id, k)
			seen[id] = true
		}
		assert.Equal(t, corpus.Passages[0].ID, ids[0])
	}
}

func TestE2E_DropDirectoryOverHTTP(t *testing.T) {
	corpus := BuildCorpus()
	s := newStack(t, "")
	dropDir := t.TempDir()

	w := watcher.NewWatcher([]string{dropDir},
		func(collectionID, path string) {
			chunks, err := chunkfile.Load(path, nil)
			if err != nil || len(chunks) == 0 {
				return
			}
			_ = s.indexer.ReplaceChunks(context.Background(), collectionID, chunks)
		},
		func(collectionID, _ string) {
			_ = s.indexer.DeleteCollection(context.Background(), collectionID)
		},
		watcher.WithDebounce(50*time.Millisecond),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	srv := server.NewServer(s.engine, s.indexer, &config.ServerConfig{}, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	var buf bytes.Buffer
	require.NoError(t, chunkfile.WriteJSONL(&buf, corpus.Chunks()))
	dropFile := filepath.Join(dropDir, e2eCollection+watcher.Ext)
	require.NoError(t, os.WriteFile(dropFile, buf.Bytes(), 0644))

	statsURL := ts.URL + "/api/v1/collections/" + e2eCollection + "/stats"
	require.Eventually(t, func() bool {
		resp, err := http.Get(statsURL)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var stats models.IndexStats
		if json.NewDecoder(resp.Body).Decode(&stats) != nil {
			return false
		}
		return stats.ChunkCount == len(corpus.Passages)
	}, 5*time.Second, 50*time.Millisecond)

	retrieve := func() (*http.Response, error) {
		body, _ := json.Marshal(map[string]interface{}{"query": corpus.Passages[3].Text, "k": 3})
		return http.Post(ts.URL+"/api/v1/collections/"+e2eCollection+"/retrieve", "application/json", bytes.NewReader(body))
	}
	resp, err := retrieve()
	require.NoError(t, err)
	var out models.RetrieveResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, out.Results)
	assert.Equal(t, corpus.Passages[3].ID, out.Results[0].Chunk.ID)
	assert.Equal(t, models.SourceSelf, out.Results[0].SourceTag)

	require.NoError(t, os.Remove(dropFile))
	require.Eventually(t, func() bool {
		resp, err := retrieve()
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusNotFound
	}, 5*time.Second, 50*time.Millisecond)
}
